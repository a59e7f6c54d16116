// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sentencevae

import (
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"

	"github.com/gomlx/sentencevae/rnn"
)

// latentToHidden projects latent vectors to the decoder's initial recurrent
// state.
//
// z: [batch, latent]. Returns [numLayers*numDirections, batch, hidden],
// layer-major, ready for rnn.Builder.InitialState.
func (m *Model) latentToHidden(ctx *context.Context, z *graph.Node) *graph.Node {
	batchSize := z.Shape().Dim(0)
	hidden := layers.DenseWithBias(ctx.In("latent2hidden"), z,
		m.cfg.hiddenFactor()*m.cfg.HiddenSize)
	hidden = graph.Reshape(hidden, batchSize, m.cfg.hiddenFactor(), m.cfg.HiddenSize)
	return graph.Transpose(hidden, 0, 1)
}

// wordDropout replaces each decoder input token with UnkID with probability
// rate, during training only. SosID and PadID tokens are kept so the decoder
// always sees where sequences start and where padding begins.
func (m *Model) wordDropout(ctx *context.Context, tokens *graph.Node) *graph.Node {
	g := tokens.Graph()
	rate := m.cfg.WordDropout
	if rate <= 0 || !ctx.IsTraining(g) {
		return tokens
	}
	protected := graph.LogicalOr(
		graph.Equal(tokens, graph.Scalar(g, tokens.DType(), m.cfg.SosID)),
		graph.Equal(tokens, graph.Scalar(g, tokens.DType(), m.cfg.PadID)))
	prob := ctx.RandomUniform(g, shapes.Make(m.cfg.DType, tokens.Shape().Dimensions...))
	drop := graph.LogicalAnd(
		graph.LessThan(prob, graph.Scalar(g, m.cfg.DType, rate)),
		graph.LogicalNot(protected))
	return graph.Where(drop, graph.Scalar(g, tokens.DType(), m.cfg.UnkID), tokens)
}

// decode runs the teacher-forced decoder: word dropout on the input tokens,
// embedding (plus embedding dropout), the recurrent network seeded from the
// latent state, and the projection to per-step vocabulary log-probabilities.
//
// tokens: [batch, sequence] decoder inputs (sos-prefixed); lengths: [batch];
// initialState: [numLayers*numDirections, batch, hidden]. Returns
// [batch, sequence, vocab] log-probabilities.
func (m *Model) decode(ctx *context.Context, tokens, lengths, initialState *graph.Node) *graph.Node {
	tokens = m.wordDropout(ctx, tokens)
	embedded := m.embed(ctx, tokens)
	embedded = layers.DropoutStatic(ctx.In("decoder"), embedded, m.cfg.EmbeddingDropout)

	allStates, _ := rnn.New(ctx.In("decoder"), embedded, m.cfg.HiddenSize).
		Cell(m.cfg.Cell).
		Layers(m.cfg.NumLayers).
		Bidirectional(m.cfg.Bidirectional).
		Ragged(lengths).
		InitialState(initialState).
		Done()

	return m.project(ctx, allStates)
}

// project maps recurrent states to vocabulary log-probabilities.
//
// states: [batch, sequence, numDirections*hidden]. Returns
// [batch, sequence, vocab], normalized over the last axis.
func (m *Model) project(ctx *context.Context, states *graph.Node) *graph.Node {
	batchSize := states.Shape().Dim(0)
	seqSize := states.Shape().Dim(1)
	flat := graph.Reshape(states, batchSize*seqSize, states.Shape().Dim(2))
	logits := layers.DenseWithBias(ctx.In("outputs2vocab"), flat, m.cfg.VocabSize)
	logits = graph.Reshape(logits, batchSize, seqSize, m.cfg.VocabSize)
	return graph.LogSoftmax(logits, -1)
}
