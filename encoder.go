// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sentencevae

import (
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"

	"github.com/gomlx/sentencevae/rnn"
)

// embed looks tokens up in the shared embedding table.
//
// tokens: [batch, sequence] integer ids. Returns [batch, sequence, embedding].
func (m *Model) embed(ctx *context.Context, tokens *graph.Node) *graph.Node {
	return layers.Embedding(ctx.In("embeddings"), tokens, m.cfg.DType,
		m.cfg.VocabSize, m.cfg.EmbeddingSize, false)
}

// encode runs the recurrent encoder over already-embedded inputs and projects
// its final state to the parameters of the approximate posterior q(z|x).
//
// embedded: [batch, sequence, embedding]; lengths: [batch] valid prefix per
// row. Returns mean and logVar, both [batch, latent].
func (m *Model) encode(ctx *context.Context, embedded, lengths *graph.Node) (mean, logVar *graph.Node) {
	_, lastState := rnn.New(ctx.In("encoder"), embedded, m.cfg.HiddenSize).
		Cell(m.cfg.Cell).
		Layers(m.cfg.NumLayers).
		Bidirectional(m.cfg.Bidirectional).
		Ragged(lengths).
		Done()

	// lastState is [numLayers*numDirections, batch, hidden]; flatten it into
	// one summary vector per sequence. The explicit dims keep the batch axis
	// even when batch == 1.
	batchSize := embedded.Shape().Dim(0)
	summary := graph.Reshape(graph.Transpose(lastState, 0, 1),
		batchSize, m.cfg.hiddenFactor()*m.cfg.HiddenSize)

	mean = layers.DenseWithBias(ctx.In("hidden2mean"), summary, m.cfg.LatentSize)
	logVar = layers.DenseWithBias(ctx.In("hidden2logv"), summary, m.cfg.LatentSize)
	return mean, logVar
}

// reparameterize draws z = mean + exp(logVar/2) * noise, keeping the sample
// differentiable w.r.t. the posterior parameters. If noise is nil, standard
// Gaussian noise is drawn from the context's random state.
func (m *Model) reparameterize(ctx *context.Context, mean, logVar, noise *graph.Node) *graph.Node {
	if noise == nil {
		noise = ctx.RandomNormal(mean.Graph(), mean.Shape())
	}
	stddev := graph.Exp(graph.MulScalar(logVar, 0.5))
	return graph.Add(mean, graph.Mul(stddev, noise))
}
