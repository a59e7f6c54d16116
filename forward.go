// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sentencevae

import (
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
)

// BuildGraph builds the full training path: encode, reparameterize, decode.
// It is the model function to hand to a train.Trainer (see TrainModel).
//
// tokens is [batch, sequence] sos-prefixed ids in decreasing-length order,
// lengths is [batch], and invPerm is the [batch] permutation that restores
// the caller's row order (see Batch). All four outputs are already restored:
// logProbs [batch, sequence, vocab], mean, logVar and z [batch, latent].
func (m *Model) BuildGraph(ctx *context.Context, tokens, lengths, invPerm *graph.Node) (logProbs, mean, logVar, z *graph.Node) {
	embedded := m.embed(ctx, tokens)
	mean, logVar = m.encode(ctx, embedded, lengths)
	z = m.reparameterize(ctx, mean, logVar, nil)
	initialState := m.latentToHidden(ctx, z)
	logProbs = m.decode(ctx, tokens, lengths, initialState)

	unsort := graph.ExpandDims(invPerm, -1)
	logProbs = graph.Gather(logProbs, unsort)
	mean = graph.Gather(mean, unsort)
	logVar = graph.Gather(logVar, unsort)
	z = graph.Gather(z, unsort)
	return
}

// ForwardOutput is the result of one teacher-forced pass, rows in the same
// order the sequences were given.
type ForwardOutput struct {
	// LogProbs is [batch, sequence, vocab] log p(token | prefix, z).
	LogProbs *tensors.Tensor

	// Mean and LogVar are the [batch, latent] posterior parameters and Z
	// the [batch, latent] reparameterized sample the decoder consumed.
	Mean, LogVar, Z *tensors.Tensor
}

// Forward runs one teacher-forced pass over a batch of sos-prefixed token
// sequences. lengths[i] tokens of sequences[i] are used; rows may come in any
// order and any length up to MaxSequenceLength. Dropout is active, as during
// training.
func (m *Model) Forward(sequences [][]int32, lengths []int) (*ForwardOutput, error) {
	b, err := newBatch(sequences, lengths, m.cfg.MaxSequenceLength, m.cfg.PadID)
	if err != nil {
		return nil, errors.WithMessage(err, "sentencevae.Forward")
	}
	tokens, lengthsT, invPerm := b.tensors()
	logProbs, mean, logVar, z, err := m.forwardExec.Exec4(tokens, lengthsT, invPerm)
	if err != nil {
		return nil, errors.WithMessage(err, "sentencevae.Forward")
	}
	return &ForwardOutput{LogProbs: logProbs, Mean: mean, LogVar: logVar, Z: z}, nil
}

// tensors converts the batch to device-ready inputs.
func (b *Batch) tensors() (tokens, lengths, invPerm *tensors.Tensor) {
	n := len(b.Tokens)
	width := len(b.Tokens[0])
	flat := make([]int32, 0, n*width)
	for _, row := range b.Tokens {
		flat = append(flat, row...)
	}
	tokens = tensors.FromFlatDataAndDimensions(flat, n, width)
	lengths = tensors.FromValue(b.Lengths)
	invPerm = tensors.FromValue(b.InvPerm)
	return
}
