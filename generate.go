// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sentencevae

import (
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	generation "github.com/gomlx/gomlx/pkg/ml/decode/sample"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"

	"github.com/gomlx/sentencevae/rnn"
)

// GenerationResult holds the sequences decoded from a batch of latent
// vectors.
type GenerationResult struct {
	// Sequences is [n][MaxSequenceLength]: each row holds the sampled
	// tokens up to and including EosID, with PadID filling the remainder.
	// A row without EosID used the full length budget.
	Sequences [][]int32

	// Z is the [n, latent] batch of latent vectors the sequences were
	// decoded from.
	Z *tensors.Tensor
}

// generateStep advances every still-running sequence by one token: embeds
// the current tokens, runs one decoder step from the carried state, and
// samples the next token with the configured strategy.
//
// tokens: [k] current input ids; hidden: [numLayers*numDirections, k,
// hidden]. Returns the [k] sampled tokens and the updated hidden state.
func (m *Model) generateStep(ctx *context.Context, tokens, hidden *graph.Node) (next, nextHidden *graph.Node) {
	embedded := graph.ExpandDims(m.embed(ctx, tokens), 1) // [k, 1, embedding]
	allStates, lastState := rnn.New(ctx.In("decoder"), embedded, m.cfg.HiddenSize).
		Cell(m.cfg.Cell).
		Layers(m.cfg.NumLayers).
		Bidirectional(m.cfg.Bidirectional).
		InitialState(hidden).
		Done()
	logProbs := graph.Squeeze(m.project(ctx, allStates), 1) // [k, vocab]
	next = generation.SampleWithStrategy(ctx, logProbs,
		must.M1(generation.StrategyString(m.cfg.Strategy)),
		m.cfg.Temperature, m.cfg.TopK, m.cfg.TopP)
	return next, lastState
}

// Generate samples n latent vectors from the prior N(0, I) and decodes each
// into a token sequence.
func (m *Model) Generate(n int) (*GenerationResult, error) {
	if n <= 0 {
		return nil, errors.Errorf("sentencevae.Generate: n must be > 0, got %d", n)
	}
	template := tensors.FromValue(make([]int32, n))
	z, err := m.latentExec.Exec1(template)
	if err != nil {
		return nil, errors.WithMessage(err, "sentencevae.Generate: sampling prior")
	}
	return m.GenerateFromLatent(z)
}

// GenerateFromLatent decodes the given [n, latent] batch of latent vectors
// autoregressively, starting each sequence from SosID. Decoding a row stops
// at EosID or after MaxSequenceLength tokens; finished rows are pruned from
// the running batch so later steps only compute for sequences still going.
func (m *Model) GenerateFromLatent(z *tensors.Tensor) (*GenerationResult, error) {
	zShape := z.Shape()
	if zShape.Rank() != 2 || zShape.Dim(1) != m.cfg.LatentSize {
		return nil, errors.Errorf(
			"sentencevae.GenerateFromLatent: z must be [n, %d], got %s", m.cfg.LatentSize, zShape)
	}
	n := zShape.Dim(0)

	hidden, err := m.initExec.Exec1(z)
	if err != nil {
		return nil, errors.WithMessage(err, "sentencevae.GenerateFromLatent: initial state")
	}

	buf := make([][]int32, n)
	for i := range buf {
		row := make([]int32, m.cfg.MaxSequenceLength)
		for j := range row {
			row[j] = m.cfg.PadID
		}
		buf[i] = row
	}

	// rows[slot] is the buffer row the running slot writes to; slots of
	// finished sequences are dropped as decoding proceeds.
	rows := make([]int, n)
	tokens := make([]int32, n)
	for i := range rows {
		rows[i] = i
		tokens[i] = m.cfg.SosID
	}

	for t := 0; t < m.cfg.MaxSequenceLength && len(rows) > 0; t++ {
		nextT, hiddenT, err := m.stepExec.Exec2(tensors.FromValue(tokens), hidden)
		if err != nil {
			return nil, errors.WithMessagef(err, "sentencevae.GenerateFromLatent: step %d", t)
		}
		next := nextT.Value().([]int32)
		hidden = hiddenT

		var keep []int32
		for slot, tok := range next {
			buf[rows[slot]][t] = tok
			if tok != m.cfg.EosID {
				keep = append(keep, int32(slot))
			}
		}
		if len(keep) == len(rows) {
			tokens = next
			continue
		}
		if len(keep) == 0 {
			break
		}
		// Compact the running batch: keep only the slots still going,
		// both host-side and in the carried hidden state.
		newRows := make([]int, len(keep))
		newTokens := make([]int32, len(keep))
		for i, slot := range keep {
			newRows[i] = rows[slot]
			newTokens[i] = next[slot]
		}
		rows, tokens = newRows, newTokens
		pruned, err := m.pruneExec.Exec(hidden, tensors.FromValue(keep))
		if err != nil {
			return nil, errors.WithMessagef(err, "sentencevae.GenerateFromLatent: pruning at step %d", t)
		}
		hidden = pruned[0]
	}

	return &GenerationResult{Sequences: buf, Z: z}, nil
}

// Interpolate returns steps evenly spaced latent vectors going from start to
// end, endpoints included. Decode them with GenerateFromLatent to inspect the
// smoothness of the latent space.
func Interpolate(start, end []float32, steps int) ([][]float32, error) {
	if len(start) != len(end) {
		return nil, errors.Errorf("latent size mismatch: %d vs %d", len(start), len(end))
	}
	if steps < 2 {
		return nil, errors.Errorf("need at least 2 steps, got %d", steps)
	}
	out := make([][]float32, steps)
	for i := range out {
		frac := float32(i) / float32(steps-1)
		row := make([]float32, len(start))
		for j := range row {
			row[j] = start[j] + frac*(end[j]-start[j])
		}
		out[i] = row
	}
	return out, nil
}
