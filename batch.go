// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sentencevae

import (
	"sort"

	"github.com/pkg/errors"
)

// Batch is a host-side, device-ready view of a batch of token sequences:
// padded, sorted by decreasing length and carrying the permutation that
// restores the caller's order.
type Batch struct {
	// Tokens is [batch][maxLen], rows in decreasing-length order, padded
	// with PadID.
	Tokens [][]int32

	// Lengths[i] is the valid prefix of Tokens[i].
	Lengths []int32

	// InvPerm[i] is the position of the caller's row i among the sorted
	// rows; gathering sorted rows with InvPerm restores the caller's order.
	InvPerm []int32
}

// newBatch validates, pads and length-sorts sequences. lengths[i] is clamped
// neither up nor down: it must be in [1, len(sequences[i])] and at most
// maxLen.
func newBatch(sequences [][]int32, lengths []int, maxLen int, padID int32) (*Batch, error) {
	n := len(sequences)
	if n == 0 {
		return nil, errors.New("empty batch")
	}
	if len(lengths) != n {
		return nil, errors.Errorf("got %d sequences but %d lengths", n, len(lengths))
	}
	for i, seq := range sequences {
		if lengths[i] < 1 || lengths[i] > len(seq) {
			return nil, errors.Errorf("sequence %d: length %d out of range [1, %d]", i, lengths[i], len(seq))
		}
		if lengths[i] > maxLen {
			return nil, errors.Errorf("sequence %d: length %d exceeds maximum %d", i, lengths[i], maxLen)
		}
	}

	// Stable sort keeps equal-length rows in input order, so the
	// sort-then-unsort round trip is an exact identity.
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return lengths[order[a]] > lengths[order[b]]
	})

	width := 0
	for i := range sequences {
		if lengths[i] > width {
			width = lengths[i]
		}
	}

	b := &Batch{
		Tokens:  make([][]int32, n),
		Lengths: make([]int32, n),
		InvPerm: make([]int32, n),
	}
	for pos, src := range order {
		row := make([]int32, width)
		for j := range row {
			row[j] = padID
		}
		copy(row, sequences[src][:lengths[src]])
		b.Tokens[pos] = row
		b.Lengths[pos] = int32(lengths[src])
		b.InvPerm[src] = int32(pos)
	}
	return b, nil
}

// Restore reorders per-sorted-row values back to the caller's order. It is
// the host-side counterpart of the in-graph gather the model applies to its
// outputs.
func Restore[T any](b *Batch, sorted []T) []T {
	out := make([]T, len(sorted))
	for orig, pos := range b.InvPerm {
		out[orig] = sorted[pos]
	}
	return out
}
