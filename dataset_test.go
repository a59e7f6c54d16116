// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sentencevae

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyntheticDatasetYield(t *testing.T) {
	cfg := testConfig()
	ds := NewSyntheticDataset(cfg, 8, 1)

	_, inputs, labels, err := ds.Yield()
	require.NoError(t, err)
	require.Len(t, inputs, 3)
	require.Len(t, labels, 3)

	tokens, lengthsT, invPermT := inputs[0], inputs[1], inputs[2]
	targets := labels[0]
	assert.Equal(t, []int{8, cfg.MaxSequenceLength}, tokens.Shape().Dimensions)
	assert.Equal(t, []int{8, cfg.MaxSequenceLength}, targets.Shape().Dimensions)
	assert.Equal(t, []int{8}, lengthsT.Shape().Dimensions)

	lengths := lengthsT.Value().([]int32)
	for i := 1; i < len(lengths); i++ {
		assert.LessOrEqual(t, lengths[i], lengths[i-1], "lengths must be non-increasing")
	}

	// invPerm must be a permutation of [0, batch).
	invPerm := invPermT.Value().([]int32)
	seen := make(map[int32]bool)
	for _, p := range invPerm {
		assert.GreaterOrEqual(t, p, int32(0))
		assert.Less(t, p, int32(8))
		assert.False(t, seen[p], "invPerm value %d repeated", p)
		seen[p] = true
	}

	tokenRows := tokens.Value().([][]int32)
	targetRows := targets.Value().([][]int32)
	for i := range tokenRows {
		l := int(lengths[i])
		assert.Equal(t, cfg.SosID, tokenRows[i][0], "row %d must start with sos", i)
		assert.Equal(t, cfg.EosID, targetRows[i][l-1], "row %d target must end with eos", i)
		for j := l; j < cfg.MaxSequenceLength; j++ {
			assert.Equal(t, cfg.PadID, tokenRows[i][j], "row %d input padding", i)
			assert.Equal(t, cfg.PadID, targetRows[i][j], "row %d target padding", i)
		}
		// The target is the input shifted left by one.
		assert.Equal(t, tokenRows[i][1:l], targetRows[i][:l-1], "row %d shift", i)
	}
}

func TestSyntheticDatasetIsReproducible(t *testing.T) {
	cfg := testConfig()
	a := NewSyntheticDataset(cfg, 4, 7)
	b := NewSyntheticDataset(cfg, 4, 7)
	_, inputsA, _, err := a.Yield()
	require.NoError(t, err)
	_, inputsB, _, err := b.Yield()
	require.NoError(t, err)
	assert.Equal(t, inputsA[0].Value(), inputsB[0].Value())
}

func TestSyntheticDatasetAnnealsKLWeight(t *testing.T) {
	cfg := testConfig()
	ds := NewSyntheticDataset(cfg, 2, 1).WithAnnealing("linear", 0, 2)

	want := []float32{0, 0.5, 1, 1}
	for step, w := range want {
		_, _, labels, err := ds.Yield()
		require.NoError(t, err)
		assert.InDelta(t, w, labels[2].Value().(float32), 1e-6, "step %d", step)
	}
}
