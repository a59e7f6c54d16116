// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sentencevae

import (
	"testing"

	_ "github.com/gomlx/gomlx/backends/default"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateShapes(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	cfg := testConfig()
	m, err := New(backend, cfg)
	require.NoError(t, err)

	result, err := m.Generate(5)
	require.NoError(t, err)
	require.Len(t, result.Sequences, 5)
	for i, seq := range result.Sequences {
		assert.Len(t, seq, cfg.MaxSequenceLength, "row %d", i)
	}
	assert.Equal(t, []int{5, cfg.LatentSize}, result.Z.Shape().Dimensions)
}

func TestGenerateEosIsFollowedByPadding(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	cfg := testConfig()
	m, err := New(backend, cfg)
	require.NoError(t, err)

	result, err := m.Generate(16)
	require.NoError(t, err)
	for i, seq := range result.Sequences {
		done := false
		for j, tok := range seq {
			if done {
				assert.Equal(t, cfg.PadID, tok,
					"row %d position %d: expected padding after eos", i, j)
			} else if tok == cfg.EosID {
				done = true
			}
		}
	}
}

func TestGenerateFromLatentIsDeterministic(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	cfg := testConfig() // greedy sampling by default
	m, err := New(backend, cfg)
	require.NoError(t, err)

	z := tensors.FromValue([][]float32{
		{0.5, -0.5, 1.0, 0.0},
		{-1.0, 0.3, 0.0, 0.7},
	})
	first, err := m.GenerateFromLatent(z)
	require.NoError(t, err)
	second, err := m.GenerateFromLatent(z)
	require.NoError(t, err)
	assert.Equal(t, first.Sequences, second.Sequences)
}

func TestGenerateRowsAreIndependent(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	cfg := testConfig()
	m, err := New(backend, cfg)
	require.NoError(t, err)

	// Decoding rows in one batch (with early-stopped rows pruned along the
	// way) must produce the same sequences as decoding each row by itself.
	zRows := [][]float32{
		{0.5, -0.5, 1.0, 0.0},
		{-1.0, 0.3, 0.0, 0.7},
		{2.0, -2.0, 0.5, -0.5},
	}
	batched, err := m.GenerateFromLatent(tensors.FromValue(zRows))
	require.NoError(t, err)
	for i, row := range zRows {
		single, err := m.GenerateFromLatent(tensors.FromValue([][]float32{row}))
		require.NoError(t, err)
		assert.Equal(t, single.Sequences[0], batched.Sequences[i], "row %d", i)
	}
}

func TestGenerateFromLatentValidatesShape(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	m, err := New(backend, testConfig())
	require.NoError(t, err)

	_, err = m.GenerateFromLatent(tensors.FromValue([][]float32{{1, 2}}))
	require.ErrorContains(t, err, "must be [n, 4]")

	_, err = m.GenerateFromLatent(tensors.FromValue([]float32{1, 2, 3, 4}))
	require.ErrorContains(t, err, "must be [n, 4]")

	_, err = m.Generate(0)
	require.ErrorContains(t, err, "must be > 0")
}

func TestInterpolate(t *testing.T) {
	path, err := Interpolate([]float32{0, 10}, []float32{1, 20}, 3)
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0, 10}, {0.5, 15}, {1, 20}}, path)

	_, err = Interpolate([]float32{0}, []float32{1, 2}, 3)
	require.ErrorContains(t, err, "mismatch")

	_, err = Interpolate([]float32{0}, []float32{1}, 1)
	require.ErrorContains(t, err, "at least 2 steps")
}
