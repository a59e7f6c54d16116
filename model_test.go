// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sentencevae

import (
	"math"
	"testing"

	_ "github.com/gomlx/gomlx/backends/default"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/sentencevae/rnn"
)

// testConfig is a small model used across the package tests.
func testConfig() Config {
	return Config{
		VocabSize:         50,
		EmbeddingSize:     8,
		Cell:              rnn.CellGRU,
		HiddenSize:        16,
		LatentSize:        4,
		MaxSequenceLength: 10,
		SosID:             0,
		EosID:             1,
		PadID:             2,
		UnkID:             3,
	}
}

// testSequences returns sos-prefixed rows of the given lengths, with
// arbitrary content tokens.
func testSequences(cfg Config, lengths ...int) ([][]int32, []int) {
	sequences := make([][]int32, len(lengths))
	for i, l := range lengths {
		row := make([]int32, l)
		row[0] = cfg.SosID
		for j := 1; j < l; j++ {
			row[j] = int32(4 + (i*7+j*3)%(cfg.VocabSize-4))
		}
		sequences[i] = row
	}
	return sequences, lengths
}

func TestConfigValidate(t *testing.T) {
	cfg := testConfig()
	require.NoError(t, cfg.Validate())

	lstm := testConfig()
	lstm.Cell = rnn.CellLSTM
	err := lstm.Validate()
	require.ErrorContains(t, err, "reserved and not implemented")

	bogus := testConfig()
	bogus.Cell = rnn.CellType(17)
	require.ErrorContains(t, bogus.Validate(), "invalid recurrent cell type")

	badID := testConfig()
	badID.UnkID = int32(badID.VocabSize)
	require.ErrorContains(t, badID.Validate(), "out of vocabulary range")

	badRate := testConfig()
	badRate.WordDropout = 1.5
	require.ErrorContains(t, badRate.Validate(), "WordDropout")
}

func TestNewRejectsReservedCell(t *testing.T) {
	cfg := testConfig()
	cfg.Cell = rnn.CellLSTM
	_, err := New(graphtest.BuildTestBackend(), cfg)
	require.ErrorContains(t, err, "reserved and not implemented")
}

func TestForwardShapes(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	cfg := testConfig()
	m, err := New(backend, cfg)
	require.NoError(t, err)

	sequences, lengths := testSequences(cfg, 10, 7, 3)
	out, err := m.Forward(sequences, lengths)
	require.NoError(t, err)

	assert.Equal(t, []int{3, 10, 50}, out.LogProbs.Shape().Dimensions)
	assert.Equal(t, []int{3, 4}, out.Mean.Shape().Dimensions)
	assert.Equal(t, []int{3, 4}, out.LogVar.Shape().Dimensions)
	assert.Equal(t, []int{3, 4}, out.Z.Shape().Dimensions)
}

func TestForwardLogProbsNormalized(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	cfg := testConfig()
	m, err := New(backend, cfg)
	require.NoError(t, err)

	sequences, lengths := testSequences(cfg, 7, 4)
	out, err := m.Forward(sequences, lengths)
	require.NoError(t, err)

	logProbs := out.LogProbs.Value().([][][]float32)
	for b := range logProbs {
		for t1 := range logProbs[b] {
			sum := 0.0
			for _, lp := range logProbs[b][t1] {
				assert.LessOrEqual(t, lp, float32(1e-5),
					"log-probability must be <= 0 at [%d, %d]", b, t1)
				sum += math.Exp(float64(lp))
			}
			assert.InDelta(t, 1.0, sum, 1e-3,
				"distribution at [%d, %d] must sum to 1", b, t1)
		}
	}
}

func TestForwardBatchOfOne(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	cfg := testConfig()
	m, err := New(backend, cfg)
	require.NoError(t, err)

	sequences, lengths := testSequences(cfg, 5)
	out, err := m.Forward(sequences, lengths)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 5, 50}, out.LogProbs.Shape().Dimensions)
	assert.Equal(t, []int{1, 4}, out.Mean.Shape().Dimensions)
}

func TestForwardUnsortedInputOrder(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	cfg := testConfig()
	m, err := New(backend, cfg)
	require.NoError(t, err)

	// Shortest first: Forward must sort internally and return rows in the
	// caller's order, with the short row's outputs in row 0.
	sequences, lengths := testSequences(cfg, 2, 9, 6)
	out, err := m.Forward(sequences, lengths)
	require.NoError(t, err)
	require.Equal(t, []int{3, 9, 50}, out.LogProbs.Shape().Dimensions)

	// Rerun each row by itself: the posterior mean of a row must not depend
	// on what it was batched with, nor on the batch order.
	batched := out.Mean.Value().([][]float32)
	for i := range sequences {
		single, err := m.Forward(sequences[i:i+1], lengths[i:i+1])
		require.NoError(t, err)
		alone := single.Mean.Value().([][]float32)[0]
		for j := range alone {
			assert.InDelta(t, float64(alone[j]), float64(batched[i][j]), 1e-4,
				"mean[%d][%d] changed with batching", i, j)
		}
	}
}

func TestForwardRejectsBadBatch(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	cfg := testConfig()
	m, err := New(backend, cfg)
	require.NoError(t, err)

	_, err = m.Forward(nil, nil)
	require.ErrorContains(t, err, "empty batch")

	sequences, _ := testSequences(cfg, 12)
	_, err = m.Forward(sequences, []int{12})
	require.ErrorContains(t, err, "exceeds maximum")
}
