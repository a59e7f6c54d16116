// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sentencevae

import (
	"testing"

	_ "github.com/gomlx/gomlx/backends/default"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKLWeight(t *testing.T) {
	// Logistic: 0.5 at the midpoint, saturating towards 0 and 1.
	assert.InDelta(t, 0.5, KLWeight("logistic", 1000, 0.0025, 1000), 1e-9)
	assert.Less(t, KLWeight("logistic", 0, 0.0025, 1000), 0.1)
	assert.Greater(t, KLWeight("logistic", 5000, 0.0025, 1000), 0.99)

	// Linear: step/x0, capped at 1.
	assert.InDelta(t, 0.0, KLWeight("linear", 0, 0, 100), 1e-9)
	assert.InDelta(t, 0.25, KLWeight("linear", 25, 0, 100), 1e-9)
	assert.InDelta(t, 1.0, KLWeight("linear", 100, 0, 100), 1e-9)
	assert.InDelta(t, 1.0, KLWeight("linear", 1000, 0, 100), 1e-9)

	// Anything else is constant.
	assert.Equal(t, 1.0, KLWeight("constant", 0, 0, 0))
	assert.Equal(t, 1.0, KLWeight("", 12345, 0, 0))
}

func TestTrimPadding(t *testing.T) {
	eos, pad := int32(1), int32(2)
	assert.Equal(t, []int32{5, 6, 1}, trimPadding([]int32{5, 6, 1, 2, 2}, eos, pad))
	assert.Equal(t, []int32{5, 6, 7}, trimPadding([]int32{5, 6, 7}, eos, pad))
	assert.Equal(t, []int32{5, 6}, trimPadding([]int32{5, 6, 2, 2}, eos, pad))
	assert.Empty(t, trimPadding([]int32{2, 2, 2}, eos, pad))
}

func TestCreateDefaultContext(t *testing.T) {
	ctx := CreateDefaultContext()
	assert.Greater(t, context.GetParamOr(ctx, ParamTrainSteps, 0), 0)
	assert.Greater(t, context.GetParamOr(ctx, ParamBatchSize, 0), 0)
	assert.Equal(t, "logistic", context.GetParamOr(ctx, ParamKLAnneal, ""))
	assert.Equal(t, "adam", context.GetParamOr(ctx, optimizers.ParamOptimizer, ""))
}

// A couple of optimizer steps on the synthetic dataset, checking the whole
// trainer wiring holds together and the loss stays finite.
func TestTrainModelRunsFewSteps(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping training smoke test in -short mode")
	}
	ctx := CreateDefaultContext()
	ctx.SetParam(ParamTrainSteps, 4)
	ctx.SetParam(ParamBatchSize, 4)

	cfg := testConfig()
	ds := NewSyntheticDataset(cfg, 4, 3).WithAnnealing("linear", 0, 10)
	backend := graphtest.BuildTestBackend()
	m, err := TrainModel(backend, ctx, cfg, ds, "", -1)
	require.NoError(t, err)

	result, err := m.Generate(2)
	require.NoError(t, err)
	require.Len(t, result.Sequences, 2)
}
