// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sentencevae

import (
	"math/rand/v2"
	"sort"
	"sync"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// SyntheticDataset is an endless train.Dataset of random-walk token
// sequences, for exercising and sanity-checking the model without a corpus.
// Each batch yields inputs [tokens, lengths, invPerm] as BuildGraph expects
// and labels [targets, lengths, klWeight] as Loss expects, with the KL weight
// following the configured annealing schedule.
//
// Rows are padded to MaxSequenceLength so every batch compiles to the same
// graph. Safe for concurrent Yield calls (e.g. wrapped in datasets.Parallel).
type SyntheticDataset struct {
	name      string
	cfg       Config
	batchSize int

	mu   sync.Mutex
	rng  *rand.Rand
	step int

	annealFn string
	annealK  float64
	annealX0 float64
}

// NewSyntheticDataset creates a dataset of batchSize sequences per yield,
// reproducible for a given seed. The default KL weight is the constant 1; see
// WithAnnealing.
func NewSyntheticDataset(cfg Config, batchSize int, seed uint64) *SyntheticDataset {
	return &SyntheticDataset{
		name:      "synthetic-random-walk",
		cfg:       cfg.withDefaults(),
		batchSize: batchSize,
		rng:       rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// WithAnnealing sets the KL weight schedule applied across training steps;
// see KLWeight for the accepted function names.
func (ds *SyntheticDataset) WithAnnealing(annealFunction string, k, x0 float64) *SyntheticDataset {
	ds.annealFn = annealFunction
	ds.annealK = k
	ds.annealX0 = x0
	return ds
}

func (ds *SyntheticDataset) Name() string { return ds.name }

// Reset is a no-op: the dataset is endless and the annealing step counter
// deliberately survives evaluation passes.
func (ds *SyntheticDataset) Reset() {}

// Yield generates one batch. It never returns io.EOF.
func (ds *SyntheticDataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	cfg := &ds.cfg
	maxLen := cfg.MaxSequenceLength
	n := ds.batchSize

	rows := make([]syntheticRow, n)
	for i := range rows {
		rows[i] = ds.randomWalkRow()
	}
	// Decreasing-length order, stable so equal lengths keep generation order.
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return rows[order[a]].length > rows[order[b]].length
	})

	tokens := make([]int32, 0, n*maxLen)
	targets := make([]int32, 0, n*maxLen)
	lengths := make([]int32, n)
	invPerm := make([]int32, n)
	for pos, src := range order {
		tokens = append(tokens, rows[src].input...)
		targets = append(targets, rows[src].target...)
		lengths[pos] = int32(rows[src].length)
		invPerm[src] = int32(pos)
	}

	weight := KLWeight(ds.annealFn, ds.step, ds.annealK, ds.annealX0)
	ds.step++

	tokensT := tensors.FromFlatDataAndDimensions(tokens, n, maxLen)
	targetsT := tensors.FromFlatDataAndDimensions(targets, n, maxLen)
	lengthsT := tensors.FromValue(lengths)
	inputs = []*tensors.Tensor{tokensT, lengthsT, tensors.FromValue(invPerm)}
	labels = []*tensors.Tensor{targetsT, lengthsT, scalarTensor(cfg.DType, weight)}
	return nil, inputs, labels, nil
}

type syntheticRow struct {
	input, target []int32
	length        int
}

// randomWalkRow builds one sos-prefixed input and its shifted target, both
// padded to MaxSequenceLength. The content is a bounded random walk over the
// non-special token ids.
func (ds *SyntheticDataset) randomWalkRow() (r syntheticRow) {
	cfg := &ds.cfg
	maxLen := cfg.MaxSequenceLength

	first := cfg.SosID
	for _, id := range []int32{cfg.EosID, cfg.PadID, cfg.UnkID} {
		if id > first {
			first = id
		}
	}
	first++ // first non-special token id
	span := int32(cfg.VocabSize) - first
	if span < 1 {
		span = 1
		first = int32(cfg.VocabSize) - 1
	}

	length := 2 + ds.rng.IntN(maxLen-1) // in [2, maxLen]
	r.length = length
	r.input = make([]int32, maxLen)
	r.target = make([]int32, maxLen)
	for j := range r.input {
		r.input[j] = cfg.PadID
		r.target[j] = cfg.PadID
	}

	tok := first + ds.rng.Int32N(span)
	r.input[0] = cfg.SosID
	for j := 1; j < length; j++ {
		r.input[j] = tok
		r.target[j-1] = tok
		tok += int32(ds.rng.IntN(5) - 2)
		if tok < first {
			tok = first
		}
		if tok >= first+span {
			tok = first + span - 1
		}
	}
	r.target[length-1] = cfg.EosID
	return r
}

// scalarTensor builds a 0-rank tensor of the given float dtype.
func scalarTensor(dtype dtypes.DType, v float64) *tensors.Tensor {
	if dtype == dtypes.Float64 {
		return tensors.FromValue(v)
	}
	return tensors.FromValue(float32(v))
}
