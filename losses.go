// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sentencevae

import (
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
)

// Loss is a train.LossFn computing the per-example mean of the SentenceVAE
// objective: masked reconstruction negative log-likelihood plus the KL
// divergence of the posterior from the prior, weighted by the annealing
// schedule.
//
// labels must be [targets [batch, sequence], lengths [batch], klWeight
// scalar]; predictions are BuildGraph's outputs [logProbs, mean, logVar, z].
func (m *Model) Loss(labels, predictions []*graph.Node) *graph.Node {
	targets, lengths, klWeight := labels[0], labels[1], labels[2]
	logProbs, mean, logVar := predictions[0], predictions[1], predictions[2]

	nll := maskedNLL(logProbs, targets, lengths)
	kl := gaussianKL(mean, logVar)
	loss := graph.Add(nll, graph.Mul(klWeight, kl))

	batchSize := float64(targets.Shape().Dim(0))
	return graph.DivScalar(loss, batchSize)
}

// maskedNLL sums -log p(target) over the valid prefix of every row.
//
// logProbs: [batch, sequence, vocab] normalized log-probabilities; targets:
// [batch, sequence] ids; lengths: [batch]. Returns a scalar.
func maskedNLL(logProbs, targets, lengths *graph.Node) *graph.Node {
	g := logProbs.Graph()
	vocabSize := logProbs.Shape().Dim(2)

	oneHot := graph.OneHot(targets, vocabSize, logProbs.DType())
	perToken := graph.ReduceSum(graph.Mul(logProbs, oneHot), -1) // [batch, sequence]

	// Zero out the contributions of padding positions.
	seqPos := graph.Iota(g, shapes.Make(lengths.DType(), targets.Shape().Dimensions...), 1)
	valid := graph.LessThan(seqPos, graph.ExpandDims(lengths, -1))
	perToken = graph.Where(valid, perToken, graph.ZerosLike(perToken))

	return graph.Neg(graph.ReduceAllSum(perToken))
}

// gaussianKL is KL(N(mean, exp(logVar)) || N(0, I)), summed over the batch
// and the latent dimensions.
func gaussianKL(mean, logVar *graph.Node) *graph.Node {
	inner := graph.Sub(graph.Add(graph.OnePlus(logVar), graph.Neg(graph.Mul(mean, mean))), graph.Exp(logVar))
	return graph.MulScalar(graph.ReduceAllSum(inner), -0.5)
}
