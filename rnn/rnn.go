// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package rnn provides minimal Elman ("vanilla") and GRU recurrent layers.
//
// The layer runs over a sequence shaped [batchSize, sequenceSize, featuresSize],
// optionally stacked over several layers and in both directions. Sequences of
// different lengths are supported through RNN.Ragged, which masks state updates
// past each sequence's true length -- a more compact alternative to padding-aware
// packing.
//
// Since GoMLX doesn't implement loops, the size of the graph is O(N) on the size
// of the sequence -- each step is instantiated as its own graph nodes.
//
// The LSTM cell kind is reserved and not implemented here; requesting it fails
// immediately when configuring the layer.
//
// Weight layout follows the ONNX RNN/GRU operators:
//   - inputsW: [numDirections, numGates, hiddenSize, featuresSize]
//   - recurrentW: [numDirections, numGates, hiddenSize, hiddenSize]
//   - biasesW: [numDirections, 2*numGates, hiddenSize], input biases first.
//
// See https://onnx.ai/onnx/operators/onnx__GRU.html for the GRU equations.
package rnn

import (
	"fmt"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"golang.org/x/exp/maps"
)

// CellType selects the recurrent cell the layer is built with.
type CellType int

const (
	// CellElman is the plain tanh recurrent cell: h_t = tanh(W x_t + R h_{t-1} + b).
	CellElman CellType = iota

	// CellGRU is the gated recurrent unit.
	CellGRU

	// CellLSTM is reserved: configuring a layer with it fails immediately.
	CellLSTM
)

var cellTypeNames = map[string]CellType{
	"rnn":  CellElman,
	"gru":  CellGRU,
	"lstm": CellLSTM,
}

// ParseCellType converts the usual lowercase names ("rnn", "gru", "lstm") to a
// CellType. Notice "lstm" parses fine -- it is the layer configuration that
// rejects it, with a proper error about it being reserved.
func ParseCellType(name string) (CellType, error) {
	cell, found := cellTypeNames[name]
	if !found {
		return 0, fmt.Errorf("unknown recurrent cell type %q, valid values are %v", name, maps.Keys(cellTypeNames))
	}
	return cell, nil
}

// String implements fmt.Stringer.
func (c CellType) String() string {
	switch c {
	case CellElman:
		return "rnn"
	case CellGRU:
		return "gru"
	case CellLSTM:
		return "lstm"
	}
	return fmt.Sprintf("CellType(%d)", int(c))
}

// numGates is the number of input/recurrent projections the cell consumes.
func (c CellType) numGates() int {
	if c == CellGRU {
		return 3
	}
	return 1
}

// RNN holds a recurrent layer configuration. It is created with New and, once
// finished to be configured, applied to x with Done.
type RNN struct {
	ctx          *context.Context
	x            *Node
	xLengths     *Node
	initialState *Node

	cell          CellType
	numLayers     int
	bidirectional bool

	// Explicit weights, set by NewWithWeights instead of context variables.
	inputsW, recurrentW, biasesW *Node

	batchSize, featuresSize, hiddenSize int
}

// New creates a recurrent layer to be configured and then applied to x with
// RNN.Done. x must be shaped [batchSize, sequenceSize, featuresSize].
//
// It defaults to a single forward layer with the Elman cell.
func New(ctx *context.Context, x *Node, hiddenSize int) *RNN {
	if x.Rank() != 3 {
		exceptions.Panicf("rnn: x must be shaped [batchSize, sequenceSize, featuresSize], got x.shape=%s", x.Shape())
	}
	if hiddenSize <= 0 {
		exceptions.Panicf("rnn: hiddenSize must be > 0, got %d", hiddenSize)
	}
	return &RNN{
		ctx:          ctx,
		x:            x,
		cell:         CellElman,
		numLayers:    1,
		batchSize:    x.Shape().Dim(0),
		featuresSize: x.Shape().Dim(2),
		hiddenSize:   hiddenSize,
	}
}

// NewWithWeights is like New, but uses the given weights instead of creating
// context variables, so it needs no context. The weights must follow the
// package's ONNX layout for the cell configured with RNN.Cell; it is
// restricted to a single layer.
func NewWithWeights(x, inputsW, recurrentW, biasesW *Node) *RNN {
	if x.Rank() != 3 {
		exceptions.Panicf("rnn: x must be shaped [batchSize, sequenceSize, featuresSize], got x.shape=%s", x.Shape())
	}
	if inputsW.Rank() != 4 || recurrentW.Rank() != 4 || biasesW.Rank() != 3 {
		exceptions.Panicf("rnn: weights must be shaped [dirs, gates, hidden, features], [dirs, gates, hidden, hidden] and [dirs, 2*gates, hidden], got %s, %s and %s",
			inputsW.Shape(), recurrentW.Shape(), biasesW.Shape())
	}
	return &RNN{
		x:            x,
		cell:         CellElman,
		numLayers:    1,
		inputsW:      inputsW,
		recurrentW:   recurrentW,
		biasesW:      biasesW,
		batchSize:    x.Shape().Dim(0),
		featuresSize: x.Shape().Dim(2),
		hiddenSize:   inputsW.Shape().Dim(2),
	}
}

// Cell configures which recurrent cell to use: CellElman or CellGRU.
// CellLSTM is reserved and fails here.
func (r *RNN) Cell(cell CellType) *RNN {
	switch cell {
	case CellElman, CellGRU:
		r.cell = cell
	case CellLSTM:
		exceptions.Panicf("rnn: cell type %q is reserved and not implemented", cell)
	default:
		exceptions.Panicf("rnn: invalid cell type %d", int(cell))
	}
	return r
}

// Layers configures the number of stacked recurrent layers. Defaults to 1.
// The input of layer l+1 is layer l's per-step hidden states, with directions
// concatenated on the features axis.
func (r *RNN) Layers(numLayers int) *RNN {
	if numLayers < 1 {
		exceptions.Panicf("rnn: numLayers must be >= 1, got %d", numLayers)
	}
	if numLayers > 1 && r.inputsW != nil {
		exceptions.Panicf("rnn: NewWithWeights supports a single layer, got numLayers=%d", numLayers)
	}
	r.numLayers = numLayers
	return r
}

// Bidirectional configures whether to also run each layer in reverse and
// concatenate both directions' states. Defaults to false.
func (r *RNN) Bidirectional(bidirectional bool) *RNN {
	r.bidirectional = bidirectional
	return r
}

// Ragged indicates that x is "ragged" (the sequences are not used to the end),
// and its true lengths are given by sequenceLengths, shaped [batchSize].
// State updates at positions >= the sequence's length are suppressed, so the
// final hidden state is the state at each sequence's true end, and the reverse
// direction effectively starts at the true end rather than at the padding.
func (r *RNN) Ragged(sequenceLengths *Node) *RNN {
	r.xLengths = sequenceLengths
	return r
}

// InitialState configures the initial hidden state (h_0), which otherwise
// defaults to zeros. It must be shaped [numLayers*numDirections, batchSize,
// hiddenSize], the leading axis ordered layer-major: (layer 0, forward),
// (layer 0, backward), (layer 1, forward), ...
func (r *RNN) InitialState(state *Node) *RNN {
	r.initialState = state
	return r
}

// NumDirections based on the Bidirectional configuration.
func (r *RNN) NumDirections() int {
	if r.bidirectional {
		return 2
	}
	return 1
}

// Done applies the configured layer(s) to the sequence in x.
//   - allStates: the last layer's hidden state at every step, shaped
//     [batchSize, sequenceSize, numDirections*hiddenSize].
//   - lastState: the final hidden state of every layer and direction, shaped
//     [numLayers*numDirections, batchSize, hiddenSize] -- the same layout
//     accepted by RNN.InitialState.
func (r *RNN) Done() (allStates, lastState *Node) {
	ctx := r.ctx
	g := r.x.Graph()
	dtype := r.x.DType()
	numDirections := r.NumDirections()
	numGates := r.cell.numGates()
	batchSize := r.batchSize
	sequenceSize := r.x.Shape().Dim(1)
	hiddenSize := r.hiddenSize

	if r.initialState != nil {
		r.initialState.AssertDims(r.numLayers*numDirections, batchSize, hiddenSize)
	}
	if r.xLengths != nil {
		r.xLengths.AssertDims(batchSize)
	}

	layerInput := r.x
	lastStates := make([]*Node, 0, r.numLayers*numDirections)
	for layerIdx := range r.numLayers {
		featuresSize := layerInput.Shape().Dim(2)
		inputsW, recurrentW, biasesW := r.inputsW, r.recurrentW, r.biasesW
		if inputsW == nil {
			layerCtx := ctx.In(fmt.Sprintf("layer_%d", layerIdx))
			inputsW = layerCtx.VariableWithShape(
				"inputsW", shapes.Make(dtype, numDirections, numGates, hiddenSize, featuresSize)).ValueGraph(g)
			recurrentW = layerCtx.VariableWithShape(
				"recurrentW", shapes.Make(dtype, numDirections, numGates, hiddenSize, hiddenSize)).ValueGraph(g)
			biasesW = layerCtx.VariableWithShape(
				"biasesW", shapes.Make(dtype, numDirections, 2*numGates, hiddenSize)).ValueGraph(g)
		} else {
			inputsW.AssertDims(numDirections, numGates, hiddenSize, featuresSize)
			recurrentW.AssertDims(numDirections, numGates, hiddenSize, hiddenSize)
			biasesW.AssertDims(numDirections, 2*numGates, hiddenSize)
		}

		// Linear projections of the whole input sequence, all gates at once.
		// b->batchSize, s->sequenceSize, f->featuresSize, d->numDirections,
		// g->numGates, h->hiddenSize.
		projX := Einsum("bsf,dghf->dgbsh", layerInput, inputsW)
		{
			biasX := Slice(biasesW, AxisRange(), AxisRangeFromStart(numGates))
			biasX = ExpandAxes(biasX, 2, 3) // Create batchSize and sequenceSize axes.
			projX = Add(projX, biasX)
		}

		// Starting state h_{i-1} for each direction.
		prevHidden := make([]*Node, numDirections)
		for dirIdx := range numDirections {
			if r.initialState == nil {
				prevHidden[dirIdx] = Zeros(g, shapes.Make(dtype, batchSize, hiddenSize))
			} else {
				stateIdx := layerIdx*numDirections + dirIdx
				prevHidden[dirIdx] = Squeeze(Slice(r.initialState, AxisElem(stateIdx)), 0)
			}
		}

		// Hidden states of each step, consumed by the next layer (or returned).
		seqStates := make([][]*Node, numDirections)
		for dirIdx := range numDirections {
			seqStates[dirIdx] = make([]*Node, sequenceSize)
		}

		for seqIdx := range sequenceSize {
			for dirIdx := range numDirections {
				seqPos := seqIdx
				if dirIdx == 1 {
					seqPos = sequenceSize - 1 - seqIdx
				}

				// Recurrent projection for all gates.
				dirRecurrentW := Squeeze(Slice(recurrentW, AxisElem(dirIdx)), 0)
				projState := Einsum("bh,gjh->gbj", prevHidden[dirIdx], dirRecurrentW)
				{
					biasState := Slice(biasesW, AxisElem(dirIdx), AxisRangeToEnd(numGates))
					biasState = Reshape(biasState, numGates, 1, hiddenSize)
					projState = Add(projState, biasState)
				}

				gateX := func(gateIdx int) *Node {
					proj := Slice(projX, AxisElem(dirIdx), AxisElem(gateIdx), AxisRange(), AxisElem(seqPos))
					return Reshape(proj, batchSize, hiddenSize)
				}
				gateState := func(gateIdx int) *Node {
					return Squeeze(Slice(projState, AxisElem(gateIdx)), 0)
				}

				var hiddenState *Node
				switch r.cell {
				case CellElman:
					hiddenState = Tanh(Add(gateX(0), gateState(0)))
				case CellGRU:
					// zT (update) decides how much of the previous state to keep,
					// rT (reset) gates the recurrent contribution to the candidate.
					zT := Sigmoid(Add(gateX(0), gateState(0)))
					rT := Sigmoid(Add(gateX(1), gateState(1)))
					candidate := Tanh(Add(gateX(2), Mul(rT, gateState(2))))
					hiddenState = Add(Mul(OneMinus(zT), candidate), Mul(zT, prevHidden[dirIdx]))
				default:
					exceptions.Panicf("rnn: cell type %q is reserved and not implemented", r.cell)
				}

				// Positions at/after the sequence end keep the previous state
				// unchanged -- works for both directions.
				if r.xLengths != nil {
					masked := GreaterOrEqual(Scalar(g, r.xLengths.DType(), seqPos), r.xLengths)
					masked = ExpandAxes(masked, -1)
					hiddenState = Where(masked, prevHidden[dirIdx], hiddenState)
				}

				seqStates[dirIdx][seqPos] = hiddenState
				prevHidden[dirIdx] = hiddenState
			}
		}

		for dirIdx := range numDirections {
			lastStates = append(lastStates, prevHidden[dirIdx])
		}

		// Per-step outputs with directions concatenated on the features axis;
		// this is the next layer's input.
		steps := make([]*Node, sequenceSize)
		for seqPos := range sequenceSize {
			if numDirections == 1 {
				steps[seqPos] = seqStates[0][seqPos]
			} else {
				steps[seqPos] = Concatenate([]*Node{seqStates[0][seqPos], seqStates[1][seqPos]}, 1)
			}
		}
		layerInput = Stack(steps, 1)
	}

	allStates = layerInput
	lastState = Stack(lastStates, 0)
	allStates.AssertDims(batchSize, sequenceSize, numDirections*hiddenSize)
	lastState.AssertDims(r.numLayers*numDirections, batchSize, hiddenSize)
	return
}
