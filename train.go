// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sentencevae

import (
	"fmt"
	"math"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/pkg/errors"
)

// Hyperparameter keys used by CreateDefaultContext and TrainModel.
const (
	ParamTrainSteps     = "train_steps"
	ParamBatchSize      = "batch_size"
	ParamNumCheckpoints = "num_checkpoints"

	// ParamKLAnneal selects the KL weight schedule: "logistic", "linear" or
	// "constant". ParamKLAnnealK is the logistic steepness, ParamKLAnnealX0
	// the step at which the schedule reaches its midpoint (logistic) or 1
	// (linear).
	ParamKLAnneal   = "kl_anneal"
	ParamKLAnnealK  = "kl_anneal_k"
	ParamKLAnnealX0 = "kl_anneal_x0"
)

// ParamsExcludedFromLoading are hyperparameters that shouldn't be restored
// from a checkpoint, so they can be changed between training sessions.
var ParamsExcludedFromLoading = []string{
	ParamTrainSteps, ParamNumCheckpoints,
}

// CreateDefaultContext returns a context with the default training
// hyperparameters, to be overridden by command-line settings.
func CreateDefaultContext() *context.Context {
	ctx := context.New()
	ctx.ResetRNGState()
	ctx.SetParams(map[string]any{
		ParamTrainSteps:     2000,
		ParamBatchSize:      32,
		ParamNumCheckpoints: 3,

		ParamKLAnneal:   "logistic",
		ParamKLAnnealK:  0.0025,
		ParamKLAnnealX0: 1000.0,

		optimizers.ParamOptimizer:    "adam",
		optimizers.ParamLearningRate: 1e-3,
	})
	return ctx
}

// KLWeight returns the KL annealing weight at the given training step.
// "logistic" ramps smoothly from ~0 to 1 with midpoint x0 and steepness k;
// "linear" grows as step/x0 capped at 1; anything else is constant 1.
func KLWeight(annealFunction string, step int, k, x0 float64) float64 {
	switch annealFunction {
	case "logistic":
		return 1.0 / (1.0 + math.Exp(-k*(float64(step)-x0)))
	case "linear":
		return math.Min(1.0, float64(step)/x0)
	default:
		return 1.0
	}
}

// TrainModel creates a SentenceVAE in ctx and trains it on ds for the
// configured number of steps, checkpointing to checkpointPath if non-empty.
// With verbosity >= 0 a progress bar is attached; with verbosity >= 1 a few
// freshly generated sequences are printed at the end.
func TrainModel(backend backends.Backend, ctx *context.Context, cfg Config,
	ds train.Dataset, checkpointPath string, verbosity int) (*Model, error) {
	var checkpoint *checkpoints.Handler
	if checkpointPath != "" {
		numKeep := context.GetParamOr(ctx, ParamNumCheckpoints, 3)
		var err error
		checkpoint, err = checkpoints.Build(ctx).
			Dir(checkpointPath).
			Keep(numKeep).
			ExcludeParams(ParamsExcludedFromLoading...).
			Done()
		if err != nil {
			return nil, errors.WithMessage(err, "setting up checkpoints")
		}
		if verbosity >= 1 {
			fmt.Printf("Checkpoint: %q\n", checkpoint.Dir())
		}
	}
	if verbosity >= 2 {
		fmt.Println(commandline.SprintContextSettings(ctx))
	}

	m, err := NewWithContext(backend, ctx, cfg)
	if err != nil {
		return nil, err
	}

	modelFn := func(ctx *context.Context, _ any, inputs []*graph.Node) []*graph.Node {
		logProbs, mean, logVar, z := m.BuildGraph(ctx, inputs[0], inputs[1], inputs[2])
		return []*graph.Node{logProbs, mean, logVar, z}
	}
	trainer := train.NewTrainer(backend, m.Context(), modelFn,
		m.Loss,
		optimizers.FromContext(ctx),
		nil, nil)

	loop := train.NewLoop(trainer)
	if verbosity >= 0 {
		commandline.AttachProgressBar(loop)
	}
	if checkpoint != nil {
		train.PeriodicCallback(loop, time.Minute*3, true, "saving checkpoint", 100,
			func(loop *train.Loop, metrics []*tensors.Tensor) error {
				return checkpoint.Save()
			})
	}

	numTrainSteps := context.GetParamOr(ctx, ParamTrainSteps, 0)
	globalStep := int(optimizers.GetGlobalStep(ctx))
	if globalStep < numTrainSteps {
		if _, err := loop.RunSteps(ds, numTrainSteps-globalStep); err != nil {
			return nil, errors.WithMessage(err, "training loop")
		}
		if verbosity >= 1 {
			fmt.Printf("\t[Step %d] median train step: %d microseconds\n",
				loop.LoopStep, loop.MedianTrainStepDuration().Microseconds())
		}
		if checkpoint != nil {
			if err := checkpoint.Save(); err != nil {
				return nil, errors.WithMessage(err, "saving final checkpoint")
			}
		}
	}

	if verbosity >= 1 {
		if err := printSamples(m, 4); err != nil {
			return nil, err
		}
	}
	return m, nil
}

var sampleStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	Padding(0, 1)

// printSamples decodes n sequences from the prior and prints them.
func printSamples(m *Model, n int) error {
	result, err := m.Generate(n)
	if err != nil {
		return errors.WithMessage(err, "generating samples")
	}
	lines := make([]string, 0, n)
	for i, seq := range result.Sequences {
		lines = append(lines, fmt.Sprintf("#%d: %v", i, trimPadding(seq, m.cfg.EosID, m.cfg.PadID)))
	}
	fmt.Println(sampleStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...)))
	return nil
}

// trimPadding cuts a generated row after its EosID (inclusive), or returns it
// whole if the row used the full length budget.
func trimPadding(seq []int32, eosID, padID int32) []int32 {
	for i, tok := range seq {
		if tok == eosID {
			return seq[:i+1]
		}
	}
	for i := len(seq); i > 0; i-- {
		if seq[i-1] != padID {
			return seq[:i]
		}
	}
	return seq[:0]
}
