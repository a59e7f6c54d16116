// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package sentencevae implements a recurrent variational autoencoder over
// token sequences (Bowman et al., "Generating Sentences from a Continuous
// Space", 2016).
//
// The model encodes a batch of variable-length token sequences into a
// Gaussian posterior in latent space, draws a differentiable sample with the
// reparameterization trick, and decodes the sample back into per-step
// vocabulary log-probabilities (Model.Forward). Model.Generate runs the
// decoder autoregressively from latent vectors alone, with per-sequence early
// stopping on the end-of-sequence token.
//
// Data pipelines, optimizers and training loops are collaborators rather than
// part of the model: Loss provides a train.LossFn with the usual
// reconstruction + annealed-KL objective, and TrainModel ready-made training
// glue over a synthetic dataset.
package sentencevae

import (
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"

	"github.com/gomlx/sentencevae/rnn"
)

// Config specifies the SentenceVAE architecture, its special tokens and the
// sampling policy used during generation.
type Config struct {
	// VocabSize is the number of distinct token ids, including the special ones.
	VocabSize int

	// EmbeddingSize is the dimension of the token embedding table, shared by
	// the encoder, the teacher-forced decoder and the generator.
	EmbeddingSize int

	// Cell selects the recurrent cell used by both encoder and decoder:
	// rnn.CellElman or rnn.CellGRU. rnn.CellLSTM is reserved and rejected
	// at construction.
	Cell rnn.CellType

	// HiddenSize is the per-direction recurrent state size.
	HiddenSize int

	// NumLayers is the number of stacked recurrent layers. Defaults to 1.
	NumLayers int

	// Bidirectional runs encoder and decoder in both directions.
	Bidirectional bool

	// LatentSize is the dimension of the latent Gaussian.
	LatentSize int

	// MaxSequenceLength bounds both training sequences and generation.
	MaxSequenceLength int

	// WordDropout is the training-time probability of replacing a decoder
	// input token with UnkID, forcing the decoder to rely on the latent code.
	// SosID and PadID positions are never replaced.
	WordDropout float64

	// EmbeddingDropout is applied to the decoder input embeddings.
	EmbeddingDropout float64

	// Special token ids. All must be in [0, VocabSize).
	SosID, EosID, PadID, UnkID int32

	// DType of the parameters and activations. Defaults to dtypes.Float32.
	DType dtypes.DType

	// Strategy selects how Generate samples the next token: "greedy"
	// (default), "temperature", "top_k" or "top_p", with the respective
	// Temperature/TopK/TopP knobs.
	Strategy    string
	Temperature float64
	TopK        int
	TopP        float64
}

// NumDirections derived from Config.Bidirectional.
func (c *Config) NumDirections() int {
	if c.Bidirectional {
		return 2
	}
	return 1
}

// hiddenFactor is the number of (layer, direction) states the recurrent
// network produces; the flattened encoder summary has
// HiddenSize*hiddenFactor elements per sequence.
func (c *Config) hiddenFactor() int {
	return c.NumLayers * c.NumDirections()
}

// withDefaults fills the zero-valued optional fields.
func (c Config) withDefaults() Config {
	if c.NumLayers == 0 {
		c.NumLayers = 1
	}
	if c.DType == dtypes.InvalidDType {
		c.DType = dtypes.Float32
	}
	if c.Strategy == "" {
		c.Strategy = "greedy"
	}
	if c.Temperature == 0 {
		c.Temperature = 1.0
	}
	return c
}

// Validate returns an error describing the first invalid field, if any.
// Notably, the reserved LSTM cell kind is rejected here, before any variable
// or computation graph is created.
func (c *Config) Validate() error {
	if c.VocabSize < 2 {
		return errors.Errorf("VocabSize must be >= 2, got %d", c.VocabSize)
	}
	if c.EmbeddingSize <= 0 {
		return errors.Errorf("EmbeddingSize must be > 0, got %d", c.EmbeddingSize)
	}
	if c.HiddenSize <= 0 {
		return errors.Errorf("HiddenSize must be > 0, got %d", c.HiddenSize)
	}
	if c.LatentSize <= 0 {
		return errors.Errorf("LatentSize must be > 0, got %d", c.LatentSize)
	}
	if c.MaxSequenceLength <= 0 {
		return errors.Errorf("MaxSequenceLength must be > 0, got %d", c.MaxSequenceLength)
	}
	if c.NumLayers < 1 {
		return errors.Errorf("NumLayers must be >= 1, got %d", c.NumLayers)
	}
	switch c.Cell {
	case rnn.CellElman, rnn.CellGRU:
		// ok
	case rnn.CellLSTM:
		return errors.Errorf("recurrent cell type %q is reserved and not implemented", c.Cell)
	default:
		return errors.Errorf("invalid recurrent cell type %d", int(c.Cell))
	}
	if c.WordDropout < 0 || c.WordDropout > 1 {
		return errors.Errorf("WordDropout must be in [0, 1], got %g", c.WordDropout)
	}
	if c.EmbeddingDropout < 0 || c.EmbeddingDropout > 1 {
		return errors.Errorf("EmbeddingDropout must be in [0, 1], got %g", c.EmbeddingDropout)
	}
	for _, id := range []struct {
		name  string
		value int32
	}{{"SosID", c.SosID}, {"EosID", c.EosID}, {"PadID", c.PadID}, {"UnkID", c.UnkID}} {
		if id.value < 0 || int(id.value) >= c.VocabSize {
			return errors.Errorf("%s=%d out of vocabulary range [0, %d)", id.name, id.value, c.VocabSize)
		}
	}
	return nil
}

// Model is a SentenceVAE ready for training and generation. It owns no
// mutable state besides its learned parameters (held by the context); each
// Forward/Generate call owns its own tensors.
//
// The parameters must not be mutated (e.g. by an optimizer step) concurrently
// with an in-flight Forward or Generate call.
type Model struct {
	backend backends.Backend
	ctx     *context.Context
	cfg     Config

	// Cached executors; each compiles one graph per distinct input shape.
	forwardExec *context.Exec // (tokens, lengths, invPerm) -> (logp, mean, logv, z)
	latentExec  *context.Exec // (zero template [n]) -> z [n, latent]
	initExec    *context.Exec // (z) -> initial decoder hidden state
	stepExec    *context.Exec // (tokens, hidden) -> (next tokens, next hidden)
	pruneExec   *graph.Exec   // (hidden, keep) -> hidden sliced to kept rows
}

// New creates a SentenceVAE on the given backend with freshly initialized
// parameters. It fails fast on an invalid configuration.
func New(backend backends.Backend, cfg Config) (*Model, error) {
	return NewWithContext(backend, context.New(), cfg)
}

// NewWithContext is like New but uses the given context for the model
// parameters -- use it to share the context with a train.Trainer or a
// checkpoints.Handler.
func NewWithContext(backend backends.Backend, ctx *context.Context, cfg Config) (*Model, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.WithMessage(err, "sentencevae.Config")
	}
	// The model parameters are shared by several executors (forward,
	// generation) and whichever runs first creates them, so duplicate
	// creation checking must be off.
	ctx = ctx.Checked(false)
	m := &Model{backend: backend, ctx: ctx, cfg: cfg}

	var err error
	m.forwardExec, err = context.NewExec(backend, ctx,
		func(ctx *context.Context, inputs []*graph.Node) []*graph.Node {
			ctx.SetTraining(inputs[0].Graph(), true)
			logProbs, mean, logVar, z := m.BuildGraph(ctx, inputs[0], inputs[1], inputs[2])
			return []*graph.Node{logProbs, mean, logVar, z}
		})
	if err != nil {
		return nil, errors.WithMessage(err, "building forward executor")
	}

	m.latentExec, err = context.NewExec(backend, ctx,
		func(ctx *context.Context, template *graph.Node) *graph.Node {
			n := template.Shape().Dim(0)
			return ctx.RandomNormal(template.Graph(), shapes.Make(cfg.DType, n, cfg.LatentSize))
		})
	if err != nil {
		return nil, errors.WithMessage(err, "building latent sampling executor")
	}

	m.initExec, err = context.NewExec(backend, ctx,
		func(ctx *context.Context, z *graph.Node) *graph.Node {
			return m.latentToHidden(ctx, z)
		})
	if err != nil {
		return nil, errors.WithMessage(err, "building generation init executor")
	}

	m.stepExec, err = context.NewExec(backend, ctx,
		func(ctx *context.Context, inputs []*graph.Node) []*graph.Node {
			next, hidden := m.generateStep(ctx, inputs[0], inputs[1])
			return []*graph.Node{next, hidden}
		})
	if err != nil {
		return nil, errors.WithMessage(err, "building generation step executor")
	}
	// The active batch shrinks as sequences finish, one compiled graph per
	// distinct size: don't evict them mid-generation.
	m.stepExec.SetMaxCache(-1)

	m.pruneExec, err = graph.NewExec(backend, func(hidden, keep *graph.Node) *graph.Node {
		// hidden: [factor, n, hiddenSize], keep: [k] row indices to retain.
		kept := graph.Gather(graph.Transpose(hidden, 0, 1), graph.ExpandDims(keep, -1))
		return graph.Transpose(kept, 0, 1)
	})
	if err != nil {
		return nil, errors.WithMessage(err, "building generation prune executor")
	}
	m.pruneExec.SetMaxCache(-1)

	return m, nil
}

// Backend returns the backend the model computes on.
func (m *Model) Backend() backends.Backend { return m.backend }

// Context holds the model's parameters.
func (m *Model) Context() *context.Context { return m.ctx }

// Config returns a copy of the model configuration (with defaults applied).
func (m *Model) Config() Config { return m.cfg }
