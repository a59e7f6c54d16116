// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Trains a SentenceVAE on a synthetic random-walk corpus and prints a few
// sequences decoded from the prior, including a latent interpolation between
// the first and last sample.
package main

import (
	"flag"
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	_ "github.com/gomlx/gomlx/backends/default"
	"github.com/gomlx/sentencevae"
	"github.com/gomlx/sentencevae/rnn"
)

var (
	flagVerbosity  = flag.Int("verbosity", 1, "Level of verbosity, the higher the more verbose.")
	flagCheckpoint = flag.String("checkpoint", "", "Directory to save and load checkpoints from. If left empty, no checkpoints are created.")
	flagSamples    = flag.Int("samples", 8, "Number of sequences to decode from the prior after training.")

	flagVocabSize     = flag.Int("vocab", 512, "Vocabulary size, including the 4 special tokens.")
	flagEmbeddingSize = flag.Int("embedding", 64, "Token embedding dimension.")
	flagHiddenSize    = flag.Int("hidden", 128, "Recurrent hidden state size per direction.")
	flagLatentSize    = flag.Int("latent", 16, "Latent space dimension.")
	flagMaxLen        = flag.Int("max_len", 32, "Maximum sequence length, for training and generation.")
	flagCell          = flag.String("cell", "gru", "Recurrent cell type: \"rnn\" or \"gru\".")
	flagNumLayers     = flag.Int("layers", 1, "Number of stacked recurrent layers.")
	flagBidirectional = flag.Bool("bidirectional", false, "Use bidirectional recurrent networks.")
	flagWordDropout   = flag.Float64("word_dropout", 0.3, "Probability of replacing a decoder input token with <unk> during training.")
	flagEmbedDropout  = flag.Float64("embedding_dropout", 0.5, "Dropout rate on decoder input embeddings.")
	flagStrategy      = flag.String("strategy", "greedy", "Sampling strategy for generation: greedy, temperature, top_k or top_p.")
	flagTemperature   = flag.Float64("temperature", 1.0, "Sampling temperature.")
)

func main() {
	ctx := sentencevae.CreateDefaultContext()
	settings := commandline.CreateContextSettingsFlag(ctx, "")
	klog.InitFlags(nil)
	flag.Parse()
	must.M1(commandline.ParseContextSettings(ctx, *settings))

	err := exceptions.TryCatch[error](func() { run(ctx) })
	if err != nil {
		klog.Fatalf("Failed with error: %+v", err)
	}
}

func run(ctx *context.Context) {
	backend := must.M1(backends.New())
	if *flagVerbosity >= 1 {
		fmt.Printf("Backend %q:\t%s\n", backend.Name(), backend.Description())
	}

	cfg := sentencevae.Config{
		VocabSize:         *flagVocabSize,
		EmbeddingSize:     *flagEmbeddingSize,
		Cell:              must.M1(rnn.ParseCellType(*flagCell)),
		HiddenSize:        *flagHiddenSize,
		NumLayers:         *flagNumLayers,
		Bidirectional:     *flagBidirectional,
		LatentSize:        *flagLatentSize,
		MaxSequenceLength: *flagMaxLen,
		WordDropout:       *flagWordDropout,
		EmbeddingDropout:  *flagEmbedDropout,
		SosID:             0,
		EosID:             1,
		PadID:             2,
		UnkID:             3,
		Strategy:          *flagStrategy,
		Temperature:       *flagTemperature,
	}

	batchSize := context.GetParamOr(ctx, sentencevae.ParamBatchSize, 32)
	ds := sentencevae.NewSyntheticDataset(cfg, batchSize, 42).
		WithAnnealing(
			context.GetParamOr(ctx, sentencevae.ParamKLAnneal, "logistic"),
			context.GetParamOr(ctx, sentencevae.ParamKLAnnealK, 0.0025),
			context.GetParamOr(ctx, sentencevae.ParamKLAnnealX0, 1000.0))

	m := must.M1(sentencevae.TrainModel(backend, ctx, cfg, ds, *flagCheckpoint, *flagVerbosity))

	result := must.M1(m.Generate(*flagSamples))
	fmt.Println("\nSamples from the prior:")
	for i, seq := range result.Sequences {
		fmt.Printf("  #%d: %v\n", i, seq)
	}

	printInterpolation(m, result)
}

// printInterpolation decodes the latent path between the first and last
// sampled latent vectors.
func printInterpolation(m *sentencevae.Model, result *sentencevae.GenerationResult) {
	zRows := result.Z.Value().([][]float32)
	if len(zRows) < 2 {
		return
	}
	path := must.M1(sentencevae.Interpolate(zRows[0], zRows[len(zRows)-1], 6))
	interpolated := must.M1(m.GenerateFromLatent(tensors.FromValue(path)))
	fmt.Println("\nInterpolation between first and last sample:")
	for i, seq := range interpolated.Sequences {
		fmt.Printf("  %d/6: %v\n", i+1, seq)
	}
}
