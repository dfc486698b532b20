package caption

import (
	"context"
	"fmt"
	"time"

	"github.com/menta2k/image-captioner/pkg/client"
	"github.com/menta2k/image-captioner/pkg/preprocess"
	"github.com/menta2k/image-captioner/pkg/tokenizer"
)

// HandleConfig describes how to construct a Handle
type HandleConfig struct {
	Preprocess preprocess.Config
	// VocabPath points to a vocab.txt. Required for backends that return
	// token ids, ignored otherwise.
	VocabPath string
	// SpecialTokens overrides tokenizer.DefaultSpecialTokens when non-nil.
	SpecialTokens []string
}

// NewFactory returns a Factory that builds the preprocessor, loads the
// model through gen and reads the vocabulary
func NewFactory(gen client.Generator, cfg HandleConfig) Factory {
	return func(ctx context.Context) (*Handle, error) {
		if gen == nil {
			return nil, fmt.Errorf("no generator configured")
		}

		proc, err := preprocess.NewWithConfig(cfg.Preprocess)
		if err != nil {
			return nil, err
		}

		var vocab []string
		if cfg.VocabPath != "" {
			vocab, err = tokenizer.LoadVocab(cfg.VocabPath)
			if err != nil {
				return nil, err
			}
		}

		if err := gen.Load(ctx); err != nil {
			return nil, fmt.Errorf("%s: failed to load model %q: %w", gen.Name(), gen.Model(), err)
		}

		return &Handle{
			Preprocessor: proc,
			Generator:    gen,
			Decoder:      tokenizer.New(vocab, cfg.SpecialTokens),
			LoadedAt:     time.Now(),
		}, nil
	}
}
