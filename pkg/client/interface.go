package client

import (
	"context"

	"github.com/menta2k/image-captioner/pkg/types"
)

// Generator is a pretrained vision model reachable through some backend.
// Load resolves the model and must be called once before Generate.
// Implementations are safe for concurrent Generate calls after Load.
type Generator interface {
	Name() string
	Model() string
	Load(ctx context.Context) error
	Generate(ctx context.Context, in *types.ModelInputs, opts types.GenerationOptions) (*types.Generation, error)
}

// Config selects and configures a backend
type Config struct {
	Backend   string `json:"backend" toml:"backend"`
	URL       string `json:"url" toml:"url"`
	Model     string `json:"model" toml:"model"`
	APIKey    string `json:"api_key,omitempty" toml:"api_key"`
	VocabPath string `json:"vocab_path,omitempty" toml:"vocab_path"`
}
