package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/menta2k/image-captioner/internal/theme"
	"github.com/menta2k/image-captioner/pkg/caption"
	"github.com/menta2k/image-captioner/pkg/client"
	"github.com/menta2k/image-captioner/pkg/loader"
	"github.com/menta2k/image-captioner/pkg/preprocess"
	"github.com/menta2k/image-captioner/pkg/types"
)

// Config holds the application configuration
type Config struct {
	Backend     client.Config           `json:"backend" toml:"backend"`
	Generation  types.GenerationOptions `json:"generation" toml:"generation"`
	Preprocess  preprocess.Config       `json:"preprocess" toml:"preprocess"`
	Loader      loader.Config           `json:"loader" toml:"loader"`
	Cache       CacheConfig             `json:"cache" toml:"cache"`
	Web         WebConfig               `json:"web" toml:"web"`
	LoadTimeout Duration                `json:"load_timeout" toml:"load_timeout"`
}

// CacheConfig holds configuration for the caption result cache.
// A zero TTL disables the cache.
type CacheConfig struct {
	TTL      Duration `json:"ttl" toml:"ttl"`
	Capacity uint64   `json:"capacity" toml:"capacity"`
}

// WebConfig holds configuration for the web UI
type WebConfig struct {
	Addr           string `json:"addr" toml:"addr"`
	Theme          string `json:"theme" toml:"theme"`
	MaxUploadBytes int64  `json:"max_upload_bytes" toml:"max_upload_bytes"`
	Preload        bool   `json:"preload" toml:"preload"`
	AllowOrigin    string `json:"allow_origin,omitempty" toml:"allow_origin"`
}

// Duration is a time.Duration written as "90s" or "2m" in config files
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		d.Duration = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = v
	return nil
}

// Backend names
const (
	BackendOllama   = "ollama"
	BackendLlamaCpp = "llamacpp"
	BackendGemini   = "gemini"
	BackendKServe   = "kserve"
)

var defaultURLs = map[string]string{
	BackendOllama:   "http://localhost:11434",
	BackendLlamaCpp: "http://localhost:8080",
	BackendGemini:   "",
	BackendKServe:   "http://localhost:8000",
}

// Backends lists the supported generator backends
func Backends() []string {
	return []string{BackendOllama, BackendLlamaCpp, BackendGemini, BackendKServe}
}

// Default returns a configuration with default values
func Default() *Config {
	svc := caption.DefaultConfig()
	return &Config{
		Backend: client.Config{
			Backend: BackendOllama,
			URL:     defaultURLs[BackendOllama],
			Model:   "llava",
		},
		Generation: svc.Generation,
		Preprocess: preprocess.DefaultConfig(),
		Loader:     loader.DefaultConfig(),
		Cache: CacheConfig{
			Capacity: svc.CacheCapacity,
		},
		Web: WebConfig{
			Addr:           ":8501",
			Theme:          theme.Default,
			MaxUploadBytes: 20 << 20,
		},
		LoadTimeout: Duration{svc.LoadTimeout},
	}
}

// LoadFromFile loads configuration from a JSON or TOML file. Values missing
// from the file keep their defaults.
func LoadFromFile(filename string) (*Config, error) {
	config := Default()

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".toml":
		if _, err := toml.DecodeFile(filename, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	default:
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	config.Resolve()
	return config, nil
}

// SaveToFile saves configuration as JSON, or TOML when filename ends in .toml
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if strings.ToLower(filepath.Ext(filename)) == ".toml" {
		f, err := os.Create(filename)
		if err != nil {
			return fmt.Errorf("failed to write config file: %w", err)
		}
		defer f.Close()
		if err := toml.NewEncoder(f).Encode(c); err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		return nil
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnv overrides config values from the environment.
// Priority: $CAPTIONER_* env > config value.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("CAPTIONER_BACKEND"); v != "" {
		// a default URL follows the backend
		if c.Backend.URL == defaultURLs[c.Backend.Backend] {
			c.Backend.URL = ""
		}
		c.Backend.Backend = v
	}
	if v := os.Getenv("CAPTIONER_URL"); v != "" {
		c.Backend.URL = v
	}
	if v := os.Getenv("CAPTIONER_MODEL"); v != "" {
		c.Backend.Model = v
	}
	if v := os.Getenv("CAPTIONER_VOCAB_PATH"); v != "" {
		c.Backend.VocabPath = v
	}
	if v := os.Getenv("CAPTIONER_ADDR"); v != "" {
		c.Web.Addr = v
	}
	if v := os.Getenv("CAPTIONER_THEME"); v != "" {
		c.Web.Theme = v
	}
	c.Resolve()
}

// ResolveAPIKey returns the backend API key.
// Priority: $CAPTIONER_API_KEY env > config value > $GEMINI_API_KEY (gemini only).
func ResolveAPIKey(cfg *Config) string {
	if key := os.Getenv("CAPTIONER_API_KEY"); key != "" {
		return key
	}
	if cfg.Backend.APIKey != "" {
		return cfg.Backend.APIKey
	}
	if cfg.Backend.Backend == BackendGemini {
		return os.Getenv("GEMINI_API_KEY")
	}
	return ""
}

// Resolve fills in values that depend on the selected backend
func (c *Config) Resolve() {
	c.Backend.Backend = strings.ToLower(strings.TrimSpace(c.Backend.Backend))
	if c.Backend.URL == "" {
		c.Backend.URL = defaultURLs[c.Backend.Backend]
	}
	// the GEMINI_API_KEY fallback follows the backend
	c.Backend.APIKey = ResolveAPIKey(c)
	// token backends consume the normalized tensor, not encoded bytes
	if c.Backend.Backend == BackendKServe {
		c.Preprocess.Tensor = true
	}
}

// SetBackend switches backend and resets the URL to that backend's default
// unless url is given
func (c *Config) SetBackend(name, url string) {
	c.Backend.Backend = name
	c.Backend.URL = url
	c.Resolve()
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	b := c.Backend
	if _, ok := defaultURLs[b.Backend]; !ok {
		return fmt.Errorf("backend.backend must be one of %s, got %q", strings.Join(Backends(), ", "), b.Backend)
	}
	if b.Backend != BackendGemini && b.URL == "" {
		return fmt.Errorf("backend.url is required for %s", b.Backend)
	}
	if b.Backend == BackendGemini && b.APIKey == "" {
		return fmt.Errorf("backend.api_key (or GEMINI_API_KEY) is required for gemini")
	}
	if b.Backend == BackendKServe && b.VocabPath == "" {
		return fmt.Errorf("backend.vocab_path is required for kserve")
	}
	if (b.Backend == BackendOllama || b.Backend == BackendKServe) && b.Model == "" {
		return fmt.Errorf("backend.model is required for %s", b.Backend)
	}

	g := c.Generation
	if g.MaxNewTokens < 0 {
		return fmt.Errorf("generation.max_new_tokens must not be negative")
	}
	if g.NumBeams < 0 {
		return fmt.Errorf("generation.num_beams must not be negative")
	}
	if g.Temperature < 0 {
		return fmt.Errorf("generation.temperature must not be negative")
	}
	if g.TopP < 0 || g.TopP > 1 {
		return fmt.Errorf("generation.top_p must be between 0 and 1")
	}
	if g.TopK < 0 {
		return fmt.Errorf("generation.top_k must not be negative")
	}

	if err := c.Preprocess.Validate(); err != nil {
		return fmt.Errorf("preprocess: %w", err)
	}

	if len(c.Loader.SupportedFormats) == 0 {
		return fmt.Errorf("loader.supported_formats cannot be empty")
	}
	if c.Loader.MinImageSize < 1 {
		return fmt.Errorf("loader.min_image_size must be positive")
	}

	if c.Cache.TTL.Duration < 0 {
		return fmt.Errorf("cache.ttl must not be negative")
	}
	if c.LoadTimeout.Duration < 0 {
		return fmt.Errorf("load_timeout must not be negative")
	}

	if c.Web.MaxUploadBytes < 1 {
		return fmt.Errorf("web.max_upload_bytes must be positive")
	}
	if _, err := theme.Lookup(c.Web.Theme); err != nil {
		return fmt.Errorf("web.theme: %w", err)
	}

	return nil
}

// CaptionConfig returns the caption service settings
func (c *Config) CaptionConfig() caption.Config {
	return caption.Config{
		Generation:    c.Generation,
		LoadTimeout:   c.LoadTimeout.Duration,
		CacheTTL:      c.Cache.TTL.Duration,
		CacheCapacity: c.Cache.Capacity,
	}
}

// HandleConfig returns the model handle construction settings
func (c *Config) HandleConfig() caption.HandleConfig {
	return caption.HandleConfig{
		Preprocess: c.Preprocess,
		VocabPath:  c.Backend.VocabPath,
	}
}

// ConfigDir returns the config directory path.
// Resolution order: $CAPTIONER_CONFIG_DIR > $XDG_CONFIG_HOME/image-captioner > ~/.config/image-captioner
func ConfigDir() string {
	if dir := os.Getenv("CAPTIONER_CONFIG_DIR"); dir != "" {
		return dir
	}
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, "image-captioner")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "image-captioner")
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}
