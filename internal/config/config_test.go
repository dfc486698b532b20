package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Generation.MaxNewTokens != 30 || cfg.Generation.NumBeams != 1 {
		t.Errorf("unexpected generation defaults %+v", cfg.Generation)
	}
	if !cfg.Generation.Deterministic() {
		t.Error("default generation must be greedy")
	}
	if cfg.Cache.TTL.Duration != 0 {
		t.Error("result cache must be disabled by default")
	}
	if cfg.Web.MaxUploadBytes != 20<<20 {
		t.Errorf("unexpected upload limit %d", cfg.Web.MaxUploadBytes)
	}
}

func TestLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{
  "backend": {"backend": "llamacpp", "model": "moondream2"},
  "generation": {"max_new_tokens": 40},
  "cache": {"ttl": "10m"},
  "load_timeout": "45s"
}`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if cfg.Backend.Backend != BackendLlamaCpp || cfg.Backend.URL != "http://localhost:8080" {
		t.Errorf("unexpected backend %+v", cfg.Backend)
	}
	if cfg.Generation.MaxNewTokens != 40 {
		t.Errorf("expected 40 tokens, got %d", cfg.Generation.MaxNewTokens)
	}
	if cfg.Generation.NumBeams != 1 {
		t.Error("missing values must keep defaults")
	}
	if cfg.Cache.TTL.Duration != 10*time.Minute || cfg.LoadTimeout.Duration != 45*time.Second {
		t.Errorf("unexpected durations %v %v", cfg.Cache.TTL, cfg.LoadTimeout)
	}
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
[backend]
backend = "kserve"
model = "blip-base"
vocab_path = "/models/blip/vocab.txt"

[web]
theme = "midnight"
preload = true
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if cfg.Backend.URL != "http://localhost:8000" {
		t.Errorf("expected kserve default URL, got %s", cfg.Backend.URL)
	}
	if !cfg.Preprocess.Tensor {
		t.Error("kserve must enable tensor preprocessing")
	}
	if cfg.Web.Theme != "midnight" || !cfg.Web.Preload {
		t.Errorf("unexpected web config %+v", cfg.Web)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("config should be valid: %v", err)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.json")
	os.WriteFile(path, []byte(`{"load_timeout": "soon"}`), 0644)
	if _, err := LoadFromFile(path); err == nil {
		t.Error("expected error for bad duration")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"nested/config.json", "config.toml"} {
		cfg := Default()
		cfg.Web.Theme = "midnight"
		cfg.Cache.TTL = Duration{5 * time.Minute}

		path := filepath.Join(dir, name)
		if err := cfg.SaveToFile(path); err != nil {
			t.Fatalf("SaveToFile(%s) failed: %v", name, err)
		}
		loaded, err := LoadFromFile(path)
		if err != nil {
			t.Fatalf("LoadFromFile(%s) failed: %v", name, err)
		}
		if loaded.Web.Theme != "midnight" || loaded.Cache.TTL.Duration != 5*time.Minute {
			t.Errorf("%s: round trip lost values: %+v %v", name, loaded.Web, loaded.Cache.TTL)
		}
		if loaded.Preprocess.Mean != cfg.Preprocess.Mean {
			t.Errorf("%s: mean changed: %v", name, loaded.Preprocess.Mean)
		}
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown backend":  func(c *Config) { c.Backend.Backend = "torch" },
		"gemini no key":    func(c *Config) { c.SetBackend(BackendGemini, "") },
		"kserve no vocab":  func(c *Config) { c.SetBackend(BackendKServe, "") },
		"ollama no model":  func(c *Config) { c.Backend.Model = "" },
		"negative tokens":  func(c *Config) { c.Generation.MaxNewTokens = -1 },
		"top_p too large":  func(c *Config) { c.Generation.TopP = 1.5 },
		"bad send format":  func(c *Config) { c.Preprocess.SendFormat = "gif" },
		"no formats":       func(c *Config) { c.Loader.SupportedFormats = nil },
		"zero upload size": func(c *Config) { c.Web.MaxUploadBytes = 0 },
		"unknown theme":    func(c *Config) { c.Web.Theme = "neon" },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}

	cfg := Default()
	cfg.SetBackend(BackendGemini, "")
	cfg.Backend.APIKey = "key"
	if err := cfg.Validate(); err != nil {
		t.Errorf("gemini with key should be valid: %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("CAPTIONER_BACKEND", "gemini")
	t.Setenv("CAPTIONER_MODEL", "gemini-1.5-pro")
	t.Setenv("CAPTIONER_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "from-gemini-env")
	t.Setenv("CAPTIONER_THEME", "midnight")
	t.Setenv("CAPTIONER_ADDR", "127.0.0.1:9000")

	cfg := Default()
	cfg.ApplyEnv()

	if cfg.Backend.Backend != BackendGemini || cfg.Backend.Model != "gemini-1.5-pro" {
		t.Errorf("unexpected backend %+v", cfg.Backend)
	}
	if cfg.Backend.URL != "" {
		t.Errorf("default URL must follow the backend, got %q", cfg.Backend.URL)
	}
	if cfg.Backend.APIKey != "from-gemini-env" {
		t.Errorf("expected GEMINI_API_KEY fallback, got %q", cfg.Backend.APIKey)
	}
	if cfg.Web.Theme != "midnight" || cfg.Web.Addr != "127.0.0.1:9000" {
		t.Errorf("unexpected web config %+v", cfg.Web)
	}

	t.Setenv("CAPTIONER_API_KEY", "explicit")
	if got := ResolveAPIKey(cfg); got != "explicit" {
		t.Errorf("CAPTIONER_API_KEY must win, got %q", got)
	}
}

func TestBackendFlagAfterEnvResolvesGeminiKey(t *testing.T) {
	t.Setenv("CAPTIONER_BACKEND", "")
	t.Setenv("CAPTIONER_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "secret")

	cfg := Default()
	cfg.ApplyEnv()
	if cfg.Backend.APIKey != "" {
		t.Errorf("ollama must not pick up GEMINI_API_KEY, got %q", cfg.Backend.APIKey)
	}

	cfg.SetBackend("gemini", "")
	if cfg.Backend.APIKey != "secret" {
		t.Errorf("expected GEMINI_API_KEY after switching backend, got %q", cfg.Backend.APIKey)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("gemini config with GEMINI_API_KEY should validate: %v", err)
	}
}

func TestCaptionConfig(t *testing.T) {
	cfg := Default()
	cfg.Cache.TTL = Duration{time.Minute}
	cfg.Backend.VocabPath = "/tmp/vocab.txt"

	cc := cfg.CaptionConfig()
	if cc.CacheTTL != time.Minute || cc.Generation.MaxNewTokens != 30 {
		t.Errorf("unexpected caption config %+v", cc)
	}
	hc := cfg.HandleConfig()
	if hc.VocabPath != "/tmp/vocab.txt" || hc.Preprocess.Size != 384 {
		t.Errorf("unexpected handle config %+v", hc)
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("CAPTIONER_CONFIG_DIR", "/etc/captioner")
	if got := GetConfigPath(); got != "/etc/captioner/config.json" {
		t.Errorf("unexpected path %s", got)
	}

	t.Setenv("CAPTIONER_CONFIG_DIR", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	if got := GetConfigPath(); !strings.HasPrefix(got, "/xdg/image-captioner") {
		t.Errorf("unexpected path %s", got)
	}
}
