package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	imagecaptioner "github.com/menta2k/image-captioner"
	"github.com/menta2k/image-captioner/internal/config"
	"github.com/menta2k/image-captioner/internal/theme"
	"github.com/menta2k/image-captioner/internal/utils"
	"github.com/menta2k/image-captioner/internal/web"
)

// Version is set at build time via -ldflags.
var Version = imagecaptioner.Version

type commonFlags struct {
	configPath string
	backend    string
	url        string
	model      string
	vocab      string
	verbose    bool
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "config file (.json or .toml); default "+config.GetConfigPath()+" if present")
	fs.StringVar(&c.backend, "backend", "", "backend to use: "+strings.Join(config.Backends(), "|"))
	fs.StringVar(&c.url, "url", "", "backend server URL (default depends on backend)")
	fs.StringVar(&c.model, "model", "", "model name")
	fs.StringVar(&c.vocab, "vocab", "", "vocab.txt for token backends")
	fs.BoolVar(&c.verbose, "verbose", false, "debug logging")
}

func usage() {
	name := filepath.Base(os.Args[0])
	fmt.Fprintf(os.Stderr, `usage:
  %[1]s serve   [-addr :8501] [-theme pastel|midnight] [-preload] [common flags]
  %[1]s caption -in file|dir|URL [-in ...] [-json] [common flags]
  %[1]s version

common flags: -config -backend -url -model -vocab -verbose
`, name)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(os.Args[2:])
	case "caption":
		err = runCaption(os.Args[2:])
	case "version", "-version", "--version":
		fmt.Println("image-captioner", Version)
	case "-h", "-help", "--help", "help":
		usage()
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// loadConfig resolves file, then environment, then flags
func loadConfig(c commonFlags) (*config.Config, error) {
	path := c.configPath
	explicit := path != ""
	if !explicit {
		path = config.GetConfigPath()
	}

	cfg := config.Default()
	if explicit || utils.FileExists(path) {
		loaded, err := config.LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
		slog.Debug("config loaded", "path", path)
	}
	cfg.ApplyEnv()

	if c.backend != "" {
		cfg.SetBackend(c.backend, c.url)
	} else if c.url != "" {
		cfg.Backend.URL = c.url
	}
	if c.model != "" {
		cfg.Backend.Model = c.model
	}
	if c.vocab != "" {
		cfg.Backend.VocabPath = c.vocab
	}
	cfg.Resolve()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newCaptioner(cfg *config.Config) (*imagecaptioner.Captioner, error) {
	gen, err := imagecaptioner.NewGenerator(cfg.Backend)
	if err != nil {
		return nil, err
	}
	return imagecaptioner.NewWithConfig(gen, cfg.HandleConfig(), cfg.CaptionConfig(), cfg.Loader), nil
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	addr := fs.String("addr", "", "listen address")
	themeName := fs.String("theme", "", "page theme: "+strings.Join(theme.Names(), "|"))
	preload := fs.Bool("preload", false, "load the model at startup")
	fs.Parse(args)

	setupLogging(common.verbose)

	cfg, err := loadConfig(common)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Web.Addr = *addr
	}
	if *themeName != "" {
		cfg.Web.Theme = *themeName
	}
	if *preload {
		cfg.Web.Preload = true
	}

	th, err := theme.Lookup(cfg.Web.Theme)
	if err != nil {
		return err
	}

	c, err := newCaptioner(cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	srv, err := web.New(c.Service(), c.Loader(), web.Options{
		Theme:          th,
		MaxUploadBytes: cfg.Web.MaxUploadBytes,
		AllowOrigin:    cfg.Web.AllowOrigin,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Web.Preload {
		srv.Preload(ctx)
	}

	httpServer := &http.Server{
		Addr:              cfg.Web.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening",
			"addr", cfg.Web.Addr,
			"backend", cfg.Backend.Backend,
			"model", cfg.Backend.Model,
			"theme", th.Name,
		)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

type multiFlag []string

func (m *multiFlag) String() string     { return strings.Join(*m, ",") }
func (m *multiFlag) Set(v string) error { *m = append(*m, v); return nil }

func runCaption(args []string) error {
	fs := flag.NewFlagSet("caption", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	var inputs multiFlag
	fs.Var(&inputs, "in", "input image path, directory or URL (repeatable)")
	asJSON := fs.Bool("json", false, "print results as JSON")
	fs.Parse(args)
	inputs = append(inputs, fs.Args()...)

	setupLogging(common.verbose)

	if len(inputs) == 0 {
		usage()
		return errors.New("no input given")
	}

	cfg, err := loadConfig(common)
	if err != nil {
		return err
	}

	sources, err := utils.CollectSources(inputs)
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		return errors.New("no images found")
	}

	c, err := newCaptioner(cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := c.EnsureModelLoaded(ctx); err != nil {
		return err
	}

	start := time.Now()
	results := c.CaptionSources(ctx, sources)

	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
		}
	}
	slog.Debug("captioned", "images", len(results), "failed", failed, "elapsed", time.Since(start))

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return err
		}
	} else {
		for _, r := range results {
			if r.Error != "" {
				fmt.Printf("%s\tERROR: %s\n", r.Source, r.Error)
				continue
			}
			fmt.Printf("%s\t%s\n", r.Source, r.Caption)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d images failed", failed, len(results))
	}
	return nil
}
