// Package imagecaptioner generates natural-language captions for images.
//
// A Captioner decodes an image, normalizes it for a pretrained vision model,
// runs generation through a pluggable backend and returns clean prose. The
// model is loaded lazily on first use and shared by every later call.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"fmt"
//		"log"
//
//		imagecaptioner "github.com/menta2k/image-captioner"
//		"github.com/menta2k/image-captioner/pkg/client"
//	)
//
//	func main() {
//		c, err := imagecaptioner.FromBackend(client.Config{
//			Backend: "ollama",
//			URL:     "http://localhost:11434",
//			Model:   "llava",
//		})
//		if err != nil {
//			log.Fatal(err)
//		}
//		defer c.Close()
//
//		res := c.CaptionSource(context.Background(), "photo.jpg")
//		if res.Error != "" {
//			log.Fatal(res.Error)
//		}
//		fmt.Println(res.Caption)
//	}
//
// The package consists of these components:
//
// 1. Loader (pkg/loader): decodes JPEG, PNG and WebP from files, URLs and readers
// 2. Preprocess (pkg/preprocess): RGB normalization, resize, encode and pixel tensor
// 3. Caption (pkg/caption): the lazily loaded model handle and the caption pipeline
// 4. Backends (pkg/ollama, pkg/llamacpp, pkg/gemini, pkg/kserve): model access
// 5. Tokenizer (pkg/tokenizer): token id decoding and control token stripping
package imagecaptioner

import (
	"context"
	"fmt"
	"image"
	"io"
	"strings"

	"github.com/menta2k/image-captioner/pkg/caption"
	"github.com/menta2k/image-captioner/pkg/client"
	"github.com/menta2k/image-captioner/pkg/gemini"
	"github.com/menta2k/image-captioner/pkg/kserve"
	"github.com/menta2k/image-captioner/pkg/llamacpp"
	"github.com/menta2k/image-captioner/pkg/loader"
	"github.com/menta2k/image-captioner/pkg/ollama"
	"github.com/menta2k/image-captioner/pkg/preprocess"
	"github.com/menta2k/image-captioner/pkg/types"
)

// Version of the image captioner library
const Version = "1.0.0"

// NewGenerator creates the generator backend named by cfg.Backend
func NewGenerator(cfg client.Config) (client.Generator, error) {
	switch strings.ToLower(cfg.Backend) {
	case "ollama", "":
		return ollama.NewClient(cfg.URL, cfg.Model)
	case "llamacpp":
		return llamacpp.NewClient(cfg.URL, cfg.Model)
	case "gemini":
		return gemini.NewClient(cfg.APIKey, cfg.Model)
	case "kserve":
		return kserve.NewClient(cfg.URL, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// TokenBackend reports whether the backend returns token ids and so needs a
// vocabulary and the pixel tensor
func TokenBackend(name string) bool {
	return strings.EqualFold(name, "kserve")
}

// Captioner provides a high-level interface for image captioning
type Captioner struct {
	loader    *loader.Loader
	service   *caption.Service
	generator client.Generator
}

// New creates a Captioner around gen with default configuration
func New(gen client.Generator) *Captioner {
	return NewWithConfig(gen, caption.HandleConfig{Preprocess: preprocess.DefaultConfig()}, caption.DefaultConfig(), loader.DefaultConfig())
}

// NewWithConfig creates a Captioner with custom configuration
func NewWithConfig(gen client.Generator, handleConfig caption.HandleConfig, serviceConfig caption.Config, loaderConfig loader.Config) *Captioner {
	return &Captioner{
		loader:    loader.NewWithConfig(loaderConfig),
		service:   caption.NewService(caption.NewFactory(gen, handleConfig), serviceConfig),
		generator: gen,
	}
}

// FromBackend creates a Captioner for a backend with default pipeline settings
func FromBackend(cfg client.Config) (*Captioner, error) {
	gen, err := NewGenerator(cfg)
	if err != nil {
		return nil, err
	}
	hc := caption.HandleConfig{Preprocess: preprocess.DefaultConfig(), VocabPath: cfg.VocabPath}
	if TokenBackend(cfg.Backend) {
		hc.Preprocess.Tensor = true
	}
	return NewWithConfig(gen, hc, caption.DefaultConfig(), loader.DefaultConfig()), nil
}

// Service returns the underlying caption service
func (c *Captioner) Service() *caption.Service {
	return c.service
}

// Loader returns the image loader
func (c *Captioner) Loader() *loader.Loader {
	return c.loader
}

// Close releases the result cache and any backend connection
func (c *Captioner) Close() error {
	c.service.Close()
	if closer, ok := c.generator.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// EnsureModelLoaded loads the model if it is not loaded yet
func (c *Captioner) EnsureModelLoaded(ctx context.Context) error {
	_, err := c.service.EnsureModelLoaded(ctx)
	return err
}

// Caption generates a caption for a decoded image
func (c *Captioner) Caption(ctx context.Context, img image.Image) (string, error) {
	return c.service.Caption(ctx, img)
}

// CaptionReader decodes an image from r and captions it
func (c *Captioner) CaptionReader(ctx context.Context, r io.Reader) (types.CaptionResult, error) {
	img, format, err := c.loader.Decode(r)
	if err != nil {
		return types.CaptionResult{}, err
	}
	return c.captionDecoded(ctx, img, format)
}

// CaptionSource captions a file path or URL. Failures are reported in the
// result's Error field so batches can continue.
func (c *Captioner) CaptionSource(ctx context.Context, source string) types.CaptionResult {
	img, format, err := c.loader.LoadSmart(source)
	if err != nil {
		return types.CaptionResult{Source: source, Format: format, Error: err.Error()}
	}
	res, err := c.captionDecoded(ctx, img, format)
	res.Source = source
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

// CaptionSources captions each source in order
func (c *Captioner) CaptionSources(ctx context.Context, sources []string) []types.CaptionResult {
	results := make([]types.CaptionResult, 0, len(sources))
	for _, src := range sources {
		if ctx.Err() != nil {
			results = append(results, types.CaptionResult{Source: src, Error: ctx.Err().Error()})
			continue
		}
		results = append(results, c.CaptionSource(ctx, src))
	}
	return results
}

func (c *Captioner) captionDecoded(ctx context.Context, img image.Image, format string) (types.CaptionResult, error) {
	info := c.loader.Info(img)
	res := types.CaptionResult{Width: info.Width, Height: info.Height, Format: format}

	text, err := c.service.Caption(ctx, img)
	if err != nil {
		return res, err
	}
	res.Caption = text
	return res, nil
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
