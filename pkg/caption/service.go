// Package caption turns images into descriptive sentences.
//
// The Service owns a single process-wide Handle (preprocessor, generator and
// token decoder). The handle is built lazily on first use, exactly once even
// under concurrent first access, and shared read-only afterwards.
package caption

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"

	"github.com/menta2k/image-captioner/pkg/client"
	"github.com/menta2k/image-captioner/pkg/preprocess"
	"github.com/menta2k/image-captioner/pkg/tokenizer"
	"github.com/menta2k/image-captioner/pkg/types"
)

// Handle is the constructed model: everything needed to go from an image to
// a caption. It is never mutated after construction.
type Handle struct {
	Preprocessor *preprocess.Processor
	Generator    client.Generator
	Decoder      *tokenizer.Decoder
	LoadedAt     time.Time
}

// Factory builds a Handle. It is invoked at most once per successful load.
type Factory func(ctx context.Context) (*Handle, error)

// Config holds Service settings
type Config struct {
	Generation    types.GenerationOptions
	LoadTimeout   time.Duration
	CacheTTL      time.Duration
	CacheCapacity uint64
}

// DefaultConfig returns greedy, bounded generation with no result cache
func DefaultConfig() Config {
	return Config{
		Generation: types.GenerationOptions{
			Prompt:       DefaultPrompt,
			MaxNewTokens: 30,
			NumBeams:     1,
		},
		LoadTimeout:   2 * time.Minute,
		CacheCapacity: 256,
	}
}

// DefaultPrompt asks chat-style vision models for a caption
const DefaultPrompt = `Write a short one-sentence caption for this image. Reply with the caption only.`

const loadKey = "handle"

// Service is the caption pipeline
type Service struct {
	build  Factory
	config Config
	logger *slog.Logger

	mu     sync.RWMutex
	handle *Handle
	group  singleflight.Group

	cache *ttlcache.Cache[string, string]
}

// NewService creates a service that builds its handle with build on first use
func NewService(build Factory, config Config) *Service {
	s := &Service{
		build:  build,
		config: config,
		logger: slog.Default().With("component", "caption"),
	}
	if config.CacheTTL > 0 {
		opts := []ttlcache.Option[string, string]{
			ttlcache.WithTTL[string, string](config.CacheTTL),
			ttlcache.WithDisableTouchOnHit[string, string](),
		}
		if config.CacheCapacity > 0 {
			opts = append(opts, ttlcache.WithCapacity[string, string](config.CacheCapacity))
		}
		s.cache = ttlcache.New[string, string](opts...)
		go s.cache.Start()
	}
	return s
}

// Close stops the result cache expiration loop
func (s *Service) Close() {
	if s.cache != nil {
		s.cache.Stop()
	}
}

// Loaded reports whether the handle has been constructed
func (s *Service) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handle != nil
}

// EnsureModelLoaded returns the shared handle, constructing it on the first
// call. Concurrent first callers wait on a single construction. A failed
// construction is reported as ErrModelUnavailable and is not cached, so the
// next call tries again.
func (s *Service) EnsureModelLoaded(ctx context.Context) (*Handle, error) {
	s.mu.RLock()
	h := s.handle
	s.mu.RUnlock()
	if h != nil {
		return h, nil
	}

	ch := s.group.DoChan(loadKey, func() (any, error) {
		s.mu.RLock()
		h := s.handle
		s.mu.RUnlock()
		if h != nil {
			return h, nil
		}

		// Detached from the first caller so its cancellation does not fail
		// every other waiter.
		loadCtx := context.WithoutCancel(ctx)
		if s.config.LoadTimeout > 0 {
			var cancel context.CancelFunc
			loadCtx, cancel = context.WithTimeout(loadCtx, s.config.LoadTimeout)
			defer cancel()
		}

		start := time.Now()
		h, err := s.build(loadCtx)
		if err != nil {
			s.logger.Error("model load failed", "error", err, "elapsed", time.Since(start))
			return nil, err
		}
		if h == nil {
			return nil, fmt.Errorf("factory returned no handle")
		}

		s.mu.Lock()
		s.handle = h
		s.mu.Unlock()

		attrs := []any{"elapsed", time.Since(start)}
		if h.Generator != nil {
			attrs = append(attrs, "backend", h.Generator.Name(), "model", h.Generator.Model())
		}
		s.logger.Info("model loaded", attrs...)
		return h, nil
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, res.Err)
		}
		return res.Val.(*Handle), nil
	}
}

// Caption generates a caption for img
func (s *Service) Caption(ctx context.Context, img image.Image) (string, error) {
	if preprocess.IsNil(img) {
		return "", fmt.Errorf("%w: no image", ErrInvalidImage)
	}

	h, err := s.EnsureModelLoaded(ctx)
	if err != nil {
		return "", err
	}

	in, err := h.Preprocessor.Prepare(img)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	opts := s.config.Generation
	key := cacheKey(h, in, opts)
	cacheable := s.cache != nil && opts.Deterministic()
	if cacheable {
		if item := s.cache.Get(key); item != nil {
			s.logger.Debug("caption cache hit", "digest", in.Digest)
			return item.Value(), nil
		}
	}

	start := time.Now()
	gen, err := h.Generator.Generate(ctx, in, opts)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInferenceError, err)
	}

	text, err := decode(h.Decoder, gen)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInferenceError, err)
	}

	s.logger.Debug("caption generated",
		"backend", gen.Backend,
		"model", gen.Model,
		"tokens", len(gen.TokenIDs),
		"elapsed", time.Since(start),
	)

	if cacheable {
		s.cache.Set(key, text, ttlcache.DefaultTTL)
	}
	return text, nil
}

func decode(d *tokenizer.Decoder, gen *types.Generation) (string, error) {
	if gen == nil {
		return "", fmt.Errorf("generator returned no output")
	}
	if d == nil {
		d = tokenizer.New(nil, nil)
	}
	if len(gen.TokenIDs) > 0 {
		return d.Decode(gen.TokenIDs, true)
	}
	return d.StripSpecial(gen.Text), nil
}

func cacheKey(h *Handle, in *types.ModelInputs, opts types.GenerationOptions) string {
	model := ""
	if h.Generator != nil {
		model = h.Generator.Name() + "/" + h.Generator.Model()
	}
	return fmt.Sprintf("%s|%s|%+v", model, in.Digest, opts)
}
