package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/menta2k/image-captioner/pkg/types"
)

// Client captions images with a Gemini vision model
type Client struct {
	apiKey string
	model  string

	mu     sync.RWMutex
	client *genai.Client
}

// NewClient creates a Gemini client. No network traffic happens until Load.
func NewClient(apiKey, model string) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY is empty")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = "gemini-1.5-flash"
	}
	return &Client{apiKey: apiKey, model: model}, nil
}

func (c *Client) Name() string  { return "gemini" }
func (c *Client) Model() string { return c.model }

// Load opens the API client and fetches model metadata to prove the model
// exists and the key is accepted
func (c *Client) Load(ctx context.Context) error {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()

	cl, err := genai.NewClient(ctx, option.WithAPIKey(c.apiKey))
	if err != nil {
		return fmt.Errorf("gemini client: %w", err)
	}

	info, err := cl.GenerativeModel(c.model).Info(ctx)
	if err != nil {
		cl.Close()
		return fmt.Errorf("gemini model info: %w", err)
	}
	if info == nil {
		cl.Close()
		return fmt.Errorf("gemini: no info for model %s", c.model)
	}

	c.mu.Lock()
	if c.client != nil {
		c.client.Close()
	}
	c.client = cl
	c.mu.Unlock()
	return nil
}

// Close releases the underlying connection
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}

// Generate captions the prepared image
func (c *Client) Generate(ctx context.Context, in *types.ModelInputs, opts types.GenerationOptions) (*types.Generation, error) {
	if in == nil || len(in.Encoded) == 0 {
		return nil, fmt.Errorf("no encoded image")
	}

	c.mu.RLock()
	cl := c.client
	c.mu.RUnlock()
	if cl == nil {
		return nil, fmt.Errorf("gemini: model not loaded")
	}

	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()

	m := cl.GenerativeModel(c.model)
	applyOptions(&m.GenerationConfig, opts)

	parts := []genai.Part{
		genai.Text(opts.Prompt),
		genai.ImageData(imageFormat(in.MIMEType), in.Encoded),
	}
	resp, err := m.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}

	return &types.Generation{
		Text:    firstText(resp),
		Backend: c.Name(),
		Model:   c.model,
	}, nil
}

// applyOptions maps generation options onto the Gemini generation config.
// Unset options keep the model default.
func applyOptions(cfg *genai.GenerationConfig, opts types.GenerationOptions) {
	cfg.SetTemperature(float32(opts.Temperature))
	cfg.SetCandidateCount(1)
	if opts.MaxNewTokens > 0 {
		cfg.SetMaxOutputTokens(int32(opts.MaxNewTokens))
	}
	if opts.TopP > 0 {
		cfg.SetTopP(float32(opts.TopP))
	}
	if opts.TopK > 0 {
		cfg.SetTopK(int32(opts.TopK))
	}
}

// imageFormat turns a MIME type into the short format genai.ImageData wants
func imageFormat(mime string) string {
	if f, ok := strings.CutPrefix(mime, "image/"); ok && f != "" {
		return f
	}
	return "jpeg"
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		var b strings.Builder
		for _, p := range cand.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				b.WriteString(string(t))
			}
		}
		if b.Len() > 0 {
			return b.String()
		}
	}
	return ""
}

func withDefaultTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 300*time.Second)
}
