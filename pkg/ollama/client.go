package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/menta2k/image-captioner/pkg/types"
)

const defaultTimeout = 300 * time.Second

// Client wraps the Ollama API client
type Client struct {
	client *api.Client
	model  string
}

// NewClient creates a new Ollama client
func NewClient(ollamaURL, model string) (*Client, error) {
	// Parse the provided URL
	parsedURL, err := url.Parse(ollamaURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %v", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid URL: %q", ollamaURL)
	}

	// Create base URL from the provided URL (removing path like /api/chat)
	baseURL := &url.URL{
		Scheme: parsedURL.Scheme,
		Host:   parsedURL.Host,
	}

	// Create client with the specified URL, ignoring environment
	client := api.NewClient(baseURL, http.DefaultClient)

	return &Client{client: client, model: model}, nil
}

// Name returns the backend name
func (c *Client) Name() string { return "ollama" }

// Model returns the model tag
func (c *Client) Model() string { return c.model }

// Load verifies the model is present on the server
func (c *Client) Load(ctx context.Context) error {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()

	resp, err := c.client.Show(ctx, &api.ShowRequest{Model: c.model})
	if err != nil {
		return fmt.Errorf("ollama show error: %v", err)
	}
	if resp == nil {
		return fmt.Errorf("ollama show returned nothing for %s", c.model)
	}
	return nil
}

// Generate asks the model to caption the prepared image
func (c *Client) Generate(ctx context.Context, in *types.ModelInputs, opts types.GenerationOptions) (*types.Generation, error) {
	if in == nil || len(in.Encoded) == 0 {
		return nil, fmt.Errorf("no encoded image")
	}
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()

	streamFalse := false
	req := &api.ChatRequest{
		Model: c.model,
		Messages: []api.Message{
			{
				Role:    "user",
				Content: opts.Prompt,
				Images:  []api.ImageData{api.ImageData(in.Encoded)},
			},
		},
		Stream:  &streamFalse,
		Options: chatOptions(opts),
		// No Format field - let it return natural language
	}

	var responseContent string
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		responseContent += resp.Message.Content
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat error: %v", err)
	}

	return &types.Generation{
		Text:    responseContent,
		Backend: c.Name(),
		Model:   c.model,
	}, nil
}

// chatOptions maps generation options onto Ollama runner options
func chatOptions(opts types.GenerationOptions) map[string]any {
	options := map[string]any{
		"temperature": opts.Temperature,
	}
	if opts.MaxNewTokens > 0 {
		options["num_predict"] = opts.MaxNewTokens
	}
	if opts.TopP > 0 {
		options["top_p"] = opts.TopP
	}
	if opts.TopK > 0 {
		options["top_k"] = opts.TopK
	}
	if opts.Seed != 0 {
		options["seed"] = opts.Seed
	}
	return options
}

// withDefaultTimeout adds a timeout if the context doesn't have one
func withDefaultTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, defaultTimeout)
}
