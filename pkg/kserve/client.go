// Package kserve talks to encoder/decoder captioning models served over the
// KServe v2 (Open Inference Protocol) HTTP API, as exposed by Triton, KServe
// and MLServer. The model receives a normalized pixel tensor and returns the
// generated token ids.
package kserve

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/menta2k/image-captioner/pkg/types"
)

const (
	InputName  = "pixel_values"
	OutputName = "sequences"
)

// Tensor is one named input or output of an inference request
type Tensor struct {
	Name     string          `json:"name"`
	Shape    []int64         `json:"shape,omitempty"`
	Datatype string          `json:"datatype,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

type requestedOutput struct {
	Name string `json:"name"`
}

// InferRequest is the v2 inference request body
type InferRequest struct {
	ID         string            `json:"id,omitempty"`
	Inputs     []Tensor          `json:"inputs"`
	Outputs    []requestedOutput `json:"outputs,omitempty"`
	Parameters map[string]any    `json:"parameters,omitempty"`
}

// InferResponse is the v2 inference response body
type InferResponse struct {
	ModelName    string   `json:"model_name"`
	ModelVersion string   `json:"model_version,omitempty"`
	ID           string   `json:"id,omitempty"`
	Outputs      []Tensor `json:"outputs"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

func NewClient(serverURL, model string) (*Client, error) {
	if serverURL == "" {
		serverURL = "http://localhost:8000"
	}
	if model == "" {
		return nil, fmt.Errorf("model name is required")
	}
	if _, err := url.Parse(serverURL); err != nil {
		return nil, fmt.Errorf("invalid URL: %v", err)
	}
	return &Client{
		baseURL: strings.TrimSuffix(serverURL, "/"),
		model:   model,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}, nil
}

func (c *Client) Name() string  { return "kserve" }
func (c *Client) Model() string { return c.model }

// Load asks the server once whether the model is ready
func (c *Client) Load(ctx context.Context) error {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.modelURL("ready"), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %v", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("readiness check failed: %v", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("model %s not ready: HTTP %d", c.model, resp.StatusCode)
	}
	return nil
}

// Generate sends the pixel tensor and returns the generated token ids
func (c *Client) Generate(ctx context.Context, in *types.ModelInputs, opts types.GenerationOptions) (*types.Generation, error) {
	if in == nil || len(in.PixelValues) == 0 {
		return nil, fmt.Errorf("no pixel values; enable tensor preprocessing for the kserve backend")
	}
	want := 3 * in.TensorWidth * in.TensorHeight
	if len(in.PixelValues) != want {
		return nil, fmt.Errorf("pixel tensor has %d values, shape %v needs %d", len(in.PixelValues), in.TensorShape(), want)
	}
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()

	data, err := json.Marshal(in.PixelValues)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tensor: %v", err)
	}

	reqBody := InferRequest{
		ID: in.Digest,
		Inputs: []Tensor{{
			Name:     InputName,
			Shape:    in.TensorShape(),
			Datatype: "FP32",
			Data:     data,
		}},
		Outputs:    []requestedOutput{{Name: OutputName}},
		Parameters: parameters(opts),
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.modelURL("infer"), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		var e errorResponse
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, e.Error)
		}
		return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	var out InferResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to parse response: %v", err)
	}

	ids, err := tokenIDs(out)
	if err != nil {
		return nil, err
	}
	return &types.Generation{
		TokenIDs: ids,
		Backend:  c.Name(),
		Model:    c.model,
	}, nil
}

func (c *Client) modelURL(action string) string {
	return c.baseURL + "/v2/models/" + url.PathEscape(c.model) + "/" + action
}

// parameters forwards generation options as request parameters. Unset
// values are omitted so the model's own generation config applies.
func parameters(opts types.GenerationOptions) map[string]any {
	p := map[string]any{}
	if opts.MaxNewTokens > 0 {
		p["max_new_tokens"] = opts.MaxNewTokens
	}
	if opts.NumBeams > 0 {
		p["num_beams"] = opts.NumBeams
	}
	if opts.Temperature > 0 {
		p["do_sample"] = true
		p["temperature"] = opts.Temperature
		if opts.TopP > 0 {
			p["top_p"] = opts.TopP
		}
		if opts.TopK > 0 {
			p["top_k"] = opts.TopK
		}
	}
	if opts.Seed != 0 {
		p["seed"] = opts.Seed
	}
	if len(p) == 0 {
		return nil
	}
	return p
}

// tokenIDs extracts the first generated sequence
func tokenIDs(out InferResponse) ([]int, error) {
	var t *Tensor
	for i := range out.Outputs {
		if out.Outputs[i].Name == OutputName {
			t = &out.Outputs[i]
			break
		}
	}
	if t == nil && len(out.Outputs) == 1 {
		t = &out.Outputs[0]
	}
	if t == nil {
		return nil, fmt.Errorf("response has no %q output", OutputName)
	}
	switch strings.ToUpper(t.Datatype) {
	case "INT64", "INT32", "UINT32", "UINT64", "":
	default:
		return nil, fmt.Errorf("output %q has datatype %s, want integer ids", t.Name, t.Datatype)
	}

	var ids []int
	if err := json.Unmarshal(t.Data, &ids); err != nil {
		// Some servers nest data by shape
		var nested [][]int
		if err2 := json.Unmarshal(t.Data, &nested); err2 != nil {
			return nil, fmt.Errorf("failed to parse token ids: %v", err)
		}
		if len(nested) > 0 {
			ids = nested[0]
		}
	}

	// keep the first row of a flattened batch
	if len(t.Shape) == 2 && t.Shape[0] > 1 && int64(len(ids)) == t.Shape[0]*t.Shape[1] {
		ids = ids[:t.Shape[1]]
	}
	return ids, nil
}

func withDefaultTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 300*time.Second)
}
