package llamacpp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/menta2k/image-captioner/pkg/types"
)

func newTestServer(t *testing.T, captured *ChatCompletionRequest, reply string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"object":"list","data":[{"id":"/models/moondream2.gguf"}]}`))
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected JSON content type, got %q", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(captured); err != nil {
			t.Errorf("bad body: %v", err)
		}
		w.Write([]byte(reply))
	})
	return httptest.NewServer(mux)
}

func TestLoad(t *testing.T) {
	var captured ChatCompletionRequest
	srv := newTestServer(t, &captured, "")
	defer srv.Close()

	c, _ := NewClient(srv.URL+"/", "moondream2.gguf")
	if err := c.Load(context.Background()); err != nil {
		t.Errorf("Load failed: %v", err)
	}

	other, _ := NewClient(srv.URL, "llava-1.6")
	if err := other.Load(context.Background()); err == nil {
		t.Error("expected error for model that is not served")
	}

	down, _ := NewClient("http://127.0.0.1:1", "x")
	if err := down.Load(context.Background()); err == nil {
		t.Error("expected error for unreachable server")
	}
}

func TestGenerateStringContent(t *testing.T) {
	var captured ChatCompletionRequest
	reply := `{"choices":[{"index":0,"message":{"role":"assistant","content":"a dog on the grass</s>"}}]}`
	srv := newTestServer(t, &captured, reply)
	defer srv.Close()

	c, _ := NewClient(srv.URL, "moondream2.gguf")
	in := &types.ModelInputs{Encoded: []byte("png-bytes"), MIMEType: "image/png"}
	gen, err := c.Generate(context.Background(), in, types.GenerationOptions{Prompt: "Caption.", MaxNewTokens: 25, Seed: 3})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if gen.Text != "a dog on the grass</s>" {
		t.Errorf("unexpected text %q", gen.Text)
	}

	if captured.MaxTokens != 25 {
		t.Errorf("expected max_tokens 25, got %d", captured.MaxTokens)
	}
	if captured.Seed == nil || *captured.Seed != 3 {
		t.Errorf("expected seed 3, got %v", captured.Seed)
	}
	parts, ok := captured.Messages[0].Content.([]interface{})
	if !ok || len(parts) != 2 {
		t.Fatalf("expected two content parts, got %#v", captured.Messages[0].Content)
	}
	imgPart := parts[1].(map[string]interface{})
	url := imgPart["image_url"].(map[string]interface{})["url"].(string)
	if !strings.HasPrefix(url, "data:image/png;base64,") {
		t.Errorf("unexpected data URL prefix: %s", url[:30])
	}
}

func TestGenerateArrayContent(t *testing.T) {
	var captured ChatCompletionRequest
	reply := `{"choices":[{"message":{"role":"assistant","content":[{"type":"text","text":"two cats"}]}}]}`
	srv := newTestServer(t, &captured, reply)
	defer srv.Close()

	c, _ := NewClient(srv.URL, "")
	gen, err := c.Generate(context.Background(), &types.ModelInputs{Encoded: []byte{1}}, types.GenerationOptions{})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if gen.Text != "two cats" {
		t.Errorf("unexpected text %q", gen.Text)
	}
}

func TestGenerateErrors(t *testing.T) {
	var captured ChatCompletionRequest
	srv := newTestServer(t, &captured, `{"choices":[]}`)
	defer srv.Close()

	c, _ := NewClient(srv.URL, "m")
	if _, err := c.Generate(context.Background(), &types.ModelInputs{Encoded: []byte{1}}, types.GenerationOptions{}); err == nil {
		t.Error("expected error for empty choices")
	}
	if _, err := c.Generate(context.Background(), nil, types.GenerationOptions{}); err == nil {
		t.Error("expected error for nil inputs")
	}

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "out of memory", http.StatusInternalServerError)
	}))
	defer failing.Close()
	c, _ = NewClient(failing.URL, "m")
	if _, err := c.Generate(context.Background(), &types.ModelInputs{Encoded: []byte{1}}, types.GenerationOptions{}); err == nil {
		t.Error("expected error for 500 response")
	}
}
