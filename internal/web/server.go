// Package web serves the caption page and its JSON API.
package web

import (
	"bytes"
	"context"
	"embed"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"image"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/menta2k/image-captioner/internal/theme"
	"github.com/menta2k/image-captioner/internal/utils"
	"github.com/menta2k/image-captioner/pkg/caption"
	"github.com/menta2k/image-captioner/pkg/loader"
)

//go:embed templates/index.html
var templateFS embed.FS

// Captioner is the part of the caption service the web UI needs
type Captioner interface {
	Caption(ctx context.Context, img image.Image) (string, error)
	EnsureModelLoaded(ctx context.Context) (*caption.Handle, error)
	Loaded() bool
}

// Options configures the server
type Options struct {
	Theme          theme.Theme
	MaxUploadBytes int64
	AllowOrigin    string
}

type Server struct {
	captioner Captioner
	loader    *loader.Loader
	opts      Options
	tpl       *template.Template
	logger    *slog.Logger
}

type pageData struct {
	Theme   theme.Theme
	Accept  string
	Preview template.URL
	Caption string
	Error   string
}

type captionResponse struct {
	Caption string `json:"caption"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Format  string `json:"format"`
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

type healthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
}

func New(c Captioner, ld *loader.Loader, opts Options) (*Server, error) {
	if c == nil {
		return nil, errors.New("web: captioner is required")
	}
	if ld == nil {
		ld = loader.New()
	}
	if opts.Theme.Name == "" {
		t, err := theme.Lookup(theme.Default)
		if err != nil {
			return nil, err
		}
		opts.Theme = t
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 20 << 20
	}

	tpl, err := template.New("index.html").Funcs(template.FuncMap{
		// theme values are built in, never user input
		"css": func(s string) template.CSS { return template.CSS(s) },
	}).ParseFS(templateFS, "templates/index.html")
	if err != nil {
		return nil, fmt.Errorf("web: parse template: %w", err)
	}

	return &Server{
		captioner: c,
		loader:    ld,
		opts:      opts,
		tpl:       tpl,
		logger:    slog.Default().With("component", "web"),
	}, nil
}

// Register adds the routes to mux
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", s.index)
	mux.HandleFunc("POST /caption", s.captionForm)
	mux.HandleFunc("POST /api/caption", s.apiCaption)
	mux.HandleFunc("GET /healthz", s.healthz)
}

// Handler returns the routes wrapped in request id, access log and CORS
// middleware
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	var h http.Handler = mux
	h = CORS{AllowOrigin: s.opts.AllowOrigin}.Wrap(h)
	h = AccessLog(s.logger, h)
	h = RequestID(h)
	return h
}

// Preload builds the model handle in the background. A failure is logged
// and the next caption request tries again.
func (s *Server) Preload(ctx context.Context) {
	go func() {
		start := time.Now()
		if _, err := s.captioner.EnsureModelLoaded(ctx); err != nil {
			s.logger.Warn("model preload failed", "error", err)
			return
		}
		s.logger.Info("model preloaded", "elapsed", time.Since(start))
	}()
}

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	s.render(w, http.StatusOK, s.page())
}

func (s *Server) captionForm(w http.ResponseWriter, r *http.Request) {
	page := s.page()

	data, err := s.readUpload(w, r)
	if err != nil {
		status := statusFor(err)
		s.logFailure(r, status, err)
		page.Error = s.userMessage(status)
		s.render(w, status, page)
		return
	}
	page.Preview = previewURL(data)

	text, _, err := s.caption(r.Context(), data)
	if err != nil {
		status := statusFor(err)
		s.logFailure(r, status, err)
		page.Error = s.userMessage(status)
		s.render(w, status, page)
		return
	}
	page.Caption = text
	s.render(w, http.StatusOK, page)
}

func (s *Server) apiCaption(w http.ResponseWriter, r *http.Request) {
	data, err := s.readUpload(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	text, info, err := s.caption(r.Context(), data)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, captionResponse{
		Caption: text,
		Width:   info.Width,
		Height:  info.Height,
		Format:  info.format,
	})
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", ModelLoaded: s.captioner.Loaded()})
}

type uploadInfo struct {
	loader.ImageInfo
	format string
}

func (s *Server) caption(ctx context.Context, data []byte) (string, uploadInfo, error) {
	img, format, err := s.loader.DecodeBytes(data)
	if err != nil {
		return "", uploadInfo{}, err
	}
	info := uploadInfo{ImageInfo: s.loader.Info(img), format: format}

	text, err := s.captioner.Caption(ctx, img)
	if err != nil {
		return "", info, err
	}
	return text, info, nil
}

var errTooLarge = errors.New("upload too large")

// readUpload returns the uploaded image bytes, either from the multipart
// field "image" or from the raw request body
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var src io.Reader = r.Body
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(s.opts.MaxUploadBytes); err != nil {
			return nil, uploadError(err)
		}
		f, _, err := r.FormFile("image")
		if err != nil {
			return nil, fmt.Errorf("%w: missing form field \"image\"", caption.ErrInvalidImage)
		}
		defer f.Close()
		src = f
	}

	data, err := io.ReadAll(src)
	if err != nil {
		return nil, uploadError(err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty upload", caption.ErrInvalidImage)
	}
	return data, nil
}

func uploadError(err error) error {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return fmt.Errorf("%w: limit is %d bytes", errTooLarge, mbe.Limit)
	}
	return fmt.Errorf("%w: %v", caption.ErrInvalidImage, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, caption.ErrInvalidImage):
		return http.StatusUnprocessableEntity
	case errors.Is(err, caption.ErrModelUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, caption.ErrInferenceError):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// userMessage is the only error text clients see; details stay in the log
func (s *Server) userMessage(status int) string {
	switch status {
	case http.StatusRequestEntityTooLarge:
		return fmt.Sprintf("That image is too large. Please upload one under %s.", utils.FormatFileSize(s.opts.MaxUploadBytes))
	case http.StatusUnprocessableEntity:
		return "That file could not be read as an image. Please upload a JPEG or PNG."
	case http.StatusServiceUnavailable:
		return "The captioning model is not available right now. Please try again later."
	default:
		return "Something went wrong while generating the caption. Please try again."
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	s.logFailure(r, status, err)
	writeJSON(w, status, errorResponse{Error: s.userMessage(status), RequestID: RequestIDFrom(r.Context())})
}

func (s *Server) logFailure(r *http.Request, status int, err error) {
	level := slog.LevelWarn
	if status >= 500 {
		level = slog.LevelError
	}
	s.logger.Log(r.Context(), level, "caption failed",
		"request_id", RequestIDFrom(r.Context()),
		"status", status,
		"error", err,
	)
}

func (s *Server) page() pageData {
	return pageData{
		Theme:  s.opts.Theme,
		Accept: strings.Join(s.loader.MIMETypes(), ","),
	}
}

func (s *Server) render(w http.ResponseWriter, status int, page pageData) {
	var buf bytes.Buffer
	if err := s.tpl.ExecuteTemplate(&buf, "index.html", page); err != nil {
		s.logger.Error("render failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// previewURL embeds the upload as a data URL. Non-image content yields no
// preview.
func previewURL(data []byte) template.URL {
	ct := http.DetectContentType(data)
	if !strings.HasPrefix(ct, "image/") {
		return ""
	}
	return template.URL("data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(data))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
