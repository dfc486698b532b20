package loader

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/chai2010/webp"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/image-captioner/pkg/caption"
)

// Loader decodes user-supplied image bytes
type Loader struct {
	config Config
}

// Config holds configuration for image decoding
type Config struct {
	SupportedFormats []string `json:"supported_formats" toml:"supported_formats"`
	MinImageSize     int      `json:"min_image_size" toml:"min_image_size"`
	MaxDownloadBytes int64    `json:"max_download_bytes" toml:"max_download_bytes"`
}

// DefaultConfig returns the default loader configuration
func DefaultConfig() Config {
	return Config{
		SupportedFormats: []string{"jpeg", "png", "webp"},
		MinImageSize:     1,
		MaxDownloadBytes: 32 << 20,
	}
}

// New creates a new Loader with default configuration
func New() *Loader {
	return &Loader{config: DefaultConfig()}
}

// NewWithConfig creates a new Loader with custom configuration
func NewWithConfig(config Config) *Loader {
	return &Loader{config: config}
}

// MIMETypes returns the MIME types of the supported formats, for upload
// form accept lists
func (l *Loader) MIMETypes() []string {
	seen := map[string]bool{}
	var out []string
	for _, f := range l.config.SupportedFormats {
		f = strings.ToLower(f)
		if f == "jpg" {
			f = "jpeg"
		}
		if !seen[f] {
			seen[f] = true
			out = append(out, "image/"+f)
		}
	}
	return out
}

// ImageInfo contains basic image metadata
type ImageInfo struct {
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	AspectRatio float64 `json:"aspect_ratio"`
	ColorModel  string  `json:"color_model"`
}

// Decode reads and decodes an image, returning it with its format name.
// Every failure wraps caption.ErrInvalidImage.
func (l *Loader) Decode(r io.Reader) (image.Image, string, error) {
	if r == nil {
		return nil, "", fmt.Errorf("%w: no image data", caption.ErrInvalidImage)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", fmt.Errorf("%w: failed to read image: %v", caption.ErrInvalidImage, err)
	}
	return l.DecodeBytes(data)
}

// DecodeBytes decodes an in-memory image
func (l *Loader) DecodeBytes(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty upload", caption.ErrInvalidImage)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		// Fallback: explicit WebP decode
		wimg, werr := webp.Decode(bytes.NewReader(data))
		if werr != nil {
			return nil, "", fmt.Errorf("%w: failed to decode image: %v", caption.ErrInvalidImage, err)
		}
		img, format = wimg, "webp"
	}

	if !l.isFormatSupported(format) {
		return nil, format, fmt.Errorf("%w: unsupported image format: %s", caption.ErrInvalidImage, format)
	}
	if err := l.ValidateImage(img); err != nil {
		return nil, format, err
	}
	return img, format, nil
}

// LoadFile loads an image from a file path
func (l *Loader) LoadFile(path string) (image.Image, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("%w: failed to open image file: %v", caption.ErrInvalidImage, err)
	}
	defer f.Close()
	return l.Decode(f)
}

// LoadURL downloads and decodes an image
func (l *Loader) LoadURL(imageURL string) (image.Image, string, error) {
	parsedURL, err := url.Parse(imageURL)
	if err != nil {
		return nil, "", fmt.Errorf("%w: invalid URL: %v", caption.ErrInvalidImage, err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, "", fmt.Errorf("%w: unsupported URL scheme: %s (only http and https are supported)", caption.ErrInvalidImage, parsedURL.Scheme)
	}

	client := &http.Client{
		Timeout: 30 * time.Second,
	}

	req, err := http.NewRequest(http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: failed to create request: %v", caption.ErrInvalidImage, err)
	}
	req.Header.Set("User-Agent", "Image-Captioner/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: failed to download image: %v", caption.ErrInvalidImage, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("%w: failed to download image: HTTP %d", caption.ErrInvalidImage, resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return nil, "", fmt.Errorf("%w: URL does not point to an image (Content-Type: %s)", caption.ErrInvalidImage, contentType)
	}

	limit := l.config.MaxDownloadBytes
	if limit <= 0 {
		return l.Decode(resp.Body)
	}
	// one byte past the limit tells a full download from a truncated one
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, "", fmt.Errorf("%w: failed to download image: %v", caption.ErrInvalidImage, err)
	}
	if int64(len(data)) > limit {
		return nil, "", fmt.Errorf("%w: image too large: over %d bytes", caption.ErrInvalidImage, limit)
	}
	return l.DecodeBytes(data)
}

// LoadSmart loads an image from either a file path or URL
func (l *Loader) LoadSmart(source string) (image.Image, string, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return l.LoadURL(source)
	}
	return l.LoadFile(source)
}

// Info returns basic information about an image
func (l *Loader) Info(img image.Image) ImageInfo {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	info := ImageInfo{
		Width:      width,
		Height:     height,
		ColorModel: colorModelName(img),
	}
	if height > 0 {
		info.AspectRatio = float64(width) / float64(height)
	}
	return info
}

// ValidateImage checks if an image meets minimum requirements
func (l *Loader) ValidateImage(img image.Image) error {
	if img == nil {
		return fmt.Errorf("%w: nil image", caption.ErrInvalidImage)
	}
	bounds := img.Bounds()
	if bounds.Dx() < l.config.MinImageSize || bounds.Dy() < l.config.MinImageSize {
		return fmt.Errorf("%w: image too small: %dx%d (minimum: %d)",
			caption.ErrInvalidImage, bounds.Dx(), bounds.Dy(), l.config.MinImageSize)
	}
	return nil
}

func (l *Loader) isFormatSupported(format string) bool {
	for _, supported := range l.config.SupportedFormats {
		if strings.EqualFold(format, supported) {
			return true
		}
		// "jpg" in config means the "jpeg" decoder
		if strings.EqualFold(supported, "jpg") && strings.EqualFold(format, "jpeg") {
			return true
		}
	}
	return false
}

func colorModelName(img image.Image) string {
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		return "gray"
	case *image.Paletted:
		return "paletted"
	case *image.YCbCr:
		return "ycbcr"
	case *image.CMYK:
		return "cmyk"
	case *image.NRGBA, *image.NRGBA64:
		return "nrgba"
	case *image.RGBA, *image.RGBA64:
		return "rgba"
	default:
		return fmt.Sprintf("%T", img)
	}
}
