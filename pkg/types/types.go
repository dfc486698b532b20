package types

import (
	"image"
	"image/color"
)

// RGBImage is a packed three-channel image with no alpha.
// Pixel (x, y) occupies Pix[(y*Width+x)*3 : (y*Width+x)*3+3].
type RGBImage struct {
	Width  int
	Height int
	Pix    []uint8
}

// NewRGBImage allocates a black RGBImage of the given size
func NewRGBImage(width, height int) *RGBImage {
	return &RGBImage{
		Width:  width,
		Height: height,
		Pix:    make([]uint8, width*height*3),
	}
}

// Channels always returns 3
func (m *RGBImage) Channels() int { return 3 }

// ColorModel implements image.Image
func (m *RGBImage) ColorModel() color.Model { return color.RGBAModel }

// Bounds implements image.Image
func (m *RGBImage) Bounds() image.Rectangle { return image.Rect(0, 0, m.Width, m.Height) }

// At implements image.Image
func (m *RGBImage) At(x, y int) color.Color {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return color.RGBA{}
	}
	i := (y*m.Width + x) * 3
	return color.RGBA{m.Pix[i], m.Pix[i+1], m.Pix[i+2], 255}
}

// ModelInputs is the preprocessed representation of one image
type ModelInputs struct {
	// RGB is the normalized image after resizing for the encoded payload.
	RGB *RGBImage `json:"-"`

	// Encoded holds RGB encoded as JPEG or PNG for text backends.
	Encoded  []byte `json:"-"`
	MIMEType string `json:"mime_type"`

	// PixelValues is a [1, 3, TensorHeight, TensorWidth] float32 tensor in CHW
	// order. Nil unless the preprocessor was configured to produce it.
	PixelValues  []float32 `json:"-"`
	TensorWidth  int       `json:"tensor_width,omitempty"`
	TensorHeight int       `json:"tensor_height,omitempty"`

	// Digest is a hex SHA-256 over the full-resolution RGB pixels.
	Digest string `json:"digest"`
}

// TensorShape returns the NCHW shape of PixelValues
func (in *ModelInputs) TensorShape() []int64 {
	return []int64{1, 3, int64(in.TensorHeight), int64(in.TensorWidth)}
}

// GenerationOptions controls the generation step. Zero values mean "unset"
// and let the backend apply its own default.
type GenerationOptions struct {
	Prompt       string  `json:"prompt" toml:"prompt"`
	MaxNewTokens int     `json:"max_new_tokens" toml:"max_new_tokens"`
	NumBeams     int     `json:"num_beams" toml:"num_beams"`
	Temperature  float64 `json:"temperature" toml:"temperature"`
	TopP         float64 `json:"top_p" toml:"top_p"`
	TopK         int     `json:"top_k" toml:"top_k"`
	Seed         int     `json:"seed" toml:"seed"`
}

// Deterministic reports whether repeated generations on identical input
// are expected to produce identical output
func (o GenerationOptions) Deterministic() bool {
	return o.Temperature == 0
}

// Generation is the raw output of a generator backend. Exactly one of
// TokenIDs and Text is set.
type Generation struct {
	TokenIDs []int  `json:"token_ids,omitempty"`
	Text     string `json:"text,omitempty"`
	Backend  string `json:"backend"`
	Model    string `json:"model"`
}

// CaptionResult is what the facade returns for one captioned image
type CaptionResult struct {
	Source  string `json:"source,omitempty"`
	Caption string `json:"caption"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Format  string `json:"format,omitempty"`
	Error   string `json:"error,omitempty"`
}
