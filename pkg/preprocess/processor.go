package preprocess

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"image"
	"reflect"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/menta2k/image-captioner/pkg/types"
)

// Config controls how an image becomes model inputs. The defaults match the
// BLIP image processor: 384x384 input, CLIP mean/std, 1/255 rescale.
type Config struct {
	Size          int        `json:"size" toml:"size"`
	Mean          [3]float32 `json:"mean" toml:"mean"`
	Std           [3]float32 `json:"std" toml:"std"`
	RescaleFactor float32    `json:"rescale_factor" toml:"rescale_factor"`
	Tensor        bool       `json:"tensor" toml:"tensor"`
	SendFormat    string     `json:"send_format" toml:"send_format"`
	SendQuality   int        `json:"send_quality" toml:"send_quality"`
	SendMaxSide   int        `json:"send_max_side" toml:"send_max_side"`
}

// DefaultConfig returns the BLIP preprocessing policy
func DefaultConfig() Config {
	return Config{
		Size:          384,
		Mean:          [3]float32{0.48145466, 0.4578275, 0.40821073},
		Std:           [3]float32{0.26862954, 0.26130258, 0.27577711},
		RescaleFactor: 1.0 / 255.0,
		SendFormat:    "jpg",
		SendQuality:   90,
		SendMaxSide:   1536,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.Size < 1 {
		return fmt.Errorf("size must be positive")
	}
	for i, s := range c.Std {
		if s == 0 {
			return fmt.Errorf("std[%d] must be non-zero", i)
		}
	}
	if c.RescaleFactor <= 0 {
		return fmt.Errorf("rescale_factor must be positive")
	}
	switch strings.ToLower(c.SendFormat) {
	case "jpg", "jpeg", "png":
	default:
		return fmt.Errorf("send_format must be jpg or png, got %q", c.SendFormat)
	}
	if c.SendQuality < 1 || c.SendQuality > 100 {
		return fmt.Errorf("send_quality must be between 1 and 100")
	}
	if c.SendMaxSide < 0 {
		return fmt.Errorf("send_max_side must not be negative")
	}
	return nil
}

// Processor turns decoded images into model inputs. It holds no mutable
// state and is safe for concurrent use.
type Processor struct {
	config Config
}

// NewProcessor creates a processor with the default configuration
func NewProcessor() *Processor {
	return &Processor{config: DefaultConfig()}
}

// NewWithConfig creates a processor with a custom configuration
func NewWithConfig(config Config) (*Processor, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid preprocessor config: %w", err)
	}
	return &Processor{config: config}, nil
}

// Config returns the processor configuration
func (p *Processor) Config() Config {
	return p.config
}

// ToRGB converts any image to packed three-channel color. Alpha is dropped
// and the straight (non-premultiplied) color kept; gray expands to R=G=B.
func (p *Processor) ToRGB(img image.Image) *types.RGBImage {
	return fromNRGBA(imaging.Clone(img))
}

// Prepare normalizes, resizes and encodes img for the generator
func (p *Processor) Prepare(img image.Image) (*types.ModelInputs, error) {
	if IsNil(img) {
		return nil, fmt.Errorf("nil image")
	}
	b := img.Bounds()
	if b.Dx() < 1 || b.Dy() < 1 {
		return nil, fmt.Errorf("empty image: %dx%d", b.Dx(), b.Dy())
	}

	nrgba := imaging.Clone(img)

	send := nrgba
	if maxDim := p.config.SendMaxSide; maxDim > 0 {
		w, h := b.Dx(), b.Dy()
		if w > maxDim || h > maxDim {
			if w >= h {
				send = imaging.Resize(nrgba, maxDim, 0, imaging.Lanczos)
			} else {
				send = imaging.Resize(nrgba, 0, maxDim, imaging.Lanczos)
			}
		}
	}
	rgb := fromNRGBA(send)

	encoded, mime, err := p.encode(rgb)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	in := &types.ModelInputs{
		RGB:      rgb,
		Encoded:  encoded,
		MIMEType: mime,
		Digest:   digest(nrgba),
	}

	if p.config.Tensor {
		in.PixelValues = p.PixelValues(nrgba)
		in.TensorWidth = p.config.Size
		in.TensorHeight = p.config.Size
	}
	return in, nil
}

// PixelValues resizes img to Size x Size and returns a rescaled, normalized
// CHW float32 tensor
func (p *Processor) PixelValues(img image.Image) []float32 {
	size := p.config.Size
	resized := imaging.Resize(img, size, size, imaging.Lanczos)

	plane := size * size
	out := make([]float32, 3*plane)
	for y := 0; y < size; y++ {
		row := resized.Pix[y*resized.Stride:]
		for x := 0; x < size; x++ {
			px := row[x*4:]
			for c := 0; c < 3; c++ {
				v := float32(px[c]) * p.config.RescaleFactor
				out[c*plane+y*size+x] = (v - p.config.Mean[c]) / p.config.Std[c]
			}
		}
	}
	return out
}

func (p *Processor) encode(img *types.RGBImage) ([]byte, string, error) {
	var buf bytes.Buffer
	switch strings.ToLower(p.config.SendFormat) {
	case "png":
		if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "image/png", nil
	default: // jpg
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(p.config.SendQuality)); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "image/jpeg", nil
	}
}

func fromNRGBA(src *image.NRGBA) *types.RGBImage {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := types.NewRGBImage(w, h)
	for y := 0; y < h; y++ {
		si := y * src.Stride
		di := y * w * 3
		for x := 0; x < w; x++ {
			dst.Pix[di+0] = src.Pix[si+0]
			dst.Pix[di+1] = src.Pix[si+1]
			dst.Pix[di+2] = src.Pix[si+2]
			si += 4
			di += 3
		}
	}
	return dst
}

// digest hashes the RGB channels of the full-resolution image, the source of
// both the encoded bytes and the pixel tensor
func digest(img *image.NRGBA) string {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	sum := sha256.New()
	var dims [8]byte
	binary.BigEndian.PutUint32(dims[0:4], uint32(w))
	binary.BigEndian.PutUint32(dims[4:8], uint32(h))
	sum.Write(dims[:])

	row := make([]byte, w*3)
	for y := 0; y < h; y++ {
		src := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			copy(row[x*3:x*3+3], src[x*4:x*4+3])
		}
		sum.Write(row)
	}
	return hex.EncodeToString(sum.Sum(nil))
}

// IsNil reports whether img is nil or a nil pointer behind a non-nil
// interface, such as (*image.RGBA)(nil)
func IsNil(img image.Image) bool {
	if img == nil {
		return true
	}
	v := reflect.ValueOf(img)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return v.IsNil()
	}
	return false
}
