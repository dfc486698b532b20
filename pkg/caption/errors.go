package caption

import "errors"

var (
	// ErrModelUnavailable means the pretrained model could not be resolved
	// or instantiated. Captioning cannot proceed until it is fixed.
	ErrModelUnavailable = errors.New("model unavailable")

	// ErrInvalidImage means the caller supplied a missing, malformed or
	// unsupported image.
	ErrInvalidImage = errors.New("invalid image")

	// ErrInferenceError means generation failed. The loaded model stays
	// usable and the same request may be retried.
	ErrInferenceError = errors.New("inference error")
)
