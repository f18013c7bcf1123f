// Package extractor defines the narrow boundary to the face embedding
// extractor. The service only needs a vector or a "no face" signal; model
// internals live on the other side of this interface.
package extractor

import (
	"context"
	"errors"
)

// ErrNoFace is returned when no face is detected in the input image. It is
// a terminal input-validation failure and must not be retried.
var ErrNoFace = errors.New("extractor: no face found")

// Extractor produces a fixed-length embedding for a decoded image.
type Extractor interface {
	Extract(ctx context.Context, image []byte) ([]float32, error)
}

// Func adapts a function to the Extractor interface.
type Func func(ctx context.Context, image []byte) ([]float32, error)

func (f Func) Extract(ctx context.Context, image []byte) ([]float32, error) {
	return f(ctx, image)
}
