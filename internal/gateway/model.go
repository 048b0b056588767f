package gateway

import (
	"context"
	"errors"
)

var (
	// ErrModelUnavailable means the model runtime is not initialized or not
	// ready. The pipeline skips the whole pass on this error instead of
	// charging it to a record.
	ErrModelUnavailable = errors.New("embedding model unavailable")

	// ErrInvalidInput means the model rejected this particular input.
	ErrInvalidInput = errors.New("invalid embedding input")

	// ErrDimensionMismatch means the produced vector does not match the
	// configured index dimension. This is a configuration error, not a
	// per-call failure.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// ModelGateway wraps the opaque embedding model runtime. Vector
// dimensionality is fixed system-wide and must match the index's configured
// dimension.
type ModelGateway interface {
	EmbedImage(ctx context.Context, data []byte) ([]float32, error)
	EmbedText(ctx context.Context, text string) ([]float32, error)
	// Ready is a cheap readiness probe, no model call involved.
	Ready() bool
	Dimensions() int
}
