package ports

import (
	"context"
	"image"
)

// MediaDecoder opens media blobs for random-access playback.
type MediaDecoder interface {
	// Open loads data and blocks until its natural metadata is known.
	Open(ctx context.Context, data []byte) (Playback, error)
}

// Playback is an opened media handle with a single seek cursor.
type Playback interface {
	// Width returns the natural width in pixels.
	Width() int

	// Height returns the natural height in pixels.
	Height() int

	// Duration returns the natural duration in seconds.
	Duration() float64

	// Seek positions the cursor at seconds and waits until the frame at that
	// time has been decoded.
	Seek(ctx context.Context, seconds float64) error

	// CurrentFrame returns the frame decoded by the last Seek.
	CurrentFrame() (image.Image, error)

	// Close releases the handle and any temporary resources behind it.
	Close() error
}
