package ports

import (
	"image"
)

// DebugSink saves intermediate results for debugging.
type DebugSink interface {
	// Enabled returns true if debug output is enabled.
	Enabled() bool

	// SaveFrame saves a scaled frame.
	SaveFrame(index int, img image.Image) error

	// SaveSampleTableJSON saves the finalized sample table.
	SaveSampleTableJSON(data []byte) error
}
