// Package summarizer renders a human-readable report of a compression run.
package summarizer

import "time"

// Summary contains all data collected during a compression run.
type Summary struct {
	GeneratedAt time.Time
	RunID       string

	Input    InputInfo
	Output   OutputInfo
	Settings Settings

	// Wall-clock time spent in the run
	Elapsed time.Duration
}

// InputInfo describes the source file.
type InputInfo struct {
	Name        string
	Bytes       int64
	Width       int
	Height      int
	DurationSec float64
}

// OutputInfo describes the produced MP4.
type OutputInfo struct {
	Name        string
	Bytes       int64
	Width       int
	Height      int
	FrameCount  int
	SampleCount int
	DurationMs  uint64
}

// Settings contains the encoding configuration.
type Settings struct {
	Codec            string
	Bitrate          int
	FrameRate        int
	Width            int
	Filter           string
	KeyFrameInterval int
	Encoder          string // ffmpeg encoder implementation, e.g. h264_nvenc
}

// CompressionRatio returns output size over input size, or 0 when the input
// size is unknown.
func (s *Summary) CompressionRatio() float64 {
	if s.Input.Bytes <= 0 {
		return 0
	}
	return float64(s.Output.Bytes) / float64(s.Input.Bytes)
}

// NewSummary creates a new Summary with the current timestamp.
func NewSummary() *Summary {
	return &Summary{
		GeneratedAt: time.Now(),
	}
}

// Builder provides a fluent interface for building a Summary.
type Builder struct {
	summary *Summary
}

// NewBuilder creates a new Builder.
func NewBuilder() *Builder {
	return &Builder{
		summary: NewSummary(),
	}
}

// WithRunID sets the run identifier.
func (b *Builder) WithRunID(id string) *Builder {
	b.summary.RunID = id
	return b
}

// WithInput sets source file information.
func (b *Builder) WithInput(input InputInfo) *Builder {
	b.summary.Input = input
	return b
}

// WithOutput sets output file information.
func (b *Builder) WithOutput(output OutputInfo) *Builder {
	b.summary.Output = output
	return b
}

// WithSettings sets encoding settings.
func (b *Builder) WithSettings(settings Settings) *Builder {
	b.summary.Settings = settings
	return b
}

// WithElapsed sets the run duration.
func (b *Builder) WithElapsed(d time.Duration) *Builder {
	b.summary.Elapsed = d
	return b
}

// Build returns the constructed Summary.
func (b *Builder) Build() *Summary {
	return b.summary
}
