package pipeline

import (
	"image"
	"path/filepath"
	"strings"
	"sync"
)

// =============================================================================
// Defaults
// =============================================================================

const (
	// DefaultWidth is the target output width in pixels.
	DefaultWidth = 720
	// DefaultBitrate is the target bitrate in bits per second.
	DefaultBitrate = 1_000_000
	// DefaultFrameRate is the sampling rate of the frame source.
	DefaultFrameRate = 30
	// DefaultCodec is H.264 Constrained Baseline, level 3.0.
	DefaultCodec = "avc1.42001E"
	// DefaultQueueDepth caps frames submitted to the encoder but not yet emitted.
	DefaultQueueDepth = 16
	// DefaultKeyFrameInterval requests a key frame every two seconds at 30 fps.
	DefaultKeyFrameInterval = 60
	// MaxWidth is the largest target width accepted by option validation.
	MaxWidth = 4096

	// Timescale is the track timescale in units per second.
	Timescale = 1000

	// OutputMIMEType is the content type of the produced file.
	OutputMIMEType = "video/mp4"
)

// ScaleFilter names a resampling kernel used by the scaler.
type ScaleFilter string

const (
	FilterCatmullRom ScaleFilter = "catmullrom"
	FilterBilinear   ScaleFilter = "bilinear"
	FilterLanczos    ScaleFilter = "lanczos"
)

// =============================================================================
// Options
// =============================================================================

// Options configures a single compress run. Zero values take defaults.
type Options struct {
	Width            int         // Target width in pixels (default: 720)
	Bitrate          int         // Target bitrate in bits/sec (default: 1_000_000)
	FrameRate        int         // Frames sampled per second (default: 30)
	Codec            string      // Codec string (default: avc1.42001E)
	QueueDepth       int         // Max pending encoder frames (default: 16)
	KeyFrameInterval int         // Frames between requested key frames (default: 60)
	Filter           ScaleFilter // Resampling kernel (default: catmullrom)
}

// DefaultOptions returns Options with default values.
func DefaultOptions() Options {
	return Options{
		Width:            DefaultWidth,
		Bitrate:          DefaultBitrate,
		FrameRate:        DefaultFrameRate,
		Codec:            DefaultCodec,
		QueueDepth:       DefaultQueueDepth,
		KeyFrameInterval: DefaultKeyFrameInterval,
		Filter:           FilterCatmullRom,
	}
}

// WithDefaults fills zero fields with default values.
// Negative values are kept so that validation can reject them.
func (o Options) WithDefaults() Options {
	d := DefaultOptions()
	if o.Width == 0 {
		o.Width = d.Width
	}
	if o.Bitrate == 0 {
		o.Bitrate = d.Bitrate
	}
	if o.FrameRate == 0 {
		o.FrameRate = d.FrameRate
	}
	if o.Codec == "" {
		o.Codec = d.Codec
	}
	if o.QueueDepth == 0 {
		o.QueueDepth = d.QueueDepth
	}
	if o.KeyFrameInterval == 0 {
		o.KeyFrameInterval = d.KeyFrameInterval
	}
	if o.Filter == "" {
		o.Filter = d.Filter
	}
	return o
}

// NominalDurationMs is the sample duration used when a chunk reports none.
func NominalDurationMs(frameRate int) uint32 {
	if frameRate <= 0 {
		frameRate = DefaultFrameRate
	}
	return uint32((Timescale + frameRate/2) / frameRate)
}

// =============================================================================
// Files
// =============================================================================

// InputFile is the caller-supplied media blob.
type InputFile struct {
	Name string
	Data []byte
}

// OutputFile is a finished container file.
type OutputFile struct {
	Name     string
	MIMEType string
	Data     []byte
}

// OutputName replaces the extension of name with ".mp4".
func OutputName(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if base == "" {
		base = "video"
	}
	return base + ".mp4"
}

// =============================================================================
// Frames
// =============================================================================

// Frame is a raster tagged with a presentation timestamp.
// A frame is owned by the stage processing it and must be released once the
// next stage has consumed it.
type Frame struct {
	Image       *image.RGBA
	TimestampUs int64 // Presentation timestamp in microseconds
	Index       int   // Position in the frame sequence

	pool     *sync.Pool
	released bool
}

// NewFrame wraps img as a frame. If pool is non-nil the pixel buffer is
// returned to it on Release.
func NewFrame(img *image.RGBA, index int, timestampUs int64, pool *sync.Pool) *Frame {
	return &Frame{
		Image:       img,
		Index:       index,
		TimestampUs: timestampUs,
		pool:        pool,
	}
}

// Width returns the frame width in pixels.
func (f *Frame) Width() int {
	if f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dx()
}

// Height returns the frame height in pixels.
func (f *Frame) Height() int {
	if f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dy()
}

// Released reports whether Release has been called.
func (f *Frame) Released() bool {
	return f.released
}

// Release drops the pixel buffer. Calling Release twice is a no-op.
func (f *Frame) Release() {
	if f.released {
		return
	}
	f.released = true
	if f.pool != nil && f.Image != nil {
		f.pool.Put(f.Image)
	}
	f.Image = nil
}

// =============================================================================
// Encoded chunks and samples
// =============================================================================

// EncodedChunk is one unit of encoded bitstream.
type EncodedChunk struct {
	Data        []byte
	TimestampUs int64 // Timestamp reported by the encoder (not trusted by the muxer)
	DurationUs  int64 // 0 when the encoder does not report one
	KeyFrame    bool
}

// TrackDescriptor describes the single video track of the output.
type TrackDescriptor struct {
	Timescale uint32
	Width     int
	Height    int
	Codec     string
	FrameRate int
}

// SampleEntry is one row of the sample table, in track timescale units.
type SampleEntry struct {
	DecodeTime      uint64 `json:"dts"`
	CompositionTime uint64 `json:"cts"`
	Duration        uint32 `json:"duration"`
	Size            uint32 `json:"size"`
	Sync            bool   `json:"sync"`
}

// =============================================================================
// Progress
// =============================================================================

// ProgressStage names a pipeline stage reported to the caller.
type ProgressStage string

const (
	StageInitializing ProgressStage = "initializing"
	StageCompressing  ProgressStage = "compressing"
	StageFinalizing   ProgressStage = "finalizing"
	StageCompleted    ProgressStage = "completed"
)

// ProgressEvent reports pipeline progress in the range [0,100].
type ProgressEvent struct {
	Stage    ProgressStage
	Progress int
}

// ProgressFunc receives progress events.
type ProgressFunc func(ProgressEvent)
