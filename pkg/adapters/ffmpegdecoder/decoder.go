// Package ffmpegdecoder implements ports.MediaDecoder with an ffmpeg process
// per seek. The input blob is spooled to a temporary file that lives as long
// as the playback.
package ffmpegdecoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	vidio "github.com/AlexEidt/Vidio"

	"github.com/user/vidcompress/pkg/adapters/codecdetect"
	"github.com/user/vidcompress/pkg/adapters/h264encoder"
	"github.com/user/vidcompress/pkg/ports"
)

var (
	// ErrNoFrame is returned by CurrentFrame before a successful Seek.
	ErrNoFrame = errors.New("ffmpegdecoder: no decoded frame")

	// ErrClosed is returned when a closed playback is used.
	ErrClosed = errors.New("ffmpegdecoder: playback closed")

	// ErrShortFrame is returned when ffmpeg produced fewer pixels than expected,
	// typically because the seek position is past the last frame.
	ErrShortFrame = errors.New("ffmpegdecoder: short frame")
)

// Metadata is the display size and duration of a media file. ffmpeg
// applies rotation while decoding, so the size is the one a player shows.
type Metadata struct {
	Width    int
	Height   int
	Duration float64
}

// MetadataFunc reads metadata from a media file on disk.
type MetadataFunc func(path string, data []byte) (Metadata, error)

// Decoder implements ports.MediaDecoder.
type Decoder struct {
	ffmpegPath string
	tempDir    string
	metadata   MetadataFunc
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithTempDir sets where input blobs are spooled.
func WithTempDir(dir string) Option {
	return func(d *Decoder) { d.tempDir = dir }
}

// WithMetadataFunc replaces the metadata reader.
func WithMetadataFunc(fn MetadataFunc) Option {
	return func(d *Decoder) { d.metadata = fn }
}

// New creates a Decoder. An empty ffmpegPath is resolved with
// h264encoder.FindFFmpeg.
func New(ffmpegPath string, opts ...Option) (*Decoder, error) {
	path, err := h264encoder.FindFFmpeg(ffmpegPath)
	if err != nil {
		return nil, err
	}
	d := &Decoder{ffmpegPath: path, metadata: ReadMetadata}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// ReadMetadata reads MP4 headers directly and asks ffprobe for anything else.
func ReadMetadata(path string, data []byte) (Metadata, error) {
	if codecdetect.IsMP4(data) {
		if info, err := codecdetect.Inspect(data); err == nil && info.Width > 0 && info.Height > 0 && info.Duration > 0 {
			w, h := info.DisplaySize()
			return Metadata{Width: w, Height: h, Duration: info.Duration}, nil
		}
	}

	video, err := vidio.NewVideo(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("probe media: %w", err)
	}
	defer video.Close()
	w, h := displaySize(video.MetaData(), video.Width(), video.Height())
	return Metadata{Width: w, Height: h, Duration: video.Duration()}, nil
}

// displaySize applies the sample aspect ratio and rotation from ffprobe
// stream fields to the coded size. Older ffprobe reports rotation as
// tag:rotate, newer builds as display matrix side data.
func displaySize(meta map[string]string, fallbackW, fallbackH int) (int, int) {
	w, errW := strconv.Atoi(meta["width"])
	h, errH := strconv.Atoi(meta["height"])
	if errW != nil || errH != nil || w <= 0 || h <= 0 {
		return fallbackW, fallbackH
	}
	if num, den, ok := parseRatio(meta["sample_aspect_ratio"]); ok && num != den {
		w = int(math.Round(float64(w) * float64(num) / float64(den)))
	}
	rotation := meta["tag:rotate"]
	if rotation == "" {
		rotation = meta["rotation"]
	}
	if deg, err := strconv.ParseFloat(rotation, 64); err == nil && int(math.Round(deg/90))%2 != 0 {
		w, h = h, w
	}
	return w, h
}

func parseRatio(s string) (int, int, bool) {
	num, den, found := strings.Cut(s, ":")
	if !found {
		return 0, 0, false
	}
	n, errN := strconv.Atoi(num)
	d, errD := strconv.Atoi(den)
	if errN != nil || errD != nil || n <= 0 || d <= 0 {
		return 0, 0, false
	}
	return n, d, true
}

// Open implements ports.MediaDecoder.
func (d *Decoder) Open(ctx context.Context, data []byte) (ports.Playback, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.CreateTemp(d.tempDir, "vidcompress_*.media")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	path := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("close temp file: %w", err)
	}

	meta, err := d.metadata(path, data)
	if err != nil {
		os.Remove(path)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		os.Remove(path)
		return nil, err
	}

	return &Playback{
		ffmpegPath: d.ffmpegPath,
		path:       path,
		meta:       meta,
	}, nil
}

// Playback is an opened media file.
type Playback struct {
	ffmpegPath string
	path       string
	meta       Metadata

	mu      sync.Mutex
	current *image.RGBA
	closed  bool
}

// Width implements ports.Playback.
func (p *Playback) Width() int { return p.meta.Width }

// Height implements ports.Playback.
func (p *Playback) Height() int { return p.meta.Height }

// Duration implements ports.Playback.
func (p *Playback) Duration() float64 { return p.meta.Duration }

// Path returns the temporary file behind the playback.
func (p *Playback) Path() string { return p.path }

// Seek implements ports.Playback. It decodes the frame shown at seconds.
func (p *Playback) Seek(ctx context.Context, seconds float64) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.current = nil
	p.mu.Unlock()

	w, h := p.meta.Width, p.meta.Height
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.ffmpegPath, frameArgs(p.path, seconds, w, h)...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("ffmpeg seek %.3fs failed: %w: %s", seconds, err, bytes.TrimSpace(stderr.Bytes()))
	}

	want := 4 * w * h
	if stdout.Len() < want {
		return fmt.Errorf("%w at %.3fs: got %d bytes, want %d", ErrShortFrame, seconds, stdout.Len(), want)
	}

	img := &image.RGBA{
		Pix:    stdout.Bytes()[:want],
		Stride: 4 * w,
		Rect:   image.Rect(0, 0, w, h),
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.current = img
	return nil
}

func frameArgs(path string, seconds float64, w, h int) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-ss", strconv.FormatFloat(seconds, 'f', 6, 64),
		"-i", path,
		"-frames:v", "1",
		"-an",
		"-vf", fmt.Sprintf("scale=%d:%d", w, h),
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"pipe:1",
	}
}

// CurrentFrame implements ports.Playback.
func (p *Playback) CurrentFrame() (image.Image, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	if p.current == nil {
		return nil, ErrNoFrame
	}
	return p.current, nil
}

// Close implements ports.Playback. It removes the temporary file.
func (p *Playback) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.current = nil
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove temp file: %w", err)
	}
	return nil
}

// Ensure Decoder implements ports.MediaDecoder
var _ ports.MediaDecoder = (*Decoder)(nil)
