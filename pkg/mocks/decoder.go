package mocks

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"math"
	"sync"

	"github.com/user/vidcompress/pkg/ports"
)

// ErrPlaybackClosed is returned by Playback after Close.
var ErrPlaybackClosed = errors.New("mock playback closed")

// MediaDecoder is a mock implementation of ports.MediaDecoder. Every Open
// returns a new Playback with the configured metadata.
type MediaDecoder struct {
	Width    int
	Height   int
	Duration float64

	OpenFunc func(ctx context.Context, data []byte) error
	// SeekFunc is consulted before every seek.
	SeekFunc func(ctx context.Context, seconds float64) error

	mu        sync.Mutex
	Playbacks []*Playback
}

// NewMediaDecoder creates a decoder for media of the given natural size.
func NewMediaDecoder(width, height int, duration float64) *MediaDecoder {
	return &MediaDecoder{Width: width, Height: height, Duration: duration}
}

// FailSeekAt makes the seek for frame index (at frameRate) fail with err.
func (m *MediaDecoder) FailSeekAt(index, frameRate int, err error) {
	target := float64(index) / float64(frameRate)
	m.SeekFunc = func(ctx context.Context, seconds float64) error {
		if math.Abs(seconds-target) < 1e-9 {
			return err
		}
		return nil
	}
}

func (m *MediaDecoder) Open(ctx context.Context, data []byte) (ports.Playback, error) {
	if m.OpenFunc != nil {
		if err := m.OpenFunc(ctx, data); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pb := &Playback{
		width:    m.Width,
		height:   m.Height,
		duration: m.Duration,
		seekFunc: m.SeekFunc,
	}
	m.mu.Lock()
	m.Playbacks = append(m.Playbacks, pb)
	m.mu.Unlock()
	return pb, nil
}

// OpenCount returns the number of successful Open calls.
func (m *MediaDecoder) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Playbacks)
}

// OpenHandles returns the number of playbacks not yet closed.
func (m *MediaDecoder) OpenHandles() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, pb := range m.Playbacks {
		if !pb.Closed() {
			n++
		}
	}
	return n
}

var _ ports.MediaDecoder = (*MediaDecoder)(nil)

// Playback is a mock implementation of ports.Playback.
// Frames are solid colors derived from the seek position.
type Playback struct {
	width    int
	height   int
	duration float64
	seekFunc func(ctx context.Context, seconds float64) error

	mu      sync.Mutex
	current image.Image
	closed  bool

	Seeks      []float64
	CloseCalls int
}

func (p *Playback) Width() int        { return p.width }
func (p *Playback) Height() int       { return p.height }
func (p *Playback) Duration() float64 { return p.duration }

func (p *Playback) Seek(ctx context.Context, seconds float64) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPlaybackClosed
	}
	p.Seeks = append(p.Seeks, seconds)
	p.current = nil
	p.mu.Unlock()

	if p.seekFunc != nil {
		if err := p.seekFunc(ctx, seconds); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	img := image.NewRGBA(image.Rect(0, 0, p.width, p.height))
	shade := uint8(int(seconds*30) % 256)
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.RGBA{R: shade, G: 128, B: 255 - shade, A: 255}}, image.Point{}, draw.Src)

	p.mu.Lock()
	p.current = img
	p.mu.Unlock()
	return nil
}

func (p *Playback) CurrentFrame() (image.Image, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPlaybackClosed
	}
	if p.current == nil {
		return nil, errors.New("mock playback: no frame")
	}
	return p.current, nil
}

func (p *Playback) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CloseCalls++
	p.closed = true
	p.current = nil
	return nil
}

// Closed reports whether Close has been called.
func (p *Playback) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// SeekCount returns the number of Seek calls.
func (p *Playback) SeekCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Seeks)
}

// Probe is a mock implementation of ports.CapabilityProbe.
type Probe struct {
	Available bool

	mu    sync.Mutex
	Calls int
}

func (p *Probe) Supported() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls++
	return p.Available
}

var _ ports.CapabilityProbe = (*Probe)(nil)
