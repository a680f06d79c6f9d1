// Package patternsource provides a synthetic media decoder that renders a
// moving test pattern with gg. It stands in for real input in the synth
// command and in pipeline tests.
package patternsource

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fogleman/gg"

	"github.com/user/vidcompress/pkg/ports"
)

// Pattern describes the synthetic media.
type Pattern struct {
	Width    int
	Height   int
	Duration float64 // Seconds
}

// ErrClosed is returned when a closed playback is used.
var ErrClosed = errors.New("patternsource: playback closed")

// ParsePattern parses "WIDTHxHEIGHT@DURATION", e.g. "1280x720@2s".
func ParsePattern(s string) (Pattern, error) {
	size, dur, ok := strings.Cut(s, "@")
	if !ok {
		return Pattern{}, fmt.Errorf("invalid pattern %q: want WIDTHxHEIGHT@DURATION", s)
	}
	ws, hs, ok := strings.Cut(size, "x")
	if !ok {
		return Pattern{}, fmt.Errorf("invalid pattern size %q", size)
	}
	w, err := strconv.Atoi(ws)
	if err != nil || w <= 0 {
		return Pattern{}, fmt.Errorf("invalid pattern width %q", ws)
	}
	h, err := strconv.Atoi(hs)
	if err != nil || h <= 0 {
		return Pattern{}, fmt.Errorf("invalid pattern height %q", hs)
	}
	d, err := time.ParseDuration(dur)
	if err != nil || d <= 0 {
		return Pattern{}, fmt.Errorf("invalid pattern duration %q", dur)
	}
	return Pattern{Width: w, Height: h, Duration: d.Seconds()}, nil
}

// String formats p the way ParsePattern reads it.
func (p Pattern) String() string {
	return fmt.Sprintf("%dx%d@%s", p.Width, p.Height, time.Duration(p.Duration*float64(time.Second)))
}

// Decoder implements ports.MediaDecoder. The input bytes are ignored; every
// playback renders the same pattern.
type Decoder struct {
	pattern Pattern
}

// New creates a Decoder for pattern.
func New(pattern Pattern) *Decoder {
	return &Decoder{pattern: pattern}
}

// Open implements ports.MediaDecoder.
func (d *Decoder) Open(ctx context.Context, data []byte) (ports.Playback, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Playback{pattern: d.pattern}, nil
}

// Playback renders the pattern at the seek position.
type Playback struct {
	pattern Pattern

	mu      sync.Mutex
	current image.Image
	closed  bool
}

// Width implements ports.Playback.
func (p *Playback) Width() int { return p.pattern.Width }

// Height implements ports.Playback.
func (p *Playback) Height() int { return p.pattern.Height }

// Duration implements ports.Playback.
func (p *Playback) Duration() float64 { return p.pattern.Duration }

// Seek implements ports.Playback.
func (p *Playback) Seek(ctx context.Context, seconds float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if seconds < 0 || seconds > p.pattern.Duration {
		return fmt.Errorf("patternsource: seek %.3fs outside [0, %.3fs]", seconds, p.pattern.Duration)
	}
	img := Render(p.pattern.Width, p.pattern.Height, seconds)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.current = img
	return nil
}

// CurrentFrame implements ports.Playback.
func (p *Playback) CurrentFrame() (image.Image, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	if p.current == nil {
		return nil, fmt.Errorf("patternsource: no frame before seek")
	}
	return p.current, nil
}

// Close implements ports.Playback.
func (p *Playback) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.current = nil
	return nil
}

// Render draws the pattern frame shown at seconds: a horizontal gradient
// whose hue drifts with time, a circle sweeping left to right once per second
// and the timestamp.
func Render(width, height int, seconds float64) image.Image {
	dc := gg.NewContext(width, height)

	grad := gg.NewLinearGradient(0, 0, float64(width), 0)
	grad.AddColorStop(0, hue(seconds*0.25))
	grad.AddColorStop(1, hue(seconds*0.25+0.5))
	dc.SetFillStyle(grad)
	dc.DrawRectangle(0, 0, float64(width), float64(height))
	dc.Fill()

	phase := seconds - math.Floor(seconds)
	r := float64(height) / 8
	x := r + phase*(float64(width)-2*r)
	dc.SetColor(color.White)
	dc.DrawCircle(x, float64(height)/2, r)
	dc.Fill()

	dc.SetColor(color.Black)
	dc.DrawStringAnchored(fmt.Sprintf("%.3f s", seconds), float64(width)/2, float64(height)-20, 0.5, 0.5)

	return dc.Image()
}

// hue maps h in turns to a saturated color.
func hue(h float64) color.Color {
	h = h - math.Floor(h)
	seg := h * 6
	f := seg - math.Floor(seg)
	q := uint8(255 * (1 - f))
	t := uint8(255 * f)
	switch int(seg) {
	case 0:
		return color.RGBA{255, t, 0, 255}
	case 1:
		return color.RGBA{q, 255, 0, 255}
	case 2:
		return color.RGBA{0, 255, t, 255}
	case 3:
		return color.RGBA{0, q, 255, 255}
	case 4:
		return color.RGBA{t, 0, 255, 255}
	default:
		return color.RGBA{255, 0, q, 255}
	}
}

// Ensure Decoder implements ports.MediaDecoder
var _ ports.MediaDecoder = (*Decoder)(nil)
