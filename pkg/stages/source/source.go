// Package source implements the frame source stage: it opens a media blob and
// samples it at a fixed frame rate by seeking the decoder once per frame.
package source

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"math"
	"sync"

	"github.com/user/vidcompress/pkg/pipeline"
	"github.com/user/vidcompress/pkg/ports"
)

// ErrCursorBusy is returned by Frames while another sequence is active.
var ErrCursorBusy = errors.New("source: frame sequence already active")

// ErrClosed is returned when a closed Media is used.
var ErrClosed = errors.New("source: media closed")

// Media is an opened input with known natural metadata.
type Media struct {
	playback ports.Playback
	logger   ports.Logger

	width    int
	height   int
	duration float64

	mu     sync.Mutex
	active bool
	closed bool
	pool   sync.Pool
}

// Open loads data through decoder and waits for its metadata.
// Failures are reported as MediaOpenError.
func Open(ctx context.Context, decoder ports.MediaDecoder, data []byte, logger ports.Logger) (*Media, error) {
	if len(data) == 0 {
		return nil, pipeline.Errorf(pipeline.KindMediaOpen, "empty input")
	}

	playback, err := decoder.Open(ctx, data)
	if err != nil {
		return nil, pipeline.Classify(err, pipeline.KindMediaOpen)
	}

	m := &Media{
		playback: playback,
		logger:   logger.WithComponent("source"),
		width:    playback.Width(),
		height:   playback.Height(),
		duration: playback.Duration(),
	}

	if m.width <= 0 || m.height <= 0 || m.duration <= 0 || math.IsNaN(m.duration) || math.IsInf(m.duration, 0) {
		playback.Close()
		return nil, pipeline.Errorf(pipeline.KindMediaOpen,
			"invalid metadata: %dx%d, %.3fs", m.width, m.height, m.duration)
	}

	m.logger.Debug("Opened media: %dx%d, %.3f s", m.width, m.height, m.duration)
	return m, nil
}

// Width returns the natural width.
func (m *Media) Width() int { return m.width }

// Height returns the natural height.
func (m *Media) Height() int { return m.height }

// Duration returns the natural duration in seconds.
func (m *Media) Duration() float64 { return m.duration }

// FrameCount returns floor(duration * frameRate).
func (m *Media) FrameCount(frameRate int) int {
	return FrameCount(m.duration, frameRate)
}

// FrameCount returns floor(duration * frameRate).
func FrameCount(duration float64, frameRate int) int {
	if duration <= 0 || frameRate <= 0 {
		return 0
	}
	// Guard against 2.0*30 evaluating to 59.999...
	return int(math.Floor(duration*float64(frameRate) + 1e-9))
}

// TimestampUs returns the presentation timestamp of frame index.
func TimestampUs(index, frameRate int) int64 {
	return int64(index) * 1_000_000 / int64(frameRate)
}

// Frames starts a new sequence sampled at frameRate.
// Only one sequence may be active at a time; a new one may be started once
// the previous sequence is exhausted, failed or stopped.
func (m *Media) Frames(frameRate int) (*Sequence, error) {
	if frameRate <= 0 {
		return nil, fmt.Errorf("source: invalid frame rate %d", frameRate)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if m.active {
		return nil, ErrCursorBusy
	}
	m.active = true

	return &Sequence{
		media:     m,
		frameRate: frameRate,
		count:     m.FrameCount(frameRate),
		next:      0,
	}, nil
}

// Close releases the playback handle. It is safe to call more than once.
func (m *Media) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.logger.Debug("Releasing media handle")
	return m.playback.Close()
}

func (m *Media) release() {
	m.mu.Lock()
	m.active = false
	m.mu.Unlock()
}

// buffer returns a pooled RGBA raster of the natural size.
func (m *Media) buffer() *image.RGBA {
	if v := m.pool.Get(); v != nil {
		img := v.(*image.RGBA)
		if img.Bounds().Dx() == m.width && img.Bounds().Dy() == m.height {
			return img
		}
	}
	return image.NewRGBA(image.Rect(0, 0, m.width, m.height))
}

// Sequence is a lazy, finite sequence of decoded frames.
//
//	seq, _ := media.Frames(30)
//	for seq.Next(ctx) {
//		frame := seq.Frame()
//		...
//		frame.Release()
//	}
//	if err := seq.Err(); err != nil { ... }
type Sequence struct {
	media     *Media
	frameRate int
	count     int
	next      int

	frame *pipeline.Frame
	err   error
	done  bool
}

// Len returns the total number of frames in the sequence.
func (s *Sequence) Len() int {
	return s.count
}

// Next seeks to the next frame and decodes it. It returns false when the
// sequence is exhausted or failed; see Err.
func (s *Sequence) Next(ctx context.Context) bool {
	if s.done {
		return false
	}
	if s.next >= s.count {
		s.finish(nil)
		return false
	}

	index := s.next
	if err := ctx.Err(); err != nil {
		s.finish(pipeline.NewError(pipeline.KindCancelled, err))
		return false
	}

	seconds := float64(index) / float64(s.frameRate)
	if err := s.media.playback.Seek(ctx, seconds); err != nil {
		s.finish(s.decodeError(index, fmt.Errorf("seek to %.3fs: %w", seconds, err)))
		return false
	}

	img, err := s.media.playback.CurrentFrame()
	if err != nil {
		s.finish(s.decodeError(index, fmt.Errorf("read frame: %w", err)))
		return false
	}

	buf := s.media.buffer()
	draw.Draw(buf, buf.Bounds(), img, img.Bounds().Min, draw.Src)

	s.frame = pipeline.NewFrame(buf, index, TimestampUs(index, s.frameRate), &s.media.pool)
	s.next++
	return true
}

// Frame returns the frame decoded by the last successful Next.
// The caller owns it and must Release it.
func (s *Sequence) Frame() *pipeline.Frame {
	return s.frame
}

// Err returns the error that stopped the sequence, if any.
func (s *Sequence) Err() error {
	return s.err
}

// Stop abandons the sequence and frees the cursor.
func (s *Sequence) Stop() {
	s.finish(nil)
}

func (s *Sequence) decodeError(index int, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return pipeline.NewError(pipeline.KindCancelled, err)
	}
	return pipeline.FrameDecodeError(index, err)
}

func (s *Sequence) finish(err error) {
	if s.done {
		return
	}
	s.done = true
	s.err = err
	s.frame = nil
	s.media.release()
}
