// Package encode implements the encoder stage. It owns one VideoEncoder,
// bounds the number of in-flight frames and collects emitted chunks in
// submission order.
package encode

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/user/vidcompress/pkg/pipeline"
	"github.com/user/vidcompress/pkg/ports"
)

// State is the lifecycle state of a Stage.
type State int

const (
	StateUnconfigured State = iota
	StateConfigured
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateConfigured:
		return "configured"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrInvalidState is returned when an operation is not valid in the current state.
var ErrInvalidState = errors.New("encode: invalid state")

// Config configures the stage and its encoder.
type Config struct {
	Codec            string
	Width            int
	Height           int
	Bitrate          int
	FrameRate        int
	QueueDepth       int // Max frames submitted but not yet emitted
	KeyFrameInterval int // Request a key frame every N frames (0 = first frame only)
}

// Stage drives a single VideoEncoder through
// Unconfigured -> Configured -> Draining -> Configured -> Closed.
type Stage struct {
	encoder ports.VideoEncoder
	logger  ports.Logger

	mu        sync.Mutex
	state     State
	cfg       Config
	slots     chan struct{}
	faultCh   chan struct{}
	fault     error
	pending   int
	submitted int
	emitted   int
	chunks    []pipeline.EncodedChunk
	released  bool
}

// NewStage creates a stage owning encoder.
func NewStage(encoder ports.VideoEncoder, logger ports.Logger) *Stage {
	return &Stage{
		encoder: encoder,
		logger:  logger.WithComponent("encode"),
		state:   StateUnconfigured,
		faultCh: make(chan struct{}),
	}
}

// State returns the current state.
func (s *Stage) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pending returns the number of frames submitted but not yet emitted.
func (s *Stage) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Submitted returns the number of frames accepted by Encode.
func (s *Stage) Submitted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitted
}

// Configure validates cfg and configures the encoder.
// Failures are reported as EncoderConfigError.
func (s *Stage) Configure(cfg Config) error {
	s.mu.Lock()
	if s.state != StateUnconfigured {
		state := s.state
		s.mu.Unlock()
		return pipeline.NewError(pipeline.KindEncoderConfig, fmt.Errorf("%w: configure in %s", ErrInvalidState, state))
	}
	s.mu.Unlock()

	if err := validate(cfg); err != nil {
		return pipeline.NewError(pipeline.KindEncoderConfig, err)
	}
	if latent, ok := s.encoder.(ports.LatentEncoder); ok && cfg.QueueDepth <= latent.Latency() {
		return pipeline.Errorf(pipeline.KindEncoderConfig,
			"queue depth %d must exceed encoder latency of %d frames", cfg.QueueDepth, latent.Latency())
	}

	err := s.encoder.Configure(ports.EncoderConfig{
		Codec:     cfg.Codec,
		Width:     cfg.Width,
		Height:    cfg.Height,
		Bitrate:   cfg.Bitrate,
		FrameRate: cfg.FrameRate,
		GOP:       cfg.KeyFrameInterval,
		Output:    s.onOutput,
		OnError:   s.onError,
	})
	if err != nil {
		return pipeline.NewError(pipeline.KindEncoderConfig, err)
	}

	s.mu.Lock()
	s.cfg = cfg
	s.slots = make(chan struct{}, cfg.QueueDepth)
	s.state = StateConfigured
	s.mu.Unlock()

	s.logger.Debug("Configured %s %dx%d at %d bps, %d fps, queue depth %d",
		cfg.Codec, cfg.Width, cfg.Height, cfg.Bitrate, cfg.FrameRate, cfg.QueueDepth)
	return nil
}

func validate(cfg Config) error {
	switch {
	case cfg.Codec == "":
		return fmt.Errorf("codec is required")
	case cfg.Width <= 0 || cfg.Height <= 0:
		return fmt.Errorf("invalid dimensions %dx%d", cfg.Width, cfg.Height)
	case cfg.Bitrate <= 0:
		return fmt.Errorf("invalid bitrate %d", cfg.Bitrate)
	case cfg.FrameRate <= 0:
		return fmt.Errorf("invalid frame rate %d", cfg.FrameRate)
	case cfg.QueueDepth <= 0:
		return fmt.Errorf("invalid queue depth %d", cfg.QueueDepth)
	case cfg.KeyFrameInterval < 0:
		return fmt.Errorf("invalid key frame interval %d", cfg.KeyFrameInterval)
	}
	return nil
}

// Encode submits frame. It blocks while QueueDepth frames are pending.
// The frame is only read during the call; the caller keeps ownership.
func (s *Stage) Encode(ctx context.Context, frame *pipeline.Frame) error {
	if frame == nil || frame.Released() {
		return s.failSync(pipeline.ErrFrameReleased)
	}

	if err := s.check(StateConfigured); err != nil {
		return err
	}

	// Back-pressure: one slot per pending frame.
	select {
	case s.slots <- struct{}{}:
	case <-s.faultCh:
		return s.faultErr()
	case <-ctx.Done():
		return pipeline.NewError(pipeline.KindCancelled, ctx.Err())
	}

	s.mu.Lock()
	if s.state != StateConfigured {
		s.mu.Unlock()
		s.freeSlot()
		return s.stateErr()
	}
	keyFrame := s.submitted == 0 ||
		(s.cfg.KeyFrameInterval > 0 && s.submitted%s.cfg.KeyFrameInterval == 0)
	s.pending++
	s.submitted++
	s.mu.Unlock()

	if err := s.encoder.Encode(frame.Image, frame.TimestampUs, keyFrame); err != nil {
		return s.failSync(fmt.Errorf("frame %d: %w", frame.Index, err))
	}
	return nil
}

// Flush waits until every submitted frame has been emitted.
func (s *Stage) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateConfigured {
		s.mu.Unlock()
		return s.stateErr()
	}
	s.state = StateDraining
	s.mu.Unlock()

	s.logger.Debug("Flushing encoder with %d pending frames", s.Pending())

	done := make(chan error, 1)
	go func() {
		done <- s.encoder.Flush()
	}()

	select {
	case err := <-done:
		if err != nil {
			return s.failSync(fmt.Errorf("flush: %w", err))
		}
	case <-s.faultCh:
		return s.faultErr()
	case <-ctx.Done():
		return pipeline.NewError(pipeline.KindCancelled, ctx.Err())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fault != nil {
		return s.fault
	}
	if s.state != StateDraining {
		return s.stateErrLocked()
	}
	if s.pending > 0 {
		// Frames merged or dropped inside the encoder never produce a chunk.
		s.logger.Debug("Encoder merged %d frames", s.pending)
		s.pending = 0
	}
	for len(s.slots) > 0 {
		<-s.slots
	}
	s.state = StateConfigured
	s.logger.Debug("Flushed: %d frames submitted, %d chunks emitted", s.submitted, s.emitted)
	return nil
}

// TakeChunks returns the chunks emitted since the last call, in order.
// Each chunk is returned exactly once.
func (s *Stage) TakeChunks() ([]pipeline.EncodedChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		if s.fault != nil {
			return nil, s.fault
		}
		return nil, fmt.Errorf("%w: take chunks after close", ErrInvalidState)
	}
	out := s.chunks
	s.chunks = nil
	return out, nil
}

// Close releases the encoder and drops undelivered chunks. It is safe to
// call in any state and more than once.
func (s *Stage) Close() error {
	s.mu.Lock()
	s.state = StateClosed
	s.chunks = nil
	if s.released {
		s.mu.Unlock()
		return nil
	}
	s.released = true
	s.mu.Unlock()

	s.logger.Debug("Closing encoder")
	return s.encoder.Close()
}

func (s *Stage) onOutput(p ports.EncodedPacket) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.chunks = append(s.chunks, pipeline.EncodedChunk{
		Data:        p.Data,
		TimestampUs: p.TimestampUs,
		DurationUs:  p.DurationUs,
		KeyFrame:    p.KeyFrame,
	})
	s.emitted++
	if s.pending > 0 {
		s.pending--
	}
	s.mu.Unlock()
	s.freeSlot()
}

func (s *Stage) onError(err error) {
	s.markFault(err)
}

// failSync records a fault raised on the caller's goroutine and releases
// the encoder immediately.
func (s *Stage) failSync(err error) error {
	fault := s.markFault(err)
	s.Close()
	return fault
}

func (s *Stage) markFault(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fault != nil {
		return s.fault
	}
	s.fault = pipeline.Classify(err, pipeline.KindEncode)
	s.state = StateClosed
	s.chunks = nil
	close(s.faultCh)
	s.logger.Debug("Encoder fault: %v", err)
	return s.fault
}

func (s *Stage) freeSlot() {
	select {
	case <-s.slots:
	default:
	}
}

func (s *Stage) check(want State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != want {
		return s.stateErrLocked()
	}
	return nil
}

func (s *Stage) faultErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fault
}

func (s *Stage) stateErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateErrLocked()
}

func (s *Stage) stateErrLocked() error {
	if s.fault != nil {
		return s.fault
	}
	return pipeline.NewError(pipeline.KindEncode, fmt.Errorf("%w: %s", ErrInvalidState, s.state))
}
