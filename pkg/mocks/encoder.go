package mocks

import (
	"errors"
	"image"
	"sync"
	"time"

	"github.com/user/vidcompress/pkg/ports"
)

// ErrEncoderClosed is returned by VideoEncoder after Close.
var ErrEncoderClosed = errors.New("mock encoder closed")

// Parameter sets used by AnnexBFrame. The SPS carries baseline profile,
// level 3.0 in bytes 1-3.
var (
	TestSPS = []byte{0x67, 0x42, 0xC0, 0x1E, 0xDA, 0x02, 0xD0, 0x66, 0x84}
	TestPPS = []byte{0x68, 0xCE, 0x3C, 0x80}
)

// AnnexBFrame builds an Annex B access unit: SPS, PPS and an IDR slice for
// key frames, a single non-IDR slice otherwise.
func AnnexBFrame(index int, keyFrame bool) []byte {
	startCode := []byte{0, 0, 0, 1}
	var out []byte
	if keyFrame {
		out = append(out, startCode...)
		out = append(out, TestSPS...)
		out = append(out, startCode...)
		out = append(out, TestPPS...)
		out = append(out, startCode...)
		out = append(out, 0x65, 0x88, byte(index>>8), byte(index))
	} else {
		out = append(out, startCode...)
		out = append(out, 0x41, 0x9A, byte(index>>8), byte(index))
	}
	return out
}

// VideoEncoder is a mock implementation of ports.VideoEncoder. Packets are
// emitted asynchronously, one per submitted frame, from a goroutine started
// by Configure.
type VideoEncoder struct {
	ConfigureFunc func(cfg ports.EncoderConfig) error
	EncodeFunc    func(img image.Image, timestampUs int64, keyFrame bool) error
	FlushFunc     func() error

	// Delay is waited before each packet.
	Delay time.Duration
	// Gate, when set, must be received from once per packet.
	Gate chan struct{}
	// FailErr is reported through OnError after FailAfter packets.
	FailErr   error
	FailAfter int
	// DurationUs is copied into every packet.
	DurationUs int64
	// TimestampFunc rewrites packet timestamps.
	TimestampFunc func(index int, timestampUs int64) int64
	// HeldFrames is reported by Latency.
	HeldFrames int

	mu       sync.Mutex
	cfg      ports.EncoderConfig
	jobs     chan encodeJob
	stop     chan struct{}
	done     chan struct{}
	inflight sync.WaitGroup
	closed   bool
	failed   bool

	// Recorded calls for verification
	ConfigureCalls int
	EncodeCalls    []EncodeCall
	FlushCalls     int
	CloseCalls     int
	Emitted        int
	MaxInFlight    int
}

// EncodeCall records a call to Encode.
type EncodeCall struct {
	TimestampUs int64
	KeyFrame    bool
	Width       int
	Height      int
}

type encodeJob struct {
	index       int
	timestampUs int64
	keyFrame    bool
}

func (m *VideoEncoder) Configure(cfg ports.EncoderConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ConfigureCalls++
	if m.ConfigureFunc != nil {
		if err := m.ConfigureFunc(cfg); err != nil {
			return err
		}
	}
	if m.closed {
		return ErrEncoderClosed
	}
	m.cfg = cfg
	if m.jobs == nil {
		m.jobs = make(chan encodeJob, 4096)
		m.stop = make(chan struct{})
		m.done = make(chan struct{})
		go m.run()
	}
	return nil
}

func (m *VideoEncoder) Encode(img image.Image, timestampUs int64, keyFrame bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrEncoderClosed
	}
	b := img.Bounds()
	m.EncodeCalls = append(m.EncodeCalls, EncodeCall{
		TimestampUs: timestampUs,
		KeyFrame:    keyFrame,
		Width:       b.Dx(),
		Height:      b.Dy(),
	})
	if m.EncodeFunc != nil {
		if err := m.EncodeFunc(img, timestampUs, keyFrame); err != nil {
			return err
		}
	}
	if inflight := len(m.EncodeCalls) - m.Emitted; inflight > m.MaxInFlight {
		m.MaxInFlight = inflight
	}
	m.inflight.Add(1)
	m.jobs <- encodeJob{index: len(m.EncodeCalls) - 1, timestampUs: timestampUs, keyFrame: keyFrame}
	return nil
}

func (m *VideoEncoder) Flush() error {
	m.mu.Lock()
	m.FlushCalls++
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return ErrEncoderClosed
	}
	m.inflight.Wait()
	if m.FlushFunc != nil {
		return m.FlushFunc()
	}
	return nil
}

// Close stops the emitter goroutine and waits for it, so no packet is
// delivered after Close returns.
func (m *VideoEncoder) Close() error {
	m.mu.Lock()
	m.CloseCalls++
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	stop, done := m.stop, m.done
	m.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	return nil
}

// Latency implements ports.LatentEncoder.
func (m *VideoEncoder) Latency() int {
	return m.HeldFrames
}

// Closed reports whether Close has been called.
func (m *VideoEncoder) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Submitted returns the number of Encode calls.
func (m *VideoEncoder) Submitted() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.EncodeCalls)
}

// EmittedCount returns the number of packets delivered.
func (m *VideoEncoder) EmittedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Emitted
}

func (m *VideoEncoder) run() {
	defer close(m.done)
	for {
		select {
		case <-m.stop:
			m.dropQueued()
			return
		case job := <-m.jobs:
			if !m.wait() {
				m.inflight.Done()
				m.dropQueued()
				return
			}
			m.deliver(job)
			m.inflight.Done()
		}
	}
}

// wait applies Delay and Gate. It returns false when stopped.
func (m *VideoEncoder) wait() bool {
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-m.stop:
			return false
		}
	}
	if m.Gate != nil {
		select {
		case <-m.Gate:
		case <-m.stop:
			return false
		}
	}
	return true
}

func (m *VideoEncoder) dropQueued() {
	for {
		select {
		case <-m.jobs:
			m.inflight.Done()
		default:
			return
		}
	}
}

func (m *VideoEncoder) deliver(job encodeJob) {
	m.mu.Lock()
	if m.closed || m.failed {
		m.mu.Unlock()
		return
	}
	if m.FailErr != nil && m.Emitted >= m.FailAfter {
		m.failed = true
		onError := m.cfg.OnError
		m.mu.Unlock()
		if onError != nil {
			onError(m.FailErr)
		}
		return
	}
	m.Emitted++
	ts := job.timestampUs
	if m.TimestampFunc != nil {
		ts = m.TimestampFunc(job.index, ts)
	}
	packet := ports.EncodedPacket{
		Data:        AnnexBFrame(job.index, job.keyFrame),
		TimestampUs: ts,
		DurationUs:  m.DurationUs,
		KeyFrame:    job.keyFrame,
	}
	output := m.cfg.Output
	m.mu.Unlock()

	if output != nil {
		output(packet)
	}
}

var (
	_ ports.VideoEncoder  = (*VideoEncoder)(nil)
	_ ports.LatentEncoder = (*VideoEncoder)(nil)
)

// EncoderFactory hands out mock encoders and keeps them for inspection.
type EncoderFactory struct {
	// New builds each encoder; nil yields a zero VideoEncoder.
	New func() *VideoEncoder

	mu       sync.Mutex
	Encoders []*VideoEncoder
}

func (f *EncoderFactory) NewEncoder() ports.VideoEncoder {
	enc := &VideoEncoder{}
	if f.New != nil {
		enc = f.New()
	}
	f.mu.Lock()
	f.Encoders = append(f.Encoders, enc)
	f.mu.Unlock()
	return enc
}

// Last returns the most recently created encoder.
func (f *EncoderFactory) Last() *VideoEncoder {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Encoders) == 0 {
		return nil
	}
	return f.Encoders[len(f.Encoders)-1]
}

var _ ports.EncoderFactory = (*EncoderFactory)(nil)
