package mocks

import (
	"image"
	"sync"

	"github.com/user/vidcompress/pkg/ports"
)

// DebugSink is a mock implementation of ports.DebugSink.
type DebugSink struct {
	mu sync.RWMutex

	enabled bool

	SaveFrameFunc func(index int, img image.Image) error

	Frames      map[int]image.Image
	SampleTable []byte
}

// NewDebugSink creates a new mock DebugSink.
func NewDebugSink(enabled bool) *DebugSink {
	return &DebugSink{
		enabled: enabled,
		Frames:  make(map[int]image.Image),
	}
}

func (m *DebugSink) Enabled() bool {
	return m.enabled
}

func (m *DebugSink) SaveFrame(index int, img image.Image) error {
	if m.SaveFrameFunc != nil {
		if err := m.SaveFrameFunc(index, img); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Frames[index] = img
	return nil
}

func (m *DebugSink) SaveSampleTableJSON(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SampleTable = data
	return nil
}

// FrameIndexes returns the saved frame indexes (for test verification).
func (m *DebugSink) FrameIndexes() map[int]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[int]bool, len(m.Frames))
	for i := range m.Frames {
		out[i] = true
	}
	return out
}

var _ ports.DebugSink = (*DebugSink)(nil)

// NullSink is a no-op implementation of ports.DebugSink.
type NullSink struct{}

func (m *NullSink) Enabled() bool                              { return false }
func (m *NullSink) SaveFrame(index int, img image.Image) error { return nil }
func (m *NullSink) SaveSampleTableJSON(data []byte) error      { return nil }

var _ ports.DebugSink = (*NullSink)(nil)
