// Package mux implements the muxer stage: it accumulates encoded chunks into
// a single video track and serializes a progressive MP4 file.
package mux

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/user/vidcompress/pkg/pipeline"
	"github.com/user/vidcompress/pkg/ports"
)

// Track is the handle returned by CreateTrack.
type Track struct {
	ID         uint32
	Descriptor pipeline.TrackDescriptor
}

// Muxer builds one MP4 file with one video track.
// The decode timestamp of every sample is the running sum of the previous
// durations; timestamps reported by the encoder are ignored.
type Muxer struct {
	logger ports.Logger

	mu        sync.Mutex
	track     *Track
	nominal   uint32
	samples   []pipeline.SampleEntry
	payloads  [][]byte
	nextDTS   uint64
	sps       [][]byte
	pps       [][]byte
	finalized bool
}

// New creates an empty Muxer.
func New(logger ports.Logger) *Muxer {
	return &Muxer{
		logger: logger.WithComponent("mux"),
	}
}

// CreateTrack registers the video track. It must be called exactly once,
// before any sample is appended.
func (m *Muxer) CreateTrack(desc pipeline.TrackDescriptor) (*Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.track != nil {
		return nil, pipeline.Errorf(pipeline.KindMux, "track already created")
	}
	if desc.Timescale == 0 {
		desc.Timescale = pipeline.Timescale
	}
	if desc.Timescale != pipeline.Timescale {
		return nil, pipeline.Errorf(pipeline.KindMux, "unsupported timescale %d", desc.Timescale)
	}
	if desc.Width <= 0 || desc.Height <= 0 || desc.Width > math.MaxUint16 || desc.Height > math.MaxUint16 {
		return nil, pipeline.Errorf(pipeline.KindMux, "invalid track size %dx%d", desc.Width, desc.Height)
	}
	if desc.Codec == "" {
		desc.Codec = pipeline.DefaultCodec
	}
	if !isAVC(desc.Codec) {
		return nil, pipeline.Errorf(pipeline.KindMux, "unsupported codec %q", desc.Codec)
	}
	if desc.FrameRate <= 0 {
		desc.FrameRate = pipeline.DefaultFrameRate
	}

	m.track = &Track{ID: 1, Descriptor: desc}
	m.nominal = nominalDuration(desc)
	m.logger.Debug("Created track %d: %s %dx%d, timescale %d",
		m.track.ID, desc.Codec, desc.Width, desc.Height, desc.Timescale)
	return m.track, nil
}

// AppendSample appends chunk to track.
func (m *Muxer) AppendSample(track *Track, chunk pipeline.EncodedChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.track == nil || track != m.track {
		return pipeline.Errorf(pipeline.KindMux, "unknown track")
	}
	if m.finalized {
		return pipeline.Errorf(pipeline.KindMux, "append after finalize")
	}
	if len(chunk.Data) == 0 {
		return pipeline.Errorf(pipeline.KindMux, "empty chunk at sample %d", len(m.samples))
	}

	nalus := splitNALUs(chunk.Data)
	if len(nalus) == 0 {
		return pipeline.Errorf(pipeline.KindMux, "no NAL units in chunk at sample %d", len(m.samples))
	}
	m.collectParameterSets(nalus)
	payload := toAVCC(nalus)
	if len(payload) == 0 {
		return pipeline.Errorf(pipeline.KindMux, "chunk at sample %d holds only parameter sets", len(m.samples))
	}

	dur := m.duration(chunk)
	m.samples = append(m.samples, pipeline.SampleEntry{
		DecodeTime:      m.nextDTS,
		CompositionTime: m.nextDTS,
		Duration:        dur,
		Size:            uint32(len(payload)),
		Sync:            chunk.KeyFrame,
	})
	m.payloads = append(m.payloads, payload)
	m.nextDTS += uint64(dur)
	return nil
}

// duration converts the chunk duration to track units, falling back to the
// nominal frame duration.
func (m *Muxer) duration(chunk pipeline.EncodedChunk) uint32 {
	if chunk.DurationUs <= 0 {
		return m.nominal
	}
	d := math.Round(float64(chunk.DurationUs) * float64(m.track.Descriptor.Timescale) / 1e6)
	if d < 1 {
		return 1
	}
	return uint32(d)
}

func (m *Muxer) collectParameterSets(nalus [][]byte) {
	for _, nalu := range nalus {
		switch naluType(nalu) {
		case naluSPS:
			if len(m.sps) == 0 {
				m.sps = append(m.sps, clone(nalu))
			}
		case naluPPS:
			if len(m.pps) == 0 {
				m.pps = append(m.pps, clone(nalu))
			}
		}
	}
}

// Finalize closes the sample table and returns the container bytes.
// It fails with MuxError if no sample was appended.
func (m *Muxer) Finalize() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.track == nil {
		return nil, pipeline.Errorf(pipeline.KindMux, "no track")
	}
	if m.finalized {
		return nil, pipeline.Errorf(pipeline.KindMux, "already finalized")
	}
	if len(m.samples) == 0 {
		return nil, pipeline.Errorf(pipeline.KindMux, "no samples")
	}

	data, err := m.buildMP4()
	if err != nil {
		return nil, pipeline.NewError(pipeline.KindMux, err)
	}
	m.finalized = true
	m.payloads = nil
	m.logger.Debug("Finalized %d samples, %d ms, %d bytes", len(m.samples), m.nextDTS, len(data))
	return data, nil
}

// Samples returns a copy of the sample table.
func (m *Muxer) Samples() []pipeline.SampleEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]pipeline.SampleEntry, len(m.samples))
	copy(out, m.samples)
	return out
}

// Duration returns the total track duration in timescale units.
func (m *Muxer) Duration() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextDTS
}

// SampleTableJSON returns the sample table as indented JSON.
func (m *Muxer) SampleTableJSON() ([]byte, error) {
	return json.MarshalIndent(m.Samples(), "", "  ")
}

func nominalDuration(desc pipeline.TrackDescriptor) uint32 {
	d := uint32(math.Round(float64(desc.Timescale) / float64(desc.FrameRate)))
	if d == 0 {
		d = 1
	}
	return d
}

func isAVC(codec string) bool {
	return strings.HasPrefix(codec, "avc1") || strings.HasPrefix(codec, "avc3")
}

func clone(b []byte) []byte {
	c := make([]byte, len(b))
	copy(c, b)
	return c
}

// String describes the track for logs.
func (t *Track) String() string {
	return fmt.Sprintf("track %d (%s %dx%d)", t.ID, t.Descriptor.Codec, t.Descriptor.Width, t.Descriptor.Height)
}
