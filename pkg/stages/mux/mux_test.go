package mux

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Eyevinn/mp4ff/mp4"

	"github.com/user/vidcompress/pkg/adapters/logger"
	"github.com/user/vidcompress/pkg/mocks"
	"github.com/user/vidcompress/pkg/pipeline"
)

func testDescriptor() pipeline.TrackDescriptor {
	return pipeline.TrackDescriptor{
		Timescale: pipeline.Timescale,
		Width:     720,
		Height:    405,
		Codec:     pipeline.DefaultCodec,
		FrameRate: 30,
	}
}

func newTrack(t *testing.T) (*Muxer, *Track) {
	t.Helper()
	m := New(logger.NewNoop())
	track, err := m.CreateTrack(testDescriptor())
	if err != nil {
		t.Fatalf("CreateTrack failed: %v", err)
	}
	return m, track
}

func chunk(index int, key bool, ts, dur int64) pipeline.EncodedChunk {
	return pipeline.EncodedChunk{
		Data:        mocks.AnnexBFrame(index, key),
		TimestampUs: ts,
		DurationUs:  dur,
		KeyFrame:    key,
	}
}

func TestMuxer_DecodeTimesAreCumulative(t *testing.T) {
	m, track := newTrack(t)

	// Encoder timestamps are deliberately out of order and ignored.
	timestamps := []int64{500_000, 0, 999_999, 10, 42}
	for i, ts := range timestamps {
		if err := m.AppendSample(track, chunk(i, i == 0, ts, 0)); err != nil {
			t.Fatalf("AppendSample %d failed: %v", i, err)
		}
	}

	samples := m.Samples()
	var want uint64
	for i, s := range samples {
		if s.DecodeTime != want || s.CompositionTime != want {
			t.Errorf("sample %d: dts=%d cts=%d, want %d", i, s.DecodeTime, s.CompositionTime, want)
		}
		if s.Duration != 33 {
			t.Errorf("sample %d: duration %d, want nominal 33", i, s.Duration)
		}
		want += uint64(s.Duration)
	}
	if m.Duration() != 165 {
		t.Errorf("Duration = %d, want 165", m.Duration())
	}
	if !samples[0].Sync || samples[1].Sync {
		t.Error("sync flags should follow the chunk key flag")
	}
}

func TestMuxer_ChunkDurationConverted(t *testing.T) {
	m, track := newTrack(t)

	m.AppendSample(track, chunk(0, true, 0, 40_000))
	m.AppendSample(track, chunk(1, false, 0, 100))

	samples := m.Samples()
	if samples[0].Duration != 40 {
		t.Errorf("duration = %d, want 40", samples[0].Duration)
	}
	if samples[1].Duration != 1 {
		t.Errorf("sub-unit duration should round up to 1, got %d", samples[1].Duration)
	}
	if samples[1].DecodeTime != 40 {
		t.Errorf("dts = %d, want 40", samples[1].DecodeTime)
	}
}

func TestMuxer_FinalizeWithoutSamples(t *testing.T) {
	m, _ := newTrack(t)
	if _, err := m.Finalize(); !errors.Is(err, pipeline.ErrMux) {
		t.Errorf("expected MuxError, got %v", err)
	}
}

func TestMuxer_CreateTrackErrors(t *testing.T) {
	m := New(logger.NewNoop())

	bad := testDescriptor()
	bad.Timescale = 90000
	if _, err := m.CreateTrack(bad); !errors.Is(err, pipeline.ErrMux) {
		t.Errorf("timescale 90000: expected MuxError, got %v", err)
	}

	bad = testDescriptor()
	bad.Codec = "vp09.00.10.08"
	if _, err := m.CreateTrack(bad); !errors.Is(err, pipeline.ErrMux) {
		t.Errorf("vp9: expected MuxError, got %v", err)
	}

	bad = testDescriptor()
	bad.Width = 0
	if _, err := m.CreateTrack(bad); !errors.Is(err, pipeline.ErrMux) {
		t.Errorf("zero width: expected MuxError, got %v", err)
	}

	if _, err := m.CreateTrack(testDescriptor()); err != nil {
		t.Fatalf("CreateTrack failed: %v", err)
	}
	if _, err := m.CreateTrack(testDescriptor()); !errors.Is(err, pipeline.ErrMux) {
		t.Errorf("second track: expected MuxError, got %v", err)
	}
}

func TestMuxer_AppendErrors(t *testing.T) {
	m, track := newTrack(t)

	if err := m.AppendSample(&Track{ID: 9}, chunk(0, true, 0, 0)); !errors.Is(err, pipeline.ErrMux) {
		t.Errorf("foreign track: expected MuxError, got %v", err)
	}
	if err := m.AppendSample(track, pipeline.EncodedChunk{}); !errors.Is(err, pipeline.ErrMux) {
		t.Errorf("empty chunk: expected MuxError, got %v", err)
	}

	m.AppendSample(track, chunk(0, true, 0, 0))
	if _, err := m.Finalize(); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if err := m.AppendSample(track, chunk(1, false, 0, 0)); !errors.Is(err, pipeline.ErrMux) {
		t.Errorf("append after finalize: expected MuxError, got %v", err)
	}
	if _, err := m.Finalize(); !errors.Is(err, pipeline.ErrMux) {
		t.Errorf("second finalize: expected MuxError, got %v", err)
	}
}

func TestMuxer_FinalizeProducesValidMP4(t *testing.T) {
	m, track := newTrack(t)

	const n = 61
	for i := 0; i < n; i++ {
		if err := m.AppendSample(track, chunk(i, i%30 == 0, 0, 0)); err != nil {
			t.Fatalf("AppendSample %d failed: %v", i, err)
		}
	}
	data, err := m.Finalize()
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	f, err := mp4.DecodeFile(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("output is not a valid MP4: %v", err)
	}
	if f.IsFragmented() {
		t.Error("output should be progressive")
	}
	if f.Moov == nil || len(f.Moov.Traks) != 1 {
		t.Fatalf("expected one track")
	}
	if f.Moov.Mvhd.Timescale != 1000 {
		t.Errorf("movie timescale = %d, want 1000", f.Moov.Mvhd.Timescale)
	}
	if f.Moov.Mvhd.Duration != n*33 {
		t.Errorf("movie duration = %d, want %d", f.Moov.Mvhd.Duration, n*33)
	}

	trak := f.Moov.Traks[0]
	if trak.Mdia.Mdhd.Timescale != 1000 {
		t.Errorf("media timescale = %d", trak.Mdia.Mdhd.Timescale)
	}
	stbl := trak.Mdia.Minf.Stbl
	if stbl.Stsz.SampleNumber != n {
		t.Errorf("stsz sample count = %d, want %d", stbl.Stsz.SampleNumber, n)
	}
	if len(stbl.Stts.SampleCount) != 1 || stbl.Stts.SampleCount[0] != n || stbl.Stts.SampleTimeDelta[0] != 33 {
		t.Errorf("unexpected stts %v/%v", stbl.Stts.SampleCount, stbl.Stts.SampleTimeDelta)
	}
	if stbl.Stss == nil {
		t.Fatal("expected stss box")
	}
	if got := stbl.Stss.SampleNumber; len(got) != 3 || got[0] != 1 || got[1] != 31 || got[2] != 61 {
		t.Errorf("sync samples = %v, want [1 31 61]", got)
	}

	vse, ok := stbl.Stsd.Children[0].(*mp4.VisualSampleEntryBox)
	if !ok {
		t.Fatalf("unexpected sample entry %T", stbl.Stsd.Children[0])
	}
	if vse.Width != 720 || vse.Height != 405 {
		t.Errorf("sample entry size %dx%d", vse.Width, vse.Height)
	}
	if vse.AvcC == nil || vse.AvcC.AVCProfileIndication != 0x42 || vse.AvcC.AVCLevelIndication != 0x1E {
		t.Errorf("unexpected avcC %+v", vse.AvcC)
	}

	// The chunk offset points at the first sample: a length-prefixed IDR slice.
	off := stbl.Stco.ChunkOffset[0]
	first := data[off : off+5]
	if !bytes.Equal(first, []byte{0, 0, 0, 4, 0x65}) {
		t.Errorf("first sample starts with %x", first)
	}
}

func TestMuxer_SampleTableJSON(t *testing.T) {
	m, track := newTrack(t)
	m.AppendSample(track, chunk(0, true, 0, 0))
	m.AppendSample(track, chunk(1, false, 0, 0))

	data, err := m.SampleTableJSON()
	if err != nil {
		t.Fatalf("SampleTableJSON failed: %v", err)
	}
	var entries []pipeline.SampleEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(entries) != 2 || entries[1].DecodeTime != 33 {
		t.Errorf("unexpected entries %+v", entries)
	}
}

func TestSplitNALUs(t *testing.T) {
	annexB := mocks.AnnexBFrame(0, true)
	nalus := splitNALUs(annexB)
	if len(nalus) != 3 {
		t.Fatalf("expected 3 NAL units, got %d", len(nalus))
	}
	if naluType(nalus[0]) != naluSPS || naluType(nalus[1]) != naluPPS || naluType(nalus[2]) != naluIDR {
		t.Errorf("unexpected NAL types %d %d %d", naluType(nalus[0]), naluType(nalus[1]), naluType(nalus[2]))
	}

	avcc := toAVCC(nalus)
	if !bytes.Equal(avcc, []byte{0, 0, 0, 4, 0x65, 0x88, 0, 0}) {
		t.Errorf("toAVCC = %x", avcc)
	}

	// Length-prefixed input round-trips.
	again := splitNALUs(avcc)
	if len(again) != 1 || naluType(again[0]) != naluIDR {
		t.Errorf("AVCC split = %x", again)
	}

	if got := parseAVCC([]byte{0, 0, 0, 9, 1}); got != nil {
		t.Errorf("truncated AVCC should be rejected, got %x", got)
	}
}
