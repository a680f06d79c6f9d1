package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Eyevinn/mp4ff/mp4"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/user/vidcompress/pkg/adapters/logger"
	"github.com/user/vidcompress/pkg/metrics"
	"github.com/user/vidcompress/pkg/mocks"
	"github.com/user/vidcompress/pkg/pipeline"
)

type fixture struct {
	probe    *mocks.Probe
	decoder  *mocks.MediaDecoder
	encoders *mocks.EncoderFactory
	sink     *mocks.DebugSink
	orch     *Orchestrator
}

func newFixture(width, height int, duration float64) *fixture {
	f := &fixture{
		probe:    &mocks.Probe{Available: true},
		decoder:  mocks.NewMediaDecoder(width, height, duration),
		encoders: &mocks.EncoderFactory{},
		sink:     mocks.NewDebugSink(false),
	}
	f.orch = New(f.probe, f.decoder, f.encoders, f.sink, logger.NewNoop())
	return f
}

// assertReleased checks that every playback and encoder was closed.
func (f *fixture) assertReleased(t *testing.T) {
	t.Helper()
	if n := f.decoder.OpenHandles(); n != 0 {
		t.Errorf("%d playback handles left open", n)
	}
	for i, enc := range f.encoders.Encoders {
		if !enc.Closed() {
			t.Errorf("encoder %d left open", i)
		}
	}
}

type recorder struct {
	mu     sync.Mutex
	events []pipeline.ProgressEvent
}

func (r *recorder) record(e pipeline.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) all() []pipeline.ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]pipeline.ProgressEvent(nil), r.events...)
}

func input(name string) pipeline.InputFile {
	return pipeline.InputFile{Name: name, Data: []byte("webm bytes")}
}

func TestCompress_Success(t *testing.T) {
	f := newFixture(1280, 720, 2.0)
	rec := &recorder{}

	out, err := f.orch.Compress(context.Background(), input("clip.webm"), pipeline.Options{}, rec.record)
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}

	if out.Name != "clip.mp4" {
		t.Errorf("Name = %q, want clip.mp4", out.Name)
	}
	if out.MIMEType != "video/mp4" {
		t.Errorf("MIMEType = %q", out.MIMEType)
	}

	enc := f.encoders.Last()
	if enc.Submitted() != 60 {
		t.Errorf("encoded %d frames, want 60", enc.Submitted())
	}
	for i, call := range enc.EncodeCalls {
		if call.Width != 720 || call.Height != 405 {
			t.Fatalf("frame %d encoded at %dx%d, want 720x405", i, call.Width, call.Height)
		}
	}

	mf, err := mp4.DecodeFile(bytes.NewReader(out.Data))
	if err != nil {
		t.Fatalf("output is not a valid MP4: %v", err)
	}
	stbl := mf.Moov.Traks[0].Mdia.Minf.Stbl
	if stbl.Stsz.SampleNumber != 60 {
		t.Errorf("sample count = %d, want 60", stbl.Stsz.SampleNumber)
	}
	if mf.Moov.Mvhd.Duration != 60*33 {
		t.Errorf("duration = %d, want %d", mf.Moov.Mvhd.Duration, 60*33)
	}

	events := rec.all()
	if len(events) == 0 {
		t.Fatal("no progress events")
	}
	if events[0] != (pipeline.ProgressEvent{Stage: pipeline.StageInitializing, Progress: 0}) {
		t.Errorf("first event = %+v", events[0])
	}
	last := events[len(events)-1]
	if last != (pipeline.ProgressEvent{Stage: pipeline.StageCompleted, Progress: 100}) {
		t.Errorf("last event = %+v", last)
	}
	sawFinalizing := false
	for i, e := range events {
		if i > 0 && e.Progress < events[i-1].Progress {
			t.Errorf("progress decreased at event %d: %d -> %d", i, events[i-1].Progress, e.Progress)
		}
		if e.Stage == pipeline.StageCompressing && e.Progress > 80 {
			t.Errorf("compressing progress %d exceeds 80", e.Progress)
		}
		if e.Stage == pipeline.StageFinalizing {
			sawFinalizing = e.Progress == 90
		}
	}
	if !sawFinalizing {
		t.Error("expected finalizing event at 90")
	}
	if events[60].Stage != pipeline.StageCompressing || events[60].Progress != 80 {
		t.Errorf("last compressing event = %+v, want 80", events[60])
	}

	f.assertReleased(t)
}

func TestCompress_CapabilityUnavailable(t *testing.T) {
	f := newFixture(1280, 720, 2.0)
	f.probe.Available = false
	rec := &recorder{}

	_, err := f.orch.Compress(context.Background(), input("clip.webm"), pipeline.Options{}, rec.record)
	if !errors.Is(err, pipeline.ErrCapabilityUnavailable) {
		t.Fatalf("expected CapabilityUnavailable, got %v", err)
	}
	if len(rec.all()) != 0 {
		t.Errorf("expected no progress events, got %v", rec.all())
	}
	if f.decoder.OpenCount() != 0 || len(f.encoders.Encoders) != 0 {
		t.Error("nothing should be allocated when the capability is missing")
	}
}

func TestCompress_FrameDecodeError(t *testing.T) {
	f := newFixture(1280, 720, 2.0)
	f.decoder.FailSeekAt(37, 30, errors.New("corrupt cluster"))
	rec := &recorder{}

	_, err := f.orch.Compress(context.Background(), input("clip.webm"), pipeline.Options{}, rec.record)
	if !errors.Is(err, pipeline.ErrFrameDecode) {
		t.Fatalf("expected FrameDecodeError, got %v", err)
	}
	var pe *pipeline.Error
	if !errors.As(err, &pe) || pe.Index != 37 {
		t.Errorf("expected index 37, got %v", err)
	}
	for _, e := range rec.all() {
		if e.Stage == pipeline.StageCompleted || e.Stage == pipeline.StageFinalizing {
			t.Errorf("unexpected %s event after failure", e.Stage)
		}
	}
	f.assertReleased(t)
}

func TestCompress_Cancelled(t *testing.T) {
	f := newFixture(1280, 720, 2.0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	compressing := 0
	onProgress := func(e pipeline.ProgressEvent) {
		if e.Stage == pipeline.StageCompressing {
			compressing++
			if compressing == 10 {
				cancel()
			}
		}
	}

	_, err := f.orch.Compress(ctx, input("clip.webm"), pipeline.Options{}, onProgress)
	if !errors.Is(err, pipeline.ErrCancelled) {
		t.Fatalf("expected Cancelled, got %v", err)
	}
	if compressing > 11 {
		t.Errorf("run kept going after cancel: %d compressing events", compressing)
	}
	f.assertReleased(t)
}

func TestRun_CancelledAtEachPhase(t *testing.T) {
	tests := []struct {
		name string
		// arm installs the cancel trigger and returns the progress callback.
		arm          func(t *testing.T, f *fixture, cancel context.CancelFunc) pipeline.ProgressFunc
		wantEncoders int
	}{
		{
			name: "during open",
			arm: func(t *testing.T, f *fixture, cancel context.CancelFunc) pipeline.ProgressFunc {
				f.decoder.OpenFunc = func(context.Context, []byte) error {
					cancel()
					return nil
				}
				return nil
			},
			wantEncoders: 0,
		},
		{
			name: "inside flush",
			arm: func(t *testing.T, f *fixture, cancel context.CancelFunc) pipeline.ProgressFunc {
				release := make(chan struct{})
				t.Cleanup(func() { close(release) })
				f.encoders.New = func() *mocks.VideoEncoder {
					return &mocks.VideoEncoder{FlushFunc: func() error {
						cancel()
						<-release
						return nil
					}}
				}
				return nil
			},
			wantEncoders: 1,
		},
		{
			name: "after flush before finalize",
			arm: func(t *testing.T, f *fixture, cancel context.CancelFunc) pipeline.ProgressFunc {
				return func(e pipeline.ProgressEvent) {
					if e.Stage == pipeline.StageFinalizing {
						cancel()
					}
				}
			},
			wantEncoders: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(640, 360, 1.0)
			f.sink = mocks.NewDebugSink(true)
			f.orch = New(f.probe, f.decoder, f.encoders, f.sink, logger.NewNoop())
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			onProgress := tt.arm(t, f, cancel)
			rec := &recorder{}
			outputBytes := testutil.ToFloat64(metrics.OutputBytesTotal)

			result, err := f.orch.Run(ctx, input("clip.webm"), pipeline.Options{}, func(e pipeline.ProgressEvent) {
				rec.record(e)
				if onProgress != nil {
					onProgress(e)
				}
			})
			if !errors.Is(err, pipeline.ErrCancelled) {
				t.Fatalf("expected Cancelled, got %v", err)
			}
			if len(result.File.Data) != 0 {
				t.Errorf("cancelled run returned %d output bytes", len(result.File.Data))
			}
			if got := testutil.ToFloat64(metrics.OutputBytesTotal) - outputBytes; got != 0 {
				t.Errorf("output bytes grew by %v after cancellation", got)
			}
			if f.sink.SampleTable != nil {
				t.Error("sample table written for a cancelled run")
			}
			for _, e := range rec.all() {
				if e.Stage == pipeline.StageCompleted {
					t.Error("completed event after cancellation")
				}
			}
			if got := len(f.encoders.Encoders); got != tt.wantEncoders {
				t.Errorf("created %d encoders, want %d", got, tt.wantEncoders)
			}
			f.assertReleased(t)
		})
	}
}

func TestCompress_QueueDepthWithinEncoderLatency(t *testing.T) {
	f := newFixture(640, 360, 1.0)
	f.encoders.New = func() *mocks.VideoEncoder {
		return &mocks.VideoEncoder{HeldFrames: 1}
	}

	_, err := f.orch.Compress(context.Background(), input("clip.webm"), pipeline.Options{QueueDepth: 1}, nil)
	if !errors.Is(err, pipeline.ErrEncoderConfig) {
		t.Fatalf("expected EncoderConfigError, got %v", err)
	}
	if enc := f.encoders.Last(); enc == nil || enc.Submitted() != 0 {
		t.Error("no frame should reach the encoder")
	}
	f.assertReleased(t)

	if _, err := f.orch.Compress(context.Background(), input("clip.webm"), pipeline.Options{QueueDepth: 2}, nil); err != nil {
		t.Fatalf("queue depth 2 failed: %v", err)
	}
}

func TestCompress_EncoderFault(t *testing.T) {
	f := newFixture(640, 360, 1.0)
	f.encoders.New = func() *mocks.VideoEncoder {
		return &mocks.VideoEncoder{FailErr: errors.New("gpu lost"), FailAfter: 5}
	}

	_, err := f.orch.Compress(context.Background(), input("clip.webm"), pipeline.Options{}, nil)
	if !errors.Is(err, pipeline.ErrEncode) {
		t.Fatalf("expected EncodeError, got %v", err)
	}
	f.assertReleased(t)
}

func TestCompress_MediaOpenError(t *testing.T) {
	f := newFixture(640, 360, 1.0)
	f.decoder.OpenFunc = func(context.Context, []byte) error { return errors.New("not a video") }
	rec := &recorder{}

	_, err := f.orch.Compress(context.Background(), input("notes.txt"), pipeline.Options{}, rec.record)
	if !errors.Is(err, pipeline.ErrMediaOpen) {
		t.Fatalf("expected MediaOpenError, got %v", err)
	}
	if len(rec.all()) != 0 {
		t.Errorf("expected no progress events, got %v", rec.all())
	}
	if len(f.encoders.Encoders) != 0 {
		t.Error("encoder should not be created when the media cannot be opened")
	}
}

func TestCompress_ZeroFramesIsMuxError(t *testing.T) {
	f := newFixture(640, 360, 0.02)

	_, err := f.orch.Compress(context.Background(), input("blip.webm"), pipeline.Options{}, nil)
	if !errors.Is(err, pipeline.ErrMux) {
		t.Fatalf("expected MuxError, got %v", err)
	}
	f.assertReleased(t)
}

func TestCompress_InvalidOptions(t *testing.T) {
	f := newFixture(640, 360, 1.0)

	for _, opts := range []pipeline.Options{
		{Width: -1},
		{Bitrate: -5},
		{Width: pipeline.MaxWidth + 1},
	} {
		if _, err := f.orch.Compress(context.Background(), input("a.webm"), opts, nil); !errors.Is(err, pipeline.ErrEncoderConfig) {
			t.Errorf("%+v: expected EncoderConfigError, got %v", opts, err)
		}
	}
	if f.decoder.OpenCount() != 0 {
		t.Error("media should not be opened with invalid options")
	}
}

func TestCompress_ConcurrentRunsAreIndependent(t *testing.T) {
	f := newFixture(1280, 720, 1.0)

	var wg sync.WaitGroup
	results := make([]pipeline.OutputFile, 3)
	errs := make([]error, 3)
	names := []string{"a.webm", "b.mov", "c.mkv"}
	for i := range names {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.orch.Compress(context.Background(), input(names[i]), pipeline.Options{}, nil)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("run %d failed: %v", i, err)
		}
	}
	for i, want := range []string{"a.mp4", "b.mp4", "c.mp4"} {
		if results[i].Name != want {
			t.Errorf("run %d name = %q, want %q", i, results[i].Name, want)
		}
	}
	if len(f.encoders.Encoders) != 3 {
		t.Errorf("expected one encoder per run, got %d", len(f.encoders.Encoders))
	}
	for i, enc := range f.encoders.Encoders {
		if enc.Submitted() != 30 {
			t.Errorf("encoder %d got %d frames, want 30", i, enc.Submitted())
		}
	}
	f.assertReleased(t)
}

func TestRun_DebugSink(t *testing.T) {
	f := newFixture(1280, 720, 2.0)
	f.sink = mocks.NewDebugSink(true)
	f.orch = New(f.probe, f.decoder, f.encoders, f.sink, logger.NewNoop())

	result, err := f.orch.Run(context.Background(), input("clip.webm"), pipeline.Options{KeyFrameInterval: 20}, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	saved := f.sink.FrameIndexes()
	if len(saved) != 3 || !saved[0] || !saved[20] || !saved[40] {
		t.Errorf("saved frames = %v, want 0, 20 and 40", saved)
	}
	if len(f.sink.SampleTable) == 0 {
		t.Error("expected sample table to be saved")
	}

	if result.Width != 720 || result.Height != 405 || result.FrameCount != 60 || result.SampleCount != 60 {
		t.Errorf("unexpected result %+v", result)
	}
	if result.DurationMs != 1980 {
		t.Errorf("DurationMs = %d, want 1980", result.DurationMs)
	}
	if result.RunID == "" {
		t.Error("expected a run ID")
	}
}

func TestRun_Metrics(t *testing.T) {
	success := testutil.ToFloat64(metrics.RunsTotal.WithLabelValues(metrics.ResultSuccess))
	decodeFailures := testutil.ToFloat64(metrics.RunFailuresTotal.WithLabelValues("FrameDecodeError"))

	f := newFixture(320, 180, 0.5)
	if _, err := f.orch.Run(context.Background(), input("ok.webm"), pipeline.Options{Width: 160}, nil); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	f.decoder.FailSeekAt(3, 30, errors.New("bad frame"))
	f.orch.Run(context.Background(), input("bad.webm"), pipeline.Options{Width: 160}, nil)

	if got := testutil.ToFloat64(metrics.RunsTotal.WithLabelValues(metrics.ResultSuccess)) - success; got != 1 {
		t.Errorf("success runs delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.RunFailuresTotal.WithLabelValues("FrameDecodeError")) - decodeFailures; got != 1 {
		t.Errorf("decode failures delta = %v, want 1", got)
	}
}
