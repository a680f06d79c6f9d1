// Package orchestrator wires the frame source, scaler, encoder and muxer
// stages into a single compress operation.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ideamans/go-l10n"

	"github.com/user/vidcompress/pkg/adapters/nullsink"
	"github.com/user/vidcompress/pkg/metrics"
	"github.com/user/vidcompress/pkg/pipeline"
	"github.com/user/vidcompress/pkg/ports"
	"github.com/user/vidcompress/pkg/stages/encode"
	"github.com/user/vidcompress/pkg/stages/mux"
	"github.com/user/vidcompress/pkg/stages/scale"
	"github.com/user/vidcompress/pkg/stages/source"
)

// Orchestrator runs compress operations. It holds no per-run state, so
// concurrent runs each get their own encoder and muxer.
type Orchestrator struct {
	probe    ports.CapabilityProbe
	decoder  ports.MediaDecoder
	encoders ports.EncoderFactory
	sink     ports.DebugSink
	logger   ports.Logger
}

// New creates a new Orchestrator. A nil sink disables debug output.
func New(
	probe ports.CapabilityProbe,
	decoder ports.MediaDecoder,
	encoders ports.EncoderFactory,
	sink ports.DebugSink,
	logger ports.Logger,
) *Orchestrator {
	if sink == nil {
		sink = nullsink.New()
	}
	return &Orchestrator{
		probe:    probe,
		decoder:  decoder,
		encoders: encoders,
		sink:     sink,
		logger:   logger,
	}
}

// RunResult describes a finished run.
type RunResult struct {
	RunID        string
	InputName    string
	File         pipeline.OutputFile
	SourceWidth  int
	SourceHeight int
	SourceBytes  int
	Duration     float64 // Source duration in seconds
	Width        int
	Height       int
	FrameCount   int
	SampleCount  int
	DurationMs   uint64 // Output track duration
	Elapsed      time.Duration
	Options      pipeline.Options
}

// Compress re-encodes input and returns the finished MP4 file.
func (o *Orchestrator) Compress(ctx context.Context, input pipeline.InputFile, opts pipeline.Options, onProgress pipeline.ProgressFunc) (pipeline.OutputFile, error) {
	result, err := o.Run(ctx, input, opts, onProgress)
	if err != nil {
		return pipeline.OutputFile{}, err
	}
	return result.File, nil
}

// Run is Compress with run statistics. Every resource acquired by the run
// is released before Run returns, on success and on failure.
func (o *Orchestrator) Run(ctx context.Context, input pipeline.InputFile, opts pipeline.Options, onProgress pipeline.ProgressFunc) (result RunResult, err error) {
	started := time.Now()
	runID := uuid.NewString()
	log := o.logger.WithComponent("run " + runID[:8])

	metrics.RunsInFlight.Inc()
	defer func() {
		metrics.RunsInFlight.Dec()
		metrics.RunDuration.Observe(time.Since(started).Seconds())
		switch {
		case err == nil:
			metrics.RunsTotal.WithLabelValues(metrics.ResultSuccess).Inc()
		case pipeline.KindOf(err) == pipeline.KindCancelled:
			metrics.RunsTotal.WithLabelValues(metrics.ResultCancelled).Inc()
		default:
			metrics.RunsTotal.WithLabelValues(metrics.ResultFailure).Inc()
		}
		if err != nil {
			metrics.RunFailuresTotal.WithLabelValues(pipeline.KindOf(err).String()).Inc()
			log.Error(l10n.F("Compression failed: %s", err))
		}
	}()

	// Capability check comes before any allocation.
	if o.probe == nil || !o.probe.Supported() {
		return RunResult{}, pipeline.Errorf(pipeline.KindCapabilityUnavailable, "no accelerated video encoder available")
	}

	opts = opts.WithDefaults()
	if err := validateOptions(opts); err != nil {
		return RunResult{}, err
	}

	progress := newProgressReporter(onProgress)
	log.Info(l10n.F("Compressing %s (%d bytes)", input.Name, len(input.Data)))

	// 1. Open media
	media, err := source.Open(ctx, o.decoder, input.Data, log)
	if err != nil {
		return RunResult{}, err
	}
	defer media.Close()

	scaler, err := scale.New(opts.Width, opts.Filter)
	if err != nil {
		return RunResult{}, pipeline.NewError(pipeline.KindEncoderConfig, err)
	}
	width, height := scaler.OutputSize(media.Width(), media.Height())
	frameCount := media.FrameCount(opts.FrameRate)
	log.Info(l10n.F("Source %dx%d, %.2f s; output %dx%d, %d frames",
		media.Width(), media.Height(), media.Duration(), width, height, frameCount))

	progress.initializing()

	// 2. Configure encoder
	encoder := encode.NewStage(o.encoders.NewEncoder(), log)
	defer encoder.Close()

	err = encoder.Configure(encode.Config{
		Codec:            opts.Codec,
		Width:            width,
		Height:           height,
		Bitrate:          opts.Bitrate,
		FrameRate:        opts.FrameRate,
		QueueDepth:       opts.QueueDepth,
		KeyFrameInterval: opts.KeyFrameInterval,
	})
	if err != nil {
		return RunResult{}, err
	}

	// 3. Create track
	muxer := mux.New(log)
	track, err := muxer.CreateTrack(pipeline.TrackDescriptor{
		Timescale: pipeline.Timescale,
		Width:     width,
		Height:    height,
		Codec:     opts.Codec,
		FrameRate: opts.FrameRate,
	})
	if err != nil {
		return RunResult{}, err
	}

	// 4. Decode, scale and encode frame by frame
	seq, err := media.Frames(opts.FrameRate)
	if err != nil {
		return RunResult{}, pipeline.NewError(pipeline.KindMediaOpen, err)
	}
	defer seq.Stop()

	done := 0
	for seq.Next(ctx) {
		if err := o.processFrame(ctx, log, seq.Frame(), scaler, encoder, opts); err != nil {
			return RunResult{}, err
		}
		if err := drain(encoder, muxer, track); err != nil {
			return RunResult{}, err
		}
		done++
		progress.compressing(done, frameCount)
	}
	if err := seq.Err(); err != nil {
		return RunResult{}, err
	}

	// 5. Flush
	if err := encoder.Flush(ctx); err != nil {
		return RunResult{}, err
	}
	if err := drain(encoder, muxer, track); err != nil {
		return RunResult{}, err
	}
	progress.finalizing()
	log.Info(l10n.F("Encoded %d frames into %d samples", done, len(muxer.Samples())))

	// 6. Finalize
	if err := ctx.Err(); err != nil {
		return RunResult{}, pipeline.NewError(pipeline.KindCancelled, err)
	}
	data, err := muxer.Finalize()
	if err != nil {
		return RunResult{}, err
	}
	metrics.OutputBytesTotal.Add(float64(len(data)))

	if o.sink.Enabled() {
		if table, err := muxer.SampleTableJSON(); err == nil {
			if err := o.sink.SaveSampleTableJSON(table); err != nil {
				log.Warn(l10n.F("Failed to save debug output: %s", err))
			}
		}
	}

	progress.completed()
	log.Info(l10n.F("Compressed to %d bytes in %s", len(data), time.Since(started).Round(time.Millisecond)))

	return RunResult{
		RunID:     runID,
		InputName: input.Name,
		File: pipeline.OutputFile{
			Name:     pipeline.OutputName(input.Name),
			MIMEType: pipeline.OutputMIMEType,
			Data:     data,
		},
		SourceWidth:  media.Width(),
		SourceHeight: media.Height(),
		SourceBytes:  len(input.Data),
		Duration:     media.Duration(),
		Width:        width,
		Height:       height,
		FrameCount:   done,
		SampleCount:  len(muxer.Samples()),
		DurationMs:   muxer.Duration(),
		Elapsed:      time.Since(started),
		Options:      opts,
	}, nil
}

// processFrame scales raw and submits it to the encoder. Both frames are
// released before it returns.
func (o *Orchestrator) processFrame(ctx context.Context, log ports.Logger, raw *pipeline.Frame, scaler *scale.Scaler, encoder *encode.Stage, opts pipeline.Options) error {
	scaled, err := scaler.Execute(ctx, raw)
	if err != nil {
		raw.Release()
		return pipeline.Classify(fmt.Errorf("scale frame %d: %w", raw.Index, err), pipeline.KindEncode)
	}
	defer scaled.Release()

	if o.sink.Enabled() && (scaled.Index == 0 || scaled.Index%opts.KeyFrameInterval == 0) {
		if err := o.sink.SaveFrame(scaled.Index, scaled.Image); err != nil {
			log.Warn(l10n.F("Failed to save debug output: %s", err))
		}
	}

	if err := encoder.Encode(ctx, scaled); err != nil {
		return err
	}
	metrics.FramesEncodedTotal.Inc()
	metrics.EncoderQueueDepth.Set(float64(encoder.Pending()))
	return nil
}

// drain moves emitted chunks into the track in emission order.
func drain(encoder *encode.Stage, muxer *mux.Muxer, track *mux.Track) error {
	chunks, err := encoder.TakeChunks()
	if err != nil {
		return err
	}
	for _, chunk := range chunks {
		if err := muxer.AppendSample(track, chunk); err != nil {
			return err
		}
		metrics.ChunksMuxedTotal.Inc()
	}
	return nil
}

func validateOptions(opts pipeline.Options) error {
	switch {
	case opts.Width <= 0 || opts.Width > pipeline.MaxWidth:
		return pipeline.Errorf(pipeline.KindEncoderConfig, "invalid width %d", opts.Width)
	case opts.Bitrate <= 0:
		return pipeline.Errorf(pipeline.KindEncoderConfig, "invalid bitrate %d", opts.Bitrate)
	case opts.FrameRate <= 0:
		return pipeline.Errorf(pipeline.KindEncoderConfig, "invalid frame rate %d", opts.FrameRate)
	case opts.QueueDepth <= 0:
		return pipeline.Errorf(pipeline.KindEncoderConfig, "invalid queue depth %d", opts.QueueDepth)
	case opts.KeyFrameInterval <= 0:
		return pipeline.Errorf(pipeline.KindEncoderConfig, "invalid key frame interval %d", opts.KeyFrameInterval)
	}
	return nil
}
