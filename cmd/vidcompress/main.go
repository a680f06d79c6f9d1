// Package main provides the CLI entry point for vidcompress.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/ideamans/go-l10n"
	"github.com/urfave/cli/v2"

	"github.com/user/vidcompress/pkg/adapters/codecdetect"
	"github.com/user/vidcompress/pkg/adapters/ffmpegdecoder"
	"github.com/user/vidcompress/pkg/adapters/filesink"
	"github.com/user/vidcompress/pkg/adapters/h264encoder"
	"github.com/user/vidcompress/pkg/adapters/logger"
	"github.com/user/vidcompress/pkg/adapters/nullsink"
	"github.com/user/vidcompress/pkg/adapters/osfilesystem"
	"github.com/user/vidcompress/pkg/adapters/patternsource"
	"github.com/user/vidcompress/pkg/config"
	"github.com/user/vidcompress/pkg/metrics"
	"github.com/user/vidcompress/pkg/orchestrator"
	"github.com/user/vidcompress/pkg/pipeline"
	"github.com/user/vidcompress/pkg/ports"
	"github.com/user/vidcompress/pkg/summarizer"
)

var version = "dev"

const (
	catOutput   = "Output"
	catEncoding = "Encoding"
	catTools    = "Tools"
	catDebug    = "Debug"
	catLogging  = "Logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := newApp()
	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "vidcompress",
		Usage:   l10n.T("Downscale and re-encode videos to H.264 MP4"),
		Version: version,
		Commands: []*cli.Command{
			compressCommand(),
			synthCommand(),
			probeCommand(),
			inspectCommand(),
		},
	}
}

// encodingFlags are shared by compress and synth.
func encodingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: l10n.T("Output MP4 file path"), Category: l10n.T(catOutput)},
		&cli.StringFlag{Name: "summary", Usage: l10n.T("Output execution summary to file (Markdown format)"), Category: l10n.T(catOutput)},
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: l10n.T("YAML configuration file"), Category: l10n.T(catEncoding)},
		&cli.IntFlag{Name: "width", Aliases: []string{"W"}, Usage: l10n.T("Target width in pixels (default: 720)"), Category: l10n.T(catEncoding)},
		&cli.IntFlag{Name: "bitrate", Aliases: []string{"b"}, Usage: l10n.T("Target bitrate in bits per second"), Category: l10n.T(catEncoding)},
		&cli.IntFlag{Name: "fps", Usage: l10n.T("Frames sampled per second"), Category: l10n.T(catEncoding)},
		&cli.StringFlag{Name: "codec", Usage: l10n.T("H.264 codec string (e.g., avc1.42001E)"), Category: l10n.T(catEncoding)},
		&cli.StringFlag{Name: "filter", Usage: l10n.T("Scaling filter (catmullrom, bilinear, lanczos)"), Category: l10n.T(catEncoding)},
		&cli.IntFlag{Name: "keyframe-interval", Usage: l10n.T("Frames between key frames"), Category: l10n.T(catEncoding)},
		&cli.StringFlag{Name: "ffmpeg", Usage: l10n.T("Path to ffmpeg executable"), Category: l10n.T(catTools)},
		&cli.BoolFlag{Name: "software-only", Usage: l10n.T("Skip hardware encoders"), Category: l10n.T(catTools)},
		&cli.BoolFlag{Name: "debug", Aliases: []string{"d"}, Usage: l10n.T("Enable debug output"), Category: l10n.T(catDebug)},
		&cli.StringFlag{Name: "debug-dir", Usage: l10n.T("Directory for debug output"), Category: l10n.T(catDebug)},
		&cli.StringFlag{Name: "metrics-addr", Usage: l10n.T("Serve Prometheus metrics on this address (e.g., :9090)"), Category: l10n.T(catDebug)},
		&cli.StringFlag{Name: "log-level", Aliases: []string{"l"}, Usage: l10n.T("Log level (debug, info, warn, error)"), Category: l10n.T(catLogging)},
		&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: l10n.T("Suppress all log output"), Category: l10n.T(catLogging)},
	}
}

func compressCommand() *cli.Command {
	return &cli.Command{
		Name:      "compress",
		Usage:     l10n.T("Compress a video file to MP4"),
		ArgsUsage: "<input>",
		Flags:     encodingFlags(),
		Action: func(c *cli.Context) error {
			input := c.Args().First()
			if input == "" {
				return cli.Exit(l10n.T("Input file argument is required"), 2)
			}
			output, err := resolveOutput(input, c.String("output"))
			if err != nil {
				return cli.Exit(err, 2)
			}

			cfg, err := loadConfig(c)
			if err != nil {
				return cli.Exit(err, 2)
			}
			log := newLogger(cfg)
			fs := osfilesystem.New()

			data, err := fs.ReadFile(input)
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}

			probe := h264encoder.NewProbe(cfg.FFmpegPath, cfg.SoftwareOnly)
			decoder, err := ffmpegdecoder.New(probe.FFmpegPath())
			if err != nil {
				return pipeline.NewError(pipeline.KindCapabilityUnavailable, err)
			}

			r := &runner{cfg: cfg, log: log, fs: fs, probe: probe, output: output}
			return r.run(c, decoder, pipeline.InputFile{Name: input, Data: data})
		},
	}
}

func synthCommand() *cli.Command {
	flags := append(encodingFlags(),
		&cli.StringFlag{Name: "pattern", Value: "1280x720@2s", Usage: l10n.T("Test pattern size and duration (WxH@duration)"), Category: l10n.T(catEncoding)},
	)
	return &cli.Command{
		Name:  "synth",
		Usage: l10n.T("Compress a synthetic test pattern"),
		Flags: flags,
		Action: func(c *cli.Context) error {
			pattern, err := patternsource.ParsePattern(c.String("pattern"))
			if err != nil {
				return cli.Exit(err, 2)
			}
			output, err := resolveOutput("pattern", c.String("output"))
			if err != nil {
				return cli.Exit(err, 2)
			}

			cfg, err := loadConfig(c)
			if err != nil {
				return cli.Exit(err, 2)
			}
			log := newLogger(cfg)
			log.Info(l10n.F("Synthesizing %s test pattern", pattern))

			r := &runner{
				cfg:    cfg,
				log:    log,
				fs:     osfilesystem.New(),
				probe:  h264encoder.NewProbe(cfg.FFmpegPath, cfg.SoftwareOnly),
				output: output,
			}
			// The pattern decoder ignores the input bytes.
			input := pipeline.InputFile{Name: "pattern", Data: []byte(pattern.String())}
			return r.run(c, patternsource.New(pattern), input)
		},
	}
}

func probeCommand() *cli.Command {
	return &cli.Command{
		Name:  "probe",
		Usage: l10n.T("Report the available H.264 encoder"),
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "ffmpeg", Usage: l10n.T("Path to ffmpeg executable")},
			&cli.BoolFlag{Name: "software-only", Usage: l10n.T("Skip hardware encoders")},
		},
		Action: func(c *cli.Context) error {
			probe := h264encoder.NewProbe(c.String("ffmpeg"), c.Bool("software-only"))
			if !probe.Supported() {
				return pipeline.NewError(pipeline.KindCapabilityUnavailable, probe.Err())
			}
			kind := l10n.T("software")
			if h264encoder.IsHardware(probe.Implementation()) {
				kind = l10n.T("hardware")
			}
			fmt.Fprintf(c.App.Writer, "ffmpeg:  %s\n", probe.FFmpegPath())
			fmt.Fprintf(c.App.Writer, "encoder: %s (%s)\n", probe.Implementation(), kind)
			rejected := probe.Rejected()
			names := make([]string, 0, len(rejected))
			for name := range rejected {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(c.App.Writer, "skipped: %s (%s)\n", name, rejected[name])
			}
			return nil
		},
	}
}

func inspectCommand() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     l10n.T("Print video track information of an MP4 file"),
		ArgsUsage: "<file>",
		Action: func(c *cli.Context) error {
			path := c.Args().First()
			if path == "" {
				return cli.Exit(l10n.T("Input file argument is required"), 2)
			}
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()

			info, err := codecdetect.InspectReader(f)
			if err != nil {
				return err
			}
			w := c.App.Writer
			fmt.Fprintf(w, "codec:      %s", info.Codec)
			if info.CodecString != "" {
				fmt.Fprintf(w, " (%s)", info.CodecString)
			}
			fmt.Fprintln(w)
			fmt.Fprintf(w, "size:       %dx%d\n", info.Width, info.Height)
			dw, dh := info.DisplaySize()
			fmt.Fprintf(w, "display:    %dx%d (rotation %d)\n", dw, dh, info.Rotation)
			fmt.Fprintf(w, "duration:   %.3f s\n", info.Duration)
			fmt.Fprintf(w, "timescale:  %d\n", info.Timescale)
			fmt.Fprintf(w, "samples:    %d\n", info.SampleCount)
			fmt.Fprintf(w, "fragmented: %t\n", info.Fragmented)
			return nil
		},
	}
}

// loadConfig reads the optional config file and applies flag overrides.
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg := config.Defaults()
	if path := c.String("config"); path != "" {
		var err error
		if cfg, err = config.LoadFromFile(path); err != nil {
			return cfg, err
		}
	}

	if c.IsSet("width") {
		cfg.Width = c.Int("width")
	}
	if c.IsSet("bitrate") {
		cfg.Bitrate = c.Int("bitrate")
	}
	if c.IsSet("fps") {
		cfg.FrameRate = c.Int("fps")
	}
	if c.IsSet("codec") {
		cfg.Codec = c.String("codec")
	}
	if c.IsSet("filter") {
		cfg.Filter = c.String("filter")
	}
	if c.IsSet("keyframe-interval") {
		cfg.KeyFrameInterval = c.Int("keyframe-interval")
	}
	if c.IsSet("ffmpeg") {
		cfg.FFmpegPath = c.String("ffmpeg")
	}
	if c.IsSet("software-only") {
		cfg.SoftwareOnly = c.Bool("software-only")
	}
	if c.IsSet("debug") {
		cfg.Debug = c.Bool("debug")
	}
	if c.IsSet("debug-dir") {
		cfg.DebugDir = c.String("debug-dir")
		cfg.Debug = true
	}
	if c.IsSet("metrics-addr") {
		cfg.MetricsAddr = c.String("metrics-addr")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	if c.Bool("quiet") {
		cfg.LogLevel = ports.LevelQuiet.String()
	}

	return cfg, cfg.Validate()
}

func newLogger(cfg config.Config) ports.Logger {
	if cfg.Level() == ports.LevelQuiet {
		return logger.NewNoop()
	}
	return logger.NewConsole(cfg.Level())
}

// runner executes one compress run with the CLI's side outputs.
type runner struct {
	cfg    config.Config
	log    ports.Logger
	fs     ports.FileSystem
	probe  *h264encoder.Probe
	output string
}

func (r *runner) run(c *cli.Context, decoder ports.MediaDecoder, input pipeline.InputFile) error {
	ctx := c.Context

	if !r.probe.Supported() {
		r.log.Error(l10n.F("No accelerated video encoder available: %s", r.probe.Err()))
	} else {
		r.log.Info(l10n.F("Using %s encoder (ffmpeg: %s)", r.probe.Implementation(), r.probe.FFmpegPath()))
	}

	if r.cfg.MetricsAddr != "" {
		shutdown := r.serveMetrics(r.cfg.MetricsAddr)
		defer shutdown()
	}

	var sink ports.DebugSink = nullsink.New()
	if r.cfg.Debug {
		if err := r.fs.MkdirAll(r.cfg.DebugDir); err != nil {
			return fmt.Errorf("create debug directory: %w", err)
		}
		sink = filesink.New(r.cfg.DebugDir, r.fs)
		r.log.Info(l10n.F("Debug output enabled: %s", r.cfg.DebugDir))
	}

	orch := orchestrator.New(r.probe, decoder, h264encoder.NewFactory(r.probe), sink, r.log)

	progress := newProgressPrinter(c.App.ErrWriter, r.cfg.Level() == ports.LevelQuiet)
	result, err := orch.Run(ctx, input, r.cfg.ToOptions(), progress.Report)
	progress.Done()
	if err != nil {
		if errors.Is(err, pipeline.ErrCancelled) {
			r.log.Warn(l10n.T("Interrupted, shutting down..."))
		}
		return err
	}

	output := r.output
	if err := r.fs.WriteFile(output, result.File.Data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	r.log.Info(l10n.F("Output saved to %s", output))

	if path := c.String("summary"); path != "" {
		r.writeSummary(path, output, result)
	}
	return nil
}

func (r *runner) writeSummary(path, output string, result orchestrator.RunResult) {
	opts := result.Options
	summary := summarizer.NewBuilder().
		WithRunID(result.RunID).
		WithInput(summarizer.InputInfo{
			Name:        result.InputName,
			Bytes:       int64(result.SourceBytes),
			Width:       result.SourceWidth,
			Height:      result.SourceHeight,
			DurationSec: result.Duration,
		}).
		WithOutput(summarizer.OutputInfo{
			Name:        output,
			Bytes:       int64(len(result.File.Data)),
			Width:       result.Width,
			Height:      result.Height,
			FrameCount:  result.FrameCount,
			SampleCount: result.SampleCount,
			DurationMs:  result.DurationMs,
		}).
		WithSettings(summarizer.Settings{
			Codec:            opts.Codec,
			Bitrate:          opts.Bitrate,
			FrameRate:        opts.FrameRate,
			Width:            opts.Width,
			Filter:           string(opts.Filter),
			KeyFrameInterval: opts.KeyFrameInterval,
			Encoder:          r.probe.Implementation(),
		}).
		WithElapsed(result.Elapsed).
		Build()

	writer := summarizer.NewWriter(summarizer.NewMarkdownFormatter(
		summarizer.WithTranslator(l10n.T),
		summarizer.WithVersion(version),
	), r.fs)
	if err := writer.Write(path, summary); err != nil {
		r.log.Warn(l10n.F("Failed to write summary: %s", err))
		return
	}
	r.log.Info(l10n.F("Summary saved to %s", path))
}

// serveMetrics starts the metrics endpoint and returns its shutdown func.
func (r *runner) serveMetrics(addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.log.Warn(l10n.F("Metrics server stopped: %s", err))
		}
	}()
	r.log.Info(l10n.F("Metrics listening on %s", addr))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

// resolveOutput picks the MP4 path for input. An explicit path that names the
// input is refused; a derived path that would do so gets a ".compressed"
// suffix instead.
func resolveOutput(input, explicit string) (string, error) {
	if explicit != "" {
		if samePath(input, explicit) {
			return "", errors.New(l10n.F("Output %s would overwrite the input", explicit))
		}
		return explicit, nil
	}
	output := pipeline.OutputName(input)
	if samePath(input, output) {
		output = strings.TrimSuffix(output, filepath.Ext(output)) + ".compressed.mp4"
	}
	return output, nil
}

// samePath reports whether a and b name the same file, following links when
// both exist.
func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA == nil && errB == nil && absA == absB {
		return true
	}
	infoA, errA := os.Stat(a)
	infoB, errB := os.Stat(b)
	return errA == nil && errB == nil && os.SameFile(infoA, infoB)
}

// exitCode maps a failure to the process exit status.
func exitCode(err error) int {
	var exit cli.ExitCoder
	if errors.As(err, &exit) {
		return exit.ExitCode()
	}
	switch pipeline.KindOf(err) {
	case pipeline.KindCancelled:
		return 130
	case pipeline.KindCapabilityUnavailable:
		return 3
	default:
		return 1
	}
}
