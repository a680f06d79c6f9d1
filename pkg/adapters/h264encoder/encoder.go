// Package h264encoder provides H.264 encoding through an ffmpeg process.
// Raw RGBA frames are piped to ffmpeg and the Annex B output is split into
// one packet per access unit, so packets arrive asynchronously on a reader
// goroutine.
package h264encoder

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/user/vidcompress/pkg/ports"
)

// Encoder implements ports.VideoEncoder on top of ffmpeg.
type Encoder struct {
	ffmpegPath string
	impl       string

	mu         sync.Mutex
	cfg        ports.EncoderConfig
	codec      CodecString
	configured bool
	closed     bool
	flushing   bool
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	stderr     *bytes.Buffer
	done       chan struct{}
	waitErr    error
	timestamps []int64
	emitted    int

	// writeMu serializes frame writes without holding mu, so the reader
	// goroutine can emit packets while a write blocks on a full pipe.
	writeMu  sync.Mutex
	frameBuf *image.RGBA
}

// NewEncoder creates an encoder that runs ffmpegPath with the given ffmpeg
// encoder implementation (e.g. libx264).
func NewEncoder(ffmpegPath, impl string) *Encoder {
	return &Encoder{ffmpegPath: ffmpegPath, impl: impl}
}

// Factory creates encoders from a Probe's detection result.
type Factory struct {
	probe *Probe
}

// NewFactory creates a Factory.
func NewFactory(probe *Probe) *Factory {
	return &Factory{probe: probe}
}

// NewEncoder implements ports.EncoderFactory.
func (f *Factory) NewEncoder() ports.VideoEncoder {
	return NewEncoder(f.probe.FFmpegPath(), f.probe.Implementation())
}

// Configure implements ports.VideoEncoder.
func (e *Encoder) Configure(cfg ports.EncoderConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	if e.cmd != nil {
		return fmt.Errorf("h264encoder: configure while encoding")
	}
	if e.ffmpegPath == "" || e.impl == "" {
		return ErrNoH264Encoder
	}

	codec, err := ParseCodecString(cfg.Codec)
	if err != nil {
		return err
	}
	switch {
	case cfg.Width <= 0 || cfg.Height <= 0:
		return fmt.Errorf("h264encoder: invalid dimensions %dx%d", cfg.Width, cfg.Height)
	case cfg.Bitrate <= 0:
		return fmt.Errorf("h264encoder: invalid bitrate %d", cfg.Bitrate)
	case cfg.FrameRate <= 0:
		return fmt.Errorf("h264encoder: invalid frame rate %d", cfg.FrameRate)
	case cfg.Output == nil:
		return fmt.Errorf("h264encoder: output callback is required")
	}
	if err := codec.CheckResolution(cfg.Width, cfg.Height); err != nil {
		return err
	}

	e.cfg = cfg
	e.codec = codec
	e.configured = true
	e.frameBuf = image.NewRGBA(image.Rect(0, 0, cfg.Width, cfg.Height))
	return nil
}

// Latency implements ports.LatentEncoder. An access unit is only complete
// once the next delimiter arrives, so the newest frame waits for the next
// one or for Flush.
func (e *Encoder) Latency() int {
	return 1
}

// Args returns the ffmpeg command line for the current configuration.
func (e *Encoder) Args() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.argsLocked()
}

func (e *Encoder) argsLocked() []string {
	cfg := e.cfg
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"-framerate", strconv.Itoa(cfg.FrameRate),
		"-i", "pipe:0",
		// 4:2:0 needs even dimensions; the track keeps the requested size.
		"-vf", "pad=ceil(iw/2)*2:ceil(ih/2)*2",
		"-pix_fmt", "yuv420p",
		"-c:v", e.impl,
	}
	if e.impl == "libx264" {
		args = append(args, "-preset", "veryfast", "-tune", "zerolatency")
		if p := e.codec.Profile(); p != "" {
			args = append(args, "-profile:v", p)
		}
		args = append(args, "-level", e.codec.Level())
	}
	args = append(args, "-b:v", strconv.Itoa(cfg.Bitrate))
	if cfg.GOP > 0 {
		args = append(args, "-g", strconv.Itoa(cfg.GOP))
	}
	args = append(args,
		"-bf", "0",
		"-bsf:v", "h264_metadata=aud=insert",
		"-flush_packets", "1",
		"-f", "h264",
		"pipe:1",
	)
	return args
}

// start launches ffmpeg. Callers hold e.mu.
func (e *Encoder) start() error {
	cmd := exec.Command(e.ffmpegPath, e.argsLocked()...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	e.cmd = cmd
	e.stdin = stdin
	e.stderr = stderr
	e.done = make(chan struct{})
	e.waitErr = nil
	e.flushing = false
	e.timestamps = e.timestamps[:0]
	e.emitted = 0

	go e.readLoop(cmd, stdout, e.done)
	return nil
}

// Encode implements ports.VideoEncoder. ffmpeg places key frames from the
// configured GOP, so keyFrame is advisory.
func (e *Encoder) Encode(img image.Image, timestampUs int64, keyFrame bool) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if !e.configured {
		e.mu.Unlock()
		return ErrNotConfigured
	}
	if e.cmd == nil {
		if err := e.start(); err != nil {
			e.mu.Unlock()
			return err
		}
	}
	e.timestamps = append(e.timestamps, timestampUs)
	stdin, done, stderr := e.stdin, e.done, e.stderr
	e.mu.Unlock()

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	pix := e.rgbaPixels(img)
	if _, err := stdin.Write(pix); err != nil {
		return e.writeError(err, done, stderr)
	}
	return nil
}

// exitGrace bounds how long a failed write waits for ffmpeg to exit.
const exitGrace = 2 * time.Second

// writeError explains a failed pipe write. A broken pipe usually means ffmpeg
// has exited, so the exit status and stderr are attached once it is reaped.
func (e *Encoder) writeError(err error, done <-chan struct{}, stderr *bytes.Buffer) error {
	select {
	case <-done:
	case <-time.After(exitGrace):
		return fmt.Errorf("failed to write frame: %w", err)
	}

	e.mu.Lock()
	waitErr := e.waitErr
	e.mu.Unlock()
	msg := bytes.TrimSpace(stderr.Bytes())
	if waitErr != nil {
		return fmt.Errorf("failed to write frame: %w: ffmpeg exited: %v: %s", err, waitErr, msg)
	}
	return fmt.Errorf("failed to write frame: %w: %s", err, msg)
}

// rgbaPixels returns tightly packed RGBA bytes of the configured size.
// Callers hold e.writeMu.
func (e *Encoder) rgbaPixels(img image.Image) []byte {
	w, h := e.cfg.Width, e.cfg.Height
	if rgba, ok := img.(*image.RGBA); ok &&
		rgba.Rect.Min == (image.Point{}) && rgba.Rect.Dx() == w && rgba.Rect.Dy() == h && rgba.Stride == 4*w {
		return rgba.Pix[:4*w*h]
	}
	draw.Draw(e.frameBuf, e.frameBuf.Bounds(), img, img.Bounds().Min, draw.Src)
	return e.frameBuf.Pix
}

// Flush implements ports.VideoEncoder. It ends the ffmpeg process and waits
// for every packet; the next Encode starts a new process.
func (e *Encoder) Flush() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if !e.configured {
		e.mu.Unlock()
		return ErrNotConfigured
	}
	if e.cmd == nil {
		e.mu.Unlock()
		return nil
	}
	e.flushing = true
	stdin, done, stderr := e.stdin, e.done, e.stderr
	e.mu.Unlock()

	// Wait for an in-progress write before closing the pipe.
	e.writeMu.Lock()
	stdin.Close()
	e.writeMu.Unlock()

	<-done

	e.mu.Lock()
	defer e.mu.Unlock()
	err := e.waitErr
	e.cmd = nil
	e.stdin = nil
	e.flushing = false
	if err != nil {
		return fmt.Errorf("ffmpeg encoding failed: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}
	return nil
}

// Close implements ports.VideoEncoder. No packet is delivered after Close
// returns.
func (e *Encoder) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	cmd, stdin, done := e.cmd, e.stdin, e.done
	e.cmd = nil
	e.stdin = nil
	e.mu.Unlock()

	if cmd == nil {
		return nil
	}
	if cmd.Process != nil {
		cmd.Process.Kill()
	}
	stdin.Close()
	<-done
	return nil
}

// readLoop splits ffmpeg output into packets until EOF, then reaps the
// process.
func (e *Encoder) readLoop(cmd *exec.Cmd, stdout io.Reader, done chan struct{}) {
	defer close(done)

	var splitter auSplitter
	buf := make([]byte, 64*1024)
	var readErr error
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			for _, unit := range splitter.Write(buf[:n]) {
				e.emit(unit)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				readErr = err
			}
			break
		}
	}
	if unit := splitter.Flush(); len(unit) > 0 {
		e.emit(unit)
	}

	waitErr := cmd.Wait()

	e.mu.Lock()
	if waitErr == nil {
		waitErr = readErr
	}
	e.waitErr = waitErr
	unexpected := !e.flushing && !e.closed
	onError := e.cfg.OnError
	stderr := e.stderr
	e.mu.Unlock()

	if unexpected && onError != nil {
		if waitErr == nil {
			waitErr = errors.New("process exited")
		}
		onError(fmt.Errorf("ffmpeg stopped: %w: %s", waitErr, bytes.TrimSpace(stderr.Bytes())))
	}
}

// emit delivers one access unit, pairing it with the oldest pending
// timestamp.
func (e *Encoder) emit(unit []byte) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	var ts int64
	if len(e.timestamps) > 0 {
		ts = e.timestamps[0]
		e.timestamps = e.timestamps[1:]
	} else {
		ts = int64(e.emitted) * 1_000_000 / int64(e.cfg.FrameRate)
	}
	e.emitted++
	out := e.cfg.Output
	e.mu.Unlock()

	out(ports.EncodedPacket{
		Data:        unit,
		TimestampUs: ts,
		KeyFrame:    containsIDR(unit),
	})
}

// Ensure Encoder implements ports.VideoEncoder
var (
	_ ports.VideoEncoder  = (*Encoder)(nil)
	_ ports.LatentEncoder = (*Encoder)(nil)
)
