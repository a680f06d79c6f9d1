package h264encoder

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"
)

// FindFFmpeg searches for ffmpeg.
// Priority: 1) custom, 2) FFMPEG_PATH env, 3) PATH, 4) common locations.
func FindFFmpeg(custom string) (string, error) {
	if custom != "" {
		if _, err := os.Stat(custom); err == nil {
			return custom, nil
		}
		return "", fmt.Errorf("%w: custom path %s not found", ErrFFmpegNotFound, custom)
	}

	if envPath := os.Getenv("FFMPEG_PATH"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath, nil
		}
		return "", fmt.Errorf("%w: FFMPEG_PATH %s not found", ErrFFmpegNotFound, envPath)
	}

	execName := "ffmpeg"
	if runtime.GOOS == "windows" {
		execName = "ffmpeg.exe"
	}
	if path, err := exec.LookPath(execName); err == nil {
		return path, nil
	}

	var commonPaths []string
	switch runtime.GOOS {
	case "windows":
		commonPaths = []string{
			`C:\ffmpeg\bin\ffmpeg.exe`,
			`C:\Program Files\ffmpeg\bin\ffmpeg.exe`,
		}
	case "darwin":
		commonPaths = []string{
			"/opt/homebrew/bin/ffmpeg",
			"/usr/local/bin/ffmpeg",
			"/usr/bin/ffmpeg",
		}
	default:
		commonPaths = []string{
			"/usr/bin/ffmpeg",
			"/usr/local/bin/ffmpeg",
			"/snap/bin/ffmpeg",
		}
	}
	for _, p := range commonPaths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", ErrFFmpegNotFound
}

// IsFFmpegAvailable checks if ffmpeg can be found.
func IsFFmpegAvailable() bool {
	_, err := FindFFmpeg("")
	return err == nil
}

// Hardware encoders come first; the software encoders are the fallback.
var encoderPreference = []string{
	"h264_videotoolbox",
	"h264_nvenc",
	"h264_qsv",
	"h264_amf",
	"h264_mf",
	"libx264",
	"libopenh264",
}

// IsHardware reports whether an ffmpeg encoder name is hardware-backed.
func IsHardware(name string) bool {
	return name != "libx264" && name != "libopenh264" && name != ""
}

// Probe reports whether ffmpeg exposes a working H.264 encoder and which one
// to use. Listed encoders are tried in preference order with a one-frame test
// encode, since a build can list h264_nvenc or h264_qsv on a host without the
// driver. The result is cached.
type Probe struct {
	custom       string
	softwareOnly bool

	once       sync.Once
	ffmpegPath string
	impl       string
	rejected   map[string]error
	err        error
}

// testEncodeTimeout bounds each one-frame test encode.
const testEncodeTimeout = 15 * time.Second

// NewProbe creates a Probe. custom overrides the ffmpeg lookup; softwareOnly
// skips hardware encoders.
func NewProbe(custom string, softwareOnly bool) *Probe {
	return &Probe{custom: custom, softwareOnly: softwareOnly}
}

// Supported implements ports.CapabilityProbe.
func (p *Probe) Supported() bool {
	p.detect()
	return p.err == nil
}

// Implementation returns the selected ffmpeg encoder name.
func (p *Probe) Implementation() string {
	p.detect()
	return p.impl
}

// FFmpegPath returns the resolved ffmpeg binary.
func (p *Probe) FFmpegPath() string {
	p.detect()
	return p.ffmpegPath
}

// Err returns why the probe is unsupported, or nil.
func (p *Probe) Err() error {
	p.detect()
	return p.err
}

// Rejected returns the listed encoders that failed their test encode.
func (p *Probe) Rejected() map[string]error {
	p.detect()
	out := make(map[string]error, len(p.rejected))
	for name, err := range p.rejected {
		out[name] = err
	}
	return out
}

func (p *Probe) detect() {
	p.once.Do(func() {
		path, err := FindFFmpeg(p.custom)
		if err != nil {
			p.err = err
			return
		}
		p.ffmpegPath = path

		out, err := exec.Command(path, "-hide_banner", "-encoders").Output()
		if err != nil {
			p.err = fmt.Errorf("list ffmpeg encoders: %w", err)
			return
		}

		p.rejected = make(map[string]error)
		var reasons []string
		for _, name := range candidateEncoders(parseEncoderList(out), p.softwareOnly) {
			if err := testEncode(path, name); err != nil {
				p.rejected[name] = err
				reasons = append(reasons, fmt.Sprintf("%s: %s", name, err))
				continue
			}
			p.impl = name
			return
		}
		if len(reasons) > 0 {
			p.err = fmt.Errorf("%w (%s)", ErrNoH264Encoder, strings.Join(reasons, "; "))
			return
		}
		p.err = ErrNoH264Encoder
	})
}

// testEncode encodes one synthetic frame with impl and discards the output.
func testEncode(ffmpegPath, impl string) error {
	ctx, cancel := context.WithTimeout(context.Background(), testEncodeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, ffmpegPath,
		"-hide_banner",
		"-loglevel", "error",
		"-f", "lavfi",
		"-i", "color=c=black:s=64x64:r=1",
		"-frames:v", "1",
		"-pix_fmt", "yuv420p",
		"-c:v", impl,
		"-f", "null",
		"-",
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := bytes.TrimSpace(stderr.Bytes()); len(msg) > 0 {
			return fmt.Errorf("%w: %s", err, firstLine(msg))
		}
		return err
	}
	return nil
}

func firstLine(b []byte) string {
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		b = b[:i]
	}
	return string(bytes.TrimSpace(b))
}

// parseEncoderList extracts encoder names from `ffmpeg -encoders` output.
// Lines look like " V....D libx264  libx264 H.264 / AVC ...".
func parseEncoderList(out []byte) map[string]bool {
	names := make(map[string]bool)
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 || !strings.HasPrefix(fields[0], "V") {
			continue
		}
		names[fields[1]] = true
	}
	return names
}

// candidateEncoders returns the listed encoders in preference order.
func candidateEncoders(available map[string]bool, softwareOnly bool) []string {
	var out []string
	for _, name := range encoderPreference {
		if softwareOnly && IsHardware(name) {
			continue
		}
		if available[name] {
			out = append(out, name)
		}
	}
	return out
}
