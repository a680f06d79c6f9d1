package h264encoder

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/user/vidcompress/pkg/ports"
)

// createTestImage creates a simple test image with gradient
func createTestImage(width, height int, frameNum int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r := uint8((x*255/width + frameNum*10) % 256)
			g := uint8((y*255/height + frameNum*5) % 256)
			b := uint8((x + y + frameNum*3) % 256)
			img.Set(x, y, color.RGBA{R: r, G: g, B: b, A: 255})
		}
	}
	return img
}

func TestParseCodecString(t *testing.T) {
	c, err := ParseCodecString("avc1.42001E")
	if err != nil {
		t.Fatalf("ParseCodecString failed: %v", err)
	}
	if c.ProfileIDC != 0x42 || c.Constraints != 0 || c.LevelIDC != 30 {
		t.Errorf("unexpected codec %+v", c)
	}
	if c.Profile() != "baseline" {
		t.Errorf("expected baseline, got %s", c.Profile())
	}
	if c.Level() != "3.0" {
		t.Errorf("expected level 3.0, got %s", c.Level())
	}

	for _, s := range []string{"", "avc1", "vp09.00.10.08", "avc1.4200", "avc1.zz001E"} {
		if _, err := ParseCodecString(s); !errors.Is(err, ErrUnsupportedCodec) {
			t.Errorf("%q: expected ErrUnsupportedCodec, got %v", s, err)
		}
	}
}

func TestCheckResolution(t *testing.T) {
	c, _ := ParseCodecString("avc1.42001E")

	if err := c.CheckResolution(720, 405); err != nil {
		t.Errorf("720x405 should fit level 3.0: %v", err)
	}
	if err := c.CheckResolution(1920, 1080); !errors.Is(err, ErrResolutionTooLarge) {
		t.Errorf("expected ErrResolutionTooLarge, got %v", err)
	}

	high, _ := ParseCodecString("avc1.640028")
	if err := high.CheckResolution(1920, 1080); err != nil {
		t.Errorf("1920x1080 should fit level 4.0: %v", err)
	}
}

func annexB(nalus ...[]byte) []byte {
	var out []byte
	for _, n := range nalus {
		out = append(out, 0, 0, 0, 1)
		out = append(out, n...)
	}
	return out
}

func TestAUSplitter(t *testing.T) {
	aud := []byte{0x09, 0xF0}
	sps := []byte{0x67, 0x42, 0x00, 0x1E}
	pps := []byte{0x68, 0xCE}
	idr := []byte{0x65, 0x88, 0x80}
	slice := []byte{0x41, 0x9A, 0x01}

	au1 := annexB(aud, sps, pps, idr)
	au2 := annexB(aud, slice)
	au3 := annexB(aud, slice)
	stream := append(append(append([]byte{}, au1...), au2...), au3...)

	// Feed one byte at a time so start codes straddle writes.
	var s auSplitter
	var units [][]byte
	for i := range stream {
		units = append(units, s.Write(stream[i:i+1])...)
	}
	if last := s.Flush(); last != nil {
		units = append(units, last)
	}

	if len(units) != 3 {
		t.Fatalf("expected 3 access units, got %d", len(units))
	}
	for i, want := range [][]byte{au1, au2, au3} {
		if !bytes.Equal(units[i], want) {
			t.Errorf("unit %d = %x, want %x", i, units[i], want)
		}
	}
	if !containsIDR(units[0]) {
		t.Error("first unit should contain an IDR slice")
	}
	if containsIDR(units[1]) {
		t.Error("second unit should not contain an IDR slice")
	}
}

func TestParseEncoderList(t *testing.T) {
	out := []byte(`Encoders:
 V..... = Video
 ------
 V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC (codec h264)
 V....D h264_nvenc           NVIDIA NVENC H.264 encoder (codec h264)
 A....D aac                  AAC (Advanced Audio Coding)
`)
	names := parseEncoderList(out)
	if !names["libx264"] || !names["h264_nvenc"] {
		t.Errorf("missing encoders: %v", names)
	}
	if names["aac"] {
		t.Error("audio encoder should be skipped")
	}

	tests := []struct {
		name         string
		available    map[string]bool
		softwareOnly bool
		want         []string
	}{
		{"hardware first", names, false, []string{"h264_nvenc", "libx264"}},
		{"software only", names, true, []string{"libx264"}},
		{"none", map[string]bool{"aac": true}, false, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := candidateEncoders(tt.available, tt.softwareOnly)
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("candidateEncoders() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEncoderArgs(t *testing.T) {
	enc := NewEncoder("/usr/bin/ffmpeg", "libx264")
	err := enc.Configure(ports.EncoderConfig{
		Codec:     "avc1.42001E",
		Width:     720,
		Height:    405,
		Bitrate:   1_000_000,
		FrameRate: 30,
		GOP:       60,
		Output:    func(ports.EncodedPacket) {},
	})
	if err != nil {
		t.Fatalf("Configure failed: %v", err)
	}

	args := strings.Join(enc.Args(), " ")
	for _, want := range []string{
		"-s 720x405",
		"-framerate 30",
		"-c:v libx264",
		"-profile:v baseline",
		"-level 3.0",
		"-b:v 1000000",
		"-g 60",
		"-bf 0",
		"h264_metadata=aud=insert",
		"-f h264 pipe:1",
	} {
		if !strings.Contains(args, want) {
			t.Errorf("args missing %q: %s", want, args)
		}
	}
}

func TestEncoderNotConfigured(t *testing.T) {
	enc := NewEncoder("/usr/bin/ffmpeg", "libx264")

	if err := enc.Encode(createTestImage(16, 16, 0), 0, true); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
	if err := enc.Flush(); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := enc.Encode(createTestImage(16, 16, 0), 0, true); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestEncoderConfigureErrors(t *testing.T) {
	out := func(ports.EncodedPacket) {}
	tests := []struct {
		name string
		cfg  ports.EncoderConfig
	}{
		{"codec", ports.EncoderConfig{Codec: "vp8", Width: 320, Height: 240, Bitrate: 1, FrameRate: 30, Output: out}},
		{"size", ports.EncoderConfig{Codec: "avc1.42001E", Width: 0, Height: 240, Bitrate: 1, FrameRate: 30, Output: out}},
		{"level", ports.EncoderConfig{Codec: "avc1.42001E", Width: 1920, Height: 1080, Bitrate: 1, FrameRate: 30, Output: out}},
		{"output", ports.EncoderConfig{Codec: "avc1.42001E", Width: 320, Height: 240, Bitrate: 1, FrameRate: 30}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := NewEncoder("/usr/bin/ffmpeg", "libx264").Configure(tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}

	if err := NewEncoder("", "").Configure(tests[0].cfg); !errors.Is(err, ErrNoH264Encoder) {
		t.Errorf("expected ErrNoH264Encoder, got %v", err)
	}
}

func TestEncoderFFmpeg(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping ffmpeg test in short mode")
	}
	probe := NewProbe("", true)
	if !probe.Supported() {
		t.Skipf("ffmpeg H.264 encoder not available: %v", probe.Err())
	}

	var mu sync.Mutex
	var packets []ports.EncodedPacket
	enc := NewFactory(probe).NewEncoder()
	defer enc.Close()

	width, height, numFrames := 320, 181, 30
	err := enc.Configure(ports.EncoderConfig{
		Codec:     "avc1.42001E",
		Width:     width,
		Height:    height,
		Bitrate:   500_000,
		FrameRate: 30,
		GOP:       10,
		Output: func(p ports.EncodedPacket) {
			mu.Lock()
			packets = append(packets, p)
			mu.Unlock()
		},
		OnError: func(err error) { t.Errorf("async error: %v", err) },
	})
	if err != nil {
		t.Fatalf("Configure failed: %v", err)
	}

	for i := 0; i < numFrames; i++ {
		if err := enc.Encode(createTestImage(width, height, i), int64(i)*33_333, i == 0); err != nil {
			t.Fatalf("Encode failed at frame %d: %v", i, err)
		}
	}

	flushed := make(chan error, 1)
	go func() { flushed <- enc.Flush() }()
	select {
	case err := <-flushed:
		if err != nil {
			t.Fatalf("Flush failed: %v", err)
		}
	case <-time.After(30 * time.Second):
		t.Fatal("Flush timed out")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(packets) != numFrames {
		t.Fatalf("expected %d packets, got %d", numFrames, len(packets))
	}
	if !packets[0].KeyFrame {
		t.Error("first packet should be a key frame")
	}
	for i, p := range packets {
		if p.TimestampUs != int64(i)*33_333 {
			t.Errorf("packet %d timestamp = %d", i, p.TimestampUs)
		}
	}
}
