package filesink

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"testing"

	"github.com/user/vidcompress/pkg/mocks"
)

// testBaseDir is a platform-independent base directory for tests
var testBaseDir = filepath.Join("debug")

func TestSink_Enabled(t *testing.T) {
	sink := New(testBaseDir, mocks.NewFileSystem())

	if !sink.Enabled() {
		t.Error("expected Enabled to return true")
	}
}

func TestSink_SaveSampleTableJSON(t *testing.T) {
	fs := mocks.NewFileSystem()
	sink := New(testBaseDir, fs)

	data := []byte(`[{"dts":0,"duration":33}]`)
	if err := sink.SaveSampleTableJSON(data); err != nil {
		t.Fatalf("SaveSampleTableJSON failed: %v", err)
	}

	expectedPath := filepath.Join(testBaseDir, "sampletable.json")
	saved, ok := fs.GetFile(expectedPath)
	if !ok {
		t.Fatalf("expected file to be saved at %s", expectedPath)
	}
	if !bytes.Equal(saved, data) {
		t.Errorf("saved %s, want %s", saved, data)
	}
}

func TestSink_SaveFrame(t *testing.T) {
	fs := mocks.NewFileSystem()
	sink := New(testBaseDir, fs)

	img := image.NewRGBA(image.Rect(0, 0, 8, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})

	for _, index := range []int{0, 60} {
		if err := sink.SaveFrame(index, img); err != nil {
			t.Fatalf("SaveFrame(%d) failed: %v", index, err)
		}
	}

	if !fs.HasDir(filepath.Join(testBaseDir, "frames")) {
		t.Error("expected frames directory to be created")
	}

	saved, ok := fs.GetFile(filepath.Join(testBaseDir, "frames", "frame-0060.png"))
	if !ok {
		t.Fatal("expected frame-0060.png to be saved")
	}
	decoded, err := png.Decode(bytes.NewReader(saved))
	if err != nil {
		t.Fatalf("saved frame is not a PNG: %v", err)
	}
	if b := decoded.Bounds(); b.Dx() != 8 || b.Dy() != 4 {
		t.Errorf("unexpected bounds %v", b)
	}
}

func TestSink_WriteOrderAndFailedOverwrite(t *testing.T) {
	fs := mocks.NewFileSystem()
	sink := New(testBaseDir, fs)

	first := image.NewRGBA(image.Rect(0, 0, 4, 4))
	if err := sink.SaveFrame(0, first); err != nil {
		t.Fatalf("SaveFrame failed: %v", err)
	}
	framePath := filepath.Join(testBaseDir, "frames", "frame-0000.png")
	original, _ := fs.GetFile(framePath)

	diskFull := errors.New("no space left on device")
	fs.FailWrite = func(path string) error {
		if path == framePath {
			return diskFull
		}
		return nil
	}
	if err := sink.SaveFrame(0, image.NewRGBA(image.Rect(0, 0, 16, 16))); !errors.Is(err, diskFull) {
		t.Fatalf("expected write error, got %v", err)
	}
	if err := sink.SaveSampleTableJSON([]byte("[]")); err != nil {
		t.Fatalf("SaveSampleTableJSON failed: %v", err)
	}

	if kept, _ := fs.GetFile(framePath); !bytes.Equal(kept, original) {
		t.Error("failed write replaced the previous frame")
	}
	want := []string{framePath, filepath.Join(testBaseDir, "sampletable.json")}
	got := fs.Writes()
	if len(got) != len(want) {
		t.Fatalf("writes = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("write %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestSink_SampleTableCreatesBaseDir(t *testing.T) {
	fs := mocks.NewFileSystem()
	sink := New(filepath.Join("run", "debug"), fs)

	data := []byte(`[]`)
	if err := sink.SaveSampleTableJSON(data); err != nil {
		t.Fatalf("SaveSampleTableJSON failed: %v", err)
	}
	data[0] = 'x'

	for _, dir := range []string{"run", filepath.Join("run", "debug")} {
		if !fs.HasDir(dir) {
			t.Errorf("expected %s to exist", dir)
		}
	}
	if saved, _ := fs.GetFile(filepath.Join("run", "debug", "sampletable.json")); string(saved) != "[]" {
		t.Errorf("stored content changed with the caller's buffer: %q", saved)
	}
}
