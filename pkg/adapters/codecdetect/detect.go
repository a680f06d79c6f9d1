// Package codecdetect reads codec and track metadata from MP4 files.
package codecdetect

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/Eyevinn/mp4ff/mp4"
)

// Codec represents a video codec type.
type Codec string

const (
	CodecH264    Codec = "h264"
	CodecHEVC    Codec = "hevc"
	CodecAV1     Codec = "av1"
	CodecVP9     Codec = "vp9"
	CodecUnknown Codec = "unknown"
)

// Info describes the first video track of an MP4 file.
type Info struct {
	Codec       Codec
	CodecString string // RFC 6381, e.g. avc1.42001E; empty when unknown
	Width       int
	Height      int
	Duration    float64 // Seconds
	Timescale   uint32
	SampleCount int
	Fragmented  bool

	// Rotation is the clockwise display rotation from the track matrix:
	// 0, 90, 180 or 270.
	Rotation int
	// PixelAspectH:PixelAspectV is the pasp pixel aspect ratio; zero when
	// the sample entry has none.
	PixelAspectH uint32
	PixelAspectV uint32
}

// DetectFromFile detects the video codec used in an MP4 file.
func DetectFromFile(path string) (Codec, error) {
	f, err := os.Open(path)
	if err != nil {
		return CodecUnknown, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	info, err := InspectReader(f)
	return info.Codec, err
}

// DetectFromBytes detects the video codec from MP4 data bytes.
func DetectFromBytes(data []byte) (Codec, error) {
	info, err := Inspect(data)
	return info.Codec, err
}

// IsMP4 reports whether data starts with an ftyp or moov box.
func IsMP4(data []byte) bool {
	if len(data) < 8 {
		return false
	}
	switch string(data[4:8]) {
	case "ftyp", "moov", "styp":
		return true
	}
	return false
}

// Inspect reads the video track metadata from MP4 bytes.
func Inspect(data []byte) (Info, error) {
	f, err := mp4.DecodeFile(bytes.NewReader(data))
	if err != nil {
		return Info{Codec: CodecUnknown}, fmt.Errorf("decode mp4: %w", err)
	}
	return inspectFile(f, trackRotations(data))
}

// InspectReader reads the video track metadata from r.
func InspectReader(r io.Reader) (Info, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Info{Codec: CodecUnknown}, fmt.Errorf("read mp4: %w", err)
	}
	return Inspect(data)
}

func inspectFile(f *mp4.File, rotations []int) (Info, error) {
	moov := f.Moov
	fragmented := f.IsFragmented()
	if fragmented && f.Init != nil {
		moov = f.Init.Moov
	}
	if moov == nil {
		return Info{Codec: CodecUnknown}, fmt.Errorf("no moov box")
	}

	for i, trak := range moov.Traks {
		info, ok := inspectTrack(trak)
		if !ok {
			continue
		}
		if i < len(rotations) {
			info.Rotation = rotations[i]
		}
		info.Fragmented = fragmented
		if info.Duration == 0 && moov.Mvhd != nil && moov.Mvhd.Timescale > 0 {
			info.Duration = float64(moov.Mvhd.Duration) / float64(moov.Mvhd.Timescale)
		}
		return info, nil
	}

	return Info{Codec: CodecUnknown}, fmt.Errorf("no video track found")
}

func inspectTrack(trak *mp4.TrakBox) (Info, bool) {
	if trak.Mdia == nil || trak.Mdia.Hdlr == nil {
		return Info{}, false
	}

	// Only process video tracks
	if trak.Mdia.Hdlr.HandlerType != "vide" {
		return Info{}, false
	}

	info := Info{Codec: CodecUnknown}
	if mdhd := trak.Mdia.Mdhd; mdhd != nil && mdhd.Timescale > 0 {
		info.Timescale = mdhd.Timescale
		info.Duration = float64(mdhd.Duration) / float64(mdhd.Timescale)
	}
	if trak.Tkhd != nil {
		info.Width = int(trak.Tkhd.Width >> 16)
		info.Height = int(trak.Tkhd.Height >> 16)
	}

	if trak.Mdia.Minf == nil || trak.Mdia.Minf.Stbl == nil || trak.Mdia.Minf.Stbl.Stsd == nil {
		return info, true
	}
	stbl := trak.Mdia.Minf.Stbl
	if stbl.Stsz != nil {
		info.SampleCount = int(stbl.Stsz.SampleNumber)
	}

	for _, child := range stbl.Stsd.Children {
		switch child.Type() {
		case "avc1", "avc3":
			info.Codec = CodecH264
		case "hvc1", "hev1":
			info.Codec = CodecHEVC
		case "av01":
			info.Codec = CodecAV1
		case "vp09":
			info.Codec = CodecVP9
		default:
			continue
		}
		if vse, ok := child.(*mp4.VisualSampleEntryBox); ok {
			if vse.Width > 0 && vse.Height > 0 {
				info.Width = int(vse.Width)
				info.Height = int(vse.Height)
			}
			if vse.Pasp != nil {
				info.PixelAspectH = vse.Pasp.HSpacing
				info.PixelAspectV = vse.Pasp.VSpacing
			}
			if vse.AvcC != nil {
				rec := vse.AvcC.DecConfRec
				info.CodecString = fmt.Sprintf("%s.%02X%02X%02X", child.Type(),
					rec.AVCProfileIndication, rec.ProfileCompatibility, rec.AVCLevelIndication)
			}
		}
		break
	}

	return info, true
}
