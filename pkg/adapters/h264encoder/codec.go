package h264encoder

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// CodecString is a parsed RFC 6381 avc1/avc3 codec string such as avc1.42001E.
type CodecString struct {
	ProfileIDC  byte
	Constraints byte
	LevelIDC    byte
}

// ParseCodecString parses "avc1.PPCCLL".
func ParseCodecString(s string) (CodecString, error) {
	prefix, rest, ok := strings.Cut(s, ".")
	if !ok || (prefix != "avc1" && prefix != "avc3") {
		return CodecString{}, fmt.Errorf("%w: %q", ErrUnsupportedCodec, s)
	}
	b, err := hex.DecodeString(rest)
	if err != nil || len(b) != 3 {
		return CodecString{}, fmt.Errorf("%w: %q", ErrUnsupportedCodec, s)
	}
	return CodecString{ProfileIDC: b[0], Constraints: b[1], LevelIDC: b[2]}, nil
}

// Profile returns the ffmpeg profile name.
func (c CodecString) Profile() string {
	switch c.ProfileIDC {
	case 66:
		return "baseline"
	case 77:
		return "main"
	case 88:
		return "extended"
	case 100:
		return "high"
	default:
		return ""
	}
}

// Level returns the level as ffmpeg expects it, e.g. "3.0".
func (c CodecString) Level() string {
	if c.LevelIDC == 9 {
		return "1b"
	}
	return fmt.Sprintf("%d.%d", c.LevelIDC/10, c.LevelIDC%10)
}

// maxFrameMBs is MaxFS from ITU-T H.264 Table A-1, keyed by level_idc.
var maxFrameMBs = map[byte]int{
	9: 99, 10: 99, 11: 396, 12: 396, 13: 396,
	20: 396, 21: 792, 22: 1620,
	30: 1620, 31: 3600, 32: 5120,
	40: 8192, 41: 8192, 42: 8704,
	50: 22080, 51: 36864, 52: 36864,
	60: 139264, 61: 139264, 62: 139264,
}

// CheckResolution reports whether width x height fits the level.
func (c CodecString) CheckResolution(width, height int) error {
	limit, ok := maxFrameMBs[c.LevelIDC]
	if !ok {
		return fmt.Errorf("%w: unknown level %d", ErrUnsupportedCodec, c.LevelIDC)
	}
	mbs := ((width + 15) / 16) * ((height + 15) / 16)
	if mbs > limit {
		return fmt.Errorf("%w: %dx%d needs %d macroblocks, level %s allows %d",
			ErrResolutionTooLarge, width, height, mbs, c.Level(), limit)
	}
	return nil
}
