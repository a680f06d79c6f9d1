package h264encoder

import "errors"

var (
	// ErrNotConfigured is returned when encoder methods are called before Configure.
	ErrNotConfigured = errors.New("h264encoder: encoder not configured")

	// ErrClosed is returned when the encoder is used after Close.
	ErrClosed = errors.New("h264encoder: encoder closed")

	// ErrFFmpegNotFound is returned when ffmpeg is not found.
	ErrFFmpegNotFound = errors.New("h264encoder: ffmpeg not found in PATH")

	// ErrNoH264Encoder is returned when ffmpeg has no usable H.264 encoder.
	ErrNoH264Encoder = errors.New("h264encoder: no H.264 encoder available in ffmpeg")

	// ErrUnsupportedCodec is returned for codec strings other than avc1/avc3.
	ErrUnsupportedCodec = errors.New("h264encoder: unsupported codec")

	// ErrResolutionTooLarge is returned when the frame size exceeds the codec level limit.
	ErrResolutionTooLarge = errors.New("h264encoder: resolution too large for codec level")
)
