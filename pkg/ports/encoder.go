package ports

import (
	"image"
)

// EncodedPacket is one unit of bitstream emitted by a VideoEncoder.
type EncodedPacket struct {
	Data        []byte
	TimestampUs int64
	DurationUs  int64 // 0 when unknown
	KeyFrame    bool
}

// EncoderConfig configures a VideoEncoder.
type EncoderConfig struct {
	Codec     string // e.g. avc1.42001E
	Width     int
	Height    int
	Bitrate   int // bits per second
	FrameRate int
	GOP       int // Max frames between key frames (0 = encoder default)

	// Output receives packets in submission order. It may be called from a
	// goroutine owned by the encoder.
	Output func(EncodedPacket)

	// OnError receives asynchronous encoder faults.
	OnError func(error)
}

// VideoEncoder abstracts a hardware or software video encoder with
// asynchronous output.
type VideoEncoder interface {
	// Configure prepares the encoder. It fails if the parameters are unsupported.
	Configure(cfg EncoderConfig) error

	// Encode submits a frame. It may return before the packet is emitted.
	Encode(img image.Image, timestampUs int64, keyFrame bool) error

	// Flush blocks until every submitted frame has been emitted.
	Flush() error

	// Close releases the encoder. Packets are not emitted after Close returns.
	Close() error
}

// LatentEncoder is implemented by encoders that hold frames back until later
// input arrives. Latency is the number of frames that may stay unemitted
// until Flush, so a submission window must be larger than it.
type LatentEncoder interface {
	Latency() int
}

// EncoderFactory creates independent encoder instances.
type EncoderFactory interface {
	NewEncoder() VideoEncoder
}

// EncoderFactoryFunc adapts a function to EncoderFactory.
type EncoderFactoryFunc func() VideoEncoder

// NewEncoder implements EncoderFactory.
func (f EncoderFactoryFunc) NewEncoder() VideoEncoder {
	return f()
}
