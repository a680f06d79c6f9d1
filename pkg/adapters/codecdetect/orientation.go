package codecdetect

import (
	"bytes"
	"math"

	"github.com/Eyevinn/mp4ff/bits"
	"github.com/Eyevinn/mp4ff/mp4"
)

// DisplaySize returns the size a player shows: the coded size stretched by
// the pixel aspect ratio, then turned by the track rotation.
func (i Info) DisplaySize() (width, height int) {
	width, height = i.Width, i.Height
	if i.PixelAspectH > 0 && i.PixelAspectV > 0 && i.PixelAspectH != i.PixelAspectV {
		width = int(math.Round(float64(width) * float64(i.PixelAspectH) / float64(i.PixelAspectV)))
	}
	if i.Rotation == 90 || i.Rotation == 270 {
		width, height = height, width
	}
	return width, height
}

// trackRotations returns the clockwise rotation of every trak in moov order.
// mp4ff skips the tkhd matrix while decoding, so the boxes are walked here.
func trackRotations(data []byte) []int {
	var rotations []int
	eachBox(data, func(name string, moov []byte) {
		if name != "moov" || rotations != nil {
			return
		}
		rotations = []int{}
		eachBox(moov, func(name string, trak []byte) {
			if name != "trak" {
				return
			}
			rotation := 0
			eachBox(trak, func(name string, payload []byte) {
				if name == "tkhd" {
					rotation = tkhdRotation(payload)
				}
			})
			rotations = append(rotations, rotation)
		})
	})
	return rotations
}

// eachBox calls fn for every complete box in data.
func eachBox(data []byte, fn func(name string, payload []byte)) {
	for len(data) >= 8 {
		hdr, err := mp4.DecodeHeader(bytes.NewReader(data))
		if err != nil || hdr.Size > uint64(len(data)) {
			return
		}
		fn(hdr.Name, data[hdr.Hdrlen:hdr.Size])
		data = data[hdr.Size:]
	}
}

func tkhdRotation(payload []byte) int {
	sr := bits.NewFixedSliceReader(payload)
	version := sr.ReadUint8()
	sr.SkipBytes(3) // flags
	if version == 1 {
		sr.SkipBytes(8 + 8 + 4 + 4 + 8)
	} else {
		sr.SkipBytes(4 + 4 + 4 + 4 + 4)
	}
	sr.SkipBytes(8 + 2 + 2 + 2 + 2) // reserved, layer, group, volume, reserved
	a := sr.ReadInt32()
	b := sr.ReadInt32()
	if sr.AccError() != nil {
		return 0
	}
	return matrixRotation(a, b)
}

// matrixRotation maps the first row of a display matrix to a clockwise
// rotation rounded to a quarter turn.
func matrixRotation(a, b int32) int {
	if a == 0 && b == 0 {
		return 0
	}
	deg := math.Atan2(float64(b), float64(a)) * 180 / math.Pi
	quarter := int(math.Round(deg/90)) % 4
	if quarter < 0 {
		quarter += 4
	}
	return quarter * 90
}
