package mux

import "encoding/binary"

const (
	naluIDR = 5
	naluSPS = 7
	naluPPS = 8
	naluAUD = 9
)

func naluType(nalu []byte) byte {
	if len(nalu) == 0 {
		return 0
	}
	return nalu[0] & 0x1F
}

// isAnnexB reports whether data starts with a 3- or 4-byte start code.
func isAnnexB(data []byte) bool {
	if len(data) >= 3 && data[0] == 0 && data[1] == 0 && data[2] == 1 {
		return true
	}
	return len(data) >= 4 && data[0] == 0 && data[1] == 0 && data[2] == 0 && data[3] == 1
}

// splitNALUs splits a chunk into NAL units. Annex B streams are split on
// start codes; anything else is read as 4-byte length-prefixed AVCC.
func splitNALUs(data []byte) [][]byte {
	if isAnnexB(data) {
		return parseAnnexB(data)
	}
	return parseAVCC(data)
}

// parseAnnexB parses an Annex B byte stream into NAL units.
func parseAnnexB(data []byte) [][]byte {
	var nalus [][]byte
	start := -1
	i := 0

	for i+2 < len(data) {
		if data[i] == 0 && data[i+1] == 0 {
			codeLen := 0
			if data[i+2] == 1 {
				codeLen = 3
			} else if i+3 < len(data) && data[i+2] == 0 && data[i+3] == 1 {
				codeLen = 4
			}
			if codeLen > 0 {
				if start >= 0 && i > start {
					nalus = append(nalus, data[start:i])
				}
				i += codeLen
				start = i
				continue
			}
		}
		i++
	}

	if start >= 0 && start < len(data) {
		nalus = append(nalus, data[start:])
	}
	return nalus
}

// parseAVCC parses 4-byte length-prefixed NAL units. A truncated unit
// invalidates the whole chunk.
func parseAVCC(data []byte) [][]byte {
	var nalus [][]byte
	for len(data) >= 4 {
		n := int(binary.BigEndian.Uint32(data))
		data = data[4:]
		if n == 0 || n > len(data) {
			return nil
		}
		nalus = append(nalus, data[:n])
		data = data[n:]
	}
	if len(data) != 0 {
		return nil
	}
	return nalus
}

// toAVCC writes NAL units as 4-byte length-prefixed sample data. Parameter
// sets and access unit delimiters are dropped; they live in the avcC box.
func toAVCC(nalus [][]byte) []byte {
	size := 0
	for _, nalu := range nalus {
		size += 4 + len(nalu)
	}

	out := make([]byte, 0, size)
	for _, nalu := range nalus {
		switch naluType(nalu) {
		case naluSPS, naluPPS, naluAUD:
			continue
		}
		if len(nalu) == 0 {
			continue
		}
		out = binary.BigEndian.AppendUint32(out, uint32(len(nalu)))
		out = append(out, nalu...)
	}
	return out
}
