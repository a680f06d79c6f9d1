package h264encoder

const (
	naluTypeIDR = 5
	naluTypeAUD = 9
)

// auSplitter cuts an Annex B byte stream into access units. Each access
// unit starts with an access unit delimiter, so a unit is complete once the
// next delimiter arrives.
type auSplitter struct {
	buf  []byte
	scan int
}

// Write appends p and returns the access units it completed.
func (s *auSplitter) Write(p []byte) [][]byte {
	s.buf = append(s.buf, p...)

	var units [][]byte
	for {
		from := s.scan
		if from < 4 {
			from = 4
		}
		k := nextAUD(s.buf, from)
		if k < 0 {
			// A start code may straddle the next read.
			if n := len(s.buf) - 4; n > s.scan {
				s.scan = n
			}
			return units
		}
		unit := make([]byte, k)
		copy(unit, s.buf[:k])
		units = append(units, unit)
		s.buf = append(s.buf[:0], s.buf[k:]...)
		s.scan = 0
	}
}

// Flush returns whatever is buffered as the final access unit.
func (s *auSplitter) Flush() []byte {
	if len(s.buf) == 0 {
		return nil
	}
	unit := s.buf
	s.buf = nil
	s.scan = 0
	return unit
}

// nextAUD returns the offset of the first AUD start code at or after from,
// or -1.
func nextAUD(data []byte, from int) int {
	for i := from; i+3 < len(data); i++ {
		if data[i] != 0 || data[i+1] != 0 || data[i+2] != 1 {
			continue
		}
		if data[i+3]&0x1F != naluTypeAUD {
			continue
		}
		if i > 0 && data[i-1] == 0 {
			return i - 1
		}
		return i
	}
	return -1
}

// containsIDR reports whether an Annex B access unit holds an IDR slice.
func containsIDR(unit []byte) bool {
	for i := 0; i+3 < len(unit); i++ {
		if unit[i] == 0 && unit[i+1] == 0 && unit[i+2] == 1 {
			if unit[i+3]&0x1F == naluTypeIDR {
				return true
			}
			i += 2
		}
	}
	return false
}
