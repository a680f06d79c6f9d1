package mux

import (
	"bytes"
	"fmt"

	"github.com/Eyevinn/mp4ff/avc"
	"github.com/Eyevinn/mp4ff/mp4"
)

// buildMP4 writes ftyp, moov and a single mdat holding every sample as one
// chunk. Callers hold m.mu.
func (m *Muxer) buildMP4() ([]byte, error) {
	desc := m.track.Descriptor
	width := uint16(desc.Width)
	height := uint16(desc.Height)

	avcC, err := m.avcConfig()
	if err != nil {
		return nil, err
	}

	init := mp4.CreateEmptyInit()
	init.AddEmptyTrack(desc.Timescale, "video", "und")
	trak := init.Moov.Trak

	trak.Mdia.Minf.Stbl.Stsd.AddChild(mp4.CreateVisualSampleEntryBox("avc1", width, height, avcC))
	trak.Tkhd.Width = mp4.Fixed32(desc.Width << 16)
	trak.Tkhd.Height = mp4.Fixed32(desc.Height << 16)

	total := m.nextDTS
	init.Moov.Mvhd.Timescale = desc.Timescale
	init.Moov.Mvhd.Duration = total
	trak.Tkhd.Duration = total
	trak.Mdia.Mdhd.Duration = total

	stbl := trak.Mdia.Minf.Stbl
	if err := m.fillSampleTable(stbl); err != nil {
		return nil, err
	}

	// Progressive layout: no mvex.
	moov := mp4.NewMoovBox()
	moov.AddChild(init.Moov.Mvhd)
	moov.AddChild(trak)

	ftyp := mp4.NewFtyp("isom", 0x200, []string{"isom", "iso2", "avc1", "mp41"})

	mdatSize := uint64(8)
	for _, p := range m.payloads {
		mdatSize += uint64(len(p))
	}
	if mdatSize > 0xFFFFFFFF {
		return nil, fmt.Errorf("mdat too large: %d bytes", mdatSize)
	}

	// Samples start right after the mdat header.
	offset := ftyp.Size() + moov.Size() + 8
	if offset > 0xFFFFFFFF {
		return nil, fmt.Errorf("moov too large: %d bytes", offset)
	}
	stbl.Stco.ChunkOffset = []uint32{uint32(offset)}

	var buf bytes.Buffer
	buf.Grow(int(offset + mdatSize))

	if err := ftyp.Encode(&buf); err != nil {
		return nil, fmt.Errorf("encode ftyp: %w", err)
	}
	if err := moov.Encode(&buf); err != nil {
		return nil, fmt.Errorf("encode moov: %w", err)
	}

	mdat := &mp4.MdatBox{Data: bytes.Join(m.payloads, nil)}
	if err := mdat.Encode(&buf); err != nil {
		return nil, fmt.Errorf("encode mdat: %w", err)
	}

	return buf.Bytes(), nil
}

// fillSampleTable writes stts, stss, stsc, stsz and a placeholder stco.
func (m *Muxer) fillSampleTable(stbl *mp4.StblBox) error {
	var syncs []uint32
	sizes := make([]uint32, len(m.samples))

	for i, s := range m.samples {
		n := len(stbl.Stts.SampleCount)
		if n > 0 && stbl.Stts.SampleTimeDelta[n-1] == s.Duration {
			stbl.Stts.SampleCount[n-1]++
		} else {
			stbl.Stts.SampleCount = append(stbl.Stts.SampleCount, 1)
			stbl.Stts.SampleTimeDelta = append(stbl.Stts.SampleTimeDelta, s.Duration)
		}
		sizes[i] = s.Size
		if s.Sync {
			syncs = append(syncs, uint32(i+1))
		}
	}

	// An absent stss means every sample is a sync sample, so it is written
	// whenever at least one sample is not.
	if len(syncs) < len(m.samples) {
		stbl.AddChild(&mp4.StssBox{SampleNumber: syncs})
	}

	if err := stbl.Stsc.AddEntry(1, uint32(len(m.samples)), 1); err != nil {
		return fmt.Errorf("stsc: %w", err)
	}

	stbl.Stsz.SampleNumber = uint32(len(sizes))
	stbl.Stsz.SampleSize = sizes
	stbl.Stco.ChunkOffset = []uint32{0}
	return nil
}

// avcConfig builds the avcC box from the first SPS and PPS seen in the stream.
func (m *Muxer) avcConfig() (*mp4.AvcCBox, error) {
	if len(m.sps) == 0 || len(m.pps) == 0 {
		return nil, fmt.Errorf("missing H.264 parameter sets (sps=%d, pps=%d)", len(m.sps), len(m.pps))
	}

	if avcC, err := mp4.CreateAvcC(m.sps, m.pps, true); err == nil {
		return avcC, nil
	}

	// The SPS could not be fully parsed; the profile and level bytes are
	// still at fixed offsets.
	sps := m.sps[0]
	if len(sps) < 4 {
		return nil, fmt.Errorf("sps too short: %d bytes", len(sps))
	}
	return &mp4.AvcCBox{
		DecConfRec: avc.DecConfRec{
			AVCProfileIndication: sps[1],
			ProfileCompatibility: sps[2],
			AVCLevelIndication:   sps[3],
			SPSnalus:             m.sps,
			PPSnalus:             m.pps,
			NoTrailingInfo:       true,
		},
	}, nil
}
