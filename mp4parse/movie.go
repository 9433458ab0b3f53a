package mp4parse

import (
	"github.com/tetsuo/dashpack/box"
	"github.com/tetsuo/dashpack/media"
)

// trackMeta is everything the parser keeps per track after decoding moov,
// beyond the StreamInfo handed to init_cb (§4.I).
type trackMeta struct {
	stream    *media.StreamInfo
	video     *media.VideoStreamInfo
	audio     *media.AudioStreamInfo
	trex      TrexDefaults
	editBias  int64
	encrypted bool
	keyID     []byte
	ivSize    uint8
}

// buildMovie decodes a moov box into one StreamInfo (+ trackMeta) per trak,
// applying the stsd/duration/codec rules of §4.I.
func buildMovie(moov *box.Box, movieDefaultTimescale uint32, movieDuration uint64) ([]*trackMeta, error) {
	trexByTrack := map[uint32]*box.Trex{}
	if mvex := moov.FindChild(box.TypeMvex); mvex != nil {
		for _, c := range mvex.FindChildren(box.TypeTrex) {
			if t, ok := c.Payload.(*box.Trex); ok {
				trexByTrack[t.TrackID] = t
			}
		}
	}

	var out []*trackMeta
	for _, trak := range moov.FindChildren(box.TypeTrak) {
		m, err := buildTrack(trak, trexByTrack, movieDefaultTimescale, movieDuration)
		if err != nil {
			return nil, err
		}
		if m != nil {
			out = append(out, m)
		}
	}
	return out, nil
}

func buildTrack(trak *box.Box, trexByTrack map[uint32]*box.Trex, movieTimescale uint32, movieDuration uint64) (*trackMeta, error) {
	tkhd, _ := trak.FindChild(box.TypeTkhd).Payload.(*box.Tkhd)
	mdia := trak.FindChild(box.TypeMdia)
	if mdia == nil || tkhd == nil {
		return nil, nil
	}
	mdhd, _ := mdia.FindChild(box.TypeMdhd).Payload.(*box.Mdhd)
	hdlr, _ := mdia.FindChild(box.TypeHdlr).Payload.(*box.Hdlr)
	minf := mdia.FindChild(box.TypeMinf)
	if mdhd == nil || hdlr == nil || minf == nil {
		return nil, nil
	}
	stbl := minf.FindChild(box.TypeStbl)
	if stbl == nil {
		return nil, nil
	}
	stsdBox := stbl.FindChild(box.TypeStsd)
	if stsdBox == nil || len(stsdBox.Children) == 0 {
		return nil, nil
	}

	trex := trexByTrack[tkhd.TrackID]
	entryIndex := 0
	if trex != nil && trex.DefaultSampleDescriptionIndex >= 1 && int(trex.DefaultSampleDescriptionIndex)-1 < len(stsdBox.Children) {
		entryIndex = int(trex.DefaultSampleDescriptionIndex) - 1
	}
	entry := stsdBox.Children[entryIndex]

	duration := mdhd.Duration
	if duration == 0 {
		duration = rescale(movieDuration, movieTimescale, mdhd.TimeScale)
	}

	editBias := int64(0)
	if edts := trak.FindChild(box.TypeEdts); edts != nil {
		if elst, ok := edts.FindChild(box.TypeElst).Payload.(*box.Elst); ok && len(elst.Entries) == 1 {
			editBias = elst.Entries[0].MediaTime
		}
	}

	base := media.StreamInfo{
		TrackID:   tkhd.TrackID,
		TimeScale: mdhd.TimeScale,
		Duration:  duration,
		Language:  mdhd.Language,
	}

	m := &trackMeta{editBias: editBias}
	if trex != nil {
		m.trex = TrexDefaults{
			SampleDescriptionIndex: trex.DefaultSampleDescriptionIndex,
			SampleDuration:         trex.DefaultSampleDuration,
			SampleSize:             trex.DefaultSampleSize,
			SampleFlags:            trex.DefaultSampleFlags,
		}
	}

	switch entry.Type {
	case box.TypeAvc1, box.TypeEncv:
		base.StreamType = media.StreamVideo
		base.Codec = media.CodecH264
		v, _ := entry.Payload.(*box.VisualSampleEntry)
		vi := &media.VideoStreamInfo{StreamInfo: base}
		if v != nil {
			vi.Width, vi.Height = uint32(v.Width), uint32(v.Height)
		}
		if avcC, ok := entry.FindChild(box.TypeAvcC).Payload.(*box.AvcC); ok {
			vi.NaluLengthSize = avcC.LengthSizeMinusOne + 1
			vi.SetExtraData(encodeAvcC(avcC))
		}
		if entry.Type == box.TypeEncv {
			m.encrypted = true
			m.keyID, m.ivSize = readTenc(entry)
		}
		vi.SetCodecString(avcCodecString(vi.ExtraData))
		m.stream = &vi.StreamInfo
		m.video = vi
	case box.TypeMp4a, box.TypeEnca:
		base.StreamType = media.StreamAudio
		base.Codec = media.CodecAAC
		a, _ := entry.Payload.(*box.AudioSampleEntry)
		ai := &media.AudioStreamInfo{StreamInfo: base}
		if a != nil {
			ai.NumChannels = uint8(a.ChannelCount)
			ai.SampleBits = uint8(a.SampleSize)
			ai.SamplingFrequency = a.SampleRate
		}
		if esds, ok := entry.FindChild(box.TypeEsds).Payload.(*box.Esds); ok {
			ai.SetExtraData(esds.DecoderSpecificInfo)
			if esds.ObjectTypeIndication == 0xa5 { // ec-3 promoted to EAC3 per §4.I
				ai.Codec = media.CodecEAC3
			}
		}
		if entry.Type == box.TypeEnca {
			m.encrypted = true
			m.keyID, m.ivSize = readTenc(entry)
		}
		ai.SetCodecString("mp4a.40.2")
		m.stream = &ai.StreamInfo
		m.audio = ai
	default:
		return nil, nil
	}
	m.stream.IsEncrypted = m.encrypted
	return m, nil
}

func readTenc(entry *box.Box) ([]byte, uint8) {
	sinf := entry.FindChild(box.TypeSinf)
	if sinf == nil {
		return nil, 0
	}
	schi := sinf.FindChild(box.TypeSchi)
	if schi == nil {
		return nil, 0
	}
	if tenc, ok := schi.FindChild(box.TypeTenc).Payload.(*box.Tenc); ok {
		return append([]byte(nil), tenc.DefaultKID[:]...), tenc.DefaultPerSampleIVSize
	}
	return nil, 0
}

func rescale(v uint64, from, to uint32) uint64 {
	if from == 0 {
		return v
	}
	return v * uint64(to) / uint64(from)
}

// encodeAvcC re-serializes a decoded AvcC back into raw
// AVCDecoderConfigurationRecord bytes for StreamInfo.ExtraData, matching
// what a non-fragmented parser would have handed the fragmenter.
func encodeAvcC(a *box.AvcC) []byte {
	out := []byte{a.ConfigurationVersion, a.AVCProfileIndication, a.ProfileCompatibility, a.AVCLevelIndication, 0xfc | (a.LengthSizeMinusOne & 0x03)}
	out = append(out, 0xe0|byte(len(a.SPS)))
	for _, s := range a.SPS {
		out = append(out, byte(len(s)>>8), byte(len(s)))
		out = append(out, s...)
	}
	out = append(out, byte(len(a.PPS)))
	for _, p := range a.PPS {
		out = append(out, byte(len(p)>>8), byte(len(p)))
		out = append(out, p...)
	}
	return out
}

func avcCodecString(extraData []byte) string {
	if len(extraData) < 4 {
		return "avc1"
	}
	return "avc1." + hexByte(extraData[1]) + hexByte(extraData[2]) + hexByte(extraData[3])
}

func hexByte(b byte) string {
	const hex = "0123456789abcdef"
	return string([]byte{hex[b>>4], hex[b&0xf]})
}
