package segment

import (
	"github.com/tetsuo/dashpack/box"
	"github.com/tetsuo/dashpack/media"
)

// TrackInput is what BuildMoov needs per track; it intentionally holds
// only what the box tree cares about, not the full StreamInfo type so
// video/audio-specific fields stay explicit.
type TrackInput struct {
	Stream     *media.StreamInfo
	Video      *media.VideoStreamInfo // nil for audio tracks
	Audio      *media.AudioStreamInfo // nil for video tracks
	Duration   uint64                 // track media duration, track time scale
	Defaults   FragmentDefaults
	Encrypted  *EncryptionLayout // nil unless this track is CENC-protected
}

// FragmentDefaults carries the per-track defaults BuildMoov writes into
// trex; its fields match fragment.Defaults.
type FragmentDefaults struct {
	SampleDescriptionIndex uint32
	SampleDuration         uint32
	SampleSize             uint32
	SampleFlags            uint32
}

// EncryptionLayout describes the stsd rewrite for one encrypted track
// (§4.F): the clear-lead duplicate entry plus the sinf child on the
// primary entry.
type EncryptionLayout struct {
	OriginalFourCC box.FourCC
	KeyID          []byte
	IVSize         uint8
	HasClearLead   bool
}

// BuildMoov assembles the full moov box for the given tracks (§6 file
// layout): mvhd, one trak per track, mvex with one trex per track, and
// any pssh boxes for active encryption keys. movieDuration is 0 for a
// live init segment (duration unknown up front); a VOD Finalize rebuilds
// the moov with the real, rescaled durations once every track has drained
// (§4.F Finalize step). mehd is emitted in both cases and carries
// movieDuration, so its fragment_duration is 0 in the initial moov.
func BuildMoov(movieTimescale uint32, movieDuration uint64, tracks []TrackInput, psshBoxes [][]byte) *box.Box {
	moov := box.NewContainer(box.TypeMoov)
	moov.AppendChild(box.NewLeaf(&box.Mvhd{
		Version:     0,
		TimeScale:   movieTimescale,
		Duration:    movieDuration,
		Rate:        0x00010000,
		Volume:      0x0100,
		Matrix:      identityMatrix(),
		NextTrackID: uint32(len(tracks) + 1),
	}))

	for _, t := range tracks {
		moov.AppendChild(buildTrak(t, movieTimescale))
	}

	mvex := box.NewContainer(box.TypeMvex)
	for _, t := range tracks {
		mvex.AppendChild(box.NewLeaf(&box.Trex{
			TrackID:                       t.Stream.TrackID,
			DefaultSampleDescriptionIndex: 1,
			DefaultSampleDuration:         t.Defaults.SampleDuration,
			DefaultSampleSize:             t.Defaults.SampleSize,
			DefaultSampleFlags:            t.Defaults.SampleFlags,
		}))
	}
	mvex.AppendChild(box.NewLeaf(&box.Mehd{FragmentDuration: movieDuration}))
	moov.AppendChild(mvex)

	for _, p := range psshBoxes {
		moov.AppendChild(&box.Box{Type: box.TypePssh, Payload: &box.Raw{Type: box.TypePssh, Data: p[8:]}})
	}
	return moov
}

// rescaleDuration converts a duration from fromScale ticks to toScale
// ticks (tkhd.duration and mvhd/mehd's overall duration are carried in the
// movie timescale even though mdhd.duration stays in the track's own).
func rescaleDuration(duration uint64, fromScale, toScale uint32) uint64 {
	if fromScale == 0 || fromScale == toScale {
		return duration
	}
	return duration * uint64(toScale) / uint64(fromScale)
}

func identityMatrix() [9]int32 {
	return [9]int32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000}
}

func buildTrak(t TrackInput, movieTimescale uint32) *box.Box {
	trak := box.NewContainer(box.TypeTrak)

	volume := int16(0)
	width, height := uint32(0), uint32(0)
	if t.Video != nil {
		width, height = t.Video.Width, t.Video.Height
	}
	if t.Audio != nil {
		volume = 0x0100
	}
	trak.AppendChild(box.NewLeaf(&box.Tkhd{
		Version:  0,
		Flags:    0x7, // track_enabled | track_in_movie | track_in_preview
		TrackID:  t.Stream.TrackID,
		Duration: rescaleDuration(t.Duration, t.Stream.TimeScale, movieTimescale),
		Volume:   volume,
		Matrix:   identityMatrix(),
		Width:    width << 16,
		Height:   height << 16,
	}))

	mdia := box.NewContainer(box.TypeMdia)
	mdia.AppendChild(box.NewLeaf(&box.Mdhd{
		Version:   0,
		TimeScale: t.Stream.TimeScale,
		Duration:  t.Duration,
		Language:  t.Stream.Language,
	}))

	handlerType := box.FourCC{'v', 'i', 'd', 'e'}
	handlerName := "VideoHandler"
	if t.Audio != nil {
		handlerType = box.FourCC{'s', 'o', 'u', 'n'}
		handlerName = "SoundHandler"
	}
	mdia.AppendChild(box.NewLeaf(&box.Hdlr{HandlerType: handlerType, Name: handlerName}))

	minf := box.NewContainer(box.TypeMinf)
	if t.Audio != nil {
		minf.AppendChild(box.NewLeaf(&box.Smhd{}))
	} else {
		minf.AppendChild(box.NewLeaf(&box.Vmhd{}))
	}
	dinf := box.NewContainer(box.TypeDinf)
	dref := &box.Dref{Entries: []*box.URLBox{{}}}
	drefBox := &box.Box{Type: box.TypeDref, Payload: dref}
	drefBox.AppendChild(box.NewLeaf(&box.URLBox{}))
	dinf.AppendChild(drefBox)
	minf.AppendChild(dinf)

	stbl := box.NewContainer(box.TypeStbl)
	stblEntry := buildSampleEntry(t)
	stsdBox := &box.Box{Type: box.TypeStsd, Payload: &box.Stsd{EntryCount: uint32(len(stblEntry))}}
	for _, e := range stblEntry {
		stsdBox.AppendChild(e)
	}
	stbl.AppendChild(stsdBox)
	stbl.AppendChild(box.NewLeaf(&box.Stts{}))
	stbl.AppendChild(box.NewLeaf(&box.Stsc{}))
	stbl.AppendChild(box.NewLeaf(&box.Stsz{}))
	stbl.AppendChild(box.NewLeaf(&box.Stco{}))
	minf.AppendChild(stbl)

	mdia.AppendChild(minf)
	trak.AppendChild(mdia)
	return trak
}

// buildSampleEntry returns one or two stsd entries: the primary (possibly
// rewritten to encv/enca) and, when a clear lead is configured, the
// duplicate clear entry at index 2 (§4.F).
func buildSampleEntry(t TrackInput) []*box.Box {
	primary := rawSampleEntry(t, t.Encrypted != nil)
	if t.Encrypted == nil || !t.Encrypted.HasClearLead {
		return []*box.Box{primary}
	}
	clear := rawSampleEntry(t, false)
	return []*box.Box{primary, clear}
}

func rawSampleEntry(t TrackInput, encrypted bool) *box.Box {
	if t.Video != nil {
		fourcc := box.TypeAvc1
		if encrypted {
			fourcc = box.TypeEncv
		}
		entry := &box.Box{Type: fourcc, Payload: &box.VisualSampleEntry{
			Type:               fourcc,
			DataReferenceIndex: 1,
			Width:              uint16(t.Video.Width),
			Height:             uint16(t.Video.Height),
		}}
		entry.AppendChild(&box.Box{Type: box.TypeAvcC, Payload: &box.Raw{Type: box.TypeAvcC, Data: t.Stream.ExtraData}})
		if encrypted {
			entry.AppendChild(buildSinf(t))
		}
		return entry
	}

	fourcc := box.TypeMp4a
	if encrypted {
		fourcc = box.TypeEnca
	}
	entry := &box.Box{Type: fourcc, Payload: &box.AudioSampleEntry{
		Type:               fourcc,
		DataReferenceIndex: 1,
		ChannelCount:       uint16(t.Audio.NumChannels),
		SampleSize:         uint16(t.Audio.SampleBits),
		SampleRate:         t.Audio.SamplingFrequency,
	}}
	entry.AppendChild(box.NewLeaf(&box.Esds{
		ObjectTypeIndication: 0x40, // AAC LC
		StreamType:           5,    // AudioStream
		DecoderSpecificInfo:  t.Stream.ExtraData,
	}))
	if encrypted {
		entry.AppendChild(buildSinf(t))
	}
	return entry
}

func buildSinf(t TrackInput) *box.Box {
	origFourCC := box.TypeAvc1
	if t.Video == nil {
		origFourCC = box.TypeMp4a
	}
	if t.Encrypted != nil && t.Encrypted.OriginalFourCC != (box.FourCC{}) {
		origFourCC = t.Encrypted.OriginalFourCC
	}

	sinf := box.NewContainer(box.TypeSinf)
	sinf.AppendChild(box.NewLeaf(&box.Frma{DataFormat: origFourCC}))
	sinf.AppendChild(box.NewLeaf(&box.Schm{SchemeType: box.FourCC{'c', 'e', 'n', 'c'}, SchemeVersion: 0x00010000}))

	schi := box.NewContainer(box.TypeSchi)
	tenc := &box.Tenc{
		DefaultIsProtected:     1,
		DefaultPerSampleIVSize: t.Encrypted.IVSize,
	}
	copy(tenc.DefaultKID[:], t.Encrypted.KeyID)
	schi.AppendChild(box.NewLeaf(tenc))
	sinf.AppendChild(schi)
	return sinf
}
