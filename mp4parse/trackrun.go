package mp4parse

import "github.com/tetsuo/dashpack/box"

// nonKeySampleFlag mirrors fragment.nonKeySampleFlag, which is unexported.
const nonKeySampleFlag = 0x10000

// TrexDefaults carries the movie-level per-track defaults a tfhd/trun can
// omit (§4.J "format default" precedence tier).
type TrexDefaults struct {
	SampleDescriptionIndex uint32
	SampleDuration         uint32
	SampleSize             uint32
	SampleFlags            uint32
}

// SampleDescriptor is one linearized sample yielded by a TrackRunIterator.
type SampleDescriptor struct {
	Offset     int64 // byte offset relative to the start of the owning moof
	Size       uint32
	DTS        int64
	CTS        int64
	Duration   uint32
	IsKeyFrame bool

	// AuxOffset/AuxSize describe this sample's slice of the traf's aux
	// info blob, or (-1, 0) when the track isn't encrypted.
	AuxOffset int64
	AuxSize   uint8
}

// TrackRunIterator linearizes one traf's trun entries against its tfhd and
// the movie-level trex defaults (§4.J): for every field, trun overrides
// tfhd defaults, which override trex defaults, which override the format
// default of zero.
type TrackRunIterator struct {
	trackID uint32
	trex    TrexDefaults
	tfhd    *box.Tfhd
	tfdt    *box.Tfdt
	trun    *box.Trun
	saiz    *box.Saiz
	saio    *box.Saio

	editBias int64 // CTS bias from a single-entry edit list; 0 if none

	idx              int
	runningDTS       int64
	dataOffsetBase   int64
	cumulativeOffset int64
	auxCursor        int64
	auxCached        bool
}

// NewTrackRunIterator builds an iterator over one traf. saiz/saio may be
// nil when the track isn't encrypted.
func NewTrackRunIterator(trackID uint32, trex TrexDefaults, tfhd *box.Tfhd, tfdt *box.Tfdt, trun *box.Trun, saiz *box.Saiz, saio *box.Saio, editBias int64) *TrackRunIterator {
	it := &TrackRunIterator{
		trackID:  trackID,
		trex:     trex,
		tfhd:     tfhd,
		tfdt:     tfdt,
		trun:     trun,
		saiz:     saiz,
		saio:     saio,
		editBias: editBias,
	}
	if tfdt != nil {
		it.runningDTS = int64(tfdt.BaseMediaDecodeTime)
	}
	if trun.Flags&box.TrunDataOffsetPresent != 0 {
		it.dataOffsetBase = int64(trun.DataOffset)
	} else if tfhd.Flags&box.TfhdBaseDataOffsetPresent != 0 {
		it.dataOffsetBase = int64(tfhd.BaseDataOffset)
	}
	if saio != nil && len(saio.Offsets) > 0 {
		it.auxCursor = int64(saio.Offsets[0])
	}
	return it
}

// AuxInfoNeedsToBeCached reports whether this run carries auxiliary info
// that the parser hasn't copied out of the byte queue yet (§4.J).
func (it *TrackRunIterator) AuxInfoNeedsToBeCached() bool {
	return it.saio != nil && !it.auxCached
}

// MarkAuxCached records that the parser has copied the aux blob out, so
// subsequent calls stop requesting it.
func (it *TrackRunIterator) MarkAuxCached() { it.auxCached = true }

// AuxBlobOffset returns the whole run's aux-info blob start, relative to
// the owning moof, or 0 if this run isn't encrypted.
func (it *TrackRunIterator) AuxBlobOffset() int64 {
	if it.saio == nil || len(it.saio.Offsets) == 0 {
		return 0
	}
	return int64(it.saio.Offsets[0])
}

// AuxBlobSize returns the total size of the run's aux-info blob (the sum
// of every sample's aux-info size), or 0 if this run isn't encrypted.
func (it *TrackRunIterator) AuxBlobSize() int {
	if it.saiz == nil {
		return 0
	}
	if it.saiz.DefaultSampleInfoSize != 0 {
		return int(it.saiz.DefaultSampleInfoSize) * len(it.trun.Entries)
	}
	total := 0
	for _, s := range it.saiz.Sizes {
		total += int(s)
	}
	return total
}

// Done reports whether every trun entry has been consumed.
func (it *TrackRunIterator) Done() bool { return it.idx >= len(it.trun.Entries) }

// GetMaxClearOffset returns the smallest byte offset (relative to moof
// start) still needed by this iterator — the minimum of the next sample's
// offset and the aux info offset — so the parser can discard queue bytes
// below that watermark (§4.J).
func (it *TrackRunIterator) GetMaxClearOffset() int64 {
	min := it.dataOffsetBase + it.cumulativeOffset
	if it.saio != nil && it.auxCursor < min {
		min = it.auxCursor
	}
	return min
}

func (it *TrackRunIterator) sampleDuration(e *box.TrunEntry) uint32 {
	if it.trun.Flags&box.TrunSampleDurationPresent != 0 {
		return e.SampleDuration
	}
	if it.tfhd.Flags&box.TfhdDefaultSampleDurationPresent != 0 {
		return it.tfhd.DefaultSampleDuration
	}
	return it.trex.SampleDuration
}

func (it *TrackRunIterator) sampleSize(e *box.TrunEntry) uint32 {
	if it.trun.Flags&box.TrunSampleSizePresent != 0 {
		return e.SampleSize
	}
	if it.tfhd.Flags&box.TfhdDefaultSampleSizePresent != 0 {
		return it.tfhd.DefaultSampleSize
	}
	return it.trex.SampleSize
}

func (it *TrackRunIterator) sampleFlags(i int, e *box.TrunEntry) uint32 {
	if i == 0 && it.trun.Flags&box.TrunFirstSampleFlagsPresent != 0 {
		return it.trun.FirstSampleFlags
	}
	if it.trun.Flags&box.TrunSampleFlagsPresent != 0 {
		return e.SampleFlags
	}
	if it.tfhd.Flags&box.TfhdDefaultSampleFlagsPresent != 0 {
		return it.tfhd.DefaultSampleFlags
	}
	return it.trex.SampleFlags
}

// Next returns the next linearized sample and advances the iterator, or
// returns false once every entry has been consumed.
func (it *TrackRunIterator) Next() (SampleDescriptor, bool) {
	if it.Done() {
		return SampleDescriptor{}, false
	}
	e := &it.trun.Entries[it.idx]

	dur := it.sampleDuration(e)
	size := it.sampleSize(e)
	flags := it.sampleFlags(it.idx, e)

	cts := it.runningDTS + int64(e.SampleCompositionTimeOffset) - it.editBias

	desc := SampleDescriptor{
		Offset:     it.dataOffsetBase + it.cumulativeOffset,
		Size:       size,
		DTS:        it.runningDTS,
		CTS:        cts,
		Duration:   dur,
		IsKeyFrame: flags&nonKeySampleFlag == 0,
		AuxOffset:  -1,
	}

	if it.saiz != nil {
		auxSize := it.saiz.DefaultSampleInfoSize
		if auxSize == 0 && it.idx < len(it.saiz.Sizes) {
			auxSize = it.saiz.Sizes[it.idx]
		}
		desc.AuxOffset = it.auxCursor
		desc.AuxSize = auxSize
		it.auxCursor += int64(auxSize)
	}

	it.runningDTS += int64(dur)
	it.cumulativeOffset += int64(size)
	it.idx++
	return desc, true
}
