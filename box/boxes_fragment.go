package box

func init() {
	register(TypeMehd, func() Payload { return &Mehd{} })
	register(TypeTrex, func() Payload { return &Trex{} })
	register(TypeMfhd, func() Payload { return &Mfhd{} })
	register(TypeTfhd, func() Payload { return &Tfhd{} })
	register(TypeTfdt, func() Payload { return &Tfdt{} })
	register(TypeTrun, func() Payload { return &Trun{} })
	register(TypeSidx, func() Payload { return &Sidx{} })
}

// Mehd is the movie extends header box; ComputeSize returns 0 (and the box
// is omitted) when FragmentDuration is unset, since mehd is informative-only
// and most live streams never know a final duration up front.
type Mehd struct {
	Version          uint8
	FragmentDuration uint64
}

func (*Mehd) BoxType() FourCC { return TypeMehd }

func (m *Mehd) ReadWrite(b *Buffer) error {
	var flags uint32
	b.FullBoxHeader(&m.Version, &flags)
	if m.Version == 1 {
		b.U64(&m.FragmentDuration)
	} else {
		var d uint32
		if !b.Reading() {
			d = uint32(m.FragmentDuration)
		}
		b.U32(&d)
		if b.Reading() {
			m.FragmentDuration = uint64(d)
		}
	}
	return b.Err()
}

func (m *Mehd) ComputeSize() int {
	if m.FragmentDuration == 0 {
		return 0
	}
	if m.Version == 1 {
		return 4 + 8
	}
	return 4 + 4
}

// Trex carries the per-track movie-level defaults that tfhd.flags can
// elide (§4.E default-field optimization).
type Trex struct {
	TrackID                       uint32
	DefaultSampleDescriptionIndex uint32
	DefaultSampleDuration         uint32
	DefaultSampleSize             uint32
	DefaultSampleFlags            uint32
}

func (*Trex) BoxType() FourCC { return TypeTrex }

func (t *Trex) ReadWrite(b *Buffer) error {
	var version uint8
	var flags uint32
	b.FullBoxHeader(&version, &flags)
	b.U32(&t.TrackID)
	b.U32(&t.DefaultSampleDescriptionIndex)
	b.U32(&t.DefaultSampleDuration)
	b.U32(&t.DefaultSampleSize)
	b.U32(&t.DefaultSampleFlags)
	return b.Err()
}

func (*Trex) ComputeSize() int { return 4 + 4*5 }

// Mfhd is the movie fragment header box.
type Mfhd struct {
	SequenceNumber uint32
}

func (*Mfhd) BoxType() FourCC { return TypeMfhd }

func (m *Mfhd) ReadWrite(b *Buffer) error {
	var version uint8
	var flags uint32
	b.FullBoxHeader(&version, &flags)
	b.U32(&m.SequenceNumber)
	return b.Err()
}

func (*Mfhd) ComputeSize() int { return 4 + 4 }

// tfhd flag bits (§4.C).
const (
	TfhdBaseDataOffsetPresent        = 0x000001
	TfhdSampleDescriptionIndexPresent = 0x000002
	TfhdDefaultSampleDurationPresent = 0x000008
	TfhdDefaultSampleSizePresent     = 0x000010
	TfhdDefaultSampleFlagsPresent    = 0x000020
	TfhdDurationIsEmpty              = 0x010000
	TfhdDefaultBaseIsMoof            = 0x020000
)

// Tfhd is the track fragment header box.
type Tfhd struct {
	Flags                         uint32
	TrackID                       uint32
	BaseDataOffset                uint64
	SampleDescriptionIndex        uint32
	DefaultSampleDuration         uint32
	DefaultSampleSize             uint32
	DefaultSampleFlags            uint32
}

func (*Tfhd) BoxType() FourCC { return TypeTfhd }

func (t *Tfhd) ReadWrite(b *Buffer) error {
	var version uint8
	b.FullBoxHeader(&version, &t.Flags)
	b.U32(&t.TrackID)
	if t.Flags&TfhdBaseDataOffsetPresent != 0 {
		b.U64(&t.BaseDataOffset)
	}
	if t.Flags&TfhdSampleDescriptionIndexPresent != 0 {
		b.U32(&t.SampleDescriptionIndex)
	}
	if t.Flags&TfhdDefaultSampleDurationPresent != 0 {
		b.U32(&t.DefaultSampleDuration)
	}
	if t.Flags&TfhdDefaultSampleSizePresent != 0 {
		b.U32(&t.DefaultSampleSize)
	}
	if t.Flags&TfhdDefaultSampleFlagsPresent != 0 {
		b.U32(&t.DefaultSampleFlags)
	}
	return b.Err()
}

func (t *Tfhd) ComputeSize() int {
	n := 4 + 4
	if t.Flags&TfhdBaseDataOffsetPresent != 0 {
		n += 8
	}
	if t.Flags&TfhdSampleDescriptionIndexPresent != 0 {
		n += 4
	}
	if t.Flags&TfhdDefaultSampleDurationPresent != 0 {
		n += 4
	}
	if t.Flags&TfhdDefaultSampleSizePresent != 0 {
		n += 4
	}
	if t.Flags&TfhdDefaultSampleFlagsPresent != 0 {
		n += 4
	}
	return n
}

// Tfdt is the track fragment decode time box.
type Tfdt struct {
	Version            uint8
	BaseMediaDecodeTime uint64
}

func (*Tfdt) BoxType() FourCC { return TypeTfdt }

func (t *Tfdt) ReadWrite(b *Buffer) error {
	var flags uint32
	b.FullBoxHeader(&t.Version, &flags)
	if t.Version == 1 {
		b.U64(&t.BaseMediaDecodeTime)
	} else {
		var d uint32
		if !b.Reading() {
			d = uint32(t.BaseMediaDecodeTime)
		}
		b.U32(&d)
		if b.Reading() {
			t.BaseMediaDecodeTime = uint64(d)
		}
	}
	return b.Err()
}

func (t *Tfdt) ComputeSize() int {
	if t.Version == 1 {
		return 4 + 8
	}
	return 4 + 4
}

// trun flag bits (§4.C).
const (
	TrunDataOffsetPresent                   = 0x000001
	TrunFirstSampleFlagsPresent              = 0x000004
	TrunSampleDurationPresent                = 0x000100
	TrunSampleSizePresent                    = 0x000200
	TrunSampleFlagsPresent                   = 0x000400
	TrunSampleCompositionTimeOffsetsPresent  = 0x000800
)

// TrunEntry is one sample's per-sample fields, present only when the
// corresponding trun flag bit is set.
type TrunEntry struct {
	SampleDuration              uint32
	SampleSize                  uint32
	SampleFlags                 uint32
	SampleCompositionTimeOffset int32
}

// Trun is the track fragment run box.
type Trun struct {
	Version          uint8
	Flags            uint32
	DataOffset       int32
	FirstSampleFlags uint32
	Entries          []TrunEntry
}

func (*Trun) BoxType() FourCC { return TypeTrun }

func (t *Trun) ReadWrite(b *Buffer) error {
	b.FullBoxHeader(&t.Version, &t.Flags)
	count := uint32(len(t.Entries))
	b.U32(&count)
	if b.Reading() {
		t.Entries = make([]TrunEntry, count)
	}
	if t.Flags&TrunDataOffsetPresent != 0 {
		b.I32(&t.DataOffset)
	}
	if t.Flags&TrunFirstSampleFlagsPresent != 0 {
		b.U32(&t.FirstSampleFlags)
	}
	for i := range t.Entries {
		e := &t.Entries[i]
		if t.Flags&TrunSampleDurationPresent != 0 {
			b.U32(&e.SampleDuration)
		}
		if t.Flags&TrunSampleSizePresent != 0 {
			b.U32(&e.SampleSize)
		}
		if t.Flags&TrunSampleFlagsPresent != 0 {
			b.U32(&e.SampleFlags)
		}
		if t.Flags&TrunSampleCompositionTimeOffsetsPresent != 0 {
			if t.Version == 0 {
				var u uint32
				if !b.Reading() {
					u = uint32(e.SampleCompositionTimeOffset)
				}
				b.U32(&u)
				if b.Reading() {
					e.SampleCompositionTimeOffset = int32(u)
				}
			} else {
				b.I32(&e.SampleCompositionTimeOffset)
			}
		}
	}
	return b.Err()
}

func (t *Trun) ComputeSize() int {
	n := 4 + 4
	if t.Flags&TrunDataOffsetPresent != 0 {
		n += 4
	}
	if t.Flags&TrunFirstSampleFlagsPresent != 0 {
		n += 4
	}
	per := 0
	if t.Flags&TrunSampleDurationPresent != 0 {
		per += 4
	}
	if t.Flags&TrunSampleSizePresent != 0 {
		per += 4
	}
	if t.Flags&TrunSampleFlagsPresent != 0 {
		per += 4
	}
	if t.Flags&TrunSampleCompositionTimeOffsetsPresent != 0 {
		per += 4
	}
	return n + per*len(t.Entries)
}

// SidxReference is one reference entry of a segment index box.
type SidxReference struct {
	ReferenceType      uint8 // 0 = media, 1 = sidx
	ReferencedSize     uint32
	SubsegmentDuration uint32
	StartsWithSAP      uint8
	SAPType            uint8
	SAPDeltaTime       uint32
}

// Sidx is the segment index box (§4.G VOD two-pass collapse target).
type Sidx struct {
	Version              uint8
	ReferenceID          uint32
	Timescale            uint32
	EarliestPresentationTime uint64
	FirstOffset          uint64
	References           []SidxReference
}

func (*Sidx) BoxType() FourCC { return TypeSidx }

func (s *Sidx) ReadWrite(b *Buffer) error {
	var flags uint32
	b.FullBoxHeader(&s.Version, &flags)
	b.U32(&s.ReferenceID)
	b.U32(&s.Timescale)
	if s.Version == 0 {
		var ept, fo uint32
		if !b.Reading() {
			ept, fo = uint32(s.EarliestPresentationTime), uint32(s.FirstOffset)
		}
		b.U32(&ept)
		b.U32(&fo)
		if b.Reading() {
			s.EarliestPresentationTime, s.FirstOffset = uint64(ept), uint64(fo)
		}
	} else {
		b.U64(&s.EarliestPresentationTime)
		b.U64(&s.FirstOffset)
	}
	b.Skip(2) // reserved
	count := uint16(len(s.References))
	b.U16(&count)
	if b.Reading() {
		s.References = make([]SidxReference, count)
	}
	for i := range s.References {
		r := &s.References[i]
		word1 := uint32(r.ReferenceType)<<31 | (r.ReferencedSize & 0x7fffffff)
		b.U32(&word1)
		if b.Reading() {
			r.ReferenceType = uint8(word1 >> 31)
			r.ReferencedSize = word1 & 0x7fffffff
		}
		b.U32(&r.SubsegmentDuration)
		word3 := uint32(r.StartsWithSAP)<<31 | uint32(r.SAPType)<<28 | (r.SAPDeltaTime & 0x0fffffff)
		b.U32(&word3)
		if b.Reading() {
			r.StartsWithSAP = uint8(word3 >> 31)
			r.SAPType = uint8((word3 >> 28) & 0x07)
			r.SAPDeltaTime = word3 & 0x0fffffff
		}
	}
	return b.Err()
}

func (s *Sidx) ComputeSize() int {
	n := 4 + 4 + 4
	if s.Version == 0 {
		n += 4 + 4
	} else {
		n += 8 + 8
	}
	n += 2 + 2 + 12*len(s.References)
	return n
}
