package box

func init() {
	register(TypeStsd, func() Payload { return &Stsd{} })
	register(TypeStts, func() Payload { return &Stts{} })
	register(TypeCtts, func() Payload { return &Ctts{} })
	register(TypeStsc, func() Payload { return &Stsc{} })
	register(TypeStsz, func() Payload { return &Stsz{} })
	register(TypeStco, func() Payload { return &Stco{} })
	register(TypeCo64, func() Payload { return &Co64{} })
	register(TypeStss, func() Payload { return &Stss{} })
}

// Stsd is the sample description box. Its single entry (avc1/encv/mp4a/enca)
// is kept as a raw child rather than a typed field: the wrapping Box's
// Children carries the actual sample entry box, parsed through the normal
// box tree (Stsd only tracks the FullBox header and entry count).
type Stsd struct {
	EntryCount uint32
}

func (*Stsd) BoxType() FourCC { return TypeStsd }

func (s *Stsd) ReadWrite(b *Buffer) error {
	var version uint8
	var flags uint32
	b.FullBoxHeader(&version, &flags)
	b.U32(&s.EntryCount)
	return b.Err()
}

func (*Stsd) ComputeSize() int { return 4 + 4 }

// SttsEntry is one run of same-duration samples.
type SttsEntry struct {
	SampleCount uint32
	SampleDelta uint32
}

// Stts is the time-to-sample box.
type Stts struct {
	Entries []SttsEntry
}

func (*Stts) BoxType() FourCC { return TypeStts }

func (s *Stts) ReadWrite(b *Buffer) error {
	var version uint8
	var flags uint32
	b.FullBoxHeader(&version, &flags)
	count := uint32(len(s.Entries))
	b.U32(&count)
	if b.Reading() {
		s.Entries = make([]SttsEntry, count)
	}
	for i := range s.Entries {
		b.U32(&s.Entries[i].SampleCount)
		b.U32(&s.Entries[i].SampleDelta)
	}
	return b.Err()
}

func (s *Stts) ComputeSize() int { return 4 + 4 + 8*len(s.Entries) }

// CttsEntry is one run of same-offset composition-time deltas.
type CttsEntry struct {
	SampleCount  uint32
	SampleOffset int32 // version 1: signed; version 0: unsigned but stored widened
}

// Ctts is the composition-time-to-sample box. It is always written as
// version 1 (signed offsets, §4.J edit-list/CTS bias note); version 0 is
// accepted on read.
type Ctts struct {
	Entries []CttsEntry
}

func (*Ctts) BoxType() FourCC { return TypeCtts }

func (c *Ctts) ReadWrite(b *Buffer) error {
	version := uint8(1)
	var flags uint32
	b.FullBoxHeader(&version, &flags)
	count := uint32(len(c.Entries))
	b.U32(&count)
	if b.Reading() {
		c.Entries = make([]CttsEntry, count)
	}
	for i := range c.Entries {
		b.U32(&c.Entries[i].SampleCount)
		if version == 0 {
			var u uint32
			if !b.Reading() {
				u = uint32(c.Entries[i].SampleOffset)
			}
			b.U32(&u)
			if b.Reading() {
				c.Entries[i].SampleOffset = int32(u)
			}
		} else {
			b.I32(&c.Entries[i].SampleOffset)
		}
	}
	return b.Err()
}

func (c *Ctts) ComputeSize() int { return 4 + 4 + 8*len(c.Entries) }

// StscEntry maps a run of chunks to a fixed samples-per-chunk count.
type StscEntry struct {
	FirstChunk             uint32
	SamplesPerChunk        uint32
	SampleDescriptionIndex uint32
}

// Stsc is the sample-to-chunk box.
type Stsc struct {
	Entries []StscEntry
}

func (*Stsc) BoxType() FourCC { return TypeStsc }

func (s *Stsc) ReadWrite(b *Buffer) error {
	var version uint8
	var flags uint32
	b.FullBoxHeader(&version, &flags)
	count := uint32(len(s.Entries))
	b.U32(&count)
	if b.Reading() {
		s.Entries = make([]StscEntry, count)
	}
	for i := range s.Entries {
		e := &s.Entries[i]
		b.U32(&e.FirstChunk)
		b.U32(&e.SamplesPerChunk)
		b.U32(&e.SampleDescriptionIndex)
	}
	return b.Err()
}

func (s *Stsc) ComputeSize() int { return 4 + 4 + 12*len(s.Entries) }

// Stsz is the sample size box.
type Stsz struct {
	SampleSize  uint32 // nonzero means all samples share this size
	SampleCount uint32
	EntrySizes  []uint32 // only populated when SampleSize == 0
}

func (*Stsz) BoxType() FourCC { return TypeStsz }

func (s *Stsz) ReadWrite(b *Buffer) error {
	var version uint8
	var flags uint32
	b.FullBoxHeader(&version, &flags)
	b.U32(&s.SampleSize)
	b.U32(&s.SampleCount)
	if s.SampleSize == 0 {
		if b.Reading() {
			s.EntrySizes = make([]uint32, s.SampleCount)
		}
		for i := range s.EntrySizes {
			b.U32(&s.EntrySizes[i])
		}
	}
	return b.Err()
}

func (s *Stsz) ComputeSize() int {
	n := 4 + 4 + 4
	if s.SampleSize == 0 {
		n += 4 * len(s.EntrySizes)
	}
	return n
}

// Stco is the 32-bit chunk offset box.
type Stco struct {
	ChunkOffsets []uint32
}

func (*Stco) BoxType() FourCC { return TypeStco }

func (s *Stco) ReadWrite(b *Buffer) error {
	var version uint8
	var flags uint32
	b.FullBoxHeader(&version, &flags)
	count := uint32(len(s.ChunkOffsets))
	b.U32(&count)
	if b.Reading() {
		s.ChunkOffsets = make([]uint32, count)
	}
	for i := range s.ChunkOffsets {
		b.U32(&s.ChunkOffsets[i])
	}
	return b.Err()
}

func (s *Stco) ComputeSize() int { return 4 + 4 + 4*len(s.ChunkOffsets) }

// Co64 is the 64-bit chunk offset box, used once file/sample sizes push
// offsets past 2^32 (§4.C).
type Co64 struct {
	ChunkOffsets []uint64
}

func (*Co64) BoxType() FourCC { return TypeCo64 }

func (c *Co64) ReadWrite(b *Buffer) error {
	var version uint8
	var flags uint32
	b.FullBoxHeader(&version, &flags)
	count := uint32(len(c.ChunkOffsets))
	b.U32(&count)
	if b.Reading() {
		c.ChunkOffsets = make([]uint64, count)
	}
	for i := range c.ChunkOffsets {
		b.U64(&c.ChunkOffsets[i])
	}
	return b.Err()
}

func (c *Co64) ComputeSize() int { return 4 + 4 + 8*len(c.ChunkOffsets) }

// Stss is the sync sample box: 1-based sample numbers that are SAPs.
type Stss struct {
	SampleNumbers []uint32
}

func (*Stss) BoxType() FourCC { return TypeStss }

func (s *Stss) ReadWrite(b *Buffer) error {
	var version uint8
	var flags uint32
	b.FullBoxHeader(&version, &flags)
	count := uint32(len(s.SampleNumbers))
	b.U32(&count)
	if b.Reading() {
		s.SampleNumbers = make([]uint32, count)
	}
	for i := range s.SampleNumbers {
		b.U32(&s.SampleNumbers[i])
	}
	return b.Err()
}

func (s *Stss) ComputeSize() int { return 4 + 4 + 4*len(s.SampleNumbers) }
