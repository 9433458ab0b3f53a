package box

func init() {
	register(TypeSaiz, func() Payload { return &Saiz{} })
	register(TypeSaio, func() Payload { return &Saio{} })
	register(TypeSbgp, func() Payload { return &Sbgp{} })
	register(TypeSgpd, func() Payload { return &Sgpd{} })
	register(TypePssh, func() Payload { return &Pssh{} })
	register(TypeFrma, func() Payload { return &Frma{} })
	register(TypeSchm, func() Payload { return &Schm{} })
	register(TypeTenc, func() Payload { return &Tenc{} })
}

// Saiz is the sample auxiliary information size box (CENC §4.D). When all
// samples share one AuxInfoSize it's carried in DefaultSampleInfoSize and
// the per-sample Sizes slice is left empty; otherwise DefaultSampleInfoSize
// is 0 and every sample has an explicit entry. SampleCount is always the
// fragment's actual sample count, independent of whether Sizes is populated
// (the default-size optimization must not be allowed to zero it out).
type Saiz struct {
	Version               uint8
	Flags                 uint32
	AuxInfoType           FourCC
	AuxInfoTypeParameter  uint32
	DefaultSampleInfoSize uint8
	SampleCount           uint32
	Sizes                 []uint8
}

func (*Saiz) BoxType() FourCC { return TypeSaiz }

const auxInfoTypePresent = 0x1

func (s *Saiz) ReadWrite(b *Buffer) error {
	b.FullBoxHeader(&s.Version, &s.Flags)
	if s.Flags&auxInfoTypePresent != 0 {
		b.FourCCField(&s.AuxInfoType)
		b.U32(&s.AuxInfoTypeParameter)
	}
	b.U8(&s.DefaultSampleInfoSize)
	b.U32(&s.SampleCount)
	if s.DefaultSampleInfoSize == 0 {
		if b.Reading() {
			s.Sizes = make([]uint8, s.SampleCount)
		}
		for i := range s.Sizes {
			b.U8(&s.Sizes[i])
		}
	}
	return b.Err()
}

func (s *Saiz) ComputeSize() int {
	n := 4
	if s.Flags&auxInfoTypePresent != 0 {
		n += 8
	}
	n += 1 + 4
	if s.DefaultSampleInfoSize == 0 {
		n += len(s.Sizes)
	}
	return n
}

// Saio is the sample auxiliary information offset box.
type Saio struct {
	Version              uint8
	Flags                uint32
	AuxInfoType          FourCC
	AuxInfoTypeParameter uint32
	Offsets              []uint64 // version 0 stores 32-bit values widened
}

func (*Saio) BoxType() FourCC { return TypeSaio }

func (s *Saio) ReadWrite(b *Buffer) error {
	b.FullBoxHeader(&s.Version, &s.Flags)
	if s.Flags&auxInfoTypePresent != 0 {
		b.FourCCField(&s.AuxInfoType)
		b.U32(&s.AuxInfoTypeParameter)
	}
	count := uint32(len(s.Offsets))
	b.U32(&count)
	if b.Reading() {
		s.Offsets = make([]uint64, count)
	}
	for i := range s.Offsets {
		if s.Version == 0 {
			var o uint32
			if !b.Reading() {
				o = uint32(s.Offsets[i])
			}
			b.U32(&o)
			if b.Reading() {
				s.Offsets[i] = uint64(o)
			}
		} else {
			b.U64(&s.Offsets[i])
		}
	}
	return b.Err()
}

func (s *Saio) ComputeSize() int {
	n := 4
	if s.Flags&auxInfoTypePresent != 0 {
		n += 8
	}
	n += 4
	if s.Version == 0 {
		n += 4 * len(s.Offsets)
	} else {
		n += 8 * len(s.Offsets)
	}
	return n
}

// Sbgp is the sample-to-group box; used with grouping type "seig" for
// key-rotating CENC (§4.E).
type Sbgp struct {
	Version               uint8
	GroupingType          FourCC
	GroupingTypeParameter uint32
	Entries               []SbgpEntry
}

// SbgpEntry maps a run of samples to a group description index.
type SbgpEntry struct {
	SampleCount           uint32
	GroupDescriptionIndex uint32
}

func (*Sbgp) BoxType() FourCC { return TypeSbgp }

func (s *Sbgp) ReadWrite(b *Buffer) error {
	var flags uint32
	b.FullBoxHeader(&s.Version, &flags)
	b.FourCCField(&s.GroupingType)
	if s.Version == 1 {
		b.U32(&s.GroupingTypeParameter)
	}
	count := uint32(len(s.Entries))
	b.U32(&count)
	if b.Reading() {
		s.Entries = make([]SbgpEntry, count)
	}
	for i := range s.Entries {
		b.U32(&s.Entries[i].SampleCount)
		b.U32(&s.Entries[i].GroupDescriptionIndex)
	}
	return b.Err()
}

func (s *Sbgp) ComputeSize() int {
	n := 4 + 4
	if s.Version == 1 {
		n += 4
	}
	n += 4 + 8*len(s.Entries)
	return n
}

// SgpdEntry is one CencSampleEncryptionInformationGroupEntry ("seig").
type SgpdEntry struct {
	IsProtected        uint8
	PerSampleIVSize    uint8
	KeyID              [16]byte
	ConstantIVSize     uint8
	ConstantIV         []byte
}

// Sgpd is the sample group description box, grouping type "seig".
type Sgpd struct {
	Version               uint8
	GroupingType          FourCC
	DefaultLength         uint32 // version >= 1
	DefaultSampleDescriptionIndex uint32 // version >= 2
	Entries               []SgpdEntry
}

func (*Sgpd) BoxType() FourCC { return TypeSgpd }

func (s *Sgpd) entryLen(e *SgpdEntry) uint32 {
	n := uint32(1 + 1 + 16)
	if e.PerSampleIVSize == 0 {
		n += 1 + uint32(len(e.ConstantIV))
	}
	return n
}

func (s *Sgpd) ReadWrite(b *Buffer) error {
	var flags uint32
	b.FullBoxHeader(&s.Version, &flags)
	b.FourCCField(&s.GroupingType)
	if s.Version >= 1 {
		b.U32(&s.DefaultLength)
	}
	if s.Version >= 2 {
		b.U32(&s.DefaultSampleDescriptionIndex)
	}
	count := uint32(len(s.Entries))
	b.U32(&count)
	if b.Reading() {
		s.Entries = make([]SgpdEntry, count)
	}
	for i := range s.Entries {
		e := &s.Entries[i]
		if s.Version == 1 && s.DefaultLength == 0 {
			l := s.entryLen(e)
			b.U32(&l)
		}
		b.U8(&e.IsProtected)
		b.U8(&e.PerSampleIVSize)
		b.FixedBytes(e.KeyID[:])
		if e.PerSampleIVSize == 0 {
			b.U8(&e.ConstantIVSize)
			if b.Reading() {
				e.ConstantIV = make([]byte, e.ConstantIVSize)
			}
			b.FixedBytes(e.ConstantIV)
		}
	}
	return b.Err()
}

func (s *Sgpd) ComputeSize() int {
	n := 4 + 4
	if s.Version >= 1 {
		n += 4
	}
	if s.Version >= 2 {
		n += 4
	}
	n += 4
	for i := range s.Entries {
		n += int(s.entryLen(&s.Entries[i]))
		if s.Version == 1 && s.DefaultLength == 0 {
			n += 4
		}
	}
	return n
}

// Pssh is the protection system specific header box.
type Pssh struct {
	Version  uint8
	SystemID [16]byte
	KeyIDs   [][16]byte // version 1 only
	Data     []byte
}

func (*Pssh) BoxType() FourCC { return TypePssh }

func (p *Pssh) ReadWrite(b *Buffer) error {
	var flags uint32
	b.FullBoxHeader(&p.Version, &flags)
	b.FixedBytes(p.SystemID[:])
	if p.Version > 0 {
		count := uint32(len(p.KeyIDs))
		b.U32(&count)
		if b.Reading() {
			p.KeyIDs = make([][16]byte, count)
		}
		for i := range p.KeyIDs {
			b.FixedBytes(p.KeyIDs[i][:])
		}
	}
	dataLen := uint32(len(p.Data))
	b.U32(&dataLen)
	if b.Reading() {
		p.Data = make([]byte, dataLen)
	}
	b.FixedBytes(p.Data)
	return b.Err()
}

func (p *Pssh) ComputeSize() int {
	n := 4 + 16
	if p.Version > 0 {
		n += 4 + 16*len(p.KeyIDs)
	}
	n += 4 + len(p.Data)
	return n
}

// Frma is the original-format box, inside sinf.
type Frma struct {
	DataFormat FourCC
}

func (*Frma) BoxType() FourCC { return TypeFrma }

func (f *Frma) ReadWrite(b *Buffer) error {
	b.FourCCField(&f.DataFormat)
	return b.Err()
}

func (*Frma) ComputeSize() int { return 4 }

// Schm is the scheme type box; SchemeType is "cenc" for this module.
type Schm struct {
	Flags          uint32
	SchemeType     FourCC
	SchemeVersion  uint32
	SchemeURI      string
}

func (*Schm) BoxType() FourCC { return TypeSchm }

func (s *Schm) ReadWrite(b *Buffer) error {
	var version uint8
	b.FullBoxHeader(&version, &s.Flags)
	b.FourCCField(&s.SchemeType)
	b.U32(&s.SchemeVersion)
	if s.Flags&0x1 != 0 {
		b.CString(&s.SchemeURI)
	}
	return b.Err()
}

func (s *Schm) ComputeSize() int {
	n := 4 + 4 + 4
	if s.Flags&0x1 != 0 {
		n += len(s.SchemeURI) + 1
	}
	return n
}

// Tenc is the track encryption box.
type Tenc struct {
	Version            uint8
	DefaultCryptByteBlock uint8
	DefaultSkipByteBlock  uint8
	DefaultIsProtected uint8
	DefaultPerSampleIVSize uint8
	DefaultKID         [16]byte
	DefaultConstantIVSize uint8
	DefaultConstantIV  []byte
}

func (*Tenc) BoxType() FourCC { return TypeTenc }

func (t *Tenc) ReadWrite(b *Buffer) error {
	var flags uint32
	b.FullBoxHeader(&t.Version, &flags)
	b.Skip(1) // reserved
	if t.Version == 0 {
		b.Skip(1) // reserved
	} else {
		patternByte := (t.DefaultCryptByteBlock << 4) | (t.DefaultSkipByteBlock & 0x0f)
		b.U8(&patternByte)
		if b.Reading() {
			t.DefaultCryptByteBlock = patternByte >> 4
			t.DefaultSkipByteBlock = patternByte & 0x0f
		}
	}
	b.U8(&t.DefaultIsProtected)
	b.U8(&t.DefaultPerSampleIVSize)
	b.FixedBytes(t.DefaultKID[:])
	if t.DefaultIsProtected == 1 && t.DefaultPerSampleIVSize == 0 {
		b.U8(&t.DefaultConstantIVSize)
		if b.Reading() {
			t.DefaultConstantIV = make([]byte, t.DefaultConstantIVSize)
		}
		b.FixedBytes(t.DefaultConstantIV)
	}
	return b.Err()
}

func (t *Tenc) ComputeSize() int {
	n := 4 + 1 + 1 + 1 + 1 + 16
	if t.DefaultIsProtected == 1 && t.DefaultPerSampleIVSize == 0 {
		n += 1 + len(t.DefaultConstantIV)
	}
	return n
}
