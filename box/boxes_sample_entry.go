package box

import "fmt"

func init() {
	register(TypeAvc1, func() Payload { return &VisualSampleEntry{Type: TypeAvc1} })
	register(TypeEncv, func() Payload { return &VisualSampleEntry{Type: TypeEncv} })
	register(TypeAvcC, func() Payload { return &AvcC{} })
	register(TypePasp, func() Payload { return &Pasp{} })
	register(TypeBtrt, func() Payload { return &Btrt{} })
	register(TypeMp4a, func() Payload { return &AudioSampleEntry{Type: TypeMp4a} })
	register(TypeEnca, func() Payload { return &AudioSampleEntry{Type: TypeEnca} })
	register(TypeEsds, func() Payload { return &Esds{} })
}

// VisualSampleEntry covers both avc1 and encv (the latter wraps an avcC plus
// a sinf child, §4.D); its remaining children (avcC/encv's sinf/pasp/btrt)
// live in the wrapping Box's Children.
type VisualSampleEntry struct {
	Type            FourCC
	DataReferenceIndex uint16
	Width           uint16
	Height          uint16
	HorizResolution uint32 // 16.16 fixed, default 0x00480000
	VertResolution  uint32
	FrameCount      uint16
	CompressorName  string
	Depth           uint16
}

func (e *VisualSampleEntry) BoxType() FourCC { return e.Type }

func (e *VisualSampleEntry) ReadWrite(b *Buffer) error {
	b.Skip(6) // reserved
	b.U16(&e.DataReferenceIndex)
	b.Skip(2) // pre_defined
	b.Skip(2) // reserved
	b.Skip(12) // pre_defined[3]
	b.U16(&e.Width)
	b.U16(&e.Height)
	if e.HorizResolution == 0 && !b.Reading() {
		e.HorizResolution = 0x00480000
	}
	if e.VertResolution == 0 && !b.Reading() {
		e.VertResolution = 0x00480000
	}
	b.U32(&e.HorizResolution)
	b.U32(&e.VertResolution)
	b.Skip(4) // reserved
	b.U16(&e.FrameCount)
	b.FixedString(&e.CompressorName, 32)
	if e.Depth == 0 && !b.Reading() {
		e.Depth = 0x0018
	}
	b.U16(&e.Depth)
	var predefined int16 = -1
	b.I16(&predefined)
	return b.Err()
}

func (e *VisualSampleEntry) ComputeSize() int {
	return 6 + 2 + 2 + 2 + 12 + 2 + 2 + 4 + 4 + 4 + 2 + 32 + 2 + 2
}

// AvcC is the AVCDecoderConfigurationRecord box.
type AvcC struct {
	ConfigurationVersion uint8
	AVCProfileIndication uint8
	ProfileCompatibility uint8
	AVCLevelIndication   uint8
	LengthSizeMinusOne   uint8 // low 2 bits, rest reserved-1
	SPS                  [][]byte
	PPS                  [][]byte
}

func (*AvcC) BoxType() FourCC { return TypeAvcC }

func (a *AvcC) ReadWrite(b *Buffer) error {
	b.U8(&a.ConfigurationVersion)
	b.U8(&a.AVCProfileIndication)
	b.U8(&a.ProfileCompatibility)
	b.U8(&a.AVCLevelIndication)

	lengthByte := 0xfc | (a.LengthSizeMinusOne & 0x03)
	b.U8(&lengthByte)
	if b.Reading() {
		a.LengthSizeMinusOne = lengthByte & 0x03
	}

	spsCountByte := 0xe0 | uint8(len(a.SPS))
	b.U8(&spsCountByte)
	spsCount := spsCountByte & 0x1f
	if b.Reading() {
		a.SPS = make([][]byte, spsCount)
	}
	for i := range a.SPS {
		var l uint16 = uint16(len(a.SPS[i]))
		b.U16(&l)
		if b.Reading() {
			a.SPS[i] = make([]byte, l)
		}
		b.FixedBytes(a.SPS[i])
	}

	ppsCount := uint8(len(a.PPS))
	b.U8(&ppsCount)
	if b.Reading() {
		a.PPS = make([][]byte, ppsCount)
	}
	for i := range a.PPS {
		var l uint16 = uint16(len(a.PPS[i]))
		b.U16(&l)
		if b.Reading() {
			a.PPS[i] = make([]byte, l)
		}
		b.FixedBytes(a.PPS[i])
	}
	return b.Err()
}

func (a *AvcC) ComputeSize() int {
	n := 4 + 1 + 1 + 1
	for _, s := range a.SPS {
		n += 2 + len(s)
	}
	for _, p := range a.PPS {
		n += 2 + len(p)
	}
	return n
}

// Pasp is the pixel aspect ratio box.
type Pasp struct {
	HSpacing uint32
	VSpacing uint32
}

func (*Pasp) BoxType() FourCC { return TypePasp }

func (p *Pasp) ReadWrite(b *Buffer) error {
	b.U32(&p.HSpacing)
	b.U32(&p.VSpacing)
	return b.Err()
}

func (*Pasp) ComputeSize() int { return 8 }

// Btrt is the bitrate box.
type Btrt struct {
	BufferSizeDB uint32
	MaxBitrate   uint32
	AvgBitrate   uint32
}

func (*Btrt) BoxType() FourCC { return TypeBtrt }

func (t *Btrt) ReadWrite(b *Buffer) error {
	b.U32(&t.BufferSizeDB)
	b.U32(&t.MaxBitrate)
	b.U32(&t.AvgBitrate)
	return b.Err()
}

func (*Btrt) ComputeSize() int { return 12 }

// AudioSampleEntry covers both mp4a and enca.
type AudioSampleEntry struct {
	Type               FourCC
	DataReferenceIndex uint16
	ChannelCount       uint16
	SampleSize         uint16
	SampleRate         uint32 // integer Hz; ReadWrite stores it as 16.16 fixed point
}

func (e *AudioSampleEntry) BoxType() FourCC { return e.Type }

func (e *AudioSampleEntry) ReadWrite(b *Buffer) error {
	b.Skip(6) // reserved
	b.U16(&e.DataReferenceIndex)
	b.Skip(8) // reserved (version/revision/vendor in QT layout, zeroed here)
	if e.ChannelCount == 0 && !b.Reading() {
		e.ChannelCount = 2
	}
	b.U16(&e.ChannelCount)
	if e.SampleSize == 0 && !b.Reading() {
		e.SampleSize = 16
	}
	b.U16(&e.SampleSize)
	b.Skip(4) // pre_defined + reserved
	sr := e.SampleRate << 16
	b.U32(&sr)
	if b.Reading() {
		e.SampleRate = sr >> 16
	}
	return b.Err()
}

func (e *AudioSampleEntry) ComputeSize() int { return 6 + 2 + 8 + 2 + 2 + 4 + 4 }

// esds descriptor tags (MPEG-4 §7.2.6.1), modeled on the teacher's
// descriptor.go tag table.
const (
	tagESDescriptor             = 0x03
	tagDecoderConfigDescriptor  = 0x04
	tagDecoderSpecificInfo      = 0x05
	tagSLConfigDescriptor       = 0x06
)

// Esds is the elementary stream descriptor box (audio decoder config).
type Esds struct {
	ESID                 uint16
	StreamPriority       uint8
	ObjectTypeIndication uint8
	StreamType           uint8
	BufferSizeDB         uint32
	MaxBitrate           uint32
	AvgBitrate           uint32
	DecoderSpecificInfo  []byte
}

func (*Esds) BoxType() FourCC { return TypeEsds }

func appendDescLen(w []byte, n int) []byte {
	// base-128 length encoding, always padded to 4 bytes like most encoders.
	w = append(w, byte(n>>21)|0x80, byte(n>>14)|0x80, byte(n>>7)|0x80, byte(n&0x7f))
	return w
}

func readDescLen(body []byte, pos int) (int, int) {
	n := 0
	for pos < len(body) {
		b := body[pos]
		pos++
		n = (n << 7) | int(b&0x7f)
		if b&0x80 == 0 {
			break
		}
	}
	return n, pos
}

func (e *Esds) ReadWrite(b *Buffer) error {
	var version uint8
	var flags uint32
	b.FullBoxHeader(&version, &flags)
	if b.Reading() {
		var body []byte
		b.RemainingBytes(&body)
		if b.Err() != nil {
			return b.Err()
		}
		return e.decode(body)
	}
	body := e.encode()
	b.VarBytes(&body, len(body))
	return b.Err()
}

func (e *Esds) decode(body []byte) error {
	pos := 0
	if pos >= len(body) || body[pos] != tagESDescriptor {
		return fmt.Errorf("esds: expected ES_Descriptor tag")
	}
	pos++
	_, pos = readDescLen(body, pos)
	if pos+3 > len(body) {
		return fmt.Errorf("esds: truncated ES_Descriptor")
	}
	e.ESID = uint16(body[pos])<<8 | uint16(body[pos+1])
	flags := body[pos+2]
	e.StreamPriority = flags & 0x1f
	pos += 3
	if flags&0x80 != 0 {
		pos += 2
	}
	if flags&0x40 != 0 && pos < len(body) {
		l := int(body[pos])
		pos += l + 1
	}
	if flags&0x20 != 0 {
		pos += 2
	}
	for pos < len(body) {
		tag := body[pos]
		tagPos := pos + 1
		l, next := readDescLen(body, tagPos)
		end := next + l
		if end > len(body) {
			end = len(body)
		}
		switch tag {
		case tagDecoderConfigDescriptor:
			if next < len(body) {
				e.ObjectTypeIndication = body[next]
			}
			if next+1 < len(body) {
				e.StreamType = body[next+1] >> 2
			}
			if next+13 <= end {
				e.BufferSizeDB = uint32(body[next+2])<<16 | uint32(body[next+3])<<8 | uint32(body[next+4])
				e.MaxBitrate = beUint32(body[next+5:])
				e.AvgBitrate = beUint32(body[next+9:])
			}
			_ = e.decodeDecoderConfigChildren(body, next+13, end)
		case tagSLConfigDescriptor:
			// fixed-value 0x02, nothing to capture
		}
		pos = end
	}
	return nil
}

func (e *Esds) decodeDecoderConfigChildren(body []byte, start, end int) error {
	pos := start
	for pos+2 <= end {
		tag := body[pos]
		l, next := readDescLen(body, pos+1)
		dEnd := next + l
		if dEnd > end {
			dEnd = end
		}
		if tag == tagDecoderSpecificInfo {
			e.DecoderSpecificInfo = append([]byte(nil), body[next:dEnd]...)
		}
		pos = dEnd
	}
	return nil
}

func beUint32(b []byte) uint32 {
	if len(b) < 4 {
		return 0
	}
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func (e *Esds) encode() []byte {
	var dsi []byte
	dsi = append(dsi, tagDecoderSpecificInfo)
	dsi = appendDescLen(dsi, len(e.DecoderSpecificInfo))
	dsi = append(dsi, e.DecoderSpecificInfo...)

	var dcd []byte
	dcd = append(dcd, e.ObjectTypeIndication)
	dcd = append(dcd, (e.StreamType<<2)|0x01)
	dcd = append(dcd, byte(e.BufferSizeDB>>16), byte(e.BufferSizeDB>>8), byte(e.BufferSizeDB))
	dcd = append(dcd, byte(e.MaxBitrate>>24), byte(e.MaxBitrate>>16), byte(e.MaxBitrate>>8), byte(e.MaxBitrate))
	dcd = append(dcd, byte(e.AvgBitrate>>24), byte(e.AvgBitrate>>16), byte(e.AvgBitrate>>8), byte(e.AvgBitrate))
	dcd = append(dcd, dsi...)

	var dcdFull []byte
	dcdFull = append(dcdFull, tagDecoderConfigDescriptor)
	dcdFull = appendDescLen(dcdFull, len(dcd))
	dcdFull = append(dcdFull, dcd...)

	slc := []byte{tagSLConfigDescriptor, 0x01, 0x02}

	var es []byte
	es = append(es, byte(e.ESID>>8), byte(e.ESID))
	es = append(es, e.StreamPriority&0x1f)
	es = append(es, dcdFull...)
	es = append(es, slc...)

	var out []byte
	out = append(out, tagESDescriptor)
	out = appendDescLen(out, len(es))
	out = append(out, es...)
	return out
}

func (e *Esds) ComputeSize() int { return 4 + len(e.encode()) }
