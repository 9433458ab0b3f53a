// Package box implements ISO Base Media File Format (ISOBMFF) box framing:
// length-prefixed box headers, a registry of typed payload codecs, and a
// generic box tree whose children are discovered recursively when a box is
// read, and a two-pass compute-size/serialize write path.
package box

import (
	"fmt"

	"github.com/tetsuo/dashpack/bitio"
)

// FourCC is a 4-byte box type identifier.
type FourCC [4]byte

func (t FourCC) String() string { return string(t[:]) }

func fourcc(s string) FourCC {
	var t FourCC
	copy(t[:], s)
	return t
}

// Known box types, grouped as in the spec's component table.
var (
	TypeFtyp = fourcc("ftyp")
	TypeStyp = fourcc("styp")
	TypeMoov = fourcc("moov")
	TypeMvhd = fourcc("mvhd")
	TypeTrak = fourcc("trak")
	TypeTkhd = fourcc("tkhd")
	TypeEdts = fourcc("edts")
	TypeElst = fourcc("elst")
	TypeMdia = fourcc("mdia")
	TypeMdhd = fourcc("mdhd")
	TypeHdlr = fourcc("hdlr")
	TypeMinf = fourcc("minf")
	TypeVmhd = fourcc("vmhd")
	TypeSmhd = fourcc("smhd")
	TypeDinf = fourcc("dinf")
	TypeDref = fourcc("dref")
	TypeUrl  = fourcc("url ")
	TypeStbl = fourcc("stbl")
	TypeStsd = fourcc("stsd")
	TypeStts = fourcc("stts")
	TypeCtts = fourcc("ctts")
	TypeStsc = fourcc("stsc")
	TypeStsz = fourcc("stsz")
	TypeStco = fourcc("stco")
	TypeCo64 = fourcc("co64")
	TypeStss = fourcc("stss")
	TypeSbgp = fourcc("sbgp")
	TypeSgpd = fourcc("sgpd")
	TypeSaiz = fourcc("saiz")
	TypeSaio = fourcc("saio")
	TypeMvex = fourcc("mvex")
	TypeMehd = fourcc("mehd")
	TypeTrex = fourcc("trex")
	TypeMoof = fourcc("moof")
	TypeMfhd = fourcc("mfhd")
	TypeTraf = fourcc("traf")
	TypeTfhd = fourcc("tfhd")
	TypeTfdt = fourcc("tfdt")
	TypeTrun = fourcc("trun")
	TypeSidx = fourcc("sidx")
	TypeMeta = fourcc("meta")
	TypeMdat = fourcc("mdat")
	TypeFree = fourcc("free")
	TypeSkip = fourcc("skip")
	TypeAvc1 = fourcc("avc1")
	TypeEncv = fourcc("encv")
	TypeAvcC = fourcc("avcC")
	TypeBtrt = fourcc("btrt")
	TypePasp = fourcc("pasp")
	TypeMp4a = fourcc("mp4a")
	TypeEnca = fourcc("enca")
	TypeEsds = fourcc("esds")
	TypeSinf = fourcc("sinf")
	TypeFrma = fourcc("frma")
	TypeSchm = fourcc("schm")
	TypeSchi = fourcc("schi")
	TypeTenc = fourcc("tenc")
	TypePssh = fourcc("pssh")
	TypePdin = fourcc("pdin")
	TypeMeco = fourcc("meco")
	TypeSsix = fourcc("ssix")
	TypePrft = fourcc("prft")
	TypeBloc = fourcc("bloc")
)

// topLevelWhitelist enumerates box types the parser accepts at the top of
// the stream; anything else is a stream error (§4.B).
var topLevelWhitelist = map[FourCC]bool{
	TypeFtyp: true, TypeMoov: true, TypeMoof: true, TypeMdat: true,
	TypeFree: true, TypeSkip: true, TypeMeta: true, TypeStyp: true,
	TypeSidx: true, TypePdin: true, TypeMeco: true, TypeSsix: true,
	TypePrft: true, TypeBloc: true,
}

// IsTopLevelAllowed reports whether t may appear as a top-level box.
func IsTopLevelAllowed(t FourCC) bool { return topLevelWhitelist[t] }

// containerTypes holds box types that are pure containers: their body is
// entirely child boxes with no payload fields of their own.
var containerTypes = map[FourCC]bool{
	TypeMoov: true, TypeTrak: true, TypeEdts: true, TypeMdia: true,
	TypeMinf: true, TypeDinf: true, TypeStbl: true, TypeMvex: true,
	TypeMoof: true, TypeTraf: true, TypeSinf: true, TypeSchi: true,
	TypeMeco: true,
}

// IsContainer reports whether t is a pure container box type.
func IsContainer(t FourCC) bool { return containerTypes[t] }

// Payload is implemented by every box body this module understands. The
// same ReadWrite method serializes and deserializes, dispatching on the
// Buffer's mode (§9 design note: "symmetric read/write").
type Payload interface {
	BoxType() FourCC
	ReadWrite(*Buffer) error
	ComputeSize() int
}

type factory func() Payload

var registry = map[FourCC]factory{}

func register(t FourCC, f factory) { registry[t] = f }

// Box is one node of the box tree: either a pure container (Children only),
// a decoded leaf (Payload set), or a raw/unknown leaf (Payload is *Raw).
type Box struct {
	Type     FourCC
	Payload  Payload
	Children []*Box
}

// NewContainer builds a container box with the given children.
func NewContainer(t FourCC, children ...*Box) *Box {
	return &Box{Type: t, Children: children}
}

// NewLeaf builds a leaf box wrapping a decoded payload.
func NewLeaf(p Payload) *Box {
	return &Box{Type: p.BoxType(), Payload: p}
}

// FindChild returns the first child of type t, or nil.
func (b *Box) FindChild(t FourCC) *Box {
	for _, c := range b.Children {
		if c.Type == t {
			return c
		}
	}
	return nil
}

// FindChildren returns every child of type t.
func (b *Box) FindChildren(t FourCC) []*Box {
	var out []*Box
	for _, c := range b.Children {
		if c.Type == t {
			out = append(out, c)
		}
	}
	return out
}

// AppendChild appends a non-nil child. A nil box is silently dropped,
// which lets callers write `b.AppendChild(maybeNilBox)` for optional boxes.
func (b *Box) AppendChild(c *Box) {
	if c == nil {
		return
	}
	b.Children = append(b.Children, c)
}

const headerSize = 8

// ComputeSize returns the full size of the box (header + payload + any
// children), or 0 if this is an optional leaf whose payload reports zero
// size and carries no children — the writer MUST omit such boxes (§3
// box-tree invariants). Boxes can carry both a decoded Payload and
// Children at once (a sample entry's fixed fields plus its avcC/esds/sinf
// sub-boxes, dref's fixed entry count plus its url children).
func (b *Box) ComputeSize() int {
	size := headerSize
	if b.Payload != nil {
		n := b.Payload.ComputeSize()
		if n == 0 && !IsContainer(b.Type) && len(b.Children) == 0 {
			return 0
		}
		size += n
	}
	for _, c := range b.Children {
		size += c.ComputeSize()
	}
	return size
}

// Write serializes the box, its payload (if any), and its children (if
// any) to w, skipping any leaf whose ComputeSize() is 0.
func (b *Box) Write(w *bitio.Writer) error {
	size := b.ComputeSize()
	if size == 0 {
		return nil
	}
	w.AppendInt4(uint32(size))
	w.AppendBytes(b.Type[:])
	if b.Payload != nil {
		buf := newWriteBuffer()
		if err := b.Payload.ReadWrite(buf); err != nil {
			return fmt.Errorf("box %s: %w", b.Type, err)
		}
		if err := buf.Err(); err != nil {
			return fmt.Errorf("box %s: %w", b.Type, err)
		}
		w.AppendBytes(buf.Bytes())
	}
	for _, c := range b.Children {
		if err := c.Write(w); err != nil {
			return err
		}
	}
	return nil
}

// Raw is the fallback payload for box types this module does not decode
// structurally: it retains the exact bytes for passthrough round-tripping.
type Raw struct {
	Type FourCC
	Data []byte
}

func (r *Raw) BoxType() FourCC  { return r.Type }
func (r *Raw) ComputeSize() int { return len(r.Data) }
func (r *Raw) ReadWrite(b *Buffer) error {
	b.RemainingBytes(&r.Data)
	return b.Err()
}
