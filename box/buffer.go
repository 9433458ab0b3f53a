package box

import (
	"fmt"

	"github.com/tetsuo/dashpack/bitio"
)

// Buffer is a variant over a reader or a writer: box payload codecs call
// the same accessor for both directions, and Buffer dispatches based on
// which side is active. This is the "BoxBuffer" from the design notes —
// it keeps one ReadWrite method per box instead of a parse/serialize pair.
type Buffer struct {
	r   *bitio.Reader
	w   *bitio.Writer
	err error
}

func newReadBuffer(data []byte) *Buffer {
	return &Buffer{r: bitio.NewReader(data)}
}

func newWriteBuffer() *Buffer {
	return &Buffer{w: bitio.NewWriter()}
}

// Reading reports whether the buffer is in read mode.
func (b *Buffer) Reading() bool { return b.r != nil }

// Err returns the first error encountered by any accessor call.
func (b *Buffer) Err() error { return b.err }

// Bytes returns the accumulated output in write mode.
func (b *Buffer) Bytes() []byte {
	if b.w == nil {
		return nil
	}
	return b.w.Bytes()
}

// Remaining returns the number of unread bytes in read mode.
func (b *Buffer) Remaining() int {
	if b.r == nil {
		return 0
	}
	return b.r.Len()
}

func (b *Buffer) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// U8 reads or writes an unsigned 8-bit field.
func (b *Buffer) U8(v *uint8) {
	if b.err != nil {
		return
	}
	if b.r != nil {
		x, err := b.r.Read1()
		if err != nil {
			b.fail(err)
			return
		}
		*v = x
		return
	}
	b.w.AppendInt1(*v)
}

// U16 reads or writes a big-endian unsigned 16-bit field.
func (b *Buffer) U16(v *uint16) {
	if b.err != nil {
		return
	}
	if b.r != nil {
		x, err := b.r.Read2()
		if err != nil {
			b.fail(err)
			return
		}
		*v = x
		return
	}
	b.w.AppendInt2(*v)
}

// I16 reads or writes a signed 16-bit field.
func (b *Buffer) I16(v *int16) {
	if b.err != nil {
		return
	}
	if b.r != nil {
		x, err := b.r.Read2Signed()
		if err != nil {
			b.fail(err)
			return
		}
		*v = x
		return
	}
	b.w.AppendInt2Signed(*v)
}

// U24 reads or writes a big-endian unsigned 24-bit field.
func (b *Buffer) U24(v *uint32) {
	if b.err != nil {
		return
	}
	if b.r != nil {
		x, err := b.r.Read3()
		if err != nil {
			b.fail(err)
			return
		}
		*v = x
		return
	}
	b.w.AppendInt3(*v)
}

// U32 reads or writes a big-endian unsigned 32-bit field.
func (b *Buffer) U32(v *uint32) {
	if b.err != nil {
		return
	}
	if b.r != nil {
		x, err := b.r.Read4()
		if err != nil {
			b.fail(err)
			return
		}
		*v = x
		return
	}
	b.w.AppendInt4(*v)
}

// I32 reads or writes a signed 32-bit field.
func (b *Buffer) I32(v *int32) {
	if b.err != nil {
		return
	}
	if b.r != nil {
		x, err := b.r.Read4Signed()
		if err != nil {
			b.fail(err)
			return
		}
		*v = x
		return
	}
	b.w.AppendInt4Signed(*v)
}

// U64 reads or writes a big-endian unsigned 64-bit field.
func (b *Buffer) U64(v *uint64) {
	if b.err != nil {
		return
	}
	if b.r != nil {
		x, err := b.r.Read8()
		if err != nil {
			b.fail(err)
			return
		}
		*v = x
		return
	}
	b.w.AppendInt8(*v)
}

// I64 reads or writes a signed 64-bit field.
func (b *Buffer) I64(v *int64) {
	if b.err != nil {
		return
	}
	if b.r != nil {
		x, err := b.r.Read8Signed()
		if err != nil {
			b.fail(err)
			return
		}
		*v = x
		return
	}
	b.w.AppendInt8Signed(*v)
}

// UN reads or writes the low-order n bytes (n in [1,8]) of an unsigned field.
func (b *Buffer) UN(v *uint64, n int) {
	if b.err != nil {
		return
	}
	if b.r != nil {
		x, err := b.r.ReadN(n)
		if err != nil {
			b.fail(err)
			return
		}
		*v = x
		return
	}
	b.w.AppendN(*v, n)
}

// FixedBytes reads into v or writes from v; v's length is the field width.
func (b *Buffer) FixedBytes(v []byte) {
	if b.err != nil {
		return
	}
	if b.r != nil {
		chunk, err := b.r.ReadFixed(len(v))
		if err != nil {
			b.fail(err)
			return
		}
		copy(v, chunk)
		return
	}
	b.w.AppendBytes(v)
}

// FourCCField reads or writes a 4-byte type code.
func (b *Buffer) FourCCField(v *FourCC) {
	b.FixedBytes(v[:])
}

// VarBytes reads n bytes into a freshly allocated *v, or writes *v verbatim
// (n is ignored on write; callers keep n == len(*v) as an invariant).
func (b *Buffer) VarBytes(v *[]byte, n int) {
	if b.err != nil {
		return
	}
	if b.r != nil {
		chunk, err := b.r.ReadFixed(n)
		if err != nil {
			b.fail(err)
			return
		}
		*v = chunk
		return
	}
	b.w.AppendBytes(*v)
}

// RemainingBytes reads every unread byte into *v in read mode, or writes
// *v verbatim in write mode. Used by raw/passthrough payloads.
func (b *Buffer) RemainingBytes(v *[]byte) {
	if b.err != nil {
		return
	}
	if b.r != nil {
		b.VarBytes(v, b.r.Len())
		return
	}
	b.w.AppendBytes(*v)
}

// Skip advances n bytes in read mode or zero-fills n bytes in write mode;
// used for reserved/unused fields that the teacher's codec zeroes out.
func (b *Buffer) Skip(n int) {
	if b.err != nil {
		return
	}
	if b.r != nil {
		if err := b.r.Skip(n); err != nil {
			b.fail(err)
		}
		return
	}
	b.w.AppendZero(n)
}

// CString reads a NUL-terminated string, or writes s followed by NUL.
func (b *Buffer) CString(v *string) {
	if b.err != nil {
		return
	}
	if b.r != nil {
		s, err := b.r.ReadCString()
		if err != nil {
			b.fail(err)
			return
		}
		*v = s
		return
	}
	b.w.AppendCString(*v)
}

// FixedString reads or writes a fixed-width Pascal-style string: one length
// byte followed by up to n-1 bytes of text, padded/truncated to width n
// (the `compressorname` field shape used by visual sample entries).
func (b *Buffer) FixedString(v *string, n int) {
	if b.err != nil {
		return
	}
	if b.r != nil {
		raw, err := b.r.ReadFixed(n)
		if err != nil {
			b.fail(err)
			return
		}
		l := int(raw[0])
		if l > n-1 {
			l = n - 1
		}
		*v = string(raw[1 : 1+l])
		return
	}
	out := make([]byte, n)
	l := len(*v)
	if l > n-1 {
		l = n - 1
	}
	out[0] = byte(l)
	copy(out[1:], (*v)[:l])
	b.w.AppendBytes(out)
}

// FullBoxHeader reads or writes the FullBox version+flags prefix.
func (b *Buffer) FullBoxHeader(version *uint8, flags *uint32) {
	if b.err != nil {
		return
	}
	if b.r != nil {
		vf, err := b.r.Read4()
		if err != nil {
			b.fail(err)
			return
		}
		*version = uint8(vf >> 24)
		*flags = vf & 0x00ffffff
		return
	}
	b.w.AppendInt4(uint32(*version)<<24 | (*flags & 0x00ffffff))
}

// Require fails the buffer with err if cond is false; a convenience for
// payload codecs that need to reject malformed bodies early.
func (b *Buffer) Require(cond bool, format string, args ...any) {
	if b.err != nil || cond {
		return
	}
	b.fail(fmt.Errorf(format, args...))
}
