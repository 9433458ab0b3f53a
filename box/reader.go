package box

import (
	"fmt"

	"github.com/tetsuo/dashpack/bitio"
)

// ReadBox reads one length-prefixed box starting at r's current position
// and advances r past it. Size-0 (run-to-EOF) boxes are rejected; extended
// 64-bit sizes are supported on read but never emitted on write (the
// module's Non-goal: arbitrary box sizes >= 2^31).
func ReadBox(r *bitio.Reader) (*Box, error) {
	size0, err := r.Read4()
	if err != nil {
		return nil, err
	}
	var t FourCC
	tb, err := r.ReadFixed(4)
	if err != nil {
		return nil, err
	}
	copy(t[:], tb)

	headerLen := 8
	size := uint64(size0)
	switch size0 {
	case 0:
		return nil, fmt.Errorf("box: %s: size-0 (run-to-EOF) boxes are not supported", t)
	case 1:
		size, err = r.Read8()
		if err != nil {
			return nil, err
		}
		headerLen = 16
	}
	if size < uint64(headerLen) {
		return nil, fmt.Errorf("box: %s: declared size %d smaller than header", t, size)
	}
	bodyLen := int(size) - headerLen
	if r.Len() < bodyLen {
		return nil, fmt.Errorf("box: %s: declared size %d exceeds available bytes", t, size)
	}
	bodyStart := r.Pos()
	bodyEnd := bodyStart + bodyLen

	if IsContainer(t) {
		children, err := readChildren(r, bodyEnd)
		if err != nil {
			return nil, fmt.Errorf("box: %s: %w", t, err)
		}
		return &Box{Type: t, Children: children}, nil
	}

	payload, trailing, err := decodePayload(t, r.Bytes()[bodyStart:bodyEnd])
	if err != nil {
		return nil, fmt.Errorf("box: %s: %w", t, err)
	}
	if err := r.Seek(bodyEnd); err != nil {
		return nil, err
	}
	result := &Box{Type: t, Payload: payload}
	if len(trailing) > 0 {
		tr := bitio.NewReader(trailing)
		children, err := readChildren(tr, len(trailing))
		if err != nil {
			return nil, fmt.Errorf("box: %s: trailing children: %w", t, err)
		}
		result.Children = children
	}
	return result, nil
}

// decodePayload decodes t's registered payload from body, returning the
// payload and whatever suffix of body the payload's ReadWrite left unread.
// Several box types mix fixed fields with trailing child boxes (sample
// entries' avcC/esds/sinf, dref's url entries); rather than special-casing
// each one, any leftover bytes are always parsed as children.
func decodePayload(t FourCC, body []byte) (Payload, []byte, error) {
	f, ok := registry[t]
	if !ok {
		return &Raw{Type: t, Data: append([]byte(nil), body...)}, nil, nil
	}
	p := f()
	buf := newReadBuffer(body)
	if err := p.ReadWrite(buf); err != nil {
		return nil, nil, err
	}
	if err := buf.Err(); err != nil {
		return nil, nil, err
	}
	consumed := len(body) - buf.Remaining()
	return p, body[consumed:], nil
}

// readChildren scans a container box's body and returns its direct
// children in order (ScanChildren, §4.B). Unknown FourCCs are kept as Raw
// leaves rather than skipped, so a round-trip write reproduces them.
func readChildren(r *bitio.Reader, end int) ([]*Box, error) {
	var children []*Box
	for r.Pos() < end {
		child, err := ReadBox(r)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	if r.Pos() != end {
		return nil, fmt.Errorf("box: child scan ended at %d, expected %d", r.Pos(), end)
	}
	return children, nil
}

// ReadTopLevel reads one top-level box, rejecting FourCCs outside the
// whitelist in §4.B.
func ReadTopLevel(r *bitio.Reader) (*Box, error) {
	// Peek the FourCC without disturbing the reader on success; on
	// failure to even read a header we just propagate the read error.
	start := r.Pos()
	size0, err := r.Read4()
	if err != nil {
		return nil, err
	}
	tb, err := r.ReadFixed(4)
	if err != nil {
		return nil, err
	}
	var t FourCC
	copy(t[:], tb)
	if err := r.Seek(start); err != nil {
		return nil, err
	}
	_ = size0
	if !IsTopLevelAllowed(t) {
		return nil, fmt.Errorf("box: %s: not a recognized top-level box", t)
	}
	return ReadBox(r)
}
