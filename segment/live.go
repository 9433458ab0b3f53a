package segment

import (
	"fmt"

	"github.com/tetsuo/dashpack/bitio"
	"github.com/tetsuo/dashpack/box"
	"github.com/tetsuo/dashpack/fragment"
)

// LiveSink is the multi-segment Sink (§4.H): the init segment (ftyp+moov)
// is written once, then every closed segment is written as its own file
// named by expanding the segment template's $Number$/$Time$/$Bandwidth$
// identifiers, shaped as styp [sidx] (moof mdat)+ depending on
// NumSubsegmentsPerSidx (§3): 0 packs one sidx with a single reference
// covering the whole segment, -1 omits sidx entirely, and N>0 emits one
// sidx with up to N references, each collapsing a run of roughly equal
// fragment count.
type LiveSink struct {
	opener      FileOpener
	initName    string
	template    string
	referenceID uint32
	timescale   uint32
	bandwidth   uint32
	numPerSidx  int

	ftypMoov []byte
	pending  [][]byte
	pendingRefs []fragment.SegmentReference
	segmentNumber uint64
}

// NewLiveSink constructs a LiveSink. initName is the init segment's output
// path; template is validated by ValidateTemplate before use.
func NewLiveSink(opener FileOpener, initName, template string, referenceID, timescale, bandwidth uint32, numPerSidx int) *LiveSink {
	return &LiveSink{
		opener:      opener,
		initName:    initName,
		template:    template,
		referenceID: referenceID,
		timescale:   timescale,
		bandwidth:   bandwidth,
		numPerSidx:  numPerSidx,
		segmentNumber: 1,
	}
}

func (l *LiveSink) Init(ftypMoov []byte) error {
	l.ftypMoov = ftypMoov
	out, err := l.opener.Create(l.initName)
	if err != nil {
		return fmt.Errorf("segment: live: %w", err)
	}
	defer out.Close()
	if _, err := out.Write(ftypMoov); err != nil {
		return fmt.Errorf("segment: live: write init segment: %w", err)
	}
	return nil
}

func (l *LiveSink) OnFragment(data []byte, ref fragment.SegmentReference) error {
	l.pending = append(l.pending, data)
	l.pendingRefs = append(l.pendingRefs, ref)
	return nil
}

func (l *LiveSink) OnSegmentBoundary() error {
	if len(l.pending) == 0 {
		return nil
	}
	name := ExpandTemplate(l.template, l.segmentNumber, uint64(l.pendingRefs[0].EarliestPresentationTime), uint64(l.bandwidth))
	if err := l.writeSegmentFile(name); err != nil {
		return err
	}
	l.segmentNumber++
	l.pending = l.pending[:0]
	l.pendingRefs = l.pendingRefs[:0]
	return nil
}

// Finalize flushes any fragments left pending (the final, possibly short,
// segment at end-of-stream) under the same file-shape rules.
func (l *LiveSink) Finalize() error {
	return l.OnSegmentBoundary()
}

func (l *LiveSink) writeSegmentFile(name string) error {
	out, err := l.opener.Create(name)
	if err != nil {
		return fmt.Errorf("segment: live: %w", err)
	}
	defer out.Close()

	styp := box.NewLeaf(&box.Styp{Ftyp: box.Ftyp{
		MajorBrand:       box.FourCC{'m', 's', 'd', 'h'},
		CompatibleBrands: []box.FourCC{{'m', 's', 'd', 'h'}, {'m', 's', 'i', 'x'}},
	}})
	w := newWriter()
	if err := styp.Write(w); err != nil {
		return fmt.Errorf("segment: live: write styp: %w", err)
	}

	if l.numPerSidx >= 0 {
		n := l.numPerSidx
		if n == 0 {
			n = 1
		}
		if err := l.writeSidx(w, n); err != nil {
			return err
		}
	}

	for _, frag := range l.pending {
		w.AppendBytes(frag)
	}

	if _, err := out.Write(w.Bytes()); err != nil {
		return fmt.Errorf("segment: live: write segment body: %w", err)
	}
	return nil
}

// writeSidx emits a single root sidx box covering all of l.pending,
// split into n sub-references of roughly equal fragment count (§4.H):
// each sub-reference collapses its run of fragments the same way the VOD
// sink collapses the whole segment (§4.G).
func (l *LiveSink) writeSidx(w *bitio.Writer, n int) error {
	if n > len(l.pending) {
		n = len(l.pending)
	}
	if n < 1 {
		n = 1
	}
	sidx := &box.Sidx{
		Version:     1,
		ReferenceID: l.referenceID,
		Timescale:   l.timescale,
	}
	total := len(l.pending)
	base := total / n
	rem := total % n
	start := 0
	for i := 0; i < n; i++ {
		count := base
		if i < rem {
			count++
		}
		end := start + count
		if end > start {
			sidx.References = append(sidx.References, collapseReferences(l.pendingRefs[start:end]))
		}
		start = end
	}
	if len(sidx.References) > 0 {
		sidx.EarliestPresentationTime = uint64(l.pendingRefs[0].EarliestPresentationTime)
	}
	return box.NewLeaf(sidx).Write(w)
}
