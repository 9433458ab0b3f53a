package segment

import (
	"fmt"
	"log/slog"

	"github.com/tetsuo/dashpack/box"
	"github.com/tetsuo/dashpack/fragment"
)

// VODSink is the two-pass single-segment Sink (§4.G): fragments are
// appended to a temp file as they're produced, then the final output is
// assembled as ftyp|moov|sidx|(moof|mdat)* once every fragment's SegmentReference
// is known, by copying the temp file's contents in copyChunkSize pieces.
type VODSink struct {
	opener       FileOpener
	tempDir      string
	outputName   string
	referenceID  uint32
	timescale    uint32

	ftypMoov []byte
	tmp      TempFile
	tmpSize  int64
	refs     []fragment.SegmentReference

	initRangeStart, initRangeEnd   uint64
	indexRangeStart, indexRangeEnd uint64
}

// NewVODSink constructs a VODSink. referenceID and timescale populate the
// final sidx box's reference_id and timescale fields.
func NewVODSink(opener FileOpener, tempDir, outputName string, referenceID, timescale uint32) *VODSink {
	return &VODSink{
		opener:      opener,
		tempDir:     tempDir,
		outputName:  outputName,
		referenceID: referenceID,
		timescale:   timescale,
	}
}

func (v *VODSink) Init(ftypMoov []byte) error {
	v.ftypMoov = ftypMoov
	v.initRangeStart, v.initRangeEnd = 0, uint64(len(ftypMoov))-1
	tmp, err := v.opener.CreateTemp(v.tempDir)
	if err != nil {
		return fmt.Errorf("segment: vod: %w", err)
	}
	v.tmp = tmp
	return nil
}

func (v *VODSink) OnFragment(data []byte, ref fragment.SegmentReference) error {
	n, err := v.tmp.Write(data)
	if err != nil {
		return fmt.Errorf("segment: vod: write fragment to temp file: %w", err)
	}
	v.tmpSize += int64(n)
	v.refs = append(v.refs, ref)
	return nil
}

// OnSegmentBoundary is a no-op: the VOD sink has exactly one segment, so
// end_of_segment only ever fires at Finalize (§4.G: duration/SAP checks
// still run per §4.F, but there's nowhere else to flush to mid-stream).
func (v *VODSink) OnSegmentBoundary() error { return nil }

// SetFinalMoov replaces the zero-duration init segment cached at Init with
// one carrying the real, rescaled track durations the Segmenter computed
// once every track had drained (§4.F Finalize step). VOD writes moov only
// once, at Finalize, so this is always called before the output file is
// opened.
func (v *VODSink) SetFinalMoov(ftypMoov []byte) {
	v.ftypMoov = ftypMoov
	v.initRangeStart, v.initRangeEnd = 0, uint64(len(ftypMoov))-1
}

// Finalize collapses the collected fragment references into a single sidx,
// writes ftyp|moov|sidx to the real output file, copies the temp file body
// after it, and closes (but does not delete) the temp file per §7.
func (v *VODSink) Finalize() error {
	out, err := v.opener.Create(v.outputName)
	if err != nil {
		return fmt.Errorf("segment: vod: %w", err)
	}
	defer out.Close()

	if _, err := out.Write(v.ftypMoov); err != nil {
		return fmt.Errorf("segment: vod: write init segment: %w", err)
	}

	sidx := v.buildSidx()
	w := newWriter()
	if err := sidx.Write(w); err != nil {
		return fmt.Errorf("segment: vod: write sidx: %w", err)
	}
	v.indexRangeStart = v.initRangeEnd + 1
	v.indexRangeEnd = v.indexRangeStart + uint64(w.Len()) - 1
	if _, err := out.Write(w.Bytes()); err != nil {
		return fmt.Errorf("segment: vod: write sidx: %w", err)
	}

	if err := copyInChunks(out, v.tmp, v.tmpSize); err != nil {
		return err
	}
	return v.tmp.Close()
}

// buildSidx collapses the per-fragment references collected in v.refs into
// the single SegmentReference required by §4.G/invariant #9: summed size
// and duration, minimum earliest_presentation_time, the first non-Unknown
// SAP type, and starts_with_sap true if any fragment started with one. The
// top-level sidx.earliest_presentation_time is forced to 0 for VOD; if the
// collapsed earliest_presentation_time would exceed 0.5s, that is logged
// as a warning but does not fail the mux.
func (v *VODSink) buildSidx() *box.Box {
	collapsed := collapseReferences(v.refs)
	if len(v.refs) > 0 && v.timescale > 0 {
		var minEPT int64 = v.refs[0].EarliestPresentationTime
		for _, r := range v.refs {
			if r.EarliestPresentationTime < minEPT {
				minEPT = r.EarliestPresentationTime
			}
		}
		if float64(minEPT)/float64(v.timescale) > 0.5 {
			slog.Default().Warn("collapsed earliest_presentation_time exceeds 0.5s",
				"component", "segment", "earliest_presentation_time", minEPT, "timescale", v.timescale)
		}
	}
	sidx := &box.Sidx{
		Version:                  1,
		ReferenceID:              v.referenceID,
		Timescale:                v.timescale,
		EarliestPresentationTime: 0,
		References:               []box.SidxReference{collapsed},
	}
	return box.NewLeaf(sidx)
}

func collapseReferences(refs []fragment.SegmentReference) box.SidxReference {
	var out box.SidxReference
	if len(refs) == 0 {
		return out
	}
	var totalSize uint64
	var totalDuration uint64
	minEPT := refs[0].EarliestPresentationTime
	firstSapType := fragment.SapTypeUnknown
	firstSapPTS := int64(0)
	startsWithSAP := false
	for _, r := range refs {
		totalSize += uint64(r.ReferencedSize)
		totalDuration += uint64(r.SubsegmentDuration)
		if r.EarliestPresentationTime < minEPT {
			minEPT = r.EarliestPresentationTime
		}
		if r.StartsWithSAP {
			startsWithSAP = true
		}
		if firstSapType == fragment.SapTypeUnknown && r.SapType != fragment.SapTypeUnknown {
			firstSapType = r.SapType
			firstSapPTS = r.EarliestPresentationTime + r.SapDeltaTime
		}
	}
	out.ReferenceType = 0
	out.ReferencedSize = uint32(totalSize)
	out.SubsegmentDuration = uint32(totalDuration)
	out.StartsWithSAP = boolToUint8(startsWithSAP)
	out.SAPType = firstSapType
	out.SAPDeltaTime = uint32(firstSapPTS - minEPT)
	return out
}

func boolToUint8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// GetInitRange returns the byte range of ftyp+moov in the final output
// file, inclusive, per the muxer's MediaInfo reporting contract (§5).
func (v *VODSink) GetInitRange() (start, end uint64) { return v.initRangeStart, v.initRangeEnd }

// GetIndexRange returns the byte range of the sidx box in the final output
// file, inclusive.
func (v *VODSink) GetIndexRange() (start, end uint64) { return v.indexRangeStart, v.indexRangeEnd }
