package segment

import (
	"fmt"

	"github.com/tetsuo/dashpack/bitio"
	"github.com/tetsuo/dashpack/box"
	"github.com/tetsuo/dashpack/fragment"
)

func newWriter() *bitio.Writer { return bitio.NewWriter() }

const mdatHeaderSize = 8

// assembleFragment builds one moof + aux-info section + mdat cycle from the
// just-finalized per-track fragments (§4.F FinalizeFragment): it lays out
// one mdat holding every track's CENC auxiliary-info blob followed by every
// track's sample payload, then patches trun.data_offset and saio.offsets now
// that the layout is known. Entries of frags may be nil for tracks that did
// not finalize this cycle (only possible at end-of-stream drain).
func assembleFragment(sequence uint32, tracks []*trackState, frags []*fragment.Fragment, refTrack int) ([]byte, fragment.SegmentReference, error) {
	moof := box.NewContainer(box.TypeMoof)
	moof.AppendChild(box.NewLeaf(&box.Mfhd{SequenceNumber: sequence}))

	for _, f := range frags {
		if f == nil {
			continue
		}
		traf := box.NewContainer(box.TypeTraf)
		traf.AppendChild(box.NewLeaf(f.Tfhd))
		traf.AppendChild(box.NewLeaf(f.Tfdt))
		if f.Saiz != nil {
			traf.AppendChild(box.NewLeaf(f.Saiz))
		}
		if f.Saio != nil {
			traf.AppendChild(box.NewLeaf(f.Saio))
		}
		if f.Sgpd != nil {
			traf.AppendChild(box.NewLeaf(f.Sgpd))
		}
		if f.Sbgp != nil {
			traf.AppendChild(box.NewLeaf(f.Sbgp))
		}
		traf.AppendChild(box.NewLeaf(f.Trun))
		moof.AppendChild(traf)
	}

	moofSize := moof.ComputeSize()

	// The aux-info blobs are placed as the leading bytes of mdat's own
	// payload (before the sample data), keeping the top-level box stream valid
	// (a byte range outside any box header would desynchronize a
	// streaming reader). saio offsets stay moof-relative per
	// TfhdDefaultBaseIsMoof, now landing inside mdat past its header.
	auxOffsets := make([]int, len(frags))
	auxTotal := 0
	for i, f := range frags {
		if f == nil || len(f.AuxBlob) == 0 {
			continue
		}
		auxOffsets[i] = auxTotal
		auxTotal += len(f.AuxBlob)
	}

	mdatOffsets := make([]int, len(frags))
	mdatTotal := 0
	for i, f := range frags {
		if f == nil {
			continue
		}
		mdatOffsets[i] = mdatTotal
		mdatTotal += len(f.Payload)
	}

	mdatPayloadStart := moofSize + mdatHeaderSize
	for i, f := range frags {
		if f == nil {
			continue
		}
		f.Trun.DataOffset = int32(mdatPayloadStart + auxTotal + mdatOffsets[i])
		if f.Saio != nil {
			f.Saio.Offsets = []uint64{uint64(mdatPayloadStart + auxOffsets[i])}
		}
	}

	w := newWriter()
	if err := moof.Write(w); err != nil {
		return nil, fragment.SegmentReference{}, fmt.Errorf("segment: write moof: %w", err)
	}
	w.AppendInt4(uint32(mdatHeaderSize + auxTotal + mdatTotal))
	w.AppendBytes([]byte{'m', 'd', 'a', 't'})
	for _, f := range frags {
		if f != nil {
			w.AppendBytes(f.AuxBlob)
		}
	}
	for _, f := range frags {
		if f != nil {
			w.AppendBytes(f.Payload)
		}
	}

	var ref fragment.SegmentReference
	if refTrack < len(frags) && frags[refTrack] != nil {
		ref = frags[refTrack].Ref
	}
	ref.ReferencedSize = uint32(w.Len())
	return w.Bytes(), ref, nil
}
