package box_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetsuo/dashpack/bitio"
	"github.com/tetsuo/dashpack/box"
)

// roundTrip writes b, reparses it, and returns the reparsed box.
func roundTrip(t *testing.T, b *box.Box) *box.Box {
	t.Helper()
	w := bitio.NewWriter()
	require.NoError(t, b.Write(w))
	assert.Equal(t, b.ComputeSize(), len(w.Bytes()), "ComputeSize must match bytes written")

	r := bitio.NewReader(w.Bytes())
	got, err := box.ReadBox(r)
	require.NoError(t, err)
	assert.Zero(t, r.Len(), "trailing bytes after reparse")
	return got
}

func TestFtypRoundTrip(t *testing.T) {
	orig := &box.Ftyp{
		MajorBrand:       box.FourCC{'d', 'a', 's', 'h'},
		MinorVersion:     0,
		CompatibleBrands: []box.FourCC{{'i', 's', 'o', '6'}, {'m', 'p', '4', '1'}, {'a', 'v', 'c', '1'}},
	}
	b := roundTrip(t, box.NewLeaf(orig))
	got, ok := b.Payload.(*box.Ftyp)
	require.True(t, ok, "payload type = %T", b.Payload)
	assert.Equal(t, orig.MajorBrand, got.MajorBrand)
	assert.Equal(t, orig.CompatibleBrands, got.CompatibleBrands)
}

func TestMvhdRoundTripBothVersions(t *testing.T) {
	for _, version := range []uint8{0, 1} {
		orig := &box.Mvhd{
			Version:      version,
			CreationTime: 1000,
			ModTime:      2000,
			TimeScale:    90000,
			Duration:     123456,
			Rate:         0x00010000,
			Volume:       0x0100,
			NextTrackID:  2,
		}
		b := roundTrip(t, box.NewLeaf(orig))
		got := b.Payload.(*box.Mvhd)
		assert.Equal(t, orig.TimeScale, got.TimeScale)
		assert.Equal(t, orig.Duration, got.Duration)
		assert.Equal(t, orig.CreationTime, got.CreationTime)
		assert.Equal(t, orig.ModTime, got.ModTime)
		assert.Equal(t, orig.NextTrackID, got.NextTrackID)
	}
}

func TestTfdtRoundTripV1Uses64Bits(t *testing.T) {
	orig := &box.Tfdt{Version: 1, BaseMediaDecodeTime: 1 << 40}
	b := roundTrip(t, box.NewLeaf(orig))
	got := b.Payload.(*box.Tfdt)
	assert.Equal(t, orig.BaseMediaDecodeTime, got.BaseMediaDecodeTime)
}

// TestDefaultFieldOmission exercises the box-tree invariant that a leaf
// whose ComputeSize() is 0 is omitted entirely by Write (§3, property 3's
// box-level counterpart).
func TestDefaultFieldOmission(t *testing.T) {
	raw := &box.Raw{Type: box.FourCC{'f', 'r', 'e', 'e'}, Data: nil}
	leaf := box.NewLeaf(raw)
	assert.Zero(t, leaf.ComputeSize(), "empty optional leaf must report zero size")

	w := bitio.NewWriter()
	require.NoError(t, leaf.Write(w))
	assert.Empty(t, w.Bytes(), "Write must emit nothing for a zero-size leaf")
}

func TestTrunPerSampleFieldsRoundTrip(t *testing.T) {
	trun := &box.Trun{
		Flags: box.TrunSampleDurationPresent | box.TrunSampleSizePresent,
		Entries: []box.TrunEntry{
			{SampleDuration: 1000, SampleSize: 500},
			{SampleDuration: 1000, SampleSize: 500},
			{SampleDuration: 1000, SampleSize: 500},
		},
	}
	b := roundTrip(t, box.NewLeaf(trun))
	got := b.Payload.(*box.Trun)
	require.Len(t, got.Entries, 3)
	for _, e := range got.Entries {
		assert.Equal(t, uint32(1000), e.SampleDuration)
		assert.Equal(t, uint32(500), e.SampleSize)
	}
}

func TestSidxReferenceBitPacking(t *testing.T) {
	sidx := &box.Sidx{
		ReferenceID: 1,
		Timescale:   25,
		References: []box.SidxReference{
			{ReferenceType: 0, ReferencedSize: 12345, SubsegmentDuration: 50, StartsWithSAP: 1, SAPType: 1, SAPDeltaTime: 0},
		},
	}
	b := roundTrip(t, box.NewLeaf(sidx))
	got := b.Payload.(*box.Sidx)
	require.Len(t, got.References, 1)
	r := got.References[0]
	assert.EqualValues(t, 0, r.ReferenceType)
	assert.EqualValues(t, 12345, r.ReferencedSize)
	assert.EqualValues(t, 50, r.SubsegmentDuration)
	assert.EqualValues(t, 1, r.StartsWithSAP)
	assert.EqualValues(t, 1, r.SAPType)
	assert.EqualValues(t, 0, r.SAPDeltaTime)
}

// TestContainerTreeRoundTrip builds a small moov-shaped tree (mvhd + one
// trak) and checks the box scanner reconstructs the same shape.
func TestContainerTreeRoundTrip(t *testing.T) {
	mvhd := box.NewLeaf(&box.Mvhd{TimeScale: 1000, Duration: 5000, NextTrackID: 2})
	trak := box.NewContainer(box.TypeTrak, box.NewLeaf(&box.Tkhd{Version: 0, TrackID: 1, Width: 1280 << 16, Height: 720 << 16}))
	moov := box.NewContainer(box.TypeMoov, mvhd, trak)

	got := roundTrip(t, moov)
	assert.Equal(t, box.TypeMoov, got.Type)
	require.Len(t, got.Children, 2)

	gotMvhd := got.FindChild(box.TypeMvhd).Payload.(*box.Mvhd)
	assert.Equal(t, uint32(1000), gotMvhd.TimeScale)
	assert.EqualValues(t, 5000, gotMvhd.Duration)

	gotTrak := got.FindChild(box.TypeTrak)
	gotTkhd := gotTrak.FindChild(box.TypeTkhd).Payload.(*box.Tkhd)
	assert.Equal(t, uint32(1), gotTkhd.TrackID)
}

func TestUnknownTopLevelRejected(t *testing.T) {
	w := bitio.NewWriter()
	leaf := box.NewLeaf(&box.Raw{Type: box.FourCC{'x', 'x', 'x', 'x'}, Data: []byte("hi")})
	require.NoError(t, leaf.Write(w))

	r := bitio.NewReader(w.Bytes())
	_, err := box.ReadTopLevel(r)
	assert.Error(t, err)
}

func TestSizeZeroBoxRejected(t *testing.T) {
	w := bitio.NewWriter()
	w.AppendInt4(0)
	w.AppendBytes([]byte("free"))
	r := bitio.NewReader(w.Bytes())
	_, err := box.ReadBox(r)
	assert.Error(t, err)
}
