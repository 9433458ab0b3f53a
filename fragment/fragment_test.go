package fragment_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetsuo/dashpack/box"
	"github.com/tetsuo/dashpack/fragment"
	"github.com/tetsuo/dashpack/media"
)

func sample(dts, pts int64, dur uint32, key bool, data []byte) *media.MediaSample {
	return &media.MediaSample{DTS: dts, PTS: pts, Duration: dur, IsKeyFrame: key, Data: data}
}

func TestDefaultFieldOptimizationUniform(t *testing.T) {
	f := fragment.New(fragment.Options{TrackID: 1})
	for i := 0; i < 5; i++ {
		require.NoError(t, f.AddSample(sample(int64(i)*512, int64(i)*512, 512, i == 0, []byte{1, 2, 3, 4})))
	}
	frag := f.Finalize()

	assert.NotZero(t, frag.Tfhd.Flags&box.TfhdDefaultSampleDurationPresent)
	assert.NotZero(t, frag.Tfhd.Flags&box.TfhdDefaultSampleSizePresent)
	assert.Equal(t, uint32(512), frag.Tfhd.DefaultSampleDuration)
	assert.Equal(t, uint32(4), frag.Tfhd.DefaultSampleSize)
	assert.Zero(t, frag.Trun.Flags&box.TrunSampleDurationPresent)
	assert.Zero(t, frag.Trun.Flags&box.TrunSampleSizePresent)
}

func TestDefaultFieldOptimizationVaried(t *testing.T) {
	f := fragment.New(fragment.Options{TrackID: 1})
	require.NoError(t, f.AddSample(sample(0, 0, 512, true, []byte{1, 2, 3})))
	require.NoError(t, f.AddSample(sample(512, 512, 1024, false, []byte{1, 2, 3, 4, 5})))
	frag := f.Finalize()

	assert.Zero(t, frag.Tfhd.Flags&box.TfhdDefaultSampleDurationPresent)
	assert.NotZero(t, frag.Trun.Flags&box.TrunSampleDurationPresent)
	assert.Equal(t, uint32(512), frag.Trun.Entries[0].SampleDuration)
	assert.Equal(t, uint32(1024), frag.Trun.Entries[1].SampleDuration)
}

func TestSAPFlagSetWhenFirstSampleIsKeyFrame(t *testing.T) {
	f := fragment.New(fragment.Options{TrackID: 1})
	require.NoError(t, f.AddSample(sample(0, 0, 512, true, []byte{1})))
	require.NoError(t, f.AddSample(sample(512, 512, 512, false, []byte{2})))
	frag := f.Finalize()

	assert.True(t, frag.Ref.StartsWithSAP)
	assert.Equal(t, uint8(fragment.SapTypeOne), frag.Ref.SapType)
}

func TestSAPFlagClearWhenFirstSampleIsNotKeyFrame(t *testing.T) {
	f := fragment.New(fragment.Options{TrackID: 1})
	require.NoError(t, f.AddSample(sample(0, 0, 512, false, []byte{1})))
	frag := f.Finalize()

	assert.False(t, frag.Ref.StartsWithSAP)
}

func TestFragmentMonotonicity(t *testing.T) {
	f := fragment.New(fragment.Options{TrackID: 1})
	require.NoError(t, f.AddSample(sample(0, 0, 512, true, []byte{1})))
	require.NoError(t, f.AddSample(sample(512, 512, 512, false, []byte{2})))
	frag1 := f.Finalize()
	f.Reset()

	require.NoError(t, f.AddSample(sample(1024, 1024, 512, true, []byte{3})))
	frag2 := f.Finalize()

	assert.Equal(t, frag1.Tfdt.BaseMediaDecodeTime+uint64(frag1.Ref.SubsegmentDuration), frag2.Tfdt.BaseMediaDecodeTime)
}

func TestEncryptedSampleCarriesDecryptConfigAndAuxInfo(t *testing.T) {
	key := &media.EncryptionKey{
		KeyID: make([]byte, 16),
		Key:   make([]byte, 16),
		IV:    []byte{0, 0, 0, 0, 0, 0, 0, 1},
	}
	f := fragment.New(fragment.Options{TrackID: 1, FixedKey: key, NaluLengthSize: 4})
	nal := make([]byte, 4+1+10) // length prefix + NAL header + 10 bytes payload
	nal[3] = 11                 // nalu length = 11 (header + 10 bytes)
	s := sample(0, 0, 512, true, nal)
	require.NoError(t, f.AddSample(s))
	frag := f.Finalize()

	require.NotNil(t, s.DecryptConfig)
	require.NotNil(t, frag.Saiz)
	require.NotNil(t, frag.Saio)
	assert.NotEmpty(t, frag.AuxBlob)
}
