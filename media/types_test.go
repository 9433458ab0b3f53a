package media_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetsuo/dashpack/media"
)

func TestCreateFromHexStringsWrapsPssh(t *testing.T) {
	k, err := media.CreateFromHexStrings(
		"e5007e6e9dcd5ac095202ed3758382cd",
		"6fc96fe628a265b13aeddec0bc421f4d",
		"deadbeef",
		"0102030405060708",
	)
	require.NoError(t, err)
	assert.Len(t, k.Key, 16)
	assert.Len(t, k.IV, 8)

	// size(4) + "pssh"(4) + version/flags(4) + system_id(16) + data_size(4) + data(4) = 36
	require.Len(t, k.Pssh, 36)
	assert.Equal(t, []byte{0, 0, 0, 36}, k.Pssh[0:4])
	assert.Equal(t, "pssh", string(k.Pssh[4:8]))
	assert.Equal(t, media.WidevineSystemID[:], k.Pssh[12:28])
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, k.Pssh[32:36])
}

func TestCreateFromHexStringsRandomIV(t *testing.T) {
	k, err := media.CreateFromHexStrings("e5007e6e9dcd5ac095202ed3758382cd", "6fc96fe628a265b13aeddec0bc421f4d", "", "")
	require.NoError(t, err)
	assert.Len(t, k.IV, 8)
	assert.Nil(t, k.Pssh, "empty psshDataHex must leave Pssh nil")
}

func TestCreateFromHexStringsRejectsBadKeyLength(t *testing.T) {
	_, err := media.CreateFromHexStrings("aabb", "aabb", "", "")
	assert.Error(t, err)
}

func TestMuxerOptionsValidate(t *testing.T) {
	ok := media.MuxerOptions{SegmentDuration: 10, FragmentDuration: 2, SegmentSapAligned: true, FragmentSapAligned: true}
	assert.NoError(t, ok.Validate())

	badSAP := media.MuxerOptions{SegmentDuration: 10, FragmentDuration: 2, FragmentSapAligned: true}
	assert.Error(t, badSAP.Validate(), "fragment_sap_aligned without segment_sap_aligned must fail")

	longFragment := media.MuxerOptions{SegmentDuration: 2, FragmentDuration: 10}
	assert.Error(t, longFragment.Validate(), "fragment_duration > segment_duration must fail")
}

func TestIsEndOfStream(t *testing.T) {
	s := &media.MediaSample{}
	assert.True(t, s.IsEndOfStream(), "empty-data sample should report end of stream")

	s.Data = []byte{1}
	assert.False(t, s.IsEndOfStream())
}
