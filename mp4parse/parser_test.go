package mp4parse_test

import (
	"bytes"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetsuo/dashpack/fragment"
	"github.com/tetsuo/dashpack/media"
	"github.com/tetsuo/dashpack/mp4parse"
	"github.com/tetsuo/dashpack/segment"
)

type memFile struct {
	name string
	buf  bytes.Buffer
}

func (f *memFile) Write(p []byte) (int, error) { return f.buf.Write(p) }
func (f *memFile) Close() error                 { return nil }
func (f *memFile) Name() string                 { return f.name }
func (f *memFile) ReadAt(p []byte, off int64) (int, error) {
	data := f.buf.Bytes()
	if off >= int64(len(data)) {
		return 0, fmt.Errorf("mp4parse_test: read past end")
	}
	return copy(p, data[off:]), nil
}

type memOpener struct {
	files map[string]*memFile
	seq   int
}

func newMemOpener() *memOpener { return &memOpener{files: map[string]*memFile{}} }

func (o *memOpener) Create(name string) (io.WriteCloser, error) {
	f := &memFile{name: name}
	o.files[name] = f
	return f, nil
}

func (o *memOpener) CreateTemp(dir string) (segment.TempFile, error) {
	o.seq++
	f := &memFile{name: fmt.Sprintf("%s/tmp-%d", dir, o.seq)}
	o.files[f.name] = f
	return f, nil
}

// minimal but structurally valid AVCDecoderConfigurationRecord: one SPS,
// one PPS, 4-byte NAL length size.
var testAvcC = []byte{
	1, 66, 0, 30, // configurationVersion, profile, compat, level
	0xff,       // lengthSizeMinusOne (3) | reserved
	0xe1,       // numSPS (1) | reserved
	0, 2, 0x67, 0x42, // sps length + bytes
	1,          // numPPS
	0, 2, 0x68, 0xce, // pps length + bytes
}

func buildNalSample(payload []byte) []byte {
	out := make([]byte, 4+len(payload))
	out[0] = byte(len(payload) >> 24)
	out[1] = byte(len(payload) >> 16)
	out[2] = byte(len(payload) >> 8)
	out[3] = byte(len(payload))
	copy(out[4:], payload)
	return out
}

func TestParserRoundTripsVODSegmenterOutput(t *testing.T) {
	opener := newMemOpener()
	sink := segment.NewVODSink(opener, "/tmp", "/out/video.mp4", 1, 90000)

	stream := &media.StreamInfo{StreamType: media.StreamVideo, TrackID: 7, TimeScale: 90000, ExtraData: testAvcC}
	video := &media.VideoStreamInfo{StreamInfo: *stream, Width: 1280, Height: 720, NaluLengthSize: 4}
	frag := fragment.New(fragment.Options{TrackID: 7, NaluLengthSize: 4})

	cfg := segment.TrackConfig{Stream: stream, Video: video, Fragmenter: frag}
	opts := media.MuxerOptions{SegmentDuration: 2, FragmentDuration: 2, SegmentSapAligned: true, FragmentSapAligned: true}

	s, err := segment.New(opts, 90000, []segment.TrackConfig{cfg}, 0, nil, sink)
	require.NoError(t, err)

	const n = 10
	for i := 0; i < n; i++ {
		nal := buildNalSample([]byte{0x65, byte(i), 0xaa, 0xbb})
		dts := int64(i) * 3000
		require.NoError(t, s.AddSample(0, &media.MediaSample{
			DTS: dts, PTS: dts, Duration: 3000, IsKeyFrame: i == 0, Data: nal,
		}))
	}
	require.NoError(t, s.Finalize())

	out := opener.files["/out/video.mp4"]
	require.NotNil(t, out)

	var gotStreams []*media.StreamInfo
	var gotSamples []*media.MediaSample
	var gotTrackIDs []uint32
	p := mp4parse.New(mp4parse.Callbacks{
		OnInit: func(streams []*media.StreamInfo) error {
			gotStreams = streams
			return nil
		},
		OnSample: func(trackID uint32, sample *media.MediaSample) error {
			gotTrackIDs = append(gotTrackIDs, trackID)
			gotSamples = append(gotSamples, sample)
			return nil
		},
	})

	require.NoError(t, p.Parse(out.buf.Bytes()))

	require.Len(t, gotStreams, 1)
	assert.Equal(t, uint32(7), gotStreams[0].TrackID)
	assert.Equal(t, media.StreamVideo, gotStreams[0].StreamType)
	assert.Equal(t, media.CodecH264, gotStreams[0].Codec)
	assert.Equal(t, uint32(90000), gotStreams[0].TimeScale)

	require.Len(t, gotSamples, n)
	for i, sm := range gotSamples {
		assert.Equal(t, uint32(7), gotTrackIDs[i])
		assert.Equal(t, int64(i)*3000, sm.DTS)
		assert.Equal(t, uint32(3000), sm.Duration)
		assert.Equal(t, i == 0, sm.IsKeyFrame)
		assert.Equal(t, byte(i), sm.Data[5])
	}
}

func TestParserFeedsPartialChunksAcrossMultipleParseCalls(t *testing.T) {
	opener := newMemOpener()
	sink := segment.NewVODSink(opener, "/tmp", "/out/video.mp4", 1, 90000)

	stream := &media.StreamInfo{StreamType: media.StreamVideo, TrackID: 1, TimeScale: 90000, ExtraData: testAvcC}
	video := &media.VideoStreamInfo{StreamInfo: *stream, Width: 640, Height: 480, NaluLengthSize: 4}
	frag := fragment.New(fragment.Options{TrackID: 1, NaluLengthSize: 4})

	cfg := segment.TrackConfig{Stream: stream, Video: video, Fragmenter: frag}
	opts := media.MuxerOptions{SegmentDuration: 1, FragmentDuration: 1, SegmentSapAligned: true, FragmentSapAligned: true}

	s, err := segment.New(opts, 90000, []segment.TrackConfig{cfg}, 0, nil, sink)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		nal := buildNalSample([]byte{0x65, byte(i)})
		dts := int64(i) * 9000
		require.NoError(t, s.AddSample(0, &media.MediaSample{
			DTS: dts, PTS: dts, Duration: 9000, IsKeyFrame: i == 0, Data: nal,
		}))
	}
	require.NoError(t, s.Finalize())

	body := opener.files["/out/video.mp4"].buf.Bytes()

	var sampleCount int
	p := mp4parse.New(mp4parse.Callbacks{
		OnInit: func([]*media.StreamInfo) error { return nil },
		OnSample: func(uint32, *media.MediaSample) error {
			sampleCount++
			return nil
		},
	})

	const chunkSize = 11
	for i := 0; i < len(body); i += chunkSize {
		end := i + chunkSize
		if end > len(body) {
			end = len(body)
		}
		require.NoError(t, p.Parse(body[i:end]))
	}

	assert.Equal(t, 5, sampleCount)
}
