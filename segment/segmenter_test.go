package segment_test

import (
	"bytes"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetsuo/dashpack/fragment"
	"github.com/tetsuo/dashpack/media"
	"github.com/tetsuo/dashpack/segment"
)

// memFile backs both FileOpener.Create and CreateTemp with an in-memory
// buffer so tests never touch the filesystem.
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
		return 0, fmt.Errorf("segment_test: read past end")
	}
	n := copy(p, data[off:])
	return n, nil
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

func sample(dts, pts int64, dur uint32, key bool, data []byte) *media.MediaSample {
	return &media.MediaSample{DTS: dts, PTS: pts, Duration: dur, IsKeyFrame: key, Data: data}
}

func newTestStream() *media.StreamInfo {
	return &media.StreamInfo{StreamType: media.StreamVideo, TrackID: 1, TimeScale: 90000}
}

func TestVODSegmenterProducesInitMoovSidxMdat(t *testing.T) {
	opener := newMemOpener()
	sink := segment.NewVODSink(opener, "/tmp", "/out/video.mp4", 1, 90000)

	stream := newTestStream()
	video := &media.VideoStreamInfo{StreamInfo: *stream, Width: 1280, Height: 720}
	frag := fragment.New(fragment.Options{TrackID: 1})

	cfg := segment.TrackConfig{Stream: stream, Video: video, Fragmenter: frag}
	opts := media.MuxerOptions{SegmentDuration: 2, FragmentDuration: 2, SegmentSapAligned: true, FragmentSapAligned: true}

	s, err := segment.New(opts, 90000, []segment.TrackConfig{cfg}, 0, nil, sink)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, s.AddSample(0, sample(int64(i)*9000, int64(i)*9000, 9000, i == 0, []byte{1, 2, 3, 4})))
	}
	require.NoError(t, s.Finalize())

	out := opener.files["/out/video.mp4"]
	require.NotNil(t, out)
	body := out.buf.Bytes()
	assert.True(t, len(body) > 8)
	assert.Equal(t, "ftyp", string(body[4:8]))
}

func TestLiveSegmenterWritesInitAndSegmentFiles(t *testing.T) {
	opener := newMemOpener()
	sink := segment.NewLiveSink(opener, "/out/init.mp4", "/out/seg-$Number$.m4s", 1, 90000, 500000, 0)

	stream := newTestStream()
	video := &media.VideoStreamInfo{StreamInfo: *stream, Width: 1280, Height: 720}
	frag := fragment.New(fragment.Options{TrackID: 1})

	cfg := segment.TrackConfig{Stream: stream, Video: video, Fragmenter: frag}
	opts := media.MuxerOptions{SegmentDuration: 1, FragmentDuration: 1, SegmentSapAligned: true, FragmentSapAligned: true}

	s, err := segment.New(opts, 90000, []segment.TrackConfig{cfg}, 0, nil, sink)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		require.NoError(t, s.AddSample(0, sample(int64(i)*9000, int64(i)*9000, 9000, i%10 == 0, []byte{1, 2, 3, 4})))
	}
	require.NoError(t, s.Finalize())

	require.NotNil(t, opener.files["/out/init.mp4"])
	assert.Contains(t, opener.files, "/out/seg-1.m4s")
}
