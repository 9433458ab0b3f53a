package demux_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetsuo/dashpack/demux"
	"github.com/tetsuo/dashpack/internal/errs"
	"github.com/tetsuo/dashpack/media"
)

type recordingSink struct {
	samples []*media.MediaSample
}

func (r *recordingSink) PushSample(trackID uint32, s *media.MediaSample) error {
	r.samples = append(r.samples, s)
	return nil
}

func TestMediaStreamPushBuffersUntilStarted(t *testing.T) {
	m := demux.NewMediaStream(1)
	sink := &recordingSink{}

	s1 := &media.MediaSample{DTS: 1, Data: []byte{1}}
	require.NoError(t, m.PushSample(s1))
	assert.Equal(t, demux.StateIdle, m.State())

	require.NoError(t, m.Connect(sink))
	assert.Equal(t, demux.StateConnected, m.State())

	require.NoError(t, m.Start(demux.ModePush, nil))
	assert.Equal(t, demux.StatePushing, m.State())
	require.Len(t, sink.samples, 1)
	assert.Same(t, s1, sink.samples[0], "buffered sample must flush on Start(push)")

	s2 := &media.MediaSample{DTS: 2, Data: []byte{2}}
	require.NoError(t, m.PushSample(s2))
	require.Len(t, sink.samples, 2)
	assert.Same(t, s2, sink.samples[1], "sample must forward immediately while pushing")
}

func TestMediaStreamStartFromIdleDisconnects(t *testing.T) {
	m := demux.NewMediaStream(1)
	require.NoError(t, m.Start(demux.ModePush, nil))
	assert.Equal(t, demux.StateDisconnected, m.State())
	assert.NoError(t, m.PushSample(&media.MediaSample{Data: []byte{1}}), "dropped sample must not error")
}

type fakePuller struct {
	produce func()
	calls   int
	err     error
}

func (f *fakePuller) Parse() error {
	f.calls++
	if f.produce != nil {
		f.produce()
	}
	return f.err
}

func TestMediaStreamPullDrivesParseOnEmptyQueue(t *testing.T) {
	m := demux.NewMediaStream(1)
	require.NoError(t, m.Connect(&recordingSink{}))

	produced := false
	puller := &fakePuller{}
	puller.produce = func() {
		if !produced {
			produced = true
			require.NoError(t, m.PushSample(&media.MediaSample{DTS: 5, Data: []byte{9}}))
		}
	}

	require.NoError(t, m.Start(demux.ModePull, puller))
	assert.Equal(t, demux.StatePulling, m.State())

	s, err := m.PullSample()
	require.NoError(t, err)
	assert.EqualValues(t, 5, s.DTS)
	assert.Equal(t, 1, puller.calls, "exactly one Parse call expected")
}

func TestMediaStreamPullEndOfStream(t *testing.T) {
	m := demux.NewMediaStream(1)
	require.NoError(t, m.Connect(&recordingSink{}))
	puller := &fakePuller{err: errs.EndOfStreamErr}
	require.NoError(t, m.Start(demux.ModePull, puller))

	_, err := m.PullSample()
	assert.True(t, errs.Is(err, errs.EndOfStream))
}

func TestMediaStreamPeerDisconnectOnPull(t *testing.T) {
	a := demux.NewMediaStream(1)
	bUnconnected := demux.NewMediaStream(2)
	a.SetPeers([]*demux.MediaStream{a, bUnconnected})
	bUnconnected.SetPeers([]*demux.MediaStream{a, bUnconnected})

	require.NoError(t, a.Connect(&recordingSink{}))
	puller := &fakePuller{err: errs.EndOfStreamErr}
	require.NoError(t, a.Start(demux.ModePull, puller))

	assert.Equal(t, demux.StateDisconnected, bUnconnected.State())
}
