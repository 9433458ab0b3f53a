package demux

import (
	"fmt"

	"github.com/tetsuo/dashpack/internal/errs"
	"github.com/tetsuo/dashpack/media"
)

// StreamState is one of MediaStream's push/pull states (§4.K).
type StreamState int

const (
	StateIdle StreamState = iota
	StateConnected
	StatePushing
	StatePulling
	StateDisconnected
)

func (s StreamState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnected:
		return "connected"
	case StatePushing:
		return "pushing"
	case StatePulling:
		return "pulling"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// StartMode selects which of the two mutually exclusive drive modes
// Start puts the stream into (§4.K).
type StartMode int

const (
	ModePush StartMode = iota
	ModePull
)

// Sink receives samples pushed by a MediaStream in Pushing state. The
// segment.Segmenter (via a small adapter) is the production Sink; tests
// use a recording fake.
type Sink interface {
	PushSample(trackID uint32, sample *media.MediaSample) error
}

// Puller is the callback a Pulling-state MediaStream uses to ask its
// owning Demuxer for more bytes when its internal queue runs dry.
type Puller interface {
	// Parse asks the demuxer to feed its parser more input, which should
	// synchronously produce zero or more PushSample calls.
	Parse() error
}

// MediaStream mediates push/pull delivery of one track's samples between
// a Demuxer and whichever Muxer it is (or isn't) connected to (§4.K). The
// Idle/Connected/Pushing/Pulling/Disconnected states are exactly the
// spec's state machine; direct field access is avoided in favor of the
// Start/Connect/PushSample/PullSample methods so the state transitions
// stay centralized.
type MediaStream struct {
	trackID uint32
	state   StreamState
	sink    Sink
	puller  Puller
	queue   []*media.MediaSample
	peers   []*MediaStream // sibling streams of the same Demuxer, for recursive Start(kPull)
}

// NewMediaStream constructs a MediaStream for one track, initially Idle.
func NewMediaStream(trackID uint32) *MediaStream {
	return &MediaStream{trackID: trackID, state: StateIdle}
}

// TrackID returns the track this stream carries samples for.
func (m *MediaStream) TrackID() uint32 { return m.trackID }

// State returns the current push/pull state.
func (m *MediaStream) State() StreamState { return m.state }

// SetPeers records this stream's siblings (other tracks from the same
// Demuxer), used by Start(ModePull) to disconnect unconnected peers
// (§4.K: "recursively Start(kPull) on peer streams").
func (m *MediaStream) SetPeers(peers []*MediaStream) { m.peers = peers }

// Connect transitions Idle -> Connected, recording the sink (muxer) this
// stream will eventually push to or be pulled by.
func (m *MediaStream) Connect(sink Sink) error {
	if m.state != StateIdle {
		return fmt.Errorf("demux: stream %d: Connect called in state %s, want idle", m.trackID, m.state)
	}
	m.sink = sink
	m.state = StateConnected
	return nil
}

// Start transitions a Connected stream into Pushing or Pulling mode, or
// Disconnects it if it was never connected (§4.K: "Start from Idle with
// no muxer connected -> Disconnected; all future samples are dropped").
func (m *MediaStream) Start(mode StartMode, puller Puller) error {
	switch m.state {
	case StateIdle:
		m.state = StateDisconnected
		m.queue = nil
		return nil
	case StateConnected:
		// fall through
	default:
		return fmt.Errorf("demux: stream %d: Start called in state %s", m.trackID, m.state)
	}

	switch mode {
	case ModePush:
		m.state = StatePushing
		for _, s := range m.queue {
			if err := m.sink.PushSample(m.trackID, s); err != nil {
				return err
			}
		}
		m.queue = nil
	case ModePull:
		m.state = StatePulling
		m.puller = puller
		for _, peer := range m.peers {
			if peer == m || peer.state != StateIdle {
				continue
			}
			if err := peer.Start(ModePull, puller); err != nil {
				return err
			}
		}
	}
	return nil
}

// PushSample delivers one sample from the parser into the stream (§4.K):
// forwarded immediately while Pushing, buffered while Pulling or Idle,
// and silently dropped once Disconnected.
func (m *MediaStream) PushSample(sample *media.MediaSample) error {
	switch m.state {
	case StatePushing:
		return m.sink.PushSample(m.trackID, sample)
	case StatePulling, StateIdle, StateConnected:
		m.queue = append(m.queue, sample)
		return nil
	case StateDisconnected:
		return nil
	default:
		return fmt.Errorf("demux: stream %d: PushSample in state %s", m.trackID, m.state)
	}
}

// PullSample pops the next buffered sample, asking the Demuxer to parse
// more input if the queue is empty. It returns errs.EndOfStreamErr once
// the underlying parser has nothing left to offer (§4.K).
func (m *MediaStream) PullSample() (*media.MediaSample, error) {
	if m.state != StatePulling {
		return nil, fmt.Errorf("demux: stream %d: PullSample requires pulling, have %s", m.trackID, m.state)
	}
	for len(m.queue) == 0 {
		if m.puller == nil {
			return nil, errs.EndOfStreamErr
		}
		err := m.puller.Parse()
		if len(m.queue) > 0 {
			break
		}
		if err != nil {
			if errs.Is(err, errs.EndOfStream) {
				return nil, errs.EndOfStreamErr
			}
			return nil, err
		}
		// No sample for this stream yet and input not exhausted: parse
		// the next chunk.
	}
	s := m.queue[0]
	m.queue = m.queue[1:]
	return s, nil
}
