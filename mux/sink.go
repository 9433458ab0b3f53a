package mux

import (
	"github.com/tetsuo/dashpack/fragment"
	"github.com/tetsuo/dashpack/segment"
)

// listenerSink wraps a segment.Sink, firing Listener.OnNewSegment once
// per segment boundary the inner sink reports (§4.L). Init/OnFragment/
// Finalize pass straight through; OnMediaStart/OnMediaEnd are fired by
// the owning Muxer directly, since those need information (byte ranges,
// final duration) only available before Init and after Finalize.
type listenerSink struct {
	inner    segment.Sink
	listener Listener
	infoFn   func() MediaInfo
}

func newListenerSink(inner segment.Sink, listener Listener, infoFn func() MediaInfo) *listenerSink {
	return &listenerSink{inner: inner, listener: listener, infoFn: infoFn}
}

func (s *listenerSink) Init(ftypMoov []byte) error { return s.inner.Init(ftypMoov) }

func (s *listenerSink) OnFragment(data []byte, ref fragment.SegmentReference) error {
	return s.inner.OnFragment(data, ref)
}

func (s *listenerSink) OnSegmentBoundary() error {
	if err := s.inner.OnSegmentBoundary(); err != nil {
		return err
	}
	if s.listener != nil {
		return s.listener.OnNewSegment(s.infoFn())
	}
	return nil
}

func (s *listenerSink) Finalize() error { return s.inner.Finalize() }
