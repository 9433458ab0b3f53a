// Package segment implements the base/VOD/live segmenter state machines
// (spec §4.F/G/H): it owns moov/moof/sidx, routes samples to per-track
// fragment.Fragmenter instances, enforces fragment/segment duration and SAP
// alignment, and emits segment references.
package segment

import (
	"fmt"

	"github.com/tetsuo/dashpack/box"
	"github.com/tetsuo/dashpack/fragment"
	"github.com/tetsuo/dashpack/internal/errs"
	"github.com/tetsuo/dashpack/media"
)

// Sink receives the pieces the base Segmenter produces and lays them out
// into the VOD or live file shape (§4.G/H). A Segmenter is constructed with
// exactly one Sink, chosen by the caller (cmd/packager, or library callers
// wiring their own muxer).
type Sink interface {
	// Init receives the serialized ftyp+moov bytes once, at construction.
	Init(ftypMoov []byte) error
	// OnFragment is called once per finalized fragment cycle, carrying the
	// serialized moof+mdat(s) and the reference-stream's SegmentReference
	// (ReferencedSize already set to len(fragmentBytes)).
	OnFragment(fragmentBytes []byte, ref fragment.SegmentReference) error
	// OnSegmentBoundary fires right after the OnFragment call that closed
	// out a segment (§4.F step 6's end_of_segment).
	OnSegmentBoundary() error
	// Finalize drains any sink-held state and produces final output.
	Finalize() error
}

// TrackConfig describes one track the Segmenter will route samples to.
type TrackConfig struct {
	Stream    *media.StreamInfo
	Video     *media.VideoStreamInfo // nil for audio
	Audio     *media.AudioStreamInfo // nil for video
	Fragmenter *fragment.Fragmenter
	Defaults  FragmentDefaults
	Encrypted *EncryptionLayout // nil unless CENC-protected
}

type trackState struct {
	cfg             TrackConfig
	mediaDuration   uint64 // total media.header.duration accumulated so far
	segmentDuration uint64 // duration accumulated within the current segment
	fragmentStarted bool
}

// Segmenter is the spec §4.F base state machine.
type Segmenter struct {
	opts      media.MuxerOptions
	timescale uint32
	tracks    []*trackState
	refTrack  int
	psshBoxes [][]byte
	sink      Sink

	segmentOpen  bool
	sequence     uint32
	pendingFrags []*fragment.Fragment
}

// New constructs a Segmenter. refTrack must index the stream chosen as the
// sidx.reference_id per §4.F init: "if video, remember the first video
// stream... If no video stream exists, the reference id is the first
// stream" — callers compute refTrack accordingly (see NewTrackConfigs).
func New(opts media.MuxerOptions, movieTimescale uint32, tracks []TrackConfig, refTrack int, psshBoxes [][]byte, sink Sink) (*Segmenter, error) {
	if len(tracks) == 0 {
		return nil, fmt.Errorf("segment: at least one track required")
	}
	if refTrack < 0 || refTrack >= len(tracks) {
		return nil, fmt.Errorf("segment: reference track index %d out of range", refTrack)
	}
	s := &Segmenter{
		opts:      opts,
		timescale: movieTimescale,
		refTrack:  refTrack,
		psshBoxes: psshBoxes,
		sink:      sink,
	}
	for _, t := range tracks {
		s.tracks = append(s.tracks, &trackState{cfg: t})
	}

	ftyp := buildFtyp(tracks)
	moov := BuildMoov(movieTimescale, 0, s.trackInputs(), psshBoxes)
	w := serializeBoxes(ftyp, moov)
	if err := sink.Init(w); err != nil {
		return nil, fmt.Errorf("segment: sink init: %w", err)
	}
	return s, nil
}

// trackInputs snapshots the current per-track state (mediaDuration included)
// into BuildMoov's input shape.
func (s *Segmenter) trackInputs() []TrackInput {
	inputs := make([]TrackInput, len(s.tracks))
	for i, t := range s.tracks {
		inputs[i] = TrackInput{
			Stream:    t.cfg.Stream,
			Video:     t.cfg.Video,
			Audio:     t.cfg.Audio,
			Duration:  t.mediaDuration,
			Defaults:  t.cfg.Defaults,
			Encrypted: t.cfg.Encrypted,
		}
	}
	return inputs
}

// finalMoov rebuilds ftyp+moov using every track's accumulated duration,
// rescaled into the movie timescale for mvhd/mehd's overall duration
// (§4.F Finalize step: "moov.header.duration = max(track durations)").
func (s *Segmenter) finalMoov() []byte {
	var movieDuration uint64
	for _, t := range s.tracks {
		if d := rescaleDuration(t.mediaDuration, t.cfg.Stream.TimeScale, s.timescale); d > movieDuration {
			movieDuration = d
		}
	}
	var trackConfigs []TrackConfig
	for _, t := range s.tracks {
		trackConfigs = append(trackConfigs, t.cfg)
	}
	ftyp := buildFtyp(trackConfigs)
	moov := BuildMoov(s.timescale, movieDuration, s.trackInputs(), s.psshBoxes)
	return serializeBoxes(ftyp, moov)
}

// finalMoovSink is implemented by sinks whose init segment must be
// rebuilt at Finalize once every track's duration is known (VODSink);
// LiveSink does not implement it, since it writes its init segment once
// up front and never revisits it (§4.H).
type finalMoovSink interface {
	SetFinalMoov(ftypMoov []byte)
}

// NewTrackConfigs picks the sidx reference index following §4.F: the first
// video stream if one exists, else the first stream.
func NewTrackConfigs(tracks []TrackConfig) int {
	for i, t := range tracks {
		if t.Video != nil {
			return i
		}
	}
	return 0
}

func buildFtyp(tracks []TrackConfig) *box.Box {
	brands := []box.FourCC{{'i', 's', 'o', '6'}, {'m', 'p', '4', '1'}}
	for _, t := range tracks {
		if t.Video != nil {
			brands = append(brands, box.FourCC{'a', 'v', 'c', '1'})
			break
		}
	}
	return box.NewLeaf(&box.Ftyp{
		MajorBrand:       box.FourCC{'d', 'a', 's', 'h'},
		CompatibleBrands: brands,
	})
}

func serializeBoxes(boxes ...*box.Box) []byte {
	w := newWriter()
	for _, b := range boxes {
		_ = b.Write(w)
	}
	return w.Bytes()
}

// AddSample routes one sample to trackIdx's fragmenter (§4.F AddSample).
// Returns errs.FragmentFinalizedErr if that track's fragment is already
// finalized and awaiting the pull loop to switch streams.
func (s *Segmenter) AddSample(trackIdx int, sample *media.MediaSample) error {
	if trackIdx < 0 || trackIdx >= len(s.tracks) {
		return fmt.Errorf("segment: track index %d out of range", trackIdx)
	}
	t := s.tracks[trackIdx]
	f := t.cfg.Fragmenter

	if !s.segmentOpen {
		s.segmentOpen = true
		for _, ts := range s.tracks {
			ts.segmentDuration = 0
		}
	}

	if f.Finalized() {
		return errs.FragmentFinalizedErr
	}

	timescale := t.cfg.Stream.TimeScale
	fragDur := f.FragmentDuration()
	closeFragment := fragDur >= secondsToTicks(s.opts.FragmentDuration, timescale) &&
		(sample.IsKeyFrame || !s.opts.FragmentSapAligned)

	endOfSegment := false
	if closeFragment && t.segmentDuration >= secondsToTicks(s.opts.SegmentDuration, timescale) &&
		(sample.IsKeyFrame || !s.opts.SegmentSapAligned) {
		endOfSegment = true
	}

	if closeFragment {
		if err := s.finalizeFragment(trackIdx, endOfSegment); err != nil {
			return err
		}
	}

	if err := f.AddSample(sample); err != nil {
		return err
	}
	t.mediaDuration += uint64(sample.Duration)
	t.segmentDuration += uint64(sample.Duration)
	return nil
}

func secondsToTicks(seconds float64, timescale uint32) uint64 {
	return uint64(seconds * float64(timescale))
}

// finalizeFragment implements §4.F FinalizeFragment: it is a no-op until
// every track's fragmenter has a finalized fragment pending; once all do,
// it assembles one moof and a single mdat shared by all tracks (tracks do
// not get an mdat of their own), patches aux/data offsets, pulls
// the reference stream's SegmentReference, and hands the bytes to the sink.
func (s *Segmenter) finalizeFragment(justClosed int, endOfSegment bool) error {
	if s.pendingFrags == nil {
		s.pendingFrags = make([]*fragment.Fragment, len(s.tracks))
	}
	s.pendingFrags[justClosed] = s.tracks[justClosed].cfg.Fragmenter.Finalize()

	for i, t := range s.tracks {
		if s.pendingFrags[i] == nil && !t.cfg.Fragmenter.Finalized() {
			return nil
		}
	}

	fragmentBytes, ref, err := assembleFragment(s.sequence, s.tracks, s.pendingFrags, s.refTrack)
	if err != nil {
		return errs.New(errs.MuxerFailure, err)
	}
	s.sequence++

	if err := s.sink.OnFragment(fragmentBytes, ref); err != nil {
		return err
	}

	for i, t := range s.tracks {
		t.cfg.Fragmenter.Reset()
		s.pendingFrags[i] = nil
	}

	if endOfSegment {
		s.segmentOpen = false
		if err := s.sink.OnSegmentBoundary(); err != nil {
			return err
		}
	}
	return nil
}

// Finalize drains every track's fragmenter (flushing a partial fragment if
// one is open), rescales durations into the movie timescale, and delegates
// to the sink (§4.F Finalize / end-of-stream).
func (s *Segmenter) Finalize() error {
	anyOpen := false
	for _, t := range s.tracks {
		if t.cfg.Fragmenter.FragmentDuration() > 0 && !t.cfg.Fragmenter.Finalized() {
			anyOpen = true
		}
	}
	if anyOpen {
		frags := make([]*fragment.Fragment, len(s.tracks))
		for i, t := range s.tracks {
			if !t.cfg.Fragmenter.Finalized() {
				frags[i] = t.cfg.Fragmenter.Finalize()
			}
		}
		fragmentBytes, ref, err := assembleFragment(s.sequence, s.tracks, frags, s.refTrack)
		if err != nil {
			return errs.New(errs.MuxerFailure, err)
		}
		s.sequence++
		if err := s.sink.OnFragment(fragmentBytes, ref); err != nil {
			return err
		}
		for _, t := range s.tracks {
			t.cfg.Fragmenter.Reset()
		}
	}
	if fms, ok := s.sink.(finalMoovSink); ok {
		fms.SetFinalMoov(s.finalMoov())
	}
	return s.sink.Finalize()
}

// TrackDuration returns the accumulated media.header.duration for trackIdx,
// in that track's own time scale (§4.F Finalize step).
func (s *Segmenter) TrackDuration(trackIdx int) uint64 {
	return s.tracks[trackIdx].mediaDuration
}
