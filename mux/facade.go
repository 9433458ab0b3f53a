package mux

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/tetsuo/dashpack/demux"
	"github.com/tetsuo/dashpack/internal/errs"
	"github.com/tetsuo/dashpack/media"
	"github.com/tetsuo/dashpack/segment"
)

// Run drives every stream descriptor to completion: one worker per input
// file (§5 "one worker thread per Demuxer"), the first failure cancels
// the rest via errgroup's "first error wins" semantics (§4.L: "the first
// non-OK status wins and aborts the others").
func Run(ctx context.Context, groups []Group, opener segment.FileOpener, opts media.MuxerOptions, enc EncryptionOptions, listener Listener) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, group := range groups {
		group := group
		g.Go(func() error {
			return runGroup(gctx, group, opener, opts, enc, listener)
		})
	}
	return g.Wait()
}

// runGroup opens one input file, drives its Demuxer, and feeds every
// descriptor sharing that file into its own Muxer (§4.L).
func runGroup(ctx context.Context, group Group, opener segment.FileOpener, opts media.MuxerOptions, enc EncryptionOptions, listener Listener) error {
	f, err := os.Open(group.Input)
	if err != nil {
		return fmt.Errorf("mux: open %s: %w", group.Input, err)
	}
	defer f.Close()

	d := demux.NewDemuxer(f, group.Input)

	var muxers []*Muxer
	br := &streamBridge{
		group:    group,
		opener:   opener,
		opts:     opts,
		enc:      enc,
		listener: listener,
		demuxer:  d,
	}
	d.SetStreamInfoListener(br)

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := d.Run(); err != nil && !errs.Is(err, errs.EndOfStream) {
		return fmt.Errorf("mux: %s: %w", group.Input, err)
	}
	muxers = br.muxers

	for _, m := range muxers {
		if !m.eos {
			return fmt.Errorf("mux: %s: muxer for %s ended without reaching end of stream", group.Input, m.desc.Output)
		}
	}
	return nil
}

// streamBridge implements demux.StreamInfoListener, resolving each
// descriptor's selector against the container's track list and building
// one Muxer per descriptor (§4.L).
type streamBridge struct {
	group    Group
	opener   segment.FileOpener
	opts     media.MuxerOptions
	enc      EncryptionOptions
	listener Listener
	demuxer  *demux.Demuxer
	muxers   []*Muxer
}

func (b *streamBridge) OnStreamsReady(streams []*media.StreamInfo, ms []*demux.MediaStream) error {
	for _, desc := range b.group.Descriptors {
		si, ms, err := resolveSelector(streams, ms, desc.Selector)
		if err != nil {
			return fmt.Errorf("mux: %s: %w", desc.Input, err)
		}

		var video *media.VideoStreamInfo
		var audio *media.AudioStreamInfo
		if si.StreamType == media.StreamVideo {
			video = b.demuxer.VideoInfo(si.TrackID)
		} else {
			audio = b.demuxer.AudioInfo(si.TrackID)
		}

		m, err := NewMuxer(desc, ms, si, video, audio, b.opener, b.opts, b.enc, b.listener)
		if err != nil {
			return err
		}
		b.muxers = append(b.muxers, m)

		if err := ms.Connect(nil); err != nil {
			return err
		}
	}

	for _, m := range b.muxers {
		if err := m.stream.Start(demux.ModePull, b.demuxer); err != nil {
			return err
		}
	}

	slog.Default().Debug("muxers attached", "component", "mux", "input", b.group.Input, "count", len(b.muxers))
	return driveGroup(b.muxers)
}

// driveGroup round-robins pulling samples across every muxer's track
// until all have reached end of stream (§5: "arrival order is chosen by
// the segmenter's pull loop (Muxer::Run), which rotates streams after
// each FRAGMENT_FINALIZED").
func driveGroup(muxers []*Muxer) error {
	remaining := len(muxers)
	for remaining > 0 {
		progressedAny := false
		for _, m := range muxers {
			if m.eos {
				continue
			}
			done, err := m.driveOnce()
			if err != nil {
				return err
			}
			progressedAny = true
			if done {
				remaining--
			}
		}
		if !progressedAny {
			break
		}
	}
	return nil
}

func resolveSelector(streams []*media.StreamInfo, ms []*demux.MediaStream, sel Selector) (*media.StreamInfo, *demux.MediaStream, error) {
	switch sel.Kind {
	case SelectVideo:
		for i, si := range streams {
			if si.StreamType == media.StreamVideo {
				return si, ms[i], nil
			}
		}
		return nil, nil, fmt.Errorf("no video stream found")
	case SelectAudio:
		for i, si := range streams {
			if si.StreamType == media.StreamAudio {
				return si, ms[i], nil
			}
		}
		return nil, nil, fmt.Errorf("no audio stream found")
	default:
		if sel.Index < 0 || sel.Index >= len(streams) {
			return nil, nil, fmt.Errorf("stream index %d out of range (have %d streams)", sel.Index, len(streams))
		}
		return streams[sel.Index], ms[sel.Index], nil
	}
}

