package mux

import (
	"fmt"

	"github.com/tetsuo/dashpack/demux"
	"github.com/tetsuo/dashpack/fragment"
	"github.com/tetsuo/dashpack/internal/errs"
	"github.com/tetsuo/dashpack/media"
	"github.com/tetsuo/dashpack/segment"
)

// EncryptionOptions carries the subset of the CLI's encryption flags a
// Muxer needs to wire a fragment.Fragmenter (§6: --clear_lead,
// --crypto_period_duration, --enable_fixed_key_encryption + --key_id/
// --key/--pssh).
type EncryptionOptions struct {
	FixedKey             *media.EncryptionKey
	KeySource            fragment.KeySource
	CryptoPeriodDuration float64 // seconds; 0 disables key rotation
	ClearLeadDuration    float64 // seconds
}

// Muxer is one stream descriptor's output pipeline (§4.L: "each Muxer
// gets exactly the selected stream"): a Fragmenter + Segmenter wired to
// exactly one track, driven by pulling samples from its MediaStream.
type Muxer struct {
	desc      Descriptor
	stream    *demux.MediaStream
	streamInfo *media.StreamInfo
	seg       *segment.Segmenter
	vodSink   *segment.VODSink // non-nil only in single-segment mode
	listener  Listener
	bandwidth uint32

	eos  bool
	info MediaInfo
}

// NewMuxer builds the Fragmenter/Segmenter pipeline for one descriptor,
// once its selected track's StreamInfo is known, and writes the init
// segment immediately (segment.New's contract).
func NewMuxer(
	desc Descriptor,
	stream *demux.MediaStream,
	si *media.StreamInfo,
	video *media.VideoStreamInfo,
	audio *media.AudioStreamInfo,
	opener segment.FileOpener,
	opts media.MuxerOptions,
	enc EncryptionOptions,
	listener Listener,
) (*Muxer, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("mux: %w", err)
	}

	var naluLengthSize uint8
	if video != nil {
		naluLengthSize = video.NaluLengthSize
	}

	fopts := fragment.Options{
		TrackID:        si.TrackID,
		NaluLengthSize: naluLengthSize,
		NormalizePTS:   opts.NormalizePresentationTimestamp,
	}
	var encLayout *segment.EncryptionLayout
	if enc.FixedKey != nil || enc.KeySource != nil {
		fopts.FixedKey = enc.FixedKey
		fopts.KeySource = enc.KeySource
		fopts.CryptoPeriodDuration = uint64(enc.CryptoPeriodDuration * float64(si.TimeScale))
		fopts.ClearLeadDuration = uint64(enc.ClearLeadDuration * float64(si.TimeScale))

		ivSize := uint8(8)
		var kid []byte
		switch {
		case enc.FixedKey != nil:
			kid = enc.FixedKey.KeyID
			ivSize = uint8(len(ivOrDefault(enc.FixedKey.IV)))
		case enc.KeySource != nil:
			if k, err := enc.KeySource.GetCryptoPeriodKey(0); err == nil && k != nil {
				kid = k.KeyID
				ivSize = uint8(len(ivOrDefault(k.IV)))
			}
		}
		encLayout = &segment.EncryptionLayout{KeyID: kid, IVSize: ivSize, HasClearLead: enc.ClearLeadDuration > 0}
	}

	frag := fragment.New(fopts)
	track := segment.TrackConfig{
		Stream:     si,
		Video:      video,
		Audio:      audio,
		Fragmenter: frag,
		Encrypted:  encLayout,
	}
	refTrack := segment.NewTrackConfigs([]segment.TrackConfig{track})

	var psshBoxes [][]byte
	if enc.FixedKey != nil && len(enc.FixedKey.Pssh) > 0 {
		psshBoxes = append(psshBoxes, enc.FixedKey.Pssh)
	}

	m := &Muxer{desc: desc, stream: stream, streamInfo: si, listener: listener}
	m.bandwidth = estimateBandwidth(si)

	var innerSink segment.Sink
	if opts.SingleSegment {
		vod := segment.NewVODSink(opener, opts.TempDir, desc.Output, refTrackReferenceID(si), si.TimeScale)
		m.vodSink = vod
		innerSink = vod
	} else {
		innerSink = segment.NewLiveSink(opener, desc.Output, desc.Template, refTrackReferenceID(si), si.TimeScale, m.bandwidth, opts.NumSubsegmentsPerSidx)
	}

	wrapped := newListenerSink(innerSink, listener, m.currentMediaInfo)

	seg, err := segment.New(opts, si.TimeScale, []segment.TrackConfig{track}, refTrack, psshBoxes, wrapped)
	if err != nil {
		return nil, fmt.Errorf("mux: %w", err)
	}
	m.seg = seg

	if listener != nil {
		if err := listener.OnMediaStart(m.currentMediaInfo()); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func refTrackReferenceID(si *media.StreamInfo) uint32 { return si.TrackID }

func ivOrDefault(iv []byte) []byte {
	if len(iv) == 0 {
		return make([]byte, 8)
	}
	return iv
}

func estimateBandwidth(si *media.StreamInfo) uint32 {
	if si.Duration == 0 || si.TimeScale == 0 {
		return 0
	}
	return 0 // unknowable without a byte-size estimate pass; left for the CLI/manifest writer to override.
}

// currentMediaInfo assembles the MediaInfo snapshot handed to Listener
// callbacks and to the caller once Finalize completes.
func (m *Muxer) currentMediaInfo() MediaInfo {
	info := MediaInfo{
		ContainerType: demux.ContainerMP4,
		CodecString:   m.streamInfo.CodecString,
		ExtraData:     m.streamInfo.ExtraData,
		Duration:      m.seg.TrackDuration(0),
		Bandwidth:     m.bandwidth,
		StreamType:    m.streamInfo.StreamType.String(),
	}
	if m.vodSink != nil {
		info.InitRange[0], info.InitRange[1] = m.vodSink.GetInitRange()
		info.IndexRange[0], info.IndexRange[1] = m.vodSink.GetIndexRange()
	}
	return info
}

// driveOnce pulls one sample from the muxer's track and feeds it to the
// Segmenter, per §5's "segmenter's pull loop (Muxer::Run)". It reports
// done=true once the track's MediaStream has reported END_OF_STREAM
// (Finalize has already been called in that case).
func (m *Muxer) driveOnce() (done bool, err error) {
	if m.eos {
		return true, nil
	}
	sample, perr := m.stream.PullSample()
	if perr != nil {
		if errs.Is(perr, errs.EndOfStream) {
			m.eos = true
			if ferr := m.seg.Finalize(); ferr != nil {
				return true, ferr
			}
			if m.listener != nil {
				if lerr := m.listener.OnMediaEnd(m.currentMediaInfo()); lerr != nil {
					return true, lerr
				}
			}
			return true, nil
		}
		return true, perr
	}
	if sample.IsEndOfStream() {
		m.eos = true
		if ferr := m.seg.Finalize(); ferr != nil {
			return true, ferr
		}
		if m.listener != nil {
			if lerr := m.listener.OnMediaEnd(m.currentMediaInfo()); lerr != nil {
				return true, lerr
			}
		}
		return true, nil
	}

	// A Muxer always wraps exactly one track, so the Segmenter beneath it
	// never has peer tracks to wait on: finalizeFragment always resets the
	// lone fragmenter in the same call that closes it, and FragmentFinalized
	// (the "other tracks haven't caught up yet" signal) cannot occur here.
	if aerr := m.seg.AddSample(0, sample); aerr != nil && !errs.Is(aerr, errs.FragmentFinalized) {
		return false, aerr
	}
	return false, nil
}
