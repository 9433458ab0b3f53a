// Package mp4parse implements the streaming MP4 media parser (spec §4.I):
// a byte-queue-fed state machine that decodes moov once, then alternates
// between dispatching top-level boxes and draining samples out of each
// moof+mdat pair, discarding queue bytes the parser can no longer need.
package mp4parse

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/tetsuo/dashpack/bitio"
	"github.com/tetsuo/dashpack/box"
	"github.com/tetsuo/dashpack/internal/errs"
	"github.com/tetsuo/dashpack/media"
)

// State is one of the parser's four states (§4.I).
type State int

const (
	WaitingForInit State = iota
	ParsingBoxes
	EmittingSamples
	Error
)

// Callbacks mirrors the init_cb/new_sample_cb/need_key_cb trio §4.I/§4.K
// drives a parser with.
type Callbacks struct {
	OnInit    func(streams []*media.StreamInfo) error
	OnSample  func(trackID uint32, sample *media.MediaSample) error
	OnNeedKey func(keyID []byte) (*media.EncryptionKey, error)
}

// trackRun is the per-track state live during one moof+mdat cycle.
type trackRun struct {
	meta    *trackMeta
	it      *TrackRunIterator
	pending *SampleDescriptor
	auxBlob []byte
}

// Parser drives the §4.I state machine over bytes handed to it via Parse.
type Parser struct {
	cbs   Callbacks
	state State
	err   error

	queue  byteQueue
	cursor int64 // absolute offset of the next unparsed box

	movieTimescale uint32
	movieDuration  uint64
	tracks         map[uint32]*trackMeta
	initFired      bool

	moofAbsoluteStart int64
	order             []uint32
	runs              map[uint32]*trackRun
	activeIdx         int

	mdatEnd int64
}

// New constructs a Parser. cbs.OnInit and cbs.OnSample are required;
// cbs.OnNeedKey may be nil when the caller never needs external key
// material (e.g. it only inspects DecryptConfig for pass-through remux).
func New(cbs Callbacks) *Parser {
	return &Parser{cbs: cbs, state: WaitingForInit, tracks: map[uint32]*trackMeta{}}
}

// State returns the parser's current state.
func (p *Parser) State() State { return p.state }

// VideoInfo returns the VideoStreamInfo for trackID, or nil if trackID is
// unknown or not a video track. Callers that need Width/Height/
// NaluLengthSize (the moov-builder does) use this instead of the bare
// StreamInfo handed to Callbacks.OnInit, since Go embedding doesn't let a
// *StreamInfo be cast back to its concrete *VideoStreamInfo/*AudioStreamInfo.
func (p *Parser) VideoInfo(trackID uint32) *media.VideoStreamInfo {
	if m, ok := p.tracks[trackID]; ok {
		return m.video
	}
	return nil
}

// AudioInfo returns the AudioStreamInfo for trackID, or nil if trackID is
// unknown or not an audio track.
func (p *Parser) AudioInfo(trackID uint32) *media.AudioStreamInfo {
	if m, ok := p.tracks[trackID]; ok {
		return m.audio
	}
	return nil
}

func (p *Parser) fail(err error) error {
	p.state = Error
	p.err = err
	return err
}

// Parse appends buf to the internal byte queue and drives the state
// machine as far forward as the buffered bytes allow, returning once
// progress stalls for lack of data (not an error) or a hard parse error
// occurs. Callers feed successive chunks (or the whole file at once) and
// call Parse again as more bytes become available.
func (p *Parser) Parse(buf []byte) error {
	if p.state == Error {
		return p.err
	}
	if len(buf) > 0 {
		p.queue.Append(buf)
	}
	for {
		var progressed bool
		var err error
		switch p.state {
		case EmittingSamples:
			progressed, err = p.emitSamples()
		default:
			progressed, err = p.parseNextBox()
		}
		if err != nil {
			return p.fail(err)
		}
		if !progressed {
			return nil
		}
	}
}

// parseNextBox dispatches the top-level box currently at p.cursor. It
// returns (false, nil) when not enough bytes are buffered yet to decide.
func (p *Parser) parseNextBox() (bool, error) {
	if !p.queue.Available(p.cursor, 8) {
		return false, nil
	}
	header, err := p.queue.Peek(p.cursor, 8)
	if err != nil {
		return false, err
	}
	size0 := binary.BigEndian.Uint32(header[0:4])
	var t box.FourCC
	copy(t[:], header[4:8])

	headerLen := int64(8)
	size := uint64(size0)
	switch size0 {
	case 0:
		return false, fmt.Errorf("mp4parse: %s: size-0 (run-to-EOF) boxes are not supported", t)
	case 1:
		if !p.queue.Available(p.cursor, 16) {
			return false, nil
		}
		ext, err := p.queue.Peek(p.cursor, 16)
		if err != nil {
			return false, err
		}
		size = binary.BigEndian.Uint64(ext[8:16])
		headerLen = 16
	}
	if size < uint64(headerLen) {
		return false, fmt.Errorf("mp4parse: %s: declared size %d smaller than header", t, size)
	}

	if t == box.TypeMdat {
		p.mdatEnd = p.cursor + int64(size)
		p.cursor += headerLen
		p.state = EmittingSamples
		return true, nil
	}

	if !p.queue.Available(p.cursor, int(size)) {
		return false, nil
	}
	body, err := p.queue.Peek(p.cursor, int(size))
	if err != nil {
		return false, err
	}
	boxStart := p.cursor
	decoded, err := box.ReadBox(bitio.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("mp4parse: %w", err)
	}

	// Advance the cursor (and discard consumed bytes) before dispatching
	// the box, not after: onMoov's init callback can drive the pipeline
	// reentrantly (a pull-mode Muxer asking the Demuxer for more bytes
	// from inside OnInit), and that reentrant parsing must see p.cursor
	// already past this box, not still pointing at its start.
	p.cursor += int64(size)
	p.queue.Discard(p.cursor)

	switch t {
	case box.TypeMoov:
		if err := p.onMoov(decoded); err != nil {
			return false, err
		}
	case box.TypeMoof:
		if err := p.onMoof(decoded, boxStart); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (p *Parser) onMoov(moov *box.Box) error {
	mvhd, _ := moov.FindChild(box.TypeMvhd).Payload.(*box.Mvhd)
	if mvhd == nil {
		return errs.Newf(errs.ParserFailure, "mp4parse: moov missing mvhd")
	}
	p.movieTimescale = mvhd.TimeScale
	p.movieDuration = mvhd.Duration

	metas, err := buildMovie(moov, p.movieTimescale, p.movieDuration)
	if err != nil {
		return errs.New(errs.ParserFailure, err)
	}
	streams := make([]*media.StreamInfo, 0, len(metas))
	for _, m := range metas {
		p.tracks[m.stream.TrackID] = m
		streams = append(streams, m.stream)
		if m.encrypted && p.cbs.OnNeedKey != nil {
			if _, err := p.cbs.OnNeedKey(m.keyID); err != nil {
				return err
			}
		}
	}
	if !p.initFired {
		p.state = ParsingBoxes
		if p.cbs.OnInit != nil {
			if err := p.cbs.OnInit(streams); err != nil {
				return err
			}
		}
		p.initFired = true
	}
	return nil
}

// onMoof builds one TrackRunIterator per traf, replacing any runs left
// over from the previous moof cycle.
func (p *Parser) onMoof(moof *box.Box, absoluteStart int64) error {
	if !p.initFired {
		return errs.Newf(errs.ParserFailure, "mp4parse: moof seen before moov")
	}
	p.moofAbsoluteStart = absoluteStart
	p.runs = map[uint32]*trackRun{}
	p.order = p.order[:0]

	for _, traf := range moof.FindChildren(box.TypeTraf) {
		tfhd, _ := traf.FindChild(box.TypeTfhd).Payload.(*box.Tfhd)
		if tfhd == nil {
			return errs.Newf(errs.ParserFailure, "mp4parse: traf missing tfhd")
		}
		meta, ok := p.tracks[tfhd.TrackID]
		if !ok {
			return errs.Newf(errs.ParserFailure, "mp4parse: traf references unknown track %d", tfhd.TrackID)
		}
		tfdt, _ := traf.FindChild(box.TypeTfdt).Payload.(*box.Tfdt)
		trun, _ := traf.FindChild(box.TypeTrun).Payload.(*box.Trun)
		if trun == nil {
			return errs.Newf(errs.ParserFailure, "mp4parse: traf missing trun")
		}
		saiz, _ := traf.FindChild(box.TypeSaiz).Payload.(*box.Saiz)
		saio, _ := traf.FindChild(box.TypeSaio).Payload.(*box.Saio)

		ivSize := meta.ivSize
		keyID := meta.keyID
		if sgpd, ok := traf.FindChild(box.TypeSgpd).Payload.(*box.Sgpd); ok && len(sgpd.Entries) > 0 {
			ivSize = sgpd.Entries[0].PerSampleIVSize
			keyID = append([]byte(nil), sgpd.Entries[0].KeyID[:]...)
		}

		it := NewTrackRunIterator(tfhd.TrackID, meta.trex, tfhd, tfdt, trun, saiz, saio, meta.editBias)
		p.runs[tfhd.TrackID] = &trackRun{meta: &trackMeta{
			stream: meta.stream, video: meta.video, audio: meta.audio,
			trex: meta.trex, editBias: meta.editBias,
			encrypted: meta.encrypted, keyID: keyID, ivSize: ivSize,
		}, it: it}
		p.order = append(p.order, tfhd.TrackID)
	}
	sort.Slice(p.order, func(i, j int) bool { return p.order[i] < p.order[j] })
	p.activeIdx = 0
	return nil
}

// emitSamples drains as many samples as are fully buffered from the
// current mdat, in track order, returning (false, nil) once it stalls
// waiting on more bytes. Once every track's iterator is exhausted it
// discards the remainder of mdat and returns to ParsingBoxes.
func (p *Parser) emitSamples() (bool, error) {
	for p.activeIdx < len(p.order) {
		run := p.runs[p.order[p.activeIdx]]
		if run.it.Done() {
			p.activeIdx++
			continue
		}

		if run.it.AuxInfoNeedsToBeCached() {
			off := p.moofAbsoluteStart + run.it.AuxBlobOffset()
			size := run.it.AuxBlobSize()
			if size > 0 {
				if !p.queue.Available(off, size) {
					return false, nil
				}
				blob, err := p.queue.Peek(off, size)
				if err != nil {
					return false, err
				}
				run.auxBlob = append([]byte(nil), blob...)
			}
			run.it.MarkAuxCached()
		}

		if run.pending == nil {
			desc, ok := run.it.Next()
			if !ok {
				p.activeIdx++
				continue
			}
			run.pending = &desc
		}

		desc := run.pending
		abs := p.moofAbsoluteStart + desc.Offset
		if !p.queue.Available(abs, int(desc.Size)) {
			return false, nil
		}
		data, err := p.queue.Peek(abs, int(desc.Size))
		if err != nil {
			return false, err
		}

		sample := &media.MediaSample{
			DTS:        desc.DTS,
			PTS:        desc.CTS,
			Duration:   desc.Duration,
			IsKeyFrame: desc.IsKeyFrame,
			Data:       append([]byte(nil), data...),
		}
		if run.meta.encrypted && desc.AuxOffset >= 0 {
			sample.DecryptConfig = decryptConfig(run, *desc)
		}
		if p.cbs.OnSample != nil {
			if err := p.cbs.OnSample(run.meta.stream.TrackID, sample); err != nil {
				return false, err
			}
		}

		run.pending = nil
		watermark := p.clearWatermark()
		p.queue.Discard(watermark)
	}

	p.cursor = p.mdatEnd
	p.queue.Discard(p.mdatEnd)
	p.state = ParsingBoxes
	return true, nil
}

// clearWatermark returns the minimum GetMaxClearOffset across every
// still-active run, translated to an absolute offset (§4.J).
func (p *Parser) clearWatermark() int64 {
	min := p.mdatEnd
	for _, id := range p.order {
		run := p.runs[id]
		if run.it.Done() {
			continue
		}
		abs := p.moofAbsoluteStart + run.it.GetMaxClearOffset()
		if abs < min {
			min = abs
		}
	}
	return min
}

// decryptConfig slices run.auxBlob to build the per-sample IV and
// subsample list for desc (§4.E/§4.J aux-info layout: IV followed by, for
// NAL-structured video, a subsample count and {clear,cipher} pairs).
func decryptConfig(run *trackRun, desc SampleDescriptor) *media.DecryptConfig {
	rel := desc.AuxOffset - run.it.AuxBlobOffset()
	if rel < 0 || int(rel)+int(desc.AuxSize) > len(run.auxBlob) {
		return &media.DecryptConfig{KeyID: run.meta.keyID}
	}
	blob := run.auxBlob[rel : rel+int64(desc.AuxSize)]
	ivSize := int(run.meta.ivSize)
	if ivSize == 0 || ivSize > len(blob) {
		ivSize = len(blob)
	}
	cfg := &media.DecryptConfig{
		KeyID: run.meta.keyID,
		IV:    append([]byte(nil), blob[:ivSize]...),
	}
	rest := blob[ivSize:]
	if len(rest) >= 2 {
		count := int(rest[0])<<8 | int(rest[1])
		rest = rest[2:]
		cfg.Subsamples = make([]media.Subsample, 0, count)
		for i := 0; i < count && len(rest) >= 6; i++ {
			clear := uint16(rest[0])<<8 | uint16(rest[1])
			cipher := uint32(rest[2])<<24 | uint32(rest[3])<<16 | uint32(rest[4])<<8 | uint32(rest[5])
			cfg.Subsamples = append(cfg.Subsamples, media.Subsample{Clear: clear, Cipher: cipher})
			rest = rest[6:]
		}
	}
	return cfg
}
