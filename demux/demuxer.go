package demux

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/tetsuo/dashpack/internal/errs"
	"github.com/tetsuo/dashpack/media"
	"github.com/tetsuo/dashpack/mp4parse"
)

// sniffSize is how many leading bytes DetermineContainer inspects before
// the Demuxer picks (or rejects) a container-specific parser (§4.K).
const sniffSize = 256 * 1024

// readChunkSize is how many bytes Run/Parse reads from the input at a
// time once the container has been identified and parsing is underway.
const readChunkSize = 256 * 1024

// StreamInfoListener is notified once per track when the container's
// init data (moov, or equivalent) has been fully parsed (§4.K).
type StreamInfoListener interface {
	OnStreamsReady(streams []*media.StreamInfo, ms []*MediaStream) error
}

// Demuxer owns one input file: it sniffs the container, drives an
// mp4parse.Parser (the only container this module implements end to end,
// per DetermineContainer's doc comment) or reports Unimplemented for
// MP2TS/WVM, and fans decoded samples out to one MediaStream per track
// (§4.K).
type Demuxer struct {
	r    io.Reader
	name string

	parser  *mp4parse.Parser
	streams map[uint32]*MediaStream
	order   []uint32

	onStreams  StreamInfoListener
	onNeedKey  func(keyID []byte) (*media.EncryptionKey, error)
	container  ContainerType
	sniffed    []byte
	sniffDone  bool
	eof        bool
	eofFlushed bool
}

// NewDemuxer constructs a Demuxer reading from r (typically an *os.File).
// name is used only for logging/error context.
func NewDemuxer(r io.Reader, name string) *Demuxer {
	return &Demuxer{r: r, name: name, streams: map[uint32]*MediaStream{}}
}

// SetStreamInfoListener installs the callback invoked once moov (or
// equivalent) has been parsed, handing back one MediaStream per track in
// the order the container lists its tracks, already wired together as peers for Start(ModePull)
// (§4.K).
func (d *Demuxer) SetStreamInfoListener(l StreamInfoListener) { d.onStreams = l }

// SetNeedKeyCallback installs the callback the underlying parser uses to
// resolve a track's decryption key when its moov/traf declares one.
func (d *Demuxer) SetNeedKeyCallback(f func(keyID []byte) (*media.EncryptionKey, error)) {
	d.onNeedKey = f
}

// Stream returns the MediaStream for trackID, or nil if unknown (it is
// only populated after OnStreamsReady has fired).
func (d *Demuxer) Stream(trackID uint32) *MediaStream { return d.streams[trackID] }

// Streams returns every MediaStream in the order the container lists its
// tracks.
func (d *Demuxer) Streams() []*MediaStream {
	out := make([]*MediaStream, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.streams[id])
	}
	return out
}

// VideoInfo returns the full VideoStreamInfo for trackID (Width/Height/
// NaluLengthSize included), or nil if trackID isn't a video track. Only
// meaningful for an MP4 input; other containers are Unimplemented.
func (d *Demuxer) VideoInfo(trackID uint32) *media.VideoStreamInfo {
	if d.parser == nil {
		return nil
	}
	return d.parser.VideoInfo(trackID)
}

// AudioInfo returns the full AudioStreamInfo for trackID, or nil if
// trackID isn't an audio track.
func (d *Demuxer) AudioInfo(trackID uint32) *media.AudioStreamInfo {
	if d.parser == nil {
		return nil
	}
	return d.parser.AudioInfo(trackID)
}

// Run drives the demuxer to completion, reading the input until EOF or a
// hard error. This is the push-mode driving loop (§4.K: "a worker thread
// per Demuxer... reads, parses, and pushes"); pull-mode callers instead
// call Parse directly from MediaStream.PullSample via the Puller
// interface.
func (d *Demuxer) Run() error {
	for {
		progressed, err := d.step()
		if err != nil {
			return err
		}
		if d.eof && !progressed {
			return d.flushEOS()
		}
	}
}

// Parse implements the Puller interface: it reads and parses exactly one
// chunk's worth of new input, enough to (hopefully) produce at least one
// sample on the calling stream. It returns errs.EndOfStreamErr once the
// input is exhausted and every stream has been flushed.
func (d *Demuxer) Parse() error {
	_, err := d.step()
	if err != nil {
		return err
	}
	if d.eof {
		return d.flushEOS()
	}
	return nil
}

// step reads and dispatches up to one readChunkSize block, returning
// whether the parser (or sniffing) made forward progress.
func (d *Demuxer) step() (bool, error) {
	if d.eof {
		return false, nil
	}
	if !d.sniffDone {
		if err := d.sniff(); err != nil {
			return false, err
		}
		if !d.sniffDone {
			return true, nil
		}
	}

	buf := make([]byte, readChunkSize)
	n, err := d.r.Read(buf)
	if n > 0 {
		if perr := d.feed(buf[:n]); perr != nil {
			return false, perr
		}
	}
	if err == io.EOF {
		d.eof = true
		return n > 0, nil
	}
	if err != nil {
		return false, errs.New(errs.FileFailure, fmt.Errorf("demux: %s: read: %w", d.name, err))
	}
	return n > 0, nil
}

// sniff accumulates up to sniffSize bytes, determines the container, and
// constructs the container-specific parser. Containers other than MP4
// fail with Unimplemented per DetermineContainer's contract.
func (d *Demuxer) sniff() error {
	for len(d.sniffed) < sniffSize {
		buf := make([]byte, sniffSize-len(d.sniffed))
		n, err := d.r.Read(buf)
		if n > 0 {
			d.sniffed = append(d.sniffed, buf[:n]...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return errs.New(errs.FileFailure, fmt.Errorf("demux: %s: sniff: %w", d.name, err))
		}
		if n == 0 {
			break
		}
	}

	d.container = DetermineContainer(d.sniffed)
	switch d.container {
	case ContainerMP4:
		d.parser = mp4parse.New(mp4parse.Callbacks{
			OnInit:    d.onInit,
			OnSample:  d.onSample,
			OnNeedKey: d.onNeedKey,
		})
	default:
		return errs.Newf(errs.Unimplemented, "demux: %s: container %s is not implemented", d.name, d.container)
	}

	d.sniffDone = true
	return d.feed(d.sniffed)
}

func (d *Demuxer) feed(buf []byte) error {
	if err := d.parser.Parse(buf); err != nil {
		if errs.Is(err, errs.EndOfStream) {
			return nil
		}
		return err
	}
	return nil
}

func (d *Demuxer) onInit(streams []*media.StreamInfo) error {
	d.order = make([]uint32, 0, len(streams))
	ms := make([]*MediaStream, 0, len(streams))
	for _, si := range streams {
		s := NewMediaStream(si.TrackID)
		d.streams[si.TrackID] = s
		d.order = append(d.order, si.TrackID)
		ms = append(ms, s)
	}
	for _, s := range ms {
		s.SetPeers(ms)
	}
	slog.Default().Debug("container init parsed", "component", "demux", "file", d.name, "container", d.container.String(), "tracks", len(streams))
	if d.onStreams != nil {
		return d.onStreams.OnStreamsReady(streams, ms)
	}
	return nil
}

func (d *Demuxer) onSample(trackID uint32, sample *media.MediaSample) error {
	s, ok := d.streams[trackID]
	if !ok {
		return errs.Newf(errs.ParserFailure, "demux: %s: sample for unknown track %d", d.name, trackID)
	}
	return s.PushSample(sample)
}

// flushEOS delivers the synthetic end-of-stream sample (an empty
// MediaSample) to every track once the input is exhausted, then reports
// errs.EndOfStreamErr so Puller-driven callers stop looping (§3, §4.K).
func (d *Demuxer) flushEOS() error {
	if !d.eofFlushed {
		d.eofFlushed = true
		for _, id := range d.order {
			if err := d.streams[id].PushSample(&media.MediaSample{}); err != nil {
				return err
			}
		}
	}
	return errs.EndOfStreamErr
}
