// Package fragment implements the per-track fragment accumulator (spec
// §4.E): it turns a stream of media.MediaSample into one traf + payload,
// applying the default-sample-* size optimization and, when configured,
// CENC per-sample encryption with AVC subsample mapping and key rotation.
package fragment

import (
	"bytes"
	"fmt"

	"github.com/tetsuo/dashpack/box"
	"github.com/tetsuo/dashpack/crypt"
	"github.com/tetsuo/dashpack/internal/errs"
	"github.com/tetsuo/dashpack/media"
)

// nonKeySampleFlag is the per-sample flags bit that marks a sample as not
// a sync sample (§4.C).
const nonKeySampleFlag = 0x10000

// SapType mirrors the sidx reference sap_type field; TypeUnknown (0) means
// no key frame was observed in the fragment.
const (
	SapTypeUnknown uint8 = 0
	SapTypeOne     uint8 = 1
)

// SegmentReference is the per-fragment reference the segmenter collects
// into sidx.references (§4.E FinalizeFragment / §4.G collapse).
type SegmentReference struct {
	ReferencedSize            uint32 // patched in by the segmenter once moof size is known
	SubsegmentDuration        uint32
	EarliestPresentationTime  int64
	StartsWithSAP             bool
	SapType                   uint8
	SapDeltaTime              int64
}

// KeySource supplies the encryption key active during a given crypto
// period, for the key-rotating variant (§4.E).
type KeySource interface {
	GetCryptoPeriodKey(period uint32) (*media.EncryptionKey, error)
}

// Defaults mirrors the movie-level trex fields a fragment can omit via
// tfhd.default_* (§4.C default-field optimization).
type Defaults struct {
	SampleDescriptionIndex uint32
	SampleDuration         uint32
	SampleSize             uint32
	SampleFlags            uint32
}

// Options configures one Fragmenter instance.
type Options struct {
	TrackID                uint32
	Defaults               Defaults
	NaluLengthSize         uint8 // 0 = no subsample mapping
	NormalizePTS           bool

	// Encryption, all optional. FixedKey and KeySource are mutually
	// exclusive; neither set means the fragmenter never encrypts.
	FixedKey             *media.EncryptionKey
	KeySource            KeySource
	CryptoPeriodDuration uint64 // track ticks; 0 disables key rotation
	ClearLeadDuration    uint64 // track ticks; samples before this DTS stay clear
}

// Fragment is the finalized output of one fragmenter cycle: the traf
// child boxes, the raw payload bytes, and the collapsed SegmentReference.
type Fragment struct {
	Tfhd    *box.Tfhd
	Tfdt    *box.Tfdt
	Trun    *box.Trun
	Saiz    *box.Saiz
	Saio    *box.Saio
	Sbgp    *box.Sbgp
	Sgpd    *box.Sgpd
	Pssh    []byte // raw full pssh box bytes, set only when key rotation just switched periods
	Payload []byte
	AuxBlob []byte
	Ref     SegmentReference

	// SampleDescriptionIndex is echoed here for the segmenter/stsd-entry
	// bookkeeping even though it also lives in Tfhd when overridden.
	SampleDescriptionIndex uint32
}

// Fragmenter accumulates samples for one track into successive Fragments.
type Fragmenter struct {
	opts Options

	initialized bool
	finalized   bool

	tfdtTime        uint64
	durations       []uint32
	sizes           []uint32
	flags           []uint32
	ctsOffsets      []int32
	payload         bytes.Buffer
	auxSizes        []uint8
	auxBlob         bytes.Buffer
	fragmentTicks   uint64
	earliestPTS     int64
	haveEarliest    bool
	firstSapPTS     int64
	sawKeyFrame     bool
	sampleCount     int

	ptsOffset    int64
	havePTSOffset bool

	// encryption state
	ctr           *crypt.CTR
	currentPeriod uint32
	havePeriod    bool
	activeKey     *media.EncryptionKey
	pendingPssh   []byte // set when key rotation just switched periods; consumed by Finalize
	rotatedThisFragment bool
	keyIDThisFragment   []byte
	ivSizeThisFragment  uint8
	sawEncryptedSample  bool
}

// New constructs a Fragmenter for one track.
func New(opts Options) *Fragmenter {
	return &Fragmenter{opts: opts}
}

// Finalized reports whether the current fragment has already been
// finalized and is awaiting a segmenter-driven reset via Reset().
func (f *Fragmenter) Finalized() bool { return f.finalized }

// FragmentDuration returns the accumulated duration (track ticks) of the
// currently open (or just-finalized) fragment.
func (f *Fragmenter) FragmentDuration() uint64 { return f.fragmentTicks }

// AddSample appends one sample to the currently open fragment (§4.E steps
// 1-5). Callers must check Finalized() first; adding to a finalized
// fragment is a programming error this package does not itself guard,
// since the segmenter (§4.F) owns that check and its FRAGMENT_FINALIZED
// signal.
func (f *Fragmenter) AddSample(s *media.MediaSample) error {
	if !f.initialized {
		f.tfdtTime = uint64(s.DTS)
		f.durations = f.durations[:0]
		f.sizes = f.sizes[:0]
		f.flags = f.flags[:0]
		f.ctsOffsets = f.ctsOffsets[:0]
		f.payload.Reset()
		f.auxSizes = f.auxSizes[:0]
		f.auxBlob.Reset()
		f.fragmentTicks = 0
		f.haveEarliest = false
		f.sawKeyFrame = false
		f.sampleCount = 0
		f.rotatedThisFragment = false
		f.sawEncryptedSample = false
		f.initialized = true
	}

	pts := s.PTS
	if f.opts.NormalizePTS {
		if !f.havePTSOffset {
			f.ptsOffset = pts
			f.havePTSOffset = true
		}
		pts -= f.ptsOffset
	}

	if err := f.maybeEncrypt(s); err != nil {
		return errs.New(errs.MuxerFailure, err)
	}

	f.payload.Write(s.Data)
	f.sizes = append(f.sizes, uint32(len(s.Data)))
	f.durations = append(f.durations, s.Duration)
	sampleFlags := uint32(0)
	if !s.IsKeyFrame {
		sampleFlags = nonKeySampleFlag
	}
	f.flags = append(f.flags, sampleFlags)
	f.ctsOffsets = append(f.ctsOffsets, int32(pts-s.DTS))

	f.fragmentTicks += uint64(s.Duration)
	if !f.haveEarliest || pts < f.earliestPTS {
		f.earliestPTS = pts
		f.haveEarliest = true
	}
	if s.IsKeyFrame && !f.sawKeyFrame {
		f.firstSapPTS = pts
		f.sawKeyFrame = true
	}
	f.sampleCount++
	return nil
}

// maybeEncrypt runs the §4.E encryption protocol for one sample, or does
// nothing if no key is configured or the sample falls within clear lead.
func (f *Fragmenter) maybeEncrypt(s *media.MediaSample) error {
	key := f.opts.FixedKey
	if f.opts.KeySource != nil && f.opts.CryptoPeriodDuration > 0 {
		period := uint32(uint64(s.DTS) / f.opts.CryptoPeriodDuration)
		if !f.havePeriod || period != f.currentPeriod {
			k, err := f.opts.KeySource.GetCryptoPeriodKey(period)
			if err != nil {
				return fmt.Errorf("fragment: crypto period %d: %w", period, err)
			}
			f.currentPeriod = period
			f.havePeriod = true
			f.activeKey = k
			f.pendingPssh = k.Pssh
			f.rotatedThisFragment = true
			f.keyIDThisFragment = k.KeyID
			ivSize := len(ivOrDefault(k.IV))
			f.ivSizeThisFragment = uint8(ivSize)
			ctr, err := crypt.NewCTR(k.Key, ivOrDefault(k.IV))
			if err != nil {
				return err
			}
			f.ctr = ctr
		}
		key = f.activeKey
	}

	if key == nil {
		return nil
	}
	if f.opts.ClearLeadDuration > 0 && uint64(s.DTS) < f.opts.ClearLeadDuration {
		return nil
	}
	f.sawEncryptedSample = true

	if f.ctr == nil {
		ctr, err := crypt.NewCTR(key.Key, ivOrDefault(key.IV))
		if err != nil {
			return err
		}
		f.ctr = ctr
	}

	iv := f.ctr.IV()
	var subsamples []media.Subsample

	if f.opts.NaluLengthSize == 0 {
		out := make([]byte, len(s.Data))
		f.ctr.Encrypt(out, s.Data)
		s.Data = out
		f.auxSizes = append(f.auxSizes, uint8(len(iv)))
	} else {
		out, subs, err := encryptAVCSubsamples(f.ctr, s.Data, int(f.opts.NaluLengthSize))
		if err != nil {
			return err
		}
		s.Data = out
		subsamples = subs
		f.auxSizes = append(f.auxSizes, uint8(len(iv)+2+6*len(subs)))
	}
	f.ctr.UpdateIv()

	f.auxBlob.Write(iv)
	if f.opts.NaluLengthSize > 0 {
		count := uint16(len(subsamples))
		f.auxBlob.WriteByte(byte(count >> 8))
		f.auxBlob.WriteByte(byte(count))
		for _, sub := range subsamples {
			f.auxBlob.WriteByte(byte(sub.Clear >> 8))
			f.auxBlob.WriteByte(byte(sub.Clear))
			f.auxBlob.WriteByte(byte(sub.Cipher >> 24))
			f.auxBlob.WriteByte(byte(sub.Cipher >> 16))
			f.auxBlob.WriteByte(byte(sub.Cipher >> 8))
			f.auxBlob.WriteByte(byte(sub.Cipher))
		}
	}
	s.DecryptConfig = &media.DecryptConfig{KeyID: key.KeyID, IV: iv, Subsamples: subsamples}
	return nil
}

func ivOrDefault(iv []byte) []byte {
	if len(iv) == 0 {
		return make([]byte, 8)
	}
	return iv
}

// encryptAVCSubsamples implements the AVC subsample protocol (§4.E): for
// each length-prefixed NAL unit, the length field and the one-byte NAL
// header stay clear, the remainder is encrypted, and a
// {clear, cipher} subsample entry is emitted per NAL.
func encryptAVCSubsamples(ctr *crypt.CTR, data []byte, lengthSize int) ([]byte, []media.Subsample, error) {
	out := make([]byte, len(data))
	copy(out, data)
	var subs []media.Subsample
	pos := 0
	for pos < len(data) {
		if pos+lengthSize > len(data) {
			return nil, nil, fmt.Errorf("fragment: truncated NAL length prefix at offset %d", pos)
		}
		var nalLen int
		for i := 0; i < lengthSize; i++ {
			nalLen = (nalLen << 8) | int(data[pos+i])
		}
		clearLen := lengthSize + 1
		bodyStart := pos + clearLen
		bodyEnd := pos + lengthSize + nalLen
		if bodyEnd > len(data) || nalLen < 1 {
			return nil, nil, fmt.Errorf("fragment: NAL length %d exceeds sample bounds at offset %d", nalLen, pos)
		}
		ctr.Encrypt(out[bodyStart:bodyEnd], data[bodyStart:bodyEnd])
		subs = append(subs, media.Subsample{
			Clear:  uint16(clearLen),
			Cipher: uint32(nalLen - 1),
		})
		pos = bodyEnd
	}
	return out, subs, nil
}
