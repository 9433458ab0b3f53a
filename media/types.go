// Package media holds the data model shared across the pipeline:
// StreamInfo, MediaSample, EncryptionKey, and MuxerOptions (spec §3).
// These types flow from the parser through the demuxer/muxer to the
// fragmenter and segmenter without any package owning all of them.
package media

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// StreamType distinguishes audio from video streams.
type StreamType int

const (
	StreamUnknown StreamType = iota
	StreamAudio
	StreamVideo
)

func (t StreamType) String() string {
	switch t {
	case StreamAudio:
		return "audio"
	case StreamVideo:
		return "video"
	default:
		return "unknown"
	}
}

// Codec enumerates the codecs this module understands.
type Codec int

const (
	CodecUnknown Codec = iota
	CodecH264
	CodecAAC
	CodecEAC3
)

// StreamInfo is the immutable-after-init description of one elementary
// stream, built by the parser and consumed by the fragmenter/segmenter.
type StreamInfo struct {
	StreamType   StreamType
	TrackID      uint32
	TimeScale    uint32
	Duration     uint64
	Codec        Codec
	CodecString  string // RFC 6381 form, e.g. "avc1.640028"
	Language     [3]byte
	ExtraData    []byte // AudioSpecificConfig or AVCDecoderConfigurationRecord
	IsEncrypted  bool
}

// SetExtraData updates ExtraData; called by the parser once extra data is
// discovered (e.g. inside an esds descriptor).
func (s *StreamInfo) SetExtraData(data []byte) { s.ExtraData = data }

// SetCodecString updates CodecString once it can be derived.
func (s *StreamInfo) SetCodecString(v string) { s.CodecString = v }

// AudioStreamInfo adds the fields specific to audio tracks.
type AudioStreamInfo struct {
	StreamInfo
	SampleBits        uint8
	NumChannels       uint8
	SamplingFrequency uint32
}

// SetSamplingFrequency is called by a WVM-style parser once the true rate
// is discovered inside an ADTS header, after stream creation.
func (a *AudioStreamInfo) SetSamplingFrequency(hz uint32) { a.SamplingFrequency = hz }

// VideoStreamInfo adds the fields specific to video tracks.
type VideoStreamInfo struct {
	StreamInfo
	Width           uint32
	Height          uint32
	NaluLengthSize  uint8 // 0, 1, 2, or 4
}

// Subsample describes one NAL unit's clear/cipher split within an
// encrypted sample (§4.C senc-equivalent aux info).
type Subsample struct {
	Clear  uint16
	Cipher uint32
}

// DecryptConfig travels with an encrypted MediaSample so a downstream
// decryptor (or a pass-through remux) knows how it was protected.
type DecryptConfig struct {
	KeyID      []byte
	IV         []byte
	Subsamples []Subsample
}

// MediaSample is one access unit of one track (§3). An empty Data slice
// denotes end-of-stream.
type MediaSample struct {
	DTS           int64
	PTS           int64
	Duration      uint32
	IsKeyFrame    bool
	Data          []byte
	SideData      []byte
	DecryptConfig *DecryptConfig
}

// IsEndOfStream reports whether this sample is the synthetic EOS marker.
func (s *MediaSample) IsEndOfStream() bool { return len(s.Data) == 0 && s.DecryptConfig == nil }

// WidevineSystemID is the 16-byte Widevine protection system id used to
// wrap fixed-key pssh data (§6).
var WidevineSystemID = [16]byte{
	0xed, 0xef, 0x8b, 0xa9, 0x79, 0xd6, 0x4a, 0xce,
	0xa3, 0xc8, 0x27, 0xdc, 0xd5, 0x1d, 0x21, 0xed,
}

// EncryptionKey is an immutable (key_id, key, iv, pssh) tuple (§3).
type EncryptionKey struct {
	KeyID []byte
	Key   []byte // 16 bytes
	IV    []byte // 0, 8, or 16 bytes
	Pssh  []byte // full pssh box bytes
}

// CreateFromHexStrings builds an EncryptionKey from the CLI's fixed-key
// flags (§6). When ivHex is empty a random 8-byte IV is generated, since
// the CLI's contract is "IV randomly chosen (8 bytes)" absent an override
// (E5). psshDataHex, if non-empty, is wrapped inside a full pssh box
// carrying the Widevine system id.
func CreateFromHexStrings(keyIDHex, keyHex, psshDataHex, ivHex string) (*EncryptionKey, error) {
	keyID, err := hex.DecodeString(keyIDHex)
	if err != nil {
		return nil, fmt.Errorf("media: invalid key_id hex: %w", err)
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("media: invalid key hex: %w", err)
	}
	if len(key) != 16 {
		return nil, fmt.Errorf("media: key must decode to 16 bytes, got %d", len(key))
	}

	var iv []byte
	if ivHex != "" {
		iv, err = hex.DecodeString(ivHex)
		if err != nil {
			return nil, fmt.Errorf("media: invalid iv hex: %w", err)
		}
	} else {
		iv = make([]byte, 8)
		if _, err := rand.Read(iv); err != nil {
			return nil, fmt.Errorf("media: generating random iv: %w", err)
		}
	}

	var pssh []byte
	if psshDataHex != "" {
		data, err := hex.DecodeString(psshDataHex)
		if err != nil {
			return nil, fmt.Errorf("media: invalid pssh hex: %w", err)
		}
		pssh = wrapPssh(data)
	}

	return &EncryptionKey{KeyID: keyID, Key: key, IV: iv, Pssh: pssh}, nil
}

// wrapPssh builds a full pssh box: size(4) + "pssh"(4) + version/flags(4)
// + system_id(16) + data_size(4) + data.
func wrapPssh(data []byte) []byte {
	size := 4 + 4 + 4 + 16 + 4 + len(data)
	out := make([]byte, 0, size)
	out = append(out,
		byte(size>>24), byte(size>>16), byte(size>>8), byte(size))
	out = append(out, 'p', 's', 's', 'h')
	out = append(out, 0, 0, 0, 0) // version 0, flags 0
	out = append(out, WidevineSystemID[:]...)
	dataLen := len(data)
	out = append(out, byte(dataLen>>24), byte(dataLen>>16), byte(dataLen>>8), byte(dataLen))
	out = append(out, data...)
	return out
}

// MuxerOptions configures the segmenter/fragmenter pipeline (§3).
type MuxerOptions struct {
	SingleSegment                  bool
	SegmentDuration                float64 // seconds
	FragmentDuration               float64 // seconds, <= SegmentDuration
	SegmentSapAligned              bool
	FragmentSapAligned             bool
	NormalizePresentationTimestamp bool
	NumSubsegmentsPerSidx          int // 0 = one sidx/segment, -1 = no sidx, N>0 packs N subsegments
	OutputFileName                 string
	SegmentTemplate                string
	TempDir                        string
}

// Validate enforces the options invariant from §3:
// fragment_sap_aligned ⇒ segment_sap_aligned.
func (o *MuxerOptions) Validate() error {
	if o.FragmentSapAligned && !o.SegmentSapAligned {
		return fmt.Errorf("media: fragment_sap_aligned requires segment_sap_aligned")
	}
	if o.FragmentDuration > o.SegmentDuration {
		return fmt.Errorf("media: fragment_duration must not exceed segment_duration")
	}
	return nil
}
