package mux

import "github.com/tetsuo/dashpack/demux"

// MediaInfo is the plain Go value the muxer hands to Listener callbacks
// (§6: "the muxer hands a MediaInfo... to the manifest writer"). It is a
// struct, not a wire-format message, since the manifest writer is an
// external collaborator that only needs the fields, not a serialization.
type MediaInfo struct {
	ContainerType demux.ContainerType
	CodecString   string
	ExtraData     []byte
	InitRange     [2]uint64 // [start, end], inclusive; zero value means "whole file"
	IndexRange    [2]uint64
	Duration      uint64 // in the track's own time scale
	Bandwidth     uint32
	StreamType    string // "audio" or "video"
}

// Listener receives the muxer's start/new-segment/end events (§4.L, §6
// "pluggable listener collaborator"). A nil Listener is valid; callers
// that don't need notifications simply never install one.
type Listener interface {
	OnMediaStart(info MediaInfo) error
	OnNewSegment(info MediaInfo) error
	OnMediaEnd(info MediaInfo) error
}
