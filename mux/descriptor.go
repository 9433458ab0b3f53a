// Package mux implements the muxer façade and stream-descriptor grammar
// (spec §4.L): it groups `input#selector,output[,template]` tuples by
// shared input file, drives one Demuxer per group, and feeds each
// tuple's selected track into its own segment.Segmenter.
package mux

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/tetsuo/dashpack/segment"
)

// SelectorKind distinguishes the three stream-descriptor selector forms
// (§4.L: `selector ∈ {"audio","video", decimal_index}`).
type SelectorKind int

const (
	SelectAudio SelectorKind = iota
	SelectVideo
	SelectIndex
)

// Selector is a parsed stream-descriptor selector.
type Selector struct {
	Kind  SelectorKind
	Index int // valid only when Kind == SelectIndex
}

func (s Selector) String() string {
	switch s.Kind {
	case SelectAudio:
		return "audio"
	case SelectVideo:
		return "video"
	default:
		return strconv.Itoa(s.Index)
	}
}

// Descriptor is one parsed `input#selector,output[,template]` tuple.
type Descriptor struct {
	Input    string
	Selector Selector
	Output   string
	Template string // "" when absent
}

// ParseDescriptor parses one stream-descriptor string (§4.L, §6).
func ParseDescriptor(s string) (Descriptor, error) {
	hashIdx := strings.IndexByte(s, '#')
	if hashIdx < 0 {
		return Descriptor{}, fmt.Errorf("mux: stream descriptor %q missing '#selector'", s)
	}
	input := s[:hashIdx]
	if input == "" {
		return Descriptor{}, fmt.Errorf("mux: stream descriptor %q missing input file", s)
	}
	rest := s[hashIdx+1:]

	parts := strings.SplitN(rest, ",", 3)
	if len(parts) < 2 {
		return Descriptor{}, fmt.Errorf("mux: stream descriptor %q missing ',output'", s)
	}
	sel, err := parseSelector(parts[0])
	if err != nil {
		return Descriptor{}, fmt.Errorf("mux: stream descriptor %q: %w", s, err)
	}
	output := parts[1]
	if output == "" {
		return Descriptor{}, fmt.Errorf("mux: stream descriptor %q has empty output", s)
	}
	var tmpl string
	if len(parts) == 3 {
		tmpl = parts[2]
		if err := segment.ValidateTemplate(tmpl); err != nil {
			return Descriptor{}, fmt.Errorf("mux: stream descriptor %q: %w", s, err)
		}
	}
	return Descriptor{Input: input, Selector: sel, Output: output, Template: tmpl}, nil
}

func parseSelector(s string) (Selector, error) {
	switch s {
	case "audio":
		return Selector{Kind: SelectAudio}, nil
	case "video":
		return Selector{Kind: SelectVideo}, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return Selector{}, fmt.Errorf("invalid selector %q: must be \"audio\", \"video\", or a non-negative decimal index", s)
	}
	return Selector{Kind: SelectIndex, Index: n}, nil
}

// Group is a run of descriptors sharing one input file.
type Group struct {
	Input       string
	Descriptors []Descriptor
}

// GroupDescriptors sorts descs so tuples sharing an input_file form
// contiguous groups (§4.L) and returns them partitioned into Groups, one
// Demuxer's worth each. The sort is stable, so relative order within a
// group (and hence the order muxers attach to their selected streams) is
// preserved from the input.
func GroupDescriptors(descs []Descriptor) []Group {
	sorted := make([]Descriptor, len(descs))
	copy(sorted, descs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Input < sorted[j].Input })

	var groups []Group
	for _, d := range sorted {
		if len(groups) == 0 || groups[len(groups)-1].Input != d.Input {
			groups = append(groups, Group{Input: d.Input})
		}
		g := &groups[len(groups)-1]
		g.Descriptors = append(g.Descriptors, d)
	}
	return groups
}

// ParseDescriptors parses every element of args and groups the results.
func ParseDescriptors(args []string) ([]Group, error) {
	descs := make([]Descriptor, 0, len(args))
	for _, a := range args {
		d, err := ParseDescriptor(a)
		if err != nil {
			return nil, err
		}
		descs = append(descs, d)
	}
	return GroupDescriptors(descs), nil
}
