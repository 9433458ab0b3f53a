// Command mp4dump reads an MP4/fMP4 file and prints its box structure,
// using the box package's decoded tree directly rather than a
// second hand-rolled box walker.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/tetsuo/dashpack/bitio"
	"github.com/tetsuo/dashpack/box"
)

// Format specifies the output format.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

// BoxNode is one box in the printed tree.
type BoxNode struct {
	Type     string         `json:"type"`
	Size     int            `json:"size"`
	Info     map[string]any `json:"info,omitempty"`
	Children []BoxNode      `json:"children,omitempty"`
}

func main() {
	formatFlag := flag.String("format", "text", "output format: text (default), json")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [--format=text|json] <file.mp4>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	format := FormatText
	switch strings.ToLower(*formatFlag) {
	case "json":
		format = FormatJSON
	case "text":
		format = FormatText
	default:
		fmt.Fprintf(os.Stderr, "unknown format: %s\n", *formatFlag)
		os.Exit(1)
	}

	data, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading file: %v\n", err)
		os.Exit(1)
	}

	r := bitio.NewReader(data)
	var nodes []BoxNode
	for r.Len() > 0 {
		b, err := box.ReadTopLevel(r)
		if err != nil {
			fmt.Fprintf(os.Stderr, "parse error: %v\n", err)
			os.Exit(1)
		}
		nodes = append(nodes, buildNode(b))
	}

	printTree(nodes, format)
}

func buildNode(b *box.Box) BoxNode {
	node := BoxNode{Type: b.Type.String(), Size: b.ComputeSize()}
	if b.Payload != nil {
		if info := describePayload(b.Payload); len(info) > 0 {
			node.Info = info
		}
		if _, raw := b.Payload.(*box.Raw); raw && len(b.Children) == 0 {
			node.Info = map[string]any{"dataLength": b.Payload.ComputeSize()}
		}
	}
	for _, c := range b.Children {
		node.Children = append(node.Children, buildNode(c))
	}
	return node
}

// describePayload extracts a handful of human-relevant fields per box
// type; anything not called out here still prints with just type+size.
func describePayload(p box.Payload) map[string]any {
	info := map[string]any{}
	switch v := p.(type) {
	case *box.Ftyp:
		info["brand"] = v.MajorBrand.String()
		compat := make([]string, len(v.CompatibleBrands))
		for i, c := range v.CompatibleBrands {
			compat[i] = c.String()
		}
		info["compatible"] = compat
	case *box.Mvhd:
		info["timescale"] = v.TimeScale
		info["duration"] = v.Duration
		info["nextTrackId"] = v.NextTrackID
	case *box.Tkhd:
		info["trackId"] = v.TrackID
		info["width"] = v.Width >> 16
		info["height"] = v.Height >> 16
	case *box.Mdhd:
		info["timescale"] = v.TimeScale
		info["duration"] = v.Duration
	case *box.Hdlr:
		info["handlerType"] = v.HandlerType.String()
		info["name"] = v.Name
	case *box.Mfhd:
		info["sequence"] = v.SequenceNumber
	case *box.Tfhd:
		info["trackId"] = v.TrackID
	case *box.Tfdt:
		info["baseMediaDecodeTime"] = v.BaseMediaDecodeTime
	case *box.Trun:
		info["entries"] = len(v.Entries)
	case *box.Sidx:
		info["referenceId"] = v.ReferenceID
		info["references"] = len(v.References)
	}
	return info
}

func printTree(nodes []BoxNode, format Format) {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(nodes); err != nil {
			fmt.Fprintf(os.Stderr, "error encoding JSON: %v\n", err)
		}
	case FormatText:
		for _, n := range nodes {
			printNodeText(n, 0)
		}
	}
}

func printNodeText(n BoxNode, depth int) {
	indent := strings.Repeat("  ", depth)
	fmt.Printf("%s[%s] size=%d", indent, n.Type, n.Size)
	for k, v := range n.Info {
		fmt.Printf(" %s=%v", k, v)
	}
	fmt.Println()
	for _, c := range n.Children {
		printNodeText(c, depth+1)
	}
}
