// Package segment implements the base/VOD/live segmenter state machines
// (spec §4.F/G/H) that own moov/moof/sidx and route samples to
// per-track fragmenters.
package segment

import (
	"fmt"
	"strconv"
	"strings"
)

// identifiers recognized by the DASH segment-template grammar (§6).
const (
	identNumber = "Number"
	identTime   = "Time"
	identBand   = "Bandwidth"
	identRepr   = "RepresentationID" // reserved, rejected
)

// ValidateTemplate checks a segment_template string against the grammar
// in §6: exactly one of $Number$/$Time$ must appear, $Bandwidth$ is
// optional, $RepresentationID$ is rejected, $$ escapes a literal $, and
// format specifiers are restricted to %0Nd.
func ValidateTemplate(tmpl string) error {
	var haveNumber, haveTime bool
	i := 0
	for i < len(tmpl) {
		if tmpl[i] != '$' {
			i++
			continue
		}
		if i+1 < len(tmpl) && tmpl[i+1] == '$' {
			i += 2
			continue
		}
		end := strings.IndexByte(tmpl[i+1:], '$')
		if end < 0 {
			return fmt.Errorf("segment: unterminated identifier in template %q", tmpl)
		}
		inner := tmpl[i+1 : i+1+end]
		i = i + 1 + end + 1

		ident := inner
		if idx := strings.IndexByte(inner, '%'); idx >= 0 {
			ident = inner[:idx]
			if err := validateFormatSpec(inner[idx:]); err != nil {
				return fmt.Errorf("segment: template %q: %w", tmpl, err)
			}
		}

		switch ident {
		case identNumber:
			haveNumber = true
		case identTime:
			haveTime = true
		case identBand:
			// optional, no uniqueness requirement
		case identRepr:
			return fmt.Errorf("segment: template %q: $RepresentationID$ is reserved and rejected", tmpl)
		default:
			return fmt.Errorf("segment: template %q: unrecognized identifier %q", tmpl, ident)
		}
	}
	if haveNumber == haveTime {
		return fmt.Errorf("segment: template %q must contain exactly one of $Number$ or $Time$", tmpl)
	}
	return nil
}

// validateFormatSpec checks a %0Nd-shaped specifier (N in [0,9]); %0d,
// %Nd without the leading zero, and non-decimal conversions are rejected.
func validateFormatSpec(spec string) error {
	if len(spec) < 4 || spec[0] != '%' || spec[1] != '0' || spec[len(spec)-1] != 'd' {
		return fmt.Errorf("invalid format specifier %q", spec)
	}
	widthStr := spec[2 : len(spec)-1]
	if len(widthStr) != 1 {
		return fmt.Errorf("invalid format specifier %q: width must be a single digit", spec)
	}
	n, err := strconv.Atoi(widthStr)
	if err != nil || n < 0 || n > 9 {
		return fmt.Errorf("invalid format specifier %q: width out of range", spec)
	}
	return nil
}

// ExpandTemplate substitutes $Number$/$Time$/$Bandwidth$ in tmpl. Callers
// must have validated tmpl with ValidateTemplate first.
func ExpandTemplate(tmpl string, number, time uint64, bandwidth uint64) string {
	var b strings.Builder
	i := 0
	for i < len(tmpl) {
		if tmpl[i] != '$' {
			b.WriteByte(tmpl[i])
			i++
			continue
		}
		if i+1 < len(tmpl) && tmpl[i+1] == '$' {
			b.WriteByte('$')
			i += 2
			continue
		}
		end := strings.IndexByte(tmpl[i+1:], '$')
		inner := tmpl[i+1 : i+1+end]
		i = i + 1 + end + 1

		ident := inner
		width := 0
		if idx := strings.IndexByte(inner, '%'); idx >= 0 {
			ident = inner[:idx]
			width, _ = strconv.Atoi(inner[idx+2 : len(inner)-1])
		}

		var v uint64
		switch ident {
		case identNumber:
			v = number
		case identTime:
			v = time
		case identBand:
			v = bandwidth
		}
		b.WriteString(formatWidth(v, width))
	}
	return b.String()
}

func formatWidth(v uint64, width int) string {
	s := strconv.FormatUint(v, 10)
	for len(s) < width {
		s = "0" + s
	}
	return s
}
