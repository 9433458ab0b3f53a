package segment_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tetsuo/dashpack/segment"
)

func TestValidateTemplateAcceptsNumber(t *testing.T) {
	assert.NoError(t, segment.ValidateTemplate("seg$Number$.m4s"))
}

func TestValidateTemplateAcceptsTimeWithFormat(t *testing.T) {
	assert.NoError(t, segment.ValidateTemplate("seg$Time%05d$.m4s"))
}

func TestValidateTemplateRejectsNeitherNumberNorTime(t *testing.T) {
	assert.Error(t, segment.ValidateTemplate("seg$Bandwidth$.m4s"))
}

func TestValidateTemplateRejectsBoth(t *testing.T) {
	assert.Error(t, segment.ValidateTemplate("seg$Number$_$Time$.m4s"))
}

func TestValidateTemplateRejectsRepresentationID(t *testing.T) {
	assert.Error(t, segment.ValidateTemplate("seg$RepresentationID$$Number$.m4s"))
}

func TestValidateTemplateDollarEscape(t *testing.T) {
	assert.NoError(t, segment.ValidateTemplate("$$seg$Number$.m4s"))
}

func TestValidateTemplateRejectsBadFormatSpecs(t *testing.T) {
	cases := []string{
		"seg$Number%0d$.m4s",  // missing width digit
		"seg$Number%5d$.m4s",  // missing leading zero
		"seg$Number%0Nd$.m4s", // non-numeric width
		"seg$Number%0x$.m4s",  // wrong conversion
	}
	for _, tmpl := range cases {
		assert.Error(t, segment.ValidateTemplate(tmpl), "template %q should be rejected", tmpl)
	}
}

func TestValidateTemplateRejectsUnrecognizedIdentifier(t *testing.T) {
	assert.Error(t, segment.ValidateTemplate("seg$Foo$$Number$.m4s"))
}

func TestExpandTemplateNumberAndFormat(t *testing.T) {
	got := segment.ExpandTemplate("seg$Number%03d$.m4s", 7, 0, 0)
	assert.Equal(t, "seg007.m4s", got)
}

func TestExpandTemplateTimeAndBandwidth(t *testing.T) {
	got := segment.ExpandTemplate("v-$Bandwidth$-$Time$.m4s", 0, 9000, 500000)
	assert.Equal(t, "v-500000-9000.m4s", got)
}

func TestExpandTemplateDollarEscape(t *testing.T) {
	got := segment.ExpandTemplate("$$literal$$-$Number$.m4s", 1, 0, 0)
	assert.Equal(t, "$literal$-1.m4s", got)
}
