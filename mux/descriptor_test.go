package mux_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetsuo/dashpack/mux"
)

func TestParseDescriptorBasic(t *testing.T) {
	d, err := mux.ParseDescriptor("input.mp4#video,out.mp4")
	require.NoError(t, err)
	assert.Equal(t, "input.mp4", d.Input)
	assert.Equal(t, mux.SelectVideo, d.Selector.Kind)
	assert.Equal(t, "out.mp4", d.Output)
	assert.Empty(t, d.Template)
}

func TestParseDescriptorWithTemplate(t *testing.T) {
	d, err := mux.ParseDescriptor("input.mp4#audio,out/init.mp4,seg$Number$.m4s")
	require.NoError(t, err)
	assert.Equal(t, mux.SelectAudio, d.Selector.Kind)
	assert.Equal(t, "seg$Number$.m4s", d.Template)
}

func TestParseDescriptorIndexSelector(t *testing.T) {
	d, err := mux.ParseDescriptor("input.mp4#2,out.mp4")
	require.NoError(t, err)
	assert.Equal(t, mux.SelectIndex, d.Selector.Kind)
	assert.Equal(t, 2, d.Selector.Index)
}

func TestParseDescriptorRejectsMissingHash(t *testing.T) {
	_, err := mux.ParseDescriptor("input.mp4,out.mp4")
	assert.Error(t, err)
}

func TestParseDescriptorRejectsMissingOutput(t *testing.T) {
	_, err := mux.ParseDescriptor("input.mp4#video")
	assert.Error(t, err)
}

func TestParseDescriptorRejectsBadSelector(t *testing.T) {
	_, err := mux.ParseDescriptor("input.mp4#bogus,out.mp4")
	assert.Error(t, err)
}

func TestParseDescriptorRejectsInvalidTemplate(t *testing.T) {
	_, err := mux.ParseDescriptor("input.mp4#video,out.mp4,seg$Bandwidth$.m4s")
	assert.Error(t, err, "template missing $Number$/$Time$ must be rejected")
}

func TestGroupDescriptorsGroupsByInput(t *testing.T) {
	descs := []mux.Descriptor{
		{Input: "b.mp4", Selector: mux.Selector{Kind: mux.SelectVideo}, Output: "bv.mp4"},
		{Input: "a.mp4", Selector: mux.Selector{Kind: mux.SelectVideo}, Output: "av.mp4"},
		{Input: "a.mp4", Selector: mux.Selector{Kind: mux.SelectAudio}, Output: "aa.mp4"},
	}
	groups := mux.GroupDescriptors(descs)
	require.Len(t, groups, 2)

	assert.Equal(t, "a.mp4", groups[0].Input)
	require.Len(t, groups[0].Descriptors, 2)
	assert.Equal(t, "av.mp4", groups[0].Descriptors[0].Output)
	assert.Equal(t, "aa.mp4", groups[0].Descriptors[1].Output)

	assert.Equal(t, "b.mp4", groups[1].Input)
}

func TestParseDescriptorsEndToEnd(t *testing.T) {
	groups, err := mux.ParseDescriptors([]string{
		"in.mp4#video,v.mp4",
		"in.mp4#audio,a.mp4",
	})
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Len(t, groups[0].Descriptors, 2)
}
