package fragment

import "github.com/tetsuo/dashpack/box"

// Finalize applies the default-field optimization, builds the traf child
// boxes, and returns the Fragment along with its SegmentReference (§4.E
// FinalizeFragment). The Fragmenter is left ready for the next cycle once
// the caller invokes Reset.
func (f *Fragmenter) Finalize() *Fragment {
	tfhd := &box.Tfhd{
		TrackID: f.opts.TrackID,
		Flags:   box.TfhdDefaultBaseIsMoof,
	}
	trun := &box.Trun{
		Flags: box.TrunDataOffsetPresent,
	}

	applyDefaultOptimization(tfhd, trun, f.durations, f.sizes, f.flags, f.opts.Defaults)

	// While a clear-lead window is active, samples before it carry the
	// clear-duplicate stsd entry (index 2); once encryption has kicked in
	// for this fragment, reference the protected entry (index 1) instead
	// (§4.E, E5: "referenced by the first fragment's
	// tfhd.sample_description_index=2 ... then 1 thereafter").
	if f.opts.FixedKey != nil || f.opts.KeySource != nil {
		tfhd.Flags |= box.TfhdSampleDescriptionIndexPresent
		if f.sawEncryptedSample {
			tfhd.SampleDescriptionIndex = 1
		} else {
			tfhd.SampleDescriptionIndex = 2
		}
	}

	trun.Entries = make([]box.TrunEntry, len(f.sizes))
	anyCTS := false
	for _, c := range f.ctsOffsets {
		if c != 0 {
			anyCTS = true
			break
		}
	}
	if anyCTS {
		trun.Flags |= box.TrunSampleCompositionTimeOffsetsPresent
	}
	for i := range trun.Entries {
		e := &trun.Entries[i]
		if trun.Flags&box.TrunSampleDurationPresent != 0 {
			e.SampleDuration = f.durations[i]
		}
		if trun.Flags&box.TrunSampleSizePresent != 0 {
			e.SampleSize = f.sizes[i]
		}
		if trun.Flags&box.TrunSampleFlagsPresent != 0 {
			e.SampleFlags = f.flags[i]
		}
		if anyCTS {
			e.SampleCompositionTimeOffset = f.ctsOffsets[i]
		}
	}

	frag := &Fragment{
		Tfhd: tfhd,
		Tfdt: &box.Tfdt{Version: 1, BaseMediaDecodeTime: f.tfdtTime},
		Trun: trun,
		Ref:  f.buildReference(),
	}

	if f.auxBlob.Len() > 0 {
		frag.Saiz = &box.Saiz{
			DefaultSampleInfoSize: uniformSize(f.auxSizes),
			SampleCount:           uint32(f.sampleCount),
		}
		if frag.Saiz.DefaultSampleInfoSize == 0 {
			frag.Saiz.Sizes = append([]uint8(nil), f.auxSizes...)
		}
		frag.Saio = &box.Saio{Offsets: []uint64{0}} // placeholder; segmenter patches it
		frag.AuxBlob = append([]byte(nil), f.auxBlob.Bytes()...)
	}

	if f.rotatedThisFragment {
		frag.Sgpd = &box.Sgpd{
			Version:      1,
			GroupingType: box.FourCC{'s', 'e', 'i', 'g'},
			Entries: []box.SgpdEntry{{
				IsProtected:     1,
				PerSampleIVSize: f.ivSizeThisFragment,
			}},
		}
		copy(frag.Sgpd.Entries[0].KeyID[:], f.keyIDThisFragment)
		frag.Sbgp = &box.Sbgp{
			GroupingType: box.FourCC{'s', 'e', 'i', 'g'},
			Entries: []box.SbgpEntry{{
				SampleCount:           uint32(f.sampleCount),
				GroupDescriptionIndex: 0x10001,
			}},
		}
		if len(f.pendingPssh) > 0 {
			frag.Pssh = append([]byte(nil), f.pendingPssh...)
		}
	}

	frag.Payload = append([]byte(nil), f.payload.Bytes()...)

	f.finalized = true
	return frag
}

// Reset clears the finalized flag and prepares the fragmenter for the
// next AddSample to start a new cycle.
func (f *Fragmenter) Reset() {
	f.initialized = false
	f.finalized = false
	f.pendingPssh = nil
}

func (f *Fragmenter) buildReference() SegmentReference {
	sapType := SapTypeUnknown
	if f.sawKeyFrame {
		sapType = SapTypeOne
	}
	startsWithSAP := false
	if len(f.flags) > 0 {
		startsWithSAP = f.flags[0]&nonKeySampleFlag == 0
	} else {
		startsWithSAP = f.opts.Defaults.SampleFlags&nonKeySampleFlag == 0
	}
	return SegmentReference{
		SubsegmentDuration:       uint32(f.fragmentTicks),
		EarliestPresentationTime: f.earliestPTS,
		StartsWithSAP:            startsWithSAP,
		SapType:                  sapType,
		SapDeltaTime:             f.firstSapPTS - f.earliestPTS,
	}
}

// uniformSize returns the shared value if every entry in sizes is equal,
// else 0 (meaning "no uniform default", per-sample sizes required).
func uniformSize(sizes []uint8) uint8 {
	if len(sizes) == 0 {
		return 0
	}
	first := sizes[0]
	for _, s := range sizes[1:] {
		if s != first {
			return 0
		}
	}
	return first
}

// applyDefaultOptimization implements §4.C: if every per-sample value in
// an array equals the first, the array is dropped and tfhd carries the
// default plus a *_present bit; otherwise trun carries the array and its
// own *_present bit is set.
func applyDefaultOptimization(tfhd *box.Tfhd, trun *box.Trun, durations, sizes, flags []uint32, d Defaults) {
	if d.SampleDescriptionIndex != 0 {
		tfhd.Flags |= box.TfhdSampleDescriptionIndexPresent
		tfhd.SampleDescriptionIndex = d.SampleDescriptionIndex
	}

	if uniform, v := allEqual(durations); uniform {
		tfhd.Flags |= box.TfhdDefaultSampleDurationPresent
		tfhd.DefaultSampleDuration = v
	} else {
		trun.Flags |= box.TrunSampleDurationPresent
	}

	if uniform, v := allEqual(sizes); uniform {
		tfhd.Flags |= box.TfhdDefaultSampleSizePresent
		tfhd.DefaultSampleSize = v
	} else {
		trun.Flags |= box.TrunSampleSizePresent
	}

	if uniform, v := allEqual(flags); uniform {
		tfhd.Flags |= box.TfhdDefaultSampleFlagsPresent
		tfhd.DefaultSampleFlags = v
	} else {
		trun.Flags |= box.TrunSampleFlagsPresent
	}
}

func allEqual(v []uint32) (bool, uint32) {
	if len(v) == 0 {
		return true, 0
	}
	first := v[0]
	for _, x := range v[1:] {
		if x != first {
			return false, 0
		}
	}
	return true, first
}
