// Package brats converts between BraTS integer label maps and the
// three-channel region encoding used by segmentation models.
//
// Labels: 0 background, 1 peritumoral edema, 2 GD-enhancing tumor,
// 3 necrotic and non-enhancing tumor core.
//
// Regions, in channel order: TC (tumor core, labels 2 and 3), WT (whole
// tumor, labels 1, 2 and 3) and ET (enhancing tumor, label 2).
package brats

import (
	"github.com/pkg/errors"

	"bratsprep/internal/models"
)

// Label values of a BraTS segmentation.
const (
	Background   = 0
	Edema        = 1
	Enhancing    = 2
	NecroticCore = 3
)

// Region is a channel of the multi-channel encoding.
type Region int

const (
	TC Region = iota
	WT
	ET
)

// NumRegions is the number of channels produced per label volume.
const NumRegions = 3

// Regions lists the channels in encoding order.
var Regions = []Region{TC, WT, ET}

func (r Region) String() string {
	switch r {
	case TC:
		return "TC"
	case WT:
		return "WT"
	case ET:
		return "ET"
	}
	return "Region(?)"
}

// channelThreshold is the value at or above which a region channel is set.
const channelThreshold = 0.5

// Encode converts a label volume into TC/WT/ET binary channels. Every input
// channel is treated as one label volume of a batch and becomes three output
// channels, so N input channels give 3N output channels.
func Encode(v *models.Volume) *models.Volume {
	out := models.NewLike(v, v.Channels*NumRegions)
	out.ChannelFirst = true
	n := v.Len()
	for b := 0; b < v.Channels; b++ {
		labels := v.Channel(b)
		tc := out.Channel(b*NumRegions + int(TC))
		wt := out.Channel(b*NumRegions + int(WT))
		et := out.Channel(b*NumRegions + int(ET))
		for i := 0; i < n; i++ {
			x := labels[i]
			if x == Enhancing || x == NecroticCore {
				tc[i] = 1
			}
			if x == Edema || x == Enhancing || x == NecroticCore {
				wt[i] = 1
			}
			if x == Enhancing {
				et[i] = 1
			}
		}
	}
	return out
}

// Decode converts TC/WT/ET channels back into a label volume. Channels must
// come in groups of three. Conflicting channels are resolved with the
// precedence ET > TC > WT > background.
func Decode(v *models.Volume) (*models.Volume, error) {
	if v.Channels <= 0 || v.Channels%NumRegions != 0 {
		return nil, errors.Wrapf(models.ErrShape,
			"region encoding needs a multiple of %d channels, got %d", NumRegions, v.Channels)
	}
	batch := v.Channels / NumRegions
	out := models.NewLike(v, batch)
	out.ChannelFirst = true
	n := v.Len()
	for b := 0; b < batch; b++ {
		tc := v.Channel(b*NumRegions + int(TC))
		wt := v.Channel(b*NumRegions + int(WT))
		et := v.Channel(b*NumRegions + int(ET))
		labels := out.Channel(b)
		for i := 0; i < n; i++ {
			switch {
			case et[i] >= channelThreshold:
				labels[i] = Enhancing
			case tc[i] >= channelThreshold:
				labels[i] = NecroticCore
			case wt[i] >= channelThreshold:
				labels[i] = Edema
			default:
				labels[i] = Background
			}
		}
	}
	return out, nil
}
