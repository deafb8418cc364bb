package transforms

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"k8s.io/klog/v2"

	"bratsprep/internal/models"
)

// NormalizeIntensity standardises intensities to zero mean and unit variance.
// With Nonzero set, statistics come from the nonzero voxels only and zero
// voxels (background) are left at zero. With ChannelWise set, each channel
// is normalised on its own statistics.
type NormalizeIntensity struct {
	Nonzero     bool
	ChannelWise bool
}

// Apply normalises v.
func (n NormalizeIntensity) Apply(v *models.Volume) (*models.Volume, error) {
	if err := requireLoaded(v); err != nil {
		return nil, err
	}
	out := v.Clone()
	if n.ChannelWise {
		for c := 0; c < out.Channels; c++ {
			n.normalize(out.Channel(c), v.Source)
		}
	} else {
		n.normalize(out.Data, v.Source)
	}
	return out, nil
}

// normalize rewrites data in place.
func (n NormalizeIntensity) normalize(data []float64, source string) {
	values := data
	if n.Nonzero {
		values = make([]float64, 0, len(data))
		for _, x := range data {
			if x != 0 {
				values = append(values, x)
			}
		}
	}
	if len(values) == 0 {
		return
	}

	mean, std := stat.PopMeanStdDev(values, nil)
	if std == 0 {
		klog.V(1).Infof("constant intensity in %s, only centering", source)
		std = 1
	}
	for i, x := range data {
		if n.Nonzero && x == 0 {
			continue
		}
		data[i] = (x - mean) / std
	}
}

// NormalizeIntensityd normalises the volumes of keys.
func NormalizeIntensityd(nonzero, channelWise bool, keys ...string) MapTransform {
	return Mapped(NormalizeIntensity{Nonzero: nonzero, ChannelWise: channelWise}, keys...)
}

// ScaleIntensity multiplies every voxel by Factor.
type ScaleIntensity struct {
	Factor float64
}

// Apply scales v.
func (s ScaleIntensity) Apply(v *models.Volume) (*models.Volume, error) {
	if err := requireLoaded(v); err != nil {
		return nil, err
	}
	out := v.Clone()
	floats.Scale(s.Factor, out.Data)
	return out, nil
}

// ShiftIntensity adds Offset to every voxel.
type ShiftIntensity struct {
	Offset float64
}

// Apply shifts v.
func (s ShiftIntensity) Apply(v *models.Volume) (*models.Volume, error) {
	if err := requireLoaded(v); err != nil {
		return nil, err
	}
	out := v.Clone()
	floats.AddConst(s.Offset, out.Data)
	return out, nil
}

// RandScaleIntensity multiplies by 1+f, f drawn uniformly from
// [-Factors, Factors), with probability Prob.
type RandScaleIntensity struct {
	Factors float64
	Prob    float64
	RNG     *RNG
}

// Draw picks the scale factor.
func (r RandScaleIntensity) Draw(rng *RNG, _ *models.Volume) Transform {
	if rng.Float64() >= r.Prob {
		return Identity{}
	}
	return ScaleIntensity{Factor: 1 + rng.Uniform(-r.Factors, r.Factors)}
}

// Apply scales v by a fresh random factor.
func (r RandScaleIntensity) Apply(v *models.Volume) (*models.Volume, error) {
	return r.Draw(rngOrDefault(r.RNG), v).Apply(v)
}

// RandScaleIntensityd scales all keys by the same random factor.
func RandScaleIntensityd(factors, prob float64, rng *RNG, keys ...string) MapTransform {
	return RandMapped(RandScaleIntensity{Factors: factors, Prob: prob}, rng, keys...)
}

// RandShiftIntensity adds an offset drawn uniformly from [-Offsets, Offsets),
// with probability Prob.
type RandShiftIntensity struct {
	Offsets float64
	Prob    float64
	RNG     *RNG
}

// Draw picks the offset.
func (r RandShiftIntensity) Draw(rng *RNG, _ *models.Volume) Transform {
	if rng.Float64() >= r.Prob {
		return Identity{}
	}
	return ShiftIntensity{Offset: rng.Uniform(-r.Offsets, r.Offsets)}
}

// Apply shifts v by a fresh random offset.
func (r RandShiftIntensity) Apply(v *models.Volume) (*models.Volume, error) {
	return r.Draw(rngOrDefault(r.RNG), v).Apply(v)
}

// RandShiftIntensityd shifts all keys by the same random offset.
func RandShiftIntensityd(offsets, prob float64, rng *RNG, keys ...string) MapTransform {
	return RandMapped(RandShiftIntensity{Offsets: offsets, Prob: prob}, rng, keys...)
}
