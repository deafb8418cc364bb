package transforms

import (
	"math"

	"bratsprep/internal/models"
)

// Activations applies an output activation to model predictions.
type Activations struct {
	Sigmoid bool
}

// Apply runs the activation. Without one selected, v passes through.
func (a Activations) Apply(v *models.Volume) (*models.Volume, error) {
	if err := requireLoaded(v); err != nil {
		return nil, err
	}
	if !a.Sigmoid {
		return v, nil
	}
	out := v.Clone()
	for i, x := range out.Data {
		out.Data[i] = 1 / (1 + math.Exp(-x))
	}
	return out, nil
}

// Activationsd applies the activation to keys.
func Activationsd(sigmoid bool, keys ...string) MapTransform {
	return Mapped(Activations{Sigmoid: sigmoid}, keys...)
}

// AsDiscrete binarises values: x >= Threshold becomes 1, anything else 0.
type AsDiscrete struct {
	Threshold float64
}

// Apply thresholds v.
func (a AsDiscrete) Apply(v *models.Volume) (*models.Volume, error) {
	if err := requireLoaded(v); err != nil {
		return nil, err
	}
	out := v.Clone()
	for i, x := range out.Data {
		if x >= a.Threshold {
			out.Data[i] = 1
		} else {
			out.Data[i] = 0
		}
	}
	return out, nil
}

// AsDiscreted thresholds keys.
func AsDiscreted(threshold float64, keys ...string) MapTransform {
	return Mapped(AsDiscrete{Threshold: threshold}, keys...)
}
