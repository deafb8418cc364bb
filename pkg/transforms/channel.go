package transforms

import (
	"github.com/pkg/errors"

	"bratsprep/internal/models"
)

// EnsureChannelFirst makes the channel axis explicit. A 3D volume becomes a
// single channel; the fourth axis of a 4D file becomes the channels. Data
// already sits channel-outermost, so only the header changes.
type EnsureChannelFirst struct{}

// Apply marks v channel-first.
func (EnsureChannelFirst) Apply(v *models.Volume) (*models.Volume, error) {
	if err := requireLoaded(v); err != nil {
		return nil, err
	}
	if v.ChannelFirst {
		return v, nil
	}
	out := shallow(v)
	out.ChannelFirst = true
	return out, nil
}

// EnsureChannelFirstd applies EnsureChannelFirst to keys.
func EnsureChannelFirstd(keys ...string) MapTransform {
	return Mapped(EnsureChannelFirst{}, keys...)
}

// EnsureType checks the volume is well formed before numeric transforms run:
// data length must match the shape, a missing affine becomes the identity.
type EnsureType struct{}

// Apply validates v.
func (EnsureType) Apply(v *models.Volume) (*models.Volume, error) {
	if err := requireLoaded(v); err != nil {
		return nil, err
	}
	if err := v.Validate(); err != nil {
		return nil, err
	}
	out := shallow(v)
	if out.Affine == ([16]float64{}) {
		out.Affine = models.IdentityAffine()
	}
	return out, nil
}

// EnsureTyped applies EnsureType to keys.
func EnsureTyped(keys ...string) MapTransform {
	return Mapped(EnsureType{}, keys...)
}

// SqueezeDim drops a singleton channel axis.
type SqueezeDim struct{}

// Apply removes the channel axis of a one-channel volume.
func (SqueezeDim) Apply(v *models.Volume) (*models.Volume, error) {
	if v.Channels != 1 {
		return nil, errors.Wrapf(models.ErrShape, "cannot squeeze %d channels", v.Channels)
	}
	out := shallow(v)
	out.ChannelFirst = false
	return out, nil
}

// SqueezeDimd applies SqueezeDim to keys.
func SqueezeDimd(keys ...string) MapTransform {
	return Mapped(SqueezeDim{}, keys...)
}
