package transforms

import (
	"bratsprep/internal/models"
	"bratsprep/pkg/brats"
)

// ConvertToMultiChannelBasedOnBratsClasses turns a label map into TC, WT and
// ET binary channels.
type ConvertToMultiChannelBasedOnBratsClasses struct{}

// Apply encodes v.
func (ConvertToMultiChannelBasedOnBratsClasses) Apply(v *models.Volume) (*models.Volume, error) {
	if err := requireLoaded(v); err != nil {
		return nil, err
	}
	return brats.Encode(v), nil
}

// ConvertToMultiChannelBasedOnBratsClassesd encodes the label maps of keys.
func ConvertToMultiChannelBasedOnBratsClassesd(keys ...string) MapTransform {
	return Mapped(ConvertToMultiChannelBasedOnBratsClasses{}, keys...)
}

// ConvertToBratsClassesBasedOnMultiChannel turns TC, WT and ET channels back
// into a label map.
type ConvertToBratsClassesBasedOnMultiChannel struct{}

// Apply decodes v.
func (ConvertToBratsClassesBasedOnMultiChannel) Apply(v *models.Volume) (*models.Volume, error) {
	if err := requireLoaded(v); err != nil {
		return nil, err
	}
	return brats.Decode(v)
}

// ConvertToBratsClassesBasedOnMultiChanneld decodes the predictions of keys.
func ConvertToBratsClassesBasedOnMultiChanneld(keys ...string) MapTransform {
	return Mapped(ConvertToBratsClassesBasedOnMultiChannel{}, keys...)
}
