package transforms

import (
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"bratsprep/internal/models"
	"bratsprep/pkg/nifti"
)

// LoadImage reads the volume named by Source. Loaded volumes pass through.
type LoadImage struct{}

// Apply loads v.Source.
func (LoadImage) Apply(v *models.Volume) (*models.Volume, error) {
	if v.Loaded() {
		return v, nil
	}
	if v.Source == "" {
		return nil, errors.New("volume has neither data nor a source file")
	}
	return nifti.Read(v.Source)
}

// LoadImaged loads the volumes of keys.
func LoadImaged(keys ...string) MapTransform {
	return Mapped(LoadImage{}, keys...)
}

// SaveImage writes each volume to OutputDir as <source name>_<Postfix>.nii.gz
// and passes it through unchanged.
type SaveImage struct {
	OutputDir string
	Postfix   string
}

// Apply writes v.
func (s SaveImage) Apply(v *models.Volume) (*models.Volume, error) {
	if err := requireLoaded(v); err != nil {
		return nil, err
	}
	path := s.outputPath(v)
	if err := nifti.Write(path, v); err != nil {
		return nil, err
	}
	return v, nil
}

func (s SaveImage) outputPath(v *models.Volume) string {
	name := "volume"
	if v.Source != "" {
		name = filepath.Base(v.Source)
		name = strings.TrimSuffix(name, ".gz")
		name = strings.TrimSuffix(name, filepath.Ext(name))
	}
	if s.Postfix != "" {
		name += "_" + s.Postfix
	}
	return filepath.Join(s.OutputDir, name+".nii.gz")
}

// SaveImaged writes the volumes of keys.
func SaveImaged(outputDir, postfix string, keys ...string) MapTransform {
	return Mapped(SaveImage{OutputDir: outputDir, Postfix: postfix}, keys...)
}
