// Package visualization renders 2D views of preprocessed volumes and their
// BraTS labels, for checking a pipeline's output by eye.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"bratsprep/internal/models"
	"bratsprep/pkg/brats"
)

// LabelColors maps BraTS labels to overlay colors
var LabelColors = map[int]color.NRGBA{
	brats.Edema:        {R: 0, G: 200, B: 0, A: 255},
	brats.Enhancing:    {R: 255, G: 220, B: 0, A: 255},
	brats.NecroticCore: {R: 220, G: 0, B: 0, A: 255},
}

// Viewer extracts slices from a volume
type Viewer struct {
	// volume holds the data being viewed
	volume *models.Volume

	// scale is the output size multiplier applied when saving
	scale int
}

// NewViewer creates a viewer over v. Saved slices are enlarged scale times
// (values below 1 keep the voxel resolution).
func NewViewer(v *models.Volume, scale int) *Viewer {
	if scale < 1 {
		scale = 1
	}
	return &Viewer{volume: v, scale: scale}
}

// axisSize returns the number of slices along axis and the in-plane size
func (v *Viewer) axisSize(axis string) (n, w, h int, err error) {
	vol := v.volume
	switch axis {
	case "x", "X":
		return vol.Width, vol.Depth, vol.Height, nil
	case "y", "Y":
		return vol.Height, vol.Width, vol.Depth, nil
	case "z", "Z":
		return vol.Depth, vol.Width, vol.Height, nil
	}
	return 0, 0, 0, errors.Errorf("invalid axis: %s (must be x, y, or z)", axis)
}

// voxel maps an in-plane pixel of a slice at position pos back to the volume
func voxel(axis string, pos, px, py int) (x, y, z int) {
	switch axis {
	case "x", "X":
		return pos, py, px
	case "y", "Y":
		return px, pos, py
	}
	return px, py, pos
}

// ExtractSlice extracts a 2D slice of channel along the specified axis.
// Intensities are min-max scaled over the slice.
func (v *Viewer) ExtractSlice(channel int, axis string, position int) (*image.Gray16, error) {
	n, w, h, err := v.axisSize(axis)
	if err != nil {
		return nil, err
	}
	if channel < 0 || channel >= v.volume.Channels {
		return nil, errors.Errorf("channel %d out of range [0, %d)", channel, v.volume.Channels)
	}
	if position < 0 || position >= n {
		return nil, errors.Errorf("position %d out of range [0, %d) along %s", position, n, axis)
	}

	values := make([]float64, w*h)
	lo, hi := math.Inf(1), math.Inf(-1)
	for py := 0; py < h; py++ {
		for px := 0; px < w; px++ {
			x, y, z := voxel(axis, position, px, py)
			val := v.volume.At(channel, x, y, z)
			values[py*w+px] = val
			lo = math.Min(lo, val)
			hi = math.Max(hi, val)
		}
	}

	img := image.NewGray16(image.Rect(0, 0, w, h))
	span := hi - lo
	for i, val := range values {
		var g uint16
		if span > 0 {
			g = uint16(math.Round((val - lo) / span * 65535))
		}
		img.SetGray16(i%w, i/w, color.Gray16{Y: g})
	}
	return img, nil
}

// Overlay blends a label slice (integer BraTS labels, one per pixel of
// base) onto a grayscale slice with the given opacity in [0, 1].
func Overlay(base *image.Gray16, labels []int, opacity float64) (*image.NRGBA, error) {
	b := base.Bounds()
	if len(labels) != b.Dx()*b.Dy() {
		return nil, errors.Errorf("got %d labels for a %dx%d slice", len(labels), b.Dx(), b.Dy())
	}
	out := image.NewNRGBA(b)
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			g := float64(base.Gray16At(b.Min.X+x, b.Min.Y+y).Y >> 8)
			px := color.NRGBA{R: uint8(g), G: uint8(g), B: uint8(g), A: 255}
			if c, ok := LabelColors[labels[y*b.Dx()+x]]; ok {
				px.R = uint8(g*(1-opacity) + float64(c.R)*opacity)
				px.G = uint8(g*(1-opacity) + float64(c.G)*opacity)
				px.B = uint8(g*(1-opacity) + float64(c.B)*opacity)
			}
			out.SetNRGBA(b.Min.X+x, b.Min.Y+y, px)
		}
	}
	return out, nil
}

// LabelSlice reads the labels of a single-channel label volume on the same
// grid as the viewer, at the given axis and position.
func (v *Viewer) LabelSlice(labels *models.Volume, axis string, position int) ([]int, error) {
	if labels.Shape() != v.volume.Shape() {
		return nil, errors.Errorf("label shape %v differs from volume shape %v", labels.Shape(), v.volume.Shape())
	}
	n, w, h, err := v.axisSize(axis)
	if err != nil {
		return nil, err
	}
	if position < 0 || position >= n {
		return nil, errors.Errorf("position %d out of range [0, %d) along %s", position, n, axis)
	}
	out := make([]int, w*h)
	for py := 0; py < h; py++ {
		for px := 0; px < w; px++ {
			x, y, z := voxel(axis, position, px, py)
			out[py*w+px] = int(labels.At(0, x, y, z))
		}
	}
	return out, nil
}

// SaveSlice saves an image, choosing the format from the file extension
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	if v.scale > 1 {
		b := img.Bounds()
		img = imaging.Resize(img, b.Dx()*v.scale, b.Dy()*v.scale, imaging.NearestNeighbor)
	}
	if err := imaging.Save(img, filename); err != nil {
		return errors.Wrapf(err, "saving %s", filename)
	}
	return nil
}

// SaveSliceSequence extracts and saves every slice of channel along the
// specified axis. If labels is not nil the slices are saved with the label overlay.
func (v *Viewer) SaveSliceSequence(channel int, axis string, labels *models.Volume, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}
	n, _, _, err := v.axisSize(axis)
	if err != nil {
		return err
	}

	for pos := 0; pos < n; pos++ {
		gray, err := v.ExtractSlice(channel, axis, pos)
		if err != nil {
			return err
		}
		var img image.Image = gray
		if labels != nil {
			ls, err := v.LabelSlice(labels, axis, pos)
			if err != nil {
				return err
			}
			if img, err = Overlay(gray, ls, 0.5); err != nil {
				return err
			}
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.png", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}
