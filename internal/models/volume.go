package models

import (
	"math"

	"github.com/pkg/errors"
)

// ErrShape is returned when a volume's dimensions and data do not agree.
var ErrShape = errors.New("invalid volume shape")

// Volume represents a channel-first 3D volume (or a stack of them)
type Volume struct {
	// Data is the volume data as a 1D array in row-major order,
	// laid out as [channel][z][y][x] so that x varies fastest
	Data []float64

	// Channels is the number of 3D volumes stacked in Data
	Channels int

	// Width is the size of the volume along x, in voxels
	Width int

	// Height is the size of the volume along y, in voxels
	Height int

	// Depth is the size of the volume along z, in voxels
	Depth int

	// Affine maps voxel coordinates (x, y, z, 1) to world coordinates in mm.
	// Stored row-major.
	Affine [16]float64

	// ChannelFirst is set once the channel axis has been made explicit
	ChannelFirst bool

	// Source is the file the volume was loaded from. A volume with a Source
	// and no Data has not been loaded yet.
	Source string

	// Meta carries header fields that travel with the volume
	Meta map[string]string
}

// IdentityAffine returns the 4x4 identity matrix in row-major order.
func IdentityAffine() [16]float64 {
	return [16]float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// NewVolume allocates a zero-filled volume with an identity affine.
func NewVolume(channels, width, height, depth int) *Volume {
	return &Volume{
		Data:     make([]float64, channels*width*height*depth),
		Channels: channels,
		Width:    width,
		Height:   height,
		Depth:    depth,
		Affine:   IdentityAffine(),
		Meta:     map[string]string{},
	}
}

// NewLike allocates a zero-filled volume with the spatial geometry of v and
// the given number of channels.
func NewLike(v *Volume, channels int) *Volume {
	out := NewVolume(channels, v.Width, v.Height, v.Depth)
	out.Affine = v.Affine
	out.ChannelFirst = v.ChannelFirst
	out.Source = v.Source
	for k, val := range v.Meta {
		out.Meta[k] = val
	}
	return out
}

// Loaded reports whether the volume holds voxel data.
func (v *Volume) Loaded() bool {
	return v.Data != nil
}

// Len is the number of voxels in a single channel.
func (v *Volume) Len() int {
	return v.Width * v.Height * v.Depth
}

// Index returns the offset of voxel (c, x, y, z) in Data.
func (v *Volume) Index(c, x, y, z int) int {
	return ((c*v.Depth+z)*v.Height+y)*v.Width + x
}

// At returns the value at voxel (c, x, y, z).
func (v *Volume) At(c, x, y, z int) float64 {
	return v.Data[v.Index(c, x, y, z)]
}

// Set stores val at voxel (c, x, y, z).
func (v *Volume) Set(c, x, y, z int, val float64) {
	v.Data[v.Index(c, x, y, z)] = val
}

// Channel returns the data of channel c. The returned slice aliases Data.
func (v *Volume) Channel(c int) []float64 {
	n := v.Len()
	return v.Data[c*n : (c+1)*n]
}

// Shape returns the spatial dimensions as (x, y, z).
func (v *Volume) Shape() [3]int {
	return [3]int{v.Width, v.Height, v.Depth}
}

// Spacing returns the voxel size in mm along each voxel axis, taken from the
// column norms of the affine.
func (v *Volume) Spacing() [3]float64 {
	var s [3]float64
	for col := 0; col < 3; col++ {
		var sum float64
		for row := 0; row < 3; row++ {
			a := v.Affine[row*4+col]
			sum += a * a
		}
		s[col] = math.Sqrt(sum)
	}
	return s
}

// Clone returns a deep copy of the volume.
func (v *Volume) Clone() *Volume {
	out := *v
	if v.Data != nil {
		out.Data = make([]float64, len(v.Data))
		copy(out.Data, v.Data)
	}
	out.Meta = make(map[string]string, len(v.Meta))
	for k, val := range v.Meta {
		out.Meta[k] = val
	}
	return &out
}

// Validate checks that the dimensions are positive and match the data length.
func (v *Volume) Validate() error {
	if v.Channels <= 0 || v.Width <= 0 || v.Height <= 0 || v.Depth <= 0 {
		return errors.Wrapf(ErrShape, "dimensions %dx%dx%dx%d must be positive",
			v.Channels, v.Width, v.Height, v.Depth)
	}
	if want := v.Channels * v.Len(); len(v.Data) != want {
		return errors.Wrapf(ErrShape, "data has %d values, want %d for %dx%dx%dx%d",
			len(v.Data), want, v.Channels, v.Width, v.Height, v.Depth)
	}
	return nil
}
