// Package interpolation samples volumes at fractional voxel coordinates.
// It backs the spacing transform: nearest neighbour for label maps and
// trilinear interpolation for intensity images.
package interpolation

import (
	"math"
	"strings"

	"github.com/pkg/errors"
)

// Mode selects how values between voxel centers are computed
type Mode int

const (
	// Trilinear blends the 8 surrounding voxels
	Trilinear Mode = iota
	// Nearest takes the closest voxel, keeping label values intact
	Nearest
)

// ParseMode accepts "bilinear"/"trilinear" and "nearest".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "bilinear", "trilinear", "linear":
		return Trilinear, nil
	case "nearest":
		return Nearest, nil
	}
	return 0, errors.Errorf("unknown interpolation mode %q", s)
}

func (m Mode) String() string {
	if m == Nearest {
		return "nearest"
	}
	return "bilinear"
}

// Grid is a single-channel volume laid out with x varying fastest.
type Grid struct {
	Data                 []float64
	Width, Height, Depth int
}

// at returns the voxel value. Coordinates outside the grid read the nearest
// border voxel.
func (g Grid) at(x, y, z int) float64 {
	x = min(max(x, 0), g.Width-1)
	y = min(max(y, 0), g.Height-1)
	z = min(max(z, 0), g.Depth-1)
	return g.Data[(z*g.Height+y)*g.Width+x]
}

// Sample evaluates the grid at (x, y, z) in voxel coordinates. Points outside
// the grid take the value of the border.
func (g Grid) Sample(x, y, z float64, mode Mode) float64 {
	if mode == Nearest {
		return g.at(roundHalfEven(x), roundHalfEven(y), roundHalfEven(z))
	}

	x0, y0, z0 := math.Floor(x), math.Floor(y), math.Floor(z)
	fx, fy, fz := x-x0, y-y0, z-z0
	ix, iy, iz := int(x0), int(y0), int(z0)

	c000 := g.at(ix, iy, iz)
	c100 := g.at(ix+1, iy, iz)
	c010 := g.at(ix, iy+1, iz)
	c110 := g.at(ix+1, iy+1, iz)
	c001 := g.at(ix, iy, iz+1)
	c101 := g.at(ix+1, iy, iz+1)
	c011 := g.at(ix, iy+1, iz+1)
	c111 := g.at(ix+1, iy+1, iz+1)

	c00 := lerp(c000, c100, fx)
	c10 := lerp(c010, c110, fx)
	c01 := lerp(c001, c101, fx)
	c11 := lerp(c011, c111, fx)

	c0 := lerp(c00, c10, fy)
	c1 := lerp(c01, c11, fy)
	return lerp(c0, c1, fz)
}

// Resize resamples the grid onto a new lattice where output voxel i maps to
// input coordinate i*step along each axis.
func (g Grid) Resize(width, height, depth int, step [3]float64, mode Mode) []float64 {
	out := make([]float64, width*height*depth)
	for z := 0; z < depth; z++ {
		sz := float64(z) * step[2]
		for y := 0; y < height; y++ {
			sy := float64(y) * step[1]
			row := (z*height + y) * width
			for x := 0; x < width; x++ {
				out[row+x] = g.Sample(float64(x)*step[0], sy, sz, mode)
			}
		}
	}
	return out
}

func lerp(a, b, t float64) float64 {
	if t == 0 {
		return a
	}
	return a + (b-a)*t
}

// roundHalfEven rounds to the nearest integer, ties to even, so that
// voxels halfway between two labels pick consistently.
func roundHalfEven(v float64) int {
	return int(math.RoundToEven(v))
}
