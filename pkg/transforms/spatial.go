package transforms

import (
	"math"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"

	"bratsprep/internal/models"
	"bratsprep/pkg/interpolation"
)

// axisLetters holds, per world axis, the letter for the positive and the
// negative direction in RAS+ world coordinates.
var axisLetters = [3][2]byte{{'R', 'L'}, {'A', 'P'}, {'S', 'I'}}

// orientation describes where each voxel axis points in world space.
type orientation struct {
	world [3]int  // world axis of each voxel axis
	sign  [3]bool // true if the voxel axis runs along the negative world direction
}

// parseAxcodes reads codes such as "RAS" or "LPI".
func parseAxcodes(codes string) (orientation, error) {
	var o orientation
	if len(codes) != 3 {
		return o, errors.Errorf("axcodes %q must have three letters", codes)
	}
	var seen [3]bool
	for i, c := range []byte(strings.ToUpper(codes)) {
		found := false
		for w, letters := range axisLetters {
			if c == letters[0] || c == letters[1] {
				if seen[w] {
					return o, errors.Errorf("axcodes %q repeat a world axis", codes)
				}
				seen[w] = true
				o.world[i] = w
				o.sign[i] = c == letters[1]
				found = true
			}
		}
		if !found {
			return o, errors.Errorf("axcodes %q: unknown letter %q", codes, c)
		}
	}
	return o, nil
}

// CheckAxcodes reports whether codes name a valid orientation such as "RAS".
func CheckAxcodes(codes string) error {
	_, err := parseAxcodes(codes)
	return err
}

func (o orientation) String() string {
	b := make([]byte, 3)
	for i := range b {
		neg := 0
		if o.sign[i] {
			neg = 1
		}
		b[i] = axisLetters[o.world[i]][neg]
	}
	return string(b)
}

// affineOrientation finds the closest world axis for each voxel axis by
// repeatedly taking the largest remaining entry of the rotation part.
func affineOrientation(affine [16]float64) orientation {
	var o orientation
	var rowUsed, colUsed [3]bool
	for n := 0; n < 3; n++ {
		best, bi, bj := -1.0, 0, 0
		for i := 0; i < 3; i++ {
			if rowUsed[i] {
				continue
			}
			for j := 0; j < 3; j++ {
				if colUsed[j] {
					continue
				}
				if a := math.Abs(affine[i*4+j]); a > best {
					best, bi, bj = a, i, j
				}
			}
		}
		rowUsed[bi], colUsed[bj] = true, true
		o.world[bj] = bi
		o.sign[bj] = affine[bi*4+bj] < 0
	}
	return o
}

func affineDense(a [16]float64) *mat.Dense {
	return mat.NewDense(4, 4, a[:])
}

func denseAffine(m *mat.Dense) [16]float64 {
	var a [16]float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			a[i*4+j] = m.At(i, j)
		}
	}
	return a
}

// composeAffine returns affine * t, where t maps output voxels to input voxels.
func composeAffine(affine [16]float64, t *mat.Dense) [16]float64 {
	var out mat.Dense
	out.Mul(affineDense(affine), t)
	return denseAffine(&out)
}

// resized allocates a volume with v's channels and metadata and the spatial size dims.
func resized(v *models.Volume, dims [3]int) *models.Volume {
	out := models.NewVolume(v.Channels, dims[0], dims[1], dims[2])
	out.Affine = v.Affine
	out.ChannelFirst = v.ChannelFirst
	out.Source = v.Source
	for k, val := range v.Meta {
		out.Meta[k] = val
	}
	return out
}

// axisMap describes an output array in terms of the input: output axis k
// reads input axis perm[k], reversed when flip[k] is set.
type axisMap struct {
	perm [3]int
	flip [3]bool
}

func (m axisMap) identity() bool {
	return m.perm == [3]int{0, 1, 2} && m.flip == [3]bool{}
}

// apply permutes and flips v according to m.
func (m axisMap) apply(v *models.Volume) *models.Volume {
	in := v.Shape()
	var dims [3]int
	for k := range dims {
		dims[k] = in[m.perm[k]]
	}
	out := resized(v, dims)

	var src [3]int
	for c := 0; c < v.Channels; c++ {
		for z := 0; z < dims[2]; z++ {
			for y := 0; y < dims[1]; y++ {
				for x := 0; x < dims[0]; x++ {
					o := [3]int{x, y, z}
					for k := 0; k < 3; k++ {
						j := m.perm[k]
						if m.flip[k] {
							src[j] = in[j] - 1 - o[k]
						} else {
							src[j] = o[k]
						}
					}
					out.Set(c, x, y, z, v.At(c, src[0], src[1], src[2]))
				}
			}
		}
	}

	// t maps output voxel coordinates to input voxel coordinates
	t := mat.NewDense(4, 4, nil)
	for k := 0; k < 3; k++ {
		j := m.perm[k]
		if m.flip[k] {
			t.Set(j, k, -1)
			t.Set(j, 3, float64(in[j]-1))
		} else {
			t.Set(j, k, 1)
		}
	}
	t.Set(3, 3, 1)
	out.Affine = composeAffine(v.Affine, t)
	return out
}

// Orientation reorders and flips the spatial axes so that they point along
// Axcodes, for example "RAS".
type Orientation struct {
	Axcodes string
}

// Apply reorients v.
func (o Orientation) Apply(v *models.Volume) (*models.Volume, error) {
	if err := requireLoaded(v); err != nil {
		return nil, err
	}
	target, err := parseAxcodes(o.Axcodes)
	if err != nil {
		return nil, err
	}
	current := affineOrientation(v.Affine)

	var m axisMap
	for k := 0; k < 3; k++ {
		for j := 0; j < 3; j++ {
			if current.world[j] == target.world[k] {
				m.perm[k] = j
				m.flip[k] = current.sign[j] != target.sign[k]
			}
		}
	}
	if m.identity() {
		return v, nil
	}
	klog.V(2).Infof("reorienting %s from %s to %s", v.Source, current, target)
	return m.apply(v), nil
}

// Orientationd reorients the volumes of keys.
func Orientationd(axcodes string, keys ...string) MapTransform {
	return Mapped(Orientation{Axcodes: axcodes}, keys...)
}

// Spacing resamples the volume to the voxel size Pixdim (mm). Output voxel 0
// stays at the position of input voxel 0.
type Spacing struct {
	Pixdim [3]float64
	Mode   interpolation.Mode
}

// Apply resamples v.
func (s Spacing) Apply(v *models.Volume) (*models.Volume, error) {
	if err := requireLoaded(v); err != nil {
		return nil, err
	}
	current := v.Spacing()
	in := v.Shape()

	var dims [3]int
	var step [3]float64
	same := true
	for i := 0; i < 3; i++ {
		if s.Pixdim[i] <= 0 {
			return nil, errors.Errorf("pixdim %v must be positive", s.Pixdim)
		}
		if current[i] == 0 {
			return nil, errors.Errorf("volume %q has a degenerate affine", v.Source)
		}
		step[i] = s.Pixdim[i] / current[i]
		dims[i] = int(math.Round(float64(in[i]) / step[i]))
		if dims[i] < 1 {
			dims[i] = 1
		}
		if math.Abs(step[i]-1) > 1e-6 {
			same = false
		}
	}
	if same {
		return v, nil
	}
	klog.V(2).Infof("resampling %s from %v to %v (%s)", v.Source, current, s.Pixdim, s.Mode)

	out := resized(v, dims)
	out.Data = out.Data[:0]
	for c := 0; c < v.Channels; c++ {
		g := interpolation.Grid{Data: v.Channel(c), Width: in[0], Height: in[1], Depth: in[2]}
		out.Data = append(out.Data, g.Resize(dims[0], dims[1], dims[2], step, s.Mode)...)
	}

	t := mat.DenseCopyOf(mat.NewDiagDense(4, []float64{step[0], step[1], step[2], 1}))
	out.Affine = composeAffine(v.Affine, t)
	return out, nil
}

// Spacingd resamples each key with its own mode. A single mode applies to all keys.
func Spacingd(pixdim [3]float64, modes []interpolation.Mode, keys ...string) (MapTransform, error) {
	if len(modes) != 1 && len(modes) != len(keys) {
		return nil, errors.Errorf("got %d modes for %d keys", len(modes), len(keys))
	}
	steps := make(ComposeD, len(keys))
	for i, key := range keys {
		mode := modes[0]
		if len(modes) > 1 {
			mode = modes[i]
		}
		steps[i] = Mapped(Spacing{Pixdim: pixdim, Mode: mode}, key)
	}
	return steps, nil
}

// SpatialCrop keeps the box starting at Start with size Size, clipped to the volume.
type SpatialCrop struct {
	Start [3]int
	Size  [3]int
}

// Apply crops v.
func (s SpatialCrop) Apply(v *models.Volume) (*models.Volume, error) {
	if err := requireLoaded(v); err != nil {
		return nil, err
	}
	in := v.Shape()
	var start, dims [3]int
	for i := 0; i < 3; i++ {
		start[i] = min(max(s.Start[i], 0), in[i]-1)
		dims[i] = min(s.Size[i], in[i]-start[i])
		if dims[i] < 1 {
			return nil, errors.Errorf("crop size %v is empty", s.Size)
		}
	}
	if start == [3]int{} && dims == in {
		return v, nil
	}

	out := resized(v, dims)
	for c := 0; c < v.Channels; c++ {
		for z := 0; z < dims[2]; z++ {
			for y := 0; y < dims[1]; y++ {
				src := v.Index(c, start[0], start[1]+y, start[2]+z)
				dst := out.Index(c, 0, y, z)
				copy(out.Data[dst:dst+dims[0]], v.Data[src:src+dims[0]])
			}
		}
	}

	t := mat.NewDense(4, 4, []float64{
		1, 0, 0, float64(start[0]),
		0, 1, 0, float64(start[1]),
		0, 0, 1, float64(start[2]),
		0, 0, 0, 1,
	})
	out.Affine = composeAffine(v.Affine, t)
	return out, nil
}

// RandSpatialCrop crops a box of ROISize at a random position. Dimensions
// larger than the volume, or not positive, keep the whole axis.
type RandSpatialCrop struct {
	ROISize [3]int
	RNG     *RNG
}

// Draw picks the crop box for ref.
func (r RandSpatialCrop) Draw(rng *RNG, ref *models.Volume) Transform {
	in := ref.Shape()
	var crop SpatialCrop
	for i := 0; i < 3; i++ {
		size := r.ROISize[i]
		if size <= 0 || size > in[i] {
			size = in[i]
		}
		crop.Size[i] = size
		crop.Start[i] = rng.IntN(in[i] - size + 1)
	}
	return crop
}

// Apply crops v at a fresh random position.
func (r RandSpatialCrop) Apply(v *models.Volume) (*models.Volume, error) {
	return r.Draw(rngOrDefault(r.RNG), v).Apply(v)
}

// RandSpatialCropd crops all keys with the same box.
func RandSpatialCropd(roi [3]int, rng *RNG, keys ...string) MapTransform {
	return RandMapped(RandSpatialCrop{ROISize: roi}, rng, keys...)
}

// Flip reverses spatial axis Axis (0=x, 1=y, 2=z).
type Flip struct {
	Axis int
}

// Apply flips v.
func (f Flip) Apply(v *models.Volume) (*models.Volume, error) {
	if err := requireLoaded(v); err != nil {
		return nil, err
	}
	if f.Axis < 0 || f.Axis > 2 {
		return nil, errors.Errorf("spatial axis %d out of range", f.Axis)
	}
	m := axisMap{perm: [3]int{0, 1, 2}}
	m.flip[f.Axis] = true
	return m.apply(v), nil
}

// RandFlip flips spatial axis Axis with probability Prob.
type RandFlip struct {
	Prob float64
	Axis int
	RNG  *RNG
}

// Draw decides whether to flip.
func (r RandFlip) Draw(rng *RNG, _ *models.Volume) Transform {
	if rng.Float64() < r.Prob {
		return Flip{Axis: r.Axis}
	}
	return Identity{}
}

// Apply flips v with probability Prob.
func (r RandFlip) Apply(v *models.Volume) (*models.Volume, error) {
	return r.Draw(rngOrDefault(r.RNG), v).Apply(v)
}

// RandFlipd flips all keys together.
func RandFlipd(prob float64, axis int, rng *RNG, keys ...string) MapTransform {
	return RandMapped(RandFlip{Prob: prob, Axis: axis}, rng, keys...)
}
