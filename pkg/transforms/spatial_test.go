package transforms

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bratsprep/internal/models"
	"bratsprep/pkg/interpolation"
)

// worldOf maps a voxel through the affine
func worldOf(v *models.Volume, x, y, z int) [3]float64 {
	var w [3]float64
	p := [4]float64{float64(x), float64(y), float64(z), 1}
	for i := 0; i < 3; i++ {
		for j := 0; j < 4; j++ {
			w[i] += v.Affine[i*4+j] * p[j]
		}
	}
	return w
}

func TestParseAxcodes(t *testing.T) {
	o, err := parseAxcodes("ras")
	require.NoError(t, err)
	assert.Equal(t, "RAS", o.String())

	o, err = parseAxcodes("PIL")
	require.NoError(t, err)
	assert.Equal(t, [3]int{1, 2, 0}, o.world)
	assert.Equal(t, [3]bool{true, true, true}, o.sign)

	for _, bad := range []string{"RA", "RRS", "RAX"} {
		_, err := parseAxcodes(bad)
		assert.Error(t, err, bad)
	}
}

func TestOrientationLPSToRAS(t *testing.T) {
	v := rampVolume(2, 4, 3, 2)
	v.Affine = [16]float64{
		-1, 0, 0, 10,
		0, -1, 0, 20,
		0, 0, 1, 30,
		0, 0, 0, 1,
	}
	assert.Equal(t, "LPS", affineOrientation(v.Affine).String())

	out, err := Orientation{Axcodes: "RAS"}.Apply(v)
	require.NoError(t, err)
	assert.Equal(t, "RAS", affineOrientation(out.Affine).String())
	assert.Equal(t, v.Shape(), out.Shape())

	// Every voxel keeps its value and world position
	for c := 0; c < 2; c++ {
		for z := 0; z < 2; z++ {
			for y := 0; y < 3; y++ {
				for x := 0; x < 4; x++ {
					ox, oy := 3-x, 2-y
					assert.Equal(t, v.At(c, x, y, z), out.At(c, ox, oy, z))
					assert.Equal(t, worldOf(v, x, y, z), worldOf(out, ox, oy, z))
				}
			}
		}
	}
}

func TestOrientationPermutesAxes(t *testing.T) {
	v := rampVolume(1, 4, 3, 2)
	// voxel x runs along world S, voxel y along world R, voxel z along world A
	v.Affine = [16]float64{
		0, 2, 0, 0,
		0, 0, 3, 0,
		1, 0, 0, 0,
		0, 0, 0, 1,
	}
	out, err := Orientation{Axcodes: "RAS"}.Apply(v)
	require.NoError(t, err)
	assert.Equal(t, [3]int{3, 2, 4}, out.Shape())
	assert.Equal(t, [3]float64{2, 3, 1}, out.Spacing())
	assert.Equal(t, v.At(0, 1, 2, 1), out.At(0, 2, 1, 1))
	assert.Equal(t, worldOf(v, 1, 2, 1), worldOf(out, 2, 1, 1))
}

func TestOrientationNoop(t *testing.T) {
	v := rampVolume(1, 2, 2, 2)
	out, err := Orientation{Axcodes: "RAS"}.Apply(v)
	require.NoError(t, err)
	assert.Same(t, v, out)
}

func TestSpacingDownsample(t *testing.T) {
	v := rampVolume(1, 4, 4, 4)
	v.Affine[0], v.Affine[5], v.Affine[10] = 0.5, 0.5, 0.5

	out, err := Spacing{Pixdim: [3]float64{1, 1, 1}, Mode: interpolation.Nearest}.Apply(v)
	require.NoError(t, err)
	assert.Equal(t, [3]int{2, 2, 2}, out.Shape())
	spacing := out.Spacing()
	assert.InDeltaSlice(t, []float64{1, 1, 1}, spacing[:], 1e-12)
	require.NoError(t, out.Validate())

	// Output voxel (1,1,1) sits on input voxel (2,2,2)
	assert.Equal(t, v.At(0, 2, 2, 2), out.At(0, 1, 1, 1))
	assert.Equal(t, worldOf(v, 2, 2, 2), worldOf(out, 1, 1, 1))
}

func TestSpacingUpsampleLinear(t *testing.T) {
	v := models.NewVolume(1, 2, 1, 1)
	v.Data[0], v.Data[1] = 0, 10
	v.Affine[0] = 2

	out, err := Spacing{Pixdim: [3]float64{1, 1, 1}, Mode: interpolation.Trilinear}.Apply(v)
	require.NoError(t, err)
	assert.Equal(t, [3]int{4, 1, 1}, out.Shape())
	// The last voxel lies past the input and takes the border value
	assert.InDeltaSlice(t, []float64{0, 5, 10, 10}, out.Data, 1e-9)
}

func TestSpacingUpsampleKeepsEdgeLabels(t *testing.T) {
	v := models.NewVolume(1, 4, 1, 1)
	for i := range v.Data {
		v.Data[i] = 1
	}
	v.Affine[0] = 2

	out, err := Spacing{Pixdim: [3]float64{1, 1, 1}, Mode: interpolation.Nearest}.Apply(v)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1, 1, 1, 1, 1, 1, 1}, out.Data)
}

func TestSpacingNoop(t *testing.T) {
	v := rampVolume(1, 2, 2, 2)
	out, err := Spacing{Pixdim: [3]float64{1, 1, 1}}.Apply(v)
	require.NoError(t, err)
	assert.Same(t, v, out)

	_, err = Spacing{Pixdim: [3]float64{0, 1, 1}}.Apply(v)
	assert.Error(t, err)
}

func TestSpacingdModes(t *testing.T) {
	_, err := Spacingd([3]float64{1, 1, 1}, []interpolation.Mode{interpolation.Trilinear}, "image", "label")
	require.NoError(t, err)

	_, err = Spacingd([3]float64{1, 1, 1}, []interpolation.Mode{interpolation.Trilinear, interpolation.Nearest, interpolation.Nearest}, "image", "label")
	assert.Error(t, err)
}

func TestSpatialCrop(t *testing.T) {
	v := rampVolume(2, 4, 4, 4)
	out, err := SpatialCrop{Start: [3]int{1, 2, 0}, Size: [3]int{2, 2, 3}}.Apply(v)
	require.NoError(t, err)
	require.NoError(t, out.Validate())
	assert.Equal(t, [3]int{2, 2, 3}, out.Shape())
	assert.Equal(t, 2, out.Channels)

	for c := 0; c < 2; c++ {
		assert.Equal(t, v.At(c, 1, 2, 0), out.At(c, 0, 0, 0))
		assert.Equal(t, v.At(c, 2, 3, 2), out.At(c, 1, 1, 2))
	}
	assert.Equal(t, worldOf(v, 1, 2, 0), worldOf(out, 0, 0, 0))
}

func TestRandSpatialCropClipsROI(t *testing.T) {
	rng := NewRNG(5)
	v := rampVolume(1, 6, 5, 3)
	for i := 0; i < 10; i++ {
		out, err := RandSpatialCrop{ROISize: [3]int{4, 8, 0}, RNG: rng}.Apply(v)
		require.NoError(t, err)
		assert.Equal(t, [3]int{4, 5, 3}, out.Shape())
	}
}

func TestRandSpatialCropdSameBox(t *testing.T) {
	rng := NewRNG(9)
	img := rampVolume(1, 8, 8, 8)
	lbl := img.Clone()
	out, err := RandSpatialCropd([3]int{3, 3, 3}, rng, "image", "label").ApplySample(models.Sample{"image": img, "label": lbl})
	require.NoError(t, err)
	assert.Equal(t, out["image"].Data, out["label"].Data)
	assert.Equal(t, out["image"].Affine, out["label"].Affine)
}

func TestFlip(t *testing.T) {
	v := rampVolume(1, 3, 2, 2)
	for axis := 0; axis < 3; axis++ {
		out, err := Flip{Axis: axis}.Apply(v)
		require.NoError(t, err)
		back, err := Flip{Axis: axis}.Apply(out)
		require.NoError(t, err)
		assert.Equal(t, v.Data, back.Data)
		assert.Equal(t, v.Affine, back.Affine)

		// The first voxel moves to the far end of the flipped axis
		var o [3]int
		o[axis] = v.Shape()[axis] - 1
		assert.Equal(t, worldOf(v, 0, 0, 0), worldOf(out, o[0], o[1], o[2]))
	}

	out, err := Flip{Axis: 0}.Apply(v)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 1, 0}, out.Data[:3])

	_, err = Flip{Axis: 3}.Apply(v)
	assert.Error(t, err)
}

func TestRandFlipProbability(t *testing.T) {
	v := rampVolume(1, 3, 1, 1)

	never, err := RandFlip{Prob: 0, Axis: 0, RNG: NewRNG(1)}.Apply(v)
	require.NoError(t, err)
	assert.Equal(t, v.Data, never.Data)

	always, err := RandFlip{Prob: 1, Axis: 0, RNG: NewRNG(1)}.Apply(v)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 1, 0}, always.Data)
}

func TestUnloadedVolumeRejected(t *testing.T) {
	v := &models.Volume{Source: "missing.nii.gz"}
	_, err := Flip{Axis: 0}.Apply(v)
	assert.Error(t, err)
	_, err = Orientation{Axcodes: "RAS"}.Apply(v)
	assert.Error(t, err)
}
