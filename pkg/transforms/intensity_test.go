package transforms

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"

	"bratsprep/internal/models"
	"bratsprep/pkg/brats"
	"bratsprep/pkg/nifti"
)

func TestNormalizeIntensityNonzeroChannelWise(t *testing.T) {
	v := models.NewVolume(2, 4, 1, 1)
	copy(v.Data, []float64{0, 2, 4, 6, 10, 10, 30, 30})

	out, err := NormalizeIntensity{Nonzero: true, ChannelWise: true}.Apply(v)
	require.NoError(t, err)

	// Background stays at zero
	assert.Equal(t, 0.0, out.Data[0])

	nonzero := out.Data[1:4]
	mean, std := stat.PopMeanStdDev(nonzero, nil)
	assert.InDelta(t, 0, mean, 1e-12)
	assert.InDelta(t, 1, std, 1e-12)

	mean, std = stat.PopMeanStdDev(out.Channel(1), nil)
	assert.InDelta(t, 0, mean, 1e-12)
	assert.InDelta(t, 1, std, 1e-12)

	assert.Equal(t, 2.0, v.Data[1], "input must not change")
}

func TestNormalizeIntensityGlobal(t *testing.T) {
	v := models.NewVolume(2, 2, 1, 1)
	copy(v.Data, []float64{1, 2, 3, 4})

	out, err := NormalizeIntensity{}.Apply(v)
	require.NoError(t, err)
	mean, std := stat.PopMeanStdDev(out.Data, nil)
	assert.InDelta(t, 0, mean, 1e-12)
	assert.InDelta(t, 1, std, 1e-12)
}

func TestNormalizeIntensityConstant(t *testing.T) {
	v := models.NewVolume(1, 3, 1, 1)
	copy(v.Data, []float64{5, 5, 5})
	out, err := NormalizeIntensity{}.Apply(v)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0}, out.Data)

	empty := models.NewVolume(1, 3, 1, 1)
	out, err = NormalizeIntensity{Nonzero: true}.Apply(empty)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0}, out.Data)
}

func TestRandScaleIntensity(t *testing.T) {
	rng := NewRNG(21)
	v := models.NewVolume(1, 2, 1, 1)
	copy(v.Data, []float64{1, 2})

	for i := 0; i < 20; i++ {
		out, err := RandScaleIntensity{Factors: 0.1, Prob: 1, RNG: rng}.Apply(v)
		require.NoError(t, err)
		f := out.Data[0]
		assert.True(t, f >= 0.9 && f < 1.1, "factor %f out of range", f)
		assert.InDelta(t, 2*f, out.Data[1], 1e-12)
	}

	out, err := RandScaleIntensity{Factors: 0.1, Prob: 0, RNG: rng}.Apply(v)
	require.NoError(t, err)
	assert.Equal(t, v.Data, out.Data)
}

func TestRandShiftIntensity(t *testing.T) {
	rng := NewRNG(22)
	v := models.NewVolume(1, 2, 1, 1)
	copy(v.Data, []float64{1, 2})

	for i := 0; i < 20; i++ {
		out, err := RandShiftIntensity{Offsets: 0.1, Prob: 1, RNG: rng}.Apply(v)
		require.NoError(t, err)
		o := out.Data[0] - 1
		assert.True(t, o >= -0.1 && o < 0.1, "offset %f out of range", o)
		assert.InDelta(t, 2+o, out.Data[1], 1e-12)
	}
}

func TestActivationsAndAsDiscrete(t *testing.T) {
	v := models.NewVolume(1, 3, 1, 1)
	copy(v.Data, []float64{-10, 0, 10})

	act, err := Activations{Sigmoid: true}.Apply(v)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, act.Data[1], 1e-12)
	assert.InDelta(t, 1/(1+math.Exp(10)), act.Data[0], 1e-12)

	same, err := Activations{}.Apply(v)
	require.NoError(t, err)
	assert.Same(t, v, same)

	disc, err := AsDiscrete{Threshold: 0.5}.Apply(act)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 1}, disc.Data)
}

func TestLabelTransformsRoundTrip(t *testing.T) {
	v := models.NewVolume(1, 4, 1, 1)
	copy(v.Data, []float64{0, 1, 2, 3})

	s := models.Sample{"label": v}
	enc, err := ConvertToMultiChannelBasedOnBratsClassesd("label").ApplySample(s)
	require.NoError(t, err)
	assert.Equal(t, brats.NumRegions, enc["label"].Channels)

	dec, err := ConvertToBratsClassesBasedOnMultiChanneld("label").ApplySample(enc)
	require.NoError(t, err)
	assert.Equal(t, v.Data, dec["label"].Data)
}

func TestChannelTransforms(t *testing.T) {
	v := models.NewVolume(1, 2, 2, 2)
	v.Affine = [16]float64{}

	first, err := EnsureChannelFirst{}.Apply(v)
	require.NoError(t, err)
	assert.True(t, first.ChannelFirst)
	assert.False(t, v.ChannelFirst)

	typed, err := EnsureType{}.Apply(first)
	require.NoError(t, err)
	assert.Equal(t, models.IdentityAffine(), typed.Affine)

	squeezed, err := SqueezeDim{}.Apply(typed)
	require.NoError(t, err)
	assert.False(t, squeezed.ChannelFirst)

	_, err = SqueezeDim{}.Apply(models.NewVolume(3, 1, 1, 1))
	assert.Error(t, err)

	bad := models.NewVolume(1, 2, 2, 2)
	bad.Data = bad.Data[:4]
	_, err = EnsureType{}.Apply(bad)
	assert.Error(t, err)
}

func TestLoadAndSaveImage(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "BRATS_001.nii.gz")
	want := models.NewVolume(1, 3, 2, 2)
	for i := range want.Data {
		want.Data[i] = float64(i % 4)
	}
	require.NoError(t, nifti.Write(src, want))

	s := models.NewSampleFromFiles(map[string]string{"label": src})
	loaded, err := LoadImaged("label").ApplySample(s)
	require.NoError(t, err)
	require.True(t, loaded["label"].Loaded())
	assert.Equal(t, want.Data, loaded["label"].Data)

	// Loaded volumes are not read twice
	again, err := LoadImage{}.Apply(loaded["label"])
	require.NoError(t, err)
	assert.Same(t, loaded["label"], again)

	out := filepath.Join(dir, "out")
	_, err = SaveImaged(out, "seg", "label").ApplySample(loaded)
	require.NoError(t, err)

	saved, err := nifti.Read(filepath.Join(out, "BRATS_001_seg.nii.gz"))
	require.NoError(t, err)
	assert.Equal(t, want.Data, saved.Data)

	_, err = LoadImage{}.Apply(&models.Volume{})
	assert.Error(t, err)
}
