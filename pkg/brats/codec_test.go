package brats

import (
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bratsprep/internal/models"
)

// randomLabels creates a label volume with values drawn from {0,1,2,3}
func randomLabels(channels, width, height, depth int, seed int64) *models.Volume {
	r := rand.New(rand.NewSource(seed))
	v := models.NewVolume(channels, width, height, depth)
	for i := range v.Data {
		v.Data[i] = float64(r.Intn(4))
	}
	return v
}

func TestEncodeChannels(t *testing.T) {
	v := models.NewVolume(1, 4, 1, 1)
	copy(v.Data, []float64{Background, Edema, Enhancing, NecroticCore})

	enc := Encode(v)
	require.Equal(t, 3, enc.Channels)
	assert.True(t, enc.ChannelFirst)

	assert.Equal(t, []float64{0, 0, 1, 1}, enc.Channel(int(TC)))
	assert.Equal(t, []float64{0, 1, 1, 1}, enc.Channel(int(WT)))
	assert.Equal(t, []float64{0, 0, 1, 0}, enc.Channel(int(ET)))
}

func TestEncodeMatchesRegionDefinitions(t *testing.T) {
	v := randomLabels(1, 8, 7, 5, 42)
	enc := Encode(v)

	for i, x := range v.Data {
		tc := enc.Channel(int(TC))[i] == 1
		wt := enc.Channel(int(WT))[i] == 1
		et := enc.Channel(int(ET))[i] == 1

		assert.Equal(t, x == 2, et, "ET at %d", i)
		assert.Equal(t, x == 2 || x == 3, tc, "TC at %d", i)
		assert.Equal(t, x == 1 || x == 2 || x == 3, wt, "WT at %d", i)

		// Nested regions
		if et {
			assert.True(t, tc)
		}
		if tc {
			assert.True(t, wt)
		}
	}
}

func TestEncodeKeepsGeometry(t *testing.T) {
	v := randomLabels(1, 3, 3, 3, 1)
	v.Affine[3] = -90
	v.Source = "seg.nii.gz"
	before := append([]float64(nil), v.Data...)

	enc := Encode(v)
	assert.Equal(t, v.Affine, enc.Affine)
	assert.Equal(t, v.Shape(), enc.Shape())
	assert.Equal(t, before, v.Data, "input must not be modified")
}

func TestRoundTrip(t *testing.T) {
	for seed := int64(0); seed < 5; seed++ {
		v := randomLabels(1, 9, 6, 4, seed)
		dec, err := Decode(Encode(v))
		require.NoError(t, err)
		require.Equal(t, 1, dec.Channels)
		assert.Equal(t, v.Data, dec.Data)
	}
}

func TestRoundTripBatched(t *testing.T) {
	v := randomLabels(2, 5, 5, 3, 7)
	enc := Encode(v)
	require.Equal(t, 6, enc.Channels)

	dec, err := Decode(enc)
	require.NoError(t, err)
	require.Equal(t, 2, dec.Channels)
	assert.Equal(t, v.Data, dec.Data)
}

func TestDecodePrecedence(t *testing.T) {
	tests := []struct {
		name       string
		tc, wt, et float64
		want       float64
	}{
		{"background", 0, 0, 0, Background},
		{"edema", 0, 1, 0, Edema},
		{"core", 1, 1, 0, NecroticCore},
		{"enhancing", 1, 1, 1, Enhancing},
		{"enhancing without core", 0, 0, 1, Enhancing},
		{"core without whole tumor", 1, 0, 0, NecroticCore},
		{"soft values", 0.6, 0.9, 0.2, NecroticCore},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := models.NewVolume(3, 1, 1, 1)
			v.Data[TC] = tt.tc
			v.Data[WT] = tt.wt
			v.Data[ET] = tt.et

			dec, err := Decode(v)
			require.NoError(t, err)
			assert.Equal(t, tt.want, dec.Data[0])
		})
	}
}

func TestDecodeRejectsChannelCount(t *testing.T) {
	_, err := Decode(models.NewVolume(2, 2, 2, 2))
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrShape))
}

func TestRegionString(t *testing.T) {
	assert.Equal(t, "TC", TC.String())
	assert.Equal(t, "WT", WT.String())
	assert.Equal(t, "ET", ET.String())
}
