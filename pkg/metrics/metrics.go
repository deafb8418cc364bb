// Package metrics scores segmentations and compares intensity volumes.
package metrics

import (
	"math"
	"sync"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"bratsprep/internal/models"
	"bratsprep/pkg/brats"
)

// RegionScores holds the mean Dice coefficient of each BraTS region.
type RegionScores struct {
	// TC is the tumor core Dice
	TC float64

	// WT is the whole tumor Dice
	WT float64

	// ET is the enhancing tumor Dice
	ET float64

	// Mean averages the three regions
	Mean float64
}

// Dice returns 2|P∩T| / (|P|+|T|) for binary masks. It returns NaN when both
// masks are empty, since the overlap is undefined.
func Dice(pred, truth []float64) float64 {
	if len(pred) != len(truth) {
		return math.NaN()
	}
	denom := floats.Sum(pred) + floats.Sum(truth)
	if denom == 0 {
		return math.NaN()
	}
	return 2 * floats.Dot(pred, truth) / denom
}

// DiceMetric accumulates per-channel Dice scores over many samples and
// reports their mean per channel. It is safe for concurrent use.
type DiceMetric struct {
	mu     sync.Mutex
	sums   []float64
	counts []int
}

// NewDiceMetric returns an empty accumulator.
func NewDiceMetric() *DiceMetric {
	return &DiceMetric{}
}

// Update scores a binary prediction against a binary ground truth with the
// same shape, channel by channel.
func (m *DiceMetric) Update(pred, truth *models.Volume) error {
	if pred.Channels != truth.Channels || pred.Shape() != truth.Shape() {
		return errors.Wrapf(models.ErrShape, "prediction %dx%v does not match ground truth %dx%v",
			pred.Channels, pred.Shape(), truth.Channels, truth.Shape())
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sums == nil {
		m.sums = make([]float64, pred.Channels)
		m.counts = make([]int, pred.Channels)
	}
	if len(m.sums) != pred.Channels {
		return errors.Errorf("metric holds %d channels, got %d", len(m.sums), pred.Channels)
	}
	for c := 0; c < pred.Channels; c++ {
		d := Dice(pred.Channel(c), truth.Channel(c))
		if math.IsNaN(d) {
			continue
		}
		m.sums[c] += d
		m.counts[c]++
	}
	return nil
}

// Aggregate returns the mean Dice per channel (NaN for channels never
// scored) and the mean over scored channels.
func (m *DiceMetric) Aggregate() (perChannel []float64, mean float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	perChannel = make([]float64, len(m.sums))
	var scored []float64
	for c := range m.sums {
		if m.counts[c] == 0 {
			perChannel[c] = math.NaN()
			continue
		}
		perChannel[c] = m.sums[c] / float64(m.counts[c])
		scored = append(scored, perChannel[c])
	}
	if len(scored) == 0 {
		return perChannel, math.NaN()
	}
	return perChannel, stat.Mean(scored, nil)
}

// Regions reads the aggregate as TC/WT/ET scores. The metric must have been
// updated with three-channel region volumes.
func (m *DiceMetric) Regions() (RegionScores, error) {
	perChannel, mean := m.Aggregate()
	if len(perChannel) != brats.NumRegions {
		return RegionScores{}, errors.Errorf("expected %d region channels, have %d", brats.NumRegions, len(perChannel))
	}
	return RegionScores{
		TC:   perChannel[brats.TC],
		WT:   perChannel[brats.WT],
		ET:   perChannel[brats.ET],
		Mean: mean,
	}, nil
}

// Reset clears accumulated scores.
func (m *DiceMetric) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sums, m.counts = nil, nil
}

// RMSE computes the root mean square error
func RMSE(reference, test []float64) float64 {
	n := len(reference)
	if n != len(test) || n == 0 {
		return 0
	}
	return floats.Distance(reference, test, 2) / math.Sqrt(float64(n))
}

// SSIM computes a global Structural Similarity Index over the whole volume,
// for intensities normalised to [0, 1]
func SSIM(reference, test []float64) float64 {
	const L = 1.0 // Dynamic range
	const k1 = 0.01
	const k2 = 0.03

	c1 := (k1 * L) * (k1 * L)
	c2 := (k2 * L) * (k2 * L)

	n := len(reference)
	if n != len(test) || n < 2 {
		return 0
	}

	muX := stat.Mean(reference, nil)
	muY := stat.Mean(test, nil)
	sigmaX := stat.Variance(reference, nil)
	sigmaY := stat.Variance(test, nil)
	sigmaXY := stat.Covariance(reference, test, nil)

	num := (2*muX*muY + c1) * (2*sigmaXY + c2)
	den := (muX*muX + muY*muY + c1) * (sigmaX + sigmaY + c2)
	if den > 0 {
		return num / den
	}
	return 0
}
