// Package transforms provides composable preprocessing and post-processing
// steps for BraTS volumes.
//
// Array transforms implement Transform and work on a single volume.
// Dictionary transforms implement MapTransform and work on a Sample, a set of
// named volumes such as "image" and "label". Any array transform can be lifted
// to a dictionary transform with Mapped; random transforms are lifted with
// RandMapped so that every key receives the same random draw.
//
// Transforms never modify their input. Volumes that only change metadata may
// share voxel data with their input.
package transforms

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"bratsprep/internal/models"
)

// ErrMissingKey is returned when a dictionary transform names a key the sample lacks.
var ErrMissingKey = errors.New("key missing from sample")

// Transform maps one volume to another.
type Transform interface {
	Apply(v *models.Volume) (*models.Volume, error)
}

// MapTransform maps a sample to another sample.
type MapTransform interface {
	ApplySample(s models.Sample) (models.Sample, error)
}

// Randomizable is a random transform whose parameters can be drawn once and
// reused. ref is the volume the draw is sized against.
type Randomizable interface {
	Draw(rng *RNG, ref *models.Volume) Transform
}

// PerSample is implemented by dictionary transforms that carry random state.
// ForSample returns a copy whose generators come from streams, so that its
// draws depend only on the seeds and the sample index, never on worker
// scheduling.
type PerSample interface {
	ForSample(streams *Streams) MapTransform
}

// Streams hands out the generators of one sample: one fork per parent
// generator, shared by every step that uses that parent.
type Streams struct {
	index uint64
	forks map[*RNG]*RNG
}

// NewStreams returns the streams of sample i.
func NewStreams(i int) *Streams {
	return &Streams{index: uint64(i), forks: map[*RNG]*RNG{}}
}

// For returns the fork of g for this sample.
func (s *Streams) For(g *RNG) *RNG {
	if f, ok := s.forks[g]; ok {
		return f
	}
	f := g.Fork(s.index)
	s.forks[g] = f
	return f
}

// forSample returns t specialised for one sample, or t itself when it holds
// no random state.
func forSample(t MapTransform, streams *Streams) MapTransform {
	if p, ok := t.(PerSample); ok {
		return p.ForSample(streams)
	}
	return t
}

// Func adapts a plain function to a Transform.
type Func func(v *models.Volume) (*models.Volume, error)

// Apply calls f(v).
func (f Func) Apply(v *models.Volume) (*models.Volume, error) {
	return f(v)
}

// Identity returns its input unchanged.
type Identity struct{}

// Apply returns v.
func (Identity) Apply(v *models.Volume) (*models.Volume, error) {
	return v, nil
}

// Compose chains array transforms.
type Compose []Transform

// Apply runs each transform in order.
func (c Compose) Apply(v *models.Volume) (*models.Volume, error) {
	var err error
	for i, t := range c {
		klog.V(3).Infof("step %d: %T", i, t)
		if v, err = t.Apply(v); err != nil {
			return nil, errors.Wrapf(err, "step %d (%T)", i, t)
		}
	}
	return v, nil
}

// ComposeD chains dictionary transforms.
type ComposeD []MapTransform

// ApplySample runs each transform in order.
func (c ComposeD) ApplySample(s models.Sample) (models.Sample, error) {
	var err error
	for i, t := range c {
		klog.V(3).Infof("step %d: %T", i, t)
		if s, err = t.ApplySample(s); err != nil {
			return nil, errors.Wrapf(err, "step %d (%T)", i, t)
		}
	}
	return s, nil
}

// ForSample specialises every step for one sample.
func (c ComposeD) ForSample(streams *Streams) MapTransform {
	out := make(ComposeD, len(c))
	for j, t := range c {
		out[j] = forSample(t, streams)
	}
	return out
}

// MappedTransform applies an array transform to selected keys of a sample.
type MappedTransform struct {
	Keys             []string
	Transform        Transform
	AllowMissingKeys bool
}

// Mapped lifts t to a dictionary transform over keys.
func Mapped(t Transform, keys ...string) *MappedTransform {
	return &MappedTransform{Keys: keys, Transform: t}
}

// ApplySample applies the transform to every key.
func (m *MappedTransform) ApplySample(s models.Sample) (models.Sample, error) {
	out := s.Copy()
	for _, key := range m.Keys {
		v, ok := s[key]
		if !ok {
			if m.AllowMissingKeys {
				klog.V(2).Infof("skipping missing key %q", key)
				continue
			}
			return nil, errors.Wrapf(ErrMissingKey, "%q", key)
		}
		res, err := m.Transform.Apply(v)
		if err != nil {
			return nil, errors.Wrapf(err, "key %q", key)
		}
		out[key] = res
	}
	return out, nil
}

// RandMappedTransform draws a random transform once per sample and applies
// it to all keys.
type RandMappedTransform struct {
	Keys             []string
	Random           Randomizable
	RNG              *RNG
	AllowMissingKeys bool
}

// RandMapped lifts a random transform to a dictionary transform over keys.
// A nil rng uses the package default.
func RandMapped(r Randomizable, rng *RNG, keys ...string) *RandMappedTransform {
	return &RandMappedTransform{Keys: keys, Random: r, RNG: rng}
}

// ApplySample draws against the first present key, then applies the draw to every key.
func (m *RandMappedTransform) ApplySample(s models.Sample) (models.Sample, error) {
	var ref *models.Volume
	for _, key := range m.Keys {
		if v, ok := s[key]; ok {
			ref = v
			break
		}
	}
	if ref == nil {
		if m.AllowMissingKeys {
			return s.Copy(), nil
		}
		return nil, errors.Wrapf(ErrMissingKey, "none of %v", m.Keys)
	}

	t := m.Random.Draw(rngOrDefault(m.RNG), ref)
	mapped := &MappedTransform{Keys: m.Keys, Transform: t, AllowMissingKeys: m.AllowMissingKeys}
	return mapped.ApplySample(s)
}

// ForSample returns a copy drawing from the sample's fork of m.RNG.
// Transforms on the unseeded default generator are returned as is.
func (m *RandMappedTransform) ForSample(streams *Streams) MapTransform {
	if m.RNG == nil {
		return m
	}
	out := *m
	out.RNG = streams.For(m.RNG)
	return &out
}

// shallow copies the volume header and metadata but shares voxel data.
func shallow(v *models.Volume) *models.Volume {
	out := *v
	out.Meta = make(map[string]string, len(v.Meta))
	for k, val := range v.Meta {
		out.Meta[k] = val
	}
	return &out
}

// requireLoaded rejects volumes whose data has not been read yet.
func requireLoaded(v *models.Volume) error {
	if !v.Loaded() {
		return errors.Errorf("volume %q is not loaded", v.Source)
	}
	return nil
}
