package models

import "sort"

// Sample is a labeled sample: named volumes such as "image" and "label"
type Sample map[string]*Volume

// NewSampleFromFiles builds a sample of not-yet-loaded volumes, one per key.
func NewSampleFromFiles(files map[string]string) Sample {
	s := make(Sample, len(files))
	for key, path := range files {
		s[key] = &Volume{Source: path, Meta: map[string]string{}}
	}
	return s
}

// Copy returns a shallow copy of the sample. Volumes are shared.
func (s Sample) Copy() Sample {
	out := make(Sample, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Keys returns the sample keys in sorted order.
func (s Sample) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
