package transforms

import (
	"context"
	"runtime"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"bratsprep/internal/models"
)

// ApplyBatch runs t over samples with at most workers goroutines (all CPUs if
// workers <= 0). Results keep the input order. Seeded random transforms draw
// from a stream per sample index, so results do not depend on the number of
// workers. The first failure cancels the remaining work and is returned.
func ApplyBatch(ctx context.Context, t MapTransform, samples []models.Sample, workers int) ([]models.Sample, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	results := make([]models.Sample, len(samples))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, s := range samples {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out, err := forSample(t, NewStreams(i)).ApplySample(s)
			if err != nil {
				return errors.Wrapf(err, "sample %d", i)
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	klog.V(1).Infof("transformed %d samples with %d workers", len(samples), workers)
	return results, nil
}
