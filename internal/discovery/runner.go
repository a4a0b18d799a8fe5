package discovery

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// DefaultParallelism bounds concurrent sessions when none is configured.
const DefaultParallelism = 4

// Runner discovers many plugins concurrently against one knowledge base.
type Runner struct {
	session     *Session
	parallelism int
}

// NewRunner returns a runner executing at most parallelism sessions at once.
func NewRunner(s *Session, parallelism int) *Runner {
	if parallelism < 1 {
		parallelism = DefaultParallelism
	}
	return &Runner{session: s, parallelism: parallelism}
}

// DiscoverAll runs a session per target. results[i] belongs to targets[i];
// a failed session leaves a zero Result (or a partial record on
// cancellation) and contributes to the joined error without stopping its
// siblings.
func (r *Runner) DiscoverAll(ctx context.Context, targets []Target) ([]Result, error) {
	results := make([]Result, len(targets))
	errs := make([]error, len(targets))

	var g errgroup.Group
	g.SetLimit(r.parallelism)
	for i, t := range targets {
		g.Go(func() error {
			res, err := r.session.Discover(ctx, t)
			results[i] = res
			if err != nil {
				errs[i] = fmt.Errorf("discover %s: %w", t.Plugin.Name, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	return results, errors.Join(errs...)
}
