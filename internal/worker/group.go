package worker

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Group runs several pools and stops them together.
type Group struct {
	pools []*Pool
}

// NewGroup collects pools.
func NewGroup(pools ...*Pool) *Group {
	return &Group{pools: pools}
}

// Add appends a pool before Run.
func (g *Group) Add(p *Pool) {
	g.pools = append(g.pools, p)
}

// Run blocks until ctx is canceled or any pool returns an error.
func (g *Group) Run(ctx context.Context) error {
	eg, gctx := errgroup.WithContext(ctx)
	for _, p := range g.pools {
		eg.Go(func() error {
			return p.Run(gctx)
		})
	}
	return eg.Wait()
}
