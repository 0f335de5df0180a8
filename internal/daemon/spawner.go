package daemon

import (
	"sync"

	"golang.org/x/sync/errgroup"
)

// Spawner runs connection workers. Spawn may block to apply backpressure.
type Spawner interface {
	Spawn(fn func())
	Wait()
}

// GoSpawner starts one goroutine per worker.
type GoSpawner struct {
	wg sync.WaitGroup
}

// Spawn runs fn on a new goroutine.
func (s *GoSpawner) Spawn(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// Wait blocks until every spawned worker returned.
func (s *GoSpawner) Wait() { s.wg.Wait() }

// PoolSpawner runs at most n workers at once; Spawn blocks while the pool
// is full.
type PoolSpawner struct {
	g errgroup.Group
}

// NewPoolSpawner returns a spawner bounded to n workers.
func NewPoolSpawner(n int) *PoolSpawner {
	p := &PoolSpawner{}
	p.g.SetLimit(n)
	return p
}

// Spawn runs fn once a slot is free.
func (p *PoolSpawner) Spawn(fn func()) {
	p.g.Go(func() error {
		fn()
		return nil
	})
}

// Wait blocks until every spawned worker returned.
func (p *PoolSpawner) Wait() { _ = p.g.Wait() }
