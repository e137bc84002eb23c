package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/bridgekit/claude-mcp/internal/logger"
)

var log = logger.ForComponent("dispatch")

type Config struct {
	MaxConcurrent int64
	RatePerSecond float64
	RateBurst     int
}

func DefaultConfig() Config {
	return Config{
		MaxConcurrent: 8,
		RatePerSecond: 10,
		RateBurst:     20,
	}
}

// Pool runs one goroutine per dispatched task. Spawning never blocks the
// caller; the concurrency bound is enforced by a weighted semaphore acquired
// inside the task, and bursts beyond the rate limit are shed before spawn.
type Pool struct {
	sem     *semaphore.Weighted
	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	spawned  atomic.Int64
	rejected atomic.Int64
}

func NewPool(cfg Config) *Pool {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		sem:     semaphore.NewWeighted(cfg.MaxConcurrent),
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RateBurst),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Admit applies the rate limit. A false return means the caller should shed
// the request instead of spawning a task.
func (p *Pool) Admit() bool {
	if p.limiter.Allow() {
		return true
	}
	p.rejected.Add(1)
	return false
}

// Go spawns the task immediately and returns. The task waits its turn on the
// semaphore before running; fn is always invoked so a response is emitted
// even when the pool is shutting down.
func (p *Pool) Go(name string, fn func(ctx context.Context)) {
	p.spawned.Add(1)
	p.wg.Add(1)

	go func() {
		defer p.wg.Done()

		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			// Pool canceled; run with the dead context so the task can
			// report failure instead of going silent.
			fn(p.ctx)
			return
		}
		defer p.sem.Release(1)

		log.Debug("task running", "task", name)
		fn(p.ctx)
	}()
}

// Drain waits for in-flight tasks up to the grace period. It reports whether
// everything completed in time; the pool context is canceled either way.
func (p *Pool) Drain(grace time.Duration) bool {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return true
	case <-time.After(grace):
		p.cancel()
		log.Warn("drain grace period expired with tasks in flight")
		return false
	}
}

// Stats reports cumulative spawn and shed counts.
func (p *Pool) Stats() (spawned, rejected int64) {
	return p.spawned.Load(), p.rejected.Load()
}
