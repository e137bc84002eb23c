package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolBoundsConcurrency(t *testing.T) {
	pool := NewPool(Config{MaxConcurrent: 3, RatePerSecond: 1000, RateBurst: 1000})

	var current, peak atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		pool.Go("task", func(ctx context.Context) {
			defer wg.Done()
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			current.Add(-1)
		})
	}
	wg.Wait()

	if p := peak.Load(); p > 3 {
		t.Errorf("peak concurrency %d exceeds bound 3", p)
	}
}

func TestPoolSpawnDoesNotBlock(t *testing.T) {
	pool := NewPool(Config{MaxConcurrent: 1, RatePerSecond: 1000, RateBurst: 1000})

	release := make(chan struct{})
	var done sync.WaitGroup
	done.Add(3)

	start := time.Now()
	for i := 0; i < 3; i++ {
		pool.Go("task", func(ctx context.Context) {
			defer done.Done()
			<-release
		})
	}
	spawnTime := time.Since(start)

	// All three spawns return immediately even though only one can run.
	if spawnTime > 100*time.Millisecond {
		t.Errorf("spawn blocked for %v", spawnTime)
	}

	close(release)
	done.Wait()
}

func TestPoolAdmitShedsBursts(t *testing.T) {
	pool := NewPool(Config{MaxConcurrent: 4, RatePerSecond: 1, RateBurst: 2})

	admitted := 0
	for i := 0; i < 10; i++ {
		if pool.Admit() {
			admitted++
		}
	}

	if admitted != 2 {
		t.Errorf("admitted %d calls, want burst of 2", admitted)
	}

	_, rejected := pool.Stats()
	if rejected != 8 {
		t.Errorf("rejected = %d, want 8", rejected)
	}
}

func TestPoolDrainWaitsForTasks(t *testing.T) {
	pool := NewPool(Config{MaxConcurrent: 4, RatePerSecond: 1000, RateBurst: 1000})

	var completed atomic.Int64
	for i := 0; i < 4; i++ {
		pool.Go("task", func(ctx context.Context) {
			time.Sleep(50 * time.Millisecond)
			completed.Add(1)
		})
	}

	if !pool.Drain(5 * time.Second) {
		t.Fatal("drain timed out")
	}
	if completed.Load() != 4 {
		t.Errorf("completed = %d, want 4", completed.Load())
	}
}

func TestPoolDrainTimesOutOnStuckTask(t *testing.T) {
	pool := NewPool(Config{MaxConcurrent: 2, RatePerSecond: 1000, RateBurst: 1000})

	release := make(chan struct{})
	defer close(release)
	pool.Go("stuck", func(ctx context.Context) {
		<-release
	})

	if pool.Drain(50 * time.Millisecond) {
		t.Error("drain reported clean with a stuck task")
	}
}

func TestPoolRunsTaskAfterCancel(t *testing.T) {
	pool := NewPool(Config{MaxConcurrent: 1, RatePerSecond: 1000, RateBurst: 1000})
	pool.Drain(time.Millisecond)

	// A task spawned after shutdown still runs so it can report failure.
	ran := make(chan struct{})
	pool.Go("late", func(ctx context.Context) {
		if ctx.Err() == nil {
			t.Error("expected dead context for post-shutdown task")
		}
		close(ran)
	})

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("post-shutdown task never ran")
	}
}
