// Package concurrency provides a bounded worker pool for background task
// fan-out. With MaxWorkers set to 1 the pool degenerates into an ordered,
// panic-isolated task queue, which is how the execution tracker delivers
// status callbacks.
package concurrency

import (
	"fmt"
	"time"

	"github.com/0Smallcat0/ai-trading-sub017/internal/core"
	apperrors "github.com/0Smallcat0/ai-trading-sub017/pkg/errors"

	"github.com/alitto/pond"
)

// PoolConfig describes a worker pool. Zero values fall back to the
// defaults applied by withDefaults.
type PoolConfig struct {
	Name        string
	MaxWorkers  int
	MaxCapacity int
	IdleTimeout time.Duration
	// NonBlocking makes Submit fail fast with ErrQueueFull instead of
	// blocking the caller when the queue is saturated.
	NonBlocking bool
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.Name == "" {
		c.Name = "workers"
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 4
	}
	if c.MaxCapacity <= 0 {
		c.MaxCapacity = 256
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 30 * time.Second
	}
	return c
}

// PoolStats is a point-in-time snapshot of pool activity
type PoolStats struct {
	RunningWorkers int
	IdleWorkers    int
	Submitted      uint64
	Waiting        uint64
	Completed      uint64
	Failed         uint64
}

// WorkerPool wraps an alitto/pond pool. A panicking task is counted as
// failed and logged; it never takes the worker down, so tasks submitted
// after it still run.
type WorkerPool struct {
	cfg  PoolConfig
	pool *pond.WorkerPool
}

// NewWorkerPool creates and starts a pool
func NewWorkerPool(cfg PoolConfig, logger core.ILogger) *WorkerPool {
	cfg = cfg.withDefaults()

	pool := pond.New(
		cfg.MaxWorkers,
		cfg.MaxCapacity,
		pond.MinWorkers(1),
		pond.IdleTimeout(cfg.IdleTimeout),
		pond.Strategy(pond.Balanced()),
		pond.PanicHandler(func(p interface{}) {
			logger.Error("Recovered task panic", "pool", cfg.Name, "panic", p)
		}),
	)

	return &WorkerPool{cfg: cfg, pool: pool}
}

// Submit queues a task. Tasks run in submission order when MaxWorkers is 1.
func (wp *WorkerPool) Submit(task func()) error {
	if wp.cfg.NonBlocking {
		if !wp.pool.TrySubmit(task) {
			return fmt.Errorf("pool %s (capacity %d): %w", wp.cfg.Name, wp.cfg.MaxCapacity, apperrors.ErrQueueFull)
		}
		return nil
	}
	wp.pool.Submit(task)
	return nil
}

// Stop drains queued tasks and stops the workers
func (wp *WorkerPool) Stop() {
	wp.pool.StopAndWait()
}

// Stats reports pool activity counters
func (wp *WorkerPool) Stats() PoolStats {
	return PoolStats{
		RunningWorkers: wp.pool.RunningWorkers(),
		IdleWorkers:    wp.pool.IdleWorkers(),
		Submitted:      wp.pool.SubmittedTasks(),
		Waiting:        wp.pool.WaitingTasks(),
		Completed:      wp.pool.SuccessfulTasks(),
		Failed:         wp.pool.FailedTasks(),
	}
}
