/*
Copyright The Polybackup Contributors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package workerpool bounds the number of backup and restore jobs running
// at once. A fixed set of workers drains a buffered queue; admission is
// non-blocking so the scheduler tick can never be starved by slow jobs.
package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/polybackup/polybackup/pkg/management/log"
)

// ErrQueueFull is returned by Submit when the queue cannot take more jobs
var ErrQueueFull = errors.New("worker pool queue is full")

// ErrStopped is returned by Submit after the pool began shutting down
var ErrStopped = errors.New("worker pool is stopped")

const (
	// DefaultSize is the number of workers when not configured
	DefaultSize = 5

	// defaultQueueDepth is the number of jobs the queue buffers beyond
	// the ones being executed
	defaultQueueDepth = 64
)

// Job is one unit of work with an identifier for logging
type Job struct {
	ID  string
	Run func(ctx context.Context) error
}

// Pool runs jobs on a fixed set of workers
type Pool struct {
	size  int
	queue chan Job

	mu      sync.Mutex
	stopped bool

	wg       sync.WaitGroup
	inFlight atomic.Int64
}

// New creates a pool with the given number of workers. Sizes below one
// fall back to the default.
func New(size int) *Pool {
	if size < 1 {
		size = DefaultSize
	}
	return &Pool{
		size:  size,
		queue: make(chan Job, defaultQueueDepth),
	}
}

// Start spawns the workers. Jobs run with the given context; cancelling
// it makes in-flight jobs return early while Stop still drains the queue.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	log.Info("Worker pool started", "workers", p.size)
}

func (p *Pool) worker(ctx context.Context, slot int) {
	defer p.wg.Done()

	workerLogger := log.WithValues("worker", slot)
	for job := range p.queue {
		p.inFlight.Add(1)
		started := time.Now()
		workerLogger.Debug("Job started", "jobID", job.ID)

		if err := job.Run(ctx); err != nil {
			workerLogger.Error(err, "Job failed",
				"jobID", job.ID, "elapsed", time.Since(started).String())
		} else {
			workerLogger.Debug("Job finished",
				"jobID", job.ID, "elapsed", time.Since(started).String())
		}
		p.inFlight.Add(-1)
	}
}

// Submit enqueues a job without blocking. The caller decides what to do
// on a full queue; scheduled firings simply come back at the next tick.
func (p *Pool) Submit(job Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrStopped
	}

	select {
	case p.queue <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop refuses new jobs and waits until the queued and in-flight ones
// finished. Pair it with cancelling the Start context to cut long jobs
// short.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	log.Info("Worker pool stopped")
}

// QueueDepth reports the number of jobs waiting for a worker
func (p *Pool) QueueDepth() int {
	return len(p.queue)
}

// InFlight reports the number of jobs being executed
func (p *Pool) InFlight() int {
	return int(p.inFlight.Load())
}

// Size reports the number of workers
func (p *Pool) Size() int {
	return p.size
}
