// Package workerpool runs blocking cleanup work on a fixed set of goroutines
// and hands callers a handle to await each task.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("worker pool is closed")

// Task is the completion handle of a submitted function.
type Task struct {
	done chan struct{}
	err  error
}

// Done is closed when the task has finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task finishes or ctx ends, returning the task's
// error in the former case. A task keeps running if ctx ends first.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type job struct {
	fn   func() error
	task *Task
}

// Pool is a fixed number of workers reading from a shared queue. Submit
// blocks while every worker is busy and the queue is full.
type Pool struct {
	jobs    chan job
	wg      sync.WaitGroup
	latency prometheus.Observer

	mu     sync.RWMutex
	closed bool
}

// Option configures a Pool.
type Option func(*Pool)

// WithLatency records how long each task takes, queueing included.
func WithLatency(o prometheus.Observer) Option {
	return func(p *Pool) {
		p.latency = o
	}
}

// New starts a pool with size workers. Non-positive sizes get one worker.
func New(size int, opts ...Option) *Pool {
	size = max(size, 1)
	p := &Pool{jobs: make(chan job, size)}
	for _, opt := range opts {
		opt(p)
	}
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.work()
	}
	return p
}

func (p *Pool) work() {
	defer p.wg.Done()
	for j := range p.jobs {
		j.task.err = run(j.fn)
		close(j.task.done)
	}
}

func run(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return fn()
}

// Submit queues fn and returns its completion handle.
func (p *Pool) Submit(fn func() error) (*Task, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	task := &Task{done: make(chan struct{})}
	if p.latency != nil {
		start := time.Now()
		inner := fn
		fn = func() error {
			defer func() { p.latency.Observe(time.Since(start).Seconds()) }()
			return inner()
		}
	}
	p.jobs <- job{fn: fn, task: task}
	return task, nil
}

// Close stops accepting tasks and waits for queued ones to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
}
