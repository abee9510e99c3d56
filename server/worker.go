package server

import (
	"context"
	"fmt"
)

// job is a unit of work executed on a pool goroutine.
type job struct {
	fn   func() (any, error)
	done chan jobResult
}

// jobResult holds the return value from a job.
type jobResult struct {
	value any
	err   error
}

// Pool bounds the number of programs running at once. Each job gets its
// own runtime; the pool only limits concurrency.
type Pool struct {
	jobs chan job
	quit chan struct{}
}

// NewPool creates a Pool and starts n worker goroutines.
func NewPool(n int) *Pool {
	if n < 1 {
		n = 1
	}
	p := &Pool{
		jobs: make(chan job, 64),
		quit: make(chan struct{}),
	}
	for i := 0; i < n; i++ {
		go p.loop()
	}
	return p
}

// loop processes jobs sequentially on one goroutine.
func (p *Pool) loop() {
	for {
		select {
		case j := <-p.jobs:
			j.done <- execute(j.fn)
		case <-p.quit:
			return
		}
	}
}

// execute runs a job, recovering from panics.
func execute(fn func() (any, error)) jobResult {
	var result jobResult
	func() {
		defer func() {
			if r := recover(); r != nil {
				result.err = fmt.Errorf("%v", r)
			}
		}()
		result.value, result.err = fn()
	}()
	return result
}

// Do submits fn and blocks until it completes or ctx is done. A job that
// has already started runs to completion even if ctx is cancelled.
func (p *Pool) Do(ctx context.Context, fn func() (any, error)) (any, error) {
	j := job{fn: fn, done: make(chan jobResult, 1)}
	select {
	case p.jobs <- j:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-j.done:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop shuts down the worker goroutines.
func (p *Pool) Stop() {
	close(p.quit)
}
