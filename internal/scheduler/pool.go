package scheduler

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// Pool bounds the number of background units in flight.
type Pool struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup
	log zerolog.Logger
}

func NewPool(size int, log zerolog.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), log: log}
}

// Acquire blocks until a slot is free. Pair it with Run or Release.
func (p *Pool) Acquire(ctx context.Context) error {
	return p.sem.Acquire(ctx, 1)
}

func (p *Pool) Release() { p.sem.Release(1) }

// Run executes fn in the background on a slot taken with Acquire and frees
// the slot when fn returns. A panic in fn is logged and swallowed.
func (p *Pool) Run(fn func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		defer p.recoverPanic()
		fn()
	}()
}

// Background runs fn without taking a slot. Wait still covers it, so a unit
// that spends most of its life sleeping can borrow a slot only with Do.
func (p *Pool) Background(fn func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.recoverPanic()
		fn()
	}()
}

// Do runs fn on a slot in the calling goroutine.
func (p *Pool) Do(ctx context.Context, fn func()) error {
	if err := p.Acquire(ctx); err != nil {
		return err
	}
	defer p.Release()
	fn()
	return nil
}

func (p *Pool) recoverPanic() {
	if rec := recover(); rec != nil {
		p.log.Error().Interface("panic", rec).Msg("background unit panicked")
	}
}

func (p *Pool) Go(ctx context.Context, fn func()) error {
	if err := p.Acquire(ctx); err != nil {
		return err
	}
	p.Run(fn)
	return nil
}

// Wait blocks until every unit started with Run or Background has returned.
func (p *Pool) Wait() { p.wg.Wait() }
