// Package scheduler drives the periodic jobs of the task engine: dispatching
// pending tasks, polling the vendor for results, delivering webhooks and
// refreshing account balances.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Job is a periodic unit of work. A tick that would push the number of
// concurrently running instances past MaxInstances is skipped, not queued.
type Job struct {
	Name         string
	Interval     time.Duration
	MaxInstances int
	Run          func(ctx context.Context) error
}

type jobState struct {
	Job
	running atomic.Int32
	nudge   chan struct{}
}

type Runner struct {
	log  zerolog.Logger
	mu   sync.Mutex
	jobs map[string]*jobState
	wg   sync.WaitGroup
}

func NewRunner(log zerolog.Logger) *Runner {
	return &Runner{log: log, jobs: make(map[string]*jobState)}
}

// Add registers a job. It must be called before Start.
func (r *Runner) Add(j Job) {
	if j.MaxInstances <= 0 {
		j.MaxInstances = 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[j.Name] = &jobState{Job: j, nudge: make(chan struct{}, 1)}
}

// Start launches one ticker loop per job. Loops exit when ctx is done;
// Wait blocks until they and their in-flight ticks have returned.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, js := range r.jobs {
		r.wg.Add(1)
		go r.loop(ctx, js)
	}
}

func (r *Runner) Wait() { r.wg.Wait() }

// Trigger asks the named job to tick now instead of waiting for its next
// interval. Repeated triggers before the tick runs collapse into one.
func (r *Runner) Trigger(name string) bool {
	r.mu.Lock()
	js, ok := r.jobs[name]
	r.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case js.nudge <- struct{}{}:
	default:
	}
	return true
}

func (r *Runner) loop(ctx context.Context, js *jobState) {
	defer r.wg.Done()
	log := r.log.With().Str("job", js.Name).Logger()
	log.Info().Dur("interval", js.Interval).Int("max_instances", js.MaxInstances).Msg("job scheduled")

	ticker := time.NewTicker(js.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-js.nudge:
		}
		r.fire(ctx, js, log)
	}
}

// fire starts one instance of the job unless the cap is reached. It reports
// whether an instance was started.
func (r *Runner) fire(ctx context.Context, js *jobState, log zerolog.Logger) bool {
	if n := js.running.Add(1); int(n) > js.MaxInstances {
		js.running.Add(-1)
		log.Debug().Msg("previous run still active, skipping tick")
		return false
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer js.running.Add(-1)
		if err := runSafely(ctx, js.Run); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("job run failed")
		}
	}()
	return true
}

func runSafely(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn(ctx)
}
