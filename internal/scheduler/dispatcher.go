package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/suPer8Hu/mediagen-relay/internal/generation"
	"github.com/suPer8Hu/mediagen-relay/internal/models"
)

// Dispatcher claims pending tasks and submits them to the vendor on the pool.
type Dispatcher struct {
	tasks    TaskStore
	accounts AccountPicker
	bound    AccountLookup
	handlers HandlerSource
	pool     *Pool
	now      func() time.Time
	log      zerolog.Logger
}

func NewDispatcher(tasks TaskStore, accounts AccountPicker, bound AccountLookup, handlers HandlerSource, pool *Pool, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		tasks:    tasks,
		accounts: accounts,
		bound:    bound,
		handlers: handlers,
		pool:     pool,
		now:      time.Now,
		log:      log,
	}
}

// Tick claims every pending task in creation order. Submission itself runs
// on the pool; Tick only waits for a free slot.
func (d *Dispatcher) Tick(ctx context.Context) error {
	pending, err := d.tasks.ListTasksByStatus(ctx, models.StatusPending)
	if err != nil {
		return fmt.Errorf("list pending: %w", err)
	}
	if len(pending) > 0 {
		d.log.Debug().Int("count", len(pending)).Msg("pending tasks")
	}
	for i := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		d.dispatchOne(ctx, &pending[i])
	}
	return nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, t *models.Task) {
	log := d.log.With().Str("task_id", t.TaskID).Str("type", t.Type).Logger()
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Msg("dispatch panicked")
		}
	}()

	h, ok := d.handlers.Get(t.Type)
	if !ok {
		if err := t.Fail("Unknown task type: "+t.Type, d.now().UTC()); err != nil {
			log.Error().Err(err).Msg("fail unknown type")
			return
		}
		if _, err := d.tasks.SaveTaskIfStatus(ctx, t, models.StatusPending); err != nil {
			log.Error().Err(err).Msg("save failed task")
		}
		log.Warn().Msg("unknown task type")
		return
	}

	if err := d.pool.Acquire(ctx); err != nil {
		return
	}
	if err := t.TransitionTo(models.StatusStarting, d.now().UTC()); err != nil {
		d.pool.Release()
		log.Error().Err(err).Msg("claim task")
		return
	}
	claimed, err := d.tasks.SaveTaskIfStatus(ctx, t, models.StatusPending)
	if err != nil || !claimed {
		d.pool.Release()
		if err != nil {
			log.Error().Err(err).Msg("claim task")
		}
		return
	}

	// a claimed task is seen through even if the worker is shutting down
	subCtx := context.WithoutCancel(ctx)
	d.pool.Run(func() { d.submit(subCtx, t, h, log) })
}

func (d *Dispatcher) submit(ctx context.Context, t *models.Task, h generation.Handler, log zerolog.Logger) {
	acct, err := d.account(ctx, t)
	if err != nil {
		d.fail(ctx, t, err, log)
		return
	}
	log = log.With().Uint64("account_id", acct.ID).Logger()

	t.AccountID = &acct.ID
	if ok, err := d.tasks.SaveTaskIfStatus(ctx, t, models.StatusStarting); err != nil || !ok {
		if err != nil {
			log.Error().Err(err).Msg("save account assignment")
		} else {
			log.Info().Msg("task left starting before submission")
		}
		return
	}

	jobSetID, err := h.Submit(ctx, t, acct)
	if err != nil {
		d.fail(ctx, t, err, log)
		return
	}

	t.APITaskID = &jobSetID
	if err := t.TransitionTo(models.StatusProcessing, d.now().UTC()); err != nil {
		log.Error().Err(err).Msg("mark processing")
		return
	}
	ok, err := d.tasks.SaveTaskIfStatus(ctx, t, models.StatusStarting)
	switch {
	case err != nil:
		log.Error().Err(err).Str("job_set_id", jobSetID).Msg("save processing task")
	case !ok:
		log.Warn().Str("job_set_id", jobSetID).Msg("task changed during submission, vendor job orphaned")
	default:
		log.Info().Str("job_set_id", jobSetID).Msg("task submitted")
	}
}

// account keeps the account a task was already bound to, e.g. one released
// by startup recovery, and rotates only for unbound tasks.
func (d *Dispatcher) account(ctx context.Context, t *models.Task) (*models.Account, error) {
	if t.AccountID == nil {
		return d.accounts.Next(ctx)
	}
	acct, err := d.bound.GetAccount(ctx, *t.AccountID)
	if err != nil {
		return nil, fmt.Errorf("load account %d: %w", *t.AccountID, err)
	}
	return acct, nil
}

func (d *Dispatcher) fail(ctx context.Context, t *models.Task, cause error, log zerolog.Logger) {
	log.Error().Err(cause).Msg("submission failed")
	if err := t.Fail(cause.Error(), d.now().UTC()); err != nil {
		log.Error().Err(err).Msg("mark failed")
		return
	}
	if _, err := d.tasks.SaveTaskIfStatus(ctx, t, models.StatusStarting); err != nil {
		log.Error().Err(err).Msg("save failed task")
	}
}
