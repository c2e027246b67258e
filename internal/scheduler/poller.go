package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/suPer8Hu/mediagen-relay/internal/gateway"
	"github.com/suPer8Hu/mediagen-relay/internal/models"
)

const (
	vendorCompleted = "completed"
	vendorFailed    = "failed"

	TimeoutMessage = "Timed out waiting for vendor result"
)

// Poller asks the vendor about every processing task and records outcomes.
type Poller struct {
	tasks    TaskStore
	accounts AccountLookup
	vendor   StatusSource
	delay    time.Duration
	maxAge   time.Duration
	now      func() time.Time
	log      zerolog.Logger
}

type PollerOptions struct {
	// RequestDelay spaces out consecutive vendor calls within a sweep.
	RequestDelay time.Duration
	// MaxProcessingAge fails tasks stuck in processing; zero disables it.
	MaxProcessingAge time.Duration
}

func NewPoller(tasks TaskStore, accounts AccountLookup, vendor StatusSource, opts PollerOptions, log zerolog.Logger) *Poller {
	return &Poller{
		tasks:    tasks,
		accounts: accounts,
		vendor:   vendor,
		delay:    opts.RequestDelay,
		maxAge:   opts.MaxProcessingAge,
		now:      time.Now,
		log:      log,
	}
}

func (p *Poller) Tick(ctx context.Context) error {
	processing, err := p.tasks.ListTasksByStatus(ctx, models.StatusProcessing)
	if err != nil {
		return fmt.Errorf("list processing: %w", err)
	}
	for i := range processing {
		if i > 0 && p.delay > 0 {
			if err := sleep(ctx, p.delay); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		p.pollOne(ctx, &processing[i])
	}
	return nil
}

func (p *Poller) pollOne(ctx context.Context, t *models.Task) {
	log := p.log.With().Str("task_id", t.TaskID).Logger()
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Msg("poll panicked")
		}
	}()

	now := p.now().UTC()
	if p.maxAge > 0 && t.StartedAt != nil && now.Sub(*t.StartedAt) > p.maxAge {
		if err := t.Fail(TimeoutMessage, now); err == nil {
			p.save(ctx, t, log)
			log.Warn().Dur("age", now.Sub(*t.StartedAt)).Msg("processing watchdog fired")
		}
		return
	}

	if t.AccountID == nil {
		log.Warn().Msg("processing task has no account")
		return
	}
	if t.APITaskID == nil || *t.APITaskID == "" {
		log.Error().Msg("processing task has no vendor job id")
		return
	}
	log = log.With().Uint64("account_id", *t.AccountID).Str("job_set_id", *t.APITaskID).Logger()

	acct, err := p.accounts.GetAccount(ctx, *t.AccountID)
	if err != nil {
		log.Error().Err(err).Msg("load account")
		return
	}
	rec, err := p.vendor.GetJobStatus(ctx, *t.APITaskID, acct)
	if err != nil {
		log.Error().Err(err).Msg("job status request failed")
		return
	}

	switch rec.Status {
	case vendorCompleted:
		urls, err := gateway.ExtractMediaURLs(rec.Payload())
		if err != nil {
			ev := log.Error().Err(err)
			if payload := rec.Payload(); len(payload) > 0 {
				ev = ev.RawJSON("payload", payload)
			}
			ev.Msg("completed job has no media URLs")
			return
		}
		if err := t.Succeed(urls, now); err != nil {
			log.Error().Err(err).Msg("mark success")
			return
		}
		if p.save(ctx, t, log) {
			log.Info().Strs("result", urls).Msg("task completed")
		}
	case vendorFailed:
		msg := rec.Error
		if msg == "" {
			msg = "Unknown error"
		}
		if err := t.Fail(msg, now); err != nil {
			log.Error().Err(err).Msg("mark failed")
			return
		}
		if p.save(ctx, t, log) {
			log.Error().Str("reason", msg).Msg("vendor job failed")
		}
	default:
		log.Debug().Str("vendor_status", rec.Status).Msg("job still running")
	}
}

func (p *Poller) save(ctx context.Context, t *models.Task, log zerolog.Logger) bool {
	ok, err := p.tasks.SaveTaskIfStatus(ctx, t, models.StatusProcessing)
	if err != nil {
		log.Error().Err(err).Msg("save polled task")
		return false
	}
	if !ok {
		log.Info().Msg("task changed while polling")
	}
	return ok
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
