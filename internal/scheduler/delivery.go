package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"github.com/suPer8Hu/mediagen-relay/internal/models"
	"github.com/suPer8Hu/mediagen-relay/internal/store/sqlstore"
	"github.com/suPer8Hu/mediagen-relay/internal/webhook"
)

// Delivery pushes finished tasks to their client's webhook.
type Delivery struct {
	tasks      TaskStore
	clients    ClientStore
	sender     WebhookSender
	pool       *Pool
	maxRetries int
	baseDelay  time.Duration
	now        func() time.Time
	log        zerolog.Logger
}

type DeliveryOptions struct {
	MaxRetries int
	BaseDelay  time.Duration
}

func NewDelivery(tasks TaskStore, clients ClientStore, sender WebhookSender, pool *Pool, opts DeliveryOptions, log zerolog.Logger) *Delivery {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 10
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Minute
	}
	return &Delivery{
		tasks:      tasks,
		clients:    clients,
		sender:     sender,
		pool:       pool,
		maxRetries: opts.MaxRetries,
		baseDelay:  opts.BaseDelay,
		now:        time.Now,
		log:        log,
	}
}

// Tick claims every undelivered finished task. Tasks that need no network
// call are settled inline; the rest get an attempt loop that only holds a
// pool slot while a request is on the wire. Tick never waits for a slot.
func (d *Delivery) Tick(ctx context.Context) error {
	due, err := d.tasks.ListUndelivered(ctx, d.maxRetries)
	if err != nil {
		return fmt.Errorf("list undelivered: %w", err)
	}
	for i := range due {
		if err := ctx.Err(); err != nil {
			return err
		}
		t := &due[i]
		claimed, err := d.tasks.ClaimDelivery(ctx, t)
		if err != nil {
			d.log.Error().Err(err).Str("task_id", t.TaskID).Msg("claim delivery")
			continue
		}
		if !claimed {
			continue
		}
		if target, ok := d.prepare(ctx, t); ok {
			d.pool.Background(func() { d.attempt(ctx, t, target) })
		}
	}
	return nil
}

type deliveryTarget struct {
	url   string
	token string
	body  []byte
}

// prepare resolves the owner's webhook and encodes the envelope. It settles
// the task itself and reports false when no request has to be made.
func (d *Delivery) prepare(ctx context.Context, t *models.Task) (deliveryTarget, bool) {
	log := d.taskLog(t)
	persist := context.WithoutCancel(ctx)

	client, err := d.clients.GetClient(ctx, t.ClientID)
	if err != nil {
		if errors.Is(err, sqlstore.ErrNotFound) {
			log.Error().Msg("task owner missing, giving up delivery")
			t.DeliveryState = models.DeliveryExhausted
		} else {
			log.Error().Err(err).Msg("load client")
			t.DeliveryState = models.DeliveryPending
		}
		d.save(persist, t, log)
		return deliveryTarget{}, false
	}

	if client.WebhookURL == "" {
		t.MarkDelivered(d.now().UTC())
		d.save(persist, t, log)
		log.Info().Msg("no webhook configured, marked delivered")
		return deliveryTarget{}, false
	}

	body, err := webhook.Encode(webhook.Envelope(t))
	if err != nil {
		log.Error().Err(err).Msg("encode envelope")
		t.DeliveryState = models.DeliveryExhausted
		d.save(persist, t, log)
		return deliveryTarget{}, false
	}
	return deliveryTarget{url: client.WebhookURL, token: client.Token, body: body}, true
}

// attempt runs the retry loop. Each failed attempt bumps Retries and is
// persisted before the backoff sleep, which holds no pool slot. Cancelling
// ctx leaves the task in flight for startup recovery to release.
func (d *Delivery) attempt(ctx context.Context, t *models.Task, target deliveryTarget) {
	log := d.taskLog(t)
	persist := context.WithoutCancel(ctx)

	backoff := retry.BackoffFunc(func() (time.Duration, bool) {
		if t.Retries >= d.maxRetries {
			return 0, true
		}
		return d.baseDelay << (t.Retries - 1), false
	})

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var sendErr error
		if err := d.pool.Do(ctx, func() {
			sendErr = d.sender.Send(ctx, target.url, target.token, target.body)
		}); err != nil {
			return err
		}
		if sendErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		t.Retries++
		d.save(persist, t, log)
		log.Warn().Err(sendErr).Int("retries", t.Retries).Int("max_retries", d.maxRetries).Msg("webhook attempt failed")
		return retry.RetryableError(sendErr)
	})

	switch {
	case err == nil:
		t.MarkDelivered(d.now().UTC())
		d.save(persist, t, log)
		log.Info().Int("retries", t.Retries).Msg("webhook delivered")
	case ctx.Err() != nil:
		log.Info().Msg("delivery interrupted, left in flight")
	default:
		t.DeliveryState = models.DeliveryExhausted
		d.save(persist, t, log)
		log.Error().Err(err).Int("retries", t.Retries).Msg("webhook retries exhausted")
	}
}

func (d *Delivery) taskLog(t *models.Task) zerolog.Logger {
	return d.log.With().Str("task_id", t.TaskID).Uint64("client_id", t.ClientID).Logger()
}

func (d *Delivery) save(ctx context.Context, t *models.Task, log zerolog.Logger) {
	if err := d.tasks.SaveTask(ctx, t); err != nil {
		log.Error().Err(err).Msg("save delivery state")
	}
}

// Recover releases claims held by a process that stopped mid-work.
func Recover(ctx context.Context, tasks TaskStore, log zerolog.Logger) error {
	n, m, err := tasks.RecoverInterrupted(ctx)
	if err != nil {
		return fmt.Errorf("recover interrupted: %w", err)
	}
	if n > 0 || m > 0 {
		log.Warn().Int64("tasks", n).Int64("deliveries", m).Msg("released interrupted claims")
	}
	return nil
}
