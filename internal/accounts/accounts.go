// Package accounts picks the vendor account for each submission and keeps
// account balances current.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/suPer8Hu/mediagen-relay/internal/gateway"
	"github.com/suPer8Hu/mediagen-relay/internal/models"
	"github.com/suPer8Hu/mediagen-relay/internal/store/sqlstore"
)

var ErrNoActiveAccount = errors.New("no active vendor account")

type Store interface {
	NextAccount(ctx context.Context, now time.Time) (*models.Account, error)
	ListActiveAccounts(ctx context.Context) ([]models.Account, error)
	CountActiveAccounts(ctx context.Context) (int64, error)
	UpdateAccountBalance(ctx context.Context, a *models.Account) error
}

// Rotator hands out the least recently used active account. Selection and
// the last-used stamp happen under one lock so two submissions in the same
// process never pick the same account back to back.
type Rotator struct {
	mu    sync.Mutex
	store Store
	now   func() time.Time
	log   zerolog.Logger
}

func NewRotator(store Store, log zerolog.Logger) *Rotator {
	return &Rotator{store: store, now: time.Now, log: log}
}

func (r *Rotator) Next(ctx context.Context) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	acct, err := r.store.NextAccount(ctx, r.now().UTC())
	if errors.Is(err, sqlstore.ErrNotFound) {
		return nil, ErrNoActiveAccount
	}
	if err != nil {
		return nil, fmt.Errorf("pick account: %w", err)
	}
	r.log.Debug().Uint64("account_id", acct.ID).Msg("account selected")
	return acct, nil
}

// EnsureAvailable fails with ErrNoActiveAccount when no account is active.
func (r *Rotator) EnsureAvailable(ctx context.Context) error {
	n, err := r.store.CountActiveAccounts(ctx)
	if err != nil {
		return fmt.Errorf("count accounts: %w", err)
	}
	if n == 0 {
		return ErrNoActiveAccount
	}
	return nil
}

type UserSource interface {
	GetUser(ctx context.Context, acct *models.Account) (*gateway.UserInfo, error)
}

// Refresher pulls balance and plan data for every active account.
type Refresher struct {
	store Store
	users UserSource
	now   func() time.Time
	log   zerolog.Logger
}

func NewRefresher(store Store, users UserSource, log zerolog.Logger) *Refresher {
	return &Refresher{store: store, users: users, now: time.Now, log: log}
}

// Tick refreshes each account in turn. Failures are logged per account and
// never stop the sweep. It returns how many accounts were updated.
func (r *Refresher) Tick(ctx context.Context) (int, error) {
	accts, err := r.store.ListActiveAccounts(ctx)
	if err != nil {
		return 0, fmt.Errorf("list accounts: %w", err)
	}
	updated := 0
	for i := range accts {
		if ctx.Err() != nil {
			return updated, ctx.Err()
		}
		a := &accts[i]
		log := r.log.With().Uint64("account_id", a.ID).Logger()

		info, err := r.users.GetUser(ctx, a)
		if err != nil {
			log.Warn().Err(err).Msg("balance refresh failed")
			continue
		}
		apply(a, info, r.now().UTC(), log)
		if err := r.store.UpdateAccountBalance(ctx, a); err != nil {
			log.Error().Err(err).Msg("save refreshed account")
			continue
		}
		log.Info().Int64("balance", a.Balance).Str("plan", a.Subscription).Msg("account refreshed")
		updated++
	}
	return updated, nil
}

func apply(a *models.Account, info *gateway.UserInfo, now time.Time, log zerolog.Logger) {
	a.Balance = int64(math.Round(info.SubscriptionCredits))
	if plan := strings.TrimSpace(info.PlanType); plan != "" {
		a.Subscription = plan
	}
	a.SubscriptionEndAt = nil
	if info.PlanEndsAt != nil && *info.PlanEndsAt != "" {
		if ts, err := time.Parse(time.RFC3339, *info.PlanEndsAt); err == nil {
			ts = ts.UTC()
			a.SubscriptionEndAt = &ts
		} else {
			log.Warn().Str("plan_ends_at", *info.PlanEndsAt).Msg("unparseable plan end")
		}
	}
	a.LastUpdatedAt = &now
}
