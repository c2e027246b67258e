package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/suPer8Hu/mediagen-relay/internal/models"
)

// Cache stores minted tokens for a short time so repeated vendor calls skip
// the auth round trip. Implementations must be safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, accountID uint64) (string, bool, error)
	Set(ctx context.Context, accountID uint64, token string) error
	Forget(ctx context.Context, accountID uint64) error
}

type Options struct {
	AuthBaseURL  string
	AppOrigin    string
	CookieDomain string
	APIVersion   string
	JSVersion    string
	UserAgent    string
	Timeout      time.Duration
	HTTPClient   *http.Client
}

// Broker turns an account's stored cookies into a short-lived bearer token.
type Broker struct {
	opts       Options
	client     *http.Client
	strategies []Strategy
	cache      Cache
	log        zerolog.Logger
}

func NewBroker(opts Options, log zerolog.Logger, cache Cache) *Broker {
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 20 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	b := &Broker{opts: opts, client: client, cache: cache, log: log}
	b.strategies = []Strategy{ActiveContextCookie(), SessionJWTCookie(), b.ClientAPI()}
	return b
}

// Strategies returns the session id resolution chain in the order it is tried.
func (b *Broker) Strategies() []Strategy {
	return append([]Strategy(nil), b.strategies...)
}

// Invalidate drops any cached token for the account so the next call mints
// a fresh one.
func (b *Broker) Invalidate(ctx context.Context, accountID uint64) {
	if b.cache == nil {
		return
	}
	if err := b.cache.Forget(ctx, accountID); err != nil {
		b.log.Warn().Err(err).Uint64("account_id", accountID).Msg("token cache delete failed")
	}
}

// Token returns a bearer token for acct. The account record is not modified.
func (b *Broker) Token(ctx context.Context, acct *models.Account) (string, error) {
	log := b.log.With().Uint64("account_id", acct.ID).Logger()

	if b.cache != nil {
		tok, ok, err := b.cache.Get(ctx, acct.ID)
		if err != nil {
			log.Warn().Err(err).Msg("token cache read failed")
		} else if ok {
			return tok, nil
		}
	}

	jar, err := ParseCookies(acct.Cookies, b.opts.CookieDomain)
	if err != nil {
		log.Error().Err(err).Msg("stored cookies unusable")
		return "", &AuthStorageError{AccountID: acct.ID, Err: err}
	}

	sid, err := b.SessionID(ctx, acct.ID, jar)
	if err != nil {
		return "", err
	}

	tok, err := b.Mint(ctx, sid, jar)
	if err != nil {
		log.Error().Err(err).Str("session_id", sid).Msg("token mint failed")
		return "", err
	}
	log.Debug().Str("session_id", sid).Msg("token minted")

	if b.cache != nil {
		if err := b.cache.Set(ctx, acct.ID, tok); err != nil {
			log.Warn().Err(err).Msg("token cache write failed")
		}
	}
	return tok, nil
}

// SessionID walks the strategy chain and stops at the first hit.
func (b *Broker) SessionID(ctx context.Context, accountID uint64, jar Jar) (string, error) {
	var lastErr error
	for _, s := range b.strategies {
		sid, ok, err := s.Resolve(ctx, jar)
		log := b.log.With().Uint64("account_id", accountID).Str("strategy", s.Name).Logger()
		switch {
		case err != nil:
			lastErr = err
			log.Warn().Err(err).Msg("session strategy failed")
		case ok:
			log.Debug().Str("session_id", sid).Msg("session id resolved")
			return sid, nil
		default:
			log.Debug().Msg("session strategy found nothing")
		}
	}
	return "", &SessionError{AccountID: accountID, Err: lastErr}
}

var tokenFields = []string{"jwt", "token", "client_jwt", "session_token"}

// Mint exchanges a session id for a bearer token.
func (b *Broker) Mint(ctx context.Context, sid string, jar Jar) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.authURL("/v1/client/sessions/"+sid+"/tokens"), nil)
	if err != nil {
		return "", &TokenMintError{SessionID: sid, Err: err}
	}
	b.decorate(req, jar)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "*/*")

	resp, err := b.client.Do(req)
	if err != nil {
		return "", &TokenMintError{SessionID: sid, Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &TokenMintError{SessionID: sid, StatusCode: resp.StatusCode, Body: truncate(body)}
	}

	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		return "", &TokenMintError{SessionID: sid, Err: fmt.Errorf("decode response: %w", err)}
	}
	for _, k := range tokenFields {
		if s, ok := data[k].(string); ok && s != "" {
			return s, nil
		}
	}
	return "", &TokenMintError{SessionID: sid, Err: errors.New("token not found in response")}
}
