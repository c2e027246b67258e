package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/mediagen-relay/internal/models"
)

type authStub struct {
	srv         *httptest.Server
	clientCalls atomic.Int32
	mintCalls   atomic.Int32
	clientBody  string
	mintStatus  int
	mintBody    string
	lastMintSID atomic.Value
}

func newAuthStub(t *testing.T) *authStub {
	t.Helper()
	s := &authStub{
		clientBody: `{"client":{"last_active_session_id":"sess_api","sessions":[]}}`,
		mintStatus: http.StatusOK,
		mintBody:   `{"jwt":"minted-token"}`,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/client", func(w http.ResponseWriter, r *http.Request) {
		s.clientCalls.Add(1)
		_, _ = w.Write([]byte(s.clientBody))
	})
	mux.HandleFunc("POST /v1/client/sessions/{sid}/tokens", func(w http.ResponseWriter, r *http.Request) {
		s.mintCalls.Add(1)
		s.lastMintSID.Store(r.PathValue("sid"))
		if r.Header.Get("Content-Type") != "application/x-www-form-urlencoded" {
			w.WriteHeader(http.StatusUnsupportedMediaType)
			return
		}
		if r.URL.Query().Get("__clerk_api_version") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(s.mintStatus)
		_, _ = w.Write([]byte(s.mintBody))
	})
	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

func (s *authStub) broker(cache Cache) *Broker {
	return NewBroker(Options{
		AuthBaseURL:  s.srv.URL,
		AppOrigin:    "https://app.example.test",
		CookieDomain: "example.test",
		APIVersion:   "2025-04-10",
		JSVersion:    "5.86.0",
	}, zerolog.Nop(), cache)
}

func accountWith(t *testing.T, cookies []Cookie) *models.Account {
	t.Helper()
	raw, err := json.Marshal(cookies)
	require.NoError(t, err)
	return &models.Account{ID: 9, IsActive: true, Cookies: raw}
}

func sessionJWT(t *testing.T, sid string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sid": sid}).SignedString([]byte("unrelated"))
	require.NoError(t, err)
	return tok
}

func TestTokenActiveContextFastPath(t *testing.T) {
	stub := newAuthStub(t)
	b := stub.broker(nil)
	acct := accountWith(t, []Cookie{
		{Name: "clerk_active_context", Value: "sess_fast:org_1", Domain: ".example.test"},
	})

	tok, err := b.Token(context.Background(), acct)
	require.NoError(t, err)
	assert.Equal(t, "minted-token", tok)
	assert.Zero(t, stub.clientCalls.Load(), "fast path must not call the client endpoint")
	assert.Equal(t, "sess_fast", stub.lastMintSID.Load())
}

func TestSessionIDFastPathMakesNoNetworkCall(t *testing.T) {
	stub := newAuthStub(t)
	b := stub.broker(nil)
	jar := Jar{{Name: "clerk_active_context", Value: "sess_abc:x", Domain: "example.test"}}

	sid, err := b.SessionID(context.Background(), 1, jar)
	require.NoError(t, err)
	assert.Equal(t, "sess_abc", sid)
	assert.Zero(t, stub.clientCalls.Load())
	assert.Zero(t, stub.mintCalls.Load())
}

func TestTokenFallsBackToSessionJWT(t *testing.T) {
	stub := newAuthStub(t)
	b := stub.broker(nil)
	acct := accountWith(t, []Cookie{
		{Name: "clerk_active_context", Value: "garbage", Domain: "example.test"},
		{Name: "__session_FQWayshe", Value: sessionJWT(t, "sess_jwt"), Domain: "example.test"},
	})

	_, err := b.Token(context.Background(), acct)
	require.NoError(t, err)
	assert.Equal(t, "sess_jwt", stub.lastMintSID.Load())
	assert.Zero(t, stub.clientCalls.Load())
}

func TestTokenFallsBackToClientAPI(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"last active", `{"client":{"last_active_session_id":"sess_last","sessions":[{"id":"sess_other","status":"active"}]}}`, "sess_last"},
		{"first active", `{"client":{"sessions":[{"id":"sess_old","status":"ended"},{"id":"sess_live","status":"active"}]}}`, "sess_live"},
		{"first listed", `{"sessions":[{"id":"sess_any","status":"expired"}]}`, "sess_any"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := newAuthStub(t)
			stub.clientBody = tt.body
			b := stub.broker(nil)
			acct := accountWith(t, []Cookie{{Name: "__client", Value: "c", Domain: "clerk.example.test"}})

			_, err := b.Token(context.Background(), acct)
			require.NoError(t, err)
			assert.EqualValues(t, 1, stub.clientCalls.Load())
			assert.Equal(t, tt.want, stub.lastMintSID.Load())
		})
	}
}

func TestTokenSessionError(t *testing.T) {
	stub := newAuthStub(t)
	stub.clientBody = `{"client":{"sessions":[]}}`
	b := stub.broker(nil)
	acct := accountWith(t, []Cookie{{Name: "__client", Value: "c", Domain: "example.test"}})

	_, err := b.Token(context.Background(), acct)
	var se *SessionError
	require.True(t, errors.As(err, &se), "got %v", err)
	assert.Equal(t, uint64(9), se.AccountID)
	assert.Zero(t, stub.mintCalls.Load())
}

func TestTokenAuthStorageError(t *testing.T) {
	stub := newAuthStub(t)
	b := stub.broker(nil)
	tests := map[string][]byte{
		"empty":       nil,
		"not json":    []byte("{{"),
		"wrong shape": []byte(`{"cookies":"nope"}`),
		"other site":  []byte(`[{"name":"a","value":"b","domain":"elsewhere.test"}]`),
	}
	for name, raw := range tests {
		_, err := b.Token(context.Background(), &models.Account{ID: 3, Cookies: raw})
		var ae *AuthStorageError
		assert.True(t, errors.As(err, &ae), "%s: got %v", name, err)
	}
}

func TestMintAcceptsAlternateFields(t *testing.T) {
	for _, field := range tokenFields {
		stub := newAuthStub(t)
		stub.mintBody = `{"` + field + `":"tok-` + field + `"}`
		b := stub.broker(nil)
		tok, err := b.Mint(context.Background(), "sess_x", Jar{{Name: "a", Value: "b", Domain: "example.test"}})
		require.NoError(t, err)
		assert.Equal(t, "tok-"+field, tok)
	}
}

func TestMintErrors(t *testing.T) {
	stub := newAuthStub(t)
	stub.mintStatus = http.StatusUnauthorized
	stub.mintBody = `{"errors":[{"code":"signed_out"}]}`
	b := stub.broker(nil)

	_, err := b.Mint(context.Background(), "sess_x", Jar{})
	var me *TokenMintError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, http.StatusUnauthorized, me.StatusCode)
	assert.Contains(t, me.Body, "signed_out")

	stub.mintStatus = http.StatusOK
	stub.mintBody = `{"object":"token"}`
	_, err = b.Mint(context.Background(), "sess_x", Jar{})
	require.True(t, errors.As(err, &me))
}

type mapCache struct {
	tokens map[uint64]string
	sets   int
}

func (c *mapCache) Get(_ context.Context, id uint64) (string, bool, error) {
	tok, ok := c.tokens[id]
	return tok, ok, nil
}

func (c *mapCache) Set(_ context.Context, id uint64, tok string) error {
	c.tokens[id] = tok
	c.sets++
	return nil
}

func (c *mapCache) Forget(_ context.Context, id uint64) error {
	delete(c.tokens, id)
	return nil
}

func TestTokenUsesCache(t *testing.T) {
	stub := newAuthStub(t)
	cache := &mapCache{tokens: map[uint64]string{}}
	b := stub.broker(cache)
	acct := accountWith(t, []Cookie{{Name: "clerk_active_context", Value: "sess_c:1", Domain: "example.test"}})

	for i := 0; i < 3; i++ {
		tok, err := b.Token(context.Background(), acct)
		require.NoError(t, err)
		assert.Equal(t, "minted-token", tok)
	}
	assert.EqualValues(t, 1, stub.mintCalls.Load())
	assert.Equal(t, 1, cache.sets)

	b.Invalidate(context.Background(), acct.ID)
	_, err := b.Token(context.Background(), acct)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stub.mintCalls.Load())
}

func TestStrategyOrder(t *testing.T) {
	b := NewBroker(Options{}, zerolog.Nop(), nil)
	var names []string
	for _, s := range b.Strategies() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"active_context_cookie", "session_jwt_cookie", "client_api"}, names)
}

func TestParseCookiesStorageState(t *testing.T) {
	raw := []byte(`{"cookies":[{"name":"a","value":"1","domain":".example.test"},{"name":"b","value":"2","domain":"other.test"}],"origins":[]}`)
	jar, err := ParseCookies(raw, "example.test")
	require.NoError(t, err)
	require.Len(t, jar, 1)
	assert.Equal(t, "/", jar[0].Path)
	assert.Equal(t, "a=1", jar.Header())
}
