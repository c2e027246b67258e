package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const (
	activeContextCookie = "clerk_active_context"
	sessionCookie       = "__session"
	sessionIDPrefix     = "sess_"
)

// Strategy resolves a session id from a cookie jar. ok=false means the strategy
// had nothing to offer; err is reserved for failures worth reporting.
type Strategy struct {
	Name    string
	Resolve func(ctx context.Context, jar Jar) (sid string, ok bool, err error)
}

// ActiveContextCookie reads "sess_xxx:..." from the active-context cookie.
func ActiveContextCookie() Strategy {
	return Strategy{
		Name: "active_context_cookie",
		Resolve: func(_ context.Context, jar Jar) (string, bool, error) {
			v, found := jar.Get(activeContextCookie)
			if !found {
				return "", false, nil
			}
			sid, _, _ := strings.Cut(v, ":")
			sid = strings.TrimSpace(sid)
			if !strings.HasPrefix(sid, sessionIDPrefix) {
				return "", false, nil
			}
			return sid, true, nil
		},
	}
}

// SessionJWTCookie reads the sid claim of the session JWT cookie. The signature
// is not checked: the cookie comes from the account's own stored bundle.
func SessionJWTCookie() Strategy {
	return Strategy{
		Name: "session_jwt_cookie",
		Resolve: func(_ context.Context, jar Jar) (string, bool, error) {
			parser := jwt.NewParser()
			for _, c := range jar {
				if c.Name != sessionCookie && !strings.HasPrefix(c.Name, sessionCookie+"_") {
					continue
				}
				claims := jwt.MapClaims{}
				if _, _, err := parser.ParseUnverified(c.Value, claims); err != nil {
					continue
				}
				sid, _ := claims["sid"].(string)
				if strings.HasPrefix(sid, sessionIDPrefix) {
					return sid, true, nil
				}
			}
			return "", false, nil
		},
	}
}

type clientSession struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type clientEnvelope struct {
	LastActiveSessionID string          `json:"last_active_session_id"`
	Sessions            []clientSession `json:"sessions"`
}

// ClientAPI asks the auth provider for the current client and picks the last
// active session, else the first active one, else the first listed.
func (b *Broker) ClientAPI() Strategy {
	return Strategy{
		Name: "client_api",
		Resolve: func(ctx context.Context, jar Jar) (string, bool, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.authURL("/v1/client"), nil)
			if err != nil {
				return "", false, err
			}
			b.decorate(req, jar)
			req.Header.Set("Accept", "application/json")

			resp, err := b.client.Do(req)
			if err != nil {
				return "", false, err
			}
			defer resp.Body.Close()

			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				return "", false, fmt.Errorf("GET /v1/client: status %d: %s", resp.StatusCode, truncate(body))
			}

			var raw map[string]json.RawMessage
			if err := json.Unmarshal(body, &raw); err != nil {
				return "", false, fmt.Errorf("GET /v1/client: %w", err)
			}
			payload := body
			if inner, ok := raw["client"]; ok && string(inner) != "null" {
				payload = inner
			}
			var env clientEnvelope
			if err := json.Unmarshal(payload, &env); err != nil {
				return "", false, fmt.Errorf("GET /v1/client: %w", err)
			}

			if env.LastActiveSessionID != "" {
				return env.LastActiveSessionID, true, nil
			}
			for _, s := range env.Sessions {
				if s.Status == "active" && s.ID != "" {
					return s.ID, true, nil
				}
			}
			if len(env.Sessions) > 0 && env.Sessions[0].ID != "" {
				return env.Sessions[0].ID, true, nil
			}
			return "", false, nil
		},
	}
}

func (b *Broker) authURL(path string) string {
	q := url.Values{}
	q.Set("__clerk_api_version", b.opts.APIVersion)
	q.Set("_clerk_js_version", b.opts.JSVersion)
	return strings.TrimRight(b.opts.AuthBaseURL, "/") + path + "?" + q.Encode()
}

func (b *Broker) decorate(req *http.Request, jar Jar) {
	req.Header.Set("Cookie", jar.Header())
	if b.opts.AppOrigin != "" {
		req.Header.Set("Origin", b.opts.AppOrigin)
		req.Header.Set("Referer", strings.TrimRight(b.opts.AppOrigin, "/")+"/")
	}
	if b.opts.UserAgent != "" {
		req.Header.Set("User-Agent", b.opts.UserAgent)
	}
}

func truncate(b []byte) string {
	const max = 512
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		return s[:max]
	}
	return s
}
