// Package webhook builds, signs and sends task result notifications.
//
// The signature scheme is two-stage: the per-client signing key is
// hex(HMAC-SHA256(token, "MusicAPI")) and the X-Signature header carries
// hex(HMAC-SHA256(key, body)) over the exact bytes sent.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/suPer8Hu/mediagen-relay/internal/models"
)

const (
	SignatureHeader = "X-Signature"
	keyContext      = "MusicAPI"

	CodeSuccess = 200
	CodeFailure = 400
)

// SigningKey derives the per-client key from its API token.
func SigningKey(token string) string {
	m := hmac.New(sha256.New, []byte(token))
	m.Write([]byte(keyContext))
	return hex.EncodeToString(m.Sum(nil))
}

func Sign(token string, body []byte) string {
	m := hmac.New(sha256.New, []byte(SigningKey(token)))
	m.Write(body)
	return hex.EncodeToString(m.Sum(nil))
}

// Verify checks a received signature in constant time.
func Verify(token string, body []byte, signature string) bool {
	want, err := hex.DecodeString(Sign(token, body))
	if err != nil {
		return false
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	return hmac.Equal(want, got)
}

// Envelope is the notification body for a finished task.
func Envelope(t *models.Task) map[string]any {
	data := map[string]any{
		"status":  string(t.Status),
		"task_id": t.TaskID,
		"type":    t.Type,
	}
	code := CodeSuccess
	if t.Status == models.StatusSuccess {
		result := []string(t.Result)
		if result == nil {
			result = []string{}
		}
		data["result"] = result
	} else {
		code = CodeFailure
		data["message"] = t.FailureDetail()
	}
	if len(t.Metadata) > 0 {
		data["metadata"] = map[string]any(t.Metadata)
	}
	return map[string]any{"code": code, "data": data}
}

type DeliveryError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("webhook %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("webhook %s: %v", e.URL, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

type Sender struct {
	HTTP *http.Client
}

func NewSender(timeout time.Duration) *Sender {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Sender{HTTP: &http.Client{Timeout: timeout}}
}

// Send makes one signed POST. Any non-2xx answer is a *DeliveryError.
func (s *Sender) Send(ctx context.Context, url, token string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &DeliveryError{URL: url, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(token, body))

	resp, err := s.HTTP.Do(req)
	if err != nil {
		return &DeliveryError{URL: url, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &DeliveryError{URL: url, StatusCode: resp.StatusCode}
	}
	return nil
}
