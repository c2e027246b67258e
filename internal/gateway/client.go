package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/suPer8Hu/mediagen-relay/internal/models"
)

// TokenSource supplies bearer tokens for an account.
type TokenSource interface {
	Token(ctx context.Context, acct *models.Account) (string, error)
}

// invalidator is implemented by token sources that cache tokens.
type invalidator interface {
	Invalidate(ctx context.Context, accountID uint64)
}

// Client is the vendor HTTP API. Each method makes one authenticated call and
// never retries.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Tokens  TokenSource
	Log     zerolog.Logger
}

func New(baseURL string, timeout time.Duration, tokens TokenSource, log zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
		Tokens:  tokens,
		Log:     log,
	}
}

type JobSet struct {
	ID string
}

// JobRecord is the first job of a job set. The result fields stay raw so
// their key order survives until URLs are extracted.
type JobRecord struct {
	ID      string
	Status  string
	Result  json.RawMessage
	Results json.RawMessage
	Error   string
	Raw     json.RawMessage
}

// Payload returns whichever result field the vendor populated, falling back
// to the whole job.
func (j *JobRecord) Payload() json.RawMessage {
	if present(j.Result) {
		return j.Result
	}
	if present(j.Results) {
		return j.Results
	}
	return j.Raw
}

func present(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}

// rawText unquotes a JSON string and returns any other non-null value as
// its JSON text.
func rawText(raw json.RawMessage) string {
	if !present(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

type Media struct {
	ID          string
	URL         string
	ContentType string
	Width       int
	Height      int
}

type UserInfo struct {
	SubscriptionCredits float64 `json:"subscription_credits"`
	PlanType            string  `json:"plan_type"`
	PlanEndsAt          *string `json:"plan_ends_at"`
}

func (c *Client) do(ctx context.Context, acct *models.Account, op, method, path string, in, out any) error {
	token, err := c.Tokens.Token(ctx, acct)
	if err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return &APIRequestError{Op: op, Err: err}
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return &APIRequestError{Op: op, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return &APIRequestError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return &APIRequestError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode == http.StatusUnauthorized {
		if inv, ok := c.Tokens.(invalidator); ok {
			inv.Invalidate(ctx, acct.ID)
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		if len(msg) > 4096 {
			msg = msg[:4096]
		}
		return &APIRequestError{Op: op, StatusCode: resp.StatusCode, Body: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &APIRequestError{Op: op, Body: string(raw), Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// SubmitJob posts a generation payload to /jobs/{slug}.
func (c *Client) SubmitJob(ctx context.Context, slug string, payload any, acct *models.Account) (*JobSet, error) {
	var resp struct {
		JobSets []struct {
			ID string `json:"id"`
		} `json:"job_sets"`
	}
	if err := c.do(ctx, acct, "submit job", http.MethodPost, "/jobs/"+slug, payload, &resp); err != nil {
		return nil, err
	}
	if len(resp.JobSets) == 0 || resp.JobSets[0].ID == "" {
		return nil, &APIRequestError{Op: "submit job", Err: errors.New("response has no job set id")}
	}
	return &JobSet{ID: resp.JobSets[0].ID}, nil
}

func (c *Client) GetJobStatus(ctx context.Context, jobSetID string, acct *models.Account) (*JobRecord, error) {
	var resp struct {
		Jobs []json.RawMessage `json:"jobs"`
	}
	if err := c.do(ctx, acct, "get job set", http.MethodGet, "/job-sets/"+jobSetID, nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.Jobs) == 0 {
		return nil, &APIRequestError{Op: "get job set", Err: errors.New("job set has no jobs")}
	}
	var job struct {
		ID      json.RawMessage `json:"id"`
		Status  json.RawMessage `json:"status"`
		Result  json.RawMessage `json:"result"`
		Results json.RawMessage `json:"results"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(resp.Jobs[0], &job); err != nil {
		return nil, &APIRequestError{Op: "get job set", Err: fmt.Errorf("decode job: %w", err)}
	}
	return &JobRecord{
		ID:      rawText(job.ID),
		Status:  rawText(job.Status),
		Result:  job.Result,
		Results: job.Results,
		Error:   rawText(job.Error),
		Raw:     resp.Jobs[0],
	}, nil
}

func (c *Client) GetUser(ctx context.Context, acct *models.Account) (*UserInfo, error) {
	var info UserInfo
	if err := c.do(ctx, acct, "get user", http.MethodGet, "/user", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// UploadMedia runs the three step upload: reserve a slot, PUT the bytes to the
// pre-signed URL, confirm. A failed confirm is logged and tolerated.
func (c *Client) UploadMedia(ctx context.Context, path string, acct *models.Account) (*Media, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &FileUploadError{Path: path, Step: "read", Err: err}
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, &FileUploadError{Path: path, Step: "decode", Err: err}
	}

	var slot struct {
		UploadURL   string `json:"upload_url"`
		ID          string `json:"id"`
		URL         string `json:"url"`
		ContentType string `json:"content_type"`
	}
	if err := c.do(ctx, acct, "create media", http.MethodPost, "/media", nil, &slot); err != nil {
		return nil, &FileUploadError{Path: path, Step: "create slot", Err: err}
	}
	if slot.UploadURL == "" || slot.ID == "" {
		return nil, &FileUploadError{Path: path, Step: "create slot", Err: errors.New("slot missing upload_url or id")}
	}
	contentType := slot.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, slot.UploadURL, bytes.NewReader(data))
	if err != nil {
		return nil, &FileUploadError{Path: path, Step: "put", Err: err}
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, &FileUploadError{Path: path, Step: "put", Err: err}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &FileUploadError{Path: path, Step: "put", StatusCode: resp.StatusCode}
	}

	if err := c.do(ctx, acct, "confirm media", http.MethodPost, "/media/"+slot.ID+"/upload", nil, nil); err != nil {
		c.Log.Warn().Err(err).Str("media_id", slot.ID).Msg("media confirm failed, continuing")
	}

	return &Media{
		ID:          slot.ID,
		URL:         slot.URL,
		ContentType: contentType,
		Width:       cfg.Width,
		Height:      cfg.Height,
	}, nil
}
