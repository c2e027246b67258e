package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/mediagen-relay/internal/accounts"
	"github.com/suPer8Hu/mediagen-relay/internal/db/dbtest"
	"github.com/suPer8Hu/mediagen-relay/internal/gateway"
	"github.com/suPer8Hu/mediagen-relay/internal/generation"
	"github.com/suPer8Hu/mediagen-relay/internal/models"
	"github.com/suPer8Hu/mediagen-relay/internal/store/sqlstore"
	"github.com/suPer8Hu/mediagen-relay/internal/webhook"
)

const testToken = "0123456789abcdef0123456789abcdef"

type env struct {
	repo    *sqlstore.Repo
	client  *models.Client
	account *models.Account
}

func newEnv(t *testing.T, webhookURL string, withAccount bool) *env {
	t.Helper()
	repo := sqlstore.NewRepo(dbtest.Open(t))
	ctx := context.Background()

	c := &models.Client{Username: "acme", PasswordHash: "x", Token: testToken, WebhookURL: webhookURL, IsActive: true}
	require.NoError(t, repo.CreateClient(ctx, c))

	e := &env{repo: repo, client: c}
	if withAccount {
		a := &models.Account{IsActive: true, Subscription: "free", Cookies: []byte(`[]`)}
		require.NoError(t, repo.CreateAccount(ctx, a))
		e.account = a
	}
	return e
}

func (e *env) createTask(t *testing.T, typ string, mutate func(*models.Task)) *models.Task {
	t.Helper()
	task := models.NewTask(typ, e.client.ID, map[string]any{"prompt": "p"}, map[string]any{"ref": "r-1"})
	if mutate != nil {
		mutate(task)
	}
	require.NoError(t, e.repo.CreateTask(context.Background(), task))
	return task
}

func (e *env) reload(t *testing.T, task *models.Task) *models.Task {
	t.Helper()
	got, err := e.repo.GetTask(context.Background(), task.TaskID)
	require.NoError(t, err)
	return got
}

func (e *env) addClient(t *testing.T, username, token, webhookURL string) *models.Client {
	t.Helper()
	c := &models.Client{Username: username, PasswordHash: "x", Token: token, WebhookURL: webhookURL, IsActive: true}
	require.NoError(t, e.repo.CreateClient(context.Background(), c))
	return c
}

type handlerMap map[string]generation.Handler

func (m handlerMap) Get(typ string) (generation.Handler, bool) {
	h, ok := m[typ]
	return h, ok
}

func TestDispatcherSubmitsPendingTasks(t *testing.T) {
	e := newEnv(t, "", true)
	var calls atomic.Int32
	handlers := handlerMap{models.TypeTextToImage: generation.HandlerFunc(
		func(_ context.Context, task *models.Task, acct *models.Account) (string, error) {
			calls.Add(1)
			if assert.NotNil(t, task.AccountID) {
				assert.Equal(t, acct.ID, *task.AccountID)
			}
			return "js-" + task.TaskID[:8], nil
		})}
	first := e.createTask(t, models.TypeTextToImage, nil)
	second := e.createTask(t, models.TypeTextToImage, nil)

	pool := NewPool(2, zerolog.Nop())
	d := NewDispatcher(e.repo, accounts.NewRotator(e.repo, zerolog.Nop()), e.repo, handlers, pool, zerolog.Nop())
	require.NoError(t, d.Tick(context.Background()))
	pool.Wait()

	assert.EqualValues(t, 2, calls.Load())
	for _, task := range []*models.Task{first, second} {
		got := e.reload(t, task)
		assert.Equal(t, models.StatusProcessing, got.Status)
		require.NotNil(t, got.APITaskID)
		assert.Equal(t, "js-"+task.TaskID[:8], *got.APITaskID)
		require.NotNil(t, got.AccountID)
		assert.Equal(t, e.account.ID, *got.AccountID)
		assert.NotNil(t, got.StartedAt)
	}

	// nothing left to claim
	require.NoError(t, d.Tick(context.Background()))
	pool.Wait()
	assert.EqualValues(t, 2, calls.Load())
}

func TestDispatcherUnknownType(t *testing.T) {
	e := newEnv(t, "", true)
	task := e.createTask(t, "t2v", nil)
	var calls atomic.Int32
	handlers := handlerMap{models.TypeTextToImage: generation.HandlerFunc(
		func(context.Context, *models.Task, *models.Account) (string, error) {
			calls.Add(1)
			return "js", nil
		})}

	pool := NewPool(1, zerolog.Nop())
	d := NewDispatcher(e.repo, accounts.NewRotator(e.repo, zerolog.Nop()), e.repo, handlers, pool, zerolog.Nop())
	require.NoError(t, d.Tick(context.Background()))
	pool.Wait()

	got := e.reload(t, task)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, "Unknown task type: t2v", got.Message)
	assert.Nil(t, got.AccountID)
	assert.Zero(t, calls.Load())
}

func TestDispatcherSubmissionFailures(t *testing.T) {
	tests := []struct {
		name        string
		withAccount bool
		handlerErr  error
		wantMsg     string
	}{
		{"handler error", true, &generation.ImageGenerationError{Model: "flux-2", Err: errors.New("vendor down")}, "image generation (flux-2) failed: vendor down"},
		{"no accounts", false, nil, accounts.ErrNoActiveAccount.Error()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, "", tt.withAccount)
			task := e.createTask(t, models.TypeTextToImage, nil)
			handlers := handlerMap{models.TypeTextToImage: generation.HandlerFunc(
				func(context.Context, *models.Task, *models.Account) (string, error) {
					return "", tt.handlerErr
				})}

			pool := NewPool(1, zerolog.Nop())
			d := NewDispatcher(e.repo, accounts.NewRotator(e.repo, zerolog.Nop()), e.repo, handlers, pool, zerolog.Nop())
			require.NoError(t, d.Tick(context.Background()))
			pool.Wait()

			got := e.reload(t, task)
			assert.Equal(t, models.StatusFailed, got.Status)
			assert.Equal(t, tt.wantMsg, got.Message)
			assert.NotNil(t, got.FinishedAt)
			assert.Nil(t, got.APITaskID)
		})
	}
}

func TestDispatcherDoesNotOverwriteCancel(t *testing.T) {
	e := newEnv(t, "", true)
	task := e.createTask(t, models.TypeTextToImage, nil)
	handlers := handlerMap{models.TypeTextToImage: generation.HandlerFunc(
		func(ctx context.Context, inFlight *models.Task, _ *models.Account) (string, error) {
			// the client cancels while the vendor call is in flight
			stored, err := e.repo.GetTask(ctx, inFlight.TaskID)
			if !assert.NoError(t, err) {
				return "", err
			}
			assert.NoError(t, stored.Fail(models.CanceledMessage, time.Now()))
			ok, err := e.repo.SaveTaskIfStatus(ctx, stored, models.StatusStarting)
			assert.NoError(t, err)
			assert.True(t, ok)
			return "js-late", nil
		})}

	pool := NewPool(1, zerolog.Nop())
	d := NewDispatcher(e.repo, accounts.NewRotator(e.repo, zerolog.Nop()), e.repo, handlers, pool, zerolog.Nop())
	require.NoError(t, d.Tick(context.Background()))
	pool.Wait()

	got := e.reload(t, task)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, models.CanceledMessage, got.Message)
	assert.Nil(t, got.APITaskID)
}

func TestDispatcherKeepsAccountAfterRecover(t *testing.T) {
	e := newEnv(t, "", true)
	ctx := context.Background()
	// the bound account was used recently, so rotation alone would pick the other one
	used := time.Now().UTC()
	e.account.LastUsedAt = &used
	require.NoError(t, e.repo.SaveAccount(ctx, e.account))
	other := &models.Account{IsActive: true, Subscription: "free", Cookies: []byte(`[]`)}
	require.NoError(t, e.repo.CreateAccount(ctx, other))

	task := e.createTask(t, models.TypeTextToImage, func(task *models.Task) {
		task.Status = models.StatusStarting
		task.AccountID = &e.account.ID
	})
	require.NoError(t, Recover(ctx, e.repo, zerolog.Nop()))
	require.Equal(t, models.StatusPending, e.reload(t, task).Status)

	var submittedWith atomic.Uint64
	handlers := handlerMap{models.TypeTextToImage: generation.HandlerFunc(
		func(_ context.Context, _ *models.Task, acct *models.Account) (string, error) {
			submittedWith.Store(acct.ID)
			return "js-1", nil
		})}
	pool := NewPool(1, zerolog.Nop())
	d := NewDispatcher(e.repo, accounts.NewRotator(e.repo, zerolog.Nop()), e.repo, handlers, pool, zerolog.Nop())
	require.NoError(t, d.Tick(ctx))
	pool.Wait()

	got := e.reload(t, task)
	assert.Equal(t, models.StatusProcessing, got.Status)
	require.NotNil(t, got.AccountID)
	assert.Equal(t, e.account.ID, *got.AccountID)
	assert.Equal(t, e.account.ID, submittedWith.Load())

	stored, err := e.repo.GetAccount(ctx, other.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.LastUsedAt)
}

func TestDispatcherFailsWhenBoundAccountIsGone(t *testing.T) {
	e := newEnv(t, "", true)
	missing := uint64(9999)
	task := e.createTask(t, models.TypeTextToImage, func(task *models.Task) { task.AccountID = &missing })
	handlers := handlerMap{models.TypeTextToImage: generation.HandlerFunc(
		func(context.Context, *models.Task, *models.Account) (string, error) {
			t.Error("handler must not run without the bound account")
			return "", nil
		})}

	pool := NewPool(1, zerolog.Nop())
	d := NewDispatcher(e.repo, accounts.NewRotator(e.repo, zerolog.Nop()), e.repo, handlers, pool, zerolog.Nop())
	require.NoError(t, d.Tick(context.Background()))
	pool.Wait()

	got := e.reload(t, task)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Contains(t, got.Message, "load account 9999")
	require.NotNil(t, got.AccountID)
	assert.Equal(t, missing, *got.AccountID)
}

type fakeStatus struct {
	records map[string]*gateway.JobRecord
	err     error
	calls   atomic.Int32
}

func (f *fakeStatus) GetJobStatus(_ context.Context, id string, _ *models.Account) (*gateway.JobRecord, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	rec, ok := f.records[id]
	if !ok {
		return nil, &gateway.APIRequestError{Op: "get job set", StatusCode: 404}
	}
	return rec, nil
}

func processing(e *env, jobID string) func(*models.Task) {
	return func(task *models.Task) {
		now := time.Now().UTC()
		task.Status = models.StatusProcessing
		task.APITaskID = &jobID
		task.AccountID = &e.account.ID
		task.StartedAt = &now
	}
}

func TestPollerOutcomes(t *testing.T) {
	e := newEnv(t, "", true)
	done := e.createTask(t, models.TypeTextToImage, processing(e, "js-done"))
	failed := e.createTask(t, models.TypeTextToImage, processing(e, "js-failed"))
	bare := e.createTask(t, models.TypeTextToImage, processing(e, "js-bare"))
	empty := e.createTask(t, models.TypeTextToImage, processing(e, "js-empty"))
	running := e.createTask(t, models.TypeTextToImage, processing(e, "js-running"))
	orphan := e.createTask(t, models.TypeTextToImage, func(task *models.Task) {
		processing(e, "js-orphan")(task)
		task.AccountID = nil
	})

	status := &fakeStatus{records: map[string]*gateway.JobRecord{
		"js-done":    {Status: "completed", Result: json.RawMessage(`{"image":{"url":"http://x/a.png"}}`)},
		"js-failed":  {Status: "failed", Error: "nsfw"},
		"js-bare":    {Status: "failed"},
		"js-empty":   {Status: "completed", Result: json.RawMessage(`{"type":"image"}`)},
		"js-running": {Status: "in_progress"},
	}}
	p := NewPoller(e.repo, e.repo, status, PollerOptions{RequestDelay: time.Millisecond}, zerolog.Nop())
	require.NoError(t, p.Tick(context.Background()))

	got := e.reload(t, done)
	assert.Equal(t, models.StatusSuccess, got.Status)
	assert.Equal(t, []string{"http://x/a.png"}, []string(got.Result))
	assert.NotNil(t, got.FinishedAt)
	assert.Equal(t, models.DeliveryPending, got.DeliveryState)

	got = e.reload(t, failed)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, "nsfw", got.Message)

	assert.Equal(t, "Unknown error", e.reload(t, bare).Message)
	assert.Equal(t, models.StatusProcessing, e.reload(t, empty).Status)
	assert.Equal(t, models.StatusProcessing, e.reload(t, running).Status)
	assert.Equal(t, models.StatusProcessing, e.reload(t, orphan).Status)
	assert.EqualValues(t, 5, status.calls.Load())
}

func TestPollerContinuesAfterErrors(t *testing.T) {
	e := newEnv(t, "", true)
	task := e.createTask(t, models.TypeTextToImage, processing(e, "js-1"))
	status := &fakeStatus{err: errors.New("network")}

	p := NewPoller(e.repo, e.repo, status, PollerOptions{}, zerolog.Nop())
	require.NoError(t, p.Tick(context.Background()))
	assert.Equal(t, models.StatusProcessing, e.reload(t, task).Status)
}

func TestPollerWatchdog(t *testing.T) {
	e := newEnv(t, "", true)
	old := e.createTask(t, models.TypeTextToImage, func(task *models.Task) {
		processing(e, "js-old")(task)
		started := time.Now().UTC().Add(-2 * time.Hour)
		task.StartedAt = &started
	})
	fresh := e.createTask(t, models.TypeTextToImage, processing(e, "js-fresh"))
	status := &fakeStatus{records: map[string]*gateway.JobRecord{"js-fresh": {Status: "queued"}}}

	p := NewPoller(e.repo, e.repo, status, PollerOptions{MaxProcessingAge: time.Hour}, zerolog.Nop())
	require.NoError(t, p.Tick(context.Background()))

	got := e.reload(t, old)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, TimeoutMessage, got.Message)
	assert.Equal(t, models.StatusProcessing, e.reload(t, fresh).Status)
	assert.EqualValues(t, 1, status.calls.Load())
}

type hook struct {
	srv      *httptest.Server
	mu       sync.Mutex
	bodies   [][]byte
	sigs     []string
	statuses []int
}

// newHook answers with statuses in order, then 200 forever.
func newHook(t *testing.T, statuses ...int) *hook {
	h := &hook{statuses: statuses}
	h.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		h.mu.Lock()
		n := len(h.bodies)
		h.bodies = append(h.bodies, body)
		h.sigs = append(h.sigs, r.Header.Get(webhook.SignatureHeader))
		h.mu.Unlock()
		if n < len(h.statuses) {
			w.WriteHeader(h.statuses[n])
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *hook) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.bodies)
}

func finished(task *models.Task) {
	now := time.Now().UTC()
	task.Status = models.StatusSuccess
	task.Result = []string{"https://x/a.png"}
	task.FinishedAt = &now
}

func TestDeliveryRetriesThenSucceeds(t *testing.T) {
	h := newHook(t, 500, 500, 500)
	e := newEnv(t, h.srv.URL, false)
	task := e.createTask(t, models.TypeTextToImage, finished)

	pool := NewPool(4, zerolog.Nop())
	d := NewDelivery(e.repo, e.repo, webhook.NewSender(time.Second), pool,
		DeliveryOptions{MaxRetries: 10, BaseDelay: time.Millisecond}, zerolog.Nop())
	require.NoError(t, d.Tick(context.Background()))
	pool.Wait()

	got := e.reload(t, task)
	assert.Equal(t, 3, got.Retries)
	assert.True(t, got.IsDelivered)
	assert.Equal(t, models.DeliveryDelivered, got.DeliveryState)
	assert.NotNil(t, got.DeliveredAt)
	require.Equal(t, 4, h.count())

	for i, body := range h.bodies {
		assert.True(t, webhook.Verify(testToken, body, h.sigs[i]), "attempt %d", i)
	}
	assert.JSONEq(t,
		`{"code":200,"data":{"status":"success","task_id":"`+task.TaskID+`","type":"t2i","result":["https://x/a.png"],"metadata":{"ref":"r-1"}}}`,
		string(h.bodies[0]))

	// delivered tasks are never picked up again
	require.NoError(t, d.Tick(context.Background()))
	pool.Wait()
	assert.Equal(t, 4, h.count())
}

func TestDeliveryWithoutWebhook(t *testing.T) {
	e := newEnv(t, "", false)
	task := e.createTask(t, models.TypeTextToImage, finished)
	sender := &countingSender{}

	pool := NewPool(1, zerolog.Nop())
	d := NewDelivery(e.repo, e.repo, sender, pool, DeliveryOptions{}, zerolog.Nop())
	require.NoError(t, d.Tick(context.Background()))
	pool.Wait()

	got := e.reload(t, task)
	assert.True(t, got.IsDelivered)
	assert.Zero(t, got.Retries)
	assert.Zero(t, sender.calls.Load())
}

type countingSender struct {
	calls atomic.Int32
	err   error
}

func (s *countingSender) Send(context.Context, string, string, []byte) error {
	s.calls.Add(1)
	return s.err
}

func TestDeliveryExhausts(t *testing.T) {
	e := newEnv(t, "https://hooks.test/x", false)
	task := e.createTask(t, models.TypeTextToImage, func(task *models.Task) {
		task.Status = models.StatusFailed
		task.Message = "nsfw"
	})
	sender := &countingSender{err: errors.New("connection refused")}

	pool := NewPool(1, zerolog.Nop())
	d := NewDelivery(e.repo, e.repo, sender, pool, DeliveryOptions{MaxRetries: 3, BaseDelay: time.Millisecond}, zerolog.Nop())
	require.NoError(t, d.Tick(context.Background()))
	pool.Wait()

	got := e.reload(t, task)
	assert.Equal(t, 3, got.Retries)
	assert.False(t, got.IsDelivered)
	assert.Equal(t, models.DeliveryExhausted, got.DeliveryState)
	assert.EqualValues(t, 3, sender.calls.Load())

	require.NoError(t, d.Tick(context.Background()))
	pool.Wait()
	assert.EqualValues(t, 3, sender.calls.Load())
}

func TestDeliveryResumesFromStoredRetries(t *testing.T) {
	e := newEnv(t, "https://hooks.test/x", false)
	task := e.createTask(t, models.TypeTextToImage, func(task *models.Task) {
		finished(task)
		task.Retries = 8
	})
	sender := &countingSender{err: errors.New("timeout")}

	pool := NewPool(1, zerolog.Nop())
	d := NewDelivery(e.repo, e.repo, sender, pool, DeliveryOptions{MaxRetries: 10, BaseDelay: time.Millisecond}, zerolog.Nop())
	require.NoError(t, d.Tick(context.Background()))
	pool.Wait()

	assert.EqualValues(t, 2, sender.calls.Load())
	assert.Equal(t, 10, e.reload(t, task).Retries)
}

func TestDeliveryCancelLeavesInFlight(t *testing.T) {
	e := newEnv(t, "https://hooks.test/x", false)
	task := e.createTask(t, models.TypeTextToImage, finished)
	sender := &countingSender{err: errors.New("503")}

	ctx, cancel := context.WithCancel(context.Background())
	pool := NewPool(1, zerolog.Nop())
	d := NewDelivery(e.repo, e.repo, sender, pool, DeliveryOptions{MaxRetries: 10, BaseDelay: time.Hour}, zerolog.Nop())
	require.NoError(t, d.Tick(ctx))
	require.Eventually(t, func() bool { return sender.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	pool.Wait()

	assert.Equal(t, models.DeliveryInFlight, e.reload(t, task).DeliveryState)

	require.NoError(t, Recover(context.Background(), e.repo, zerolog.Nop()))
	assert.Equal(t, models.DeliveryPending, e.reload(t, task).DeliveryState)
}

type routeSender struct {
	dead      string
	deadCalls atomic.Int32
	sent      atomic.Int32
}

func (s *routeSender) Send(_ context.Context, url, _ string, _ []byte) error {
	if url == s.dead {
		s.deadCalls.Add(1)
		return errors.New("connection refused")
	}
	s.sent.Add(1)
	return nil
}

func TestDeliveryBackoffDoesNotStarveOtherClients(t *testing.T) {
	const deadURL = "https://dead.test/hook"
	e := newEnv(t, deadURL, false)
	stuck := e.createTask(t, models.TypeTextToImage, finished)
	quiet := e.addClient(t, "quiet", "11111111111111111111111111111111", "")
	live := e.addClient(t, "live", "22222222222222222222222222222222", "https://live.test/hook")
	silent := e.createTask(t, models.TypeTextToImage, func(task *models.Task) {
		finished(task)
		task.ClientID = quiet.ID
	})
	pushed := e.createTask(t, models.TypeTextToImage, func(task *models.Task) {
		finished(task)
		task.ClientID = live.ID
	})
	sender := &routeSender{dead: deadURL}

	pool := NewPool(1, zerolog.Nop())
	d := NewDelivery(e.repo, e.repo, sender, pool, DeliveryOptions{MaxRetries: 10, BaseDelay: time.Hour}, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	start := time.Now()
	require.NoError(t, d.Tick(ctx))
	assert.Less(t, time.Since(start), time.Second)

	// no webhook means no slot and no request
	got := e.reload(t, silent)
	assert.True(t, got.IsDelivered)
	assert.Equal(t, models.DeliveryDelivered, got.DeliveryState)

	// the sleeping retry of the dead hook leaves the only slot free
	require.Eventually(t, func() bool {
		got, err := e.repo.GetTask(context.Background(), stuck.TaskID)
		return err == nil && got.Retries == 1 && sender.sent.Load() == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	pool.Wait()

	got = e.reload(t, pushed)
	assert.True(t, got.IsDelivered)
	assert.Zero(t, got.Retries)

	got = e.reload(t, stuck)
	assert.False(t, got.IsDelivered)
	assert.Equal(t, 1, got.Retries)
	assert.Equal(t, models.DeliveryInFlight, got.DeliveryState)
}

func TestRecoverReleasesStartingTasks(t *testing.T) {
	e := newEnv(t, "", true)
	task := e.createTask(t, models.TypeTextToImage, func(task *models.Task) { task.Status = models.StatusStarting })

	require.NoError(t, Recover(context.Background(), e.repo, zerolog.Nop()))
	assert.Equal(t, models.StatusPending, e.reload(t, task).Status)
}

func TestRunnerSkipsOverlappingTicks(t *testing.T) {
	r := NewRunner(zerolog.Nop())
	release := make(chan struct{})
	var runs atomic.Int32
	r.Add(Job{Name: "slow", Interval: time.Hour, MaxInstances: 1, Run: func(ctx context.Context) error {
		runs.Add(1)
		<-release
		return nil
	}})
	js := r.jobs["slow"]

	ctx := context.Background()
	assert.True(t, r.fire(ctx, js, zerolog.Nop()))
	assert.False(t, r.fire(ctx, js, zerolog.Nop()))
	close(release)
	r.Wait()
	assert.EqualValues(t, 1, runs.Load())

	assert.True(t, r.fire(ctx, js, zerolog.Nop()))
	r.Wait()
	assert.EqualValues(t, 2, runs.Load())
}

func TestRunnerTriggerAndPanicRecovery(t *testing.T) {
	r := NewRunner(zerolog.Nop())
	var runs atomic.Int32
	r.Add(Job{Name: "dispatch", Interval: time.Hour, Run: func(ctx context.Context) error {
		if runs.Add(1) == 1 {
			panic("boom")
		}
		return nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	assert.True(t, r.Trigger("dispatch"))
	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)
	// the panicked instance may still be winding down, so keep nudging
	require.Eventually(t, func() bool {
		r.Trigger("dispatch")
		return runs.Load() >= 2
	}, time.Second, 5*time.Millisecond)
	assert.False(t, r.Trigger("missing"))

	cancel()
	r.Wait()
}

func TestPoolBoundsConcurrency(t *testing.T) {
	p := NewPool(2, zerolog.Nop())
	var cur, peak atomic.Int32
	for i := 0; i < 6; i++ {
		require.NoError(t, p.Go(context.Background(), func() {
			n := cur.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			cur.Add(-1)
		}))
	}
	p.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	block := NewPool(1, zerolog.Nop())
	require.NoError(t, block.Acquire(context.Background()))
	assert.Error(t, block.Go(ctx, func() {}))
	block.Release()
}
