package generation

import (
	"context"
	"strings"
	"sync"

	"github.com/suPer8Hu/mediagen-relay/internal/models"
)

// Handler builds the vendor payload for one task type and submits it. It
// returns the vendor job-set id.
type Handler interface {
	Submit(ctx context.Context, task *models.Task, acct *models.Account) (string, error)
}

type HandlerFunc func(ctx context.Context, task *models.Task, acct *models.Account) (string, error)

func (f HandlerFunc) Submit(ctx context.Context, task *models.Task, acct *models.Account) (string, error) {
	return f(ctx, task, acct)
}

type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(taskType string, h Handler) {
	taskType = strings.ToLower(strings.TrimSpace(taskType))
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[taskType] = h
}

func (r *Registry) Get(taskType string) (Handler, bool) {
	taskType = strings.ToLower(strings.TrimSpace(taskType))
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[taskType]
	return h, ok
}

func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		out = append(out, k)
	}
	return out
}
