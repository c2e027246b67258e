// Package tasks is the front end's view of the task engine: it creates task
// records and lets their owners inspect, cancel and restart them.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/suPer8Hu/mediagen-relay/internal/models"
	"github.com/suPer8Hu/mediagen-relay/internal/store/sqlstore"
)

var (
	ErrNotFound      = errors.New("task not found")
	ErrNotCancelable = errors.New("task can no longer be canceled")
)

type Store interface {
	CreateTask(ctx context.Context, t *models.Task) error
	GetTask(ctx context.Context, taskID string) (*models.Task, error)
	SaveTaskIfStatus(ctx context.Context, t *models.Task, expected models.TaskStatus) (bool, error)
}

// Notifier is told about new tasks so a worker can pick them up before its
// next dispatch tick.
type Notifier interface {
	PublishTaskCreated(ctx context.Context, taskID string) error
}

type Service struct {
	store  Store
	notify Notifier
	now    func() time.Time
	log    zerolog.Logger
}

// NewService builds the service. notify may be nil.
func NewService(store Store, notify Notifier, log zerolog.Logger) *Service {
	return &Service{store: store, notify: notify, now: time.Now, log: log}
}

type CreateInput struct {
	// TaskID is optional; a fresh uuid is used when empty.
	TaskID     string
	Type       string
	ClientID   uint64
	Parameters map[string]any
	Metadata   map[string]any
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Task, error) {
	if in.Type == "" {
		return nil, errors.New("task type is required")
	}
	t := models.NewTask(in.Type, in.ClientID, in.Parameters, in.Metadata)
	if in.TaskID != "" {
		if _, err := uuid.Parse(in.TaskID); err != nil {
			return nil, fmt.Errorf("task id: %w", err)
		}
		t.TaskID = in.TaskID
	}
	if err := s.store.CreateTask(ctx, t); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	s.log.Info().Str("task_id", t.TaskID).Str("type", t.Type).Uint64("client_id", t.ClientID).Msg("task queued")

	if s.notify != nil {
		if err := s.notify.PublishTaskCreated(ctx, t.TaskID); err != nil {
			s.log.Warn().Err(err).Str("task_id", t.TaskID).Msg("publish task created")
		}
	}
	return t, nil
}

// Get returns the task if clientID owns it. Tasks of other clients read as
// ErrNotFound.
func (s *Service) Get(ctx context.Context, clientID uint64, taskID string) (*models.Task, error) {
	t, err := s.store.GetTask(ctx, taskID)
	if errors.Is(err, sqlstore.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if t.ClientID != clientID {
		return nil, ErrNotFound
	}
	return t, nil
}

// Cancel fails a task that has not finished yet. A vendor job that is
// already running is not stopped; its result is simply never recorded.
func (s *Service) Cancel(ctx context.Context, clientID uint64, taskID string) (*models.Task, error) {
	for attempt := 0; attempt < 3; attempt++ {
		t, err := s.Get(ctx, clientID, taskID)
		if err != nil {
			return nil, err
		}
		if !t.Cancelable() {
			return nil, ErrNotCancelable
		}
		prev := t.Status
		if err := t.Fail(models.CanceledMessage, s.now().UTC()); err != nil {
			return nil, err
		}
		ok, err := s.store.SaveTaskIfStatus(ctx, t, prev)
		if err != nil {
			return nil, fmt.Errorf("cancel task: %w", err)
		}
		if ok {
			s.log.Info().Str("task_id", taskID).Str("from", string(prev)).Msg("task canceled")
			return t, nil
		}
		// the engine moved the task underneath us; look again
	}
	return nil, ErrNotCancelable
}

// Restart queues a copy of an owned task with the same type and parameters.
// metadata is merged over the original metadata.
func (s *Service) Restart(ctx context.Context, clientID uint64, taskID string, metadata map[string]any) (*models.Task, error) {
	orig, err := s.Get(ctx, clientID, taskID)
	if err != nil {
		return nil, err
	}
	merged := maps.Clone(map[string]any(orig.Metadata))
	if merged == nil {
		merged = map[string]any{}
	}
	maps.Copy(merged, metadata)

	t, err := s.Create(ctx, CreateInput{
		Type:       orig.Type,
		ClientID:   clientID,
		Parameters: maps.Clone(map[string]any(orig.Parameters)),
		Metadata:   merged,
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("task_id", t.TaskID).Str("restarted_from", orig.TaskID).Msg("task restarted")
	return t, nil
}

const (
	PublicQueued     = "queued"
	PublicInProgress = "in_progress"
	PublicCompleted  = "completed"
	PublicFailed     = "failed"
	PublicCanceled   = "canceled"
)

// PublicStatus maps an internal status onto the client-facing vocabulary.
func PublicStatus(s models.TaskStatus) string {
	switch s {
	case models.StatusPending, models.StatusStarting:
		return PublicQueued
	case models.StatusProcessing:
		return PublicInProgress
	case models.StatusSuccess:
		return PublicCompleted
	case models.StatusFailed:
		return PublicFailed
	}
	return string(s)
}
