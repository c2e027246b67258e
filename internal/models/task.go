package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusStarting   TaskStatus = "starting"
	StatusProcessing TaskStatus = "processing"
	StatusSuccess    TaskStatus = "success"
	StatusFailed     TaskStatus = "failed"
)

// DeliveryState tracks webhook delivery independently of the generation outcome.
type DeliveryState string

const (
	DeliveryPending   DeliveryState = "pending"
	DeliveryInFlight  DeliveryState = "in_flight"
	DeliveryDelivered DeliveryState = "delivered"
	DeliveryExhausted DeliveryState = "exhausted"
)

const (
	TypeTextToImage  = "t2i"
	TypeSoul         = "soul"
	TypeImageToVideo = "i2v"
)

// CanceledMessage is recorded on tasks failed through a client cancel.
const CanceledMessage = "Canceled by user"

var ErrInvalidTransition = errors.New("invalid task status transition")

var taskTransitions = map[TaskStatus][]TaskStatus{
	StatusPending:    {StatusStarting, StatusFailed},
	StatusStarting:   {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusSuccess, StatusFailed},
}

type Task struct {
	ID uint64 `gorm:"primaryKey;autoIncrement" json:"-"`

	TaskID    string  `gorm:"type:varchar(36);uniqueIndex;not null" json:"task_id"`
	APITaskID *string `gorm:"type:varchar(64)" json:"api_task_id,omitempty"`
	Type      string  `gorm:"type:varchar(20);not null" json:"type"`

	Status        TaskStatus    `gorm:"type:varchar(16);index;not null" json:"status"`
	DeliveryState DeliveryState `gorm:"type:varchar(16);index;not null" json:"delivery_state"`

	Parameters datatypes.JSONMap           `json:"parameters"`
	Metadata   datatypes.JSONMap           `json:"metadata"`
	Result     datatypes.JSONSlice[string] `json:"result"`
	Message    string                      `gorm:"type:text" json:"message,omitempty"`

	IsDelivered bool `gorm:"not null" json:"is_delivered"`
	Retries     int  `gorm:"not null" json:"retries"`

	ClientID  uint64  `gorm:"index;not null" json:"-"`
	AccountID *uint64 `gorm:"index" json:"-"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
}

func (Task) TableName() string { return "tasks" }

// NewTask builds a pending, undelivered task with a fresh uuid.
func NewTask(taskType string, clientID uint64, params, metadata map[string]any) *Task {
	if params == nil {
		params = map[string]any{}
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	return &Task{
		TaskID:        uuid.NewString(),
		Type:          taskType,
		Status:        StatusPending,
		DeliveryState: DeliveryPending,
		Parameters:    datatypes.JSONMap(params),
		Metadata:      datatypes.JSONMap(metadata),
		Result:        datatypes.JSONSlice[string]{},
		ClientID:      clientID,
	}
}

func (t *Task) CanTransition(to TaskStatus) bool {
	for _, s := range taskTransitions[t.Status] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionTo moves the task along the generation state machine and stamps
// StartedAt on the first entry into processing and FinishedAt on terminal states.
func (t *Task) TransitionTo(to TaskStatus, now time.Time) error {
	if !t.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, to)
	}
	t.Status = to
	switch to {
	case StatusProcessing:
		if t.StartedAt == nil {
			t.StartedAt = &now
		}
	case StatusSuccess, StatusFailed:
		t.FinishedAt = &now
	}
	return nil
}

// Fail moves the task to failed with msg as the recorded reason.
func (t *Task) Fail(msg string, now time.Time) error {
	if err := t.TransitionTo(StatusFailed, now); err != nil {
		return err
	}
	t.Message = msg
	return nil
}

func (t *Task) Succeed(urls []string, now time.Time) error {
	if err := t.TransitionTo(StatusSuccess, now); err != nil {
		return err
	}
	t.Result = datatypes.JSONSlice[string](urls)
	return nil
}

func (t *Task) IsTerminal() bool {
	return t.Status == StatusSuccess || t.Status == StatusFailed
}

func (t *Task) Cancelable() bool {
	switch t.Status {
	case StatusPending, StatusStarting, StatusProcessing:
		return true
	}
	return false
}

// ResetForRecovery undoes claims left behind by an interrupted process:
// starting goes back to pending and an in-flight delivery is released.
// It reports whether anything changed.
func (t *Task) ResetForRecovery() bool {
	changed := false
	if t.Status == StatusStarting {
		t.Status = StatusPending
		changed = true
	}
	if t.DeliveryState == DeliveryInFlight {
		t.DeliveryState = DeliveryPending
		changed = true
	}
	return changed
}

// MarkDelivered records a successful webhook delivery.
func (t *Task) MarkDelivered(now time.Time) {
	t.IsDelivered = true
	t.DeliveryState = DeliveryDelivered
	t.DeliveredAt = &now
}

// FailureDetail is the client-facing reason for a failed task.
func (t *Task) FailureDetail() string {
	if t.Message != "" {
		return t.Message
	}
	if len(t.Result) > 0 {
		return t.Result[0]
	}
	return "Unknown error"
}
