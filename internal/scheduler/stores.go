package scheduler

import (
	"context"

	"github.com/suPer8Hu/mediagen-relay/internal/gateway"
	"github.com/suPer8Hu/mediagen-relay/internal/generation"
	"github.com/suPer8Hu/mediagen-relay/internal/models"
)

type TaskStore interface {
	ListTasksByStatus(ctx context.Context, status models.TaskStatus) ([]models.Task, error)
	SaveTask(ctx context.Context, t *models.Task) error
	SaveTaskIfStatus(ctx context.Context, t *models.Task, expected models.TaskStatus) (bool, error)
	ListUndelivered(ctx context.Context, maxRetries int) ([]models.Task, error)
	ClaimDelivery(ctx context.Context, t *models.Task) (bool, error)
	RecoverInterrupted(ctx context.Context) (tasks int64, deliveries int64, err error)
}

type ClientStore interface {
	GetClient(ctx context.Context, id uint64) (*models.Client, error)
}

type AccountLookup interface {
	GetAccount(ctx context.Context, id uint64) (*models.Account, error)
}

type AccountPicker interface {
	Next(ctx context.Context) (*models.Account, error)
}

type HandlerSource interface {
	Get(taskType string) (generation.Handler, bool)
}

type StatusSource interface {
	GetJobStatus(ctx context.Context, jobSetID string, acct *models.Account) (*gateway.JobRecord, error)
}

type WebhookSender interface {
	Send(ctx context.Context, url, token string, body []byte) error
}
