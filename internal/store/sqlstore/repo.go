package sqlstore

import (
	"context"
	"errors"
	"time"

	"github.com/suPer8Hu/mediagen-relay/internal/models"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("record not found")

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// Task CRUD
func (r *Repo) CreateTask(ctx context.Context, t *models.Task) error {
	return r.db.WithContext(ctx).Create(t).Error
}

func (r *Repo) GetTask(ctx context.Context, taskID string) (*models.Task, error) {
	var t models.Task
	if err := r.db.WithContext(ctx).First(&t, "task_id = ?", taskID).Error; err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

// ListTasksByStatus returns tasks in creation order.
func (r *Repo) ListTasksByStatus(ctx context.Context, status models.TaskStatus) ([]models.Task, error) {
	var tasks []models.Task
	if err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("id ASC").
		Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// SaveTask writes the whole row.
func (r *Repo) SaveTask(ctx context.Context, t *models.Task) error {
	return r.db.WithContext(ctx).Save(t).Error
}

// SaveTaskIfStatus writes the whole row only while the stored status still
// equals expected. It reports false when another writer moved the task first.
func (r *Repo) SaveTaskIfStatus(ctx context.Context, t *models.Task, expected models.TaskStatus) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Task{ID: t.ID}).
		Where("status = ?", expected).
		Select("*").
		Omit("id", "created_at").
		Updates(t)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListUndelivered selects finished tasks whose delivery is neither claimed
// nor done and which still have retry budget.
func (r *Repo) ListUndelivered(ctx context.Context, maxRetries int) ([]models.Task, error) {
	var tasks []models.Task
	if err := r.db.WithContext(ctx).
		Where("status IN ? AND delivery_state = ? AND is_delivered = ? AND retries < ?",
			[]models.TaskStatus{models.StatusSuccess, models.StatusFailed},
			models.DeliveryPending, false, maxRetries).
		Order("id ASC").
		Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// ClaimDelivery flips delivery_state from pending to in_flight. Only one caller
// can win the claim for a given task.
func (r *Repo) ClaimDelivery(ctx context.Context, t *models.Task) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Task{}).
		Where("id = ? AND delivery_state = ?", t.ID, models.DeliveryPending).
		Update("delivery_state", models.DeliveryInFlight)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected != 1 {
		return false, nil
	}
	t.DeliveryState = models.DeliveryInFlight
	return true, nil
}

// RecoverInterrupted releases claims left by a previous process: tasks stuck
// in starting go back to pending and in-flight deliveries are reopened.
func (r *Repo) RecoverInterrupted(ctx context.Context) (tasks int64, deliveries int64, err error) {
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Task{}).
			Where("status = ?", models.StatusStarting).
			Update("status", models.StatusPending)
		if res.Error != nil {
			return res.Error
		}
		tasks = res.RowsAffected

		res = tx.Model(&models.Task{}).
			Where("delivery_state = ?", models.DeliveryInFlight).
			Update("delivery_state", models.DeliveryPending)
		if res.Error != nil {
			return res.Error
		}
		deliveries = res.RowsAffected
		return nil
	})
	return tasks, deliveries, err
}

// Accounts
func (r *Repo) CreateAccount(ctx context.Context, a *models.Account) error {
	return r.db.WithContext(ctx).Create(a).Error
}

func (r *Repo) GetAccount(ctx context.Context, id uint64) (*models.Account, error) {
	var a models.Account
	if err := r.db.WithContext(ctx).First(&a, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (r *Repo) SaveAccount(ctx context.Context, a *models.Account) error {
	return r.db.WithContext(ctx).Save(a).Error
}

// UpdateAccountBalance writes only the columns a balance refresh owns and
// leaves last_used_at to the rotation.
func (r *Repo) UpdateAccountBalance(ctx context.Context, a *models.Account) error {
	return r.db.WithContext(ctx).
		Model(&models.Account{ID: a.ID}).
		Select("balance", "subscription", "subscription_end_at", "last_updated_at").
		Updates(a).Error
}

func (r *Repo) ListActiveAccounts(ctx context.Context) ([]models.Account, error) {
	var accounts []models.Account
	if err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("id ASC").
		Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

func (r *Repo) CountActiveAccounts(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Account{}).Where("is_active = ?", true).Count(&n).Error
	return n, err
}

// NextAccount picks the active account used least recently (never-used first),
// stamps it with now and returns it.
func (r *Repo) NextAccount(ctx context.Context, now time.Time) (*models.Account, error) {
	var picked models.Account
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("is_active = ?", true).
			Order("last_used_at IS NOT NULL, last_used_at ASC, id ASC").
			First(&picked).Error; err != nil {
			return err
		}
		picked.LastUsedAt = &now
		return tx.Model(&models.Account{}).
			Where("id = ?", picked.ID).
			Update("last_used_at", now).Error
	})
	if err != nil {
		return nil, notFound(err)
	}
	return &picked, nil
}

// Clients
func (r *Repo) CreateClient(ctx context.Context, c *models.Client) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *Repo) SaveClient(ctx context.Context, c *models.Client) error {
	return r.db.WithContext(ctx).Save(c).Error
}

func (r *Repo) GetClient(ctx context.Context, id uint64) (*models.Client, error) {
	var c models.Client
	if err := r.db.WithContext(ctx).First(&c, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (r *Repo) GetClientByToken(ctx context.Context, token string) (*models.Client, error) {
	var c models.Client
	if err := r.db.WithContext(ctx).Where("token = ?", token).First(&c).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (r *Repo) GetClientByUsername(ctx context.Context, username string) (*models.Client, error) {
	var c models.Client
	if err := r.db.WithContext(ctx).Where("username = ?", username).First(&c).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}
