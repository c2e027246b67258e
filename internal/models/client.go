package models

import "time"

// Client is an API consumer. Token authenticates requests and seeds the
// webhook signing key.
type Client struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Username     string    `gorm:"type:varchar(100);uniqueIndex;not null" json:"username"`
	PasswordHash string    `gorm:"type:varchar(100);not null" json:"-"`
	Token        string    `gorm:"type:varchar(32);uniqueIndex;not null" json:"-"`
	WebhookURL   string    `gorm:"type:text" json:"webhook_url,omitempty"`
	IsAdmin      bool      `gorm:"not null" json:"is_admin"`
	IsActive     bool      `gorm:"not null" json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (Client) TableName() string { return "clients" }
