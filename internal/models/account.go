package models

import (
	"time"

	"gorm.io/datatypes"
)

// Account is a vendor login whose browser cookies back every vendor call
// made on its behalf.
type Account struct {
	ID       uint64  `gorm:"primaryKey;autoIncrement" json:"id"`
	Username *string `gorm:"type:varchar(100);uniqueIndex" json:"username,omitempty"`
	IsActive bool    `gorm:"index;not null" json:"is_active"`

	Balance           int64      `gorm:"not null" json:"balance"`
	Subscription      string     `gorm:"type:varchar(100);not null;default:free" json:"subscription"`
	SubscriptionEndAt *time.Time `json:"subscription_end_at,omitempty"`

	// Cookies is the opaque browser storage-state cookie list.
	Cookies datatypes.JSON `json:"-"`

	LastUsedAt    *time.Time `gorm:"index" json:"last_used_at,omitempty"`
	LastUpdatedAt *time.Time `json:"last_updated_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func (Account) TableName() string { return "accounts" }
