package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CreditProfile is the mutable per-user row: current balance and plan tier.
type CreditProfile struct {
	UserID    string    `gorm:"primaryKey"`
	Credits   int64     `gorm:"not null;default:0"`
	PlanType  string    `gorm:"not null;default:free"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (CreditProfile) TableName() string { return "credit_profiles" }

// CreditTransaction mirrors the credit_transactions table. Rows are append-only.
type CreditTransaction struct {
	TransactionID   string         `gorm:"type:uuid;primaryKey"`
	UserID          string         `gorm:"not null;index:idx_credit_tx_user_created,priority:1;index:uniq_credit_tx_user_idem,unique,priority:1"`
	Amount          int64          `gorm:"not null"`
	BalanceAfter    int64          `gorm:"not null"`
	TransactionType string         `gorm:"not null"`
	Description     string         `gorm:"not null"`
	IdempotencyKey  *string        `gorm:"index:uniq_credit_tx_user_idem,unique,priority:2"`
	Metadata        datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt       time.Time      `gorm:"not null;index:idx_credit_tx_user_created,priority:2"`
}

func (CreditTransaction) TableName() string { return "credit_transactions" }

func (transaction *CreditTransaction) BeforeCreate(tx *gorm.DB) error {
	if transaction.TransactionID == "" {
		transaction.TransactionID = uuid.NewString()
	}
	return nil
}
