package models

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Lease is a forward-looking invoice instruction: what should be collected,
// as opposed to the reconciled actuals held in financial_transactions.
type Lease struct {
	ID               uint            `gorm:"primary_key" json:"id"`
	RemoteId         *string         `gorm:"size:64;uniqueIndex" json:"remote_id"`
	PropertyRemoteId string          `gorm:"size:64;index" json:"property_remote_id"`
	TenantRemoteId   string          `gorm:"size:64;index" json:"tenant_remote_id"`
	CategoryRemoteId string          `gorm:"size:64" json:"category_remote_id"`
	Amount           decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	Frequency        string          `gorm:"size:20" json:"frequency"`
	PaymentDay       int             `json:"payment_day"`
	FromDate         *time.Time      `json:"from_date"`
	ToDate           *time.Time      `json:"to_date"`
	Description      string          `gorm:"type:text" json:"description"`
	DataSource       string          `gorm:"size:32;not null" json:"data_source"`
	LastSyncedAt     *time.Time      `json:"last_synced_at"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// FindLeaseByRemoteId returns (nil, nil) when no row exists.
func FindLeaseByRemoteId(ctx context.Context, db *gorm.DB, remoteId string) (*Lease, error) {
	var l Lease
	err := db.WithContext(ctx).Where("remote_id = ?", remoteId).Take(&l).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &l, nil
}
