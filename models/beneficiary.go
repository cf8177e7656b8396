package models

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type Beneficiary struct {
	ID              uint          `gorm:"primary_key" json:"id"`
	RemoteId        *string       `gorm:"size:64;uniqueIndex" json:"remote_id"`
	BeneficiaryType string        `gorm:"size:30;not null;default:'beneficiary'" json:"beneficiary_type"`
	AccountType     AccountType   `gorm:"size:20;not null;default:'individual'" json:"account_type"`
	PaymentMethod   PaymentMethod `gorm:"size:20;not null;default:'local'" json:"payment_method"`
	FirstName       string        `gorm:"size:100" json:"first_name"`
	LastName        string        `gorm:"size:100" json:"last_name"`
	BusinessName    string        `gorm:"size:255" json:"business_name"`
	DisplayName     string        `gorm:"size:255;not null" json:"display_name"`
	Email           string        `gorm:"size:100" json:"email"`
	Phone           string        `gorm:"size:30" json:"phone"`
	VatNumber       string        `gorm:"size:30" json:"vat_number"`
	DataSource      string        `gorm:"size:32;not null" json:"data_source"`
	LastSyncedAt    *time.Time    `json:"last_synced_at"`
	CreatedAt       time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

// FindBeneficiaryByRemoteId returns (nil, nil) when no row exists.
func FindBeneficiaryByRemoteId(ctx context.Context, db *gorm.DB, remoteId string) (*Beneficiary, error) {
	var b Beneficiary
	err := db.WithContext(ctx).Where("remote_id = ?", remoteId).Take(&b).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}
