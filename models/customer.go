package models

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// Customer is a party record: tenant, property owner or plain contact.
// RemoteLastModifiedAt is the remote system's own update timestamp as of the
// last sync; the conflict resolver compares it against UpdatedAt.
type Customer struct {
	ID                   uint          `gorm:"primary_key" json:"id"`
	RemoteId             *string       `gorm:"size:64;uniqueIndex" json:"remote_id"`
	CustomerType         CustomerType  `gorm:"size:20;not null;default:'TENANT'" json:"customer_type"`
	AccountType          AccountType   `gorm:"size:20;not null;default:'individual'" json:"account_type"`
	PaymentMethod        PaymentMethod `gorm:"size:20;not null;default:'local'" json:"payment_method"`
	FirstName            string        `gorm:"size:100" json:"first_name"`
	LastName             string        `gorm:"size:100" json:"last_name"`
	BusinessName         string        `gorm:"size:255" json:"business_name"`
	DisplayName          string        `gorm:"size:255;not null" json:"display_name"`
	Email                string        `gorm:"size:100" json:"email"`
	Phone                string        `gorm:"size:30" json:"phone"`
	Mobile               string        `gorm:"size:30" json:"mobile"`
	PropertyRemoteId     string        `gorm:"size:64;index" json:"property_remote_id"`
	DataSource           string        `gorm:"size:32;not null" json:"data_source"`
	RemoteLastModifiedAt *time.Time    `json:"remote_last_modified_at"`
	LastSyncedAt         *time.Time    `json:"last_synced_at"`
	CreatedAt            time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

// FindCustomerByRemoteId returns (nil, nil) when no row exists.
func FindCustomerByRemoteId(ctx context.Context, db *gorm.DB, remoteId string) (*Customer, error) {
	var c Customer
	err := db.WithContext(ctx).Where("remote_id = ?", remoteId).Take(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func FindCustomersWithRemoteId(ctx context.Context, db *gorm.DB) ([]*Customer, error) {
	var customers []*Customer
	err := db.WithContext(ctx).Where("remote_id IS NOT NULL").Find(&customers).Error
	return customers, err
}
