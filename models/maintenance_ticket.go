package models

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type MaintenanceTicket struct {
	ID               uint       `gorm:"primary_key" json:"id"`
	RemoteId         *string    `gorm:"size:64;uniqueIndex" json:"remote_id"`
	PropertyRemoteId string     `gorm:"size:64;index" json:"property_remote_id"`
	TenantRemoteId   string     `gorm:"size:64;index" json:"tenant_remote_id"`
	CategoryRemoteId string     `gorm:"size:64" json:"category_remote_id"`
	Subject          string     `gorm:"size:255" json:"subject"`
	Description      string     `gorm:"type:text" json:"description"`
	Status           string     `gorm:"size:30;default:'new'" json:"status"`
	IsEmergency      bool       `gorm:"default:false" json:"is_emergency"`
	DataSource       string     `gorm:"size:32;not null" json:"data_source"`
	LastSyncedAt     *time.Time `json:"last_synced_at"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// MaintenanceCategory mirrors the remote category list so tickets can be
// grouped without a remote lookup.
type MaintenanceCategory struct {
	ID           uint       `gorm:"primary_key" json:"id"`
	RemoteId     *string    `gorm:"size:64;uniqueIndex" json:"remote_id"`
	Name         string     `gorm:"size:100;not null" json:"name"`
	DataSource   string     `gorm:"size:32;not null" json:"data_source"`
	LastSyncedAt *time.Time `json:"last_synced_at"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func FindMaintenanceCategoryByRemoteId(ctx context.Context, db *gorm.DB, remoteId string) (*MaintenanceCategory, error) {
	var cat MaintenanceCategory
	err := db.WithContext(ctx).Where("remote_id = ?", remoteId).Take(&cat).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cat, nil
}

func FindMaintenanceTicketByRemoteId(ctx context.Context, db *gorm.DB, remoteId string) (*MaintenanceTicket, error) {
	var t MaintenanceTicket
	err := db.WithContext(ctx).Where("remote_id = ?", remoteId).Take(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}
