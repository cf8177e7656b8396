package models

import (
	"context"
	"errors"
	"time"

	"github.com/oakfield/lettings_backend/config"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Property struct {
	ID                   uint             `gorm:"primary_key" json:"id"`
	RemoteId             *string          `gorm:"size:64;uniqueIndex" json:"remote_id"`
	Name                 string           `gorm:"size:255;not null" json:"name"`
	AddressLine1         string           `gorm:"size:255" json:"address_line_1"`
	AddressLine2         string           `gorm:"size:255" json:"address_line_2"`
	City                 string           `gorm:"size:100" json:"city"`
	Postcode             string           `gorm:"size:20" json:"postcode"`
	CountryCode          string           `gorm:"size:2" json:"country_code"`
	MonthlyRent          decimal.Decimal  `gorm:"type:decimal(20,2);default:0" json:"monthly_rent"`
	DepositAmount        decimal.Decimal  `gorm:"type:decimal(20,2);default:0" json:"deposit_amount"`
	CommissionPercentage *decimal.Decimal `gorm:"type:decimal(8,2)" json:"commission_percentage"`
	EnablePayments       *bool            `gorm:"default:false" json:"enable_payments"`
	DataSource           string           `gorm:"size:32;not null" json:"data_source"`
	RemoteLastModifiedAt *time.Time       `json:"remote_last_modified_at"`
	LastSyncedAt         *time.Time       `json:"last_synced_at"`
	CreatedAt            time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

// FindPropertyByRemoteId returns (nil, nil) when no row exists.
func FindPropertyByRemoteId(ctx context.Context, db *gorm.DB, remoteId string) (*Property, error) {
	var p Property
	err := db.WithContext(ctx).Where("remote_id = ?", remoteId).Take(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

const commissionRatesCacheKey = "paynest:commission-rates"

// InvalidateCommissionRatesCache drops the cached rate table; property
// upserts call it so rate changes take effect on the next pipeline run.
func InvalidateCommissionRatesCache() {
	_ = config.DeleteRedisKey(commissionRatesCacheKey)
}

// CommissionRatesByRemoteId loads the per-property commission-rate table,
// Redis-cached for a few minutes since the pipeline reads it on every run.
// Only properties that exist remotely and carry a rate are included.
func CommissionRatesByRemoteId(ctx context.Context, db *gorm.DB) (map[string]decimal.Decimal, error) {
	rates := map[string]decimal.Decimal{}
	if found, err := config.GetRedisObject(commissionRatesCacheKey, &rates); err == nil && found {
		return rates, nil
	}

	var properties []Property
	err := db.WithContext(ctx).
		Where("remote_id IS NOT NULL AND commission_percentage IS NOT NULL").
		Find(&properties).Error
	if err != nil {
		return nil, err
	}
	for _, p := range properties {
		if p.RemoteId != nil && p.CommissionPercentage != nil {
			rates[*p.RemoteId] = *p.CommissionPercentage
		}
	}
	_ = config.SetRedisObject(commissionRatesCacheKey, rates, 10*time.Minute)
	return rates, nil
}

func FindPropertiesWithRemoteId(ctx context.Context, db *gorm.DB) ([]*Property, error) {
	var properties []*Property
	err := db.WithContext(ctx).Where("remote_id IS NOT NULL").Find(&properties).Error
	return properties, err
}
