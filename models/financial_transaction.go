package models

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// FinancialTransaction holds reconciled actuals pulled from the remote
// ledger plus rows synthesized locally (derived commission, historical
// imports). Idempotence key is (data_source, remote_id): the same remote
// record can legitimately appear under more than one report endpoint.
type FinancialTransaction struct {
	ID                 uint            `gorm:"primary_key" json:"id"`
	RemoteId           string          `gorm:"size:64;not null;uniqueIndex:idx_txn_source_remote,priority:2" json:"remote_id"`
	DataSource         string          `gorm:"size:32;not null;uniqueIndex:idx_txn_source_remote,priority:1" json:"data_source"`
	Amount             decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	TransactionDate    time.Time       `gorm:"not null;index" json:"transaction_date"`
	ReconciliationDate *time.Time      `json:"reconciliation_date"`
	TransactionType    TransactionType `gorm:"size:40;index" json:"transaction_type"`
	Description        string          `gorm:"type:text" json:"description"`

	PropertyRemoteId string `gorm:"size:64;index" json:"property_remote_id"`
	PropertyName     string `gorm:"size:255" json:"property_name"`
	TenantRemoteId   string `gorm:"size:64;index" json:"tenant_remote_id"`
	TenantName       string `gorm:"size:255" json:"tenant_name"`
	CategoryRemoteId string `gorm:"size:64" json:"category_remote_id"`
	CategoryName     string `gorm:"size:255" json:"category_name"`

	DepositId     string `gorm:"size:64" json:"deposit_id"`
	PaymentMethod string `gorm:"size:20" json:"payment_method"`

	// Commission fields are populated by the calculation pass, never at
	// ingestion time. Nil means "not yet calculated".
	CommissionRate             *decimal.Decimal `gorm:"type:decimal(8,2)" json:"commission_rate"`
	CalculatedCommissionAmount *decimal.Decimal `gorm:"type:decimal(20,2)" json:"calculated_commission_amount"`
	ActualCommissionAmount     *decimal.Decimal `gorm:"type:decimal(20,2)" json:"actual_commission_amount"`
	ServiceFeeAmount           *decimal.Decimal `gorm:"type:decimal(20,2)" json:"service_fee_amount"`
	NetToOwnerAmount           *decimal.Decimal `gorm:"type:decimal(20,2)" json:"net_to_owner_amount"`

	IsInstruction bool `gorm:"default:false" json:"is_instruction"`
	IsActual      bool `gorm:"default:false" json:"is_actual"`

	LastSyncedAt *time.Time `json:"last_synced_at"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (FinancialTransaction) TableName() string {
	return "financial_transactions"
}

// ExistsByRemoteIdAndDataSource is the ingestion duplicate check.
func ExistsByRemoteIdAndDataSource(ctx context.Context, db *gorm.DB, remoteId string, dataSource string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Model(&FinancialTransaction{}).
		Where("remote_id = ? AND data_source = ?", remoteId, dataSource).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// FindTransactionByRemoteIdAndSource returns (nil, nil) when no row exists.
func FindTransactionByRemoteIdAndSource(ctx context.Context, db *gorm.DB, remoteId string, dataSource string) (*FinancialTransaction, error) {
	var t FinancialTransaction
	err := db.WithContext(ctx).
		Where("remote_id = ? AND data_source = ?", remoteId, dataSource).
		Take(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

func FindTransactionsByDataSourceAndType(ctx context.Context, db *gorm.DB, dataSource string, txnType TransactionType) ([]FinancialTransaction, error) {
	var txns []FinancialTransaction
	err := db.WithContext(ctx).
		Where("data_source = ? AND transaction_type = ?", dataSource, txnType).
		Order("transaction_date asc, id asc").
		Find(&txns).Error
	return txns, err
}

func FindTransactionsByDateRange(ctx context.Context, db *gorm.DB, from time.Time, to time.Time) ([]FinancialTransaction, error) {
	var txns []FinancialTransaction
	err := db.WithContext(ctx).
		Where("transaction_date >= ? AND transaction_date <= ?", from, to).
		Order("transaction_date asc, id asc").
		Find(&txns).Error
	return txns, err
}

func FindTransactionsByPropertyAndDateRange(ctx context.Context, db *gorm.DB, propertyRemoteId string, from time.Time, to time.Time) ([]FinancialTransaction, error) {
	var txns []FinancialTransaction
	err := db.WithContext(ctx).
		Where("property_remote_id = ? AND transaction_date >= ? AND transaction_date <= ?", propertyRemoteId, from, to).
		Order("transaction_date asc, id asc").
		Find(&txns).Error
	return txns, err
}
