package paynestsync

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/oakfield/lettings_backend/config"
	"github.com/oakfield/lettings_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Rejection reasons counted during ingestion.
const (
	RejectNegativeAmount = "negative_amount"
	RejectDuplicate      = "duplicate"
	RejectInvalidType    = "invalid_type"
	RejectMissingData    = "missing_data"
)

var serviceFeePercent = decimal.NewFromInt(5)

// commissionLinkToleranceDays bounds how far apart a rent transaction and
// its actual commission payment may sit and still be considered the same
// rent period.
const commissionLinkToleranceDays = 7

// Derived commission rows carry this id prefix so re-runs recognize their
// own output.
const derivedCommissionPrefix = "COMM_"

// CommissionBreakdown is the expected money split for one rent amount.
type CommissionBreakdown struct {
	Commission decimal.Decimal
	ServiceFee decimal.Decimal
	NetToOwner decimal.Decimal
}

// CalculateCommissionBreakdown computes commission = rent x rate / 100 and a
// fixed 5% service fee, both rounded half-up at 2 decimal places;
// net-to-owner is what remains.
func CalculateCommissionBreakdown(rent decimal.Decimal, ratePercent decimal.Decimal) CommissionBreakdown {
	hundred := decimal.NewFromInt(100)
	commission := rent.Mul(ratePercent).Div(hundred).Round(2)
	serviceFee := rent.Mul(serviceFeePercent).Div(hundred).Round(2)
	return CommissionBreakdown{
		Commission: commission,
		ServiceFee: serviceFee,
		NetToOwner: rent.Sub(commission).Sub(serviceFee),
	}
}

var depositKeywords = []string{"deposit", "security", "bond"}

func isDepositRelated(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range depositKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

var maintenanceKeywords = []string{
	"maintenance", "contractor", "repair", "plumber", "electrician",
	"gardening", "cleaning", "handyman", "painting", "roofing", "heating",
	"building", "appliance", "boiler", "window", "door", "flooring",
	"pest", "gutter", "fence",
}

func isMaintenanceRelated(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range maintenanceKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// InferTransactionType classifies a payment record that arrived without an
// explicit type. Ordered cascade: deposit keywords first, then the
// beneficiary type, then category keywords, then the generic default.
func InferTransactionType(category string, description string, beneficiaryType string) models.TransactionType {
	combined := category + " " + description

	if isDepositRelated(combined) {
		return models.TransactionTypeDeposit
	}

	switch strings.ToLower(strings.TrimSpace(beneficiaryType)) {
	case models.BeneficiaryTypeAgency:
		return models.TransactionTypePaymentToAgency
	case models.BeneficiaryTypeBeneficiary, models.BeneficiaryTypeGlobalBeneficiary:
		if isMaintenanceRelated(combined) {
			return models.TransactionTypePaymentToContractor
		}
		return models.TransactionTypePaymentToBeneficiary
	case models.BeneficiaryTypePropertyAccount:
		return models.TransactionTypePaymentPropertyAccount
	case models.BeneficiaryTypeDepositAccount:
		return models.TransactionTypePaymentDepositAccount
	}

	lowerCategory := strings.ToLower(category)
	if strings.Contains(lowerCategory, "commission") || strings.Contains(lowerCategory, "fee") {
		return models.TransactionTypeCommissionPayment
	}
	if isMaintenanceRelated(lowerCategory) {
		return models.TransactionTypePaymentToContractor
	}
	if strings.Contains(lowerCategory, "refund") {
		return models.TransactionTypeRefund
	}

	return models.TransactionTypePaymentToBeneficiary
}

// MapTransaction turns one remote ledger/report document into a persistable
// row. Amount and date are mandatory; type is parsed when present and
// inferred otherwise.
func MapTransaction(doc RemoteDocument, dataSource string) (*models.FinancialTransaction, error) {
	remoteId := remoteIdOf(doc)
	if remoteId == "" {
		return nil, errMissingRemoteId
	}

	amount, ok := doc.GetDecimal("amount")
	if !ok {
		return nil, errMissingAmount
	}
	date, ok := doc.GetTime("transaction_date")
	if !ok {
		date, ok = doc.GetTime("date")
	}
	if !ok {
		return nil, errMissingDate
	}

	category := doc.FirstString("category.name", "category")
	description := doc.GetString("description")

	txnType, known := models.ParseTransactionType(doc.FirstString("type", "transaction_type"))
	if !known {
		txnType = InferTransactionType(category, description, doc.FirstString("beneficiary_type", "beneficiary.type"))
	}

	txn := &models.FinancialTransaction{
		RemoteId:         remoteId,
		DataSource:       dataSource,
		Amount:           amount,
		TransactionDate:  date,
		TransactionType:  txnType,
		Description:      description,
		PropertyRemoteId: doc.FirstString("property.id", "property_id"),
		PropertyName:     doc.FirstString("property.name", "property_name"),
		TenantRemoteId:   doc.FirstString("tenant.id", "tenant_id"),
		TenantName:       doc.FirstString("tenant.name", "tenant_name"),
		CategoryRemoteId: doc.FirstString("category.id", "category_id"),
		CategoryName:     category,
		DepositId:        doc.GetString("deposit_id"),
		PaymentMethod:    doc.GetString("payment_method"),
		IsInstruction:    dataSource == models.DataSourceRemoteInstruction,
		IsActual:         dataSource == models.DataSourceRemotePayments || dataSource == models.DataSourceRemoteLedger,
	}
	if reconciled, ok := doc.GetTime("reconciliation_date"); ok {
		txn.ReconciliationDate = &reconciled
	}
	return txn, nil
}

var (
	errMissingAmount = errors.New("transaction amount missing")
	errMissingDate   = errors.New("transaction date missing")
)

// IngestTransactions persists mapped transactions one transaction boundary
// per record. Duplicates count as already-synced, never as failures.
// Negative amounts are persisted and counted, not dropped: reporting must
// see them even though commission calculation ignores them.
func IngestTransactions(ctx context.Context, db *gorm.DB, txns []*models.FinancialTransaction, result *SyncResult) {
	now := time.Now()
	for _, txn := range txns {
		if err := ctx.Err(); err != nil {
			return
		}
		if txn.RemoteId == "" || txn.TransactionDate.IsZero() {
			result.Reject(RejectMissingData)
			continue
		}
		if _, known := models.ParseTransactionType(string(txn.TransactionType)); !known {
			result.Reject(RejectInvalidType)
			continue
		}
		if txn.Amount.IsNegative() {
			if result.Rejected == nil {
				result.Rejected = map[string]int{}
			}
			result.Rejected[RejectNegativeAmount]++
		}

		exists, err := models.ExistsByRemoteIdAndDataSource(ctx, db, txn.RemoteId, txn.DataSource)
		if err != nil {
			result.AddError("lookup " + txn.RemoteId + ": " + err.Error())
			continue
		}
		if exists {
			result.Reject(RejectDuplicate)
			continue
		}

		txn.LastSyncedAt = &now
		err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return tx.Create(txn).Error
		})
		if err != nil {
			if isDuplicateKey(err) {
				result.Reject(RejectDuplicate)
				continue
			}
			result.AddError("persist " + txn.RemoteId + ": " + err.Error())
			continue
		}
		result.Created++
	}
}

// CalculateCommissions fills the expected commission figures on accepted
// rent invoices that do not carry one yet. Deposit-category rows and
// negative amounts are excluded.
func CalculateCommissions(ctx context.Context, db *gorm.DB, rates map[string]decimal.Decimal) (int, error) {
	var rents []models.FinancialTransaction
	err := db.WithContext(ctx).
		Where("transaction_type = ? AND calculated_commission_amount IS NULL", models.TransactionTypeInvoice).
		Find(&rents).Error
	if err != nil {
		return 0, err
	}

	logger := config.GetLogger()
	updated := 0
	for _, rent := range rents {
		if err := ctx.Err(); err != nil {
			return updated, err
		}
		if rent.Amount.IsNegative() || isDepositRelated(rent.CategoryName) {
			continue
		}
		rate, ok := rates[rent.PropertyRemoteId]
		if !ok {
			continue
		}
		breakdown := CalculateCommissionBreakdown(rent.Amount, rate)

		err := db.WithContext(ctx).
			Model(&models.FinancialTransaction{}).
			Where("id = ? AND calculated_commission_amount IS NULL", rent.ID).
			Updates(map[string]interface{}{
				"commission_rate":              rate,
				"calculated_commission_amount": breakdown.Commission,
				"service_fee_amount":           breakdown.ServiceFee,
				"net_to_owner_amount":          breakdown.NetToOwner,
			}).Error
		if err != nil {
			config.LogError(logger, "paynestsync", "CalculateCommissions", rent.RemoteId, nil, err)
			continue
		}
		updated++
	}

	logger.WithFields(logrus.Fields{"updated": updated}).Info("commission calculation pass complete")
	return updated, nil
}

// SynthesizeActualCommissions creates derived actual commission-payment
// rows, one per eligible rent transaction, under the COMM_ prefixed id and
// the derived data source. Re-runs see their own rows and skip them.
func SynthesizeActualCommissions(ctx context.Context, db *gorm.DB, rates map[string]decimal.Decimal) (int, error) {
	var rents []models.FinancialTransaction
	err := db.WithContext(ctx).
		Where("transaction_type = ? AND data_source <> ?", models.TransactionTypeInvoice, models.DataSourceCommissionDerived).
		Find(&rents).Error
	if err != nil {
		return 0, err
	}

	now := time.Now()
	created := 0
	for _, rent := range rents {
		if err := ctx.Err(); err != nil {
			return created, err
		}
		if rent.Amount.IsNegative() || isDepositRelated(rent.CategoryName) {
			continue
		}
		rate, ok := rates[rent.PropertyRemoteId]
		if !ok {
			continue
		}

		derivedId := derivedCommissionPrefix + rent.RemoteId
		exists, err := models.ExistsByRemoteIdAndDataSource(ctx, db, derivedId, models.DataSourceCommissionDerived)
		if err != nil {
			return created, err
		}
		if exists {
			continue
		}

		breakdown := CalculateCommissionBreakdown(rent.Amount, rate)
		derived := &models.FinancialTransaction{
			RemoteId:               derivedId,
			DataSource:             models.DataSourceCommissionDerived,
			Amount:                 breakdown.Commission,
			TransactionDate:        rent.TransactionDate,
			TransactionType:        models.TransactionTypeCommissionPayment,
			Description:            "Commission on " + rent.RemoteId,
			PropertyRemoteId:       rent.PropertyRemoteId,
			PropertyName:           rent.PropertyName,
			CommissionRate:         &rate,
			ActualCommissionAmount: &breakdown.Commission,
			IsActual:               true,
			LastSyncedAt:           &now,
		}
		err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return tx.Create(derived).Error
		})
		if err != nil {
			if isDuplicateKey(err) {
				continue
			}
			return created, err
		}
		created++
	}
	return created, nil
}

func absDays(a time.Time, b time.Time) int {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return int(d.Hours() / 24)
}

type commissionLink struct {
	rentID uint
	amount decimal.Decimal
}

// matchCommissionLinks pairs actual commission payments with rent
// transactions on the same property dated within the tolerance window. A
// rent transaction takes at most one actual figure; first unset wins and an
// already-linked row is never overwritten.
func matchCommissionLinks(rents []models.FinancialTransaction, actuals []models.FinancialTransaction) []commissionLink {
	linked := make(map[uint]bool, len(rents))
	for _, rent := range rents {
		if rent.ActualCommissionAmount != nil {
			linked[rent.ID] = true
		}
	}

	var links []commissionLink
	for _, actual := range actuals {
		for _, rent := range rents {
			if linked[rent.ID] {
				continue
			}
			if rent.PropertyRemoteId == "" || rent.PropertyRemoteId != actual.PropertyRemoteId {
				continue
			}
			if absDays(rent.TransactionDate, actual.TransactionDate) > commissionLinkToleranceDays {
				continue
			}
			links = append(links, commissionLink{rentID: rent.ID, amount: actual.Amount})
			linked[rent.ID] = true
			break
		}
	}
	return links
}

// LinkActualCommissions applies matchCommissionLinks over the persisted
// rows. The guarded update keeps the never-overwrite invariant even under
// concurrent runs.
func LinkActualCommissions(ctx context.Context, db *gorm.DB) (int, error) {
	rents, err := models.FindTransactionsByDataSourceAndType(ctx, db, models.DataSourceRemoteLedger, models.TransactionTypeInvoice)
	if err != nil {
		return 0, err
	}
	var actuals []models.FinancialTransaction
	err = db.WithContext(ctx).
		Where("transaction_type = ? AND is_actual = ?", models.TransactionTypeCommissionPayment, true).
		Order("transaction_date asc, id asc").
		Find(&actuals).Error
	if err != nil {
		return 0, err
	}

	linked := 0
	for _, link := range matchCommissionLinks(rents, actuals) {
		if err := ctx.Err(); err != nil {
			return linked, err
		}
		res := db.WithContext(ctx).
			Model(&models.FinancialTransaction{}).
			Where("id = ? AND actual_commission_amount IS NULL", link.rentID).
			Update("actual_commission_amount", link.amount)
		if res.Error != nil {
			return linked, res.Error
		}
		if res.RowsAffected > 0 {
			linked++
		}
	}
	return linked, nil
}

type VarianceLine struct {
	RemoteId         string           `json:"remoteId"`
	PropertyRemoteId string           `json:"propertyRemoteId"`
	PropertyName     string           `json:"propertyName"`
	TransactionDate  time.Time        `json:"transactionDate"`
	RentAmount       decimal.Decimal  `json:"rentAmount"`
	Expected         *decimal.Decimal `json:"expected"`
	Actual           *decimal.Decimal `json:"actual"`
	Variance         *decimal.Decimal `json:"variance"`
}

type VarianceReport struct {
	FromDate            time.Time       `json:"fromDate"`
	ToDate              time.Time       `json:"toDate"`
	TransactionCount    int             `json:"transactionCount"`
	ExpectedTotal       decimal.Decimal `json:"expectedTotal"`
	ActualTotal         decimal.Decimal `json:"actualTotal"`
	VarianceTotal       decimal.Decimal `json:"varianceTotal"`
	ExpectedCoveragePct decimal.Decimal `json:"expectedCoveragePct"`
	ActualCoveragePct   decimal.Decimal `json:"actualCoveragePct"`
	Lines               []VarianceLine  `json:"lines"`
}

// BuildVarianceReport aggregates expected vs actual commission for the rent
// transactions in the slice. Coverage is the fraction of transactions that
// carry each figure.
func BuildVarianceReport(from time.Time, to time.Time, rents []models.FinancialTransaction) VarianceReport {
	report := VarianceReport{
		FromDate: from,
		ToDate:   to,
		Lines:    []VarianceLine{},
	}

	withExpected := 0
	withActual := 0
	for _, rent := range rents {
		if rent.TransactionType != models.TransactionTypeInvoice {
			continue
		}
		line := VarianceLine{
			RemoteId:         rent.RemoteId,
			PropertyRemoteId: rent.PropertyRemoteId,
			PropertyName:     rent.PropertyName,
			TransactionDate:  rent.TransactionDate,
			RentAmount:       rent.Amount,
			Expected:         rent.CalculatedCommissionAmount,
			Actual:           rent.ActualCommissionAmount,
		}
		report.TransactionCount++
		if rent.CalculatedCommissionAmount != nil {
			withExpected++
			report.ExpectedTotal = report.ExpectedTotal.Add(*rent.CalculatedCommissionAmount)
		}
		if rent.ActualCommissionAmount != nil {
			withActual++
			report.ActualTotal = report.ActualTotal.Add(*rent.ActualCommissionAmount)
		}
		if rent.CalculatedCommissionAmount != nil && rent.ActualCommissionAmount != nil {
			variance := rent.ActualCommissionAmount.Sub(*rent.CalculatedCommissionAmount)
			line.Variance = &variance
		}
		report.Lines = append(report.Lines, line)
	}

	report.VarianceTotal = report.ActualTotal.Sub(report.ExpectedTotal)
	if report.TransactionCount > 0 {
		count := decimal.NewFromInt(int64(report.TransactionCount))
		hundred := decimal.NewFromInt(100)
		report.ExpectedCoveragePct = decimal.NewFromInt(int64(withExpected)).Mul(hundred).Div(count).Round(2)
		report.ActualCoveragePct = decimal.NewFromInt(int64(withActual)).Mul(hundred).Div(count).Round(2)
	}
	return report
}
