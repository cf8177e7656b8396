package models

import "strings"

// Data sources tag where a row came from. A remote id is unique per
// (entity, data source), not globally: the same remote id can appear once as
// an instruction and once as an actual.
const (
	DataSourceLocal             = "LOCAL"
	DataSourceRemoteLedger      = "REMOTE_LEDGER"
	DataSourceRemotePayments    = "REMOTE_PAYMENTS"
	DataSourceRemoteInstruction = "REMOTE_INSTRUCTION"
	DataSourceCommissionDerived = "COMMISSION_DERIVED"
	DataSourceHistoricalImport  = "HISTORICAL_IMPORT"
)

type TransactionType string

const (
	TransactionTypeInvoice                TransactionType = "invoice"
	TransactionTypeCreditNote             TransactionType = "credit_note"
	TransactionTypeDebitNote              TransactionType = "debit_note"
	TransactionTypeDeposit                TransactionType = "deposit"
	TransactionTypeCommissionPayment      TransactionType = "commission_payment"
	TransactionTypePaymentToBeneficiary   TransactionType = "payment_to_beneficiary"
	TransactionTypePaymentToAgency        TransactionType = "payment_to_agency"
	TransactionTypePaymentToContractor    TransactionType = "payment_to_contractor"
	TransactionTypePaymentPropertyAccount TransactionType = "payment_property_account"
	TransactionTypePaymentDepositAccount  TransactionType = "payment_deposit_account"
	TransactionTypeRefund                 TransactionType = "refund"
	TransactionTypeAdjustment             TransactionType = "adjustment"
	TransactionTypeTransfer               TransactionType = "transfer"
)

var transactionTypes = map[TransactionType]struct{}{
	TransactionTypeInvoice:                {},
	TransactionTypeCreditNote:             {},
	TransactionTypeDebitNote:              {},
	TransactionTypeDeposit:                {},
	TransactionTypeCommissionPayment:      {},
	TransactionTypePaymentToBeneficiary:   {},
	TransactionTypePaymentToAgency:        {},
	TransactionTypePaymentToContractor:    {},
	TransactionTypePaymentPropertyAccount: {},
	TransactionTypePaymentDepositAccount:  {},
	TransactionTypeRefund:                 {},
	TransactionTypeAdjustment:             {},
	TransactionTypeTransfer:               {},
}

// ParseTransactionType reports whether the remote value names a known type.
func ParseTransactionType(value string) (TransactionType, bool) {
	t := TransactionType(strings.ToLower(strings.TrimSpace(value)))
	_, ok := transactionTypes[t]
	return t, ok
}

type AccountType string

const (
	AccountTypeIndividual AccountType = "individual"
	AccountTypeBusiness   AccountType = "business"
)

// ParseAccountTypeOrDefault maps a remote account-type string to a known
// value. Null, empty and the literal placeholder "undefined" fall back to
// individual; so does anything unrecognized (callers log the substitution).
func ParseAccountTypeOrDefault(value string) (AccountType, bool) {
	v := strings.ToLower(strings.TrimSpace(value))
	switch v {
	case string(AccountTypeIndividual):
		return AccountTypeIndividual, true
	case string(AccountTypeBusiness):
		return AccountTypeBusiness, true
	case "", "undefined":
		return AccountTypeIndividual, true
	default:
		return AccountTypeIndividual, false
	}
}

type PaymentMethod string

const (
	PaymentMethodLocal         PaymentMethod = "local"
	PaymentMethodInternational PaymentMethod = "international"
	PaymentMethodCheque        PaymentMethod = "cheque"
)

// ParsePaymentMethodOrDefault behaves like ParseAccountTypeOrDefault with
// local as the safe default.
func ParsePaymentMethodOrDefault(value string) (PaymentMethod, bool) {
	v := strings.ToLower(strings.TrimSpace(value))
	switch v {
	case string(PaymentMethodLocal):
		return PaymentMethodLocal, true
	case string(PaymentMethodInternational):
		return PaymentMethodInternational, true
	case string(PaymentMethodCheque):
		return PaymentMethodCheque, true
	case "", "undefined":
		return PaymentMethodLocal, true
	default:
		return PaymentMethodLocal, false
	}
}

// Beneficiary types reported by the remote payments platform.
const (
	BeneficiaryTypeAgency            = "agency"
	BeneficiaryTypeBeneficiary       = "beneficiary"
	BeneficiaryTypeGlobalBeneficiary = "global_beneficiary"
	BeneficiaryTypePropertyAccount   = "property_account"
	BeneficiaryTypeDepositAccount    = "deposit_account"
)

type CustomerType string

const (
	CustomerTypeTenant        CustomerType = "TENANT"
	CustomerTypePropertyOwner CustomerType = "PROPERTY_OWNER"
	CustomerTypeContact       CustomerType = "CONTACT"
)
