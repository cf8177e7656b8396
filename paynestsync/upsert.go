package paynestsync

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/oakfield/lettings_backend/config"
	"github.com/oakfield/lettings_backend/models"
	"github.com/oakfield/lettings_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type UpsertOutcome string

const (
	UpsertCreated UpsertOutcome = "created"
	UpsertUpdated UpsertOutcome = "updated"
	UpsertSkipped UpsertOutcome = "skipped"
	UpsertError   UpsertOutcome = "error"
)

var errMissingRemoteId = errors.New("remote id missing")

func isDuplicateKey(err error) bool {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
		return true
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

// DisplayName builds a deterministic display name from name parts. With no
// parts at all it synthesizes a placeholder from the remote id so the row is
// still presentable.
func DisplayName(firstName string, lastName string, businessName string, remoteId string) string {
	if b := strings.TrimSpace(businessName); b != "" {
		return b
	}
	full := strings.TrimSpace(strings.TrimSpace(firstName) + " " + strings.TrimSpace(lastName))
	if full != "" {
		return full
	}
	return "PayNest Contact " + remoteId
}

func remoteIdOf(doc RemoteDocument) string {
	return doc.FirstString("id", "remote_id", "external_id")
}

// UpsertProperty applies one remote property document. Each call runs in
// its own transaction so one bad record never poisons the batch.
func UpsertProperty(ctx context.Context, db *gorm.DB, doc RemoteDocument) (UpsertOutcome, error) {
	remoteId := remoteIdOf(doc)
	if remoteId == "" {
		return UpsertError, errMissingRemoteId
	}

	now := time.Now()
	outcome := UpsertError
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := models.FindPropertyByRemoteId(ctx, tx, remoteId)
		if err != nil {
			return err
		}

		name := doc.FirstString("name", "property_name", "address.first_line")
		if name == "" {
			name = "PayNest Property " + remoteId
		}

		monthlyRent := decimal.Zero
		if rent, ok := doc.GetDecimal("monthly_payment_required"); ok {
			monthlyRent = rent
		} else if rent, ok := doc.GetDecimal("monthly_rent"); ok {
			monthlyRent = rent
		}
		depositAmount := decimal.Zero
		if dep, ok := doc.GetDecimal("deposit_amount"); ok {
			depositAmount = dep
		}
		var commissionRate *decimal.Decimal
		if rate, ok := doc.GetDecimal("commission_percentage"); ok {
			commissionRate = &rate
		} else if rate, ok := doc.GetDecimal("commission.percentage"); ok {
			commissionRate = &rate
		}
		enablePayments := utils.NewFalse()
		if doc.GetBool("allow_payments") || doc.GetBool("enable_payments") {
			enablePayments = utils.NewTrue()
		}
		var remoteModified *time.Time
		if modified, ok := doc.GetTime("modified_at"); ok {
			remoteModified = &modified
		}

		if existing == nil {
			fields := &models.Property{
				RemoteId:             &remoteId,
				Name:                 name,
				AddressLine1:         doc.FirstString("address.first_line", "address_line_1"),
				AddressLine2:         doc.FirstString("address.second_line", "address_line_2"),
				City:                 doc.FirstString("address.city", "city"),
				Postcode:             doc.FirstString("address.postal_code", "postcode"),
				CountryCode:          doc.FirstString("address.country_code", "country_code"),
				MonthlyRent:          monthlyRent,
				DepositAmount:        depositAmount,
				CommissionPercentage: commissionRate,
				EnablePayments:       enablePayments,
				DataSource:           models.DataSourceRemoteLedger,
				RemoteLastModifiedAt: remoteModified,
				LastSyncedAt:         &now,
			}
			if err := tx.Create(fields).Error; err != nil {
				return err
			}
			outcome = UpsertCreated
			return nil
		}

		// Map-based update so fields the remote side cleared go back to
		// their zero value instead of being skipped.
		updates := map[string]interface{}{
			"name":                    name,
			"address_line1":           doc.FirstString("address.first_line", "address_line_1"),
			"address_line2":           doc.FirstString("address.second_line", "address_line_2"),
			"city":                    doc.FirstString("address.city", "city"),
			"postcode":                doc.FirstString("address.postal_code", "postcode"),
			"country_code":            doc.FirstString("address.country_code", "country_code"),
			"monthly_rent":            monthlyRent,
			"deposit_amount":          depositAmount,
			"commission_percentage":   commissionRate,
			"enable_payments":         enablePayments,
			"data_source":             models.DataSourceRemoteLedger,
			"remote_last_modified_at": remoteModified,
			"last_synced_at":          &now,
		}
		if err := tx.Model(existing).Updates(updates).Error; err != nil {
			return err
		}
		outcome = UpsertUpdated
		return nil
	})
	if err != nil {
		if isDuplicateKey(err) {
			return UpsertSkipped, nil
		}
		return UpsertError, err
	}
	models.InvalidateCommissionRatesCache()
	return outcome, nil
}

// UpsertCustomer applies one remote tenant/owner document. Enum fields
// parse tolerantly: null, "", "undefined" and unknown values all land on the
// safe default, the unknown case with a logged substitution.
func UpsertCustomer(ctx context.Context, db *gorm.DB, doc RemoteDocument, customerType models.CustomerType) (UpsertOutcome, error) {
	remoteId := remoteIdOf(doc)
	if remoteId == "" {
		return UpsertError, errMissingRemoteId
	}

	logger := config.GetLogger()
	accountType, known := models.ParseAccountTypeOrDefault(doc.GetString("account_type"))
	if !known {
		logger.WithFields(logrus.Fields{
			"remote_id": remoteId,
			"value":     doc.GetString("account_type"),
		}).Warn("unrecognized account type, substituting individual")
	}
	paymentMethod, known := models.ParsePaymentMethodOrDefault(doc.GetString("payment_method"))
	if !known {
		logger.WithFields(logrus.Fields{
			"remote_id": remoteId,
			"value":     doc.GetString("payment_method"),
		}).Warn("unrecognized payment method, substituting local")
	}

	firstName := doc.FirstString("first_name", "firstname")
	lastName := doc.FirstString("last_name", "lastname")
	businessName := doc.FirstString("business_name", "company_name")

	now := time.Now()
	outcome := UpsertError
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := models.FindCustomerByRemoteId(ctx, tx, remoteId)
		if err != nil {
			return err
		}

		var remoteModified *time.Time
		if modified, ok := doc.GetTime("modified_at"); ok {
			remoteModified = &modified
		}

		if existing == nil {
			fields := &models.Customer{
				RemoteId:             &remoteId,
				CustomerType:         customerType,
				AccountType:          accountType,
				PaymentMethod:        paymentMethod,
				FirstName:            firstName,
				LastName:             lastName,
				BusinessName:         businessName,
				DisplayName:          DisplayName(firstName, lastName, businessName, remoteId),
				Email:                doc.FirstString("email_address", "email"),
				Phone:                doc.FirstString("phone", "phone_number"),
				Mobile:               doc.FirstString("mobile", "mobile_number"),
				PropertyRemoteId:     doc.FirstString("property.id", "property_id"),
				DataSource:           models.DataSourceRemoteLedger,
				RemoteLastModifiedAt: remoteModified,
				LastSyncedAt:         &now,
			}
			if err := tx.Create(fields).Error; err != nil {
				return err
			}
			outcome = UpsertCreated
			return nil
		}

		updates := map[string]interface{}{
			"customer_type":           customerType,
			"account_type":            accountType,
			"payment_method":          paymentMethod,
			"first_name":              firstName,
			"last_name":               lastName,
			"business_name":           businessName,
			"display_name":            DisplayName(firstName, lastName, businessName, remoteId),
			"email":                   doc.FirstString("email_address", "email"),
			"phone":                   doc.FirstString("phone", "phone_number"),
			"mobile":                  doc.FirstString("mobile", "mobile_number"),
			"property_remote_id":      doc.FirstString("property.id", "property_id"),
			"data_source":             models.DataSourceRemoteLedger,
			"remote_last_modified_at": remoteModified,
			"last_synced_at":          &now,
		}
		if err := tx.Model(existing).Updates(updates).Error; err != nil {
			return err
		}
		outcome = UpsertUpdated
		return nil
	})
	if err != nil {
		if isDuplicateKey(err) {
			return UpsertSkipped, nil
		}
		return UpsertError, err
	}
	return outcome, nil
}

func UpsertBeneficiary(ctx context.Context, db *gorm.DB, doc RemoteDocument) (UpsertOutcome, error) {
	remoteId := remoteIdOf(doc)
	if remoteId == "" {
		return UpsertError, errMissingRemoteId
	}

	accountType, _ := models.ParseAccountTypeOrDefault(doc.GetString("account_type"))
	paymentMethod, _ := models.ParsePaymentMethodOrDefault(doc.GetString("payment_method"))

	beneficiaryType := strings.ToLower(doc.FirstString("beneficiary_type", "type"))
	switch beneficiaryType {
	case models.BeneficiaryTypeAgency, models.BeneficiaryTypeBeneficiary,
		models.BeneficiaryTypeGlobalBeneficiary, models.BeneficiaryTypePropertyAccount,
		models.BeneficiaryTypeDepositAccount:
	default:
		beneficiaryType = models.BeneficiaryTypeBeneficiary
	}

	firstName := doc.FirstString("first_name", "firstname")
	lastName := doc.FirstString("last_name", "lastname")
	businessName := doc.FirstString("business_name", "company_name")

	now := time.Now()
	outcome := UpsertError
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := models.FindBeneficiaryByRemoteId(ctx, tx, remoteId)
		if err != nil {
			return err
		}

		if existing == nil {
			fields := &models.Beneficiary{
				RemoteId:        &remoteId,
				BeneficiaryType: beneficiaryType,
				AccountType:     accountType,
				PaymentMethod:   paymentMethod,
				FirstName:       firstName,
				LastName:        lastName,
				BusinessName:    businessName,
				DisplayName:     DisplayName(firstName, lastName, businessName, remoteId),
				Email:           doc.FirstString("email_address", "email"),
				Phone:           doc.FirstString("phone", "phone_number"),
				VatNumber:       doc.GetString("vat_number"),
				DataSource:      models.DataSourceRemoteLedger,
				LastSyncedAt:    &now,
			}
			if err := tx.Create(fields).Error; err != nil {
				return err
			}
			outcome = UpsertCreated
			return nil
		}

		updates := map[string]interface{}{
			"beneficiary_type": beneficiaryType,
			"account_type":     accountType,
			"payment_method":   paymentMethod,
			"first_name":       firstName,
			"last_name":        lastName,
			"business_name":    businessName,
			"display_name":     DisplayName(firstName, lastName, businessName, remoteId),
			"email":            doc.FirstString("email_address", "email"),
			"phone":            doc.FirstString("phone", "phone_number"),
			"vat_number":       doc.GetString("vat_number"),
			"data_source":      models.DataSourceRemoteLedger,
			"last_synced_at":   &now,
		}
		if err := tx.Model(existing).Updates(updates).Error; err != nil {
			return err
		}
		outcome = UpsertUpdated
		return nil
	})
	if err != nil {
		if isDuplicateKey(err) {
			return UpsertSkipped, nil
		}
		return UpsertError, err
	}
	return outcome, nil
}

// UpsertLease applies one remote invoice instruction.
func UpsertLease(ctx context.Context, db *gorm.DB, doc RemoteDocument) (UpsertOutcome, error) {
	remoteId := remoteIdOf(doc)
	if remoteId == "" {
		return UpsertError, errMissingRemoteId
	}

	amount, ok := doc.GetDecimal("gross_amount")
	if !ok {
		amount, ok = doc.GetDecimal("amount")
	}
	if !ok {
		return UpsertError, errors.New("lease amount missing")
	}

	now := time.Now()
	outcome := UpsertError
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := models.FindLeaseByRemoteId(ctx, tx, remoteId)
		if err != nil {
			return err
		}

		paymentDay := 0
		if day, ok := doc.GetDecimal("payment_day"); ok {
			paymentDay = int(day.IntPart())
		}
		var fromDate, toDate *time.Time
		if from, ok := doc.GetTime("from_date"); ok {
			fromDate = &from
		}
		if to, ok := doc.GetTime("to_date"); ok {
			toDate = &to
		}

		if existing == nil {
			fields := &models.Lease{
				RemoteId:         &remoteId,
				PropertyRemoteId: doc.FirstString("property.id", "property_id"),
				TenantRemoteId:   doc.FirstString("tenant.id", "tenant_id"),
				CategoryRemoteId: doc.FirstString("category.id", "category_id"),
				Amount:           amount,
				Frequency:        doc.FirstString("frequency", "frequency_code"),
				PaymentDay:       paymentDay,
				FromDate:         fromDate,
				ToDate:           toDate,
				Description:      doc.GetString("description"),
				DataSource:       models.DataSourceRemoteInstruction,
				LastSyncedAt:     &now,
			}
			if err := tx.Create(fields).Error; err != nil {
				return err
			}
			outcome = UpsertCreated
			return nil
		}

		updates := map[string]interface{}{
			"property_remote_id": doc.FirstString("property.id", "property_id"),
			"tenant_remote_id":   doc.FirstString("tenant.id", "tenant_id"),
			"category_remote_id": doc.FirstString("category.id", "category_id"),
			"amount":             amount,
			"frequency":          doc.FirstString("frequency", "frequency_code"),
			"payment_day":        paymentDay,
			"from_date":          fromDate,
			"to_date":            toDate,
			"description":        doc.GetString("description"),
			"data_source":        models.DataSourceRemoteInstruction,
			"last_synced_at":     &now,
		}
		if err := tx.Model(existing).Updates(updates).Error; err != nil {
			return err
		}
		outcome = UpsertUpdated
		return nil
	})
	if err != nil {
		if isDuplicateKey(err) {
			return UpsertSkipped, nil
		}
		return UpsertError, err
	}
	return outcome, nil
}

func UpsertMaintenanceTicket(ctx context.Context, db *gorm.DB, doc RemoteDocument) (UpsertOutcome, error) {
	remoteId := remoteIdOf(doc)
	if remoteId == "" {
		return UpsertError, errMissingRemoteId
	}

	now := time.Now()
	outcome := UpsertError
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := models.FindMaintenanceTicketByRemoteId(ctx, tx, remoteId)
		if err != nil {
			return err
		}

		status := strings.ToLower(doc.FirstString("status", "ticket_status"))
		if status == "" {
			status = "new"
		}

		if existing == nil {
			fields := &models.MaintenanceTicket{
				RemoteId:         &remoteId,
				PropertyRemoteId: doc.FirstString("property.id", "property_id"),
				TenantRemoteId:   doc.FirstString("tenant.id", "tenant_id"),
				CategoryRemoteId: doc.FirstString("category.id", "category_id"),
				Subject:          doc.FirstString("subject", "title"),
				Description:      doc.GetString("description"),
				Status:           status,
				IsEmergency:      doc.GetBool("is_emergency"),
				DataSource:       models.DataSourceRemoteLedger,
				LastSyncedAt:     &now,
			}
			if err := tx.Create(fields).Error; err != nil {
				return err
			}
			outcome = UpsertCreated
			return nil
		}

		updates := map[string]interface{}{
			"property_remote_id": doc.FirstString("property.id", "property_id"),
			"tenant_remote_id":   doc.FirstString("tenant.id", "tenant_id"),
			"category_remote_id": doc.FirstString("category.id", "category_id"),
			"subject":            doc.FirstString("subject", "title"),
			"description":        doc.GetString("description"),
			"status":             status,
			"is_emergency":       doc.GetBool("is_emergency"),
			"data_source":        models.DataSourceRemoteLedger,
			"last_synced_at":     &now,
		}
		if err := tx.Model(existing).Updates(updates).Error; err != nil {
			return err
		}
		outcome = UpsertUpdated
		return nil
	})
	if err != nil {
		if isDuplicateKey(err) {
			return UpsertSkipped, nil
		}
		return UpsertError, err
	}
	return outcome, nil
}

func UpsertMaintenanceCategory(ctx context.Context, db *gorm.DB, doc RemoteDocument) (UpsertOutcome, error) {
	remoteId := remoteIdOf(doc)
	if remoteId == "" {
		return UpsertError, errMissingRemoteId
	}
	name := doc.FirstString("name", "category_name", "label")
	if name == "" {
		name = "PayNest Category " + remoteId
	}

	now := time.Now()
	outcome := UpsertError
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := models.FindMaintenanceCategoryByRemoteId(ctx, tx, remoteId)
		if err != nil {
			return err
		}

		if existing == nil {
			fields := &models.MaintenanceCategory{
				RemoteId:     &remoteId,
				Name:         name,
				DataSource:   models.DataSourceRemoteLedger,
				LastSyncedAt: &now,
			}
			if err := tx.Create(fields).Error; err != nil {
				return err
			}
			outcome = UpsertCreated
			return nil
		}

		updates := map[string]interface{}{
			"name":           name,
			"data_source":    models.DataSourceRemoteLedger,
			"last_synced_at": &now,
		}
		if err := tx.Model(existing).Updates(updates).Error; err != nil {
			return err
		}
		outcome = UpsertUpdated
		return nil
	})
	if err != nil {
		if isDuplicateKey(err) {
			return UpsertSkipped, nil
		}
		return UpsertError, err
	}
	return outcome, nil
}

func UpsertTag(ctx context.Context, db *gorm.DB, doc RemoteDocument) (UpsertOutcome, error) {
	remoteId := remoteIdOf(doc)
	if remoteId == "" {
		return UpsertError, errMissingRemoteId
	}
	name := doc.FirstString("name", "tag_name")
	if name == "" {
		name = "PayNest Tag " + remoteId
	}

	now := time.Now()
	outcome := UpsertError
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := models.FindTagByRemoteId(ctx, tx, remoteId)
		if err != nil {
			return err
		}

		if existing == nil {
			fields := &models.Tag{
				RemoteId:     &remoteId,
				Name:         name,
				Color:        doc.GetString("color"),
				DataSource:   models.DataSourceRemoteLedger,
				LastSyncedAt: &now,
			}
			if err := tx.Create(fields).Error; err != nil {
				return err
			}
			outcome = UpsertCreated
		} else {
			updates := map[string]interface{}{
				"name":           name,
				"color":          doc.GetString("color"),
				"data_source":    models.DataSourceRemoteLedger,
				"last_synced_at": &now,
			}
			if err := tx.Model(existing).Updates(updates).Error; err != nil {
				return err
			}
			outcome = UpsertUpdated
		}

		// Tagged entities ride along on the tag document; replayed links
		// count as duplicates, not failures.
		for _, entity := range doc.GetDocuments("entities") {
			entityId := entity.FirstString("id", "remote_id")
			entityType := strings.ToLower(entity.FirstString("type", "entity_type"))
			if entityId == "" || entityType == "" {
				continue
			}
			link := &models.TagLink{
				TagRemoteId:    remoteId,
				EntityType:     entityType,
				EntityRemoteId: entityId,
			}
			if err := models.CreateTagLink(ctx, tx, link); err != nil {
				if errors.Is(err, utils.ErrorDuplicateRecord) {
					continue
				}
				return err
			}
		}
		return nil
	})
	if err != nil {
		if isDuplicateKey(err) {
			return UpsertSkipped, nil
		}
		return UpsertError, err
	}
	return outcome, nil
}
