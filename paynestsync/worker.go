package paynestsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oakfield/lettings_backend/config"
	"github.com/oakfield/lettings_backend/models"
	"github.com/oakfield/lettings_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

const syncLockTTL = 30 * time.Minute

// ProcessSyncRun executes one queued sync run end to end. A redis lock
// keeps a single worker on any given run; a run found already finished is a
// no-op (pubsub redelivery).
func ProcessSyncRun(ctx context.Context, payload SyncPubSubPayload) error {
	if payload.RunId == 0 {
		return errors.New("invalid payload")
	}

	correlationId := payload.CorrelationId
	if correlationId == "" {
		correlationId = uuid.NewString()
	}
	ctx = utils.SetCorrelationIdInContext(ctx, correlationId)

	tracer := otel.Tracer("paynestsync")
	ctx, span := tracer.Start(ctx, "ProcessSyncRun")
	span.SetAttributes(attribute.Int64("sync.run_id", int64(payload.RunId)))
	defer span.End()

	release, err := utils.SyncLock(ctx, fmt.Sprintf("paynest-run-%d", payload.RunId), syncLockTTL, "paynestsync", "ProcessSyncRun")
	if err != nil {
		return err
	}
	defer release()

	db := config.GetDB().WithContext(ctx)

	run, err := models.FindSyncRunById(ctx, db, payload.RunId)
	if err != nil {
		return err
	}
	if run == nil {
		return errors.New("sync run not found")
	}
	if run.Status == models.SyncRunStatusSuccess || run.Status == models.SyncRunStatusFailed || run.Status == models.SyncRunStatusPartial {
		return nil
	}

	client, err := NewClient()
	if err != nil {
		return err
	}

	modules := DecodeModules(run.ModulesJSON)
	rc := NewRunContext(run.ID, correlationId,
		envBoolDefault("PAYNEST_DEBUG_TRACKING", false),
		intFromEnv("PAYNEST_DEBUG_SAMPLE_SIZE", 10))

	now := time.Now()
	startedAt := run.StartedAt
	if startedAt == nil {
		startedAt = &now
	}
	if err := db.Model(run).Updates(map[string]interface{}{
		"status":     models.SyncRunStatusRunning,
		"started_at": startedAt,
	}).Error; err != nil {
		return err
	}

	logger := config.GetLogger()
	stats := map[string]*SyncResult{}
	errorCount := 0

	runModule := func(name string, fn func(context.Context, *gorm.DB, *Client, *RunContext) (*SyncResult, error)) {
		if err := ctx.Err(); err != nil {
			return
		}
		result, err := fn(ctx, db, client, rc)
		if result == nil {
			result = NewSyncResult()
		}
		result.Finalize()
		stats[name] = result
		errorCount += result.Failed
		if err != nil {
			errorCount++
			_ = createSyncError(ctx, db, run.ID, name, "", "sync_failed", err.Error(), nil, !IsAuthError(err))
			config.LogError(logger, "paynestsync", "ProcessSyncRun", name, nil, err)
		}
	}

	if modules.Properties {
		runModule("properties", syncProperties)
	}
	if modules.Tenants {
		runModule("tenants", syncTenants)
	}
	if modules.Beneficiaries {
		runModule("beneficiaries", syncBeneficiaries)
	}
	if modules.Leases {
		runModule("leases", syncLeases)
	}
	if modules.Transactions {
		runModule("transactions", syncTransactions)
	}
	if modules.Maintenance {
		runModule("maintenance", syncMaintenance)
	}
	if modules.Tags {
		runModule("tags", syncTags)
	}

	finishedAt := time.Now()
	durationMs := finishedAt.Sub(*startedAt).Milliseconds()

	totalSynced := 0
	for _, result := range stats {
		totalSynced += result.Created + result.Updated
	}
	status := models.SyncRunStatusSuccess
	if errorCount > 0 && totalSynced == 0 {
		status = models.SyncRunStatusFailed
	} else if errorCount > 0 {
		status = models.SyncRunStatusPartial
	}

	statsJSON, _ := json.Marshal(stats)
	if err := db.Model(run).Updates(map[string]interface{}{
		"status":         status,
		"finished_at":    finishedAt,
		"duration_ms":    durationMs,
		"records_synced": totalSynced,
		"error_count":    errorCount,
		"stats_json":     statsJSON,
	}).Error; err != nil {
		return err
	}

	pages, items, mapperErrors, _ := rc.Stats()
	logger.WithFields(logrus.Fields{
		"run_id":         run.ID,
		"status":         status,
		"records_synced": totalSynced,
		"error_count":    errorCount,
		"pages_fetched":  pages,
		"items_seen":     items,
		"mapper_errors":  mapperErrors,
		"duration_ms":    durationMs,
	}).Info("sync run finished")

	audit := models.SyncAuditLog{
		SyncRunId:  &run.ID,
		EntityType: "sync_run",
		Strategy:   string(status),
		Detail:     fmt.Sprintf("synced %d records with %d errors in %dms", totalSynced, errorCount, durationMs),
	}
	if payloadJSON, err := utils.MarshalToJSON(stats); err == nil {
		audit.LocalValue = payloadJSON
	}
	return db.Create(&audit).Error
}

func documentMapper(doc RemoteDocument) (RemoteDocument, error) {
	if remoteIdOf(doc) == "" {
		return nil, errMissingRemoteId
	}
	return doc, nil
}

func applyUpserts(ctx context.Context, db *gorm.DB, runId uint, entityType string, docs []RemoteDocument, upsert func(RemoteDocument) (UpsertOutcome, error)) *SyncResult {
	result := NewSyncResult()
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return result
		}
		outcome, err := upsert(doc)
		switch outcome {
		case UpsertCreated:
			result.Created++
		case UpsertUpdated:
			result.Updated++
		case UpsertSkipped:
			result.Skipped++
		default:
			result.AddError(fmt.Sprintf("%s %s: %v", entityType, remoteIdOf(doc), err))
			payload, _ := json.Marshal(doc)
			_ = createSyncError(ctx, db, runId, entityType, remoteIdOf(doc), "upsert_failed", fmt.Sprint(err), payload, true)
		}
	}
	return result
}

func syncProperties(ctx context.Context, db *gorm.DB, client *Client, rc *RunContext) (*SyncResult, error) {
	docs, err := FetchAllPages(ctx, client, rc, "/export/properties", nil, documentMapper)
	result := applyUpserts(ctx, db, rc.RunId, "property", docs, func(doc RemoteDocument) (UpsertOutcome, error) {
		return UpsertProperty(ctx, db, doc)
	})
	return result, err
}

func syncTenants(ctx context.Context, db *gorm.DB, client *Client, rc *RunContext) (*SyncResult, error) {
	docs, err := FetchAllPages(ctx, client, rc, "/export/tenants", nil, documentMapper)
	result := applyUpserts(ctx, db, rc.RunId, "tenant", docs, func(doc RemoteDocument) (UpsertOutcome, error) {
		return UpsertCustomer(ctx, db, doc, models.CustomerTypeTenant)
	})

	ownerDocs, ownerErr := FetchAllPages(ctx, client, rc, "/export/owners", nil, documentMapper)
	ownerResult := applyUpserts(ctx, db, rc.RunId, "owner", ownerDocs, func(doc RemoteDocument) (UpsertOutcome, error) {
		return UpsertCustomer(ctx, db, doc, models.CustomerTypePropertyOwner)
	})
	result.Created += ownerResult.Created
	result.Updated += ownerResult.Updated
	result.Skipped += ownerResult.Skipped
	result.Failed += ownerResult.Failed
	result.Errors = append(result.Errors, ownerResult.Errors...)

	if err != nil {
		return result, err
	}
	return result, ownerErr
}

func syncBeneficiaries(ctx context.Context, db *gorm.DB, client *Client, rc *RunContext) (*SyncResult, error) {
	docs, err := FetchAllPages(ctx, client, rc, "/export/beneficiaries", nil, documentMapper)
	result := applyUpserts(ctx, db, rc.RunId, "beneficiary", docs, func(doc RemoteDocument) (UpsertOutcome, error) {
		return UpsertBeneficiary(ctx, db, doc)
	})
	return result, err
}

func syncLeases(ctx context.Context, db *gorm.DB, client *Client, rc *RunContext) (*SyncResult, error) {
	docs, err := FetchAllPages(ctx, client, rc, "/export/invoices", nil, documentMapper)
	result := applyUpserts(ctx, db, rc.RunId, "lease", docs, func(doc RemoteDocument) (UpsertOutcome, error) {
		return UpsertLease(ctx, db, doc)
	})
	return result, err
}

// syncTransactions runs the whole reconciliation pipeline: historical
// ledger + payments ingestion, expected commission calculation, actual
// commission synthesis, then linking.
func syncTransactions(ctx context.Context, db *gorm.DB, client *Client, rc *RunContext) (*SyncResult, error) {
	result := NewSyncResult()
	yearsBack := intFromEnv("PAYNEST_HISTORY_YEARS", defaultHistoryYears)

	ledger, err := FetchHistoricalPages(ctx, client, rc, "/report/icdn", yearsBack, func(doc RemoteDocument) (*models.FinancialTransaction, error) {
		return MapTransaction(doc, models.DataSourceRemoteLedger)
	})
	if err != nil {
		return result, err
	}
	IngestTransactions(ctx, db, ledger, result)

	payments, err := FetchHistoricalPages(ctx, client, rc, "/report/all-payments", yearsBack, func(doc RemoteDocument) (*models.FinancialTransaction, error) {
		return MapTransaction(doc, models.DataSourceRemotePayments)
	})
	if err != nil {
		return result, err
	}
	IngestTransactions(ctx, db, payments, result)

	rates, err := models.CommissionRatesByRemoteId(ctx, db)
	if err != nil {
		return result, err
	}
	if _, err := CalculateCommissions(ctx, db, rates); err != nil {
		return result, err
	}
	if _, err := SynthesizeActualCommissions(ctx, db, rates); err != nil {
		return result, err
	}
	if _, err := LinkActualCommissions(ctx, db); err != nil {
		return result, err
	}
	return result, nil
}

func syncMaintenance(ctx context.Context, db *gorm.DB, client *Client, rc *RunContext) (*SyncResult, error) {
	docs, err := FetchAllPages(ctx, client, rc, "/export/maintenance", nil, documentMapper)
	result := applyUpserts(ctx, db, rc.RunId, "maintenance_ticket", docs, func(doc RemoteDocument) (UpsertOutcome, error) {
		return UpsertMaintenanceTicket(ctx, db, doc)
	})
	if err != nil {
		return result, err
	}

	if envBoolDefault("PAYNEST_ARCHIVE_ATTACHMENTS", false) {
		for _, doc := range docs {
			if _, err := ArchiveEntityAttachments(ctx, client, "maintenance_ticket", doc); err != nil {
				if IsAuthError(err) || errors.Is(err, context.Canceled) {
					return result, err
				}
			}
		}
	}

	// Category list is small but still paged.
	catDocs, catErr := FetchAllPages(ctx, client, rc, "/maintenance/categories", nil, documentMapper)
	catResult := applyUpserts(ctx, db, rc.RunId, "maintenance_category", catDocs, func(doc RemoteDocument) (UpsertOutcome, error) {
		return UpsertMaintenanceCategory(ctx, db, doc)
	})
	result.Created += catResult.Created
	result.Updated += catResult.Updated
	result.Skipped += catResult.Skipped
	result.Failed += catResult.Failed
	result.Errors = append(result.Errors, catResult.Errors...)
	return result, catErr
}

func syncTags(ctx context.Context, db *gorm.DB, client *Client, rc *RunContext) (*SyncResult, error) {
	docs, err := FetchAllPages(ctx, client, rc, "/tags", nil, documentMapper)
	result := applyUpserts(ctx, db, rc.RunId, "tag", docs, func(doc RemoteDocument) (UpsertOutcome, error) {
		return UpsertTag(ctx, db, doc)
	})
	return result, err
}

// PushTag creates or renames a tag on the remote side and returns the
// remote id.
func PushTag(ctx context.Context, client *Client, tag *models.Tag) (string, error) {
	payload := map[string]interface{}{"name": tag.Name}
	var doc RemoteDocument
	var err error
	if tag.RemoteId != nil && *tag.RemoteId != "" {
		doc, err = client.Put(ctx, "/tags/"+*tag.RemoteId, payload)
	} else {
		doc, err = client.Post(ctx, "/tags", payload)
	}
	if err != nil {
		return "", err
	}
	remoteId := remoteIdOf(doc)
	if remoteId == "" {
		return "", errors.New("remote tag id missing in response")
	}
	return remoteId, nil
}

// PushEntity sends a local mutation to the remote entity endpoint and
// returns the remote id from the response.
func PushEntity(ctx context.Context, client *Client, entityType string, remoteId string, payload interface{}) (string, error) {
	var doc RemoteDocument
	var err error
	if remoteId == "" {
		doc, err = client.Post(ctx, "/entity/"+entityType, payload)
	} else {
		doc, err = client.Put(ctx, "/entity/"+entityType+"/"+remoteId, payload)
	}
	if err != nil {
		return "", err
	}
	id := remoteIdOf(doc)
	if id == "" {
		return "", errors.New("remote id missing in response")
	}
	return id, nil
}

func createSyncError(ctx context.Context, db *gorm.DB, runId uint, entityType string, externalId string, code string, message string, payload []byte, retryable bool) error {
	errRec := models.SyncError{
		SyncRunId:   runId,
		EntityType:  entityType,
		ExternalId:  externalId,
		ErrorCode:   code,
		Message:     message,
		PayloadJSON: payload,
		Retryable:   retryable,
	}
	return db.WithContext(ctx).Create(&errRec).Error
}
