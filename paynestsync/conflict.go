package paynestsync

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/oakfield/lettings_backend/config"
	"github.com/oakfield/lettings_backend/models"
	"github.com/oakfield/lettings_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type ConflictStrategy string

const (
	StrategyRemoteWins     ConflictStrategy = "REMOTE_WINS"
	StrategyLocalWins      ConflictStrategy = "LOCAL_WINS"
	StrategyLastWriteWins  ConflictStrategy = "LAST_WRITE_WINS"
	StrategyFieldAuthority ConflictStrategy = "FIELD_AUTHORITY"
	StrategyManualReview   ConflictStrategy = "MANUAL_REVIEW"
)

// conflictDetectionBuffer keeps an entity's own sync-induced write from
// reading as a conflict.
const conflictDetectionBuffer = 5 * time.Minute

type ConflictConfig struct {
	DefaultStrategy       ConflictStrategy
	RemoteAuthorityFields map[string]struct{}
	LocalAuthorityFields  map[string]struct{}
}

func LoadConflictConfig() ConflictConfig {
	strategy := ConflictStrategy(strings.ToUpper(strings.TrimSpace(os.Getenv("PAYNEST_CONFLICT_STRATEGY"))))
	switch strategy {
	case StrategyRemoteWins, StrategyLocalWins, StrategyLastWriteWins, StrategyFieldAuthority, StrategyManualReview:
	default:
		strategy = StrategyLastWriteWins
	}

	cfg := ConflictConfig{
		DefaultStrategy:       strategy,
		RemoteAuthorityFields: map[string]struct{}{},
		LocalAuthorityFields:  map[string]struct{}{},
	}
	for _, f := range utils.SplitAndTrim(os.Getenv("PAYNEST_REMOTE_AUTHORITY_FIELDS")) {
		cfg.RemoteAuthorityFields[strings.ToLower(f)] = struct{}{}
	}
	for _, f := range utils.SplitAndTrim(os.Getenv("PAYNEST_LOCAL_AUTHORITY_FIELDS")) {
		cfg.LocalAuthorityFields[strings.ToLower(f)] = struct{}{}
	}
	return cfg
}

// SyncConflict is a transient value object; it survives only as an audit
// log entry.
type SyncConflict struct {
	EntityType      string
	EntityID        uint
	RemoteId        string
	FieldName       string
	LocalValue      string
	RemoteValue     string
	LocalUpdatedAt  time.Time
	RemoteUpdatedAt *time.Time
	DetectedAt      time.Time
}

type ConflictResolution struct {
	Strategy     ConflictStrategy
	Resolved     bool
	Winner       string
	Reason       string
	ManualReview bool
}

// hasTimestampConflict: an entity conflicts only when it exists in both
// systems and its local write landed more than the buffer after the last
// sync touched it.
func hasTimestampConflict(remoteId *string, updatedAt time.Time, lastSyncedAt *time.Time) bool {
	if remoteId == nil || strings.TrimSpace(*remoteId) == "" {
		return false
	}
	if lastSyncedAt == nil {
		return false
	}
	return updatedAt.After(lastSyncedAt.Add(conflictDetectionBuffer))
}

// strategyFor picks the resolution strategy for one field. The remote
// authority list is checked before the local one, so a field present in
// both is remote-owned.
func (cfg ConflictConfig) strategyFor(field string) (ConflictStrategy, string) {
	lower := strings.ToLower(strings.TrimSpace(field))
	if _, ok := cfg.RemoteAuthorityFields[lower]; ok {
		return StrategyRemoteWins, "field in remote authority list"
	}
	if _, ok := cfg.LocalAuthorityFields[lower]; ok {
		return StrategyLocalWins, "field in local authority list"
	}
	return cfg.DefaultStrategy, "default strategy"
}

// Resolve applies the configured policy to one conflict. Pure: persistence
// and logging live in ResolveAndAudit.
func (cfg ConflictConfig) Resolve(conflict SyncConflict) ConflictResolution {
	strategy, why := cfg.strategyFor(conflict.FieldName)

	switch strategy {
	case StrategyRemoteWins:
		return ConflictResolution{Strategy: strategy, Resolved: true, Winner: "remote", Reason: why}
	case StrategyLocalWins:
		return ConflictResolution{Strategy: strategy, Resolved: true, Winner: "local", Reason: why}
	case StrategyLastWriteWins:
		// A missing remote timestamp counts as older than any local write.
		if conflict.RemoteUpdatedAt == nil || conflict.LocalUpdatedAt.After(*conflict.RemoteUpdatedAt) {
			return ConflictResolution{Strategy: strategy, Resolved: true, Winner: "local", Reason: "local write is most recent"}
		}
		return ConflictResolution{Strategy: strategy, Resolved: true, Winner: "remote", Reason: "remote write is most recent"}
	case StrategyFieldAuthority:
		// No authority list matched this field, so nothing owns it.
		return ConflictResolution{
			Strategy:     strategy,
			Resolved:     false,
			Reason:       "no authority configured for field " + conflict.FieldName,
			ManualReview: true,
		}
	default:
		return ConflictResolution{
			Strategy:     StrategyManualReview,
			Resolved:     false,
			Reason:       "manual review required",
			ManualReview: true,
		}
	}
}

func customerConflicts(customers []*models.Customer, now time.Time) []SyncConflict {
	var conflicts []SyncConflict
	for _, c := range customers {
		if !hasTimestampConflict(c.RemoteId, c.UpdatedAt, c.LastSyncedAt) {
			continue
		}
		conflicts = append(conflicts, SyncConflict{
			EntityType:      "customer",
			EntityID:        c.ID,
			RemoteId:        utils.DereferencePtr(c.RemoteId),
			FieldName:       "display_name",
			LocalValue:      c.DisplayName,
			LocalUpdatedAt:  c.UpdatedAt,
			RemoteUpdatedAt: c.RemoteLastModifiedAt,
			DetectedAt:      now,
		})
	}
	return conflicts
}

func propertyConflicts(properties []*models.Property, now time.Time) []SyncConflict {
	var conflicts []SyncConflict
	for _, p := range properties {
		if !hasTimestampConflict(p.RemoteId, p.UpdatedAt, p.LastSyncedAt) {
			continue
		}
		conflicts = append(conflicts, SyncConflict{
			EntityType:      "property",
			EntityID:        p.ID,
			RemoteId:        utils.DereferencePtr(p.RemoteId),
			FieldName:       "monthly_rent",
			LocalValue:      p.MonthlyRent.StringFixed(2),
			LocalUpdatedAt:  p.UpdatedAt,
			RemoteUpdatedAt: p.RemoteLastModifiedAt,
			DetectedAt:      now,
		})
	}
	return conflicts
}

// DetectCustomerConflicts scans already-synced customers for local writes
// landing after the last sync.
func DetectCustomerConflicts(ctx context.Context, db *gorm.DB) ([]SyncConflict, error) {
	customers, err := models.FindCustomersWithRemoteId(ctx, db)
	if err != nil {
		return nil, err
	}
	return customerConflicts(customers, time.Now()), nil
}

// DetectPropertyConflicts is the property-side scan.
func DetectPropertyConflicts(ctx context.Context, db *gorm.DB) ([]SyncConflict, error) {
	properties, err := models.FindPropertiesWithRemoteId(ctx, db)
	if err != nil {
		return nil, err
	}
	return propertyConflicts(properties, time.Now()), nil
}

// ResolveAndAudit resolves each conflict and writes an audit row for every
// attempt, resolved or not.
func ResolveAndAudit(ctx context.Context, db *gorm.DB, cfg ConflictConfig, conflicts []SyncConflict, runId *uint) ([]ConflictResolution, error) {
	logger := config.GetLogger()
	resolutions := make([]ConflictResolution, 0, len(conflicts))

	for _, conflict := range conflicts {
		resolution := cfg.Resolve(conflict)
		resolutions = append(resolutions, resolution)

		logger.WithFields(logrus.Fields{
			"entity_type": conflict.EntityType,
			"remote_id":   conflict.RemoteId,
			"field":       conflict.FieldName,
			"strategy":    resolution.Strategy,
			"resolved":    resolution.Resolved,
			"winner":      resolution.Winner,
		}).Info(fmt.Sprintf("conflict resolution: %s", resolution.Reason))

		audit := models.SyncAuditLog{
			SyncRunId:      runId,
			EntityType:     conflict.EntityType,
			EntityRemoteId: conflict.RemoteId,
			FieldName:      conflict.FieldName,
			Strategy:       string(resolution.Strategy),
			Winner:         resolution.Winner,
			LocalValue:     conflict.LocalValue,
			RemoteValue:    conflict.RemoteValue,
			Detail:         resolution.Reason,
		}
		if err := db.WithContext(ctx).Create(&audit).Error; err != nil {
			return resolutions, err
		}
	}
	return resolutions, nil
}
