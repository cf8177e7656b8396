package models

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

const (
	SyncProviderPayNest = "paynest"
)

const (
	SyncRunStatusQueued  = "queued"
	SyncRunStatusRunning = "running"
	SyncRunStatusSuccess = "success"
	SyncRunStatusFailed  = "failed"
	SyncRunStatusPartial = "partial"
)

const (
	SyncTriggeredManual   = "manual"
	SyncTriggeredRetry    = "retry"
	SyncTriggeredSystem   = "system"
	SyncTriggeredSchedule = "schedule"
)

type SyncRun struct {
	ID            uint       `gorm:"primary_key" json:"id"`
	Provider      string     `gorm:"index;size:50;not null" json:"provider"`
	Status        string     `gorm:"size:20;not null" json:"status"`
	TriggeredBy   string     `gorm:"size:20" json:"triggered_by"`
	ModulesJSON   []byte     `gorm:"type:json" json:"modules"`
	StatsJSON     []byte     `gorm:"type:json" json:"stats"`
	RecordsSynced int        `json:"records_synced"`
	ErrorCount    int        `json:"error_count"`
	ParentRunId   *uint      `gorm:"index" json:"parent_run_id"`
	StartedAt     *time.Time `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at"`
	DurationMs    int64      `json:"duration_ms"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

type SyncError struct {
	ID          uint      `gorm:"primary_key" json:"id"`
	SyncRunId   uint      `gorm:"index;not null" json:"sync_run_id"`
	EntityType  string    `gorm:"size:50" json:"entity_type"`
	ExternalId  string    `gorm:"size:128" json:"external_id"`
	ErrorCode   string    `gorm:"size:64" json:"error_code"`
	Message     string    `gorm:"type:text" json:"message"`
	PayloadJSON []byte    `gorm:"type:json" json:"payload"`
	Retryable   bool      `gorm:"default:false" json:"retryable"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// SyncAuditLog records conflict resolutions and other sync-time decisions
// that an operator may need to review afterwards.
type SyncAuditLog struct {
	ID             uint      `gorm:"primary_key" json:"id"`
	SyncRunId      *uint     `gorm:"index" json:"sync_run_id"`
	EntityType     string    `gorm:"size:50" json:"entity_type"`
	EntityRemoteId string    `gorm:"size:128" json:"entity_remote_id"`
	FieldName      string    `gorm:"size:100" json:"field_name"`
	Strategy       string    `gorm:"size:30" json:"strategy"`
	Winner         string    `gorm:"size:10" json:"winner"`
	LocalValue     string    `gorm:"type:text" json:"local_value"`
	RemoteValue    string    `gorm:"type:text" json:"remote_value"`
	Detail         string    `gorm:"type:text" json:"detail"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func FindSyncRunById(ctx context.Context, db *gorm.DB, id uint) (*SyncRun, error) {
	var run SyncRun
	err := db.WithContext(ctx).Where("id = ?", id).Take(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &run, nil
}

func FindRecentSyncRuns(ctx context.Context, db *gorm.DB, limit int) ([]SyncRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var runs []SyncRun
	err := db.WithContext(ctx).
		Order("id desc").
		Limit(limit).
		Find(&runs).Error
	return runs, err
}

func FindSyncErrorsByRun(ctx context.Context, db *gorm.DB, runId uint) ([]SyncError, error) {
	var errs []SyncError
	err := db.WithContext(ctx).
		Where("sync_run_id = ?", runId).
		Order("id asc").
		Find(&errs).Error
	return errs, err
}

// FindLastSuccessfulSyncAt returns the finish time of the most recent
// success or partial run, or nil when no run has completed yet.
func FindLastSuccessfulSyncAt(ctx context.Context, db *gorm.DB, provider string) (*time.Time, error) {
	var run SyncRun
	err := db.WithContext(ctx).
		Where("provider = ? AND status IN ?", provider, []string{SyncRunStatusSuccess, SyncRunStatusPartial}).
		Order("finished_at desc").
		Take(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return run.FinishedAt, nil
}
