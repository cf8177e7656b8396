package paynestsync

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oakfield/lettings_backend/config"
	"github.com/oakfield/lettings_backend/models"
	"github.com/oakfield/lettings_backend/utils"
	"gorm.io/gorm"
)

func StatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		db := config.GetDB().WithContext(ctx)

		lastSuccess, err := models.FindLastSuccessfulSyncAt(ctx, db, models.SyncProviderPayNest)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		var lastRun models.SyncRun
		var lastSyncAt *time.Time
		err = db.Where("provider = ?", models.SyncProviderPayNest).
			Order("id desc").
			Take(&lastRun).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if err == nil {
			lastSyncAt = lastRun.FinishedAt
		}

		c.JSON(http.StatusOK, StatusResponse{
			Provider:          models.SyncProviderPayNest,
			LastSyncAt:        formatTime(lastSyncAt),
			LastSuccessSyncAt: formatTime(lastSuccess),
			Modules:           DefaultModules(),
		})
	}
}

func TriggerSyncHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req TriggerSyncRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		modules := req.Modules
		if isEmptyModules(modules) {
			modules = DefaultModules()
		}

		db := config.GetDB().WithContext(c.Request.Context())
		run := models.SyncRun{
			Provider:    models.SyncProviderPayNest,
			Status:      models.SyncRunStatusQueued,
			TriggeredBy: models.SyncTriggeredManual,
			ModulesJSON: EncodeModules(modules),
		}
		if err := db.Create(&run).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		correlationId, _ := c.Get("correlation_id")
		correlation, _ := correlationId.(string)
		if err := PublishSyncRun(c.Request.Context(), run.ID, correlation); err != nil {
			config.LogError(config.GetLogger(), "paynestsync", "TriggerSyncHandler", "publish", nil, err)
		}

		c.JSON(http.StatusOK, gin.H{"id": run.ID})
	}
}

func SyncHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 20
		if v := strings.TrimSpace(c.Query("limit")); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
				limit = n
			}
		}

		ctx := c.Request.Context()
		db := config.GetDB()
		runs, err := models.FindRecentSyncRuns(ctx, db, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		items := make([]SyncRunResponse, 0, len(runs))
		for _, run := range runs {
			items = append(items, mapRunToResponse(run))
		}
		c.JSON(http.StatusOK, SyncHistoryResponse{Items: items})
	}
}

func SyncRunDetailHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
			return
		}

		ctx := c.Request.Context()
		db := config.GetDB()
		run, err := models.FindSyncRunById(ctx, db, uint(id))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if run == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}

		errs, err := models.FindSyncErrorsByRun(ctx, db, run.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, SyncRunDetailResponse{
			SyncRunResponse: mapRunToResponse(*run),
			Errors:          mapErrors(errs),
		})
	}
}

func RetrySyncRunHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
			return
		}

		ctx := c.Request.Context()
		db := config.GetDB().WithContext(ctx)
		run, err := models.FindSyncRunById(ctx, db, uint(id))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if run == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}

		newRun := models.SyncRun{
			Provider:    run.Provider,
			Status:      models.SyncRunStatusQueued,
			TriggeredBy: models.SyncTriggeredRetry,
			ModulesJSON: run.ModulesJSON,
			ParentRunId: &run.ID,
		}
		if err := db.Create(&newRun).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		_ = PublishSyncRun(c.Request.Context(), newRun.ID, "")

		c.JSON(http.StatusOK, gin.H{"id": newRun.ID})
	}
}

// VarianceReportHandler serves the commission variance report for a date
// range (defaults to the last 93 days).
func VarianceReportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		to := time.Now()
		from := to.AddDate(0, 0, -defaultChunkDays)

		if v := strings.TrimSpace(c.Query("from_date")); v != "" {
			parsed, err := time.Parse("2006-01-02", v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from_date"})
				return
			}
			from = parsed
		}
		if v := strings.TrimSpace(c.Query("to_date")); v != "" {
			parsed, err := time.Parse("2006-01-02", v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to_date"})
				return
			}
			to = parsed
		}
		if to.Before(from) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "to_date before from_date"})
			return
		}

		ctx := c.Request.Context()
		db := config.GetDB()

		var rents []models.FinancialTransaction
		var err error
		if p := strings.TrimSpace(c.Query("property_id")); p != "" {
			rents, err = models.FindTransactionsByPropertyAndDateRange(ctx, db, p, from, to)
		} else {
			rents, err = models.FindTransactionsByDateRange(ctx, db, from, to)
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, BuildVarianceReport(from, to, rents))
	}
}

// ConflictScanHandler detects customer and property conflicts, resolves
// them per the configured policy and returns what it decided.
func ConflictScanHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		db := config.GetDB()

		conflicts, err := DetectCustomerConflicts(ctx, db)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		propConflicts, err := DetectPropertyConflicts(ctx, db)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		conflicts = append(conflicts, propConflicts...)

		cfg := LoadConflictConfig()
		resolutions, err := ResolveAndAudit(ctx, db, cfg, conflicts, nil)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		type conflictView struct {
			EntityType string `json:"entityType"`
			RemoteId   string `json:"remoteId"`
			FieldName  string `json:"fieldName"`
			Strategy   string `json:"strategy"`
			Resolved   bool   `json:"resolved"`
			Winner     string `json:"winner,omitempty"`
			Reason     string `json:"reason"`
		}
		views := make([]conflictView, 0, len(conflicts))
		for i, conflict := range conflicts {
			views = append(views, conflictView{
				EntityType: conflict.EntityType,
				RemoteId:   conflict.RemoteId,
				FieldName:  conflict.FieldName,
				Strategy:   string(resolutions[i].Strategy),
				Resolved:   resolutions[i].Resolved,
				Winner:     resolutions[i].Winner,
				Reason:     resolutions[i].Reason,
			})
		}
		c.JSON(http.StatusOK, gin.H{"conflicts": views})
	}
}

// ImportHistoricalHandler accepts an .xlsx statement upload and ingests it
// under the historical data source.
func ImportHistoricalHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		fileHeader, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
			return
		}
		if !strings.HasSuffix(fileHeader.Filename, ".xlsx") {
			c.JSON(http.StatusBadRequest, gin.H{"error": "only .xlsx files are allowed"})
			return
		}

		file, err := fileHeader.Open()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		defer file.Close()

		result, err := ImportHistoricalWorkbook(c.Request.Context(), config.GetDB(), file)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// PushTagHandler creates or renames a tag on the remote side and stores the
// returned remote id locally.
func PushTagHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Id   uint   `json:"id"`
			Name string `json:"name" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
			return
		}

		ctx := c.Request.Context()
		db := config.GetDB().WithContext(ctx)

		var tag models.Tag
		if req.Id != 0 {
			found, err := models.FindTagById(ctx, db, req.Id)
			if err != nil {
				if errors.Is(err, utils.ErrorRecordNotFound) {
					c.JSON(http.StatusNotFound, gin.H{"error": "tag not found"})
					return
				}
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			tag = *found
		}
		tag.Name = req.Name

		client, err := NewClient()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		remoteId, err := PushTag(ctx, client, &tag)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}

		tag.RemoteId = &remoteId
		tag.DataSource = models.DataSourceLocal
		if err := db.Save(&tag).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": tag.ID, "remoteId": remoteId})
	}
}

// PushEntityHandler forwards a local entity mutation to the remote platform
// and returns the remote id it assigned.
func PushEntityHandler() gin.HandlerFunc {
	allowed := map[string]struct{}{
		"property": {}, "tenant": {}, "beneficiary": {}, "maintenance": {},
	}
	return func(c *gin.Context) {
		entityType := c.Param("entityType")
		if _, ok := allowed[entityType]; !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported entity type"})
			return
		}

		var payload map[string]interface{}
		if err := c.ShouldBindJSON(&payload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
			return
		}

		client, err := NewClient()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		remoteId, err := PushEntity(c.Request.Context(), client, entityType, c.Query("remote_id"), payload)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"remoteId": remoteId})
	}
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func mapRunToResponse(run models.SyncRun) SyncRunResponse {
	return SyncRunResponse{
		ID:            run.ID,
		Status:        run.Status,
		StartedAt:     formatTime(run.StartedAt),
		FinishedAt:    formatTime(run.FinishedAt),
		DurationMs:    run.DurationMs,
		RecordsSynced: run.RecordsSynced,
		ErrorCount:    run.ErrorCount,
		TriggeredBy:   run.TriggeredBy,
	}
}

func mapErrors(errorsList []models.SyncError) []SyncErrorResponse {
	out := make([]SyncErrorResponse, 0, len(errorsList))
	for _, errItem := range errorsList {
		out = append(out, SyncErrorResponse{
			ID:         errItem.ID,
			EntityType: errItem.EntityType,
			ExternalId: errItem.ExternalId,
			Message:    errItem.Message,
			Retryable:  errItem.Retryable,
		})
	}
	return out
}
