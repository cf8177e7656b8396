package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/oakfield/lettings_backend/config"
	"github.com/oakfield/lettings_backend/models"
	"github.com/oakfield/lettings_backend/paynestsync"
	"github.com/sirupsen/logrus"
)

// One-shot historical backfill. Interrupt stops cleanly between chunks;
// already-committed records stay committed and a re-run skips them.
func main() {
	logger := config.GetLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	}

	yearsBack := 0
	if v := strings.TrimSpace(os.Getenv("PAYNEST_HISTORY_YEARS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			yearsBack = n
		}
	}

	db := config.GetDB()
	run := models.SyncRun{
		Provider:    models.SyncProviderPayNest,
		Status:      models.SyncRunStatusQueued,
		TriggeredBy: models.SyncTriggeredSystem,
		ModulesJSON: paynestsync.EncodeModules(paynestsync.SyncModules{Transactions: true}),
	}
	if err := db.WithContext(ctx).Create(&run).Error; err != nil {
		logger.WithFields(logrus.Fields{"field": "backfill"}).Fatal(err)
	}

	logger.WithFields(logrus.Fields{
		"run_id":     run.ID,
		"years_back": yearsBack,
	}).Info("historical backfill starting")

	err := paynestsync.ProcessSyncRun(ctx, paynestsync.SyncPubSubPayload{
		RunId:         run.ID,
		CorrelationId: uuid.NewString(),
	})
	if err != nil {
		if ctx.Err() != nil {
			logger.WithFields(logrus.Fields{"run_id": run.ID}).Warn("backfill interrupted; committed records are kept")
			return
		}
		logger.WithFields(logrus.Fields{"run_id": run.ID}).Error(err)
		os.Exit(1)
	}

	logger.WithFields(logrus.Fields{"run_id": run.ID}).Info("historical backfill finished")
}
