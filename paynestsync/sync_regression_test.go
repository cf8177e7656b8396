package paynestsync_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/oakfield/lettings_backend/config"
	"github.com/oakfield/lettings_backend/models"
	"github.com/oakfield/lettings_backend/paynestsync"
	"github.com/shopspring/decimal"
)

func TestUpsertIdempotenceAndCommissionPipeline(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	// Wire env for config.Connect* helpers.
	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "lettings_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	models.MigrateTable()

	db := config.GetDB()
	if db == nil {
		t.Fatalf("db is nil after ConnectDatabaseWithRetry")
	}

	// 1) First upsert creates, second with identical payload updates in
	// place, and only one row exists either way.
	propertyDoc := paynestsync.RemoteDocument{
		"id":   "P-100",
		"name": "14 Elm Court",
		"address": map[string]interface{}{
			"first_line":  "14 Elm Court",
			"postal_code": "LS1 2AB",
		},
		"monthly_payment_required": "950.00",
		"commission_percentage":    "12",
	}

	outcome, err := paynestsync.UpsertProperty(ctx, db, propertyDoc)
	if err != nil {
		t.Fatalf("UpsertProperty(first): %v", err)
	}
	if outcome != paynestsync.UpsertCreated {
		t.Fatalf("first upsert outcome = %s, want created", outcome)
	}

	outcome, err = paynestsync.UpsertProperty(ctx, db, propertyDoc)
	if err != nil {
		t.Fatalf("UpsertProperty(second): %v", err)
	}
	if outcome != paynestsync.UpsertUpdated {
		t.Fatalf("second upsert outcome = %s, want updated", outcome)
	}

	var propertyCount int64
	if err := db.Model(&models.Property{}).Where("remote_id = ?", "P-100").Count(&propertyCount).Error; err != nil {
		t.Fatalf("count properties: %v", err)
	}
	if propertyCount != 1 {
		t.Fatalf("property rows = %d, want exactly 1", propertyCount)
	}

	// 2) Transaction ingestion is idempotent per (remote id, data source).
	rentDate := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	rent := &models.FinancialTransaction{
		RemoteId:         "TXN-100",
		DataSource:       models.DataSourceRemoteLedger,
		Amount:           decimal.RequireFromString("950.00"),
		TransactionDate:  rentDate,
		TransactionType:  models.TransactionTypeInvoice,
		PropertyRemoteId: "P-100",
	}

	first := paynestsync.NewSyncResult()
	paynestsync.IngestTransactions(ctx, db, []*models.FinancialTransaction{rent}, first)
	if first.Created != 1 {
		t.Fatalf("first ingestion created = %d (%v), want 1", first.Created, first.Errors)
	}

	replay := &models.FinancialTransaction{
		RemoteId:         "TXN-100",
		DataSource:       models.DataSourceRemoteLedger,
		Amount:           decimal.RequireFromString("950.00"),
		TransactionDate:  rentDate,
		TransactionType:  models.TransactionTypeInvoice,
		PropertyRemoteId: "P-100",
	}
	second := paynestsync.NewSyncResult()
	paynestsync.IngestTransactions(ctx, db, []*models.FinancialTransaction{replay}, second)
	if second.Created != 0 || second.Rejected["duplicate"] != 1 {
		t.Fatalf("replay must dedupe: %+v", second)
	}

	// 3) Commission pipeline: calculate, synthesize the derived actual, link.
	rates, err := models.CommissionRatesByRemoteId(ctx, db)
	if err != nil {
		t.Fatalf("CommissionRatesByRemoteId: %v", err)
	}
	if _, ok := rates["P-100"]; !ok {
		t.Fatalf("commission rate for P-100 missing from %v", rates)
	}

	updated, err := paynestsync.CalculateCommissions(ctx, db, rates)
	if err != nil {
		t.Fatalf("CalculateCommissions: %v", err)
	}
	if updated != 1 {
		t.Fatalf("commissions updated = %d, want 1", updated)
	}

	created, err := paynestsync.SynthesizeActualCommissions(ctx, db, rates)
	if err != nil {
		t.Fatalf("SynthesizeActualCommissions: %v", err)
	}
	if created != 1 {
		t.Fatalf("derived rows created = %d, want 1", created)
	}
	// Re-running synthesizes nothing new.
	created, err = paynestsync.SynthesizeActualCommissions(ctx, db, rates)
	if err != nil {
		t.Fatalf("SynthesizeActualCommissions(rerun): %v", err)
	}
	if created != 0 {
		t.Fatalf("rerun created %d derived rows, want 0", created)
	}

	linked, err := paynestsync.LinkActualCommissions(ctx, db)
	if err != nil {
		t.Fatalf("LinkActualCommissions: %v", err)
	}
	if linked != 1 {
		t.Fatalf("linked = %d, want 1", linked)
	}

	stored, err := models.FindTransactionByRemoteIdAndSource(ctx, db, "TXN-100", models.DataSourceRemoteLedger)
	if err != nil {
		t.Fatalf("reload rent transaction: %v", err)
	}
	if stored == nil || stored.CalculatedCommissionAmount == nil || stored.ActualCommissionAmount == nil {
		t.Fatalf("rent row missing commission figures: %+v", stored)
	}
	if !stored.CalculatedCommissionAmount.Equal(decimal.RequireFromString("114.00")) {
		t.Fatalf("expected commission = %s, want 114.00", stored.CalculatedCommissionAmount)
	}
	if !stored.ActualCommissionAmount.Equal(decimal.RequireFromString("114.00")) {
		t.Fatalf("actual commission = %s, want 114.00", stored.ActualCommissionAmount)
	}

	// Linking again must not touch the already-linked row.
	linked, err = paynestsync.LinkActualCommissions(ctx, db)
	if err != nil {
		t.Fatalf("LinkActualCommissions(rerun): %v", err)
	}
	if linked != 0 {
		t.Fatalf("rerun linked %d rows, want 0", linked)
	}

	// 4) A field the remote side cleared must clear locally on the next
	// upsert, not survive because it happens to be a zero value.
	tenantDoc := paynestsync.RemoteDocument{
		"id":            "T-100",
		"first_name":    "Ana",
		"last_name":     "Reyes",
		"email_address": "ana@example.com",
	}
	outcome, err = paynestsync.UpsertCustomer(ctx, db, tenantDoc, models.CustomerTypeTenant)
	if err != nil || outcome != paynestsync.UpsertCreated {
		t.Fatalf("UpsertCustomer(first) = %s, %v", outcome, err)
	}
	delete(tenantDoc, "email_address")
	outcome, err = paynestsync.UpsertCustomer(ctx, db, tenantDoc, models.CustomerTypeTenant)
	if err != nil || outcome != paynestsync.UpsertUpdated {
		t.Fatalf("UpsertCustomer(second) = %s, %v", outcome, err)
	}
	tenant, err := models.FindCustomerByRemoteId(ctx, db, "T-100")
	if err != nil || tenant == nil {
		t.Fatalf("reload tenant: %v", err)
	}
	if tenant.Email != "" {
		t.Fatalf("email should be cleared after remote removal, got %q", tenant.Email)
	}

	// Payments switched off remotely must flip off locally too.
	paymentsDoc := paynestsync.RemoteDocument{
		"id":                    "P-200",
		"name":                  "9 Birch Way",
		"allow_payments":        true,
		"commission_percentage": "10",
	}
	if outcome, err = paynestsync.UpsertProperty(ctx, db, paymentsDoc); err != nil || outcome != paynestsync.UpsertCreated {
		t.Fatalf("UpsertProperty(P-200 first) = %s, %v", outcome, err)
	}
	delete(paymentsDoc, "allow_payments")
	delete(paymentsDoc, "commission_percentage")
	if outcome, err = paynestsync.UpsertProperty(ctx, db, paymentsDoc); err != nil || outcome != paynestsync.UpsertUpdated {
		t.Fatalf("UpsertProperty(P-200 second) = %s, %v", outcome, err)
	}
	property, err := models.FindPropertyByRemoteId(ctx, db, "P-200")
	if err != nil || property == nil {
		t.Fatalf("reload property: %v", err)
	}
	if property.EnablePayments == nil || *property.EnablePayments {
		t.Fatalf("enable_payments should be false after remote disable, got %v", property.EnablePayments)
	}
	if property.CommissionPercentage != nil {
		t.Fatalf("commission rate should be cleared, got %s", property.CommissionPercentage)
	}

	// 5) Tagged entities persist as tag links; a replayed tag document does
	// not duplicate them.
	tagDoc := paynestsync.RemoteDocument{
		"id":   "TAG-1",
		"name": "priority",
		"entities": []interface{}{
			map[string]interface{}{"id": "P-100", "type": "property"},
		},
	}
	if outcome, err = paynestsync.UpsertTag(ctx, db, tagDoc); err != nil || outcome != paynestsync.UpsertCreated {
		t.Fatalf("UpsertTag(first) = %s, %v", outcome, err)
	}
	if outcome, err = paynestsync.UpsertTag(ctx, db, tagDoc); err != nil || outcome != paynestsync.UpsertUpdated {
		t.Fatalf("UpsertTag(second) = %s, %v", outcome, err)
	}
	var linkCount int64
	if err := db.Model(&models.TagLink{}).Where("tag_remote_id = ?", "TAG-1").Count(&linkCount).Error; err != nil {
		t.Fatalf("count tag links: %v", err)
	}
	if linkCount != 1 {
		t.Fatalf("tag link rows = %d, want exactly 1", linkCount)
	}

	// 6) Maintenance categories land in their own table.
	catDoc := paynestsync.RemoteDocument{"id": "MC-1", "name": "Plumbing"}
	if outcome, err = paynestsync.UpsertMaintenanceCategory(ctx, db, catDoc); err != nil || outcome != paynestsync.UpsertCreated {
		t.Fatalf("UpsertMaintenanceCategory(first) = %s, %v", outcome, err)
	}
	if outcome, err = paynestsync.UpsertMaintenanceCategory(ctx, db, catDoc); err != nil || outcome != paynestsync.UpsertUpdated {
		t.Fatalf("UpsertMaintenanceCategory(second) = %s, %v", outcome, err)
	}
	category, err := models.FindMaintenanceCategoryByRemoteId(ctx, db, "MC-1")
	if err != nil || category == nil {
		t.Fatalf("reload maintenance category: %v", err)
	}
	if category.Name != "Plumbing" {
		t.Fatalf("category name = %q, want Plumbing", category.Name)
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("lettings-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("lettings-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=lettings_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
