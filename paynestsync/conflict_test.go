package paynestsync

import (
	"testing"
	"time"

	"github.com/oakfield/lettings_backend/models"
	"github.com/shopspring/decimal"
)

func TestHasTimestampConflict_BufferBoundary(t *testing.T) {
	remoteId := "C-1"
	synced := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	// 4 minutes after the sync is the sync's own write echoing back.
	if hasTimestampConflict(&remoteId, synced.Add(4*time.Minute), &synced) {
		t.Fatal("a write inside the buffer must not read as a conflict")
	}
	// 6 minutes after is a genuine local edit.
	if !hasTimestampConflict(&remoteId, synced.Add(6*time.Minute), &synced) {
		t.Fatal("a write past the buffer must read as a conflict")
	}
}

func TestHasTimestampConflict_NeverSyncedOrLocalOnly(t *testing.T) {
	remoteId := "C-1"
	empty := "  "
	now := time.Now()

	if hasTimestampConflict(&remoteId, now, nil) {
		t.Fatal("never-synced entity cannot conflict")
	}
	if hasTimestampConflict(nil, now, &now) {
		t.Fatal("local-only entity cannot conflict")
	}
	if hasTimestampConflict(&empty, now, &now) {
		t.Fatal("blank remote id means local-only")
	}
}

func TestStrategyFor_RemoteListBeatsLocalList(t *testing.T) {
	cfg := ConflictConfig{
		DefaultStrategy:       StrategyLastWriteWins,
		RemoteAuthorityFields: map[string]struct{}{"email": {}},
		LocalAuthorityFields:  map[string]struct{}{"email": {}, "notes": {}},
	}

	if strategy, _ := cfg.strategyFor("Email"); strategy != StrategyRemoteWins {
		t.Fatalf("field in both lists: got %s, want remote authority", strategy)
	}
	if strategy, _ := cfg.strategyFor("notes"); strategy != StrategyLocalWins {
		t.Fatalf("local-listed field: got %s, want local authority", strategy)
	}
	if strategy, _ := cfg.strategyFor("phone"); strategy != StrategyLastWriteWins {
		t.Fatalf("unlisted field: got %s, want default", strategy)
	}
}

func TestResolve_LastWriteWins(t *testing.T) {
	cfg := ConflictConfig{
		DefaultStrategy:       StrategyLastWriteWins,
		RemoteAuthorityFields: map[string]struct{}{},
		LocalAuthorityFields:  map[string]struct{}{},
	}

	local := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	remote := local.Add(time.Hour)

	res := cfg.Resolve(SyncConflict{FieldName: "display_name", LocalUpdatedAt: local, RemoteUpdatedAt: &remote})
	if !res.Resolved || res.Winner != "remote" {
		t.Fatalf("newer remote write must win, got %+v", res)
	}

	res = cfg.Resolve(SyncConflict{FieldName: "display_name", LocalUpdatedAt: remote, RemoteUpdatedAt: &local})
	if !res.Resolved || res.Winner != "local" {
		t.Fatalf("newer local write must win, got %+v", res)
	}

	// No remote timestamp at all counts as older than any local write.
	res = cfg.Resolve(SyncConflict{FieldName: "display_name", LocalUpdatedAt: local})
	if !res.Resolved || res.Winner != "local" {
		t.Fatalf("missing remote timestamp must lose, got %+v", res)
	}
}

func TestResolve_FixedWinnerStrategies(t *testing.T) {
	conflict := SyncConflict{FieldName: "display_name", LocalUpdatedAt: time.Now()}

	remoteCfg := ConflictConfig{DefaultStrategy: StrategyRemoteWins,
		RemoteAuthorityFields: map[string]struct{}{}, LocalAuthorityFields: map[string]struct{}{}}
	if res := remoteCfg.Resolve(conflict); !res.Resolved || res.Winner != "remote" {
		t.Fatalf("REMOTE_WINS: got %+v", res)
	}

	localCfg := ConflictConfig{DefaultStrategy: StrategyLocalWins,
		RemoteAuthorityFields: map[string]struct{}{}, LocalAuthorityFields: map[string]struct{}{}}
	if res := localCfg.Resolve(conflict); !res.Resolved || res.Winner != "local" {
		t.Fatalf("LOCAL_WINS: got %+v", res)
	}
}

func TestResolve_FieldAuthorityUnmatchedGoesManual(t *testing.T) {
	cfg := ConflictConfig{
		DefaultStrategy:       StrategyFieldAuthority,
		RemoteAuthorityFields: map[string]struct{}{"email": {}},
		LocalAuthorityFields:  map[string]struct{}{},
	}

	res := cfg.Resolve(SyncConflict{FieldName: "display_name", LocalUpdatedAt: time.Now()})
	if res.Resolved || !res.ManualReview {
		t.Fatalf("unlisted field under FIELD_AUTHORITY must escalate, got %+v", res)
	}

	res = cfg.Resolve(SyncConflict{FieldName: "email", LocalUpdatedAt: time.Now()})
	if !res.Resolved || res.Winner != "remote" {
		t.Fatalf("listed field under FIELD_AUTHORITY resolves by list, got %+v", res)
	}
}

func TestResolve_ManualReviewNeverResolves(t *testing.T) {
	cfg := ConflictConfig{
		DefaultStrategy:       StrategyManualReview,
		RemoteAuthorityFields: map[string]struct{}{},
		LocalAuthorityFields:  map[string]struct{}{},
	}
	res := cfg.Resolve(SyncConflict{FieldName: "display_name", LocalUpdatedAt: time.Now()})
	if res.Resolved || !res.ManualReview || res.Winner != "" {
		t.Fatalf("MANUAL_REVIEW must leave the conflict open, got %+v", res)
	}
}

func TestLoadConflictConfig_FromEnv(t *testing.T) {
	t.Setenv("PAYNEST_CONFLICT_STRATEGY", "field_authority")
	t.Setenv("PAYNEST_REMOTE_AUTHORITY_FIELDS", "Email, phone")
	t.Setenv("PAYNEST_LOCAL_AUTHORITY_FIELDS", "notes")

	cfg := LoadConflictConfig()
	if cfg.DefaultStrategy != StrategyFieldAuthority {
		t.Fatalf("strategy = %s, want FIELD_AUTHORITY", cfg.DefaultStrategy)
	}
	if _, ok := cfg.RemoteAuthorityFields["email"]; !ok {
		t.Fatal("remote authority fields must be lower-cased and trimmed")
	}
	if _, ok := cfg.LocalAuthorityFields["notes"]; !ok {
		t.Fatal("local authority list missing configured field")
	}
}

func TestLoadConflictConfig_InvalidStrategyFallsBack(t *testing.T) {
	t.Setenv("PAYNEST_CONFLICT_STRATEGY", "whatever")
	cfg := LoadConflictConfig()
	if cfg.DefaultStrategy != StrategyLastWriteWins {
		t.Fatalf("invalid strategy must fall back to LAST_WRITE_WINS, got %s", cfg.DefaultStrategy)
	}
}

func TestCustomerConflicts_OnlyEditedAfterSync(t *testing.T) {
	synced := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	edited := synced.Add(10 * time.Minute)
	echoed := synced.Add(2 * time.Minute)
	remoteA := "C-1"
	remoteB := "C-2"
	remoteTime := synced.Add(15 * time.Minute)

	customers := []*models.Customer{
		{ID: 1, RemoteId: &remoteA, DisplayName: "Ana Reyes", UpdatedAt: edited, LastSyncedAt: &synced, RemoteLastModifiedAt: &remoteTime},
		{ID: 2, RemoteId: &remoteB, DisplayName: "Sam Ford", UpdatedAt: echoed, LastSyncedAt: &synced},
		{ID: 3, DisplayName: "Local Only", UpdatedAt: edited},
	}

	now := time.Now()
	conflicts := customerConflicts(customers, now)
	if len(conflicts) != 1 {
		t.Fatalf("conflicts = %d, want 1", len(conflicts))
	}
	got := conflicts[0]
	if got.EntityType != "customer" || got.RemoteId != "C-1" || got.FieldName != "display_name" {
		t.Fatalf("unexpected conflict: %+v", got)
	}
	if got.LocalValue != "Ana Reyes" {
		t.Fatalf("local value = %q, want the display name", got.LocalValue)
	}
	if got.RemoteUpdatedAt == nil || !got.RemoteUpdatedAt.Equal(remoteTime) {
		t.Fatalf("remote timestamp not carried: %+v", got.RemoteUpdatedAt)
	}
}

func TestPropertyConflicts_CarriesRentAndTimestamps(t *testing.T) {
	synced := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	remoteA := "P-1"
	remoteB := "P-2"

	properties := []*models.Property{
		{
			ID:           1,
			RemoteId:     &remoteA,
			MonthlyRent:  decimal.RequireFromString("950.5"),
			UpdatedAt:    synced.Add(20 * time.Minute),
			LastSyncedAt: &synced,
		},
		{
			ID:           2,
			RemoteId:     &remoteB,
			MonthlyRent:  decimal.RequireFromString("1200"),
			UpdatedAt:    synced.Add(time.Minute),
			LastSyncedAt: &synced,
		},
	}

	conflicts := propertyConflicts(properties, time.Now())
	if len(conflicts) != 1 {
		t.Fatalf("conflicts = %d, want 1", len(conflicts))
	}
	got := conflicts[0]
	if got.EntityType != "property" || got.RemoteId != "P-1" || got.FieldName != "monthly_rent" {
		t.Fatalf("unexpected conflict: %+v", got)
	}
	if got.LocalValue != "950.50" {
		t.Fatalf("local value = %q, want the rent at two decimal places", got.LocalValue)
	}
}
