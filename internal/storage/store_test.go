package storage

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"probewatch/internal/model"
	sqlstore "probewatch/internal/storage/sql"
)

func openTestStore(t *testing.T) (Store, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrateSQLite(context.Background(), db, nil); err != nil {
		t.Fatalf("migrateSQLite: %v", err)
	}

	store := sqlstore.NewSQLStore(db, "sqlite")
	t.Cleanup(func() { store.Close() })
	return store, db
}

func seedChannelWithModel(t *testing.T, store Store, db *sql.DB) (channelID, modelID int64) {
	t.Helper()
	res, err := db.Exec(`INSERT INTO channels (name, base_url, primary_api_key, key_mode, proxy_url, enabled, sort_order, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		"test-channel", "http://upstream", "sk-test", "primary", "", 1, 0, time.Now().Unix(), time.Now().Unix())
	if err != nil {
		t.Fatalf("seed channel: %v", err)
	}
	channelID, _ = res.LastInsertId()

	res, err = db.Exec(`INSERT INTO models (channel_id, model_name, created_at) VALUES (?, ?, ?)`,
		channelID, "gpt-4o", time.Now().Unix())
	if err != nil {
		t.Fatalf("seed model: %v", err)
	}
	modelID, _ = res.LastInsertId()
	return channelID, modelID
}

func TestSQLStore_PersistProbeOutcomeDerivesHealth(t *testing.T) {
	store, db := openTestStore(t)
	_, modelID := seedChannelWithModel(t, store, db)

	ctx := context.Background()
	job := model.NewProbeJob(1, modelID, "gpt-4o", model.EndpointChat, "http://upstream", "sk-test", nil, "", time.Now())

	outcome := &model.ProbeOutcome{EndpointKind: model.EndpointChat, Status: model.ProbeStatusSuccess, LatencyMS: 120}
	if err := store.PersistProbeOutcome(ctx, job, outcome); err != nil {
		t.Fatalf("PersistProbeOutcome: %v", err)
	}

	got, err := store.GetModel(ctx, modelID)
	if err != nil {
		t.Fatalf("GetModel: %v", err)
	}
	if got.Health != model.HealthHealthy {
		t.Fatalf("expected healthy after one success, got %v", got.Health)
	}
	if len(got.Endpoints) != 1 {
		t.Fatalf("expected 1 persisted endpoint, got %d", len(got.Endpoints))
	}

	logs, err := store.ListCheckLogs(ctx, modelID, 10)
	if err != nil {
		t.Fatalf("ListCheckLogs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected 1 check log row, got %d", len(logs))
	}
}

func TestSQLStore_PersistProbeOutcomeUpsertsSameEndpointKind(t *testing.T) {
	store, db := openTestStore(t)
	_, modelID := seedChannelWithModel(t, store, db)

	ctx := context.Background()
	job := model.NewProbeJob(1, modelID, "gpt-4o", model.EndpointChat, "http://upstream", "sk-test", nil, "", time.Now())

	first := &model.ProbeOutcome{EndpointKind: model.EndpointChat, Status: model.ProbeStatusFail, LatencyMS: 50, ErrorMessage: "timeout"}
	if err := store.PersistProbeOutcome(ctx, job, first); err != nil {
		t.Fatalf("first PersistProbeOutcome: %v", err)
	}
	second := &model.ProbeOutcome{EndpointKind: model.EndpointChat, Status: model.ProbeStatusSuccess, LatencyMS: 80}
	if err := store.PersistProbeOutcome(ctx, job, second); err != nil {
		t.Fatalf("second PersistProbeOutcome: %v", err)
	}

	got, err := store.GetModel(ctx, modelID)
	if err != nil {
		t.Fatalf("GetModel: %v", err)
	}
	if len(got.Endpoints) != 1 {
		t.Fatalf("expected the (model, chat) endpoint to upsert in place, got %d rows", len(got.Endpoints))
	}
	if got.Endpoints[0].Status != model.ProbeStatusSuccess {
		t.Fatalf("expected the latest outcome to win, got %v", got.Endpoints[0].Status)
	}
	if got.Health != model.HealthHealthy {
		t.Fatalf("expected healthy after upsert replaced the failed row, got %v", got.Health)
	}

	logs, err := store.ListCheckLogs(ctx, modelID, 10)
	if err != nil {
		t.Fatalf("ListCheckLogs: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("check_logs is append-only; expected 2 rows, got %d", len(logs))
	}
}

func TestSQLStore_ResetModelsProbeStateClearsEndpointsAndHealth(t *testing.T) {
	store, db := openTestStore(t)
	_, modelID := seedChannelWithModel(t, store, db)

	ctx := context.Background()
	job := model.NewProbeJob(1, modelID, "gpt-4o", model.EndpointChat, "http://upstream", "sk-test", nil, "", time.Now())
	if err := store.PersistProbeOutcome(ctx, job, &model.ProbeOutcome{EndpointKind: model.EndpointChat, Status: model.ProbeStatusSuccess}); err != nil {
		t.Fatalf("PersistProbeOutcome: %v", err)
	}

	if err := store.ResetModelsProbeState(ctx, []int64{modelID}); err != nil {
		t.Fatalf("ResetModelsProbeState: %v", err)
	}

	got, err := store.GetModel(ctx, modelID)
	if err != nil {
		t.Fatalf("GetModel: %v", err)
	}
	if got.Health != model.HealthUnknown {
		t.Fatalf("expected unknown health after reset, got %v", got.Health)
	}
	if len(got.Endpoints) != 0 {
		t.Fatalf("expected no endpoint rows after reset, got %d", len(got.Endpoints))
	}
}

func TestSQLStore_ReplaceOrAddModelsIsAddOnly(t *testing.T) {
	store, db := openTestStore(t)
	channelID, _ := seedChannelWithModel(t, store, db)

	ctx := context.Background()
	added, err := store.ReplaceOrAddModels(ctx, channelID, []string{"gpt-4o", "gpt-4o-mini"})
	if err != nil {
		t.Fatalf("ReplaceOrAddModels: %v", err)
	}
	if added != 1 {
		t.Fatalf("expected only gpt-4o-mini to be newly added, got %d", added)
	}

	models, err := store.ListModelsByChannel(ctx, channelID)
	if err != nil {
		t.Fatalf("ListModelsByChannel: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("expected 2 models total, got %d", len(models))
	}
}

func TestSQLStore_LoadEnabledChannelsWithModels(t *testing.T) {
	store, db := openTestStore(t)
	seedChannelWithModel(t, store, db)

	channels, err := store.LoadEnabledChannels(context.Background(), true)
	if err != nil {
		t.Fatalf("LoadEnabledChannels: %v", err)
	}
	if len(channels) != 1 {
		t.Fatalf("expected 1 enabled channel, got %d", len(channels))
	}
	if len(channels[0].Models) != 1 {
		t.Fatalf("expected the channel's model to be loaded, got %d", len(channels[0].Models))
	}
}

func TestSQLStore_SchedulerConfigDefaultRowSeeded(t *testing.T) {
	store, _ := openTestStore(t)
	cfg, err := store.LoadSchedulerConfig(context.Background())
	if err != nil {
		t.Fatalf("LoadSchedulerConfig: %v", err)
	}
	if cfg.ID != model.DefaultSchedulerConfigID {
		t.Fatalf("expected the singleton default row, got id %q", cfg.ID)
	}
}

func TestSQLStore_PurgeCheckLogsOlderThan(t *testing.T) {
	store, db := openTestStore(t)
	_, modelID := seedChannelWithModel(t, store, db)

	ctx := context.Background()
	job := model.NewProbeJob(1, modelID, "gpt-4o", model.EndpointChat, "http://upstream", "sk-test", nil, "", time.Now())
	if err := store.PersistProbeOutcome(ctx, job, &model.ProbeOutcome{EndpointKind: model.EndpointChat, Status: model.ProbeStatusSuccess}); err != nil {
		t.Fatalf("PersistProbeOutcome: %v", err)
	}

	deleted, err := store.PurgeCheckLogsOlderThan(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("PurgeCheckLogsOlderThan: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 row purged (cutoff is in the future), got %d", deleted)
	}
}
