package sql

import (
	"context"
	"database/sql"
	"time"

	"probewatch/internal/apperr"
	"probewatch/internal/model"
	"probewatch/internal/util"
)

// LoadSchedulerConfig reads the singleton row that the migration seeds.
// A missing row is returned as a query error; nothing is inserted here.
func (s *SQLStore) LoadSchedulerConfig(ctx context.Context) (*model.SchedulerConfig, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, enabled, cron_expression, timezone, channel_concurrency, max_global_concurrency,
		       min_jitter_ms, max_jitter_ms, detect_all_channels, selected_channel_ids, selected_model_ids,
		       log_retention_days, updated_at
		FROM scheduler_config WHERE id = ?`, model.DefaultSchedulerConfigID)

	cfg, err := scanSchedulerConfig(row)
	if err == sql.ErrNoRows {
		return nil, apperr.DBQueryError("load_scheduler_config", err)
	}
	if err != nil {
		return nil, apperr.DBQueryError("load_scheduler_config", err)
	}
	return cfg, nil
}

func scanSchedulerConfig(row *sql.Row) (*model.SchedulerConfig, error) {
	cfg := &model.SchedulerConfig{}
	var enabled, detectAll int
	var selectedChannelIDsJSON, selectedModelIDsJSON string
	var updatedAt int64
	if err := row.Scan(&cfg.ID, &enabled, &cfg.CronExpression, &cfg.Timezone, &cfg.ChannelConcurrency, &cfg.MaxGlobalConcurrency,
		&cfg.MinJitterMS, &cfg.MaxJitterMS, &detectAll, &selectedChannelIDsJSON, &selectedModelIDsJSON,
		&cfg.LogRetentionDays, &updatedAt); err != nil {
		return nil, err
	}
	cfg.Enabled = enabled != 0
	cfg.DetectAllChannels = detectAll != 0
	cfg.UpdatedAt = unixToTime(updatedAt)

	if selectedChannelIDsJSON != "" {
		if err := util.UnmarshalJSON([]byte(selectedChannelIDsJSON), &cfg.SelectedChannelIDs); err != nil {
			return nil, apperr.DBQueryError("decode_selected_channel_ids", err)
		}
	}
	if selectedModelIDsJSON != "" {
		if err := util.UnmarshalJSON([]byte(selectedModelIDsJSON), &cfg.SelectedModelIDs); err != nil {
			return nil, apperr.DBQueryError("decode_selected_model_ids", err)
		}
	}
	return cfg, nil
}

// UpsertSchedulerConfig writes the singleton row, replacing it wholesale.
func (s *SQLStore) UpsertSchedulerConfig(ctx context.Context, cfg *model.SchedulerConfig) error {
	if cfg.ID == "" {
		cfg.ID = model.DefaultSchedulerConfigID
	}

	channelIDsJSON, err := util.MarshalJSON(cfg.SelectedChannelIDs)
	if err != nil {
		return apperr.DBUpdateError("scheduler_config", err)
	}
	modelIDsJSON, err := util.MarshalJSON(cfg.SelectedModelIDs)
	if err != nil {
		return apperr.DBUpdateError("scheduler_config", err)
	}

	now := time.Now().Unix()
	insertArgs := []any{cfg.ID, boolToInt(cfg.Enabled), cfg.CronExpression, cfg.Timezone, cfg.ChannelConcurrency, cfg.MaxGlobalConcurrency,
		cfg.MinJitterMS, cfg.MaxJitterMS, boolToInt(cfg.DetectAllChannels), channelIDsJSON, modelIDsJSON, cfg.LogRetentionDays, now}
	args := insertArgs
	if s.dialect == "mysql" {
		updateArgs := []any{boolToInt(cfg.Enabled), cfg.CronExpression, cfg.Timezone, cfg.ChannelConcurrency, cfg.MaxGlobalConcurrency,
			cfg.MinJitterMS, cfg.MaxJitterMS, boolToInt(cfg.DetectAllChannels), channelIDsJSON, modelIDsJSON, cfg.LogRetentionDays, now}
		args = append(insertArgs, updateArgs...)
	}

	if _, err = s.db.ExecContext(ctx, upsertSchedulerConfigSQL(s.dialect), args...); err != nil {
		return apperr.DBUpdateError("scheduler_config", err)
	}
	return nil
}

func upsertSchedulerConfigSQL(dialect string) string {
	if dialect == "mysql" {
		return `
			INSERT INTO scheduler_config (id, enabled, cron_expression, timezone, channel_concurrency, max_global_concurrency,
				min_jitter_ms, max_jitter_ms, detect_all_channels, selected_channel_ids, selected_model_ids, log_retention_days, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE enabled=?, cron_expression=?, timezone=?, channel_concurrency=?, max_global_concurrency=?,
				min_jitter_ms=?, max_jitter_ms=?, detect_all_channels=?, selected_channel_ids=?, selected_model_ids=?, log_retention_days=?, updated_at=?`
	}
	return `
		INSERT INTO scheduler_config (id, enabled, cron_expression, timezone, channel_concurrency, max_global_concurrency,
			min_jitter_ms, max_jitter_ms, detect_all_channels, selected_channel_ids, selected_model_ids, log_retention_days, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET enabled=excluded.enabled, cron_expression=excluded.cron_expression, timezone=excluded.timezone,
			channel_concurrency=excluded.channel_concurrency, max_global_concurrency=excluded.max_global_concurrency,
			min_jitter_ms=excluded.min_jitter_ms, max_jitter_ms=excluded.max_jitter_ms, detect_all_channels=excluded.detect_all_channels,
			selected_channel_ids=excluded.selected_channel_ids, selected_model_ids=excluded.selected_model_ids,
			log_retention_days=excluded.log_retention_days, updated_at=excluded.updated_at`
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
