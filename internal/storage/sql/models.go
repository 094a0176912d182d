package sql

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"probewatch/internal/apperr"
	"probewatch/internal/model"
)

func (s *SQLStore) GetModel(ctx context.Context, id int64) (*model.Model, error) {
	m, err := s.scanModel(ctx, s.db.QueryRowContext(ctx, modelSelectCols+` FROM models WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	endpoints, err := s.loadModelEndpoints(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	m.Endpoints = endpoints
	return m, nil
}

func (s *SQLStore) ListModelsByChannel(ctx context.Context, channelID int64) ([]*model.Model, error) {
	rows, err := s.db.QueryContext(ctx, modelSelectCols+` FROM models WHERE channel_id = ? ORDER BY id ASC`, channelID)
	if err != nil {
		return nil, apperr.DBQueryError("list_models_by_channel", err)
	}
	defer rows.Close()

	var result []*model.Model
	for rows.Next() {
		m, err := s.scanModelRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.DBQueryError("list_models_by_channel", err)
	}

	for _, m := range result {
		endpoints, err := s.loadModelEndpoints(ctx, m.ID)
		if err != nil {
			return nil, err
		}
		m.Endpoints = endpoints
	}
	return result, nil
}

const modelSelectCols = `SELECT id, channel_id, channel_key_id, model_name, health_status, last_status, last_latency_ms, last_checked_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLStore) scanModel(ctx context.Context, row *sql.Row) (*model.Model, error) {
	m, err := scanModelFields(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.DBQueryError("get_model", err)
		}
		return nil, apperr.DBQueryError("get_model", err)
	}
	return m, nil
}

func (s *SQLStore) scanModelRow(row rowScanner) (*model.Model, error) {
	m, err := scanModelFields(row)
	if err != nil {
		return nil, apperr.DBQueryError("scan_model", err)
	}
	return m, nil
}

func scanModelFields(row rowScanner) (*model.Model, error) {
	m := &model.Model{}
	var channelKeyID, lastLatencyMS, lastCheckedAt sql.NullInt64
	var lastStatus sql.NullBool
	var createdAt int64
	if err := row.Scan(&m.ID, &m.ChannelID, &channelKeyID, &m.Name, &m.Health, &lastStatus, &lastLatencyMS, &lastCheckedAt, &createdAt); err != nil {
		return nil, err
	}
	m.ChannelKeyID = nullInt64ToPtr(channelKeyID)
	m.LastStatus = nullBoolToTriState(lastStatus)
	m.LastLatencyMS = nullInt64ToPtr(lastLatencyMS)
	m.LastCheckedAt = nullableTime(lastCheckedAt)
	m.CreatedAt = unixToTime(createdAt)
	return m, nil
}

func (s *SQLStore) loadModelEndpoints(ctx context.Context, modelID int64) ([]*model.ModelEndpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT model_id, endpoint_kind, status, latency_ms, status_code, error_msg, response_content, checked_at
		FROM model_endpoints WHERE model_id = ?`, modelID)
	if err != nil {
		return nil, apperr.DBQueryError("load_model_endpoints", err)
	}
	defer rows.Close()

	var endpoints []*model.ModelEndpoint
	for rows.Next() {
		ep := &model.ModelEndpoint{}
		var statusCode sql.NullInt64
		var errorMsg, responseContent sql.NullString
		var checkedAt int64
		if err := rows.Scan(&ep.ModelID, &ep.EndpointKind, &ep.Status, &ep.LatencyMS, &statusCode, &errorMsg, &responseContent, &checkedAt); err != nil {
			return nil, apperr.DBQueryError("scan_model_endpoint", err)
		}
		ep.StatusCode = nullInt64ToIntPtr(statusCode)
		ep.ErrorMessage = errorMsg.String
		ep.ResponseContent = responseContent.String
		ep.CheckedAt = unixToTime(checkedAt)
		endpoints = append(endpoints, ep)
	}
	return endpoints, rows.Err()
}

// ResetModelsProbeState deletes every ModelEndpoint row for the given
// models and resets them to UNKNOWN, in one transaction.
func (s *SQLStore) ResetModelsProbeState(ctx context.Context, modelIDs []int64) error {
	if len(modelIDs) == 0 {
		return nil
	}
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(modelIDs)), ",")
		args := make([]any, len(modelIDs))
		for i, id := range modelIDs {
			args[i] = id
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM model_endpoints WHERE model_id IN (`+placeholders+`)`, args...); err != nil {
			return apperr.DBDeleteError("model_endpoints", err)
		}

		updateArgs := append([]any{string(model.HealthUnknown)}, args...)
		if _, err := tx.ExecContext(ctx, `
			UPDATE models SET health_status = ?, last_status = NULL, last_latency_ms = NULL, last_checked_at = NULL
			WHERE id IN (`+placeholders+`)`, updateArgs...); err != nil {
			return apperr.DBUpdateError("models", err)
		}
		return nil
	})
}

// PersistProbeOutcome is the atomicity boundary for model health
// updates: upsert the endpoint row, append a CheckLog, re-derive and
// write the Model's aggregate health — all inside one transaction.
func (s *SQLStore) PersistProbeOutcome(ctx context.Context, job *model.ProbeJob, outcome *model.ProbeOutcome) error {
	now := time.Now()
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		statusCode := intPtrToNullInt64(outcome.HTTPStatus)
		errMsg := sql.NullString{String: outcome.ErrorMessage, Valid: outcome.ErrorMessage != ""}
		respContent := sql.NullString{String: outcome.ResponseContent, Valid: outcome.ResponseContent != ""}

		endpointArgs := []any{job.ModelID, string(outcome.EndpointKind), string(outcome.Status), outcome.LatencyMS, statusCode, errMsg, respContent, now.Unix()}
		if s.dialect == "mysql" {
			endpointArgs = append(endpointArgs, string(outcome.Status), outcome.LatencyMS, statusCode, errMsg, respContent, now.Unix())
		}
		if _, err := tx.ExecContext(ctx, upsertModelEndpointSQL(s.dialect), endpointArgs...); err != nil {
			return apperr.DBInsertError("model_endpoints", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO check_logs (model_id, endpoint_kind, status, latency_ms, status_code, error_msg, response_content, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			job.ModelID, string(outcome.EndpointKind), string(outcome.Status), outcome.LatencyMS, statusCode, errMsg, respContent, now.Unix()); err != nil {
			return apperr.DBInsertError("check_logs", err)
		}

		rows, err := tx.QueryContext(ctx, `SELECT endpoint_kind, status FROM model_endpoints WHERE model_id = ?`, job.ModelID)
		if err != nil {
			return apperr.DBQueryError("reload_model_endpoints", err)
		}
		var endpoints []*model.ModelEndpoint
		for rows.Next() {
			ep := &model.ModelEndpoint{}
			if err := rows.Scan(&ep.EndpointKind, &ep.Status); err != nil {
				rows.Close()
				return apperr.DBQueryError("scan_endpoint_status", err)
			}
			endpoints = append(endpoints, ep)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return apperr.DBQueryError("reload_model_endpoints", err)
		}

		health, lastStatus := model.DeriveHealth(endpoints)
		if _, err := tx.ExecContext(ctx, `
			UPDATE models SET health_status = ?, last_status = ?, last_latency_ms = ?, last_checked_at = ?
			WHERE id = ?`, string(health), triStateToNullBool(lastStatus), outcome.LatencyMS, now.Unix(), job.ModelID); err != nil {
			return apperr.DBUpdateError("models", err)
		}
		return nil
	})
}

// upsertModelEndpointSQL returns the dialect-specific upsert statement
// for the (model_id, endpoint_kind) composite key.
func upsertModelEndpointSQL(dialect string) string {
	if dialect == "mysql" {
		return `
			INSERT INTO model_endpoints (model_id, endpoint_kind, status, latency_ms, status_code, error_msg, response_content, checked_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE status=?, latency_ms=?, status_code=?, error_msg=?, response_content=?, checked_at=?`
	}
	return `
		INSERT INTO model_endpoints (model_id, endpoint_kind, status, latency_ms, status_code, error_msg, response_content, checked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(model_id, endpoint_kind) DO UPDATE SET status=excluded.status, latency_ms=excluded.latency_ms,
			status_code=excluded.status_code, error_msg=excluded.error_msg, response_content=excluded.response_content, checked_at=excluded.checked_at`
}

func (s *SQLStore) ListModelsForSync(ctx context.Context, channelID int64) ([]*model.Model, error) {
	return s.ListModelsByChannel(ctx, channelID)
}

// ReplaceOrAddModels inserts names that don't yet exist for the channel
// and leaves the rest untouched — add-only, retains history.
func (s *SQLStore) ReplaceOrAddModels(ctx context.Context, channelID int64, names []string) (int, error) {
	if len(names) == 0 {
		return 0, nil
	}
	existing := make(map[string]bool)
	rows, err := s.db.QueryContext(ctx, `SELECT model_name FROM models WHERE channel_id = ?`, channelID)
	if err != nil {
		return 0, apperr.DBQueryError("list_existing_models", err)
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return 0, apperr.DBQueryError("scan_existing_model", err)
		}
		existing[name] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, apperr.DBQueryError("list_existing_models", err)
	}

	added := 0
	now := time.Now().Unix()
	for _, name := range names {
		if existing[name] {
			continue
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO models (channel_id, model_name, created_at) VALUES (?, ?, ?)`, channelID, name, now); err != nil {
			return added, apperr.DBInsertError("models", err)
		}
		existing[name] = true
		added++
	}
	return added, nil
}
