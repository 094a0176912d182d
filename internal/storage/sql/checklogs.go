package sql

import (
	"context"
	"database/sql"
	"time"

	"probewatch/internal/apperr"
	"probewatch/internal/model"
)

// PurgeCheckLogsOlderThan deletes every check_logs row created before
// cutoff and reports how many rows were removed.
func (s *SQLStore) PurgeCheckLogsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM check_logs WHERE created_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, apperr.DBDeleteError("check_logs", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, apperr.DBDeleteError("check_logs", err)
	}
	return deleted, nil
}

// ListCheckLogs returns the most recent logs for a model, newest first,
// capped at limit.
func (s *SQLStore) ListCheckLogs(ctx context.Context, modelID int64, limit int) ([]*model.CheckLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, model_id, endpoint_kind, status, latency_ms, status_code, error_msg, response_content, created_at
		FROM check_logs WHERE model_id = ? ORDER BY created_at DESC LIMIT ?`, modelID, limit)
	if err != nil {
		return nil, apperr.DBQueryError("list_check_logs", err)
	}
	defer rows.Close()

	var logs []*model.CheckLog
	for rows.Next() {
		l := &model.CheckLog{}
		var statusCode sql.NullInt64
		var errorMsg, responseContent sql.NullString
		var createdAt int64
		if err := rows.Scan(&l.ID, &l.ModelID, &l.EndpointKind, &l.Status, &l.LatencyMS, &statusCode, &errorMsg, &responseContent, &createdAt); err != nil {
			return nil, apperr.DBQueryError("scan_check_log", err)
		}
		l.StatusCode = nullInt64ToIntPtr(statusCode)
		l.ErrorMessage = errorMsg.String
		l.ResponseContent = responseContent.String
		l.CreatedAt = unixToTime(createdAt)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
