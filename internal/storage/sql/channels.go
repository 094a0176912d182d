package sql

import (
	"context"
	"database/sql"

	"probewatch/internal/apperr"
	"probewatch/internal/model"
)

func (s *SQLStore) LoadEnabledChannels(ctx context.Context, withModels bool) ([]*model.Channel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, base_url, primary_api_key, key_mode, proxy_url, enabled, sort_order, created_at, updated_at
		FROM channels
		WHERE enabled = 1
		ORDER BY sort_order ASC, created_at DESC`)
	if err != nil {
		return nil, apperr.DBQueryError("load_enabled_channels", err)
	}
	defer rows.Close()

	var channels []*model.Channel
	for rows.Next() {
		c := &model.Channel{}
		var enabled int
		var createdAt, updatedAt int64
		if err := rows.Scan(&c.ID, &c.Name, &c.BaseURL, &c.PrimaryAPIKey, &c.KeyMode, &c.ProxyURL, &enabled, &c.SortOrder, &createdAt, &updatedAt); err != nil {
			return nil, apperr.DBQueryError("scan_channel", err)
		}
		c.Enabled = enabled != 0
		c.CreatedAt = unixToTime(createdAt)
		c.UpdatedAt = unixToTime(updatedAt)
		channels = append(channels, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.DBQueryError("load_enabled_channels", err)
	}

	for _, c := range channels {
		keys, err := s.loadChannelKeys(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		c.AdditionalKeys = keys

		if withModels {
			models, err := s.ListModelsByChannel(ctx, c.ID)
			if err != nil {
				return nil, err
			}
			c.Models = models
		}
	}
	return channels, nil
}

func (s *SQLStore) GetChannel(ctx context.Context, id int64) (*model.Channel, error) {
	c := &model.Channel{}
	var enabled int
	var createdAt, updatedAt int64
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, base_url, primary_api_key, key_mode, proxy_url, enabled, sort_order, created_at, updated_at
		FROM channels WHERE id = ?`, id)
	if err := row.Scan(&c.ID, &c.Name, &c.BaseURL, &c.PrimaryAPIKey, &c.KeyMode, &c.ProxyURL, &enabled, &c.SortOrder, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.DBQueryError("get_channel", err).WithContext("channel_id", id)
		}
		return nil, apperr.DBQueryError("get_channel", err)
	}
	c.Enabled = enabled != 0
	c.CreatedAt = unixToTime(createdAt)
	c.UpdatedAt = unixToTime(updatedAt)

	keys, err := s.loadChannelKeys(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	c.AdditionalKeys = keys
	return c, nil
}

func (s *SQLStore) loadChannelKeys(ctx context.Context, channelID int64) ([]model.ChannelKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, channel_id, api_key, last_valid, last_checked_at
		FROM channel_keys WHERE channel_id = ? ORDER BY sort_index ASC`, channelID)
	if err != nil {
		return nil, apperr.DBQueryError("load_channel_keys", err)
	}
	defer rows.Close()

	var keys []model.ChannelKey
	for rows.Next() {
		var k model.ChannelKey
		var lastValid sql.NullBool
		var lastCheckedAt sql.NullInt64
		if err := rows.Scan(&k.ID, &k.ChannelID, &k.APIKey, &lastValid, &lastCheckedAt); err != nil {
			return nil, apperr.DBQueryError("scan_channel_key", err)
		}
		k.LastValid = nullBoolToTriState(lastValid)
		k.LastCheckedAt = nullableTime(lastCheckedAt)
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
