package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"probewatch/internal/config"
	"probewatch/internal/model"
	"probewatch/internal/storage/schema"
)

// Dialect 数据库方言
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectMySQL
)

// migrateSQLite 执行SQLite数据库迁移
func migrateSQLite(ctx context.Context, db *sql.DB, cfg *config.EnvConfig) error {
	return migrate(ctx, db, DialectSQLite, cfg)
}

// migrateMySQL 执行MySQL数据库迁移
func migrateMySQL(ctx context.Context, db *sql.DB, cfg *config.EnvConfig) error {
	return migrate(ctx, db, DialectMySQL, cfg)
}

// migrate 建表、建索引，并确保默认调度配置行存在（表定义顺序遵循外键依赖）
func migrate(ctx context.Context, db *sql.DB, dialect Dialect, cfg *config.EnvConfig) error {
	tables := []func() *schema.TableBuilder{
		schema.DefineChannelsTable,
		schema.DefineChannelKeysTable,
		schema.DefineModelsTable,
		schema.DefineModelEndpointsTable,
		schema.DefineCheckLogsTable,
		schema.DefineSchedulerConfigTable,
	}

	for _, defineTable := range tables {
		tb := defineTable()

		if _, err := db.ExecContext(ctx, buildDDL(tb, dialect)); err != nil {
			return fmt.Errorf("create %s table: %w", tb.Name(), err)
		}

		for _, idx := range buildIndexes(tb, dialect) {
			if err := createIndex(ctx, db, idx, dialect); err != nil {
				return err
			}
		}
	}

	if err := seedDefaultSchedulerConfig(ctx, db, dialect, cfg); err != nil {
		return err
	}

	return nil
}

// seedDefaultSchedulerConfig inserts the singleton scheduler_config row
// the first time the schema is created, seeding its tunables from cfg
// (the §6 startup environment overrides) instead of leaving them on
// their SQL column defaults; later startups leave the row alone so
// operator edits survive a restart. cfg may be nil (e.g. in tests that
// exercise schema creation directly), in which case the row falls back
// to the column defaults exactly as before.
func seedDefaultSchedulerConfig(ctx context.Context, db *sql.DB, dialect Dialect, cfg *config.EnvConfig) error {
	if cfg == nil {
		var insertSQL string
		if dialect == DialectMySQL {
			insertSQL = `INSERT IGNORE INTO scheduler_config (id, updated_at) VALUES (?, UNIX_TIMESTAMP())`
		} else {
			insertSQL = `INSERT OR IGNORE INTO scheduler_config (id, updated_at) VALUES (?, unixepoch())`
		}
		_, err := db.ExecContext(ctx, insertSQL, model.DefaultSchedulerConfigID)
		if err != nil {
			return fmt.Errorf("seed default scheduler config: %w", err)
		}
		return nil
	}

	var insertSQL string
	if dialect == DialectMySQL {
		insertSQL = `INSERT IGNORE INTO scheduler_config
			(id, cron_expression, channel_concurrency, max_global_concurrency, min_jitter_ms, max_jitter_ms, log_retention_days, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, UNIX_TIMESTAMP())`
	} else {
		insertSQL = `INSERT OR IGNORE INTO scheduler_config
			(id, cron_expression, channel_concurrency, max_global_concurrency, min_jitter_ms, max_jitter_ms, log_retention_days, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, unixepoch())`
	}
	_, err := db.ExecContext(ctx, insertSQL,
		model.DefaultSchedulerConfigID,
		cfg.CronSchedule,
		cfg.ChannelConcurrency,
		cfg.MaxGlobalConcurrency,
		cfg.MinJitterMS,
		cfg.MaxJitterMS,
		cfg.LogRetentionDays,
	)
	if err != nil {
		return fmt.Errorf("seed default scheduler config: %w", err)
	}
	return nil
}

func buildDDL(tb *schema.TableBuilder, dialect Dialect) string {
	if dialect == DialectMySQL {
		return tb.BuildMySQL()
	}
	return tb.BuildSQLite()
}

func buildIndexes(tb *schema.TableBuilder, dialect Dialect) []schema.IndexDef {
	if dialect == DialectMySQL {
		return tb.GetIndexesMySQL()
	}
	return tb.GetIndexesSQLite()
}

func createIndex(ctx context.Context, db *sql.DB, idx schema.IndexDef, dialect Dialect) error {
	_, err := db.ExecContext(ctx, idx.SQL)
	if err == nil {
		return nil
	}

	if dialect == DialectMySQL && strings.Contains(err.Error(), "Duplicate key name") {
		return nil
	}

	return fmt.Errorf("create index: %w", err)
}
