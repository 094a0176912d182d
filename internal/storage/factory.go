package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	"probewatch/internal/config"
	sqlstore "probewatch/internal/storage/sql"
)

// NewStore opens and migrates the configured backend: pure MySQL if
// PROBE_MYSQL_DSN is set, otherwise pure SQLite (the default, single
// binary/no-backup mode suited to development and small deployments).
func NewStore(cfg *config.EnvConfig) (Store, error) {
	if cfg.MySQLDSN != "" {
		store, err := createMySQLStore(cfg.MySQLDSN, cfg)
		if err != nil {
			return nil, fmt.Errorf("mysql init failed: %w", err)
		}
		log.Print("using MySQL storage")
		return store, nil
	}

	dbPath := cfg.SQLitePath
	if dbPath == "" {
		dbPath = resolveSQLitePath()
	}
	store, err := createSQLiteStore(dbPath, cfg)
	if err != nil {
		return nil, fmt.Errorf("sqlite init failed: %w", err)
	}
	log.Printf("using SQLite storage: %s", dbPath)
	return store, nil
}

func createMySQLStore(dsn string, cfg *config.EnvConfig) (*sqlstore.SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("mysql dsn must not be empty")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql connection: %w", err)
	}

	db.SetMaxOpenConns(config.SQLiteMaxOpenConnsFile * 2)
	db.SetMaxIdleConns(config.SQLiteMaxIdleConnsFile * 2)
	db.SetConnMaxLifetime(config.SQLiteConnMaxLifetime)

	pingCtx, pingCancel := context.WithTimeout(context.Background(), config.StartupDBPingTimeout)
	defer pingCancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mysql ping failed (timeout %v): %w", config.StartupDBPingTimeout, err)
	}

	store := sqlstore.NewSQLStore(db, "mysql")

	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), config.StartupMigrationTimeout)
	defer migrateCancel()
	if err := migrateMySQL(migrateCtx, db, cfg); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mysql migration failed (timeout %v): %w", config.StartupMigrationTimeout, err)
	}

	return store, nil
}

func createSQLiteStore(path string, cfg *config.EnvConfig) (*sqlstore.SQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}

	dsn := buildSQLiteDSN(path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite failed: %w", err)
	}

	// A single connection serializes every transaction through
	// database/sql, which is the only way to avoid SQLITE_BUSY under
	// concurrent worker writes without a separate lock layer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(config.SQLiteConnMaxLifetime)

	store := sqlstore.NewSQLStore(db, "sqlite")

	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), config.StartupMigrationTimeout)
	defer migrateCancel()
	if err := migrateSQLite(migrateCtx, db, cfg); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migration failed (timeout %v): %w", config.StartupMigrationTimeout, err)
	}

	return store, nil
}

func resolveSQLitePath() string {
	defaultDir := "data"
	defaultPath := filepath.Join(defaultDir, "probewatch.db")

	if isDirWritable(defaultDir) {
		return defaultPath
	}
	if err := os.MkdirAll(defaultDir, 0o750); err == nil && isDirWritable(defaultDir) {
		return defaultPath
	}

	tmpPath := filepath.Join(os.TempDir(), "probewatch", "probewatch.db")
	log.Printf("[WARN] default data dir %q is not writable, falling back to %s (not durable across restarts)", defaultDir, tmpPath)
	return tmpPath
}

func isDirWritable(dir string) bool {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return false
	}
	testFile := filepath.Join(dir, fmt.Sprintf(".write_test_%d", os.Getpid()))
	f, err := os.Create(testFile)
	if err != nil {
		return false
	}
	_ = f.Close()
	_ = os.Remove(testFile)
	return true
}

func buildSQLiteDSN(path string) string {
	journalMode := validateJournalMode(os.Getenv("SQLITE_JOURNAL_MODE"))
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_foreign_keys=on&_pragma=journal_mode=%s&_loc=Local", path, journalMode)
}

func validateJournalMode(mode string) string {
	if mode == "" {
		return "WAL"
	}
	validModes := map[string]bool{"DELETE": true, "TRUNCATE": true, "PERSIST": true, "MEMORY": true, "WAL": true, "OFF": true}
	modeUpper := strings.ToUpper(mode)
	if !validModes[modeUpper] {
		log.Printf("[WARN] invalid SQLITE_JOURNAL_MODE %q, falling back to WAL", mode)
		return "WAL"
	}
	return modeUpper
}
