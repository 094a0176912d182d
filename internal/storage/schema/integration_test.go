package schema

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"testing"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

// TestSuiteIntegration 测试套件：验证所有表的DDL在真实数据库中的执行
type TestSuiteIntegration struct {
	dbSQLite   *sql.DB
	dbMySQL    *sql.DB
	mysqlDSN   string
	skipMySQL  bool
	tablesDefs []func() *TableBuilder
	tableNames []string
}

func setupIntegrationTest(t *testing.T) *TestSuiteIntegration {
	suite := &TestSuiteIntegration{
		tablesDefs: []func() *TableBuilder{
			DefineChannelsTable,
			DefineChannelKeysTable,
			DefineModelsTable,
			DefineModelEndpointsTable,
			DefineCheckLogsTable,
			DefineSchedulerConfigTable,
		},
		tableNames: []string{
			"channels",
			"channel_keys",
			"models",
			"model_endpoints",
			"check_logs",
			"scheduler_config",
		},
	}

	sqliteDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open SQLite: %v", err)
	}
	if _, err := sqliteDB.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("Failed to enable foreign keys: %v", err)
	}
	suite.dbSQLite = sqliteDB

	suite.mysqlDSN = os.Getenv("PROBE_TEST_MYSQL_DSN")
	if suite.mysqlDSN == "" {
		t.Logf("MySQL DSN not set, skipping MySQL tests")
		suite.skipMySQL = true
	} else {
		mysqlDB, err := sql.Open("mysql", suite.mysqlDSN)
		if err != nil {
			t.Logf("Failed to open MySQL: %v, skipping MySQL tests", err)
			suite.skipMySQL = true
		} else {
			suite.dbMySQL = mysqlDB
		}
	}

	return suite
}

func teardownIntegrationTest(suite *TestSuiteIntegration, t *testing.T) {
	if suite.dbSQLite != nil {
		suite.dbSQLite.Close()
	}
	if suite.dbMySQL != nil && !suite.skipMySQL {
		suite.dbMySQL.Close()
	}
}

func TestAllTablesSQLiteIntegration(t *testing.T) {
	suite := setupIntegrationTest(t)
	defer teardownIntegrationTest(suite, t)

	ctx := context.Background()

	for i, tableDef := range suite.tablesDefs {
		tableName := suite.tableNames[i]
		t.Run(tableName, func(t *testing.T) {
			builder := tableDef()
			sqliteDDL := builder.BuildSQLite()
			t.Logf("SQLite DDL for %s:\n%s", tableName, sqliteDDL)

			if _, err := suite.dbSQLite.ExecContext(ctx, sqliteDDL); err != nil {
				t.Fatalf("Failed to create table %s: %v", tableName, err)
			}
			verifyTableExists(t, suite.dbSQLite, tableName, "SQLite")
			verifyTableStructure(t, suite.dbSQLite, tableName, "SQLite")
			verifyIndexesCreated(t, suite.dbSQLite, tableName, builder.GetIndexesSQLite(), "SQLite")
		})
	}

	t.Run("TableRelationships", func(t *testing.T) {
		testTableRelationships(t, suite.dbSQLite)
	})
}

func TestAllTablesMySQLIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping MySQL integration test in short mode")
	}

	suite := setupIntegrationTest(t)
	defer teardownIntegrationTest(suite, t)

	if suite.skipMySQL {
		t.Skip("MySQL tests skipped")
	}

	ctx := context.Background()

	for i, tableDef := range suite.tablesDefs {
		tableName := suite.tableNames[i]
		t.Run(tableName, func(t *testing.T) {
			builder := tableDef()
			mysqlDDL := builder.BuildMySQL()
			t.Logf("MySQL DDL for %s:\n%s", tableName, mysqlDDL)

			if _, err := suite.dbMySQL.ExecContext(ctx, mysqlDDL); err != nil {
				t.Fatalf("Failed to create table %s: %v", tableName, err)
			}
			verifyTableExists(t, suite.dbMySQL, tableName, "MySQL")
			verifyTableStructure(t, suite.dbMySQL, tableName, "MySQL")
			verifyIndexesCreated(t, suite.dbMySQL, tableName, builder.GetIndexesMySQL(), "MySQL")
		})
	}

	t.Run("TableRelationships", func(t *testing.T) {
		testTableRelationships(t, suite.dbMySQL)
	})
}

func verifyTableExists(t *testing.T, db *sql.DB, tableName, dbType string) {
	var exists bool
	var query string
	var args []any

	switch dbType {
	case "SQLite":
		query = "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?"
		args = []any{tableName}
	case "MySQL":
		query = "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema=DATABASE() AND table_name=?"
		args = []any{tableName}
	}

	if err := db.QueryRow(query, args...).Scan(&exists); err != nil {
		t.Fatalf("Failed to check if table %s exists: %v", tableName, err)
	}
	if !exists {
		t.Errorf("Table %s was not created", tableName)
	}
}

func verifyTableStructure(t *testing.T, db *sql.DB, tableName, dbType string) {
	var query string
	switch dbType {
	case "SQLite":
		query = fmt.Sprintf("PRAGMA table_info(%s)", tableName)
	case "MySQL":
		query = fmt.Sprintf("DESCRIBE %s", tableName)
	}

	rows, err := db.Query(query)
	if err != nil {
		t.Fatalf("Failed to get table structure for %s: %v", tableName, err)
	}
	defer rows.Close()

	var actualColumns []string
	for rows.Next() {
		var colName, colType, nullable, key, defaultValue, extra string
		switch dbType {
		case "SQLite":
			var cid int
			var dfltValue any
			if err := rows.Scan(&cid, &colName, &colType, &nullable, &dfltValue, &extra); err != nil {
				t.Errorf("Failed to scan column info: %v", err)
				continue
			}
		case "MySQL":
			if err := rows.Scan(&colName, &colType, &nullable, &key, &defaultValue, &extra); err != nil {
				t.Errorf("Failed to scan column info: %v", err)
				continue
			}
		}
		actualColumns = append(actualColumns, colName)
	}
	if len(actualColumns) == 0 {
		t.Errorf("No columns found in table %s", tableName)
	}
}

func verifyIndexesCreated(t *testing.T, db *sql.DB, tableName string, indexes []IndexDef, dbType string) {
	for _, idx := range indexes {
		var query string
		var result any
		switch dbType {
		case "SQLite":
			query = fmt.Sprintf("SELECT name FROM pragma_index_list('%s') WHERE name='%s'", tableName, idx.Name)
			if err := db.QueryRow(query).Scan(&result); err != nil {
				t.Logf("Info: index %s not verifiable: %v", idx.Name, err)
				continue
			}
		case "MySQL":
			query = fmt.Sprintf("SELECT COUNT(*) FROM information_schema.statistics WHERE table_schema=DATABASE() AND table_name='%s' AND index_name='%s'", tableName, idx.Name)
			var count int
			if err := db.QueryRow(query).Scan(&count); err != nil || count == 0 {
				t.Logf("Info: index %s not found in MySQL", idx.Name)
			}
		}
	}
}

func testTableRelationships(t *testing.T, db *sql.DB) {
	var foreignKeysSupported bool
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeysSupported); err == nil && foreignKeysSupported {
		result, err := db.Exec("INSERT INTO channels (name, base_url, primary_api_key, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
			"test-channel", "https://api.example.test", "sk-test", 1234567890, 1234567890)
		if err != nil {
			t.Fatalf("Failed to insert test channel: %v", err)
		}
		channelID, _ := result.LastInsertId()

		modelResult, err := db.Exec("INSERT INTO models (channel_id, model_name, created_at) VALUES (?, ?, ?)",
			channelID, "gpt-4", 1234567890)
		if err != nil {
			t.Fatalf("Failed to insert related model: %v", err)
		}
		modelID, _ := modelResult.LastInsertId()

		if _, err := db.Exec("INSERT INTO model_endpoints (model_id, endpoint_kind, status, checked_at) VALUES (?, ?, ?, ?)",
			modelID, "chat", "success", 1234567890); err != nil {
			t.Fatalf("Failed to insert related model_endpoint: %v", err)
		}

		if _, err := db.Exec("INSERT INTO models (channel_id, model_name, created_at) VALUES (?, ?, ?)",
			99999, "orphan", 1234567890); err == nil {
			t.Error("expected foreign key constraint violation for invalid channel_id")
		}
	} else {
		t.Log("foreign key constraints not supported or disabled")
	}
}

func TestTypeConversionCorrectness(t *testing.T) {
	testCases := []struct {
		mysqlCol       string
		expectedSQLite string
		description    string
	}{
		{"INT PRIMARY KEY AUTO_INCREMENT", "INTEGER PRIMARY KEY AUTOINCREMENT", "auto increment primary key"},
		{"INT NOT NULL", "INTEGER NOT NULL", "integer column"},
		{"BIGINT NOT NULL", "BIGINT NOT NULL", "big integer column"},
		{"VARCHAR(191) NOT NULL", "TEXT NOT NULL", "varchar column"},
		{"TINYINT NULL", "INTEGER NULL", "tri-state tinyint column"},
		{"VARCHAR(255) UNIQUE", "TEXT UNIQUE", "varchar with unique constraint"},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			sqliteDDL := NewTable("test").Column(tc.mysqlCol).BuildSQLite()
			if !strings.Contains(sqliteDDL, tc.expectedSQLite) {
				t.Errorf("expected %s in SQLite DDL, got:\n%s", tc.expectedSQLite, sqliteDDL)
			}
		})
	}
}

func TestNamedUniqueKeyStripped(t *testing.T) {
	builder := NewTable("models").
		Column("id INT PRIMARY KEY AUTO_INCREMENT").
		Column("channel_id INT NOT NULL").
		Column("model_name VARCHAR(191) NOT NULL").
		Column("UNIQUE KEY uk_channel_model (channel_id, model_name)")

	sqlite := builder.BuildSQLite()
	if strings.Contains(sqlite, "UNIQUE KEY") {
		t.Errorf("SQLite DDL should not retain a named UNIQUE KEY: %s", sqlite)
	}
	if !strings.Contains(sqlite, "UNIQUE (channel_id, model_name)") {
		t.Errorf("SQLite DDL missing converted UNIQUE constraint: %s", sqlite)
	}
}
