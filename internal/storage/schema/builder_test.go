package schema

import (
	"testing"
)

func TestChannelsTableGeneration(t *testing.T) {
	channels := DefineChannelsTable()

	t.Run("MySQL DDL", func(t *testing.T) {
		sql := channels.BuildMySQL()
		t.Logf("MySQL DDL:\n%s", sql)

		if !contains(sql, "INT PRIMARY KEY AUTO_INCREMENT") {
			t.Error("Missing AUTO_INCREMENT")
		}
		if !contains(sql, "VARCHAR(191)") {
			t.Error("Missing VARCHAR")
		}
	})

	t.Run("SQLite DDL", func(t *testing.T) {
		sql := channels.BuildSQLite()
		t.Logf("SQLite DDL:\n%s", sql)

		if !contains(sql, "INTEGER PRIMARY KEY AUTOINCREMENT") {
			t.Error("Missing AUTOINCREMENT")
		}
		if !contains(sql, "TEXT") {
			t.Error("Missing TEXT type")
		}
		if contains(sql, "VARCHAR") {
			t.Error("VARCHAR not converted to TEXT")
		}
	})

	t.Run("Indexes", func(t *testing.T) {
		mysqlIndexes := channels.GetIndexesMySQL()
		sqliteIndexes := channels.GetIndexesSQLite()

		if len(mysqlIndexes) != 2 {
			t.Errorf("Expected 2 MySQL indexes, got %d", len(mysqlIndexes))
		}

		for _, idx := range sqliteIndexes {
			if !contains(idx.SQL, "IF NOT EXISTS") {
				t.Errorf("SQLite index missing IF NOT EXISTS: %s", idx.SQL)
			}
		}
	})
}

func TestModelsTableUniqueConstraint(t *testing.T) {
	models := DefineModelsTable()

	mysql := models.BuildMySQL()
	if !contains(mysql, "UNIQUE KEY uk_channel_model") {
		t.Error("MySQL DDL missing named unique key")
	}

	sqlite := models.BuildSQLite()
	if contains(sqlite, "UNIQUE KEY") {
		t.Error("SQLite DDL should not carry a MySQL-style named UNIQUE KEY")
	}
	if !contains(sqlite, "UNIQUE (channel_id, model_name)") {
		t.Errorf("SQLite DDL missing inline UNIQUE constraint: %s", sqlite)
	}
}

func TestModelEndpointsCompositePrimaryKey(t *testing.T) {
	eps := DefineModelEndpointsTable()
	for _, sql := range []string{eps.BuildMySQL(), eps.BuildSQLite()} {
		if !contains(sql, "PRIMARY KEY (model_id, endpoint_kind)") {
			t.Errorf("missing composite primary key: %s", sql)
		}
	}
}

func TestCheckLogsIndexes(t *testing.T) {
	logs := DefineCheckLogsTable()
	idx := logs.GetIndexesMySQL()
	if len(idx) != 2 {
		t.Fatalf("expected 2 indexes on check_logs, got %d", len(idx))
	}
	foundModelTime, foundTime := false, false
	for _, i := range idx {
		if contains(i.SQL, "model_id, created_at DESC") {
			foundModelTime = true
		}
		if contains(i.SQL, "ON check_logs(created_at)") {
			foundTime = true
		}
	}
	if !foundModelTime || !foundTime {
		t.Errorf("missing expected retention/lookup indexes: %+v", idx)
	}
}

func contains(s, substr string) bool {
	return len(s) > 0 && len(substr) > 0 && stringContains(s, substr)
}

func stringContains(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
