package audit

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)

	schema := `
		CREATE TABLE audit_logs (
			id          TEXT PRIMARY KEY,
			action      TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id   TEXT,
			actor       TEXT,
			source      TEXT NOT NULL,
			details     TEXT,
			created_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		) STRICT;
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func TestCreateAndList(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	entries := []AuditLog{
		{Action: "register", EntityType: "device", EntityID: "dev-1", Actor: "operator-1", Source: "api"},
		{Action: "movement", EntityType: "device", EntityID: "dev-1", Actor: "operator-1", Source: "api",
			Details: map[string]any{"operation": "acquisition"}},
		{Action: "notify", EntityType: "notification", EntityID: "ntf-1", Actor: "operator-2", Source: "api"},
		{Action: "movement", EntityType: "device", EntityID: "dev-2", Actor: "scheduler", Source: "system"},
	}
	for i := range entries {
		// Spread created_at so ordering is deterministic.
		entries[i].CreatedAt = time.Date(2026, 6, 10, 12, 0, i, 0, time.UTC)
		if err := repo.Create(ctx, &entries[i]); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if entries[i].ID == "" {
			t.Error("Create() did not assign an ID")
		}
	}

	t.Run("lists newest first", func(t *testing.T) {
		result, err := repo.List(ctx, Filter{})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if result.Total != 4 || len(result.Logs) != 4 {
			t.Fatalf("total = %d, rows = %d, want 4/4", result.Total, len(result.Logs))
		}
		if result.Logs[0].EntityID != "dev-2" {
			t.Errorf("first row = %+v, want the newest entry", result.Logs[0])
		}
	})

	t.Run("filters by action and entity", func(t *testing.T) {
		result, err := repo.List(ctx, Filter{Action: "movement", EntityID: "dev-1"})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if result.Total != 1 {
			t.Fatalf("total = %d, want 1", result.Total)
		}
		if op := result.Logs[0].Details["operation"]; op != "acquisition" {
			t.Errorf("details operation = %v, want acquisition", op)
		}
	})

	t.Run("filters by actor", func(t *testing.T) {
		result, err := repo.List(ctx, Filter{Actor: "operator-1"})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if result.Total != 2 {
			t.Errorf("total = %d, want 2", result.Total)
		}
	})

	t.Run("paginates with total preserved", func(t *testing.T) {
		result, err := repo.List(ctx, Filter{Limit: 2, Offset: 2})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if result.Total != 4 || len(result.Logs) != 2 {
			t.Errorf("total = %d, rows = %d, want 4/2", result.Total, len(result.Logs))
		}
	})

	t.Run("empty result is a slice, not nil", func(t *testing.T) {
		result, err := repo.List(ctx, Filter{Action: "login"})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if result.Logs == nil || len(result.Logs) != 0 {
			t.Errorf("logs = %v, want empty slice", result.Logs)
		}
	})
}
