package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-roborock/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-roborock/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-roborock/migrations"
)

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "audit.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if _, err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

func TestSQLiteRepository_CreateGeneratesIDAndTime(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t).DB)

	log := &CommandLog{DUID: "duid-1", Method: "get_status", Transport: "local", Outcome: OutcomeOK}
	if err := repo.Create(context.Background(), log); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if len(log.ID) != len("cmd-")+8 {
		t.Errorf("ID = %q, want cmd- plus 8 characters", log.ID)
	}
	if log.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
}

func TestSQLiteRepository_List(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t).DB)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	entries := []CommandLog{
		{DUID: "duid-1", Method: "get_status", Transport: "local", MessageID: 11, Outcome: OutcomeOK, Duration: 120 * time.Millisecond},
		{DUID: "duid-1", Method: "app_start", Transport: "cloud", MessageID: 12, Outcome: OutcomeTimeout, Error: "roborock: request timed out"},
		{DUID: "duid-2", Method: "get_status", Transport: "cloud", MessageID: 13, Outcome: OutcomeRPCError, Error: "rpc error -10007: invalid status"},
	}
	for i := range entries {
		entries[i].CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := repo.Create(ctx, &entries[i]); err != nil {
			t.Fatalf("Create(%d) error = %v", i, err)
		}
	}

	tests := []struct {
		name    string
		filter  Filter
		wantIDs []string
		total   int
	}{
		{"all, newest first", Filter{}, []string{entries[2].ID, entries[1].ID, entries[0].ID}, 3},
		{"by duid", Filter{DUID: "duid-1"}, []string{entries[1].ID, entries[0].ID}, 2},
		{"by method", Filter{Method: "get_status"}, []string{entries[2].ID, entries[0].ID}, 2},
		{"by outcome", Filter{Outcome: OutcomeTimeout}, []string{entries[1].ID}, 1},
		{"paged", Filter{Limit: 1, Offset: 1}, []string{entries[1].ID}, 3},
		{"no match", Filter{DUID: "missing"}, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if got.Total != tt.total {
				t.Errorf("Total = %d, want %d", got.Total, tt.total)
			}
			if len(got.Logs) != len(tt.wantIDs) {
				t.Fatalf("len(Logs) = %d, want %d", len(got.Logs), len(tt.wantIDs))
			}
			for i, id := range tt.wantIDs {
				if got.Logs[i].ID != id {
					t.Errorf("Logs[%d].ID = %q, want %q", i, got.Logs[i].ID, id)
				}
			}
		})
	}

	got, err := repo.List(ctx, Filter{Outcome: OutcomeOK})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	first := got.Logs[0]
	if first.Duration != 120*time.Millisecond || first.MessageID != 11 || first.Error != "" {
		t.Errorf("round trip = %+v", first)
	}
	if !first.CreatedAt.Equal(base) {
		t.Errorf("CreatedAt = %v, want %v", first.CreatedAt, base)
	}
}

func TestSQLiteRepository_ListClampsLimit(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t).DB)

	tests := []struct {
		limit, want int
	}{
		{0, defaultLimit},
		{-5, defaultLimit},
		{500, maxLimit},
		{20, 20},
	}
	for _, tt := range tests {
		got, err := repo.List(context.Background(), Filter{Limit: tt.limit, Offset: -1})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if got.Limit != tt.want || got.Offset != 0 {
			t.Errorf("Limit %d → (%d, %d), want (%d, 0)", tt.limit, got.Limit, got.Offset, tt.want)
		}
	}
}
