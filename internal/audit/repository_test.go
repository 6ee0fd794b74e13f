package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/nerrad567/gray-motion-core/internal/infrastructure/database"
	"github.com/nerrad567/gray-motion-core/migrations"
)

func setupRepo(t *testing.T) *SQLiteRepository {
	t.Helper()

	db, err := database.Open(database.Config{Path: filepath.Join(t.TempDir(), "audit.db"), WALMode: true, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

var t0 = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

func TestCreate_FillsIDAndTime(t *testing.T) {
	repo := setupRepo(t)

	e := &Entry{Action: ActionEmergencyStop, Operator: "ops", Source: "api:ops", Success: true}
	if err := repo.Create(context.Background(), e); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if e.ID == "" {
		t.Error("ID not generated")
	}
	if e.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
}

func TestCreate_RequiresAction(t *testing.T) {
	repo := setupRepo(t)
	if err := repo.Create(context.Background(), &Entry{Source: "api:ops"}); err == nil {
		t.Error("Create() should reject an entry without action")
	}
}

func TestList_NewestFirstWithDetails(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	entries := []*Entry{
		{ID: "a1", Action: ActionLogin, Operator: "ops", Source: "api", Success: true, CreatedAt: t0},
		{ID: "a2", Action: ActionEmergencyStop, Operator: "ops", Source: "api:ops", Success: true,
			Details: map[string]any{"reason": "crowd"}, CreatedAt: t0.Add(time.Second)},
		{ID: "a3", Action: ActionSafetyReset, Operator: "ops", Source: "api:ops", Success: false,
			CreatedAt: t0.Add(2 * time.Second)},
	}
	for _, e := range entries {
		if err := repo.Create(ctx, e); err != nil {
			t.Fatalf("Create(%s) error = %v", e.ID, err)
		}
	}

	got, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	want := &ListResult{
		Entries: []Entry{
			{ID: "a3", Action: ActionSafetyReset, Operator: "ops", Source: "api:ops", CreatedAt: t0.Add(2 * time.Second)},
			{ID: "a2", Action: ActionEmergencyStop, Operator: "ops", Source: "api:ops", Success: true,
				Details: map[string]any{"reason": "crowd"}, CreatedAt: t0.Add(time.Second)},
			{ID: "a1", Action: ActionLogin, Operator: "ops", Source: "api", Success: true, CreatedAt: t0},
		},
		Total: 3,
		Limit: defaultLimit,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("List() mismatch (-want +got):\n%s", diff)
	}
}

func TestList_Filters(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	for i, e := range []Entry{
		{Action: ActionLogin, Operator: "ops"},
		{Action: ActionLogin, Operator: "root"},
		{Action: ActionEmergencyStop, Operator: "ops"},
		{Action: ActionEmergencyStop, Operator: "ops"},
	} {
		e.Source = "api"
		e.CreatedAt = t0.Add(time.Duration(i) * time.Second)
		if err := repo.Create(ctx, &e); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name      string
		filter    Filter
		wantLen   int
		wantTotal int
	}{
		{"all", Filter{}, 4, 4},
		{"by action", Filter{Action: ActionLogin}, 2, 2},
		{"by operator", Filter{Operator: "ops"}, 3, 3},
		{"both", Filter{Action: ActionEmergencyStop, Operator: "root"}, 0, 0},
		{"paged", Filter{Limit: 1, Offset: 1}, 1, 4},
		{"offset past end", Filter{Offset: 10}, 0, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(got.Entries) != tt.wantLen || got.Total != tt.wantTotal {
				t.Errorf("List() = %d entries, total %d; want %d, %d", len(got.Entries), got.Total, tt.wantLen, tt.wantTotal)
			}
		})
	}
}

func TestList_ClampsLimit(t *testing.T) {
	repo := setupRepo(t)

	got, err := repo.List(context.Background(), Filter{Limit: 5000, Offset: -3})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if got.Limit != maxLimit || got.Offset != 0 {
		t.Errorf("List() limit, offset = %d, %d; want %d, 0", got.Limit, got.Offset, maxLimit)
	}
	if got.Entries == nil {
		t.Error("Entries should be an empty slice, not nil")
	}
}
