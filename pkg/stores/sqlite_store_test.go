package stores

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

// setupTestStore creates a file-backed SQLite store in a temp directory
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: filepath.Join(t.TempDir(), "ledger", "installed.db"),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func day(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}

func TestNewSQLiteStore_RequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Error("expected error for empty path")
	}
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	// A second migration run is a no-op.
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}

	for _, table := range []string{"installed_packages", "events"} {
		var count int
		if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}
}

func TestMigrate_Uninitialized(t *testing.T) {
	store, _ := NewSQLiteStore(Config{Path: "unused.db"})
	if err := store.Migrate(context.Background()); err == nil {
		t.Error("expected migrate error before Init")
	}
}

func TestUpsert_IdempotentAndPreservesDate(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	d1 := day(2024, time.March, 1)
	d2 := day(2024, time.April, 2)

	if err := store.Upsert(ctx, "p", "1.2", 5, d1); err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}
	if err := store.Upsert(ctx, "p", "1.2", 5, d2); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 row, got %d", len(all))
	}
	if !all[0].InstallDate.Equal(d1) {
		t.Errorf("expected install date %v, got %v", d1, all[0].InstallDate)
	}
}

func TestUpsert_OverwritesVersionFields(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	today := day(2025, time.January, 10)
	if err := store.Upsert(ctx, "foo", "1.0", 3, today); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if err := store.Upsert(ctx, "foo", "1.1", 4, today.AddDate(0, 0, 7)); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	pkg, err := store.Get(ctx, "foo")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if pkg.Version != "1.1" || pkg.AbsoluteVersion != 4 {
		t.Errorf("expected 1.1/4, got %s/%d", pkg.Version, pkg.AbsoluteVersion)
	}
	if !pkg.InstallDate.Equal(today) {
		t.Errorf("expected original date %v, got %v", today, pkg.InstallDate)
	}
}

func TestExistsAndDelete(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	exists, err := store.Exists(ctx, "bash")
	if err != nil {
		t.Fatalf("exists failed: %v", err)
	}
	if exists {
		t.Error("expected bash to be absent")
	}

	if err := store.Upsert(ctx, "bash", "5.2", 1, day(2024, time.May, 5)); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if exists, _ := store.Exists(ctx, "bash"); !exists {
		t.Error("expected bash to exist")
	}

	if err := store.Delete(ctx, "bash"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if exists, _ := store.Exists(ctx, "bash"); exists {
		t.Error("expected bash to be deleted")
	}

	// Deleting again is harmless.
	if err := store.Delete(ctx, "bash"); err != nil {
		t.Errorf("expected no error deleting absent row, got %v", err)
	}

	if _, err := store.Get(ctx, "bash"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestList_OrderedByName(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"zlib", "bash", "make"} {
		if err := store.Upsert(ctx, name, "1", 1, day(2024, time.June, 1)); err != nil {
			t.Fatalf("upsert %s failed: %v", name, err)
		}
	}

	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	want := []string{"bash", "make", "zlib"}
	if len(all) != len(want) {
		t.Fatalf("expected %d rows, got %d", len(want), len(all))
	}
	for i, name := range want {
		if all[i].Name != name {
			t.Errorf("expected %s at %d, got %s", name, i, all[i].Name)
		}
	}
}

func TestEvents(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	events := []*Event{
		{RunID: "run-1", Package: "foo", Operation: "install", Status: EventStatusSucceeded},
		{RunID: "run-1", Package: "bar", Operation: "install", Status: EventStatusFailed, Message: "build hook failed"},
		{RunID: "run-2", Package: "foo", Operation: "detect", Status: EventStatusDetected},
	}
	for _, e := range events {
		if err := store.AppendEvent(ctx, e); err != nil {
			t.Fatalf("append failed: %v", err)
		}
		if e.ID == 0 {
			t.Error("expected event ID to be set")
		}
	}

	all, err := store.ListEvents(ctx, "", 0)
	if err != nil {
		t.Fatalf("list events failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 events, got %d", len(all))
	}
	if all[0].Operation != "detect" {
		t.Errorf("expected newest event first, got %s", all[0].Operation)
	}

	foo, err := store.ListEvents(ctx, "foo", 10)
	if err != nil {
		t.Fatalf("list events failed: %v", err)
	}
	if len(foo) != 2 {
		t.Errorf("expected 2 foo events, got %d", len(foo))
	}

	limited, _ := store.ListEvents(ctx, "", 1)
	if len(limited) != 1 {
		t.Errorf("expected limit to apply, got %d", len(limited))
	}
	if all[1].Message != "build hook failed" {
		t.Errorf("expected message to round trip, got %q", all[1].Message)
	}
}
