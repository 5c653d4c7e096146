package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"txcore/internal/infra/persistence/persistencetest"
	"txcore/pkg/domain"
)

func TestStoreContract(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "contract.db"))
	if err != nil {
		t.Fatalf("new sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	persistencetest.Run(t, store)
}

func TestStorePersistAndReload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "state.db")
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("new sqlite store: %v", err)
	}
	rec := &domain.Record{ID: domain.MustObjectID("Order", "1"), Values: map[string]any{"Status": "open"}}
	if err := store.Save(ctx, []domain.Change{{Action: domain.ActionCreate, ID: rec.ID, After: rec}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("db file missing: %v", err)
	}

	reloaded, err := NewStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reloaded.Close() }()
	if reloaded.Path() != path || reloaded.DB() == nil {
		t.Fatalf("unexpected store %s", reloaded.Path())
	}
	got, err := reloaded.Load(ctx, rec.ID)
	if err != nil || got.Values["Status"] != "open" {
		t.Fatalf("reloaded record %+v %v", got, err)
	}
	if n, err := reloaded.Count(ctx, "Order"); err != nil || n != 1 {
		t.Fatalf("count = %d %v", n, err)
	}
	if n, err := reloaded.Count(ctx, ""); err != nil || n != 1 {
		t.Fatalf("count all = %d %v", n, err)
	}
}

func TestStoreSaveFailsOnClosedDB(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "closed.db"))
	if err != nil {
		t.Fatalf("new sqlite store: %v", err)
	}
	_ = store.DB().Close()
	rec := &domain.Record{ID: domain.MustObjectID("Order", "1")}
	if err := store.Save(context.Background(), []domain.Change{{Action: domain.ActionCreate, ID: rec.ID, After: rec}}); err == nil {
		t.Fatalf("expected save error after closing db")
	}
}
