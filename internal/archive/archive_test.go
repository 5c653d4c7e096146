package archive_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"txcore/internal/archive"
	"txcore/internal/blob"
	"txcore/internal/core"
	"txcore/internal/infra/blob/memory"
	persistmemory "txcore/internal/infra/persistence/memory"
	"txcore/plugins/orders"
)

func TestArchiveRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := persistmemory.NewStore()
	if err := orders.Seed(ctx, store); err != nil {
		t.Fatalf("seed: %v", err)
	}
	root, err := core.NewRootTransaction(store, core.WithMapping(orders.Mapping()))
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	order, err := root.GetObject(ctx, orders.Order1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	child, err := root.CreateSubTransaction(ctx)
	if err != nil {
		t.Fatalf("sub: %v", err)
	}
	if err := order.SetValue(ctx, "Status", "parked"); err != nil {
		t.Fatalf("set: %v", err)
	}

	arc := archive.New(memory.New(), archive.WithPrefix("parked"))
	entry, err := arc.Save(ctx, "order-1", child)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if entry.Levels != 2 || entry.Root != root.ID() || entry.Info.Key != "parked/order-1.json" {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if _, err := arc.Save(ctx, "order-1", child); !errors.Is(err, blob.ErrExists) {
		t.Fatalf("expected ErrExists on overwrite, got %v", err)
	}

	entries, err := arc.List(ctx)
	if err != nil || len(entries) != 1 || entries[0].Name != "order-1" || entries[0].Levels != 2 || entries[0].Root != root.ID() {
		t.Fatalf("list = %+v %v", entries, err)
	}

	restored, err := arc.Load(ctx, "order-1", store, core.WithMapping(orders.Mapping()))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	leaf := restored.ActiveLeaf()
	if leaf.ID() != child.ID() {
		t.Fatalf("leaf not restored")
	}
	rOrder, err := restored.GetObject(ctx, orders.Order1)
	if err != nil {
		t.Fatalf("get restored: %v", err)
	}
	if v, err := rOrder.Value(ctx, "Status"); err != nil || v != "parked" {
		t.Fatalf("restored value %v %v", v, err)
	}
	if err := leaf.Commit(ctx); err != nil {
		t.Fatalf("commit leaf: %v", err)
	}
	if err := leaf.Discard(ctx); err != nil {
		t.Fatalf("discard leaf: %v", err)
	}
	if err := restored.Commit(ctx); err != nil {
		t.Fatalf("commit root: %v", err)
	}
	rec, err := store.Load(ctx, orders.Order1)
	if err != nil || rec.Values["Status"] != "parked" {
		t.Fatalf("stored %+v %v", rec, err)
	}

	if ok, err := arc.Delete(ctx, "order-1"); err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	if _, err := arc.Read(ctx, "order-1"); !errors.Is(err, blob.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestArchiveRejectsBadNames(t *testing.T) {
	ctx := context.Background()
	arc := archive.New(memory.New())
	for _, name := range []string{"", "  ", "a/b"} {
		if _, err := arc.Read(ctx, name); !errors.Is(err, blob.ErrInvalidKey) {
			t.Fatalf("%q: expected ErrInvalidKey, got %v", name, err)
		}
	}
}

func TestArchiveListSkipsForeignKeys(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	if _, err := store.Put(ctx, "snapshots/nested/x.json", strings.NewReader("{}"), blob.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := store.Put(ctx, "other/y.json", strings.NewReader("{}"), blob.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := store.Put(ctx, "snapshots/broken.json", strings.NewReader("not json"), blob.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	arc := archive.New(store)
	entries, err := arc.List(ctx)
	if err != nil || len(entries) != 1 || entries[0].Name != "broken" || entries[0].Levels != 0 {
		t.Fatalf("list = %+v %v", entries, err)
	}
	if _, err := arc.Read(ctx, "broken"); err == nil {
		t.Fatalf("expected decode error")
	}
}
