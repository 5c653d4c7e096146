// Package persistencetest holds the behaviour every domain.Persistence
// backend must share. Backend packages call Run from their own tests.
package persistencetest

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"txcore/pkg/domain"
)

var (
	order1 = domain.MustObjectID("Order", "1")
	order2 = domain.MustObjectID("Order", "2")
	item1  = domain.MustObjectID("OrderItem", "1")
	item2  = domain.MustObjectID("OrderItem", "2")
	item3  = domain.MustObjectID("OrderItem", "3")
)

func order(id domain.ObjectID, number int64) *domain.Record {
	return &domain.Record{ID: id, Values: map[string]any{
		"OrderNumber":  number,
		"DeliveryDate": time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		"Status":       "open",
	}}
}

func item(id, owner domain.ObjectID, product string) *domain.Record {
	return &domain.Record{
		ID:     id,
		Values: map[string]any{"Product": product, "Quantity": int64(1)},
		Refs:   map[string]domain.ObjectID{"Order": owner},
	}
}

func create(rec *domain.Record) domain.Change {
	return domain.Change{Action: domain.ActionCreate, ID: rec.ID, After: rec}
}

func update(before domain.Record, mutate func(*domain.Record)) domain.Change {
	after := before.Clone()
	mutate(&after)
	return domain.Change{Action: domain.ActionUpdate, ID: before.ID, Before: &before, After: &after}
}

func query(owner domain.ObjectID) domain.CollectionQuery {
	return domain.CollectionQuery{Class: "OrderItem", Property: "Order", Target: owner}
}

// Run exercises p, which must be empty.
func Run(t *testing.T, p domain.Persistence) {
	t.Helper()
	ctx := context.Background()

	seed := []domain.Change{
		create(order(order1, 1)),
		create(order(order2, 2)),
		create(item(item2, order1, "CPU Fan")),
		create(item(item1, order1, "Mainboard")),
		create(item(item3, order2, "Case")),
	}
	if err := p.Save(ctx, seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	t.Run("load", func(t *testing.T) {
		rec, err := p.Load(ctx, item1)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if rec.ID != item1 || rec.Version != 1 || rec.Values["Product"] != "Mainboard" || rec.Values["Quantity"] != int64(1) || rec.Ref("Order") != order1 {
			t.Fatalf("unexpected record %+v", rec)
		}
		o, err := p.Load(ctx, order1)
		if err != nil {
			t.Fatalf("load order: %v", err)
		}
		when, ok := o.Values["DeliveryDate"].(time.Time)
		if !ok || !when.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) {
			t.Fatalf("time value not preserved: %#v", o.Values["DeliveryDate"])
		}
		if _, err := p.Load(ctx, domain.MustObjectID("Order", "404")); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("collection query ordered by id", func(t *testing.T) {
		assertCollection(t, p, order1, item1, item2)
		assertCollection(t, p, order2, item3)
		assertCollection(t, p, domain.MustObjectID("Order", "404"))
	})

	t.Run("update moves reference", func(t *testing.T) {
		before, err := p.Load(ctx, item2)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		ch := update(before, func(r *domain.Record) {
			r.Refs["Order"] = order2
			r.Values["Quantity"] = int64(4)
		})
		if err := p.Save(ctx, []domain.Change{ch}); err != nil {
			t.Fatalf("save: %v", err)
		}
		after, err := p.Load(ctx, item2)
		if err != nil {
			t.Fatalf("reload: %v", err)
		}
		if after.Version != 2 || after.Values["Quantity"] != int64(4) || after.Ref("Order") != order2 {
			t.Fatalf("unexpected record %+v", after)
		}
		assertCollection(t, p, order1, item1)
		assertCollection(t, p, order2, item2, item3)

		if err := p.Save(ctx, []domain.Change{ch}); !errors.Is(err, domain.ErrConcurrencyConflict) {
			t.Fatalf("expected conflict on stale update, got %v", err)
		}
	})

	t.Run("failed batch applies nothing", func(t *testing.T) {
		o1, _ := p.Load(ctx, order1)
		good := update(o1, func(r *domain.Record) { r.Values["Status"] = "shipped" })
		stale := update(domain.Record{ID: item3, Version: 99, Values: map[string]any{}}, func(*domain.Record) {})
		if err := p.Save(ctx, []domain.Change{good, stale}); !errors.Is(err, domain.ErrConcurrencyConflict) {
			t.Fatalf("expected conflict, got %v", err)
		}
		dup := create(order(order2, 22))
		if err := p.Save(ctx, []domain.Change{good, dup}); !errors.Is(err, domain.ErrAlreadyExists) {
			t.Fatalf("expected ErrAlreadyExists, got %v", err)
		}
		missing := update(domain.Record{ID: domain.MustObjectID("Order", "404"), Version: 1, Values: map[string]any{}}, func(*domain.Record) {})
		if err := p.Save(ctx, []domain.Change{good, missing}); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		after, _ := p.Load(ctx, order1)
		if after.Values["Status"] != "open" || after.Version != o1.Version {
			t.Fatalf("partial batch applied: %+v", after)
		}
	})

	t.Run("delete", func(t *testing.T) {
		before, err := p.Load(ctx, item1)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		del := domain.Change{Action: domain.ActionDelete, ID: item1, Before: &before}
		if err := p.Save(ctx, []domain.Change{del}); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if _, err := p.Load(ctx, item1); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected deleted record to be gone, got %v", err)
		}
		assertCollection(t, p, order1)
		if err := p.Save(ctx, []domain.Change{del}); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound deleting twice, got %v", err)
		}
	})
}

func assertCollection(t *testing.T, p domain.Persistence, owner domain.ObjectID, want ...domain.ObjectID) {
	t.Helper()
	recs, err := p.ExecuteCollectionQuery(context.Background(), query(owner))
	if err != nil {
		t.Fatalf("collection %s: %v", owner, err)
	}
	got := make([]domain.ObjectID, 0, len(recs))
	for _, r := range recs {
		got = append(got, r.ID)
	}
	if !slices.Equal(got, want) {
		t.Fatalf("collection %s = %v, want %v", owner, got, want)
	}
}
