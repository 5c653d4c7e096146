package integration

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"txcore/internal/archive"
	"txcore/internal/blob"
	"txcore/internal/config"
	"txcore/internal/core"
	"txcore/internal/infra/persistence"
	"txcore/internal/logging"
	"txcore/internal/metrics"
	"txcore/pkg/domain"
	"txcore/plugins/orders"
)

// TestIntegrationSmoke runs the order scenario end to end for every
// in-process persistence backend combined with every local blob backend.
func TestIntegrationSmoke(t *testing.T) {
	storageVariants := []struct {
		name string
		cfg  func(t *testing.T) config.StorageConfig
	}{
		{name: "memory", cfg: func(*testing.T) config.StorageConfig { return config.StorageConfig{Driver: "memory"} }},
		{name: "sqlite", cfg: func(t *testing.T) config.StorageConfig {
			return config.StorageConfig{Driver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "smoke.db")}
		}},
	}
	blobVariants := []struct {
		name string
		cfg  func(t *testing.T) config.BlobConfig
	}{
		{name: "memory", cfg: func(*testing.T) config.BlobConfig { return config.BlobConfig{Driver: "memory"} }},
		{name: "fs", cfg: func(t *testing.T) config.BlobConfig { return config.BlobConfig{Driver: "fs", FSRoot: t.TempDir()} }},
	}

	for _, sv := range storageVariants {
		for _, bv := range blobVariants {
			t.Run(sv.name+"-storage/"+bv.name+"-blob", func(t *testing.T) {
				runScenario(t, sv.cfg(t), bv.cfg(t))
			})
		}
	}

	if os.Getenv("TXCORE_STORAGE_DRIVER") != "" || os.Getenv("TXCORE_BLOB_DRIVER") != "" {
		t.Fatalf("expected no test-induced env leakage")
	}
}

func runScenario(t *testing.T, storageCfg config.StorageConfig, blobCfg config.BlobConfig) {
	ctx := context.Background()
	store, closeStore, err := persistence.Open(ctx, storageCfg)
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { _ = closeStore() })
	if err := orders.Seed(ctx, store); err != nil {
		t.Fatalf("seed: %v", err)
	}
	blobs, err := blob.Open(ctx, blobCfg)
	if err != nil {
		t.Fatalf("open blob: %v", err)
	}

	reg := prometheus.NewRegistry()
	recorder, err := metrics.NewRecorder(reg, "smoke")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	var traces bytes.Buffer
	obsCore, logs := observer.New(zapcore.DebugLevel)
	svc := core.NewService(store,
		core.WithMetricsRecorder(recorder),
		core.WithTracer(core.NewJSONTracer(&traces)),
		core.WithServiceLogger(logging.Wrap(zap.New(obsCore))),
	)
	if _, err := svc.InstallPlugin(orders.New()); err != nil {
		t.Fatalf("install orders: %v", err)
	}

	var created domain.ObjectID
	err = svc.RunInTransaction(ctx, func(tx *core.ClientTransaction) error {
		order1, err := tx.GetObject(ctx, orders.Order1)
		if err != nil {
			return err
		}
		order2, err := tx.GetObject(ctx, orders.Order2)
		if err != nil {
			return err
		}
		item1, err := tx.GetObject(ctx, orders.OrderItem1)
		if err != nil {
			return err
		}
		if err := order2.AddRelated(ctx, orders.PropItems, item1); err != nil {
			return err
		}

		sub, err := tx.CreateSubTransaction(ctx)
		if err != nil {
			return err
		}
		item, err := sub.NewObject(ctx, orders.ClassOrderItem)
		if err != nil {
			return err
		}
		created = item.ID()
		if err := item.SetValue(ctx, "Product", "Keyboard"); err != nil {
			return err
		}
		if err := order1.AddRelated(ctx, orders.PropItems, item); err != nil {
			return err
		}
		if err := sub.Commit(ctx); err != nil {
			return err
		}
		return sub.Discard(ctx)
	})
	if err != nil {
		t.Fatalf("unit of work: %v", err)
	}
	assertItems(t, store, orders.Order1, created)
	assertItems(t, store, orders.Order2, orders.OrderItem1, orders.OrderItem2, orders.OrderItem3)

	// Park a half-finished hierarchy in the blob store and finish it from the snapshot.
	tx, err := svc.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	order, err := tx.GetObject(ctx, orders.Order2)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	child, err := tx.CreateSubTransaction(ctx)
	if err != nil {
		t.Fatalf("sub: %v", err)
	}
	if err := order.SetValue(ctx, "Status", "shipped"); err != nil {
		t.Fatalf("set: %v", err)
	}
	arc := archive.New(blobs)
	if _, err := arc.Save(ctx, "order-2", child); err != nil {
		t.Fatalf("archive save: %v", err)
	}
	if err := tx.Discard(ctx); err != nil {
		t.Fatalf("discard: %v", err)
	}

	restored, err := arc.Load(ctx, "order-2", store, core.WithMapping(svc.Mapping()), core.WithValidator(svc.RulesEngine()))
	if err != nil {
		t.Fatalf("archive load: %v", err)
	}
	leaf := restored.ActiveLeaf()
	if err := leaf.Commit(ctx); err != nil {
		t.Fatalf("commit restored leaf: %v", err)
	}
	if err := leaf.Discard(ctx); err != nil {
		t.Fatalf("discard restored leaf: %v", err)
	}
	if err := restored.Commit(ctx); err != nil {
		t.Fatalf("commit restored root: %v", err)
	}
	rec, err := store.Load(ctx, orders.Order2)
	if err != nil || rec.Values["Status"] != "shipped" {
		t.Fatalf("restored commit not persisted: %+v %v", rec, err)
	}

	if n, err := promtestutil.GatherAndCount(reg, "smoke_operations_total"); err != nil || n == 0 {
		t.Fatalf("expected operation counters, got %d %v", n, err)
	}
	if traces.Len() == 0 {
		t.Fatalf("expected trace output")
	}
	if logs.FilterMessage("plugin installed").Len() != 1 || logs.FilterMessage("transaction committed").Len() == 0 {
		t.Fatalf("expected service logs, got %d entries", logs.Len())
	}
}

func assertItems(t *testing.T, store domain.Persistence, owner domain.ObjectID, want ...domain.ObjectID) {
	t.Helper()
	recs, err := store.ExecuteCollectionQuery(context.Background(), domain.CollectionQuery{Class: orders.ClassOrderItem, Property: orders.PropOrder, Target: owner})
	if err != nil {
		t.Fatalf("items of %s: %v", owner, err)
	}
	got := make([]domain.ObjectID, 0, len(recs))
	for _, r := range recs {
		got = append(got, r.ID)
	}
	slices.SortFunc(got, func(a, b domain.ObjectID) int { return strings.Compare(a.String(), b.String()) })
	slices.SortFunc(want, func(a, b domain.ObjectID) int { return strings.Compare(a.String(), b.String()) })
	if !slices.Equal(got, want) {
		t.Fatalf("items of %s = %v, want %v", owner, got, want)
	}
}
