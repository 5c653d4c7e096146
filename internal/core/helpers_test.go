package core_test

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"txcore/internal/core"
	"txcore/internal/infra/persistence/memory"
	"txcore/pkg/domain"
	"txcore/plugins/orders"
)

func seededStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.NewStore()
	if err := orders.Seed(context.Background(), store); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return store
}

func newRoot(t *testing.T, store domain.Persistence, opts ...core.Option) *core.ClientTransaction {
	t.Helper()
	base := []core.Option{core.WithMapping(orders.Mapping())}
	tx, err := core.NewRootTransaction(store, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new root transaction: %v", err)
	}
	return tx
}

func seededRoot(t *testing.T, opts ...core.Option) (*core.ClientTransaction, *memory.Store) {
	t.Helper()
	store := seededStore(t)
	return newRoot(t, store, opts...), store
}

func getObject(t *testing.T, tx *core.ClientTransaction, id domain.ObjectID) core.Object {
	t.Helper()
	obj, err := tx.GetObject(context.Background(), id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return obj
}

func valueOf(t *testing.T, obj core.Object, property string) any {
	t.Helper()
	v, err := obj.Value(context.Background(), property)
	if err != nil {
		t.Fatalf("%s.%s: %v", obj, property, err)
	}
	return v
}

func relatedIDs(t *testing.T, obj core.Object, property string) []domain.ObjectID {
	t.Helper()
	objs, err := obj.RelatedObjects(context.Background(), property)
	if err != nil {
		t.Fatalf("%s.%s: %v", obj, property, err)
	}
	ids := make([]domain.ObjectID, 0, len(objs))
	for _, o := range objs {
		ids = append(ids, o.ID())
	}
	return ids
}

func relatedID(t *testing.T, obj core.Object, property string) domain.ObjectID {
	t.Helper()
	rel, err := obj.Related(context.Background(), property)
	if err != nil {
		t.Fatalf("%s.%s: %v", obj, property, err)
	}
	return rel.ID()
}

func stateOf(t *testing.T, obj core.Object) domain.State {
	t.Helper()
	st, err := obj.State(context.Background())
	if err != nil {
		t.Fatalf("state of %s: %v", obj, err)
	}
	return st
}

// recorder logs every event it sees and vetoes the before-events listed in veto.
type recorder struct {
	core.BaseExtension
	name   string
	events []string
	veto   map[string]error
}

func newRecorder(name string) *recorder {
	return &recorder{name: name, veto: map[string]error{}}
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) record(format string, args ...any) {
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

func (r *recorder) count(event string) int {
	n := 0
	for _, e := range r.events {
		if e == event {
			n++
		}
	}
	return n
}

func (r *recorder) reset() { r.events = nil }

func (r *recorder) SubTransactionCreating(context.Context, *core.ClientTransaction) error {
	return r.veto["SubTransactionCreating"]
}

func (r *recorder) SubTransactionCreated(_ context.Context, parent, _ *core.ClientTransaction) {
	r.record("sub-created depth=%d", parent.Depth())
}

func (r *recorder) ObjectsLoaded(_ context.Context, _ *core.ClientTransaction, ids []domain.ObjectID) {
	for _, id := range ids {
		r.record("loaded %s", id)
	}
}

func (r *recorder) NewObjectCreating(context.Context, *core.ClientTransaction, string) error {
	return r.veto["NewObjectCreating"]
}

func (r *recorder) ObjectDeleting(_ context.Context, _ *core.ClientTransaction, id domain.ObjectID) error {
	if err := r.veto["ObjectDeleting"]; err != nil {
		return err
	}
	r.record("deleting %s", id)
	return nil
}

func (r *recorder) ObjectDeleted(_ context.Context, _ *core.ClientTransaction, id domain.ObjectID) {
	r.record("deleted %s", id)
}

func (r *recorder) PropertyValueChanging(context.Context, *core.ClientTransaction, domain.ObjectID, string, any, any) error {
	return r.veto["PropertyValueChanging"]
}

func (r *recorder) PropertyValueChanged(_ context.Context, _ *core.ClientTransaction, id domain.ObjectID, property string, oldValue, newValue any) {
	r.record("value %s.%s %v->%v", id, property, oldValue, newValue)
}

func (r *recorder) RelationChanging(context.Context, *core.ClientTransaction, domain.EndPointID, domain.ObjectID, domain.ObjectID) error {
	return r.veto["RelationChanging"]
}

func (r *recorder) RelationChanged(_ context.Context, _ *core.ClientTransaction, ep domain.EndPointID, oldRelated, newRelated domain.ObjectID) {
	r.record("relation %s %s->%s", ep, oldRelated, newRelated)
}

func (r *recorder) relationEvents() []string {
	var out []string
	for _, e := range r.events {
		if strings.HasPrefix(e, "relation ") {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) Committing(context.Context, *core.ClientTransaction, []domain.ObjectID) error {
	return r.veto["Committing"]
}

func (r *recorder) Committed(_ context.Context, tx *core.ClientTransaction, ids []domain.ObjectID) {
	r.record("committed depth=%d objects=%d", tx.Depth(), len(ids))
}

func (r *recorder) RollingBack(context.Context, *core.ClientTransaction, []domain.ObjectID) error {
	return r.veto["RollingBack"]
}

func (r *recorder) RolledBack(_ context.Context, tx *core.ClientTransaction, ids []domain.ObjectID) {
	r.record("rolled-back depth=%d objects=%d", tx.Depth(), len(ids))
}

func (r *recorder) TransactionDiscarded(_ context.Context, tx *core.ClientTransaction) {
	r.record("discarded depth=%d", tx.Depth())
}
