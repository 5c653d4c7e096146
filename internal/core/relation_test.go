package core_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	"txcore/internal/core"
	"txcore/pkg/domain"
	"txcore/plugins/orders"
)

func assertIDs(t *testing.T, got []domain.ObjectID, want ...domain.ObjectID) {
	t.Helper()
	if !slices.Equal(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestRelationNavigation(t *testing.T) {
	root, _ := seededRoot(t)
	item := getObject(t, root, orders.OrderItem1)
	order1 := getObject(t, root, orders.Order1)
	order2 := getObject(t, root, orders.Order2)
	customer := getObject(t, root, orders.Customer1)

	if got := relatedID(t, item, orders.PropOrder); got != orders.Order1 {
		t.Fatalf("item order = %s", got)
	}
	assertIDs(t, relatedIDs(t, order1, orders.PropItems), orders.OrderItem1)
	assertIDs(t, relatedIDs(t, order2, orders.PropItems), orders.OrderItem2, orders.OrderItem3)
	assertIDs(t, relatedIDs(t, customer, orders.PropOrders), orders.Order1, orders.Order2)
	if got := relatedID(t, order1, orders.PropTicket); got != orders.Ticket1 {
		t.Fatalf("order ticket = %s", got)
	}
	if got := relatedID(t, order2, orders.PropTicket); !got.IsZero() {
		t.Fatalf("order 2 has no ticket, got %s", got)
	}
	if got := relatedID(t, customer, orders.PropAddress); got != orders.Address1 {
		t.Fatalf("customer address = %s", got)
	}
	for _, obj := range []core.Object{item, order1, order2, customer} {
		if st := stateOf(t, obj); st != domain.StateUnchanged {
			t.Fatalf("navigation must not change %s, state %s", obj, st)
		}
	}
}

func TestSyncStateUnknownUntilOppositeLoaded(t *testing.T) {
	ctx := context.Background()
	root, _ := seededRoot(t)
	realEP := domain.EndPointID{Object: orders.OrderItem1, Property: orders.PropOrder}
	virtualEP := domain.EndPointID{Object: orders.Order1, Property: orders.PropItems}

	for _, ep := range []domain.EndPointID{realEP, virtualEP} {
		st, err := root.SyncState(ctx, ep)
		if err != nil || st != core.SyncUnknown {
			t.Fatalf("%s before load: %s %v", ep, st, err)
		}
	}
	if _, err := root.RelatedObjects(ctx, virtualEP); err != nil {
		t.Fatalf("load items: %v", err)
	}
	for _, ep := range []domain.EndPointID{realEP, virtualEP} {
		st, err := root.SyncState(ctx, ep)
		if err != nil || st != core.Synchronized {
			t.Fatalf("%s after load: %s %v", ep, st, err)
		}
	}
	st, err := root.SyncState(ctx, domain.EndPointID{Object: orders.Customer1, Property: orders.PropAddress})
	if err != nil || st != core.Synchronized {
		t.Fatalf("unidirectional endpoints are always synchronized: %s %v", st, err)
	}
}

func TestSetRelatedKeepsBothSidesConsistent(t *testing.T) {
	ctx := context.Background()
	rec := newRecorder("rec")
	root, _ := seededRoot(t, core.WithExtensions(rec))
	item := getObject(t, root, orders.OrderItem1)
	order1 := getObject(t, root, orders.Order1)
	order2 := getObject(t, root, orders.Order2)

	if err := item.SetRelated(ctx, orders.PropOrder, order2); err != nil {
		t.Fatalf("set related: %v", err)
	}
	assertIDs(t, relatedIDs(t, order1, orders.PropItems))
	assertIDs(t, relatedIDs(t, order2, orders.PropItems), orders.OrderItem2, orders.OrderItem3, orders.OrderItem1)
	if got := relatedID(t, item, orders.PropOrder); got != orders.Order2 {
		t.Fatalf("item order = %s", got)
	}

	events := rec.relationEvents()
	for _, want := range []string{
		"relation OrderItem|1.Order Order|1->Order|2",
		"relation Order|1.Items OrderItem|1-><null>",
		"relation Order|2.Items <null>->OrderItem|1",
	} {
		if !slices.Contains(events, want) {
			t.Fatalf("missing event %q in %v", want, events)
		}
	}
	if len(events) != 3 {
		t.Fatalf("expected three relation events, got %v", events)
	}
	for id, want := range map[domain.ObjectID]domain.State{
		orders.OrderItem1: domain.StateChanged,
		orders.Order1:     domain.StateChanged,
		orders.Order2:     domain.StateChanged,
		orders.OrderItem2: domain.StateUnchanged,
	} {
		if st := root.State(id); st != want {
			t.Fatalf("%s state = %s, want %s", id, st, want)
		}
	}

	if err := root.Rollback(ctx); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	assertIDs(t, relatedIDs(t, order1, orders.PropItems), orders.OrderItem1)
	assertIDs(t, relatedIDs(t, order2, orders.PropItems), orders.OrderItem2, orders.OrderItem3)
	if got := relatedID(t, item, orders.PropOrder); got != orders.Order1 {
		t.Fatalf("item order after rollback = %s", got)
	}
}

func TestSettingCurrentValueRaisesNoEvents(t *testing.T) {
	ctx := context.Background()
	rec := newRecorder("rec")
	root, _ := seededRoot(t, core.WithExtensions(rec))
	item := getObject(t, root, orders.OrderItem1)
	order1 := getObject(t, root, orders.Order1)
	ticket := getObject(t, root, orders.Ticket1)
	_ = relatedIDs(t, order1, orders.PropItems)
	rec.reset()

	if err := item.SetRelated(ctx, orders.PropOrder, order1); err != nil {
		t.Fatalf("self set: %v", err)
	}
	if err := order1.SetRelated(ctx, orders.PropTicket, ticket); err != nil {
		t.Fatalf("virtual self set: %v", err)
	}
	if err := order1.SetValue(ctx, "OrderNumber", int64(1)); err != nil {
		t.Fatalf("value self set: %v", err)
	}
	if len(rec.events) != 0 {
		t.Fatalf("unexpected events %v", rec.events)
	}
	if st := stateOf(t, item); st != domain.StateUnchanged {
		t.Fatalf("state = %s", st)
	}
}

func TestOneToOneSetDetachesPreviousHolder(t *testing.T) {
	ctx := context.Background()
	root, _ := seededRoot(t)
	order1 := getObject(t, root, orders.Order1)
	ticket1 := getObject(t, root, orders.Ticket1)
	ticket2, err := root.NewObject(ctx, orders.ClassOrderTicket)
	if err != nil {
		t.Fatalf("new ticket: %v", err)
	}

	if err := order1.SetRelated(ctx, orders.PropTicket, ticket2); err != nil {
		t.Fatalf("set ticket: %v", err)
	}
	if got := relatedID(t, order1, orders.PropTicket); got != ticket2.ID() {
		t.Fatalf("order ticket = %s", got)
	}
	if got := relatedID(t, ticket2, orders.PropOrder); got != orders.Order1 {
		t.Fatalf("new ticket order = %s", got)
	}
	if got := relatedID(t, ticket1, orders.PropOrder); !got.IsZero() {
		t.Fatalf("previous ticket should be detached, got %s", got)
	}

	if err := ticket1.SetRelated(ctx, orders.PropOrder, order1); err != nil {
		t.Fatalf("set from real side: %v", err)
	}
	if got := relatedID(t, ticket2, orders.PropOrder); !got.IsZero() {
		t.Fatalf("new ticket should be detached, got %s", got)
	}
	if got := relatedID(t, order1, orders.PropTicket); got != orders.Ticket1 {
		t.Fatalf("order ticket = %s", got)
	}

	if err := order1.SetRelated(ctx, orders.PropTicket, core.Object{}); err != nil {
		t.Fatalf("clear ticket: %v", err)
	}
	if got := relatedID(t, ticket1, orders.PropOrder); !got.IsZero() {
		t.Fatalf("clearing the virtual side clears the real side, got %s", got)
	}
}

func TestAddAndRemoveRelated(t *testing.T) {
	ctx := context.Background()
	root, _ := seededRoot(t)
	order1 := getObject(t, root, orders.Order1)
	order2 := getObject(t, root, orders.Order2)
	item1 := getObject(t, root, orders.OrderItem1)
	item2 := getObject(t, root, orders.OrderItem2)

	if err := order2.AddRelated(ctx, orders.PropItems, item1); err != nil {
		t.Fatalf("add: %v", err)
	}
	assertIDs(t, relatedIDs(t, order2, orders.PropItems), orders.OrderItem2, orders.OrderItem3, orders.OrderItem1)
	assertIDs(t, relatedIDs(t, order1, orders.PropItems))

	if err := order2.RemoveRelated(ctx, orders.PropItems, item2); err != nil {
		t.Fatalf("remove: %v", err)
	}
	assertIDs(t, relatedIDs(t, order2, orders.PropItems), orders.OrderItem3, orders.OrderItem1)
	if got := relatedID(t, item2, orders.PropOrder); !got.IsZero() {
		t.Fatalf("removed item should have no order, got %s", got)
	}
	if err := order2.RemoveRelated(ctx, orders.PropItems, item2); !errors.Is(err, core.ErrObjectNotFound) {
		t.Fatalf("removing a non-member: %v", err)
	}
	if err := order2.AddRelated(ctx, orders.PropItems, core.Object{}); !errors.Is(err, domain.ErrInvalidObjectID) {
		t.Fatalf("adding null: %v", err)
	}
	ticket := getObject(t, root, orders.Ticket1)
	if err := order1.AddRelated(ctx, orders.PropTicket, ticket); !errors.Is(err, core.ErrCardinality) {
		t.Fatalf("add to single-valued endpoint: %v", err)
	}
}

func TestRelationErrors(t *testing.T) {
	ctx := context.Background()
	root, _ := seededRoot(t)
	order := getObject(t, root, orders.Order1)
	item := getObject(t, root, orders.OrderItem1)
	customer := getObject(t, root, orders.Customer1)

	cases := []struct {
		name string
		err  error
		want error
	}{
		{"value api on virtual endpoint", valueErr(order.Value(ctx, orders.PropItems)), core.ErrRelationProperty},
		{"value api on real endpoint", order.SetValue(ctx, orders.PropCustomer, orders.Customer1), core.ErrRelationProperty},
		{"relation api on value property", relatedErr(item.Related(ctx, "Product")), core.ErrNotARelation},
		{"wrong target class", item.SetRelated(ctx, orders.PropOrder, customer), core.ErrClassMismatch},
		{"collection read as single", relatedErr(order.Related(ctx, orders.PropItems)), core.ErrCardinality},
		{"single read as collection", relatedObjectsErr(item.RelatedObjects(ctx, orders.PropOrder)), core.ErrCardinality},
		{"unknown property", valueErr(order.Value(ctx, "Bogus")), domain.ErrUnknownProperty},
	}
	for _, tc := range cases {
		if !errors.Is(tc.err, tc.want) {
			t.Errorf("%s: got %v, want %v", tc.name, tc.err, tc.want)
		}
	}
	if st := stateOf(t, order); st != domain.StateUnchanged {
		t.Fatalf("failed operations must not change state, got %s", st)
	}
}

func valueErr(_ any, err error) error { return err }

func relatedErr(_ core.Object, err error) error { return err }

func relatedObjectsErr(_ []core.Object, err error) error { return err }

func TestUnidirectionalRelation(t *testing.T) {
	ctx := context.Background()
	root, store := seededRoot(t)
	customer := getObject(t, root, orders.Customer1)

	if err := customer.SetRelated(ctx, orders.PropAddress, core.Object{}); err != nil {
		t.Fatalf("clear address: %v", err)
	}
	if got := relatedID(t, customer, orders.PropAddress); !got.IsZero() {
		t.Fatalf("address = %s", got)
	}
	address, err := root.NewObject(ctx, orders.ClassAddress)
	if err != nil {
		t.Fatalf("new address: %v", err)
	}
	if err := address.SetValue(ctx, "City", "Shelbyville"); err != nil {
		t.Fatalf("set city: %v", err)
	}
	if err := customer.SetRelated(ctx, orders.PropAddress, address); err != nil {
		t.Fatalf("set address: %v", err)
	}
	if err := root.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	rec, err := store.Load(ctx, orders.Customer1)
	if err != nil || rec.Ref(orders.PropAddress) != address.ID() {
		t.Fatalf("stored customer %+v %v", rec, err)
	}
}

func TestDeleteClearsRelations(t *testing.T) {
	ctx := context.Background()
	rec := newRecorder("rec")
	root, store := seededRoot(t, core.WithExtensions(rec))
	order1 := getObject(t, root, orders.Order1)
	item1 := getObject(t, root, orders.OrderItem1)
	ticket := getObject(t, root, orders.Ticket1)
	customer := getObject(t, root, orders.Customer1)

	if err := order1.Delete(ctx); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if st := stateOf(t, order1); st != domain.StateDeleted {
		t.Fatalf("state = %s", st)
	}
	if got := relatedID(t, item1, orders.PropOrder); !got.IsZero() {
		t.Fatalf("item should be detached, got %s", got)
	}
	if got := relatedID(t, ticket, orders.PropOrder); !got.IsZero() {
		t.Fatalf("ticket should be detached, got %s", got)
	}
	assertIDs(t, relatedIDs(t, customer, orders.PropOrders), orders.Order2)
	if err := order1.SetValue(ctx, "Status", "x"); !errors.Is(err, core.ErrObjectDeleted) {
		t.Fatalf("set on deleted: %v", err)
	}
	if err := order1.Delete(ctx); !errors.Is(err, core.ErrObjectDeleted) {
		t.Fatalf("second delete: %v", err)
	}
	if rec.count("deleting Order|1") != 1 || rec.count("deleted Order|1") != 1 {
		t.Fatalf("unexpected delete events %v", rec.events)
	}

	if err := root.Rollback(ctx); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if got := relatedID(t, item1, orders.PropOrder); got != orders.Order1 {
		t.Fatalf("rollback should restore the item, got %s", got)
	}
	assertIDs(t, relatedIDs(t, customer, orders.PropOrders), orders.Order1, orders.Order2)

	if err := order1.Delete(ctx); err != nil {
		t.Fatalf("delete again: %v", err)
	}
	if rec.count("deleting Order|1") != 1 || rec.count("deleted Order|1") != 1 {
		t.Fatalf("delete events must not repeat within one commit cycle, got %v", rec.events)
	}
	if err := root.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := store.Load(ctx, orders.Order1); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("order should be gone from the store, got %v", err)
	}
	stored, err := store.Load(ctx, orders.OrderItem1)
	if err != nil || !stored.Ref(orders.PropOrder).IsZero() {
		t.Fatalf("stored item %+v %v", stored, err)
	}
	if st := root.State(orders.Order1); st != domain.StateInvalid {
		t.Fatalf("state after commit = %s", st)
	}
	if _, err := root.GetObject(ctx, orders.Order1); !errors.Is(err, core.ErrObjectInvalid) {
		t.Fatalf("get after delete: %v", err)
	}
}

func TestDeleteInNewCommitCycleNotifiesAgain(t *testing.T) {
	ctx := context.Background()
	rec := newRecorder("rec")
	root, store := seededRoot(t, core.WithExtensions(rec))
	ticket := getObject(t, root, orders.Ticket1)

	if err := ticket.Delete(ctx); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := root.Rollback(ctx); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if err := root.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	rec.veto["ObjectDeleting"] = errVeto
	err := ticket.Delete(ctx)
	var cancelled core.CancelledError
	if !errors.As(err, &cancelled) || cancelled.Event != "ObjectDeleting" || !errors.Is(err, errVeto) {
		t.Fatalf("delete in a new commit cycle must be vetoable, got %v", err)
	}
	if st := stateOf(t, ticket); st != domain.StateUnchanged {
		t.Fatalf("vetoed delete changed state to %s", st)
	}

	delete(rec.veto, "ObjectDeleting")
	if err := ticket.Delete(ctx); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if rec.count("deleting OrderTicket|1") != 2 || rec.count("deleted OrderTicket|1") != 2 {
		t.Fatalf("expected one delete notification per commit cycle, got %v", rec.events)
	}
	if err := root.Commit(ctx); err != nil {
		t.Fatalf("commit delete: %v", err)
	}
	if _, err := store.Load(ctx, orders.Ticket1); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ticket should be gone, got %v", err)
	}
}

func TestDeletingNewObjectRemovesIt(t *testing.T) {
	ctx := context.Background()
	root, _ := seededRoot(t)
	order1 := getObject(t, root, orders.Order1)
	item, err := root.NewObject(ctx, orders.ClassOrderItem)
	if err != nil {
		t.Fatalf("new item: %v", err)
	}
	if err := item.SetRelated(ctx, orders.PropOrder, order1); err != nil {
		t.Fatalf("attach: %v", err)
	}
	assertIDs(t, relatedIDs(t, order1, orders.PropItems), orders.OrderItem1, item.ID())
	if err := item.Delete(ctx); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if st := root.State(item.ID()); st != domain.StateInvalid {
		t.Fatalf("state = %s", st)
	}
	assertIDs(t, relatedIDs(t, order1, orders.PropItems), orders.OrderItem1)
	if st := stateOf(t, order1); st != domain.StateUnchanged {
		t.Fatalf("order state = %s", st)
	}
}

// moveItem commits, in a separate hierarchy over store, a move of item to order.
func moveItem(t *testing.T, store domain.Persistence, item, order domain.ObjectID) {
	t.Helper()
	ctx := context.Background()
	other := newRoot(t, store)
	if err := other.SetRelated(ctx, domain.EndPointID{Object: item, Property: orders.PropOrder}, order); err != nil {
		t.Fatalf("concurrent move: %v", err)
	}
	if err := other.Commit(ctx); err != nil {
		t.Fatalf("concurrent commit: %v", err)
	}
}

func TestUnsynchronizedRealEndPoint(t *testing.T) {
	ctx := context.Background()
	store := seededStore(t)
	root := newRoot(t, store)
	order1 := getObject(t, root, orders.Order1)
	assertIDs(t, relatedIDs(t, order1, orders.PropItems), orders.OrderItem1)

	moveItem(t, store, orders.OrderItem2, orders.Order1)

	item2 := getObject(t, root, orders.OrderItem2)
	realEP := domain.EndPointID{Object: orders.OrderItem2, Property: orders.PropOrder}
	virtualEP := domain.EndPointID{Object: orders.Order1, Property: orders.PropItems}
	for _, ep := range []domain.EndPointID{realEP, virtualEP} {
		if st, err := root.SyncState(ctx, ep); err != nil || st != core.Unsynchronized {
			t.Fatalf("%s: %s %v", ep, st, err)
		}
	}
	ep, err := root.EndPoint(ctx, virtualEP)
	if err != nil {
		t.Fatalf("endpoint: %v", err)
	}
	if vep, ok := ep.(*core.VirtualEndPoint); !ok || !slices.Equal(vep.UnsynchronizedOpposites(), []domain.ObjectID{orders.OrderItem2}) {
		t.Fatalf("unexpected virtual endpoint %#v", ep)
	}

	order2 := getObject(t, root, orders.Order2)
	err = item2.SetRelated(ctx, orders.PropOrder, order2)
	var oos core.OutOfSyncError
	if !errors.As(err, &oos) || oos.EndPoint != realEP {
		t.Fatalf("expected OutOfSyncError for %s, got %v", realEP, err)
	}
	assertIDs(t, relatedIDs(t, order1, orders.PropItems), orders.OrderItem1)

	if err := root.Synchronize(ctx, realEP); err != nil {
		t.Fatalf("synchronize: %v", err)
	}
	assertIDs(t, relatedIDs(t, order1, orders.PropItems), orders.OrderItem1, orders.OrderItem2)
	for _, ep := range []domain.EndPointID{realEP, virtualEP} {
		if st, err := root.SyncState(ctx, ep); err != nil || st != core.Synchronized {
			t.Fatalf("%s after synchronize: %s %v", ep, st, err)
		}
	}
	if st := stateOf(t, order1); st != domain.StateUnchanged {
		t.Fatalf("synchronize must not record a change, got %s", st)
	}
	if err := item2.SetRelated(ctx, orders.PropOrder, order2); err != nil {
		t.Fatalf("set after synchronize: %v", err)
	}
	assertIDs(t, relatedIDs(t, order1, orders.PropItems), orders.OrderItem1)
}

func TestOrphanedVirtualContent(t *testing.T) {
	ctx := context.Background()
	store := seededStore(t)
	root := newRoot(t, store)
	item1 := getObject(t, root, orders.OrderItem1)
	item2 := getObject(t, root, orders.OrderItem2)

	moveItem(t, store, orders.OrderItem2, orders.Order1)

	order1 := getObject(t, root, orders.Order1)
	assertIDs(t, relatedIDs(t, order1, orders.PropItems), orders.OrderItem1, orders.OrderItem2)
	virtualEP := domain.EndPointID{Object: orders.Order1, Property: orders.PropItems}
	if st, err := root.SyncState(ctx, virtualEP); err != nil || st != core.Unsynchronized {
		t.Fatalf("collection with an orphan: %s %v", st, err)
	}
	if err := order1.RemoveRelated(ctx, orders.PropItems, item1); !errors.As(err, new(core.OutOfSyncError)) {
		t.Fatalf("expected OutOfSyncError, got %v", err)
	}

	if err := root.Synchronize(ctx, virtualEP); err != nil {
		t.Fatalf("synchronize: %v", err)
	}
	assertIDs(t, relatedIDs(t, order1, orders.PropItems), orders.OrderItem1)
	if got := relatedID(t, item2, orders.PropOrder); got != orders.Order2 {
		t.Fatalf("the real side is ground truth, got %s", got)
	}
	if err := order1.RemoveRelated(ctx, orders.PropItems, item1); err != nil {
		t.Fatalf("remove after synchronize: %v", err)
	}
}

func TestSynchronizeReachesSubTransactions(t *testing.T) {
	ctx := context.Background()
	store := seededStore(t)
	root := newRoot(t, store)
	order1 := getObject(t, root, orders.Order1)
	_ = relatedIDs(t, order1, orders.PropItems)
	moveItem(t, store, orders.OrderItem2, orders.Order1)
	_ = getObject(t, root, orders.OrderItem2)

	child := mustSub(t, root)
	assertIDs(t, relatedIDs(t, order1, orders.PropItems), orders.OrderItem1)
	realEP := domain.EndPointID{Object: orders.OrderItem2, Property: orders.PropOrder}
	if err := root.Synchronize(ctx, realEP); err != nil {
		t.Fatalf("synchronize while read-only: %v", err)
	}
	if got, err := child.RelatedObjects(ctx, domain.EndPointID{Object: orders.Order1, Property: orders.PropItems}); err != nil || len(got) != 1 {
		t.Fatalf("child content was materialized before the repair: %v %v", got, err)
	}
	if err := child.Synchronize(ctx, realEP); err != nil {
		t.Fatalf("synchronize child: %v", err)
	}
	assertIDs(t, relatedIDs(t, order1, orders.PropItems), orders.OrderItem1, orders.OrderItem2)
}
