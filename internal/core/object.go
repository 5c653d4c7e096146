package core

import (
	"context"
	"fmt"

	"txcore/pkg/domain"
)

// Object is a handle to a persistent object. Unless pinned with In, every
// call is routed to the innermost active transaction of the hierarchy the
// handle was obtained from.
type Object struct {
	id     domain.ObjectID
	tx     *ClientTransaction
	pinned bool
}

// ID returns the object identity.
func (o Object) ID() domain.ObjectID { return o.id }

// Class returns the object's class name.
func (o Object) Class() string { return o.id.Class }

// IsZero reports whether o is the null handle.
func (o Object) IsZero() bool { return o.id.IsZero() }

func (o Object) String() string { return o.id.String() }

// In returns a handle bound to tx itself instead of the active leaf.
func (o Object) In(tx *ClientTransaction) Object {
	return Object{id: o.id, tx: tx, pinned: true}
}

func (o Object) target() (*ClientTransaction, error) {
	if o.tx == nil {
		return nil, fmt.Errorf("%w: object handle has no transaction", ErrObjectInvalid)
	}
	if o.pinned {
		if err := o.tx.checkUsable(); err != nil {
			return nil, err
		}
		return o.tx, nil
	}
	leaf := o.tx.ActiveLeaf()
	if err := leaf.checkUsable(); err != nil {
		return nil, err
	}
	return leaf, nil
}

func (o Object) handle(id domain.ObjectID) Object {
	if id.IsZero() {
		return Object{}
	}
	return Object{id: id, tx: o.tx, pinned: o.pinned}
}

// State returns the object's lifecycle state in the routed transaction.
func (o Object) State(_ context.Context) (domain.State, error) {
	tx, err := o.target()
	if err != nil {
		return "", err
	}
	return tx.dm.State(o.id), nil
}

// Value returns a value property.
func (o Object) Value(ctx context.Context, property string) (any, error) {
	tx, err := o.target()
	if err != nil {
		return nil, err
	}
	return tx.dm.Value(ctx, o.id, property)
}

// SetValue changes a value property.
func (o Object) SetValue(ctx context.Context, property string, value any) error {
	tx, err := o.target()
	if err != nil {
		return err
	}
	return tx.dm.SetValue(ctx, o.id, property, value)
}

// Related returns the object referenced by a single-valued relation property.
func (o Object) Related(ctx context.Context, property string) (Object, error) {
	tx, err := o.target()
	if err != nil {
		return Object{}, err
	}
	id, err := tx.related(ctx, domain.EndPointID{Object: o.id, Property: property})
	if err != nil {
		return Object{}, err
	}
	return o.handle(id), nil
}

// SetRelated sets a single-valued relation property from either side.
func (o Object) SetRelated(ctx context.Context, property string, related Object) error {
	tx, err := o.target()
	if err != nil {
		return err
	}
	return tx.SetRelated(ctx, domain.EndPointID{Object: o.id, Property: property}, related.id)
}

// RelatedObjects returns the content of a collection relation property.
func (o Object) RelatedObjects(ctx context.Context, property string) ([]Object, error) {
	tx, err := o.target()
	if err != nil {
		return nil, err
	}
	ids, err := tx.RelatedObjects(ctx, domain.EndPointID{Object: o.id, Property: property})
	if err != nil {
		return nil, err
	}
	out := make([]Object, 0, len(ids))
	for _, id := range ids {
		out = append(out, o.handle(id))
	}
	return out, nil
}

// AddRelated adds item to a collection relation property.
func (o Object) AddRelated(ctx context.Context, property string, item Object) error {
	tx, err := o.target()
	if err != nil {
		return err
	}
	return tx.execute(ctx, func() (Command, error) {
		return tx.dm.CreateAddCommand(ctx, domain.EndPointID{Object: o.id, Property: property}, item.id)
	})
}

// RemoveRelated removes item from a collection relation property.
func (o Object) RemoveRelated(ctx context.Context, property string, item Object) error {
	tx, err := o.target()
	if err != nil {
		return err
	}
	return tx.execute(ctx, func() (Command, error) {
		return tx.dm.CreateRemoveCommand(ctx, domain.EndPointID{Object: o.id, Property: property}, item.id)
	})
}

// Delete marks the object deleted and clears its relations.
func (o Object) Delete(ctx context.Context) error {
	tx, err := o.target()
	if err != nil {
		return err
	}
	return tx.execute(ctx, func() (Command, error) {
		return tx.dm.CreateObjectDeleteCommand(ctx, o.id)
	})
}

// GetObject returns a handle for id, loading the object if needed.
func (tx *ClientTransaction) GetObject(ctx context.Context, id domain.ObjectID) (Object, error) {
	if err := tx.checkUsable(); err != nil {
		return Object{}, err
	}
	if _, err := tx.dm.GetOrLoad(ctx, id); err != nil {
		return Object{}, err
	}
	return Object{id: id, tx: tx.root}, nil
}

// GetObjects loads several objects under one pair of load events.
func (tx *ClientTransaction) GetObjects(ctx context.Context, ids ...domain.ObjectID) ([]Object, error) {
	if err := tx.checkUsable(); err != nil {
		return nil, err
	}
	if _, err := tx.dm.GetOrLoadMany(ctx, ids); err != nil {
		return nil, err
	}
	out := make([]Object, 0, len(ids))
	for _, id := range ids {
		out = append(out, Object{id: id, tx: tx.root})
	}
	return out, nil
}

// NewObject creates an object of class in tx.
func (tx *ClientTransaction) NewObject(ctx context.Context, class string) (Object, error) {
	if err := tx.checkWritable(); err != nil {
		return Object{}, err
	}
	dc, err := tx.dm.NewObject(ctx, class)
	if err != nil {
		return Object{}, err
	}
	return Object{id: dc.id, tx: tx.root}, nil
}

// State returns the lifecycle state of id in tx without loading it.
func (tx *ClientTransaction) State(id domain.ObjectID) domain.State {
	return tx.dm.State(id)
}

func (tx *ClientTransaction) related(ctx context.Context, id domain.EndPointID) (domain.ObjectID, error) {
	role, err := tx.dm.endpoints.role(id)
	if err != nil {
		return domain.ObjectID{}, err
	}
	if role.Self().Cardinality == domain.CardinalityMany {
		return domain.ObjectID{}, fmt.Errorf("%w: %s is a collection", ErrCardinality, id)
	}
	if !role.Virtual {
		r, err := tx.dm.endpoints.realEndPoint(ctx, id)
		if err != nil {
			return domain.ObjectID{}, err
		}
		return r.Target(), nil
	}
	v, err := tx.dm.endpoints.loadedVirtual(ctx, id)
	if err != nil {
		return domain.ObjectID{}, err
	}
	if len(v.current) == 0 {
		return domain.ObjectID{}, nil
	}
	return v.current[0], nil
}

// Related returns the object referenced by the single-valued endpoint id.
func (tx *ClientTransaction) Related(ctx context.Context, id domain.EndPointID) (domain.ObjectID, error) {
	if err := tx.checkUsable(); err != nil {
		return domain.ObjectID{}, err
	}
	return tx.related(ctx, id)
}

// RelatedObjects returns the content of the collection endpoint id in its
// current order.
func (tx *ClientTransaction) RelatedObjects(ctx context.Context, id domain.EndPointID) ([]domain.ObjectID, error) {
	if err := tx.checkUsable(); err != nil {
		return nil, err
	}
	role, err := tx.dm.endpoints.role(id)
	if err != nil {
		return nil, err
	}
	if !role.Virtual || role.Relation.Virtual.Cardinality != domain.CardinalityMany {
		return nil, fmt.Errorf("%w: %s is not a collection", ErrCardinality, id)
	}
	v, err := tx.dm.endpoints.loadedVirtual(ctx, id)
	if err != nil {
		return nil, err
	}
	return v.Current(), nil
}

// SetRelated sets the single-valued endpoint id, real or virtual, to target.
func (tx *ClientTransaction) SetRelated(ctx context.Context, id domain.EndPointID, target domain.ObjectID) error {
	role, err := tx.dm.endpoints.role(id)
	if err != nil {
		return err
	}
	return tx.execute(ctx, func() (Command, error) {
		if role.Virtual {
			return tx.dm.CreateVirtualSetCommand(ctx, id, target)
		}
		return tx.dm.CreateSetCommand(ctx, id, target)
	})
}

// CreateSetCommand prepares setting the real endpoint id to target in tx.
func (tx *ClientTransaction) CreateSetCommand(ctx context.Context, id domain.EndPointID, target domain.ObjectID) (Command, error) {
	return tx.dm.CreateSetCommand(ctx, id, target)
}

// CreateDeleteCommand prepares clearing the real endpoint id in tx.
func (tx *ClientTransaction) CreateDeleteCommand(ctx context.Context, id domain.EndPointID) (Command, error) {
	return tx.dm.CreateDeleteCommand(ctx, id)
}

func (tx *ClientTransaction) execute(ctx context.Context, build func() (Command, error)) error {
	cmd, err := build()
	if err != nil {
		return err
	}
	return Execute(ctx, cmd)
}

// EndPoint returns the endpoint id in tx. Virtual endpoints are returned
// without loading their content.
func (tx *ClientTransaction) EndPoint(ctx context.Context, id domain.EndPointID) (RelationEndPoint, error) {
	if err := tx.checkUsable(); err != nil {
		return nil, err
	}
	role, err := tx.dm.endpoints.role(id)
	if err != nil {
		return nil, err
	}
	if !role.Virtual {
		return tx.dm.endpoints.realEndPoint(ctx, id)
	}
	if _, err := tx.dm.GetOrLoad(ctx, id.Object); err != nil {
		return nil, err
	}
	return tx.dm.endpoints.virtual(id), nil
}

// SyncState reports whether endpoint id matches its opposite side in tx.
// Endpoints whose opposite is not loaded report SyncUnknown.
func (tx *ClientTransaction) SyncState(ctx context.Context, id domain.EndPointID) (SyncState, error) {
	ep, err := tx.EndPoint(ctx, id)
	if err != nil {
		return "", err
	}
	return ep.SyncState(), nil
}

// Synchronize repairs an out-of-sync endpoint in tx and in every
// sub-transaction that already holds it. Real endpoints win: their owners
// are adopted into the opposite content and orphaned items are dropped.
// Synchronize is permitted while tx is read-only.
func (tx *ClientTransaction) Synchronize(ctx context.Context, id domain.EndPointID) error {
	if err := tx.checkUsable(); err != nil {
		return err
	}
	if err := tx.dm.endpoints.synchronize(ctx, id, true); err != nil {
		return err
	}
	for t := tx.child; t != nil; t = t.child {
		if err := t.dm.endpoints.synchronize(ctx, id, false); err != nil {
			return err
		}
	}
	tx.logger.Debug("endpoint synchronized", "tx", tx.id, "endpoint", id.String())
	return nil
}
