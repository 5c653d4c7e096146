package core

import (
	"context"
	"fmt"

	"txcore/pkg/domain"
)

// CreateSetCommand prepares setting the real endpoint id to target. A zero
// target clears the reference. The opposite virtual endpoints are loaded
// first, and the command is refused with an OutOfSyncError when any of the
// participating endpoints is unsynchronized.
func (dm *DataManager) CreateSetCommand(ctx context.Context, id domain.EndPointID, target domain.ObjectID) (Command, error) {
	if err := dm.tx.checkWritable(); err != nil {
		return nil, err
	}
	r, err := dm.endpoints.realEndPoint(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.container.deleted {
		return nil, fmt.Errorf("%w: %s", ErrObjectDeleted, id.Object)
	}
	rel := r.role.Relation
	if !target.IsZero() {
		if target.Class != rel.Virtual.Class {
			return nil, fmt.Errorf("%w: %s expects %s, got %s", ErrClassMismatch, id, rel.Virtual.Class, target)
		}
		tdc, err := dm.GetOrLoad(ctx, target)
		if err != nil {
			return nil, err
		}
		if tdc.deleted {
			return nil, fmt.Errorf("%w: %s", ErrObjectDeleted, target)
		}
	}
	current := r.Target()
	if rel.Kind() == domain.RelationUnidirectional {
		if current == target {
			return noopCommand{}, nil
		}
		return &realSetCommand{tx: dm.tx, endPoint: r, from: current, to: target}, nil
	}

	var oldOpposite, newOpposite *VirtualEndPoint
	if !current.IsZero() {
		if oldOpposite, err = dm.endpoints.loadedVirtual(ctx, r.oppositeID(current)); err != nil {
			return nil, err
		}
	}
	if !target.IsZero() {
		if newOpposite, err = dm.endpoints.loadedVirtual(ctx, r.oppositeID(target)); err != nil {
			return nil, err
		}
	}
	if err := checkSynchronized(r); err != nil {
		return nil, err
	}
	for _, v := range []*VirtualEndPoint{oldOpposite, newOpposite} {
		if v == nil {
			continue
		}
		if err := checkSynchronized(v); err != nil {
			return nil, err
		}
	}
	if current == target {
		return noopCommand{}, nil
	}

	var cmds []Command
	owner := id.Object
	if rel.Kind() == domain.RelationOneToOne && newOpposite != nil && len(newOpposite.current) > 0 {
		if holder := newOpposite.current[0]; holder != owner {
			hr, err := dm.endpoints.realEndPoint(ctx, domain.EndPointID{Object: holder, Property: id.Property})
			if err != nil {
				return nil, err
			}
			if err := checkSynchronized(hr); err != nil {
				return nil, err
			}
			detach := &realSetCommand{tx: dm.tx, endPoint: hr, from: target}
			cmds = append(cmds, newUnregistration(dm.tx, detach, newOpposite, holder))
		}
	}
	var main Command = &realSetCommand{tx: dm.tx, endPoint: r, from: current, to: target}
	if oldOpposite != nil {
		main = newUnregistration(dm.tx, main, oldOpposite, owner)
	}
	if newOpposite != nil {
		main = newRegistration(dm.tx, main, newOpposite, owner)
	}
	cmds = append(cmds, main)
	return combine(cmds), nil
}

// CreateDeleteCommand prepares clearing the real endpoint id.
func (dm *DataManager) CreateDeleteCommand(ctx context.Context, id domain.EndPointID) (Command, error) {
	return dm.CreateSetCommand(ctx, id, domain.ObjectID{})
}

// CreateObjectDeleteCommand prepares deleting id: its own references are
// cleared, and so are the references held by objects in its virtual
// endpoints. Unidirectional references to id held elsewhere are not tracked.
func (dm *DataManager) CreateObjectDeleteCommand(ctx context.Context, id domain.ObjectID) (Command, error) {
	if err := dm.tx.checkWritable(); err != nil {
		return nil, err
	}
	dc, err := dm.GetOrLoad(ctx, id)
	if err != nil {
		return nil, err
	}
	if dc.deleted {
		return nil, fmt.Errorf("%w: %s", ErrObjectDeleted, id)
	}
	var cmds []Command
	for _, rel := range dm.tx.mapping.RealEndPoints(id.Class) {
		eid := domain.EndPointID{Object: id, Property: rel.Real.Property}
		if dc.Ref(eid.Property).IsZero() {
			continue
		}
		cmd, err := dm.CreateSetCommand(ctx, eid, domain.ObjectID{})
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, cmd)
	}
	for _, rel := range dm.tx.mapping.VirtualEndPoints(id.Class) {
		v, err := dm.endpoints.loadedVirtual(ctx, domain.EndPointID{Object: id, Property: rel.Virtual.Property})
		if err != nil {
			return nil, err
		}
		if err := checkSynchronized(v); err != nil {
			return nil, err
		}
		for _, item := range v.Current() {
			cmd, err := dm.CreateSetCommand(ctx, domain.EndPointID{Object: item, Property: rel.Real.Property}, domain.ObjectID{})
			if err != nil {
				return nil, err
			}
			cmds = append(cmds, cmd)
		}
	}
	_, notified := dm.deleteNotified[id]
	return &objectDeleteCommand{dm: dm, dc: dc, inner: combine(cmds), notify: !notified}, nil
}

// CreateVirtualSetCommand prepares setting the single-valued virtual endpoint
// id to target by rewriting the real endpoints involved.
func (dm *DataManager) CreateVirtualSetCommand(ctx context.Context, id domain.EndPointID, target domain.ObjectID) (Command, error) {
	if err := dm.tx.checkWritable(); err != nil {
		return nil, err
	}
	v, err := dm.endpoints.loadedVirtual(ctx, id)
	if err != nil {
		return nil, err
	}
	if v.IsCollection() {
		return nil, fmt.Errorf("%w: %s is a collection", ErrCardinality, id)
	}
	realProp := v.role.Relation.Real.Property
	if target.IsZero() {
		if len(v.current) == 0 {
			if err := checkSynchronized(v); err != nil {
				return nil, err
			}
			return noopCommand{}, nil
		}
		return dm.CreateSetCommand(ctx, domain.EndPointID{Object: v.current[0], Property: realProp}, domain.ObjectID{})
	}
	// A one-to-one set detaches the current holder itself.
	return dm.CreateSetCommand(ctx, domain.EndPointID{Object: target, Property: realProp}, id.Object)
}

// CreateAddCommand prepares adding item to the collection endpoint id.
func (dm *DataManager) CreateAddCommand(ctx context.Context, id domain.EndPointID, item domain.ObjectID) (Command, error) {
	role, err := dm.endpoints.role(id)
	if err != nil {
		return nil, err
	}
	if !role.Virtual || role.Relation.Virtual.Cardinality != domain.CardinalityMany {
		return nil, fmt.Errorf("%w: %s is not a collection", ErrCardinality, id)
	}
	if item.IsZero() {
		return nil, fmt.Errorf("%w: cannot add a null object", domain.ErrInvalidObjectID)
	}
	return dm.CreateSetCommand(ctx, domain.EndPointID{Object: item, Property: role.Relation.Real.Property}, id.Object)
}

// CreateRemoveCommand prepares removing item from the collection endpoint id.
func (dm *DataManager) CreateRemoveCommand(ctx context.Context, id domain.EndPointID, item domain.ObjectID) (Command, error) {
	if err := dm.tx.checkWritable(); err != nil {
		return nil, err
	}
	v, err := dm.endpoints.loadedVirtual(ctx, id)
	if err != nil {
		return nil, err
	}
	if !v.IsCollection() {
		return nil, fmt.Errorf("%w: %s is not a collection", ErrCardinality, id)
	}
	if !v.contains(item) {
		return nil, fmt.Errorf("%w: %s is not in %s", ErrObjectNotFound, item, id)
	}
	return dm.CreateSetCommand(ctx, domain.EndPointID{Object: item, Property: v.role.Relation.Real.Property}, domain.ObjectID{})
}

func checkSynchronized(ep RelationEndPoint) error {
	if ep.SyncState() != Unsynchronized {
		return nil
	}
	return OutOfSyncError{EndPoint: ep.ID(), Opposite: ep.Role().Opposite()}
}
