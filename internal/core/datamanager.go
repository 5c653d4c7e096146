package core

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"txcore/pkg/domain"
)

// DataManager owns the object state of one transaction: the loaded data
// containers in load order, the relation endpoints and the set of ids that
// are no longer usable here.
type DataManager struct {
	tx         *ClientTransaction
	containers map[domain.ObjectID]*DataContainer
	order      []domain.ObjectID
	endpoints  *endPointMap
	invalid    map[domain.ObjectID]domain.State
	// deleteNotified survives rollback so that a delete re-issued after a
	// rollback does not fire the delete events twice in one commit cycle.
	// Every commit starts a new cycle and clears it.
	deleteNotified map[domain.ObjectID]struct{}
}

func newDataManager(tx *ClientTransaction) *DataManager {
	dm := &DataManager{
		tx:             tx,
		containers:     make(map[domain.ObjectID]*DataContainer),
		invalid:        make(map[domain.ObjectID]domain.State),
		deleteNotified: make(map[domain.ObjectID]struct{}),
	}
	dm.endpoints = newEndPointMap(dm)
	return dm
}

// Container returns the cached container for id without loading.
func (dm *DataManager) Container(id domain.ObjectID) (*DataContainer, bool) {
	dc, ok := dm.containers[id]
	return dc, ok
}

// Containers returns the cached containers in load order.
func (dm *DataManager) Containers() []*DataContainer {
	out := make([]*DataContainer, 0, len(dm.order))
	for _, id := range dm.order {
		out = append(out, dm.containers[id])
	}
	return out
}

// Len returns the number of cached containers.
func (dm *DataManager) Len() int { return len(dm.order) }

func (dm *DataManager) checkValid(id domain.ObjectID) error {
	if id.IsZero() {
		return fmt.Errorf("%w: null object id", domain.ErrInvalidObjectID)
	}
	if st, ok := dm.invalid[id]; ok {
		return ObjectInvalidError{ID: id, State: st}
	}
	return nil
}

// GetOrLoad returns the container for id, loading it on first access.
func (dm *DataManager) GetOrLoad(ctx context.Context, id domain.ObjectID) (*DataContainer, error) {
	if err := dm.checkValid(id); err != nil {
		return nil, err
	}
	if dc, ok := dm.containers[id]; ok {
		return dc, nil
	}
	dcs, err := dm.GetOrLoadMany(ctx, []domain.ObjectID{id})
	if err != nil {
		return nil, err
	}
	return dcs[0], nil
}

// GetOrLoadMany returns the containers for ids, loading the missing ones
// inside a single ObjectsLoading/ObjectsLoaded pair.
func (dm *DataManager) GetOrLoadMany(ctx context.Context, ids []domain.ObjectID) ([]*DataContainer, error) {
	var missing []domain.ObjectID
	for _, id := range ids {
		if err := dm.checkValid(id); err != nil {
			return nil, err
		}
		if _, ok := dm.containers[id]; !ok && !slices.Contains(missing, id) {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		if err := dm.tx.extensions.objectsLoading(ctx, dm.tx, missing); err != nil {
			return nil, err
		}
		// Insert only once the whole batch loaded so a failure caches nothing.
		loaded := make([]*DataContainer, 0, len(missing))
		for _, id := range missing {
			dc, err := dm.fetch(ctx, id)
			if err != nil {
				return nil, err
			}
			loaded = append(loaded, dc)
		}
		for _, dc := range loaded {
			dm.insert(dc)
		}
		dm.tx.extensions.objectsLoaded(ctx, dm.tx, missing)
	}
	out := make([]*DataContainer, 0, len(ids))
	for _, id := range ids {
		out = append(out, dm.containers[id])
	}
	return out, nil
}

// fetch reads one object from the persistence layer or, in a
// sub-transaction, clones the parent's current state.
func (dm *DataManager) fetch(ctx context.Context, id domain.ObjectID) (*DataContainer, error) {
	tx := dm.tx
	if tx.parent == nil {
		rec, err := tx.persistence.Load(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, id)
			}
			return nil, fmt.Errorf("load %s: %w", id, err)
		}
		rec.ID = id
		return newContainerFromRecord(rec, tx.mapping), nil
	}
	pdc, err := tx.parent.dm.GetOrLoad(ctx, id)
	if err != nil {
		return nil, err
	}
	if pdc.deleted {
		return nil, ObjectInvalidError{ID: id, State: domain.StateInvalid}
	}
	return pdc.cloneForChild(), nil
}

// registerRecords caches records returned by a collection query and returns
// their ids in query order. Already cached objects keep their cached state.
func (dm *DataManager) registerRecords(ctx context.Context, recs []domain.Record) ([]domain.ObjectID, error) {
	ids := make([]domain.ObjectID, 0, len(recs))
	var fresh []domain.Record
	for _, rec := range recs {
		if _, bad := dm.invalid[rec.ID]; bad {
			continue
		}
		ids = append(ids, rec.ID)
		if _, ok := dm.containers[rec.ID]; !ok {
			fresh = append(fresh, rec)
		}
	}
	if len(fresh) == 0 {
		return ids, nil
	}
	freshIDs := make([]domain.ObjectID, 0, len(fresh))
	for _, rec := range fresh {
		freshIDs = append(freshIDs, rec.ID)
	}
	if err := dm.tx.extensions.objectsLoading(ctx, dm.tx, freshIDs); err != nil {
		return nil, err
	}
	for _, rec := range fresh {
		dm.insert(newContainerFromRecord(rec, dm.tx.mapping))
	}
	dm.tx.extensions.objectsLoaded(ctx, dm.tx, freshIDs)
	return ids, nil
}

func (dm *DataManager) insert(dc *DataContainer) {
	dm.containers[dc.id] = dc
	dm.order = append(dm.order, dc.id)
	if dc.isNew {
		dm.endpoints.registerNew(dc)
		return
	}
	dm.endpoints.registerContainer(dc)
}

func (dm *DataManager) remove(id domain.ObjectID, state domain.State) {
	delete(dm.containers, id)
	dm.order = slices.DeleteFunc(dm.order, func(o domain.ObjectID) bool { return o == id })
	dm.endpoints.unregisterContainer(id)
	dm.invalid[id] = state
}

// NewObject creates an object of class in state New. Its id is invalid in
// every ancestor until the creating transaction commits into it.
func (dm *DataManager) NewObject(ctx context.Context, class string) (*DataContainer, error) {
	def, err := dm.tx.mapping.Class(class)
	if err != nil {
		return nil, err
	}
	if err := dm.tx.extensions.newObjectCreating(ctx, dm.tx, class); err != nil {
		return nil, err
	}
	dc := newDataContainer(domain.NewObjectID(class))
	dc.isNew = true
	for _, p := range def.Properties {
		dc.define(p.Name, p.Default)
	}
	for _, rel := range dm.tx.mapping.RealEndPoints(class) {
		dc.defineRef(rel.Real.Property, domain.ObjectID{})
	}
	dm.insert(dc)
	for p := dm.tx.parent; p != nil; p = p.parent {
		p.dm.invalid[dc.id] = domain.StateInvalid
	}
	return dc, nil
}

// Value returns a value property of id.
func (dm *DataManager) Value(ctx context.Context, id domain.ObjectID, property string) (any, error) {
	dc, err := dm.GetOrLoad(ctx, id)
	if err != nil {
		return nil, err
	}
	if dm.tx.mapping.IsRelation(id.Class, property) {
		return nil, fmt.Errorf("%w: %s.%s", ErrRelationProperty, id.Class, property)
	}
	v, ok := dc.Value(property)
	if !ok {
		if _, err := dm.tx.mapping.ValueProperty(id.Class, property); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// SetValue changes a value property of id, firing the property events when
// the value actually changes.
func (dm *DataManager) SetValue(ctx context.Context, id domain.ObjectID, property string, value any) error {
	if err := dm.tx.checkWritable(); err != nil {
		return err
	}
	dc, err := dm.GetOrLoad(ctx, id)
	if err != nil {
		return err
	}
	if dc.deleted {
		return fmt.Errorf("%w: %s", ErrObjectDeleted, id)
	}
	if dm.tx.mapping.IsRelation(id.Class, property) {
		return fmt.Errorf("%w: %s.%s", ErrRelationProperty, id.Class, property)
	}
	if _, ok := dc.Property(property); !ok {
		if _, err := dm.tx.mapping.ValueProperty(id.Class, property); err != nil {
			return err
		}
	}
	old, _ := dc.Value(property)
	if domain.ValuesEqual(old, value) {
		return nil
	}
	if err := dm.tx.extensions.propertyValueChanging(ctx, dm.tx, id, property, old, value); err != nil {
		return err
	}
	dc.set(property, value)
	dm.tx.extensions.propertyValueChanged(ctx, dm.tx, id, property, old, value)
	return nil
}

// State derives the lifecycle state of id without loading it.
func (dm *DataManager) State(id domain.ObjectID) domain.State {
	if st, ok := dm.invalid[id]; ok {
		return st
	}
	dc, ok := dm.containers[id]
	if !ok {
		return domain.StateNotLoaded
	}
	return dm.stateOf(dc)
}

func (dm *DataManager) stateOf(dc *DataContainer) domain.State {
	switch {
	case dc.deleted:
		return domain.StateDeleted
	case dc.isNew:
		return domain.StateNew
	case dc.HasChangedValues() || dm.endpoints.virtualChanged(dc.id):
		return domain.StateChanged
	default:
		return domain.StateUnchanged
	}
}

// collectChanges lists the pending changes in load order.
func (dm *DataManager) collectChanges() ([]domain.Change, []domain.ObjectID) {
	var (
		changes []domain.Change
		ids     []domain.ObjectID
	)
	for _, id := range dm.order {
		dc := dm.containers[id]
		var ch domain.Change
		switch dm.stateOf(dc) {
		case domain.StateNew:
			after := dc.Record()
			ch = domain.Change{Action: domain.ActionCreate, ID: id, After: &after}
		case domain.StateChanged:
			before, after := dc.OriginalRecord(), dc.Record()
			ch = domain.Change{Action: domain.ActionUpdate, ID: id, Before: &before, After: &after}
		case domain.StateDeleted:
			before := dc.OriginalRecord()
			ch = domain.Change{Action: domain.ActionDelete, ID: id, Before: &before}
		default:
			continue
		}
		changes = append(changes, ch)
		ids = append(ids, id)
	}
	return changes, ids
}

func (dm *DataManager) changedIDs() []domain.ObjectID {
	_, ids := dm.collectChanges()
	return ids
}

func (dm *DataManager) createdIDs() []domain.ObjectID {
	var ids []domain.ObjectID
	for _, id := range dm.order {
		if dm.containers[id].isNew {
			ids = append(ids, id)
		}
	}
	return ids
}

// commitAll folds the current state into the originals. Deleted objects
// leave the transaction and become invalid. persisted bumps versions the
// way the persistence layer does on save.
func (dm *DataManager) commitAll(persisted bool) {
	for _, id := range slices.Clone(dm.order) {
		dc := dm.containers[id]
		if dc.deleted {
			dm.remove(id, domain.StateInvalid)
			continue
		}
		if persisted {
			switch dm.stateOf(dc) {
			case domain.StateNew:
				dc.version = 1
			case domain.StateChanged:
				dc.version++
			}
		}
		dc.commit()
	}
	clear(dm.deleteNotified)
	dm.endpoints.commitAll()
}

// rollbackAll restores every container and endpoint. New objects leave the
// transaction and become invalid.
func (dm *DataManager) rollbackAll() {
	for _, id := range slices.Clone(dm.order) {
		dc := dm.containers[id]
		if dc.isNew {
			dm.remove(id, domain.StateInvalid)
			continue
		}
		dc.rollback()
	}
	dm.endpoints.rollbackAll()
}

// applyChildCommit folds the changes of a committing sub-transaction into
// dm without validation or events.
func (dm *DataManager) applyChildCommit(child *DataManager) {
	for _, id := range child.order {
		cdc := child.containers[id]
		switch child.stateOf(cdc) {
		case domain.StateNew:
			pdc := cdc.cloneForChild()
			for name := range pdc.refs {
				p := pdc.values[name]
				p.Original = domain.ObjectID{}
				p.Touched = true
			}
			pdc.isNew = true
			delete(dm.invalid, id)
			dm.insert(pdc)
		case domain.StateChanged, domain.StateDeleted:
			pdc, ok := dm.containers[id]
			if !ok {
				continue
			}
			for _, name := range cdc.names {
				v := cdc.values[name].Current
				if cur, exists := pdc.Value(name); !exists || !domain.ValuesEqual(cur, v) {
					pdc.set(name, v)
				}
			}
			if !cdc.deleted {
				continue
			}
			if pdc.isNew {
				dm.remove(id, domain.StateInvalid)
			} else {
				pdc.deleted = true
			}
		}
	}
	for _, cv := range child.endpoints.virtualList() {
		if !cv.loaded || !cv.HasChanged() {
			continue
		}
		if _, ok := dm.containers[cv.id.Object]; !ok {
			continue
		}
		pv := dm.endpoints.virtual(cv.id)
		pv.loaded = true
		pv.current = slices.Clone(cv.current)
	}
}
