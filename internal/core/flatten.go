package core

import (
	"fmt"
	"slices"

	"txcore/pkg/domain"
)

// FlatFormatVersion identifies the layout of FlatTransaction.
const FlatFormatVersion = 1

// FlatTransaction is the serializable form of a whole transaction hierarchy,
// root first.
type FlatTransaction struct {
	Format int         `json:"format"`
	Levels []FlatLevel `json:"levels"`
}

// FlatLevel is one transaction of the hierarchy. Containers form an arena
// keyed by the ObjectID string; Order keeps the load order.
type FlatLevel struct {
	ID             string                   `json:"id"`
	Order          []string                 `json:"order"`
	Containers     map[string]FlatContainer `json:"containers"`
	EndPoints      []FlatEndPoint           `json:"endpoints,omitempty"`
	Invalid        map[string]domain.State  `json:"invalid,omitempty"`
	DeleteNotified []domain.ObjectID        `json:"delete_notified,omitempty"`
}

// FlatContainer is a flattened DataContainer.
type FlatContainer struct {
	ID         domain.ObjectID `json:"id"`
	Version    int64           `json:"version"`
	New        bool            `json:"new,omitempty"`
	Deleted    bool            `json:"deleted,omitempty"`
	Properties []FlatProperty  `json:"properties"`
}

// FlatProperty is a flattened PropertyValue. Ref marks real endpoint slots.
type FlatProperty struct {
	Name     string             `json:"name"`
	Ref      bool               `json:"ref,omitempty"`
	Current  domain.TaggedValue `json:"current"`
	Original domain.TaggedValue `json:"original"`
	Touched  bool               `json:"touched,omitempty"`
}

// FlatEndPoint is a flattened virtual endpoint. Real endpoints are rebuilt
// from the container slots.
type FlatEndPoint struct {
	Object   domain.ObjectID   `json:"object"`
	Property string            `json:"property"`
	Loaded   bool              `json:"loaded"`
	Original []domain.ObjectID `json:"original,omitempty"`
	Current  []domain.ObjectID `json:"current,omitempty"`
	Pending  []domain.ObjectID `json:"pending,omitempty"`
	Orphans  []domain.ObjectID `json:"orphans,omitempty"`
	Unsynced []domain.ObjectID `json:"unsynced,omitempty"`
}

// Flatten captures the hierarchy tx belongs to.
func Flatten(tx *ClientTransaction) (FlatTransaction, error) {
	flat := FlatTransaction{Format: FlatFormatVersion}
	for t := tx.root; t != nil; t = t.child {
		if t.operation != "" {
			return FlatTransaction{}, fmt.Errorf("%w: flatten during %s", ErrReentrantOperation, t.operation)
		}
		level, err := flattenLevel(t)
		if err != nil {
			return FlatTransaction{}, err
		}
		flat.Levels = append(flat.Levels, level)
	}
	return flat, nil
}

func flattenLevel(tx *ClientTransaction) (FlatLevel, error) {
	dm := tx.dm
	level := FlatLevel{
		ID:         tx.id,
		Containers: make(map[string]FlatContainer, len(dm.order)),
		Invalid:    make(map[string]domain.State, len(dm.invalid)),
	}
	for _, id := range dm.order {
		fc, err := flattenContainer(dm.containers[id])
		if err != nil {
			return FlatLevel{}, err
		}
		key := id.String()
		level.Order = append(level.Order, key)
		level.Containers[key] = fc
	}
	for _, v := range dm.endpoints.virtualList() {
		level.EndPoints = append(level.EndPoints, FlatEndPoint{
			Object:   v.id.Object,
			Property: v.id.Property,
			Loaded:   v.loaded,
			Original: v.Original(),
			Current:  v.Current(),
			Pending:  sortedIDs(v.pending),
			Orphans:  sortedIDs(v.orphans),
			Unsynced: sortedIDs(v.unsynced),
		})
	}
	for id, st := range dm.invalid {
		level.Invalid[id.String()] = st
	}
	level.DeleteNotified = sortedIDs(dm.deleteNotified)
	return level, nil
}

func flattenContainer(dc *DataContainer) (FlatContainer, error) {
	fc := FlatContainer{ID: dc.id, Version: dc.version, New: dc.isNew, Deleted: dc.deleted}
	for _, name := range dc.names {
		p := dc.values[name]
		cur, err := domain.EncodeValue(p.Current)
		if err != nil {
			return FlatContainer{}, fmt.Errorf("%s.%s: %w", dc.id, name, err)
		}
		orig, err := domain.EncodeValue(p.Original)
		if err != nil {
			return FlatContainer{}, fmt.Errorf("%s.%s: %w", dc.id, name, err)
		}
		_, isRef := dc.refs[name]
		fc.Properties = append(fc.Properties, FlatProperty{Name: name, Ref: isRef, Current: cur, Original: orig, Touched: p.Touched})
	}
	return fc, nil
}

// Unflatten rebuilds a hierarchy over p and returns its root. Containers of
// every level are restored first, then endpoints, and finally the real
// endpoints' sync states are derived from the restored virtual endpoints.
// No events are raised.
func Unflatten(flat FlatTransaction, p domain.Persistence, opts ...Option) (*ClientTransaction, error) {
	if flat.Format != FlatFormatVersion {
		return nil, fmt.Errorf("unsupported flat transaction format %d", flat.Format)
	}
	if len(flat.Levels) == 0 {
		return nil, fmt.Errorf("flat transaction has no levels")
	}
	root, err := NewRootTransaction(p, opts...)
	if err != nil {
		return nil, err
	}
	txs := []*ClientTransaction{root}
	for range flat.Levels[1:] {
		parent := txs[len(txs)-1]
		child := &ClientTransaction{
			parent:     parent,
			root:       root,
			mapping:    root.mapping,
			validator:  root.validator,
			logger:     root.logger,
			extensions: root.extensions.clone(),
			now:        root.now,
		}
		child.dm = newDataManager(child)
		parent.child = child
		txs = append(txs, child)
	}

	for i, level := range flat.Levels {
		if err := restoreContainers(txs[i], level); err != nil {
			return nil, err
		}
	}
	for i, level := range flat.Levels {
		restoreEndPoints(txs[i].dm, level)
	}
	root.logger.Debug("transaction hierarchy restored", "tx", root.id, "levels", len(txs))
	return root, nil
}

func restoreContainers(tx *ClientTransaction, level FlatLevel) error {
	if level.ID != "" {
		tx.id = level.ID
	}
	dm := tx.dm
	for _, key := range level.Order {
		fc, ok := level.Containers[key]
		if !ok {
			return fmt.Errorf("flat level %s: container %s missing from arena", level.ID, key)
		}
		dc := newDataContainer(fc.ID)
		dc.version = fc.Version
		dc.isNew = fc.New
		dc.deleted = fc.Deleted
		for _, fp := range fc.Properties {
			cur, err := domain.DecodeValue(fp.Current)
			if err != nil {
				return fmt.Errorf("%s.%s: %w", fc.ID, fp.Name, err)
			}
			orig, err := domain.DecodeValue(fp.Original)
			if err != nil {
				return fmt.Errorf("%s.%s: %w", fc.ID, fp.Name, err)
			}
			dc.names = append(dc.names, fp.Name)
			dc.values[fp.Name] = &PropertyValue{Name: fp.Name, Current: cur, Original: orig, Touched: fp.Touched}
			if fp.Ref {
				dc.refs[fp.Name] = struct{}{}
			}
		}
		dm.containers[dc.id] = dc
		dm.order = append(dm.order, dc.id)
	}
	for key, st := range level.Invalid {
		id, err := domain.ParseObjectID(key)
		if err != nil {
			return err
		}
		dm.invalid[id] = st
	}
	for _, id := range level.DeleteNotified {
		dm.deleteNotified[id] = struct{}{}
	}
	return nil
}

func restoreEndPoints(dm *DataManager, level FlatLevel) {
	m := dm.endpoints
	for _, fe := range level.EndPoints {
		v := m.virtual(domain.EndPointID{Object: fe.Object, Property: fe.Property})
		v.loaded = fe.Loaded
		v.original = slices.Clone(fe.Original)
		v.current = slices.Clone(fe.Current)
		v.pending = idSet(fe.Pending)
		v.orphans = idSet(fe.Orphans)
		v.unsynced = idSet(fe.Unsynced)
	}
	for _, id := range dm.order {
		dc := dm.containers[id]
		for _, rel := range m.mapping().RealEndPoints(id.Class) {
			r := m.newReal(dc, rel)
			target := r.OriginalTarget()
			if rel.Kind() == domain.RelationUnidirectional || target.IsZero() {
				continue
			}
			v, ok := m.virtuals[r.oppositeID(target)]
			switch {
			case !ok:
			case hasID(v.unsynced, id):
				r.state = Unsynchronized
			case !v.loaded && hasID(v.pending, id):
				r.state = SyncUnknown
			}
		}
	}
}

func idSet(ids []domain.ObjectID) map[domain.ObjectID]struct{} {
	set := make(map[domain.ObjectID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
