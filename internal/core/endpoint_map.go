package core

import (
	"context"
	"fmt"
	"slices"

	"txcore/pkg/domain"
)

// endPointMap tracks the relation endpoints of one DataManager and keeps
// the two sides of each bidirectional relation consistent.
type endPointMap struct {
	dm       *DataManager
	reals    map[domain.EndPointID]*RealEndPoint
	virtuals map[domain.EndPointID]*VirtualEndPoint
	byOwner  map[domain.ObjectID][]domain.EndPointID
}

func newEndPointMap(dm *DataManager) *endPointMap {
	return &endPointMap{
		dm:       dm,
		reals:    make(map[domain.EndPointID]*RealEndPoint),
		virtuals: make(map[domain.EndPointID]*VirtualEndPoint),
		byOwner:  make(map[domain.ObjectID][]domain.EndPointID),
	}
}

func (m *endPointMap) mapping() *domain.Mapping { return m.dm.tx.mapping }

// role resolves id against the mapping.
func (m *endPointMap) role(id domain.EndPointID) (domain.EndPointRole, error) {
	role, err := m.mapping().EndPoint(id.Object.Class, id.Property)
	if err != nil {
		if m.mapping().IsValueProperty(id.Object.Class, id.Property) {
			return domain.EndPointRole{}, fmt.Errorf("%w: %s", ErrNotARelation, id)
		}
		return domain.EndPointRole{}, err
	}
	return role, nil
}

// registerContainer creates the real endpoints of a loaded object and
// resolves them against the virtual endpoints they point at.
func (m *endPointMap) registerContainer(dc *DataContainer) {
	for _, rel := range m.mapping().RealEndPoints(dc.id.Class) {
		r := m.newReal(dc, rel)
		m.registerReal(r)
	}
}

// registerNew creates the endpoints of a new object: null reals and empty,
// loaded virtuals.
func (m *endPointMap) registerNew(dc *DataContainer) {
	for _, rel := range m.mapping().RealEndPoints(dc.id.Class) {
		m.newReal(dc, rel).state = Synchronized
	}
	for _, rel := range m.mapping().VirtualEndPoints(dc.id.Class) {
		v := m.virtual(domain.EndPointID{Object: dc.id, Property: rel.Virtual.Property})
		v.loaded = true
	}
}

func (m *endPointMap) newReal(dc *DataContainer, rel domain.RelationDefinition) *RealEndPoint {
	id := domain.EndPointID{Object: dc.id, Property: rel.Real.Property}
	r := &RealEndPoint{id: id, role: domain.EndPointRole{Relation: rel}, container: dc, state: Synchronized}
	m.reals[id] = r
	return r
}

// registerReal places the owner of r with respect to the virtual endpoint
// of its original target.
func (m *endPointMap) registerReal(r *RealEndPoint) {
	target := r.OriginalTarget()
	if r.role.Relation.Kind() == domain.RelationUnidirectional || target.IsZero() {
		r.state = Synchronized
		return
	}
	v := m.virtual(r.oppositeID(target))
	owner := r.id.Object
	switch {
	case !v.loaded:
		v.pending[owner] = struct{}{}
		r.state = SyncUnknown
	case hasID(v.orphans, owner):
		delete(v.orphans, owner)
		r.state = Synchronized
	case slices.Contains(v.original, owner):
		r.state = Synchronized
	default:
		v.unsynced[owner] = struct{}{}
		r.state = Unsynchronized
	}
}

func (m *endPointMap) unregisterContainer(id domain.ObjectID) {
	for _, rel := range m.mapping().RealEndPoints(id.Class) {
		eid := domain.EndPointID{Object: id, Property: rel.Real.Property}
		r, ok := m.reals[eid]
		if !ok {
			continue
		}
		if target := r.OriginalTarget(); !target.IsZero() {
			if v, ok := m.virtuals[r.oppositeID(target)]; ok {
				delete(v.pending, id)
				delete(v.unsynced, id)
			}
		}
		delete(m.reals, eid)
	}
	for _, vid := range m.byOwner[id] {
		delete(m.virtuals, vid)
	}
	delete(m.byOwner, id)
}

// virtual returns the virtual endpoint for id, creating an unloaded one.
func (m *endPointMap) virtual(id domain.EndPointID) *VirtualEndPoint {
	if v, ok := m.virtuals[id]; ok {
		return v
	}
	role, _ := m.mapping().EndPoint(id.Object.Class, id.Property)
	v := newVirtualEndPoint(id, role)
	m.virtuals[id] = v
	m.byOwner[id.Object] = append(m.byOwner[id.Object], id)
	return v
}

func (m *endPointMap) virtualList() []*VirtualEndPoint {
	out := make([]*VirtualEndPoint, 0, len(m.virtuals))
	for _, v := range m.virtuals {
		out = append(out, v)
	}
	slices.SortFunc(out, func(a, b *VirtualEndPoint) int {
		if c := compareIDs(a.id.Object, b.id.Object); c != 0 {
			return c
		}
		switch {
		case a.id.Property < b.id.Property:
			return -1
		case a.id.Property > b.id.Property:
			return 1
		}
		return 0
	})
	return out
}

func (m *endPointMap) virtualChanged(owner domain.ObjectID) bool {
	for _, vid := range m.byOwner[owner] {
		if m.virtuals[vid].HasChanged() {
			return true
		}
	}
	return false
}

// realEndPoint loads the owner of id and returns its real endpoint.
func (m *endPointMap) realEndPoint(ctx context.Context, id domain.EndPointID) (*RealEndPoint, error) {
	role, err := m.role(id)
	if err != nil {
		return nil, err
	}
	if role.Virtual {
		return nil, fmt.Errorf("%w: %s is a virtual endpoint", ErrCardinality, id)
	}
	if _, err := m.dm.GetOrLoad(ctx, id.Object); err != nil {
		return nil, err
	}
	return m.reals[id], nil
}

// loadedVirtual loads the owner of id and the endpoint's content.
func (m *endPointMap) loadedVirtual(ctx context.Context, id domain.EndPointID) (*VirtualEndPoint, error) {
	role, err := m.role(id)
	if err != nil {
		return nil, err
	}
	if !role.Virtual {
		return nil, fmt.Errorf("%w: %s is a real endpoint", ErrCardinality, id)
	}
	if _, err := m.dm.GetOrLoad(ctx, id.Object); err != nil {
		return nil, err
	}
	v := m.virtual(id)
	if v.loaded {
		return v, nil
	}
	if err := m.loadVirtual(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

// loadVirtual materializes the content of v: a root runs the collection
// query, a sub-transaction copies the parent's current content.
func (m *endPointMap) loadVirtual(ctx context.Context, v *VirtualEndPoint) error {
	tx := m.dm.tx
	var ids []domain.ObjectID
	if tx.parent == nil {
		rel := v.role.Relation
		recs, err := tx.persistence.ExecuteCollectionQuery(ctx, domain.CollectionQuery{
			Class:    rel.Real.Class,
			Property: rel.Real.Property,
			Target:   v.id.Object,
		})
		if err != nil {
			return fmt.Errorf("load %s: %w", v.id, err)
		}
		if ids, err = m.dm.registerRecords(ctx, recs); err != nil {
			return err
		}
	} else {
		pv, err := tx.parent.dm.endpoints.loadedVirtual(ctx, v.id)
		if err != nil {
			return err
		}
		ids = pv.Current()
		if _, err := m.dm.GetOrLoadMany(ctx, ids); err != nil {
			return err
		}
	}
	m.markLoaded(v, ids)
	return nil
}

// markLoaded installs ids as the content of v and resolves the sync state
// of every real endpoint registered against it so far.
func (m *endPointMap) markLoaded(v *VirtualEndPoint, ids []domain.ObjectID) {
	if !v.IsCollection() && len(ids) > 1 {
		ids = ids[:1]
	}
	realProp := v.role.Relation.Real.Property
	v.loaded = true
	v.original = slices.Clone(ids)
	v.current = slices.Clone(ids)
	for _, id := range ids {
		if hasID(v.pending, id) {
			delete(v.pending, id)
			if r, ok := m.reals[domain.EndPointID{Object: id, Property: realProp}]; ok {
				r.state = Synchronized
			}
			continue
		}
		v.orphans[id] = struct{}{}
	}
	for owner := range v.pending {
		v.unsynced[owner] = struct{}{}
		if r, ok := m.reals[domain.EndPointID{Object: owner, Property: realProp}]; ok {
			r.state = Unsynchronized
		}
	}
	clear(v.pending)
}

// synchronize repairs an out-of-sync endpoint. Real endpoints are ground
// truth: a real is adopted into its opposite's content, and a virtual drops
// its orphans and adopts every unsynchronized real pointing at it. When load
// is false only endpoints already present are touched.
func (m *endPointMap) synchronize(ctx context.Context, id domain.EndPointID, load bool) error {
	role, err := m.role(id)
	if err != nil {
		return err
	}
	if !role.Virtual {
		r, ok := m.reals[id]
		if !ok {
			if !load {
				return nil
			}
			if r, err = m.realEndPoint(ctx, id); err != nil {
				return err
			}
		}
		return m.synchronizeReal(r)
	}
	v, ok := m.virtuals[id]
	if !ok || !v.loaded {
		if !load {
			return nil
		}
		if v, err = m.loadedVirtual(ctx, id); err != nil {
			return err
		}
	}
	return m.synchronizeVirtual(v)
}

func (m *endPointMap) synchronizeReal(r *RealEndPoint) error {
	if r.SyncState() != Unsynchronized {
		return nil
	}
	owner := r.id.Object
	v := m.virtuals[r.oppositeID(r.OriginalTarget())]
	if !v.IsCollection() && len(v.current) > 0 && v.current[0] != owner {
		return fmt.Errorf("%w: %s holds %s", ErrSynchronizeConflict, v.id, v.current[0])
	}
	delete(v.unsynced, owner)
	v.adopt(owner)
	r.state = Synchronized
	return nil
}

func (m *endPointMap) synchronizeVirtual(v *VirtualEndPoint) error {
	if v.SyncState() != Unsynchronized {
		return nil
	}
	unsynced := sortedIDs(v.unsynced)
	if !v.IsCollection() {
		kept := 0
		for _, id := range v.current {
			if !hasID(v.orphans, id) {
				kept++
			}
		}
		if kept+len(unsynced) > 1 {
			return fmt.Errorf("%w: %s", ErrSynchronizeConflict, v.id)
		}
	}
	for _, id := range sortedIDs(v.orphans) {
		v.drop(id)
	}
	clear(v.orphans)
	realProp := v.role.Relation.Real.Property
	for _, owner := range unsynced {
		v.adopt(owner)
		if r, ok := m.reals[domain.EndPointID{Object: owner, Property: realProp}]; ok {
			r.state = Synchronized
		}
	}
	clear(v.unsynced)
	return nil
}

func (m *endPointMap) commitAll() {
	for _, v := range m.virtuals {
		if v.loaded {
			v.commit()
		}
	}
}

func (m *endPointMap) rollbackAll() {
	for _, v := range m.virtuals {
		if v.loaded {
			v.rollback()
		}
	}
}

func hasID(set map[domain.ObjectID]struct{}, id domain.ObjectID) bool {
	_, ok := set[id]
	return ok
}
