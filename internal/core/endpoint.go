package core

import (
	"slices"

	"txcore/pkg/domain"
)

// SyncState describes whether an endpoint's content can be trusted to match
// its opposite side.
type SyncState string

const (
	// SyncUnknown means the opposite side has not been loaded yet; the state is
	// resolved as soon as it is.
	SyncUnknown SyncState = "unknown"
	// Synchronized endpoints match their opposite side.
	Synchronized SyncState = "synchronized"
	// Unsynchronized endpoints diverge from their opposite side and reject
	// modification until Synchronize is called.
	Unsynchronized SyncState = "unsynchronized"
)

// RelationEndPoint is one side of a relation on a concrete object.
type RelationEndPoint interface {
	ID() domain.EndPointID
	Role() domain.EndPointRole
	IsVirtual() bool
	SyncState() SyncState
	HasChanged() bool
	// Current returns the referenced ids; empty for a null reference.
	Current() []domain.ObjectID
	Original() []domain.ObjectID
}

// RealEndPoint owns the reference. Its value lives in the owner's DataContainer.
type RealEndPoint struct {
	id        domain.EndPointID
	role      domain.EndPointRole
	container *DataContainer
	state     SyncState
}

var _ RelationEndPoint = (*RealEndPoint)(nil)

func (r *RealEndPoint) ID() domain.EndPointID     { return r.id }
func (r *RealEndPoint) Role() domain.EndPointRole { return r.role }
func (r *RealEndPoint) IsVirtual() bool           { return false }

// SyncState reports the endpoint's trust state.
func (r *RealEndPoint) SyncState() SyncState {
	if r.role.Relation.Kind() == domain.RelationUnidirectional {
		return Synchronized
	}
	return r.state
}

// Target returns the currently referenced object.
func (r *RealEndPoint) Target() domain.ObjectID {
	return r.container.Ref(r.id.Property)
}

// OriginalTarget returns the reference as loaded or last committed.
func (r *RealEndPoint) OriginalTarget() domain.ObjectID {
	return r.container.OriginalRef(r.id.Property)
}

func (r *RealEndPoint) HasChanged() bool {
	p, ok := r.container.Property(r.id.Property)
	return ok && p.HasChanged()
}

func (r *RealEndPoint) Current() []domain.ObjectID  { return idSlice(r.Target()) }
func (r *RealEndPoint) Original() []domain.ObjectID { return idSlice(r.OriginalTarget()) }

// oppositeID returns the virtual endpoint the given target exposes for this relation.
func (r *RealEndPoint) oppositeID(target domain.ObjectID) domain.EndPointID {
	return domain.EndPointID{Object: target, Property: r.role.Relation.Virtual.Property}
}

// VirtualEndPoint derives its content from the real endpoints pointing at its
// owner. Single-valued endpoints hold at most one id.
type VirtualEndPoint struct {
	id       domain.EndPointID
	role     domain.EndPointRole
	loaded   bool
	original []domain.ObjectID
	current  []domain.ObjectID
	// pending holds owners of real endpoints registered before the content was loaded.
	pending map[domain.ObjectID]struct{}
	// orphans are content items whose real endpoint points elsewhere.
	orphans map[domain.ObjectID]struct{}
	// unsynced are owners of real endpoints pointing here that the content lacks.
	unsynced map[domain.ObjectID]struct{}
}

var _ RelationEndPoint = (*VirtualEndPoint)(nil)

func newVirtualEndPoint(id domain.EndPointID, role domain.EndPointRole) *VirtualEndPoint {
	return &VirtualEndPoint{
		id:       id,
		role:     role,
		pending:  make(map[domain.ObjectID]struct{}),
		orphans:  make(map[domain.ObjectID]struct{}),
		unsynced: make(map[domain.ObjectID]struct{}),
	}
}

func (v *VirtualEndPoint) ID() domain.EndPointID     { return v.id }
func (v *VirtualEndPoint) Role() domain.EndPointRole { return v.role }
func (v *VirtualEndPoint) IsVirtual() bool           { return true }

// IsLoaded reports whether the content has been materialized.
func (v *VirtualEndPoint) IsLoaded() bool { return v.loaded }

// IsCollection reports whether the endpoint holds many ids.
func (v *VirtualEndPoint) IsCollection() bool {
	return v.role.Relation.Virtual.Cardinality == domain.CardinalityMany
}

// SyncState reports the endpoint's trust state.
func (v *VirtualEndPoint) SyncState() SyncState {
	switch {
	case !v.loaded:
		return SyncUnknown
	case len(v.orphans) > 0 || len(v.unsynced) > 0:
		return Unsynchronized
	default:
		return Synchronized
	}
}

// HasChanged compares membership; positions are irrelevant.
func (v *VirtualEndPoint) HasChanged() bool {
	if !v.loaded {
		return false
	}
	return !sameMembers(v.original, v.current)
}

func (v *VirtualEndPoint) Current() []domain.ObjectID  { return slices.Clone(v.current) }
func (v *VirtualEndPoint) Original() []domain.ObjectID { return slices.Clone(v.original) }

// Orphans returns content items whose real endpoints point elsewhere.
func (v *VirtualEndPoint) Orphans() []domain.ObjectID { return sortedIDs(v.orphans) }

// UnsynchronizedOpposites returns owners of real endpoints the content lacks.
func (v *VirtualEndPoint) UnsynchronizedOpposites() []domain.ObjectID { return sortedIDs(v.unsynced) }

func (v *VirtualEndPoint) contains(id domain.ObjectID) bool {
	return slices.Contains(v.current, id)
}

// register adds id to the content. A single-valued endpoint is replaced.
func (v *VirtualEndPoint) register(id domain.ObjectID) {
	if !v.IsCollection() {
		v.current = []domain.ObjectID{id}
		return
	}
	if !v.contains(id) {
		v.current = append(v.current, id)
	}
}

func (v *VirtualEndPoint) unregister(id domain.ObjectID) {
	v.current = slices.DeleteFunc(v.current, func(c domain.ObjectID) bool { return c == id })
}

// adopt adds id to both original and current content without recording a change.
func (v *VirtualEndPoint) adopt(id domain.ObjectID) {
	if !slices.Contains(v.original, id) {
		v.original = append(v.original, id)
	}
	if !v.contains(id) {
		v.current = append(v.current, id)
	}
}

// drop removes id from both original and current content without recording a change.
func (v *VirtualEndPoint) drop(id domain.ObjectID) {
	match := func(c domain.ObjectID) bool { return c == id }
	v.original = slices.DeleteFunc(v.original, match)
	v.current = slices.DeleteFunc(v.current, match)
}

func (v *VirtualEndPoint) commit() {
	v.original = slices.Clone(v.current)
}

func (v *VirtualEndPoint) rollback() {
	v.current = slices.Clone(v.original)
}

func idSlice(id domain.ObjectID) []domain.ObjectID {
	if id.IsZero() {
		return nil
	}
	return []domain.ObjectID{id}
}

func sameMembers(a, b []domain.ObjectID) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[domain.ObjectID]int, len(a))
	for _, id := range a {
		set[id]++
	}
	for _, id := range b {
		if set[id] == 0 {
			return false
		}
		set[id]--
	}
	return true
}

func sortedIDs(set map[domain.ObjectID]struct{}) []domain.ObjectID {
	out := make([]domain.ObjectID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	slices.SortFunc(out, compareIDs)
	return out
}

func compareIDs(a, b domain.ObjectID) int {
	if a.Class != b.Class {
		if a.Class < b.Class {
			return -1
		}
		return 1
	}
	switch {
	case a.Value < b.Value:
		return -1
	case a.Value > b.Value:
		return 1
	}
	return 0
}
