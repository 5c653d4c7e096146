package core

import (
	"txcore/pkg/domain"
)

// PropertyValue is a single named slot of a DataContainer.
type PropertyValue struct {
	Name     string
	Current  any
	Original any
	Touched  bool
}

// HasChanged reports whether the slot was touched and differs from its original value.
func (p *PropertyValue) HasChanged() bool {
	return p.Touched && !domain.ValuesEqual(p.Current, p.Original)
}

// DataContainer holds the property values and lifecycle flags of one object
// inside one DataManager. Real endpoint references live in slots whose value
// is a domain.ObjectID.
type DataContainer struct {
	id      domain.ObjectID
	names   []string
	values  map[string]*PropertyValue
	refs    map[string]struct{}
	version int64
	isNew   bool
	deleted bool
}

func newDataContainer(id domain.ObjectID) *DataContainer {
	return &DataContainer{
		id:     id,
		values: make(map[string]*PropertyValue),
		refs:   make(map[string]struct{}),
	}
}

// newContainerFromRecord builds an unchanged container. Mapped properties
// missing from the record get their defaults.
func newContainerFromRecord(rec domain.Record, mapping *domain.Mapping) *DataContainer {
	dc := newDataContainer(rec.ID)
	dc.version = rec.Version
	if mapping != nil {
		if def, err := mapping.Class(rec.ID.Class); err == nil {
			for _, p := range def.Properties {
				v, ok := rec.Values[p.Name]
				if !ok {
					v = p.Default
				}
				dc.define(p.Name, v)
			}
			for _, rel := range mapping.RealEndPoints(rec.ID.Class) {
				dc.defineRef(rel.Real.Property, rec.Refs[rel.Real.Property])
			}
		}
	}
	for name, v := range rec.Values {
		if _, ok := dc.values[name]; !ok {
			dc.define(name, v)
		}
	}
	for name, ref := range rec.Refs {
		if _, ok := dc.values[name]; !ok {
			dc.defineRef(name, ref)
		}
	}
	return dc
}

func (dc *DataContainer) define(name string, v any) {
	dc.names = append(dc.names, name)
	dc.values[name] = &PropertyValue{Name: name, Current: v, Original: v}
}

func (dc *DataContainer) defineRef(name string, ref domain.ObjectID) {
	dc.define(name, ref)
	dc.refs[name] = struct{}{}
}

// ID returns the object identity.
func (dc *DataContainer) ID() domain.ObjectID { return dc.id }

// Version returns the persisted version the container was loaded with.
func (dc *DataContainer) Version() int64 { return dc.version }

// IsNew reports whether the object was created in the owning transaction.
func (dc *DataContainer) IsNew() bool { return dc.isNew }

// IsDeleted reports whether the object is marked deleted.
func (dc *DataContainer) IsDeleted() bool { return dc.deleted }

// Property returns the named slot.
func (dc *DataContainer) Property(name string) (*PropertyValue, bool) {
	p, ok := dc.values[name]
	return p, ok
}

// Value returns the current value of name.
func (dc *DataContainer) Value(name string) (any, bool) {
	p, ok := dc.values[name]
	if !ok {
		return nil, false
	}
	return p.Current, true
}

// Ref returns the current reference held in a real endpoint slot.
func (dc *DataContainer) Ref(name string) domain.ObjectID {
	if p, ok := dc.values[name]; ok {
		if id, ok := p.Current.(domain.ObjectID); ok {
			return id
		}
	}
	return domain.ObjectID{}
}

// OriginalRef returns the original reference of a real endpoint slot.
func (dc *DataContainer) OriginalRef(name string) domain.ObjectID {
	if p, ok := dc.values[name]; ok {
		if id, ok := p.Original.(domain.ObjectID); ok {
			return id
		}
	}
	return domain.ObjectID{}
}

func (dc *DataContainer) set(name string, v any) {
	p, ok := dc.values[name]
	if !ok {
		dc.define(name, nil)
		p = dc.values[name]
	}
	p.Current = v
	p.Touched = true
}

// HasChangedValues reports whether any slot differs from its original value.
func (dc *DataContainer) HasChangedValues() bool {
	for _, name := range dc.names {
		if dc.values[name].HasChanged() {
			return true
		}
	}
	return false
}

// ChangedProperties lists the names of changed slots in definition order.
func (dc *DataContainer) ChangedProperties() []string {
	var out []string
	for _, name := range dc.names {
		if dc.values[name].HasChanged() {
			out = append(out, name)
		}
	}
	return out
}

// Names returns the slot names in definition order.
func (dc *DataContainer) Names() []string {
	return append([]string(nil), dc.names...)
}

// Record returns the current state in boundary form.
func (dc *DataContainer) Record() domain.Record {
	return dc.record(func(p *PropertyValue) any { return p.Current })
}

// OriginalRecord returns the original state in boundary form.
func (dc *DataContainer) OriginalRecord() domain.Record {
	return dc.record(func(p *PropertyValue) any { return p.Original })
}

func (dc *DataContainer) record(pick func(*PropertyValue) any) domain.Record {
	rec := domain.Record{ID: dc.id, Version: dc.version, Values: make(map[string]any), Refs: make(map[string]domain.ObjectID)}
	for _, name := range dc.names {
		v := pick(dc.values[name])
		if _, isRef := dc.refs[name]; isRef {
			id, _ := v.(domain.ObjectID)
			rec.Refs[name] = id
			continue
		}
		rec.Values[name] = v
	}
	return rec
}

// commit folds current values into the originals.
func (dc *DataContainer) commit() {
	for _, p := range dc.values {
		p.Original = p.Current
		p.Touched = false
	}
	dc.isNew = false
}

// rollback restores the original values.
func (dc *DataContainer) rollback() {
	for _, p := range dc.values {
		p.Current = p.Original
		p.Touched = false
	}
	dc.deleted = false
}

// cloneForChild copies the current state of a parent container as the
// unchanged baseline of a sub-transaction.
func (dc *DataContainer) cloneForChild() *DataContainer {
	cp := newDataContainer(dc.id)
	cp.version = dc.version
	for _, name := range dc.names {
		v := dc.values[name].Current
		if _, isRef := dc.refs[name]; isRef {
			id, _ := v.(domain.ObjectID)
			cp.defineRef(name, id)
			continue
		}
		cp.define(name, v)
	}
	return cp
}
