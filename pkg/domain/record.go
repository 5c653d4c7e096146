package domain

import "maps"

// Record is the boundary form of an object's persistent state as exchanged
// with a persistence collaborator.
type Record struct {
	ID      ObjectID            `json:"id"`
	Values  map[string]any      `json:"values,omitempty"`
	Refs    map[string]ObjectID `json:"refs,omitempty"`
	Version int64               `json:"version"`
}

// Clone returns a deep copy of the record maps.
func (r Record) Clone() Record {
	cp := r
	cp.Values = maps.Clone(r.Values)
	cp.Refs = maps.Clone(r.Refs)
	return cp
}

// Ref returns the referenced id for a real endpoint property.
func (r Record) Ref(property string) ObjectID {
	return r.Refs[property]
}

// Action indicates the type of modification performed.
type Action string

// Change actions.
const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Change describes one object mutation handed to validation and to the store.
// Before is nil for creates, After is nil for deletes.
type Change struct {
	Action Action
	ID     ObjectID
	Before *Record
	After  *Record
}

// Current returns the post-change record when present, else the pre-change one.
func (c Change) Current() *Record {
	if c.After != nil {
		return c.After
	}
	return c.Before
}

// EncodedRecord is the type-preserving storage form of a Record.
type EncodedRecord struct {
	ID      ObjectID               `json:"id"`
	Values  map[string]TaggedValue `json:"values,omitempty"`
	Refs    map[string]ObjectID    `json:"refs,omitempty"`
	Version int64                  `json:"version"`
}

// Encode converts r into its storage form.
func (r Record) Encode() (EncodedRecord, error) {
	values, err := EncodeValues(r.Values)
	if err != nil {
		return EncodedRecord{}, err
	}
	refs := make(map[string]ObjectID, len(r.Refs))
	for name, ref := range r.Refs {
		if !ref.IsZero() {
			refs[name] = ref
		}
	}
	return EncodedRecord{ID: r.ID, Values: values, Refs: refs, Version: r.Version}, nil
}

// Decode restores the Record.
func (e EncodedRecord) Decode() (Record, error) {
	values, err := DecodeValues(e.Values)
	if err != nil {
		return Record{}, err
	}
	return Record{ID: e.ID, Values: values, Refs: maps.Clone(e.Refs), Version: e.Version}, nil
}
