// Package memory provides an in-memory implementation of the persistence
// collaborator used for tests, demos and ephemeral environments.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"txcore/pkg/domain"
)

// Compile-time contract assertion.
var _ domain.Persistence = (*Store)(nil)

// Snapshot captures a point-in-time copy of the store contents.
type Snapshot struct {
	Records    []domain.EncodedRecord `json:"records"`
	CapturedAt time.Time              `json:"captured_at"`
}

// Store keeps encoded records in a map guarded by a RWMutex. Save applies a
// batch atomically: every change is checked before any is applied.
type Store struct {
	mu      sync.RWMutex
	records map[domain.ObjectID]domain.EncodedRecord
	nowFn   func() time.Time
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		records: make(map[domain.ObjectID]domain.EncodedRecord),
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
}

// Load returns the stored record for id.
func (s *Store) Load(_ context.Context, id domain.ObjectID) (domain.Record, error) {
	s.mu.RLock()
	enc, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return domain.Record{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	return enc.Decode()
}

// ExecuteCollectionQuery scans for objects of q.Class referencing q.Target.
func (s *Store) ExecuteCollectionQuery(_ context.Context, q domain.CollectionQuery) ([]domain.Record, error) {
	s.mu.RLock()
	var matches []domain.EncodedRecord
	for id, enc := range s.records {
		if id.Class == q.Class && enc.Refs[q.Property] == q.Target {
			matches = append(matches, enc)
		}
	}
	s.mu.RUnlock()
	slices.SortFunc(matches, func(a, b domain.EncodedRecord) int {
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	out := make([]domain.Record, 0, len(matches))
	for _, enc := range matches {
		rec, err := enc.Decode()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Save applies changes as one atomic batch.
func (s *Store) Save(_ context.Context, changes []domain.Change) error {
	encoded := make([]domain.EncodedRecord, len(changes))
	for i, ch := range changes {
		if ch.Action == domain.ActionDelete {
			continue
		}
		if ch.After == nil {
			return fmt.Errorf("%s %s: missing record", ch.Action, ch.ID)
		}
		enc, err := ch.After.Encode()
		if err != nil {
			return fmt.Errorf("%s %s: %w", ch.Action, ch.ID, err)
		}
		encoded[i] = enc
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range changes {
		if err := s.check(ch); err != nil {
			return err
		}
	}
	for i, ch := range changes {
		switch ch.Action {
		case domain.ActionCreate:
			enc := encoded[i]
			enc.ID, enc.Version = ch.ID, 1
			s.records[ch.ID] = enc
		case domain.ActionUpdate:
			enc := encoded[i]
			enc.ID, enc.Version = ch.ID, s.records[ch.ID].Version+1
			s.records[ch.ID] = enc
		case domain.ActionDelete:
			delete(s.records, ch.ID)
		}
	}
	return nil
}

func (s *Store) check(ch domain.Change) error {
	existing, exists := s.records[ch.ID]
	switch ch.Action {
	case domain.ActionCreate:
		if exists {
			return fmt.Errorf("%w: %s", domain.ErrAlreadyExists, ch.ID)
		}
	case domain.ActionUpdate, domain.ActionDelete:
		if !exists {
			return fmt.Errorf("%w: %s", domain.ErrNotFound, ch.ID)
		}
		if ch.Before != nil && ch.Before.Version != existing.Version {
			return fmt.Errorf("%w: %s at version %d, prepared against %d", domain.ErrConcurrencyConflict, ch.ID, existing.Version, ch.Before.Version)
		}
	default:
		return fmt.Errorf("unknown action %q for %s", ch.Action, ch.ID)
	}
	return nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// IDs lists stored ids of class, or of every class when class is empty, in
// id order.
func (s *Store) IDs(class string) []domain.ObjectID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.ObjectID
	for id := range s.records {
		if class == "" || id.Class == class {
			out = append(out, id)
		}
	}
	slices.SortFunc(out, func(a, b domain.ObjectID) int { return strings.Compare(a.String(), b.String()) })
	return out
}

// ExportState copies the store contents.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{CapturedAt: s.nowFn()}
	for _, id := range s.sortedIDsLocked() {
		snap.Records = append(snap.Records, s.records[id])
	}
	return snap
}

// ImportState replaces the store contents with snapshot. Records without an
// id are dropped.
func (s *Store) ImportState(snapshot Snapshot) {
	records := make(map[domain.ObjectID]domain.EncodedRecord, len(snapshot.Records))
	for _, enc := range snapshot.Records {
		if enc.ID.IsZero() {
			continue
		}
		if enc.Values == nil {
			enc.Values = map[string]domain.TaggedValue{}
		}
		records[enc.ID] = enc
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = records
}

// NowFunc returns the time provider used for snapshots.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

func (s *Store) sortedIDsLocked() []domain.ObjectID {
	out := make([]domain.ObjectID, 0, len(s.records))
	for id := range s.records {
		out = append(out, id)
	}
	slices.SortFunc(out, func(a, b domain.ObjectID) int { return strings.Compare(a.String(), b.String()) })
	return out
}
