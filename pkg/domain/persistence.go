package domain

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by persistence collaborators for unknown ids.
	ErrNotFound = errors.New("domain: object not found")
	// ErrAlreadyExists is returned when a create targets an existing id.
	ErrAlreadyExists = errors.New("domain: object already exists")
	// ErrConcurrencyConflict is returned when an update or delete was
	// prepared against a stale version.
	ErrConcurrencyConflict = errors.New("domain: object was modified concurrently")
)

// CollectionQuery selects every object of Class whose real endpoint Property
// references Target. It is how virtual endpoint content is loaded.
type CollectionQuery struct {
	Class    string
	Property string
	Target   ObjectID
}

// Persistence is the storage collaborator consumed by root transactions.
// Implementations are invoked synchronously.
type Persistence interface {
	// Load returns the stored record or ErrNotFound.
	Load(ctx context.Context, id ObjectID) (Record, error)
	// Save applies a batch of changes atomically: either all changes become
	// visible or none do.
	Save(ctx context.Context, changes []Change) error
	// ExecuteCollectionQuery returns the matching records ordered by id.
	ExecuteCollectionQuery(ctx context.Context, q CollectionQuery) ([]Record, error)
}
