package core

import (
	"errors"
	"fmt"

	"txcore/pkg/domain"
)

var (
	// ErrTransactionDiscarded is returned by every operation on a discarded transaction.
	ErrTransactionDiscarded = errors.New("transaction has been discarded")
	// ErrReadOnly is returned when mutating a transaction that has an active sub-transaction.
	ErrReadOnly = errors.New("transaction is read-only while a sub-transaction is active")
	// ErrActiveSubTransaction is returned when a second child is requested.
	ErrActiveSubTransaction = errors.New("transaction already has an active sub-transaction")
	// ErrObjectInvalid marks use of an object that no longer exists in the transaction.
	ErrObjectInvalid = errors.New("object is invalid in this transaction")
	// ErrObjectDiscarded marks use of an object created in a discarded transaction.
	ErrObjectDiscarded = errors.New("object was discarded")
	// ErrObjectDeleted is returned when mutating an object that is marked deleted.
	ErrObjectDeleted = errors.New("object is deleted")
	// ErrObjectNotFound is returned when the object cannot be loaded.
	ErrObjectNotFound = errors.New("object not found")
	// ErrReentrantOperation is returned when commit or rollback is re-entered.
	ErrReentrantOperation = errors.New("transaction operation re-entered before completion")
	// ErrScopeMismatch is raised when scopes are left out of order.
	ErrScopeMismatch = errors.New("transaction scope left out of order")
	// ErrDuplicateExtension is returned when registering an extension name twice.
	ErrDuplicateExtension = errors.New("extension already registered")
	// ErrRelationProperty is returned when a relation is set through the value API.
	ErrRelationProperty = errors.New("property is a relation endpoint")
	// ErrNotARelation is returned when a value property is used as a relation.
	ErrNotARelation = errors.New("property is not a relation endpoint")
	// ErrCardinality is returned when a collection operation targets a single-valued endpoint or vice versa.
	ErrCardinality = errors.New("operation does not match endpoint cardinality")
	// ErrClassMismatch is returned when a relation target has the wrong class.
	ErrClassMismatch = errors.New("related object has the wrong class")
	// ErrSynchronizeConflict is returned when a single-valued virtual endpoint already holds another object.
	ErrSynchronizeConflict = errors.New("virtual endpoint already refers to another object")
)

// ObjectInvalidError reports use of an invalid or discarded object.
type ObjectInvalidError struct {
	ID    domain.ObjectID
	State domain.State
}

func (e ObjectInvalidError) Error() string {
	return fmt.Sprintf("object %s is %s", e.ID, e.State)
}

// Is matches ErrObjectInvalid, and ErrObjectDiscarded for discarded objects.
func (e ObjectInvalidError) Is(target error) bool {
	switch target {
	case ErrObjectInvalid:
		return true
	case ErrObjectDiscarded:
		return e.State == domain.StateDiscarded
	}
	return false
}

// OutOfSyncError is returned when a command would touch an unsynchronized endpoint.
type OutOfSyncError struct {
	EndPoint domain.EndPointID
	Opposite domain.EndPointDefinition
}

func (e OutOfSyncError) Error() string {
	return fmt.Sprintf(
		"relation property %s cannot be changed because it is out of sync with the opposite property %s.%s; "+
			"synchronize the two properties by calling Synchronize on %s first",
		e.EndPoint, e.Opposite.Class, e.Opposite.Property, e.EndPoint)
}

// CancelledError wraps a veto raised by an extension in a before-event.
type CancelledError struct {
	Event     string
	Extension string
	Err       error
}

func (e CancelledError) Error() string {
	return fmt.Sprintf("%s cancelled by extension %s: %v", e.Event, e.Extension, e.Err)
}

func (e CancelledError) Unwrap() error { return e.Err }
