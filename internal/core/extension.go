package core

import (
	"context"
	"fmt"
	"slices"

	"txcore/pkg/domain"
)

// Extension listens to transaction lifecycle events. Methods ending in -ing
// run before the operation and may veto it by returning an error; methods
// ending in -ed run afterwards and cannot cancel anything.
type Extension interface {
	Name() string

	SubTransactionCreating(ctx context.Context, parent *ClientTransaction) error
	SubTransactionCreated(ctx context.Context, parent, child *ClientTransaction)

	ObjectsLoading(ctx context.Context, tx *ClientTransaction, ids []domain.ObjectID) error
	ObjectsLoaded(ctx context.Context, tx *ClientTransaction, ids []domain.ObjectID)

	NewObjectCreating(ctx context.Context, tx *ClientTransaction, class string) error

	ObjectDeleting(ctx context.Context, tx *ClientTransaction, id domain.ObjectID) error
	ObjectDeleted(ctx context.Context, tx *ClientTransaction, id domain.ObjectID)

	PropertyValueChanging(ctx context.Context, tx *ClientTransaction, id domain.ObjectID, property string, oldValue, newValue any) error
	PropertyValueChanged(ctx context.Context, tx *ClientTransaction, id domain.ObjectID, property string, oldValue, newValue any)

	RelationChanging(ctx context.Context, tx *ClientTransaction, endPoint domain.EndPointID, oldRelated, newRelated domain.ObjectID) error
	RelationChanged(ctx context.Context, tx *ClientTransaction, endPoint domain.EndPointID, oldRelated, newRelated domain.ObjectID)

	Committing(ctx context.Context, tx *ClientTransaction, ids []domain.ObjectID) error
	Committed(ctx context.Context, tx *ClientTransaction, ids []domain.ObjectID)

	RollingBack(ctx context.Context, tx *ClientTransaction, ids []domain.ObjectID) error
	RolledBack(ctx context.Context, tx *ClientTransaction, ids []domain.ObjectID)

	TransactionDiscarded(ctx context.Context, tx *ClientTransaction)
}

// BaseExtension implements every hook as a no-op. Embed it and override the
// hooks of interest.
type BaseExtension struct{}

func (BaseExtension) SubTransactionCreating(context.Context, *ClientTransaction) error { return nil }
func (BaseExtension) SubTransactionCreated(context.Context, *ClientTransaction, *ClientTransaction) {
}
func (BaseExtension) ObjectsLoading(context.Context, *ClientTransaction, []domain.ObjectID) error {
	return nil
}
func (BaseExtension) ObjectsLoaded(context.Context, *ClientTransaction, []domain.ObjectID) {}
func (BaseExtension) NewObjectCreating(context.Context, *ClientTransaction, string) error {
	return nil
}
func (BaseExtension) ObjectDeleting(context.Context, *ClientTransaction, domain.ObjectID) error {
	return nil
}
func (BaseExtension) ObjectDeleted(context.Context, *ClientTransaction, domain.ObjectID) {}
func (BaseExtension) PropertyValueChanging(context.Context, *ClientTransaction, domain.ObjectID, string, any, any) error {
	return nil
}
func (BaseExtension) PropertyValueChanged(context.Context, *ClientTransaction, domain.ObjectID, string, any, any) {
}
func (BaseExtension) RelationChanging(context.Context, *ClientTransaction, domain.EndPointID, domain.ObjectID, domain.ObjectID) error {
	return nil
}
func (BaseExtension) RelationChanged(context.Context, *ClientTransaction, domain.EndPointID, domain.ObjectID, domain.ObjectID) {
}
func (BaseExtension) Committing(context.Context, *ClientTransaction, []domain.ObjectID) error {
	return nil
}
func (BaseExtension) Committed(context.Context, *ClientTransaction, []domain.ObjectID) {}
func (BaseExtension) RollingBack(context.Context, *ClientTransaction, []domain.ObjectID) error {
	return nil
}
func (BaseExtension) RolledBack(context.Context, *ClientTransaction, []domain.ObjectID) {}
func (BaseExtension) TransactionDiscarded(context.Context, *ClientTransaction)          {}

// ExtensionCollection is an ordered, name-keyed list of extensions. It is also
// the single dispatch point for every event.
type ExtensionCollection struct {
	items []Extension
}

// NewExtensionCollection builds a collection, rejecting duplicate names.
func NewExtensionCollection(exts ...Extension) (*ExtensionCollection, error) {
	c := &ExtensionCollection{}
	for _, ext := range exts {
		if err := c.Add(ext); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Add appends an extension.
func (c *ExtensionCollection) Add(ext Extension) error {
	if ext == nil {
		return fmt.Errorf("extension cannot be nil")
	}
	if _, ok := c.Get(ext.Name()); ok {
		return fmt.Errorf("%w: %s", ErrDuplicateExtension, ext.Name())
	}
	c.items = append(c.items, ext)
	return nil
}

// Remove drops the extension with the given name and reports whether it existed.
func (c *ExtensionCollection) Remove(name string) bool {
	before := len(c.items)
	c.items = slices.DeleteFunc(c.items, func(e Extension) bool { return e.Name() == name })
	return len(c.items) != before
}

// Get returns the extension registered under name.
func (c *ExtensionCollection) Get(name string) (Extension, bool) {
	for _, e := range c.items {
		if e.Name() == name {
			return e, true
		}
	}
	return nil, false
}

// Names lists registered extensions in dispatch order.
func (c *ExtensionCollection) Names() []string {
	out := make([]string, 0, len(c.items))
	for _, e := range c.items {
		out = append(out, e.Name())
	}
	return out
}

// Len returns the number of registered extensions.
func (c *ExtensionCollection) Len() int { return len(c.items) }

// Clear removes every extension.
func (c *ExtensionCollection) Clear() { c.items = nil }

func (c *ExtensionCollection) clone() *ExtensionCollection {
	return &ExtensionCollection{items: slices.Clone(c.items)}
}

// before runs a vetoable hook on every extension, stopping at the first veto.
func (c *ExtensionCollection) before(event string, fn func(Extension) error) error {
	for _, e := range c.items {
		if err := fn(e); err != nil {
			return CancelledError{Event: event, Extension: e.Name(), Err: err}
		}
	}
	return nil
}

func (c *ExtensionCollection) after(fn func(Extension)) {
	for _, e := range c.items {
		fn(e)
	}
}

func (c *ExtensionCollection) subTransactionCreating(ctx context.Context, parent *ClientTransaction) error {
	return c.before("SubTransactionCreating", func(e Extension) error { return e.SubTransactionCreating(ctx, parent) })
}

func (c *ExtensionCollection) subTransactionCreated(ctx context.Context, parent, child *ClientTransaction) {
	c.after(func(e Extension) { e.SubTransactionCreated(ctx, parent, child) })
}

func (c *ExtensionCollection) objectsLoading(ctx context.Context, tx *ClientTransaction, ids []domain.ObjectID) error {
	return c.before("ObjectsLoading", func(e Extension) error { return e.ObjectsLoading(ctx, tx, ids) })
}

func (c *ExtensionCollection) objectsLoaded(ctx context.Context, tx *ClientTransaction, ids []domain.ObjectID) {
	c.after(func(e Extension) { e.ObjectsLoaded(ctx, tx, ids) })
}

func (c *ExtensionCollection) newObjectCreating(ctx context.Context, tx *ClientTransaction, class string) error {
	return c.before("NewObjectCreating", func(e Extension) error { return e.NewObjectCreating(ctx, tx, class) })
}

func (c *ExtensionCollection) objectDeleting(ctx context.Context, tx *ClientTransaction, id domain.ObjectID) error {
	return c.before("ObjectDeleting", func(e Extension) error { return e.ObjectDeleting(ctx, tx, id) })
}

func (c *ExtensionCollection) objectDeleted(ctx context.Context, tx *ClientTransaction, id domain.ObjectID) {
	c.after(func(e Extension) { e.ObjectDeleted(ctx, tx, id) })
}

func (c *ExtensionCollection) propertyValueChanging(ctx context.Context, tx *ClientTransaction, id domain.ObjectID, property string, oldValue, newValue any) error {
	return c.before("PropertyValueChanging", func(e Extension) error {
		return e.PropertyValueChanging(ctx, tx, id, property, oldValue, newValue)
	})
}

func (c *ExtensionCollection) propertyValueChanged(ctx context.Context, tx *ClientTransaction, id domain.ObjectID, property string, oldValue, newValue any) {
	c.after(func(e Extension) { e.PropertyValueChanged(ctx, tx, id, property, oldValue, newValue) })
}

func (c *ExtensionCollection) relationChanging(ctx context.Context, tx *ClientTransaction, ep domain.EndPointID, oldRelated, newRelated domain.ObjectID) error {
	return c.before("RelationChanging", func(e Extension) error {
		return e.RelationChanging(ctx, tx, ep, oldRelated, newRelated)
	})
}

func (c *ExtensionCollection) relationChanged(ctx context.Context, tx *ClientTransaction, ep domain.EndPointID, oldRelated, newRelated domain.ObjectID) {
	c.after(func(e Extension) { e.RelationChanged(ctx, tx, ep, oldRelated, newRelated) })
}

func (c *ExtensionCollection) committing(ctx context.Context, tx *ClientTransaction, ids []domain.ObjectID) error {
	return c.before("Committing", func(e Extension) error { return e.Committing(ctx, tx, ids) })
}

func (c *ExtensionCollection) committed(ctx context.Context, tx *ClientTransaction, ids []domain.ObjectID) {
	c.after(func(e Extension) { e.Committed(ctx, tx, ids) })
}

func (c *ExtensionCollection) rollingBack(ctx context.Context, tx *ClientTransaction, ids []domain.ObjectID) error {
	return c.before("RollingBack", func(e Extension) error { return e.RollingBack(ctx, tx, ids) })
}

func (c *ExtensionCollection) rolledBack(ctx context.Context, tx *ClientTransaction, ids []domain.ObjectID) {
	c.after(func(e Extension) { e.RolledBack(ctx, tx, ids) })
}

func (c *ExtensionCollection) transactionDiscarded(ctx context.Context, tx *ClientTransaction) {
	c.after(func(e Extension) { e.TransactionDiscarded(ctx, tx) })
}
