package core

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"

	"txcore/pkg/domain"
)

// ClientTransaction is one level of a transaction hierarchy. A root
// transaction talks to the persistence layer; a sub-transaction reads through
// its parent and commits into it. While a sub-transaction is active its
// parent is read-only.
//
// A hierarchy is not safe for concurrent use; confine it to one goroutine.
type ClientTransaction struct {
	id          string
	parent      *ClientTransaction
	child       *ClientTransaction
	root        *ClientTransaction
	persistence domain.Persistence
	mapping     *domain.Mapping
	validator   domain.Validator
	logger      Logger
	extensions  *ExtensionCollection
	dm          *DataManager
	discarded   bool
	operation   string
	now         func() time.Time
}

// Option configures a transaction.
type Option func(*txOptions)

type txOptions struct {
	mapping    *domain.Mapping
	validator  domain.Validator
	logger     Logger
	extensions []Extension
	inherit    bool
	clock      func() time.Time
}

// WithMapping sets the class and relation metadata of a root transaction.
func WithMapping(m *domain.Mapping) Option {
	return func(o *txOptions) { o.mapping = m }
}

// WithValidator sets the commit-time validator. Sub-transactions inherit it.
func WithValidator(v domain.Validator) Option {
	return func(o *txOptions) { o.validator = v }
}

// WithLogger sets the transaction logger.
func WithLogger(l Logger) Option {
	return func(o *txOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithExtensions registers extensions on the new transaction.
func WithExtensions(exts ...Extension) Option {
	return func(o *txOptions) { o.extensions = append(o.extensions, exts...) }
}

// WithoutInheritedExtensions starts a sub-transaction with an empty collection
// instead of a copy of the parent's extensions.
func WithoutInheritedExtensions() Option {
	return func(o *txOptions) { o.inherit = false }
}

// WithClock overrides the clock used for timing logs.
func WithClock(fn func() time.Time) Option {
	return func(o *txOptions) {
		if fn != nil {
			o.clock = fn
		}
	}
}

func collectOptions(opts []Option) txOptions {
	o := txOptions{logger: noopLogger{}, inherit: true, clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewRootTransaction starts a hierarchy over the given persistence layer.
func NewRootTransaction(p domain.Persistence, opts ...Option) (*ClientTransaction, error) {
	if p == nil {
		return nil, fmt.Errorf("persistence is required")
	}
	o := collectOptions(opts)
	if o.mapping == nil {
		o.mapping = domain.NewMapping()
	}
	exts, err := NewExtensionCollection(o.extensions...)
	if err != nil {
		return nil, err
	}
	tx := &ClientTransaction{
		id:          uuid.NewString(),
		persistence: p,
		mapping:     o.mapping,
		validator:   o.validator,
		logger:      o.logger,
		extensions:  exts,
		now:         o.clock,
	}
	tx.root = tx
	tx.dm = newDataManager(tx)
	tx.logger.Debug("root transaction created", "tx", tx.id)
	return tx, nil
}

// ID returns a unique identifier used in logs and traces.
func (tx *ClientTransaction) ID() string { return tx.id }

// Parent returns the parent transaction, or nil for a root.
func (tx *ClientTransaction) Parent() *ClientTransaction { return tx.parent }

// SubTransaction returns the active child, or nil.
func (tx *ClientTransaction) SubTransaction() *ClientTransaction { return tx.child }

// Root returns the root of the hierarchy.
func (tx *ClientTransaction) Root() *ClientTransaction { return tx.root }

// IsRoot reports whether tx has no parent.
func (tx *ClientTransaction) IsRoot() bool { return tx.parent == nil }

// IsReadOnly reports whether tx has an active sub-transaction.
func (tx *ClientTransaction) IsReadOnly() bool { return tx.child != nil }

// IsDiscarded reports whether tx has been discarded.
func (tx *ClientTransaction) IsDiscarded() bool { return tx.discarded }

// Mapping returns the class and relation metadata.
func (tx *ClientTransaction) Mapping() *domain.Mapping { return tx.mapping }

// Extensions returns the extension collection of tx.
func (tx *ClientTransaction) Extensions() *ExtensionCollection { return tx.extensions }

// DataManager exposes the per-transaction object state.
func (tx *ClientTransaction) DataManager() *DataManager { return tx.dm }

// Depth returns 0 for a root, 1 for its child and so on.
func (tx *ClientTransaction) Depth() int {
	d := 0
	for p := tx.parent; p != nil; p = p.parent {
		d++
	}
	return d
}

// ActiveLeaf returns the innermost active transaction of the hierarchy tx belongs to.
func (tx *ClientTransaction) ActiveLeaf() *ClientTransaction {
	leaf := tx
	for leaf.child != nil {
		leaf = leaf.child
	}
	return leaf
}

func (tx *ClientTransaction) checkUsable() error {
	if tx.discarded {
		return ErrTransactionDiscarded
	}
	return nil
}

func (tx *ClientTransaction) checkWritable() error {
	if err := tx.checkUsable(); err != nil {
		return err
	}
	if tx.child != nil {
		return ErrReadOnly
	}
	return nil
}

// begin guards against commit or rollback being re-entered from an extension.
func (tx *ClientTransaction) begin(op string) error {
	if tx.operation != "" {
		return fmt.Errorf("%w: %s during %s", ErrReentrantOperation, op, tx.operation)
	}
	tx.operation = op
	return nil
}

func (tx *ClientTransaction) end() { tx.operation = "" }

// CreateSubTransaction opens a child of tx. tx becomes read-only until the
// child is discarded.
func (tx *ClientTransaction) CreateSubTransaction(ctx context.Context, opts ...Option) (*ClientTransaction, error) {
	if err := tx.checkUsable(); err != nil {
		return nil, err
	}
	if tx.child != nil {
		return nil, ErrActiveSubTransaction
	}
	if tx.operation != "" {
		return nil, fmt.Errorf("%w: sub-transaction during %s", ErrReentrantOperation, tx.operation)
	}
	if err := tx.extensions.subTransactionCreating(ctx, tx); err != nil {
		return nil, err
	}
	o := txOptions{logger: tx.logger, inherit: true, clock: tx.now, validator: tx.validator}
	for _, opt := range opts {
		opt(&o)
	}
	var exts *ExtensionCollection
	if o.inherit {
		exts = tx.extensions.clone()
	} else {
		exts = &ExtensionCollection{}
	}
	for _, ext := range o.extensions {
		if err := exts.Add(ext); err != nil {
			return nil, err
		}
	}
	child := &ClientTransaction{
		id:         uuid.NewString(),
		parent:     tx,
		root:       tx.root,
		mapping:    tx.mapping,
		validator:  o.validator,
		logger:     o.logger,
		extensions: exts,
		now:        o.clock,
	}
	child.dm = newDataManager(child)
	maps.Copy(child.dm.invalid, tx.dm.invalid)
	tx.child = child
	tx.extensions.subTransactionCreated(ctx, tx, child)
	tx.logger.Debug("sub-transaction created", "tx", child.id, "parent", tx.id, "depth", child.Depth())
	return child, nil
}

// Commit persists the changes of tx: a root writes them to the persistence
// layer as one batch, a sub-transaction folds them into its parent. Blocking
// rule violations leave tx unchanged.
func (tx *ClientTransaction) Commit(ctx context.Context) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	if err := tx.begin("commit"); err != nil {
		return err
	}
	defer tx.end()
	start := tx.now()

	changes, ids := tx.dm.collectChanges()
	if tx.validator != nil && len(changes) > 0 {
		result, err := tx.validator.Validate(ctx, commitView{dm: tx.dm}, changes)
		if err != nil {
			return fmt.Errorf("validate: %w", err)
		}
		for _, v := range result.Violations {
			if v.Severity != domain.SeverityBlock {
				tx.logger.Warn("rule violation", "tx", tx.id, "rule", v.Rule, "severity", v.Severity, "object", v.Object.String(), "message", v.Message)
			}
		}
		if result.HasBlocking() {
			return domain.RuleViolationError{Result: result}
		}
	}
	if err := tx.extensions.committing(ctx, tx, ids); err != nil {
		return err
	}
	if tx.parent == nil {
		if len(changes) > 0 {
			if err := tx.persistence.Save(ctx, changes); err != nil {
				tx.logger.Error("commit failed", "tx", tx.id, "error", err)
				return fmt.Errorf("save: %w", err)
			}
		}
	} else {
		tx.parent.dm.applyChildCommit(tx.dm)
	}
	tx.dm.commitAll(tx.parent == nil)
	tx.extensions.committed(ctx, tx, ids)
	tx.logger.Info("transaction committed", "tx", tx.id, "depth", tx.Depth(), "changes", len(changes), "duration", tx.now().Sub(start))
	return nil
}

// Rollback restores every object of tx to its original state. Rolling back
// an unchanged transaction is a no-op apart from the events.
func (tx *ClientTransaction) Rollback(ctx context.Context) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	if err := tx.begin("rollback"); err != nil {
		return err
	}
	defer tx.end()
	ids := tx.dm.changedIDs()
	if err := tx.extensions.rollingBack(ctx, tx, ids); err != nil {
		return err
	}
	tx.dm.rollbackAll()
	tx.extensions.rolledBack(ctx, tx, ids)
	tx.logger.Info("transaction rolled back", "tx", tx.id, "depth", tx.Depth(), "objects", len(ids))
	return nil
}

// Discard ends tx without committing. An active child is discarded first.
// Objects created in tx become permanently unusable here and in every
// ancestor, and the parent becomes writable again.
func (tx *ClientTransaction) Discard(ctx context.Context) error {
	if tx.discarded {
		return ErrTransactionDiscarded
	}
	if tx.operation != "" {
		return fmt.Errorf("%w: discard during %s", ErrReentrantOperation, tx.operation)
	}
	if tx.child != nil {
		if err := tx.child.Discard(ctx); err != nil {
			return err
		}
	}
	for _, id := range tx.dm.createdIDs() {
		for t := tx; t != nil; t = t.parent {
			t.dm.invalid[id] = domain.StateDiscarded
		}
	}
	if tx.parent != nil {
		tx.parent.child = nil
	}
	tx.discarded = true
	tx.extensions.transactionDiscarded(ctx, tx)
	tx.logger.Debug("transaction discarded", "tx", tx.id, "depth", tx.Depth())
	return nil
}

// Reset drops all loaded state of tx. Objects created in tx become invalid;
// everything else reloads on next access.
func (tx *ClientTransaction) Reset(ctx context.Context) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	if tx.operation != "" {
		return fmt.Errorf("%w: reset during %s", ErrReentrantOperation, tx.operation)
	}
	old := tx.dm
	tx.dm = newDataManager(tx)
	maps.Copy(tx.dm.invalid, old.invalid)
	for _, id := range old.createdIDs() {
		tx.dm.invalid[id] = domain.StateInvalid
	}
	tx.logger.Debug("transaction reset", "tx", tx.id, "dropped", len(old.order))
	return nil
}

// EnterScope makes tx the current transaction of stack and returns the scope.
func (tx *ClientTransaction) EnterScope(stack *ScopeStack) *Scope {
	return stack.Enter(tx)
}
