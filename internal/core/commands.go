package core

import (
	"context"

	"txcore/pkg/domain"
)

// Command is a prepared relation change. NotifyBefore fires the vetoable
// events, Perform applies the change and NotifyAfter fires the completion
// events. Build commands with CreateSetCommand or CreateDeleteCommand and
// run them with Execute.
type Command interface {
	NotifyBefore(ctx context.Context) error
	Perform()
	NotifyAfter(ctx context.Context)
}

// Execute runs cmd's three phases. Nothing is changed when a before-event is vetoed.
func Execute(ctx context.Context, cmd Command) error {
	if err := cmd.NotifyBefore(ctx); err != nil {
		return err
	}
	cmd.Perform()
	cmd.NotifyAfter(ctx)
	return nil
}

// noopCommand is returned when a set would not change anything.
type noopCommand struct{}

func (noopCommand) NotifyBefore(context.Context) error { return nil }
func (noopCommand) Perform()                           {}
func (noopCommand) NotifyAfter(context.Context)        {}

// compositeCommand runs its parts as one unit: every before-event fires
// before anything is performed.
type compositeCommand struct {
	commands []Command
}

func (c *compositeCommand) NotifyBefore(ctx context.Context) error {
	for _, cmd := range c.commands {
		if err := cmd.NotifyBefore(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (c *compositeCommand) Perform() {
	for _, cmd := range c.commands {
		cmd.Perform()
	}
}

func (c *compositeCommand) NotifyAfter(ctx context.Context) {
	for _, cmd := range c.commands {
		cmd.NotifyAfter(ctx)
	}
}

func combine(cmds []Command) Command {
	switch len(cmds) {
	case 0:
		return noopCommand{}
	case 1:
		return cmds[0]
	default:
		return &compositeCommand{commands: cmds}
	}
}

// realSetCommand changes the reference stored in a real endpoint.
type realSetCommand struct {
	tx       *ClientTransaction
	endPoint *RealEndPoint
	from     domain.ObjectID
	to       domain.ObjectID
}

func (c *realSetCommand) NotifyBefore(ctx context.Context) error {
	return c.tx.extensions.relationChanging(ctx, c.tx, c.endPoint.id, c.from, c.to)
}

func (c *realSetCommand) Perform() {
	c.endPoint.container.set(c.endPoint.id.Property, c.to)
}

func (c *realSetCommand) NotifyAfter(ctx context.Context) {
	c.tx.extensions.relationChanged(ctx, c.tx, c.endPoint.id, c.from, c.to)
}

// oppositeRegistrationCommand decorates a real set with the matching change
// of the opposite virtual endpoint: object is removed before or added after
// the inner command performs.
type oppositeRegistrationCommand struct {
	inner    Command
	tx       *ClientTransaction
	opposite *VirtualEndPoint
	object   domain.ObjectID
	register bool
	// previous is the single-valued content replaced by a registration.
	previous domain.ObjectID
}

func newRegistration(tx *ClientTransaction, inner Command, opposite *VirtualEndPoint, object domain.ObjectID) *oppositeRegistrationCommand {
	cmd := &oppositeRegistrationCommand{inner: inner, tx: tx, opposite: opposite, object: object, register: true}
	if !opposite.IsCollection() && len(opposite.current) > 0 {
		cmd.previous = opposite.current[0]
	}
	return cmd
}

func newUnregistration(tx *ClientTransaction, inner Command, opposite *VirtualEndPoint, object domain.ObjectID) *oppositeRegistrationCommand {
	return &oppositeRegistrationCommand{inner: inner, tx: tx, opposite: opposite, object: object}
}

func (c *oppositeRegistrationCommand) values() (oldRelated, newRelated domain.ObjectID) {
	if c.register {
		return c.previous, c.object
	}
	return c.object, domain.ObjectID{}
}

func (c *oppositeRegistrationCommand) NotifyBefore(ctx context.Context) error {
	oldRelated, newRelated := c.values()
	if err := c.tx.extensions.relationChanging(ctx, c.tx, c.opposite.id, oldRelated, newRelated); err != nil {
		return err
	}
	return c.inner.NotifyBefore(ctx)
}

func (c *oppositeRegistrationCommand) Perform() {
	if !c.register {
		c.opposite.unregister(c.object)
	}
	c.inner.Perform()
	if c.register {
		c.opposite.register(c.object)
	}
}

func (c *oppositeRegistrationCommand) NotifyAfter(ctx context.Context) {
	c.inner.NotifyAfter(ctx)
	oldRelated, newRelated := c.values()
	c.tx.extensions.relationChanged(ctx, c.tx, c.opposite.id, oldRelated, newRelated)
}

// objectDeleteCommand clears every relation of an object and marks it
// deleted. The delete events fire at most once per physical delete.
type objectDeleteCommand struct {
	dm     *DataManager
	dc     *DataContainer
	inner  Command
	notify bool
}

func (c *objectDeleteCommand) NotifyBefore(ctx context.Context) error {
	if c.notify {
		if err := c.dm.tx.extensions.objectDeleting(ctx, c.dm.tx, c.dc.id); err != nil {
			return err
		}
	}
	return c.inner.NotifyBefore(ctx)
}

func (c *objectDeleteCommand) Perform() {
	c.inner.Perform()
	if c.dc.isNew {
		c.dm.remove(c.dc.id, domain.StateInvalid)
		return
	}
	c.dc.deleted = true
}

func (c *objectDeleteCommand) NotifyAfter(ctx context.Context) {
	c.inner.NotifyAfter(ctx)
	if c.notify {
		c.dm.deleteNotified[c.dc.id] = struct{}{}
		c.dm.tx.extensions.objectDeleted(ctx, c.dm.tx, c.dc.id)
	}
}
