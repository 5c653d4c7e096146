package core

import (
	"context"
	"fmt"
	"sync"
)

// ScopeStack tracks the ambient current transaction. Scopes nest and must
// be left in reverse order of entry.
type ScopeStack struct {
	mu     sync.Mutex
	scopes []*Scope
}

// Scope is one entry of a ScopeStack.
type Scope struct {
	stack *ScopeStack
	tx    *ClientTransaction
	left  bool
}

// NewScopeStack returns an empty stack.
func NewScopeStack() *ScopeStack { return &ScopeStack{} }

// Enter pushes tx as the current transaction.
func (s *ScopeStack) Enter(tx *ClientTransaction) *Scope {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc := &Scope{stack: s, tx: tx}
	s.scopes = append(s.scopes, sc)
	return sc
}

// Current returns the transaction of the innermost scope, or nil.
func (s *ScopeStack) Current() *ClientTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.scopes) == 0 {
		return nil
	}
	return s.scopes[len(s.scopes)-1].tx
}

// Depth returns the number of open scopes.
func (s *ScopeStack) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.scopes)
}

// Run enters tx, calls fn and leaves the scope even when fn panics. A panic
// also unwinds any scope fn entered and left open, then propagates unchanged.
func (s *ScopeStack) Run(tx *ClientTransaction, fn func() error) error {
	sc := s.Enter(tx)
	defer func() {
		if r := recover(); r != nil {
			s.unwind(sc)
			panic(r)
		}
		sc.Leave()
	}()
	return fn()
}

// unwind pops sc and every scope above it.
func (s *ScopeStack) unwind(sc *Scope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.scopes) - 1; i >= 0; i-- {
		top := s.scopes[i]
		top.left = true
		s.scopes = s.scopes[:i]
		if top == sc {
			return
		}
	}
}

// Transaction returns the scoped transaction.
func (sc *Scope) Transaction() *ClientTransaction { return sc.tx }

// Leave pops the scope. Leaving a scope that is not innermost panics with
// ErrScopeMismatch; leaving twice is a no-op.
func (sc *Scope) Leave() {
	s := sc.stack
	s.mu.Lock()
	defer s.mu.Unlock()
	if sc.left {
		return
	}
	if n := len(s.scopes); n == 0 || s.scopes[n-1] != sc {
		panic(fmt.Errorf("%w: %d scopes open", ErrScopeMismatch, n))
	}
	s.scopes = s.scopes[:len(s.scopes)-1]
	sc.left = true
}

type scopeKey struct{}

// ContextWithScope attaches stack to ctx.
func ContextWithScope(ctx context.Context, stack *ScopeStack) context.Context {
	return context.WithValue(ctx, scopeKey{}, stack)
}

// ScopeFromContext returns the stack attached to ctx.
func ScopeFromContext(ctx context.Context) (*ScopeStack, bool) {
	s, ok := ctx.Value(scopeKey{}).(*ScopeStack)
	return s, ok
}

// CurrentTransaction returns the current transaction of the stack attached
// to ctx, or nil.
func CurrentTransaction(ctx context.Context) *ClientTransaction {
	if s, ok := ScopeFromContext(ctx); ok {
		return s.Current()
	}
	return nil
}
