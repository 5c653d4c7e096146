package core_test

import (
	"context"
	"errors"
	"testing"

	"txcore/internal/core"
)

func TestScopeStackNesting(t *testing.T) {
	root, _ := seededRoot(t)
	child := mustSub(t, root)
	stack := core.NewScopeStack()
	if stack.Current() != nil || stack.Depth() != 0 {
		t.Fatalf("new stack should be empty")
	}

	outer := root.EnterScope(stack)
	inner := stack.Enter(child)
	if stack.Current() != child || stack.Depth() != 2 || inner.Transaction() != child {
		t.Fatalf("inner scope not current")
	}
	inner.Leave()
	inner.Leave()
	if stack.Current() != root || stack.Depth() != 1 {
		t.Fatalf("double leave must be a no-op, depth %d", stack.Depth())
	}
	outer.Leave()
	if stack.Current() != nil {
		t.Fatalf("stack should be empty")
	}
}

func TestScopeLeftOutOfOrderPanics(t *testing.T) {
	root, _ := seededRoot(t)
	stack := core.NewScopeStack()
	outer := stack.Enter(root)
	stack.Enter(root)

	defer func() {
		r := recover()
		err, ok := r.(error)
		if !ok || !errors.Is(err, core.ErrScopeMismatch) {
			t.Fatalf("expected ErrScopeMismatch panic, got %v", r)
		}
		if stack.Depth() != 2 {
			t.Fatalf("failed leave must not pop, depth %d", stack.Depth())
		}
	}()
	outer.Leave()
}

func TestScopeRunAndContext(t *testing.T) {
	root, _ := seededRoot(t)
	stack := core.NewScopeStack()
	ctx := core.ContextWithScope(context.Background(), stack)
	if core.CurrentTransaction(context.Background()) != nil {
		t.Fatalf("context without a stack has no current transaction")
	}

	errStop := errors.New("stop")
	err := stack.Run(root, func() error {
		if core.CurrentTransaction(ctx) != root {
			t.Fatalf("root should be current inside Run")
		}
		return errStop
	})
	if !errors.Is(err, errStop) {
		t.Fatalf("Run should return fn's error, got %v", err)
	}
	if core.CurrentTransaction(ctx) != nil || stack.Depth() != 0 {
		t.Fatalf("Run must leave its scope")
	}

	func() {
		defer func() { _ = recover() }()
		_ = stack.Run(root, func() error { panic("boom") })
	}()
	if stack.Depth() != 0 {
		t.Fatalf("Run must leave its scope on panic")
	}
	if got, ok := core.ScopeFromContext(ctx); !ok || got != stack {
		t.Fatalf("ScopeFromContext = %v %v", got, ok)
	}
}

func TestScopeRunUnwindsNestedScopesOnPanic(t *testing.T) {
	root, _ := seededRoot(t)
	child := mustSub(t, root)
	stack := core.NewScopeStack()
	outer := stack.Enter(root)

	var recovered any
	func() {
		defer func() { recovered = recover() }()
		_ = stack.Run(root, func() error {
			stack.Enter(child)
			panic("boom")
		})
	}()
	if recovered != "boom" {
		t.Fatalf("Run must re-raise the original panic, got %v", recovered)
	}
	if stack.Depth() != 1 || stack.Current() != root {
		t.Fatalf("scopes opened inside Run must be unwound, depth %d", stack.Depth())
	}
	outer.Leave()
	if stack.Depth() != 0 {
		t.Fatalf("outer scope should still leave cleanly")
	}
}
