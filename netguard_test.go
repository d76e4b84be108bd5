package parslet

import "testing"

func TestOfflineGuardScopingAndRestoration(t *testing.T) {
	g := NewOfflineGuard()
	if g.Offline() {
		t.Fatalf("expected online by default")
	}

	restore := g.Push(true)
	if !g.Offline() {
		t.Fatalf("expected offline after push")
	}
	if err := g.CheckNetwork(); err == nil {
		t.Fatalf("expected NetworkDisabledError while offline")
	}

	restore()
	if g.Offline() {
		t.Fatalf("expected online after restore")
	}
}

func TestOfflineGuardNestedScopesCompose(t *testing.T) {
	g := NewOfflineGuard()
	restoreOuter := g.Push(true)
	restoreInner := g.Push(false)

	if !g.Offline() {
		t.Fatalf("expected offline while any scope on the stack is offline")
	}

	restoreInner()
	if !g.Offline() {
		t.Fatalf("expected still offline after popping the inner online scope")
	}

	restoreOuter()
	if g.Offline() {
		t.Fatalf("expected online after both scopes restored")
	}
}

func TestOfflineGuardRestoreIsIdempotent(t *testing.T) {
	g := NewOfflineGuard()
	restore := g.Push(true)
	restore()
	restore()
	if g.Offline() {
		t.Fatalf("expected online after restore, even called twice")
	}
}
