package pgkit

import (
	"context"
	"testing"
)

type guardTarget struct{}

func (guardTarget) Builtin() {}

func TestNamespaceLockPreventsWrites(t *testing.T) {
	ns := newNamespace(guardTarget{}, false)

	if err := ns.Set("helper", 1); err != nil {
		t.Fatalf("Set before lock failed: %v", err)
	}

	ns.Lock(false)

	if err := ns.Set("helper", 2); !IsReadOnly(err) {
		t.Errorf("expected read-only error overwriting after lock, got %v", err)
	}
	if err := ns.Set("other", 3); !IsReadOnly(err) {
		t.Errorf("expected read-only error adding after lock, got %v", err)
	}

	v, ok := ns.Get("helper")
	if !ok || v != 1 {
		t.Errorf("locked member must keep its value, got %v", v)
	}
}

func TestNamespaceLockIdempotent(t *testing.T) {
	ns := newNamespace(guardTarget{}, false)
	ns.Lock(false)
	ns.Lock(false) // no-op

	if !ns.Locked() {
		t.Error("namespace must stay locked")
	}
}

func TestNamespaceReservedBuiltins(t *testing.T) {
	ns := newNamespace(guardTarget{}, false)

	if err := ns.Set("Builtin", func() {}); !IsReadOnly(err) {
		t.Errorf("built-in members must never be overridden, got %v", err)
	}
}

func TestNamespaceDeepLock(t *testing.T) {
	ns := newNamespace(guardTarget{}, false)
	child := newNamespace(guardTarget{}, false)
	if err := ns.Set("child", child); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	ns.Lock(true)

	if !child.Locked() {
		t.Error("deep lock must lock nested namespaces")
	}
	if err := child.Set("x", 1); !IsReadOnly(err) {
		t.Errorf("expected read-only error on deep-locked child, got %v", err)
	}
}

func TestNamespaceShallowLock(t *testing.T) {
	ns := newNamespace(guardTarget{}, false)
	child := newNamespace(guardTarget{}, false)
	_ = ns.Set("child", child)

	ns.Lock(false)

	if child.Locked() {
		t.Error("shallow lock must not lock nested namespaces")
	}
}

func TestNamespaceNoLocking(t *testing.T) {
	ns := newNamespace(guardTarget{}, true)
	ns.Lock(true) // disabled by the escape hatch

	if err := ns.Set("helper", 1); err != nil {
		t.Errorf("no-locking mode must allow writes after lock, got %v", err)
	}
	if err := ns.Set("Builtin", 2); err != nil {
		t.Errorf("no-locking mode must make overrides unchecked, got %v", err)
	}
}

func TestExtendAddsImmutableMember(t *testing.T) {
	conn := newSQLiteConn(t)

	cfg := Config{}
	cfg.Hooks.Extend = func(p Protocol) error {
		return p.Set("foo", "capability")
	}
	db := newTestDB(t, cfg, conn)

	v, ok := db.Get("foo")
	if !ok || v != "capability" {
		t.Fatalf("extension member must be present after construction, got %v", v)
	}

	if err := db.Set("foo", "other"); !IsReadOnly(err) {
		t.Errorf("reassigning an extension after construction must fail read-only, got %v", err)
	}
}

func TestExtendFiresPerNestingLevel(t *testing.T) {
	conn := newSQLiteConn(t)

	var targets []Protocol
	cfg := Config{}
	cfg.Hooks.Extend = func(p Protocol) error {
		targets = append(targets, p)
		return p.Set("foo", len(targets))
	}
	db := newTestDB(t, cfg, conn) // root construction fires once

	_, err := db.Task(context.Background(), nil, func(outer *Task) (any, error) {
		if _, ok := outer.Get("foo"); !ok {
			t.Error("extension must be applied to the task level")
		}
		return outer.Task(context.Background(), nil, func(inner *Task) (any, error) {
			if _, ok := inner.Get("foo"); !ok {
				t.Error("extension must be re-applied to the nested level")
			}
			if err := inner.Set("foo", 0); !IsReadOnly(err) {
				t.Errorf("nested extension must be locked after construction, got %v", err)
			}
			return nil, nil
		})
	})
	if err != nil {
		t.Fatalf("Task failed: %v", err)
	}

	if len(targets) != 3 {
		t.Errorf("extend must fire once per protocol object (root, task, nested task), got %d", len(targets))
	}
	for i, p := range targets {
		for j := i + 1; j < len(targets); j++ {
			if p == targets[j] {
				t.Error("each nesting level must get its own protocol object")
			}
		}
	}
}

func TestNoLockingAllowsOverrideOnHandle(t *testing.T) {
	conn := newSQLiteConn(t)

	cfg := Config{NoLocking: true}
	cfg.Hooks.Extend = func(p Protocol) error {
		return p.Set("foo", 1)
	}
	db := newTestDB(t, cfg, conn)

	if err := db.Set("foo", 2); err != nil {
		t.Errorf("no-locking handle must accept overrides, got %v", err)
	}
	if v, _ := db.Get("foo"); v != 2 {
		t.Errorf("expected overridden value, got %v", v)
	}
}
