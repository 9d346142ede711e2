package pgkit

import (
	"reflect"
	"sync"
)

// Protocol is the mutable surface of a protocol object (root handle, task or
// transaction) during its construction window. The Extend handler receives
// the protocol object itself, so custom capabilities can be attached before
// the namespace locks.
type Protocol interface {
	// Set attaches a named capability. Fails with a read-only error once
	// the namespace is locked, or when name shadows a built-in member.
	Set(name string, value any) error

	// Get returns a previously attached capability.
	Get(name string) (any, bool)
}

// Namespace guards the member surface of a protocol object. Built-in members
// (the object's own exported methods) are reserved and can never be shadowed;
// extension members may be added until Lock, after which every write fails
// with a read-only error.
type Namespace struct {
	mu       sync.RWMutex
	reserved map[string]struct{}
	members  map[string]any
	locked   bool
	noLock   bool
}

// newNamespace builds a namespace whose reserved set is the exported method
// set of target.
func newNamespace(target any, noLock bool) *Namespace {
	ns := &Namespace{
		reserved: make(map[string]struct{}),
		members:  make(map[string]any),
		noLock:   noLock,
	}
	t := reflect.TypeOf(target)
	for i := 0; i < t.NumMethod(); i++ {
		ns.reserved[t.Method(i).Name] = struct{}{}
	}
	return ns
}

// Set adds or replaces an extension member.
func (n *Namespace) Set(name string, value any) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.noLock {
		n.members[name] = value
		return nil
	}
	if _, ok := n.reserved[name]; ok {
		return readOnlyError(name)
	}
	if n.locked {
		return readOnlyError(name)
	}
	n.members[name] = value
	return nil
}

// Get returns an extension member by name.
func (n *Namespace) Get(name string) (any, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	v, ok := n.members[name]
	return v, ok
}

// Lock makes the namespace read-only. Idempotent. With deep set, members
// that are themselves namespaces are locked recursively. A no-op when the
// no-locking escape hatch is active.
func (n *Namespace) Lock(deep bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.noLock || n.locked {
		return
	}
	n.locked = true
	if !deep {
		return
	}
	for _, v := range n.members {
		if child, ok := v.(*Namespace); ok {
			child.Lock(true)
		}
	}
}

// Locked reports whether the namespace has been locked.
func (n *Namespace) Locked() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.locked
}

// Members returns a snapshot of the extension member names.
func (n *Namespace) Members() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	names := make([]string, 0, len(n.members))
	for name := range n.members {
		names = append(names, name)
	}
	return names
}
