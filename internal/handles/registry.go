// Package handles manages persistent references to scripting-runtime values
// and the single conversion point from the runtime's opaque box convention to
// host addresses.
//
// A persistent handle stays valid from MakePersistent until exactly one
// matching Release. Using or releasing it again is a caller defect. The
// registry does not defend against it in release builds; builds with
// -tags debug panic instead, so the defect surfaces during development.
//
// The registry is not synchronized. Every mutation must happen on the runtime
// thread, which callers guarantee by routing through the thread bridge.
package handles

import (
	"github.com/dop251/goja"
)

// Handle is a persistent reference to a script value. The zero Handle is
// never issued.
type Handle uint64

// Registry maps persistent handles to script values.
type Registry struct {
	next   Handle
	values map[Handle]goja.Value

	// released remembers released handles; only populated in debug builds.
	released map[Handle]struct{}
	// onThread reports whether the caller is the runtime thread; only
	// consulted in debug builds.
	onThread func() bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithThreadCheck installs the predicate debug builds use to assert that
// mutations happen on the runtime thread.
func WithThreadCheck(onThread func() bool) Option {
	return func(r *Registry) {
		r.onThread = onThread
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{values: make(map[Handle]goja.Value)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// MakePersistent creates a new handle for v.
func (r *Registry) MakePersistent(v goja.Value) Handle {
	debugAssertThread(r, "MakePersistent")
	r.next++
	h := r.next
	r.values[h] = v
	return h
}

// Resolve returns the value behind h.
func (r *Registry) Resolve(h Handle) (goja.Value, bool) {
	v, ok := r.values[h]
	if !ok {
		debugCheckResolve(r, h)
	}
	return v, ok
}

// Live reports whether h has been issued and not yet released.
func (r *Registry) Live(h Handle) bool {
	_, ok := r.values[h]
	return ok
}

// Release destroys h.
//
// Precondition: h is live and this is its only release, made on the runtime
// thread.
func (r *Registry) Release(h Handle) {
	debugAssertThread(r, "Release")
	if _, ok := r.values[h]; !ok {
		debugCheckRelease(r, h)
		return
	}
	delete(r.values, h)
	debugRecordRelease(r, h)
}

// Len returns the number of live handles.
func (r *Registry) Len() int {
	return len(r.values)
}
