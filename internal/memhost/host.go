// Package memhost is an in-process implementation of the host extension ABI.
//
// It keeps a class database seeded with a few built-in classes, a table of
// live objects with their extension instance and binding slots, and the
// variant and string primitives. The driver methods (Instantiate, Call,
// PtrCall, CallVirtual, Free) play the part of the host engine, invoking the
// extension's callbacks the way a real host would.
//
// Host state is guarded by a single mutex, which is never held while an
// extension callback runs: callbacks are free to call back into the host.
package memhost

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/joeycumines/goja-hostbridge/internal/hostabi"
)

var (
	ErrUnknownClass    = errors.New("memhost: unknown class")
	ErrClassExists     = errors.New("memhost: class already registered")
	ErrUnknownObject   = errors.New("memhost: unknown object")
	ErrUnknownMethod   = errors.New("memhost: unknown method")
	ErrMethodExists    = errors.New("memhost: method already registered")
	ErrNotExtension    = errors.New("memhost: not an extension class")
	ErrClassInUse      = errors.New("memhost: class has registered subclasses")
	ErrCreateFailed    = errors.New("memhost: instance creation failed")
	ErrNoPtrCall       = errors.New("memhost: method has no pointer call path")
	ErrArgumentCount   = errors.New("memhost: wrong argument count")
	ErrUnsupportedType = errors.New("memhost: unsupported value type")
)

// BuiltinClasses are present in every Host. Each entry is name, parent.
var BuiltinClasses = [][2]string{
	{"Object", ""},
	{"RefCounted", "Object"},
	{"Node", "Object"},
}

// Host is an in-memory host. The zero value is not usable; use New.
type Host struct {
	logger *slog.Logger

	mu sync.Mutex

	next hostabi.Address

	names   map[hostabi.StringNamePtr]string
	nameIDs map[string]hostabi.StringNamePtr
	strs    map[hostabi.StringPtr]string

	variants map[hostabi.VariantPtr]variant

	classes map[string]*class
	objects map[hostabi.ObjectPtr]*object
}

type variant struct {
	typ   hostabi.VariantType
	value any
}

type class struct {
	name   string
	parent string

	// set for extension classes only
	lib     hostabi.Library
	info    *hostabi.ClassCreationInfo
	methods map[string]*hostabi.ClassMethodInfo
	order   []string

	// virtuals caches get_virtual results, including misses.
	virtuals map[string]hostabi.CallVirtualFunc
}

func (c *class) extension() bool {
	return c.info != nil
}

type object struct {
	class string

	extClass string
	instance hostabi.InstancePtr

	bindings map[hostabi.Library]instanceBinding
}

type instanceBinding struct {
	binding   hostabi.Address
	callbacks *hostabi.InstanceBindingCallbacks
}

// Option configures a Host.
type Option func(*Host)

// WithLogger sets the logger used for host diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Host) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// New creates a Host with the built-in classes registered.
func New(opts ...Option) *Host {
	h := &Host{
		logger:   slog.Default(),
		names:    make(map[hostabi.StringNamePtr]string),
		nameIDs:  make(map[string]hostabi.StringNamePtr),
		strs:     make(map[hostabi.StringPtr]string),
		variants: make(map[hostabi.VariantPtr]variant),
		classes:  make(map[string]*class),
		objects:  make(map[hostabi.ObjectPtr]*object),
	}
	for _, opt := range opts {
		opt(h)
	}
	for _, c := range BuiltinClasses {
		h.classes[c[0]] = &class{name: c[0], parent: c[1]}
	}
	return h
}

var _ hostabi.Interface = (*Host)(nil)

// alloc returns a fresh address. Must be called with mu held.
func (h *Host) alloc() hostabi.Address {
	h.next++
	return h.next
}

// NewLibrary issues the token identifying an extension to this host.
func (h *Host) NewLibrary() hostabi.Library {
	h.mu.Lock()
	defer h.mu.Unlock()
	return hostabi.Library(h.alloc())
}

// StringNameNew interns s. Equal strings share one name.
func (h *Host) StringNameNew(s string) hostabi.StringNamePtr {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.internLocked(s)
}

func (h *Host) internLocked(s string) hostabi.StringNamePtr {
	if id, ok := h.nameIDs[s]; ok {
		return id
	}
	id := hostabi.StringNamePtr(h.alloc())
	h.names[id] = s
	h.nameIDs[s] = id
	return id
}

// StringNameToString returns the text of an interned name, or "" if unknown.
func (h *Host) StringNameToString(name hostabi.StringNamePtr) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.names[name]
}

// StringNew allocates a host string.
func (h *Host) StringNew(s string) hostabi.StringPtr {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := hostabi.StringPtr(h.alloc())
	h.strs[id] = s
	return id
}

// StringToUTF8 returns the text of a host string, or "" if unknown.
func (h *Host) StringToUTF8(s hostabi.StringPtr) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.strs[s]
}
