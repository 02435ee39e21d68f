// Package binding is the class-database side of the bridge: it registers
// scripted classes and their methods with the host, and implements the
// instance callbacks the host invokes for them.
//
// The table keeps two instance registries. Owners maps a host object to the
// persistent handle of its script object; instances maps the handle back to
// the host object. Both entries are created together when an instance is
// bound and removed together when the host frees it. Destruction is only
// ever initiated by the host.
//
// Host-invoked callbacks run inside one Submit on the runtime thread behind a
// barrier: script exceptions and conversion failures are logged and the host
// receives a zero result. Calls made from script (BindClass, BindMethod,
// AttachInstance, ScriptObjectFor) return errors for the caller to throw.
package binding

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"unsafe"

	"github.com/dop251/goja"

	"github.com/joeycumines/goja-hostbridge/internal/bridgeerr"
	"github.com/joeycumines/goja-hostbridge/internal/handles"
	"github.com/joeycumines/goja-hostbridge/internal/hostabi"
	"github.com/joeycumines/goja-hostbridge/internal/threadbridge"
	"github.com/joeycumines/goja-hostbridge/internal/typeinfo"
)

// Script-side field names read by the table.
const (
	fieldTypeInfo       = "typeInfo"
	fieldStaticTypeInfo = "staticTypeInfo"
	fieldNativePtr      = "nativePtr"
	fieldVTable         = "vTable"
)

// Invoker implements the two call paths of bound methods.
type Invoker interface {
	Call(methodUserdata any, instance hostabi.InstancePtr, args []hostabi.VariantPtr, ret hostabi.VariantPtr, callErr *hostabi.CallError)
	PtrCall(methodUserdata any, instance hostabi.InstancePtr, args []unsafe.Pointer, ret unsafe.Pointer)
}

// VirtualWrapper turns the address of a script callback into a function with
// the host's virtual-call signature.
type VirtualWrapper interface {
	Wrap(fn hostabi.Address) hostabi.CallVirtualFunc
}

// CallbacksResolver resolves the address of a script-defined binding
// callback triple.
type CallbacksResolver interface {
	Resolve(addr hostabi.Address) (*hostabi.InstanceBindingCallbacks, error)
}

// DefaultCallbacks is the binding callback triple used for every extension
// object: bindings are never created lazily, freeing is a no-op (the
// instance handle is released by FreeInstance) and references are always
// accepted.
var DefaultCallbacks = &hostabi.InstanceBindingCallbacks{
	Create:    func(hostabi.Library, hostabi.ObjectPtr) hostabi.Address { return 0 },
	Free:      func(hostabi.Library, hostabi.ObjectPtr, hostabi.Address) {},
	Reference: func(hostabi.Library, hostabi.Address, bool) bool { return true },
}

// Config holds the collaborators of a Table.
type Config struct {
	Host    hostabi.Interface
	Library hostabi.Library
	Bridge  *threadbridge.Bridge
	Handles *handles.Registry
	Runtime *goja.Runtime

	Invoker   Invoker
	Virtuals  VirtualWrapper
	Callbacks CallbacksResolver

	Logger *slog.Logger
	// Trace logs every host callback at debug level.
	Trace bool
}

// Table is the binding table. Apart from the host callbacks, its methods
// must be called on the runtime thread.
type Table struct {
	host    hostabi.Interface
	lib     hostabi.Library
	bridge  *threadbridge.Bridge
	handles *handles.Registry
	vm      *goja.Runtime

	invoker   Invoker
	virtuals  VirtualWrapper
	callbacks CallbacksResolver

	logger *slog.Logger
	trace  bool

	emptyName   hostabi.StringNamePtr
	emptyString hostabi.StringPtr

	classes []*Class
	byData  map[hostabi.Address]*Class
	methods []*typeinfo.MethodInfo

	owners    map[hostabi.ObjectPtr]handles.Handle
	instances map[handles.Handle]hostabi.ObjectPtr

	closed bool
}

// Class is a scripted class registered with the host.
type Class struct {
	Name   string
	Parent string
	Info   typeinfo.TypeInfo
	// Handle is the persistent handle of the script class, handed to the
	// host as the class userdata.
	Handle handles.Handle
}

// New creates a Table.
func New(cfg Config) (*Table, error) {
	switch {
	case cfg.Host == nil:
		return nil, errors.New("binding: nil host")
	case cfg.Bridge == nil:
		return nil, errors.New("binding: nil bridge")
	case cfg.Handles == nil:
		return nil, errors.New("binding: nil handle registry")
	case cfg.Runtime == nil:
		return nil, errors.New("binding: nil runtime")
	case cfg.Invoker == nil:
		return nil, errors.New("binding: nil invoker")
	case cfg.Virtuals == nil:
		return nil, errors.New("binding: nil virtual wrapper")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Table{
		host:      cfg.Host,
		lib:       cfg.Library,
		bridge:    cfg.Bridge,
		handles:   cfg.Handles,
		vm:        cfg.Runtime,
		invoker:   cfg.Invoker,
		virtuals:  cfg.Virtuals,
		callbacks: cfg.Callbacks,
		logger:    logger,
		trace:     cfg.Trace,
		byData:    make(map[hostabi.Address]*Class),
		owners:    make(map[hostabi.ObjectPtr]handles.Handle),
		instances: make(map[handles.Handle]hostabi.ObjectPtr),
	}, nil
}

// BindClass registers the script class typeValue, described by info, with
// the host. The parent must already be registered there; otherwise a
// registration error is returned and the host is left untouched.
func (t *Table) BindClass(typeValue goja.Value, info typeinfo.TypeInfo) error {
	const op = "binding.BindClass"
	if t.closed {
		return bridgeerr.ProtocolViolation(op, nil, "binding table is closed")
	}
	if _, ok := typeValue.(*goja.Object); !ok || handles.IsAbsent(typeValue) {
		return bridgeerr.Registration(op, nil, "class is not an object")
	}
	name := t.host.StringNameToString(info.TypeName)
	if !info.HasParent() {
		return bridgeerr.Registration(op, nil, "class %q has no parent", name)
	}
	parent := t.host.StringNameToString(info.ParentName)
	if !t.host.ClassDBClassExists(info.ParentName) {
		return bridgeerr.Registration(op, nil, "parent %q of class %q is not registered", parent, name)
	}

	h := t.handles.MakePersistent(typeValue)
	err := t.host.ClassDBRegisterExtensionClass(t.lib, info.TypeName, info.ParentName, hostabi.ClassCreationInfo{
		ClassUserdata:  hostabi.Address(h),
		CreateInstance: t.CreateInstance,
		FreeInstance:   t.FreeInstance,
		GetVirtual:     t.GetVirtual,
	})
	if err != nil {
		t.handles.Release(h)
		return bridgeerr.Registration(op, err, "host rejected class %q", name)
	}

	c := &Class{Name: name, Parent: parent, Info: info, Handle: h}
	t.classes = append(t.classes, c)
	t.byData[hostabi.Address(h)] = c
	t.logger.Debug("bound class", slog.String("class", name), slog.String("parent", parent))
	return nil
}

// BindMethod records a method of the class described by bindType and
// registers it with the host. Names starting with the virtual marker are
// flagged virtual. The pointer call path is only offered when the whole
// signature fits it.
func (t *Table) BindMethod(bindType typeinfo.TypeInfo, name string, ret typeinfo.TypeInfo, args []typeinfo.TypeInfo) (*typeinfo.MethodInfo, error) {
	const op = "binding.BindMethod"
	if t.closed {
		return nil, bridgeerr.ProtocolViolation(op, nil, "binding table is closed")
	}
	if name == "" {
		return nil, bridgeerr.Registration(op, nil, "empty method name")
	}
	if t.emptyName == 0 {
		t.emptyName = t.host.StringNameNew("")
		t.emptyString = t.host.StringNew("")
	}

	m := typeinfo.NewMethodInfo(name, ret, args)
	info := hostabi.ClassMethodInfo{
		Name:                t.host.StringNameNew(name),
		MethodUserdata:      m,
		Call:                t.invoker.Call,
		Flags:               m.Flags,
		HasReturnValue:      m.HasReturnValue(),
		ReturnValueInfo:     t.propertyInfo(ret),
		ReturnValueMetadata: hostabi.ArgumentMetadataNone,
		Arguments:           make([]hostabi.PropertyInfo, len(args)),
		ArgumentsMetadata:   make([]hostabi.ArgumentMetadata, len(args)),
	}
	for i, arg := range args {
		info.Arguments[i] = t.propertyInfo(arg)
		info.ArgumentsMetadata[i] = hostabi.ArgumentMetadataNone
	}
	if m.PointerCallSupported() {
		info.PtrCall = t.invoker.PtrCall
	}

	if err := t.host.ClassDBRegisterExtensionClassMethod(t.lib, bindType.TypeName, info); err != nil {
		return nil, bridgeerr.Registration(op, err, "host rejected method %q", name)
	}
	t.methods = append(t.methods, m)
	t.logger.Debug("bound method",
		slog.String("class", t.host.StringNameToString(bindType.TypeName)),
		slog.String("method", name),
		slog.Bool("virtual", m.IsVirtual()),
		slog.Bool("ptrcall", info.PtrCall != nil))
	return m, nil
}

func (t *Table) propertyInfo(ti typeinfo.TypeInfo) hostabi.PropertyInfo {
	return hostabi.PropertyInfo{
		Type:       ti.VariantType,
		Name:       t.emptyName,
		ClassName:  ti.TypeName,
		HintString: t.emptyString,
		Usage:      hostabi.PropertyUsageDefault,
	}
}

// Close unregisters every bound class, newest first, and releases the class
// handles. Instance handles still owned by live host objects are left to the
// host. Must be called on the runtime thread.
func (t *Table) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	var errs []error
	for _, c := range slices.Backward(t.classes) {
		if err := t.host.ClassDBUnregisterExtensionClass(t.lib, c.Info.TypeName); err != nil {
			errs = append(errs, fmt.Errorf("unregister %s: %w", c.Name, err))
		}
		t.handles.Release(c.Handle)
		delete(t.byData, hostabi.Address(c.Handle))
	}
	t.classes = nil
	if n := len(t.owners); n != 0 {
		t.logger.Debug("binding table closed with live instances", slog.Int("instances", n))
	}
	return errors.Join(errs...)
}

// Classes returns the bound classes in registration order.
func (t *Table) Classes() []Class {
	out := make([]Class, len(t.classes))
	for i, c := range t.classes {
		out[i] = *c
	}
	return out
}

// Methods returns the bound methods in registration order.
func (t *Table) Methods() []*typeinfo.MethodInfo {
	return slices.Clone(t.methods)
}

// InstanceCount returns the number of bound instances.
func (t *Table) InstanceCount() int {
	return len(t.owners)
}

// ownerOf returns the host object bound to the script object behind h.
func (t *Table) ownerOf(h handles.Handle) (hostabi.ObjectPtr, bool) {
	obj, ok := t.instances[h]
	return obj, ok
}

// instanceOf returns the handle of the script object bound to obj.
func (t *Table) instanceOf(obj hostabi.ObjectPtr) (handles.Handle, bool) {
	h, ok := t.owners[obj]
	return h, ok
}
