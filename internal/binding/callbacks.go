package binding

import (
	"log/slog"
	"slices"

	"github.com/dop251/goja"

	"github.com/joeycumines/goja-hostbridge/internal/bridgeerr"
	"github.com/joeycumines/goja-hostbridge/internal/handles"
	"github.com/joeycumines/goja-hostbridge/internal/hostabi"
	"github.com/joeycumines/goja-hostbridge/internal/typeinfo"
)

// guard runs fn on the runtime thread. Any failure, a panic included, is
// logged and reported as false.
func (t *Table) guard(op string, fn func() error) bool {
	var err error
	if subErr := t.bridge.Submit(func() { err = fn() }); subErr != nil {
		err = subErr
	}
	if err != nil {
		t.logger.Error("host callback failed", slog.String("op", op), slog.Any("error", err))
		return false
	}
	return true
}

// CreateInstance is the host's create-instance callback. It default-constructs
// the script class identified by classUserdata and returns the host object
// the new script object recorded as its owner, or 0 on failure.
func (t *Table) CreateInstance(classUserdata hostabi.Address) hostabi.ObjectPtr {
	var obj hostabi.ObjectPtr
	t.guard("create_instance", func() error {
		var err error
		obj, err = t.createInstance(classUserdata)
		return err
	})
	return obj
}

func (t *Table) createInstance(classUserdata hostabi.Address) (hostabi.ObjectPtr, error) {
	const op = "binding.CreateInstance"
	ctor, err := t.resolveClass(op, classUserdata)
	if err != nil {
		return 0, err
	}
	info, err := typeinfo.FromScript(ctor.Get(fieldTypeInfo))
	if err != nil {
		return 0, bridgeerr.Conversion(op, err, "invalid %s", fieldTypeInfo)
	}
	if t.trace {
		t.logger.Debug("create instance", slog.String("class", t.host.StringNameToString(info.TypeName)))
	}

	self, err := t.vm.New(ctor)
	if err != nil {
		return 0, bridgeerr.Invocation(op, err, "constructor raised")
	}
	addr, err := handles.PointerAddress(self.Get(fieldNativePtr))
	if err != nil {
		return 0, bridgeerr.Conversion(op, err, "constructed object has no owner")
	}
	owner := hostabi.ObjectPtr(addr)

	// constructors normally attach themselves; complete the binding otherwise
	if _, ok := t.instanceOf(owner); !ok {
		if err := t.AttachInstance(self); err != nil {
			return 0, err
		}
	}
	return owner, nil
}

// FreeInstance is the host's free-instance callback. instance is the
// persistent handle created when the instance was bound; it is released here
// and only here.
func (t *Table) FreeInstance(_ hostabi.Address, instance hostabi.InstancePtr) {
	t.guard("free_instance", func() error {
		h := handles.Handle(instance)
		if owner, ok := t.ownerOf(h); ok {
			delete(t.instances, h)
			delete(t.owners, owner)
		}
		if t.trace {
			t.logger.Debug("free instance", slog.Uint64("handle", uint64(h)))
		}
		t.handles.Release(h)
		return nil
	})
}

// GetVirtual is the host's get-virtual callback. It looks name up in the
// script class's vTable and returns the wrapped override, or nil when the
// class does not override it.
func (t *Table) GetVirtual(classUserdata hostabi.Address, name hostabi.StringNamePtr) hostabi.CallVirtualFunc {
	var fn hostabi.CallVirtualFunc
	t.guard("get_virtual", func() error {
		var err error
		fn, err = t.getVirtual(classUserdata, name)
		return err
	})
	return fn
}

func (t *Table) getVirtual(classUserdata hostabi.Address, name hostabi.StringNamePtr) (hostabi.CallVirtualFunc, error) {
	const op = "binding.GetVirtual"
	ctor, err := t.resolveClass(op, classUserdata)
	if err != nil {
		return nil, err
	}
	vtable, ok := ctor.Get(fieldVTable).(*goja.Object)
	if !ok {
		return nil, nil
	}
	methodName := t.host.StringNameToString(name)
	if !slices.Contains(vtable.Keys(), methodName) {
		if t.trace {
			t.logger.Debug("no virtual override", slog.String("method", methodName))
		}
		return nil, nil
	}
	addr, err := handles.PointerAddress(vtable.Get(methodName))
	if err != nil {
		return nil, bridgeerr.Conversion(op, err, "vTable entry %q", methodName)
	}
	return t.virtuals.Wrap(addr), nil
}

func (t *Table) resolveClass(op string, classUserdata hostabi.Address) (*goja.Object, error) {
	v, ok := t.handles.Resolve(handles.Handle(classUserdata))
	if !ok {
		return nil, bridgeerr.Conversion(op, nil, "class userdata %d is not a live handle", classUserdata)
	}
	ctor, ok := v.(*goja.Object)
	if !ok {
		return nil, bridgeerr.Conversion(op, nil, "class userdata %d is not an object", classUserdata)
	}
	return ctor, nil
}

// AttachInstance is the post-initialize step of a scripted object: it reads
// the object's static type descriptor and owner, creates a persistent handle
// to the object, and registers that handle with the host as both the
// instance of the type and the object's binding. Runs on the runtime thread,
// where nothing else can observe the object half-bound.
func (t *Table) AttachInstance(self goja.Value) error {
	const op = "binding.AttachInstance"
	if t.closed {
		return bridgeerr.ProtocolViolation(op, nil, "binding table is closed")
	}
	obj, ok := self.(*goja.Object)
	if !ok || handles.IsAbsent(self) {
		return bridgeerr.Conversion(op, nil, "receiver is not an object")
	}
	info, err := typeinfo.FromScript(obj.Get(fieldStaticTypeInfo))
	if err != nil {
		return bridgeerr.Conversion(op, err, "invalid %s", fieldStaticTypeInfo)
	}
	addr, err := handles.PointerAddress(obj.Get(fieldNativePtr))
	if err != nil {
		return bridgeerr.Conversion(op, err, "invalid %s", fieldNativePtr)
	}
	owner := hostabi.ObjectPtr(addr)
	if _, ok := t.instanceOf(owner); ok {
		return bridgeerr.ProtocolViolation(op, nil, "object %d is already bound", owner)
	}

	h := t.handles.MakePersistent(obj)
	t.host.ObjectSetInstance(owner, info.TypeName, hostabi.InstancePtr(h))
	t.host.ObjectSetInstanceBinding(owner, t.lib, hostabi.Address(h), DefaultCallbacks)
	t.owners[owner] = h
	t.instances[h] = owner
	if t.trace {
		t.logger.Debug("attached instance",
			slog.String("class", t.host.StringNameToString(info.TypeName)),
			slog.Uint64("object", uint64(owner)),
			slog.Uint64("handle", uint64(h)))
	}
	return nil
}

// ScriptObjectFor returns the script object bound to the host object obj, or
// null when it has none. callbacks is the address of a script-defined
// binding callback triple, or 0 for the default. Instances of this
// extension's classes resolve from the host→script registry and never reach
// the callbacks.
func (t *Table) ScriptObjectFor(obj hostabi.ObjectPtr, callbacks hostabi.Address) (goja.Value, error) {
	const op = "binding.ScriptObjectFor"
	if h, ok := t.instanceOf(obj); ok {
		v, ok := t.handles.Resolve(h)
		if !ok {
			return nil, bridgeerr.Conversion(op, nil, "instance %d of object %d is not a live handle", h, obj)
		}
		return v, nil
	}
	cb := DefaultCallbacks
	if callbacks != 0 {
		if t.callbacks == nil {
			return nil, bridgeerr.Conversion(op, nil, "no resolver for binding callbacks %d", callbacks)
		}
		var err error
		if cb, err = t.callbacks.Resolve(callbacks); err != nil {
			return nil, err
		}
	}
	binding := t.host.ObjectGetInstanceBinding(obj, t.lib, cb)
	if binding == 0 {
		return goja.Null(), nil
	}
	v, ok := t.handles.Resolve(handles.Handle(binding))
	if !ok {
		return nil, bridgeerr.Conversion(op, nil, "binding %d of object %d is not a live handle", binding, obj)
	}
	return v, nil
}
