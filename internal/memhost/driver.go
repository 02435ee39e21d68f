package memhost

import (
	"fmt"
	"log/slog"
	"unsafe"

	"github.com/joeycumines/goja-hostbridge/internal/hostabi"
)

// CallError is returned by Call when the extension reports a failure
// through the call error slot.
type CallError struct {
	Class  string
	Method string
	hostabi.CallError
}

func (e *CallError) Error() string {
	return fmt.Sprintf("memhost: call %s.%s: %s (argument %d, expected %d)",
		e.Class, e.Method, e.CallError.Error, e.Argument, e.Expected)
}

// Instantiate creates an object of the named class. For extension classes
// the class's create-instance callback runs and must return a live object.
func (h *Host) Instantiate(className string) (hostabi.ObjectPtr, error) {
	h.mu.Lock()
	c, ok := h.classes[className]
	if !ok {
		h.mu.Unlock()
		return 0, fmt.Errorf("%w: %s", ErrUnknownClass, className)
	}
	if !c.extension() {
		obj := h.constructLocked(className)
		h.mu.Unlock()
		return obj, nil
	}
	info := c.info
	h.mu.Unlock()

	obj := info.CreateInstance(info.ClassUserdata)
	if obj == 0 {
		return 0, fmt.Errorf("%w: %s", ErrCreateFailed, className)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.objects[obj]; !ok {
		return 0, fmt.Errorf("%w: %s returned unknown object %d", ErrCreateFailed, className, obj)
	}
	return obj, nil
}

// lookupMethodLocked finds method on the object's extension class or its
// extension ancestors.
func (h *Host) lookupMethodLocked(obj hostabi.ObjectPtr, method string) (*object, *class, *hostabi.ClassMethodInfo, error) {
	o, ok := h.objects[obj]
	if !ok {
		return nil, nil, nil, fmt.Errorf("%w: %d", ErrUnknownObject, obj)
	}
	name := o.extClass
	if name == "" {
		name = o.class
	}
	for c := h.classes[name]; c != nil; c = h.classes[c.parent] {
		if m, ok := c.methods[method]; ok {
			return o, c, m, nil
		}
	}
	return nil, nil, nil, fmt.Errorf("%w: %s.%s", ErrUnknownMethod, name, method)
}

// Call invokes a bound method through the variant call path. Arguments are
// Go values (nil, bool, integers, floats, string, hostabi.ObjectPtr); the
// result is the canonical Go value of the returned variant.
func (h *Host) Call(obj hostabi.ObjectPtr, method string, args ...any) (any, error) {
	h.mu.Lock()
	o, c, m, err := h.lookupMethodLocked(obj, method)
	if err != nil {
		h.mu.Unlock()
		return nil, err
	}
	instance := o.instance
	argv := make([]hostabi.VariantPtr, 0, len(args))
	for i, arg := range args {
		v, err := h.newVariantLocked(arg)
		if err != nil {
			h.destroyLocked(argv...)
			h.mu.Unlock()
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		argv = append(argv, v)
	}
	ret := hostabi.VariantPtr(h.alloc())
	h.variants[ret] = variant{}
	h.mu.Unlock()

	var callErr hostabi.CallError
	m.Call(m.MethodUserdata, instance, argv, ret, &callErr)

	h.mu.Lock()
	defer h.mu.Unlock()
	result := h.variants[ret].value
	h.destroyLocked(argv...)
	h.destroyLocked(ret)
	if callErr.Error != hostabi.CallOK {
		return nil, &CallError{Class: c.name, Method: method, CallError: callErr}
	}
	return result, nil
}

func (h *Host) destroyLocked(vs ...hostabi.VariantPtr) {
	for _, v := range vs {
		delete(h.variants, v)
	}
}

// PtrCall invokes a bound method through the pointer call path. Arguments
// are converted to the raw representation of their declared types.
func (h *Host) PtrCall(obj hostabi.ObjectPtr, method string, args ...any) (any, error) {
	h.mu.Lock()
	o, c, m, err := h.lookupMethodLocked(obj, method)
	h.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if m.PtrCall == nil {
		return nil, fmt.Errorf("%w: %s.%s", ErrNoPtrCall, c.name, method)
	}
	if len(args) != len(m.Arguments) {
		return nil, fmt.Errorf("%w: %s.%s takes %d, got %d", ErrArgumentCount, c.name, method, len(m.Arguments), len(args))
	}

	argv := make([]unsafe.Pointer, len(args))
	for i, arg := range args {
		p, err := rawValue(m.Arguments[i].Type, arg)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		argv[i] = p
	}
	var ret unsafe.Pointer
	if m.HasReturnValue {
		ret, err = rawValue(m.ReturnValueInfo.Type, nil)
		if err != nil {
			return nil, fmt.Errorf("return value: %w", err)
		}
	}

	m.PtrCall(m.MethodUserdata, o.instance, argv, ret)

	if ret == nil {
		return nil, nil
	}
	return readRaw(m.ReturnValueInfo.Type, ret), nil
}

// rawValue allocates storage for a value of type t, initialized from value
// (nil for the zero value).
func rawValue(t hostabi.VariantType, value any) (unsafe.Pointer, error) {
	switch t {
	case hostabi.VariantBool:
		b := new(bool)
		if value != nil {
			x, ok := value.(bool)
			if !ok {
				return nil, fmt.Errorf("%w: %T as bool", ErrUnsupportedType, value)
			}
			*b = x
		}
		return unsafe.Pointer(b), nil
	case hostabi.VariantInt:
		n := new(int64)
		if value != nil {
			x, err := toInt64(value)
			if err != nil {
				return nil, err
			}
			*n = x
		}
		return unsafe.Pointer(n), nil
	case hostabi.VariantFloat:
		f := new(float64)
		if value != nil {
			x, err := toFloat64(value)
			if err != nil {
				return nil, err
			}
			*f = x
		}
		return unsafe.Pointer(f), nil
	}
	return nil, fmt.Errorf("%w: %s has no raw representation", ErrUnsupportedType, t)
}

func readRaw(t hostabi.VariantType, p unsafe.Pointer) any {
	switch t {
	case hostabi.VariantBool:
		return *(*bool)(p)
	case hostabi.VariantInt:
		return *(*int64)(p)
	case hostabi.VariantFloat:
		return *(*float64)(p)
	}
	return nil
}

// CallVirtual dispatches a virtual method on obj. The override is resolved
// once per class through get_virtual and cached, misses included. found is
// false when the class has no override, in which case the host default
// applies.
func (h *Host) CallVirtual(obj hostabi.ObjectPtr, name string, args ...any) (result any, found bool, err error) {
	h.mu.Lock()
	o, ok := h.objects[obj]
	if !ok {
		h.mu.Unlock()
		return nil, false, fmt.Errorf("%w: %d", ErrUnknownObject, obj)
	}
	c := h.classes[o.extClass]
	if c == nil || !c.extension() {
		h.mu.Unlock()
		return nil, false, nil
	}
	instance := o.instance
	fn, cached := c.virtuals[name]
	info := c.info
	var nameID hostabi.StringNamePtr
	if !cached {
		nameID = h.internLocked(name)
	}
	h.mu.Unlock()

	if !cached {
		fn = info.GetVirtual(info.ClassUserdata, nameID)
		h.mu.Lock()
		c.virtuals[name] = fn
		h.mu.Unlock()
		h.logger.Debug("resolved virtual", slog.String("class", c.name), slog.String("method", name), slog.Bool("override", fn != nil))
	}
	if fn == nil {
		return nil, false, nil
	}

	h.mu.Lock()
	argv := make([]hostabi.VariantPtr, 0, len(args))
	for i, arg := range args {
		v, err := h.newVariantLocked(arg)
		if err != nil {
			h.destroyLocked(argv...)
			h.mu.Unlock()
			return nil, true, fmt.Errorf("argument %d: %w", i, err)
		}
		argv = append(argv, v)
	}
	ret := hostabi.VariantPtr(h.alloc())
	h.variants[ret] = variant{}
	h.mu.Unlock()

	fn(instance, argv, ret)

	h.mu.Lock()
	defer h.mu.Unlock()
	result = h.variants[ret].value
	h.destroyLocked(argv...)
	h.destroyLocked(ret)
	return result, true, nil
}

// Free destroys obj: the extension instance is freed through the class's
// free-instance callback, then every instance binding through its Free
// callback.
func (h *Host) Free(obj hostabi.ObjectPtr) error {
	h.mu.Lock()
	o, ok := h.objects[obj]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownObject, obj)
	}
	delete(h.objects, obj)
	var info *hostabi.ClassCreationInfo
	if c := h.classes[o.extClass]; c != nil && c.extension() {
		info = c.info
	}
	h.mu.Unlock()

	if info != nil && o.instance != 0 {
		info.FreeInstance(info.ClassUserdata, o.instance)
	}
	for token, b := range o.bindings {
		if b.callbacks != nil && b.callbacks.Free != nil {
			b.callbacks.Free(token, obj, b.binding)
		}
	}
	return nil
}
