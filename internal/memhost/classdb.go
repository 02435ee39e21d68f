package memhost

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/joeycumines/goja-hostbridge/internal/hostabi"
)

// DefineClass adds a host (non-extension) class. An empty parent makes a
// root class.
func (h *Host) DefineClass(name, parent string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.classes[name]; ok {
		return fmt.Errorf("%w: %s", ErrClassExists, name)
	}
	if parent != "" {
		if _, ok := h.classes[parent]; !ok {
			return fmt.Errorf("%w: parent %s of %s", ErrUnknownClass, parent, name)
		}
	}
	h.classes[name] = &class{name: name, parent: parent}
	return nil
}

// ClassDBRegisterExtensionClass registers an extension class. The parent must
// already be registered; on failure the class database is unchanged.
func (h *Host) ClassDBRegisterExtensionClass(lib hostabi.Library, name, parent hostabi.StringNamePtr, info hostabi.ClassCreationInfo) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	className, ok := h.names[name]
	if !ok || className == "" {
		return fmt.Errorf("%w: invalid class name %d", ErrUnknownClass, name)
	}
	parentName, ok := h.names[parent]
	if !ok {
		return fmt.Errorf("%w: invalid parent name %d", ErrUnknownClass, parent)
	}
	if _, ok := h.classes[parentName]; !ok {
		return fmt.Errorf("%w: parent %s of %s", ErrUnknownClass, parentName, className)
	}
	if _, ok := h.classes[className]; ok {
		return fmt.Errorf("%w: %s", ErrClassExists, className)
	}
	if info.CreateInstance == nil || info.FreeInstance == nil {
		return fmt.Errorf("memhost: class %s is missing instance callbacks", className)
	}

	h.classes[className] = &class{
		name:     className,
		parent:   parentName,
		lib:      lib,
		info:     &info,
		methods:  make(map[string]*hostabi.ClassMethodInfo),
		virtuals: make(map[string]hostabi.CallVirtualFunc),
	}
	h.logger.Debug("registered extension class", slog.String("class", className), slog.String("parent", parentName))
	return nil
}

// ClassDBRegisterExtensionClassMethod registers a method on an extension
// class owned by lib.
func (h *Host) ClassDBRegisterExtensionClassMethod(lib hostabi.Library, className hostabi.StringNamePtr, info hostabi.ClassMethodInfo) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, err := h.extensionClassLocked(lib, className)
	if err != nil {
		return err
	}
	methodName := h.names[info.Name]
	if methodName == "" {
		return fmt.Errorf("%w: invalid method name %d", ErrUnknownMethod, info.Name)
	}
	if _, ok := c.methods[methodName]; ok {
		return fmt.Errorf("%w: %s.%s", ErrMethodExists, c.name, methodName)
	}
	if info.Call == nil {
		return fmt.Errorf("memhost: method %s.%s has no call function", c.name, methodName)
	}
	if len(info.ArgumentsMetadata) != 0 && len(info.ArgumentsMetadata) != len(info.Arguments) {
		return fmt.Errorf("memhost: method %s.%s has %d arguments but %d metadata entries",
			c.name, methodName, len(info.Arguments), len(info.ArgumentsMetadata))
	}

	info.Arguments = slices.Clone(info.Arguments)
	info.ArgumentsMetadata = slices.Clone(info.ArgumentsMetadata)
	c.methods[methodName] = &info
	c.order = append(c.order, methodName)
	h.logger.Debug("registered extension method",
		slog.String("class", c.name),
		slog.String("method", methodName),
		slog.Uint64("flags", uint64(info.Flags)),
		slog.Bool("ptrcall", info.PtrCall != nil))
	return nil
}

// ClassDBUnregisterExtensionClass removes an extension class. Classes with
// registered subclasses cannot be removed.
func (h *Host) ClassDBUnregisterExtensionClass(lib hostabi.Library, name hostabi.StringNamePtr) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, err := h.extensionClassLocked(lib, name)
	if err != nil {
		return err
	}
	for _, other := range h.classes {
		if other.parent == c.name {
			return fmt.Errorf("%w: %s is the parent of %s", ErrClassInUse, c.name, other.name)
		}
	}
	delete(h.classes, c.name)
	h.logger.Debug("unregistered extension class", slog.String("class", c.name))
	return nil
}

func (h *Host) extensionClassLocked(lib hostabi.Library, name hostabi.StringNamePtr) (*class, error) {
	className := h.names[name]
	c, ok := h.classes[className]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownClass, className)
	}
	if !c.extension() || c.lib != lib {
		return nil, fmt.Errorf("%w: %s", ErrNotExtension, className)
	}
	return c, nil
}

// ClassDBClassExists reports whether a class of that name is registered.
func (h *Host) ClassDBClassExists(name hostabi.StringNamePtr) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	className, ok := h.names[name]
	if !ok {
		return false
	}
	_, ok = h.classes[className]
	return ok
}

// ClassDBConstructObject constructs an object of a host class. Extension
// classes are constructed through their create-instance callback. Returns 0
// on failure.
func (h *Host) ClassDBConstructObject(className hostabi.StringNamePtr) hostabi.ObjectPtr {
	name := h.StringNameToString(className)
	obj, err := h.Instantiate(name)
	if err != nil {
		h.logger.Error("construct object failed", slog.String("class", name), slog.Any("error", err))
		return 0
	}
	return obj
}

// constructLocked allocates an object of a host class.
func (h *Host) constructLocked(className string) hostabi.ObjectPtr {
	id := hostabi.ObjectPtr(h.alloc())
	h.objects[id] = &object{class: className, bindings: make(map[hostabi.Library]instanceBinding)}
	return id
}

// ObjectSetInstance attaches the extension instance of an extension class to
// obj.
func (h *Host) ObjectSetInstance(obj hostabi.ObjectPtr, className hostabi.StringNamePtr, instance hostabi.InstancePtr) {
	h.mu.Lock()
	defer h.mu.Unlock()
	o, ok := h.objects[obj]
	if !ok {
		h.logger.Error("set instance on unknown object", slog.Uint64("object", uint64(obj)))
		return
	}
	name := h.names[className]
	c, ok := h.classes[name]
	if !ok || !c.extension() {
		h.logger.Error("set instance with a non-extension class", slog.String("class", name))
		return
	}
	o.extClass = name
	o.instance = instance
}

// ObjectSetInstanceBinding stores the binding of token on obj.
func (h *Host) ObjectSetInstanceBinding(obj hostabi.ObjectPtr, token hostabi.Library, binding hostabi.Address, callbacks *hostabi.InstanceBindingCallbacks) {
	h.mu.Lock()
	defer h.mu.Unlock()
	o, ok := h.objects[obj]
	if !ok {
		h.logger.Error("set instance binding on unknown object", slog.Uint64("object", uint64(obj)))
		return
	}
	o.bindings[token] = instanceBinding{binding: binding, callbacks: callbacks}
}

// ObjectGetInstanceBinding returns the binding of token on obj. When there
// is none and callbacks supplies Create, the binding is created and stored.
func (h *Host) ObjectGetInstanceBinding(obj hostabi.ObjectPtr, token hostabi.Library, callbacks *hostabi.InstanceBindingCallbacks) hostabi.Address {
	h.mu.Lock()
	o, ok := h.objects[obj]
	if !ok {
		h.mu.Unlock()
		return 0
	}
	if b, ok := o.bindings[token]; ok {
		h.mu.Unlock()
		return b.binding
	}
	h.mu.Unlock()

	if callbacks == nil || callbacks.Create == nil {
		return 0
	}
	created := callbacks.Create(token, obj)
	if created == 0 {
		return 0
	}

	// the object may have been freed, or bound by a reentrant call, while
	// Create ran; the created binding is then handed back to Free
	var existing hostabi.Address
	stored := false
	h.mu.Lock()
	if o, ok = h.objects[obj]; ok {
		if b, ok := o.bindings[token]; ok {
			existing = b.binding
		} else {
			o.bindings[token] = instanceBinding{binding: created, callbacks: callbacks}
			stored = true
		}
	}
	h.mu.Unlock()

	if stored {
		return created
	}
	if callbacks.Free != nil {
		callbacks.Free(token, obj, created)
	}
	return existing
}
