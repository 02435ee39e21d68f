package memhost

import (
	"slices"

	"github.com/joeycumines/goja-hostbridge/internal/hostabi"
)

// ClassInfo describes a registered class.
type ClassInfo struct {
	Name      string
	Parent    string
	Extension bool
	Methods   []MethodInfo
}

// MethodInfo describes a registered extension method.
type MethodInfo struct {
	Name           string
	Flags          hostabi.MethodFlags
	HasReturnValue bool
	ReturnType     hostabi.VariantType
	Arguments      []hostabi.VariantType
	PtrCall        bool
}

// Virtual reports whether the method carries the virtual flag.
func (m MethodInfo) Virtual() bool {
	return m.Flags&hostabi.MethodFlagVirtual != 0
}

// ClassExists reports whether name is registered.
func (h *Host) ClassExists(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.classes[name]
	return ok
}

// ClassInfo returns the description of a class, with methods in
// registration order.
func (h *Host) ClassInfo(name string) (ClassInfo, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.classes[name]
	if !ok {
		return ClassInfo{}, false
	}
	info := ClassInfo{Name: c.name, Parent: c.parent, Extension: c.extension()}
	for _, methodName := range c.order {
		m := c.methods[methodName]
		mi := MethodInfo{
			Name:           methodName,
			Flags:          m.Flags,
			HasReturnValue: m.HasReturnValue,
			ReturnType:     m.ReturnValueInfo.Type,
			PtrCall:        m.PtrCall != nil,
		}
		for _, arg := range m.Arguments {
			mi.Arguments = append(mi.Arguments, arg.Type)
		}
		info.Methods = append(info.Methods, mi)
	}
	return info, true
}

// Classes returns the names of all registered classes, sorted.
func (h *Host) Classes() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := make([]string, 0, len(h.classes))
	for name := range h.classes {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ObjectCount returns the number of live objects.
func (h *Host) ObjectCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.objects)
}

// VariantCount returns the number of live variants.
func (h *Host) VariantCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.variants)
}

// Instance returns the extension class and instance attached to obj.
func (h *Host) Instance(obj hostabi.ObjectPtr) (className string, instance hostabi.InstancePtr, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	o, ok := h.objects[obj]
	if !ok || o.extClass == "" {
		return "", 0, false
	}
	return o.extClass, o.instance, true
}

// Binding returns the binding token has stored on obj, without creating one.
func (h *Host) Binding(obj hostabi.ObjectPtr, token hostabi.Library) (hostabi.Address, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	o, ok := h.objects[obj]
	if !ok {
		return 0, false
	}
	b, ok := o.bindings[token]
	return b.binding, ok
}
