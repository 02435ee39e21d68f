package typeinfo

import (
	"github.com/joeycumines/goja-hostbridge/internal/hostabi"
)

// VirtualMarker prefixes the names of virtual methods.
const VirtualMarker = '_'

// MethodInfo describes a bound method. It is created once at registration
// and handed to the host as the method's userdata.
type MethodInfo struct {
	Name       string
	ReturnType TypeInfo
	Arguments  []TypeInfo
	Flags      hostabi.MethodFlags
}

// NewMethodInfo builds a MethodInfo, deriving the virtual flag from the name.
func NewMethodInfo(name string, ret TypeInfo, args []TypeInfo) *MethodInfo {
	flags := hostabi.MethodFlagsDefault
	if IsVirtualName(name) {
		flags |= hostabi.MethodFlagVirtual
	}
	return &MethodInfo{
		Name:       name,
		ReturnType: ret,
		Arguments:  append([]TypeInfo(nil), args...),
		Flags:      flags,
	}
}

// IsVirtualName reports whether name carries the virtual marker.
func IsVirtualName(name string) bool {
	return len(name) > 0 && name[0] == VirtualMarker
}

// IsVirtual reports whether the virtual flag is set.
func (m *MethodInfo) IsVirtual() bool {
	return m.Flags&hostabi.MethodFlagVirtual != 0
}

// HasReturnValue reports whether the method returns anything.
func (m *MethodInfo) HasReturnValue() bool {
	return m.ReturnType.VariantType != hostabi.VariantNil
}

// ArgumentBindings returns, per argument position, the binding callbacks of
// the declared type (0 where there are none), and whether any are set.
func (m *MethodInfo) ArgumentBindings() ([]hostabi.Address, bool) {
	out := make([]hostabi.Address, len(m.Arguments))
	set := false
	for i, arg := range m.Arguments {
		out[i] = arg.BindingCallbacks
		if arg.BindingCallbacks != 0 {
			set = true
		}
	}
	return out, set
}

// PointerCallType reports whether values of t can travel the pointer call
// path. Only fixed-size primitives without ownership qualify.
func PointerCallType(t hostabi.VariantType) bool {
	switch t {
	case hostabi.VariantBool, hostabi.VariantInt, hostabi.VariantFloat:
		return true
	}
	return false
}

// PointerCallSupported reports whether the whole signature fits the pointer
// call path. A void return is allowed.
func (m *MethodInfo) PointerCallSupported() bool {
	if m.HasReturnValue() && !PointerCallType(m.ReturnType.VariantType) {
		return false
	}
	for _, arg := range m.Arguments {
		if !PointerCallType(arg.VariantType) {
			return false
		}
	}
	return true
}
