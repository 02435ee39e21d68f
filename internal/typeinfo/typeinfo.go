// Package typeinfo holds the descriptors of bound types and methods.
package typeinfo

import (
	"strconv"

	"github.com/dop251/goja"

	"github.com/joeycumines/goja-hostbridge/internal/bridgeerr"
	"github.com/joeycumines/goja-hostbridge/internal/handles"
	"github.com/joeycumines/goja-hostbridge/internal/hostabi"
)

// Script-side field names of a type descriptor.
const (
	fieldClassName        = "className"
	fieldParentClass      = "parentClass"
	fieldVariantType      = "variantType"
	fieldBindingCallbacks = "bindingCallbacks"
)

// TypeInfo describes a bound type.
type TypeInfo struct {
	// TypeName is the host's interned name of the type.
	TypeName hostabi.StringNamePtr
	// ParentName is the interned name of the parent type, or 0.
	ParentName hostabi.StringNamePtr
	// VariantType is the primitive category values of this type marshal
	// to. VariantNil means void; object types use VariantObject.
	VariantType hostabi.VariantType
	// BindingCallbacks identifies the instance-binding callback triple for
	// reference-aware wrapper types, or 0.
	BindingCallbacks hostabi.Address
}

// HasParent reports whether a parent type was declared.
func (t TypeInfo) HasParent() bool {
	return t.ParentName != 0
}

// FromScript reads a type descriptor object.
func FromScript(v goja.Value) (TypeInfo, error) {
	const op = "typeinfo.FromScript"
	var info TypeInfo

	obj, ok := v.(*goja.Object)
	if !ok || handles.IsAbsent(v) {
		return info, bridgeerr.Conversion(op, nil, "type descriptor is not an object")
	}

	name, err := handles.OpaqueAddress(obj.Get(fieldClassName))
	if err != nil {
		return info, bridgeerr.Conversion(op, err, "invalid %s", fieldClassName)
	}
	info.TypeName = hostabi.StringNamePtr(name)

	if parent := obj.Get(fieldParentClass); !handles.IsAbsent(parent) {
		addr, err := handles.OpaqueAddress(parent)
		if err != nil {
			return info, bridgeerr.Conversion(op, err, "invalid %s", fieldParentClass)
		}
		info.ParentName = hostabi.StringNamePtr(addr)
	}

	if vt := obj.Get(fieldVariantType); !handles.IsAbsent(vt) {
		n, err := handles.Integral(vt)
		if err != nil {
			return info, bridgeerr.Conversion(op, err, "invalid %s", fieldVariantType)
		}
		info.VariantType = hostabi.VariantType(n)
		if !info.VariantType.Valid() {
			return info, bridgeerr.Conversion(op, nil, "unknown %s %d", fieldVariantType, n)
		}
	}

	if cb := obj.Get(fieldBindingCallbacks); !handles.IsAbsent(cb) {
		addr, err := handles.PointerAddress(cb)
		if err != nil {
			return info, bridgeerr.Conversion(op, err, "invalid %s", fieldBindingCallbacks)
		}
		info.BindingCallbacks = addr
	}

	return info, nil
}

// FromScriptList reads an array of type descriptors. An absent list is
// empty.
func FromScriptList(v goja.Value) ([]TypeInfo, error) {
	const op = "typeinfo.FromScriptList"
	if handles.IsAbsent(v) {
		return nil, nil
	}
	arr, ok := v.(*goja.Object)
	if !ok || arr.ClassName() != "Array" {
		return nil, bridgeerr.Conversion(op, nil, "argument list is not an array")
	}
	n := arr.Get("length").ToInteger()
	out := make([]TypeInfo, n)
	for i := range out {
		info, err := FromScript(arr.Get(strconv.Itoa(i)))
		if err != nil {
			return nil, bridgeerr.Conversion(op, err, "argument %d", i)
		}
		out[i] = info
	}
	return out, nil
}
