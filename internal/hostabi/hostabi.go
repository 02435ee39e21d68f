// Package hostabi describes the host's extension ABI: the opaque identities
// it hands out, the callbacks an extension class supplies, and the functions
// the host exposes to extensions.
//
// Addresses are opaque to the extension. They are only ever compared, stored
// and handed back to the host.
package hostabi

import (
	"fmt"
	"unsafe"
)

// Address is an opaque, host-owned identity.
type Address uint64

type (
	// ObjectPtr identifies a host object.
	ObjectPtr Address
	// InstancePtr is the extension-side instance attached to a host object.
	// For scripted classes it is a persistent handle.
	InstancePtr Address
	// StringNamePtr identifies an interned host name.
	StringNamePtr Address
	// StringPtr identifies a host string.
	StringPtr Address
	// VariantPtr identifies a host variant value.
	VariantPtr Address
	// Library is the token identifying the extension to the host.
	Library Address
)

// VariantType is the host-level primitive category of a value.
type VariantType int32

const (
	VariantNil        VariantType = 0
	VariantBool       VariantType = 1
	VariantInt        VariantType = 2
	VariantFloat      VariantType = 3
	VariantString     VariantType = 4
	VariantStringName VariantType = 21
	VariantObject     VariantType = 24
)

func (t VariantType) String() string {
	switch t {
	case VariantNil:
		return "nil"
	case VariantBool:
		return "bool"
	case VariantInt:
		return "int"
	case VariantFloat:
		return "float"
	case VariantString:
		return "String"
	case VariantStringName:
		return "StringName"
	case VariantObject:
		return "Object"
	default:
		return fmt.Sprintf("VariantType(%d)", int32(t))
	}
}

// Valid reports whether t is one of the known variant types.
func (t VariantType) Valid() bool {
	switch t {
	case VariantNil, VariantBool, VariantInt, VariantFloat, VariantString, VariantStringName, VariantObject:
		return true
	}
	return false
}

// MethodFlags mirror the host's method flag bits.
type MethodFlags uint32

const (
	MethodFlagNormal  MethodFlags = 1
	MethodFlagEditor  MethodFlags = 2
	MethodFlagConst   MethodFlags = 4
	MethodFlagVirtual MethodFlags = 8
	MethodFlagVararg  MethodFlags = 16
	MethodFlagStatic  MethodFlags = 32

	MethodFlagsDefault = MethodFlagNormal
)

// ArgumentMetadata refines the width of numeric arguments.
type ArgumentMetadata int32

const ArgumentMetadataNone ArgumentMetadata = 0

// PropertyUsageDefault is the usage flag set for ordinary properties.
const PropertyUsageDefault uint32 = 6

// PropertyInfo describes an argument or return value.
type PropertyInfo struct {
	Type       VariantType
	Name       StringNamePtr
	ClassName  StringNamePtr
	Hint       uint32
	HintString StringPtr
	Usage      uint32
}

// CallErrorType is reported through a CallError slot.
type CallErrorType int32

const (
	CallOK CallErrorType = iota
	CallErrorInvalidMethod
	CallErrorInvalidArgument
	CallErrorTooManyArguments
	CallErrorTooFewArguments
	CallErrorInstanceIsNull
	CallErrorMethodNotConst
)

func (t CallErrorType) String() string {
	switch t {
	case CallOK:
		return "ok"
	case CallErrorInvalidMethod:
		return "invalid method"
	case CallErrorInvalidArgument:
		return "invalid argument"
	case CallErrorTooManyArguments:
		return "too many arguments"
	case CallErrorTooFewArguments:
		return "too few arguments"
	case CallErrorInstanceIsNull:
		return "instance is null"
	case CallErrorMethodNotConst:
		return "method not const"
	default:
		return fmt.Sprintf("CallErrorType(%d)", int32(t))
	}
}

// CallError is the error slot of a variant call.
type CallError struct {
	Error    CallErrorType
	Argument int32
	Expected int32
}

type (
	// CreateInstanceFunc constructs the extension instance for a class and
	// returns the host object, or 0 on failure.
	CreateInstanceFunc func(classUserdata Address) ObjectPtr
	// FreeInstanceFunc destroys the extension instance attached to a host
	// object.
	FreeInstanceFunc func(classUserdata Address, instance InstancePtr)
	// GetVirtualFunc returns the override of a virtual method, or nil when
	// the class does not override it.
	GetVirtualFunc func(classUserdata Address, name StringNamePtr) CallVirtualFunc
	// CallVirtualFunc invokes a virtual override.
	CallVirtualFunc func(instance InstancePtr, args []VariantPtr, ret VariantPtr)

	// MethodCallFunc is the variant call path of a bound method.
	MethodCallFunc func(methodUserdata any, instance InstancePtr, args []VariantPtr, ret VariantPtr, callErr *CallError)
	// MethodPtrCallFunc is the pointer call path of a bound method. Each
	// argument points at a raw value of the declared type and ret points at
	// storage for the declared return type.
	MethodPtrCallFunc func(methodUserdata any, instance InstancePtr, args []unsafe.Pointer, ret unsafe.Pointer)
)

// ClassCreationInfo is supplied when registering an extension class.
type ClassCreationInfo struct {
	ClassUserdata  Address
	CreateInstance CreateInstanceFunc
	FreeInstance   FreeInstanceFunc
	GetVirtual     GetVirtualFunc
}

// ClassMethodInfo is supplied when registering a method on an extension
// class. MethodUserdata is handed back unchanged on every call.
type ClassMethodInfo struct {
	Name                StringNamePtr
	MethodUserdata      any
	Call                MethodCallFunc
	PtrCall             MethodPtrCallFunc
	Flags               MethodFlags
	HasReturnValue      bool
	ReturnValueInfo     PropertyInfo
	ReturnValueMetadata ArgumentMetadata
	Arguments           []PropertyInfo
	ArgumentsMetadata   []ArgumentMetadata
	DefaultArguments    []VariantPtr
}

// InstanceBindingCallbacks manage the extension's binding slot on a host
// object.
type InstanceBindingCallbacks struct {
	Create    func(token Library, instance ObjectPtr) Address
	Free      func(token Library, instance ObjectPtr, binding Address)
	Reference func(token Library, binding Address, reference bool) bool
}

// Interface is the subset of the host ABI consumed by the bridge. All methods
// are safe to call from any goroutine, but the host may call back into the
// extension synchronously.
type Interface interface {
	ClassDBRegisterExtensionClass(lib Library, name, parent StringNamePtr, info ClassCreationInfo) error
	ClassDBRegisterExtensionClassMethod(lib Library, class StringNamePtr, info ClassMethodInfo) error
	ClassDBUnregisterExtensionClass(lib Library, name StringNamePtr) error
	ClassDBClassExists(name StringNamePtr) bool
	ClassDBConstructObject(class StringNamePtr) ObjectPtr

	ObjectSetInstance(obj ObjectPtr, class StringNamePtr, instance InstancePtr)
	ObjectSetInstanceBinding(obj ObjectPtr, token Library, binding Address, callbacks *InstanceBindingCallbacks)
	ObjectGetInstanceBinding(obj ObjectPtr, token Library, callbacks *InstanceBindingCallbacks) Address

	VariantNew(t VariantType, value any) VariantPtr
	VariantNewCopy(dst, src VariantPtr)
	VariantGet(v VariantPtr) (VariantType, any)
	VariantDestroy(v VariantPtr)

	StringNameNew(s string) StringNamePtr
	StringNameToString(name StringNamePtr) string
	StringNew(s string) StringPtr
	StringToUTF8(s StringPtr) string
}
