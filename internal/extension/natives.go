package extension

import (
	"fmt"

	"github.com/dop251/goja"

	"github.com/joeycumines/goja-hostbridge/internal/bridgeerr"
	"github.com/joeycumines/goja-hostbridge/internal/handles"
	"github.com/joeycumines/goja-hostbridge/internal/hostabi"
	"github.com/joeycumines/goja-hostbridge/internal/typeinfo"
)

// nativeSymbol enumerates the functions exported by the native module.
type nativeSymbol uint8

const (
	nativeBindMethod nativeSymbol = iota
	nativeBindClass
	nativeHostStringToString
	nativeHostObjectToScriptObject
	nativePostInitialize

	nativeSymbolCount
)

var nativeSymbolNames = [nativeSymbolCount]string{
	nativeBindMethod:               "bindMethod",
	nativeBindClass:                "bindClass",
	nativeHostStringToString:       "hostStringToString",
	nativeHostObjectToScriptObject: "hostObjectToScriptObject",
	nativePostInitialize:           "postInitialize",
}

func (s nativeSymbol) String() string {
	if s < nativeSymbolCount {
		return nativeSymbolNames[s]
	}
	return fmt.Sprintf("nativeSymbol(%d)", uint8(s))
}

type nativeFunc func(call goja.FunctionCall) (goja.Value, error)

// natives is the static symbol table, resolved once when the native module
// is first required.
func (b *Bindings) natives() [nativeSymbolCount]nativeFunc {
	return [nativeSymbolCount]nativeFunc{
		nativeBindMethod:               b.nativeBindMethod,
		nativeBindClass:                b.nativeBindClass,
		nativeHostStringToString:       b.nativeHostStringToString,
		nativeHostObjectToScriptObject: b.nativeHostObjectToScriptObject,
		nativePostInitialize:           b.nativePostInitialize,
	}
}

// requireNative is the loader of the native module.
func (b *Bindings) requireNative(runtime *goja.Runtime, module *goja.Object) {
	exports := module.Get("exports").(*goja.Object)
	for sym, fn := range b.natives() {
		_ = exports.Set(nativeSymbol(sym).String(), b.throwing(runtime, nativeSymbol(sym), fn))
	}
}

// throwing adapts fn to a script function that throws on error, and throws
// a protocol violation once the bindings are shut down.
func (b *Bindings) throwing(runtime *goja.Runtime, sym nativeSymbol, fn nativeFunc) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		if b.closed.Load() {
			panic(runtime.NewGoError(bridgeerr.ProtocolViolation(sym.String(), nil, "bindings have been shut down")))
		}
		v, err := fn(call)
		if err != nil {
			panic(runtime.NewGoError(err))
		}
		if v == nil {
			return goja.Undefined()
		}
		return v
	}
}

// bindMethod(typeInfo, name, returnType, argumentTypes)
func (b *Bindings) nativeBindMethod(call goja.FunctionCall) (goja.Value, error) {
	bindType, err := typeinfo.FromScript(call.Argument(0))
	if err != nil {
		return nil, err
	}
	name := call.Argument(1)
	if handles.IsAbsent(name) {
		return nil, bridgeerr.Registration("bindMethod", nil, "missing method name")
	}
	ret, err := typeinfo.FromScript(call.Argument(2))
	if err != nil {
		return nil, err
	}
	args, err := typeinfo.FromScriptList(call.Argument(3))
	if err != nil {
		return nil, err
	}
	if _, err := b.table.BindMethod(bindType, name.String(), ret, args); err != nil {
		return nil, err
	}
	return nil, nil
}

// bindClass(type, typeInfo). A descriptor that cannot be read, a malformed
// parent included, is a registration failure.
func (b *Bindings) nativeBindClass(call goja.FunctionCall) (goja.Value, error) {
	info, err := typeinfo.FromScript(call.Argument(1))
	if err != nil {
		return nil, bridgeerr.Registration("bindClass", err, "invalid class descriptor")
	}
	return nil, b.table.BindClass(call.Argument(0), info)
}

// hostStringToString(hostString)
func (b *Bindings) nativeHostStringToString(call goja.FunctionCall) (goja.Value, error) {
	addr, err := handles.OpaqueAddress(call.Argument(0))
	if err != nil {
		return nil, err
	}
	return b.vm.ToValue(b.host.StringToUTF8(hostabi.StringPtr(addr))), nil
}

// hostObjectToScriptObject(pointer, bindingCallbacks?)
func (b *Bindings) nativeHostObjectToScriptObject(call goja.FunctionCall) (goja.Value, error) {
	addr, err := handles.PointerAddress(call.Argument(0))
	if err != nil {
		return nil, err
	}
	var callbacks hostabi.Address
	if v := call.Argument(1); !handles.IsAbsent(v) {
		if callbacks, err = handles.PointerAddress(v); err != nil {
			return nil, err
		}
	}
	if addr == 0 {
		return goja.Null(), nil
	}
	return b.table.ScriptObjectFor(hostabi.ObjectPtr(addr), callbacks)
}

// postInitialize(self)
func (b *Bindings) nativePostInitialize(call goja.FunctionCall) (goja.Value, error) {
	return nil, b.table.AttachInstance(call.Argument(0))
}
