package extension

import (
	"github.com/dop251/goja"

	"github.com/joeycumines/goja-hostbridge/internal/bridgeerr"
	"github.com/joeycumines/goja-hostbridge/internal/handles"
	"github.com/joeycumines/goja-hostbridge/internal/hostabi"
)

// newFFI builds the object handed to the library's _registerHost: the host
// primitives the script side needs, as plain functions over integer
// addresses.
func (b *Bindings) newFFI() *goja.Object {
	vm := b.vm
	ffi := vm.NewObject()
	set := func(name string, fn func(goja.FunctionCall) goja.Value) {
		_ = ffi.Set(name, func(call goja.FunctionCall) goja.Value {
			if b.closed.Load() {
				panic(vm.NewGoError(bridgeerr.ProtocolViolation("ffi."+name, nil, "bindings have been shut down")))
			}
			return fn(call)
		})
	}

	_ = ffi.Set("library", int64(b.lib))

	set("stringNameNew", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(int64(b.host.StringNameNew(call.Argument(0).String())))
	})
	set("stringNew", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(int64(b.host.StringNew(call.Argument(0).String())))
	})
	set("constructObject", func(call goja.FunctionCall) goja.Value {
		name := b.address(vm, "constructObject", call.Argument(0))
		return vm.ToValue(int64(b.host.ClassDBConstructObject(hostabi.StringNamePtr(name))))
	})
	set("variantNew", func(call goja.FunctionCall) goja.Value {
		t := hostabi.VariantType(call.Argument(0).ToInteger())
		if !t.Valid() {
			panic(vm.NewGoError(bridgeerr.Conversion("ffi.variantNew", nil, "unknown variant type %d", int32(t))))
		}
		var value any
		if v := call.Argument(1); !handles.IsAbsent(v) {
			value = v.Export()
		}
		return vm.ToValue(int64(b.host.VariantNew(t, value)))
	})
	set("variantCopy", func(call goja.FunctionCall) goja.Value {
		dst := b.address(vm, "variantCopy", call.Argument(0))
		src := b.address(vm, "variantCopy", call.Argument(1))
		b.host.VariantNewCopy(hostabi.VariantPtr(dst), hostabi.VariantPtr(src))
		return goja.Undefined()
	})
	set("variantGet", func(call goja.FunctionCall) goja.Value {
		addr := b.address(vm, "variantGet", call.Argument(0))
		t, value := b.host.VariantGet(hostabi.VariantPtr(addr))
		out := vm.NewObject()
		_ = out.Set("type", int32(t))
		switch x := value.(type) {
		case hostabi.ObjectPtr:
			_ = out.Set("value", int64(x))
		case nil:
			_ = out.Set("value", goja.Null())
		default:
			_ = out.Set("value", x)
		}
		return out
	})
	set("variantDestroy", func(call goja.FunctionCall) goja.Value {
		b.host.VariantDestroy(hostabi.VariantPtr(b.address(vm, "variantDestroy", call.Argument(0))))
		return goja.Undefined()
	})
	set("newCallback", func(call goja.FunctionCall) goja.Value {
		fn := call.Argument(0)
		if _, ok := goja.AssertFunction(fn); !ok {
			panic(vm.NewTypeError("newCallback: argument is not a function"))
		}
		return vm.ToValue(int64(b.retain(fn)))
	})
	set("newBindingCallbacks", func(call goja.FunctionCall) goja.Value {
		v := call.Argument(0)
		obj, ok := v.(*goja.Object)
		if !ok || handles.IsAbsent(v) {
			panic(vm.NewTypeError("newBindingCallbacks: argument is not an object"))
		}
		for _, key := range [...]string{"create", "free", "reference"} {
			if f := obj.Get(key); f != nil && !handles.IsAbsent(f) {
				if _, ok := goja.AssertFunction(f); !ok {
					panic(vm.NewTypeError("newBindingCallbacks: %s is not a function", key))
				}
			}
		}
		return vm.ToValue(int64(b.retain(obj)))
	})
	return ffi
}

// address reads an integral address argument, throwing on failure.
func (b *Bindings) address(vm *goja.Runtime, op string, v goja.Value) hostabi.Address {
	n, err := handles.Integral(v)
	if err != nil {
		panic(vm.NewGoError(bridgeerr.Conversion("ffi."+op, err, "invalid address")))
	}
	return hostabi.Address(n)
}

// retain makes v persistent for the lifetime of the bindings.
func (b *Bindings) retain(v goja.Value) handles.Handle {
	h := b.handles.MakePersistent(v)
	b.retained = append(b.retained, h)
	return h
}
