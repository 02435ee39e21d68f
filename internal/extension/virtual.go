package extension

import (
	"log/slog"
	"sync"

	"github.com/dop251/goja"

	"github.com/joeycumines/goja-hostbridge/internal/bridgeerr"
	"github.com/joeycumines/goja-hostbridge/internal/handles"
	"github.com/joeycumines/goja-hostbridge/internal/hostabi"
	"github.com/joeycumines/goja-hostbridge/internal/marshal"
)

// virtualWrapper turns script callback addresses into host virtual-call
// functions. Wrappers are cached per address so the host sees a stable
// function for each override.
type virtualWrapper struct {
	gateway *marshal.Gateway

	mu    sync.Mutex
	cache map[hostabi.Address]hostabi.CallVirtualFunc
}

func newVirtualWrapper(gateway *marshal.Gateway) *virtualWrapper {
	return &virtualWrapper{
		gateway: gateway,
		cache:   make(map[hostabi.Address]hostabi.CallVirtualFunc),
	}
}

func (w *virtualWrapper) Wrap(fn hostabi.Address) hostabi.CallVirtualFunc {
	w.mu.Lock()
	defer w.mu.Unlock()
	if f, ok := w.cache[fn]; ok {
		return f
	}
	f := func(instance hostabi.InstancePtr, args []hostabi.VariantPtr, ret hostabi.VariantPtr) {
		w.gateway.CallVirtual(fn, instance, args, ret)
	}
	w.cache[fn] = f
	return f
}

func (w *virtualWrapper) len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.cache)
}

// callbackResolver adapts script binding-callback objects, created through
// newBindingCallbacks, to host instance-binding callbacks. The binding
// created for an object is a persistent handle to the value the script's
// create function returned; it is released by free.
type callbackResolver struct {
	b *Bindings

	mu    sync.Mutex
	cache map[hostabi.Address]*hostabi.InstanceBindingCallbacks
}

func newCallbackResolver(b *Bindings) *callbackResolver {
	return &callbackResolver{
		b:     b,
		cache: make(map[hostabi.Address]*hostabi.InstanceBindingCallbacks),
	}
}

// Resolve must be called on the runtime thread.
func (r *callbackResolver) Resolve(addr hostabi.Address) (*hostabi.InstanceBindingCallbacks, error) {
	const op = "extension.ResolveBindingCallbacks"
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.cache[addr]; ok {
		return cb, nil
	}
	v, ok := r.b.handles.Resolve(handles.Handle(addr))
	if !ok {
		return nil, bridgeerr.Conversion(op, nil, "binding callbacks %d are not a live handle", addr)
	}
	triple, ok := v.(*goja.Object)
	if !ok {
		return nil, bridgeerr.Conversion(op, nil, "binding callbacks %d are not an object", addr)
	}
	cb := &hostabi.InstanceBindingCallbacks{
		Create: func(_ hostabi.Library, obj hostabi.ObjectPtr) hostabi.Address {
			return r.create(triple, obj)
		},
		Free: func(_ hostabi.Library, obj hostabi.ObjectPtr, binding hostabi.Address) {
			r.free(triple, obj, binding)
		},
		Reference: func(_ hostabi.Library, binding hostabi.Address, reference bool) bool {
			return r.reference(triple, binding, reference)
		},
	}
	r.cache[addr] = cb
	return cb, nil
}

func (r *callbackResolver) guard(op string, fn func() error) {
	var err error
	if subErr := r.b.bridge.Submit(func() { err = fn() }); subErr != nil {
		err = subErr
	}
	if err != nil {
		r.b.logger.Error("binding callback failed", slog.String("op", op), slog.Any("error", err))
	}
}

func (r *callbackResolver) create(triple *goja.Object, obj hostabi.ObjectPtr) (binding hostabi.Address) {
	r.guard("create", func() error {
		fn, ok := goja.AssertFunction(triple.Get("create"))
		if !ok {
			return nil
		}
		v, err := fn(triple, r.b.pointerBox(hostabi.Address(obj)))
		if err != nil {
			return bridgeerr.Invocation("binding.create", err, "object %d", obj)
		}
		if handles.IsAbsent(v) {
			return nil
		}
		binding = hostabi.Address(r.b.handles.MakePersistent(v))
		return nil
	})
	return binding
}

func (r *callbackResolver) free(triple *goja.Object, obj hostabi.ObjectPtr, binding hostabi.Address) {
	r.guard("free", func() error {
		h := handles.Handle(binding)
		v, ok := r.b.handles.Resolve(h)
		if !ok {
			return bridgeerr.ProtocolViolation("binding.free", nil, "binding %d of object %d is not a live handle", binding, obj)
		}
		defer r.b.handles.Release(h)
		if fn, ok := goja.AssertFunction(triple.Get("free")); ok {
			if _, err := fn(triple, v); err != nil {
				return bridgeerr.Invocation("binding.free", err, "object %d", obj)
			}
		}
		return nil
	})
}

func (r *callbackResolver) reference(triple *goja.Object, binding hostabi.Address, reference bool) bool {
	result := true
	r.guard("reference", func() error {
		fn, ok := goja.AssertFunction(triple.Get("reference"))
		if !ok {
			return nil
		}
		v, ok := r.b.handles.Resolve(handles.Handle(binding))
		if !ok {
			return bridgeerr.ProtocolViolation("binding.reference", nil, "binding %d is not a live handle", binding)
		}
		res, err := fn(triple, v, r.b.vm.ToValue(reference))
		if err != nil {
			return bridgeerr.Invocation("binding.reference", err, "binding %d", binding)
		}
		result = res.ToBoolean()
		return nil
	})
	return result
}
