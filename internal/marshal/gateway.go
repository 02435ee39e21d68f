// Package marshal converts values at the host/script call boundary.
//
// Value-by-value conversion is not done here: the gateway hands variant
// addresses to the script library's conversion routines, which dispatch on
// the variant type inside the runtime, and copies the variant they produce
// back into the host's return slot. The only values converted in Go are the
// raw primitives of the pointer call path.
package marshal

import (
	"errors"
	"log/slog"
	"math"
	"math/big"
	"strconv"
	"unsafe"

	"github.com/dop251/goja"

	"github.com/joeycumines/goja-hostbridge/internal/bridgeerr"
	"github.com/joeycumines/goja-hostbridge/internal/handles"
	"github.com/joeycumines/goja-hostbridge/internal/hostabi"
	"github.com/joeycumines/goja-hostbridge/internal/threadbridge"
	"github.com/joeycumines/goja-hostbridge/internal/typeinfo"
)

// Config holds the collaborators of a Gateway.
type Config struct {
	Host    hostabi.Interface
	Bridge  *threadbridge.Bridge
	Handles *handles.Registry
	Runtime *goja.Runtime

	// VariantsToScript is called as (argAddrs, count, bindingsList) and
	// returns an array of script values.
	VariantsToScript goja.Callable
	// ConvertToVariant is called as (value, expectedVariantType) and returns
	// a freshly allocated variant box, which the gateway owns.
	ConvertToVariant goja.Callable

	Logger *slog.Logger
	// Trace logs every call at debug level.
	Trace bool
}

// Gateway is the MarshalingGateway. Call, PtrCall and CallVirtual are host
// entry points, safe from any goroutine; the Invoke methods must run on the
// runtime thread.
type Gateway struct {
	host    hostabi.Interface
	bridge  *threadbridge.Bridge
	handles *handles.Registry
	vm      *goja.Runtime

	toScript  goja.Callable
	toVariant goja.Callable

	logger *slog.Logger
	trace  bool
}

// New creates a Gateway.
func New(cfg Config) (*Gateway, error) {
	switch {
	case cfg.Host == nil:
		return nil, errors.New("marshal: nil host")
	case cfg.Bridge == nil:
		return nil, errors.New("marshal: nil bridge")
	case cfg.Handles == nil:
		return nil, errors.New("marshal: nil handle registry")
	case cfg.Runtime == nil:
		return nil, errors.New("marshal: nil runtime")
	case cfg.VariantsToScript == nil || cfg.ConvertToVariant == nil:
		return nil, errors.New("marshal: missing conversion routines")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		host:      cfg.Host,
		bridge:    cfg.Bridge,
		handles:   cfg.Handles,
		vm:        cfg.Runtime,
		toScript:  cfg.VariantsToScript,
		toVariant: cfg.ConvertToVariant,
		logger:    logger,
		trace:     cfg.Trace,
	}, nil
}

// guard runs fn on the runtime thread and logs its failure.
func (g *Gateway) guard(op, method string, fn func() error) {
	var err error
	if subErr := g.bridge.Submit(func() { err = fn() }); subErr != nil {
		err = subErr
	}
	if err != nil {
		g.logger.Error("call failed", slog.String("op", op), slog.String("method", method), slog.Any("error", err))
	}
}

// Call is the variant call path entry point. Bad userdata, a null instance
// and a wrong argument count are reported through callErr; failures inside
// the runtime are logged and leave ret untouched.
func (g *Gateway) Call(methodUserdata any, instance hostabi.InstancePtr, args []hostabi.VariantPtr, ret hostabi.VariantPtr, callErr *hostabi.CallError) {
	if callErr == nil {
		callErr = new(hostabi.CallError)
	}
	m, ok := methodUserdata.(*typeinfo.MethodInfo)
	switch {
	case !ok || m == nil:
		callErr.Error = hostabi.CallErrorInvalidMethod
		return
	case instance == 0:
		callErr.Error = hostabi.CallErrorInstanceIsNull
		return
	case len(args) < len(m.Arguments):
		callErr.Error = hostabi.CallErrorTooFewArguments
		callErr.Expected = int32(len(m.Arguments))
		return
	case len(args) > len(m.Arguments):
		callErr.Error = hostabi.CallErrorTooManyArguments
		callErr.Expected = int32(len(m.Arguments))
		return
	}
	if g.trace {
		g.logger.Debug("call", slog.String("method", m.Name), slog.Int("args", len(args)))
	}
	g.guard("call", m.Name, func() error {
		return g.InvokeBoundMethod(handles.Handle(instance), m, args, ret)
	})
}

// InvokeBoundMethod invokes m on the script object behind instance. Arguments
// are converted by the script library, with a side list naming the binding
// callbacks of each declared argument type; the result is converted to a
// variant and copied into ret.
func (g *Gateway) InvokeBoundMethod(instance handles.Handle, m *typeinfo.MethodInfo, args []hostabi.VariantPtr, ret hostabi.VariantPtr) error {
	const op = "marshal.InvokeBoundMethod"
	self, err := g.resolveObject(op, instance)
	if err != nil {
		return err
	}

	var argv []goja.Value
	if len(m.Arguments) > 0 {
		bindings, set := m.ArgumentBindings()
		if !set {
			bindings = nil
		}
		if argv, err = g.variantsToScript(args[:len(m.Arguments)], bindings); err != nil {
			return err
		}
	}

	result, err := g.invoke(op, self, m.Name, argv)
	if err != nil {
		return err
	}
	if !m.HasReturnValue() || ret == 0 {
		return nil
	}
	return g.returnToHost(result, g.vm.ToValue(int32(m.ReturnType.VariantType)), ret)
}

func (g *Gateway) resolveObject(op string, h handles.Handle) (*goja.Object, error) {
	v, ok := g.handles.Resolve(h)
	if !ok {
		return nil, bridgeerr.Conversion(op, nil, "handle %d is not live", h)
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil, bridgeerr.Conversion(op, nil, "handle %d is not an object", h)
	}
	return obj, nil
}

func (g *Gateway) invoke(op string, self *goja.Object, name string, argv []goja.Value) (goja.Value, error) {
	fn, ok := goja.AssertFunction(self.Get(name))
	if !ok {
		return nil, bridgeerr.Invocation(op, nil, "object has no method %q", name)
	}
	result, err := fn(self, argv...)
	if err != nil {
		return nil, bridgeerr.Invocation(op, err, "method %q raised", name)
	}
	return result, nil
}

// variantsToScript runs the script-side argument conversion. bindings is nil
// when no side list applies.
func (g *Gateway) variantsToScript(args []hostabi.VariantPtr, bindings []hostabi.Address) ([]goja.Value, error) {
	const op = "marshal.variantsToScript"
	addrs := make([]any, len(args))
	for i, a := range args {
		addrs[i] = int64(a)
	}
	list := goja.Null()
	if bindings != nil {
		items := make([]any, len(bindings))
		for i, b := range bindings {
			if b != 0 {
				items[i] = g.pointerBox(b)
			}
		}
		list = g.vm.NewArray(items...)
	}

	res, err := g.toScript(goja.Undefined(), g.vm.NewArray(addrs...), g.vm.ToValue(len(args)), list)
	if err != nil {
		return nil, bridgeerr.Conversion(op, err, "converting %d arguments", len(args))
	}
	arr, ok := res.(*goja.Object)
	if !ok {
		return nil, bridgeerr.Conversion(op, nil, "conversion did not return an array")
	}
	out := make([]goja.Value, len(args))
	for i := range out {
		out[i] = arr.Get(strconv.Itoa(i))
	}
	return out, nil
}

func (g *Gateway) pointerBox(addr hostabi.Address) *goja.Object {
	box := g.vm.NewObject()
	_ = box.Set("address", int64(addr))
	return box
}

// returnToHost converts result through the script library and copies the
// variant it produced into ret. The temporary variant is destroyed.
func (g *Gateway) returnToHost(result, expected goja.Value, ret hostabi.VariantPtr) error {
	const op = "marshal.returnToHost"
	if result == nil {
		result = goja.Undefined()
	}
	boxed, err := g.toVariant(goja.Undefined(), result, expected)
	if err != nil {
		return bridgeerr.Conversion(op, err, "converting return value")
	}
	addr, err := handles.OpaqueAddress(boxed)
	if err != nil {
		return err
	}
	tmp := hostabi.VariantPtr(addr)
	g.host.VariantNewCopy(ret, tmp)
	g.host.VariantDestroy(tmp)
	return nil
}

// PtrCall is the pointer call path entry point. It only serves methods whose
// whole signature is bool, int (int64) or float (float64); ret is left
// untouched on failure.
func (g *Gateway) PtrCall(methodUserdata any, instance hostabi.InstancePtr, args []unsafe.Pointer, ret unsafe.Pointer) {
	m, ok := methodUserdata.(*typeinfo.MethodInfo)
	if !ok || m == nil {
		g.logger.Error("ptrcall with invalid method userdata")
		return
	}
	if instance == 0 {
		g.logger.Error("ptrcall on null instance", slog.String("method", m.Name))
		return
	}
	if len(args) != len(m.Arguments) {
		g.logger.Error("ptrcall with wrong argument count",
			slog.String("method", m.Name), slog.Int("expected", len(m.Arguments)), slog.Int("got", len(args)))
		return
	}
	if g.trace {
		g.logger.Debug("ptrcall", slog.String("method", m.Name))
	}
	g.guard("ptrcall", m.Name, func() error {
		return g.InvokePointer(handles.Handle(instance), m, args, ret)
	})
}

// InvokePointer invokes m with raw primitive arguments and writes the raw
// result to ret.
func (g *Gateway) InvokePointer(instance handles.Handle, m *typeinfo.MethodInfo, args []unsafe.Pointer, ret unsafe.Pointer) error {
	const op = "marshal.InvokePointer"
	if !m.PointerCallSupported() {
		return bridgeerr.ProtocolViolation(op, nil, "method %q is not pointer-callable", m.Name)
	}
	self, err := g.resolveObject(op, instance)
	if err != nil {
		return err
	}
	argv := make([]goja.Value, len(args))
	for i, p := range args {
		if p == nil {
			return bridgeerr.Conversion(op, nil, "argument %d is a nil pointer", i)
		}
		argv[i] = g.rawToScript(m.Arguments[i].VariantType, p)
	}
	result, err := g.invoke(op, self, m.Name, argv)
	if err != nil {
		return err
	}
	if m.HasReturnValue() && ret != nil {
		if err := scriptToRaw(m.ReturnType.VariantType, result, ret); err != nil {
			return bridgeerr.Conversion(op, err, "return value of %q", m.Name)
		}
	}
	return nil
}

func (g *Gateway) rawToScript(t hostabi.VariantType, p unsafe.Pointer) goja.Value {
	switch t {
	case hostabi.VariantBool:
		return g.vm.ToValue(*(*bool)(p))
	case hostabi.VariantInt:
		return g.vm.ToValue(*(*int64)(p))
	case hostabi.VariantFloat:
		return g.vm.ToValue(*(*float64)(p))
	}
	return goja.Undefined()
}

// scriptToRaw writes v to p as t. p is not written when v does not fit.
func scriptToRaw(t hostabi.VariantType, v goja.Value, p unsafe.Pointer) error {
	if v == nil {
		v = goja.Undefined()
	}
	switch t {
	case hostabi.VariantBool:
		*(*bool)(p) = v.ToBoolean()
	case hostabi.VariantInt:
		n, err := scriptInt(v)
		if err != nil {
			return err
		}
		*(*int64)(p) = n
	case hostabi.VariantFloat:
		*(*float64)(p) = v.ToFloat()
	}
	return nil
}

// scriptInt converts v the way the variant path does: fractions truncate,
// NaN reads as 0, and anything outside int64 is an error.
func scriptInt(v goja.Value) (int64, error) {
	const op = "marshal.scriptInt"
	switch x := v.Export().(type) {
	case int64:
		return x, nil
	case *big.Int:
		if !x.IsInt64() {
			return 0, bridgeerr.Conversion(op, nil, "%s overflows int", x)
		}
		return x.Int64(), nil
	}
	f := v.ToFloat()
	if math.IsNaN(f) {
		return 0, nil
	}
	f = math.Trunc(f)
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, bridgeerr.Conversion(op, nil, "%v overflows int", f)
	}
	return int64(f), nil
}

// CallVirtual is the host entry point of a virtual override: fn is the
// handle address of the script callback. Failures are logged.
func (g *Gateway) CallVirtual(fn hostabi.Address, instance hostabi.InstancePtr, args []hostabi.VariantPtr, ret hostabi.VariantPtr) {
	if instance == 0 {
		g.logger.Error("virtual call on null instance")
		return
	}
	if g.trace {
		g.logger.Debug("virtual call", slog.Uint64("callback", uint64(fn)), slog.Int("args", len(args)))
	}
	g.guard("call_virtual", "", func() error {
		return g.InvokeVirtual(handles.Handle(fn), handles.Handle(instance), args, ret)
	})
}

// InvokeVirtual calls the script callback fn with this bound to the object
// behind instance. Argument and return types are inferred by the script
// library.
func (g *Gateway) InvokeVirtual(fn, instance handles.Handle, args []hostabi.VariantPtr, ret hostabi.VariantPtr) error {
	const op = "marshal.InvokeVirtual"
	v, ok := g.handles.Resolve(fn)
	if !ok {
		return bridgeerr.Conversion(op, nil, "callback handle %d is not live", fn)
	}
	callable, ok := goja.AssertFunction(v)
	if !ok {
		return bridgeerr.Conversion(op, nil, "callback handle %d is not callable", fn)
	}
	self, err := g.resolveObject(op, instance)
	if err != nil {
		return err
	}
	var argv []goja.Value
	if len(args) > 0 {
		if argv, err = g.variantsToScript(args, nil); err != nil {
			return err
		}
	}
	result, err := callable(self, argv...)
	if err != nil {
		return bridgeerr.Invocation(op, err, "virtual override raised")
	}
	if ret == 0 {
		return nil
	}
	return g.returnToHost(result, goja.Undefined(), ret)
}
