package binding

import (
	"errors"
	"sync"
	"testing"
	"unsafe"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/goja-hostbridge/internal/bridgeerr"
	"github.com/joeycumines/goja-hostbridge/internal/handles"
	"github.com/joeycumines/goja-hostbridge/internal/hostabi"
	"github.com/joeycumines/goja-hostbridge/internal/memhost"
	"github.com/joeycumines/goja-hostbridge/internal/threadbridge"
	"github.com/joeycumines/goja-hostbridge/internal/typeinfo"
)

type fakeInvoker struct {
	mu        sync.Mutex
	userdata  []any
	instances []hostabi.InstancePtr
}

func (f *fakeInvoker) Call(userdata any, instance hostabi.InstancePtr, _ []hostabi.VariantPtr, _ hostabi.VariantPtr, _ *hostabi.CallError) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userdata = append(f.userdata, userdata)
	f.instances = append(f.instances, instance)
}

func (f *fakeInvoker) PtrCall(any, hostabi.InstancePtr, []unsafe.Pointer, unsafe.Pointer) {}

type fakeVirtuals struct {
	wrapped []hostabi.Address
}

func (f *fakeVirtuals) Wrap(fn hostabi.Address) hostabi.CallVirtualFunc {
	f.wrapped = append(f.wrapped, fn)
	return func(hostabi.InstancePtr, []hostabi.VariantPtr, hostabi.VariantPtr) {}
}

type fakeCallbacks struct {
	triple *hostabi.InstanceBindingCallbacks
}

func (f *fakeCallbacks) Resolve(addr hostabi.Address) (*hostabi.InstanceBindingCallbacks, error) {
	if addr != 99 {
		return nil, errors.New("unknown callbacks")
	}
	return f.triple, nil
}

type fixture struct {
	host     *memhost.Host
	lib      hostabi.Library
	bridge   *threadbridge.Bridge
	vm       *goja.Runtime
	reg      *handles.Registry
	table    *Table
	invoker  *fakeInvoker
	virtuals *fakeVirtuals
	cbs      *fakeCallbacks
}

// fixtureScript defines Foo, a scripted subclass of the host class Node,
// without the script library: owner construction and post-initialize are
// wired straight to the host and the table.
const fixtureScript = `
function sn(addr) { return {_opaque: {address: addr}}; }
var attach = true;
var fail = false;
class Foo {
	constructor() {
		if (fail) throw new Error("constructor failed");
		this.nativePtr = {address: constructObject("Node")};
		this.value = 42;
		if (attach) postInitialize(this);
	}
	get staticTypeInfo() { return this.constructor.typeInfo; }
	get_value() { return this.value; }
}
Foo.typeInfo = {className: sn(name("Foo")), parentClass: sn(name("Node")), variantType: 24};
globalThis.Foo = Foo;
`

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		host:     memhost.New(),
		bridge:   threadbridge.New(),
		invoker:  &fakeInvoker{},
		virtuals: &fakeVirtuals{},
		cbs:      &fakeCallbacks{},
	}
	t.Cleanup(func() { _ = f.bridge.Shutdown() })
	f.lib = f.host.NewLibrary()

	var err error
	f.run(t, func() {
		f.vm = goja.New()
		f.reg = handles.NewRegistry(handles.WithThreadCheck(f.bridge.OnRuntimeThread))
		f.table, err = New(Config{
			Host:      f.host,
			Library:   f.lib,
			Bridge:    f.bridge,
			Handles:   f.reg,
			Runtime:   f.vm,
			Invoker:   f.invoker,
			Virtuals:  f.virtuals,
			Callbacks: f.cbs,
			Trace:     true,
		})
		if err != nil {
			return
		}
		_ = f.vm.Set("name", func(s string) int64 { return int64(f.host.StringNameNew(s)) })
		_ = f.vm.Set("constructObject", func(class string) int64 {
			return int64(f.host.ClassDBConstructObject(f.host.StringNameNew(class)))
		})
		_ = f.vm.Set("postInitialize", func(call goja.FunctionCall) goja.Value {
			if err := f.table.AttachInstance(call.Argument(0)); err != nil {
				panic(f.vm.NewGoError(err))
			}
			return goja.Undefined()
		})
		_, err = f.vm.RunString(fixtureScript)
	})
	require.NoError(t, err)
	return f
}

// run executes fn on the runtime thread. fn must not call require.
func (f *fixture) run(t *testing.T, fn func()) {
	t.Helper()
	require.NoError(t, f.bridge.Submit(fn))
}

func (f *fixture) eval(t *testing.T, src string) goja.Value {
	t.Helper()
	var (
		v   goja.Value
		err error
	)
	f.run(t, func() { v, err = f.vm.RunString(src) })
	require.NoError(t, err)
	return v
}

func (f *fixture) typeInfo(t *testing.T, src string) typeinfo.TypeInfo {
	t.Helper()
	var (
		info typeinfo.TypeInfo
		err  error
	)
	f.run(t, func() {
		var v goja.Value
		if v, err = f.vm.RunString(src); err == nil {
			info, err = typeinfo.FromScript(v)
		}
	})
	require.NoError(t, err)
	return info
}

func (f *fixture) bindFoo(t *testing.T) {
	t.Helper()
	info := f.typeInfo(t, `Foo.typeInfo`)
	var err error
	f.run(t, func() { err = f.table.BindClass(f.vm.Get("Foo"), info) })
	require.NoError(t, err)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestBindClass_UnregisteredParent(t *testing.T) {
	f := newFixture(t)
	info := f.typeInfo(t, `({className: sn(name("Foo")), parentClass: sn(name("Bar"))})`)
	classes := f.host.Classes()

	var err error
	f.run(t, func() { err = f.table.BindClass(f.vm.Get("Foo"), info) })
	require.ErrorIs(t, err, bridgeerr.ErrRegistration)
	assert.Contains(t, err.Error(), `"Bar"`)
	assert.Equal(t, classes, f.host.Classes(), "host class database must not change")

	f.run(t, func() {
		assert.Zero(t, f.reg.Len())
		assert.Empty(t, f.table.Classes())
	})
}

func TestBindClass_NullParent(t *testing.T) {
	f := newFixture(t)
	info := f.typeInfo(t, `({className: sn(name("Foo")), parentClass: null})`)
	var err error
	f.run(t, func() { err = f.table.BindClass(f.vm.Get("Foo"), info) })
	assert.ErrorIs(t, err, bridgeerr.ErrRegistration)
	assert.False(t, f.host.ClassExists("Foo"))
}

func TestBindClass_HostRejects(t *testing.T) {
	f := newFixture(t)
	f.bindFoo(t)
	info := f.typeInfo(t, `Foo.typeInfo`)
	var err error
	f.run(t, func() {
		err = f.table.BindClass(f.vm.Get("Foo"), info)
		assert.Equal(t, 1, f.reg.Len(), "rejected class handle must be released")
	})
	assert.ErrorIs(t, err, bridgeerr.ErrRegistration)
}

func TestCreateAndFreeInstance(t *testing.T) {
	f := newFixture(t)
	f.bindFoo(t)

	obj, err := f.host.Instantiate("Foo")
	require.NoError(t, err)
	require.NotZero(t, obj)

	className, instance, ok := f.host.Instance(obj)
	require.True(t, ok)
	assert.Equal(t, "Foo", className)
	binding, ok := f.host.Binding(obj, f.lib)
	require.True(t, ok)
	assert.Equal(t, hostabi.Address(instance), binding)

	f.run(t, func() {
		assert.Equal(t, 1, f.table.InstanceCount())
		assert.Equal(t, 2, f.reg.Len())
		h, ok := f.table.instanceOf(obj)
		assert.True(t, ok)
		assert.Equal(t, handles.Handle(instance), h)
		owner, ok := f.table.ownerOf(h)
		assert.True(t, ok)
		assert.Equal(t, obj, owner)
	})

	require.NoError(t, f.host.Free(obj))
	f.run(t, func() {
		assert.Zero(t, f.table.InstanceCount())
		assert.Equal(t, 1, f.reg.Len(), "only the class handle remains")
		assert.False(t, f.reg.Live(handles.Handle(instance)))
	})
}

func TestCreateInstance_AttachesWhenConstructorDoesNot(t *testing.T) {
	f := newFixture(t)
	f.bindFoo(t)
	f.eval(t, `attach = false`)

	obj, err := f.host.Instantiate("Foo")
	require.NoError(t, err)
	_, _, ok := f.host.Instance(obj)
	assert.True(t, ok)
	f.run(t, func() { assert.Equal(t, 1, f.table.InstanceCount()) })
}

func TestCreateInstance_FailuresReturnZero(t *testing.T) {
	f := newFixture(t)
	f.bindFoo(t)

	f.eval(t, `fail = true`)
	assert.Zero(t, f.table.CreateInstance(0))
	_, err := f.host.Instantiate("Foo")
	assert.ErrorIs(t, err, memhost.ErrCreateFailed)

	f.eval(t, `fail = false; Foo.typeInfo = 1`)
	assert.Zero(t, f.table.CreateInstance(hostabi.Address(f.table.Classes()[0].Handle)))

	assert.Zero(t, f.table.CreateInstance(12345), "unknown userdata")

	f.run(t, func() { assert.Zero(t, f.table.InstanceCount()) })
}

func TestAttachInstance_Twice(t *testing.T) {
	f := newFixture(t)
	f.bindFoo(t)

	var err error
	f.run(t, func() {
		self, newErr := f.vm.New(f.vm.Get("Foo"))
		if assert.NoError(t, newErr) {
			err = f.table.AttachInstance(self)
		}
	})
	assert.ErrorIs(t, err, bridgeerr.ErrProtocolViolation)

	f.run(t, func() { err = f.table.AttachInstance(goja.Undefined()) })
	assert.ErrorIs(t, err, bridgeerr.ErrConversion)
}

func TestGetVirtual(t *testing.T) {
	f := newFixture(t)
	f.bindFoo(t)
	userdata := hostabi.Address(f.table.Classes()[0].Handle)

	assert.Nil(t, f.table.GetVirtual(userdata, f.host.StringNameNew("_ready")), "no vTable")

	f.eval(t, `Foo.vTable = {_ready: {address: 5}, _bad: {}}`)
	assert.NotNil(t, f.table.GetVirtual(userdata, f.host.StringNameNew("_ready")))
	assert.Equal(t, []hostabi.Address{5}, f.virtuals.wrapped)

	assert.Nil(t, f.table.GetVirtual(userdata, f.host.StringNameNew("_process")))
	assert.Nil(t, f.table.GetVirtual(userdata, f.host.StringNameNew("toString")), "inherited properties are not overrides")
	assert.Nil(t, f.table.GetVirtual(userdata, f.host.StringNameNew("_bad")))
	assert.Nil(t, f.table.GetVirtual(777, f.host.StringNameNew("_ready")))
	assert.Len(t, f.virtuals.wrapped, 1)
}

func TestBindMethod(t *testing.T) {
	f := newFixture(t)
	f.bindFoo(t)
	foo := f.typeInfo(t, `Foo.typeInfo`)
	intType := typeinfo.TypeInfo{TypeName: f.host.StringNameNew(""), VariantType: hostabi.VariantInt}
	strType := typeinfo.TypeInfo{TypeName: f.host.StringNameNew(""), VariantType: hostabi.VariantString}

	var (
		getValue *typeinfo.MethodInfo
		err      error
	)
	f.run(t, func() {
		getValue, err = f.table.BindMethod(foo, "get_value", intType, nil)
		assert.NoError(t, err)
		_, err = f.table.BindMethod(foo, "_ready", typeinfo.TypeInfo{}, nil)
		assert.NoError(t, err)
		_, err = f.table.BindMethod(foo, "describe", strType, []typeinfo.TypeInfo{intType})
		assert.NoError(t, err)
		_, err = f.table.BindMethod(foo, "get_value", intType, nil)
		assert.ErrorIs(t, err, bridgeerr.ErrRegistration)
		_, err = f.table.BindMethod(foo, "", intType, nil)
		assert.ErrorIs(t, err, bridgeerr.ErrRegistration)
		assert.Len(t, f.table.Methods(), 3)
	})

	info, ok := f.host.ClassInfo("Foo")
	require.True(t, ok)
	require.Len(t, info.Methods, 3)

	assert.Equal(t, "get_value", info.Methods[0].Name)
	assert.False(t, info.Methods[0].Virtual())
	assert.True(t, info.Methods[0].HasReturnValue)
	assert.True(t, info.Methods[0].PtrCall)

	assert.Equal(t, "_ready", info.Methods[1].Name)
	assert.True(t, info.Methods[1].Virtual())
	assert.False(t, info.Methods[1].HasReturnValue)

	assert.False(t, info.Methods[2].PtrCall, "string return stays on the variant path")
	assert.Equal(t, []hostabi.VariantType{hostabi.VariantInt}, info.Methods[2].Arguments)

	obj, err := f.host.Instantiate("Foo")
	require.NoError(t, err)
	_, err = f.host.Call(obj, "get_value")
	require.NoError(t, err)
	require.Len(t, f.invoker.userdata, 1)
	assert.Same(t, getValue, f.invoker.userdata[0])
	_, instance, _ := f.host.Instance(obj)
	assert.Equal(t, instance, f.invoker.instances[0])
}

func TestScriptObjectFor(t *testing.T) {
	f := newFixture(t)
	f.bindFoo(t)
	obj, err := f.host.Instantiate("Foo")
	require.NoError(t, err)
	plain, err := f.host.Instantiate("Node")
	require.NoError(t, err)

	f.run(t, func() {
		v, err := f.table.ScriptObjectFor(obj, 0)
		assert.NoError(t, err)
		h, _ := f.table.instanceOf(obj)
		want, _ := f.reg.Resolve(h)
		assert.Same(t, want, v)

		// bound instances never consult binding callbacks
		v, err = f.table.ScriptObjectFor(obj, 42)
		assert.NoError(t, err)
		assert.Same(t, want, v)

		v, err = f.table.ScriptObjectFor(plain, 0)
		assert.NoError(t, err)
		assert.True(t, goja.IsNull(v))

		_, err = f.table.ScriptObjectFor(plain, 42)
		assert.Error(t, err)
	})

	var created bool
	f.cbs.triple = &hostabi.InstanceBindingCallbacks{
		Create: func(hostabi.Library, hostabi.ObjectPtr) hostabi.Address {
			created = true
			return 0
		},
	}
	f.run(t, func() {
		v, err := f.table.ScriptObjectFor(plain, 99)
		assert.NoError(t, err)
		assert.True(t, goja.IsNull(v))
	})
	assert.True(t, created)
}

func TestClose(t *testing.T) {
	f := newFixture(t)
	f.bindFoo(t)
	require.True(t, f.host.ClassExists("Foo"))

	var err error
	f.run(t, func() {
		err = f.table.Close()
		assert.Zero(t, f.reg.Len())
		assert.NoError(t, f.table.Close())
	})
	require.NoError(t, err)
	assert.False(t, f.host.ClassExists("Foo"))

	info := f.typeInfo(t, `Foo.typeInfo`)
	f.run(t, func() { err = f.table.BindClass(f.vm.Get("Foo"), info) })
	assert.ErrorIs(t, err, bridgeerr.ErrProtocolViolation)
}

func TestDefaultCallbacks(t *testing.T) {
	assert.Zero(t, DefaultCallbacks.Create(1, 2))
	assert.True(t, DefaultCallbacks.Reference(1, 2, false))
	assert.NotPanics(t, func() { DefaultCallbacks.Free(1, 2, 3) })
}
