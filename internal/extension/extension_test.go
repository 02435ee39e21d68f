package extension

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/goja-hostbridge/internal/bridgeerr"
	"github.com/joeycumines/goja-hostbridge/internal/hostabi"
	"github.com/joeycumines/goja-hostbridge/internal/logging"
	"github.com/joeycumines/goja-hostbridge/internal/memhost"
	"github.com/joeycumines/goja-hostbridge/internal/testutil"
)

// fooScript defines Foo, a scripted subclass of the host class Bar, plus a
// Node binding-callback triple that records what it sees.
const fooScript = `
const hb = require('hostbridge');
globalThis.hb = hb;

const Bar = hb.defineHostClass('Bar');

class Foo extends Bar {
	constructor() {
		super();
		this.value = 42;
		this.postInitialize();
	}
	get_value() { return this.value; }
	set_value(v) { this.value = v; }
	add(a, b) { return a + b; }
	greet(name) { return 'hi ' + name; }
	peer_value(other) { return other.value; }
	self_ref() { return this; }
	fail() { throw new Error('scripted failure'); }
}
Foo.typeInfo = new hb.TypeInfo('Foo', 'Bar');
Foo.vTable = {
	_ready: hb.callback(function () { return this.value + 1; }),
};

class Orphan extends Bar {}
Orphan.typeInfo = new hb.TypeInfo('Orphan', 'Nope');

var created = [];
var freed = [];
var nodeCallbacks = hb.bindingCallbacks({
	create(ptr) { created.push(ptr.address); return {wrapped: ptr.address}; },
	free(v) { freed.push(v.wrapped); },
});

var orphanError = null;

function main() {
	hb.registerClass(Foo, [
		hb.method('get_value', 'int'),
		hb.method('set_value', 'void', ['int']),
		hb.method('add', 'int', ['int', 'int']),
		hb.method('greet', 'string', ['string']),
		hb.method('peer_value', 'int', [Foo]),
		hb.method('self_ref', Foo),
		hb.method('fail', 'int'),
		hb.method('_ready', 'int'),
	]);
	try {
		hb.registerClass(Orphan, []);
	} catch (e) {
		orphanError = String(e);
	}
	console.log('registered ' + hb.isScripted(Foo));
}
`

type fixture struct {
	host *memhost.Host
	logs *logging.Handler
	b    *Bindings
}

func newFixture(t *testing.T, script string) *fixture {
	t.Helper()
	f := &fixture{
		host: memhost.New(),
		logs: logging.NewHandler(logging.HandlerOptions{Level: slog.LevelDebug}),
	}
	require.NoError(t, f.host.DefineClass("Bar", "Node"))
	b, err := Initialize(context.Background(), f.host, Options{
		Script:     script,
		Library:    f.host.NewLibrary(),
		Logger:     slog.New(f.logs),
		TraceCalls: true,
	})
	require.NoError(t, err)
	f.b = b
	t.Cleanup(func() { _ = b.Shutdown() })
	return f
}

func (f *fixture) eval(t *testing.T, src string) goja.Value {
	t.Helper()
	var v goja.Value
	require.NoError(t, f.b.Run(func(vm *goja.Runtime) error {
		var err error
		v, err = vm.RunString(src)
		return err
	}))
	return v
}

func (f *fixture) instantiate(t *testing.T) hostabi.ObjectPtr {
	t.Helper()
	obj, err := f.host.Instantiate("Foo")
	require.NoError(t, err)
	require.NotZero(t, obj)
	return obj
}

func TestInitialize_RegistersClasses(t *testing.T) {
	f := newFixture(t, fooScript)

	info, ok := f.host.ClassInfo("Foo")
	require.True(t, ok)
	assert.Equal(t, "Bar", info.Parent)
	assert.True(t, info.Extension)

	byName := make(map[string]memhost.MethodInfo)
	for _, m := range info.Methods {
		byName[m.Name] = m
	}
	require.Len(t, byName, 8)
	assert.True(t, byName["_ready"].Virtual())
	assert.False(t, byName["get_value"].Virtual())
	assert.True(t, byName["add"].PtrCall)
	assert.False(t, byName["greet"].PtrCall)
	assert.False(t, byName["set_value"].HasReturnValue)

	stats, err := f.b.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Classes)
	assert.Equal(t, 8, stats.Methods)
	assert.Zero(t, stats.Instances)

	assert.NotEmpty(t, f.logs.Search("registered true"))
}

func TestInitialize_UnregisteredParent(t *testing.T) {
	f := newFixture(t, fooScript)
	assert.False(t, f.host.ClassExists("Orphan"))
	assert.Contains(t, f.eval(t, "orphanError").String(), string(bridgeerr.KindRegistration))
}

func TestBindClass_MalformedParent(t *testing.T) {
	f := newFixture(t, fooScript)
	f.eval(t, `
		globalThis.Malformed = class Malformed extends hb.defineHostClass('Bar') {};
		Malformed.typeInfo = new hb.TypeInfo('Malformed', 'Bar');
		Malformed.typeInfo.parentClass = {bogus: 1};
	`)

	var bindErr error
	require.NoError(t, f.b.Run(func(vm *goja.Runtime) error {
		cls := vm.Get("Malformed").ToObject(vm)
		_, bindErr = f.b.nativeBindClass(goja.FunctionCall{Arguments: []goja.Value{cls, cls.Get("typeInfo")}})
		return nil
	}))
	assert.ErrorIs(t, bindErr, bridgeerr.ErrRegistration)

	msg := f.eval(t, `
		let malformedError = '';
		try { hb.registerClass(Malformed, []); } catch (e) { malformedError = String(e); }
		malformedError;
	`)
	assert.Contains(t, msg.String(), string(bridgeerr.KindRegistration))
	assert.False(t, f.host.ClassExists("Malformed"))
}

func TestCall_VariantPath(t *testing.T) {
	f := newFixture(t, fooScript)
	obj := f.instantiate(t)

	class, instance, ok := f.host.Instance(obj)
	require.True(t, ok)
	assert.Equal(t, "Foo", class)
	assert.NotZero(t, instance)

	v, err := f.host.Call(obj, "get_value")
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	v, err = f.host.Call(obj, "add", 2, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)

	v, err = f.host.Call(obj, "greet", "bob")
	require.NoError(t, err)
	assert.Equal(t, "hi bob", v)

	v, err = f.host.Call(obj, "self_ref")
	require.NoError(t, err)
	assert.Equal(t, obj, v)

	v, err = f.host.Call(obj, "set_value", 7)
	require.NoError(t, err)
	assert.Nil(t, v)
	v, err = f.host.Call(obj, "get_value")
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)
}

func TestCall_ObjectArgument(t *testing.T) {
	f := newFixture(t, fooScript)
	a, b := f.instantiate(t), f.instantiate(t)

	_, err := f.host.Call(b, "set_value", 9)
	require.NoError(t, err)
	v, err := f.host.Call(a, "peer_value", b)
	require.NoError(t, err)
	assert.Equal(t, int64(9), v)
}

func TestCall_ArgumentCountReported(t *testing.T) {
	f := newFixture(t, fooScript)
	obj := f.instantiate(t)

	_, err := f.host.Call(obj, "add", 1)
	var callErr *memhost.CallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, hostabi.CallErrorTooFewArguments, callErr.CallError.Error)
	assert.Equal(t, int32(2), callErr.Expected)
}

func TestCall_ScriptExceptionIsLogged(t *testing.T) {
	f := newFixture(t, fooScript)
	obj := f.instantiate(t)

	v, err := f.host.Call(obj, "fail")
	require.NoError(t, err)
	assert.Nil(t, v)
	assert.NotEmpty(t, f.logs.Search("scripted failure"))
}

const wideScript = `
const hb = require('hostbridge');

class Wide extends hb.defineHostClass('Bar') {
	big() { return Math.pow(2, 64); }
	low() { return -Math.pow(2, 63); }
	safe() { return Number.MAX_SAFE_INTEGER; }
}
Wide.typeInfo = new hb.TypeInfo('Wide', 'Bar');

function main() {
	hb.registerClass(Wide, [
		hb.method('big', 'int'),
		hb.method('low', 'int'),
		hb.method('safe', 'int'),
	]);
}
`

func TestIntReturn_OutOfRange(t *testing.T) {
	f := newFixture(t, wideScript)
	obj, err := f.host.Instantiate("Wide")
	require.NoError(t, err)

	v, err := f.host.Call(obj, "big")
	require.NoError(t, err)
	assert.Nil(t, v, "return slot is left untouched")
	assert.NotEmpty(t, f.logs.Search("overflows int"))

	f.logs.Clear()
	v, err = f.host.PtrCall(obj, "big")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v, "return slot is left untouched")
	assert.NotEmpty(t, f.logs.Search("overflows int"))

	for _, method := range []string{"low", "safe"} {
		want := map[string]int64{"low": math.MinInt64, "safe": 1<<53 - 1}[method]
		v, err = f.host.Call(obj, method)
		require.NoError(t, err)
		assert.Equal(t, want, v, method)
		v, err = f.host.PtrCall(obj, method)
		require.NoError(t, err)
		assert.Equal(t, want, v, method)
	}
}

func TestPtrCall(t *testing.T) {
	f := newFixture(t, fooScript)
	obj := f.instantiate(t)

	v, err := f.host.PtrCall(obj, "add", int64(40), int64(2))
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	v, err = f.host.PtrCall(obj, "get_value")
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)
}

func TestCallVirtual(t *testing.T) {
	f := newFixture(t, fooScript)
	obj := f.instantiate(t)

	v, found, err := f.host.CallVirtual(obj, "_ready")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(43), v)

	_, found, err = f.host.CallVirtual(obj, "_process")
	require.NoError(t, err)
	assert.False(t, found)

	stats, err := f.b.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Virtuals)
}

func TestInstanceLifecycle_ReleasesHandles(t *testing.T) {
	f := newFixture(t, fooScript)
	before, err := f.b.Stats()
	require.NoError(t, err)

	obj := f.instantiate(t)
	during, err := f.b.Stats()
	require.NoError(t, err)
	assert.Equal(t, before.Instances+1, during.Instances)
	assert.Equal(t, before.Handles+1, during.Handles)

	require.NoError(t, f.host.Free(obj))
	after, err := f.b.Stats()
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Zero(t, f.host.VariantCount())
}

func TestBindingCallbacks_HostNativeObject(t *testing.T) {
	f := newFixture(t, fooScript)
	node, err := f.host.Instantiate("Node")
	require.NoError(t, err)

	src := fmt.Sprintf("hb.toScriptObject(%d, nodeCallbacks).wrapped", node)
	assert.Equal(t, int64(node), f.eval(t, src).ToInteger())
	assert.Equal(t, int64(node), f.eval(t, src).ToInteger(), "binding is created once")
	assert.Equal(t, int64(1), f.eval(t, "created.length").ToInteger())

	require.NoError(t, f.host.Free(node))
	assert.Equal(t, int64(node), f.eval(t, "freed[0]").ToInteger())
}

func TestToScriptObject_UnboundAndNull(t *testing.T) {
	f := newFixture(t, fooScript)
	node, err := f.host.Instantiate("Node")
	require.NoError(t, err)

	assert.True(t, goja.IsNull(f.eval(t, "hb.toScriptObject(0)")))
	v := f.eval(t, fmt.Sprintf("const p = hb.toScriptObject(%d); p instanceof hb.Pointer && p.address", node))
	assert.Equal(t, int64(node), v.ToInteger())
}

func TestHostStringRoundTrip(t *testing.T) {
	f := newFixture(t, fooScript)
	assert.Equal(t, "héllo", f.eval(t, "new hb.HostString('héllo').toString()").String())
	assert.Equal(t, "Foo", f.eval(t, "String(new hb.StringName('Foo'))").String())
}

func TestVariantValues(t *testing.T) {
	f := newFixture(t, fooScript)
	before := f.host.VariantCount()
	v := f.eval(t, `
		const a = hb._convertToVariant(1.5);
		const b = hb._convertToVariant(a);
		const out = [a.type, a.value, b.type, b.value, hb._convertToVariant('x', hb.VariantType.string).value];
		a.destroy(); b.destroy();
		out.join(',');
	`)
	assert.Equal(t, "3,1.5,3,1.5,x", v.String())
	assert.Equal(t, before+1, f.host.VariantCount(), "only the unreleased string variant remains")
}

func TestNativesThrowOnceClosed(t *testing.T) {
	f := newFixture(t, fooScript)
	f.b.closed.Store(true)
	defer f.b.closed.Store(false)

	v := f.eval(t, `
		let msg = '';
		try { new hb.HostString('x'); } catch (e) { msg = String(e); }
		msg;
	`)
	assert.Contains(t, v.String(), "shut down")
}

func TestConsoleRoutesToLogger(t *testing.T) {
	f := newFixture(t, fooScript)
	f.eval(t, `console.warn('careful'); console.error('broken');`)

	warn := f.logs.Search("careful")
	require.Len(t, warn, 1)
	assert.Equal(t, slog.LevelWarn, warn[0].Level)
	assert.Equal(t, "script", warn[0].Attrs["source"])
	assert.Equal(t, f.b.ID().String(), warn[0].Attrs["bridge"])
	require.Len(t, f.logs.Search("broken"), 1)
}

func TestShutdown(t *testing.T) {
	f := newFixture(t, fooScript)
	obj := f.instantiate(t)
	require.True(t, f.host.ClassExists("Foo"))

	require.NoError(t, f.b.Shutdown())
	assert.False(t, f.host.ClassExists("Foo"))
	assert.True(t, f.host.ClassExists("Bar"))
	require.NoError(t, testutil.WaitClosed(f.b.Done(), testutil.DefaultTimeout))

	err := f.b.Submit(func() {})
	assert.ErrorIs(t, err, bridgeerr.ErrProtocolViolation)
	assert.NoError(t, f.b.Shutdown(), "second shutdown is a no-op")

	// the host can still drop the object; the callback is refused and logged
	require.NoError(t, f.host.Free(obj))
}

func TestShutdown_FromRuntimeThread(t *testing.T) {
	f := newFixture(t, fooScript)
	var err error
	require.NoError(t, f.b.Submit(func() { err = f.b.Shutdown() }))
	assert.ErrorIs(t, err, bridgeerr.ErrProtocolViolation)
}

func TestShutdown_OnContextCancel(t *testing.T) {
	h := memhost.New()
	require.NoError(t, h.DefineClass("Bar", "Node"))
	ctx, cancel := context.WithCancel(context.Background())
	b, err := Initialize(ctx, h, Options{
		Script:  fooScript,
		Library: h.NewLibrary(),
		Logger:  slog.New(logging.NewHandler(logging.HandlerOptions{})),
	})
	require.NoError(t, err)
	require.True(t, h.ClassExists("Foo"))

	cancel()
	require.NoError(t, testutil.WaitClosed(b.Done(), testutil.DefaultTimeout))
	assert.NoError(t, testutil.Poll(context.Background(), func() bool { return !h.ClassExists("Foo") }, testutil.DefaultTimeout, 10*time.Millisecond))
	assert.NoError(t, b.Shutdown())
}

func TestInitialize_Errors(t *testing.T) {
	for _, tc := range []struct {
		name   string
		script string
		entry  string
		want   string
	}{
		{"syntax error", "function main( {", "", "running main.js"},
		{"missing entry", "var x = 1;", "", `entry point "main"`},
		{"custom entry missing", fooScript, "start", `entry point "start"`},
		{"entry throws", "function main() { throw new Error('boom'); }", "", "boom"},
		{"bad require", "require('no-such-module'); function main() {}", "", "running main.js"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := memhost.New()
			require.NoError(t, h.DefineClass("Bar", "Node"))
			b, err := Initialize(context.Background(), h, Options{
				Script:  tc.script,
				Entry:   tc.entry,
				Library: h.NewLibrary(),
				Logger:  slog.New(logging.NewHandler(logging.HandlerOptions{})),
			})
			assert.Nil(t, b)
			require.Error(t, err)
			assert.True(t, errors.Is(err, bridgeerr.ErrInitialization), err.Error())
			assert.Contains(t, err.Error(), tc.want)
			assert.False(t, h.ClassExists("Foo"))
		})
	}
}

func TestInitialize_FailureUnregistersClasses(t *testing.T) {
	h := memhost.New()
	require.NoError(t, h.DefineClass("Bar", "Node"))
	_, err := Initialize(context.Background(), h, Options{
		Script:  fooScript + "\nmain = function () { hb.registerClass(Foo, []); throw new Error('late'); };",
		Library: h.NewLibrary(),
		Logger:  slog.New(logging.NewHandler(logging.HandlerOptions{})),
	})
	require.ErrorIs(t, err, bridgeerr.ErrInitialization)
	assert.False(t, h.ClassExists("Foo"))
}

func TestInitialize_InvalidOptions(t *testing.T) {
	_, err := Initialize(context.Background(), nil, Options{Library: 1})
	assert.ErrorIs(t, err, bridgeerr.ErrInitialization)
	_, err = Initialize(context.Background(), memhost.New(), Options{})
	assert.ErrorIs(t, err, bridgeerr.ErrInitialization)
}

func TestIndependentBindings(t *testing.T) {
	f1 := newFixture(t, fooScript)
	f2 := newFixture(t, fooScript)
	assert.NotEqual(t, f1.b.ID(), f2.b.ID())

	o1, o2 := f1.instantiate(t), f2.instantiate(t)
	_, err := f1.host.Call(o1, "set_value", 1)
	require.NoError(t, err)
	v, err := f2.host.Call(o2, "get_value")
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)
}
