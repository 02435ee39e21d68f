// Package extension is the bridge's context object: it brings up the
// scripting runtime on its own thread, loads the script library, registers
// the host primitives with it, runs the user script, and tears everything
// down again in order.
//
// A Bindings value is the only state the bridge has. Host callbacks reach it
// through the closures and userdata handed to the host at registration, so
// several independent Bindings may coexist in one process.
package extension

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/require"
	"github.com/google/uuid"

	"github.com/joeycumines/goja-hostbridge/internal/binding"
	"github.com/joeycumines/goja-hostbridge/internal/bridgeerr"
	"github.com/joeycumines/goja-hostbridge/internal/handles"
	"github.com/joeycumines/goja-hostbridge/internal/hostabi"
	"github.com/joeycumines/goja-hostbridge/internal/marshal"
	"github.com/joeycumines/goja-hostbridge/internal/threadbridge"
)

// DefaultEntry is the function invoked once the user script has run.
const DefaultEntry = "main"

// Exports the script library must provide.
const (
	exportRegisterHost     = "_registerHost"
	exportUnregisterHost   = "_unregisterHost"
	exportVariantsToScript = "_variantsToScript"
	exportConvertToVariant = "_convertToVariant"
)

var requiredExports = [...]string{
	exportRegisterHost,
	exportUnregisterHost,
	exportVariantsToScript,
	exportConvertToVariant,
}

// Options configure Initialize.
type Options struct {
	// Script is the source of the user script.
	Script string
	// ScriptName is used in stack traces. Defaults to "main.js".
	ScriptName string
	// Entry names the global function called after Script has run.
	// Defaults to DefaultEntry.
	Entry string
	// Library is the token identifying this extension to the host. Required.
	Library hostabi.Library
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// TraceCalls logs every host callback at debug level.
	TraceCalls bool
	// ModulePaths are extra folders searched by require.
	ModulePaths []string
}

// Bindings is a running bridge between one host and one scripting runtime.
type Bindings struct {
	id     uuid.UUID
	logger *slog.Logger
	host   hostabi.Interface
	lib    hostabi.Library
	opts   Options

	bridge *threadbridge.Bridge

	// Owned by the runtime thread.
	vm         *goja.Runtime
	registry   *require.Registry
	handles    *handles.Registry
	table      *binding.Table
	gateway    *marshal.Gateway
	virtuals   *virtualWrapper
	resolver   *callbackResolver
	pointer    *goja.Object
	unregister goja.Callable
	registered bool
	retained   []handles.Handle

	closed    atomic.Bool
	stopAfter func() bool
}

// Initialize brings up the bridge for host: it starts the runtime thread,
// loads the script library, registers the host with it, runs opts.Script and
// calls its entry function. Any failure is an initialization error and
// leaves nothing registered with the host.
//
// The bindings shut down when ctx is done, or when Shutdown is called.
func Initialize(ctx context.Context, host hostabi.Interface, opts Options) (*Bindings, error) {
	const op = "extension.Initialize"
	if host == nil {
		return nil, bridgeerr.Initialization(op, nil, "nil host")
	}
	if opts.Library == 0 {
		return nil, bridgeerr.Initialization(op, nil, "no library token")
	}
	if opts.Entry == "" {
		opts.Entry = DefaultEntry
	}
	if opts.ScriptName == "" {
		opts.ScriptName = "main.js"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	id := uuid.New()
	b := &Bindings{
		id:     id,
		logger: logger.With(slog.String("bridge", id.String())),
		host:   host,
		lib:    opts.Library,
		opts:   opts,
	}
	b.bridge = threadbridge.New(threadbridge.WithLogger(b.logger))

	var err error
	if subErr := b.bridge.Submit(func() { err = b.bringUp() }); subErr != nil {
		err = bridgeerr.Initialization(op, subErr, "bring-up failed")
	}
	if err != nil {
		b.closed.Store(true)
		if subErr := b.bridge.Submit(func() {
			if tdErr := b.teardown(); tdErr != nil {
				b.logger.Warn("teardown after failed bring-up", slog.Any("error", tdErr))
			}
		}); subErr != nil {
			b.logger.Warn("teardown after failed bring-up", slog.Any("error", subErr))
		}
		_ = b.bridge.Shutdown()
		return nil, err
	}

	b.stopAfter = context.AfterFunc(ctx, func() {
		if err := b.Shutdown(); err != nil {
			b.logger.Error("shutdown failed", slog.Any("error", err))
		}
	})
	b.logger.Info("bindings initialized",
		slog.String("script", opts.ScriptName),
		slog.Int("thread", b.bridge.ThreadID()))
	return b, nil
}

// bringUp runs on the runtime thread.
func (b *Bindings) bringUp() error {
	const op = "extension.Initialize"

	b.vm = goja.New()
	b.handles = handles.NewRegistry(handles.WithThreadCheck(b.bridge.OnRuntimeThread))
	b.registry = require.NewRegistry(require.WithGlobalFolders(b.opts.ModulePaths...))
	b.registry.RegisterNativeModule(NativeModuleName, b.requireNative)
	b.registry.RegisterNativeModule(ModuleName, b.requirePrelude)
	b.registry.RegisterNativeModule(console.ModuleName, console.RequireWithPrinter(consolePrinter{logger: b.logger}))
	req := b.registry.Enable(b.vm)
	console.Enable(b.vm)

	lib, err := requireModule(req, ModuleName)
	if err != nil {
		return bridgeerr.Initialization(op, err, "loading %s", ModuleName)
	}
	exports := lib.ToObject(b.vm)
	fns := make(map[string]goja.Callable, len(requiredExports))
	for _, name := range requiredExports {
		fn, ok := goja.AssertFunction(exports.Get(name))
		if !ok {
			return bridgeerr.Initialization(op, nil, "%s does not export %s", ModuleName, name)
		}
		fns[name] = fn
	}
	b.unregister = fns[exportUnregisterHost]
	if p, ok := exports.Get("Pointer").(*goja.Object); ok {
		b.pointer = p
	}

	b.gateway, err = marshal.New(marshal.Config{
		Host:             b.host,
		Bridge:           b.bridge,
		Handles:          b.handles,
		Runtime:          b.vm,
		VariantsToScript: fns[exportVariantsToScript],
		ConvertToVariant: fns[exportConvertToVariant],
		Logger:           b.logger,
		Trace:            b.opts.TraceCalls,
	})
	if err != nil {
		return bridgeerr.Initialization(op, err, "creating gateway")
	}
	b.virtuals = newVirtualWrapper(b.gateway)
	b.resolver = newCallbackResolver(b)
	b.table, err = binding.New(binding.Config{
		Host:      b.host,
		Library:   b.lib,
		Bridge:    b.bridge,
		Handles:   b.handles,
		Runtime:   b.vm,
		Invoker:   b.gateway,
		Virtuals:  b.virtuals,
		Callbacks: b.resolver,
		Logger:    b.logger,
		Trace:     b.opts.TraceCalls,
	})
	if err != nil {
		return bridgeerr.Initialization(op, err, "creating binding table")
	}

	if _, err := fns[exportRegisterHost](goja.Undefined(), b.newFFI()); err != nil {
		return bridgeerr.Initialization(op, err, "registering host")
	}
	b.registered = true

	if _, err := b.vm.RunScript(b.opts.ScriptName, b.opts.Script); err != nil {
		return bridgeerr.Initialization(op, err, "running %s", b.opts.ScriptName)
	}
	entry, ok := goja.AssertFunction(b.vm.Get(b.opts.Entry))
	if !ok {
		return bridgeerr.Initialization(op, nil, "entry point %q is not a function", b.opts.Entry)
	}
	if _, err := entry(goja.Undefined()); err != nil {
		return bridgeerr.Initialization(op, err, "entry point %q", b.opts.Entry)
	}
	return nil
}

// requireModule loads a module, converting a panicking loader into an error.
func requireModule(req *require.RequireModule, name string) (v goja.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = bridgeerr.FromPanic(bridgeerr.KindInitialization, "require "+name, r)
		}
	}()
	return req.Require(name)
}

// Shutdown tears the bindings down: natives and host primitives start
// throwing, the library's _unregisterHost runs, every class is unregistered
// from the host, retained callbacks are released, and the runtime thread
// exits. Safe to call more than once, but not from the runtime thread.
func (b *Bindings) Shutdown() error {
	if b.bridge.OnRuntimeThread() {
		return bridgeerr.ProtocolViolation("extension.Shutdown", nil, "cannot shut down from the runtime thread")
	}
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	if b.stopAfter != nil {
		b.stopAfter()
	}

	var err error
	if subErr := b.bridge.Submit(func() { err = b.teardown() }); subErr != nil {
		err = errors.Join(err, subErr)
	}
	err = errors.Join(err, b.bridge.Shutdown())
	b.logger.Info("bindings shut down")
	return err
}

// teardown runs on the runtime thread, after closed is set.
func (b *Bindings) teardown() error {
	var errs []error
	if b.registered {
		b.registered = false
		if _, err := b.unregister(goja.Undefined()); err != nil {
			errs = append(errs, bridgeerr.Invocation("extension.Shutdown", err, "%s", exportUnregisterHost))
		}
	}
	if b.table != nil {
		errs = append(errs, b.table.Close())
	}
	for _, h := range b.retained {
		b.handles.Release(h)
	}
	b.retained = nil
	return errors.Join(errs...)
}

func (b *Bindings) pointerBox(addr hostabi.Address) goja.Value {
	if b.pointer != nil {
		if v, err := b.vm.New(b.pointer, b.vm.ToValue(int64(addr))); err == nil {
			return v
		}
	}
	box := b.vm.NewObject()
	_ = box.Set("address", int64(addr))
	return box
}

// Submit runs work on the runtime thread. See threadbridge.Bridge.Submit.
func (b *Bindings) Submit(work func()) error {
	return b.bridge.Submit(work)
}

// Run runs fn on the runtime thread with the runtime, returning its error.
func (b *Bindings) Run(fn func(vm *goja.Runtime) error) error {
	var err error
	if subErr := b.bridge.Submit(func() { err = fn(b.vm) }); subErr != nil {
		return subErr
	}
	return err
}

// Stats is a snapshot of the bindings' bookkeeping.
type Stats struct {
	Classes   int
	Methods   int
	Instances int
	Handles   int
	Virtuals  int
}

// Stats reads the bookkeeping counters on the runtime thread.
func (b *Bindings) Stats() (Stats, error) {
	return threadbridge.Call(b.bridge, func() (Stats, error) {
		return Stats{
			Classes:   len(b.table.Classes()),
			Methods:   len(b.table.Methods()),
			Instances: b.table.InstanceCount(),
			Handles:   b.handles.Len(),
			Virtuals:  b.virtuals.len(),
		}, nil
	})
}

// ID identifies these bindings in logs.
func (b *Bindings) ID() uuid.UUID { return b.id }

// Logger returns the logger carrying the bindings' id.
func (b *Bindings) Logger() *slog.Logger { return b.logger }

// Library returns the host library token.
func (b *Bindings) Library() hostabi.Library { return b.lib }

// Table returns the binding table. Its methods must be called on the runtime
// thread.
func (b *Bindings) Table() *binding.Table { return b.table }

// Handles returns the handle registry. It must only be used on the runtime
// thread.
func (b *Bindings) Handles() *handles.Registry { return b.handles }

// Done is closed once the runtime thread has exited.
func (b *Bindings) Done() <-chan struct{} { return b.bridge.Done() }
