package extension

import (
	_ "embed"
	"fmt"

	"github.com/dop251/goja"
)

const (
	// ModuleName is the script library scripts require to define classes.
	ModuleName = "hostbridge"
	// NativeModuleName exposes the native functions the library is built on.
	NativeModuleName = ModuleName + ":native"
)

//go:embed prelude.js
var preludeSource string

var preludeProgram = goja.MustCompile(ModuleName+".js", "(function(exports, require, module) {"+preludeSource+"\n})", true)

// requirePrelude is the loader of the script library. The library is an
// embedded CommonJS module evaluated with the registry's require.
func (b *Bindings) requirePrelude(runtime *goja.Runtime, module *goja.Object) {
	wrapper, err := runtime.RunProgram(preludeProgram)
	if err != nil {
		panic(runtime.NewGoError(fmt.Errorf("%s: %w", ModuleName, err)))
	}
	fn, ok := goja.AssertFunction(wrapper)
	if !ok {
		panic(runtime.NewTypeError("%s: module wrapper is not a function", ModuleName))
	}
	if _, err := fn(goja.Undefined(), module.Get("exports"), runtime.Get("require"), module); err != nil {
		panic(runtime.NewGoError(fmt.Errorf("%s: %w", ModuleName, err)))
	}
}
