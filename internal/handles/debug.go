//go:build debug

package handles

import (
	"fmt"
	"runtime"
)

// DebugChecks reports whether precondition checks are compiled in.
const DebugChecks = true

func debugAssertThread(r *Registry, op string) {
	if r.onThread != nil && !r.onThread() {
		panic(fmt.Sprintf("handles: %s called off the runtime thread\n%s", op, stack()))
	}
}

func debugRecordRelease(r *Registry, h Handle) {
	if r.released == nil {
		r.released = make(map[Handle]struct{})
	}
	r.released[h] = struct{}{}
}

func debugCheckRelease(r *Registry, h Handle) {
	if _, ok := r.released[h]; ok {
		panic(fmt.Sprintf("handles: persistent handle %d released twice\n%s", h, stack()))
	}
	panic(fmt.Sprintf("handles: release of unknown persistent handle %d\n%s", h, stack()))
}

func debugCheckResolve(r *Registry, h Handle) {
	if _, ok := r.released[h]; ok {
		panic(fmt.Sprintf("handles: persistent handle %d used after release\n%s", h, stack()))
	}
}

func stack() []byte {
	buf := make([]byte, 4096)
	return buf[:runtime.Stack(buf, false)]
}
