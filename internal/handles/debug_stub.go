//go:build !debug

package handles

// DebugChecks reports whether precondition checks are compiled in.
const DebugChecks = false

func debugAssertThread(*Registry, string) {}

func debugRecordRelease(*Registry, Handle) {}

func debugCheckRelease(*Registry, Handle) {}

func debugCheckResolve(*Registry, Handle) {}
