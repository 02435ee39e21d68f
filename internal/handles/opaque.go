package handles

import (
	"math"
	"math/big"

	"github.com/dop251/goja"

	"github.com/joeycumines/goja-hostbridge/internal/bridgeerr"
	"github.com/joeycumines/goja-hostbridge/internal/hostabi"
)

// Field names of the opaque box convention.
const (
	opaqueField  = "_opaque"
	addressField = "address"
)

// OpaqueAddress recovers the host address boxed in v._opaque.address. This
// and PointerAddress are the only places that trust the runtime's value
// layout.
func OpaqueAddress(v goja.Value) (hostabi.Address, error) {
	const op = "handles.OpaqueAddress"
	obj, ok := asObject(v)
	if !ok {
		return 0, bridgeerr.Conversion(op, nil, "expected an object, got %s", describe(v))
	}
	opaque := obj.Get(opaqueField)
	if IsAbsent(opaque) {
		return 0, bridgeerr.Conversion(op, nil, "missing %q field", opaqueField)
	}
	return boxedAddress(op, opaque)
}

// PointerAddress recovers the host address boxed in v.address.
func PointerAddress(v goja.Value) (hostabi.Address, error) {
	return boxedAddress("handles.PointerAddress", v)
}

func boxedAddress(op string, v goja.Value) (hostabi.Address, error) {
	obj, ok := asObject(v)
	if !ok {
		return 0, bridgeerr.Conversion(op, nil, "expected an address box, got %s", describe(v))
	}
	addr := obj.Get(addressField)
	if IsAbsent(addr) {
		return 0, bridgeerr.Conversion(op, nil, "missing %q field", addressField)
	}
	n, err := Integral(addr)
	if err != nil {
		return 0, bridgeerr.Conversion(op, err, "invalid %q field", addressField)
	}
	return hostabi.Address(n), nil
}

// Integral converts a script number to an unsigned integer, failing for
// negative, fractional, or non-numeric values.
func Integral(v goja.Value) (uint64, error) {
	const op = "handles.Integral"
	if IsAbsent(v) {
		return 0, bridgeerr.Conversion(op, nil, "expected an integer, got %s", describe(v))
	}
	switch x := v.Export().(type) {
	case int64:
		if x < 0 {
			return 0, bridgeerr.Conversion(op, nil, "negative value %d", x)
		}
		return uint64(x), nil
	case float64:
		if x < 0 || x != math.Trunc(x) || x >= math.MaxUint64 || math.IsNaN(x) {
			return 0, bridgeerr.Conversion(op, nil, "value %v is not a non-negative integer", x)
		}
		return uint64(x), nil
	case *big.Int:
		if x.Sign() < 0 || !x.IsUint64() {
			return 0, bridgeerr.Conversion(op, nil, "value %s out of range", x)
		}
		return x.Uint64(), nil
	default:
		return 0, bridgeerr.Conversion(op, nil, "expected an integer, got %s", describe(v))
	}
}

// IsAbsent reports whether v is missing, undefined or null.
func IsAbsent(v goja.Value) bool {
	return v == nil || goja.IsUndefined(v) || goja.IsNull(v)
}

func asObject(v goja.Value) (*goja.Object, bool) {
	if IsAbsent(v) {
		return nil, false
	}
	obj, ok := v.(*goja.Object)
	return obj, ok
}

func describe(v goja.Value) string {
	switch {
	case v == nil, goja.IsUndefined(v):
		return "undefined"
	case goja.IsNull(v):
		return "null"
	}
	if t := v.ExportType(); t != nil {
		return t.String()
	}
	return v.String()
}
