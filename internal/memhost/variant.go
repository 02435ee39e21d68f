package memhost

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/joeycumines/goja-hostbridge/internal/hostabi"
)

// VariantNew allocates a variant of type t holding value. The value is
// normalized to the canonical Go type of t: bool, int64, float64, string or
// hostabi.ObjectPtr. A value that cannot be represented is stored as the
// zero value of t and logged.
func (h *Host) VariantNew(t hostabi.VariantType, value any) hostabi.VariantPtr {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, err := h.normalizeLocked(t, value)
	if err != nil {
		h.logger.Warn("variant value not representable", slog.String("type", t.String()), slog.Any("error", err))
	}
	id := hostabi.VariantPtr(h.alloc())
	h.variants[id] = v
	return id
}

// VariantNewCopy overwrites dst with a copy of src.
func (h *Host) VariantNewCopy(dst, src hostabi.VariantPtr) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.variants[src]
	if !ok {
		h.logger.Error("variant copy from unknown variant", slog.Uint64("src", uint64(src)))
		return
	}
	if _, ok := h.variants[dst]; !ok {
		h.logger.Error("variant copy into unknown variant", slog.Uint64("dst", uint64(dst)))
		return
	}
	h.variants[dst] = v
}

// VariantGet returns the type and canonical value of v. Unknown variants
// read as nil.
func (h *Host) VariantGet(v hostabi.VariantPtr) (hostabi.VariantType, any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	x := h.variants[v]
	return x.typ, x.value
}

// VariantDestroy frees v.
func (h *Host) VariantDestroy(v hostabi.VariantPtr) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.variants, v)
}

// newVariantLocked allocates a variant from a Go value, inferring its type.
func (h *Host) newVariantLocked(value any) (hostabi.VariantPtr, error) {
	t, err := inferType(value)
	if err != nil {
		return 0, err
	}
	v, err := h.normalizeLocked(t, value)
	if err != nil {
		return 0, err
	}
	id := hostabi.VariantPtr(h.alloc())
	h.variants[id] = v
	return id, nil
}

func inferType(value any) (hostabi.VariantType, error) {
	switch value.(type) {
	case nil:
		return hostabi.VariantNil, nil
	case bool:
		return hostabi.VariantBool, nil
	case int, int8, int16, int32, int64, uint8, uint16, uint32:
		return hostabi.VariantInt, nil
	case float32, float64:
		return hostabi.VariantFloat, nil
	case string:
		return hostabi.VariantString, nil
	case hostabi.ObjectPtr:
		return hostabi.VariantObject, nil
	}
	return 0, fmt.Errorf("%w: %T", ErrUnsupportedType, value)
}

func (h *Host) normalizeLocked(t hostabi.VariantType, value any) (variant, error) {
	v := variant{typ: t}
	var err error
	switch t {
	case hostabi.VariantNil:
	case hostabi.VariantBool:
		b, ok := value.(bool)
		if !ok {
			err = fmt.Errorf("%w: %T as bool", ErrUnsupportedType, value)
		}
		v.value = b
	case hostabi.VariantInt:
		var n int64
		n, err = toInt64(value)
		v.value = n
	case hostabi.VariantFloat:
		var f float64
		f, err = toFloat64(value)
		v.value = f
	case hostabi.VariantString, hostabi.VariantStringName:
		switch x := value.(type) {
		case string:
			v.value = x
		case hostabi.StringPtr:
			v.value = h.strs[x]
		case hostabi.StringNamePtr:
			v.value = h.names[x]
		default:
			v.value = ""
			err = fmt.Errorf("%w: %T as string", ErrUnsupportedType, value)
		}
	case hostabi.VariantObject:
		switch x := value.(type) {
		case nil:
			v.value = hostabi.ObjectPtr(0)
		case hostabi.ObjectPtr:
			v.value = x
		default:
			n, convErr := toInt64(value)
			if convErr != nil || n < 0 {
				err = fmt.Errorf("%w: %T as object", ErrUnsupportedType, value)
				n = 0
			}
			v.value = hostabi.ObjectPtr(n)
		}
	default:
		err = fmt.Errorf("%w: variant type %s", ErrUnsupportedType, t)
		v.typ = hostabi.VariantNil
	}
	return v, err
}

func toInt64(value any) (int64, error) {
	switch x := value.(type) {
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return 0, fmt.Errorf("%w: %d overflows int", ErrUnsupportedType, x)
		}
		return int64(x), nil
	case hostabi.Address:
		return int64(x), nil
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) || math.IsNaN(x) {
			return 0, fmt.Errorf("%w: %v is not integral", ErrUnsupportedType, x)
		}
		// float64(math.MaxInt64) rounds up to 2^63
		if x < math.MinInt64 || x >= math.MaxInt64 {
			return 0, fmt.Errorf("%w: %v overflows int", ErrUnsupportedType, x)
		}
		return int64(x), nil
	}
	return 0, fmt.Errorf("%w: %T as int", ErrUnsupportedType, value)
}

func toFloat64(value any) (float64, error) {
	switch x := value.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	}
	n, err := toInt64(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %T as float", ErrUnsupportedType, value)
	}
	return float64(n), nil
}
