package hostabi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVariantType_String(t *testing.T) {
	assert.Equal(t, "int", VariantInt.String())
	assert.Equal(t, "StringName", VariantStringName.String())
	assert.Equal(t, "VariantType(99)", VariantType(99).String())
}

func TestVariantType_Valid(t *testing.T) {
	for _, v := range []VariantType{VariantNil, VariantBool, VariantInt, VariantFloat, VariantString, VariantStringName, VariantObject} {
		assert.True(t, v.Valid(), v.String())
	}
	assert.False(t, VariantType(5).Valid())
	assert.False(t, VariantType(-1).Valid())
}

func TestCallErrorType_String(t *testing.T) {
	assert.Equal(t, "ok", CallOK.String())
	assert.Equal(t, "instance is null", CallErrorInstanceIsNull.String())
	assert.Equal(t, "CallErrorType(42)", CallErrorType(42).String())
}
