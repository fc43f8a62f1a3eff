package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuantity_String(t *testing.T) {
	assert.Equal(t, "0.0000", Quantity(0).String())
	assert.Equal(t, "2.5000", NewQuantityFromFloat64(2.5).String())
	assert.Equal(t, "10.0000", NewQuantityFromInt(10).String())
	assert.Equal(t, "-3.2500", NewQuantityFromFloat64(-3.25).String())
	assert.Equal(t, "0.0001", NewQuantityFromInt64Scaled(1).String())
}

func TestQuantity_IsWhole(t *testing.T) {
	assert.True(t, NewQuantityFromInt(7).IsWhole())
	assert.True(t, Quantity(0).IsWhole())
	assert.False(t, NewQuantityFromFloat64(7.5).IsWhole())
	assert.False(t, NewQuantityFromInt64Scaled(1).IsWhole())
}

func TestQuantity_JSONRoundTrip(t *testing.T) {
	cases := []Quantity{
		0,
		NewQuantityFromInt(42),
		NewQuantityFromFloat64(12.75),
		NewQuantityFromFloat64(-0.5),
	}
	for _, q := range cases {
		data, err := json.Marshal(q)
		require.NoError(t, err)

		var back Quantity
		require.NoError(t, json.Unmarshal(data, &back))
		assert.Equal(t, q, back, "round trip of %s", q)
	}
}

func TestQuantity_UnmarshalForms(t *testing.T) {
	var q Quantity

	require.NoError(t, json.Unmarshal([]byte(`3.5`), &q))
	assert.Equal(t, NewQuantityFromFloat64(3.5), q)

	require.NoError(t, json.Unmarshal([]byte(`"3.5"`), &q))
	assert.Equal(t, NewQuantityFromFloat64(3.5), q)

	require.NoError(t, json.Unmarshal([]byte(`null`), &q))
	assert.Equal(t, Quantity(0), q)

	// Extra fractional digits are truncated to the fixed scale.
	require.NoError(t, json.Unmarshal([]byte(`1.23456`), &q))
	assert.Equal(t, NewQuantityFromInt64Scaled(12345), q)
}

func TestQuantity_Arithmetic(t *testing.T) {
	a := NewQuantityFromFloat64(5.5)
	b := NewQuantityFromFloat64(2.25)

	assert.Equal(t, NewQuantityFromFloat64(7.75), a+b)
	assert.Equal(t, NewQuantityFromFloat64(3.25), a-b)
	assert.Equal(t, NewQuantityFromFloat64(-5.5), a.Neg())
	assert.Equal(t, a, a.Neg().Abs())
	assert.True(t, a.Decimal().Equal(MustMoney("5.5")))
}
