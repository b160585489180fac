package usdc

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromFloat(t *testing.T) {
	tests := []struct {
		input    float64
		expected MicroUSDC
	}{
		{0, 0},
		{0.000001, 1},
		{0.001, 1_000},
		{0.01, 10_000},
		{0.09, 90_000},
		{0.19, 190_000},
		{1.0, 1_000_000},
		{1.25, 1_250_000},
		{100.0, 100_000_000},
		{0.123456, 123_456},
		{99999.999999, 99_999_999_999},
	}

	for _, tc := range tests {
		t.Run("", func(t *testing.T) {
			result := FromFloat(tc.input)
			assert.Equal(t, tc.expected, result, "FromFloat(%v)", tc.input)
		})
	}
}

func TestFloat(t *testing.T) {
	tests := []struct {
		input    MicroUSDC
		expected float64
	}{
		{0, 0},
		{1, 0.000001},
		{1_000, 0.001},
		{1_000_000, 1.0},
		{1_250_000, 1.25},
	}

	for _, tc := range tests {
		t.Run("", func(t *testing.T) {
			result := tc.input.Float()
			assert.InDelta(t, tc.expected, result, 1e-9)
		})
	}
}

func TestString(t *testing.T) {
	tests := []struct {
		input    MicroUSDC
		expected string
	}{
		{0, "0.00"},
		{1, "0.000001"},
		{100, "0.0001"},
		{1_000, "0.001"},
		{10_000, "0.01"},
		{100_000, "0.10"},
		{1_000_000, "1.00"},
		{1_250_000, "1.25"},
		{1_250_001, "1.250001"},
		{10_000_000, "10.00"},
		{99_999_999_999, "99999.999999"},
		{-1_250_000, "-1.25"},
		{MicroUSDC(math.MinInt64), "-9223372036854.775808"},
	}

	for _, tc := range tests {
		t.Run(tc.expected, func(t *testing.T) {
			result := tc.input.String()
			assert.Equal(t, tc.expected, result)
		})
	}
}

func TestMarshalJSON(t *testing.T) {
	tests := []struct {
		input    MicroUSDC
		expected string
	}{
		{0, `"0"`},
		{1_000, `"1000"`},
		{1_250_000, `"1250000"`},
		{-500, `"-500"`},
	}

	for _, tc := range tests {
		t.Run("", func(t *testing.T) {
			data, err := json.Marshal(tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, string(data))
		})
	}
}

func TestUnmarshalJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected MicroUSDC
	}{
		{"string", `"1250000"`, 1_250_000},
		{"number", `1250000`, 1_250_000},
		{"zero string", `"0"`, 0},
		{"zero number", `0`, 0},
		{"negative string", `"-500"`, -500},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var m MicroUSDC
			err := json.Unmarshal([]byte(tc.input), &m)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, m)
		})
	}
}

func TestUnmarshalJSON_Error(t *testing.T) {
	var m MicroUSDC
	err := json.Unmarshal([]byte(`"not-a-number"`), &m)
	assert.Error(t, err)
}

func TestMarshalJSON_InStruct(t *testing.T) {
	type Example struct {
		Balance MicroUSDC `json:"balance_usdc"`
	}

	e := Example{Balance: 1_250_000}
	data, err := json.Marshal(e)
	require.NoError(t, err)
	assert.Equal(t, `{"balance_usdc":"1250000"}`, string(data))

	var decoded Example
	err = json.Unmarshal(data, &decoded)
	require.NoError(t, err)
	assert.Equal(t, MicroUSDC(1_250_000), decoded.Balance)
}

func TestToBigInt(t *testing.T) {
	// Every supported chain carries USDC at 6 decimals, so the conversion
	// is direct on all of them.
	tests := []struct {
		input    MicroUSDC
		expected string
	}{
		{0, "0"},
		{1_000, "1000"},
		{1_000_000, "1000000"},
	}

	for _, chain := range []string{"base", "base-sepolia", "solana", "solana-devnet"} {
		for _, tc := range tests {
			t.Run(chain+"/"+tc.expected, func(t *testing.T) {
				result := tc.input.ToBigInt(chain)
				assert.Equal(t, tc.expected, result.String())
			})
		}
	}
}

func TestFromFloat_RoundTrip(t *testing.T) {
	// Verify that FromFloat -> Float round-trips correctly for common values
	values := []float64{0, 0.001, 0.01, 0.10, 1.00, 1.25, 100.00}
	for _, v := range values {
		m := FromFloat(v)
		assert.InDelta(t, v, m.Float(), 1e-7, "round-trip for %v", v)
	}
}
