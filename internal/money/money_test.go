package money

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cases := map[string]Amount{
		"150":      15000,
		"150.5":    15050,
		"0.01":     1,
		"1,000.25": 100025,
		" 42.00 ":  4200,
		"-3":       -300,
		"0":        0,
	}
	for input, want := range cases {
		got, err := Parse(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}
}

func TestParseRejects(t *testing.T) {
	for _, input := range []string{"", "abc", "1.005", "12e", "99999999999999999999"} {
		_, err := Parse(input)
		assert.True(t, errors.Is(err, ErrInvalid), "expected ErrInvalid for %q, got %v", input, err)
	}
}

func TestAmountString(t *testing.T) {
	assert.Equal(t, "0.00", Amount(0).String())
	assert.Equal(t, "1000.00", Amount(100000).String())
	assert.Equal(t, "0.07", Amount(7).String())
}

func TestAmountJSON(t *testing.T) {
	var payload struct {
		A Amount `json:"a"`
		B Amount `json:"b"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"12.50","b":300}`), &payload))
	assert.Equal(t, Amount(1250), payload.A)
	assert.Equal(t, Amount(30000), payload.B)

	out, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"12.50","b":"300.00"}`, string(out))
}
