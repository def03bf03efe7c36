package money

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the number of minor-unit digits (centavos).
const Scale = 2

// ErrInvalid is returned for unparsable or over-precise amounts.
var ErrInvalid = errors.New("invalid amount")

var maxMinor = decimal.NewFromInt(math.MaxInt64)

// Amount is a currency value in minor units. No floats.
type Amount int64

// FromMinor wraps a minor-unit integer.
func FromMinor(v int64) Amount { return Amount(v) }

// Parse reads a user-entered decimal such as "150", "150.5" or "1,000.25".
// More than two fractional digits is rejected rather than rounded.
func Parse(raw string) (Amount, error) {
	s := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalid)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalid, raw)
	}
	minor := d.Shift(Scale)
	if !minor.IsInteger() {
		return 0, fmt.Errorf("%w: at most %d decimal places", ErrInvalid, Scale)
	}
	if minor.Abs().GreaterThan(maxMinor) {
		return 0, fmt.Errorf("%w: out of range", ErrInvalid)
	}
	return Amount(minor.IntPart()), nil
}

// MustParse is Parse for constants and tests.
func MustParse(raw string) Amount {
	a, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Amount) Minor() int64 { return int64(a) }
func (a Amount) IsPositive() bool { return a > 0 }
func (a Amount) IsNegative() bool { return a < 0 }

// Decimal converts to a shopspring decimal with two fractional digits.
func (a Amount) Decimal() decimal.Decimal { return decimal.New(int64(a), -Scale) }

func (a Amount) String() string { return a.Decimal().StringFixed(Scale) }

// MarshalJSON encodes the amount as a fixed-point string, e.g. "150.00".
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON accepts either a JSON string or a JSON number.
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*a = 0
		return nil
	}
	parsed, err := Parse(strings.Trim(string(data), `"`))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
