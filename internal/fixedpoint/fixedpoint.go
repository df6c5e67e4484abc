package fixedpoint

import "fmt"

// #region constants

// Scale is the fixed-point denominator: a Value of Scale represents 1.0.
// It matches the trigger intensity bound so the whole system shares one
// integer range.
const Scale = 1000

// Max is the largest representable Value (1.0 exactly).
const Max Value = Scale

// #endregion constants

// #region value

// Value is an integer encoding of a real number in [0.0, 1.0].
// The authoritative store never holds floating point.
type Value uint32

// Valid reports whether v is within the representable range.
func (v Value) Valid() bool {
	return v <= Max
}

// Float converts v to its real-number form. Out-of-range values convert
// anyway; callers that care validate first.
func (v Value) Float() float64 {
	return float64(v) / Scale
}

// #endregion value

// #region conversion

// FromFloat converts a real number in [0.0, 1.0] to its fixed-point form,
// rounding to the nearest representable value.
func FromFloat(f float64) (Value, error) {
	if f < 0 || f > 1 {
		return 0, fmt.Errorf("fixedpoint: %v outside [0,1]", f)
	}
	return Value(f*Scale + 0.5), nil
}

// ToFloat is the inverse of FromFloat for valid values.
func ToFloat(v Value) float64 {
	return v.Float()
}

// #endregion conversion
