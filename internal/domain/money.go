package domain

import "math"

// DefaultPrecision is the number of fractional digits monetary values carry
// unless the cart specifies otherwise.
const DefaultPrecision = 2

// roundEpsilon counters binary floating-point representation error so that
// values such as 19.995 round up to 20.00 rather than down.
const roundEpsilon = 1e-9

// Round applies round-half-up at the given decimal precision. Every
// intermediate monetary value in the pricing pipeline passes through this
// function before it feeds the next step; reproducibility across runs depends
// on it.
func Round(value float64, precision int) float64 {
	if precision < 0 {
		precision = DefaultPrecision
	}
	pow := math.Pow(10, float64(precision))
	return math.Floor((value+roundEpsilon)*pow+0.5) / pow
}

// NormalizePrecision clamps a caller-supplied precision to a sane range.
func NormalizePrecision(precision int) int {
	if precision < 0 || precision > 8 {
		return DefaultPrecision
	}
	return precision
}
