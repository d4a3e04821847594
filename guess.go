package guesscast

import (
	"math"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// DefaultBoundYears is the default guessing bound: integer timestamps are
// assumed to fall within this many years of the Unix epoch when expressed in
// their own unit. 1000 years keeps the second/millisecond crossover at
// 1971-01-01, one year after epoch zero.
const DefaultBoundYears = 1000

const secondsPerYear = 365 * 86400

// Bound holds the magnitude thresholds derived from a year bound. A value
// whose absolute magnitude exceeds a threshold is assumed to be encoded in a
// finer unit: the same instant is numerically 1000x larger per step down from
// seconds to milliseconds to microseconds to nanoseconds.
type Bound struct {
	millis int64 // above this: at least millisecond precision
	micros int64 // above this: at least microsecond precision
	nanos  int64 // above this: nanosecond precision
}

// NewBound derives the three thresholds for the given year bound. Years at or
// below zero fall back to DefaultBoundYears. Thresholds saturate at
// math.MaxInt64: a wrapped threshold would turn negative and classify every
// value as the finest unit, so past the saturation point the finer units are
// simply unreachable.
func NewBound(years int64) Bound {
	if years <= 0 {
		years = DefaultBoundYears
	}
	seconds := satMul(years, secondsPerYear)
	millis := satMul(seconds, 1000)
	return Bound{
		millis: seconds,
		micros: millis,
		nanos:  satMul(millis, 1000),
	}
}

// satMul multiplies two positive int64s, saturating at math.MaxInt64.
func satMul(a, b int64) int64 {
	if a > math.MaxInt64/b {
		return math.MaxInt64
	}
	return a * b
}

// Guess returns the coarsest time unit consistent with the magnitude of
// timestamp. Total over the int64 domain: math.MinInt64 has no in-range
// absolute value but its true magnitude exceeds every threshold, so it
// guesses Nanosecond.
func (b Bound) Guess(timestamp int64) arrow.TimeUnit {
	if timestamp == math.MinInt64 {
		return arrow.Nanosecond
	}
	if timestamp < 0 {
		timestamp = -timestamp
	}
	switch {
	case timestamp > b.nanos:
		return arrow.Nanosecond
	case timestamp > b.micros:
		return arrow.Microsecond
	case timestamp > b.millis:
		return arrow.Millisecond
	default:
		return arrow.Second
	}
}

// GuessArray guesses the unit for an integer column from its first non-null
// value. The guess applies to the whole column: one cast produces one logical
// type, so per-element units are not an option. Returns ok=false when every
// element is null.
func (b Bound) GuessArray(values *array.Int64) (unit arrow.TimeUnit, ok bool) {
	for i := 0; i < values.Len(); i++ {
		if values.IsNull(i) {
			continue
		}
		return b.Guess(values.Value(i)), true
	}
	return arrow.Second, false
}
