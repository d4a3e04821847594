package guesscast

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/compute"
)

// CastEngine is the delegate that performs the actual conversion once a unit
// has been resolved. The default is compute.CastArray; tests and alternate
// backends can substitute their own via WithEngine.
type CastEngine func(ctx context.Context, arr arrow.Array, opts *compute.CastOptions) (arrow.Array, error)

// TimestampOptions controls integer-to-timestamp behavior.
type TimestampOptions struct {
	// GuessPrecision infers the time unit of integer inputs from value
	// magnitude instead of taking the target type's unit at face value.
	GuessPrecision bool
	// UseTimezoneAsIs carries the target type's timezone through the
	// intermediate timestamp. When false the intermediate is built without a
	// timezone (UTC interpretation); the final output always has the target's
	// exact timezone either way.
	UseTimezoneAsIs bool
	// BoundYears is the guessing bound in years. Zero or negative means
	// DefaultBoundYears.
	BoundYears int64
}

// CastOptions mirrors the shape of the compute engine's cast options so
// callers can switch between the two surfaces without restructuring.
type CastOptions struct {
	// Safe rejects lossy conversions (overflow, truncation) with an error
	// instead of allowing them through.
	Safe      bool
	Timestamp TimestampOptions

	engine CastEngine
}

// DefaultCastOptions returns the options used by Cast: safe conversion,
// guessing enabled, target timezone honored, default bound.
func DefaultCastOptions() *CastOptions {
	return &CastOptions{
		Safe: true,
		Timestamp: TimestampOptions{
			GuessPrecision:  true,
			UseTimezoneAsIs: true,
			BoundYears:      DefaultBoundYears,
		},
	}
}

// WithEngine replaces the delegate cast engine and returns the options for
// chaining.
func (o *CastOptions) WithEngine(engine CastEngine) *CastOptions {
	o.engine = engine
	return o
}

func (o *CastOptions) castEngine() CastEngine {
	if o.engine != nil {
		return o.engine
	}
	return compute.CastArray
}

func (o *CastOptions) bound() Bound {
	return NewBound(o.Timestamp.BoundYears)
}

// engineOptions translates this layer's Safe flag into the engine's cast
// options for the given target type.
func (o *CastOptions) engineOptions(toType arrow.DataType) *compute.CastOptions {
	if o.Safe {
		return compute.SafeCastOptions(toType)
	}
	return compute.UnsafeCastOptions(toType)
}
