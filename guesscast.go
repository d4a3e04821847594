// Package guesscast is a drop-in replacement for the Arrow compute cast that
// infers the time unit of integer timestamp columns before converting them.
//
// Casting an integer column to a timestamp type normally interprets the raw
// values in the target type's unit, so a column of millisecond epochs cast to
// Timestamp(ns) lands a million times off. Cast instead guesses the unit from
// value magnitude (a millisecond epoch is numerically 1000x a second epoch
// for the same instant), converts through a timestamp of the guessed unit,
// and only then resolves to the requested type. Every actual conversion,
// including null handling and overflow policy, is delegated to the compute
// engine; this package adds no error kinds of its own.
package guesscast

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// sharedAllocator backs the empty and all-null results. memory.GoAllocator is
// thread-safe, so a package-level instance is fine.
var sharedAllocator = memory.NewGoAllocator()

// Cast converts arr to toType using DefaultCastOptions. The returned array is
// independently owned by the caller and must be Released.
func Cast(ctx context.Context, arr arrow.Array, toType arrow.DataType) (arrow.Array, error) {
	return CastWithOptions(ctx, arr, toType, DefaultCastOptions())
}

// CastWithOptions converts arr to toType. Integer and float sources headed
// for a timestamp target go through unit guessing when enabled; string and
// binary sources that fail the engine's native parse are retried as integer
// epochs; every other type pair passes straight through to the engine, so the
// output is exactly what the engine would have produced.
func CastWithOptions(ctx context.Context, arr arrow.Array, toType arrow.DataType, opts *CastOptions) (arrow.Array, error) {
	if opts == nil {
		opts = DefaultCastOptions()
	}

	fromType := arr.DataType()
	if arrow.TypeEqual(fromType, toType) {
		return array.MakeFromData(arr.Data()), nil
	}
	if arr.Len() == 0 {
		return array.MakeArrayOfNull(sharedAllocator, toType, 0), nil
	}
	if fromType.ID() == arrow.NULL {
		return array.MakeArrayOfNull(sharedAllocator, toType, arr.Len()), nil
	}

	target, toTimestamp := toType.(*arrow.TimestampType)

	switch fromType.ID() {
	case arrow.INT8, arrow.INT16, arrow.INT32,
		arrow.UINT8, arrow.UINT16, arrow.UINT32,
		arrow.FLOAT16, arrow.FLOAT32:
		if toTimestamp {
			return opts.castNarrowToTimestamp(ctx, arr, target)
		}

	case arrow.INT64, arrow.UINT64, arrow.FLOAT64:
		if toTimestamp {
			return opts.castWideToTimestamp(ctx, arr, target)
		}

	case arrow.BINARY, arrow.LARGE_BINARY, arrow.FIXED_SIZE_BINARY,
		arrow.STRING, arrow.LARGE_STRING:
		return opts.castTextual(ctx, arr, toType)
	}

	return opts.castEngine()(ctx, arr, opts.engineOptions(toType))
}

// castNarrowToTimestamp handles integer and float sources too narrow to ever
// clear the millisecond threshold. With guessing on they are read as second
// epochs; otherwise the target's own unit applies.
func (o *CastOptions) castNarrowToTimestamp(ctx context.Context, arr arrow.Array, target *arrow.TimestampType) (arrow.Array, error) {
	wide, err := o.castEngine()(ctx, arr, o.engineOptions(arrow.PrimitiveTypes.Int64))
	if err != nil {
		return nil, err
	}
	defer wide.Release()

	unit := target.Unit
	if o.Timestamp.GuessPrecision {
		unit = arrow.Second
	}
	return o.castThroughTimestamp(ctx, wide, unit, target)
}

// castWideToTimestamp handles Int64, UInt64 and Float64 sources: widen to
// Int64, guess the unit from the column, convert through a timestamp of that
// unit, then resolve to the target type.
func (o *CastOptions) castWideToTimestamp(ctx context.Context, arr arrow.Array, target *arrow.TimestampType) (arrow.Array, error) {
	wide, err := o.castEngine()(ctx, arr, o.engineOptions(arrow.PrimitiveTypes.Int64))
	if err != nil {
		return nil, err
	}
	defer wide.Release()

	unit := target.Unit
	if o.Timestamp.GuessPrecision {
		if guessed, ok := o.bound().GuessArray(wide.(*array.Int64)); ok {
			unit = guessed
		}
	}
	return o.castThroughTimestamp(ctx, wide, unit, target)
}

// castThroughTimestamp converts an Int64 array to the target timestamp type
// via an intermediate timestamp of the resolved unit. The intermediate step
// attaches the unit to the raw values; the final step rescales to the
// target's unit and timezone.
func (o *CastOptions) castThroughTimestamp(ctx context.Context, wide arrow.Array, unit arrow.TimeUnit, target *arrow.TimestampType) (arrow.Array, error) {
	tz := target.TimeZone
	if !o.Timestamp.UseTimezoneAsIs {
		tz = ""
	}

	mid, err := o.castEngine()(ctx, wide, o.engineOptions(&arrow.TimestampType{Unit: unit, TimeZone: tz}))
	if err != nil {
		return nil, err
	}
	defer mid.Release()

	return o.castEngine()(ctx, mid, o.engineOptions(target))
}

// castTextual tries the engine's native string/binary cast first. When the
// engine cannot parse anything, the column may hold integer epochs rendered
// as text: reparse as Int64 and re-dispatch so guessing applies. The engine
// reports unparseable strings as an error, not as nulls, so a failed native
// cast must also take the retry path; its error only surfaces once the
// integer reparse fails too.
func (o *CastOptions) castTextual(ctx context.Context, arr arrow.Array, toType arrow.DataType) (arrow.Array, error) {
	native, nativeErr := o.castEngine()(ctx, arr, o.engineOptions(toType))
	if nativeErr == nil && native.NullN() < native.Len() {
		return native, nil
	}

	parsed, err := o.castEngine()(ctx, arr, o.engineOptions(arrow.PrimitiveTypes.Int64))
	if err != nil || parsed.NullN() == parsed.Len() {
		if parsed != nil {
			parsed.Release()
		}
		if nativeErr == nil {
			return native, nil
		}
		return nil, nativeErr
	}
	if native != nil {
		native.Release()
	}
	defer parsed.Release()

	return CastWithOptions(ctx, parsed, toType, o)
}
