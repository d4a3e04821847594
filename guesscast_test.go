package guesscast

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/compute"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeInt64Array(t *testing.T, values []int64) *array.Int64 {
	t.Helper()
	bld := array.NewInt64Builder(memory.NewGoAllocator())
	defer bld.Release()
	bld.AppendValues(values, nil)
	return bld.NewInt64Array()
}

func timestampValues(t *testing.T, arr arrow.Array) []int64 {
	t.Helper()
	ts, ok := arr.(*array.Timestamp)
	require.True(t, ok, "expected *array.Timestamp, got %T", arr)
	out := make([]int64, ts.Len())
	for i := 0; i < ts.Len(); i++ {
		out[i] = int64(ts.Value(i))
	}
	return out
}

func TestCastMillisToNanos(t *testing.T) {
	arr := makeInt64Array(t, []int64{1701325744956, 1701325744956})
	defer arr.Release()

	out, err := Cast(context.Background(), arr, &arrow.TimestampType{Unit: arrow.Nanosecond})
	require.NoError(t, err)
	defer out.Release()

	assert.Equal(t, []int64{1701325744956 * 1_000_000, 1701325744956 * 1_000_000}, timestampValues(t, out))
}

func TestCastGuessesEachMagnitudeClass(t *testing.T) {
	base := int64(1701325744)
	tests := []struct {
		name   string
		value  int64
		wantNs int64
	}{
		{"seconds", base, base * 1_000_000_000},
		{"milliseconds", base*1000 + 956, (base*1000 + 956) * 1_000_000},
		{"microseconds", base*1_000_000 + 956_000, (base*1_000_000 + 956_000) * 1000},
		{"nanoseconds", base*1_000_000_000 + 956_000_000, base*1_000_000_000 + 956_000_000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			arr := makeInt64Array(t, []int64{tt.value})
			defer arr.Release()

			out, err := Cast(context.Background(), arr, &arrow.TimestampType{Unit: arrow.Nanosecond})
			require.NoError(t, err)
			defer out.Release()

			assert.Equal(t, []int64{tt.wantNs}, timestampValues(t, out))
		})
	}
}

func TestCastNegativeValues(t *testing.T) {
	// Pre-epoch millisecond timestamps guess the same unit as their positive
	// counterparts.
	arr := makeInt64Array(t, []int64{-1701325744956})
	defer arr.Release()

	out, err := Cast(context.Background(), arr, &arrow.TimestampType{Unit: arrow.Microsecond})
	require.NoError(t, err)
	defer out.Release()

	assert.Equal(t, []int64{-1701325744956 * 1000}, timestampValues(t, out))
}

func TestCastSameTypeIsIdentity(t *testing.T) {
	arr := makeInt64Array(t, []int64{1, 2, 3})
	defer arr.Release()

	out, err := Cast(context.Background(), arr, arrow.PrimitiveTypes.Int64)
	require.NoError(t, err)
	defer out.Release()

	assert.True(t, array.Equal(arr, out))
}

func TestCastEmptyArray(t *testing.T) {
	arr := makeInt64Array(t, nil)
	defer arr.Release()

	target := &arrow.TimestampType{Unit: arrow.Nanosecond}
	out, err := Cast(context.Background(), arr, target)
	require.NoError(t, err)
	defer out.Release()

	assert.Zero(t, out.Len())
	assert.True(t, arrow.TypeEqual(target, out.DataType()))
}

func TestCastNullArray(t *testing.T) {
	arr := array.NewNull(3)
	defer arr.Release()

	target := &arrow.TimestampType{Unit: arrow.Millisecond}
	out, err := Cast(context.Background(), arr, target)
	require.NoError(t, err)
	defer out.Release()

	assert.Equal(t, 3, out.Len())
	assert.Equal(t, 3, out.NullN())
	assert.True(t, arrow.TypeEqual(target, out.DataType()))
}

func TestCastAllNullIntegersUseTargetUnit(t *testing.T) {
	bld := array.NewInt64Builder(memory.NewGoAllocator())
	defer bld.Release()
	bld.AppendNulls(2)
	arr := bld.NewInt64Array()
	defer arr.Release()

	target := &arrow.TimestampType{Unit: arrow.Microsecond}
	out, err := Cast(context.Background(), arr, target)
	require.NoError(t, err)
	defer out.Release()

	assert.Equal(t, 2, out.NullN())
	assert.True(t, arrow.TypeEqual(target, out.DataType()))
}

func TestCastPassThroughMatchesEngine(t *testing.T) {
	// Non-timestamp targets take the engine path untouched.
	arr := makeInt64Array(t, []int64{1, 2, 3})
	defer arr.Release()

	out, err := Cast(context.Background(), arr, arrow.PrimitiveTypes.Float64)
	require.NoError(t, err)
	defer out.Release()

	direct, err := compute.CastArray(context.Background(), arr, compute.SafeCastOptions(arrow.PrimitiveTypes.Float64))
	require.NoError(t, err)
	defer direct.Release()

	assert.True(t, array.Equal(direct, out))
}

func TestCastStringEncodedIntegers(t *testing.T) {
	bld := array.NewStringBuilder(memory.NewGoAllocator())
	defer bld.Release()
	bld.AppendValues([]string{"1701325744956", "1701325744956"}, nil)
	arr := bld.NewStringArray()
	defer arr.Release()

	out, err := Cast(context.Background(), arr, &arrow.TimestampType{Unit: arrow.Nanosecond})
	require.NoError(t, err)
	defer out.Release()

	assert.Equal(t, []int64{1701325744956 * 1_000_000, 1701325744956 * 1_000_000}, timestampValues(t, out))
}

func TestCastStringTimestampsStayOnNativePath(t *testing.T) {
	bld := array.NewStringBuilder(memory.NewGoAllocator())
	defer bld.Release()
	bld.AppendValues([]string{"2023-11-30 06:29:04"}, nil)
	arr := bld.NewStringArray()
	defer arr.Release()

	out, err := Cast(context.Background(), arr, &arrow.TimestampType{Unit: arrow.Second})
	require.NoError(t, err)
	defer out.Release()

	want := time.Date(2023, 11, 30, 6, 29, 4, 0, time.UTC).Unix()
	assert.Equal(t, []int64{want}, timestampValues(t, out))
}

func TestCastUnparseableStringsError(t *testing.T) {
	// Strings that are neither timestamps nor integers exhaust both paths;
	// the engine's own error comes back unmodified.
	bld := array.NewStringBuilder(memory.NewGoAllocator())
	defer bld.Release()
	bld.AppendValues([]string{"banana"}, nil)
	arr := bld.NewStringArray()
	defer arr.Release()

	_, err := Cast(context.Background(), arr, &arrow.TimestampType{Unit: arrow.Nanosecond})
	assert.Error(t, err)
}

func TestCastGuessDisabled(t *testing.T) {
	arr := makeInt64Array(t, []int64{1701325744956})
	defer arr.Release()

	opts := DefaultCastOptions()
	opts.Timestamp.GuessPrecision = false

	out, err := CastWithOptions(context.Background(), arr, &arrow.TimestampType{Unit: arrow.Nanosecond}, opts)
	require.NoError(t, err)
	defer out.Release()

	// Without guessing the raw value is read in the target's own unit.
	assert.Equal(t, []int64{1701325744956}, timestampValues(t, out))
}

func TestCastNarrowIntegersAreSeconds(t *testing.T) {
	bld := array.NewInt32Builder(memory.NewGoAllocator())
	defer bld.Release()
	bld.AppendValues([]int32{1701325744}, nil)
	arr := bld.NewInt32Array()
	defer arr.Release()

	out, err := Cast(context.Background(), arr, &arrow.TimestampType{Unit: arrow.Millisecond})
	require.NoError(t, err)
	defer out.Release()

	assert.Equal(t, []int64{1701325744 * 1000}, timestampValues(t, out))
}

func TestCastTimezonePreserved(t *testing.T) {
	arr := makeInt64Array(t, []int64{1701325744956})
	defer arr.Release()

	target := &arrow.TimestampType{Unit: arrow.Nanosecond, TimeZone: "UTC"}
	out, err := Cast(context.Background(), arr, target)
	require.NoError(t, err)
	defer out.Release()

	assert.True(t, arrow.TypeEqual(target, out.DataType()))
	assert.Equal(t, []int64{1701325744956 * 1_000_000}, timestampValues(t, out))
}

func TestCastWithoutTimezonePassthrough(t *testing.T) {
	arr := makeInt64Array(t, []int64{1701325744956})
	defer arr.Release()

	opts := DefaultCastOptions()
	opts.Timestamp.UseTimezoneAsIs = false

	target := &arrow.TimestampType{Unit: arrow.Nanosecond, TimeZone: "America/New_York"}
	out, err := CastWithOptions(context.Background(), arr, target, opts)
	require.NoError(t, err)
	defer out.Release()

	// The intermediate loses the zone but the output still matches the
	// caller's exact target type.
	assert.True(t, arrow.TypeEqual(target, out.DataType()))
}

func TestCastLargeBoundShiftsGuess(t *testing.T) {
	// Under the default bound this magnitude reads as milliseconds; a large
	// enough bound reclassifies it as seconds, so the raw value carries
	// through to a second-precision target unchanged.
	arr := makeInt64Array(t, []int64{1701325744000})
	defer arr.Release()

	target := &arrow.TimestampType{Unit: arrow.Second}

	out, err := Cast(context.Background(), arr, target)
	require.NoError(t, err)
	assert.Equal(t, []int64{1701325744}, timestampValues(t, out))
	out.Release()

	opts := DefaultCastOptions()
	opts.Timestamp.BoundYears = 1_000_000 // every threshold beyond the value

	out, err = CastWithOptions(context.Background(), arr, target, opts)
	require.NoError(t, err)
	defer out.Release()

	assert.Equal(t, []int64{1701325744000}, timestampValues(t, out))
}

func TestCastEngineInjection(t *testing.T) {
	arr := makeInt64Array(t, []int64{1701325744956})
	defer arr.Release()

	var calls int
	opts := DefaultCastOptions().WithEngine(func(ctx context.Context, a arrow.Array, co *compute.CastOptions) (arrow.Array, error) {
		calls++
		return compute.CastArray(ctx, a, co)
	})

	out, err := CastWithOptions(context.Background(), arr, &arrow.TimestampType{Unit: arrow.Nanosecond}, opts)
	require.NoError(t, err)
	defer out.Release()

	assert.Greater(t, calls, 0)
	assert.Equal(t, []int64{1701325744956 * 1_000_000}, timestampValues(t, out))
}

func TestCastEngineErrorPropagates(t *testing.T) {
	arr := makeInt64Array(t, []int64{1701325744956})
	defer arr.Release()

	boom := errors.New("engine down")
	opts := DefaultCastOptions().WithEngine(func(context.Context, arrow.Array, *compute.CastOptions) (arrow.Array, error) {
		return nil, boom
	})

	_, err := CastWithOptions(context.Background(), arr, &arrow.TimestampType{Unit: arrow.Nanosecond}, opts)
	assert.ErrorIs(t, err, boom)
}
