package parallel_test

import (
	"context"
	"errors"
	"slices"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/CZERTAINLY/Herald/internal/parallel"
	"github.com/stretchr/testify/require"
)

func TestMap(t *testing.T) {
	t.Parallel()

	f := func(ctx context.Context, d time.Duration) (int, error) {
		select {
		case <-time.After(d):
			return int(d / time.Second), nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	input := []time.Duration{1 * time.Second, 2 * time.Second, 5 * time.Second, 10 * time.Second}

	var testCases = []struct {
		scenario string
		limit    int
		then     time.Duration
	}{
		{"limit 0", 0, 18 * time.Second},
		{"limit 1", 1, 18 * time.Second},
		{"limit 2", 2, 12 * time.Second},
		{"limit 10", 10, 10 * time.Second},
	}

	for _, tt := range testCases {
		t.Run(tt.scenario, func(t *testing.T) {
			t.Parallel()
			synctest.Test(t, func(t *testing.T) {
				start := time.Now()
				var got []int
				for v, err := range parallel.Map(t.Context(), tt.limit, slices.Values(input), f) {
					require.NoError(t, err)
					got = append(got, v)
				}
				require.Equal(t, []int{1, 2, 5, 10}, got)
				require.Equal(t, tt.then, time.Since(start))
			})
		})
	}
}

func TestMapErrors(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	f := func(_ context.Context, i int) (int, error) {
		if i%2 == 1 {
			return 0, boom
		}
		return i * i, nil
	}

	var values []int
	var errs int
	for v, err := range parallel.Map(t.Context(), 3, slices.Values([]int{0, 1, 2, 3, 4}), f) {
		if err != nil {
			require.ErrorIs(t, err, boom)
			errs++
			continue
		}
		values = append(values, v)
	}
	require.Equal(t, []int{0, 4, 16}, values)
	require.Equal(t, 2, errs)
}

func TestMapBreak(t *testing.T) {
	t.Parallel()
	synctest.Test(t, func(t *testing.T) {
		var cancelled atomic.Int32
		f := func(ctx context.Context, d time.Duration) (time.Duration, error) {
			select {
			case <-time.After(d):
				return d, nil
			case <-ctx.Done():
				cancelled.Add(1)
				return 0, ctx.Err()
			}
		}

		input := []time.Duration{time.Second, time.Hour, time.Hour, time.Hour}
		start := time.Now()
		for d, err := range parallel.Map(t.Context(), 2, slices.Values(input), f) {
			require.NoError(t, err)
			require.Equal(t, time.Second, d)
			break
		}
		require.Equal(t, time.Second, time.Since(start))
		require.Positive(t, cancelled.Load())
	})
}
