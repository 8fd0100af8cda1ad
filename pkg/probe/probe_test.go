package probe

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_AllSucceed(t *testing.T) {
	ops := map[string]Op[string]{
		"a": func(ctx context.Context) (string, error) { return "alpha", nil },
		"b": func(ctx context.Context) (string, error) { return "bravo", nil },
	}

	results := Run(context.Background(), ops)

	require.Len(t, results, 2)
	assert.Equal(t, "alpha", results["a"].Value)
	assert.Equal(t, "bravo", results["b"].Value)
	assert.False(t, results["a"].Failed())
	assert.False(t, results["b"].Failed())
}

func TestRun_PartialFailureIsolation(t *testing.T) {
	errDown := errors.New("dependency down")
	ops := map[string]Op[int]{
		"ok":   func(ctx context.Context) (int, error) { return 7, nil },
		"down": func(ctx context.Context) (int, error) { return 0, errDown },
		"slow": func(ctx context.Context) (int, error) {
			time.Sleep(10 * time.Millisecond)
			return 9, nil
		},
	}

	results := Run(context.Background(), ops)

	require.Len(t, results, 3)
	assert.Equal(t, 7, results["ok"].Value)
	require.ErrorIs(t, results["down"].Err, errDown)
	assert.Equal(t, 9, results["slow"].Value, "sibling failure must not disturb slow op")
}

// One outcome per input name, with exactly the failing subset error-tagged,
// regardless of completion order.
func TestRun_RandomizedLatency(t *testing.T) {
	const n = 8
	rng := rand.New(rand.NewSource(42))

	for run := 0; run < 20; run++ {
		ops := make(map[string]Op[int], n)
		wantFail := map[string]bool{}
		for i := 0; i < n; i++ {
			name := fmt.Sprintf("check-%d", i)
			fails := i%3 == 0
			wantFail[name] = fails
			delay := time.Duration(rng.Intn(5)) * time.Millisecond
			idx := i
			ops[name] = func(ctx context.Context) (int, error) {
				time.Sleep(delay)
				if fails {
					return 0, fmt.Errorf("check %d failed", idx)
				}
				return idx, nil
			}
		}

		results := Run(context.Background(), ops)

		require.Len(t, results, n)
		for name, fails := range wantFail {
			out, ok := results[name]
			require.True(t, ok, "missing outcome for %s", name)
			assert.Equal(t, fails, out.Failed(), "unexpected outcome for %s", name)
		}
	}
}

func TestRun_PanicCapturedAsFailure(t *testing.T) {
	ops := map[string]Op[string]{
		"panics": func(ctx context.Context) (string, error) { panic("bad check") },
		"ok":     func(ctx context.Context) (string, error) { return "fine", nil },
	}

	results := Run(context.Background(), ops)

	require.Len(t, results, 2)
	require.True(t, results["panics"].Failed())
	assert.Contains(t, results["panics"].Err.Error(), "bad check")
	assert.Equal(t, "fine", results["ok"].Value)
}

func TestRun_EmptyInput(t *testing.T) {
	results := Run(context.Background(), map[string]Op[int]{})
	assert.Empty(t, results)
}
