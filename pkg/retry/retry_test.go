package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(attempts uint) Config {
	return Config{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	var retried []uint
	cfg := fastConfig(5)
	cfg.OnRetry = func(attempt uint, err error) { retried = append(retried, attempt) }

	err := Do(context.Background(), cfg, func() error {
		calls++
		if calls < 3 {
			return errors.New("temporary")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []uint{1, 2}, retried)
}

func TestDo_ReturnsLastError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0

	err := Do(context.Background(), fastConfig(3), func() error {
		calls++
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	rejected := errors.New("rejected")
	calls := 0

	err := Do(context.Background(), fastConfig(5), func() error {
		calls++
		return Permanent(rejected)
	})

	assert.ErrorIs(t, err, rejected)
	assert.Equal(t, 1, calls)
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Config{}, func() error {
		calls++
		return errors.New("fail")
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	got, err := DoWithResult(context.Background(), fastConfig(3), func() (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("first call fails")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
}

func TestPermanent_Nil(t *testing.T) {
	assert.NoError(t, Permanent(nil))
}
