package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var transitions []gobreaker.State
	b := New("test", Config{ConsecutiveFailures: 2, Timeout: time.Hour}, func(_ string, _, to gobreaker.State) {
		transitions = append(transitions, to)
	})

	boom := errors.New("boom")
	for i := 0; i < 2; i++ {
		_, err := Do(b, func() (int, error) { return 0, boom })
		assert.ErrorIs(t, err, boom)
	}

	assert.Equal(t, gobreaker.StateOpen, b.State())
	_, err := Do(b, func() (int, error) { return 1, nil })
	assert.True(t, IsOpenError(err))
	require.Len(t, transitions, 1)
	assert.Equal(t, gobreaker.StateOpen, transitions[0])
}

func TestBreakerPassesResults(t *testing.T) {
	b := New("ok", Config{})
	v, err := Do(b, func() ([]string, error) { return []string{"a"}, nil })
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, v)
	assert.Equal(t, "ok", b.Name())
	assert.False(t, IsOpenError(errors.New("other")))
}
