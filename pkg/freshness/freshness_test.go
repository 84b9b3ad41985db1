package freshness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsFreshWindow(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, IsFresh(t0, t0, 3*time.Second))
	assert.True(t, IsFresh(t0, t0.Add(2900*time.Millisecond), 3*time.Second))
	assert.False(t, IsFresh(t0, t0.Add(3*time.Second), 3*time.Second))
	assert.False(t, IsFresh(t0, t0.Add(3100*time.Millisecond), 3*time.Second))
}

func TestIsFreshWithoutUpdate(t *testing.T) {
	assert.False(t, IsFresh(time.Time{}, time.Now(), time.Hour))
}

func TestEvaluatorUsesClock(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	now := t0
	e := NewEvaluator(30*time.Second, func() time.Time { return now })

	assert.Equal(t, 30*time.Second, e.Window())
	assert.True(t, e.IsFresh(t0))

	now = t0.Add(29 * time.Second)
	assert.True(t, e.IsFresh(t0))

	now = t0.Add(31 * time.Second)
	assert.False(t, e.IsFresh(t0))
}

func TestEvaluatorDefaults(t *testing.T) {
	e := NewEvaluator(0, nil)
	assert.Equal(t, DefaultStaleWindow, e.Window())
	assert.True(t, e.IsFresh(time.Now()))
}
