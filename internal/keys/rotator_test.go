package keys

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotatorCyclesWithoutImmediateReuse(t *testing.T) {
	r, err := NewSeededRotator([]string{"A", "B", "C"}, 42)
	require.NoError(t, err)

	first := r.Next()
	second := r.Next()
	third := r.Next()

	// All three keys handed out before any repeats.
	assert.ElementsMatch(t, []string{"A", "B", "C"}, []string{first, second, third})
	assert.NotEqual(t, first, second)
	assert.NotEqual(t, second, third)

	// Fourth call wraps around to the first key again.
	assert.Equal(t, first, r.Next())
	assert.Equal(t, second, r.Next())
}

func TestRandomDoesNotMutateRotation(t *testing.T) {
	r, err := NewSeededRotator([]string{"A", "B", "C"}, 7)
	require.NoError(t, err)

	first := r.Next()
	for i := 0; i < 10; i++ {
		got := r.Random()
		assert.Contains(t, []string{"A", "B", "C"}, got)
	}
	// Rotation order unaffected by Random calls.
	second := r.Next()
	third := r.Next()
	assert.Equal(t, first, r.Next())
	assert.NotEqual(t, second, third)
}

func TestEmptyPoolFailsFast(t *testing.T) {
	_, err := NewRotator(nil)
	assert.ErrorIs(t, err, ErrEmptyPool)
}

func TestFromEnvCollectsNumberedSuffixes(t *testing.T) {
	t.Setenv("ROTATOR_TEST_KEY", "base")
	t.Setenv("ROTATOR_TEST_KEY_1", "one")
	t.Setenv("ROTATOR_TEST_KEY_2", "two")

	r, err := FromEnv("ROTATOR_TEST_KEY")
	require.NoError(t, err)
	assert.Equal(t, 3, r.Len())

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		seen[r.Next()] = true
	}
	assert.Len(t, seen, 3)
}

func TestFromEnvMissingFailsFast(t *testing.T) {
	_, err := FromEnv("ROTATOR_TEST_ABSENT")
	assert.ErrorIs(t, err, ErrEmptyPool)
}
