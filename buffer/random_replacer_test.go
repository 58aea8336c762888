package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomReplacer_Should_Return_Error_When_No_Possible_Victim_Is_Found(t *testing.T) {
	r := NewRandomReplacer(16)
	_, err := r.ChooseVictim()
	assert.ErrorIs(t, err, ErrNoVictim)
}

func TestRandomReplacer_Should_Only_Choose_Evictable_Frames(t *testing.T) {
	r := NewRandomReplacer(16)
	r.SetEvictable(3, true)
	r.SetEvictable(7, true)

	seen := make(map[int]bool)
	for i := 0; i < 2; i++ {
		v, err := r.ChooseVictim()
		require.NoError(t, err)
		seen[v] = true
	}

	assert.True(t, seen[3])
	assert.True(t, seen[7])
	_, err := r.ChooseVictim()
	assert.ErrorIs(t, err, ErrNoVictim)
}
