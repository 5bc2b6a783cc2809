package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEloService_Delta(t *testing.T) {
	elo := NewEloService()

	tests := []struct {
		name         string
		winnerRating int
		loserRating  int
		expected     int
	}{
		{
			name:         "Equal ratings",
			winnerRating: 1200,
			loserRating:  1200,
			expected:     16,
		},
		{
			name:         "Favorite wins",
			winnerRating: 1400,
			loserRating:  1200,
			expected:     8,
		},
		{
			name:         "Underdog wins",
			winnerRating: 1200,
			loserRating:  1400,
			expected:     24,
		},
		{
			name:         "Huge favorite wins",
			winnerRating: 2000,
			loserRating:  1200,
			expected:     0,
		},
		{
			name:         "Huge underdog wins",
			winnerRating: 1200,
			loserRating:  2000,
			expected:     32,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, elo.Delta(tt.winnerRating, tt.loserRating))
		})
	}
}

func TestEloService_DeltaBounds(t *testing.T) {
	elo := NewEloService()

	for winner := 800; winner <= 2400; winner += 200 {
		for loser := 800; loser <= 2400; loser += 200 {
			delta := elo.Delta(winner, loser)
			assert.GreaterOrEqual(t, delta, 0)
			assert.LessOrEqual(t, delta, 32)
		}
	}
}
