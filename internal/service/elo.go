package service

import "math"

// EloService computes rating transfers for finished matches.
type EloService struct {
	kFactor float64
}

func NewEloService() *EloService {
	return &EloService{
		kFactor: 32,
	}
}

// Delta returns the points transferred from loser to winner:
// round(K * (1 - expectedWinner)). Equal ratings give K/2.
func (s *EloService) Delta(winnerRating, loserRating int) int {
	expectedWinner := s.expectedScore(float64(winnerRating), float64(loserRating))
	return int(math.Round(s.kFactor * (1.0 - expectedWinner)))
}

// expectedScore is the standard Elo win expectancy of A against B.
func (s *EloService) expectedScore(ratingA, ratingB float64) float64 {
	return 1.0 / (1.0 + math.Pow(10, (ratingB-ratingA)/400.0))
}
