package reputation

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fefe102/v4SessionHookMarkets/core/types"
)

func TestScoreNoDeliveries(t *testing.T) {
	require.Equal(t, 0.0, Score(types.SolverStats{}))
	require.Equal(t, 0.0, Score(types.SolverStats{QuotesSubmitted: 5, QuotesWon: 2}))
}

func TestScorePerfect(t *testing.T) {
	s := types.SolverStats{
		DeliveriesSucceeded: 4,
		OnTimeDeliveries:    4,
		TotalEtaMinutes:     60,
		TotalActualMinutes:  60,
	}
	require.Equal(t, 100.0, Score(s))
}

func TestScoreMixed(t *testing.T) {
	// 1 of 2 passed, 1 on time, avgEta 10, avgActual 15 -> acc 0.5.
	s := types.SolverStats{
		DeliveriesSucceeded: 1,
		DeliveriesFailed:    1,
		OnTimeDeliveries:    1,
		TotalEtaMinutes:     20,
		TotalActualMinutes:  30,
	}
	// 100 × (0.4·0.5 + 0.3·0.5 + 0.3·0.5) = 50.
	require.Equal(t, 50.0, Score(s))
}

func TestScoreChallengePenaltyAndClamp(t *testing.T) {
	s := types.SolverStats{
		DeliveriesSucceeded: 2,
		OnTimeDeliveries:    2,
		TotalEtaMinutes:     30,
		TotalActualMinutes:  30,
		ChallengesAgainst:   3,
	}
	require.Equal(t, 85.0, Score(s))

	s.ChallengesAgainst = 50
	require.Equal(t, 0.0, Score(s))
}

func TestScoreOneDecimal(t *testing.T) {
	// avgActual 11 vs avgEta 10 -> acc 0.9; 100×(0.4+0.3+0.27) = 97.
	s := types.SolverStats{
		DeliveriesSucceeded: 1,
		OnTimeDeliveries:    1,
		TotalEtaMinutes:     10,
		TotalActualMinutes:  11,
	}
	require.Equal(t, 97.0, Score(s))

	// 2 of 3 delivered on time, all passed, exact ETAs:
	// 100×(0.4 + 0.3×(2/3) + 0.3) = 90. Add a failure to force a fraction.
	s = types.SolverStats{
		DeliveriesSucceeded: 2,
		DeliveriesFailed:    1,
		OnTimeDeliveries:    2,
		TotalEtaMinutes:     30,
		TotalActualMinutes:  30,
	}
	// passRate 2/3, onTime 2/3, acc 1 -> 100×(0.2667+0.2+0.3) = 76.666 -> 76.7
	require.Equal(t, 76.7, Score(s))
}
