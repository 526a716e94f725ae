// Copyright 2026 The hookmarket Authors
// This file is part of the hookmarket library.
//
// The hookmarket library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The hookmarket library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the hookmarket library. If not, see <http://www.gnu.org/licenses/>.

// Package reputation scores solvers from their persisted delivery counters.
// The score is used only as a tie-breaker in quote ranking.
package reputation

import (
	"math"

	"github.com/fefe102/v4SessionHookMarkets/core/types"
)

// Score computes a 0..100 solver score, rounded to one decimal:
//
//	base  = 100 × (0.4·passRate + 0.3·onTimeRate + 0.3·quoteAccuracy)
//	score = clamp(0, 100, base − 5·challengesAgainst)
func Score(s types.SolverStats) float64 {
	deliveries := s.DeliveriesSucceeded + s.DeliveriesFailed
	var passRate, onTimeRate, quoteAcc float64
	if deliveries > 0 {
		passRate = float64(s.DeliveriesSucceeded) / float64(deliveries)
		onTimeRate = float64(s.OnTimeDeliveries) / float64(deliveries)
		avgEta := float64(s.TotalEtaMinutes) / float64(deliveries)
		avgActual := float64(s.TotalActualMinutes) / float64(deliveries)
		if avgEta > 0 {
			quoteAcc = math.Max(0, 1-math.Abs(avgActual-avgEta)/avgEta)
		}
	}
	base := 100 * (0.4*passRate + 0.3*onTimeRate + 0.3*quoteAcc)
	score := base - 5*float64(s.ChallengesAgainst)
	score = math.Max(0, math.Min(100, score))
	return math.Round(score*10) / 10
}
