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

package core

import (
	"context"

	"github.com/fefe102/v4SessionHookMarkets/core/types"
)

// Sweep applies the deadline transitions to every non-terminal work order:
// expired bidding windows, missed deliveries, elapsed challenge windows and
// elapsed patch windows. Errors on one order are logged and do not stop the
// sweep. The caller (the sweeper) guarantees non-reentrancy.
func (e *Engine) Sweep(ctx context.Context) {
	sweepsCounter.Inc(1)
	orders, err := e.db.ListWorkOrders("")
	if err != nil {
		e.logger.Error("Sweep failed to list work orders", "err", err)
		return
	}
	for _, wo := range orders {
		if wo.Status.Terminal() {
			continue
		}
		if err := e.sweepOne(ctx, wo.ID); err != nil {
			e.logger.Warn("Sweep transition failed", "workorder", wo.ID, "err", err)
		}
	}
}

func (e *Engine) sweepOne(ctx context.Context, workOrderID string) error {
	unlock := e.locks.lock(workOrderID)
	defer unlock()

	// Reload under the lock; the listing snapshot may be stale.
	wo, err := e.getWorkOrder(workOrderID)
	if err != nil {
		return err
	}
	now := e.now()

	switch wo.Status {
	case types.StatusBidding:
		if wo.BiddingEndsAt == nil || now.Before(*wo.BiddingEndsAt) {
			return nil
		}
		quotes, err := e.listQuotes(wo.ID)
		if err != nil {
			return err
		}
		if len(quotes) == 0 {
			return e.expire(wo, "no_quotes")
		}
		if err := e.sessions.EnsureSession(ctx, wo, quotes); err != nil {
			return err
		}
		if err := e.sessions.EnsureQuoteRewardsPaid(ctx, wo); err != nil {
			return err
		}
		best := e.selectBestQuote(e.eligibleQuotes(wo, quotes, true))
		if best == nil {
			return e.expire(wo, "no_quotes")
		}
		if err := e.applySelection(wo, best, now); err != nil {
			return err
		}
		if err := e.bumpStats(best.SolverAddress, func(s *types.SolverStats) {
			s.QuotesWon++
		}); err != nil {
			return err
		}
		e.emit(wo.ID, types.EventSolverAutoSelected, selectionPayload(best))
		return nil

	case types.StatusSelected:
		if wo.DeliveryEndsAt != nil && now.After(*wo.DeliveryEndsAt) {
			return e.expire(wo, "delivery_window")
		}
		return nil

	case types.StatusPassedPendingChallenge:
		if wo.ChallengeEndsAt != nil && now.After(*wo.ChallengeEndsAt) &&
			wo.Challenge.Status != types.ChallengePatchWindow {
			return e.settleWorkOrder(ctx, wo)
		}
		return nil

	case types.StatusChallenged:
		if wo.PatchEndsAt != nil && now.After(*wo.PatchEndsAt) {
			return e.finalizeChallengeFailure(ctx, wo)
		}
		return nil
	}
	return nil
}

func (e *Engine) expire(wo *types.WorkOrder, reason string) error {
	wo.Status = types.StatusExpired
	wo.ExpiryReason = reason
	if err := e.db.UpdateWorkOrder(wo); err != nil {
		return errStorage(err)
	}
	e.logger.Info("Work order expired", "workorder", wo.ID, "reason", reason)
	e.emit(wo.ID, types.EventWorkOrderExpired, map[string]any{"reason": reason})
	return nil
}
