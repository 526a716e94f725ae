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
	"time"

	"github.com/fefe102/v4SessionHookMarkets/core/types"
)

// EndSession settles a work order that survived its challenge window. Before
// challengeEndsAt the caller must force.
func (e *Engine) EndSession(ctx context.Context, workOrderID string, force bool) (*types.WorkOrder, error) {
	unlock := e.locks.lock(workOrderID)
	defer unlock()

	wo, err := e.getWorkOrder(workOrderID)
	if err != nil {
		return nil, err
	}
	if wo.Status != types.StatusPassedPendingChallenge {
		return nil, errState("work order %s cannot settle in status %s", wo.ID, wo.Status)
	}
	if wo.Challenge.Status == types.ChallengePatchWindow {
		return nil, errState("cannot settle during an open patch window")
	}
	if wo.ChallengeEndsAt != nil && e.now().Before(*wo.ChallengeEndsAt) && !force {
		return nil, errState("challenge window open until %s", wo.ChallengeEndsAt.Format(time.RFC3339))
	}
	if err := e.settleWorkOrder(ctx, wo); err != nil {
		return nil, err
	}
	return wo, nil
}

// settleWorkOrder pays the remaining holdback to the selected solver, closes
// the session and completes the work order. Callers hold the work-order
// lock.
func (e *Engine) settleWorkOrder(ctx context.Context, wo *types.WorkOrder) error {
	quote := e.selectedQuote(wo)
	base, err := e.basePrice(wo, quote)
	if err != nil {
		return err
	}
	percent := wo.MilestonePercent(types.MilestoneHoldback)
	if percent > 0 {
		if err := e.payMilestoneRemainder(ctx, wo, types.MilestoneHoldback, percent, base); err != nil {
			return err
		}
	}

	settlementTxID, err := e.sessions.CloseSession(ctx, wo)
	if err != nil {
		return err
	}
	wo.SettlementTxID = settlementTxID
	wo.Status = types.StatusCompleted
	if err := e.db.UpdateWorkOrder(wo); err != nil {
		return errStorage(err)
	}
	e.logger.Info("Work order completed", "workorder", wo.ID, "settlement", settlementTxID)
	e.emit(wo.ID, types.EventWorkOrderCompleted, map[string]any{
		"settlementTxId": settlementTxID,
	})
	return nil
}
