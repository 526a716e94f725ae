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
	"strings"

	"github.com/google/uuid"

	"github.com/fefe102/v4SessionHookMarkets/core/types"
	"github.com/fefe102/v4SessionHookMarkets/currency"
	"github.com/fefe102/v4SessionHookMarkets/marketdb"
	"github.com/fefe102/v4SessionHookMarkets/sigtypes"
	"github.com/fefe102/v4SessionHookMarkets/verifier"
)

// challengeRewardPercent of the base price is paid to a winning challenger.
const challengeRewardPercent = 20

// SubmitChallenge records a signed dispute from a session participant and
// runs the verifier's reproduction. A successful challenge opens the patch
// window, or pays out immediately when the patch window is disabled.
func (e *Engine) SubmitChallenge(ctx context.Context, payload ChallengePayload) (*types.WorkOrder, error) {
	unlock := e.locks.lock(payload.WorkOrderID)
	defer unlock()

	wo, err := e.getWorkOrder(payload.WorkOrderID)
	if err != nil {
		return nil, err
	}
	now := e.now()
	if wo.Status != types.StatusPassedPendingChallenge {
		return nil, errState("work order %s is not challengeable (status %s)", wo.ID, wo.Status)
	}
	if wo.Challenge.Status != types.ChallengeOpen {
		return nil, errState("challenge window is not open (challenge status %s)", wo.Challenge.Status)
	}
	// The boundary instant itself is still inside the window.
	if wo.ChallengeEndsAt != nil && now.After(*wo.ChallengeEndsAt) {
		return nil, errState("challenge window closed at %s", wo.ChallengeEndsAt)
	}
	if wo.Yellow == nil || !wo.Yellow.Participant(payload.ChallengerAddress) {
		return nil, errAuthorization("challenger is not a session participant")
	}

	canonical, err := sigtypes.ReproductionHash(payload.ReproductionSpec)
	if err != nil {
		return nil, errValidation("reproductionSpec is not serializable")
	}
	if canonical != strings.ToLower(payload.ReproductionHash) {
		return nil, errHashMismatch("reproductionHash does not match hash(serialize(reproductionSpec))")
	}
	msg := sigtypes.ChallengeMessage{
		WorkOrderID:      payload.WorkOrderID,
		SubmissionID:     payload.SubmissionID,
		ReproductionHash: payload.ReproductionHash,
	}
	if err := sigtypes.VerifySigner(e.domain, msg, payload.Signature, payload.ChallengerAddress); err != nil {
		return nil, errAuthorization("challenge signature does not recover to %s", payload.ChallengerAddress)
	}

	sub, err := e.db.GetSubmission(payload.SubmissionID)
	if err == marketdb.ErrNotFound {
		return nil, errNotFound("submission %s not found", payload.SubmissionID)
	}
	if err != nil {
		return nil, errStorage(err)
	}
	if sub.WorkOrderID != wo.ID {
		return nil, errValidation("submission %s does not belong to work order %s", sub.ID, wo.ID)
	}

	challengeID := uuid.NewString()
	input := &verifier.ChallengeInput{
		ChallengeID:       challengeID,
		ChallengerAddress: types.NormalizeAddress(payload.ChallengerAddress),
		ReproductionSpec:  payload.ReproductionSpec,
		ReproductionHash:  strings.ToLower(payload.ReproductionHash),
	}
	outcome, err := e.verifier.Challenge(ctx, wo, sub, input)
	if err != nil {
		return nil, errVerifier(err)
	}

	if outcome == verifier.OutcomeRejected {
		wo.Challenge.Status = types.ChallengeRejected
		wo.Challenge.ChallengeID = challengeID
		wo.Challenge.ChallengerAddress = input.ChallengerAddress
		if err := e.db.UpdateWorkOrder(wo); err != nil {
			return nil, errStorage(err)
		}
		e.emit(wo.ID, types.EventChallengeRejected, map[string]any{
			"challengeId":       challengeID,
			"challengerAddress": input.ChallengerAddress,
		})
		return wo, nil
	}

	quote := e.selectedQuote(wo)
	base, err := e.basePrice(wo, quote)
	if err != nil {
		return nil, err
	}
	rewardUnits := currency.PercentOf(base, challengeRewardPercent, e.cfg.AssetDecimals)
	reward := e.formatUnits(rewardUnits)

	if e.cfg.PatchWindow > 0 {
		patchEnds := now.Add(e.cfg.PatchWindow)
		wo.Status = types.StatusChallenged
		wo.PatchEndsAt = &patchEnds
		wo.Challenge = types.Challenge{
			Status:              types.ChallengePatchWindow,
			ChallengeID:         challengeID,
			ChallengerAddress:   input.ChallengerAddress,
			PendingRewardAmount: reward,
		}
		if err := e.db.UpdateWorkOrder(wo); err != nil {
			return nil, errStorage(err)
		}
		e.logger.Info("Challenge opened", "workorder", wo.ID, "challenger", input.ChallengerAddress, "reward", reward)
		e.emit(wo.ID, types.EventChallengeOpened, map[string]any{
			"challengeId":         challengeID,
			"challengerAddress":   input.ChallengerAddress,
			"pendingRewardAmount": reward,
			"patchEndsAt":         patchEnds,
		})
		return wo, nil
	}

	// Patch window disabled: the challenger wins outright.
	wo.Challenge = types.Challenge{
		Status:              types.ChallengePatchFailed,
		ChallengeID:         challengeID,
		ChallengerAddress:   input.ChallengerAddress,
		PendingRewardAmount: reward,
	}
	if err := e.payChallengeReward(ctx, wo); err != nil {
		return nil, err
	}
	if err := e.bumpChallengeStats(wo); err != nil {
		return nil, err
	}
	wo.Status = types.StatusFailed
	wo.Challenge.PendingRewardAmount = ""
	if err := e.db.UpdateWorkOrder(wo); err != nil {
		return nil, errStorage(err)
	}
	e.emit(wo.ID, types.EventChallengeSucceeded, map[string]any{
		"challengeId":       challengeID,
		"challengerAddress": input.ChallengerAddress,
		"rewardAmount":      reward,
	})
	return wo, nil
}

// finalizeChallengeFailure settles a challenge in the challenger's favor:
// pays the pending reward (at most once), bumps both parties' counters and
// fails the work order. Reached from a failed patch, an elapsed patch
// window, or an immediate payout.
func (e *Engine) finalizeChallengeFailure(ctx context.Context, wo *types.WorkOrder) error {
	if err := e.payChallengeReward(ctx, wo); err != nil {
		return err
	}
	if err := e.bumpChallengeStats(wo); err != nil {
		return err
	}
	wo.Status = types.StatusFailed
	wo.Challenge.Status = types.ChallengePatchFailed
	wo.Challenge.PendingRewardAmount = ""
	if err := e.db.UpdateWorkOrder(wo); err != nil {
		return errStorage(err)
	}
	e.logger.Info("Challenge finalized against solver", "workorder", wo.ID,
		"solver", wo.Selection.SelectedSolverID, "challenger", wo.Challenge.ChallengerAddress)
	e.emit(wo.ID, types.EventChallengeFailed, map[string]any{
		"challengeId":       wo.Challenge.ChallengeID,
		"challengerAddress": wo.Challenge.ChallengerAddress,
	})
	return nil
}

// payChallengeReward pays the pending challenge reward, skipping when any
// CHALLENGE_REWARD was already recorded for the work order.
func (e *Engine) payChallengeReward(ctx context.Context, wo *types.WorkOrder) error {
	events, err := e.db.ListPaymentEvents(wo.ID)
	if err != nil {
		return errStorage(err)
	}
	for _, p := range events {
		if p.Type == types.PaymentChallengeReward {
			return nil
		}
	}
	if wo.Challenge.PendingRewardAmount == "" || wo.Challenge.ChallengerAddress == "" {
		return nil
	}
	event := &types.PaymentEvent{
		ID:          uuid.NewString(),
		WorkOrderID: wo.ID,
		Type:        types.PaymentChallengeReward,
		ToAddress:   wo.Challenge.ChallengerAddress,
		Amount:      wo.Challenge.PendingRewardAmount,
		CreatedAt:   e.now(),
	}
	return e.sessions.RecordPayment(ctx, wo, event)
}

func (e *Engine) bumpChallengeStats(wo *types.WorkOrder) error {
	if err := e.bumpStats(wo.Selection.SelectedSolverID, func(s *types.SolverStats) {
		s.ChallengesAgainst++
	}); err != nil {
		return err
	}
	return e.bumpStats(wo.Challenge.ChallengerAddress, func(s *types.SolverStats) {
		s.ChallengesWon++
	})
}
