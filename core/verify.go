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
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fefe102/v4SessionHookMarkets/core/types"
	"github.com/fefe102/v4SessionHookMarkets/currency"
	"github.com/fefe102/v4SessionHookMarkets/marketdb"
	"github.com/fefe102/v4SessionHookMarkets/sigtypes"
)

// SubmitSubmission records a signed artifact from the selected solver and
// runs verification synchronously. Valid while SELECTED, or while CHALLENGED
// within the patch window (a patch attempt).
func (e *Engine) SubmitSubmission(ctx context.Context, payload SubmissionPayload) (*types.WorkOrder, error) {
	unlock := e.locks.lock(payload.WorkOrderID)
	defer unlock()

	wo, err := e.getWorkOrder(payload.WorkOrderID)
	if err != nil {
		return nil, err
	}
	now := e.now()
	patching := wo.Status == types.StatusChallenged &&
		wo.Challenge.Status == types.ChallengePatchWindow &&
		wo.PatchEndsAt != nil && !now.After(*wo.PatchEndsAt)
	if wo.Status != types.StatusSelected && !patching {
		return nil, errState("work order %s is not accepting submissions (status %s)", wo.ID, wo.Status)
	}
	if !strings.EqualFold(payload.SolverAddress, wo.Selection.SelectedSolverID) {
		return nil, errAuthorization("submission must come from the selected solver")
	}
	if sigtypes.ArtifactHash(payload.RepoURL, payload.CommitSha) != strings.ToLower(payload.ArtifactHash) {
		return nil, errHashMismatch("artifactHash does not match hash(repoUrl:commitSha)")
	}
	msg := sigtypes.SubmissionMessage{
		WorkOrderID:  payload.WorkOrderID,
		RepoURL:      payload.RepoURL,
		CommitSha:    payload.CommitSha,
		ArtifactHash: payload.ArtifactHash,
	}
	if err := sigtypes.VerifySigner(e.domain, msg, payload.Signature, payload.SolverAddress); err != nil {
		return nil, errAuthorization("submission signature does not recover to %s", payload.SolverAddress)
	}

	sub := &types.Submission{
		ID:            uuid.NewString(),
		WorkOrderID:   wo.ID,
		SolverAddress: types.NormalizeAddress(payload.SolverAddress),
		Artifact: types.Artifact{
			Kind:         types.ArtifactKindGitCommit,
			RepoURL:      payload.RepoURL,
			CommitSha:    payload.CommitSha,
			ArtifactHash: strings.ToLower(payload.ArtifactHash),
		},
		Signature: payload.Signature,
		CreatedAt: now,
	}
	if err := e.db.InsertSubmission(sub); err != nil {
		return nil, errStorage(err)
	}
	wo.Status = types.StatusVerifying
	if err := e.db.UpdateWorkOrder(wo); err != nil {
		return nil, errStorage(err)
	}
	e.emit(wo.ID, types.EventSubmissionReceived, map[string]any{
		"submissionId": sub.ID,
		"repoUrl":      sub.Artifact.RepoURL,
		"commitSha":    sub.Artifact.CommitSha,
		"patch":        patching,
	})

	return e.runVerification(ctx, wo, sub)
}

// runVerification calls the external verifier and applies the PASS/FAIL
// transition. A transport failure fails the work order.
func (e *Engine) runVerification(ctx context.Context, wo *types.WorkOrder, sub *types.Submission) (*types.WorkOrder, error) {
	start := time.Now()
	res, err := e.verifier.Verify(ctx, wo, sub)
	verifierCallTimer.UpdateSince(start)
	if err != nil {
		e.logger.Error("Verifier call failed", "workorder", wo.ID, "submission", sub.ID, "err", err)
		wo.Status = types.StatusFailed
		if serr := e.db.UpdateWorkOrder(wo); serr != nil {
			return nil, errStorage(serr)
		}
		e.emit(wo.ID, types.EventVerificationFailed, map[string]any{
			"submissionId": sub.ID,
			"error":        err.Error(),
		})
		return nil, errVerifier(err)
	}

	report := res.Report
	if report.ID == "" {
		report.ID = uuid.NewString()
	}
	report.SubmissionID = sub.ID
	if report.ProducedAt.IsZero() {
		report.ProducedAt = e.now()
	}
	if err := e.db.InsertVerificationReport(report); err != nil {
		return nil, errStorage(err)
	}
	e.archiveReport(report)
	wo.VerificationReportID = report.ID

	if report.Status == types.ReportPass {
		return e.handleVerificationPass(ctx, wo, sub, res.MilestonesPassed)
	}
	return e.handleVerificationFail(ctx, wo, report)
}

func (e *Engine) handleVerificationPass(ctx context.Context, wo *types.WorkOrder, sub *types.Submission, milestonesPassed []string) (*types.WorkOrder, error) {
	now := e.now()
	patched := wo.Challenge.Status == types.ChallengePatchWindow

	wo.Status = types.StatusPassedPendingChallenge
	if patched {
		wo.Challenge.Status = types.ChallengePatchPassed
		challengeEnds := now
		wo.ChallengeEndsAt = &challengeEnds
	} else {
		wo.Challenge.Status = types.ChallengeOpen
		challengeEnds := now.Add(e.cfg.ChallengeWindow)
		wo.ChallengeEndsAt = &challengeEnds
	}
	wo.PatchEndsAt = nil
	if err := e.db.UpdateWorkOrder(wo); err != nil {
		return nil, errStorage(err)
	}

	quote := e.selectedQuote(wo)
	var eta int64
	if quote != nil {
		eta = quote.EtaMinutes
	}
	actualMinutes := int64(0)
	if wo.Selection.SelectedAt != nil {
		elapsed := now.Sub(*wo.Selection.SelectedAt)
		actualMinutes = int64((elapsed + time.Minute - 1) / time.Minute)
	}
	onTime := wo.DeliveryEndsAt == nil || !now.After(*wo.DeliveryEndsAt)
	if err := e.bumpStats(wo.Selection.SelectedSolverID, func(s *types.SolverStats) {
		s.DeliveriesSucceeded++
		s.TotalEtaMinutes += eta
		s.TotalActualMinutes += actualMinutes
		if onTime {
			s.OnTimeDeliveries++
		}
	}); err != nil {
		return nil, err
	}

	if err := e.payMilestones(ctx, wo, quote, milestonesPassed); err != nil {
		return nil, err
	}
	e.logger.Info("Verification passed", "workorder", wo.ID, "submission", sub.ID,
		"milestones", len(milestonesPassed), "patched", patched)
	return wo, nil
}

func (e *Engine) handleVerificationFail(ctx context.Context, wo *types.WorkOrder, report *types.VerificationReport) (*types.WorkOrder, error) {
	e.emit(wo.ID, types.EventVerificationFailed, map[string]any{
		"submissionId": report.SubmissionID,
		"reportId":     report.ID,
	})

	// A failed patch attempt settles the challenge in the challenger's favor.
	if wo.Challenge.Status == types.ChallengePatchWindow {
		if err := e.finalizeChallengeFailure(ctx, wo); err != nil {
			return nil, err
		}
		return wo, nil
	}

	failedQuoteID := wo.Selection.SelectedQuoteID
	if err := e.bumpStats(wo.Selection.SelectedSolverID, func(s *types.SolverStats) {
		s.DeliveriesFailed++
	}); err != nil {
		return nil, err
	}
	wo.Selection.AttemptedQuoteIDs = append(wo.Selection.AttemptedQuoteIDs, failedQuoteID)

	quotes, err := e.listQuotes(wo.ID)
	if err != nil {
		return nil, err
	}
	if err := e.sessions.EnsureSession(ctx, wo, quotes); err != nil {
		return nil, err
	}
	next := e.selectBestQuote(e.eligibleQuotes(wo, quotes, true))
	if next == nil {
		wo.Status = types.StatusFailed
		if err := e.db.UpdateWorkOrder(wo); err != nil {
			return nil, errStorage(err)
		}
		e.logger.Warn("Verification failed with no fallback quotes", "workorder", wo.ID)
		return wo, nil
	}
	if err := e.applySelection(wo, next, e.now()); err != nil {
		return nil, err
	}
	e.emit(wo.ID, types.EventSolverFallbackSelected, selectionPayload(next))
	return wo, nil
}

// payMilestones pays every schedule entry named in milestonesPassed up to its
// target, splitting the remainder into MilestoneSplits parts. The terminal
// holdback milestone is never split.
func (e *Engine) payMilestones(ctx context.Context, wo *types.WorkOrder, quote *types.Quote, milestonesPassed []string) error {
	if len(milestonesPassed) == 0 {
		return nil
	}
	base, err := e.basePrice(wo, quote)
	if err != nil {
		return err
	}
	passed := make(map[string]bool, len(milestonesPassed))
	for _, key := range milestonesPassed {
		passed[key] = true
	}
	for _, milestone := range wo.PayoutSchedule {
		if !passed[milestone.Key] {
			continue
		}
		if err := e.payMilestoneRemainder(ctx, wo, milestone.Key, milestone.Percent, base); err != nil {
			return err
		}
	}
	return nil
}

// payMilestoneRemainder pays target − alreadyPaid for one milestone key to
// the selected solver.
func (e *Engine) payMilestoneRemainder(ctx context.Context, wo *types.WorkOrder, key string, percent int64, base *big.Int) error {
	target := currency.PercentOf(base, percent, e.cfg.AssetDecimals)
	paid, err := e.milestonePaid(wo.ID, key, wo.Selection.SelectedSolverID)
	if err != nil {
		return err
	}
	remainder := new(big.Int).Sub(target, paid)
	if remainder.Sign() <= 0 {
		return nil
	}
	parts := e.cfg.MilestoneSplits
	if strings.HasPrefix(key, "M5_") {
		parts = 1
	}
	for _, share := range currency.SplitEven(remainder, parts) {
		event := &types.PaymentEvent{
			ID:           uuid.NewString(),
			WorkOrderID:  wo.ID,
			Type:         types.PaymentMilestone,
			ToAddress:    wo.Selection.SelectedSolverID,
			Amount:       e.formatUnits(share),
			MilestoneKey: key,
			CreatedAt:    e.now(),
		}
		if err := e.sessions.RecordPayment(ctx, wo, event); err != nil {
			return err
		}
		e.emit(wo.ID, types.EventMilestonePaid, map[string]any{
			"milestoneKey":  key,
			"amount":        event.Amount,
			"solverAddress": event.ToAddress,
			"paymentId":     event.ID,
		})
	}
	return nil
}

// milestonePaid sums prior MILESTONE payments for (work order, key, solver).
func (e *Engine) milestonePaid(workOrderID, key, solver string) (*big.Int, error) {
	events, err := e.db.ListPaymentEvents(workOrderID)
	if err != nil {
		return nil, errStorage(err)
	}
	total := new(big.Int)
	for _, p := range events {
		if p.Type != types.PaymentMilestone || p.MilestoneKey != key {
			continue
		}
		if !strings.EqualFold(p.ToAddress, solver) {
			continue
		}
		u, err := e.parseUnits(p.Amount)
		if err != nil {
			return nil, errStorage(err)
		}
		total.Add(total, u)
	}
	return total, nil
}

// basePrice is the selected quote's price; the bounty is the (logged)
// fallback when the quote row is missing.
func (e *Engine) basePrice(wo *types.WorkOrder, quote *types.Quote) (*big.Int, error) {
	if quote != nil {
		u, err := e.parseUnits(quote.Price)
		if err == nil {
			return u, nil
		}
		e.logger.Warn("Selected quote has unparseable price, falling back to bounty", "workorder", wo.ID, "quote", quote.ID)
	} else {
		e.logger.Warn("Selected quote missing, falling back to bounty for base price", "workorder", wo.ID, "quoteId", wo.Selection.SelectedQuoteID)
	}
	u, err := e.parseUnits(wo.Bounty.Amount)
	if err != nil {
		return nil, errStorage(err)
	}
	return u, nil
}

func (e *Engine) selectedQuote(wo *types.WorkOrder) *types.Quote {
	if wo.Selection.SelectedQuoteID == "" {
		return nil
	}
	q, err := e.db.GetQuote(wo.Selection.SelectedQuoteID)
	if err != nil {
		if err != marketdb.ErrNotFound {
			e.logger.Warn("Failed to load selected quote", "workorder", wo.ID, "err", err)
		}
		return nil
	}
	return q
}

// archiveReport writes the report JSON and captured logs under the data
// directory. Failures are logged, not fatal; the durable copy is in the db.
func (e *Engine) archiveReport(report *types.VerificationReport) {
	if err := os.MkdirAll(e.cfg.ReportsDir(), 0o755); err == nil {
		if enc, err := json.MarshalIndent(report, "", "  "); err == nil {
			path := filepath.Join(e.cfg.ReportsDir(), report.ID+".json")
			if err := os.WriteFile(path, enc, 0o644); err != nil {
				e.logger.Warn("Failed to archive report", "report", report.ID, "err", err)
			}
		}
	}
	if report.Logs == "" {
		return
	}
	if err := os.MkdirAll(e.cfg.LogsDir(), 0o755); err == nil {
		path := filepath.Join(e.cfg.LogsDir(), report.ID+".log")
		if err := os.WriteFile(path, []byte(report.Logs), 0o644); err != nil {
			e.logger.Warn("Failed to archive report logs", "report", report.ID, "err", err)
		}
	}
}
