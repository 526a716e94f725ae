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

// Package core implements the work-order state machine, the session manager
// and the deadline sweep. The engine is logically single-writer per work
// order: a keyed mutex serializes all mutating operations on the same order,
// while read-only queries go straight to the store.
package core

import (
	"context"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/google/uuid"

	"github.com/fefe102/v4SessionHookMarkets/config"
	"github.com/fefe102/v4SessionHookMarkets/core/types"
	"github.com/fefe102/v4SessionHookMarkets/currency"
	"github.com/fefe102/v4SessionHookMarkets/eventbus"
	"github.com/fefe102/v4SessionHookMarkets/marketdb"
	"github.com/fefe102/v4SessionHookMarkets/paychan"
	"github.com/fefe102/v4SessionHookMarkets/reputation"
	"github.com/fefe102/v4SessionHookMarkets/sigtypes"
	"github.com/fefe102/v4SessionHookMarkets/verifier"
)

var (
	workOrdersCreatedCounter = metrics.NewRegisteredCounter("hookmarket/engine/workorders_created", nil)
	quotesSubmittedCounter   = metrics.NewRegisteredCounter("hookmarket/engine/quotes_submitted", nil)
	verifierCallTimer        = metrics.NewRegisteredTimer("hookmarket/engine/verifier_call", nil)
	paymentsRecordedCounter  = metrics.NewRegisteredCounter("hookmarket/engine/payments_recorded", nil)
	sweepsCounter            = metrics.NewRegisteredCounter("hookmarket/engine/sweeps", nil)
)

// Engine owns the work-order state machine and drives the payment adapter
// and the external verifier.
type Engine struct {
	cfg      *config.Config
	db       *marketdb.Database
	bus      *eventbus.Bus
	verifier verifier.API
	domain   sigtypes.Domain
	sessions *SessionManager

	locks  keyedMutex
	now    func() time.Time
	logger log.Logger
}

// New wires an engine from its collaborators.
func New(cfg *config.Config, db *marketdb.Database, bus *eventbus.Bus, adapter paychan.Adapter, vc verifier.API) *Engine {
	e := &Engine{
		cfg:      cfg,
		db:       db,
		bus:      bus,
		verifier: vc,
		domain:   cfg.Domain(),
		now:      time.Now,
		logger:   log.New("service", "engine"),
	}
	e.sessions = newSessionManager(cfg, db, adapter, e)
	return e
}

// emit persists nothing; callers persist state first, then emit, preserving
// the persisted-before-notified ordering guarantee.
func (e *Engine) emit(workOrderID, eventType string, payload map[string]any) {
	e.bus.Emit(types.Event{
		ID:          uuid.NewString(),
		WorkOrderID: workOrderID,
		Type:        eventType,
		CreatedAt:   e.now(),
		Payload:     payload,
	})
}

// parseUnits parses a boundary decimal string in the configured asset.
func (e *Engine) parseUnits(s string) (*big.Int, error) {
	return currency.ParseUnits(s, e.cfg.AssetDecimals)
}

func (e *Engine) formatUnits(u *big.Int) string {
	return currency.FormatUnits(u, e.cfg.AssetDecimals)
}

// CreateWorkOrder validates the input, opens the bidding window and persists
// the new order. No session is created yet.
func (e *Engine) CreateWorkOrder(ctx context.Context, input CreateWorkOrderInput) (*types.WorkOrder, error) {
	if input.Title == "" {
		return nil, errValidation("title is required")
	}
	if input.TemplateType == "" {
		return nil, errValidation("templateType is required")
	}
	if input.Bounty.Currency == "" {
		return nil, errValidation("bounty.currency is required")
	}
	bounty, err := e.parseUnits(input.Bounty.Amount)
	if err != nil || bounty.Sign() <= 0 {
		return nil, errValidation("bounty.amount must be a positive decimal")
	}
	if input.RequesterAddress != "" && !common.IsHexAddress(input.RequesterAddress) {
		return nil, errValidation("requesterAddress is not a valid address")
	}

	now := e.now()
	biddingEnds := now.Add(e.cfg.BiddingWindow)
	wo := &types.WorkOrder{
		ID:               uuid.NewString(),
		CreatedAt:        now,
		Title:            input.Title,
		TemplateType:     input.TemplateType,
		Params:           input.Params,
		Bounty:           input.Bounty,
		RequesterAddress: types.NormalizeAddress(input.RequesterAddress),
		Status:           types.StatusBidding,
		BiddingEndsAt:    &biddingEnds,
		Challenge:        types.Challenge{Status: types.ChallengeNone},
		PayoutSchedule:   types.DefaultPayoutSchedule(),
	}
	if err := e.db.InsertWorkOrder(wo); err != nil {
		return nil, errStorage(err)
	}
	workOrdersCreatedCounter.Inc(1)
	e.logger.Info("Work order created", "id", wo.ID, "template", wo.TemplateType, "bounty", wo.Bounty.Amount)
	e.emit(wo.ID, types.EventWorkOrderCreated, map[string]any{
		"title":         wo.Title,
		"templateType":  wo.TemplateType,
		"bounty":        wo.Bounty,
		"biddingEndsAt": biddingEnds,
	})
	return wo, nil
}

// SubmitQuote validates and records a solver quote during the bidding
// window. Quote rewards are paid later, when the session is created.
func (e *Engine) SubmitQuote(ctx context.Context, payload QuotePayload) (*types.Quote, error) {
	if !common.IsHexAddress(payload.SolverAddress) {
		return nil, errValidation("solverAddress is not a valid address")
	}
	unlock := e.locks.lock(payload.WorkOrderID)
	defer unlock()

	wo, err := e.getWorkOrder(payload.WorkOrderID)
	if err != nil {
		return nil, err
	}
	now := e.now()
	if wo.Status != types.StatusBidding {
		return nil, errState("work order %s is not accepting quotes (status %s)", wo.ID, wo.Status)
	}
	if wo.BiddingEndsAt != nil && now.After(*wo.BiddingEndsAt) {
		return nil, errState("bidding window closed at %s", wo.BiddingEndsAt.Format(time.RFC3339))
	}
	validUntil := time.UnixMilli(payload.ValidUntil)
	if validUntil.Before(now) {
		return nil, errValidation("quote validUntil is in the past")
	}
	price, err := e.parseUnits(payload.Price)
	if err != nil || price.Sign() <= 0 {
		return nil, errValidation("price must be a positive decimal")
	}
	bounty, err := e.parseUnits(wo.Bounty.Amount)
	if err != nil {
		return nil, errStorage(err)
	}
	if price.Cmp(bounty) > 0 {
		return nil, errValidation("price %s exceeds bounty %s", payload.Price, wo.Bounty.Amount)
	}
	msg := sigtypes.QuoteMessage{
		WorkOrderID: payload.WorkOrderID,
		Price:       payload.Price,
		EtaMinutes:  payload.EtaMinutes,
		ValidUntil:  payload.ValidUntil,
	}
	if err := sigtypes.VerifySigner(e.domain, msg, payload.Signature, payload.SolverAddress); err != nil {
		return nil, errAuthorization("quote signature does not recover to %s", payload.SolverAddress)
	}

	quote := &types.Quote{
		ID:            uuid.NewString(),
		WorkOrderID:   wo.ID,
		SolverAddress: types.NormalizeAddress(payload.SolverAddress),
		Price:         payload.Price,
		EtaMinutes:    payload.EtaMinutes,
		ValidUntil:    validUntil,
		Signature:     payload.Signature,
		CreatedAt:     now,
	}
	if err := e.db.InsertQuote(quote); err != nil {
		return nil, errStorage(err)
	}
	if err := e.bumpStats(quote.SolverAddress, func(s *types.SolverStats) {
		s.QuotesSubmitted++
	}); err != nil {
		return nil, err
	}
	quotesSubmittedCounter.Inc(1)
	e.emit(wo.ID, types.EventQuoteCreated, map[string]any{
		"quoteId":       quote.ID,
		"solverAddress": quote.SolverAddress,
		"price":         quote.Price,
		"etaMinutes":    quote.EtaMinutes,
	})
	return quote, nil
}

// SelectQuote closes bidding and selects a quote, either the requested one or
// the best eligible. Also the fallback path after FAILED/EXPIRED.
func (e *Engine) SelectQuote(ctx context.Context, workOrderID, quoteID string, force bool) (*types.WorkOrder, error) {
	unlock := e.locks.lock(workOrderID)
	defer unlock()

	wo, err := e.getWorkOrder(workOrderID)
	if err != nil {
		return nil, err
	}
	now := e.now()
	switch wo.Status {
	case types.StatusBidding:
		if wo.BiddingEndsAt != nil && now.Before(*wo.BiddingEndsAt) {
			if !force {
				return nil, errState("bidding is open until %s", wo.BiddingEndsAt.Format(time.RFC3339))
			}
			if !e.cfg.DemoActions {
				return nil, errState("forced selection requires demo actions")
			}
		}
	case types.StatusFailed, types.StatusExpired:
		// Fallback selection after a verifier failure or expiry.
	default:
		return nil, errState("cannot select in status %s", wo.Status)
	}

	quotes, err := e.listQuotes(workOrderID)
	if err != nil {
		return nil, err
	}
	if len(quotes) == 0 {
		return nil, errState("work order has no quotes")
	}

	if err := e.sessions.EnsureSession(ctx, wo, quotes); err != nil {
		return nil, err
	}
	if err := e.sessions.EnsureQuoteRewardsPaid(ctx, wo); err != nil {
		return nil, err
	}

	var selected *types.Quote
	if quoteID != "" {
		for _, q := range e.eligibleQuotes(wo, quotes, false) {
			if q.ID == quoteID {
				selected = q
				break
			}
		}
		if selected == nil {
			return nil, errValidation("quote %s is not eligible for selection", quoteID)
		}
	} else {
		selected = e.selectBestQuote(e.eligibleQuotes(wo, quotes, true))
		if selected == nil {
			return nil, errState("no eligible quotes remain")
		}
	}

	if err := e.applySelection(wo, selected, now); err != nil {
		return nil, err
	}
	if err := e.bumpStats(selected.SolverAddress, func(s *types.SolverStats) {
		s.QuotesWon++
	}); err != nil {
		return nil, err
	}
	e.emit(wo.ID, types.EventSolverSelected, selectionPayload(selected))
	return wo, nil
}

// eligibleQuotes filters quotes whose solver is a session participant;
// excludeAttempted additionally drops quotes that were already tried.
func (e *Engine) eligibleQuotes(wo *types.WorkOrder, quotes []*types.Quote, excludeAttempted bool) []*types.Quote {
	var out []*types.Quote
	for _, q := range quotes {
		if wo.Yellow == nil || !wo.Yellow.Participant(q.SolverAddress) {
			continue
		}
		if excludeAttempted && wo.Attempted(q.ID) {
			continue
		}
		out = append(out, q)
	}
	return out
}

// selectBestQuote ranks ascending by price, then ascending ETA, then
// descending reputation, then oldest first.
func (e *Engine) selectBestQuote(quotes []*types.Quote) *types.Quote {
	if len(quotes) == 0 {
		return nil
	}
	ranked := append([]*types.Quote(nil), quotes...)
	sort.SliceStable(ranked, func(i, j int) bool {
		pi, erri := e.parseUnits(ranked[i].Price)
		pj, errj := e.parseUnits(ranked[j].Price)
		if erri == nil && errj == nil {
			if c := pi.Cmp(pj); c != 0 {
				return c < 0
			}
		}
		if ranked[i].EtaMinutes != ranked[j].EtaMinutes {
			return ranked[i].EtaMinutes < ranked[j].EtaMinutes
		}
		si := e.solverScore(ranked[i].SolverAddress)
		sj := e.solverScore(ranked[j].SolverAddress)
		if si != sj {
			return si > sj
		}
		return ranked[i].CreatedAt.Before(ranked[j].CreatedAt)
	})
	return ranked[0]
}

func (e *Engine) solverScore(address string) float64 {
	stats, err := e.db.GetSolverStats(address)
	if err != nil {
		e.logger.Warn("Failed to load solver stats for ranking", "address", address, "err", err)
		return 0
	}
	return reputation.Score(*stats)
}

// applySelection moves the work order to SELECTED and opens the delivery and
// verify windows. The challenge sub-state is reset.
func (e *Engine) applySelection(wo *types.WorkOrder, quote *types.Quote, now time.Time) error {
	deliveryEnds := now.Add(e.cfg.DeliveryWindow)
	verifyEnds := now.Add(e.cfg.VerifyWindow)
	selectedAt := now

	wo.Status = types.StatusSelected
	wo.Selection.SelectedQuoteID = quote.ID
	wo.Selection.SelectedSolverID = quote.SolverAddress
	wo.Selection.SelectedAt = &selectedAt
	wo.DeliveryEndsAt = &deliveryEnds
	wo.VerifyEndsAt = &verifyEnds
	wo.ChallengeEndsAt = nil
	wo.PatchEndsAt = nil
	wo.Challenge = types.Challenge{Status: types.ChallengeNone}

	if err := e.db.UpdateWorkOrder(wo); err != nil {
		return errStorage(err)
	}
	e.logger.Info("Solver selected", "workorder", wo.ID, "quote", quote.ID, "solver", quote.SolverAddress, "price", quote.Price)
	return nil
}

func selectionPayload(q *types.Quote) map[string]any {
	return map[string]any{
		"quoteId":       q.ID,
		"solverAddress": q.SolverAddress,
		"price":         q.Price,
		"etaMinutes":    q.EtaMinutes,
	}
}

// bumpStats loads, mutates and upserts one solver's counters.
func (e *Engine) bumpStats(address string, mutate func(*types.SolverStats)) error {
	stats, err := e.db.GetSolverStats(address)
	if err != nil {
		return errStorage(err)
	}
	mutate(stats)
	if err := e.db.UpsertSolverStats(stats); err != nil {
		return errStorage(err)
	}
	return nil
}

func (e *Engine) getWorkOrder(id string) (*types.WorkOrder, error) {
	wo, err := e.db.GetWorkOrder(id)
	if err == marketdb.ErrNotFound {
		return nil, errNotFound("work order %s not found", id)
	}
	if err != nil {
		return nil, errStorage(err)
	}
	return wo, nil
}

func (e *Engine) listQuotes(workOrderID string) ([]*types.Quote, error) {
	quotes, err := e.db.ListQuotes(workOrderID)
	if err != nil {
		return nil, errStorage(err)
	}
	return quotes, nil
}
