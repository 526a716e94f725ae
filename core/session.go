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
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"

	"github.com/fefe102/v4SessionHookMarkets/config"
	"github.com/fefe102/v4SessionHookMarkets/core/types"
	"github.com/fefe102/v4SessionHookMarkets/currency"
	"github.com/fefe102/v4SessionHookMarkets/marketdb"
	"github.com/fefe102/v4SessionHookMarkets/paychan"
)

// SessionManager is the sole writer of per-work-order session state. It
// allocates the session at bidding close, pays quote rewards, and wraps
// adapter transfers so that allocation conservation and the monotonic
// version survive process restarts (everything the adapter needs lives on
// the persisted work order).
type SessionManager struct {
	cfg     *config.Config
	db      *marketdb.Database
	adapter paychan.Adapter
	engine  *Engine
	logger  log.Logger
}

func newSessionManager(cfg *config.Config, db *marketdb.Database, adapter paychan.Adapter, engine *Engine) *SessionManager {
	return &SessionManager{
		cfg:     cfg,
		db:      db,
		adapter: adapter,
		engine:  engine,
		logger:  log.New("service", "sessions"),
	}
}

// EnsureSession creates the payment-channel session for a work order if none
// exists. Participants are the requester plus up to MaxQuoteRewards distinct
// solver addresses, oldest quote first; the allowance is the bounty plus one
// quote reward per participant solver. Idempotent.
func (m *SessionManager) EnsureSession(ctx context.Context, wo *types.WorkOrder, quotes []*types.Quote) error {
	if wo.Yellow != nil {
		return nil
	}

	solvers := make([]string, 0, m.cfg.MaxQuoteRewards)
	seen := make(map[string]bool)
	for _, q := range quotes {
		addr := types.NormalizeAddress(q.SolverAddress)
		if seen[addr] {
			continue
		}
		seen[addr] = true
		solvers = append(solvers, addr)
		if len(solvers) >= m.cfg.MaxQuoteRewards {
			break
		}
	}

	bounty, err := currency.ParseUnits(wo.Bounty.Amount, m.cfg.AssetDecimals)
	if err != nil {
		return errStorage(err)
	}
	reward, err := currency.ParseUnits(m.cfg.QuoteReward, m.cfg.AssetDecimals)
	if err != nil {
		return errStorage(err)
	}
	allowance := new(big.Int).Add(bounty, new(big.Int).Mul(reward, big.NewInt(int64(len(solvers)))))

	requester := wo.RequesterAddress
	if requester == "" {
		requester = m.cfg.OperatorAddress
	}

	state, err := m.adapter.CreateSession(ctx, wo.ID, allowance, allowance, requester, solvers)
	if err != nil {
		return errAdapter(err)
	}
	wo.Yellow = state
	if err := m.db.UpdateWorkOrder(wo); err != nil {
		return errStorage(err)
	}
	m.logger.Info("Session created", "workorder", wo.ID, "session", state.SessionID,
		"allowance", state.AllowanceTotal, "solvers", len(solvers))
	m.engine.emit(wo.ID, types.EventYellowSessionCreated, map[string]any{
		"sessionId":      state.SessionID,
		"allowanceTotal": state.AllowanceTotal,
		"participants":   state.Participants,
	})
	return nil
}

// EnsureQuoteRewardsPaid pays one quote reward to every participant solver
// that has not received one yet. At most one QUOTE_REWARD per (work order,
// solver) ever exists.
func (m *SessionManager) EnsureQuoteRewardsPaid(ctx context.Context, wo *types.WorkOrder) error {
	if wo.Yellow == nil {
		return errState("work order %s has no session", wo.ID)
	}
	existing, err := m.db.ListPaymentEvents(wo.ID)
	if err != nil {
		return errStorage(err)
	}
	rewarded := make(map[string]bool)
	for _, p := range existing {
		if p.Type == types.PaymentQuoteReward {
			rewarded[types.NormalizeAddress(p.ToAddress)] = true
		}
	}

	for _, solver := range wo.Yellow.Participants[1:] {
		if rewarded[solver] {
			continue
		}
		event := &types.PaymentEvent{
			ID:          uuid.NewString(),
			WorkOrderID: wo.ID,
			Type:        types.PaymentQuoteReward,
			ToAddress:   solver,
			Amount:      m.cfg.QuoteReward,
			CreatedAt:   m.engine.now(),
		}
		if err := m.RecordPayment(ctx, wo, event); err != nil {
			return err
		}
		m.engine.emit(wo.ID, types.EventQuoteRewardPaid, map[string]any{
			"solverAddress": solver,
			"amount":        m.cfg.QuoteReward,
			"paymentId":     event.ID,
		})
	}
	return nil
}

// RecordPayment performs one adapter transfer and persists the updated
// session state plus the payment event. Transient adapter failures are
// retried once; the adapter's (workOrderId, event.id) idempotency makes the
// retry safe. Callers hold the per-work-order lock.
func (m *SessionManager) RecordPayment(ctx context.Context, wo *types.WorkOrder, event *types.PaymentEvent) error {
	if wo.Yellow == nil {
		return errState("work order %s has no session", wo.ID)
	}
	allowance, err := currency.ParseUnits(wo.Yellow.AllowanceTotal, m.cfg.AssetDecimals)
	if err != nil {
		return errStorage(err)
	}

	// Engine-side allowance invariant: paid + amount must stay within the
	// session allowance, independent of adapter internals.
	amount, err := currency.ParseUnits(event.Amount, m.cfg.AssetDecimals)
	if err != nil {
		return errStorage(err)
	}
	paid, err := m.totalPaid(wo.ID)
	if err != nil {
		return err
	}
	if new(big.Int).Add(paid, amount).Cmp(allowance) > 0 {
		return errInsufficientAllowance(paychan.ErrInsufficientAllowance)
	}

	transferID, state, err := m.adapter.Transfer(ctx, wo.ID, event, wo.Yellow, allowance)
	if paychan.IsTransient(err) {
		m.logger.Warn("Transfer failed transiently, retrying once", "workorder", wo.ID, "event", event.ID, "err", err)
		transferID, state, err = m.adapter.Transfer(ctx, wo.ID, event, wo.Yellow, allowance)
	}
	if errors.Is(err, paychan.ErrInsufficientAllowance) {
		return errInsufficientAllowance(err)
	}
	if err != nil {
		return errAdapter(err)
	}

	event.TransferID = transferID
	wo.Yellow = state
	if err := m.db.UpdateWorkOrder(wo); err != nil {
		return errStorage(err)
	}
	if err := m.db.InsertPaymentEvent(event); err != nil {
		return errStorage(err)
	}
	paymentsRecordedCounter.Inc(1)
	m.logger.Info("Payment recorded", "workorder", wo.ID, "type", event.Type, "to", event.ToAddress,
		"amount", event.Amount, "version", state.Version)
	return nil
}

// CloseSession settles the adapter session, retrying once on a transient
// failure.
func (m *SessionManager) CloseSession(ctx context.Context, wo *types.WorkOrder) (string, error) {
	if wo.Yellow == nil {
		return "", errState("work order %s has no session", wo.ID)
	}
	settlementTxID, err := m.adapter.CloseSession(ctx, wo.ID, wo.Yellow)
	if paychan.IsTransient(err) {
		m.logger.Warn("Close failed transiently, retrying once", "workorder", wo.ID, "err", err)
		settlementTxID, err = m.adapter.CloseSession(ctx, wo.ID, wo.Yellow)
	}
	if err != nil {
		return "", errAdapter(err)
	}
	return settlementTxID, nil
}

// totalPaid sums all recorded payment amounts for the work order.
func (m *SessionManager) totalPaid(workOrderID string) (*big.Int, error) {
	events, err := m.db.ListPaymentEvents(workOrderID)
	if err != nil {
		return nil, errStorage(err)
	}
	total := new(big.Int)
	for _, p := range events {
		u, err := currency.ParseUnits(p.Amount, m.cfg.AssetDecimals)
		if err != nil {
			return nil, errStorage(err)
		}
		total.Add(total, u)
	}
	return total, nil
}
