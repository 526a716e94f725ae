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

package paychan

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"

	"github.com/fefe102/v4SessionHookMarkets/core/types"
	"github.com/fefe102/v4SessionHookMarkets/currency"
)

// MockAdapter is a pure in-memory Adapter with synthetic identifiers. It
// enforces the full contract: allocation conservation, strictly increasing
// versions, allowance checks and transfer idempotency.
type MockAdapter struct {
	mu       sync.Mutex
	decimals int32
	asset    string
	sessions map[string]*mockSession // by work order id
	logger   log.Logger
}

type mockSession struct {
	state          *types.SessionState
	closed         bool
	settlementTxID string
	transfers      map[string]*mockTransfer // by event id
}

type mockTransfer struct {
	transferID string
	state      *types.SessionState // state snapshot after the transfer
}

// NewMockAdapter returns an adapter operating on assetAddress with the given
// base-unit decimals.
func NewMockAdapter(assetAddress string, decimals int32) *MockAdapter {
	return &MockAdapter{
		decimals: decimals,
		asset:    assetAddress,
		sessions: make(map[string]*mockSession),
		logger:   log.New("adapter", "mock"),
	}
}

// CreateSession allocates the whole allocationTotal to the requester at
// index 0. Calling it again for the same work order returns the existing
// session.
func (m *MockAdapter) CreateSession(ctx context.Context, workOrderID string, allowanceTotal, allocationTotal *big.Int, requester string, solvers []string) (*types.SessionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sess, ok := m.sessions[workOrderID]; ok {
		return sess.state.Copy(), nil
	}

	participants := append([]string{types.NormalizeAddress(requester)}, normalizeAll(solvers)...)
	allocations := make([]types.Allocation, len(participants))
	for i, p := range participants {
		amount := "0"
		if i == 0 {
			amount = currency.FormatUnits(allocationTotal, m.decimals)
		}
		allocations[i] = types.Allocation{Participant: p, Amount: amount}
	}
	state := &types.SessionState{
		SessionID:      "mock-sess-" + uuid.NewString(),
		AssetAddress:   m.asset,
		AllowanceTotal: currency.FormatUnits(allowanceTotal, m.decimals),
		Participants:   participants,
		Allocations:    allocations,
		Version:        1,
	}
	m.sessions[workOrderID] = &mockSession{
		state:     state,
		transfers: make(map[string]*mockTransfer),
	}
	m.logger.Info("Created mock session", "workorder", workOrderID, "session", state.SessionID, "participants", len(participants))
	return state.Copy(), nil
}

// Transfer moves event.Amount from the requester to event.ToAddress and bumps
// the version. Replayed event ids return the recorded result unchanged.
func (m *MockAdapter) Transfer(ctx context.Context, workOrderID string, event *types.PaymentEvent, state *types.SessionState, allowanceTotal *big.Int) (string, *types.SessionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[workOrderID]
	if !ok {
		return "", nil, ErrUnknownSession
	}
	if sess.closed {
		return "", nil, ErrSessionClosed
	}
	if prev, ok := sess.transfers[event.ID]; ok {
		return prev.transferID, prev.state.Copy(), nil
	}

	next, err := applyTransfer(sess.state, event, m.decimals)
	if err != nil {
		return "", nil, err
	}

	transferID := "mock-tx-" + uuid.NewString()
	sess.state = next
	sess.transfers[event.ID] = &mockTransfer{transferID: transferID, state: next.Copy()}
	return transferID, next.Copy(), nil
}

// CloseSession marks the session settled and returns a synthetic tx id.
// Closing an already-closed session returns the same id.
func (m *MockAdapter) CloseSession(ctx context.Context, workOrderID string, state *types.SessionState) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[workOrderID]
	if !ok {
		return "", ErrUnknownSession
	}
	if sess.closed {
		return sess.settlementTxID, nil
	}
	sess.closed = true
	sess.settlementTxID = "mock-settle-" + uuid.NewString()
	m.logger.Info("Closed mock session", "workorder", workOrderID, "session", sess.state.SessionID, "version", sess.state.Version)
	return sess.settlementTxID, nil
}

func normalizeAll(addrs []string) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = types.NormalizeAddress(a)
	}
	return out
}
