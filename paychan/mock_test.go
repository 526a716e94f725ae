package paychan

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fefe102/v4SessionHookMarkets/core/types"
	"github.com/fefe102/v4SessionHookMarkets/currency"
)

const (
	requester = "0x00000000000000000000000000000000000000aa"
	solverA   = "0x00000000000000000000000000000000000000b1"
	solverB   = "0x00000000000000000000000000000000000000b2"
	outsider  = "0x00000000000000000000000000000000000000c3"
)

func units(t *testing.T, s string) *big.Int {
	t.Helper()
	u, err := currency.ParseUnits(s, 6)
	require.NoError(t, err)
	return u
}

func allocationSum(t *testing.T, state *types.SessionState) *big.Int {
	t.Helper()
	total := new(big.Int)
	for _, a := range state.Allocations {
		total.Add(total, units(t, a.Amount))
	}
	return total
}

func newSession(t *testing.T, m *MockAdapter) *types.SessionState {
	t.Helper()
	state, err := m.CreateSession(context.Background(), "wo-1", units(t, "10.02"), units(t, "10.02"), requester, []string{solverA, solverB})
	require.NoError(t, err)
	return state
}

func TestCreateSessionAllocations(t *testing.T) {
	m := NewMockAdapter("0xasset", 6)
	state := newSession(t, m)

	require.NotEmpty(t, state.SessionID)
	require.Equal(t, uint64(1), state.Version)
	require.Equal(t, requester, state.Participants[0])
	require.Len(t, state.Allocations, 3)
	require.Equal(t, "10.02", state.Allocations[0].Amount)
	require.Equal(t, "0", state.Allocations[1].Amount)

	// Idempotent: a second create returns the same session.
	again, err := m.CreateSession(context.Background(), "wo-1", units(t, "10.02"), units(t, "10.02"), requester, []string{solverA})
	require.NoError(t, err)
	require.Equal(t, state.SessionID, again.SessionID)
}

func TestTransferBumpsVersionAndConserves(t *testing.T) {
	m := NewMockAdapter("0xasset", 6)
	state := newSession(t, m)
	initial := allocationSum(t, state)

	ev := &types.PaymentEvent{ID: "pe-1", WorkOrderID: "wo-1", Type: types.PaymentQuoteReward, ToAddress: solverA, Amount: "0.01"}
	txID, next, err := m.Transfer(context.Background(), "wo-1", ev, state, units(t, "10.02"))
	require.NoError(t, err)
	require.NotEmpty(t, txID)
	require.Equal(t, uint64(2), next.Version)
	require.Equal(t, "10.01", next.Allocations[0].Amount)
	require.Equal(t, "0.01", next.Allocations[1].Amount)
	require.Zero(t, initial.Cmp(allocationSum(t, next)))
}

func TestTransferAppendsNewParticipant(t *testing.T) {
	m := NewMockAdapter("0xasset", 6)
	state := newSession(t, m)

	ev := &types.PaymentEvent{ID: "pe-1", WorkOrderID: "wo-1", Type: types.PaymentChallengeReward, ToAddress: outsider, Amount: "1.8"}
	_, next, err := m.Transfer(context.Background(), "wo-1", ev, state, units(t, "10.02"))
	require.NoError(t, err)
	require.Len(t, next.Participants, 4)
	require.Equal(t, outsider, next.Participants[3])
	require.Equal(t, "1.8", next.Allocations[3].Amount)
}

func TestTransferInsufficientAllowance(t *testing.T) {
	m := NewMockAdapter("0xasset", 6)
	state := newSession(t, m)

	ev := &types.PaymentEvent{ID: "pe-1", WorkOrderID: "wo-1", Type: types.PaymentMilestone, ToAddress: solverA, Amount: "10.03"}
	_, _, err := m.Transfer(context.Background(), "wo-1", ev, state, units(t, "10.02"))
	require.ErrorIs(t, err, ErrInsufficientAllowance)

	// The failed transfer left no partial state behind.
	ev2 := &types.PaymentEvent{ID: "pe-2", WorkOrderID: "wo-1", Type: types.PaymentQuoteReward, ToAddress: solverA, Amount: "0.01"}
	_, next, err := m.Transfer(context.Background(), "wo-1", ev2, state, units(t, "10.02"))
	require.NoError(t, err)
	require.Equal(t, uint64(2), next.Version)
}

func TestTransferIdempotentReplay(t *testing.T) {
	m := NewMockAdapter("0xasset", 6)
	state := newSession(t, m)

	ev := &types.PaymentEvent{ID: "pe-1", WorkOrderID: "wo-1", Type: types.PaymentQuoteReward, ToAddress: solverA, Amount: "0.01"}
	tx1, s1, err := m.Transfer(context.Background(), "wo-1", ev, state, units(t, "10.02"))
	require.NoError(t, err)

	tx2, s2, err := m.Transfer(context.Background(), "wo-1", ev, s1, units(t, "10.02"))
	require.NoError(t, err)
	require.Equal(t, tx1, tx2)
	require.Equal(t, s1.Version, s2.Version)
	require.Equal(t, s1.Allocations, s2.Allocations)
}

func TestCloseSession(t *testing.T) {
	m := NewMockAdapter("0xasset", 6)
	state := newSession(t, m)

	txID, err := m.CloseSession(context.Background(), "wo-1", state)
	require.NoError(t, err)
	require.NotEmpty(t, txID)

	// Closing again returns the same settlement id.
	again, err := m.CloseSession(context.Background(), "wo-1", state)
	require.NoError(t, err)
	require.Equal(t, txID, again)

	// Transfers after close are refused.
	ev := &types.PaymentEvent{ID: "pe-9", WorkOrderID: "wo-1", Type: types.PaymentQuoteReward, ToAddress: solverA, Amount: "0.01"}
	_, _, err = m.Transfer(context.Background(), "wo-1", ev, state, units(t, "10.02"))
	require.ErrorIs(t, err, ErrSessionClosed)
}

func TestUnknownSession(t *testing.T) {
	m := NewMockAdapter("0xasset", 6)
	ev := &types.PaymentEvent{ID: "pe-1", WorkOrderID: "wo-x", ToAddress: solverA, Amount: "0.01"}
	_, _, err := m.Transfer(context.Background(), "wo-x", ev, nil, units(t, "1"))
	require.ErrorIs(t, err, ErrUnknownSession)
	_, err = m.CloseSession(context.Background(), "wo-x", nil)
	require.ErrorIs(t, err, ErrUnknownSession)
}
