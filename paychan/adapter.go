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

// Package paychan abstracts the multi-party payment-channel session backing a
// work order: session creation, per-transfer state submission with a version
// bump, and final settlement. Two implementations satisfy the contract: an
// in-process mock and a clearnode RPC client.
package paychan

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/fefe102/v4SessionHookMarkets/core/types"
)

var (
	// ErrInsufficientAllowance means a transfer would overdraw the
	// requester's allocation. Fatal for the work order's payment pipeline.
	ErrInsufficientAllowance = errors.New("paychan: insufficient allowance")

	// ErrSessionClosed means the session was already settled.
	ErrSessionClosed = errors.New("paychan: session closed")

	// ErrUnknownSession means no session exists for the work order.
	ErrUnknownSession = errors.New("paychan: unknown session")
)

// TransientError wraps a transport-level failure the caller may retry once
// per engine operation. The adapter stays idempotent against the retried
// (workOrderId, event.id) pair.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("paychan: transient: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is retriable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// Adapter is the payment-channel capability the engine depends on.
//
// Transfer returns an updated state with version+1 and the event amount moved
// from participants[0] to event.toAddress, appending the destination as a
// participant when new. Duplicate (workOrderID, event.ID) pairs must return
// the original result without double-crediting.
type Adapter interface {
	CreateSession(ctx context.Context, workOrderID string, allowanceTotal, allocationTotal *big.Int, requester string, solvers []string) (*types.SessionState, error)
	Transfer(ctx context.Context, workOrderID string, event *types.PaymentEvent, state *types.SessionState, allowanceTotal *big.Int) (transferID string, updated *types.SessionState, err error)
	CloseSession(ctx context.Context, workOrderID string, state *types.SessionState) (settlementTxID string, err error)
}
