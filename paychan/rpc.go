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
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/fefe102/v4SessionHookMarkets/core/types"
	"github.com/fefe102/v4SessionHookMarkets/currency"
)

const (
	rpcCallTimeout   = 30 * time.Second
	rpcWriteDeadline = 10 * time.Second
)

// RPCConfig configures the clearnode-backed adapter.
type RPCConfig struct {
	URL        string // http endpoint, reported in /config only
	WSURL      string // websocket RPC endpoint
	PrivateKey *ecdsa.PrivateKey
	Asset      string // asset (token) address the sessions settle in
	Decimals   int32
}

// RPCAdapter talks to an external payment-channel session service over a
// websocket RPC connection. Every state submission is signed with the
// operator key; the service countersigns and advances the session version.
type RPCAdapter struct {
	cfg     RPCConfig
	address string // operator address derived from the private key

	connMu sync.Mutex // serializes connect/auth and writes
	conn   *websocket.Conn
	authed bool

	pendingMu sync.Mutex
	pending   map[string]chan rpcEnvelope // request id -> response

	processedMu sync.Mutex
	processed   map[string]processedTransfer // workOrderID+"/"+eventID

	logger log.Logger
}

type processedTransfer struct {
	transferID string
	state      *types.SessionState
}

type rpcEnvelope struct {
	ID        string          `json:"id"`
	Method    string          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	Signature string          `json:"sig,omitempty"`
}

// NewRPCAdapter builds the adapter; the connection is established lazily on
// the first call.
func NewRPCAdapter(cfg RPCConfig) *RPCAdapter {
	addr := crypto.PubkeyToAddress(cfg.PrivateKey.PublicKey).Hex()
	return &RPCAdapter{
		cfg:       cfg,
		address:   types.NormalizeAddress(addr),
		pending:   make(map[string]chan rpcEnvelope),
		processed: make(map[string]processedTransfer),
		logger:    log.New("adapter", "clearnode"),
	}
}

// connect dials the websocket endpoint and runs the auth handshake: the
// service issues a challenge, the adapter signs it with the operator key.
func (r *RPCAdapter) connect(ctx context.Context) error {
	r.connMu.Lock()
	defer r.connMu.Unlock()
	if r.conn != nil && r.authed {
		return nil
	}
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
		r.authed = false
	}

	dialer := websocket.Dialer{HandshakeTimeout: rpcCallTimeout}
	conn, _, err := dialer.DialContext(ctx, r.cfg.WSURL, nil)
	if err != nil {
		return &TransientError{Err: fmt.Errorf("dial %s: %w", r.cfg.WSURL, err)}
	}
	r.conn = conn
	go r.readLoop(conn)

	challenge, err := r.callLocked(ctx, "auth_request", map[string]any{"address": r.address})
	if err != nil {
		return err
	}
	var ch struct {
		Challenge string `json:"challenge"`
	}
	if err := json.Unmarshal(challenge, &ch); err != nil {
		return fmt.Errorf("paychan: decode auth challenge: %w", err)
	}
	sig, err := r.sign([]byte(ch.Challenge))
	if err != nil {
		return err
	}
	if _, err := r.callLocked(ctx, "auth_verify", map[string]any{"address": r.address, "signature": sig}); err != nil {
		return err
	}
	r.authed = true
	r.logger.Info("Authenticated with session service", "address", r.address)
	return nil
}

func (r *RPCAdapter) readLoop(conn *websocket.Conn) {
	for {
		var env rpcEnvelope
		if err := conn.ReadJSON(&env); err != nil {
			r.connMu.Lock()
			if r.conn == conn {
				r.conn = nil
				r.authed = false
			}
			r.connMu.Unlock()
			r.logger.Warn("Session service connection lost", "err", err)
			return
		}
		r.pendingMu.Lock()
		ch := r.pending[env.ID]
		delete(r.pending, env.ID)
		r.pendingMu.Unlock()
		if ch != nil {
			ch <- env
		}
	}
}

// call runs one signed request/response exchange, connecting first if needed.
func (r *RPCAdapter) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if err := r.connect(ctx); err != nil {
		return nil, err
	}
	r.connMu.Lock()
	defer r.connMu.Unlock()
	return r.callLocked(ctx, method, params)
}

func (r *RPCAdapter) callLocked(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if r.conn == nil {
		return nil, &TransientError{Err: fmt.Errorf("not connected")}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("paychan: encode params: %w", err)
	}
	sig, err := r.sign(raw)
	if err != nil {
		return nil, err
	}
	env := rpcEnvelope{ID: uuid.NewString(), Method: method, Params: raw, Signature: sig}

	ch := make(chan rpcEnvelope, 1)
	r.pendingMu.Lock()
	r.pending[env.ID] = ch
	r.pendingMu.Unlock()

	r.conn.SetWriteDeadline(time.Now().Add(rpcWriteDeadline))
	if err := r.conn.WriteJSON(env); err != nil {
		r.pendingMu.Lock()
		delete(r.pending, env.ID)
		r.pendingMu.Unlock()
		return nil, &TransientError{Err: fmt.Errorf("write %s: %w", method, err)}
	}

	select {
	case resp := <-ch:
		if resp.Error != "" {
			if resp.Error == "insufficient_allowance" {
				return nil, ErrInsufficientAllowance
			}
			return nil, fmt.Errorf("paychan: %s: %s", method, resp.Error)
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, &TransientError{Err: ctx.Err()}
	case <-time.After(rpcCallTimeout):
		return nil, &TransientError{Err: fmt.Errorf("%s timed out", method)}
	}
}

// sign produces an operator signature over keccak256(payload).
func (r *RPCAdapter) sign(payload []byte) (string, error) {
	sig, err := crypto.Sign(crypto.Keccak256(payload), r.cfg.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("paychan: sign payload: %w", err)
	}
	return hexutil.Encode(sig), nil
}

// CreateSession opens an application session funded entirely by the
// requester allocation.
func (r *RPCAdapter) CreateSession(ctx context.Context, workOrderID string, allowanceTotal, allocationTotal *big.Int, requester string, solvers []string) (*types.SessionState, error) {
	participants := append([]string{types.NormalizeAddress(requester)}, normalizeAll(solvers)...)
	allocations := make([]types.Allocation, len(participants))
	for i, p := range participants {
		amount := "0"
		if i == 0 {
			amount = currency.FormatUnits(allocationTotal, r.cfg.Decimals)
		}
		allocations[i] = types.Allocation{Participant: p, Amount: amount}
	}
	result, err := r.call(ctx, "create_app_session", map[string]any{
		"reference":    workOrderID,
		"asset":        r.cfg.Asset,
		"allowance":    currency.FormatUnits(allowanceTotal, r.cfg.Decimals),
		"participants": participants,
		"allocations":  allocations,
	})
	if err != nil {
		return nil, err
	}
	var res struct {
		SessionID string `json:"app_session_id"`
		Version   uint64 `json:"version"`
	}
	if err := json.Unmarshal(result, &res); err != nil {
		return nil, fmt.Errorf("paychan: decode create_app_session: %w", err)
	}
	state := &types.SessionState{
		SessionID:      res.SessionID,
		AssetAddress:   r.cfg.Asset,
		AllowanceTotal: currency.FormatUnits(allowanceTotal, r.cfg.Decimals),
		Participants:   participants,
		Allocations:    allocations,
		Version:        res.Version,
	}
	r.logger.Info("Created session", "workorder", workOrderID, "session", res.SessionID)
	return state, nil
}

// Transfer submits the post-transfer allocation set as a new signed state.
// The next state is computed locally so the contract (version+1, debit from
// participants[0], credit to the destination) holds regardless of service
// internals; duplicates short-circuit to the recorded result.
func (r *RPCAdapter) Transfer(ctx context.Context, workOrderID string, event *types.PaymentEvent, state *types.SessionState, allowanceTotal *big.Int) (string, *types.SessionState, error) {
	if state == nil {
		return "", nil, ErrUnknownSession
	}
	dedupeKey := workOrderID + "/" + event.ID
	r.processedMu.Lock()
	if prev, ok := r.processed[dedupeKey]; ok {
		r.processedMu.Unlock()
		return prev.transferID, prev.state.Copy(), nil
	}
	r.processedMu.Unlock()

	next, err := applyTransfer(state, event, r.cfg.Decimals)
	if err != nil {
		return "", nil, err
	}
	result, err := r.call(ctx, "submit_app_state", map[string]any{
		"app_session_id": state.SessionID,
		"reference":      dedupeKey,
		"version":        next.Version,
		"allocations":    next.Allocations,
	})
	if err != nil {
		return "", nil, err
	}
	var res struct {
		TransferID string `json:"transfer_id"`
		Version    uint64 `json:"version"`
	}
	if err := json.Unmarshal(result, &res); err != nil {
		return "", nil, fmt.Errorf("paychan: decode submit_app_state: %w", err)
	}
	if res.Version != 0 {
		next.Version = res.Version
	}
	r.processedMu.Lock()
	r.processed[dedupeKey] = processedTransfer{transferID: res.TransferID, state: next.Copy()}
	r.processedMu.Unlock()
	return res.TransferID, next, nil
}

// CloseSession submits the final state and settles the session.
func (r *RPCAdapter) CloseSession(ctx context.Context, workOrderID string, state *types.SessionState) (string, error) {
	if state == nil {
		return "", ErrUnknownSession
	}
	result, err := r.call(ctx, "close_app_session", map[string]any{
		"app_session_id": state.SessionID,
		"allocations":    state.Allocations,
		"version":        state.Version + 1,
	})
	if err != nil {
		return "", err
	}
	var res struct {
		SettlementTxID string `json:"settlement_tx_id"`
	}
	if err := json.Unmarshal(result, &res); err != nil {
		return "", fmt.Errorf("paychan: decode close_app_session: %w", err)
	}
	r.logger.Info("Closed session", "workorder", workOrderID, "session", state.SessionID, "tx", res.SettlementTxID)
	return res.SettlementTxID, nil
}

// applyTransfer computes the successor state per the adapter contract.
func applyTransfer(state *types.SessionState, event *types.PaymentEvent, decimals int32) (*types.SessionState, error) {
	amount, err := currency.ParseUnits(event.Amount, decimals)
	if err != nil {
		return nil, fmt.Errorf("paychan: bad amount %q: %w", event.Amount, err)
	}
	requesterBalance, err := currency.ParseUnits(state.Allocations[0].Amount, decimals)
	if err != nil {
		return nil, fmt.Errorf("paychan: corrupt allocation: %w", err)
	}
	if requesterBalance.Cmp(amount) < 0 {
		return nil, ErrInsufficientAllowance
	}

	next := state.Copy()
	next.Version = state.Version + 1
	next.Allocations[0].Amount = currency.FormatUnits(new(big.Int).Sub(requesterBalance, amount), decimals)

	dest := types.NormalizeAddress(event.ToAddress)
	idx := -1
	for i, a := range next.Allocations {
		if a.Participant == dest {
			idx = i
			break
		}
	}
	if idx < 0 {
		next.Participants = append(next.Participants, dest)
		next.Allocations = append(next.Allocations, types.Allocation{Participant: dest, Amount: "0"})
		idx = len(next.Allocations) - 1
	}
	balance, err := currency.ParseUnits(next.Allocations[idx].Amount, decimals)
	if err != nil {
		return nil, fmt.Errorf("paychan: corrupt allocation: %w", err)
	}
	next.Allocations[idx].Amount = currency.FormatUnits(new(big.Int).Add(balance, amount), decimals)
	return next, nil
}
