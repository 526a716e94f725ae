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

package types

import "time"

// Event is a marketplace notification scoped to a single work order. Events
// are appended to the JSONL log before in-memory delivery.
type Event struct {
	ID          string         `json:"id"`
	WorkOrderID string         `json:"workOrderId"`
	Type        string         `json:"type"`
	CreatedAt   time.Time      `json:"createdAt"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// Event types emitted by the engine, in engine order per work order.
const (
	EventWorkOrderCreated       = "workOrderCreated"
	EventQuoteCreated           = "quoteCreated"
	EventYellowSessionCreated   = "yellowSessionCreated"
	EventQuoteRewardPaid        = "quoteRewardPaid"
	EventSolverSelected         = "solverSelected"
	EventSolverAutoSelected     = "solverAutoSelected"
	EventSolverFallbackSelected = "solverFallbackSelected"
	EventSubmissionReceived     = "submissionReceived"
	EventVerificationFailed     = "verificationFailed"
	EventMilestonePaid          = "milestonePaid"
	EventChallengeOpened        = "challengeOpened"
	EventChallengeRejected      = "challengeRejected"
	EventChallengeSucceeded     = "challengeSucceeded"
	EventChallengeFailed        = "challengeFailed"
	EventWorkOrderCompleted     = "workOrderCompleted"
	EventWorkOrderExpired       = "workOrderExpired"
)
