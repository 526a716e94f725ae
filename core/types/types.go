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

// Package types contains the data types of the hook marketplace: work orders,
// quotes, submissions, verification reports, payment events and solver stats.
package types

import (
	"strings"
	"time"
)

// WorkOrderStatus is the lifecycle state of a work order.
type WorkOrderStatus string

const (
	StatusDraft                  WorkOrderStatus = "DRAFT"
	StatusBidding                WorkOrderStatus = "BIDDING"
	StatusSelected               WorkOrderStatus = "SELECTED"
	StatusVerifying              WorkOrderStatus = "VERIFYING"
	StatusPassedPendingChallenge WorkOrderStatus = "PASSED_PENDING_CHALLENGE"
	StatusChallenged             WorkOrderStatus = "CHALLENGED"
	StatusCompleted              WorkOrderStatus = "COMPLETED"
	StatusFailed                 WorkOrderStatus = "FAILED"
	StatusExpired                WorkOrderStatus = "EXPIRED"
)

// Terminal reports whether the status admits no further transitions.
func (s WorkOrderStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusExpired
}

// ChallengeStatus is the challenge sub-state of a work order.
type ChallengeStatus string

const (
	ChallengeNone        ChallengeStatus = "NONE"
	ChallengeOpen        ChallengeStatus = "OPEN"
	ChallengeRejected    ChallengeStatus = "REJECTED"
	ChallengePatchWindow ChallengeStatus = "PATCH_WINDOW"
	ChallengePatchPassed ChallengeStatus = "PATCH_PASSED"
	ChallengePatchFailed ChallengeStatus = "PATCH_FAILED"
)

// PaymentType classifies a payment event.
type PaymentType string

const (
	PaymentQuoteReward     PaymentType = "QUOTE_REWARD"
	PaymentMilestone       PaymentType = "MILESTONE"
	PaymentChallengeReward PaymentType = "CHALLENGE_REWARD"
	PaymentRefund          PaymentType = "REFUND"
)

// Milestone keys of the default payout schedule. The M5 holdback is paid at
// settlement and is never split.
const (
	MilestoneCompile   = "M1_COMPILE_OK"
	MilestoneTests     = "M2_TESTS_OK"
	MilestoneDeploy    = "M3_DEPLOY_OK"
	MilestonePoolProof = "M4_V4_POOL_PROOF_OK"
	MilestoneHoldback  = "M5_NO_CHALLENGE_OR_PATCH_OK"
)

// Bounty is the amount offered by the requester, as a decimal string.
type Bounty struct {
	Currency string `json:"currency"`
	Amount   string `json:"amount"`
}

// PayoutMilestone is one entry of the payout schedule. Percents sum to 100.
type PayoutMilestone struct {
	Key     string `json:"key"`
	Percent int64  `json:"percent"`
}

// DefaultPayoutSchedule returns the five-milestone schedule applied to new
// work orders.
func DefaultPayoutSchedule() []PayoutMilestone {
	return []PayoutMilestone{
		{Key: MilestoneCompile, Percent: 20},
		{Key: MilestoneTests, Percent: 20},
		{Key: MilestoneDeploy, Percent: 20},
		{Key: MilestonePoolProof, Percent: 20},
		{Key: MilestoneHoldback, Percent: 20},
	}
}

// Allocation is one participant's balance within a payment-channel session.
type Allocation struct {
	Participant string `json:"participant"`
	Amount      string `json:"amount"`
}

// SessionState is the persisted state of a multi-party payment-channel
// session. The requester is always participants[0]. Version increases by one
// on every successful transfer.
type SessionState struct {
	SessionID      string       `json:"sessionId"`
	AssetAddress   string       `json:"assetAddress"`
	AllowanceTotal string       `json:"allowanceTotal"`
	Participants   []string     `json:"participants"`
	Allocations    []Allocation `json:"allocations"`
	Version        uint64       `json:"version"`
}

// Participant reports whether addr (case-insensitive) is a session member.
func (s *SessionState) Participant(addr string) bool {
	for _, p := range s.Participants {
		if strings.EqualFold(p, addr) {
			return true
		}
	}
	return false
}

// Copy returns a deep copy of the session state.
func (s *SessionState) Copy() *SessionState {
	if s == nil {
		return nil
	}
	cpy := *s
	cpy.Participants = append([]string(nil), s.Participants...)
	cpy.Allocations = append([]Allocation(nil), s.Allocations...)
	return &cpy
}

// Selection records which quote won a work order and what was tried before.
type Selection struct {
	SelectedQuoteID   string     `json:"selectedQuoteId,omitempty"`
	SelectedSolverID  string     `json:"selectedSolverId,omitempty"`
	SelectedAt        *time.Time `json:"selectedAt,omitempty"`
	AttemptedQuoteIDs []string   `json:"attemptedQuoteIds,omitempty"`
}

// Challenge is the challenge sub-state carried by a work order.
type Challenge struct {
	Status              ChallengeStatus `json:"status"`
	ChallengeID         string          `json:"challengeId,omitempty"`
	ChallengerAddress   string          `json:"challengerAddress,omitempty"`
	PendingRewardAmount string          `json:"pendingRewardAmount,omitempty"`
}

// WorkOrder is a unit of requested work with a bounty and a lifecycle. It is
// created once, mutated only by the engine, and never destroyed.
type WorkOrder struct {
	ID               string          `json:"id"`
	CreatedAt        time.Time       `json:"createdAt"`
	Title            string          `json:"title"`
	TemplateType     string          `json:"templateType"`
	Params           map[string]any  `json:"params,omitempty"`
	Bounty           Bounty          `json:"bounty"`
	RequesterAddress string          `json:"requesterAddress,omitempty"`
	Status           WorkOrderStatus `json:"status"`

	BiddingEndsAt   *time.Time `json:"biddingEndsAt,omitempty"`
	DeliveryEndsAt  *time.Time `json:"deliveryEndsAt,omitempty"`
	VerifyEndsAt    *time.Time `json:"verifyEndsAt,omitempty"`
	ChallengeEndsAt *time.Time `json:"challengeEndsAt,omitempty"`
	PatchEndsAt     *time.Time `json:"patchEndsAt,omitempty"`

	Selection Selection     `json:"selection"`
	Challenge Challenge     `json:"challenge"`
	Yellow    *SessionState `json:"yellow,omitempty"`

	PayoutSchedule       []PayoutMilestone `json:"payoutSchedule"`
	VerificationReportID string            `json:"verificationReportId,omitempty"`
	SettlementTxID       string            `json:"settlementTxId,omitempty"`
	ExpiryReason         string            `json:"expiryReason,omitempty"`
}

// Attempted reports whether the given quote id was already tried.
func (w *WorkOrder) Attempted(quoteID string) bool {
	for _, id := range w.Selection.AttemptedQuoteIDs {
		if id == quoteID {
			return true
		}
	}
	return false
}

// MilestonePercent returns the payout percent for key, or 0 when the key is
// not part of the schedule.
func (w *WorkOrder) MilestonePercent(key string) int64 {
	for _, m := range w.PayoutSchedule {
		if m.Key == key {
			return m.Percent
		}
	}
	return 0
}

// Quote is a solver's signed offer. Immutable after insert.
type Quote struct {
	ID            string    `json:"id"`
	WorkOrderID   string    `json:"workOrderId"`
	SolverAddress string    `json:"solverAddress"`
	Price         string    `json:"price"`
	EtaMinutes    int64     `json:"etaMinutes"`
	ValidUntil    time.Time `json:"validUntil"`
	Signature     string    `json:"signature"`
	CreatedAt     time.Time `json:"createdAt"`
}

// ArtifactKindGitCommit is the only artifact kind currently accepted.
const ArtifactKindGitCommit = "GIT_COMMIT"

// Artifact references the delivered code by repository and commit.
type Artifact struct {
	Kind         string `json:"kind"`
	RepoURL      string `json:"repoUrl"`
	CommitSha    string `json:"commitSha"`
	ArtifactHash string `json:"artifactHash"`
}

// Submission is a signed artifact reference. Multiple submissions per work
// order are allowed (fallback solvers, patch attempts).
type Submission struct {
	ID            string    `json:"id"`
	WorkOrderID   string    `json:"workOrderId"`
	SolverAddress string    `json:"solverAddress"`
	Artifact      Artifact  `json:"artifact"`
	Signature     string    `json:"signature"`
	CreatedAt     time.Time `json:"createdAt"`
}

// ReportStatus is the verifier's verdict.
type ReportStatus string

const (
	ReportPass ReportStatus = "PASS"
	ReportFail ReportStatus = "FAIL"
)

// ProofBundle carries the onchain evidence captured by the verifier.
type ProofBundle struct {
	ChainID     int64    `json:"chainId"`
	HookAddress string   `json:"hookAddress,omitempty"`
	PoolManager string   `json:"poolManager,omitempty"`
	PoolID      string   `json:"poolId,omitempty"`
	TxIDs       []string `json:"txIds,omitempty"`
}

// VerificationReport is the verifier's deterministic check result.
type VerificationReport struct {
	ID           string         `json:"id"`
	SubmissionID string         `json:"submissionId"`
	Status       ReportStatus   `json:"status"`
	Logs         string         `json:"logs,omitempty"`
	Proof        *ProofBundle   `json:"proof,omitempty"`
	Metrics      map[string]any `json:"metrics,omitempty"`
	ProducedAt   time.Time      `json:"producedAt"`
	ArtifactHash string         `json:"artifactHash,omitempty"`
}

// PaymentEvent is one incremental payment against a session. Append-only.
type PaymentEvent struct {
	ID           string      `json:"id"`
	WorkOrderID  string      `json:"workOrderId"`
	Type         PaymentType `json:"type"`
	ToAddress    string      `json:"toAddress"`
	Amount       string      `json:"amount"`
	MilestoneKey string      `json:"milestoneKey,omitempty"`
	TransferID   string      `json:"transferId,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
}

// SolverStats are the persisted per-solver counters feeding reputation.
// Keyed by lowercase address.
type SolverStats struct {
	Address             string `json:"address"`
	QuotesSubmitted     int64  `json:"quotesSubmitted"`
	QuotesWon           int64  `json:"quotesWon"`
	DeliveriesSucceeded int64  `json:"deliveriesSucceeded"`
	DeliveriesFailed    int64  `json:"deliveriesFailed"`
	OnTimeDeliveries    int64  `json:"onTimeDeliveries"`
	TotalEtaMinutes     int64  `json:"totalEtaMinutes"`
	TotalActualMinutes  int64  `json:"totalActualMinutes"`
	ChallengesAgainst   int64  `json:"challengesAgainst"`
	ChallengesWon       int64  `json:"challengesWon"`
}

// NormalizeAddress lowercases an address for use as a stats key or in
// case-insensitive comparisons.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
