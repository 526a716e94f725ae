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

import "github.com/fefe102/v4SessionHookMarkets/core/types"

// CreateWorkOrderInput is the body of POST /work-orders.
type CreateWorkOrderInput struct {
	Title            string         `json:"title"`
	TemplateType     string         `json:"templateType"`
	Params           map[string]any `json:"params"`
	Bounty           types.Bounty   `json:"bounty"`
	RequesterAddress string         `json:"requesterAddress,omitempty"`
}

// QuotePayload is a solver-signed quote. ValidUntil is unix milliseconds.
type QuotePayload struct {
	WorkOrderID   string `json:"workOrderId"`
	SolverAddress string `json:"solverAddress"`
	Price         string `json:"price"`
	EtaMinutes    int64  `json:"etaMinutes"`
	ValidUntil    int64  `json:"validUntil"`
	Signature     string `json:"signature"`
}

// SubmissionPayload is a solver-signed artifact reference.
type SubmissionPayload struct {
	WorkOrderID   string `json:"workOrderId"`
	SolverAddress string `json:"solverAddress"`
	RepoURL       string `json:"repoUrl"`
	CommitSha     string `json:"commitSha"`
	ArtifactHash  string `json:"artifactHash"`
	Signature     string `json:"signature"`
}

// ChallengePayload is a challenger-signed dispute against a submission.
type ChallengePayload struct {
	WorkOrderID       string         `json:"workOrderId"`
	SubmissionID      string         `json:"submissionId"`
	ChallengerAddress string         `json:"challengerAddress"`
	ReproductionSpec  map[string]any `json:"reproductionSpec"`
	ReproductionHash  string         `json:"reproductionHash"`
	Signature         string         `json:"signature"`
}
