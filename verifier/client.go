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

// Package verifier is the client for the external deterministic verifier.
// The engine treats both endpoints as opaque: POST /verify returns a report
// plus the milestone keys that passed, POST /challenge returns an outcome.
package verifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/fefe102/v4SessionHookMarkets/core/types"
)

// ChallengeOutcome is the verifier's verdict on a challenge reproduction.
type ChallengeOutcome string

const (
	OutcomeSuccess  ChallengeOutcome = "SUCCESS"
	OutcomeRejected ChallengeOutcome = "REJECTED"
)

// VerifyResponse is the verifier's answer to a submission.
type VerifyResponse struct {
	Report           *types.VerificationReport `json:"report"`
	MilestonesPassed []string                  `json:"milestonesPassed"`
}

// ChallengeInput is the challenge forwarded to the verifier.
type ChallengeInput struct {
	ChallengeID       string         `json:"challengeId"`
	ChallengerAddress string         `json:"challengerAddress"`
	ReproductionSpec  map[string]any `json:"reproductionSpec"`
	ReproductionHash  string         `json:"reproductionHash"`
}

// API is the verifier capability the engine depends on; tests substitute a
// recording implementation.
type API interface {
	Verify(ctx context.Context, wo *types.WorkOrder, sub *types.Submission) (*VerifyResponse, error)
	Challenge(ctx context.Context, wo *types.WorkOrder, sub *types.Submission, ch *ChallengeInput) (ChallengeOutcome, error)
}

// Client calls the verifier over HTTP with a bounded per-call timeout.
type Client struct {
	baseURL string
	httpc   *http.Client
	logger  log.Logger
}

// NewClient builds a verifier client for baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: timeout},
		logger:  log.New("verifier", baseURL),
	}
}

// Verify runs the deterministic checks for a submission.
func (c *Client) Verify(ctx context.Context, wo *types.WorkOrder, sub *types.Submission) (*VerifyResponse, error) {
	var res VerifyResponse
	if err := c.post(ctx, "/verify", map[string]any{"workOrder": wo, "submission": sub}, &res); err != nil {
		return nil, err
	}
	if res.Report == nil {
		return nil, fmt.Errorf("verifier: /verify returned no report")
	}
	return &res, nil
}

// Challenge runs the challenger's reproduction against a submission.
func (c *Client) Challenge(ctx context.Context, wo *types.WorkOrder, sub *types.Submission, ch *ChallengeInput) (ChallengeOutcome, error) {
	var res struct {
		Outcome ChallengeOutcome `json:"outcome"`
	}
	body := map[string]any{"workOrder": wo, "submission": sub, "challenge": ch}
	if err := c.post(ctx, "/challenge", body, &res); err != nil {
		return "", err
	}
	switch res.Outcome {
	case OutcomeSuccess, OutcomeRejected:
		return res.Outcome, nil
	default:
		return "", fmt.Errorf("verifier: unexpected challenge outcome %q", res.Outcome)
	}
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	enc, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("verifier: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(enc))
	if err != nil {
		return fmt.Errorf("verifier: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("verifier: %s: %w", path, err)
	}
	defer resp.Body.Close()
	c.logger.Debug("Verifier call", "path", path, "status", resp.StatusCode, "elapsed", time.Since(start))

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("verifier: %s returned %d: %s", path, resp.StatusCode, string(snippet))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("verifier: decode %s response: %w", path, err)
	}
	return nil
}
