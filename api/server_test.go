package api

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/fefe102/v4SessionHookMarkets/config"
	"github.com/fefe102/v4SessionHookMarkets/core"
	"github.com/fefe102/v4SessionHookMarkets/core/types"
	"github.com/fefe102/v4SessionHookMarkets/eventbus"
	"github.com/fefe102/v4SessionHookMarkets/marketdb"
	"github.com/fefe102/v4SessionHookMarkets/paychan"
	"github.com/fefe102/v4SessionHookMarkets/sigtypes"
	"github.com/fefe102/v4SessionHookMarkets/verifier"
)

type passVerifier struct{}

func (passVerifier) Verify(context.Context, *types.WorkOrder, *types.Submission) (*verifier.VerifyResponse, error) {
	return &verifier.VerifyResponse{
		Report: &types.VerificationReport{Status: types.ReportPass},
		MilestonesPassed: []string{
			types.MilestoneCompile, types.MilestoneTests,
			types.MilestoneDeploy, types.MilestonePoolProof,
		},
	}, nil
}

func (passVerifier) Challenge(context.Context, *types.WorkOrder, *types.Submission, *verifier.ChallengeInput) (verifier.ChallengeOutcome, error) {
	return verifier.OutcomeRejected, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *config.Config) {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.DemoActions = true
	require.NoError(t, cfg.Sanitize())

	db := marketdb.OpenMemory()
	t.Cleanup(func() { db.Close() })
	bus, err := eventbus.New(filepath.Join(cfg.DataDir, "events.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { bus.Close() })

	adapter := paychan.NewMockAdapter(cfg.AssetAddress, cfg.AssetDecimals)
	engine := core.New(cfg, db, bus, adapter, passVerifier{})
	srv := NewServer(cfg, engine, db, bus)

	ts := httptest.NewServer(srv.httpSrv.Handler)
	t.Cleanup(ts.Close)
	return ts, cfg
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	var out bytes.Buffer
	_, err = out.ReadFrom(res.Body)
	require.NoError(t, err)
	return res, out.Bytes()
}

func TestHealthAndConfig(t *testing.T) {
	ts, cfg := newTestServer(t)

	res, body := doJSON(t, http.MethodGet, ts.URL+"/health", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.JSONEq(t, `{"status":"ok"}`, string(body))

	res, body = doJSON(t, http.MethodGet, ts.URL+"/config", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var echo map[string]any
	require.NoError(t, json.Unmarshal(body, &echo))
	require.Equal(t, cfg.AssetSymbol, echo["assetSymbol"])
	require.Equal(t, cfg.AssetMode, echo["assetMode"])
	require.Equal(t, float64(cfg.ChainID), echo["chainId"])
}

func TestWorkOrderLifecycleHTTP(t *testing.T) {
	ts, cfg := newTestServer(t)
	key, _ := crypto.GenerateKey()
	solver := types.NormalizeAddress(crypto.PubkeyToAddress(key.PublicKey).Hex())

	// Create.
	res, body := doJSON(t, http.MethodPost, ts.URL+"/work-orders", core.CreateWorkOrderInput{
		Title:        "swap cap hook",
		TemplateType: "SWAP_CAP_HOOK",
		Bounty:       types.Bounty{Currency: "u", Amount: "10.00"},
	})
	require.Equal(t, http.StatusCreated, res.StatusCode)
	var wo types.WorkOrder
	require.NoError(t, json.Unmarshal(body, &wo))
	require.Equal(t, types.StatusBidding, wo.Status)

	// Quote.
	res, body = doJSON(t, http.MethodPost, ts.URL+"/solver/quotes", signedQuote(t, cfg, wo.ID, key, solver))
	require.Equal(t, http.StatusCreated, res.StatusCode)
	var quote types.Quote
	require.NoError(t, json.Unmarshal(body, &quote))

	// Listing filters by the quoting solver.
	res, body = doJSON(t, http.MethodGet, ts.URL+"/solver/work-orders?address="+solver, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var mine []types.WorkOrder
	require.NoError(t, json.Unmarshal(body, &mine))
	require.Len(t, mine, 1)

	// Forced select (demo actions).
	res, body = doJSON(t, http.MethodPost, ts.URL+"/work-orders/"+wo.ID+"/select?force=true", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var selected types.WorkOrder
	require.NoError(t, json.Unmarshal(body, &selected))
	require.Equal(t, types.StatusSelected, selected.Status)
	require.Equal(t, quote.ID, selected.Selection.SelectedQuoteID)

	// Submit the artifact; the stub verifier passes everything.
	res, body = doJSON(t, http.MethodPost, ts.URL+"/work-orders/"+wo.ID+"/submit", signedSubmission(t, cfg, wo.ID, key, solver))
	require.Equal(t, http.StatusOK, res.StatusCode)
	var passed types.WorkOrder
	require.NoError(t, json.Unmarshal(body, &passed))
	require.Equal(t, types.StatusPassedPendingChallenge, passed.Status)

	// Verification report is retrievable.
	res, _ = doJSON(t, http.MethodGet, ts.URL+"/work-orders/"+wo.ID+"/verification", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)

	// Payments: one quote reward plus four milestones.
	res, body = doJSON(t, http.MethodGet, ts.URL+"/work-orders/"+wo.ID+"/payments", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var payments []types.PaymentEvent
	require.NoError(t, json.Unmarshal(body, &payments))
	require.Len(t, payments, 5)

	// Forced settle.
	res, body = doJSON(t, http.MethodPost, ts.URL+"/work-orders/"+wo.ID+"/end-session?force=true", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var done types.WorkOrder
	require.NoError(t, json.Unmarshal(body, &done))
	require.Equal(t, types.StatusCompleted, done.Status)

	// Solver stats with the reputation join.
	res, body = doJSON(t, http.MethodGet, ts.URL+"/solvers/"+solver, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var view struct {
		types.SolverStats
		Reputation float64 `json:"reputation"`
	}
	require.NoError(t, json.Unmarshal(body, &view))
	require.Equal(t, int64(1), view.DeliveriesSucceeded)
	require.Greater(t, view.Reputation, 0.0)
}

func TestErrorMapping(t *testing.T) {
	ts, cfg := newTestServer(t)

	// Unknown entities: 404.
	res, body := doJSON(t, http.MethodGet, ts.URL+"/work-orders/nope", nil)
	require.Equal(t, http.StatusNotFound, res.StatusCode)
	var errBody map[string]string
	require.NoError(t, json.Unmarshal(body, &errBody))
	require.NotEmpty(t, errBody["error"])

	res, _ = doJSON(t, http.MethodGet, ts.URL+"/solvers/0x0000000000000000000000000000000000000099", nil)
	require.Equal(t, http.StatusNotFound, res.StatusCode)

	// Validation: 400.
	res, _ = doJSON(t, http.MethodPost, ts.URL+"/work-orders", core.CreateWorkOrderInput{Title: ""})
	require.Equal(t, http.StatusBadRequest, res.StatusCode)

	// Settling an unknown order: 404.
	res, _ = doJSON(t, http.MethodPost, ts.URL+"/work-orders/nope/end-session", nil)
	require.Equal(t, http.StatusNotFound, res.StatusCode)

	// Wrong solver: 403.
	keyA, _ := crypto.GenerateKey()
	keyB, _ := crypto.GenerateKey()
	solverA := types.NormalizeAddress(crypto.PubkeyToAddress(keyA.PublicKey).Hex())
	solverB := types.NormalizeAddress(crypto.PubkeyToAddress(keyB.PublicKey).Hex())

	res, body = doJSON(t, http.MethodPost, ts.URL+"/work-orders", core.CreateWorkOrderInput{
		Title:        "cap hook",
		TemplateType: "SWAP_CAP_HOOK",
		Bounty:       types.Bounty{Currency: "u", Amount: "5"},
	})
	require.Equal(t, http.StatusCreated, res.StatusCode)
	var wo types.WorkOrder
	require.NoError(t, json.Unmarshal(body, &wo))

	res, _ = doJSON(t, http.MethodPost, ts.URL+"/solver/quotes", signedQuote(t, cfg, wo.ID, keyA, solverA))
	require.Equal(t, http.StatusCreated, res.StatusCode)
	res, _ = doJSON(t, http.MethodPost, ts.URL+"/work-orders/"+wo.ID+"/select?force=true", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)

	res, _ = doJSON(t, http.MethodPost, ts.URL+"/work-orders/"+wo.ID+"/submit", signedSubmission(t, cfg, wo.ID, keyB, solverB))
	require.Equal(t, http.StatusForbidden, res.StatusCode)
}

func signedQuote(t *testing.T, cfg *config.Config, workOrderID string, key *ecdsa.PrivateKey, solver string) core.QuotePayload {
	t.Helper()
	validUntil := time.Now().Add(time.Hour).UnixMilli()
	msg := sigtypes.QuoteMessage{WorkOrderID: workOrderID, Price: "4", EtaMinutes: 10, ValidUntil: validUntil}
	sig, err := sigtypes.Sign(cfg.Domain(), msg, key)
	require.NoError(t, err)
	return core.QuotePayload{
		WorkOrderID:   workOrderID,
		SolverAddress: solver,
		Price:         "4",
		EtaMinutes:    10,
		ValidUntil:    validUntil,
		Signature:     sig,
	}
}

func signedSubmission(t *testing.T, cfg *config.Config, workOrderID string, key *ecdsa.PrivateKey, solver string) core.SubmissionPayload {
	t.Helper()
	repo, sha := "https://example.com/hook.git", "cafebabe"
	hash := sigtypes.ArtifactHash(repo, sha)
	msg := sigtypes.SubmissionMessage{WorkOrderID: workOrderID, RepoURL: repo, CommitSha: sha, ArtifactHash: hash}
	sig, err := sigtypes.Sign(cfg.Domain(), msg, key)
	require.NoError(t, err)
	return core.SubmissionPayload{
		WorkOrderID:   workOrderID,
		SolverAddress: solver,
		RepoURL:       repo,
		CommitSha:     sha,
		ArtifactHash:  hash,
		Signature:     sig,
	}
}
