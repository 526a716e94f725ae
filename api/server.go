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

// Package api exposes the marketplace over HTTP and streams per-work-order
// events over WebSocket. All domain decisions live in core; this layer only
// decodes requests, dispatches, and maps error kinds to status codes.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gorilla/mux"

	"github.com/fefe102/v4SessionHookMarkets/config"
	"github.com/fefe102/v4SessionHookMarkets/core"
	"github.com/fefe102/v4SessionHookMarkets/core/types"
	"github.com/fefe102/v4SessionHookMarkets/eventbus"
	"github.com/fefe102/v4SessionHookMarkets/marketdb"
	"github.com/fefe102/v4SessionHookMarkets/reputation"
)

// Server is the HTTP front of the marketplace.
type Server struct {
	cfg    *config.Config
	engine *core.Engine
	db     *marketdb.Database
	bus    *eventbus.Bus
	logger log.Logger

	httpSrv *http.Server
}

// NewServer builds the router and wraps it in an http.Server bound to the
// configured listen address.
func NewServer(cfg *config.Config, engine *core.Engine, db *marketdb.Database, bus *eventbus.Bus) *Server {
	s := &Server{
		cfg:    cfg,
		engine: engine,
		db:     db,
		bus:    bus,
		logger: log.New("service", "api"),
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/config", s.handleConfig).Methods(http.MethodGet)

	r.HandleFunc("/work-orders", s.handleListWorkOrders).Methods(http.MethodGet)
	r.HandleFunc("/work-orders", s.handleCreateWorkOrder).Methods(http.MethodPost)
	r.HandleFunc("/work-orders/{id}", s.handleGetWorkOrder).Methods(http.MethodGet)
	r.HandleFunc("/work-orders/{id}/quotes", s.handleListQuotes).Methods(http.MethodGet)
	r.HandleFunc("/work-orders/{id}/submissions", s.handleListSubmissions).Methods(http.MethodGet)
	r.HandleFunc("/work-orders/{id}/verification", s.handleGetVerification).Methods(http.MethodGet)
	r.HandleFunc("/work-orders/{id}/payments", s.handleListPayments).Methods(http.MethodGet)
	r.HandleFunc("/work-orders/{id}/select", s.handleSelect).Methods(http.MethodPost)
	r.HandleFunc("/work-orders/{id}/submit", s.handleSubmit).Methods(http.MethodPost)
	r.HandleFunc("/work-orders/{id}/end-session", s.handleEndSession).Methods(http.MethodPost)
	r.HandleFunc("/work-orders/{id}/ws", s.handleWorkOrderWS).Methods(http.MethodGet)

	r.HandleFunc("/solvers", s.handleListSolvers).Methods(http.MethodGet)
	r.HandleFunc("/solvers/{address}", s.handleGetSolver).Methods(http.MethodGet)
	r.HandleFunc("/solver/work-orders", s.handleSolverWorkOrders).Methods(http.MethodGet)
	r.HandleFunc("/solver/quotes", s.handleSolverQuote).Methods(http.MethodPost)
	r.HandleFunc("/solver/submissions", s.handleSolverSubmission).Methods(http.MethodPost)
	r.HandleFunc("/challenger/challenges", s.handleChallenge).Methods(http.MethodPost)

	s.httpSrv = &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until Stop is called. ErrServerClosed is swallowed so a clean
// shutdown does not surface as a failure.
func (s *Server) Start() error {
	s.logger.Info("HTTP server started", "addr", s.httpSrv.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully drains in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("HTTP server stopping")
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleConfig echoes the asset, chain and window configuration the UI and
// agents need to construct signed payloads.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"assetSymbol":     s.cfg.AssetSymbol,
		"assetAddress":    s.cfg.AssetAddress,
		"assetDecimals":   s.cfg.AssetDecimals,
		"chainId":         s.cfg.ChainID,
		"assetMode":       s.cfg.AssetMode,
		"demoActions":     s.cfg.DemoActions,
		"quoteReward":     s.cfg.QuoteReward,
		"milestoneSplits": s.cfg.MilestoneSplits,
		"windows": map[string]string{
			"bidding":   s.cfg.BiddingWindow.String(),
			"delivery":  s.cfg.DeliveryWindow.String(),
			"verify":    s.cfg.VerifyWindow.String(),
			"challenge": s.cfg.ChallengeWindow.String(),
			"patch":     s.cfg.PatchWindow.String(),
		},
	})
}

func (s *Server) handleListWorkOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.db.ListWorkOrders(r.URL.Query().Get("status"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handleCreateWorkOrder(w http.ResponseWriter, r *http.Request) {
	var input core.CreateWorkOrderInput
	if !s.decode(w, r, &input) {
		return
	}
	wo, err := s.engine.CreateWorkOrder(r.Context(), input)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, wo)
}

func (s *Server) handleGetWorkOrder(w http.ResponseWriter, r *http.Request) {
	wo, err := s.db.GetWorkOrder(mux.Vars(r)["id"])
	if err == marketdb.ErrNotFound {
		s.writeErrorBody(w, http.StatusNotFound, "work order not found", "")
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, wo)
}

func (s *Server) handleListQuotes(w http.ResponseWriter, r *http.Request) {
	quotes, err := s.db.ListQuotes(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, quotes)
}

func (s *Server) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	subs, err := s.db.ListSubmissions(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, subs)
}

// handleGetVerification returns the latest verification report of the work
// order, 404 when none was produced yet.
func (s *Server) handleGetVerification(w http.ResponseWriter, r *http.Request) {
	wo, err := s.db.GetWorkOrder(mux.Vars(r)["id"])
	if err == marketdb.ErrNotFound {
		s.writeErrorBody(w, http.StatusNotFound, "work order not found", "")
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	if wo.VerificationReportID == "" {
		s.writeErrorBody(w, http.StatusNotFound, "no verification report", "")
		return
	}
	report, err := s.db.GetVerificationReport(wo.VerificationReportID)
	if err == marketdb.ErrNotFound {
		s.writeErrorBody(w, http.StatusNotFound, "no verification report", "")
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleListPayments(w http.ResponseWriter, r *http.Request) {
	events, err := s.db.ListPaymentEvents(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var body struct {
		QuoteID string `json:"quoteId"`
	}
	// The body is optional; an empty body means "select the best quote".
	if r.ContentLength > 0 && !s.decode(w, r, &body) {
		return
	}
	force := r.URL.Query().Get("force") == "true"
	wo, err := s.engine.SelectQuote(r.Context(), mux.Vars(r)["id"], body.QuoteID, force)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, wo)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var payload core.SubmissionPayload
	if !s.decode(w, r, &payload) {
		return
	}
	payload.WorkOrderID = mux.Vars(r)["id"]
	wo, err := s.engine.SubmitSubmission(r.Context(), payload)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, wo)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	wo, err := s.engine.EndSession(r.Context(), mux.Vars(r)["id"], force)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, wo)
}

// solverView is a stats row joined with the computed reputation score.
type solverView struct {
	types.SolverStats
	Reputation float64 `json:"reputation"`
}

func (s *Server) handleListSolvers(w http.ResponseWriter, r *http.Request) {
	rows, err := s.db.ListSolverStats()
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]solverView, 0, len(rows))
	for _, row := range rows {
		out = append(out, solverView{SolverStats: *row, Reputation: reputation.Score(*row)})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetSolver(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	known, err := s.db.HasSolverStats(address)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !known {
		s.writeErrorBody(w, http.StatusNotFound, "unknown solver", "")
		return
	}
	row, err := s.db.GetSolverStats(address)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, solverView{SolverStats: *row, Reputation: reputation.Score(*row)})
}

// handleSolverWorkOrders is the solver-side listing: optionally narrowed to
// orders the given address quoted on or was selected for.
func (s *Server) handleSolverWorkOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.db.ListWorkOrders(r.URL.Query().Get("status"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	address := r.URL.Query().Get("address")
	if address == "" {
		s.writeJSON(w, http.StatusOK, orders)
		return
	}
	filtered := make([]*types.WorkOrder, 0, len(orders))
	for _, wo := range orders {
		if strings.EqualFold(wo.Selection.SelectedSolverID, address) {
			filtered = append(filtered, wo)
			continue
		}
		quotes, err := s.db.ListQuotes(wo.ID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		for _, q := range quotes {
			if strings.EqualFold(q.SolverAddress, address) {
				filtered = append(filtered, wo)
				break
			}
		}
	}
	s.writeJSON(w, http.StatusOK, filtered)
}

func (s *Server) handleSolverQuote(w http.ResponseWriter, r *http.Request) {
	var payload core.QuotePayload
	if !s.decode(w, r, &payload) {
		return
	}
	quote, err := s.engine.SubmitQuote(r.Context(), payload)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, quote)
}

func (s *Server) handleSolverSubmission(w http.ResponseWriter, r *http.Request) {
	var payload core.SubmissionPayload
	if !s.decode(w, r, &payload) {
		return
	}
	wo, err := s.engine.SubmitSubmission(r.Context(), payload)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, wo)
}

func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	var payload core.ChallengePayload
	if !s.decode(w, r, &payload) {
		return
	}
	wo, err := s.engine.SubmitChallenge(r.Context(), payload)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, wo)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeErrorBody(w, http.StatusBadRequest, "invalid request body", err.Error())
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to encode response", "err", err)
	}
}

// writeError maps the engine error taxonomy to status codes: invalid input
// and bad transitions are the client's fault, everything downstream is a 500.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch core.KindOf(err) {
	case core.KindValidation, core.KindState, core.KindHashMismatch:
		status = http.StatusBadRequest
	case core.KindAuthorization:
		status = http.StatusForbidden
	case core.KindNotFound:
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed", "err", err)
	}
	s.writeErrorBody(w, status, err.Error(), "")
}

func (s *Server) writeErrorBody(w http.ResponseWriter, status int, msg, details string) {
	body := map[string]string{"error": msg}
	if details != "" {
		body["details"] = details
	}
	s.writeJSON(w, status, body)
}
