// Package api exposes the credit ledger over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xraph/credits"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/lot"
	"github.com/xraph/credits/reservation"
	"github.com/xraph/credits/types"
)

// Default request timeout applied by the router.
const DefaultTimeout = 30 * time.Second

// Server is the credits HTTP API server.
type Server struct {
	ledger   *credits.Ledger
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	timeout  time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithGatherer sets the registry served on /metrics. Nil disables the
// endpoint.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewServer creates a new API server over ledger.
func NewServer(ledger *credits.Ledger, opts ...Option) *Server {
	s := &Server{
		ledger:   ledger,
		gatherer: prometheus.DefaultGatherer,
		logger:   slog.Default(),
		timeout:  DefaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.timeout))

	r.Get("/health", s.handleHealth)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Route("/accounts/{accountID}", func(r chi.Router) {
			r.Get("/balance", s.handleBalance)
			r.Post("/lots", s.handleMintLot)
			r.Post("/reservations", s.handleReserve)
			r.Get("/budget", s.handleGetBudget)
			r.Put("/budget", s.handleSetBudget)
		})
		r.Route("/reservations/{reservationID}", func(r chi.Router) {
			r.Get("/", s.handleGetReservation)
			r.Post("/finalize", s.handleFinalize)
		})
		r.Post("/transfers", s.handleTransfer)
		r.Post("/reconciliations", s.handleReconcile)
		r.Get("/reconciliations", s.handleHistory)
	})

	return r
}

// ──────────────────────────────────────────────────
// Handlers
// ──────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	accountID, ok := s.pathID(w, r, "accountID", id.ParseAccountID)
	if !ok {
		return
	}
	bal, err := s.ledger.Balance(r.Context(), accountID, r.URL.Query().Get("pool"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

type mintRequest struct {
	Amount         string     `json:"amount"`
	PoolID         string     `json:"pool_id"`
	SourceType     string     `json:"source_type"`
	SourceID       string     `json:"source_id"`
	Description    string     `json:"description"`
	IdempotencyKey string     `json:"idempotency_key"`
	ExpiresAt      *time.Time `json:"expires_at"`
}

func (s *Server) handleMintLot(w http.ResponseWriter, r *http.Request) {
	accountID, ok := s.pathID(w, r, "accountID", id.ParseAccountID)
	if !ok {
		return
	}
	var req mintRequest
	if !decode(w, r, &req) {
		return
	}
	amount, err := types.ParseMicro(req.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	source := lot.SourceType(req.SourceType)
	if source == "" {
		source = lot.SourceDeposit
	}

	minted, err := s.ledger.MintLot(r.Context(), accountID, amount, source, credits.MintOpts{
		PoolID:         req.PoolID,
		SourceID:       req.SourceID,
		Description:    req.Description,
		IdempotencyKey: req.IdempotencyKey,
		ExpiresAt:      req.ExpiresAt,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, minted)
}

type reserveRequest struct {
	RequestID   string `json:"request_id"`
	Amount      string `json:"amount"`
	PoolID      string `json:"pool_id"`
	BillingMode string `json:"billing_mode"`
	Description string `json:"description"`
}

func (s *Server) handleReserve(w http.ResponseWriter, r *http.Request) {
	accountID, ok := s.pathID(w, r, "accountID", id.ParseAccountID)
	if !ok {
		return
	}
	var req reserveRequest
	if !decode(w, r, &req) {
		return
	}
	amount, err := types.ParseMicro(req.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	rsv, err := s.ledger.Reserve(r.Context(), accountID, req.RequestID, amount, credits.ReserveOpts{
		PoolID:      req.PoolID,
		BillingMode: reservation.BillingMode(req.BillingMode),
		Description: req.Description,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rsv)
}

func (s *Server) handleGetReservation(w http.ResponseWriter, r *http.Request) {
	reservationID, ok := s.pathID(w, r, "reservationID", id.ParseReservationID)
	if !ok {
		return
	}
	rsv, err := s.ledger.GetReservation(r.Context(), reservationID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rsv)
}

type finalizeRequest struct {
	ActualCost string `json:"actual_cost"`
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	reservationID, ok := s.pathID(w, r, "reservationID", id.ParseReservationID)
	if !ok {
		return
	}
	var req finalizeRequest
	if !decode(w, r, &req) {
		return
	}
	cost, err := types.ParseMicro(req.ActualCost)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	fin, err := s.ledger.Finalize(r.Context(), reservationID, cost)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fin)
}

type transferRequest struct {
	FromAccountID  id.AccountID `json:"from_account_id"`
	ToAccountID    id.AccountID `json:"to_account_id"`
	PoolID         string       `json:"pool_id"`
	Amount         string       `json:"amount"`
	IdempotencyKey string       `json:"idempotency_key"`
	Description    string       `json:"description"`
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !decode(w, r, &req) {
		return
	}
	amount, err := types.ParseMicro(req.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	t, err := s.ledger.Transfer(r.Context(), credits.TransferParams{
		FromAccountID:  req.FromAccountID,
		ToAccountID:    req.ToAccountID,
		PoolID:         req.PoolID,
		Amount:         amount,
		IdempotencyKey: req.IdempotencyKey,
		Description:    req.Description,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleGetBudget(w http.ResponseWriter, r *http.Request) {
	accountID, ok := s.pathID(w, r, "accountID", id.ParseAccountID)
	if !ok {
		return
	}
	st, err := s.ledger.CheckBudget(r.Context(), accountID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type budgetRequest struct {
	DailyCap      string `json:"daily_cap"`
	WindowSeconds int64  `json:"window_seconds"`
}

func (s *Server) handleSetBudget(w http.ResponseWriter, r *http.Request) {
	accountID, ok := s.pathID(w, r, "accountID", id.ParseAccountID)
	if !ok {
		return
	}
	var req budgetRequest
	if !decode(w, r, &req) {
		return
	}
	dailyCap, err := types.ParseMicro(req.DailyCap)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	limit, err := s.ledger.SetSpendingLimit(r.Context(), accountID, dailyCap, time.Duration(req.WindowSeconds)*time.Second)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, limit)
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	// The run outlives a client that hangs up.
	ctx := context.WithoutCancel(r.Context())
	writeJSON(w, http.StatusOK, s.ledger.Reconcile(ctx))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	runs, err := s.ledger.ReconciliationHistory(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func (s *Server) pathID(w http.ResponseWriter, r *http.Request, param string, parse func(string) (id.ID, error)) (id.ID, bool) {
	v, err := parse(chi.URLParam(r, param))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return id.Nil, false
	}
	return v, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// fail maps an engine error to its HTTP status.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("credits api request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

// StatusFor returns the HTTP status code for err.
func StatusFor(err error) int {
	switch {
	case credits.IsValidation(err):
		return http.StatusBadRequest
	case credits.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, credits.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, credits.ErrBudgetExhausted), errors.Is(err, credits.ErrTransferCooldown):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response write
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    http.StatusText(status),
		},
	})
}
