package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"stablevault/internal/core"
	"stablevault/internal/observability"
	"stablevault/internal/protocol"
	"stablevault/internal/query"
)

// Server is the HTTP/JSON surface over the core: vault operations, oracle
// writes, admin switches and the read-only query endpoints. Caller identity
// is taken from the request body; authenticating principals is the job of
// the gateway in front of this service.
type Server struct {
	core    *core.Core
	queries *query.Service
	health  *observability.HealthChecker
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewServer(
	c *core.Core,
	queries *query.Service,
	health *observability.HealthChecker,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Server {
	return &Server{
		core:    c,
		queries: queries,
		health:  health,
		metrics: metrics,
		log:     log,
	}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.health.LivenessHandler)
	r.Get("/readyz", s.health.ReadinessHandler)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/vaults", s.handleOpenVault)
		r.Get("/vaults/{id}", s.handleGetVault)
		r.Get("/vaults/{id}/health", s.handleGetHealth)
		r.Post("/vaults/{id}/collateral", s.handleAddCollateral)
		r.Post("/vaults/{id}/mint", s.handleMint)
		r.Post("/vaults/{id}/burn", s.handleBurn)
		r.Post("/vaults/{id}/withdraw", s.handleWithdraw)
		r.Post("/vaults/{id}/liquidate", s.handleLiquidate)

		r.Get("/users/{owner}/vaults", s.handleGetUserVaults)
		r.Get("/stats", s.handleGetStats)
		r.Get("/events", s.handleGetEvents)

		r.Post("/prices", s.handleUpdatePrice)
		r.Get("/prices/{asset}", s.handleGetPrice)

		r.Post("/admin/operators", s.handleSetOperator)
		r.Post("/admin/liquidators", s.handleSetLiquidator)
		r.Post("/admin/shutdown", s.handleShutdown)
		r.Post("/admin/liquidation-ratio", s.handleUpdateLiquidationRatio)
	})

	return r
}

// --- request bodies ---

type openVaultRequest struct {
	Caller     string `json:"caller"`
	STXAmount  uint64 `json:"stx_amount"`
	XBTCAmount uint64 `json:"xbtc_amount"`
}

type collateralRequest struct {
	Caller     string `json:"caller"`
	STXAmount  uint64 `json:"stx_amount"`
	XBTCAmount uint64 `json:"xbtc_amount"`
}

type amountRequest struct {
	Caller string `json:"caller"`
	Amount uint64 `json:"amount"`
}

type withdrawRequest struct {
	Caller    string `json:"caller"`
	STXAmount uint64 `json:"stx_amount"`
}

type callerRequest struct {
	Caller string `json:"caller"`
}

type priceRequest struct {
	Caller     string `json:"caller"`
	Asset      string `json:"asset"`
	Price      uint64 `json:"price"`
	Confidence uint64 `json:"confidence"`
}

type authorityRequest struct {
	Caller     string `json:"caller"`
	Principal  string `json:"principal"`
	Authorized bool   `json:"authorized"`
}

type ratioRequest struct {
	Caller string `json:"caller"`
	Ratio  uint64 `json:"ratio"`
}

// --- handlers ---

func (s *Server) handleOpenVault(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req openVaultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "open_vault", http.StatusBadRequest, err)
		return
	}

	id, err := s.core.OpenVault(protocol.Principal(req.Caller), req.STXAmount, req.XBTCAmount)
	if err != nil {
		s.writeCoreError(w, "open_vault", err)
		return
	}
	s.writeJSON(w, "open_vault", http.StatusCreated, map[string]uint64{"vault_id": id}, start)
}

func (s *Server) handleGetVault(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, "get_vault", http.StatusBadRequest, err)
		return
	}

	v, err := s.queries.GetVault(id)
	if err != nil {
		s.writeCoreError(w, "get_vault", err)
		return
	}
	s.writeJSON(w, "get_vault", http.StatusOK, v, start)
}

func (s *Server) handleGetHealth(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, "get_health", http.StatusBadRequest, err)
		return
	}

	h, err := s.queries.GetHealth(id)
	if err != nil {
		s.writeCoreError(w, "get_health", err)
		return
	}
	s.writeJSON(w, "get_health", http.StatusOK, h, start)
}

func (s *Server) handleAddCollateral(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, "add_collateral", http.StatusBadRequest, err)
		return
	}
	var req collateralRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "add_collateral", http.StatusBadRequest, err)
		return
	}

	if err := s.core.AddCollateral(protocol.Principal(req.Caller), id, req.STXAmount, req.XBTCAmount); err != nil {
		s.writeCoreError(w, "add_collateral", err)
		return
	}
	s.writeJSON(w, "add_collateral", http.StatusOK, map[string]bool{"ok": true}, start)
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, "mint", http.StatusBadRequest, err)
		return
	}
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "mint", http.StatusBadRequest, err)
		return
	}

	if err := s.core.MintStablecoin(protocol.Principal(req.Caller), id, req.Amount); err != nil {
		s.writeCoreError(w, "mint", err)
		return
	}
	s.writeJSON(w, "mint", http.StatusOK, map[string]bool{"ok": true}, start)
}

func (s *Server) handleBurn(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, "burn", http.StatusBadRequest, err)
		return
	}
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "burn", http.StatusBadRequest, err)
		return
	}

	if err := s.core.BurnStablecoin(protocol.Principal(req.Caller), id, req.Amount); err != nil {
		s.writeCoreError(w, "burn", err)
		return
	}
	s.writeJSON(w, "burn", http.StatusOK, map[string]bool{"ok": true}, start)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, "withdraw", http.StatusBadRequest, err)
		return
	}
	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "withdraw", http.StatusBadRequest, err)
		return
	}

	if err := s.core.WithdrawCollateral(protocol.Principal(req.Caller), id, req.STXAmount); err != nil {
		s.writeCoreError(w, "withdraw", err)
		return
	}
	s.writeJSON(w, "withdraw", http.StatusOK, map[string]bool{"ok": true}, start)
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, "liquidate", http.StatusBadRequest, err)
		return
	}
	var req callerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "liquidate", http.StatusBadRequest, err)
		return
	}

	receipt, err := s.core.LiquidateVault(protocol.Principal(req.Caller), id)
	if err != nil {
		s.writeCoreError(w, "liquidate", err)
		return
	}
	s.writeJSON(w, "liquidate", http.StatusOK, map[string]uint64{
		"vault_id":    receipt.VaultID,
		"debt_repaid": receipt.DebtRepaid,
		"stx_payout":  receipt.STXPayout,
		"xbtc_share":  receipt.XBTCShare,
	}, start)
}

func (s *Server) handleGetUserVaults(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	owner := chi.URLParam(r, "owner")
	resp := s.queries.GetUserVaults(protocol.Principal(owner))
	s.writeJSON(w, "get_user_vaults", http.StatusOK, resp, start)
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	s.writeJSON(w, "get_stats", http.StatusOK, s.queries.GetStats(), start)
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var vaultID uint64
	if raw := r.URL.Query().Get("vault_id"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			s.writeError(w, "get_events", http.StatusBadRequest, err)
			return
		}
		vaultID = parsed
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 1000 {
			s.writeError(w, "get_events", http.StatusBadRequest, errors.New("limit outside [1,1000]"))
			return
		}
		limit = parsed
	}

	var before *uint64
	if raw := r.URL.Query().Get("before"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			s.writeError(w, "get_events", http.StatusBadRequest, err)
			return
		}
		before = &parsed
	}

	events, err := s.queries.GetEvents(r.Context(), vaultID, limit, before)
	if err != nil {
		s.writeError(w, "get_events", http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, "get_events", http.StatusOK, events, start)
}

func (s *Server) handleUpdatePrice(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req priceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "update_price", http.StatusBadRequest, err)
		return
	}

	err := s.core.UpdatePrice(protocol.Principal(req.Caller), protocol.Asset(req.Asset), req.Price, req.Confidence)
	if err != nil {
		s.writeCoreError(w, "update_price", err)
		return
	}
	s.writeJSON(w, "update_price", http.StatusOK, map[string]bool{"ok": true}, start)
}

func (s *Server) handleGetPrice(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	asset := chi.URLParam(r, "asset")
	resp, err := s.queries.GetPrice(protocol.Asset(asset))
	if err != nil {
		s.writeCoreError(w, "get_price", err)
		return
	}
	s.writeJSON(w, "get_price", http.StatusOK, resp, start)
}

func (s *Server) handleSetOperator(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req authorityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "set_operator", http.StatusBadRequest, err)
		return
	}

	err := s.core.SetOracleOperator(protocol.Principal(req.Caller), protocol.Principal(req.Principal), req.Authorized)
	if err != nil {
		s.writeCoreError(w, "set_operator", err)
		return
	}
	s.writeJSON(w, "set_operator", http.StatusOK, map[string]bool{"ok": true}, start)
}

func (s *Server) handleSetLiquidator(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req authorityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "set_liquidator", http.StatusBadRequest, err)
		return
	}

	err := s.core.SetLiquidator(protocol.Principal(req.Caller), protocol.Principal(req.Principal), req.Authorized)
	if err != nil {
		s.writeCoreError(w, "set_liquidator", err)
		return
	}
	s.writeJSON(w, "set_liquidator", http.StatusOK, map[string]bool{"ok": true}, start)
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req callerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "shutdown", http.StatusBadRequest, err)
		return
	}

	if err := s.core.EmergencyShutdown(protocol.Principal(req.Caller)); err != nil {
		s.writeCoreError(w, "shutdown", err)
		return
	}
	s.writeJSON(w, "shutdown", http.StatusOK, map[string]bool{"ok": true}, start)
}

func (s *Server) handleUpdateLiquidationRatio(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req ratioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "update_liquidation_ratio", http.StatusBadRequest, err)
		return
	}

	if err := s.core.UpdateLiquidationRatio(protocol.Principal(req.Caller), req.Ratio); err != nil {
		s.writeCoreError(w, "update_liquidation_ratio", err)
		return
	}
	s.writeJSON(w, "update_liquidation_ratio", http.StatusOK, map[string]bool{"ok": true}, start)
}

// --- response helpers ---

func (s *Server) writeJSON(w http.ResponseWriter, endpoint string, status int, v interface{}, start time.Time) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Str("endpoint", endpoint).Msg("encode response")
	}
	if s.metrics != nil {
		s.metrics.QueryRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
		s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
}

func (s *Server) writeError(w http.ResponseWriter, endpoint string, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
	if s.metrics != nil {
		s.metrics.QueryRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	}
}

// writeCoreError maps the closed error set onto HTTP statuses.
func (s *Server) writeCoreError(w http.ResponseWriter, endpoint string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, protocol.ErrNotAuthorized):
		status = http.StatusForbidden
	case errors.Is(err, protocol.ErrVaultNotFound):
		status = http.StatusNotFound
	case errors.Is(err, protocol.ErrOraclePriceStale):
		status = http.StatusServiceUnavailable
	case errors.Is(err, protocol.ErrInvalidAmount),
		errors.Is(err, protocol.ErrArithmeticRange),
		errors.Is(err, protocol.ErrVaultAlreadyExists):
		status = http.StatusBadRequest
	case errors.Is(err, protocol.ErrInsufficientCollateral),
		errors.Is(err, protocol.ErrVaultUndercollateralized),
		errors.Is(err, protocol.ErrLiquidationNotAllowed),
		errors.Is(err, protocol.ErrMinimumCollateralRatio),
		errors.Is(err, protocol.ErrInsufficientStablecoinBalance),
		errors.Is(err, protocol.ErrTransferFailed):
		status = http.StatusConflict
	}
	s.writeError(w, endpoint, status, err)
}
