// Package api exposes the engine's public operations as a thin JSON surface
// for the presentation layer. Handlers validate request framing, call one
// engine operation, and render its result; no game state is computed here.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/misionbonos/sim-engine/internal/engine"
	"github.com/misionbonos/sim-engine/internal/model"
	"github.com/misionbonos/sim-engine/internal/scenario"
)

// Service wires the engine to HTTP handlers.
type Service struct {
	engine *engine.Engine
	wsHub  *WSHub // optional hub for real-time broadcasts
}

// NewService creates the API service. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewService(eng *engine.Engine, hub *WSHub) *Service {
	return &Service{engine: eng, wsHub: hub}
}

// Routes mounts all game endpoints on a chi router.
func (s *Service) Routes(r chi.Router) {
	r.Get("/games", s.ListGames)
	r.Route("/games/{code}", func(r chi.Router) {
		r.Get("/", s.GetGame)
		r.Put("/params", s.SetParams)
		r.Post("/scenario", s.LoadScenario)
		r.Post("/scenario/adaptive-events", s.GenerateAdaptiveEvents)

		r.Post("/teams", s.RegisterTeam)
		r.Post("/login", s.Login)
		r.Get("/teams/{teamID}/portfolio", s.GetPortfolio)

		r.Post("/publish", s.PublishPrices)
		r.Post("/close", s.CloseTrading)
		r.Post("/advance", s.AdvanceRound)
		r.Post("/finalize", s.Finalize)

		r.Post("/orders", s.PlaceOrder)
		r.Post("/ledger", s.AdjustLedger)

		r.Get("/prices", s.GetPrices)
		r.Get("/leaderboard", s.GetLeaderboard)
	})
}

// --- Request/Response types ---

// ScenarioRequest is the JSON body for POST /games/{code}/scenario.
// UseExample loads the built-in demo scenario instead of the given lists.
type ScenarioRequest struct {
	Bonds      []model.Bond  `json:"bonds"`
	Events     []model.Event `json:"events"`
	UseExample bool          `json:"use_example,omitempty"`
}

// ParamsRequest is the JSON body for PUT /games/{code}/params.
type ParamsRequest struct {
	TotalRounds   *int             `json:"total_rounds,omitempty"`
	YearFraction  *decimal.Decimal `json:"year_fraction,omitempty"`
	BidBps        *decimal.Decimal `json:"bid_bps,omitempty"`
	AskBps        *decimal.Decimal `json:"ask_bps,omitempty"`
	CommissionBps *decimal.Decimal `json:"commission_bps,omitempty"`
	InitialCash   *decimal.Decimal `json:"initial_cash,omitempty"`
}

// TeamRequest is the JSON body for team registration and login.
type TeamRequest struct {
	Name string `json:"name"`
	PIN  string `json:"pin,omitempty"`
}

// OrderRequest is the JSON body for POST /games/{code}/orders.
type OrderRequest struct {
	TeamID   string `json:"team_id"`
	BondID   string `json:"bond_id"`
	Side     string `json:"side"`
	Quantity int64  `json:"qty"`
}

// LedgerRequest is the JSON body for POST /games/{code}/ledger.
type LedgerRequest struct {
	TeamID    string          `json:"team_id"`
	CashDelta decimal.Decimal `json:"cash_delta"`
	Reason    string          `json:"reason,omitempty"`
}

// --- Handlers ---

// ListGames handles GET /games: the codes of all games with saved state.
func (s *Service) ListGames(w http.ResponseWriter, r *http.Request) {
	codes, err := s.engine.ListGames(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if codes == nil {
		codes = []string{}
	}
	writeJSON(w, http.StatusOK, codes)
}

// GetGame handles GET /games/{code}: the full document snapshot.
func (s *Service) GetGame(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	doc, err := s.engine.Snapshot(r.Context(), code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// LoadScenario handles POST /games/{code}/scenario.
func (s *Service) LoadScenario(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	var req ScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	bonds, events := req.Bonds, req.Events
	if req.UseExample {
		bonds, events = scenario.Example()
	}

	if err := s.engine.LoadScenario(r.Context(), code, bonds, events); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"bonds":  len(bonds),
		"events": len(events),
	})
}

// GenerateAdaptiveEvents handles POST /games/{code}/scenario/adaptive-events:
// installs the default three-round event script for the loaded bonds.
func (s *Service) GenerateAdaptiveEvents(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	ctx := r.Context()

	doc, err := s.engine.Snapshot(ctx, code)
	if err != nil {
		writeError(w, err)
		return
	}
	events := scenario.DefaultAdaptiveEvents(doc.Bonds)
	if err := s.engine.LoadScenario(ctx, code, doc.Bonds, events); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// SetParams handles PUT /games/{code}/params.
func (s *Service) SetParams(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	var req ParamsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	err := s.engine.SetParams(r.Context(), code, engine.Params{
		TotalRounds:   req.TotalRounds,
		YearFraction:  req.YearFraction,
		BidBps:        req.BidBps,
		AskBps:        req.AskBps,
		CommissionBps: req.CommissionBps,
		InitialCash:   req.InitialCash,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RegisterTeam handles POST /games/{code}/teams.
func (s *Service) RegisterTeam(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	var req TeamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	team, err := s.engine.RegisterTeam(r.Context(), code, req.Name, req.PIN)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, team)
}

// Login handles POST /games/{code}/login.
func (s *Service) Login(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	var req TeamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	team, err := s.engine.Authenticate(r.Context(), code, req.Name, req.PIN)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, team)
}

// PublishPrices handles POST /games/{code}/publish.
func (s *Service) PublishPrices(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	prices, err := s.engine.PublishRoundPrices(r.Context(), code)
	if err != nil {
		writeError(w, err)
		return
	}

	if s.wsHub != nil && len(prices) > 0 {
		s.wsHub.Broadcast(WSMessage{
			Type:  "prices_published",
			Game:  code,
			Round: prices[0].Round,
		})
	}
	writeJSON(w, http.StatusOK, prices)
}

// CloseTrading handles POST /games/{code}/close.
func (s *Service) CloseTrading(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.engine.CloseTrading)
}

// AdvanceRound handles POST /games/{code}/advance.
func (s *Service) AdvanceRound(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.engine.AdvanceRound)
}

// Finalize handles POST /games/{code}/finalize.
func (s *Service) Finalize(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.engine.Finalize)
}

func (s *Service) transition(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, code string) error) {
	code := chi.URLParam(r, "code")
	if err := op(r.Context(), code); err != nil {
		writeError(w, err)
		return
	}
	doc, err := s.engine.Snapshot(r.Context(), code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc.Game)
}

// PlaceOrder handles POST /games/{code}/orders.
func (s *Service) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	order, err := s.engine.PlaceOrder(r.Context(), code, req.TeamID, req.Side, req.BondID, req.Quantity)
	if err != nil {
		writeError(w, err)
		return
	}

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:     "order_executed",
			Game:     code,
			Round:    order.Round,
			BondID:   order.BondID,
			Side:     order.Side,
			Quantity: order.Quantity,
		})
	}
	writeJSON(w, http.StatusOK, order)
}

// AdjustLedger handles POST /games/{code}/ledger.
func (s *Service) AdjustLedger(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	var req LedgerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	entry, err := s.engine.AdjustLedger(r.Context(), code, req.TeamID, req.CashDelta, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// GetPortfolio handles GET /games/{code}/teams/{teamID}/portfolio.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	teamID := chi.URLParam(r, "teamID")

	pf, err := s.engine.Reconstruct(r.Context(), code, teamID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pf)
}

// GetPrices handles GET /games/{code}/prices?round=N (current round when
// omitted).
func (s *Service) GetPrices(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	round, ok := roundParam(w, r)
	if !ok {
		return
	}

	prices, err := s.engine.PricesForRound(r.Context(), code, round)
	if err != nil {
		writeError(w, err)
		return
	}
	if prices == nil {
		prices = []model.PricePoint{}
	}
	writeJSON(w, http.StatusOK, prices)
}

// GetLeaderboard handles GET /games/{code}/leaderboard?round=N.
func (s *Service) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	round, ok := roundParam(w, r)
	if !ok {
		return
	}

	rows, err := s.engine.Leaderboard(r.Context(), code, round)
	if err != nil {
		writeError(w, err)
		return
	}
	if rows == nil {
		rows = []model.Standing{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// roundParam parses the optional ?round= query parameter; 0 means current.
func roundParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("round")
	if raw == "" {
		return 0, true
	}
	round, err := strconv.Atoi(raw)
	if err != nil || round < 1 {
		writeBadRequest(w, "round must be a positive integer")
		return 0, false
	}
	return round, true
}

// --- Response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": message})
}

// writeError maps the engine's error taxonomy to HTTP statuses: validation
// failures are 400, lookups 404, state and business rule violations 409.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	var stateErr *engine.StateError
	var engValErr *engine.ValidationError
	var scenValErr *scenario.ValidationError

	switch {
	case errors.As(err, &engValErr), errors.As(err, &scenValErr):
		status = http.StatusBadRequest
	case errors.Is(err, engine.ErrTeamNotFound):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrBadPIN):
		status = http.StatusUnauthorized
	case errors.As(err, &stateErr),
		errors.Is(err, engine.ErrTeamExists),
		errors.Is(err, engine.ErrNoScenarioLoaded),
		errors.Is(err, engine.ErrNoPriceForRound),
		errors.Is(err, engine.ErrInsufficientCash),
		errors.Is(err, engine.ErrInsufficientInventory):
		status = http.StatusConflict
	}

	writeJSON(w, status, map[string]string{"error": err.Error()})
}
