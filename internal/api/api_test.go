package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/misionbonos/sim-engine/internal/api"
	"github.com/misionbonos/sim-engine/internal/engine"
	"github.com/misionbonos/sim-engine/internal/model"
	"github.com/misionbonos/sim-engine/internal/store"
)

type testEnv struct {
	router chi.Router
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	eng := engine.New(store.NewMemoryStore())
	svc := api.NewService(eng, nil)
	r := chi.NewRouter()
	svc.Routes(r)
	return &testEnv{router: r}
}

// do sends a JSON request and returns the recorded response.
func (env *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return v
}

func (env *testEnv) mustStatus(t *testing.T, method, path string, body any, want int) *httptest.ResponseRecorder {
	t.Helper()
	rec := env.do(t, method, path, body)
	if rec.Code != want {
		t.Fatalf("%s %s: expected status %d, got %d (body %s)",
			method, path, want, rec.Code, rec.Body.String())
	}
	return rec
}

const gamePath = "/games/AULA-1"

func TestGameLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)

	// Fresh game snapshot has LOBBY defaults.
	rec := env.mustStatus(t, http.MethodGet, gamePath+"/", nil, http.StatusOK)
	doc := decode[model.GameDocument](t, rec)
	if doc.Game.Phase != model.PhaseLobby {
		t.Fatalf("expected LOBBY, got %s", doc.Game.Phase)
	}

	// Load the demo scenario.
	rec = env.mustStatus(t, http.MethodPost, gamePath+"/scenario",
		api.ScenarioRequest{UseExample: true}, http.StatusOK)
	counts := decode[map[string]int](t, rec)
	if counts["bonds"] != 3 || counts["events"] != 3 {
		t.Fatalf("unexpected scenario counts: %v", counts)
	}

	// Register and log in a team.
	rec = env.mustStatus(t, http.MethodPost, gamePath+"/teams",
		api.TeamRequest{Name: "Alfa", PIN: "1234"}, http.StatusCreated)
	team := decode[model.Team](t, rec)
	if team.ID != "T1" {
		t.Fatalf("expected T1, got %s", team.ID)
	}
	env.mustStatus(t, http.MethodPost, gamePath+"/login",
		api.TeamRequest{Name: "Alfa", PIN: "1234"}, http.StatusOK)

	// Publish opens trading.
	rec = env.mustStatus(t, http.MethodPost, gamePath+"/publish", nil, http.StatusOK)
	prices := decode[[]model.PricePoint](t, rec)
	if len(prices) != 3 {
		t.Fatalf("expected 3 prices, got %d", len(prices))
	}

	// Trade, then inspect the portfolio.
	rec = env.mustStatus(t, http.MethodPost, gamePath+"/orders",
		api.OrderRequest{TeamID: team.ID, BondID: "B1", Side: model.SideBuy, Quantity: 5},
		http.StatusOK)
	order := decode[model.Order](t, rec)
	if order.Round != 1 || order.Quantity != 5 {
		t.Fatalf("unexpected order: %+v", order)
	}

	rec = env.mustStatus(t, http.MethodGet,
		fmt.Sprintf("%s/teams/%s/portfolio", gamePath, team.ID), nil, http.StatusOK)
	pf := decode[model.Portfolio](t, rec)
	if pf.Positions["B1"] != 5 {
		t.Fatalf("expected 5 B1 held, got %d", pf.Positions["B1"])
	}

	// Close and advance to round 2.
	rec = env.mustStatus(t, http.MethodPost, gamePath+"/close", nil, http.StatusOK)
	game := decode[model.Game](t, rec)
	if game.Phase != model.PhaseTradingOff {
		t.Fatalf("expected TRADING_OFF, got %s", game.Phase)
	}
	rec = env.mustStatus(t, http.MethodPost, gamePath+"/advance", nil, http.StatusOK)
	game = decode[model.Game](t, rec)
	if game.CurrentRound != 2 || game.Phase != model.PhaseLobby {
		t.Fatalf("expected round 2 LOBBY, got %+v", game)
	}

	// Leaderboard for round 1 remains queryable.
	rec = env.mustStatus(t, http.MethodGet, gamePath+"/leaderboard?round=1", nil, http.StatusOK)
	rows := decode[[]model.Standing](t, rec)
	if len(rows) != 1 || rows[0].Rank != 1 {
		t.Fatalf("unexpected leaderboard: %+v", rows)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	env := newTestEnv(t)

	// Publishing with no scenario: business rule conflict.
	env.mustStatus(t, http.MethodPost, gamePath+"/publish", nil, http.StatusConflict)

	// Malformed JSON body.
	req := httptest.NewRequest(http.MethodPost, gamePath+"/teams", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body: expected 400, got %d", rec.Code)
	}

	// Scenario validation failures.
	env.mustStatus(t, http.MethodPost, gamePath+"/scenario", api.ScenarioRequest{
		Bonds: []model.Bond{{ID: "B1"}, {ID: "B1"}},
	}, http.StatusBadRequest)

	env.mustStatus(t, http.MethodPost, gamePath+"/scenario",
		api.ScenarioRequest{UseExample: true}, http.StatusOK)
	env.mustStatus(t, http.MethodPost, gamePath+"/teams",
		api.TeamRequest{Name: "Alfa", PIN: "1234"}, http.StatusCreated)

	// Duplicate name conflicts; empty name is a validation failure.
	env.mustStatus(t, http.MethodPost, gamePath+"/teams",
		api.TeamRequest{Name: "Alfa"}, http.StatusConflict)
	env.mustStatus(t, http.MethodPost, gamePath+"/teams",
		api.TeamRequest{Name: ""}, http.StatusBadRequest)

	// Login failures.
	env.mustStatus(t, http.MethodPost, gamePath+"/login",
		api.TeamRequest{Name: "Alfa", PIN: "0000"}, http.StatusUnauthorized)
	env.mustStatus(t, http.MethodPost, gamePath+"/login",
		api.TeamRequest{Name: "Nadie"}, http.StatusNotFound)

	// Orders before trading opens are phase conflicts.
	env.mustStatus(t, http.MethodPost, gamePath+"/orders",
		api.OrderRequest{TeamID: "T1", BondID: "B1", Side: model.SideBuy, Quantity: 1},
		http.StatusConflict)

	env.mustStatus(t, http.MethodPost, gamePath+"/publish", nil, http.StatusOK)

	// Input validation and lookups after trading opens.
	env.mustStatus(t, http.MethodPost, gamePath+"/orders",
		api.OrderRequest{TeamID: "T1", BondID: "B1", Side: model.SideBuy, Quantity: 0},
		http.StatusBadRequest)
	env.mustStatus(t, http.MethodPost, gamePath+"/orders",
		api.OrderRequest{TeamID: "T9", BondID: "B1", Side: model.SideBuy, Quantity: 1},
		http.StatusNotFound)
	env.mustStatus(t, http.MethodPost, gamePath+"/orders",
		api.OrderRequest{TeamID: "T1", BondID: "B9", Side: model.SideBuy, Quantity: 1},
		http.StatusConflict)
	env.mustStatus(t, http.MethodPost, gamePath+"/orders",
		api.OrderRequest{TeamID: "T1", BondID: "B1", Side: model.SideSell, Quantity: 1},
		http.StatusConflict)

	// Unknown team portfolio.
	env.mustStatus(t, http.MethodGet, gamePath+"/teams/T9/portfolio", nil, http.StatusNotFound)

	// Round parameter framing.
	env.mustStatus(t, http.MethodGet, gamePath+"/prices?round=abc", nil, http.StatusBadRequest)
	env.mustStatus(t, http.MethodGet, gamePath+"/leaderboard?round=-1", nil, http.StatusBadRequest)

	// Parameter changes are rejected while trading is open.
	rounds := 5
	env.mustStatus(t, http.MethodPut, gamePath+"/params",
		api.ParamsRequest{TotalRounds: &rounds}, http.StatusConflict)
}

func TestListGamesEndpoint(t *testing.T) {
	env := newTestEnv(t)

	// Nothing saved yet.
	rec := env.mustStatus(t, http.MethodGet, "/games", nil, http.StatusOK)
	codes := decode[[]string](t, rec)
	if len(codes) != 0 {
		t.Fatalf("expected no games, got %v", codes)
	}

	// Registering a team persists the game document.
	env.mustStatus(t, http.MethodPost, gamePath+"/teams",
		api.TeamRequest{Name: "Alfa"}, http.StatusCreated)
	env.mustStatus(t, http.MethodPost, "/games/AULA-2/teams",
		api.TeamRequest{Name: "Beta"}, http.StatusCreated)

	rec = env.mustStatus(t, http.MethodGet, "/games", nil, http.StatusOK)
	codes = decode[[]string](t, rec)
	if len(codes) != 2 || codes[0] != "AULA-1" || codes[1] != "AULA-2" {
		t.Errorf("expected sorted codes [AULA-1 AULA-2], got %v", codes)
	}
}

func TestParamsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rounds := 4
	env.mustStatus(t, http.MethodPut, gamePath+"/params",
		api.ParamsRequest{TotalRounds: &rounds}, http.StatusNoContent)

	rec := env.mustStatus(t, http.MethodGet, gamePath+"/", nil, http.StatusOK)
	doc := decode[model.GameDocument](t, rec)
	if doc.Game.TotalRounds != 4 {
		t.Errorf("expected 4 rounds, got %d", doc.Game.TotalRounds)
	}

	bad := 0
	env.mustStatus(t, http.MethodPut, gamePath+"/params",
		api.ParamsRequest{TotalRounds: &bad}, http.StatusBadRequest)
}

func TestAdaptiveEventsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	env.mustStatus(t, http.MethodPost, gamePath+"/scenario",
		api.ScenarioRequest{UseExample: true}, http.StatusOK)

	rec := env.mustStatus(t, http.MethodPost, gamePath+"/scenario/adaptive-events", nil, http.StatusOK)
	events := decode[[]model.Event](t, rec)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	// The idiosyncratic event targets the widest-spread bond of the demo set.
	last := events[2]
	if last.Kind != model.EventIdiosyncratic || last.BondID != "B3" {
		t.Errorf("expected idiosyncratic event on B3, got %+v", last)
	}
}

func TestLedgerEndpoint(t *testing.T) {
	env := newTestEnv(t)

	env.mustStatus(t, http.MethodPost, gamePath+"/teams",
		api.TeamRequest{Name: "Alfa"}, http.StatusCreated)

	rec := env.do(t, http.MethodPost, gamePath+"/ledger", map[string]any{
		"team_id": "T1", "cash_delta": "-1000", "reason": "penalidad",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body %s)", rec.Code, rec.Body.String())
	}
	entry := decode[model.LedgerEntry](t, rec)
	if entry.TeamID != "T1" || entry.Reason != "penalidad" {
		t.Errorf("unexpected entry: %+v", entry)
	}

	env.mustStatus(t, http.MethodGet, gamePath+"/teams/T1/portfolio", nil, http.StatusOK)
}
