// Package engine owns the simulation core: the round state machine, price
// publication, order execution, and the reconstruction of team portfolios
// from recorded history.
//
// All monetary values use shopspring/decimal — never float64 for money.
// Every mutating operation runs the full load → reconstruct → validate →
// append → save cycle under a per-game lock, so concurrent orders can never
// pass a cash check against a stale reconstruction. Different game codes
// are fully independent.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/misionbonos/sim-engine/internal/metrics"
	"github.com/misionbonos/sim-engine/internal/model"
	"github.com/misionbonos/sim-engine/internal/pricing"
	"github.com/misionbonos/sim-engine/internal/scenario"
	"github.com/misionbonos/sim-engine/internal/store"
)

var tenThousand = decimal.NewFromInt(10_000)

// Engine executes moderator and team operations against game documents.
type Engine struct {
	store store.Store

	mu    sync.Mutex
	locks map[string]*sync.Mutex // one lock per game code
}

// New creates an engine backed by the given store.
func New(st store.Store) *Engine {
	return &Engine{
		store: st,
		locks: make(map[string]*sync.Mutex),
	}
}

// lockFor returns the mutex serializing all operations on one game code.
func (e *Engine) lockFor(code string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[code]
	if !ok {
		l = &sync.Mutex{}
		e.locks[code] = l
	}
	return l
}

// update runs fn against the loaded document under the game's lock and
// saves the document when fn succeeds. On any error the document is not
// saved, so rejected operations leave no trace.
func (e *Engine) update(ctx context.Context, code string, fn func(doc *model.GameDocument) error) error {
	l := e.lockFor(code)
	l.Lock()
	defer l.Unlock()

	doc, err := e.store.Load(ctx, code)
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	return e.store.Save(ctx, doc)
}

// view runs fn against the loaded document under the game's lock without
// saving. The lock keeps reads consistent with in-flight writes.
func (e *Engine) view(ctx context.Context, code string, fn func(doc *model.GameDocument) error) error {
	l := e.lockFor(code)
	l.Lock()
	defer l.Unlock()

	doc, err := e.store.Load(ctx, code)
	if err != nil {
		return err
	}
	return fn(doc)
}

// Snapshot returns the current document for a game code.
func (e *Engine) Snapshot(ctx context.Context, code string) (*model.GameDocument, error) {
	var out *model.GameDocument
	err := e.view(ctx, code, func(doc *model.GameDocument) error {
		out = doc
		return nil
	})
	return out, err
}

// --- Scenario and parameters ---

// LoadScenario validates and installs a scenario (bonds plus scripted
// events), replacing any previous one. Not permitted once the game is
// finished.
func (e *Engine) LoadScenario(ctx context.Context, code string, bonds []model.Bond, events []model.Event) error {
	return e.update(ctx, code, func(doc *model.GameDocument) error {
		if doc.Game.Phase == model.PhaseFinished {
			return &StateError{Action: "load scenario", Phase: doc.Game.Phase}
		}
		vb, err := scenario.ValidateBonds(bonds)
		if err != nil {
			return err
		}
		ve, err := scenario.ValidateEvents(events, vb)
		if err != nil {
			return err
		}
		doc.Bonds = vb
		doc.Events = ve

		slog.Info("scenario loaded",
			"game", code,
			"bonds", len(vb),
			"events", len(ve),
		)
		return nil
	})
}

// Params carries moderator-settable game parameters. Nil fields are left
// unchanged.
type Params struct {
	TotalRounds   *int
	YearFraction  *decimal.Decimal
	BidBps        *decimal.Decimal
	AskBps        *decimal.Decimal
	CommissionBps *decimal.Decimal
	InitialCash   *decimal.Decimal
}

// SetParams updates game parameters. Only permitted in the LOBBY phase, so
// published prices and executed orders always reflect the parameters they
// were produced under.
func (e *Engine) SetParams(ctx context.Context, code string, p Params) error {
	return e.update(ctx, code, func(doc *model.GameDocument) error {
		g := &doc.Game
		if g.Phase != model.PhaseLobby {
			return &StateError{Action: "set parameters", Phase: g.Phase}
		}
		if p.TotalRounds != nil {
			if *p.TotalRounds < g.CurrentRound {
				return validationf("total rounds %d below current round %d", *p.TotalRounds, g.CurrentRound)
			}
			g.TotalRounds = *p.TotalRounds
		}
		if p.YearFraction != nil {
			if !p.YearFraction.IsPositive() {
				return validationf("year fraction must be positive")
			}
			g.YearFraction = *p.YearFraction
		}
		if p.BidBps != nil {
			if p.BidBps.IsNegative() {
				return validationf("bid spread must not be negative")
			}
			g.BidBps = *p.BidBps
		}
		if p.AskBps != nil {
			if p.AskBps.IsNegative() {
				return validationf("ask spread must not be negative")
			}
			g.AskBps = *p.AskBps
		}
		if p.CommissionBps != nil {
			if p.CommissionBps.IsNegative() {
				return validationf("commission must not be negative")
			}
			g.CommissionBps = *p.CommissionBps
		}
		if p.InitialCash != nil {
			if !p.InitialCash.IsPositive() {
				return validationf("initial cash must be positive")
			}
			g.InitialCash = *p.InitialCash
		}
		return nil
	})
}

// --- Teams ---

// RegisterTeam adds a team with the next sequential ID and a snapshot of the
// game's initial cash. Team names are unique; teams are append-only.
func (e *Engine) RegisterTeam(ctx context.Context, code, name, pin string) (model.Team, error) {
	var team model.Team
	err := e.update(ctx, code, func(doc *model.GameDocument) error {
		if doc.Game.Phase == model.PhaseFinished {
			return &StateError{Action: "register team", Phase: doc.Game.Phase}
		}
		if name == "" {
			return validationf("team name must not be empty")
		}
		if doc.TeamByName(name) != nil {
			return ErrTeamExists
		}
		team = model.Team{
			ID:          fmt.Sprintf("T%d", len(doc.Teams)+1),
			Name:        name,
			PIN:         pin,
			Active:      true,
			CreatedAt:   time.Now().UTC(),
			InitialCash: doc.Game.InitialCash,
		}
		doc.Teams = append(doc.Teams, team)

		slog.Info("team registered", "game", code, "team_id", team.ID, "name", name)
		return nil
	})
	return team, err
}

// Authenticate checks a team's PIN. Teams registered without a PIN accept
// any value.
func (e *Engine) Authenticate(ctx context.Context, code, name, pin string) (model.Team, error) {
	var team model.Team
	err := e.view(ctx, code, func(doc *model.GameDocument) error {
		t := doc.TeamByName(name)
		if t == nil {
			return ErrTeamNotFound
		}
		if t.PIN != "" && t.PIN != pin {
			return ErrBadPIN
		}
		team = *t
		return nil
	})
	return team, err
}

// --- State machine ---

// PublishRoundPrices prices every bond for the current round and opens
// trading. The round's previous price set, if any, is replaced as a batch;
// partial price sets never persist. The round's events are marked published.
// Re-publishing while trading is open is permitted (moderator correction)
// and never touches already-executed orders, which carry their own fill
// prices.
func (e *Engine) PublishRoundPrices(ctx context.Context, code string) ([]model.PricePoint, error) {
	var published []model.PricePoint
	err := e.update(ctx, code, func(doc *model.GameDocument) error {
		g := &doc.Game
		if g.Phase != model.PhaseLobby && g.Phase != model.PhaseTradingOn {
			return &StateError{Action: "publish prices", Phase: g.Phase}
		}
		if len(doc.Bonds) == 0 {
			return ErrNoScenarioLoaded
		}

		r := g.CurrentRound
		now := time.Now().UTC()
		fresh := make([]model.PricePoint, 0, len(doc.Bonds))
		for _, b := range doc.Bonds {
			yield := scenario.EffectiveYield(doc.Events, r, b)
			quote, err := pricing.Price(b, yield, g.YearFraction, r-1, g.BidBps, g.AskBps)
			if err != nil {
				return err
			}
			fresh = append(fresh, model.PricePoint{
				Round:       r,
				BondID:      b.ID,
				Yield:       yield,
				Mid:         quote.Mid,
				Bid:         quote.Bid,
				Ask:         quote.Ask,
				PublishedAt: now,
			})
		}

		// Atomic batch swap: drop the round's old set, keep other rounds.
		kept := doc.Prices[:0]
		for _, p := range doc.Prices {
			if p.Round != r {
				kept = append(kept, p)
			}
		}
		doc.Prices = append(kept, fresh...)

		for i := range doc.Events {
			if doc.Events[i].Round == r {
				doc.Events[i].Published = true
			}
		}

		g.Phase = model.PhaseTradingOn
		published = fresh

		metrics.PricePublications.Inc()
		slog.Info("round prices published",
			"game", code,
			"round", r,
			"bonds", len(fresh),
		)
		return nil
	})
	return published, err
}

// CloseTrading freezes order submission for the current round.
func (e *Engine) CloseTrading(ctx context.Context, code string) error {
	return e.update(ctx, code, func(doc *model.GameDocument) error {
		if doc.Game.Phase != model.PhaseTradingOn {
			return &StateError{Action: "close trading", Phase: doc.Game.Phase}
		}
		doc.Game.Phase = model.PhaseTradingOff
		slog.Info("trading closed", "game", code, "round", doc.Game.CurrentRound)
		return nil
	})
}

// AdvanceRound moves a closed round forward. Only permitted from
// TRADING_OFF with rounds remaining.
func (e *Engine) AdvanceRound(ctx context.Context, code string) error {
	return e.update(ctx, code, func(doc *model.GameDocument) error {
		g := &doc.Game
		if g.Phase != model.PhaseTradingOff {
			return &StateError{Action: "advance round", Phase: g.Phase}
		}
		if g.CurrentRound >= g.TotalRounds {
			return &StateError{Action: "advance past final round", Phase: g.Phase}
		}
		g.CurrentRound++
		g.Phase = model.PhaseLobby
		slog.Info("round advanced", "game", code, "round", g.CurrentRound)
		return nil
	})
}

// Finalize ends the game. Only permitted from TRADING_OFF on the final
// round; FIN is terminal.
func (e *Engine) Finalize(ctx context.Context, code string) error {
	return e.update(ctx, code, func(doc *model.GameDocument) error {
		g := &doc.Game
		if g.Phase != model.PhaseTradingOff {
			return &StateError{Action: "finalize", Phase: g.Phase}
		}
		if g.CurrentRound != g.TotalRounds {
			return &StateError{Action: "finalize before final round", Phase: g.Phase}
		}
		g.Phase = model.PhaseFinished
		slog.Info("game finalized", "game", code, "rounds", g.TotalRounds)
		return nil
	})
}

// --- Order execution ---

// PlaceOrder validates and records a trade at the current round's published
// prices. BUY executes at ask, SELL at bid; the commission is always a cost
// for the initiating team. The only mutation on success is one appended
// immutable order — cash and positions are realized purely through
// reconstruction. A rejected order leaves history byte-identical.
func (e *Engine) PlaceOrder(ctx context.Context, code, teamID, side, bondID string, quantity int64) (model.Order, error) {
	var order model.Order
	err := e.update(ctx, code, func(doc *model.GameDocument) error {
		g := &doc.Game
		if g.Phase != model.PhaseTradingOn {
			return &StateError{Action: "place order", Phase: g.Phase}
		}
		if doc.TeamByID(teamID) == nil {
			return ErrTeamNotFound
		}

		// Price availability gates before input validation: an unpriced bond
		// is reported as such even when the rest of the order is malformed.
		price := doc.PriceFor(g.CurrentRound, bondID)
		if price == nil {
			return ErrNoPriceForRound
		}

		if side != model.SideBuy && side != model.SideSell {
			return validationf("side must be %s or %s", model.SideBuy, model.SideSell)
		}
		if quantity <= 0 {
			return validationf("quantity must be a positive integer")
		}

		px := price.Ask
		if side == model.SideSell {
			px = price.Bid
		}
		qty := decimal.NewFromInt(quantity)
		gross := px.Mul(qty)
		fees := gross.Mul(g.CommissionBps).Div(tenThousand).Round(pricing.PriceScale)

		// Fresh reconstruction as of this instant; the game lock makes the
		// check-and-append atomic.
		pf, err := Replay(doc, teamID)
		if err != nil {
			return err
		}
		if side == model.SideBuy {
			if pf.Cash.LessThan(gross.Add(fees)) {
				metrics.OrderRejections.WithLabelValues("insufficient_cash").Inc()
				return ErrInsufficientCash
			}
		} else {
			if pf.Positions[bondID] < quantity {
				metrics.OrderRejections.WithLabelValues("insufficient_inventory").Inc()
				return ErrInsufficientInventory
			}
		}

		order = model.Order{
			ID:        uuid.New().String(),
			Timestamp: time.Now().UTC(),
			TeamID:    teamID,
			BondID:    bondID,
			Side:      side,
			Quantity:  quantity,
			Price:     px,
			Fees:      fees,
			Round:     g.CurrentRound,
		}
		doc.Orders = append(doc.Orders, order)

		metrics.OrdersTotal.WithLabelValues(side).Inc()
		slog.Info("order executed",
			"game", code,
			"order_id", order.ID,
			"team", teamID,
			"bond", bondID,
			"side", side,
			"qty", quantity,
			"price", px.String(),
			"fees", fees.String(),
			"round", g.CurrentRound,
		)
		return nil
	})
	return order, err
}

// AdjustLedger appends a manual cash adjustment for a team. This is the
// moderator's correction channel outside normal trading.
func (e *Engine) AdjustLedger(ctx context.Context, code, teamID string, delta decimal.Decimal, reason string) (model.LedgerEntry, error) {
	var entry model.LedgerEntry
	err := e.update(ctx, code, func(doc *model.GameDocument) error {
		if doc.TeamByID(teamID) == nil {
			return ErrTeamNotFound
		}
		entry = model.LedgerEntry{
			ID:        uuid.New().String(),
			Timestamp: time.Now().UTC(),
			TeamID:    teamID,
			CashDelta: delta,
			Reason:    reason,
		}
		doc.Ledger = append(doc.Ledger, entry)

		slog.Info("ledger adjusted",
			"game", code,
			"team", teamID,
			"delta", delta.String(),
			"reason", reason,
		)
		return nil
	})
	return entry, err
}

// --- Queries ---

// Reconstruct returns a team's current cash and holdings, derived from the
// recorded order and ledger history.
func (e *Engine) Reconstruct(ctx context.Context, code, teamID string) (model.Portfolio, error) {
	var pf model.Portfolio
	err := e.view(ctx, code, func(doc *model.GameDocument) error {
		var rerr error
		pf, rerr = Replay(doc, teamID)
		return rerr
	})
	return pf, err
}

// Leaderboard ranks all teams at the given round's mid prices. A round of 0
// means the current round. Available in any phase.
func (e *Engine) Leaderboard(ctx context.Context, code string, round int) ([]model.Standing, error) {
	var rows []model.Standing
	err := e.view(ctx, code, func(doc *model.GameDocument) error {
		r := round
		if r == 0 {
			r = doc.Game.CurrentRound
		}
		var serr error
		rows, serr = Standings(doc, r)
		return serr
	})
	return rows, err
}

// ListGames returns the codes of all games with saved state.
func (e *Engine) ListGames(ctx context.Context) ([]string, error) {
	return e.store.ListCodes(ctx)
}

// PricesForRound returns the published price set for one round. A round of
// 0 means the current round.
func (e *Engine) PricesForRound(ctx context.Context, code string, round int) ([]model.PricePoint, error) {
	var out []model.PricePoint
	err := e.view(ctx, code, func(doc *model.GameDocument) error {
		r := round
		if r == 0 {
			r = doc.Game.CurrentRound
		}
		for _, p := range doc.Prices {
			if p.Round == r {
				out = append(out, p)
			}
		}
		return nil
	})
	return out, err
}
