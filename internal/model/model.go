// Package model defines the core domain types shared across the simulation
// engine. All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Phase is the trading phase of a game. Transitions are driven by the
// moderator through the engine's state machine.
type Phase string

const (
	PhaseLobby      Phase = "LOBBY"
	PhaseTradingOn  Phase = "TRADING_ON"
	PhaseTradingOff Phase = "TRADING_OFF"
	PhaseFinished   Phase = "FIN"
)

// Order sides.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Event kinds.
const (
	EventMarket        = "MARKET"
	EventIdiosyncratic = "IDIOSYNCRATIC"
)

// Game holds the per-session moderator parameters and round state.
// Invariant: CurrentRound ∈ [1, TotalRounds].
type Game struct {
	Code          string          `json:"code"`
	TotalRounds   int             `json:"total_rounds"`
	CurrentRound  int             `json:"current_round"` // 1-based
	Phase         Phase           `json:"phase"`
	YearFraction  decimal.Decimal `json:"year_fraction"` // years elapsed per round
	BidBps        decimal.Decimal `json:"bid_bps"`
	AskBps        decimal.Decimal `json:"ask_bps"`
	CommissionBps decimal.Decimal `json:"commission_bps"`
	InitialCash   decimal.Decimal `json:"initial_cash"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Bond describes one instrument of the loaded scenario. Immutable once
// loaded for a round cycle.
type Bond struct {
	ID            string           `json:"bond_id"`
	Name          string           `json:"name"`
	FaceValue     decimal.Decimal  `json:"face_value"`
	CouponRate    decimal.Decimal  `json:"coupon_rate"`    // annual, as a fraction
	Frequency     int              `json:"frequency"`      // coupons per year
	MaturityYears decimal.Decimal  `json:"maturity_years"` // at round 0
	SpreadBps     decimal.Decimal  `json:"spread_bps"`
	Callable      bool             `json:"callable"`
	CallPrice     *decimal.Decimal `json:"call_price,omitempty"`
	Description   string           `json:"description,omitempty"`
}

// Event is a scripted shock consumed when prices for its round are published.
// MARKET events shift every bond's yield; IDIOSYNCRATIC events shift one
// bond's yield. Multiple events for the same round/bond are additive.
type Event struct {
	Round       int             `json:"round"`
	Kind        string          `json:"kind"` // MARKET or IDIOSYNCRATIC
	BondID      string          `json:"bond_id,omitempty"`
	DeltaBps    decimal.Decimal `json:"delta_bps"`
	Description string          `json:"description,omitempty"`
	Published   bool            `json:"published"`
}

// PricePoint is the published price of one bond for one round.
// Unique per (round, bond); a round's set is always replaced as a batch.
type PricePoint struct {
	Round       int             `json:"round"`
	BondID      string          `json:"bond_id"`
	Yield       decimal.Decimal `json:"yield"`
	Mid         decimal.Decimal `json:"mid"`
	Bid         decimal.Decimal `json:"bid"`
	Ask         decimal.Decimal `json:"ask"`
	PublishedAt time.Time       `json:"published_at"`
}

// Team is append-only: teams register once and are never deleted.
type Team struct {
	ID          string          `json:"team_id"` // T1, T2, ... in registration order
	Name        string          `json:"name"`
	PIN         string          `json:"pin,omitempty"`
	Active      bool            `json:"active"`
	CreatedAt   time.Time       `json:"created_at"`
	InitialCash decimal.Decimal `json:"initial_cash"`
}

// Order is an immutable record of an executed trade. The executed price and
// fees are captured at fill time, so later repricing never changes history.
type Order struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"ts"`
	TeamID    string          `json:"team_id"`
	BondID    string          `json:"bond_id"`
	Side      string          `json:"side"`
	Quantity  int64           `json:"qty"`
	Price     decimal.Decimal `json:"price_exec"`
	Fees      decimal.Decimal `json:"fees"`
	Round     int             `json:"round"`
}

// LedgerEntry is a manual cash adjustment outside normal trading.
type LedgerEntry struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"ts"`
	TeamID    string          `json:"team_id"`
	CashDelta decimal.Decimal `json:"cash_delta"`
	Reason    string          `json:"reason,omitempty"`
}

// GameDocument is the full per-game aggregate. It is loaded, mutated under a
// per-game lock, and saved as one atomically-replaced unit. Orders and ledger
// are the single source of truth for cash and positions; no balance field is
// ever stored.
type GameDocument struct {
	Game   Game          `json:"game"`
	Bonds  []Bond        `json:"bonds"`
	Events []Event       `json:"events"`
	Prices []PricePoint  `json:"prices"`
	Teams  []Team        `json:"teams"`
	Orders []Order       `json:"orders"`
	Ledger []LedgerEntry `json:"ledger"`
}

// Portfolio is the reconstructed state of one team: a pure projection of the
// order and ledger history, never cached in the document.
type Portfolio struct {
	TeamID    string           `json:"team_id"`
	Cash      decimal.Decimal  `json:"cash"`
	Positions map[string]int64 `json:"positions"` // bondID → signed quantity
}

// Standing is one leaderboard row.
type Standing struct {
	Rank          int             `json:"rank"`
	TeamID        string          `json:"team_id"`
	TeamName      string          `json:"team_name"`
	Cash          decimal.Decimal `json:"cash"`
	PositionValue decimal.Decimal `json:"position_value"`
	TotalValue    decimal.Decimal `json:"total_value"`
}

// TeamByID returns the team with the given ID, or nil.
func (d *GameDocument) TeamByID(id string) *Team {
	for i := range d.Teams {
		if d.Teams[i].ID == id {
			return &d.Teams[i]
		}
	}
	return nil
}

// TeamByName returns the team with the given display name, or nil.
func (d *GameDocument) TeamByName(name string) *Team {
	for i := range d.Teams {
		if d.Teams[i].Name == name {
			return &d.Teams[i]
		}
	}
	return nil
}

// PriceFor returns the published price point for (round, bondID), or nil.
func (d *GameDocument) PriceFor(round int, bondID string) *PricePoint {
	for i := range d.Prices {
		if d.Prices[i].Round == round && d.Prices[i].BondID == bondID {
			return &d.Prices[i]
		}
	}
	return nil
}

// NewGameDocument returns a fresh document with the classroom defaults:
// 3 rounds, quarter-year rounds, 20/20 bps spreads, 10 bps commission,
// 1,000,000 starting cash per team.
func NewGameDocument(code string) *GameDocument {
	return &GameDocument{
		Game: Game{
			Code:          code,
			TotalRounds:   3,
			CurrentRound:  1,
			Phase:         PhaseLobby,
			YearFraction:  decimal.NewFromFloat(0.25),
			BidBps:        decimal.NewFromInt(20),
			AskBps:        decimal.NewFromInt(20),
			CommissionBps: decimal.NewFromInt(10),
			InitialCash:   decimal.NewFromInt(1_000_000),
			CreatedAt:     time.Now().UTC(),
		},
	}
}
