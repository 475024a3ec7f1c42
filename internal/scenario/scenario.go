// Package scenario validates scenario input (bonds and scripted events) and
// composes per-round effective yields from them.
//
// The presentation layer owns file formats and upload parsing; the engine
// only ever sees bond and event values that passed through this package,
// with defaults applied and types checked.
package scenario

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/misionbonos/sim-engine/internal/model"
)

// ValidationError reports a malformed scenario row. It is rejected before
// any state is touched.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalidf(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// Scenario defaults, matching the classroom template.
var (
	DefaultFaceValue  = decimal.NewFromInt(1000)
	DefaultCouponRate = decimal.NewFromFloat(0.08)
	DefaultMaturity   = decimal.NewFromInt(3)
)

const DefaultFrequency = 2

// ValidateBonds checks a bond list, fills defaults for zero-valued optional
// fields, and rejects duplicates. Returns the normalized list.
func ValidateBonds(bonds []model.Bond) ([]model.Bond, error) {
	seen := make(map[string]bool, len(bonds))
	out := make([]model.Bond, 0, len(bonds))

	for _, b := range bonds {
		if b.ID == "" {
			return nil, invalidf("bond with empty bond_id")
		}
		if seen[b.ID] {
			return nil, invalidf("duplicate bond_id %q", b.ID)
		}
		seen[b.ID] = true

		if b.FaceValue.IsZero() {
			b.FaceValue = DefaultFaceValue
		}
		if b.FaceValue.IsNegative() {
			return nil, invalidf("bond %s: face value must be positive", b.ID)
		}
		if b.CouponRate.IsZero() {
			b.CouponRate = DefaultCouponRate
		}
		if b.Frequency == 0 {
			b.Frequency = DefaultFrequency
		}
		if b.Frequency < 0 {
			return nil, invalidf("bond %s: frequency must be positive", b.ID)
		}
		if b.MaturityYears.IsZero() {
			b.MaturityYears = DefaultMaturity
		}
		if b.MaturityYears.IsNegative() {
			return nil, invalidf("bond %s: maturity must be positive", b.ID)
		}
		out = append(out, b)
	}
	return out, nil
}

// ValidateEvents checks an event list against the loaded bonds. Events are
// append-only input; Published always starts false.
func ValidateEvents(events []model.Event, bonds []model.Bond) ([]model.Event, error) {
	byID := make(map[string]bool, len(bonds))
	for _, b := range bonds {
		byID[b.ID] = true
	}

	out := make([]model.Event, 0, len(events))
	for i, e := range events {
		if e.Round < 1 {
			return nil, invalidf("event %d: round must be >= 1", i+1)
		}
		switch e.Kind {
		case model.EventMarket:
			e.BondID = ""
		case model.EventIdiosyncratic:
			if e.BondID == "" {
				return nil, invalidf("event %d: idiosyncratic event requires a bond_id", i+1)
			}
			if !byID[e.BondID] {
				return nil, invalidf("event %d: unknown bond_id %q", i+1, e.BondID)
			}
		default:
			return nil, invalidf("event %d: kind must be %s or %s", i+1, model.EventMarket, model.EventIdiosyncratic)
		}
		e.Published = false
		out = append(out, e)
	}
	return out, nil
}

// EffectiveYield composes a bond's discount rate for one round:
// credit spread plus the sum of that round's MARKET deltas plus the sum of
// that round's IDIOSYNCRATIC deltas targeting the bond, all in basis points.
// Overlapping events add, they never override. The base risk-free rate is a
// fixed zero in this model.
func EffectiveYield(events []model.Event, round int, bond model.Bond) decimal.Decimal {
	total := bond.SpreadBps
	for _, e := range events {
		if e.Round != round {
			continue
		}
		switch e.Kind {
		case model.EventMarket:
			total = total.Add(e.DeltaBps)
		case model.EventIdiosyncratic:
			if e.BondID == bond.ID {
				total = total.Add(e.DeltaBps)
			}
		}
	}
	return total.Div(decimal.NewFromInt(10_000))
}

// Example returns the built-in three-bond, three-event demo scenario used
// when the moderator has nothing else prepared.
func Example() ([]model.Bond, []model.Event) {
	callB2 := decimal.NewFromInt(1020)
	bonds := []model.Bond{
		{
			ID: "B1", Name: "Bono Tesoro 2028",
			FaceValue:  decimal.NewFromInt(1000),
			CouponRate: decimal.NewFromFloat(0.08), Frequency: 2,
			MaturityYears: decimal.NewFromInt(3),
			SpreadBps:     decimal.NewFromInt(50),
			Description:   "Soberano",
		},
		{
			ID: "B2", Name: "Corp Alfa 2030",
			FaceValue:  decimal.NewFromInt(1000),
			CouponRate: decimal.NewFromFloat(0.09), Frequency: 2,
			MaturityYears: decimal.NewFromInt(4),
			SpreadBps:     decimal.NewFromInt(150),
			Callable:      true, CallPrice: &callB2,
			Description: "Corporativo AAA",
		},
		{
			ID: "B3", Name: "Corp Beta 2027",
			FaceValue:  decimal.NewFromInt(1000),
			CouponRate: decimal.NewFromFloat(0.07), Frequency: 4,
			MaturityYears: decimal.NewFromInt(2),
			SpreadBps:     decimal.NewFromInt(220),
			Description:   "Corporativo BB",
		},
	}
	events := []model.Event{
		{Round: 1, Kind: model.EventMarket, DeltaBps: decimal.NewFromInt(75), Description: "Shock de tasas +75 bps"},
		{Round: 2, Kind: model.EventMarket, DeltaBps: decimal.NewFromInt(-40), Description: "Mejora macro -40 bps"},
		{Round: 3, Kind: model.EventIdiosyncratic, BondID: "B3", DeltaBps: decimal.NewFromInt(120), Description: "Riesgo crédito B3 +120 bps"},
	}
	return bonds, events
}

// DefaultAdaptiveEvents proposes the standard three-round event script for
// an arbitrary bond list: a +75 bps market shock, a −40 bps recovery, then a
// +120 bps idiosyncratic credit event on the widest-spread bond.
func DefaultAdaptiveEvents(bonds []model.Bond) []model.Event {
	target := "B1"
	if len(bonds) > 0 {
		widest := bonds[0]
		for _, b := range bonds[1:] {
			if b.SpreadBps.GreaterThan(widest.SpreadBps) {
				widest = b
			}
		}
		target = widest.ID
	}
	return []model.Event{
		{Round: 1, Kind: model.EventMarket, DeltaBps: decimal.NewFromInt(75), Description: "Shock de tasas global +75 bps"},
		{Round: 2, Kind: model.EventMarket, DeltaBps: decimal.NewFromInt(-40), Description: "Mejora macro (-40 bps)"},
		{Round: 3, Kind: model.EventIdiosyncratic, BondID: target, DeltaBps: decimal.NewFromInt(120), Description: "Riesgo crédito específico +120 bps"},
	}
}
