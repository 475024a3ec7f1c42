// Package pricing implements the discounted-cash-flow bond pricing model.
//
// A bond is priced as a standard level-coupon DCF re-amortized from its
// current remaining maturity each round — not from a fixed original
// schedule. Remaining maturity shrinks by the game's year fraction per
// elapsed round, and the number of coupon periods is recomputed from it.
//
// All monetary values use shopspring/decimal — never float64 for money.
// Pricing is a pure function of its inputs: identical inputs produce
// bit-identical output, which keeps graded scenarios reproducible.
package pricing

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/misionbonos/sim-engine/internal/model"
)

var (
	// ErrInvalidFrequency is returned when a bond's coupon frequency is not
	// a positive number of payments per year.
	ErrInvalidFrequency = errors.New("pricing: coupon frequency must be positive")

	// MinPrice is the floor for any computed price. Extreme yields can push
	// the present value to zero or below; prices never go there.
	MinPrice = decimal.NewFromFloat(0.01)

	// PriceScale is the number of decimal places for price rounding.
	PriceScale int32 = 6
)

var (
	one = decimal.NewFromInt(1)
	bps = decimal.NewFromInt(10_000)
)

// Quote is a mid price with its bid/ask execution prices.
type Quote struct {
	Mid decimal.Decimal
	Bid decimal.Decimal
	Ask decimal.Decimal
}

// Mid computes the present value of a bond at the given effective annual
// yield, with roundsElapsed rounds of maturity decay already applied.
//
//	remaining = max(0, maturityYears − roundsElapsed × yearFraction)
//	N = max(1, ceil(remaining × frequency))
//	i = yield / frequency,  C = face × couponRate / frequency
//	PV = Σ_{k=1..N} C/(1+i)^k + face/(1+i)^N
//
// The result is floored at MinPrice.
func Mid(bond model.Bond, yield decimal.Decimal, yearFraction decimal.Decimal, roundsElapsed int) (decimal.Decimal, error) {
	if bond.Frequency <= 0 {
		return decimal.Decimal{}, ErrInvalidFrequency
	}
	freq := decimal.NewFromInt(int64(bond.Frequency))

	remaining := bond.MaturityYears.Sub(yearFraction.Mul(decimal.NewFromInt(int64(roundsElapsed))))
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}

	periods := remaining.Mul(freq).Ceil().IntPart()
	if periods < 1 {
		periods = 1
	}

	coupon := bond.FaceValue.Mul(bond.CouponRate).Div(freq)
	i := yield.Div(freq)

	onePlusI := one.Add(i)
	if !onePlusI.IsPositive() {
		// Degenerate discount rate (i <= -1): the DCF is undefined, clamp.
		return MinPrice, nil
	}

	pv := decimal.Zero
	discount := one
	for k := int64(1); k <= periods; k++ {
		discount = discount.Mul(onePlusI)
		pv = pv.Add(coupon.Div(discount))
	}
	pv = pv.Add(bond.FaceValue.Div(discount))

	pv = pv.Round(PriceScale)
	if pv.LessThan(MinPrice) {
		return MinPrice, nil
	}
	return pv, nil
}

// BidAsk derives the two execution prices from a mid price. Spreads are
// symmetric-additive around mid, in basis points:
//
//	bid = mid × (1 − bidBps/10000)
//	ask = mid × (1 + askBps/10000)
func BidAsk(mid, bidBps, askBps decimal.Decimal) (bid, ask decimal.Decimal) {
	bid = mid.Mul(one.Sub(bidBps.Div(bps))).Round(PriceScale)
	ask = mid.Mul(one.Add(askBps.Div(bps))).Round(PriceScale)
	return bid, ask
}

// Price computes the full quote for a bond in one call.
func Price(bond model.Bond, yield, yearFraction decimal.Decimal, roundsElapsed int, bidBps, askBps decimal.Decimal) (Quote, error) {
	mid, err := Mid(bond, yield, yearFraction, roundsElapsed)
	if err != nil {
		return Quote{}, err
	}
	bid, ask := BidAsk(mid, bidBps, askBps)
	return Quote{Mid: mid, Bid: bid, Ask: ask}, nil
}
