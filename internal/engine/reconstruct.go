package engine

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/misionbonos/sim-engine/internal/model"
)

// Replay derives a team's cash and holdings from the document's recorded
// history. It is a pure fold: initial cash, plus every ledger delta, plus
// every order's cash and quantity effect in recorded sequence. Replaying the
// same immutable history always yields the same result; no balance is read
// from or written to the document.
func Replay(doc *model.GameDocument, teamID string) (model.Portfolio, error) {
	team := doc.TeamByID(teamID)
	if team == nil {
		return model.Portfolio{}, ErrTeamNotFound
	}

	cash := team.InitialCash
	positions := make(map[string]int64)

	for _, l := range doc.Ledger {
		if l.TeamID == teamID {
			cash = cash.Add(l.CashDelta)
		}
	}

	for _, o := range doc.Orders {
		if o.TeamID != teamID {
			continue
		}
		gross := o.Price.Mul(decimal.NewFromInt(o.Quantity))
		switch o.Side {
		case model.SideBuy:
			positions[o.BondID] += o.Quantity
			cash = cash.Sub(gross).Sub(o.Fees)
		case model.SideSell:
			positions[o.BondID] -= o.Quantity
			cash = cash.Add(gross).Sub(o.Fees)
		}
	}

	return model.Portfolio{TeamID: teamID, Cash: cash, Positions: positions}, nil
}

// Standings ranks every team by total portfolio value at the given round's
// mid prices. Bonds with no published price for the round contribute zero.
// Ties keep registration order, so scoring is deterministic.
func Standings(doc *model.GameDocument, round int) ([]model.Standing, error) {
	mids := make(map[string]decimal.Decimal)
	for _, p := range doc.Prices {
		if p.Round == round {
			mids[p.BondID] = p.Mid
		}
	}

	rows := make([]model.Standing, 0, len(doc.Teams))
	for _, t := range doc.Teams {
		pf, err := Replay(doc, t.ID)
		if err != nil {
			return nil, err
		}

		posValue := decimal.Zero
		for bondID, qty := range pf.Positions {
			if mid, ok := mids[bondID]; ok {
				posValue = posValue.Add(mid.Mul(decimal.NewFromInt(qty)))
			}
		}

		rows = append(rows, model.Standing{
			TeamID:        t.ID,
			TeamName:      t.Name,
			Cash:          pf.Cash,
			PositionValue: posValue,
			TotalValue:    pf.Cash.Add(posValue),
		})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].TotalValue.GreaterThan(rows[j].TotalValue)
	})
	for i := range rows {
		rows[i].Rank = i + 1
	}
	return rows, nil
}
