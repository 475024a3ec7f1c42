package store_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/misionbonos/sim-engine/internal/model"
	"github.com/misionbonos/sim-engine/internal/store"
)

func TestMemoryStore_LoadMissingReturnsDefaults(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	doc, err := s.Load(ctx, "NEW-01")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	g := doc.Game
	if g.Code != "NEW-01" {
		t.Errorf("expected code NEW-01, got %s", g.Code)
	}
	if g.Phase != model.PhaseLobby || g.CurrentRound != 1 || g.TotalRounds != 3 {
		t.Errorf("unexpected defaults: %+v", g)
	}
	if !g.InitialCash.Equal(decimal.NewFromInt(1_000_000)) {
		t.Errorf("expected 1000000 initial cash, got %s", g.InitialCash)
	}

	// A missing code is not created by loading it.
	codes, err := s.ListCodes(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(codes) != 0 {
		t.Errorf("load must not persist, got codes %v", codes)
	}
}

func TestMemoryStore_SaveLoadRoundTrip(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	doc := model.NewGameDocument("RT-01")
	doc.Teams = append(doc.Teams, model.Team{ID: "T1", Name: "Alfa", Active: true, InitialCash: doc.Game.InitialCash})
	doc.Orders = append(doc.Orders, model.Order{
		ID: "o1", TeamID: "T1", BondID: "B1", Side: model.SideBuy,
		Quantity: 5, Price: decimal.NewFromFloat(1001.25), Fees: decimal.NewFromFloat(5.01), Round: 1,
	})
	if err := s.Save(ctx, doc); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := s.Load(ctx, "RT-01")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(got.Teams) != 1 || got.Teams[0].Name != "Alfa" {
		t.Errorf("teams did not round-trip: %+v", got.Teams)
	}
	if len(got.Orders) != 1 || !got.Orders[0].Price.Equal(decimal.NewFromFloat(1001.25)) {
		t.Errorf("orders did not round-trip: %+v", got.Orders)
	}
}

func TestMemoryStore_LoadedCopyIsIsolated(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	doc := model.NewGameDocument("ISO-01")
	if err := s.Save(ctx, doc); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	// Mutating a loaded copy must not leak into the store.
	first, _ := s.Load(ctx, "ISO-01")
	first.Teams = append(first.Teams, model.Team{ID: "T1", Name: "Sombra"})
	first.Game.CurrentRound = 99

	second, _ := s.Load(ctx, "ISO-01")
	if len(second.Teams) != 0 {
		t.Errorf("unsaved team leaked into the store: %+v", second.Teams)
	}
	if second.Game.CurrentRound != 1 {
		t.Errorf("unsaved round leaked into the store: %d", second.Game.CurrentRound)
	}

	// Mutating the saved document after Save must not change stored state.
	doc.Game.CurrentRound = 42
	third, _ := s.Load(ctx, "ISO-01")
	if third.Game.CurrentRound != 1 {
		t.Errorf("saved copy not decoupled from caller: %d", third.Game.CurrentRound)
	}
}

func TestMemoryStore_ListCodesSorted(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	for _, code := range []string{"ZZ-9", "AA-1", "MM-5"} {
		if err := s.Save(ctx, model.NewGameDocument(code)); err != nil {
			t.Fatalf("save %s failed: %v", code, err)
		}
	}
	codes, err := s.ListCodes(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	want := []string{"AA-1", "MM-5", "ZZ-9"}
	if len(codes) != len(want) {
		t.Fatalf("expected %d codes, got %v", len(want), codes)
	}
	for i := range want {
		if codes[i] != want[i] {
			t.Errorf("codes not sorted: got %v want %v", codes, want)
			break
		}
	}
}
