package engine

import (
	"errors"
	"fmt"

	"github.com/misionbonos/sim-engine/internal/model"
)

// Business rule violations. An operation rejected with one of these leaves
// the game document untouched — no partial fee or position effect exists.
var (
	// ErrNoScenarioLoaded is returned when prices are published with no
	// bonds loaded.
	ErrNoScenarioLoaded = errors.New("engine: no scenario loaded")

	// ErrNoPriceForRound is returned when an order references a bond with
	// no published price in the current round.
	ErrNoPriceForRound = errors.New("engine: no published price for bond in current round")

	// ErrInsufficientCash is returned when a BUY exceeds the team's
	// reconstructed cash.
	ErrInsufficientCash = errors.New("engine: insufficient cash")

	// ErrInsufficientInventory is returned when a SELL exceeds the team's
	// reconstructed holdings. Short selling is not allowed.
	ErrInsufficientInventory = errors.New("engine: insufficient inventory")
)

// Lookup failures.
var (
	ErrTeamNotFound = errors.New("engine: team not found")
	ErrTeamExists   = errors.New("engine: team name already registered")
	ErrBadPIN       = errors.New("engine: incorrect PIN")
)

// StateError reports a phase transition or phase-gated operation that is not
// permitted from the game's current phase. The document is unchanged.
type StateError struct {
	Action string
	Phase  model.Phase
}

func (e *StateError) Error() string {
	return fmt.Sprintf("engine: %s not permitted in phase %s", e.Action, e.Phase)
}

// ValidationError reports malformed operation input (e.g. a non-positive
// quantity). Rejected before any mutation.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func validationf(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}
