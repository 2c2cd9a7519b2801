package custody

import (
	"errors"
	"fmt"

	"github.com/odyotek/custody-core/internal/device"
)

// Sentinel errors for the custody package.
var (
	// ErrIllegalTransition is returned when a movement does not follow a
	// legal edge of the state machine. Matchable with errors.Is against
	// the richer IllegalTransitionError.
	ErrIllegalTransition = errors.New("custody: illegal transition")

	// ErrConcurrentModification is returned when the optimistic version
	// check fails: another movement committed between read and write.
	ErrConcurrentModification = errors.New("custody: concurrent modification")

	// ErrNotesRequired is returned when a manual correction arrives
	// without explanatory notes.
	ErrNotesRequired = errors.New("custody: manual correction requires notes")

	// ErrInvalidOperation is returned when the operation value is not
	// recognised.
	ErrInvalidOperation = errors.New("custody: invalid operation")
)

// IllegalTransitionError carries the rejected edge.
type IllegalTransitionError struct {
	From device.PossessionState
	To   device.PossessionState
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("custody: illegal transition %s → %s", e.From, e.To)
}

// Is makes errors.Is(err, ErrIllegalTransition) match.
func (e *IllegalTransitionError) Is(target error) bool {
	return target == ErrIllegalTransition
}
