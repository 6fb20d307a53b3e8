package batch

import (
	"errors"
	"fmt"
)

// ErrRunActive rejects a start request while the account already has a run
// in pending or processing state. The rejected request must not mutate the
// existing run.
var ErrRunActive = errors.New("a check run is already active for this account")

// ErrNoQuestions rejects a start request when no question x provider pair is
// in scope (no questions exist, or a retry run has nothing left to retry).
var ErrNoQuestions = errors.New("no questions to check")

// InsufficientCreditsError reports exactly how many credits the run needs
// versus what the account holds. The two figures drive a specific client
// message and must never be collapsed into generic text.
type InsufficientCreditsError struct {
	Required  int
	Available int
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: %d required, %d available", e.Required, e.Available)
}
