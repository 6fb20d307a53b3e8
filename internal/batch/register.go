package batch

import "sync"

// Register is the single-slot active-run record keyed by account id. It is
// the in-process half of the one-active-run-per-account rule; the run store
// remains the durable source of truth across restarts.
type Register struct {
	mu     sync.Mutex
	active map[string]string
}

func NewRegister() *Register {
	return &Register{active: make(map[string]string)}
}

// Acquire claims the account's slot for runID. Returns false when another
// run already holds it.
func (r *Register) Acquire(accountID, runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, held := r.active[accountID]; held {
		return false
	}
	r.active[accountID] = runID
	return true
}

// Release frees the account's slot if runID holds it.
func (r *Register) Release(accountID, runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active[accountID] == runID {
		delete(r.active, accountID)
	}
}

// ActiveRun reports the run currently holding the account's slot.
func (r *Register) ActiveRun(accountID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	runID, held := r.active[accountID]
	return runID, held
}
