package poller

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nerves76/promptreviews-backend/internal/metrics"
	"github.com/nerves76/promptreviews-backend/internal/storage/models"
	"github.com/nerves76/promptreviews-backend/pkg/logger"
)

// DefaultInterval is how often an in-flight run is polled for status.
const DefaultInterval = 3 * time.Second

// DefaultLookback bounds how far Resume searches for a recently completed
// run with failures, so the retry affordance survives a restart.
const DefaultLookback = 2 * time.Hour

// StatusSource serves run status snapshots. *batch.Service satisfies it.
type StatusSource interface {
	Status(accountID, runID string) (*models.BatchRun, error)
}

// RecoveryStore finds terminal runs with failures for reload recovery.
// *sqlite.Client satisfies it.
type RecoveryStore interface {
	GetRecentRunWithFailures(accountID string, since time.Time) (*models.BatchRun, error)
}

type NotificationKind string

const (
	NotifySuccess        NotificationKind = "success"
	NotifyPartialFailure NotificationKind = "partial_failure"
)

// Notification is the single banner emitted when a watched run reaches a
// terminal state. It stays visible until explicitly dismissed; dismissal is
// purely a display concern and never touches the run itself.
type Notification struct {
	Kind            NotificationKind
	RunID           string
	FailedChecks    int
	CreditsRefunded int
	ErrorMessage    string
}

// Poller watches one account's active batch run without holding a
// connection: a fixed-interval status fetch that replaces the local snapshot
// each tick and stops itself on a terminal transition.
type Poller struct {
	source   StatusSource
	recovery RecoveryStore

	accountID string
	interval  time.Duration
	lookback  time.Duration

	// onTerminal fires exactly once per watched run, after the final
	// snapshot is stored. It is the refetch trigger for the aggregation
	// pipeline.
	onTerminal func(run *models.BatchRun)

	mu           sync.Mutex
	current      *models.BatchRun
	notification *Notification
	cancel       context.CancelFunc
	done         chan struct{}
}

type Option func(*Poller)

func WithInterval(d time.Duration) Option {
	return func(p *Poller) { p.interval = d }
}

func WithLookback(d time.Duration) Option {
	return func(p *Poller) { p.lookback = d }
}

func WithOnTerminal(fn func(run *models.BatchRun)) Option {
	return func(p *Poller) { p.onTerminal = fn }
}

func New(source StatusSource, recovery RecoveryStore, accountID string, opts ...Option) *Poller {
	p := &Poller{
		source:    source,
		recovery:  recovery,
		accountID: accountID,
		interval:  DefaultInterval,
		lookback:  DefaultLookback,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Watch starts polling the given run, replacing any previous watch.
func (p *Poller) Watch(runID string) {
	p.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	p.mu.Lock()
	p.cancel = cancel
	p.done = done
	p.notification = nil
	p.mu.Unlock()

	go p.loop(ctx, runID, done)
}

// Stop cancels the polling loop. It does not cancel the orchestrator's run;
// the run finishes on its own and is picked up by the next Resume.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (p *Poller) loop(ctx context.Context, runID string, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if terminal := p.tick(runID); terminal {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Poller) tick(runID string) bool {
	metrics.PollTicks.Inc()

	run, err := p.source.Status(p.accountID, runID)
	if err != nil {
		logger.Warn("Status poll failed", zap.String("run_id", runID), zap.Error(err))
		return false
	}
	if run == nil {
		return false
	}

	p.mu.Lock()
	p.current = run
	p.mu.Unlock()

	if !run.Status.Terminal() {
		return false
	}

	p.mu.Lock()
	p.notification = buildNotification(run)
	p.mu.Unlock()

	if p.onTerminal != nil {
		p.onTerminal(run)
	}

	logger.Info("Run reached terminal state",
		zap.String("run_id", run.ID),
		zap.String("status", string(run.Status)),
		zap.Int("failed_checks", run.FailedChecks),
	)

	return true
}

func buildNotification(run *models.BatchRun) *Notification {
	note := &Notification{
		RunID:           run.ID,
		FailedChecks:    run.FailedChecks,
		CreditsRefunded: run.CreditsRefunded,
	}

	if run.Status == models.RunFailed {
		note.Kind = NotifyPartialFailure
		note.ErrorMessage = run.ErrorMessage
		return note
	}

	if run.FailedChecks == 0 {
		note.Kind = NotifySuccess
	} else {
		note.Kind = NotifyPartialFailure
	}
	return note
}

// Resume recovers poller state after a restart: an active run resumes
// polling, and failing that, a terminal run with failures inside the
// look-back window restores the retry banner.
func (p *Poller) Resume(ctx context.Context) error {
	run, err := p.source.Status(p.accountID, "")
	if err != nil {
		return err
	}

	if run != nil && run.Status.Active() {
		p.Watch(run.ID)
		return nil
	}

	recent, err := p.recovery.GetRecentRunWithFailures(p.accountID, time.Now().Add(-p.lookback))
	if err != nil {
		return err
	}
	if recent != nil {
		p.mu.Lock()
		p.current = recent
		p.notification = buildNotification(recent)
		p.mu.Unlock()
	}

	return nil
}

// Current returns the last fetched run snapshot.
func (p *Poller) Current() *models.BatchRun {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current == nil {
		return nil
	}
	snapshot := *p.current
	return &snapshot
}

// Notification returns the undismissed terminal banner, if any.
func (p *Poller) Notification() *Notification {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.notification == nil {
		return nil
	}
	note := *p.notification
	return &note
}

// Dismiss hides the banner. Display-only: the underlying run is untouched.
func (p *Poller) Dismiss() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notification = nil
}

// RetryAvailable reports whether the displayed run is terminal with failed
// checks, which is when a retry scoped to those failures may be offered.
func (p *Poller) RetryAvailable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.current != nil && p.current.Status.Terminal() && p.current.FailedChecks > 0
}
