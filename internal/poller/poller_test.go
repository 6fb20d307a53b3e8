package poller_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerves76/promptreviews-backend/internal/poller"
	"github.com/nerves76/promptreviews-backend/internal/storage/models"
)

const testAccount = "acct-1"

// fakeSource serves a mutable run snapshot and counts polls.
type fakeSource struct {
	mu    sync.Mutex
	run   *models.BatchRun
	polls int
}

func (f *fakeSource) Status(accountID, runID string) (*models.BatchRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.run == nil {
		return nil, nil
	}
	copied := *f.run
	return &copied, nil
}

func (f *fakeSource) set(run *models.BatchRun) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.run = run
}

func (f *fakeSource) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

type fakeRecovery struct {
	recent *models.BatchRun
}

func (f *fakeRecovery) GetRecentRunWithFailures(accountID string, since time.Time) (*models.BatchRun, error) {
	return f.recent, nil
}

func processingRun(id string, processed, total int) *models.BatchRun {
	return &models.BatchRun{
		ID:                 id,
		AccountID:          testAccount,
		Status:             models.RunProcessing,
		TotalQuestions:     total,
		ProcessedQuestions: processed,
		CreatedAt:          time.Now(),
	}
}

func newPoller(source *fakeSource, recovery *fakeRecovery, opts ...poller.Option) *poller.Poller {
	base := []poller.Option{poller.WithInterval(5 * time.Millisecond)}
	return poller.New(source, recovery, testAccount, append(base, opts...)...)
}

func TestWatch_StopsOnTerminalWithSingleNotification(t *testing.T) {
	source := &fakeSource{}
	source.set(processingRun("run-1", 1, 3))

	p := newPoller(source, &fakeRecovery{})
	p.Watch("run-1")
	defer p.Stop()

	require.Eventually(t, func() bool {
		current := p.Current()
		return current != nil && current.ProcessedQuestions == 1
	}, time.Second, time.Millisecond)
	assert.Nil(t, p.Notification())

	done := processingRun("run-1", 3, 3)
	done.Status = models.RunCompleted
	done.SuccessfulChecks = 3
	source.set(done)

	require.Eventually(t, func() bool {
		return p.Notification() != nil
	}, time.Second, time.Millisecond)

	note := p.Notification()
	assert.Equal(t, poller.NotifySuccess, note.Kind)
	assert.Equal(t, "run-1", note.RunID)

	// Polling stops at the terminal snapshot.
	settled := source.pollCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, settled, source.pollCount())
}

func TestWatch_PartialFailureNotification(t *testing.T) {
	source := &fakeSource{}
	done := processingRun("run-1", 3, 3)
	done.Status = models.RunCompleted
	done.SuccessfulChecks = 2
	done.FailedChecks = 1
	done.CreditsRefunded = 1
	source.set(done)

	p := newPoller(source, &fakeRecovery{})
	p.Watch("run-1")
	defer p.Stop()

	require.Eventually(t, func() bool {
		return p.Notification() != nil
	}, time.Second, time.Millisecond)

	note := p.Notification()
	assert.Equal(t, poller.NotifyPartialFailure, note.Kind)
	assert.Equal(t, 1, note.FailedChecks)
	assert.Equal(t, 1, note.CreditsRefunded)
	assert.True(t, p.RetryAvailable())
}

func TestWatch_FailedRunCarriesErrorMessage(t *testing.T) {
	source := &fakeSource{}
	failed := processingRun("run-1", 1, 3)
	failed.Status = models.RunFailed
	failed.ErrorMessage = "run cancelled before completion"
	source.set(failed)

	p := newPoller(source, &fakeRecovery{})
	p.Watch("run-1")
	defer p.Stop()

	require.Eventually(t, func() bool {
		return p.Notification() != nil
	}, time.Second, time.Millisecond)

	note := p.Notification()
	assert.Equal(t, poller.NotifyPartialFailure, note.Kind)
	assert.Equal(t, "run cancelled before completion", note.ErrorMessage)
}

func TestDismiss_IsDisplayOnly(t *testing.T) {
	source := &fakeSource{}
	done := processingRun("run-1", 3, 3)
	done.Status = models.RunCompleted
	done.FailedChecks = 2
	source.set(done)

	p := newPoller(source, &fakeRecovery{})
	p.Watch("run-1")
	defer p.Stop()

	require.Eventually(t, func() bool {
		return p.Notification() != nil
	}, time.Second, time.Millisecond)

	p.Dismiss()
	assert.Nil(t, p.Notification())

	// The run snapshot and the retry affordance survive the dismissal.
	current := p.Current()
	require.NotNil(t, current)
	assert.Equal(t, 2, current.FailedChecks)
	assert.True(t, p.RetryAvailable())
}

func TestWatch_OnTerminalFiresOnce(t *testing.T) {
	source := &fakeSource{}
	done := processingRun("run-1", 2, 2)
	done.Status = models.RunCompleted
	source.set(done)

	var mu sync.Mutex
	fired := 0
	p := newPoller(source, &fakeRecovery{}, poller.WithOnTerminal(func(run *models.BatchRun) {
		mu.Lock()
		fired++
		mu.Unlock()
	}))
	p.Watch("run-1")
	defer p.Stop()

	require.Eventually(t, func() bool {
		return p.Notification() != nil
	}, time.Second, time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, fired)
}

func TestResume_ActiveRunResumesPolling(t *testing.T) {
	source := &fakeSource{}
	source.set(processingRun("run-1", 1, 4))

	p := newPoller(source, &fakeRecovery{})
	require.NoError(t, p.Resume(context.Background()))
	defer p.Stop()

	require.Eventually(t, func() bool {
		current := p.Current()
		return current != nil && current.ID == "run-1"
	}, time.Second, time.Millisecond)
	assert.Nil(t, p.Notification())
}

func TestResume_RecoversRecentFailureBanner(t *testing.T) {
	source := &fakeSource{} // no run at all
	recent := processingRun("run-0", 4, 4)
	recent.Status = models.RunCompleted
	recent.FailedChecks = 2

	p := newPoller(source, &fakeRecovery{recent: recent})
	require.NoError(t, p.Resume(context.Background()))

	note := p.Notification()
	require.NotNil(t, note)
	assert.Equal(t, poller.NotifyPartialFailure, note.Kind)
	assert.Equal(t, "run-0", note.RunID)
	assert.True(t, p.RetryAvailable())
}

func TestResume_NothingToRecover(t *testing.T) {
	p := newPoller(&fakeSource{}, &fakeRecovery{})
	require.NoError(t, p.Resume(context.Background()))

	assert.Nil(t, p.Current())
	assert.Nil(t, p.Notification())
	assert.False(t, p.RetryAvailable())
}
