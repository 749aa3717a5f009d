// Package scheduler registers one-shot deferred executions of approved runs.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/agentstation/zenginsync/pkg/logging"
	"github.com/agentstation/zenginsync/pkg/zengin"
)

// NamePrefix prefixes every schedule name.
const NamePrefix = "zengin-diff-execution-"

// Name returns the deterministic schedule name for a run. Re-approval of the
// same run targets the same name and supersedes the earlier schedule.
func Name(runID string) string {
	return NamePrefix + runID
}

// Expression renders the one-shot `at()` expression for t in UTC.
func Expression(t time.Time) string {
	return "at(" + t.UTC().Format("2006-01-02T15:04:05") + ")"
}

// Scheduler registers a deferred execution.
type Scheduler interface {
	// Schedule arranges for req to be executed at the given time and returns
	// the schedule name.
	Schedule(ctx context.Context, req zengin.ExecutionRequest, at time.Time) (string, error)
}

// Entry is a registered schedule.
type Entry struct {
	Name    string
	At      time.Time
	Request zengin.ExecutionRequest
}

// RunFunc executes a request when its schedule fires.
type RunFunc func(ctx context.Context, req zengin.ExecutionRequest) error

// Local keeps schedules in process and fires them with timers. A nil RunFunc
// only records entries.
type Local struct {
	mu      sync.Mutex
	entries map[string]Entry
	timers  map[string]*time.Timer
	run     RunFunc
	now     func() time.Time
	stopped bool
	running sync.WaitGroup
}

// NewLocal returns an in-process scheduler.
func NewLocal(run RunFunc) *Local {
	return &Local{
		entries: make(map[string]Entry),
		timers:  make(map[string]*time.Timer),
		run:     run,
		now:     time.Now,
	}
}

// Schedule implements Scheduler.
func (l *Local) Schedule(ctx context.Context, req zengin.ExecutionRequest, at time.Time) (string, error) {
	name := Name(req.DiffID)
	req.Scheduled = true
	l.mu.Lock()
	defer l.mu.Unlock()

	if t, ok := l.timers[name]; ok {
		t.Stop()
		delete(l.timers, name)
	}
	l.entries[name] = Entry{Name: name, At: at.UTC(), Request: req}

	if l.run != nil && !l.stopped {
		delay := max(at.Sub(l.now()), 0)
		base := context.WithoutCancel(ctx)
		l.timers[name] = time.AfterFunc(delay, func() { l.fire(base, name) })
	}
	logging.FromContext(ctx).Info().
		Str("schedule", name).
		Time("at", at.UTC()).
		Msg("Schedule registered")
	return name, nil
}

func (l *Local) fire(ctx context.Context, name string) {
	l.mu.Lock()
	entry, ok := l.entries[name]
	if !ok || l.stopped {
		l.mu.Unlock()
		return
	}
	delete(l.entries, name)
	delete(l.timers, name)
	l.running.Add(1)
	l.mu.Unlock()
	defer l.running.Done()
	if err := l.run(ctx, entry.Request); err != nil {
		logging.FromContext(ctx).Error().Err(err).
			Str("schedule", name).
			Str("run_id", entry.Request.DiffID).
			Msg("Scheduled execution failed")
	}
}

// Entries returns the schedules that have not fired yet, ordered by time.
func (l *Local) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}

// Stop cancels every pending timer. Entries that have not fired stay
// listed by Entries.
func (l *Local) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopped = true
	for name, t := range l.timers {
		t.Stop()
		delete(l.timers, name)
	}
}

// Close stops pending timers and waits for executions already fired.
func (l *Local) Close() error {
	l.Stop()
	l.running.Wait()
	return nil
}
