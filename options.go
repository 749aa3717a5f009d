package zenginsync

import (
	"time"

	"github.com/agentstation/zenginsync/internal/approval"
	"github.com/agentstation/zenginsync/internal/blob"
	"github.com/agentstation/zenginsync/internal/dispatch"
	"github.com/agentstation/zenginsync/internal/executor"
	"github.com/agentstation/zenginsync/internal/lock"
	"github.com/agentstation/zenginsync/internal/notify"
	"github.com/agentstation/zenginsync/internal/retry"
	"github.com/agentstation/zenginsync/internal/runstore"
	"github.com/agentstation/zenginsync/internal/scheduler"
	"github.com/agentstation/zenginsync/pkg/differ"
	"github.com/agentstation/zenginsync/pkg/errors"
	"github.com/agentstation/zenginsync/pkg/zengin"
)

// Defaults.
const (
	// DefaultEnvironment namespaces payload keys and run records.
	DefaultEnvironment = "dev"

	// DefaultDuplicateWindow is how far back a pending run suppresses a new detection.
	DefaultDuplicateWindow = 5 * time.Minute

	// DefaultLockTTL bounds how long a detection holds the run lock.
	DefaultLockTTL = 10 * time.Minute
)

// Option is a function that configures a Client.
type Option func(*options) error

// options holds the collaborators and tunables of a Client.
type options struct {
	source     Source
	mirror     Mirror
	database   executor.Database
	runs       runstore.Store
	blobs      blob.Store
	notifier   notify.Notifier
	scheduler  scheduler.Scheduler
	dispatcher dispatch.Dispatcher
	locker     lock.Locker

	environment     string
	cutover         approval.Cutover
	location        *time.Location
	duplicateWindow time.Duration
	lookupWindow    time.Duration
	lockTTL         time.Duration
	retry           retry.Policy
	policy          executor.Policy
	differOptions   []differ.Option
	now             func() time.Time
}

// defaults returns options backed by in-process collaborators.
func defaults() *options {
	return &options{
		runs:            runstore.NewMemory(),
		blobs:           blob.NewMemory(),
		notifier:        notify.NewMemory(),
		locker:          lock.Noop{},
		environment:     DefaultEnvironment,
		cutover:         approval.DefaultCutover,
		location:        zengin.Tokyo,
		duplicateWindow: DefaultDuplicateWindow,
		lookupWindow:    approval.DefaultLookupWindow,
		lockTTL:         DefaultLockTTL,
		retry:           retry.DefaultPolicy,
		policy:          executor.DefaultPolicy,
		now:             time.Now,
	}
}

// apply applies the given options in order.
func (o *options) apply(opts ...Option) (*options, error) {
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func required(field string, missing bool) error {
	if missing {
		return &errors.ValidationError{Field: field, Message: "cannot be nil"}
	}
	return nil
}

// WithSource sets the authoritative dataset.
func WithSource(src Source) Option {
	return func(o *options) error {
		o.source = src
		return required("source", src == nil)
	}
}

// WithMirror sets the local table. A mirror that can also open transactions
// serves as the apply database unless WithDatabase is given.
func WithMirror(m Mirror) Option {
	return func(o *options) error {
		o.mirror = m
		return required("mirror", m == nil)
	}
}

// WithDatabase sets the database the apply engine writes to.
func WithDatabase(db executor.Database) Option {
	return func(o *options) error {
		o.database = db
		return required("database", db == nil)
	}
}

// WithRunStore sets the run record store.
func WithRunStore(s runstore.Store) Option {
	return func(o *options) error {
		o.runs = s
		return required("run store", s == nil)
	}
}

// WithBlobStore sets the store holding full diff batches.
func WithBlobStore(s blob.Store) Option {
	return func(o *options) error {
		o.blobs = s
		return required("blob store", s == nil)
	}
}

// WithNotifier sets the chat notifier.
func WithNotifier(n notify.Notifier) Option {
	return func(o *options) error {
		o.notifier = n
		return required("notifier", n == nil)
	}
}

// WithScheduler sets the deferred execution scheduler.
func WithScheduler(s scheduler.Scheduler) Option {
	return func(o *options) error {
		o.scheduler = s
		return required("scheduler", s == nil)
	}
}

// WithDispatcher sets the immediate execution dispatcher.
func WithDispatcher(d dispatch.Dispatcher) Option {
	return func(o *options) error {
		o.dispatcher = d
		return required("dispatcher", d == nil)
	}
}

// WithLocker serializes detections through l.
func WithLocker(l lock.Locker) Option {
	return func(o *options) error {
		o.locker = l
		return required("locker", l == nil)
	}
}

// WithEnvironment sets the environment name.
func WithEnvironment(env string) Option {
	return func(o *options) error {
		if env == "" {
			return &errors.ValidationError{Field: "environment", Message: "cannot be empty"}
		}
		o.environment = env
		return nil
	}
}

// WithCutover sets the daily time of fixed scheduled executions.
func WithCutover(c approval.Cutover) Option {
	return func(o *options) error {
		if c.Hour < 0 || c.Hour > 23 || c.Minute < 0 || c.Minute > 59 {
			return errors.NewValidationError("cutover", c.String(), "out of range")
		}
		o.cutover = c
		return nil
	}
}

// WithLocation sets the time zone of the cutover.
func WithLocation(loc *time.Location) Option {
	return func(o *options) error {
		o.location = loc
		return required("location", loc == nil)
	}
}

// WithDuplicateWindow sets how far back a pending run suppresses a new
// detection. Zero disables the check.
func WithDuplicateWindow(d time.Duration) Option {
	return func(o *options) error {
		if d < 0 {
			return errors.NewValidationError("duplicate_run_window", d, "cannot be negative")
		}
		o.duplicateWindow = d
		return nil
	}
}

// WithLookupWindow sets the fallback search window around an approval
// message timestamp.
func WithLookupWindow(d time.Duration) Option {
	return func(o *options) error {
		if d <= 0 {
			return errors.NewValidationError("lookup_window", d, "must be positive")
		}
		o.lookupWindow = d
		return nil
	}
}

// WithLockTTL sets how long a detection holds its lock.
func WithLockTTL(d time.Duration) Option {
	return func(o *options) error {
		if d <= 0 {
			return errors.NewValidationError("lock_ttl", d, "must be positive")
		}
		o.lockTTL = d
		return nil
	}
}

// WithRetry sets the retry policy of completion notifications.
func WithRetry(p retry.Policy) Option {
	return func(o *options) error {
		if p.Attempts < 1 {
			return errors.NewValidationError("slack_api_retry_count", p.Attempts, "must be at least 1")
		}
		o.retry = p
		return nil
	}
}

// WithPolicy sets the commit policy of the apply engine.
func WithPolicy(p executor.Policy) Option {
	return func(o *options) error {
		o.policy = p
		return nil
	}
}

// WithDifferOptions configures the comparison rules.
func WithDifferOptions(opts ...differ.Option) Option {
	return func(o *options) error {
		o.differOptions = append(o.differOptions, opts...)
		return nil
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) error {
		o.now = now
		return required("clock", now == nil)
	}
}
