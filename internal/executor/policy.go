package executor

// Policy decides whether an applied batch is committed. A few isolated entry
// failures are tolerated; more indicate a systemic problem and the whole
// batch is rolled back.
type Policy struct {
	// MaxErrors stops the apply loop early once reached.
	MaxErrors int
	// ToleratedErrors is the largest error count that may still commit.
	ToleratedErrors int
	// ToleratedRate is the error rate below which a batch may still commit.
	ToleratedRate float64
}

// Default thresholds.
const (
	MaxErrors       = 100
	ToleratedErrors = 10
	ToleratedRate   = 0.1
)

// DefaultPolicy applies the default thresholds.
var DefaultPolicy = Policy{
	MaxErrors:       MaxErrors,
	ToleratedErrors: ToleratedErrors,
	ToleratedRate:   ToleratedRate,
}

// Commit reports whether a batch of total entries with errors failures may
// be committed.
func (p Policy) Commit(errors, total int) bool {
	if errors == 0 {
		return true
	}
	if total <= 0 {
		return false
	}
	return errors <= p.ToleratedErrors && float64(errors)/float64(total) < p.ToleratedRate
}

// Stop reports whether the apply loop must stop after errors failures.
func (p Policy) Stop(errors int) bool {
	return p.MaxErrors > 0 && errors >= p.MaxErrors
}
