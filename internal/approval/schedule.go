package approval

import (
	"time"

	"github.com/agentstation/zenginsync/pkg/errors"
	"github.com/agentstation/zenginsync/pkg/zengin"
)

// Cutover is a daily wall-clock time.
type Cutover struct {
	Hour   int
	Minute int
}

// DefaultCutover is the fixed daily execution time.
var DefaultCutover = Cutover{Hour: 23}

// ParseCutover parses an HH:MM time of day.
func ParseCutover(s string) (Cutover, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return Cutover{}, errors.NewValidationError("cutover_time", s, "expected HH:MM")
	}
	return Cutover{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// String renders the cutover as HH:MM.
func (c Cutover) String() string {
	return time.Date(0, 1, 1, c.Hour, c.Minute, 0, 0, time.UTC).Format("15:04")
}

// Next returns the next occurrence of the cutover in loc strictly after now.
// A cutover already reached today rolls to the next calendar day.
func (c Cutover) Next(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = zengin.Tokyo
	}
	local := now.In(loc)
	target := time.Date(local.Year(), local.Month(), local.Day(), c.Hour, c.Minute, 0, 0, loc)
	if !target.After(local) {
		target = time.Date(local.Year(), local.Month(), local.Day()+1, c.Hour, c.Minute, 0, 0, loc)
	}
	return target
}

// DefaultRelativeHours applies to relative approvals that carry no delay.
const DefaultRelativeHours = 1

// relativeHours resolves the delay of a relative approval. An explicit delay
// on the action wins over the one implied by its id.
func relativeHours(a Action) int {
	if a.Hours > 0 {
		return a.Hours
	}
	if h, ok := a.ID.RelativeHours(); ok {
		return h
	}
	return DefaultRelativeHours
}

// Target computes when an approved run executes and how it was chosen.
func Target(a Action, now time.Time, cutover Cutover, loc *time.Location) (time.Time, zengin.ExecutionType) {
	if a.ID == zengin.ActionApprove {
		return cutover.Next(now, loc), zengin.ExecutionFixed
	}
	return now.Add(time.Duration(relativeHours(a)) * time.Hour), zengin.ExecutionRelative
}
