package zengin

// ActionID identifies an operator action on an approval message.
type ActionID string

// Operator actions.
const (
	ActionApprove          ActionID = "approve_update"
	ActionApproveOneHour   ActionID = "approve_1h"
	ActionApproveThreeHour ActionID = "approve_3h"
	ActionApproveFiveHour  ActionID = "approve_5h"
	ActionApproveImmediate ActionID = "approve_immediate"
	ActionReject           ActionID = "reject_update"
	ActionExportCSV        ActionID = "export_csv"
)

// String returns the wire form of the action id.
func (a ActionID) String() string {
	return string(a)
}

// RelativeHours returns the delay of a relative approval button and whether
// a is one.
func (a ActionID) RelativeHours() (int, bool) {
	switch a {
	case ActionApproveOneHour:
		return 1, true
	case ActionApproveThreeHour:
		return 3, true
	case ActionApproveFiveHour:
		return 5, true
	}
	return 0, false
}

// Known reports whether a is a recognised action.
func (a ActionID) Known() bool {
	switch a {
	case ActionApprove, ActionApproveOneHour, ActionApproveThreeHour, ActionApproveFiveHour,
		ActionApproveImmediate, ActionReject, ActionExportCSV:
		return true
	}
	return false
}
