// Package zengin defines the bank/branch reference data model shared by the
// diff detector, the approval workflow and the apply engine.
//
// A bank branch is identified by an EntityKey made of the four digit bank
// (swift) code and the three digit branch code. Detection produces a DiffBatch
// of DiffEntry values which travel through the bulk payload store, the run
// status record and finally the apply engine.
package zengin

import (
	"strings"

	"github.com/agentstation/zenginsync/pkg/errors"
)

// HeadOfficeBranchCode is used for banks published without any branch.
const HeadOfficeBranchCode = "001"

// EntityKey uniquely identifies a bank/branch pair.
type EntityKey struct {
	SwiftCode  string `json:"swift_code"`
	BranchCode string `json:"branch_code"`
}

// String returns the key in its "swift-branch" wire form.
func (k EntityKey) String() string {
	return k.SwiftCode + "-" + k.BranchCode
}

// Less orders keys by bank code, then branch code.
func (k EntityKey) Less(other EntityKey) bool {
	if k.SwiftCode != other.SwiftCode {
		return k.SwiftCode < other.SwiftCode
	}
	return k.BranchCode < other.BranchCode
}

// ParseKey parses the "swift-branch" wire form of a key.
func ParseKey(s string) (EntityKey, error) {
	swift, branch, ok := strings.Cut(s, "-")
	if !ok || swift == "" || branch == "" {
		return EntityKey{}, errors.NewValidationError("key", s, "expected <swift_code>-<branch_code>")
	}
	return EntityKey{SwiftCode: swift, BranchCode: branch}, nil
}

// Snapshot is the monitored state of one bank branch.
type Snapshot struct {
	SwiftCode      string `json:"swift_code" validate:"required"`
	BankName       string `json:"bank_name"`
	BankNameKana   string `json:"bank_name_kana"`
	BranchCode     string `json:"branch_code" validate:"required"`
	BranchName     string `json:"branch_name"`
	BranchNameKana string `json:"branch_name_kana"`
}

// Key returns the identity of the snapshot.
func (s Snapshot) Key() EntityKey {
	return EntityKey{SwiftCode: s.SwiftCode, BranchCode: s.BranchCode}
}

// Field names of the monitored snapshot attributes, in comparison order.
const (
	FieldBankName       = "bank_name"
	FieldBankNameKana   = "bank_name_kana"
	FieldBranchName     = "branch_name"
	FieldBranchNameKana = "branch_name_kana"
)

// MonitoredFields lists the attributes compared by the diff detector.
var MonitoredFields = []string{FieldBankName, FieldBankNameKana, FieldBranchName, FieldBranchNameKana}

// Field returns the value of a monitored attribute by name.
func (s Snapshot) Field(name string) string {
	switch name {
	case FieldBankName:
		return s.BankName
	case FieldBankNameKana:
		return s.BankNameKana
	case FieldBranchName:
		return s.BranchName
	case FieldBranchNameKana:
		return s.BranchNameKana
	default:
		return ""
	}
}
