package zengin

import (
	"encoding/json"
	"time"

	"github.com/agentstation/zenginsync/pkg/errors"
)

// Action is the kind of change a DiffEntry describes.
type Action string

// Diff actions.
const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// String returns the wire form of the action.
func (a Action) String() string {
	return string(a)
}

// DiffEntry is one detected difference for one EntityKey.
//
// Create carries NewData only, Delete carries OldData only and Update carries
// both. TotalAccounts and ActiveUsers hold the impact statistics of dependent
// user bank accounts and are only populated for Update and Delete.
type DiffEntry struct {
	Action        Action    `json:"action" validate:"required,oneof=create update delete"`
	Key           string    `json:"key" validate:"required"`
	OldData       *Snapshot `json:"old_data"`
	NewData       *Snapshot `json:"new_data"`
	TotalAccounts int       `json:"total_accounts" validate:"gte=0"`
	ActiveUsers   int       `json:"active_users" validate:"gte=0"`
}

// NewCreate returns a Create entry for a branch only present upstream.
func NewCreate(latest Snapshot) DiffEntry {
	return DiffEntry{Action: ActionCreate, Key: latest.Key().String(), NewData: &latest}
}

// NewUpdate returns an Update entry.
func NewUpdate(current, latest Snapshot) DiffEntry {
	return DiffEntry{Action: ActionUpdate, Key: latest.Key().String(), OldData: &current, NewData: &latest}
}

// NewDelete returns a Delete entry for a branch no longer published upstream.
func NewDelete(current Snapshot) DiffEntry {
	return DiffEntry{Action: ActionDelete, Key: current.Key().String(), OldData: &current}
}

// Snapshot returns the most recent state carried by the entry: the new data
// when present, otherwise the old data.
func (d DiffEntry) Snapshot() Snapshot {
	if d.NewData != nil {
		return *d.NewData
	}
	if d.OldData != nil {
		return *d.OldData
	}
	return Snapshot{}
}

// EntityKey returns the parsed identity of the entry.
func (d DiffEntry) EntityKey() EntityKey {
	return d.Snapshot().Key()
}

// HasImpact reports whether impact statistics apply to the entry.
func (d DiffEntry) HasImpact() bool {
	return d.Action == ActionUpdate || d.Action == ActionDelete
}

// DecodeEntries decodes a JSON array of diff entries and validates every entry.
// A malformed entry rejects the whole payload.
func DecodeEntries(data []byte) ([]DiffEntry, error) {
	var entries []DiffEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, errors.WrapParse("json", "diff entries", err)
	}
	for i := range entries {
		if err := ValidateEntry(entries[i]); err != nil {
			return nil, errors.WrapResource("decode", "diff entry", entries[i].Key, err)
		}
	}
	return entries, nil
}

// DiffBatch is the complete result of one detection run.
type DiffBatch struct {
	Entries      []DiffEntry `json:"diffs"`
	Summary      string      `json:"summary"`
	TotalChanges int         `json:"total_changes"`
	CreatedAt    time.Time   `json:"created_at"`
}

// Empty reports whether the batch carries no change.
func (b *DiffBatch) Empty() bool {
	return b == nil || len(b.Entries) == 0
}

// Counts holds per-action totals and aggregated impact of a batch.
type Counts struct {
	Creates       int `json:"creates"`
	Updates       int `json:"updates"`
	Deletes       int `json:"deletes"`
	TotalAccounts int `json:"total_accounts"`
	ActiveUsers   int `json:"active_users"`
}

// CountEntries tallies entries by action and sums impact over Update and Delete entries.
func CountEntries(entries []DiffEntry) Counts {
	var c Counts
	for _, e := range entries {
		switch e.Action {
		case ActionCreate:
			c.Creates++
		case ActionUpdate:
			c.Updates++
		case ActionDelete:
			c.Deletes++
		}
		if e.HasImpact() {
			c.TotalAccounts += e.TotalAccounts
			c.ActiveUsers += e.ActiveUsers
		}
	}
	return c
}

// ExcerptEntry is the compact form of a DiffEntry kept inline on a RunRecord.
type ExcerptEntry struct {
	Action     Action `json:"action"`
	Key        string `json:"key"`
	SwiftCode  string `json:"swift_code"`
	BankName   string `json:"bank_name"`
	BranchCode string `json:"branch_code"`
	BranchName string `json:"branch_name"`
}

// ExcerptSize is the number of entries kept inline on a RunRecord.
const ExcerptSize = 10

// Excerpt returns the compact form of the first ExcerptSize entries.
func Excerpt(entries []DiffEntry) []ExcerptEntry {
	n := min(len(entries), ExcerptSize)
	out := make([]ExcerptEntry, 0, n)
	for _, e := range entries[:n] {
		s := e.Snapshot()
		out = append(out, ExcerptEntry{
			Action:     e.Action,
			Key:        e.Key,
			SwiftCode:  s.SwiftCode,
			BankName:   s.BankName,
			BranchCode: s.BranchCode,
			BranchName: s.BranchName,
		})
	}
	return out
}
