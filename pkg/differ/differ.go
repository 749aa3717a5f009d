// Package differ compares the mirror copy of the bank/branch table with the
// authoritative dataset and reports creates, updates and deletes.
//
// Comparison is not byte equality. Kana readings are folded to half-width
// katakana before comparison and branch names treat the suffixes 支店, 支所 and
// 出張所 as synonyms when the base name matches.
package differ

import (
	"strings"

	"github.com/agentstation/zenginsync/pkg/zengin"
)

// Differ handles change detection between the mirror and the authoritative dataset.
type Differ interface {
	// Snapshots compares two datasets keyed by EntityKey and returns the changes
	Snapshots(current, latest []zengin.Snapshot) *Changeset

	// Equivalent reports whether two snapshots of the same key need no update
	Equivalent(current, latest zengin.Snapshot) bool

	// Changes lists the monitored fields that differ under the equivalence rules
	Changes(current, latest zengin.Snapshot) []FieldChange
}

// differ is the default implementation of Differ.
type differ struct {
	ignoreFields  map[string]bool
	suffixes      suffixSet
	canonicalKana bool
}

// New creates a Differ with default settings.
func New(opts ...Option) Differ {
	d := &differ{
		ignoreFields:  make(map[string]bool),
		suffixes:      newSuffixSet(DefaultSuffixSynonyms),
		canonicalKana: true,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Snapshots compares two datasets and returns changes.
func (diff *differ) Snapshots(current, latest []zengin.Snapshot) *Changeset {
	changeset := &Changeset{
		Added:   []zengin.Snapshot{},
		Updated: []Update{},
		Removed: []zengin.Snapshot{},
	}

	currentMap := make(map[zengin.EntityKey]zengin.Snapshot, len(current))
	for _, s := range current {
		currentMap[s.Key()] = s
	}

	latestMap := make(map[zengin.EntityKey]zengin.Snapshot, len(latest))
	for _, s := range latest {
		latestMap[s.Key()] = s
	}

	for key, next := range latestMap {
		existing, exists := currentMap[key]
		if !exists {
			changeset.Added = append(changeset.Added, next)
			continue
		}
		if changes := diff.Changes(existing, next); len(changes) > 0 {
			changeset.Updated = append(changeset.Updated, Update{
				Key:      key,
				Existing: existing,
				New:      next,
				Changes:  changes,
			})
		}
	}

	for key, existing := range currentMap {
		if _, exists := latestMap[key]; !exists {
			changeset.Removed = append(changeset.Removed, existing)
		}
	}

	sortChangeset(changeset)

	return changeset
}

// Equivalent reports whether no monitored field differs.
func (diff *differ) Equivalent(current, latest zengin.Snapshot) bool {
	return len(diff.Changes(current, latest)) == 0
}

// Changes lists the monitored fields that differ.
func (diff *differ) Changes(current, latest zengin.Snapshot) []FieldChange {
	var changes []FieldChange
	for _, field := range zengin.MonitoredFields {
		if diff.ignoreFields[field] {
			continue
		}
		oldValue, newValue := current.Field(field), latest.Field(field)
		if diff.fieldEqual(field, oldValue, newValue) {
			continue
		}
		changes = append(changes, FieldChange{Field: field, OldValue: oldValue, NewValue: newValue})
	}
	return changes
}

func (diff *differ) fieldEqual(field, a, b string) bool {
	switch field {
	case zengin.FieldBranchName:
		return diff.suffixes.sameBranchName(a, b)
	case zengin.FieldBankNameKana, zengin.FieldBranchNameKana:
		if diff.canonicalKana {
			a, b = CanonicalKana(a), CanonicalKana(b)
		}
	}
	return strings.TrimSpace(a) == strings.TrimSpace(b)
}

// ChangedFields lists the monitored fields whose trimmed values differ
// literally, without equivalence rules. Exports use it to show what an
// update touches.
func ChangedFields(old, updated *zengin.Snapshot) []string {
	if old == nil || updated == nil {
		return nil
	}
	var fields []string
	for _, field := range zengin.MonitoredFields {
		if strings.TrimSpace(old.Field(field)) != strings.TrimSpace(updated.Field(field)) {
			fields = append(fields, field)
		}
	}
	return fields
}
