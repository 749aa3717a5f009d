package differ

import (
	"fmt"
	"sort"
	"strings"

	"github.com/agentstation/zenginsync/pkg/zengin"
)

// FieldChange represents a change to a single monitored field.
type FieldChange struct {
	Field    string // Field name (e.g., "branch_name")
	OldValue string // Mirror value
	NewValue string // Authoritative value
}

// Update represents an update to an existing branch.
type Update struct {
	Key      zengin.EntityKey
	Existing zengin.Snapshot // Mirror state
	New      zengin.Snapshot // Authoritative state
	Changes  []FieldChange   // Fields that differ after canonicalization
}

// Changeset represents the changes between the mirror and the authoritative dataset.
type Changeset struct {
	Added   []zengin.Snapshot // Only in the authoritative dataset
	Updated []Update          // In both, not equivalent
	Removed []zengin.Snapshot // Only in the mirror
}

// HasChanges returns true if the changeset contains any changes.
func (c *Changeset) HasChanges() bool {
	return c != nil && (len(c.Added) > 0 || len(c.Updated) > 0 || len(c.Removed) > 0)
}

// Len returns the total number of changes.
func (c *Changeset) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Added) + len(c.Updated) + len(c.Removed)
}

// Entries converts the changeset into diff entries: creates, then updates, then deletes.
func (c *Changeset) Entries() []zengin.DiffEntry {
	if c == nil {
		return nil
	}
	entries := make([]zengin.DiffEntry, 0, c.Len())
	for _, s := range c.Added {
		entries = append(entries, zengin.NewCreate(s))
	}
	for _, u := range c.Updated {
		entries = append(entries, zengin.NewUpdate(u.Existing, u.New))
	}
	for _, s := range c.Removed {
		entries = append(entries, zengin.NewDelete(s))
	}
	return entries
}

// ImpactKeys returns the keys of updated and removed branches, the ones
// whose dependent accounts need impact statistics.
func (c *Changeset) ImpactKeys() []zengin.EntityKey {
	if c == nil {
		return nil
	}
	keys := make([]zengin.EntityKey, 0, len(c.Updated)+len(c.Removed))
	for _, u := range c.Updated {
		keys = append(keys, u.Key)
	}
	for _, s := range c.Removed {
		keys = append(keys, s.Key())
	}
	return keys
}

// String returns a short human-readable description of the changeset.
func (c *Changeset) String() string {
	if !c.HasChanges() {
		return "No changes"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d added, %d updated, %d removed", len(c.Added), len(c.Updated), len(c.Removed))
	for i, u := range c.Updated {
		if i == 5 {
			fmt.Fprintf(&b, "\n  ... and %d more", len(c.Updated)-i)
			break
		}
		fields := make([]string, len(u.Changes))
		for j, ch := range u.Changes {
			fields[j] = ch.Field
		}
		fmt.Fprintf(&b, "\n  ~ %s: %s", u.Key, strings.Join(fields, ", "))
	}
	return b.String()
}

func sortChangeset(c *Changeset) {
	sort.Slice(c.Added, func(i, j int) bool { return c.Added[i].Key().Less(c.Added[j].Key()) })
	sort.Slice(c.Updated, func(i, j int) bool { return c.Updated[i].Key.Less(c.Updated[j].Key) })
	sort.Slice(c.Removed, func(i, j int) bool { return c.Removed[i].Key().Less(c.Removed[j].Key()) })
}
