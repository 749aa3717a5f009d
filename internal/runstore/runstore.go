// Package runstore persists RunRecords. Status changes go through
// conditional transitions so that two concurrent actions on the same run
// cannot both succeed.
package runstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/agentstation/zenginsync/pkg/errors"
	"github.com/agentstation/zenginsync/pkg/zengin"
)

// Store persists run records.
type Store interface {
	// Create writes a new record. An existing record with the same id fails with ErrAlreadyExists.
	Create(ctx context.Context, rec *zengin.RunRecord) error

	// Get returns the record with id.
	Get(ctx context.Context, id string) (*zengin.RunRecord, error)

	// FindByMessage returns the record whose approval message has timestamp ts.
	FindByMessage(ctx context.Context, ts string) (*zengin.RunRecord, error)

	// PendingBetween lists pending records created within [from, to].
	PendingBetween(ctx context.Context, from, to time.Time) ([]*zengin.RunRecord, error)

	// Transition applies t if the record is still in one of t.From and
	// returns the updated record. Otherwise it returns a DuplicateActionError
	// carrying the current status.
	Transition(ctx context.Context, t zengin.Transition) (*zengin.RunRecord, error)
}

// Memory is an in-process Store.
type Memory struct {
	mu      sync.Mutex
	records map[string]*zengin.RunRecord
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]*zengin.RunRecord)}
}

// Create implements Store.
func (m *Memory) Create(_ context.Context, rec *zengin.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.ID]; ok {
		return errors.WrapResource("create", "run", rec.ID, errors.ErrAlreadyExists)
	}
	m.records[rec.ID] = clone(rec)
	return nil
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, id string) (*zengin.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, errors.NewNotFoundError("run", id)
	}
	return clone(rec), nil
}

// FindByMessage implements Store.
func (m *Memory) FindByMessage(_ context.Context, ts string) (*zengin.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if ts != "" && rec.MessageTS == ts {
			return clone(rec), nil
		}
	}
	return nil, errors.NewNotFoundError("run", "message_ts="+ts)
}

// PendingBetween implements Store.
func (m *Memory) PendingBetween(_ context.Context, from, to time.Time) ([]*zengin.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*zengin.RunRecord
	for _, rec := range m.records {
		if rec.Status != zengin.StatusPending {
			continue
		}
		if rec.CreatedAt.Before(from) || rec.CreatedAt.After(to) {
			continue
		}
		out = append(out, clone(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Transition implements Store.
func (m *Memory) Transition(_ context.Context, t zengin.Transition) (*zengin.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[t.RunID]
	if !ok {
		return nil, errors.NewNotFoundError("run", t.RunID)
	}
	if !t.Allowed(rec.Status) {
		return nil, errors.NewDuplicateActionError(rec.ID, string(rec.Status), t.FromStrings()...)
	}
	t.Apply(rec)
	return clone(rec), nil
}

// All returns every record ordered by creation time.
func (m *Memory) All() []*zengin.RunRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*zengin.RunRecord, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, clone(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func clone(rec *zengin.RunRecord) *zengin.RunRecord {
	data, err := json.Marshal(rec)
	if err != nil {
		cp := *rec
		return &cp
	}
	var out zengin.RunRecord
	if err := json.Unmarshal(data, &out); err != nil {
		cp := *rec
		return &cp
	}
	return &out
}
