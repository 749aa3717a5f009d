package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/agentstation/zenginsync/internal/mirror"
	"github.com/agentstation/zenginsync/pkg/errors"
	"github.com/agentstation/zenginsync/pkg/logging"
	"github.com/agentstation/zenginsync/pkg/zengin"
)

const accountsTable = "user_bank_account"

// applier applies entries to one open transaction. Every entry runs inside
// its own savepoint so a failed statement leaves the transaction usable.
type applier struct {
	runID    string
	tx       *mirror.Tx
	now      time.Time
	accounts bool
}

func newApplier(ctx context.Context, runID string, tx *mirror.Tx, now time.Time) *applier {
	a := &applier{runID: runID, tx: tx, now: now}
	exists, err := tx.TableExists(ctx, accountsTable)
	if err != nil {
		logging.FromContext(ctx).Warn().Err(err).Msg("Could not inspect user bank accounts, skipping cascade")
	}
	a.accounts = exists
	if err == nil && !exists {
		logging.FromContext(ctx).Info().Msg("No user bank account table, skipping cascade")
	}
	return a
}

// tally is the per-entry outcome of a batch.
type tally struct {
	processed int
	failed    int
	errors    []string
	stopped   bool
}

// run applies entries in order until they are exhausted or the policy stops
// the loop. A savepoint that cannot be rolled back aborts the loop with a
// SystemicFailure.
func (a *applier) run(ctx context.Context, entries []zengin.DiffEntry, policy Policy) (tally, error) {
	log := logging.FromContext(ctx)
	var t tally
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return t, err
		}
		err := a.isolated(ctx, e)
		if errors.IsSystemic(err) {
			return t, err
		}
		if err != nil {
			t.failed++
			t.errors = append(t.errors, fmt.Sprintf("%s: %v", e.Key, err))
			log.Error().Err(err).Str("key", e.Key).Str("action", e.Action.String()).Msg("Entry failed")
			if policy.Stop(t.failed) {
				log.Error().Int("error_count", t.failed).Int("threshold", policy.MaxErrors).Msg("Error threshold reached, stopping")
				t.stopped = true
				return t, nil
			}
			continue
		}
		t.processed++
	}
	return t, nil
}

func (a *applier) isolated(ctx context.Context, e zengin.DiffEntry) error {
	sp, err := a.tx.Savepoint(ctx)
	if err != nil {
		return errors.NewSystemicFailure(a.runID, "savepoint", err)
	}
	if err := a.apply(ctx, e); err != nil {
		if rbErr := a.tx.RollbackTo(ctx, sp); rbErr != nil {
			return errors.NewSystemicFailure(a.runID, "rollback to savepoint", errors.Join(err, rbErr))
		}
		return err
	}
	if err := a.tx.Release(ctx, sp); err != nil {
		return errors.NewSystemicFailure(a.runID, "release savepoint", err)
	}
	return nil
}

func (a *applier) apply(ctx context.Context, e zengin.DiffEntry) error {
	log := logging.FromContext(ctx).With().Str("key", e.Key).Logger()
	switch e.Action {
	case zengin.ActionCreate:
		if err := a.tx.Insert(ctx, *e.NewData, a.now); err != nil {
			return err
		}
		log.Debug().Msg("Inserted")

	case zengin.ActionUpdate:
		n, err := a.tx.Update(ctx, *e.NewData, a.now)
		if err != nil {
			return err
		}
		if n == 0 {
			log.Warn().Msg("No live row to update")
		}
		a.cascade(ctx, *e.NewData)

	case zengin.ActionDelete:
		key := e.EntityKey()
		n, err := a.tx.SoftDelete(ctx, key, a.now)
		if err != nil {
			return err
		}
		if n == 0 {
			log.Warn().Msg("No live row to delete")
		}
		if a.accounts {
			if count, err := a.tx.AccountCount(ctx, key); err == nil && count > 0 {
				log.Warn().Int("accounts", count).Msg("Deleted branch still referenced by user bank accounts")
			}
		}

	default:
		return errors.NewValidationError("action", e.Action, "unknown diff action")
	}
	return nil
}

// cascade copies new names onto dependent accounts. Its failure is logged and
// rolled back to its own savepoint without failing the entry.
func (a *applier) cascade(ctx context.Context, s zengin.Snapshot) {
	if !a.accounts {
		return
	}
	log := logging.FromContext(ctx).With().Str("key", s.Key().String()).Logger()
	sp, err := a.tx.Savepoint(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Cascade skipped")
		return
	}
	n, err := a.tx.CascadeAccounts(ctx, s, a.now)
	if err != nil {
		log.Warn().Err(err).Msg("Cascade to user bank accounts failed")
		if rbErr := a.tx.RollbackTo(ctx, sp); rbErr != nil {
			log.Warn().Err(rbErr).Msg("Cascade rollback failed")
		}
		return
	}
	if err := a.tx.Release(ctx, sp); err != nil {
		log.Warn().Err(err).Msg("Cascade release failed")
		return
	}
	if n > 0 {
		log.Info().Int64("accounts", n).Msg("Cascaded names to user bank accounts")
	}
}
