package mirror

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/agentstation/zenginsync/pkg/errors"
	"github.com/agentstation/zenginsync/pkg/zengin"
)

// UpdatedUser is recorded on rows changed by the apply engine.
const UpdatedUser = "zengin-updater"

// Tx is one apply transaction against the system of record.
type Tx struct {
	tx         *sql.Tx
	dialect    Dialect
	savepoints int
}

// Savepoint opens a nested savepoint and returns its name.
func (t *Tx) Savepoint(ctx context.Context) (string, error) {
	t.savepoints++
	name := fmt.Sprintf("sp_%d", t.savepoints)
	if _, err := t.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return "", errors.WrapResource("create", "savepoint", name, err)
	}
	return name, nil
}

// Release discards a savepoint, keeping its changes.
func (t *Tx) Release(ctx context.Context, name string) error {
	if _, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return errors.WrapResource("release", "savepoint", name, err)
	}
	return nil
}

// RollbackTo undoes everything since the savepoint and releases it.
func (t *Tx) RollbackTo(ctx context.Context, name string) error {
	if _, err := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); err != nil {
		return errors.WrapResource("rollback", "savepoint", name, err)
	}
	return t.Release(ctx, name)
}

// Insert adds a live m_bank row.
func (t *Tx) Insert(ctx context.Context, s zengin.Snapshot, now time.Time) error {
	_, err := t.tx.ExecContext(ctx, t.dialect.Rebind(`INSERT INTO m_bank
		(swift_code, bank_name, bank_name_kana, branch_code, branch_name, branch_name_kana, created_at, updated_at, is_deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)`),
		s.SwiftCode, s.BankName, s.BankNameKana, s.BranchCode, s.BranchName, s.BranchNameKana, now, now)
	if err != nil {
		return errors.WrapResource("insert", "m_bank", s.Key().String(), err)
	}
	return nil
}

// Update rewrites the monitored fields of the live row with the same key and
// returns the number of rows touched.
func (t *Tx) Update(ctx context.Context, s zengin.Snapshot, now time.Time) (int64, error) {
	res, err := t.tx.ExecContext(ctx, t.dialect.Rebind(`UPDATE m_bank
		SET bank_name = ?, bank_name_kana = ?, branch_name = ?, branch_name_kana = ?, updated_at = ?, updated_user = ?
		WHERE swift_code = ? AND branch_code = ? AND is_deleted = 0`),
		s.BankName, s.BankNameKana, s.BranchName, s.BranchNameKana, now, UpdatedUser, s.SwiftCode, s.BranchCode)
	if err != nil {
		return 0, errors.WrapResource("update", "m_bank", s.Key().String(), err)
	}
	return res.RowsAffected()
}

// CascadeAccounts copies the new bank and branch names onto dependent user
// bank accounts.
func (t *Tx) CascadeAccounts(ctx context.Context, s zengin.Snapshot, now time.Time) (int64, error) {
	res, err := t.tx.ExecContext(ctx, t.dialect.Rebind(`UPDATE user_bank_account
		SET bank_name = ?, branch_name = ?, updated_at = ?, updated_user = ?
		WHERE bank_swift_code = ? AND branch_code = ? AND is_deleted = 0`),
		s.BankName, s.BranchName, now, UpdatedUser, s.SwiftCode, s.BranchCode)
	if err != nil {
		return 0, errors.WrapResource("update", "user_bank_account", s.Key().String(), err)
	}
	return res.RowsAffected()
}

// SoftDelete flags the live row with the key as deleted.
func (t *Tx) SoftDelete(ctx context.Context, key zengin.EntityKey, now time.Time) (int64, error) {
	res, err := t.tx.ExecContext(ctx, t.dialect.Rebind(`UPDATE m_bank
		SET is_deleted = 1, updated_at = ?
		WHERE swift_code = ? AND branch_code = ? AND is_deleted = 0`),
		now, key.SwiftCode, key.BranchCode)
	if err != nil {
		return 0, errors.WrapResource("delete", "m_bank", key.String(), err)
	}
	return res.RowsAffected()
}

// AccountCount counts live user bank accounts referencing the key.
func (t *Tx) AccountCount(ctx context.Context, key zengin.EntityKey) (int, error) {
	var n int
	err := t.tx.QueryRowContext(ctx, t.dialect.Rebind(`SELECT COUNT(*) FROM user_bank_account
		WHERE bank_swift_code = ? AND branch_code = ? AND is_deleted = 0`),
		key.SwiftCode, key.BranchCode).Scan(&n)
	if err != nil {
		return 0, errors.WrapResource("count", "user_bank_account", key.String(), err)
	}
	return n, nil
}

// TableExists reports whether a table is present.
func (t *Tx) TableExists(ctx context.Context, table string) (bool, error) {
	var ok bool
	if err := t.tx.QueryRowContext(ctx, t.dialect.Rebind(t.dialect.tableExistsQuery()), table).Scan(&ok); err != nil {
		return false, errors.WrapResource("inspect", "table", table, err)
	}
	return ok, nil
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return errors.WrapResource("commit", "transaction", "", err)
	}
	return nil
}

// Rollback aborts the transaction.
func (t *Tx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return errors.WrapResource("rollback", "transaction", "", err)
	}
	return nil
}
