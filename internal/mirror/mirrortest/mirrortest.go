// Package mirrortest provides an in-memory system of record for tests.
package mirrortest

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite" // register the pure Go sqlite driver

	"github.com/agentstation/zenginsync/internal/mirror"
	"github.com/agentstation/zenginsync/pkg/zengin"
)

// Schema is the subset of the production schema the sync touches.
const Schema = `
CREATE TABLE m_bank (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	swift_code TEXT NOT NULL,
	bank_name TEXT,
	bank_name_kana TEXT,
	branch_code TEXT NOT NULL,
	branch_name TEXT,
	branch_name_kana TEXT,
	created_at TIMESTAMP,
	updated_at TIMESTAMP,
	updated_user TEXT,
	is_deleted INTEGER NOT NULL DEFAULT 0
);
CREATE UNIQUE INDEX m_bank_live_key ON m_bank (swift_code, branch_code) WHERE is_deleted = 0;
CREATE TABLE "user" (
	id INTEGER PRIMARY KEY,
	use_status INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE user_bank_account (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL,
	bank_swift_code TEXT NOT NULL,
	branch_code TEXT NOT NULL,
	bank_name TEXT,
	branch_name TEXT,
	updated_at TIMESTAMP,
	updated_user TEXT,
	is_deleted INTEGER NOT NULL DEFAULT 0
);
`

// Open returns a fresh in-memory database with the schema applied.
func Open(t testing.TB) *mirror.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	for _, stmt := range strings.Split(Schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		_, err = db.Exec(stmt)
		require.NoError(t, err)
	}
	return mirror.New(db, mirror.SQLite)
}

// SeedBank inserts live m_bank rows.
func SeedBank(t testing.TB, m *mirror.DB, rows ...zengin.Snapshot) {
	t.Helper()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, s := range rows {
		_, err := m.SQL().Exec(`INSERT INTO m_bank (swift_code, bank_name, bank_name_kana, branch_code, branch_name, branch_name_kana, created_at, updated_at, is_deleted)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)`, s.SwiftCode, s.BankName, s.BankNameKana, s.BranchCode, s.BranchName, s.BranchNameKana, now, now)
		require.NoError(t, err)
	}
}

// SeedAccount inserts a user with the given status and one bank account for key.
func SeedAccount(t testing.TB, m *mirror.DB, userID int, active bool, key zengin.EntityKey) {
	t.Helper()
	status := 0
	if active {
		status = 1
	}
	_, err := m.SQL().Exec(`INSERT OR IGNORE INTO "user" (id, use_status) VALUES (?, ?)`, userID, status)
	require.NoError(t, err)
	_, err = m.SQL().Exec(`INSERT INTO user_bank_account (user_id, bank_swift_code, branch_code, bank_name, branch_name, is_deleted)
		VALUES (?, ?, ?, 'old bank', 'old branch', 0)`, userID, key.SwiftCode, key.BranchCode)
	require.NoError(t, err)
}

// LiveRow returns the live m_bank row for key, or nil.
func LiveRow(t testing.TB, m *mirror.DB, key zengin.EntityKey) *zengin.Snapshot {
	t.Helper()
	rows, err := m.Snapshots(context.Background())
	require.NoError(t, err)
	for _, s := range rows {
		if s.Key() == key {
			return &s
		}
	}
	return nil
}

// CountRows counts rows of table matching an optional where clause.
func CountRows(t testing.TB, m *mirror.DB, table, where string, args ...any) int {
	t.Helper()
	q := "SELECT COUNT(*) FROM " + table
	if where != "" {
		q += " WHERE " + where
	}
	var n int
	require.NoError(t, m.SQL().QueryRow(q, args...).Scan(&n))
	return n
}
