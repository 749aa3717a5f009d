// Package mirror is the system of record: the m_bank table holding the local
// copy of the bank/branch reference data, and the user_bank_account rows that
// depend on it.
package mirror

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"github.com/agentstation/zenginsync/pkg/errors"
	"github.com/agentstation/zenginsync/pkg/logging"
	"github.com/agentstation/zenginsync/pkg/zengin"
)

// DefaultConnectTimeout bounds connection establishment.
const DefaultConnectTimeout = 30 * time.Second

// Credentials is the JSON document stored in the database secret.
type Credentials struct {
	Host     string `json:"host"`
	Endpoint string `json:"endpoint"`
	Port     any    `json:"port"`
	Username string `json:"username"`
	User     string `json:"user"`
	Password string `json:"password"`
	Secret   string `json:"secret"`
	DBName   string `json:"dbname"`
	Name     string `json:"name"`
	Database string `json:"database"`
}

// ParseCredentials decodes a database secret, accepting the alternate key
// names found in managed secrets.
func ParseCredentials(secret string) (*Credentials, error) {
	var c Credentials
	if err := json.Unmarshal([]byte(secret), &c); err != nil {
		return nil, errors.WrapParse("json", "database secret", err)
	}
	if c.Host == "" {
		c.Host = c.Endpoint
	}
	if c.Username == "" {
		c.Username = c.User
	}
	if c.Password == "" {
		c.Password = c.Secret
	}
	if c.DBName == "" {
		c.DBName = firstNonEmpty(c.Name, c.Database)
	}
	if c.Host == "" || c.Username == "" || c.DBName == "" {
		return nil, errors.NewValidationError("database secret", nil, "host, username and dbname are required")
	}
	return &c, nil
}

// DSN builds a libpq style URL with TLS required and a connect timeout.
func (c *Credentials) DSN(connectTimeout time.Duration) string {
	port := "5432"
	switch p := c.Port.(type) {
	case string:
		if p != "" {
			port = p
		}
	case float64:
		port = strconv.Itoa(int(p))
	}
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	q := url.Values{}
	q.Set("sslmode", "require")
	q.Set("connect_timeout", strconv.Itoa(int(connectTimeout.Seconds())))
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Username, c.Password),
		Host:     c.Host + ":" + port,
		Path:     "/" + c.DBName,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// DB wraps the system of record connection pool.
type DB struct {
	db      *sql.DB
	dialect Dialect
}

// New wraps an existing pool.
func New(db *sql.DB, dialect Dialect) *DB {
	return &DB{db: db, dialect: dialect}
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string) (*DB, error) {
	db, err := sql.Open(Postgres.String(), dsn)
	if err != nil {
		return nil, errors.WrapResource("open", "database", "", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.WrapResource("ping", "database", "", err)
	}
	return New(db, Postgres), nil
}

// Close releases the pool.
func (m *DB) Close() error {
	return m.db.Close()
}

// SQL exposes the underlying pool.
func (m *DB) SQL() *sql.DB {
	return m.db
}

// Dialect returns the SQL dialect of the pool.
func (m *DB) Dialect() Dialect {
	return m.dialect
}

// Snapshots returns every live mirror row.
func (m *DB) Snapshots(ctx context.Context) ([]zengin.Snapshot, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT swift_code, bank_name, bank_name_kana, branch_code, branch_name, branch_name_kana
		FROM m_bank
		WHERE is_deleted = 0`)
	if err != nil {
		return nil, errors.WrapResource("select", "m_bank", "", err)
	}
	defer func() { _ = rows.Close() }()

	var out []zengin.Snapshot
	for rows.Next() {
		var s zengin.Snapshot
		var bankName, bankKana, branchName, branchKana sql.NullString
		if err := rows.Scan(&s.SwiftCode, &bankName, &bankKana, &s.BranchCode, &branchName, &branchKana); err != nil {
			return nil, errors.WrapResource("scan", "m_bank", "", err)
		}
		s.BankName, s.BankNameKana = bankName.String, bankKana.String
		s.BranchName, s.BranchNameKana = branchName.String, branchKana.String
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapResource("select", "m_bank", "", err)
	}
	logging.FromContext(ctx).Debug().Int("rows", len(out)).Msg("Loaded mirror dataset")
	return out, nil
}

// Impact counts dependent user bank accounts of one key.
type Impact struct {
	TotalAccounts int `json:"total_accounts"`
	ActiveUsers   int `json:"active_users"`
}

// ImpactBatchSize is the number of keys sent per batched impact query.
const ImpactBatchSize = 500

// Impact returns impact statistics for every key, zero when no account
// matches. A failed batch falls back to single-key lookups and a failed
// single lookup degrades to zero.
func (m *DB) Impact(ctx context.Context, keys []zengin.EntityKey) (map[zengin.EntityKey]Impact, error) {
	logger := logging.FromContext(ctx)
	out := make(map[zengin.EntityKey]Impact, len(keys))

	for start := 0; start < len(keys); start += ImpactBatchSize {
		chunk := keys[start:min(start+ImpactBatchSize, len(keys))]
		stats, err := m.impactBatch(ctx, chunk)
		if err == nil {
			for k, v := range stats {
				out[k] = v
			}
			continue
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Warn().Err(err).Int("keys", len(chunk)).Msg("Batched impact query failed, falling back to single lookups")
		for _, k := range chunk {
			v, err := m.ImpactOne(ctx, k)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				logger.Warn().Err(err).Str("key", k.String()).Msg("Impact lookup failed")
			}
			out[k] = v
		}
	}

	for _, k := range keys {
		if _, ok := out[k]; !ok {
			out[k] = Impact{}
		}
	}
	return out, nil
}

func (m *DB) impactBatch(ctx context.Context, keys []zengin.EntityKey) (map[zengin.EntityKey]Impact, error) {
	values := make([]string, len(keys))
	args := make([]any, 0, len(keys)*2)
	for i, k := range keys {
		values[i] = "(?, ?)"
		args = append(args, k.SwiftCode, k.BranchCode)
	}
	query := fmt.Sprintf(`WITH bank_codes(swift_code, branch_code) AS (VALUES %s)
		SELECT bc.swift_code, bc.branch_code,
			COUNT(uba.id) AS total_accounts,
			COUNT(DISTINCT CASE WHEN u.use_status = 1 THEN uba.user_id END) AS active_users
		FROM bank_codes bc
		LEFT JOIN user_bank_account uba
			ON uba.bank_swift_code = bc.swift_code
			AND uba.branch_code = bc.branch_code
			AND uba.is_deleted = 0
		LEFT JOIN "user" u ON uba.user_id = u.id
		GROUP BY bc.swift_code, bc.branch_code`, strings.Join(values, ", "))

	rows, err := m.db.QueryContext(ctx, m.dialect.Rebind(query), args...)
	if err != nil {
		return nil, errors.WrapResource("select", "impact statistics", "", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[zengin.EntityKey]Impact, len(keys))
	for rows.Next() {
		var k zengin.EntityKey
		var v Impact
		if err := rows.Scan(&k.SwiftCode, &k.BranchCode, &v.TotalAccounts, &v.ActiveUsers); err != nil {
			return nil, errors.WrapResource("scan", "impact statistics", "", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// ImpactOne returns impact statistics for a single key.
func (m *DB) ImpactOne(ctx context.Context, key zengin.EntityKey) (Impact, error) {
	var v Impact
	err := m.db.QueryRowContext(ctx, m.dialect.Rebind(`SELECT
			COUNT(uba.id) AS total_accounts,
			COUNT(DISTINCT CASE WHEN u.use_status = 1 THEN uba.user_id END) AS active_users
		FROM user_bank_account uba
		LEFT JOIN "user" u ON uba.user_id = u.id
		WHERE uba.bank_swift_code = ?
			AND uba.branch_code = ?
			AND uba.is_deleted = 0`), key.SwiftCode, key.BranchCode).Scan(&v.TotalAccounts, &v.ActiveUsers)
	if err != nil {
		return Impact{}, errors.WrapResource("select", "impact statistics", key.String(), err)
	}
	return v, nil
}

// Begin opens the apply transaction.
func (m *DB) Begin(ctx context.Context) (*Tx, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.WrapResource("begin", "transaction", "", err)
	}
	return &Tx{tx: tx, dialect: m.dialect}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Lazy opens the pool on first use and keeps it for the life of the process.
// A failed open is retried on the next call.
type Lazy struct {
	mu   sync.Mutex
	db   *DB
	open func(ctx context.Context) (*DB, error)
}

// NewLazy returns a pool that calls open on first use.
func NewLazy(open func(ctx context.Context) (*DB, error)) *Lazy {
	return &Lazy{open: open}
}

// Get returns the pool, opening it when needed.
func (l *Lazy) Get(ctx context.Context) (*DB, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.db != nil {
		return l.db, nil
	}
	db, err := l.open(ctx)
	if err != nil {
		return nil, err
	}
	l.db = db
	return db, nil
}

// Begin opens the apply transaction on the lazily opened pool.
func (l *Lazy) Begin(ctx context.Context) (*Tx, error) {
	db, err := l.Get(ctx)
	if err != nil {
		return nil, err
	}
	return db.Begin(ctx)
}

// Snapshots reads the live mirror rows from the lazily opened pool.
func (l *Lazy) Snapshots(ctx context.Context) ([]zengin.Snapshot, error) {
	db, err := l.Get(ctx)
	if err != nil {
		return nil, err
	}
	return db.Snapshots(ctx)
}

// Impact reads impact statistics from the lazily opened pool.
func (l *Lazy) Impact(ctx context.Context, keys []zengin.EntityKey) (map[zengin.EntityKey]Impact, error) {
	db, err := l.Get(ctx)
	if err != nil {
		return nil, err
	}
	return db.Impact(ctx, keys)
}

// Close closes the pool if it was opened.
func (l *Lazy) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.db == nil {
		return nil
	}
	err := l.db.Close()
	l.db = nil
	return err
}
