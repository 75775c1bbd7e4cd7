package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite" // Pure Go SQLite driver, no CGO required.

	"github.com/peteski22/creatorsync/internal/creator"
)

const (
	// DialectMySQL targets MySQL 8 through go-sql-driver/mysql.
	DialectMySQL Dialect = "mysql"

	// DialectSQLite targets SQLite through modernc.org/sqlite.
	DialectSQLite Dialect = "sqlite"
)

// Dialect selects the SQL flavour of a SQLStore.
type Dialect string

// statements holds the dialect-specific SQL.
type statements struct {
	fanExists         string
	insertTransaction string
	schema            []string
	upsertCreator     string
	upsertFan         string
}

var dialectStatements = map[Dialect]statements{
	DialectSQLite: {
		fanExists: `SELECT COUNT(*) FROM fans WHERE creator_id = ? AND external_id = ?`,
		insertTransaction: `INSERT OR IGNORE INTO transactions
			(id, creator_id, fan_id, external_id, type, amount, currency, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		schema: []string{
			`CREATE TABLE IF NOT EXISTS creators (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL DEFAULT '',
				external_handle TEXT NOT NULL,
				total_revenue REAL NOT NULL DEFAULT 0,
				total_fans INTEGER NOT NULL DEFAULT 0,
				active_fans INTEGER NOT NULL DEFAULT 0,
				last_synced_at TEXT NOT NULL DEFAULT '',
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS fans (
				id TEXT PRIMARY KEY,
				creator_id TEXT NOT NULL,
				external_id TEXT NOT NULL,
				username TEXT NOT NULL DEFAULT '',
				display_name TEXT NOT NULL DEFAULT '',
				subscribed_at TEXT NOT NULL DEFAULT '',
				expires_at TEXT NOT NULL DEFAULT '',
				is_active INTEGER NOT NULL DEFAULT 0,
				total_spent REAL NOT NULL DEFAULT 0,
				UNIQUE (creator_id, external_id)
			)`,
			`CREATE TABLE IF NOT EXISTS transactions (
				id TEXT PRIMARY KEY,
				creator_id TEXT NOT NULL,
				fan_id TEXT NOT NULL,
				external_id TEXT NOT NULL UNIQUE,
				type TEXT NOT NULL,
				amount REAL NOT NULL,
				currency TEXT NOT NULL,
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_transactions_creator ON transactions (creator_id, created_at)`,
		},
		upsertCreator: `INSERT INTO creators (id, name, external_handle, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				external_handle = excluded.external_handle,
				updated_at = excluded.updated_at`,
		upsertFan: `INSERT INTO fans
			(id, creator_id, external_id, username, display_name, subscribed_at, expires_at, is_active, total_spent)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(creator_id, external_id) DO UPDATE SET
				username = excluded.username,
				display_name = excluded.display_name,
				subscribed_at = excluded.subscribed_at,
				expires_at = excluded.expires_at,
				is_active = excluded.is_active,
				total_spent = excluded.total_spent`,
	},
	DialectMySQL: {
		fanExists: `SELECT COUNT(*) FROM fans WHERE creator_id = ? AND external_id = ?`,
		insertTransaction: `INSERT IGNORE INTO transactions
			(id, creator_id, fan_id, external_id, type, amount, currency, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		schema: []string{
			`CREATE TABLE IF NOT EXISTS creators (
				id VARCHAR(64) PRIMARY KEY,
				name VARCHAR(255) NOT NULL DEFAULT '',
				external_handle VARCHAR(255) NOT NULL,
				total_revenue DOUBLE NOT NULL DEFAULT 0,
				total_fans INT NOT NULL DEFAULT 0,
				active_fans INT NOT NULL DEFAULT 0,
				last_synced_at VARCHAR(40) NOT NULL DEFAULT '',
				created_at VARCHAR(40) NOT NULL,
				updated_at VARCHAR(40) NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS fans (
				id CHAR(36) PRIMARY KEY,
				creator_id VARCHAR(64) NOT NULL,
				external_id VARCHAR(255) NOT NULL,
				username VARCHAR(255) NOT NULL DEFAULT '',
				display_name VARCHAR(255) NOT NULL DEFAULT '',
				subscribed_at VARCHAR(40) NOT NULL DEFAULT '',
				expires_at VARCHAR(40) NOT NULL DEFAULT '',
				is_active TINYINT(1) NOT NULL DEFAULT 0,
				total_spent DOUBLE NOT NULL DEFAULT 0,
				UNIQUE KEY uq_fans_creator_external (creator_id, external_id)
			)`,
			`CREATE TABLE IF NOT EXISTS transactions (
				id CHAR(36) PRIMARY KEY,
				creator_id VARCHAR(64) NOT NULL,
				fan_id CHAR(36) NOT NULL,
				external_id VARCHAR(255) NOT NULL,
				type VARCHAR(32) NOT NULL,
				amount DOUBLE NOT NULL,
				currency CHAR(3) NOT NULL,
				created_at VARCHAR(40) NOT NULL,
				UNIQUE KEY uq_transactions_external (external_id),
				KEY idx_transactions_creator (creator_id, created_at)
			)`,
		},
		upsertCreator: `INSERT INTO creators (id, name, external_handle, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE
				name = VALUES(name),
				external_handle = VALUES(external_handle),
				updated_at = VALUES(updated_at)`,
		upsertFan: `INSERT INTO fans
			(id, creator_id, external_id, username, display_name, subscribed_at, expires_at, is_active, total_spent)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE
				username = VALUES(username),
				display_name = VALUES(display_name),
				subscribed_at = VALUES(subscribed_at),
				expires_at = VALUES(expires_at),
				is_active = VALUES(is_active),
				total_spent = VALUES(total_spent)`,
	},
}

// SQLStore persists creators, fans and transactions in a relational database.
// It implements the sync storage port, the creator directory and the sync state store.
type SQLStore struct {
	db    *sql.DB
	now   func() time.Time
	stmts statements
}

// NewSQLiteStore opens (creating if needed) a SQLite database at path. Use ":memory:" for a private in-memory database.
func NewSQLiteStore(ctx context.Context, path string) (*SQLStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}

	// SQLite only supports one writer, and an in-memory database lives only as long as its connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store, err := NewSQLStore(ctx, db, DialectSQLite)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// NewMySQLStore connects to MySQL using a go-sql-driver DSN.
func NewMySQLStore(ctx context.Context, dsn string) (*SQLStore, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing mysql DSN: %w", err)
	}

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating mysql connector: %w", err)
	}

	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging mysql: %w", err)
	}

	store, err := NewSQLStore(ctx, db, DialectMySQL)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// NewSQLStore wraps an open database and creates the schema if it does not exist.
func NewSQLStore(ctx context.Context, db *sql.DB, dialect Dialect) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New("database is required")
	}

	stmts, ok := dialectStatements[dialect]
	if !ok {
		return nil, fmt.Errorf("unsupported SQL dialect: %q", dialect)
	}

	for _, ddl := range stmts.schema {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	}

	return &SQLStore{
		db:    db,
		now:   time.Now,
		stmts: stmts,
	}, nil
}

// UpsertFans inserts new fans and refreshes the state of known ones in one transaction.
// A known fan keeps its stored internal ID.
func (s *SQLStore) UpsertFans(ctx context.Context, fans []creator.Fan) (int, error) {
	if len(fans) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	exists, err := tx.PrepareContext(ctx, s.stmts.fanExists)
	if err != nil {
		return 0, fmt.Errorf("preparing statement: %w", err)
	}
	defer func() { _ = exists.Close() }()

	upsert, err := tx.PrepareContext(ctx, s.stmts.upsertFan)
	if err != nil {
		return 0, fmt.Errorf("preparing statement: %w", err)
	}
	defer func() { _ = upsert.Close() }()

	inserted := 0
	for i, f := range fans {
		var count int
		if err := exists.QueryRowContext(ctx, f.CreatorID, f.ExternalID).Scan(&count); err != nil {
			return 0, fmt.Errorf("looking up fan %d: %w", i, err)
		}
		if _, err := upsert.ExecContext(ctx,
			f.ID,
			f.CreatorID,
			f.ExternalID,
			f.Username,
			f.DisplayName,
			formatTime(f.SubscribedAt),
			formatTime(f.ExpiresAt),
			f.IsActive,
			f.TotalSpent,
		); err != nil {
			return 0, fmt.Errorf("upserting fan %d: %w", i, err)
		}
		if count == 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing transaction: %w", err)
	}

	return inserted, nil
}

// AppendTransactions inserts transactions not already stored.
func (s *SQLStore) AppendTransactions(ctx context.Context, transactions []creator.Transaction) (int, error) {
	return s.insertBatch(ctx, s.stmts.insertTransaction, len(transactions), func(i int) []any {
		t := transactions[i]
		return []any{
			t.ID,
			t.CreatorID,
			t.FanID,
			t.ExternalID,
			string(t.Type),
			t.Amount,
			t.Currency,
			formatTime(t.CreatedAt),
		}
	})
}

// Ping verifies the database connection is alive.
func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Creator returns the creator with the given ID, or creator.ErrNotFound.
func (s *SQLStore) Creator(ctx context.Context, id string) (*creator.Creator, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, external_handle, total_revenue, total_fans, active_fans, last_synced_at, created_at, updated_at
		FROM creators WHERE id = ?`, id)

	c, err := scanCreator(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, creator.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting creator: %w", err)
	}

	return c, nil
}

// Creators returns every stored creator ordered by ID.
func (s *SQLStore) Creators(ctx context.Context) ([]creator.Creator, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, external_handle, total_revenue, total_fans, active_fans, last_synced_at, created_at, updated_at
		FROM creators ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing creators: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var creators []creator.Creator
	for rows.Next() {
		c, err := scanCreator(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning creator: %w", err)
		}
		creators = append(creators, *c)
	}

	return creators, rows.Err()
}

// Fans returns a creator's stored fans ordered by external ID.
func (s *SQLStore) Fans(ctx context.Context, creatorID string) ([]creator.Fan, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, creator_id, external_id, username, display_name, subscribed_at, expires_at, is_active, total_spent
		FROM fans WHERE creator_id = ? ORDER BY external_id`, creatorID)
	if err != nil {
		return nil, fmt.Errorf("listing fans: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var fans []creator.Fan
	for rows.Next() {
		var (
			f                       creator.Fan
			subscribedAt, expiresAt string
		)
		if err := rows.Scan(
			&f.ID,
			&f.CreatorID,
			&f.ExternalID,
			&f.Username,
			&f.DisplayName,
			&subscribedAt,
			&expiresAt,
			&f.IsActive,
			&f.TotalSpent,
		); err != nil {
			return nil, fmt.Errorf("scanning fan: %w", err)
		}
		if f.SubscribedAt, err = parseTime(subscribedAt); err != nil {
			return nil, err
		}
		if f.ExpiresAt, err = parseTime(expiresAt); err != nil {
			return nil, err
		}
		fans = append(fans, f)
	}

	return fans, rows.Err()
}

// LastSyncTime returns when the creator's last successful sync started, zero if never.
func (s *SQLStore) LastSyncTime(ctx context.Context, creatorID string) (time.Time, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT last_synced_at FROM creators WHERE id = ?`, creatorID).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("getting last sync time: %w", err)
	}

	return parseTime(value)
}

// SaveCreator inserts a creator or updates its name and handle. Metrics and sync state are kept.
func (s *SQLStore) SaveCreator(ctx context.Context, c creator.Creator) error {
	if c.ID == "" {
		return errors.New("creator ID is required")
	}
	if c.ExternalHandle == "" {
		return errors.New("external handle is required")
	}

	now := formatTime(s.now())
	if _, err := s.db.ExecContext(ctx, s.stmts.upsertCreator, c.ID, c.Name, c.ExternalHandle, now, now); err != nil {
		return fmt.Errorf("saving creator: %w", err)
	}

	return nil
}

// SetLastSyncTime records the start of the creator's last successful sync.
func (s *SQLStore) SetLastSyncTime(ctx context.Context, creatorID string, t time.Time) error {
	return s.updateCreator(ctx, creatorID,
		`UPDATE creators SET last_synced_at = ? WHERE id = ?`,
		formatTime(t), creatorID)
}

// Transactions returns a creator's stored transactions ordered by creation time.
func (s *SQLStore) Transactions(ctx context.Context, creatorID string) ([]creator.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, creator_id, fan_id, external_id, type, amount, currency, created_at
		FROM transactions WHERE creator_id = ? ORDER BY created_at, external_id`, creatorID)
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var transactions []creator.Transaction
	for rows.Next() {
		var (
			t         creator.Transaction
			txType    string
			createdAt string
		)
		if err := rows.Scan(
			&t.ID,
			&t.CreatorID,
			&t.FanID,
			&t.ExternalID,
			&txType,
			&t.Amount,
			&t.Currency,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scanning transaction: %w", err)
		}
		t.Type = creator.TransactionType(txType)
		if t.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		transactions = append(transactions, t)
	}

	return transactions, rows.Err()
}

// UpdateCreatorMetrics replaces the creator's derived metrics.
func (s *SQLStore) UpdateCreatorMetrics(ctx context.Context, creatorID string, m creator.Metrics) error {
	return s.updateCreator(ctx, creatorID,
		`UPDATE creators SET total_revenue = ?, total_fans = ?, active_fans = ?, updated_at = ? WHERE id = ?`,
		m.TotalRevenue, m.TotalFans, m.ActiveFans, formatTime(s.now()), creatorID)
}

// insertBatch runs one insert per row inside a transaction and returns how many rows were new.
func (s *SQLStore) insertBatch(ctx context.Context, query string, n int, args func(i int) []any) (int, error) {
	if n == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("preparing statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	inserted := 0
	for i := range n {
		res, err := stmt.ExecContext(ctx, args(i)...)
		if err != nil {
			return 0, fmt.Errorf("inserting row %d: %w", i, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("reading affected rows: %w", err)
		}
		inserted += int(affected)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing transaction: %w", err)
	}

	return inserted, nil
}

// updateCreator runs an UPDATE on one creator row, returning creator.ErrNotFound if the row does not exist.
func (s *SQLStore) updateCreator(ctx context.Context, creatorID string, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating creator: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if affected > 0 {
		return nil
	}

	// MySQL reports zero affected rows when the values are unchanged.
	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM creators WHERE id = ?`, creatorID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("checking creator: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("updating creator %s: %w", creatorID, creator.ErrNotFound)
	}

	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanCreator(row rowScanner) (*creator.Creator, error) {
	var (
		c                                  creator.Creator
		lastSyncedAt, createdAt, updatedAt string
	)
	if err := row.Scan(
		&c.ID,
		&c.Name,
		&c.ExternalHandle,
		&c.Metrics.TotalRevenue,
		&c.Metrics.TotalFans,
		&c.Metrics.ActiveFans,
		&lastSyncedAt,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if c.LastSyncedAt, err = parseTime(lastSyncedAt); err != nil {
		return nil, err
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	return &c, nil
}

// timeLayout is RFC 3339 with fixed-width nanoseconds, so stored UTC times sort as strings.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// formatTime encodes a time in UTC, with the zero time as an empty string.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

// parseTime is the inverse of formatTime.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing time %q: %w", s, err)
	}
	return t, nil
}
