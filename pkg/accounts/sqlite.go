package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dkroy/hallchat/pkg/model"
)

const dbTimeLayout = "2006-01-02 15:04:05"

// MemoryDSN is the default SQLite DSN: a process-private database that
// disappears on exit, matching the service's no-durability default.
// Pass a file path instead to keep accounts across restarts.
const MemoryDSN = ":memory:"

// SQLiteStore is a SQLite-backed account registry.
type SQLiteStore struct {
	db     *sql.DB
	policy model.Policy

	maxAccounts int
}

// NewSQLite opens (or creates) a SQLite database and runs migrations.
// maxAccounts <= 0 means unlimited.
func NewSQLite(dsn string, policy model.Policy, maxAccounts int) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("accounts: open db: %w", err)
	}
	// A :memory: DSN gives every pool connection its own empty
	// database; pin the pool to a single connection.
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("accounts: set WAL: %w", err)
	}
	// Set busy timeout to avoid "database is locked" under concurrency
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("accounts: set busy_timeout: %w", err)
	}

	s := &SQLiteStore{db: db, policy: policy, maxAccounts: maxAccounts}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("accounts: migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS accounts (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		student_id TEXT    NOT NULL,
		handle     TEXT    NOT NULL UNIQUE CHECK(length(handle) > 0),
		password   TEXT    NOT NULL,
		created_at TEXT    NOT NULL DEFAULT (datetime('now'))
	);`
	if _, err := s.db.ExecContext(context.Background(), schema); err != nil {
		return err
	}
	return nil
}

// Register creates an account after checking the policy, uniqueness and
// the account cap. The cap check and the INSERT share one transaction
// so concurrent registrations cannot both pass the cap.
func (s *SQLiteStore) Register(studentID, handle, password string) error {
	if err := s.policy.ValidateHandle(handle); err != nil {
		return fmt.Errorf("%w: %w", ErrPolicyViolation, err)
	}
	if err := s.policy.ValidatePassword(password); err != nil {
		return fmt.Errorf("%w: %w", ErrPolicyViolation, err)
	}

	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("accounts: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if s.maxAccounts > 0 {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&n); err != nil {
			return fmt.Errorf("accounts: count: %w", err)
		}
		if n >= s.maxAccounts {
			return ErrStoreFull
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO accounts (student_id, handle, password) VALUES (?, ?, ?)`,
		studentID, handle, password); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateHandle
		}
		return fmt.Errorf("accounts: insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("accounts: commit: %w", err)
	}
	return nil
}

// Authenticate checks credentials and returns the account.
func (s *SQLiteStore) Authenticate(handle, password string) (*model.Account, error) {
	row := s.db.QueryRowContext(context.Background(),
		`SELECT student_id, handle, password, created_at FROM accounts WHERE handle = ?`, handle)

	var acct model.Account
	var createdAt string
	err := row.Scan(&acct.StudentID, &acct.Handle, &acct.Password, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUnknownHandle
	}
	if err != nil {
		return nil, fmt.Errorf("accounts: query: %w", err)
	}
	if acct.Password != password {
		return nil, ErrWrongPassword
	}
	if t, err := time.Parse(dbTimeLayout, createdAt); err == nil {
		acct.CreatedAt = t.UTC()
	}
	return &acct, nil
}

// Count returns the number of registered accounts.
func (s *SQLiteStore) Count() (int, error) {
	var n int
	err := s.db.QueryRowContext(context.Background(),
		`SELECT COUNT(*) FROM accounts`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("accounts: count: %w", err)
	}
	return n, nil
}

// List returns all accounts in registration order.
func (s *SQLiteStore) List() ([]model.Account, error) {
	rows, err := s.db.QueryContext(context.Background(),
		`SELECT student_id, handle, password, created_at FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("accounts: list: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []model.Account
	for rows.Next() {
		var acct model.Account
		var createdAt string
		if err := rows.Scan(&acct.StudentID, &acct.Handle, &acct.Password, &createdAt); err != nil {
			return nil, fmt.Errorf("accounts: scan: %w", err)
		}
		if t, err := time.Parse(dbTimeLayout, createdAt); err == nil {
			acct.CreatedAt = t.UTC()
		}
		result = append(result, acct)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("accounts: list rows: %w", err)
	}
	return result, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Compile-time checks: both implementations satisfy Store.
var _ Store = (*MemoryStore)(nil)
var _ Store = (*SQLiteStore)(nil)
