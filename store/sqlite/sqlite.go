/*
Package sqlite provides the SQLite-backed persistence layer.

PURPOSE:
  Implements loan.Store over SQLite, plus product persistence and a
  gl.Poster that lands journal deltas in the same database. In production
  the same patterns apply to PostgreSQL - only minor SQL dialect
  differences.

STORAGE MODEL:
  Loan aggregates persist as JSON documents. The aggregate is the unit of
  consistency: a Save rewrites the whole document in one statement, which
  is exactly the atomic swap the replay coordinator needs. Status and
  external ID are mirrored into indexed columns for querying without
  document parsing.

KEY TABLES:
  loans:           One row per aggregate (JSON document + query columns)
  products:        Product definitions (JSON config)
  journal_deltas:  Balanced GL entry sets per loan transaction

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/loans.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := loan.NewEngine(store)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - loan/store.go: Interface definition
  - loan/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/loan-engine/gl"
	"github.com/warp/loan-engine/loan"
	"github.com/warp/loan-engine/product"
)

// Store implements loan.Store, product persistence, and gl.Poster.
type Store struct {
	db *sql.DB
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time keeps the document swap serial.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Loan aggregates (JSON documents + indexed query columns)
	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		external_id TEXT,
		product_id TEXT NOT NULL,
		status TEXT NOT NULL,
		aggregate TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_loans_status ON loans(status);
	CREATE INDEX IF NOT EXISTS idx_loans_external ON loans(external_id);

	-- Product definitions
	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT,
		config TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Journal deltas (append-only)
	CREATE TABLE IF NOT EXISTS journal_deltas (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		loan_id TEXT NOT NULL,
		transaction_id TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		effective_date TEXT NOT NULL,
		entries TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_journal_loan ON journal_deltas(loan_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LOAN STORE - loan.Store implementation
// =============================================================================

// Save persists the whole aggregate in one upsert.
func (s *Store) Save(ctx context.Context, l *loan.Loan) error {
	doc, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("failed to serialize loan %s: %w", l.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO loans (id, external_id, product_id, status, aggregate, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			external_id = excluded.external_id,
			status = excluded.status,
			aggregate = excluded.aggregate,
			updated_at = excluded.updated_at`,
		string(l.ID), l.ExternalID, string(l.ProductID), string(l.Status),
		string(doc), time.Now().UTC().Format(time.RFC3339))
	return err
}

// Get loads a loan or returns loan.ErrLoanNotFound.
func (s *Store) Get(ctx context.Context, id loan.LoanID) (*loan.Loan, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT aggregate FROM loans WHERE id = ?`, string(id)).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, loan.ErrLoanNotFound
	}
	if err != nil {
		return nil, err
	}
	var l loan.Loan
	if err := json.Unmarshal([]byte(doc), &l); err != nil {
		return nil, fmt.Errorf("failed to deserialize loan %s: %w", id, err)
	}
	return &l, nil
}

// List returns all loan IDs.
func (s *Store) List(ctx context.Context) ([]loan.LoanID, error) {
	return s.queryIDs(ctx, `SELECT id FROM loans ORDER BY id`)
}

// ListByStatus returns loan IDs in any of the given statuses.
func (s *Store) ListByStatus(ctx context.Context, statuses ...loan.LoanStatus) ([]loan.LoanID, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	query := `SELECT id FROM loans WHERE status IN (?`
	args := []any{string(statuses[0])}
	for _, st := range statuses[1:] {
		query += ", ?"
		args = append(args, string(st))
	}
	query += `) ORDER BY id`
	return s.queryIDs(ctx, query, args...)
}

func (s *Store) queryIDs(ctx context.Context, query string, args ...any) ([]loan.LoanID, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []loan.LoanID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, loan.LoanID(id))
	}
	return ids, rows.Err()
}

// =============================================================================
// PRODUCT PERSISTENCE
// =============================================================================

// SaveProduct persists a product definition.
func (s *Store) SaveProduct(ctx context.Context, pj product.ProductJSON) error {
	doc, err := json.Marshal(pj)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, config, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			config = excluded.config,
			updated_at = excluded.updated_at`,
		pj.ID, pj.Name, string(doc), time.Now().UTC().Format(time.RFC3339))
	return err
}

// ListProducts returns all stored product definitions.
func (s *Store) ListProducts(ctx context.Context) ([]product.ProductJSON, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT config FROM products ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []product.ProductJSON
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var pj product.ProductJSON
		if err := json.Unmarshal([]byte(doc), &pj); err != nil {
			return nil, err
		}
		out = append(out, pj)
	}
	return out, rows.Err()
}

// =============================================================================
// JOURNAL POSTER - gl.Poster implementation
// =============================================================================

// Post appends a journal delta. Append-only: reversals arrive as mirrored
// deltas, never as updates.
func (s *Store) Post(ctx context.Context, d *gl.JournalDelta) error {
	entries, err := json.Marshal(d.Entries)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO journal_deltas (loan_id, transaction_id, tx_type, effective_date, entries, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(d.Loan), string(d.Transaction), string(d.Type), d.Date.String(),
		string(entries), time.Now().UTC().Format(time.RFC3339))
	return err
}

// JournalForLoan returns the posted deltas for one loan in posting order.
func (s *Store) JournalForLoan(ctx context.Context, id loan.LoanID) ([]*gl.JournalDelta, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT loan_id, transaction_id, tx_type, effective_date, entries
		FROM journal_deltas WHERE loan_id = ? ORDER BY id`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*gl.JournalDelta
	for rows.Next() {
		var loanID, txID, txType, date, entries string
		if err := rows.Scan(&loanID, &txID, &txType, &date, &entries); err != nil {
			return nil, err
		}
		d := &gl.JournalDelta{
			Loan:        loan.LoanID(loanID),
			Transaction: loan.TransactionID(txID),
			Type:        loan.TransactionType(txType),
		}
		if d.Date, err = loan.ParseDate(date); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(entries), &d.Entries); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
