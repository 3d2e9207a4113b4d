// Package store provides SQLite persistence for devwatch.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/darshan-rambhia/devwatch/internal/notify"
	"github.com/darshan-rambhia/devwatch/internal/passhash"
	_ "modernc.org/sqlite"
)

// Emitter receives store notifications. *notify.Hub satisfies it. Emit may
// be called while the store holds its lock, so receivers must not call back
// into the Store.
type Emitter interface {
	Emit(e notify.Event)
}

type nopEmitter struct{}

func (nopEmitter) Emit(notify.Event) {}

// querier is the subset of *sql.DB and *sql.Tx used by store operations.
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Store wraps a SQLite database for devwatch persistence. While an explicit
// transaction is open every operation runs inside it.
type Store struct {
	path   string
	hasher *passhash.Hasher
	events Emitter
	now    func() time.Time

	mu sync.Mutex
	db *sql.DB
	tx *sql.Tx

	errMu   sync.Mutex
	lastErr string
}

// Option configures a Store.
type Option func(*Store)

// WithHasher sets the password hasher. The default uses an empty pepper.
func WithHasher(h *passhash.Hasher) Option {
	return func(s *Store) { s.hasher = h }
}

// WithNotifier sets the receiver of connected/disconnected/error events.
func WithNotifier(e Emitter) Option {
	return func(s *Store) {
		if e != nil {
			s.events = e
		}
	}
}

// WithClock overrides the time source used for audit log timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an unopened store for the database file at path.
func New(path string, opts ...Option) *Store {
	s := &Store{
		path:   filepath.Clean(path),
		events: nopEmitter{},
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.hasher == nil {
		s.hasher = passhash.New("", passhash.DefaultParams())
	}
	return s
}

// Open connects to the database, creating the file if needed, and applies
// pending schema migrations. Opening an open store is a no-op.
func (s *Store) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return nil
	}
	if strings.TrimSpace(s.path) == "" || s.path == "." {
		return s.fail("opening database", fmt.Errorf("%w: database path is required", ErrConnection))
	}

	dsn := s.path +
		"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return s.fail("opening database", fmt.Errorf("%w: %s: %w", ErrConnection, s.path, err))
	}
	// One shared connection; SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return s.fail("pinging database", fmt.Errorf("%w: %s: %w", ErrConnection, s.path, err))
	}

	ms, err := loadMigrations(migrationFS, "migrations")
	if err != nil {
		db.Close()
		return s.fail("loading migrations", err)
	}
	applied, err := applyMigrations(db, ms, s.now())
	if err != nil {
		db.Close()
		return s.fail("running migrations", err)
	}
	if applied > 0 {
		slog.Info("applied schema migrations", "path", s.path, "count", applied)
	}

	s.db = db
	slog.Debug("database connected", "path", s.path)
	s.events.Emit(notify.Event{Kind: notify.StoreConnected})
	return nil
}

// Close closes the database connection, rolling back any open transaction.
// It is safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	if s.tx != nil {
		_ = s.tx.Rollback()
		s.tx = nil
	}
	err := s.db.Close()
	s.db = nil
	s.events.Emit(notify.Event{Kind: notify.StoreDisconnected})
	if err != nil {
		return s.fail("closing database", err)
	}
	return nil
}

// IsConnected reports whether the store is open.
func (s *Store) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db != nil
}

// LastError returns the message of the most recent recorded failure.
func (s *Store) LastError() string {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.lastErr
}

// ClearError resets LastError.
func (s *Store) ClearError() {
	s.errMu.Lock()
	s.lastErr = ""
	s.errMu.Unlock()
}

// SchemaVersion returns the highest applied migration version.
func (s *Store) SchemaVersion() (int, error) {
	q, err := s.querier()
	if err != nil {
		return 0, s.fail("reading schema version", err)
	}
	v, err := schemaVersion(q)
	if err != nil {
		return 0, s.fail("reading schema version", err)
	}
	return v, nil
}

// BeginTransaction starts an explicit transaction. Transactions do not nest.
func (s *Store) BeginTransaction() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return s.fail("beginning transaction", ErrNotConnected)
	}
	if s.tx != nil {
		return s.fail("beginning transaction", ErrTxInProgress)
	}
	tx, err := s.db.Begin()
	if err != nil {
		return s.fail("beginning transaction", err)
	}
	s.tx = tx
	return nil
}

// Commit commits the open transaction.
func (s *Store) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return s.fail("committing transaction", ErrNotConnected)
	}
	if s.tx == nil {
		return s.fail("committing transaction", ErrNoTransaction)
	}
	err := s.tx.Commit()
	s.tx = nil
	if err != nil {
		return s.fail("committing transaction", err)
	}
	return nil
}

// Rollback aborts the open transaction.
func (s *Store) Rollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return s.fail("rolling back transaction", ErrNotConnected)
	}
	if s.tx == nil {
		return s.fail("rolling back transaction", ErrNoTransaction)
	}
	err := s.tx.Rollback()
	s.tx = nil
	if err != nil {
		return s.fail("rolling back transaction", err)
	}
	return nil
}

// WithTransaction runs fn inside a transaction, committing if fn returns nil
// and rolling back otherwise. A panic in fn rolls back and is re-raised.
func (s *Store) WithTransaction(fn func() error) error {
	if err := s.BeginTransaction(); err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = s.Rollback()
			panic(p)
		}
	}()
	if err := fn(); err != nil {
		if rbErr := s.Rollback(); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return s.Commit()
}

// querier returns the open transaction, or the database when none is open.
func (s *Store) querier() (querier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, ErrNotConnected
	}
	if s.tx != nil {
		return s.tx, nil
	}
	return s.db, nil
}

// fail classifies err, prefixes it with op, and records it unless it is an
// expected lookup miss or credential mismatch.
func (s *Store) fail(op string, err error) error {
	err = fmt.Errorf("%s: %w", op, classify(err))
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAuthMismatch) {
		return err
	}
	msg := err.Error()
	s.errMu.Lock()
	s.lastErr = msg
	s.errMu.Unlock()
	slog.Error("store operation failed", "error", err)
	s.events.Emit(notify.Event{Kind: notify.StoreError, Message: msg})
	return err
}

// exec runs a write and returns the inserted row id.
func (s *Store) exec(op, query string, args ...any) (int64, error) {
	q, err := s.querier()
	if err != nil {
		return 0, s.fail(op, err)
	}
	res, err := q.Exec(query, args...)
	if err != nil {
		return 0, s.fail(op, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, s.fail(op, err)
	}
	return id, nil
}

// execKeyed runs an UPDATE or DELETE that must match exactly one row.
func (s *Store) execKeyed(op, query string, args ...any) error {
	q, err := s.querier()
	if err != nil {
		return s.fail(op, err)
	}
	res, err := q.Exec(query, args...)
	if err != nil {
		return s.fail(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return s.fail(op, err)
	}
	if n == 0 {
		return s.fail(op, ErrNotFound)
	}
	return nil
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

// startMillis rounds a range start up to the next stored millisecond, so no
// row earlier than t within the same millisecond matches. Range ends use
// toMillis, which already rounds down.
func startMillis(t time.Time) int64 {
	ms := toMillis(t)
	if t.Nanosecond()%int(time.Millisecond) != 0 {
		ms++
	}
	return ms
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

const dateLayout = "2006-01-02"

func toDate(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(dateLayout), Valid: true}
}

func fromDate(v sql.NullString) time.Time {
	if !v.Valid || v.String == "" {
		return time.Time{}
	}
	// Tolerate full timestamps written by older tools.
	if len(v.String) > len(dateLayout) {
		v.String = v.String[:len(dateLayout)]
	}
	t, err := time.Parse(dateLayout, v.String)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}

func idPtr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	id := v.Int64
	return &id
}
