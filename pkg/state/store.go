// Package state implements the durable State Store (spec §4.3): a
// sqlite-backed record of every container's resolved configuration and the
// packages/dependencies/repositories registered against it. Grounded on the
// original's state.py YboxStateManagement, translated into database/sql plus
// github.com/mattn/go-sqlite3, with EXCLUSIVE transactions standing in for
// sqlite3's isolation_level=None + explicit BEGIN EXCLUSIVE used there to get
// serializable semantics.
package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/sumwale/ybox-sub000/pkg/config"
)

var registerDriverOnce sync.Once

const driverName = "ybox_sqlite3"

func registerDriver() {
	registerDriverOnce.Do(func() {
		sql.Register(driverName, &sqlite3.SQLiteDriver{
			ConnectHook: func(conn *sqlite3.SQLiteConn) error {
				if err := conn.RegisterFunc("REGEXP", regexpFunc, true); err != nil {
					return err
				}
				if err := conn.RegisterFunc("JSON_FROM_CSV", jsonFromCSVFunc, true); err != nil {
					return err
				}
				return conn.RegisterFunc("EQUIV_CONFIG", equivConfigFunc, true)
			},
		})
	})
}

func regexpFunc(pattern, value string) (bool, error) {
	return regexp.MatchString(pattern, value)
}

func jsonFromCSVFunc(csv string) (string, error) {
	parts := []string{}
	for _, p := range splitCSV(csv) {
		parts = append(parts, p)
	}
	b, err := json.Marshal(parts)
	return string(b), err
}

func equivConfigFunc(confA, confB string) bool {
	equal, err := config.EquivConfig(confA, confB)
	return err == nil && equal
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return out
}

// dbx is satisfied by both *sql.DB and *sql.Tx, letting the CRUD helpers
// below run either inside an explicit EXCLUSIVE transaction or, for plain
// reads, directly against the pool.
type dbx interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Store is a handle to the state database. It is not safe for concurrent use
// by multiple goroutines, matching the original's explicit non-thread-safety
// contract.
type Store struct {
	db   *sql.DB
	log  *logrus.Entry
	inTx bool
}

// Open connects to (creating if necessary) the state database under dataDir
// and brings its schema up to date.
func Open(log *logrus.Entry, dataDir string) (*Store, error) {
	registerDriver()
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating data directory %q: %w", dataDir, err)
	}
	dbPath := filepath.Join(dataDir, "state.db")
	db, err := sql.Open(driverName, dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1) // sqlite3 + EXCLUSIVE transactions require a single connection

	store := &Store{db: db, log: log}
	if err := store.withExclusiveTx(initSchema); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// withExclusiveTx runs fn inside an EXCLUSIVE transaction, started with a raw
// "BEGIN EXCLUSIVE TRANSACTION" statement rather than database/sql's own
// Begin (which issues a plain deferred BEGIN sqlite3 has no EXCLUSIVE variant
// for via the driver API). db.SetMaxOpenConns(1) guarantees every call here
// reuses the same underlying connection, so the explicit BEGIN/COMMIT pair
// below is safe despite going around *sql.Tx. Mirrors the original's
// _begin_transaction/_internal_commit pairing.
func (s *Store) withExclusiveTx(fn func(tx dbx) error) error {
	if s.inTx {
		// an explicit BeginTransaction is already open; compose within it
		// rather than nesting a second BEGIN, per spec §4.3.
		return fn(s.db)
	}
	if _, err := s.db.Exec("BEGIN EXCLUSIVE TRANSACTION"); err != nil {
		return err
	}
	if err := fn(s.db); err != nil {
		s.db.Exec("ROLLBACK")
		return err
	}
	_, err := s.db.Exec("COMMIT")
	return err
}

// BeginTransaction opens an explicit EXCLUSIVE transaction that every
// subsequent public Store operation on this instance will run inside,
// without issuing its own BEGIN/COMMIT, until Commit or Rollback is called.
// Used to compose multiple state operations atomically (spec §4.3).
func (s *Store) BeginTransaction() error {
	if s.inTx {
		return fmt.Errorf("a transaction is already open on this store")
	}
	if _, err := s.db.Exec("BEGIN EXCLUSIVE TRANSACTION"); err != nil {
		return err
	}
	s.inTx = true
	return nil
}

// Commit commits the transaction opened by BeginTransaction.
func (s *Store) Commit() error {
	if !s.inTx {
		return fmt.Errorf("no transaction is open on this store")
	}
	_, err := s.db.Exec("COMMIT")
	s.inTx = false
	return err
}

// Rollback aborts the transaction opened by BeginTransaction, leaving the
// database byte-identical (for the touched rows) to its pre-transaction
// state, per spec §8's round-trip law.
func (s *Store) Rollback() error {
	if !s.inTx {
		return fmt.Errorf("no transaction is open on this store")
	}
	_, err := s.db.Exec("ROLLBACK")
	s.inTx = false
	return err
}

func jsonEncode(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func jsonDecodeStrings(raw string) []string {
	var out []string
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

func jsonDecodeMap(raw string) map[string]string {
	out := map[string]string{}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

// newUniqueTombstoneName generates a UUID-named placeholder for a destroyed
// shared-root container, retrying on the astronomically unlikely collision
// (spec supplement, original's register_container retry loop).
func newUniqueTombstoneName(tx dbx) (string, error) {
	for {
		name := uuid.NewString()
		var exists int
		err := tx.QueryRow("SELECT 1 FROM containers WHERE name = ?", name).Scan(&exists)
		if err == sql.ErrNoRows {
			return name, nil
		}
		if err != nil {
			return "", err
		}
	}
}
