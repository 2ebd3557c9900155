// Package sqlitestore persists datastore entries in a SQLite database.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/agentic-research/topoproc/internal/datastore"
)

// Backend implements datastore.Backend with one entries table. Each Apply
// runs in its own SQL transaction.
type Backend struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database at dbPath.
func Open(dbPath string) (*Backend, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	// Commits are serialized by the broker; one connection avoids
	// SQLITE_BUSY between pool connections.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS entries (
		path TEXT PRIMARY KEY,
		value BLOB NOT NULL
	) WITHOUT ROWID;
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Backend{db: db, path: dbPath}, nil
}

// OpenStore opens dbPath and wraps it in a datastore broker of type typ.
func OpenStore(dbPath string, typ datastore.Type, logger *zap.Logger) (*datastore.Broker, error) {
	b, err := Open(dbPath)
	if err != nil {
		return nil, err
	}
	return datastore.NewBroker(typ, b, logger), nil
}

func (b *Backend) Apply(ctx context.Context, writes []datastore.Write) ([]datastore.Change, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	get, err := tx.PrepareContext(ctx, `SELECT value FROM entries WHERE path = ?`)
	if err != nil {
		return nil, fmt.Errorf("prepare select: %w", err)
	}
	defer func() { _ = get.Close() }()
	put, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO entries (path, value) VALUES (?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = put.Close() }()
	del, err := tx.PrepareContext(ctx, `DELETE FROM entries WHERE path = ?`)
	if err != nil {
		return nil, fmt.Errorf("prepare delete: %w", err)
	}
	defer func() { _ = del.Close() }()

	changes := make([]datastore.Change, 0, len(writes))
	for _, w := range writes {
		var before []byte
		switch err := get.QueryRowContext(ctx, w.Path).Scan(&before); {
		case errors.Is(err, sql.ErrNoRows):
			before = nil
		case err != nil:
			return nil, fmt.Errorf("read %s: %w", w.Path, err)
		}

		var after []byte
		switch w.Op {
		case datastore.OpPut:
			after = w.Value
		case datastore.OpMerge:
			if after, err = datastore.MergeJSON(before, w.Value); err != nil {
				return nil, fmt.Errorf("merge %s: %w", w.Path, err)
			}
		case datastore.OpDelete:
		}

		if after == nil {
			if _, err := del.ExecContext(ctx, w.Path); err != nil {
				return nil, fmt.Errorf("delete %s: %w", w.Path, err)
			}
		} else if _, err := put.ExecContext(ctx, w.Path, after); err != nil {
			return nil, fmt.Errorf("write %s: %w", w.Path, err)
		}
		changes = append(changes, datastore.Change{Path: w.Path, Before: before, After: after})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return changes, nil
}

func (b *Backend) Get(ctx context.Context, path string) ([]byte, bool, error) {
	var v []byte
	err := b.db.QueryRowContext(ctx, `SELECT value FROM entries WHERE path = ?`, path).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (b *Backend) Scan(ctx context.Context, prefix string) (map[string][]byte, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT path, value FROM entries WHERE instr(path, ?) = 1 ORDER BY path`, prefix)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string][]byte)
	for rows.Next() {
		var (
			path  string
			value []byte
		)
		if err := rows.Scan(&path, &value); err != nil {
			return nil, err
		}
		out[path] = value
	}
	return out, rows.Err()
}

func (b *Backend) Close() error {
	return b.db.Close()
}

var _ datastore.Backend = (*Backend)(nil)
