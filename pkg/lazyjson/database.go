package lazyjson

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/ncruces/go-sqlite3/driver" // database/sql driver
	_ "github.com/ncruces/go-sqlite3/embed"  // embedded sqlite build
)

// schema holds every record as raw bytes plus its content token so
// reconciliation can compare versions without reading values.
const schema = `
CREATE TABLE IF NOT EXISTS records (
	key   TEXT PRIMARY KEY,
	value BLOB NOT NULL,
	token TEXT NOT NULL
);
`

// DBBackend stores records in a SQLite database (the "database" backend).
type DBBackend struct {
	db *sql.DB
}

// OpenDB opens (and initializes) the database backend at the given DSN.
func OpenDB(dsn string) (*DBBackend, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()

		return nil, fmt.Errorf("init database schema: %w", err)
	}

	return &DBBackend{db: db}, nil
}

// Close releases the underlying database handle.
func (b *DBBackend) Close() error { return b.db.Close() }

// Name implements Backend.
func (b *DBBackend) Name() string { return "database" }

// Exists implements Backend.
func (b *DBBackend) Exists(ctx context.Context, key string) (bool, error) {
	var one int

	err := b.db.QueryRowContext(ctx, `SELECT 1 FROM records WHERE key = ?`, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("db exists %s: %w", key, err)
	}

	return true, nil
}

// GetBytes implements Backend.
func (b *DBBackend) GetBytes(ctx context.Context, key string) ([]byte, error) {
	var value []byte

	err := b.db.QueryRowContext(ctx, `SELECT value FROM records WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMissing
	}

	if err != nil {
		return nil, fmt.Errorf("db get %s: %w", key, err)
	}

	return value, nil
}

// PutBytes implements Backend with an atomic upsert.
func (b *DBBackend) PutBytes(ctx context.Context, key string, data []byte) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO records (key, value, token) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, token = excluded.token`,
		key, data, ContentToken(data))
	if err != nil {
		return fmt.Errorf("db put %s: %w", key, err)
	}

	return nil
}

// Delete implements Backend.
func (b *DBBackend) Delete(ctx context.Context, key string) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM records WHERE key = ?`, key); err != nil {
		return fmt.Errorf("db delete %s: %w", key, err)
	}

	return nil
}

// KeysPrefix implements Backend.
func (b *DBBackend) KeysPrefix(ctx context.Context, prefix string) ([]string, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT key FROM records WHERE key LIKE ? || '%' ORDER BY key`, prefix)
	if err != nil {
		return nil, fmt.Errorf("db keys %s: %w", prefix, err)
	}
	defer rows.Close()

	var keys []string

	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("db keys scan: %w", err)
		}

		keys = append(keys, key)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db keys: %w", err)
	}

	return keys, nil
}

// Token implements Backend from the stored token column.
func (b *DBBackend) Token(ctx context.Context, key string) (string, error) {
	var token string

	err := b.db.QueryRowContext(ctx, `SELECT token FROM records WHERE key = ?`, key).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrMissing
	}

	if err != nil {
		return "", fmt.Errorf("db token %s: %w", key, err)
	}

	return token, nil
}

// ReadMap implements Hashmapper.
func (b *DBBackend) ReadMap(ctx context.Context, key string) (map[string]string, error) {
	data, err := b.GetBytes(ctx, key)
	if err != nil {
		return nil, err
	}

	var m map[string]string
	if err := DecodeRecord(key, data, &m); err != nil {
		return nil, err
	}

	return m, nil
}

// WriteMap implements Hashmapper.
func (b *DBBackend) WriteMap(ctx context.Context, key string, m map[string]string) error {
	data, err := CanonicalJSON(m)
	if err != nil {
		return err
	}

	return b.PutBytes(ctx, key, data)
}
