package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const snapshotSchema = `
CREATE TABLE IF NOT EXISTS snapshots (
	key TEXT PRIMARY KEY,
	version INTEGER NOT NULL,
	fetched_at INTEGER NOT NULL,
	data BLOB NOT NULL
);`

// SQLitePersister keeps snapshots in a local SQLite database.
type SQLitePersister struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the snapshot database at path.
func OpenSQLite(path string) (*SQLitePersister, error) {
	if path == "" {
		return nil, fmt.Errorf("cache db path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(context.Background(), snapshotSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLitePersister{db: db}, nil
}

func (p *SQLitePersister) Save(ctx context.Context, key Key, rec Record) error {
	_, err := p.db.ExecContext(ctx, `
INSERT INTO snapshots (key, version, fetched_at, data) VALUES (?, ?, ?, ?)
ON CONFLICT(key) DO UPDATE SET version = excluded.version, fetched_at = excluded.fetched_at, data = excluded.data`,
		string(key), int64(rec.Version), rec.FetchedAt.UnixNano(), rec.Data)
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", key, err)
	}
	return nil
}

func (p *SQLitePersister) Load(ctx context.Context, key Key) (Record, bool, error) {
	var (
		version   int64
		fetchedAt int64
		data      []byte
	)
	err := p.db.QueryRowContext(ctx, "SELECT version, fetched_at, data FROM snapshots WHERE key = ?", string(key)).
		Scan(&version, &fetchedAt, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("load snapshot %s: %w", key, err)
	}
	return Record{Version: uint64(version), FetchedAt: time.Unix(0, fetchedAt), Data: data}, true, nil
}

func (p *SQLitePersister) Close() error {
	return p.db.Close()
}
