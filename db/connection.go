package db

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// writePragmas tune the write handle for the fetch workload: bursts of
// message upserts into one table, while readers sit on their own WAL
// snapshot connections.
var writePragmas = []string{
	"PRAGMA busy_timeout = 10000", // fetch batches and tidy can contend
	"PRAGMA synchronous = NORMAL",
	"PRAGMA wal_autocheckpoint = 2000",
	"PRAGMA cache_size = -16000", // 16MB, the messages table dominates
	"PRAGMA temp_store = MEMORY",
}

// openWrite opens the shared read-write handle. SQLite allows a single
// writer, so the pool is pinned to one connection for the process lifetime.
func openWrite(database string) (*sql.DB, error) {
	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", database)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range writePragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}
	return db, nil
}
