package store

import (
	"database/sql"
	"fmt"
)

const ddl = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS chunks (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    owner       TEXT NOT NULL,
    repository  TEXT NOT NULL,
    branch      TEXT NOT NULL,
    path        TEXT NOT NULL,
    type        TEXT NOT NULL,
    file_index  INTEGER NOT NULL,
    chunk_index INTEGER NOT NULL,
    content     TEXT NOT NULL,
    shasum      TEXT NOT NULL,
    file_shasum TEXT NOT NULL,
    updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(owner, repository, branch, path, type, file_index, chunk_index)
);

CREATE INDEX IF NOT EXISTS idx_chunks_file_shasum
    ON chunks(owner, repository, branch, file_shasum);

CREATE INDEX IF NOT EXISTS idx_chunks_path
    ON chunks(owner, repository, branch, path);

CREATE VIRTUAL TABLE IF NOT EXISTS vec_chunks USING vec0(
    chunk_id INTEGER PRIMARY KEY,
    embedding float[%d]
);
`

// Init creates the schema if it doesn't exist. dim is the fixed embedding
// dimensionality of the vec0 table.
func Init(db *sql.DB, dim int) error {
	_, err := db.Exec(fmt.Sprintf(ddl, dim))
	return err
}
