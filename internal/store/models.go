package store

import (
	"time"

	"repovec/internal/chunk"
)

// StoredChunk is one persisted chunk row. The unique key is
// (owner, repository, branch, path, type, file_index, chunk_index).
type StoredChunk struct {
	ID         int64
	Owner      string
	Repository string
	Branch     string
	Path       string
	Type       chunk.Type
	FileIndex  int
	ChunkIndex int
	Content    string
	Shasum     string // hash of this chunk's own content
	FileShasum string // fingerprint of the whole chunked file
	UpdatedAt  time.Time
}

// Match is a chunk row returned by similarity search with its distance to
// the query embedding.
type Match struct {
	StoredChunk
	Distance float64
}
