package store

import (
	"context"
	"database/sql"
	"fmt"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/sync/errgroup"

	"repovec/internal/chunk"
	"repovec/internal/execution"
)

func init() {
	sqlite_vec.Auto()
}

// maxBatchSize bounds the row count per statement in bulk operations.
const maxBatchSize = 500

// Store is the content-addressed persistence layer for chunk embeddings.
// Rows are addressed by (owner, repository, branch, path, type, file
// index, chunk index) and by content fingerprint.
type Store interface {
	// Insert persists one row per chunk of the chunked file, each carrying
	// its own vector slice. Rows are inserted concurrently; any single
	// chunk failure aborts the whole file's insert.
	Insert(ctx context.Context, scope execution.Scope, branch string, cf chunk.ChunkedFile) error
	// GetByFingerprint is the dedup probe: it returns how many rows exist
	// for the chunked-file fingerprint.
	GetByFingerprint(ctx context.Context, scope execution.Scope, branch string, typ chunk.Type, fileShasum string) (int, error)
	// DeleteByFingerprint removes all rows carrying the fingerprint.
	DeleteByFingerprint(ctx context.Context, scope execution.Scope, branch, fileShasum string) error
	// DeleteByPath removes all rows for one path.
	DeleteByPath(ctx context.Context, scope execution.Scope, branch, path string) error
	// DeleteByBranch removes all rows for one branch.
	DeleteByBranch(ctx context.Context, scope execution.Scope, branch string) error
	// DistinctPaths lists every indexed path on a branch.
	DistinctPaths(ctx context.Context, scope execution.Scope, branch string) ([]string, error)
	// MatchSimilar returns up to topK rows of the given type nearest to the
	// query embedding. Relevance ordering is the vec0 distance (L2 over the
	// stored vectors); smaller is closer.
	MatchSimilar(ctx context.Context, scope execution.Scope, branch string, typ chunk.Type, query []float32, topK int) ([]Match, error)
	// DuplicateBranch bulk-copies every row of sourceBranch into
	// targetBranch, batched to respect maxBatchSize. Vectors are copied,
	// not re-embedded.
	DuplicateBranch(ctx context.Context, scope execution.Scope, sourceBranch, targetBranch string) error
	// UpdateVector replaces the vector of one row. This is the only
	// mutation path for stored vectors.
	UpdateVector(ctx context.Context, scope execution.Scope, branch, path string, typ chunk.Type, fileIndex, chunkIndex int, vector []float32) error
	// Close closes the underlying database.
	Close() error
}

// SQLiteStore implements Store backed by SQLite + sqlite-vec.
type SQLiteStore struct {
	db  *sql.DB
	dim int
}

// Open creates or opens the database at the given path and initializes
// the schema with the given embedding dimensionality.
func Open(dbPath string, dim int) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := Init(db, dim); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &SQLiteStore{db: db, dim: dim}, nil
}

func (s *SQLiteStore) Insert(ctx context.Context, scope execution.Scope, branch string, cf chunk.ChunkedFile) error {
	if len(cf.Vectors) != len(cf.Chunks) {
		return fmt.Errorf("%s: %d vectors for %d chunks", cf.Path, len(cf.Vectors), len(cf.Chunks))
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := range cf.Chunks {
		g.Go(func() error {
			return s.insertOne(ctx, scope, branch, cf, i)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("insert %s: %w", cf.Path, err)
	}
	return nil
}

func (s *SQLiteStore) insertOne(ctx context.Context, scope execution.Scope, branch string, cf chunk.ChunkedFile, i int) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO chunks (owner, repository, branch, path, type, file_index, chunk_index, content, shasum, file_shasum, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)`,
		scope.Owner, scope.Repo, branch, cf.Path, string(cf.Type), cf.Index, i,
		cf.Chunks[i], chunk.HashContent(cf.Chunks[i]), cf.Shasum,
	)
	if err != nil {
		return fmt.Errorf("chunk %d: %w", i, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}

	blob, err := sqlite_vec.SerializeFloat32(cf.Vectors[i])
	if err != nil {
		return fmt.Errorf("serialize embedding for chunk %d: %w", i, err)
	}
	if _, err := s.db.ExecContext(ctx, "INSERT INTO vec_chunks (chunk_id, embedding) VALUES (?, ?)", id, blob); err != nil {
		return fmt.Errorf("insert embedding for chunk %d: %w", i, err)
	}
	return nil
}

func (s *SQLiteStore) GetByFingerprint(ctx context.Context, scope execution.Scope, branch string, typ chunk.Type, fileShasum string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM chunks
		WHERE owner = ? AND repository = ? AND branch = ? AND type = ? AND file_shasum = ?`,
		scope.Owner, scope.Repo, branch, string(typ), fileShasum,
	).Scan(&count)
	return count, err
}

func (s *SQLiteStore) DeleteByFingerprint(ctx context.Context, scope execution.Scope, branch, fileShasum string) error {
	return s.deleteWhere(ctx, "file_shasum = ?", scope, branch, fileShasum)
}

func (s *SQLiteStore) DeleteByPath(ctx context.Context, scope execution.Scope, branch, path string) error {
	return s.deleteWhere(ctx, "path = ?", scope, branch, path)
}

func (s *SQLiteStore) DeleteByBranch(ctx context.Context, scope execution.Scope, branch string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM vec_chunks WHERE chunk_id IN (
			SELECT id FROM chunks WHERE owner = ? AND repository = ? AND branch = ?)`,
		scope.Owner, scope.Repo, branch); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM chunks WHERE owner = ? AND repository = ? AND branch = ?",
		scope.Owner, scope.Repo, branch); err != nil {
		return err
	}
	return tx.Commit()
}

// deleteWhere removes chunk rows matching scope+branch plus one extra
// predicate, together with their vectors.
func (s *SQLiteStore) deleteWhere(ctx context.Context, cond string, scope execution.Scope, branch string, arg any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM vec_chunks WHERE chunk_id IN (
			SELECT id FROM chunks WHERE owner = ? AND repository = ? AND branch = ? AND `+cond+`)`,
		scope.Owner, scope.Repo, branch, arg); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM chunks WHERE owner = ? AND repository = ? AND branch = ? AND "+cond,
		scope.Owner, scope.Repo, branch, arg); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) DistinctPaths(ctx context.Context, scope execution.Scope, branch string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT path FROM chunks
		WHERE owner = ? AND repository = ? AND branch = ?
		ORDER BY path`,
		scope.Owner, scope.Repo, branch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

func (s *SQLiteStore) MatchSimilar(ctx context.Context, scope execution.Scope, branch string, typ chunk.Type, query []float32, topK int) ([]Match, error) {
	blob, err := sqlite_vec.SerializeFloat32(query)
	if err != nil {
		return nil, fmt.Errorf("serialize query embedding: %w", err)
	}

	// The KNN scan happens before the scope filter, so over-fetch from the
	// vec0 table and trim after filtering.
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.owner, c.repository, c.branch, c.path, c.type, c.file_index, c.chunk_index,
		       c.content, c.shasum, c.file_shasum, v.distance
		FROM (
			SELECT chunk_id, distance FROM vec_chunks
			WHERE embedding MATCH ?
			ORDER BY distance
			LIMIT ?
		) v
		JOIN chunks c ON c.id = v.chunk_id
		WHERE c.owner = ? AND c.repository = ? AND c.branch = ? AND c.type = ?
		ORDER BY v.distance
		LIMIT ?`,
		blob, topK*8, scope.Owner, scope.Repo, branch, string(typ), topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		var typStr string
		err := rows.Scan(
			&m.ID, &m.Owner, &m.Repository, &m.Branch, &m.Path, &typStr,
			&m.FileIndex, &m.ChunkIndex, &m.Content, &m.Shasum, &m.FileShasum,
			&m.Distance,
		)
		if err != nil {
			return nil, err
		}
		m.Type = chunk.Type(typStr)
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func (s *SQLiteStore) DuplicateBranch(ctx context.Context, scope execution.Scope, sourceBranch, targetBranch string) error {
	for offset := 0; ; offset += maxBatchSize {
		n, err := s.duplicateBatch(ctx, scope, sourceBranch, targetBranch, offset)
		if err != nil {
			return fmt.Errorf("duplicate %s -> %s at offset %d: %w", sourceBranch, targetBranch, offset, err)
		}
		if n < maxBatchSize {
			return nil
		}
	}
}

// duplicateBatch copies up to maxBatchSize rows (and their vectors) in one
// transaction and returns how many it copied.
func (s *SQLiteStore) duplicateBatch(ctx context.Context, scope execution.Scope, sourceBranch, targetBranch string, offset int) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT c.path, c.type, c.file_index, c.chunk_index, c.content, c.shasum, c.file_shasum, v.embedding
		FROM chunks c
		JOIN vec_chunks v ON v.chunk_id = c.id
		WHERE c.owner = ? AND c.repository = ? AND c.branch = ?
		ORDER BY c.id
		LIMIT ? OFFSET ?`,
		scope.Owner, scope.Repo, sourceBranch, maxBatchSize, offset)
	if err != nil {
		return 0, err
	}

	type row struct {
		path, typ, content, shasum, fileShasum string
		fileIndex, chunkIndex                  int
		embedding                              []byte
	}
	var batch []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.path, &r.typ, &r.fileIndex, &r.chunkIndex, &r.content, &r.shasum, &r.fileShasum, &r.embedding); err != nil {
			rows.Close()
			return 0, err
		}
		batch = append(batch, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, r := range batch {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO chunks (owner, repository, branch, path, type, file_index, chunk_index, content, shasum, file_shasum, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)`,
			scope.Owner, scope.Repo, targetBranch, r.path, r.typ, r.fileIndex, r.chunkIndex,
			r.content, r.shasum, r.fileShasum)
		if err != nil {
			return 0, err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO vec_chunks (chunk_id, embedding) VALUES (?, ?)", id, r.embedding); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(batch), nil
}

func (s *SQLiteStore) UpdateVector(ctx context.Context, scope execution.Scope, branch, path string, typ chunk.Type, fileIndex, chunkIndex int, vector []float32) error {
	blob, err := sqlite_vec.SerializeFloat32(vector)
	if err != nil {
		return fmt.Errorf("serialize embedding: %w", err)
	}

	var id int64
	err = s.db.QueryRowContext(ctx, `
		SELECT id FROM chunks
		WHERE owner = ? AND repository = ? AND branch = ? AND path = ? AND type = ? AND file_index = ? AND chunk_index = ?`,
		scope.Owner, scope.Repo, branch, path, string(typ), fileIndex, chunkIndex,
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("locate chunk %s[%d:%d]: %w", path, fileIndex, chunkIndex, err)
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM vec_chunks WHERE chunk_id = ?", id); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "INSERT INTO vec_chunks (chunk_id, embedding) VALUES (?, ?)", id, blob); err != nil {
		return err
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
