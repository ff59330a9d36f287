package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repovec/internal/chunk"
	"repovec/internal/execution"
)

const testDim = 4

var testScope = execution.Scope{Owner: "acme", Repo: "widgets"}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "index.db"), testDim)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newChunkedFile(path string, typ chunk.Type, index int, chunks []string, vectors [][]float32) chunk.ChunkedFile {
	return chunk.ChunkedFile{
		Path:    path,
		Index:   index,
		Type:    typ,
		Shasum:  chunk.Fingerprint(chunks),
		Chunks:  chunks,
		Vectors: vectors,
	}
}

func TestInsertAndGetByFingerprint(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cf := newChunkedFile("main.go", chunk.TypeLine, 0,
		[]string{"func main() {", "fmt.Println(1)"},
		[][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}})

	require.NoError(t, s.Insert(ctx, testScope, "main", cf))

	count, err := s.GetByFingerprint(ctx, testScope, "main", chunk.TypeLine, cf.Shasum)
	require.NoError(t, err)
	assert.Equal(t, 2, count, "one row per chunk")

	count, err = s.GetByFingerprint(ctx, testScope, "develop", chunk.TypeLine, cf.Shasum)
	require.NoError(t, err)
	assert.Zero(t, count, "fingerprints are branch scoped")

	count, err = s.GetByFingerprint(ctx, testScope, "main", chunk.TypeBlock, cf.Shasum)
	require.NoError(t, err)
	assert.Zero(t, count, "fingerprints are type scoped")
}

func TestInsertRejectsVectorMismatch(t *testing.T) {
	s := newTestStore(t)

	cf := newChunkedFile("f.go", chunk.TypeLine, 0,
		[]string{"a", "b"}, [][]float32{{1, 0, 0, 0}})
	assert.Error(t, s.Insert(context.Background(), testScope, "main", cf))
}

func TestDeleteByFingerprint(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cf := newChunkedFile("f.go", chunk.TypeLine, 0,
		[]string{"a"}, [][]float32{{1, 0, 0, 0}})
	other := newChunkedFile("g.go", chunk.TypeLine, 0,
		[]string{"b"}, [][]float32{{0, 1, 0, 0}})
	require.NoError(t, s.Insert(ctx, testScope, "main", cf))
	require.NoError(t, s.Insert(ctx, testScope, "main", other))

	require.NoError(t, s.DeleteByFingerprint(ctx, testScope, "main", cf.Shasum))

	count, err := s.GetByFingerprint(ctx, testScope, "main", chunk.TypeLine, cf.Shasum)
	require.NoError(t, err)
	assert.Zero(t, count)

	count, err = s.GetByFingerprint(ctx, testScope, "main", chunk.TypeLine, other.Shasum)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "unrelated fingerprints survive")
}

func TestDeleteByPathRemovesAllPasses(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	lines := newChunkedFile("f.go", chunk.TypeLine, 0,
		[]string{"a"}, [][]float32{{1, 0, 0, 0}})
	blocks := newChunkedFile("f.go", chunk.TypeBlock, 1,
		[]string{"func a() {}"}, [][]float32{{0, 1, 0, 0}})
	require.NoError(t, s.Insert(ctx, testScope, "main", lines))
	require.NoError(t, s.Insert(ctx, testScope, "main", blocks))

	require.NoError(t, s.DeleteByPath(ctx, testScope, "main", "f.go"))

	paths, err := s.DistinctPaths(ctx, testScope, "main")
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestDistinctPaths(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, path := range []string{"b.go", "a.go"} {
		cf := newChunkedFile(path, chunk.TypeLine, 0,
			[]string{"x", "y"}, [][]float32{{float32(i), 1, 0, 0}, {0, 0, 1, 0}})
		require.NoError(t, s.Insert(ctx, testScope, "main", cf))
	}

	paths, err := s.DistinctPaths(ctx, testScope, "main")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go", "b.go"}, paths, "sorted, one entry per path")
}

func TestMatchSimilar(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	near := newChunkedFile("near.go", chunk.TypeBlock, 0,
		[]string{"func near() {}"}, [][]float32{{1, 0, 0, 0}})
	far := newChunkedFile("far.go", chunk.TypeBlock, 0,
		[]string{"func far() {}"}, [][]float32{{0, 0, 0, 1}})
	require.NoError(t, s.Insert(ctx, testScope, "main", near))
	require.NoError(t, s.Insert(ctx, testScope, "main", far))

	matches, err := s.MatchSimilar(ctx, testScope, "main", chunk.TypeBlock, []float32{0.9, 0.1, 0, 0}, 5)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "near.go", matches[0].Path)
	assert.Equal(t, "func near() {}", matches[0].Content)
	assert.Less(t, matches[0].Distance, matches[1].Distance)
}

func TestMatchSimilarScopeAndTypeFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	block := newChunkedFile("ours.go", chunk.TypeBlock, 0,
		[]string{"func a() {}"}, [][]float32{{1, 0, 0, 0}})
	line := newChunkedFile("ours.go", chunk.TypeLine, 1,
		[]string{"a := 1"}, [][]float32{{1, 0, 0, 0}})
	require.NoError(t, s.Insert(ctx, testScope, "main", block))
	require.NoError(t, s.Insert(ctx, testScope, "main", line))

	foreign := newChunkedFile("theirs.go", chunk.TypeBlock, 0,
		[]string{"func b() {}"}, [][]float32{{1, 0, 0, 0}})
	require.NoError(t, s.Insert(ctx, execution.Scope{Owner: "other", Repo: "repo"}, "main", foreign))

	matches, err := s.MatchSimilar(ctx, testScope, "main", chunk.TypeBlock, []float32{1, 0, 0, 0}, 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "ours.go", matches[0].Path)
	assert.Equal(t, chunk.TypeBlock, matches[0].Type)
}

func TestMatchSimilarRespectsTopK(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		cf := newChunkedFile(string(rune('a'+i))+".go", chunk.TypeBlock, 0,
			[]string{"func x() {}"}, [][]float32{{float32(i), 1, 0, 0}})
		require.NoError(t, s.Insert(ctx, testScope, "main", cf))
	}

	matches, err := s.MatchSimilar(ctx, testScope, "main", chunk.TypeBlock, []float32{0, 1, 0, 0}, 2)
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}

func TestDuplicateBranch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cf := newChunkedFile("f.go", chunk.TypeBlock, 0,
		[]string{"func a() {}", "func b() {}"},
		[][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}})
	require.NoError(t, s.Insert(ctx, testScope, "main", cf))

	require.NoError(t, s.DuplicateBranch(ctx, testScope, "main", "develop"))

	count, err := s.GetByFingerprint(ctx, testScope, "develop", chunk.TypeBlock, cf.Shasum)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// Vectors are copied too: similarity search works on the target branch.
	matches, err := s.MatchSimilar(ctx, testScope, "develop", chunk.TypeBlock, []float32{1, 0, 0, 0}, 5)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "f.go", matches[0].Path)

	// Source is untouched.
	count, err = s.GetByFingerprint(ctx, testScope, "main", chunk.TypeBlock, cf.Shasum)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestDuplicateBranchEmptySource(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.DuplicateBranch(context.Background(), testScope, "main", "develop"))

	paths, err := s.DistinctPaths(context.Background(), testScope, "develop")
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestDeleteByBranch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cf := newChunkedFile("f.go", chunk.TypeLine, 0,
		[]string{"a"}, [][]float32{{1, 0, 0, 0}})
	require.NoError(t, s.Insert(ctx, testScope, "main", cf))
	require.NoError(t, s.Insert(ctx, testScope, "develop", cf))

	require.NoError(t, s.DeleteByBranch(ctx, testScope, "develop"))

	count, err := s.GetByFingerprint(ctx, testScope, "develop", chunk.TypeLine, cf.Shasum)
	require.NoError(t, err)
	assert.Zero(t, count)

	count, err = s.GetByFingerprint(ctx, testScope, "main", chunk.TypeLine, cf.Shasum)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "other branches untouched")
}

func TestUpdateVector(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cf := newChunkedFile("f.go", chunk.TypeBlock, 0,
		[]string{"func a() {}"}, [][]float32{{1, 0, 0, 0}})
	require.NoError(t, s.Insert(ctx, testScope, "main", cf))

	require.NoError(t, s.UpdateVector(ctx, testScope, "main", "f.go", chunk.TypeBlock, 0, 0, []float32{0, 0, 0, 1}))

	matches, err := s.MatchSimilar(ctx, testScope, "main", chunk.TypeBlock, []float32{0, 0, 0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.InDelta(t, 0, matches[0].Distance, 1e-6)
}

func TestUpdateVectorMissingRow(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateVector(context.Background(), testScope, "main", "ghost.go", chunk.TypeBlock, 0, 0, []float32{1, 0, 0, 0})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locate chunk")
}
