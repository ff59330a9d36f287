package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Type identifies the chunking strategy that produced a ChunkedFile.
type Type string

const (
	TypeLine  Type = "line"
	TypeBlock Type = "block"
)

// Types lists all strategy types in storage order.
var Types = []Type{TypeLine, TypeBlock}

// ChunkedFile is one source file at one revision decomposed by one
// chunking strategy. Immutable after creation except for Vectors, which
// AttachVectors sets exactly once.
type ChunkedFile struct {
	Path    string
	Index   int // disambiguates multiple chunking passes over the same path
	Type    Type
	Shasum  string // fingerprint over the joined chunk content
	Chunks  []string
	Vectors [][]float32
}

// AttachVectors sets the embedding vectors, index-aligned with Chunks.
func (cf *ChunkedFile) AttachVectors(vectors [][]float32) error {
	if cf.Vectors != nil {
		return fmt.Errorf("vectors already attached for %s", cf.Path)
	}
	if len(vectors) != len(cf.Chunks) {
		return fmt.Errorf("%s: %d vectors for %d chunks", cf.Path, len(vectors), len(cf.Chunks))
	}
	cf.Vectors = vectors
	return nil
}

// Strategy turns a file's text into ordered chunk lists. Implementations
// are pure and stateless; a heuristic strategy can be swapped for a real
// per-language parser without touching the orchestrators.
type Strategy interface {
	Type() Type
	Chunk(path, content string, chunkSize int) []ChunkedFile
}

// DefaultStrategies are applied, in order, by ChunkAll.
var DefaultStrategies = []Strategy{LineStrategy{}, BlockStrategy{}}

// ChunkAll runs every default strategy over the content and returns the
// union, with Index set to the pass order.
func ChunkAll(path, content string, chunkSize int) []ChunkedFile {
	var out []ChunkedFile
	for _, s := range DefaultStrategies {
		out = append(out, s.Chunk(path, content, chunkSize)...)
	}
	for i := range out {
		out[i].Index = i
	}
	return out
}

// Fingerprint hashes the joined chunk content. Any change to any chunk
// changes the fingerprint.
func Fingerprint(chunks []string) string {
	return HashContent(strings.Join(chunks, "\n"))
}

// HashContent returns the SHA-256 hex digest of the content.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
