package walker

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// maxFileSize is the largest file we'll consider (1 MB).
const maxFileSize = 1 << 20

// mediaExtensions are never indexed: images, audio, video, and PDF.
var mediaExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".bmp": true,
	".svg": true, ".webp": true, ".ico": true,
	".mp3": true, ".wav": true, ".ogg": true, ".m4a": true, ".flac": true, ".aac": true,
	".mp4": true, ".avi": true, ".mov": true, ".wmv": true, ".flv": true, ".mkv": true, ".webm": true,
	".pdf": true,
}

// Tree lists non-binary, non-ignored files in a source tree. With an empty
// Revision it reads the working tree; with a revision set it reads
// revision-addressed content through the git CLI.
type Tree struct {
	Root           string
	Revision       string
	IgnorePatterns []string

	// OnVisit and OnIgnore, when set, are called with each considered and
	// each skipped path. Used for progress reporting.
	OnVisit  func(path string)
	OnIgnore func(path string)
}

// ListFiles returns the text content of every indexable file, keyed by
// slash-separated path relative to the root.
func (t *Tree) ListFiles(ctx context.Context) (map[string]string, error) {
	if t.Revision != "" {
		return t.listFilesGit(ctx)
	}
	return t.listFilesFS(ctx)
}

// FileContent returns one file's text content, resolved the same way
// ListFiles resolves it.
func (t *Tree) FileContent(ctx context.Context, path string) (string, error) {
	if t.Revision != "" {
		out, err := t.git(ctx, "show", t.Revision+":"+path)
		if err != nil {
			return "", fmt.Errorf("git show %s:%s: %w", t.Revision, path, err)
		}
		return string(out), nil
	}
	data, err := os.ReadFile(filepath.Join(t.Root, filepath.FromSlash(path)))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (t *Tree) listFilesFS(ctx context.Context) (map[string]string, error) {
	contents := make(map[string]string)

	err := filepath.WalkDir(t.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries, keep walking
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}

		rel, rerr := filepath.Rel(t.Root, path)
		if rerr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}

		if t.skip(rel) {
			return nil
		}

		info, ierr := d.Info()
		if ierr != nil || info.Size() > maxFileSize {
			return nil
		}

		data, readErr := os.ReadFile(path)
		if readErr != nil || isBinary(data) {
			return nil
		}

		t.visit(rel)
		contents[rel] = string(data)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", t.Root, err)
	}
	return contents, nil
}

func (t *Tree) listFilesGit(ctx context.Context) (map[string]string, error) {
	out, err := t.git(ctx, "ls-tree", "-r", "--name-only", t.Revision)
	if err != nil {
		return nil, fmt.Errorf("git ls-tree %s: %w", t.Revision, err)
	}

	contents := make(map[string]string)
	for _, path := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if path == "" || t.skip(path) {
			continue
		}
		data, err := t.git(ctx, "show", t.Revision+":"+path)
		if err != nil {
			return nil, fmt.Errorf("git show %s:%s: %w", t.Revision, path, err)
		}
		if len(data) > maxFileSize || isBinary(data) {
			continue
		}
		t.visit(path)
		contents[path] = string(data)
	}
	return contents, nil
}

func (t *Tree) git(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", t.Root}, args...)...)
	return cmd.Output()
}

func (t *Tree) skip(path string) bool {
	if IsMediaOrPDF(path) || matchesIgnore(path, t.IgnorePatterns) {
		if t.OnIgnore != nil {
			t.OnIgnore(path)
		}
		return true
	}
	return false
}

func (t *Tree) visit(path string) {
	if t.OnVisit != nil {
		t.OnVisit(path)
	}
}

// Paths returns the sorted keys of a ListFiles result: the file-tree
// listing used in retrieval prompts (paths only, no content).
func Paths(contents map[string]string) []string {
	paths := make([]string, 0, len(contents))
	for p := range contents {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// IsMediaOrPDF reports whether the path has a media or PDF extension.
func IsMediaOrPDF(path string) bool {
	return mediaExtensions[strings.ToLower(filepath.Ext(path))]
}

// matchesIgnore checks a slash-separated path against glob-style ignore
// patterns: "*" matches anything, and a trailing "/*" also covers the
// directory itself and everything beneath it.
func matchesIgnore(path string, patterns []string) bool {
	for _, p := range patterns {
		if ignoreRegexp(p).MatchString(path) {
			return true
		}
	}
	return false
}

func ignoreRegexp(pattern string) *regexp.Regexp {
	escaped := strings.ReplaceAll(regexp.QuoteMeta(pattern), `\*`, ".*")
	if strings.HasSuffix(pattern, "/*") {
		escaped = strings.TrimSuffix(escaped, "/.*") + "(/.*)?"
	}
	return regexp.MustCompile("^" + escaped + "$")
}

// isBinary sniffs for a NUL byte, the same cheap heuristic git uses.
func isBinary(data []byte) bool {
	return bytes.IndexByte(data, 0) != -1
}
