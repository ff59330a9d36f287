package chunk

import (
	"regexp"
	"strings"
)

// noisePatterns match lines that carry no semantic weight on their own:
// lone closing brackets, bare control-flow keywords, import lines,
// decorative comment separators, and empty javadoc delimiters. Dropping
// them materially changes what gets embedded, so the set is fixed.
var noisePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^[}\]);]+;?$`),
	regexp.MustCompile(`^import\s.+from\s.+;?$`),
	regexp.MustCompile(`^(return|break|continue|pass);?$`),
	regexp.MustCompile(`^//[-=]*$`),
	regexp.MustCompile(`(?i)^//\s*(TODO|FIXME)?\s*$`),
	regexp.MustCompile(`^[\]],?;?$`),
	regexp.MustCompile(`^try\s*\{$`),
	regexp.MustCompile(`^\}\s*else\s*\{$`),
	regexp.MustCompile("^`;?$"),
	regexp.MustCompile(`^/\*\*$`),
	regexp.MustCompile(`^\*/$`),
}

// IsNoiseLine reports whether a line is dropped before line-window chunking.
func IsNoiseLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return true
	}
	for _, re := range noisePatterns {
		if re.MatchString(trimmed) {
			return true
		}
	}
	return false
}

// LineStrategy accumulates non-noise lines into windows of chunkSize lines.
type LineStrategy struct{}

func (LineStrategy) Type() Type { return TypeLine }

// Chunk splits content into trimmed non-noise lines and flushes a chunk
// every chunkSize lines, with any remainder as a final shorter chunk.
func (LineStrategy) Chunk(path, content string, chunkSize int) []ChunkedFile {
	if chunkSize < 1 {
		chunkSize = 1
	}

	var chunks []string
	var current []string
	for _, line := range strings.Split(content, "\n") {
		if IsNoiseLine(line) {
			continue
		}
		current = append(current, strings.TrimSpace(line))
		if len(current) >= chunkSize {
			chunks = append(chunks, strings.Join(current, "\n"))
			current = nil
		}
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, "\n"))
	}
	if len(chunks) == 0 {
		return nil
	}

	return []ChunkedFile{{
		Path:   path,
		Type:   TypeLine,
		Shasum: Fingerprint(chunks),
		Chunks: chunks,
	}}
}
