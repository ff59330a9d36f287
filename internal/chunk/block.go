package chunk

import (
	"regexp"
	"strings"
)

var (
	functionRe = regexp.MustCompile(`(?:function|def|fn|async|const|let)\s+(\w+)`)
	classRe    = regexp.MustCompile(`class\s+(\w+)`)
	indentRe   = regexp.MustCompile(`^(\s*)`)
)

// codeBlock is a heuristically detected semantic unit: a function, lambda,
// or class body located by keyword patterns and brace/indent tracking.
type codeBlock struct {
	kind      string
	name      string
	content   string
	startLine int
	endLine   int
}

// BlockStrategy extracts semantic blocks and groups them into chunks of
// chunkSize blocks each. It is a best-effort parser, not an AST: brace
// depth covers C-family syntax and dedent detection covers
// indentation-significant syntax.
type BlockStrategy struct{}

func (BlockStrategy) Type() Type { return TypeBlock }

// Chunk groups extracted blocks into chunks of up to chunkSize blocks,
// content-joined with newlines, with any remainder as a final chunk.
func (BlockStrategy) Chunk(path, content string, chunkSize int) []ChunkedFile {
	if chunkSize < 1 {
		chunkSize = 1
	}

	blocks := extractBlocks(content)

	var chunks []string
	var current []string
	for _, b := range blocks {
		current = append(current, b.content)
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
		Type:   TypeBlock,
		Shasum: Fingerprint(chunks),
		Chunks: chunks,
	}}
}

// extractBlocks scans line by line. A block opens on a function or class
// header; it closes when brace depth returns to zero and the line ends
// with "}", or when a line dedents below the opening line's indentation.
// An unterminated block is closed at the last line.
func extractBlocks(code string) []codeBlock {
	lines := strings.Split(code, "\n")
	var blocks []codeBlock

	var current *codeBlock
	var braceDepth int
	var indentLevel int

	startBlock := func(kind, name, line string, lineNumber int) {
		current = &codeBlock{
			kind:      kind,
			name:      name,
			content:   line + "\n",
			startLine: lineNumber,
			endLine:   lineNumber,
		}
		braceDepth = strings.Count(line, "{") - strings.Count(line, "}")
		indentLevel = len(indentRe.FindString(line))
	}

	endBlock := func(lineNumber int) {
		if current != nil {
			current.endLine = lineNumber
			blocks = append(blocks, *current)
			current = nil
		}
	}

	for idx, line := range lines {
		trimmed := strings.TrimSpace(line)
		lineNumber := idx + 1

		functionMatch := functionRe.FindStringSubmatch(trimmed)
		classMatch := classRe.FindStringSubmatch(trimmed)

		switch {
		case current == nil && functionMatch != nil:
			startBlock("function", functionMatch[1], line, lineNumber)
		case current == nil && classMatch != nil:
			startBlock("class", classMatch[1], line, lineNumber)
		case current != nil:
			current.content += line + "\n"
			braceDepth += strings.Count(line, "{")
			braceDepth -= strings.Count(line, "}")

			dedented := len(indentRe.FindString(line)) < indentLevel
			if (braceDepth <= 0 && strings.HasSuffix(trimmed, "}")) || dedented {
				endBlock(lineNumber)
			}
		}
	}

	// Catch any unfinished block.
	if current != nil {
		current.endLine = len(lines)
		blocks = append(blocks, *current)
	}

	return blocks
}
