// Package ask answers natural-language questions about an indexed
// repository. It embeds the question, pulls the nearest chunks from the
// vector store, and runs an iterative refinement loop against a chat
// model that may request full file contents before answering.
package ask

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"repovec/internal/chunk"
	"repovec/internal/execution"
	"repovec/internal/llm"
	"repovec/internal/modelserver"
	"repovec/internal/store"
	"repovec/internal/walker"
)

const taskID = "AskOrchestrator"

const instructionAsk = "Represent the question for retrieving relevant code snippets"

// maxIterations bounds the refinement loop. The model asking for more
// files this many times without answering is treated as a failure rather
// than looping until it gives up on its own.
const maxIterations = 5

// ModelServer is the slice of the lifecycle manager the ask loop consumes.
type ModelServer interface {
	EnsureRunning(ctx context.Context) error
	Stop(ctx context.Context)
	Embed(ctx context.Context, pairs []modelserver.InstructionText) ([][]float32, error)
}

// Source lists the files of the tree being asked about.
type Source interface {
	ListFiles(ctx context.Context) (map[string]string, error)
}

// Chat turns a prompt into a validated retrieval-loop decision.
type Chat interface {
	AskJSON(ctx context.Context, prompt string) (*llm.Decision, error)
}

// Orchestrator drives one question through retrieval and refinement.
type Orchestrator struct {
	server ModelServer
	store  store.Store
	tree   Source
	chat   Chat
	log    *zap.Logger

	// matchTypes selects which chunk passes are searched. Line chunks add
	// noise for question-style queries, so only block chunks are searched
	// by default.
	matchTypes []chunk.Type
	topK       int
}

// New creates an ask orchestrator with the default retrieval settings.
func New(server ModelServer, st store.Store, tree Source, chat Chat, log *zap.Logger) *Orchestrator {
	return &Orchestrator{
		server:     server,
		store:      st,
		tree:       tree,
		chat:       chat,
		log:        log,
		matchTypes: []chunk.Type{chunk.TypeBlock},
		topK:       5,
	}
}

// Run answers one comment. The returned answer is empty whenever the run
// did not execute or failed; the Result records say which.
func (o *Orchestrator) Run(ctx context.Context, exec execution.Execution, comment string) (string, []execution.Result) {
	o.log.Info("executing ask", zap.String("run", exec.RunID.String()))

	var results []execution.Result

	// A comment that never mentions the bot is simply not addressed to
	// us. Skipping it is a non-event, not an error.
	if comment == "" || !strings.Contains(comment, exec.MentionToken) {
		return "", append(results, execution.NotExecuted(taskID, exec.RunID))
	}
	question := strings.TrimSpace(strings.ReplaceAll(comment, exec.MentionToken, ""))

	if exec.AI.Model == "" || exec.AI.APIKey == "" {
		return "", append(results, execution.Failedf(taskID, exec.RunID, "chat model or API key not configured"))
	}
	if exec.Store == nil {
		return "", append(results, execution.Failedf(taskID, exec.RunID, "vector store config not found"))
	}

	branch := exec.Branch
	if branch == "" {
		branch = exec.Branches.Main
	}

	if err := o.server.EnsureRunning(ctx); err != nil {
		return "", append(results, execution.Failed(taskID, exec.RunID, fmt.Errorf("model server: %w", err)))
	}
	defer o.server.Stop(ctx)

	start := time.Now()

	vectors, err := o.server.Embed(ctx, []modelserver.InstructionText{
		{Instruction: instructionAsk, Text: question},
	})
	if err != nil {
		return "", append(results, execution.Failed(taskID, exec.RunID, fmt.Errorf("embed question: %w", err)))
	}

	var candidates []store.Match
	for _, typ := range o.matchTypes {
		o.log.Info("matching chunks",
			zap.String("owner", exec.Scope.Owner),
			zap.String("repo", exec.Scope.Repo),
			zap.String("branch", branch),
			zap.String("type", string(typ)))
		matches, err := o.store.MatchSimilar(ctx, exec.Scope, branch, typ, vectors[0], o.topK)
		if err != nil {
			return "", append(results, execution.Failed(taskID, exec.RunID, fmt.Errorf("match chunks: %w", err)))
		}
		candidates = append(candidates, matches...)
	}

	contents, err := o.tree.ListFiles(ctx)
	if err != nil {
		return "", append(results, execution.Failed(taskID, exec.RunID, fmt.Errorf("list files: %w", err)))
	}

	answer, err := o.refine(ctx, question, contents, candidates)
	if err != nil {
		return "", append(results, execution.Failed(taskID, exec.RunID, err))
	}

	o.log.Info("ask complete", zap.Duration("duration", time.Since(start).Round(time.Second)))
	return answer, append(results, execution.Succeeded(taskID, exec.RunID, "Question answered from the index."))
}

// refine runs the prompt/decision loop until the model answers or the
// iteration budget runs out. Each analyze_files decision swaps the
// candidate snippets for the full contents of the files it named.
func (o *Orchestrator) refine(ctx context.Context, question string, contents map[string]string, candidates []store.Match) (string, error) {
	var loaded map[string]string

	for i := 0; i < maxIterations; i++ {
		prompt := buildPrompt(question, contents, candidates, loaded)

		decision, err := o.chat.AskJSON(ctx, prompt)
		if err != nil {
			return "", fmt.Errorf("ask model: %w", err)
		}

		switch decision.Kind {
		case llm.KindFinal:
			return decision.TextResponse, nil
		case llm.KindNeedMoreFiles:
			o.log.Info("model requested files",
				zap.Int("iteration", i+1),
				zap.Strings("files", decision.RelatedFiles))
			loaded = resolveFiles(decision.RelatedFiles, contents)
		}
	}
	return "", fmt.Errorf("no answer after %d iterations", maxIterations)
}

// buildPrompt assembles the fixed analysis prompt: the question, the path
// list of the tree, and either the loaded file contents or the retrieved
// chunks when no files have been loaded yet.
func buildPrompt(question string, contents map[string]string, candidates []store.Match, loaded map[string]string) string {
	var b strings.Builder
	b.WriteString(`You are a highly skilled code analysis assistant. I will provide you with:
1. A user's question about a codebase
2. A file tree representing the structure of the project
3. The most relevant code snippets from the codebase related to their query

Your tasks are:
- Analyze the code snippets in the context of the user's question.
- Use the file tree to provide additional context if needed.
- Provide your answer only in a JSON format, following this structure:

{
    "text_response": "Your detailed analysis or answer here.",
    "action": "none" | "analyze_files",
    "related_files": ["optional", "list", "of", "files"],
    "complete": true | false
}

Explanation:
- If the provided code snippets and file tree are sufficient to confidently answer the question, set "complete": true and "action": "none".
- If you need to review additional files to provide a complete and accurate answer, set "complete": false, "action": "analyze_files", and list the file paths you need in "related_files".
- Do not invent file paths; only request files that logically relate to the question based on the information available.
- Always provide a "text_response" with your reasoning, even if requesting more files.

Important:
- Respond only with the JSON object, without any extra commentary or text outside of the JSON.

Information provided:
User's question:
`)
	b.WriteString(question)
	b.WriteString("\n\nFile tree:\n")
	for _, path := range walker.Paths(contents) {
		b.WriteString(path)
		b.WriteByte('\n')
	}

	b.WriteString("\nRelevant code snippets:\n")
	if len(loaded) > 0 {
		for _, path := range walker.Paths(loaded) {
			fmt.Fprintf(&b, "\nFile: %s\nCode:\n%s\n", path, loaded[path])
		}
	} else {
		for _, m := range candidates {
			fmt.Fprintf(&b, "\nFile: %s\nCode:\n%s\n", m.Path, m.Content)
		}
	}
	return b.String()
}

// resolveFiles maps the paths the model asked for to their contents.
// Paths the tree does not contain are dropped silently; the next prompt
// simply will not include them.
func resolveFiles(paths []string, contents map[string]string) map[string]string {
	resolved := make(map[string]string, len(paths))
	for _, path := range paths {
		if content, ok := contents[path]; ok {
			resolved[path] = content
		}
	}
	return resolved
}
