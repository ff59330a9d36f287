package ingest

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"time"

	"go.uber.org/zap"

	"repovec/internal/chunk"
	"repovec/internal/execution"
	"repovec/internal/modelserver"
	"repovec/internal/store"
)

const taskID = "IngestOrchestrator"

// Instruction prefixes sent with each embedding request. The model was
// trained with instruction-prefixed inputs, so these strings are part of
// the embedding contract and must match what indexing used.
const (
	instructionBlock = "Represent the code for semantic search"
	instructionLine  = "Represent each line of code for retrieval"
)

// ModelServer is the slice of the lifecycle manager the ingest pipeline
// consumes.
type ModelServer interface {
	EnsureRunning(ctx context.Context) error
	Stop(ctx context.Context)
	SystemInfo(ctx context.Context) (modelserver.SystemParameters, error)
	Embed(ctx context.Context, pairs []modelserver.InstructionText) ([][]float32, error)
}

// Source lists the files to index.
type Source interface {
	ListFiles(ctx context.Context) (map[string]string, error)
}

// Orchestrator drives the full ingest pipeline: walk, chunk, dedup-check,
// embed, persist. Dependencies are injected; the model-server lifecycle
// object in particular must never be reached through ambient state.
type Orchestrator struct {
	server ModelServer
	store  store.Store
	tree   Source
	log    *zap.Logger
}

// New creates an ingest orchestrator.
func New(server ModelServer, st store.Store, tree Source, log *zap.Logger) *Orchestrator {
	return &Orchestrator{server: server, store: st, tree: tree, log: log}
}

// Run executes one indexing run. Individual file failures degrade the run
// but never abort it; only setup errors are fatal. The model server is
// stopped regardless of outcome.
func (o *Orchestrator) Run(ctx context.Context, exec execution.Execution) []execution.Result {
	o.log.Info("executing ingest", zap.String("run", exec.RunID.String()))

	var results []execution.Result

	if exec.Store == nil {
		return append(results, execution.Failedf(taskID, exec.RunID, "vector store config not found"))
	}

	branch := exec.Branch
	if branch == "" {
		branch = exec.Branches.Main
	}

	if err := o.server.EnsureRunning(ctx); err != nil {
		return append(results, execution.Failed(taskID, exec.RunID, fmt.Errorf("model server: %w", err)))
	}
	defer o.server.Stop(ctx)

	params, err := o.server.SystemInfo(ctx)
	if err != nil {
		return append(results, execution.Failed(taskID, exec.RunID, fmt.Errorf("system info: %w", err)))
	}
	o.log.Info("system parameters",
		zap.Int("chunk_size", params.ChunkSize),
		zap.Int("max_workers", params.MaxWorkers))

	contents, err := o.tree.ListFiles(ctx)
	if err != nil {
		return append(results, execution.Failed(taskID, exec.RunID, fmt.Errorf("list files: %w", err)))
	}

	chunked := make(map[string][]chunk.ChunkedFile, len(contents))
	for path, content := range contents {
		if files := chunk.ChunkAll(path, content, params.ChunkSize); len(files) > 0 {
			chunked[path] = files
		}
	}
	o.log.Info("files to index",
		zap.String("owner", exec.Scope.Owner),
		zap.String("repo", exec.Scope.Repo),
		zap.String("branch", branch),
		zap.Int("count", len(chunked)))

	results = append(results, o.removeStalePaths(ctx, exec, branch, chunked))
	results = append(results, o.indexFiles(ctx, exec, branch, chunked))

	if exec.DuplicateToDev && branch == exec.Branches.Main && exec.Branches.Development != "" {
		results = append(results, o.duplicateToBranch(ctx, exec, branch, exec.Branches.Development))
	}

	return results
}

// removeStalePaths deletes rows for paths the store knows but the tree no
// longer contains. Probe or delete failures are degraded, not fatal.
func (o *Orchestrator) removeStalePaths(ctx context.Context, exec execution.Execution, branch string, chunked map[string][]chunk.ChunkedFile) execution.Result {
	remote, err := o.store.DistinctPaths(ctx, exec.Scope, branch)
	if err != nil {
		o.log.Warn("listing indexed paths failed, skipping stale sweep", zap.Error(err))
		return execution.Succeeded(taskID, exec.RunID, "Stale path sweep skipped: "+err.Error())
	}

	var removed, failed int
	for _, path := range remote {
		if _, ok := chunked[path]; ok {
			continue
		}
		if err := o.store.DeleteByPath(ctx, exec.Scope, branch, path); err != nil {
			o.log.Error("removing stale path failed", zap.String("path", path), zap.Error(err))
			failed++
			continue
		}
		o.log.Info("removed stale path", zap.String("path", path))
		removed++
	}

	if removed == 0 && failed == 0 {
		return execution.Succeeded(taskID, exec.RunID)
	}
	return execution.Succeeded(taskID, exec.RunID,
		fmt.Sprintf("Removed %d stale paths from the index on %s (%d failed).", removed, branch, failed))
}

// indexFiles processes files sequentially, in walk order, reporting
// cumulative progress with an extrapolated remaining time after each one.
func (o *Orchestrator) indexFiles(ctx context.Context, exec execution.Execution, branch string, chunked map[string][]chunk.ChunkedFile) execution.Result {
	paths := walkOrder(chunked)
	if exec.ShuffleChunks {
		rand.Shuffle(len(paths), func(i, j int) {
			paths[i], paths[j] = paths[j], paths[i]
		})
	}

	start := time.Now()
	var hits, indexed, failed int

	for i, path := range paths {
		elapsed := time.Since(start)
		remaining := time.Duration(0)
		if i > 0 {
			remaining = elapsed/time.Duration(i)*time.Duration(len(paths)) - elapsed
		}
		o.log.Info("processing file",
			zap.String("path", path),
			zap.Int("processed", i+1),
			zap.Int("total", len(paths)),
			zap.String("percent", fmt.Sprintf("%.1f%%", float64(i+1)/float64(len(paths))*100)),
			zap.Duration("elapsed", elapsed.Round(time.Second)),
			zap.Duration("remaining", remaining.Round(time.Second)))

		switch hit, err := o.processPath(ctx, exec, branch, path, chunked[path]); {
		case err != nil:
			o.log.Error("indexing file failed", zap.String("path", path), zap.Error(err))
			failed++
		case hit:
			hits++
		default:
			indexed++
		}
	}

	total := time.Since(start).Round(time.Second)
	o.log.Info("ingest complete",
		zap.Int("indexed", indexed), zap.Int("cached", hits), zap.Int("failed", failed),
		zap.Duration("duration", total))

	return execution.Succeeded(taskID, exec.RunID,
		fmt.Sprintf("Indexed %d files (%d cached, %d failed) on %s in %s.", indexed, hits, failed, branch, total))
}

// processPath indexes every chunking pass of one file. It returns hit=true
// when every pass already has a complete row set for its fingerprint, so
// neither embedding nor storage was needed.
func (o *Orchestrator) processPath(ctx context.Context, exec execution.Execution, branch, path string, files []chunk.ChunkedFile) (hit bool, err error) {
	allHit := true
	for i := range files {
		cf := &files[i]
		count, err := o.store.GetByFingerprint(ctx, exec.Scope, branch, cf.Type, cf.Shasum)
		if err != nil {
			// A failed probe is a cache miss, not an abort.
			o.log.Warn("dedup probe failed, re-embedding", zap.String("path", path), zap.Error(err))
			allHit = false
			continue
		}
		if count == len(cf.Chunks) {
			continue
		}
		allHit = false
		if count > 0 {
			// Incomplete row set for this fingerprint, e.g. an insert that
			// died halfway. Clear it before re-inserting.
			if err := o.store.DeleteByFingerprint(ctx, exec.Scope, branch, cf.Shasum); err != nil {
				return false, fmt.Errorf("delete partial rows: %w", err)
			}
		}
	}
	if allHit {
		return true, nil
	}

	// Content changed or was never indexed: supersede whatever the store
	// holds for this path and rebuild every pass.
	if err := o.store.DeleteByPath(ctx, exec.Scope, branch, path); err != nil {
		return false, fmt.Errorf("delete superseded rows: %w", err)
	}

	for i := range files {
		cf := &files[i]
		pairs := make([]modelserver.InstructionText, len(cf.Chunks))
		for j, c := range cf.Chunks {
			pairs[j] = modelserver.InstructionText{Instruction: instructionFor(cf.Type), Text: c}
		}
		vectors, err := o.server.Embed(ctx, pairs)
		if err != nil {
			return false, fmt.Errorf("embed %s (%s): %w", path, cf.Type, err)
		}
		if err := cf.AttachVectors(vectors); err != nil {
			return false, err
		}
		if err := o.store.Insert(ctx, exec.Scope, branch, *cf); err != nil {
			return false, fmt.Errorf("store %s (%s): %w", path, cf.Type, err)
		}
	}
	return false, nil
}

func (o *Orchestrator) duplicateToBranch(ctx context.Context, exec execution.Execution, sourceBranch, targetBranch string) execution.Result {
	o.log.Info("duplicating chunks",
		zap.String("source", sourceBranch), zap.String("target", targetBranch))

	if err := o.store.DeleteByBranch(ctx, exec.Scope, targetBranch); err != nil {
		return execution.Failed(taskID, exec.RunID, fmt.Errorf("clear %s: %w", targetBranch, err))
	}
	if err := o.store.DuplicateBranch(ctx, exec.Scope, sourceBranch, targetBranch); err != nil {
		return execution.Failed(taskID, exec.RunID, fmt.Errorf("duplicate %s -> %s: %w", sourceBranch, targetBranch, err))
	}
	return execution.Succeeded(taskID, exec.RunID,
		fmt.Sprintf("Duplicated chunks from %s to %s.", sourceBranch, targetBranch))
}

// walkOrder returns the chunked paths sorted, matching the order the
// walker visited them in.
func walkOrder(chunked map[string][]chunk.ChunkedFile) []string {
	paths := make([]string, 0, len(chunked))
	for path := range chunked {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

func instructionFor(t chunk.Type) string {
	if t == chunk.TypeBlock {
		return instructionBlock
	}
	return instructionLine
}
