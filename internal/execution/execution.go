package execution

import "github.com/google/uuid"

// Scope identifies the repository namespace all stored chunks belong to.
type Scope struct {
	Owner string
	Repo  string
}

// Branches names the long-lived branches of the repository.
type Branches struct {
	Main        string
	Development string
}

// StoreConfig locates the vector store database.
type StoreConfig struct {
	Path         string
	EmbeddingDim int
}

// ServerConfig describes the local model-server process.
type ServerConfig struct {
	Name     string
	Host     string
	Port     int
	BuildDir string
}

// AIConfig carries the chat model credentials used by the ask loop.
type AIConfig struct {
	BaseURL string
	Model   string
	APIKey  string
}

// Execution is the context threaded through every orchestrator run. It is
// built by the caller (CLI or embedding application) and never mutated by
// the pipeline.
type Execution struct {
	RunID          uuid.UUID
	Scope          Scope
	Branch         string
	Branches       Branches
	Store          *StoreConfig
	Server         ServerConfig
	AI             AIConfig
	IgnorePatterns []string
	MentionToken   string
	DuplicateToDev bool
	ShuffleChunks  bool
}

// New creates an Execution with a fresh run ID.
func New(scope Scope, branch string) Execution {
	return Execution{
		RunID:  uuid.New(),
		Scope:  scope,
		Branch: branch,
	}
}
