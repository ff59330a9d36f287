package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all pipeline configuration loaded from environment variables.
type Config struct {
	// Scope
	Owner             string
	Repo              string
	Branch            string
	MainBranch        string
	DevelopmentBranch string

	// Vector store
	StorePath    string
	EmbeddingDim int

	// Model server
	ServerName     string
	ServerHost     string
	ServerPort     int
	ServerBuildDir string

	// Chat model
	AIBaseURL string
	AIModel   string
	AIKey     string

	// Ask loop
	MentionToken string

	// Indexing
	IgnorePatterns []string
	ShuffleChunks  bool
}

// Load reads configuration from the environment with sensible defaults.
// A .env file in the working directory is honored when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Owner:             os.Getenv("REPOVEC_OWNER"),
		Repo:              os.Getenv("REPOVEC_REPO"),
		Branch:            envOrDefault("REPOVEC_BRANCH", "main"),
		MainBranch:        envOrDefault("REPOVEC_MAIN_BRANCH", "main"),
		DevelopmentBranch: envOrDefault("REPOVEC_DEV_BRANCH", "develop"),

		StorePath:    envOrDefault("REPOVEC_STORE_PATH", ".repovec/index.db"),
		EmbeddingDim: envOrDefaultInt("REPOVEC_EMBEDDING_DIM", 768),

		ServerName:     envOrDefault("REPOVEC_SERVER_NAME", "repovec-embedder"),
		ServerHost:     envOrDefault("REPOVEC_SERVER_HOST", "localhost"),
		ServerPort:     envOrDefaultInt("REPOVEC_SERVER_PORT", 8787),
		ServerBuildDir: envOrDefault("REPOVEC_SERVER_BUILD_DIR", "docker"),

		AIBaseURL: envOrDefault("REPOVEC_AI_BASE_URL", "https://openrouter.ai/api/v1"),
		AIModel:   os.Getenv("REPOVEC_AI_MODEL"),
		AIKey:     os.Getenv("REPOVEC_AI_KEY"),

		MentionToken: envOrDefault("REPOVEC_MENTION", "@repovec"),

		IgnorePatterns: splitList(os.Getenv("REPOVEC_IGNORE")),
		ShuffleChunks:  envOrDefaultBool("REPOVEC_SHUFFLE_CHUNKS", false),
	}
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
