package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/novelgen/internal/doctree"
)

var configEnv = []string{
	"PORT", "NOVELGEN_API_KEY", "ANTHROPIC_API_KEY", "CLAUDE_MODEL", "DEEPSEEK_API_KEY",
	"DEEPSEEK_MODEL", "DEEPSEEK_BASE_URL", "XAI_API_KEY", "XAI_MODEL", "XAI_BASE_URL",
	"LLM_TIMEOUT", "NOVELGEN_PROVIDER", "NOVELGEN_GENRE", "STRUCTURE_MAX_TOKENS",
	"CONTENT_MAX_TOKENS", "TEMPERATURE", "TARGET_LENGTH", "BASIC_SETTINGS_FILE",
	"WORKER_COUNT", "MAX_QUEUE_SIZE", "JOB_TTL", "MAX_UPLOAD_BYTES",
	"CHECKPOINT_BACKEND", "CHECKPOINT_PATH", "PATHSTORE_URL", "PATHSTORE_API_KEY",
}

// clearEnv blanks every variable Load reads; t.Setenv restores them.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range configEnv {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadFile("")
	require.NoError(t, err)

	assert.Equal(t, "8090", cfg.Port)
	assert.Equal(t, "claude", cfg.DefaultProvider)
	assert.Equal(t, doctree.GenreNovel, cfg.DefaultGenre)
	assert.Equal(t, 4000, cfg.StructureMaxTokens)
	assert.Equal(t, 4000, cfg.ContentMaxTokens)
	assert.InDelta(t, 0.7, cfg.Temperature, 1e-9)
	assert.Equal(t, 5*time.Minute, cfg.LLMTimeout)
	assert.Equal(t, 2, cfg.WorkerCount)
	assert.Equal(t, 50, cfg.MaxQueueSize)
	assert.Equal(t, time.Hour, cfg.JobTTL)
	assert.Equal(t, int64(10<<20), cfg.MaxUploadBytes)
	assert.Equal(t, "file", cfg.CheckpointBackend)
}

func TestLoadClampsInvalidValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("WORKER_COUNT", "-1")
	t.Setenv("TEMPERATURE", "9")
	t.Setenv("JOB_TTL", "banana")
	cfg, err := LoadFile("")
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.WorkerCount)
	assert.InDelta(t, 0.7, cfg.Temperature, 1e-9)
	assert.Equal(t, time.Hour, cfg.JobTTL)
}

func TestYAMLFileWithEnvOverride(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "novelgen.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
provider: deepseek
genre: short-story
temperature: 0.2
content_max_tokens: 6000
target_length: 8000
checkpoint:
  backend: sqlite
  path: runs.db
`), 0o644))
	t.Setenv("CONTENT_MAX_TOKENS", "7000")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "deepseek", cfg.DefaultProvider)
	assert.Equal(t, doctree.GenreShortStory, cfg.DefaultGenre)
	assert.InDelta(t, 0.2, cfg.Temperature, 1e-9)
	assert.Equal(t, 7000, cfg.ContentMaxTokens, "env wins over the file")
	assert.Equal(t, 8000, cfg.TargetLength)
	assert.Equal(t, "sqlite", cfg.CheckpointBackend)
	assert.Equal(t, "runs.db", cfg.CheckpointPath)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadFile("")
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ANTHROPIC_API_KEY")

	cfg.XAIAPIKey = "k"
	require.NoError(t, cfg.Validate())
	assert.ErrorContains(t, cfg.ValidateServer(), "NOVELGEN_API_KEY")

	cfg.APIKey = "secret"
	require.NoError(t, cfg.ValidateServer())

	cfg.DefaultProvider = "gemini"
	assert.Error(t, cfg.Validate())

	cfg.DefaultProvider = "claude"
	cfg.CheckpointBackend = "pathstore"
	assert.ErrorContains(t, cfg.Validate(), "PATHSTORE_URL")
}

func TestOpenCheckpoints(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadFile("")
	require.NoError(t, err)
	cfg.CheckpointBackend = "sqlite"
	cfg.CheckpointPath = filepath.Join(t.TempDir(), "cp.db")
	store, err := cfg.OpenCheckpoints()
	require.NoError(t, err)
	require.NoError(t, store.Close())
}

func TestLLMConfigs(t *testing.T) {
	cfg := Config{AnthropicAPIKey: "a", DeepSeekBaseURL: "http://ds", LLMTimeout: time.Second}
	cfgs := cfg.LLMConfigs()
	require.Len(t, cfgs, 3)
	assert.Equal(t, "a", cfgs[0].APIKey)
	assert.Equal(t, "http://ds", cfgs[1].BaseURL)
	assert.Equal(t, time.Second, cfgs[2].Timeout)
}
