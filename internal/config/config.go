package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/dgallion1/novelgen/internal/checkpoint"
	"github.com/dgallion1/novelgen/internal/doctree"
	"github.com/dgallion1/novelgen/internal/generate"
	"github.com/dgallion1/novelgen/internal/llm"
)

type Config struct {
	Port string

	// Auth
	APIKey string

	// Providers
	AnthropicAPIKey string
	ClaudeModel     string
	DeepSeekAPIKey  string
	DeepSeekModel   string
	DeepSeekBaseURL string
	XAIAPIKey       string
	XAIModel        string
	XAIBaseURL      string
	LLMTimeout      time.Duration

	// Generation defaults
	DefaultProvider    string
	DefaultGenre       doctree.Genre
	StructureMaxTokens int
	ContentMaxTokens   int
	Temperature        float64
	TargetLength       int
	BasicSettingsFile  string

	// Worker pool
	WorkerCount  int
	MaxQueueSize int
	JobTTL       time.Duration

	// Upload limits
	MaxUploadBytes int64

	// Checkpoints
	CheckpointBackend string
	CheckpointPath    string
	PathstoreURL      string
	PathstoreAPIKey   string
}

// File is the optional YAML settings file named by NOVELGEN_CONFIG.
// Environment variables override every value it sets.
type File struct {
	Provider           string   `yaml:"provider"`
	Genre              string   `yaml:"genre"`
	Temperature        *float64 `yaml:"temperature"`
	StructureMaxTokens int      `yaml:"structure_max_tokens"`
	ContentMaxTokens   int      `yaml:"content_max_tokens"`
	TargetLength       int      `yaml:"target_length"`
	BasicSettingsFile  string   `yaml:"basic_settings_file"`
	Checkpoint         struct {
		Backend string `yaml:"backend"`
		Path    string `yaml:"path"`
	} `yaml:"checkpoint"`
}

// Load reads a local .env file if present, then the YAML file named by
// NOVELGEN_CONFIG, then the environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	return LoadFile(os.Getenv("NOVELGEN_CONFIG"))
}

// LoadFile is Load with an explicit YAML path. An empty path skips the file.
func LoadFile(path string) (Config, error) {
	var f File
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &f); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	def := generate.DefaultOptions()
	temperature := def.Temperature
	if f.Temperature != nil {
		temperature = *f.Temperature
	}

	cfg := Config{
		Port: envOr("PORT", "8090"),

		APIKey: os.Getenv("NOVELGEN_API_KEY"),

		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		ClaudeModel:     os.Getenv("CLAUDE_MODEL"),
		DeepSeekAPIKey:  os.Getenv("DEEPSEEK_API_KEY"),
		DeepSeekModel:   os.Getenv("DEEPSEEK_MODEL"),
		DeepSeekBaseURL: os.Getenv("DEEPSEEK_BASE_URL"),
		XAIAPIKey:       os.Getenv("XAI_API_KEY"),
		XAIModel:        os.Getenv("XAI_MODEL"),
		XAIBaseURL:      os.Getenv("XAI_BASE_URL"),
		LLMTimeout:      envDuration("LLM_TIMEOUT", 5*time.Minute),

		DefaultProvider:    envOr("NOVELGEN_PROVIDER", orDefault(f.Provider, string(llm.Claude))),
		DefaultGenre:       doctree.Genre(envOr("NOVELGEN_GENRE", orDefault(f.Genre, string(doctree.GenreNovel)))),
		StructureMaxTokens: envInt("STRUCTURE_MAX_TOKENS", orInt(f.StructureMaxTokens, def.StructureMaxTokens)),
		ContentMaxTokens:   envInt("CONTENT_MAX_TOKENS", orInt(f.ContentMaxTokens, def.ContentMaxTokens)),
		Temperature:        envFloat("TEMPERATURE", temperature),
		TargetLength:       envInt("TARGET_LENGTH", f.TargetLength),
		BasicSettingsFile:  envOr("BASIC_SETTINGS_FILE", f.BasicSettingsFile),

		WorkerCount:  envInt("WORKER_COUNT", 2),
		MaxQueueSize: envInt("MAX_QUEUE_SIZE", 50),
		JobTTL:       envDuration("JOB_TTL", 1*time.Hour),

		MaxUploadBytes: envInt64("MAX_UPLOAD_BYTES", 10<<20),

		CheckpointBackend: envOr("CHECKPOINT_BACKEND", orDefault(f.Checkpoint.Backend, "file")),
		CheckpointPath:    envOr("CHECKPOINT_PATH", f.Checkpoint.Path),
		PathstoreURL:      os.Getenv("PATHSTORE_URL"),
		PathstoreAPIKey:   os.Getenv("PATHSTORE_API_KEY"),
	}

	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 2
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 50
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = 1 * time.Hour
	}
	if cfg.LLMTimeout <= 0 {
		cfg.LLMTimeout = 5 * time.Minute
	}
	if cfg.StructureMaxTokens <= 0 {
		cfg.StructureMaxTokens = def.StructureMaxTokens
	}
	if cfg.ContentMaxTokens <= 0 {
		cfg.ContentMaxTokens = def.ContentMaxTokens
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		cfg.Temperature = def.Temperature
	}

	return cfg, nil
}

// Validate checks what every binary needs: at least one provider key and a
// known default provider and genre.
func (c Config) Validate() error {
	var errs []error
	if c.AnthropicAPIKey == "" && c.DeepSeekAPIKey == "" && c.XAIAPIKey == "" {
		errs = append(errs, errors.New("one of ANTHROPIC_API_KEY, DEEPSEEK_API_KEY or XAI_API_KEY is required"))
	}
	if _, err := llm.ParseProvider(c.DefaultProvider); err != nil {
		errs = append(errs, fmt.Errorf("NOVELGEN_PROVIDER: %w", err))
	}
	if _, err := doctree.ParseGenre(string(c.DefaultGenre)); err != nil {
		errs = append(errs, fmt.Errorf("NOVELGEN_GENRE: %w", err))
	}
	switch c.CheckpointBackend {
	case "file", "sqlite", "none":
	case "pathstore":
		if c.PathstoreURL == "" {
			errs = append(errs, errors.New("PATHSTORE_URL is required for pathstore checkpoints"))
		}
	default:
		errs = append(errs, fmt.Errorf("CHECKPOINT_BACKEND: unknown backend %q", c.CheckpointBackend))
	}
	return errors.Join(errs...)
}

// ValidateServer adds the requirements of the HTTP server.
func (c Config) ValidateServer() error {
	err := c.Validate()
	if c.APIKey == "" {
		err = errors.Join(err, errors.New("NOVELGEN_API_KEY is required"))
	}
	return err
}

// LLMConfigs returns one client configuration per provider. Providers
// without a key are skipped by llm.NewRegistry.
func (c Config) LLMConfigs() []llm.Config {
	return []llm.Config{
		{Provider: llm.Claude, APIKey: c.AnthropicAPIKey, Model: c.ClaudeModel, Timeout: c.LLMTimeout},
		{Provider: llm.DeepSeek, APIKey: c.DeepSeekAPIKey, Model: c.DeepSeekModel, BaseURL: c.DeepSeekBaseURL, Timeout: c.LLMTimeout},
		{Provider: llm.XAI, APIKey: c.XAIAPIKey, Model: c.XAIModel, BaseURL: c.XAIBaseURL, Timeout: c.LLMTimeout},
	}
}

// GenerateOptions returns the orchestrator parameters.
func (c Config) GenerateOptions() generate.Options {
	return generate.Options{
		StructureMaxTokens: c.StructureMaxTokens,
		ContentMaxTokens:   c.ContentMaxTokens,
		Temperature:        c.Temperature,
	}
}

// OpenCheckpoints opens the configured checkpoint store.
func (c Config) OpenCheckpoints() (checkpoint.Store, error) {
	path := c.CheckpointPath
	if path == "" {
		switch c.CheckpointBackend {
		case "sqlite":
			path = "novelgen.db"
		case "file":
			path = "checkpoints"
		}
	}
	return checkpoint.Open(c.CheckpointBackend, path, checkpoint.PathstoreConfig{
		URL:    c.PathstoreURL,
		APIKey: c.PathstoreAPIKey,
	})
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func orInt(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
