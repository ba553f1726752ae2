package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	cli "github.com/urfave/cli/v3"

	"github.com/dgallion1/novelgen/internal/checkpoint"
	"github.com/dgallion1/novelgen/internal/config"
	"github.com/dgallion1/novelgen/internal/doctree"
	"github.com/dgallion1/novelgen/internal/generate"
	"github.com/dgallion1/novelgen/internal/llm"
	"github.com/dgallion1/novelgen/internal/parser"
)

// env is what a subcommand needs to talk to a provider.
type env struct {
	cfg   config.Config
	log   *slog.Logger
	gen   *generate.Orchestrator
	store checkpoint.Store
}

func newLogger(cmd *cli.Command) *slog.Logger {
	level := slog.LevelWarn
	if cmd.Bool("verbose") {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func loadConfig(cmd *cli.Command) (config.Config, error) {
	if path := cmd.String("config"); path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// setup loads and validates configuration and builds the orchestrator and
// checkpoint store. The caller closes env.store.
func setup(cmd *cli.Command) (*env, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := newLogger(cmd)
	registry, err := llm.NewRegistry(cfg.LLMConfigs(), nil)
	if err != nil {
		return nil, err
	}
	store, err := cfg.OpenCheckpoints()
	if err != nil {
		return nil, fmt.Errorf("opening checkpoints: %w", err)
	}
	return &env{
		cfg:   cfg,
		log:   log,
		gen:   generate.New(registry, log, cfg.GenerateOptions()),
		store: store,
	}, nil
}

func (e *env) provider(cmd *cli.Command) string {
	if p := cmd.String("provider"); p != "" {
		return p
	}
	return e.cfg.DefaultProvider
}

// settings reads the basic settings from --settings, falling back to the
// configured basic_settings_file.
func (e *env) settings(cmd *cli.Command) (string, error) {
	path := cmd.String("settings")
	if path == "" {
		path = e.cfg.BasicSettingsFile
	}
	if path == "" {
		return "", errors.New("--settings is required")
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	text, tokens, err := parser.ReadSettings(f, filepath.Base(path))
	if err != nil {
		return "", err
	}
	e.log.Info("settings loaded", "file", path, "estimated_tokens", tokens)
	return text, nil
}

func parseGenre(s string, fallback doctree.Genre) (doctree.Genre, error) {
	if s == "" {
		return fallback, nil
	}
	return doctree.ParseGenre(s)
}

func readDoc(path string) (doctree.Document, error) {
	if path == "" {
		return doctree.Document{}, errors.New("--doc is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return doctree.Document{}, err
	}
	var doc doctree.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return doctree.Document{}, fmt.Errorf("decode %s: %w", path, err)
	}
	if doc.IsZero() {
		return doctree.Document{}, fmt.Errorf("%s: %w", path, doctree.ErrEmptyDoc)
	}
	return doctree.Normalize(doc), nil
}

// readContent reads replacement prose from a file, or stdin for "-".
func readContent(path string) (string, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(data), "\n"), nil
}

// writeDoc replaces path atomically. An empty path writes to stdout.
func writeDoc(path string, doc doctree.Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if path == "" || path == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	return checkpoint.WriteFile(path, data, 0o644)
}

// printer shows streamed prose on out and leaf progress on status. Chunk
// events may be dropped for a slow reader, so it prints from the accumulated
// text rather than the fragment and fills in any tail on completion.
type printer struct {
	out    io.Writer
	status io.Writer
	start  time.Time
	shown  string
}

func newPrinter(out, status io.Writer) *printer {
	return &printer{out: out, status: status, start: time.Now()}
}

func (p *printer) observe(e generate.Event) {
	switch e.Type {
	case generate.EventLeafStarted:
		fmt.Fprintf(p.status, "[%3.0f%%] %d/%d %s\n", e.Progress, e.Completed+1, e.Total, e.Title)
		fmt.Fprintf(p.out, "\n\n## %s\n\n", e.Title)
		p.shown = ""
	case generate.EventChunk:
		if len(e.Accumulated) > len(p.shown) && strings.HasPrefix(e.Accumulated, p.shown) {
			fmt.Fprint(p.out, e.Accumulated[len(p.shown):])
			p.shown = e.Accumulated
		}
	case generate.EventComplete:
		shown := strings.TrimLeftFunc(p.shown, unicode.IsSpace)
		if len(e.Content) > len(shown) && strings.HasPrefix(e.Content, shown) {
			fmt.Fprint(p.out, e.Content[len(shown):])
		}
		p.shown = ""
		if e.Refusal {
			fmt.Fprintf(p.status, "warning: %q reads like a refusal\n", e.Title)
		}
	case generate.EventError:
		fmt.Fprintf(p.status, "failed at %q: %s\n", e.Title, e.Message)
	case generate.EventDone:
		fmt.Fprintf(p.status, "[100%%] done in %s\n", time.Since(p.start).Round(time.Second))
	}
}
