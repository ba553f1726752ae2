package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/dgallion1/novelgen/internal/checkpoint"
	"github.com/dgallion1/novelgen/internal/doctree"
	"github.com/dgallion1/novelgen/internal/generate"
	"github.com/dgallion1/novelgen/internal/parser"
	"github.com/dgallion1/novelgen/internal/pipeline"
	"github.com/dgallion1/novelgen/internal/render"
)

func main() {
	app := &cli.Command{
		Name:  "novelgen",
		Usage: "Plan and write novels, textbooks and short stories with an LLM",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "Log debug output to stderr"},
			&cli.StringFlag{Name: "config", Usage: "YAML settings file (default $NOVELGEN_CONFIG)"},
		},
		Commands: []*cli.Command{
			structureCmd(),
			writeCmd(),
			regenerateCmd(),
			exportCmd(),
			editCmd(),
			importCmd(),
			checkCmd(),
			resumeCmd(),
			runsCmd(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := app.Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// Flags shared by several subcommands. Each command gets its own instance.

func providerFlag() cli.Flag {
	return &cli.StringFlag{Name: "provider", Usage: "claude, deepseek or xai (default $NOVELGEN_PROVIDER)"}
}

func settingsFlag() cli.Flag {
	return &cli.StringFlag{Name: "settings", Usage: "Basic settings file (txt, md, html, docx, pdf)"}
}

func genreFlag() cli.Flag {
	return &cli.StringFlag{Name: "genre", Usage: "novel, textbook or short-story"}
}

func docFlag() cli.Flag {
	return &cli.StringFlag{Name: "doc", Usage: "Document JSON file", Required: true}
}

func outFlag() cli.Flag {
	return &cli.StringFlag{Name: "out", Usage: "Output file (default stdout)"}
}

func structureCmd() *cli.Command {
	return &cli.Command{
		Name:  "structure",
		Usage: "Generate an empty document structure from basic settings",
		Flags: []cli.Flag{
			settingsFlag(), genreFlag(), providerFlag(), outFlag(),
			&cli.IntFlag{Name: "target", Usage: "Target length in characters (short stories)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer e.store.Close()

			settings, err := e.settings(cmd)
			if err != nil {
				return err
			}
			genre, err := parseGenre(cmd.String("genre"), e.cfg.DefaultGenre)
			if err != nil {
				return err
			}
			target := int(cmd.Int("target"))
			if target <= 0 {
				target = e.cfg.TargetLength
			}
			s, err := e.gen.GenerateStructure(ctx, generate.StructureRequest{
				Settings:     settings,
				Provider:     e.provider(cmd),
				Genre:        genre,
				TargetLength: target,
			})
			if err != nil {
				return err
			}
			for _, issue := range s.Issues {
				fmt.Fprintf(os.Stderr, "note: %s\n", issue)
			}
			fmt.Fprintf(os.Stderr, "%q: %d leaves\n", s.Document.Title(), s.Document.CountLeaves())
			return writeDoc(cmd.String("out"), s.Document)
		},
	}
}

func writeCmd() *cli.Command {
	return &cli.Command{
		Name:  "write",
		Usage: "Write the content of every leaf, streaming prose to stdout",
		Flags: []cli.Flag{
			docFlag(), settingsFlag(), genreFlag(), providerFlag(),
			&cli.StringFlag{Name: "from", Usage: "Start at this leaf (id, section number or title)"},
			&cli.StringFlag{Name: "out", Usage: "Where to save the document (default --doc)"},
			&cli.StringFlag{Name: "run", Usage: "Checkpoint run id (default a new id)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer e.store.Close()

			doc, err := readDoc(cmd.String("doc"))
			if err != nil {
				return err
			}
			settings, err := e.settings(cmd)
			if err != nil {
				return err
			}
			var startAt string
			if ref := cmd.String("from"); ref != "" {
				if startAt, err = doctree.Lookup(doc, ref); err != nil {
					return err
				}
			}
			genre, err := parseGenre(cmd.String("genre"), "")
			if err != nil {
				return err
			}
			runID := cmd.String("run")
			if runID == "" {
				id, err := uuid.NewV7()
				if err != nil {
					return err
				}
				runID = id.String()
			}
			out := cmd.String("out")
			if out == "" {
				out = cmd.String("doc")
			}
			return e.runJob(ctx, runID, out, pipeline.Request{
				Settings: settings,
				Provider: e.provider(cmd),
				Genre:    genre,
				Document: doc,
				StartAt:  startAt,
			})
		},
	}
}

func resumeCmd() *cli.Command {
	return &cli.Command{
		Name:  "resume",
		Usage: "Continue a checkpointed run from the leaf where it stopped",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "run", Usage: "Run id printed by write", Required: true},
			&cli.StringFlag{Name: "out", Usage: "Also save the document here"},
			providerFlag(),
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer e.store.Close()

			runID := cmd.String("run")
			rec, err := e.store.Load(ctx, runID)
			if err != nil {
				return err
			}
			if at := pipeline.ResumePoint(rec); at != "" {
				fmt.Fprintf(os.Stderr, "resuming %q at leaf %s\n", rec.Document.Title(), at)
			}
			return e.runJob(ctx, runID, cmd.String("out"), pipeline.Request{
				ResumeRun: runID,
				Provider:  cmd.String("provider"),
			})
		},
	}
}

// runJob drives one job through a worker in the foreground. The document is
// saved to out after every finished leaf and once more at the end.
func (e *env) runJob(ctx context.Context, runID, out string, req pipeline.Request) error {
	job := pipeline.NewJob(runID, req)
	events, unsubscribe := job.Subscribe()
	defer unsubscribe()

	w := pipeline.NewWorker(e.gen, e.store, e.log)
	go w.Process(ctx, job)

	fmt.Fprintf(os.Stderr, "run %s\n", runID)
	p := newPrinter(os.Stdout, os.Stderr)
	for ev := range events {
		p.observe(ev.Event)
		if ev.Type == generate.EventComplete && out != "" {
			if err := writeDoc(out, ev.Document); err != nil {
				e.log.Warn("cannot save document", "path", out, "error", err)
			}
		}
	}
	fmt.Fprintln(os.Stdout)

	snap := job.Snapshot()
	if out != "" && !snap.Document.IsZero() {
		if err := writeDoc(out, snap.Document); err != nil {
			return err
		}
	}
	switch snap.Status {
	case pipeline.StatusCompleted:
		return nil
	case pipeline.StatusCancelled:
		return fmt.Errorf("stopped; continue with: novelgen resume --run %s", runID)
	}
	return fmt.Errorf("%s (continue with: novelgen resume --run %s)", snap.Phase, runID)
}

func regenerateCmd() *cli.Command {
	return &cli.Command{
		Name:  "regenerate",
		Usage: "Rewrite one leaf",
		Flags: []cli.Flag{
			docFlag(), settingsFlag(), genreFlag(), providerFlag(),
			&cli.StringFlag{Name: "leaf", Usage: "Leaf id, section number or title", Required: true},
			&cli.StringFlag{Name: "out", Usage: "Where to save the document (default --doc)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer e.store.Close()

			doc, err := readDoc(cmd.String("doc"))
			if err != nil {
				return err
			}
			key, err := doctree.Lookup(doc, cmd.String("leaf"))
			if err != nil {
				return err
			}
			settings, err := e.settings(cmd)
			if err != nil {
				return err
			}
			genre, err := parseGenre(cmd.String("genre"), "")
			if err != nil {
				return err
			}
			p := newPrinter(os.Stdout, os.Stderr)
			updated, err := e.gen.RegenerateLeaf(ctx, generate.LeafRequest{
				Document: doc,
				Settings: settings,
				Provider: e.provider(cmd),
				Genre:    genre,
				Key:      key,
			}, p.observe)
			fmt.Fprintln(os.Stdout)
			if err != nil {
				return err
			}
			out := cmd.String("out")
			if out == "" {
				out = cmd.String("doc")
			}
			return writeDoc(out, updated)
		},
	}
}

func checkCmd() *cli.Command {
	return &cli.Command{
		Name:  "check",
		Usage: "Review a written document for consistency",
		Flags: []cli.Flag{docFlag(), settingsFlag(), genreFlag(), providerFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer e.store.Close()

			doc, err := readDoc(cmd.String("doc"))
			if err != nil {
				return err
			}
			settings, err := e.settings(cmd)
			if err != nil {
				return err
			}
			genre, err := parseGenre(cmd.String("genre"), "")
			if err != nil {
				return err
			}
			report, err := e.gen.CheckConsistency(ctx, generate.ConsistencyRequest{
				Document:     doc,
				Settings:     settings,
				Provider:     e.provider(cmd),
				Genre:        genre,
				TargetLength: e.cfg.TargetLength,
			})
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}

func exportCmd() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Render a document as markdown, text or html",
		Flags: []cli.Flag{
			docFlag(), outFlag(),
			&cli.StringFlag{Name: "format", Value: "markdown", Usage: "markdown, text or html"},
			&cli.IntFlag{Name: "wrap", Usage: "Wrap plain text at this width"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			doc, err := readDoc(cmd.String("doc"))
			if err != nil {
				return err
			}
			f, err := render.ParseFormat(cmd.String("format"))
			if err != nil {
				return err
			}
			data, err := render.Render(doc, f, render.Options{Wrap: int(cmd.Int("wrap"))})
			if err != nil {
				return err
			}
			if out := cmd.String("out"); out != "" {
				return checkpoint.WriteFile(out, data, 0o644)
			}
			_, err = os.Stdout.Write(data)
			return err
		},
	}
}

func editCmd() *cli.Command {
	return &cli.Command{
		Name:  "edit",
		Usage: "Change the title, summary or content of one node",
		Flags: []cli.Flag{
			docFlag(), outFlag(),
			&cli.StringFlag{Name: "node", Usage: "Node ID, section number or leaf title", Required: true},
			&cli.StringFlag{Name: "title", Usage: "New title"},
			&cli.StringFlag{Name: "summary", Usage: "New summary"},
			&cli.StringFlag{Name: "content-file", Usage: "Replace leaf content with this file (- for stdin)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path := cmd.String("doc")
			doc, err := readDoc(path)
			if err != nil {
				return err
			}
			var patch doctree.Patch
			if cmd.IsSet("title") {
				v := cmd.String("title")
				patch.Title = &v
			}
			if cmd.IsSet("summary") {
				v := cmd.String("summary")
				patch.Summary = &v
			}
			if src := cmd.String("content-file"); src != "" {
				v, err := readContent(src)
				if err != nil {
					return err
				}
				patch.Content = &v
			}
			if patch == (doctree.Patch{}) {
				return errors.New("nothing to change: pass --title, --summary or --content-file")
			}

			ref := cmd.String("node")
			out, err := doctree.UpdateNode(doc, ref, patch)
			if errors.Is(err, doctree.ErrLeafNotFound) {
				if key, lerr := doctree.Lookup(doc, ref); lerr == nil {
					out, err = doctree.UpdateNode(doc, key, patch)
				}
			}
			if err != nil {
				return err
			}
			if err := doctree.Validate(out); err != nil {
				return err
			}
			if dst := cmd.String("out"); dst != "" {
				path = dst
			}
			return writeDoc(path, out)
		},
	}
}

func importCmd() *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "Build an empty document from an outline file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Usage: "Outline (md, html, docx, csv, txt, pdf)", Required: true},
			genreFlag(), outFlag(),
			&cli.IntFlag{Name: "target", Usage: "Target length in characters (short stories)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			genre, err := parseGenre(cmd.String("genre"), cfg.DefaultGenre)
			if err != nil {
				return err
			}
			path := cmd.String("file")
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()

			target := int(cmd.Int("target"))
			if target <= 0 {
				target = cfg.TargetLength
			}
			doc, err := parser.Import(f, path, genre, target)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "%q: %d leaves\n", doc.Title(), doc.CountLeaves())
			return writeDoc(cmd.String("out"), doc)
		},
	}
}

func runsCmd() *cli.Command {
	return &cli.Command{
		Name:  "runs",
		Usage: "List checkpointed runs",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			store, err := cfg.OpenCheckpoints()
			if err != nil {
				return err
			}
			defer store.Close()

			ids, err := store.List(ctx)
			if err != nil {
				return err
			}
			for _, id := range ids {
				rec, err := store.Load(ctx, id)
				if errors.Is(err, checkpoint.ErrNotFound) {
					continue
				}
				if err != nil {
					return err
				}
				state := "complete"
				if at := pipeline.ResumePoint(rec); at != "" {
					state = "resume at " + at
				}
				fmt.Printf("%s  %-12s %-30q %s\n", id, rec.Genre, rec.Document.Title(), state)
			}
			return nil
		},
	}
}
