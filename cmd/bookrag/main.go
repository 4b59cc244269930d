package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"bookrag/internal/config"
	"bookrag/internal/domain"
	"bookrag/internal/embedding"
	"bookrag/internal/embedding/hashing"
	"bookrag/internal/embedding/ollama"
	"bookrag/internal/embedding/openai"
	"bookrag/internal/indexstore"
	"bookrag/internal/registry"
	"bookrag/internal/service"
	"bookrag/internal/summarizer"
	"bookrag/internal/tui"
)

const usage = `Usage: bookrag [--config=config.yaml] <command> [args]

Commands:
  index [path]                 index a file or a directory (default: indexing.directory)
  search [-book T] [-k N] [-min S] query
  books                        list indexed books
  stats <title>                show index details for a book
  delete <title>               remove a book's index
  tui                          interactive search
`

func main() {
	_ = godotenv.Load()

	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional; uses ~/.config/bookrag/config.yaml if not provided)")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	var cfg *config.AppConfig
	var err error
	if cfgPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, args); err != nil {
		logger.Error("command failed", "command", args[0], "error", err)
		stop()
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func run(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger, args []string) error {
	mgr, closeFn, err := assemble(cfg, logger)
	if err != nil {
		return err
	}
	defer closeFn()

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "index":
		return runIndex(ctx, mgr, cfg, rest)
	case "search":
		return runSearch(ctx, mgr, cfg, rest)
	case "books":
		for _, t := range mgr.AvailableBooks(ctx) {
			fmt.Println(t)
		}
		return nil
	case "stats":
		if len(rest) != 1 {
			return errors.New("stats needs exactly one title")
		}
		return runStats(ctx, mgr, rest[0])
	case "delete":
		if len(rest) != 1 {
			return errors.New("delete needs exactly one title")
		}
		return mgr.DeleteBookIndex(ctx, rest[0])
	case "tui":
		m := tui.New(ctx, mgr, tui.Options{TopK: cfg.Search.TopK, MinScore: cfg.Search.MinScore})
		_, err := tea.NewProgram(m, tea.WithContext(ctx), tea.WithAltScreen()).Run()
		return err
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// assemble builds the manager and its collaborators from config.
func assemble(cfg *config.AppConfig, logger *slog.Logger) (*service.RAGManager, func(), error) {
	enc, err := newEncoder(cfg.Embedder)
	if err != nil {
		return nil, nil, err
	}
	store, err := indexstore.New(cfg.Store.CacheDir, logger)
	if err != nil {
		return nil, nil, err
	}

	var reg registry.Registry
	closeFn := func() {}
	if cfg.Registry.DSN != "" {
		reg, err = registry.New(cfg.Registry.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open registry: %w", err)
		}
		closeFn = func() {
			if err := reg.Close(); err != nil {
				logger.Warn("close registry", "error", err)
			}
		}
	}

	var sum domain.Summarizer
	if cfg.Summarizer.Type == "frequency" {
		sum = summarizer.NewFrequencySummarizer(0)
	}

	mgr, err := service.NewRAGManager(service.Options{
		Encoder:          enc,
		Store:            store,
		Registry:         reg,
		Summarizer:       sum,
		Logger:           logger,
		SummarySentences: cfg.Summarizer.MaxSentences,
		MinChunkLength:   cfg.Chunker.MinChunkLength,
		Workers:          cfg.Indexing.Workers,
		Extensions:       cfg.Indexing.Extensions,
	})
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return mgr, closeFn, nil
}

// newEncoder picks the embedding model. Remote models are only contacted on
// first use, so catalog commands work without credentials.
func newEncoder(cfg config.EmbedderConfig) (*embedding.Encoder, error) {
	switch cfg.Type {
	case "hashing", "":
		dim := hashing.DefaultDimension
		if cfg.Hashing != nil && cfg.Hashing.Dimension > 0 {
			dim = cfg.Hashing.Dimension
		}
		m := hashing.New(dim)
		return embedding.NewEncoder(m.Name(), func(context.Context) (embedding.Model, error) {
			return m, nil
		}, cfg.BatchSize), nil
	case "openai":
		if cfg.OpenAI == nil {
			return nil, errors.New("openai embedder config missing")
		}
		oc := openai.Config{
			BaseURL:   cfg.OpenAI.BaseURL,
			APIKeyEnv: cfg.OpenAI.APIKeyEnv,
			Model:     cfg.OpenAI.Model,
			Timeout:   time.Duration(cfg.OpenAI.TimeoutSecs) * time.Second,
		}
		return embedding.NewEncoder("openai-"+oc.Model, func(context.Context) (embedding.Model, error) {
			return openai.New(oc)
		}, cfg.BatchSize), nil
	case "ollama":
		if cfg.Ollama == nil {
			return nil, errors.New("ollama embedder config missing")
		}
		c := ollama.NewClient(ollama.Config{
			BaseURL:   cfg.Ollama.BaseURL,
			APIKeyEnv: cfg.Ollama.APIKeyEnv,
			Model:     cfg.Ollama.Model,
			Timeout:   time.Duration(cfg.Ollama.TimeoutSecs) * time.Second,
		})
		return embedding.NewEncoder(c.Name(), func(context.Context) (embedding.Model, error) {
			return c, nil
		}, cfg.BatchSize), nil
	default:
		return nil, fmt.Errorf("unknown embedder: %s", cfg.Type)
	}
}

func runIndex(ctx context.Context, mgr *service.RAGManager, cfg *config.AppConfig, args []string) error {
	target := cfg.Indexing.Directory
	if len(args) > 0 {
		target = args[0]
	}
	fi, err := os.Stat(target)
	if err != nil {
		return err
	}
	size, overlap := cfg.Chunker.ChunkSize, cfg.Chunker.Overlap
	if !fi.IsDir() {
		title, err := mgr.IndexDocument(ctx, target, size, overlap)
		if err != nil {
			return err
		}
		fmt.Printf("indexed %q\n", title)
		return nil
	}

	job := mgr.StartIndexDirectory(ctx, target, size, overlap)
	titles, err := job.Wait()
	for _, t := range titles {
		fmt.Printf("indexed %q\n", t)
	}
	st := job.Status()
	fmt.Printf("job %s %s: %d books in %s\n", st.ID, st.State, len(titles), st.FinishedAt.Sub(st.StartedAt).Round(time.Millisecond))
	return err
}

func runSearch(ctx context.Context, mgr *service.RAGManager, cfg *config.AppConfig, args []string) error {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	book := fs.String("book", "", "restrict the search to one book")
	k := fs.Int("k", cfg.Search.TopK, "maximum number of results")
	minScore := fs.Float64("min", cfg.Search.MinScore, "minimum similarity")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("search needs a query")
	}
	query := fs.Arg(0)
	for _, a := range fs.Args()[1:] {
		query += " " + a
	}
	res, err := mgr.SearchMerged(ctx, *book, query, *k, *minScore)
	if err != nil {
		return err
	}
	fmt.Println(service.FormatSearchResults(res))
	return nil
}

func runStats(ctx context.Context, mgr *service.RAGManager, title string) error {
	info, ok := mgr.BookStats(ctx, title)
	if !ok {
		return fmt.Errorf("book %q: %w", title, domain.ErrNotFound)
	}
	fmt.Printf("title:      %s\n", info.Title)
	fmt.Printf("chunks:     %d\n", info.Stats.Chunks)
	fmt.Printf("dimension:  %d\n", info.Stats.Dimension)
	fmt.Printf("model:      %s\n", info.Stats.ModelName)
	if info.ModelMismatch {
		fmt.Println("warning:    built with a different embedding model; re-index for accurate results")
	}
	if e := info.Entry; e != nil {
		if e.Author != "" {
			fmt.Printf("author:     %s\n", e.Author)
		}
		fmt.Printf("source:     %s\n", e.SourcePath)
		fmt.Printf("updated:    %s\n", e.UpdatedAt.Format(time.RFC3339))
		if e.Summary != "" {
			fmt.Printf("summary:    %s\n", e.Summary)
		}
	}
	return nil
}
