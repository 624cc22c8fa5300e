package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"go.uber.org/zap"

	"github.com/cognicore/larder/internal/feed"
	"github.com/cognicore/larder/internal/logging"
	"github.com/cognicore/larder/pkg/larder/config"
	"github.com/cognicore/larder/pkg/larder/ingest"
	"github.com/cognicore/larder/pkg/larder/ingredient"
	"github.com/cognicore/larder/pkg/larder/pipeline"
	"github.com/cognicore/larder/pkg/larder/similarity"
	"github.com/cognicore/larder/pkg/larder/source"
	"github.com/cognicore/larder/pkg/larder/store"
	"github.com/cognicore/larder/pkg/larder/store/memstore"
	"github.com/cognicore/larder/pkg/larder/store/sqlite"
)

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

var errUsage = errors.New("usage")

type options struct {
	urls       string
	jsonDir    string
	replay     bool
	configPath string
	dbPath     string
	memory     bool
	noArchive  bool
	logLevel   string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("larder-ingest", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.urls, "urls", "", "File with one recipe URL per line")
	fs.StringVar(&opts.jsonDir, "json", "", "Directory of recipe JSON dumps (searched recursively)")
	fs.BoolVar(&opts.replay, "replay", false, "Re-extract every archived document")
	fs.StringVar(&opts.configPath, "config", "", "YAML config file (optional)")
	fs.StringVar(&opts.dbPath, "db", "", "Database path (overrides config)")
	fs.BoolVar(&opts.memory, "memory", false, "Use an in-memory store")
	fs.BoolVar(&opts.noArchive, "no-archive", false, "Do not archive fetched HTML")
	fs.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	sources := 0
	for _, set := range []bool{opts.urls != "", opts.jsonDir != "", opts.replay} {
		if set {
			sources++
		}
	}
	if sources != 1 {
		fmt.Fprintln(stderr, "exactly one of -urls, -json or -replay is required")
		fs.Usage()
		return options{}, errUsage
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "unexpected arguments: %v\n", fs.Args())
		return options{}, errUsage
	}
	return opts, nil
}

// loadConfig reads the config file and applies command-line overrides.
func loadConfig(opts options) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.dbPath != "" {
		cfg.Store.Path = opts.dbPath
	}
	if opts.memory {
		cfg.Store.Memory = true
	}
	if opts.noArchive {
		cfg.Store.NoArchive = true
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	if cfg.Memory {
		return memstore.New(), nil
	}
	return sqlite.OpenSQLite(ctx, cfg.Path)
}

func newFetcher(cfg config.FetchConfig, logger *zap.Logger) source.Fetcher {
	web := source.NewHTTP(
		source.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		source.WithUserAgent(cfg.UserAgent),
		source.WithRatePerHost(cfg.RatePerHost, cfg.Burst),
		source.WithRetries(cfg.Retries, cfg.RetryBackoff),
		source.WithMaxBodySize(cfg.MaxBodyBytes),
		source.WithLogger(logger),
	)
	return source.Router{Web: web, Files: source.File{}}
}

// buildPipeline picks the input references and the matching pipeline.
func buildPipeline(ctx context.Context, opts options, cfg *config.Config, st store.Store, logger *zap.Logger) (*pipeline.Pipeline, []string, error) {
	lex, err := cfg.Lexicon()
	if err != nil {
		return nil, nil, err
	}
	index := similarity.New(st,
		similarity.WithThreshold(cfg.Similarity.Threshold),
		similarity.WithStrictDedup(cfg.Similarity.Strict),
		similarity.WithLogger(logger.Named("similarity")),
	)
	ex := ingest.NewExtractor(st, index, ingredient.NewParser(lex), nil, logger.Named("extract"))
	stageOpts := ingest.OptionsFromConfig(cfg.Pipeline, logger)

	switch {
	case opts.urls != "":
		refs, err := feed.ReadURLList(opts.urls)
		if err != nil {
			return nil, nil, err
		}
		var raw ingest.RawStore
		if !cfg.Store.NoArchive {
			raw = st
		}
		return ingest.NewHTMLPipeline(newFetcher(cfg.Fetch, logger.Named("http")), raw, ex, stageOpts), refs, nil

	case opts.jsonDir != "":
		refs, err := feed.WalkJSON(opts.jsonDir)
		if err != nil {
			return nil, nil, err
		}
		return ingest.NewJSONPipeline(source.File{}, ex, stageOpts), refs, nil

	default:
		refs, err := st.ListRaw(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("list archive: %w", err)
		}
		if len(refs) == 0 {
			return nil, nil, errors.New("archive is empty, nothing to replay")
		}
		return ingest.NewReplayPipeline(st, ex, stageOpts), refs, nil
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		return exitUsage
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return exitUsage
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(stderr, "logger: %v\n", err)
		return exitUsage
	}
	defer logger.Sync()

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		logger.Error("Failed to open store", zap.Error(err))
		return exitFailure
	}
	defer st.Close()

	p, refs, err := buildPipeline(ctx, opts, cfg, st, logger)
	if err != nil {
		logger.Error("Failed to build pipeline", zap.Error(err))
		return exitFailure
	}
	logger.Info("Ingest started", zap.Int("items", len(refs)), zap.Int("stages", len(p.Stages())))

	// Interrupts stop feeding; the pipeline itself drains what was queued.
	runCtx := context.WithoutCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(runCtx) }()

	fed := 0
	for _, ref := range refs {
		if err := p.Feed(ctx, ref); err != nil {
			if ctx.Err() != nil {
				signal.Reset(os.Interrupt, syscall.SIGTERM)
				logger.Warn("Interrupted, draining queued items", zap.Int("fed", fed))
			} else {
				logger.Warn("Feeding stopped", zap.Error(err))
			}
			break
		}
		fed++
	}

	if err := p.Stop(runCtx); err != nil {
		logger.Error("Stop failed", zap.Error(err))
	}
	runErr := <-errCh

	stored, err := st.CountRecipes(runCtx)
	if err != nil {
		logger.Warn("Count recipes failed", zap.Error(err))
	}
	printSummary(stdout, fed, stored, p.Stats())

	if runErr != nil {
		logger.Error("Ingest failed", zap.Error(runErr))
		return exitFailure
	}
	return exitOK
}

func printSummary(w io.Writer, fed int, stored int64, stats []pipeline.StageStats) {
	fmt.Fprintf(w, "fed: %d\nrecipes stored: %d\n", fed, stored)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STAGE\tRECEIVED\tEMITTED\tSKIPPED\tFAILED")
	for _, s := range stats {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", s.Name, s.Received, s.Emitted, s.Skipped, s.Failed)
	}
	tw.Flush()
}
