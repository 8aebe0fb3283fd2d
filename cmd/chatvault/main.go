package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/castellan/chatvault/internal/data/db"
	"github.com/castellan/chatvault/internal/data/repos/conversations"
	"github.com/castellan/chatvault/internal/data/repos/embeddings"
	"github.com/castellan/chatvault/internal/data/repos/messages"
	"github.com/castellan/chatvault/internal/data/repos/queue"
	searchrepo "github.com/castellan/chatvault/internal/data/repos/search"
	settingsrepo "github.com/castellan/chatvault/internal/data/repos/settings"
	domainjobs "github.com/castellan/chatvault/internal/domain/jobs"
	"github.com/castellan/chatvault/internal/importer"
	"github.com/castellan/chatvault/internal/importer/format"
	"github.com/castellan/chatvault/internal/jobs/worker"
	"github.com/castellan/chatvault/internal/platform/embed"
	"github.com/castellan/chatvault/internal/platform/envutil"
	"github.com/castellan/chatvault/internal/platform/license"
	"github.com/castellan/chatvault/internal/platform/logger"
	"github.com/castellan/chatvault/internal/platform/transcript"
	"github.com/castellan/chatvault/internal/retrieval"
	"github.com/castellan/chatvault/internal/search"
	"github.com/castellan/chatvault/internal/watcher"
)

// services bundles everything main wires up, for both the long-running
// daemon and the one-shot subcommands.
type services struct {
	log        *logger.Logger
	importSvc  *importer.Service
	searchSvc  *search.Service
	retrieval  *retrieval.Service
	strategies *search.StrategyRegistry
	pool       *worker.Pool
	watch      *watcher.Watcher
}

func main() {
	_ = godotenv.Load()

	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svcs, err := wire(log)
	if err != nil {
		log.Error("Startup failed", "error", err)
		os.Exit(1)
	}

	if len(os.Args) > 1 {
		if err := runCommand(ctx, svcs, os.Args[1], os.Args[2:]); err != nil {
			log.Error("Command failed", "command", os.Args[1], "error", err)
			os.Exit(1)
		}
		return
	}
	runDaemon(ctx, svcs)
}

func wire(log *logger.Logger) (*services, error) {
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		return nil, err
	}
	thePG := postgresService.DB()
	if err := db.AutoMigrateAll(thePG); err != nil {
		return nil, err
	}
	if err := db.EnsureArchiveIndexes(thePG); err != nil {
		return nil, err
	}

	// Repos
	convRepo := conversations.NewConversationRepo(thePG, log)
	msgRepo := messages.NewMessageRepo(thePG, log)
	embRepo := embeddings.NewEmbeddingRepo(thePG, log)
	jobRepo := queue.NewJobRepo(thePG, log)
	settingRepo := settingsrepo.NewSettingRepo(thePG, log)
	srchRepo := searchrepo.NewSearchRepo(thePG, log)

	// Oracles
	var embedOracle embed.Oracle
	if url := envutil.String("CHATVAULT_EMBED_URL", ""); url != "" {
		embedOracle = embed.NewHTTPOracle(url,
			envutil.String("CHATVAULT_EMBED_MODEL", "all-MiniLM-L6-v2"),
			envutil.Int("CHATVAULT_EMBED_DIM", 384))
	} else {
		log.Warn("CHATVAULT_EMBED_URL unset, using hashing embeddings")
		embedOracle = embed.NewHashingOracle(envutil.Int("CHATVAULT_EMBED_DIM", 384))
	}
	var transcriptOracle transcript.Oracle = transcript.Disabled{}
	if url := envutil.String("CHATVAULT_TRANSCRIPT_URL", ""); url != "" {
		transcriptOracle = transcript.NewHTTPOracle(url)
	}
	licenseManager := license.NewManager("", settingRepo, log)

	// Services
	registry := format.DefaultRegistry()
	importSvc := importer.NewService(thePG, log, convRepo, msgRepo, jobRepo, registry, licenseManager, embedOracle.Model())

	strategies := search.NewStrategyRegistry()
	if overrides := envutil.String("CHATVAULT_STRATEGY_FILE", ""); overrides != "" {
		if err := strategies.LoadOverrides(overrides); err != nil {
			log.Warn("Strategy overrides not loaded", "path", overrides, "error", err)
		}
	}
	searchSvc := search.NewService(thePG, log, srchRepo, embRepo, embedOracle, search.DefaultConfig())
	retrievalSvc := retrieval.NewService(log, searchSvc, msgRepo, convRepo)

	// Workers
	pool := worker.NewPool(thePG, log, jobRepo, settingRepo, worker.Config{
		PoolSize:  envutil.Int("CHATVAULT_WORKERS", worker.DefaultPoolSize),
		BatchSize: envutil.Int("CHATVAULT_WORKER_BATCH", worker.DefaultBatchSize),
	})
	pool.Register(domainjobs.KindGenerateEmbedding, worker.NewEmbeddingHandler(log, msgRepo, embRepo, embedOracle))
	pool.Register(domainjobs.KindYouTubeTranscription, worker.NewTranscriptionHandler(log, msgRepo, transcriptOracle))

	watch := watcher.New(log, settingRepo, importSvc.Import,
		envutil.String("CHATVAULT_WATCH_FOLDER", ""))

	return &services{
		log:        log,
		importSvc:  importSvc,
		searchSvc:  searchSvc,
		retrieval:  retrievalSvc,
		strategies: strategies,
		pool:       pool,
		watch:      watch,
	}, nil
}

func runDaemon(ctx context.Context, svcs *services) {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svcs.pool.Run(ctx) })
	g.Go(func() error { return svcs.watch.Run(ctx) })

	svcs.log.Info("chatvault started")
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		svcs.log.Error("Shutting down after error", "error", err)
		os.Exit(1)
	}
	svcs.log.Info("chatvault stopped")
}

func runCommand(ctx context.Context, svcs *services, cmd string, args []string) error {
	switch cmd {
	case "import":
		if len(args) != 1 {
			return fmt.Errorf("usage: chatvault import <file.json>")
		}
		return runImport(ctx, svcs, args[0])
	case "search":
		if len(args) != 1 {
			return fmt.Errorf("usage: chatvault search <query>")
		}
		return runSearch(ctx, svcs, args[0])
	case "retrieve":
		if len(args) != 1 {
			return fmt.Errorf("usage: chatvault retrieve <query>")
		}
		return runRetrieve(ctx, svcs, args[0])
	default:
		return fmt.Errorf("unknown command %q (import, search, retrieve)", cmd)
	}
}

func runImport(ctx context.Context, svcs *services, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var payload interface{}
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	result, err := svcs.importSvc.Import(ctx, payload)
	if err != nil {
		fmt.Fprintln(os.Stderr, importer.Translate(err))
		return err
	}
	return printJSON(result)
}

func runSearch(ctx context.Context, svcs *services, query string) error {
	name := envutil.String("CHATVAULT_STRATEGY", "baseline")
	strat, err := svcs.strategies.Get(name)
	if err != nil {
		return err
	}
	results, meta, err := svcs.searchSvc.SearchWithConfig(ctx, query, strat.Config, search.Options{})
	if err != nil {
		return err
	}
	return printJSON(map[string]interface{}{"results": results, "meta": meta})
}

func runRetrieve(ctx context.Context, svcs *services, query string) error {
	windows, err := svcs.retrieval.Retrieve(ctx, query, retrieval.DefaultParams())
	if err != nil {
		return err
	}
	return printJSON(windows)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
