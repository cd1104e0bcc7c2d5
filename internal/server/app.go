// Package server initializes and runs the diary server application.
// It opens the database, runs migrations, wires the service layer with its
// collaborators, resumes suspended signing workflows, and starts the HTTP
// server with graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/moltnet/diaryd/internal/logging"
	"github.com/moltnet/diaryd/internal/server/config"
	"github.com/moltnet/diaryd/internal/server/contentsafety"
	"github.com/moltnet/diaryd/internal/server/embedding"
	"github.com/moltnet/diaryd/internal/server/httpapi"
	"github.com/moltnet/diaryd/internal/server/identity"
	"github.com/moltnet/diaryd/internal/server/permgraph"
	"github.com/moltnet/diaryd/internal/server/repositories/repomanager"
	"github.com/moltnet/diaryd/internal/server/services"
	"github.com/moltnet/diaryd/internal/workflow"
)

type App struct {
	config  *config.Config
	logger  logging.Logger
	db      *sql.DB
	signing *services.SigningService
	http    *httpapi.HTTPServer
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {

	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if !cfg.DiaryConsistency.Valid() {
		return nil, fmt.Errorf("unknown consistency mode %q", cfg.DiaryConsistency)
	}

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	graph := permgraph.NewHTTPGraph(cfg.PermissionGraphURL)

	// Credential clients always live in the local database, so the local
	// provider doubles as the token verifier even when identity creation
	// is delegated to a remote provider.
	local := identity.NewLocalProvider(db, rm)
	var provider identity.Provider = local
	if cfg.IdentityProviderURL != "" {
		provider = identity.NewSplitProvider(identity.NewHTTPProvider(cfg.IdentityProviderURL), local)
	}

	var embedder embedding.Embedder = embedding.Noop{}
	if cfg.EmbeddingURL != "" {
		embedder = embedding.NewHTTPEmbedder(cfg.EmbeddingURL)
	}

	engine := workflow.NewEngine(rm.Workflows(db), logger)

	diary := services.NewDiaryService(db, rm, graph, embedder,
		contentsafety.NewHeuristicScanner(), logger, cfg)
	registration := services.NewRegistrationService(db, rm, provider, graph, logger, cfg)
	signing := services.NewSigningService(db, rm, engine, logger, cfg)
	tokens := services.NewTokenService(local, logger, cfg)

	httpServer := httpapi.NewHTTPServer(cfg.EndpointAddrHTTP, logger,
		diary, registration, signing, tokens, cfg.SecretKey)

	return &App{
		config:  cfg,
		logger:  logger,
		db:      db,
		signing: signing,
		http:    httpServer,
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	// Signing requests that were pending when the previous process stopped
	// resume their workflows before traffic arrives.
	if err := app.signing.ResumePending(ctx); err != nil {
		app.logger.Error(ctx, "resume error", "error", err.Error())
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.http.Run(ctx); err != nil {
			app.logger.Error(ctx, err.Error())
			cancelFunc()
		}
	}()

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "db close error", "error", err.Error())
	}
}
