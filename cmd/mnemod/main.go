package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/robfig/cron/v3"

	"github.com/substratelabs/mnemo/classifier"
	anthropiccls "github.com/substratelabs/mnemo/classifier/anthropic"
	ollamacls "github.com/substratelabs/mnemo/classifier/ollama"
	"github.com/substratelabs/mnemo/config"
	"github.com/substratelabs/mnemo/embeddings"
	ollamaemb "github.com/substratelabs/mnemo/embeddings/ollama"
	openaiemb "github.com/substratelabs/mnemo/embeddings/openai"
	mnemologger "github.com/substratelabs/mnemo/logger"
	"github.com/substratelabs/mnemo/mcpserver"
	"github.com/substratelabs/mnemo/memory"
	"github.com/substratelabs/mnemo/migrations"
	"github.com/substratelabs/mnemo/observer"
	"github.com/substratelabs/mnemo/server"
	"github.com/substratelabs/mnemo/stm"
)

const version = "0.3.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath     = flag.String("config", "", "Path to config file. Defaults to ~/.mnemod/config.yaml")
		addr           = flag.String("addr", "", "HTTP listen address. Overrides config")
		dbPath         = flag.String("db", "", "Path to SQLite database file. Overrides config")
		migrationsPath = flag.String("migrations", "./migrations", "Path to migration files")
		logFile        = flag.String("logfile", "", "Path to log file. If not set, logs to stdout/stderr")
		pretty         = flag.Bool("pretty", false, "Use pretty console output (only valid when logfile is not set)")
		mcpStdio       = flag.Bool("mcp", false, "Serve MCP tools on stdio instead of HTTP")
		writeConfig    = flag.Bool("write-config", false, "Write the default config to the config path and exit")
	)
	flag.Parse()

	if *logFile != "" && *pretty {
		return fmt.Errorf("--logfile and --pretty are mutually exclusive")
	}

	// MCP on stdio owns stdout, so logs must go elsewhere.
	if *mcpStdio && *logFile == "" {
		*logFile = "mnemod.log"
		*pretty = false
	}

	logger, err := mnemologger.InitWithOptions(*logFile, *pretty)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	cfgPath := *configPath
	if cfgPath == "" {
		cfgPath = config.GetServerConfigPath()
	}

	if *writeConfig {
		defaults := config.Defaults()
		if err := config.SaveServerConfig(&defaults, cfgPath); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
		logger.Info().Str("path", cfgPath).Msg("Wrote default config; set server.api_key before starting")
		return nil
	}

	appConfig, err := config.LoadServerConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load server configuration: %w", err)
	}
	if *addr != "" {
		appConfig.Server.Addr = *addr
	}
	if *dbPath != "" {
		appConfig.Database.Path = *dbPath
	}

	logger.Info().
		Str("addr", appConfig.Server.Addr).
		Str("db", appConfig.Database.Path).
		Bool("mcp", *mcpStdio).
		Msg("mnemod starting")

	// ---------------------------
	// 1. Open SQLite + Durable Store
	// ---------------------------

	db, err := sql.Open("sqlite3", appConfig.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close() //nolint:errcheck // No remedy for db close errors

	if err := migrations.RunMigrations(db, *migrationsPath, logger); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	store := memory.NewStore(db, logger)

	// ---------------------------
	// 2. Embedding Gateway
	// ---------------------------

	var embedder embeddings.Embedder
	switch appConfig.Embeddings.Provider {
	case "openai":
		if appConfig.OpenAI.APIKey == "" {
			return fmt.Errorf("missing openai.api_key for embeddings provider %q", appConfig.Embeddings.Provider)
		}
		embedder = openaiemb.NewEmbedder(appConfig.OpenAI.APIKey, appConfig.OpenAI.BaseURL, appConfig.OpenAI.EmbedModel, logger)
	case "ollama", "":
		embedder, err = ollamaemb.NewEmbedder(appConfig.Ollama.Host, appConfig.Ollama.EmbedModel, logger)
		if err != nil {
			return fmt.Errorf("failed to create ollama embedder: %w", err)
		}
	default:
		return fmt.Errorf("unknown embeddings provider %q", appConfig.Embeddings.Provider)
	}

	// ---------------------------
	// 3. Short-Term Buffer + Capture Pipeline
	// ---------------------------

	var ttlStore stm.TTLStore
	if appConfig.STM.RedisURL != "" {
		redisStore, err := stm.NewRedisStore(appConfig.STM.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer redisStore.Close() //nolint:errcheck // No remedy for close errors
		ttlStore = redisStore
		logger.Info().Msg("Short-term buffer backed by Redis")
	} else {
		ttlStore = stm.NewMemStore()
		logger.Info().Msg("Short-term buffer backed by in-process store")
	}

	buffer := stm.NewBuffer(ttlStore, time.Duration(appConfig.STM.TTLSeconds)*time.Second, logger)
	coordinator := observer.NewCoordinator(buffer, logger)

	var relay *observer.Relay
	if !appConfig.Classifier.Disabled {
		var cls classifier.Classifier
		switch appConfig.Classifier.Provider {
		case "anthropic":
			if appConfig.Anthropic.APIKey == "" {
				return fmt.Errorf("missing anthropic.api_key for classifier provider %q", appConfig.Classifier.Provider)
			}
			cls = anthropiccls.NewClassifier(appConfig.Anthropic.APIKey, appConfig.Anthropic.Model, appConfig.Anthropic.MaxTokens, logger)
		case "ollama", "":
			cls, err = ollamacls.NewClassifier(appConfig.Ollama.Host, appConfig.Ollama.ClassifierModel, appConfig.Ollama.NumCtx, logger)
			if err != nil {
				return fmt.Errorf("failed to create ollama classifier: %w", err)
			}
		default:
			return fmt.Errorf("unknown classifier provider %q", appConfig.Classifier.Provider)
		}
		relay = observer.NewRelay(buffer, cls, appConfig.STM.SnippetBudget, logger)
	} else {
		logger.Info().Msg("Turn classification is disabled")
	}

	// ---------------------------
	// 4. Ranking Engine + Service
	// ---------------------------

	engine := memory.NewEngine(store, embedder, appConfig.Search.LexicalWeight, appConfig.Search.SemanticWeight, logger)
	service := memory.NewService(store, engine, embedder, coordinator, buffer, logger)

	// ---------------------------
	// 5. Health Heartbeat
	// ---------------------------

	heartbeat := cron.New()
	if _, err := heartbeat.AddFunc(appConfig.Heartbeat.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		report := service.Health(ctx)
		logger.Info().
			Str("store", string(report.Store)).
			Str("embeddings", string(report.Embeddings)).
			Str("cache", string(report.Cache)).
			Int64("memories", report.MemoryCount).
			Msg("Heartbeat")
	}); err != nil {
		return fmt.Errorf("invalid heartbeat schedule %q: %w", appConfig.Heartbeat.Schedule, err)
	}
	heartbeat.Start()
	defer heartbeat.Stop()

	// ---------------------------
	// 6. Serve
	// ---------------------------

	if *mcpStdio || appConfig.MCP.Enabled {
		mcpSrv := mcpserver.New(service, version, logger)
		if err := mcpSrv.ServeStdio(); err != nil {
			return fmt.Errorf("mcp server error: %w", err)
		}
		logger.Info().Msg("mnemod shutdown complete")
		return nil
	}

	srv := server.New(appConfig.Server.Addr, appConfig.Server.APIKey, service, relay, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Graceful shutdown failed")
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info().Msg("mnemod shutdown complete")
	return nil
}
