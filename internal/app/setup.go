package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quadra0/quadra/db"
	"github.com/quadra0/quadra/internal/config"
	"github.com/quadra0/quadra/internal/feedback"
	"github.com/quadra0/quadra/internal/gate"
	"github.com/quadra0/quadra/internal/knowledge"
	"github.com/quadra0/quadra/internal/pipeline"
	"github.com/quadra0/quadra/internal/scheduler"
	"github.com/quadra0/quadra/internal/solver"
	"github.com/quadra0/quadra/internal/websearch"
)

// Setup creates and initializes the application. On failure everything
// already initialized is released before the error is returned.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, retErr error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	pool, cleanup, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Pool = pool
	a.dbCleanup = cleanup

	g, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder := provideEmbedder(g, cfg)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}
	a.Embedder = embedder

	modelName := qualifiedModelName(cfg)

	a.Knowledge, err = knowledge.NewStore(pool, embedder, logger)
	if err != nil {
		return nil, fmt.Errorf("creating knowledge store: %w", err)
	}
	a.Feedback, err = feedback.NewStore(pool, logger)
	if err != nil {
		return nil, fmt.Errorf("creating feedback store: %w", err)
	}
	a.Cycles, err = feedback.NewCycleStore(pool, logger)
	if err != nil {
		return nil, fmt.Errorf("creating cycle store: %w", err)
	}

	classifier, err := gate.NewGenkitClassifier(g, modelName)
	if err != nil {
		return nil, fmt.Errorf("creating classifier: %w", err)
	}
	a.Gate, err = gate.New(gate.Config{
		MaxQuestionLength: cfg.Gate.MaxQuestionLength,
		MathKeywords:      cfg.Gate.MathKeywords,
		BlockedTerms:      cfg.Gate.BlockedTerms,
	}, classifier, logger)
	if err != nil {
		return nil, fmt.Errorf("creating content gate: %w", err)
	}

	a.Search, err = websearch.New(websearch.Config{
		APIKey:         cfg.Search.APIKey,
		BaseURL:        cfg.Search.BaseURL,
		AllowedDomains: cfg.Search.AllowedDomains,
		MaxResults:     cfg.Search.MaxResults,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating web search client: %w", err)
	}

	a.Slot = solver.NewSlot()
	a.Solver, err = solver.New(solver.Config{
		Genkit:      g,
		ModelName:   modelName,
		Temperature: float64(cfg.Temperature),
		Slot:        a.Slot,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating solver: %w", err)
	}

	a.Pipeline, err = pipeline.New(pipeline.Config{
		Gate:        a.Gate,
		Router:      pipeline.NewGenkitRouter(g, modelName, logger),
		Retriever:   a.Knowledge,
		Searcher:    a.Search,
		Generator:   a.Solver,
		Corrections: &correctionSource{store: a.Feedback},
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating pipeline: %w", err)
	}

	optimizer, err := feedback.NewOptimizer(a.Solver, cfg.Learning.MinTrainingExamples, logger)
	if err != nil {
		return nil, fmt.Errorf("creating optimizer: %w", err)
	}
	analyzer, err := feedback.NewAnalyzer(g, modelName, pool, a.Feedback, logger)
	if err != nil {
		return nil, fmt.Errorf("creating failure analyzer: %w", err)
	}
	a.Loop, err = feedback.NewLoop(feedback.LoopConfig{
		Source:      a.Feedback,
		Optimizer:   optimizer,
		Knowledge:   a.Knowledge,
		Slot:        a.Slot,
		Audit:       a.Cycles,
		Diagnoser:   analyzer,
		MinExamples: cfg.Learning.MinTrainingExamples,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating learning loop: %w", err)
	}

	// Seed the scheduler's backlog baseline from the last persisted
	// cycle so a restart does not refire the count trigger immediately.
	var lastCycle time.Time
	if completed, ok, err := a.Cycles.LastCompleted(ctx); err != nil {
		logger.Warn("last cycle lookup failed", "error", err)
	} else if ok {
		lastCycle = completed
	}

	a.Scheduler, err = scheduler.New(scheduler.Config{
		Runner:         a.Loop,
		Backlog:        a.Feedback,
		DailyHour:      cfg.Learning.DailyHour,
		CountThreshold: int64(cfg.Learning.FeedbackThreshold),
		CountInterval:  time.Duration(cfg.Learning.CheckIntervalMinutes) * time.Minute,
		HealthInterval: time.Duration(cfg.Learning.HealthIntervalHours) * time.Hour,
		LastCycleAt:    lastCycle,
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating scheduler: %w", err)
	}

	return a, nil
}

// provideDBPool runs migrations and opens the connection pool.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, func(), error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, nil, fmt.Errorf("parsing connection config: %w", err)
	}
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, pool.Close, nil
}

// provideGenkit initializes Genkit with the configured AI provider.
// Supports gemini (default), ollama and openai.
func provideGenkit(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*genkit.Genkit, error) {
	provider := cfg.Provider
	if provider == "" {
		provider = config.ProviderGemini
	}

	var g *genkit.Genkit

	switch provider {
	case config.ProviderOllama:
		ollamaPlugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g = genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin))
		if g == nil {
			return nil, errors.New("initializing genkit with ollama provider")
		}
		// Ollama requires explicit model registration.
		ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
			Name: cfg.ModelName,
			Type: "chat",
		}, nil)
		ollamaPlugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)
		logger.Info("initialized genkit", "provider", provider,
			"model", cfg.ModelName, "host", cfg.OllamaHost)

	case config.ProviderOpenAI:
		g = genkit.Init(ctx, genkit.WithPlugins(&openai.OpenAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with openai provider")
		}
		logger.Info("initialized genkit", "provider", provider, "model", cfg.ModelName)

	default:
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with gemini provider")
		}
		logger.Info("initialized genkit", "provider", provider, "model", cfg.ModelName)
	}

	return g, nil
}

// provideEmbedder looks up the embedder registered by the provider
// plugin. Each provider keys embedders differently.
func provideEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	provider := cfg.Provider
	if provider == "" {
		provider = config.ProviderGemini
	}

	switch provider {
	case config.ProviderOllama:
		return ollama.Embedder(g, cfg.OllamaHost)
	case config.ProviderOpenAI:
		return genkit.LookupEmbedder(g, api.NewName("openai", cfg.EmbedderModel))
	default:
		return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	}
}

// qualifiedModelName prefixes the configured model with its provider
// namespace as genkit expects ("googleai/gemini-2.5-flash").
func qualifiedModelName(cfg *config.Config) string {
	switch cfg.Provider {
	case config.ProviderOllama:
		return "ollama/" + cfg.ModelName
	case config.ProviderOpenAI:
		return "openai/" + cfg.ModelName
	default:
		return "googleai/" + cfg.ModelName
	}
}
