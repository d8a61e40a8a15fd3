package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/OFFIS-RIT/toolgraph/backend/internal/config"
	"github.com/OFFIS-RIT/toolgraph/backend/internal/graphstore"
	"github.com/OFFIS-RIT/toolgraph/backend/internal/queue"
	mid "github.com/OFFIS-RIT/toolgraph/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/toolgraph/backend/internal/util"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/ai"
	oai "github.com/OFFIS-RIT/toolgraph/backend/pkg/ai/ollama"
	gai "github.com/OFFIS-RIT/toolgraph/backend/pkg/ai/openai"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/cache"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/catalog"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/classify"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/collab"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/logger"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/recommend"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/store"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

// NewEcho returns an echo instance with the validator, middleware and routes
// installed for app.
func NewEcho(app *mid.App) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &CustomValidator{validator: validator.New()}

	e.Use(middleware.Recover())
	e.Use(mid.AppContextMiddleware(app))
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLogger())
	e.Use(middleware.BodyLimit("1M"))

	RegisterRoutes(e)
	return e
}

// Run wires every component from cfg and serves HTTP until ctx is done.
func Run(ctx context.Context, cfg *config.Config) error {
	origin := instanceID()

	graphStore, err := graphstore.Open(ctx, cfg, graphstore.Options{Migrate: true})
	if err != nil {
		return fmt.Errorf("open graph store: %w", err)
	}
	defer graphStore.Close()

	initial, err := graphStore.CatalogGeneration(ctx)
	if err != nil {
		return fmt.Errorf("read catalog generation: %w", err)
	}
	gen := catalog.NewGeneration(initial)

	classSource, closeClass, err := classify.OpenSource(ctx, cfg.ClassificationStoreURL, cfg.S3Params())
	if err != nil {
		return fmt.Errorf("open classification store: %w", err)
	}
	defer closeClass()
	classifier := classify.New(classSource)
	_, err = util.RetryWithBackoff(ctx, 3, 500*time.Millisecond, func(ctx context.Context, attempt int) (*classify.Snapshot, error) {
		return classifier.Reload(ctx)
	})
	if err != nil {
		return fmt.Errorf("load classification mapping: %w", err)
	}

	collabSource, closeCollab, err := collab.Open(ctx, cfg.CollabStoreURL)
	if err != nil {
		return fmt.Errorf("open collaborative store: %w", err)
	}
	defer closeCollab()

	cacheStore, err := cache.OpenBadger(cfg.Cache.Dir)
	if err != nil {
		return fmt.Errorf("open result cache: %w", err)
	}
	defer cacheStore.Close()
	layer := cache.NewLayer[recommend.RankedResult](cacheStore, cfg.Cache.TTL, gen)

	semantic, err := newSemanticStrategy(cfg, graphStore)
	if err != nil {
		return err
	}

	engine, err := recommend.NewEngine(cfg.Engine(), graphStore, classifier, layer,
		recommend.NewGraphStrategy(graphStore, cfg.Limits.Candidates),
		recommend.NewContentStrategy(),
		recommend.NewCollaborativeStrategy(collabSource, cfg.Limits.Candidates),
		semantic,
	)
	if err != nil {
		return err
	}

	conn, err := queue.Dial(cfg.RabbitMQURL)
	if err != nil {
		return err
	}
	defer conn.Close()

	pubCh, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open publish channel: %w", err)
	}
	if err := queue.SetupEvents(pubCh); err != nil {
		return err
	}
	if err := queue.SetupQueues(pubCh, queue.UpsertQueue); err != nil {
		return err
	}
	publisher := queue.NewPublisher(pubCh)

	subCh, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open subscribe channel: %w", err)
	}
	err = queue.Subscribe(ctx, subCh, &queue.Listener{
		Generation: gen,
		Classifier: classifier,
		Origin:     origin,
	})
	if err != nil {
		return err
	}

	app := &mid.App{
		Engine:       engine,
		Graph:        graphStore,
		Catalog:      catalog.NewService(graphStore, gen, publisher, origin),
		Classifier:   classifier,
		Publisher:    publisher,
		Upserts:      publisher,
		Origin:       origin,
		MasterAPIKey: cfg.MasterAPIKey,
	}
	if cfg.AuthURL != "" {
		k, err := keyfunc.NewDefault([]string{cfg.AuthURL + "/jwks"})
		if err != nil {
			return fmt.Errorf("load jwks keys: %w", err)
		}
		app.Key = k
	}

	e := NewEcho(app)

	errCh := make(chan error, 1)
	go func() {
		port := strconv.Itoa(cfg.Port)
		logger.Info("Starting server", "port", port, "origin", origin, "generation", gen.Current())
		if err := e.Start(":" + port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("serve http: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shutdown server", "err", err)
	}
	return nil
}

func newSemanticStrategy(cfg *config.Config, graphStore store.GraphStorage) (*recommend.SemanticStrategy, error) {
	mode, err := recommend.ParseSemanticMode(cfg.Semantic.Mode)
	if err != nil {
		return nil, err
	}

	var client ai.ScoringClient
	switch cfg.Semantic.Adapter {
	case "ollama":
		c, err := oai.NewGraphOllamaClient(oai.NewGraphOllamaClientParams{
			EmbeddingModel:        cfg.Semantic.EmbedModel,
			ChatModel:             cfg.Semantic.ChatModel,
			Dimensions:            cfg.Semantic.Dimensions,
			BaseURL:               cfg.Semantic.URL,
			ApiKey:                cfg.Semantic.Key,
			MaxConcurrentRequests: cfg.Semantic.MaxParallel,
			Timeout:               cfg.SemanticTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("create ollama client: %w", err)
		}
		client = c
	default:
		client = gai.NewGraphOpenAIClient(gai.NewGraphOpenAIClientParams{
			EmbeddingModel:        cfg.Semantic.EmbedModel,
			ChatModel:             cfg.Semantic.ChatModel,
			Dimensions:            cfg.Semantic.Dimensions,
			EmbeddingURL:          cfg.Semantic.URL,
			EmbeddingKey:          cfg.Semantic.Key,
			ChatURL:               cfg.Semantic.URL,
			ChatKey:               cfg.Semantic.Key,
			MaxConcurrentRequests: cfg.Semantic.MaxParallel,
			Timeout:               cfg.SemanticTimeout,
		})
	}

	var opts []recommend.SemanticOption
	if ec, ok := graphStore.(recommend.EmbeddingCache); ok {
		opts = append(opts, recommend.WithEmbeddingCache(ec))
	}
	// rating may use a stronger model than the default chat model
	if cfg.Semantic.RateModel != "" {
		opts = append(opts, recommend.WithGenerateOptions(ai.WithModel(cfg.Semantic.RateModel)))
	}
	if cfg.Semantic.Thinking != "" {
		opts = append(opts, recommend.WithGenerateOptions(ai.WithThinking(cfg.Semantic.Thinking)))
	}
	logger.Info("[Server] Semantic backend ready", "adapter", cfg.Semantic.Adapter, "mode", mode)
	return recommend.NewSemanticStrategy(client, mode, cfg.Limits.Candidates, opts...), nil
}

// instanceID names this process in catalog events so it can skip its own.
func instanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "server"
	}
	return host + "-" + gonanoid.Must(8)
}
