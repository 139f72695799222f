// Package server wires the orchestrator together and exposes it over HTTP
// and websocket.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arborlabs/arbor/config"
	"github.com/arborlabs/arbor/internal/enhance"
	"github.com/arborlabs/arbor/internal/guard"
	"github.com/arborlabs/arbor/internal/llm"
	"github.com/arborlabs/arbor/internal/profile"
	"github.com/arborlabs/arbor/internal/rag"
	"github.com/arborlabs/arbor/internal/session"
	"github.com/arborlabs/arbor/internal/telemetry"
	"github.com/arborlabs/arbor/internal/tools"
	"github.com/arborlabs/arbor/internal/tree"
)

// Run builds every component from the config and serves until the process
// is stopped.
func Run(cfg *config.Config) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	ctx := context.Background()

	var metrics *telemetry.Metrics
	if cfg.Telemetry.Enabled {
		metrics = telemetry.New(prometheus.DefaultRegisterer)
	}

	provider, err := llm.NewProvider(cfg.LLM)
	if err != nil {
		return err
	}

	// Knowledge bases: normative documents for the guard plus the searchable
	// collections for retrieval.
	var embedder rag.Embedder
	if cfg.Retrieval.EmbedQueries {
		embedder = provider
	}
	ragLogger := log.New(log.Writer(), "[RAG] ", log.LstdFlags)
	normative, err := rag.NewKnowledgeBase("normative", embedder)
	if err != nil {
		return err
	}
	if cfg.Retrieval.DocsDir != "" {
		added, err := normative.IngestDir(ctx, cfg.Retrieval.DocsDir, cfg.Retrieval.ChunkRunes, ragLogger)
		if err != nil {
			return fmt.Errorf("failed to ingest normative documents: %w", err)
		}
		ragLogger.Printf("normative documents: %d chunks indexed", added)
	}
	library, err := rag.LoadLibrary(ctx, cfg.Retrieval.CollectionsDir, embedder, cfg.Retrieval.ChunkRunes, ragLogger)
	if err != nil {
		return err
	}

	// Guard
	var gate tree.Gatekeeper
	guardLogger := log.New(log.Writer(), "[GUARD] ", log.LstdFlags)
	if cfg.Guard.Enabled {
		var retriever guard.Retriever
		if normative.Len() > 0 {
			retriever = normative
		}
		g := guard.New(provider,
			cfg.LLM.Routing.Model(cfg.LLM.Routing.Base),
			cfg.LLM.Routing.Model(cfg.LLM.Routing.Complex),
			guard.NewPolicySet(cfg.Guard.PromptsDir),
			retriever, cfg.Guard.TopK, cfg.Guard.LogVerdicts, guardLogger, recorderOrNil(metrics))
		gate = g
	}

	// Profiles (optional; defaults apply when postgres is not configured)
	var profileRepo profile.Repository
	if cfg.Storage.Postgres.DSN() != "" {
		repo, err := profile.Open(ctx, cfg.Storage.Postgres)
		if err != nil {
			return err
		}
		defer repo.Close()
		profileRepo = repo
	}
	prompter := profile.NewPrompter(profileRepo, log.New(log.Writer(), "[PROFILE] ", log.LstdFlags))

	// Decision tree and executor
	toolsLogger := log.New(log.Writer(), "[TOOLS] ", log.LstdFlags)
	root, err := tools.BuildTree(cfg, provider, library, prompter, toolsLogger)
	if err != nil {
		return err
	}
	treeLogger := log.New(log.Writer(), "[TREE] ", log.LstdFlags)
	decision := tree.NewDecisionNode(provider, cfg.LLM.Routing.Model(cfg.LLM.Routing.Base),
		cfg.Tree.DecisionMaxRetries, cfg.Tree.HistoryWindow, treeLogger)
	executor, err := tree.NewExecutor(root, decision, gate, cfg.Tree.MaxIterations, cfg.Tree.HistoryWindow, treeLogger, treeRecorderOrNil(metrics))
	if err != nil {
		return err
	}

	// Sessions
	var store session.Store
	if cfg.Storage.Redis.Host != "" {
		rs, err := session.NewRedisStore(ctx, cfg.Storage.Redis)
		if err != nil {
			return err
		}
		defer rs.Close()
		store = rs
	} else {
		baseLogger.Printf("redis not configured, conversations will not survive restarts")
		store = session.NewMemoryStore()
	}
	manager, err := session.NewManager(store, executor, cfg.Session, log.New(log.Writer(), "[SESSION] ", log.LstdFlags), evictionRecorderOrNil(metrics))
	if err != nil {
		return err
	}

	hub := newHub(manager, library, baseLogger)
	manager.Start()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := manager.Shutdown(shutdownCtx); err != nil {
			baseLogger.Printf("session flush on shutdown incomplete: %v", err)
		}
	}()

	e.GET("/ws", hub.handle)

	enhancer := enhance.NewEnhancer(provider, cfg.LLM.Routing.Model(cfg.LLM.Routing.Base), 3, log.New(log.Writer(), "[ENHANCE] ", log.LstdFlags))

	api := e.Group("/api")
	registerEnhance(api, enhancer)
	registerProfiles(api, profileRepo)
	registerConversations(api, manager)
	api.GET("/collections", func(c echo.Context) error {
		return c.JSON(200, map[string]interface{}{"collections": library.Names()})
	})

	addr := cfg.Server.Address
	if addr == "" {
		addr = ":8080"
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}

// The recorder interfaces are satisfied by *telemetry.Metrics, but a nil
// *Metrics stored in a non-nil interface would defeat the nil checks
// downstream.
func recorderOrNil(m *telemetry.Metrics) guard.VerdictRecorder {
	if m == nil {
		return nil
	}
	return m
}

func treeRecorderOrNil(m *telemetry.Metrics) tree.Recorder {
	if m == nil {
		return nil
	}
	return m
}

func evictionRecorderOrNil(m *telemetry.Metrics) session.EvictionRecorder {
	if m == nil {
		return nil
	}
	return m
}
