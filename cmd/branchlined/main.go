// Command branchlined is the branching conversational AI server binary. It
// wires together the graph store, repositories, context assembler, summary
// engine, branch analyzer, chat pipeline, session hub, and LLM adapter
// behind a REST + WebSocket surface: load env/config, init logging and
// OTel, build the app, build the router, listen.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"branchline/internal/authn"
	"branchline/internal/branch"
	"branchline/internal/chatpipeline"
	"branchline/internal/config"
	"branchline/internal/contextassembler"
	"branchline/internal/graph"
	"branchline/internal/httpapi"
	"branchline/internal/hub"
	"branchline/internal/idgen"
	"branchline/internal/jobs"
	"branchline/internal/llm"
	"branchline/internal/llm/anthropic"
	"branchline/internal/llm/google"
	"branchline/internal/llm/mock"
	"branchline/internal/llm/openai"
	"branchline/internal/observability"
	"branchline/internal/store"
	"branchline/internal/summary"
	"branchline/internal/telemetry"
	"branchline/internal/vectorstore"
	"branchline/internal/wsapi"
)

// app holds every constructed collaborator.
type app struct {
	cfg       *config.Config
	store     *store.Store
	hub       *hub.Hub
	pipeline  *chatpipeline.Pipeline
	auth      *authn.Verifier
	telemetry *telemetry.ClickHouseSink
	jobs      *jobs.Dispatcher
	api       *httpapi.Server
	ws        *wsapi.Handler
}

func main() {
	if err := godotenv.Load(".env"); err != nil {
		_ = godotenv.Load("example.env")
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		log.Fatal().Err(err).Msg("failed to load config")
	}

	observability.InitLogger("", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.InitOTel(ctx, cfg.Obs)
	if err != nil {
		log.Warn().Err(err).Msg("otel init failed, continuing without observability")
		shutdownOTel = nil
	}
	if shutdownOTel != nil {
		defer func() { _ = shutdownOTel(context.Background()) }()
	}

	a, err := newApp(ctx, &cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("initialization failed")
	}
	defer a.Close()

	mux := http.NewServeMux()
	mux.Handle("/", a.api.Router())
	mux.Handle("/ws/session/", a.ws)

	root := corsMiddleware(cfg.CORSOrigins, mux)

	addr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
	srv := &http.Server{Addr: addr, Handler: root}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("branchlined listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	st, err := store.Open(ctx, cfg.Graph.DSN())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := st.Init(ctx); err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	ids := idgen.UUIDGen{}
	clock := idgen.SystemClock{}

	vectors, err := newVectorStore(ctx, cfg.VectorDSN)
	if err != nil {
		return nil, fmt.Errorf("init vector store: %w", err)
	}

	sessions := graph.NewSessionRepo(st.Pool, ids, clock)
	nodes := graph.NewNodeRepo(st.Pool, ids, clock)
	messages := graph.NewMessageRepo(st.Pool, ids, clock, vectors)
	recommendations := graph.NewRecommendationRepo(st.Pool, ids, clock)

	provider, providerTag, err := newLLMProvider(ctx, cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("init llm provider: %w", err)
	}

	assembler := contextassembler.New(nodes, messages)
	analyzer := branch.New(recommendations, provider)

	backend, err := newHubBackend(cfg.RedisAddr)
	if err != nil {
		log.Warn().Err(err).Msg("redis backend unavailable, running single-instance hub")
		backend = nil
	}
	h := hub.New(backend)

	summaries := summary.New(nodes, messages, sessions, provider, h, nil)

	var dispatcher *jobs.Dispatcher
	if cfg.KafkaBrokers != "" {
		dispatcher, err = jobs.NewDispatcher(ctx, strings.Split(cfg.KafkaBrokers, ","), "branchline-summary", summaries.ExecuteJob)
		if err != nil {
			log.Warn().Err(err).Msg("kafka dispatcher unavailable, running summary jobs in-process")
			dispatcher = nil
		} else {
			summaries.SetDispatch(dispatcher.Dispatch)
		}
	}

	chSink, err := telemetry.NewClickHouseSink(ctx, cfg.ClickHouse)
	if err != nil {
		log.Warn().Err(err).Msg("clickhouse telemetry unavailable, turn analytics disabled")
		chSink = nil
	}
	var tel chatpipeline.Telemetry
	if chSink != nil {
		tel = chSink
	}

	pipeline := chatpipeline.New(nodes, messages, sessions, assembler, provider, providerTag, cfg.LLM.Model, summaries, analyzer, tel)

	auth := authn.New(cfg.Auth.JWTSecret)

	api := &httpapi.Server{
		Sessions:        sessions,
		Nodes:           nodes,
		Messages:        messages,
		Recommendations: recommendations,
		Pipeline:        pipeline,
		Summaries:       summaries,
		Hub:             h,
		Auth:            auth,
	}
	ws := &wsapi.Handler{Hub: h, Pipeline: pipeline, Nodes: nodes}

	return &app{
		cfg: cfg, store: st, hub: h, pipeline: pipeline, auth: auth,
		telemetry: chSink, jobs: dispatcher, api: api, ws: ws,
	}, nil
}

func (a *app) Close() {
	if a.telemetry != nil {
		_ = a.telemetry.Close()
	}
	if a.jobs != nil {
		_ = a.jobs.Close()
	}
	a.store.Close()
}

// newLLMProvider selects the LLMAdapter implementation behind the
// provider-agnostic llm.Provider contract. An empty API key
// or unrecognised provider name falls back to the mock provider so the
// server boots without external credentials.
func newLLMProvider(ctx context.Context, cfg config.LLMConfig) (llm.Provider, string, error) {
	if cfg.APIKey == "" {
		return mock.New(), "mock", nil
	}
	switch strings.ToLower(cfg.Provider) {
	case "anthropic":
		p, err := anthropic.New(cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, "", err
		}
		return p, "anthropic", nil
	case "openai":
		p, err := openai.New(cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, "", err
		}
		return p, "openai", nil
	case "google":
		p, err := google.New(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, "", err
		}
		return p, "google", nil
	default:
		return mock.New(), "mock", nil
	}
}

// newVectorStore selects the vectorstore.Store backing Message.Embedding.
// dsn starting with "qdrant://" selects Qdrant; anything else parseable as
// a Postgres DSN selects pgvector; empty falls back to the in-process
// Memory store.
func newVectorStore(ctx context.Context, dsn string) (vectorstore.Store, error) {
	if dsn == "" {
		return vectorstore.NewMemory(), nil
	}
	if strings.HasPrefix(dsn, "qdrant://") {
		return vectorstore.NewQdrant(strings.TrimPrefix(dsn, "qdrant://"), "branchline_messages", 1536)
	}
	pool, err := store.OpenPool(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return vectorstore.NewPgvector(ctx, pool, 1536)
}

func newHubBackend(addr string) (hub.Backend, error) {
	if addr == "" {
		return nil, nil
	}
	return hub.NewRedisBackend(addr)
}

// corsMiddleware is applied once around the whole mux instead of
// per-handler since every route shares the same policy.
func corsMiddleware(allowed []string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && originAllowed(allowed, origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		} else if len(allowed) == 0 {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, PUT, DELETE, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func originAllowed(allowed []string, origin string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}
