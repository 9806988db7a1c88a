package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ananyateklu/second-brain-go/internal/config"
	"github.com/ananyateklu/second-brain-go/internal/conversation"
	"github.com/ananyateklu/second-brain-go/internal/embedding"
	"github.com/ananyateklu/second-brain-go/internal/llm"
	"github.com/ananyateklu/second-brain-go/internal/notes"
	"github.com/ananyateklu/second-brain-go/internal/rag"
)

// Server hosts the conversation and note APIs.
type Server struct {
	cfg           *config.Config
	logger        zerolog.Logger
	provider      llm.Provider
	embedProvider embedding.EmbeddingProvider
	conversations *conversation.Store
	notes         *notes.Store
	retriever     *rag.Gateway

	http *http.Server
}

func New(cfg *config.Config, logger zerolog.Logger, provider llm.Provider, embedProvider embedding.EmbeddingProvider, conversations *conversation.Store, noteStore *notes.Store) *Server {
	s := &Server{
		cfg:           cfg,
		logger:        logger,
		provider:      provider,
		embedProvider: embedProvider,
		conversations: conversations,
		notes:         noteStore,
		retriever: rag.NewGateway(noteStore, embedProvider, rag.Options{
			SimilarityFloor: cfg.RAG.SimilarityFloor,
			MaxChunks:       cfg.RAG.MaxChunks,
			MaxNotes:        cfg.RAG.MaxNotes,
		}),
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) router() *chi.Mux {
	r := chi.NewRouter()

	r.Use(requestMetrics)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(chimw.Recoverer)

	origins := s.cfg.Server.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/chat/stream", s.handleChatStream)

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", s.handleListConversations)
			r.Get("/search", s.handleSearchConversations)
			r.Get("/{id}", s.handleGetConversation)
			r.Delete("/{id}", s.handleDeleteConversation)
		})

		r.Route("/notes", func(r chi.Router) {
			r.Post("/", s.handleCreateNote)
			r.Get("/", s.handleListNotes)
			r.Get("/search", s.handleSearchNotes)
			r.Get("/{id}", s.handleGetNote)
		})
	})

	return r
}

// Start begins serving. Blocks until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.http.Addr).Msg("server listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"provider": s.provider.Name(),
	})
}
