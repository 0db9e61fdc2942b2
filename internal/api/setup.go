package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"cake-server/internal/auth"
	"cake-server/internal/core"
	"cake-server/internal/lookup"
)

const shutdownTimeout = 10 * time.Second

type Options struct {
	Rooms          *core.Rooms
	Identity       *auth.Identity
	Search         *lookup.Service
	Metrics        http.Handler
	Rate           rate.Limit
	Burst          int
	AllowedOrigins []string
}

// Server is the HTTP and websocket front of the rooms.
type Server struct {
	rooms    *core.Rooms
	identity *auth.Identity
	search   *lookup.Service
	metrics  http.Handler
	limiter  *IPRateLimiter
	origins  []string
	upgrader websocket.Upgrader

	quit     chan struct{}
	quitOnce sync.Once
}

func NewServer(opts Options) *Server {
	s := &Server{
		rooms:    opts.Rooms,
		identity: opts.Identity,
		search:   opts.Search,
		metrics:  opts.Metrics,
		limiter:  NewIPRateLimiter(opts.Rate, opts.Burst),
		origins:  opts.AllowedOrigins,
		quit:     make(chan struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", HealthHandler).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.Use(RateLimitMiddleware(s.limiter), s.deviceMiddleware)

	api.HandleFunc("/identity", s.IdentityHandler).Methods(http.MethodPost)
	api.HandleFunc("/search", s.SearchHandler).Methods(http.MethodGet)

	api.HandleFunc("/rooms", s.CreateRoomHandler).Methods(http.MethodPost)
	api.HandleFunc("/rooms/{code}", s.SnapshotHandler).Methods(http.MethodGet)
	api.HandleFunc("/rooms/{code}/join", s.JoinHandler).Methods(http.MethodPost)
	api.HandleFunc("/rooms/{code}/ws", s.WsHandler).Methods(http.MethodGet)
	api.HandleFunc("/rooms/{code}/tally", s.TallyHandler).Methods(http.MethodGet)
	api.HandleFunc("/rooms/{code}/{collection:players|entries|placements|votes|layout}", s.CollectionHandler).Methods(http.MethodGet)
	api.HandleFunc("/rooms/{code}/entries", s.SubmitEntryHandler).Methods(http.MethodPost)
	api.HandleFunc("/rooms/{code}/placements/{entry_id}", s.PlaceEntryHandler).Methods(http.MethodPut)
	api.HandleFunc("/rooms/{code}/votes/{category}", s.CastVoteHandler).Methods(http.MethodPut)
	api.HandleFunc("/rooms/{code}/advance", s.AdvanceHandler).Methods(http.MethodPost)
	api.HandleFunc("/rooms/{code}/players/me", s.RenameHandler).Methods(http.MethodPatch)

	cors := handlers.CORS(
		handlers.AllowedOrigins(s.origins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", TokenHeader}),
		handlers.ExposedHeaders([]string{TokenHeader}),
		handlers.AllowCredentials(),
	)
	return handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{}))(accessLog(cors(r)))
}

// Shutdown disconnects every websocket client.
func (s *Server) Shutdown() {
	s.quitOnce.Do(func() { close(s.quit) })
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.origins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// Serve listens on addr until ctx is done, then drains requests and closes
// websocket subscriptions.
func Serve(ctx context.Context, addr string, s *Server) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv.RegisterOnShutdown(s.Shutdown)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	log.Info().Msg("Shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
