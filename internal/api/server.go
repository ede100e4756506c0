// Package api is the HTTP control surface the hosting application uses to
// send into the mesh, inspect peers and channels, and follow relay events.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"meshrelay/internal/authutil"
	"meshrelay/internal/message"
	"meshrelay/internal/relay"
	"meshrelay/internal/storage"
)

// Relay is the part of *relay.Engine the control API drives.
type Relay interface {
	SendChannelMessage(ctx context.Context, channel, sender, content string) (message.Message, error)
	SendPrivateMessage(ctx context.Context, sender, recipient, content string) (message.Message, error)
	JoinChannel(ctx context.Context, user, channel string) (message.Message, error)
	LeaveChannel(ctx context.Context, user, channel string) (message.Message, error)
	ListChannels(ctx context.Context) ([]relay.Channel, error)
	Channel(ctx context.Context, name string) (relay.Channel, error)
	ListPeers(ctx context.Context) ([]relay.Peer, error)
	ChannelMessages(ctx context.Context, channel string) ([]message.Message, error)
	ProvisionChannel(ctx context.Context, spec relay.ChannelSpec) (relay.Channel, error)
	VerifyChannelPassword(ctx context.Context, channel, password string) error
}

// Subscriber hands out event subscriptions; *events.Bus implements it.
type Subscriber interface {
	Subscribe(buffer int) (<-chan relay.Event, func())
}

type Config struct {
	Node   string
	Relay  Relay
	Events Subscriber
	// Store persists provisioned channels; nil keeps them in memory only.
	Store storage.ChannelStore
	// Tokens enables bearer auth on /api; nil leaves the API open.
	Tokens     *authutil.Issuer
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
	Logger     zerolog.Logger
}

// Server bundles the control API handlers, middleware and metrics.
type Server struct {
	node     string
	relay    Relay
	events   Subscriber
	store    storage.ChannelStore
	tokens   *authutil.Issuer
	gatherer prometheus.Gatherer
	log      zerolog.Logger
	metrics  *Metrics
}

func New(cfg Config) *Server {
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		node:     cfg.Node,
		relay:    cfg.Relay,
		events:   cfg.Events,
		store:    cfg.Store,
		tokens:   cfg.Tokens,
		gatherer: cfg.Gatherer,
		log:      cfg.Logger.With().Str("component", "api").Logger(),
		metrics:  NewMetrics(cfg.Registerer),
	}
}

// Router wires up chi routes, middleware and handlers.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(httplog.RequestLogger(s.log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"Authorization"},
		MaxAge:         300,
	}))
	r.Use(s.metricsMiddleware())

	r.Get("/healthz", s.healthHandler())
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Use(s.authenticated())
		r.Get("/channels", s.listChannelsHandler())
		r.Post("/channels", s.provisionChannelHandler())
		r.Get("/channels/{name}/messages", s.channelMessagesHandler())
		r.Post("/channels/{name}/messages", s.sendChannelMessageHandler())
		r.Post("/channels/{name}/join", s.joinHandler())
		r.Post("/channels/{name}/leave", s.leaveHandler())
		r.Post("/private", s.sendPrivateHandler())
		r.Get("/peers", s.listPeersHandler())
		r.Get("/events", s.eventsHandler())
	})
	return r
}

// Run serves the router on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.log.Info().Str("addr", addr).Bool("auth", s.tokens != nil).Msg("control api listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("control api: %w", err)
	}
	return nil
}
