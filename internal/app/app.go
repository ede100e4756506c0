// Package app wires the relay engine, transport, control API and optional
// integrations into a runnable node.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"meshrelay/internal/api"
	"meshrelay/internal/authutil"
	"meshrelay/internal/config"
	"meshrelay/internal/crypto"
	"meshrelay/internal/events"
	"meshrelay/internal/network"
	"meshrelay/internal/relay"
	"meshrelay/internal/storage"
	"meshrelay/internal/ui"
)

const subscriberBuffer = 256

// App encapsulates the relay node components.
type App struct {
	Cfg      *config.Config
	Registry *prometheus.Registry
	Identity *crypto.Identity
	Bus      *events.Bus
	Bridge   *network.Bridge
	Engine   *relay.Engine
	Dialer   *network.DialScheduler
	Store    storage.ChannelStore
	API      *api.Server

	log       zerolog.Logger
	redis     *redis.Client
	forwarder *events.RedisForwarder
	monitor   *ui.Monitor

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	errs   chan error

	startOnce    sync.Once
	shutdownOnce sync.Once
}

// New wires all relay dependencies according to cfg. ctx bounds the startup
// work (store and Redis connections), not the lifetime of the app.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	identity, err := crypto.LoadOrCreateIdentity(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("identity: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a := &App{
		Cfg:      cfg,
		Registry: reg,
		Identity: identity,
		Bus:      events.NewBus(reg),
		log:      log,
		errs:     make(chan error, 4),
	}
	a.ctx, a.cancel = context.WithCancel(context.Background())

	a.Store, err = storage.Open(ctx, cfg.DatabaseURL, cfg.StorePath)
	if err != nil {
		a.cancel()
		return nil, fmt.Errorf("channel store: %w", err)
	}
	specs, err := channelSpecs(ctx, cfg, a.Store, log)
	if err != nil {
		a.closeResources()
		return nil, err
	}

	a.Bridge = network.NewBridge(network.Options{
		Logger:     log,
		Registerer: reg,
		SendQueue:  cfg.SendQueue,
	})
	a.Engine, err = relay.NewEngine(relay.Options{
		Transport:   a.Bridge,
		Sink:        a.Bus,
		Logger:      log,
		Metrics:     relay.NewMetrics(reg),
		NodeName:    cfg.NodeName,
		PublicKey:   identity.PublicKey(),
		TTL:         cfg.DefaultTTL,
		Channels:    specs,
		CacheSize:   cfg.CacheSize,
		CacheWindow: cfg.CacheWindow,
		HistorySize: cfg.HistorySize,
	})
	if err != nil {
		a.closeResources()
		return nil, fmt.Errorf("relay engine: %w", err)
	}
	a.Bridge.Bind(a.Engine)

	a.Dialer = network.NewDialScheduler(a.Bridge, log)
	for _, peer := range cfg.Peers {
		if peer = strings.TrimSpace(peer); peer != "" {
			a.Dialer.Add(peer)
		}
	}

	if cfg.APIAddr != "" {
		var tokens *authutil.Issuer
		if cfg.APISecret != "" {
			if tokens, err = authutil.NewIssuer(cfg.APISecret); err != nil {
				a.closeResources()
				return nil, err
			}
		} else {
			log.Warn().Msg("MESH_API_SECRET not set, control api is unauthenticated")
		}
		a.API = api.New(api.Config{
			Node:       cfg.NodeName,
			Relay:      a.Engine,
			Events:     a.Bus,
			Store:      a.Store,
			Tokens:     tokens,
			Registerer: reg,
			Gatherer:   reg,
			Logger:     log,
		})
	}

	if cfg.RedisURL != "" {
		client, err := events.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			a.closeResources()
			return nil, err
		}
		a.redis = client
		a.forwarder = events.NewRedisForwarder(client, cfg.RedisChannel, cfg.NodeName, log)
	}

	if cfg.TUI {
		a.monitor = ui.NewMonitor(a.Engine, cfg.NodeName, log)
	}
	return a, nil
}

// channelSpecs returns the default channels, with passwords from the config,
// followed by every stored channel that is not a default one.
func channelSpecs(ctx context.Context, cfg *config.Config, store storage.ChannelStore, log zerolog.Logger) ([]relay.ChannelSpec, error) {
	specs := relay.DefaultChannels()
	known := make(map[string]bool, len(specs))
	for i := range specs {
		known[specs[i].Name] = true
		password, ok := cfg.ChannelPasswords[specs[i].Name]
		if !ok {
			continue
		}
		hash, err := relay.HashPassword(password)
		if err != nil {
			return nil, fmt.Errorf("hash password for %s: %w", specs[i].Name, err)
		}
		specs[i].PasswordHash = hash
	}
	for name := range cfg.ChannelPasswords {
		if !known[name] {
			log.Warn().Str("channel", name).Msg("password configured for a channel that is not provisioned at startup")
		}
	}
	if store == nil {
		return specs, nil
	}
	records, err := store.LoadChannels(ctx)
	if err != nil {
		return nil, fmt.Errorf("load channels: %w", err)
	}
	for _, rec := range records {
		if known[rec.Name] {
			continue
		}
		known[rec.Name] = true
		specs = append(specs, relay.ChannelSpec{
			Name:              rec.Name,
			Owner:             rec.Owner,
			PasswordProtected: rec.PasswordProtected,
			MessageRetention:  rec.MessageRetention,
			PasswordHash:      rec.PasswordHash,
		})
	}
	log.Info().Int("stored", len(records)).Int("channels", len(specs)).Msg("channels loaded")
	return specs, nil
}

// Start launches the engine, listeners and background loops.
func (a *App) Start() {
	a.startOnce.Do(func() {
		a.log.Info().
			Str("node", a.Cfg.NodeName).
			Str("publicKey", a.Identity.PublicKey()).
			Msg("starting relay")

		a.goRun(func() { a.Engine.Run(a.ctx) })
		a.goRun(func() { a.Engine.DiscoveryLoop(a.ctx, a.Cfg.DiscoveryInterval) })
		a.goRun(func() { a.Dialer.Run(a.ctx) })
		a.goRun(func() { a.report(a.Bridge.Run(a.ctx, a.Cfg.ListenAddr)) })

		if a.API != nil {
			a.goRun(func() { a.report(a.API.Run(a.ctx, a.Cfg.APIAddr)) })
		}
		if a.forwarder != nil {
			ch, cancel := a.Bus.Subscribe(subscriberBuffer)
			a.goRun(func() {
				defer cancel()
				a.forwarder.Run(a.ctx, ch)
			})
		}
		if a.monitor != nil {
			ch, cancel := a.Bus.Subscribe(subscriberBuffer)
			a.goRun(func() {
				defer cancel()
				a.report(a.monitor.Run(a.ctx, ch))
				// quitting the monitor stops the node
				a.cancel()
			})
		}
	})
}

func (a *App) goRun(fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn()
	}()
}

func (a *App) report(err error) {
	if err == nil {
		return
	}
	select {
	case a.errs <- err:
	default:
	}
}

// Done is closed once the app begins shutting down.
func (a *App) Done() <-chan struct{} { return a.ctx.Done() }

// Errors delivers fatal errors from listeners.
func (a *App) Errors() <-chan error { return a.errs }

// Shutdown stops background loops and releases resources.
func (a *App) Shutdown() {
	a.shutdownOnce.Do(func() {
		a.cancel()
		a.Dialer.Close()
		a.Bridge.Close()
		a.wg.Wait()
		a.closeResources()
		a.log.Info().Msg("relay stopped")
	})
}

func (a *App) closeResources() {
	a.cancel()
	var errs []error
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	a.Bus.Close()
	if err := errors.Join(errs...); err != nil {
		a.log.Warn().Err(err).Msg("close resources")
	}
}
