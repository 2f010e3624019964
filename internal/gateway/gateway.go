// ABOUTME: Gateway orchestrator wiring the store, rooms, typing, bridge and socket endpoint
// ABOUTME: Owns the HTTP server and background loops and shuts them down in order

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/2389/switchboard/internal/assign"
	"github.com/2389/switchboard/internal/auth"
	"github.com/2389/switchboard/internal/bridge"
	"github.com/2389/switchboard/internal/config"
	"github.com/2389/switchboard/internal/dedupe"
	"github.com/2389/switchboard/internal/rooms"
	"github.com/2389/switchboard/internal/socket"
	"github.com/2389/switchboard/internal/store"
	"github.com/2389/switchboard/internal/typing"
)

// Gateway orchestrates the switchboard server components.
type Gateway struct {
	config     *config.Config
	store      store.Store
	redis      *redis.Client
	rooms      *rooms.Manager
	relay      *rooms.RedisRelay
	typing     *typing.Tracker
	bridge     *bridge.Bridge
	subscriber bridge.Subscriber
	verifier   *auth.JWTVerifier
	httpServer *http.Server
	logger     *slog.Logger

	// dedupe is the in-process claimer used when no Redis is configured
	dedupe *dedupe.Cache

	// cancel stops the background loops started by Start
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// initStore creates the SQLite store. SWITCHBOARD_DB_PATH overrides the configured path.
func initStore(cfg *config.Config) (*store.SQLiteStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("SWITCHBOARD_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// initRedis connects to Redis when a URL is configured. Returns nil otherwise.
func initRedis(cfg *config.Config) (*redis.Client, error) {
	if cfg.Redis.URL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// createSubscriber builds the broker transport selected by broker.kind.
func createSubscriber(cfg *config.Config, client *redis.Client, logger *slog.Logger) (bridge.Subscriber, error) {
	switch cfg.Broker.Kind {
	case config.BrokerAMQP:
		sub, err := bridge.NewAMQPSubscriber(cfg.Broker.AMQPURL, cfg.Broker.AMQPExchange, logger)
		if err != nil {
			return nil, fmt.Errorf("connecting to amqp broker: %w", err)
		}
		return sub, nil
	default:
		if client == nil {
			return nil, errors.New("redis broker requires redis.url")
		}
		return bridge.NewRedisSubscriber(client, logger), nil
	}
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}

	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	client, err := initRedis(cfg)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	gw := &Gateway{
		config:   cfg,
		store:    s,
		redis:    client,
		verifier: verifier,
		logger:   logger.With("component", "gateway"),
	}

	gw.rooms = rooms.NewManager(logger)
	if client != nil {
		gw.relay = rooms.NewRedisRelay(client, rooms.DefaultRelayChannel, logger)
		gw.rooms.SetRelay(gw.relay)
	}

	gw.typing = typing.NewTracker(gw.rooms,
		typing.WithTimeout(cfg.Typing.Timeout),
		typing.WithSweepInterval(cfg.Typing.SweepInterval),
		typing.WithLogger(logger),
	)
	gw.rooms.OnDisconnect(func(id auth.Identity, _ []string) {
		gw.typing.ClearUser(id.ID)
	})

	var claimer dedupe.Claimer
	if client != nil {
		claimer = dedupe.NewRedisClaimer(client)
	} else {
		gw.dedupe = dedupe.New(cfg.Dedup.TTL, 100_000, time.Minute)
		claimer = gw.dedupe
		gw.logger.Warn("no redis configured, dedup claims are local to this instance")
	}

	gw.bridge = bridge.New(bridge.Config{
		DedupTTL:        cfg.Dedup.TTL,
		FallbackMessage: cfg.Assistant.FallbackMessage,
		ClosingMessage:  cfg.Assistant.ClosingMessage,
	}, bridge.Deps{
		Store:    s,
		Emitter:  gw.rooms,
		Selector: assign.NewSelector(s, logger),
		Claimer:  claimer,
		Logger:   logger,
	})

	gw.subscriber, err = createSubscriber(cfg, client, logger)
	if err != nil {
		gw.closeResources()
		return nil, err
	}

	sock := socket.NewHandler(socket.Config{
		SendBuffer:     cfg.Socket.SendBuffer,
		PingInterval:   cfg.Socket.PingInterval,
		AllowedOrigins: cfg.Socket.AllowedOrigins,
	}, gw.rooms, gw.typing, s, logger)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.newRouter(sock),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Handler returns the HTTP handler, for tests.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Rooms returns the room manager.
func (g *Gateway) Rooms() *rooms.Manager {
	return g.rooms
}

// Store returns the persistence layer.
func (g *Gateway) Store() store.Store {
	return g.store
}

// Verifier returns the token verifier, which also issues tokens.
func (g *Gateway) Verifier() *auth.JWTVerifier {
	return g.verifier
}

// Start launches the bridge, relay and typing sweep loops. It returns once
// the relay subscription is confirmed. Run calls Start itself.
func (g *Gateway) Start(ctx context.Context) <-chan error {
	return g.start(ctx)
}

// start is Start returning a send-capable channel, so Serve can report
// HTTP server errors on it too.
func (g *Gateway) start(ctx context.Context) chan error {
	ctx, g.cancel = context.WithCancel(ctx)
	errCh := make(chan error, 3)

	g.wg.Go(func() {
		if err := g.bridge.Run(ctx, g.subscriber); err != nil {
			errCh <- fmt.Errorf("bridge: %w", err)
		}
	})

	g.wg.Go(func() { g.typing.Run(ctx) })

	if g.relay != nil {
		ready := make(chan struct{})
		g.wg.Go(func() {
			if err := g.relay.Run(ctx, g.rooms, ready); err != nil {
				errCh <- fmt.Errorf("relay: %w", err)
			}
		})
		<-ready
	}

	return errCh
}

// Run starts the HTTP server and background loops and blocks until the
// context is canceled. Returns nil on graceful shutdown, or an error if a
// component fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}
	return g.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	errCh := g.start(ctx)

	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	serverErr := g.waitForShutdownSignal(ctx, errCh)
	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// waitForShutdownSignal waits for context cancellation or a component error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("component error", "error", err)
		return err
	}
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops accepting requests, disconnects every socket, stops the
// background loops and releases the store and Redis connections.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	// Hijacked websocket connections are not covered by http.Server.Shutdown.
	g.rooms.Close()

	if g.cancel != nil {
		g.cancel()
	}
	errs = appendCloseError(errs, "subscriber close", g.subscriber.Close())

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("background loops: %w", ctx.Err()))
	}

	errs = append(errs, g.closeResources()...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

// closeResources releases the store, Redis and the local dedup cache.
func (g *Gateway) closeResources() []error {
	var errs []error
	if g.redis != nil {
		errs = appendCloseError(errs, "redis close", g.redis.Close())
	}
	errs = appendCloseError(errs, "store close", g.store.Close())
	if g.dedupe != nil {
		errs = appendCloseError(errs, "dedupe close", g.dedupe.Close())
	}
	return errs
}
