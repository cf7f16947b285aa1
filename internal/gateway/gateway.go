// ABOUTME: Gateway orchestrator that wires the store, engine, bridge and thread registry
// ABOUTME: Manages the HTTP server, optional gRPC health listener and Tailscale node lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/consult-gateway/internal/auth"
	"github.com/2389/consult-gateway/internal/bridge"
	"github.com/2389/consult-gateway/internal/config"
	"github.com/2389/consult-gateway/internal/engine"
	"github.com/2389/consult-gateway/internal/store"
	"github.com/2389/consult-gateway/internal/threads"
)

// Gateway serves the consultation API.
type Gateway struct {
	config      *config.Config
	store       store.Store
	engine      engine.Engine
	bridge      *bridge.Bridge
	threads     threads.Registry
	tokens      *auth.JWTService
	grpcServer  *grpc.Server   // nil when server.grpc_addr is empty
	health      *health.Server // nil when grpcServer is nil
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger
}

// Deps are the collaborators a Gateway is built from.
type Deps struct {
	Store   store.Store
	Engine  engine.Engine
	Threads threads.Registry
}

// initStore opens the configured database.
func initStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Database.Driver {
	case "postgres":
		s, err := store.NewPostgresStore(cfg.Database.DSN, cfg.Database.MaxOpenConns)
		if err != nil {
			return nil, fmt.Errorf("initializing store: %w", err)
		}
		return s, nil
	default:
		dbPath := cfg.Database.Path
		if envPath := os.Getenv("CONSULT_DB_PATH"); envPath != "" {
			dbPath = envPath
		}
		s, err := store.NewSQLiteStore(dbPath)
		if err != nil {
			return nil, fmt.Errorf("initializing store: %w", err)
		}
		return s, nil
	}
}

// initEngine builds the graph engine client for the configured mode.
func initEngine(cfg *config.Config, logger *slog.Logger) engine.Engine {
	if cfg.Engine.Mode == "echo" {
		logger.Warn("engine mode is echo - consultations are scripted, not clinical")
		return engine.NewEchoEngine()
	}
	return engine.NewRemoteEngine(engine.RemoteOptions{
		URL:         cfg.Engine.URL,
		AssistantID: cfg.Engine.AssistantID,
		APIKey:      cfg.Engine.APIKey,
		Timeout:     cfg.Engine.RequestTimeout,
		Retries:     cfg.Engine.Retries,
	})
}

// initThreads builds the configured thread registry.
func initThreads(ctx context.Context, cfg *config.Config) (threads.Registry, error) {
	tc := cfg.Threads
	if tc.Backend == "redis" {
		reg, err := threads.NewRedisRegistry(ctx, threads.RedisOptions{
			Addr:     tc.Redis.Addr,
			Password: tc.Redis.Password,
			DB:       tc.Redis.DB,
		}, tc.TTL)
		if err != nil {
			return nil, fmt.Errorf("initializing thread registry: %w", err)
		}
		return reg, nil
	}
	return threads.NewMemoryRegistry(tc.TTL, tc.MaxEntries), nil
}

// New creates a Gateway with the store, engine and registry named by cfg.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	reg, err := initThreads(ctx, cfg)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	return NewWithDeps(cfg, Deps{
		Store:   s,
		Engine:  initEngine(cfg, logger),
		Threads: reg,
	}, logger)
}

// NewWithDeps creates a Gateway over existing collaborators.
func NewWithDeps(cfg *config.Config, deps Deps, logger *slog.Logger) (*Gateway, error) {
	if deps.Store == nil || deps.Engine == nil || deps.Threads == nil {
		return nil, errors.New("gateway requires a store, an engine and a thread registry")
	}
	if cfg.Auth.JWTSecret == "" {
		return nil, errors.New("auth.jwt_secret is required")
	}

	var renderer bridge.Renderer
	if cfg.Stream.RenderMarkdown {
		renderer = bridge.NewMarkdownRenderer()
	}

	gw := &Gateway{
		config:  cfg,
		store:   deps.Store,
		engine:  deps.Engine,
		threads: deps.Threads,
		tokens:  auth.NewJWTService([]byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL),
		bridge: bridge.New(deps.Engine, bridge.Options{
			InitialAgent: cfg.Engine.InitialAgent,
			TurnTimeout:  cfg.Engine.TurnTimeout,
			Renderer:     renderer,
			Logger:       logger,
		}),
		logger: logger.With("component", "gateway"),
	}

	if cfg.Server.GRPCAddr != "" {
		gw.grpcServer, gw.health = newHealthServer(logger)
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// routes registers every HTTP endpoint.
func (g *Gateway) routes() http.Handler {
	mux := http.NewServeMux()
	requirePatient := auth.RequirePatient(g.store, g.tokens)

	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)

	mux.HandleFunc("POST /users", g.handleRegister)
	mux.HandleFunc("POST /login", g.handleLogin)
	mux.HandleFunc("GET /doctors", g.handleListDoctors)

	// Streams authenticate from the token query parameter themselves
	mux.HandleFunc("GET /graph/start/stream", g.handleStartStream)
	mux.HandleFunc("GET /graph/resume/stream", g.handleResumeStream)

	mux.Handle("GET /users/me", requirePatient(http.HandlerFunc(g.handleMe)))
	mux.Handle("GET /consultations", requirePatient(http.HandlerFunc(g.handleListConsultations)))
	mux.Handle("GET /consultations/{id}", requirePatient(http.HandlerFunc(g.handleGetConsultation)))
	mux.Handle("GET /consultations/{id}/events", requirePatient(http.HandlerFunc(g.handleListEvents)))

	return mux
}

// Handler returns the HTTP handler, for tests and embedding.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// shutdownTimeout bounds the graceful stop once Run's context ends.
const shutdownTimeout = 5 * time.Second

// listeners are the sockets Run serves on. grpc is nil when gRPC is disabled.
type listeners struct {
	http net.Listener
	grpc net.Listener
}

func (l *listeners) close() {
	if l.http != nil {
		_ = l.http.Close()
	}
	if l.grpc != nil {
		_ = l.grpc.Close()
	}
}

// listen opens the HTTP and optional gRPC listeners on TCP or on the tailnet.
func (g *Gateway) listen(ctx context.Context) (*listeners, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled", "http_addr", g.config.Server.HTTPAddr)
		}
		return g.listenTailnet(ctx)
	}

	lns := &listeners{}
	var err error

	lns.http, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	if g.grpcServer != nil {
		lns.grpc, err = net.Listen("tcp", g.config.Server.GRPCAddr)
		if err != nil {
			lns.close()
			return nil, fmt.Errorf("listening on gRPC address: %w", err)
		}
	}

	return lns, nil
}

// Run serves until ctx is done or a server fails, then shuts everything down.
// It returns nil after a clean shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	lns, err := g.listen(ctx)
	if err != nil {
		return err
	}

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		g.logger.Info("HTTP server listening", "addr", lns.http.Addr().String())
		if err := g.httpServer.Serve(lns.http); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	if lns.grpc != nil {
		eg.Go(func() error {
			g.logger.Info("gRPC health server listening", "addr", lns.grpc.Addr().String())
			if err := g.grpcServer.Serve(lns.grpc); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("gRPC server: %w", err)
			}
			return nil
		})
	}

	// egCtx ends on cancellation or on the first server error
	eg.Go(func() error {
		<-egCtx.Done()
		g.logger.Info("stopping gateway", "cause", context.Cause(egCtx))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return g.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "consult-gateway", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// tailnetPorts returns the tailnet listen addresses. HTTP uses
// tailscale.http_port; gRPC reuses the port of server.grpc_addr.
func tailnetPorts(cfg *config.Config) (httpAddr, grpcAddr string, err error) {
	httpAddr = ":" + strconv.Itoa(cfg.Tailscale.HTTPPort)
	if cfg.Server.GRPCAddr == "" {
		return httpAddr, "", nil
	}

	_, port, err := net.SplitHostPort(cfg.Server.GRPCAddr)
	if err != nil {
		return "", "", fmt.Errorf("parsing server.grpc_addr: %w", err)
	}
	return httpAddr, ":" + port, nil
}

// listenTailnet starts a tsnet node and opens the listeners on it.
// The node is closed again if any listener fails.
func (g *Gateway) listenTailnet(ctx context.Context) (lns *listeners, err error) {
	tsCfg := g.config.Tailscale

	httpAddr, grpcAddr, err := tailnetPorts(g.config)
	if err != nil {
		return nil, err
	}

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	defer func() {
		if err != nil {
			_ = g.tsnetServer.Close()
			g.tsnetServer = nil
		}
	}()

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	lns = &listeners{}
	lns.http, err = g.tsnetServer.Listen("tcp", httpAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on tailnet %s: %w", httpAddr, err)
	}

	if g.grpcServer != nil {
		lns.grpc, err = g.tsnetServer.Listen("tcp", grpcAddr)
		if err != nil {
			lns.close()
			return nil, fmt.Errorf("listening on tailnet %s: %w", grpcAddr, err)
		}
	}
	return lns, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	if g.grpcServer == nil {
		return
	}
	g.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops all servers and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.shutdownGRPCServer(ctx)

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "thread registry close", g.threads.Close())
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the database answers.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := g.store.Ping(ctx); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("database unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
