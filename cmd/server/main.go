// server runs the public HTTP listener, the internal session-validation listener, the gRPC health server
// and the session janitor. Configuration comes from the environment (see internal/config).
package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"study-abroad-portal/backend/internal/config"
	"study-abroad-portal/backend/internal/db"
	healthhandler "study-abroad-portal/backend/internal/health/handler"
	identityhandler "study-abroad-portal/backend/internal/identity/handler"
	identityservice "study-abroad-portal/backend/internal/identity/service"
	"study-abroad-portal/backend/internal/notify"
	"study-abroad-portal/backend/internal/policy"
	"study-abroad-portal/backend/internal/policy/engine"
	"study-abroad-portal/backend/internal/ratelimit"
	"study-abroad-portal/backend/internal/security"
	"study-abroad-portal/backend/internal/server"
	"study-abroad-portal/backend/internal/server/middleware"
	sessionhandler "study-abroad-portal/backend/internal/session/handler"
	sessionrepo "study-abroad-portal/backend/internal/session/repository"
	sessionservice "study-abroad-portal/backend/internal/session/service"
	"study-abroad-portal/backend/internal/telemetry"
	telemetryotel "study-abroad-portal/backend/internal/telemetry/otel"
	userhandler "study-abroad-portal/backend/internal/user/handler"
	userrepo "study-abroad-portal/backend/internal/user/repository"
)

const (
	healthCheckInterval = 15 * time.Second
	shutdownTimeout     = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	secret, err := security.LoadSecret(cfg.JWTSecret)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := telemetryotel.NewProviders(ctx, cfg.OTLPEndpoint, cfg.OTelServiceName, cfg.OTLPInsecure)
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}
	providers.SetGlobal()
	events := telemetryotel.NewEventEmitter(providers.LoggerProvider)
	authMetrics, err := telemetry.NewAuthMetrics(providers.Meter("study-abroad-portal/auth"))
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}

	var (
		users    userrepo.Repository
		sessions sessionrepo.Repository
		pinger   healthhandler.Pinger
		conn     *sql.DB
	)
	if cfg.DatabaseURL != "" {
		conn, err = db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db: %v", err)
		}
		defer conn.Close()
		users = userrepo.NewPostgresRepository(conn)
		sessions = sessionrepo.NewPostgresRepository(conn)
		pinger = conn
	} else {
		log.Println("server: DATABASE_URL not set, using in-memory stores")
		mem := userrepo.NewMemoryRepository()
		users = mem
		sessions = sessionrepo.NewMemoryRepository(mem)
	}

	authz, err := engine.NewOPAAuthorizer(ctx)
	if err != nil {
		log.Fatalf("policy: %v", err)
	}
	routes, err := policy.Compile(policy.DefaultTable())
	if err != nil {
		log.Fatalf("policy: %v", err)
	}

	var limiter ratelimit.Limiter
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		client := redis.NewClient(opts)
		defer client.Close()
		limiter = ratelimit.NewRedisLimiter(client, cfg.RateLimitRequests, cfg.RateWindow())
		log.Printf("server: rate limiting through redis at %s", opts.Addr)
	} else {
		limiter = ratelimit.NewLocalLimiter(cfg.RateLimitRequests, cfg.RateWindow())
	}

	proxies, err := middleware.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var sender notify.Sender = notify.LogSender{}
	if cfg.EmailAPIURL != "" {
		sender = notify.NewHTTPSender(cfg.EmailAPIURL, cfg.EmailAPIKey, cfg.EmailFrom)
	}

	tokens := security.NewTokenCodec(secret, cfg.JWTIssuer, cfg.AccessTTL(), cfg.RefreshTTL())
	manager := sessionservice.NewManager(sessions, users, tokens, sessionservice.Config{
		MaxConcurrentSessions: cfg.MaxConcurrentSessions,
		MaxLoginAttempts:      cfg.MaxLoginAttempts,
		LockoutDuration:       cfg.Lockout(),
		RetryAttempts:         cfg.DBRetryAttempts,
		RetryBaseDelay:        cfg.RetryBaseDelay(),
	}, events, authMetrics)
	validator := sessionservice.NewValidator(sessions, tokens, events, authMetrics)
	janitor := sessionservice.NewJanitor(sessions, cfg.AccessTTL(), cfg.RefreshTTL())

	cookies := sessionhandler.NewCookies(cfg.IsProduction())
	sessionH := sessionhandler.NewHandler(validator, users, cookies)
	authSvc := identityservice.NewAuthService(users, manager, security.NewHasher(cfg.BcryptCost), sender, events)
	health := healthhandler.NewServer(pinger, authz)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if conn != nil {
		registry.MustRegister(collectors.NewDBStatsCollector(conn, "portal"))
	}

	public := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: server.NewPublicHandler(server.Deps{
			Policy:     routes,
			Authorizer: authz,
			Checker:    middleware.NewValidationClient(cfg.ValidateURL, cfg.ValidateRetries, cfg.ValidateDelay()),
			Limiter:    limiter,
			Registry:   registry,
			SignInPath: cfg.SignInPath,
			Proxies:    proxies,
			Session:    sessionH,
			Auth:       identityhandler.NewHandler(authSvc, manager, cookies),
			Profile:    userhandler.NewHandler(users),
			Health:     health,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	internal := &http.Server{
		Addr:              cfg.InternalHTTPAddr,
		Handler:           server.NewInternalHandler(sessionH),
		ReadHeaderTimeout: 5 * time.Second,
	}

	lis, err := net.Listen("tcp", cfg.HealthGRPCAddr)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	grpcSrv := server.NewHealthGRPCServer(health)

	go health.Run(ctx, healthCheckInterval)
	go janitor.Run(ctx, cfg.JanitorEvery())
	go func() {
		log.Printf("gRPC health server listening on %s", cfg.HealthGRPCAddr)
		if err := grpcSrv.Serve(lis); err != nil {
			log.Fatalf("grpc serve: %v", err)
		}
	}()
	for _, srv := range []*http.Server{public, internal} {
		go func(srv *http.Server) {
			log.Printf("HTTP server listening on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatalf("http serve %s: %v", srv.Addr, err)
			}
		}(srv)
	}

	<-ctx.Done()
	log.Println("shutting down...")
	health.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range []*http.Server{public, internal} {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("http shutdown %s: %v", srv.Addr, err)
		}
	}
	grpcSrv.GracefulStop()

	if cfg.OTLPEndpoint != "" {
		time.Sleep(telemetry.ShutdownDrainDuration)
	}
	if err := providers.Shutdown(context.Background()); err != nil {
		log.Printf("telemetry shutdown: %v", err)
	}
	log.Println("stopped")
}
