package internal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/velicb/supplydesk/internal/auditlog"
	"github.com/velicb/supplydesk/internal/config"
	"github.com/velicb/supplydesk/internal/db"
	"github.com/velicb/supplydesk/internal/guard"
	"github.com/velicb/supplydesk/internal/middleware"
	"github.com/velicb/supplydesk/internal/session"
	"github.com/velicb/supplydesk/internal/telemetry/metrics"
	"github.com/velicb/supplydesk/internal/telemetry/tracing"
	"github.com/velicb/supplydesk/internal/upstream"
	"github.com/velicb/supplydesk/internal/webapp"

	"github.com/IBM/pgxpoolprometheus"
	"github.com/getsentry/sentry-go"
	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redis_rate/v9"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Server struct {
	httpServer        *http.Server
	metricsHttpServer *http.Server

	config      *config.Config
	dbPool      *pgxpool.Pool
	redisClient *redis.Client

	sessionStore      *session.Store
	sessionController *session.Controller
	sessionGuard      *guard.Guard
	inventoryClient   *upstream.Client
	auditApi          auditlog.Api

	// metrics
	metricsManager *metrics.Manager
	promRegistry   *prometheus.Registry
	otelShutdown   func()
}

type NewServerParams struct {
	Config                  *config.Config
	RedisPassword           string
	HoneycombTracingEnabled bool
}

func NewServer(
	ctx context.Context,
	params NewServerParams,
) (*Server, error) {
	dbPool, err := db.NewDBPool(ctx, db.NewDBPoolParams{
		DBHost:         params.Config.PostgresHost,
		DBPort:         params.Config.PostgresPort,
		DBName:         params.Config.PostgresDBName,
		TracingEnabled: params.HoneycombTracingEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("new db pool: %w", err)
	}

	if err := dbPool.Ping(ctx); err != nil {
		log.Warnf("failed to ping db: %s", err)
	}

	pgxpoolCollector := pgxpoolprometheus.NewCollector(
		dbPool,
		map[string]string{"db_name": params.Config.PostgresDBName},
	)
	promRegistry := metrics.SetupPrometheus(pgxpoolCollector)
	metricsManager := metrics.NewManager("supplydesk", "gateway", promRegistry)
	metricsManager.GaugeLifeSignal.Set(0)

	rdb := redis.NewClient(&redis.Options{
		Addr:     net.JoinHostPort(params.Config.RedisHost, params.Config.RedisPort),
		Password: params.RedisPassword,
		DB:       0, // use default DB
	})

	rdbStatus := rdb.Ping(ctx)
	if err := rdbStatus.Err(); err != nil {
		log.Errorf("--> failed to ping redis: %s", err)
	} else {
		log.Debugf("redis ping: %s", rdbStatus.Val())
	}

	// use honeycomb distro to setup OpenTelemetry SDK
	otelShutdown, err := tracing.HoneycombSetup(params.HoneycombTracingEnabled, "supplydesk-gateway", rdb)
	if err != nil {
		return nil, err
	}

	tracedHttpClient := &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	sessionStore := session.NewStore(
		session.NewFileLocation(params.Config.CredentialsFilePath),
		session.NewMemoryLocation(),
	)
	sessionMonitor := session.NewMonitor(sessionStore)

	inventoryClient := upstream.NewClient(upstream.NewClientParams{
		BaseURL:           params.Config.APIBaseURL,
		HTTPClient:        tracedHttpClient,
		Store:             sessionStore,
		Monitor:           sessionMonitor,
		RedisClient:       rdb,
		TokenExpiryDays:   params.Config.TokenExpiryDays,
		SessionMinMinutes: params.Config.SessionMinMinutes,
		CacheTTL:          time.Duration(params.Config.ListingsCacheTTLSeconds) * time.Second,
	})

	auditApi := auditlog.NewPsqlApi(dbPool)

	sessionController := session.NewController(inventoryClient)
	sessionController.OnAutoLogout = func() {
		metricsManager.CounterAutoLogouts.Inc()
		addAuditEvent(auditApi, auditlog.EventAutoLogout, "", "token about to expire")
	}
	sessionController.OnRefresh = func(success bool) {
		if success {
			metricsManager.CounterTokenRefreshes.Inc()
			addAuditEvent(auditApi, auditlog.EventRefreshSuccess, "", "")
		} else {
			metricsManager.CounterFailedRefreshes.Inc()
			addAuditEvent(auditApi, auditlog.EventRefreshFailed, "", "")
		}
	}

	sessionGuard := guard.New(sessionController)
	sessionGuard.OnDenied = func(path, reason string) {
		metricsManager.CounterGuardDenied.Inc()
		addAuditEvent(auditApi, auditlog.EventAccessDenied, "", fmt.Sprintf("%s: %s", path, reason))
	}

	return &Server{
		config:      params.Config,
		dbPool:      dbPool,
		redisClient: rdb,

		sessionStore:      sessionStore,
		sessionController: sessionController,
		sessionGuard:      sessionGuard,
		inventoryClient:   inventoryClient,
		auditApi:          auditApi,

		metricsManager: metricsManager,
		promRegistry:   promRegistry,
		otelShutdown:   otelShutdown,
	}, nil
}

func (s *Server) routerSetup() *mux.Router {
	r := mux.NewRouter()
	r.Use(otelmux.Middleware("supplydesk-router"))

	webappHandler := webapp.NewHandler(webapp.NewHandlerParams{
		Client:     s.inventoryClient,
		Controller: s.sessionController,
		Audit:      s.auditApi,
		Metrics:    s.metricsManager,
	})
	webappHandler.SetupRoutes(webapp.SetupRoutesParams{
		Router:       r,
		Guard:        s.sessionGuard,
		AuditHandler: auditlog.NewHandler(s.auditApi),
		RateLimiter:  redis_rate.NewLimiter(s.redisClient),
		LoginsPerMin: s.config.LoginRateLimitAllowedPerMin,
	})

	// all the rest - unhandled paths
	r.HandleFunc("/{unknown}", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}).Methods("GET", "POST", "PUT", "OPTIONS").Name("unknown")

	r.Use(middleware.PanicRecovery(s.metricsManager))
	r.Use(middleware.LogRequest())
	r.Use(middleware.RequestMetrics(s.metricsManager))
	r.Use(middleware.Cors())
	r.Use(middleware.DrainAndCloseRequest())

	return r
}

func (s *Server) Serve(ctx context.Context, host string, port int) {
	// find out whether a previous session can be resumed before
	// serving any request
	s.sessionController.Bootstrap(ctx)

	router := s.routerSetup()

	ipAndPort := net.JoinHostPort(host, strconv.Itoa(port))
	s.httpServer = &http.Server{
		Handler:      router,
		Addr:         ipAndPort,
		WriteTimeout: time.Minute,
		ReadTimeout:  time.Minute,
		ConnState:    s.connStateMetrics,
	}

	metricsRouter := mux.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.HandlerFor(
		s.promRegistry,
		promhttp.HandlerOpts{},
	))
	metricsAddr := net.JoinHostPort(
		s.config.PrometheusMetricsHost,
		strconv.Itoa(s.config.PrometheusMetricsPort),
	)
	s.metricsHttpServer = &http.Server{
		Addr:    metricsAddr,
		Handler: metricsRouter,
	}

	go func() {
		log.Infof(" > server listening on: [%s]", ipAndPort)
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("main service, listen and serve: %s", err)
		}
	}()

	go func() {
		log.Debugf(" > metrics listening on: [%s]", metricsAddr)
		err := s.metricsHttpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("metrics service, listen and serve: %s", err)
		}
	}()

	s.metricsManager.GaugeLifeSignal.Set(1)
}

func (s *Server) GracefulShutdown() {
	log.Debug("graceful shutdown initiated ...")

	s.metricsManager.GaugeLifeSignal.Set(0)

	s.sessionController.Close()
	log.Trace("session controller closed ...")

	s.otelShutdown()
	log.Trace("otel shut down ...")

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			log.Errorf("failed to close redis client conn: %s", err)
		}
	}

	if s.dbPool != nil {
		log.Debugln("closing db pool ...")
		s.dbPool.Close() // blocking operation
		log.Debugln("db pool closed")
	}

	if ok := sentry.Flush(5 * time.Second); ok {
		log.Debugf("sentry flush ok: %t", ok)
	}

	maxWaitDuration := time.Second * 15
	ctx, timeoutCancel := context.WithTimeout(context.Background(), maxWaitDuration)
	defer timeoutCancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Error(" >>> failed to gracefully shutdown http server")
	}
	log.Warnln("server shut down")

	if err := s.metricsHttpServer.Shutdown(ctx); err != nil {
		log.Error(" >>> failed to gracefully shutdown metrics http server")
	}
	log.Warnln("metrics server shut down")
}

func (s *Server) connStateMetrics(_ net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		s.metricsManager.GaugeRequests.Add(1)
	case http.StateClosed:
		s.metricsManager.GaugeRequests.Add(-1)
	default:
		// do nothing
	}
}

func addAuditEvent(api auditlog.Api, eventType auditlog.EventType, username, details string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := api.Add(ctx, auditlog.Event{
		Type:     eventType,
		Username: username,
		Details:  details,
	}); err != nil {
		log.Errorf("add audit event [%s]: %s", eventType, err)
	}
}
