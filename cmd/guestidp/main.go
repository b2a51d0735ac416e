package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	_ "github.com/lib/pq"

	"github.com/eduguest/guestidp/pkg/authctx"
	"github.com/eduguest/guestidp/pkg/config"
	"github.com/eduguest/guestidp/pkg/eduid"
	"github.com/eduguest/guestidp/pkg/idp"
	"github.com/eduguest/guestidp/pkg/observability"
	"github.com/eduguest/guestidp/pkg/saml"
	"github.com/eduguest/guestidp/pkg/storage"
	"github.com/eduguest/guestidp/pkg/sweeper"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var db *sql.DB
	var redisClient *redis.Client
	var requests storage.AuthnRequestStore
	var users storage.UserStore

	switch cfg.Storage.Type {
	case "postgres", "redis":
		db, err = sql.Open("postgres", cfg.Storage.PostgresURL)
		if err != nil {
			log.WithError(err).Fatal("failed to open postgres")
		}
		db.SetMaxOpenConns(cfg.Storage.PostgresMaxConns)
		if err := db.PingContext(ctx); err != nil {
			log.WithError(err).Fatal("failed to reach postgres")
		}
		users = storage.NewPostgresUserStore(db)

		if cfg.Storage.Type == "redis" {
			store, err := storage.NewRedisAuthnRequestStore(cfg.Storage)
			if err != nil {
				log.WithError(err).Fatal("failed to connect to redis")
			}
			store.RememberMeTTL = cfg.IdP.RememberMeMaxAge
			redisClient = store.Client()
			requests = store
		} else {
			requests = storage.NewPostgresAuthnRequestStore(db)
		}
	case "memory":
		requests = storage.NewMemoryAuthnRequestStore()
		users = storage.NewMemoryUserStore()
	}

	spRegistry, err := saml.NewRegistry(cfg.IdP.SPRegistryPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load service provider registry")
	}

	toolkit, err := buildToolkit(cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize signing material")
	}

	guestIdP := idp.NewGuestIdP(idp.Config{
		RedirectBaseURL:         cfg.IdP.RedirectBaseURL,
		LoginURL:                cfg.IdP.LoginURL,
		SPBaseURL:               cfg.IdP.SPBaseURL,
		RememberMeMaxAge:        cfg.IdP.RememberMeMaxAge,
		SecureCookie:            cfg.IdP.SecureCookie,
		LinkingContextClassRefs: cfg.IdP.LinkingContextClassRefs,
	}, toolkit, spRegistry, requests, users, logger, metrics)

	router := mux.NewRouter()
	guestIdP.RegisterRoutes(router)

	if cfg.IdP.OIDCIssuer != "" {
		verifier, err := eduid.NewOIDCVerifier(ctx, cfg.IdP.OIDCIssuer)
		if err != nil {
			log.WithError(err).Fatal("failed to reach the token issuer")
		}
		eduid.NewAPI(verifier, users, logger).RegisterRoutes(router)
	}

	sessionResolver := authctx.NewCookieSessionResolver(requests, users)
	var handler http.Handler = idp.NewFilter(router, guestIdP.Capabilities()...)
	handler = authctx.Middleware(sessionResolver)(handler)
	if cfg.Observability.TracingEnabled {
		handler = otelhttp.NewHandler(handler, "guestidp")
	}

	sweep, err := sweeper.NewSweeper(cfg.IdP.SweepSchedule, requests, logger, metrics)
	if err != nil {
		log.WithError(err).Fatal("invalid sweep schedule")
	}
	sweep.Start()
	defer sweep.Stop()

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	health := observability.NewHealthChecker(db, redisClient)
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", health.Liveness)
	healthMux.HandleFunc("/readyz", health.Readiness)
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.WithField("addr", apiServer.Addr).Info("starting guest identity provider")
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		log.WithField("addr", healthServer.Addr).Info("starting health server")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("api server shutdown")
		}
		return healthServer.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.WithError(err).Fatal("server exited")
	}
	log.Info("shutdown complete")
}

// buildToolkit loads the PEM signing material, or generates an ephemeral
// key pair for memory-backed development runs.
func buildToolkit(cfg *config.Config) (saml.Toolkit, error) {
	if cfg.IdP.CertificatePath == "" {
		return saml.NewProviderWithGeneratedKeys(cfg.IdP.EntityID)
	}
	certPEM, err := os.ReadFile(cfg.IdP.CertificatePath)
	if err != nil {
		return nil, err
	}
	keyPEM, err := os.ReadFile(cfg.IdP.PrivateKeyPath)
	if err != nil {
		return nil, err
	}
	return saml.NewProvider(cfg.IdP.EntityID, certPEM, keyPEM)
}
