// Command server starts the moddepot API HTTP service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"moddepot/internal/api"
	"moddepot/internal/auth"
	"moddepot/internal/notify"
	"moddepot/internal/observability/logging"
	"moddepot/internal/observability/metrics"
	"moddepot/internal/server"
	"moddepot/internal/storage"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	mode := flag.String("mode", "", "server runtime mode (development or production)")
	dataPath := flag.String("data", "", "path to JSON datastore")
	storageDriver := flag.String("storage-driver", "", "datastore driver (json or postgres)")
	artifactRoot := flag.String("artifact-root", "", "directory holding uploaded mod archives")
	maxUploadMB := flag.Int("max-upload-mb", 0, "maximum accepted upload size in megabytes")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	postgresMaxConns := flag.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := flag.Int("postgres-min-conns", 0, "minimum idle connections maintained by the Postgres pool")
	postgresMaxConnLifetime := flag.Duration("postgres-max-conn-lifetime", 0, "maximum lifetime for a pooled Postgres connection")
	postgresMaxConnIdle := flag.Duration("postgres-max-conn-idle", 0, "maximum idle time for a pooled Postgres connection")
	postgresHealthInterval := flag.Duration("postgres-health-interval", 0, "interval between Postgres health checks")
	postgresAcquireTimeout := flag.Duration("postgres-acquire-timeout", 0, "timeout when acquiring a Postgres connection from the pool")
	postgresAppName := flag.String("postgres-app-name", "", "application_name reported to Postgres")
	sessionStoreDriver := flag.String("session-store", "", "session store driver (memory or postgres)")
	sessionPostgresDSN := flag.String("session-postgres-dsn", "", "Postgres DSN for the session store")
	sessionTTL := flag.Duration("session-ttl", 0, "session lifetime")
	sessionPurgeInterval := flag.Duration("session-purge-interval", 0, "interval between expired-session purges")
	notifyDriver := flag.String("notify-driver", "", "event sink driver (log, redis, or none)")
	notifyMaxInFlight := flag.Int("notify-max-in-flight", 0, "maximum concurrent event publishes")
	notifyRedisAddr := flag.String("notify-redis-addr", "", "Redis address for the event stream")
	notifyRedisAddrs := flag.String("notify-redis-addrs", "", "comma separated Redis addresses for the event stream")
	notifyRedisUsername := flag.String("notify-redis-username", "", "Redis username for the event stream")
	notifyRedisPassword := flag.String("notify-redis-password", "", "Redis password for the event stream")
	notifyRedisStream := flag.String("notify-redis-stream", "", "Redis stream key for domain events")
	notifyRedisMasterName := flag.String("notify-redis-sentinel-master", "", "Redis sentinel master name for the event stream")
	notifyRedisPoolSize := flag.Int("notify-redis-pool-size", 0, "maximum Redis connections for the event stream")
	notifyRedisTLSCA := flag.String("notify-redis-tls-ca", "", "path to Redis TLS CA certificate for the event stream")
	notifyRedisTLSCert := flag.String("notify-redis-tls-cert", "", "path to Redis TLS client certificate for the event stream")
	notifyRedisTLSKey := flag.String("notify-redis-tls-key", "", "path to Redis TLS client key for the event stream")
	notifyRedisTLSServerName := flag.String("notify-redis-tls-server-name", "", "override Redis TLS server name for the event stream")
	notifyRedisTLSSkipVerify := flag.Bool("notify-redis-tls-skip-verify", false, "skip Redis TLS verification for the event stream")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log format (json or text)")
	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	loginLimit := flag.Int("rate-login-limit", 0, "maximum login attempts per window for a single IP")
	loginWindow := flag.Duration("rate-login-window", 0, "window for counting login attempts")
	rateRedisAddr := flag.String("rate-redis-addr", "", "Redis address for distributed login throttling")
	rateRedisPassword := flag.String("rate-redis-password", "", "Redis password for distributed login throttling")
	rateRedisTimeout := flag.Duration("rate-redis-timeout", 0, "timeout for Redis rate limit operations")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("MODDEPOT_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("MODDEPOT_LOG_FORMAT")),
	})
	recorder := metrics.Default()

	serverMode := modeValue(*mode, os.Getenv("MODDEPOT_MODE"))
	listenAddr := resolveListenAddr(*addr, serverMode, os.Getenv("MODDEPOT_ADDR"))

	postgresDefaultDSN := firstNonEmpty(*postgresDSN, os.Getenv("MODDEPOT_POSTGRES_DSN"))
	driver, err := resolveStorageDriver(*storageDriver, os.Getenv("MODDEPOT_STORAGE_DRIVER"), postgresDefaultDSN)
	if err != nil {
		logger.Error("failed to resolve storage driver", "error", err)
		os.Exit(1)
	}
	if serverMode == "production" && driver != "postgres" {
		logger.Error("production mode requires the postgres storage driver")
		os.Exit(1)
	}

	var store storage.Repository
	switch driver {
	case "json":
		dataFile := firstNonEmpty(*dataPath, os.Getenv("MODDEPOT_DATA"), "data/moddepot.json")
		store, err = storage.NewStorage(dataFile)
	case "postgres":
		if postgresDefaultDSN == "" {
			logger.Error("postgres storage selected without DSN")
			os.Exit(1)
		}
		var pgOptions []storage.PostgresOption
		maxConns := resolveInt(*postgresMaxConns, "MODDEPOT_POSTGRES_MAX_CONNS")
		minConns := resolveInt(*postgresMinConns, "MODDEPOT_POSTGRES_MIN_CONNS")
		if maxConns > 0 || minConns > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresPoolLimits(int32(maxConns), int32(minConns)))
		}
		maxLifetime := resolveDuration(*postgresMaxConnLifetime, "MODDEPOT_POSTGRES_MAX_CONN_LIFETIME", 0)
		maxIdle := resolveDuration(*postgresMaxConnIdle, "MODDEPOT_POSTGRES_MAX_CONN_IDLE", 0)
		healthInterval := resolveDuration(*postgresHealthInterval, "MODDEPOT_POSTGRES_HEALTH_INTERVAL", 0)
		if maxLifetime > 0 || maxIdle > 0 || healthInterval > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresPoolDurations(maxLifetime, maxIdle, healthInterval))
		}
		if acquireTimeout := resolveDuration(*postgresAcquireTimeout, "MODDEPOT_POSTGRES_ACQUIRE_TIMEOUT", 0); acquireTimeout > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresAcquireTimeout(acquireTimeout))
		}
		if appName := firstNonEmpty(*postgresAppName, os.Getenv("MODDEPOT_POSTGRES_APP_NAME")); appName != "" {
			pgOptions = append(pgOptions, storage.WithPostgresApplicationName(appName))
		}
		store, err = storage.NewPostgresRepository(postgresDefaultDSN, pgOptions...)
	default:
		logger.Error("unsupported storage driver", "driver", driver)
		os.Exit(1)
	}
	if err != nil {
		logger.Error("failed to open datastore", "error", err)
		os.Exit(1)
	}

	artifacts := storage.NewArtifactStore(firstNonEmpty(*artifactRoot, os.Getenv("MODDEPOT_ARTIFACT_ROOT"), "data/artifacts"))

	sessionConfig, err := resolveSessionStoreConfig(
		*sessionStoreDriver,
		os.Getenv("MODDEPOT_SESSION_STORE"),
		driver,
		postgresDefaultDSN,
		*sessionPostgresDSN,
		os.Getenv("MODDEPOT_SESSION_POSTGRES_DSN"),
	)
	if err != nil {
		logger.Error("failed to resolve session store", "error", err)
		os.Exit(1)
	}

	var (
		sessionStore  auth.SessionStore
		sessionCloser func(context.Context) error
	)
	switch sessionConfig.Driver {
	case "memory":
		sessionStore = auth.NewMemorySessionStore()
	case "postgres":
		pgStore, err := auth.NewPostgresSessionStore(sessionConfig.DSN)
		if err != nil {
			logger.Error("failed to open session store", "error", err)
			os.Exit(1)
		}
		sessionStore = pgStore
		sessionCloser = func(ctx context.Context) error { return pgStore.Close(ctx) }
	default:
		logger.Error("unsupported session store driver", "driver", sessionConfig.Driver)
		os.Exit(1)
	}
	sessions := auth.NewSessionManager(
		resolveDuration(*sessionTTL, "MODDEPOT_SESSION_TTL", 7*24*time.Hour),
		auth.WithStore(sessionStore),
	)

	events, err := configureNotifier(notifierSettings{
		Driver:      firstNonEmpty(*notifyDriver, os.Getenv("MODDEPOT_NOTIFY_DRIVER")),
		MaxInFlight: resolveInt(*notifyMaxInFlight, "MODDEPOT_NOTIFY_MAX_IN_FLIGHT"),
		Redis: notify.RedisNotifierConfig{
			Addr:       firstNonEmpty(*notifyRedisAddr, os.Getenv("MODDEPOT_NOTIFY_REDIS_ADDR")),
			Addrs:      splitAndTrim(firstNonEmpty(*notifyRedisAddrs, os.Getenv("MODDEPOT_NOTIFY_REDIS_ADDRS"))),
			Username:   firstNonEmpty(*notifyRedisUsername, os.Getenv("MODDEPOT_NOTIFY_REDIS_USERNAME")),
			Password:   firstNonEmpty(*notifyRedisPassword, os.Getenv("MODDEPOT_NOTIFY_REDIS_PASSWORD")),
			Stream:     firstNonEmpty(*notifyRedisStream, os.Getenv("MODDEPOT_NOTIFY_REDIS_STREAM")),
			MasterName: firstNonEmpty(*notifyRedisMasterName, os.Getenv("MODDEPOT_NOTIFY_REDIS_SENTINEL_MASTER")),
			PoolSize:   resolveInt(*notifyRedisPoolSize, "MODDEPOT_NOTIFY_REDIS_POOL_SIZE"),
			TLS: notify.RedisTLSConfig{
				CAFile:             firstNonEmpty(*notifyRedisTLSCA, os.Getenv("MODDEPOT_NOTIFY_REDIS_TLS_CA")),
				CertFile:           firstNonEmpty(*notifyRedisTLSCert, os.Getenv("MODDEPOT_NOTIFY_REDIS_TLS_CERT")),
				KeyFile:            firstNonEmpty(*notifyRedisTLSKey, os.Getenv("MODDEPOT_NOTIFY_REDIS_TLS_KEY")),
				ServerName:         firstNonEmpty(*notifyRedisTLSServerName, os.Getenv("MODDEPOT_NOTIFY_REDIS_TLS_SERVER_NAME")),
				InsecureSkipVerify: resolveBool(*notifyRedisTLSSkipVerify, "MODDEPOT_NOTIFY_REDIS_TLS_SKIP_VERIFY"),
			},
		},
	}, logger)
	if err != nil {
		logger.Error("failed to configure event sink", "error", err)
		os.Exit(1)
	}

	handler := api.NewHandler(store, sessions, artifacts)
	handler.Events = events
	handler.Logger = logging.WithComponent(logger, "api")
	if mb := resolveInt(*maxUploadMB, "MODDEPOT_MAX_UPLOAD_MB"); mb > 0 {
		handler.MaxUploadBytes = int64(mb) << 20
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	purgeInterval := resolveDuration(*sessionPurgeInterval, "MODDEPOT_SESSION_PURGE_INTERVAL", 15*time.Minute)
	sessionPurgeStop := startSessionPurgeWorker(workerCtx, logging.WithComponent(logger, "session-purger"), sessions, purgeInterval)
	defer sessionPurgeStop()

	rateCfg := server.RateLimitConfig{
		GlobalRPS:     resolveFloat(*globalRPS, "MODDEPOT_RATE_GLOBAL_RPS"),
		GlobalBurst:   resolveInt(*globalBurst, "MODDEPOT_RATE_GLOBAL_BURST"),
		LoginLimit:    resolveInt(*loginLimit, "MODDEPOT_RATE_LOGIN_LIMIT"),
		LoginWindow:   resolveDuration(*loginWindow, "MODDEPOT_RATE_LOGIN_WINDOW", time.Minute),
		RedisAddr:     firstNonEmpty(*rateRedisAddr, os.Getenv("MODDEPOT_RATE_REDIS_ADDR")),
		RedisPassword: firstNonEmpty(*rateRedisPassword, os.Getenv("MODDEPOT_RATE_REDIS_PASSWORD")),
		RedisTimeout:  resolveDuration(*rateRedisTimeout, "MODDEPOT_RATE_REDIS_TIMEOUT", 2*time.Second),
	}

	tlsCfg := server.TLSConfig{
		CertFile: firstNonEmpty(*tlsCert, os.Getenv("MODDEPOT_TLS_CERT")),
		KeyFile:  firstNonEmpty(*tlsKey, os.Getenv("MODDEPOT_TLS_KEY")),
	}

	srv, err := server.New(handler, server.Config{
		Addr:      listenAddr,
		TLS:       tlsCfg,
		RateLimit: rateCfg,
		Logger:    logger,
		Metrics:   recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("moddepot API listening", "addr", listenAddr, "mode", serverMode, "storage", driver)
	if tlsCfg.CertFile != "" && tlsCfg.KeyFile != "" {
		logger.Info("TLS enabled", "cert_file", tlsCfg.CertFile)
	}
	logger.Info("metrics endpoint available", "path", "/metrics")

	if err := srv.Run(runCtx, nil); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
	}

	workerCancel()
	sessionPurgeStop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := events.Close(); err != nil {
		logger.Warn("failed to close event sink", "error", err)
	}

	if err := store.Close(ctx); err != nil {
		logger.Warn("failed to close datastore", "error", err)
	}

	if sessionCloser != nil {
		if err := sessionCloser(ctx); err != nil {
			logger.Warn("failed to close session store", "error", err)
		}
	}

	logger.Info("server stopped")
}

type notifierSettings struct {
	Driver      string
	MaxInFlight int
	Redis       notify.RedisNotifierConfig
}

func configureNotifier(settings notifierSettings, logger *slog.Logger) (notify.Notifier, error) {
	driver := strings.ToLower(strings.TrimSpace(settings.Driver))
	maxInFlight := int64(settings.MaxInFlight)
	notifyLogger := logging.WithComponent(logger, "notify")

	switch driver {
	case "", "log":
		return notify.NewDispatcher(notify.NewLogNotifier(notifyLogger), notifyLogger, maxInFlight), nil
	case "redis":
		sink, err := notify.NewRedisNotifier(settings.Redis)
		if err != nil {
			return nil, err
		}
		return notify.NewDispatcher(sink, notifyLogger, maxInFlight), nil
	case "none":
		return notify.NoopNotifier{}, nil
	default:
		return nil, fmt.Errorf("unsupported notify driver %q", driver)
	}
}

func modeValue(flagValue, envValue string) string {
	mode := strings.ToLower(strings.TrimSpace(firstNonEmpty(flagValue, envValue)))
	switch mode {
	case "production", "prod":
		return "production"
	default:
		return "development"
	}
}

func resolveListenAddr(flagValue, mode, envAddr string) string {
	if addr := strings.TrimSpace(flagValue); addr != "" {
		return addr
	}
	if addr := strings.TrimSpace(envAddr); addr != "" {
		return addr
	}
	if mode == "production" {
		return ":8080"
	}
	return "127.0.0.1:8080"
}

func resolveStorageDriver(flagValue, envValue, postgresDSN string) (string, error) {
	driver := strings.ToLower(strings.TrimSpace(firstNonEmpty(flagValue, envValue)))
	switch driver {
	case "json", "postgres":
		return driver, nil
	case "":
		if postgresDSN != "" {
			return "postgres", nil
		}
		return "json", nil
	default:
		return "", fmt.Errorf("unsupported storage driver %q", driver)
	}
}

type sessionStoreConfig struct {
	Driver string
	DSN    string
}

func resolveSessionStoreConfig(flagDriver, envDriver, storageDriver, storageDSN, flagDSN, envDSN string) (sessionStoreConfig, error) {
	driver := strings.ToLower(strings.TrimSpace(firstNonEmpty(flagDriver, envDriver)))
	dsn := firstNonEmpty(flagDSN, envDSN, storageDSN)
	switch driver {
	case "memory":
		return sessionStoreConfig{Driver: "memory"}, nil
	case "postgres":
		if dsn == "" {
			return sessionStoreConfig{}, fmt.Errorf("postgres session store selected without DSN")
		}
		return sessionStoreConfig{Driver: "postgres", DSN: dsn}, nil
	case "":
		if storageDriver == "postgres" && dsn != "" {
			return sessionStoreConfig{Driver: "postgres", DSN: dsn}, nil
		}
		return sessionStoreConfig{Driver: "memory"}, nil
	default:
		return sessionStoreConfig{}, fmt.Errorf("unsupported session store driver %q", driver)
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveFloat(flagValue float64, envKey string) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseFloat(strings.TrimSpace(env), 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	if fallback > 0 {
		return fallback
	}
	return 0
}

func resolveBool(flagValue bool, envKey string) bool {
	if flagValue {
		return true
	}
	if env, ok := os.LookupEnv(envKey); ok {
		if value, err := strconv.ParseBool(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return false
}
