// Hive — centralized authorization and identity governance service.
//
// Serves the external query API (/api/v0, /api/v1), the OIDC login web
// surface, Prometheus metrics, and the cron-driven integration scheduler.
package main

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/datasektionen/hive-sub000/internal/hive/api"
	"github.com/datasektionen/hive-sub000/internal/hive/apiauth"
	"github.com/datasektionen/hive-sub000/internal/hive/config"
	"github.com/datasektionen/hive-sub000/internal/hive/integration"
	"github.com/datasektionen/hive-sub000/internal/hive/integration/googlesync"
	"github.com/datasektionen/hive-sub000/internal/hive/migration"
	"github.com/datasektionen/hive-sub000/internal/hive/resolver"
	"github.com/datasektionen/hive-sub000/internal/hive/services"
	"github.com/datasektionen/hive-sub000/internal/hive/store"
	"github.com/datasektionen/hive-sub000/internal/hive/telemetry"
	"github.com/datasektionen/hive-sub000/internal/hive/web"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to a TOML config file")
	// The file must be loaded before BindFlags takes cfg's values as flag
	// defaults, so -config is read from the arguments ahead of flag.Parse.
	for i, arg := range os.Args[1:] {
		name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if !strings.HasPrefix(arg, "-") || name != "config" {
			continue
		}
		if hasValue {
			configPath = value
		} else if i+2 < len(os.Args) {
			configPath = os.Args[i+2]
		}
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	config.BindFlags(flag.CommandLine, &cfg)
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.InitTraceProvider(ctx, cfg.TraceEndpoint, version)
	if err != nil {
		logger.Fatal("failed to init tracing", zap.Error(err))
	}
	defer shutdownTracing(context.Background())

	st, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer st.Close()

	if err := runMigrations(st, logger); err != nil {
		logger.Fatal("failed to migrate schema", zap.Error(err))
	}

	svc := services.New(st)

	authMiddleware := &apiauth.Middleware{
		Tokens:        st,
		Impersonation: svc,
	}

	identityResolver := resolver.New(cfg.ResolverEndpoint)
	apiServer := api.NewServer(api.Config{ListenAddr: cfg.ListenAddr}, svc, authMiddleware, identityResolver, logger)

	secretKey, err := hex.DecodeString(cfg.SecretKey)
	if err != nil {
		logger.Fatal("invalid secret_key", zap.Error(err))
	}
	oidcProvider, err := web.NewProvider(ctx, cfg.OIDC, secretKey, svc, logger)
	if err != nil {
		logger.Fatal("failed to init oidc provider", zap.Error(err))
	}

	mux := http.NewServeMux()
	mux.Handle("/", apiServer.Handler())
	mux.HandleFunc("GET /auth/login", oidcProvider.HandleLogin)
	mux.HandleFunc("GET /auth/callback", oidcProvider.HandleCallback)
	mux.HandleFunc("POST /auth/logout", oidcProvider.HandleLogout)
	mux.Handle("GET /metrics", telemetry.Handler(telemetry.Registry()))

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	scheduler := integration.New(st, logger, nil)
	if cfg.GoogleSync.Enabled {
		if err := registerGoogleSync(ctx, scheduler, cfg.GoogleSync); err != nil {
			logger.Fatal("failed to register google sync", zap.Error(err))
		}
	}
	scheduler.Start()
	defer scheduler.Stop()

	logger.Info("starting hive", zap.String("addr", cfg.ListenAddr), zap.String("version", version), zap.String("commit", commit))

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log_level %q: %w", level, err)
	}
	return cfg.Build()
}

// runMigrations applies pending schema migrations through the
// pgx/v5/stdlib database/sql shim shared with the store's connection pool.
func runMigrations(st *store.Store, logger *zap.Logger) error {
	db := sql.OpenDB(stdlib.GetPoolConnector(st.Pool()))
	defer db.Close()
	return migration.NewRunner(migration.Migrations(), logger).Migrate(db)
}

func registerGoogleSync(ctx context.Context, scheduler *integration.Scheduler, cfg config.GoogleSyncConfig) error {
	manifest := googlesync.Manifest(cfg.CronSchedule)
	loadSettings := func(ctx context.Context) (integration.Settings, error) {
		key, err := os.ReadFile(cfg.ServiceAccountKey)
		if err != nil {
			return nil, fmt.Errorf("read google service account key: %w", err)
		}
		return integration.Settings{
			"service_account_email": cfg.ImpersonatedUser,
			"private_key":           string(key),
			"impersonate_user":      cfg.ImpersonatedUser,
			"primary_domain":        "",
			"mode":                  "dry-run",
		}, nil
	}
	return scheduler.Register(ctx, manifest, loadSettings)
}
