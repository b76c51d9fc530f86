package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/bulk-measure/internal/api"
	"github.com/ehr/bulk-measure/internal/assembler"
	"github.com/ehr/bulk-measure/internal/config"
	"github.com/ehr/bulk-measure/internal/platform/auth"
	"github.com/ehr/bulk-measure/internal/platform/compartment"
	"github.com/ehr/bulk-measure/internal/platform/db"
	"github.com/ehr/bulk-measure/internal/platform/httpclient"
	"github.com/ehr/bulk-measure/internal/platform/middleware"
	"github.com/ehr/bulk-measure/internal/platform/store"
)

const remoteFetchTimeout = 30 * time.Second

var verbose bool

func main() {
	rootCmd := &cobra.Command{
		Use:           "bulk-measure",
		Short:         "Turn FHIR bulk-export NDJSON into per-patient bundles",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(bundleCmd())
	rootCmd.AddCommand(paramsCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	var logger zerolog.Logger
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(out).With().Timestamp().Logger()
	}
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return logger.Level(level)
}

// setup loads and validates configuration and builds the logger. Logs go to
// stderr so command output on stdout stays machine readable.
func setup() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	if err := cfg.Validate(); err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, newLogger(cfg, os.Stderr), nil
}

func newAssembler(ctx context.Context, cfg *config.Config, client *http.Client, logger zerolog.Logger) (*assembler.Assembler, error) {
	m, err := compartment.Resolve(ctx, client, cfg.CompartmentMap)
	if err != nil {
		return nil, fmt.Errorf("load compartment map: %w", err)
	}
	logger.Debug().
		Int("resource_types", m.Len()).
		Strs("types", m.Types()).
		Str("source", cfg.CompartmentMap).
		Msg("compartment map loaded")

	asm := assembler.New(m, logger)
	asm.LogFileName = cfg.LogFileName
	return asm, nil
}

// newSink writes bundles to outDir and, when a database is configured, to
// Postgres. The returned cleanup closes the pool.
func newSink(ctx context.Context, cfg *config.Config, outDir string, logger zerolog.Logger) (store.Multi, *pgxpool.Pool, func(), error) {
	sinks := store.Multi{store.NewDirSink(outDir, logger)}
	if !cfg.HasDatabase() {
		return sinks, nil, func() {}, nil
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	sinks = append(sinks, store.NewPGSink(pool, logger))
	return sinks, pool, pool.Close, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func runServer() error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	if err := cfg.ValidateServe(); err != nil {
		return err
	}
	logger = newLogger(cfg, os.Stdout)

	ctx := context.Background()
	client := httpclient.New(logger, remoteFetchTimeout)

	asm, err := newAssembler(ctx, cfg, client, logger)
	if err != nil {
		return err
	}
	sink, pool, closePool, err := newSink(ctx, cfg, cfg.OutputDir, logger)
	if err != nil {
		return err
	}
	defer closePool()

	sc := api.ServerConfig{
		Logger:         logger,
		CORSOrigins:    cfg.CORSOrigins,
		BodyLimit:      cfg.BodyLimit,
		Auth:           authMiddleware(cfg, client, logger),
		RequestTimeout: cfg.RequestTimeout,
		RateLimit: middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			Burst:             cfg.RateLimitBurst,
		},
	}
	if pool != nil {
		sc.DB = pool
	}

	h := api.NewHandler(asm, api.Options{
		Dir:            cfg.NDJSONDir,
		AutoType:       cfg.AutoType,
		AutoTypeFilter: cfg.AutoTypeFilter,
		Sink:           sink,
	}, logger)
	e := api.NewServer(h, sc)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("dir", cfg.NDJSONDir).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

func authMiddleware(cfg *config.Config, client *http.Client, logger zerolog.Logger) echo.MiddlewareFunc {
	if !cfg.HasAuth() {
		logger.Warn().Msg("no token validation configured, every request runs as the development user")
		return auth.DevAuthMiddleware()
	}
	return auth.JWTMiddleware(auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		JWKSURL:    cfg.AuthJWKSURL,
		SigningKey: []byte(cfg.AuthSigningKey),
		HTTPClient: client,
		Logger:     logger,
		Skipper:    auth.PublicSkipper,
	})
}
