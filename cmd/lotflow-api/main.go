// lotflow-api serves the lot tracking workflow over HTTP.
//
// Configuration comes from LOTFLOW_* environment variables; the flags below
// override the most common ones. "lotflow-api token" mints a bearer token
// for local testing against the configured JWT secret.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/pflag"

	"github.com/yourorg/lotflow/internal/auth"
	"github.com/yourorg/lotflow/internal/clock"
	"github.com/yourorg/lotflow/internal/evidence"
	"github.com/yourorg/lotflow/internal/httpapi"
	"github.com/yourorg/lotflow/internal/label"
	"github.com/yourorg/lotflow/internal/lot"
	"github.com/yourorg/lotflow/internal/store"
	"github.com/yourorg/lotflow/internal/store/lotlock"
	"github.com/yourorg/lotflow/internal/store/memstore"
	"github.com/yourorg/lotflow/internal/store/sqlstore"
	"github.com/yourorg/lotflow/internal/workflow"
)

type storeConfig struct {
	Driver     string `env:"STORE" envDefault:"sqlite"`
	SQLitePath string `env:"SQLITE_PATH" envDefault:"lotflow.db"`
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) > 0 && args[0] == "token" {
		return mintToken(args[1:])
	}

	httpCfg, err := httpapi.LoadConfig()
	if err != nil {
		return err
	}
	wfCfg, err := workflow.LoadConfig()
	if err != nil {
		return err
	}
	storeCfg, err := env.ParseAsWithOptions[storeConfig](env.Options{Prefix: "LOTFLOW_"})
	if err != nil {
		return fmt.Errorf("parse store env: %w", err)
	}

	flags := pflag.NewFlagSet("lotflow-api", pflag.ContinueOnError)
	flags.StringVar(&httpCfg.Addr, "addr", httpCfg.Addr, "listen address")
	flags.StringVar(&storeCfg.Driver, "store", storeCfg.Driver, "store driver: memory, sqlite or postgres")
	flags.StringVar(&storeCfg.SQLitePath, "sqlite-path", storeCfg.SQLitePath, "SQLite database file")
	flags.StringVar(&wfCfg.PolicyFile, "policy", wfCfg.PolicyFile, "issuer policy YAML file")
	logLevel := flags.String("log-level", "info", "debug, info, warn or error")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, storeCfg)
	if err != nil {
		return err
	}
	defer st.Close()

	opts := []workflow.Option{workflow.WithLogger(logger)}

	lockCfg, err := env.ParseAsWithOptions[lotlock.Config](env.Options{Prefix: "LOTFLOW_REDIS_"})
	if err != nil {
		return fmt.Errorf("parse redis env: %w", err)
	}
	if lockCfg.Addr != "" {
		locker, err := lotlock.New(ctx, lockCfg, logger)
		if err != nil {
			return err
		}
		defer locker.Close()
		opts = append(opts, workflow.WithLocker(locker))
		logger.Info("redis lot locking enabled", "addr", lockCfg.Addr)
	}

	evCfg, err := evidence.LoadConfig()
	if err != nil {
		return err
	}
	evidenceStore, evOpts, err := setupEvidence(ctx, evCfg, logger)
	if err != nil {
		return err
	}
	opts = append(opts, evOpts...)

	if wfCfg.PolicyFile != "" {
		policy, err := workflow.LoadPolicy(wfCfg.PolicyFile)
		if err != nil {
			return err
		}
		opts = append(opts, workflow.WithPolicy(policy))
	}
	engine := workflow.NewEngine(st, wfCfg, opts...)

	authCfg, err := auth.LoadConfig()
	if err != nil {
		return err
	}
	jwtResolver, err := auth.NewJWTResolver([]byte(authCfg.JWTSecret), authCfg.JWTIssuer, authCfg.JWTLeeway, nil)
	if err != nil {
		return fmt.Errorf("jwt: %w", err)
	}
	keys := auth.NewInMemoryKeyStore(authCfg, nil)
	authn := auth.NewAuthenticator(jwtResolver, keys,
		auth.NewRateLimiter(authCfg.FailuresPerMinute, time.Minute, nil), logger)

	labelCfg, err := label.LoadConfig()
	if err != nil {
		return err
	}

	srv := httpapi.New(httpCfg, httpapi.Deps{
		Engine:       engine,
		Auth:         authn,
		Keys:         keys,
		Evidence:     evidenceStore,
		Renderer:     label.NewPDFRenderer(labelCfg),
		LabelBaseURL: labelCfg.BaseURL,
		Clock:        clock.Real(),
		Logger:       logger,
	})
	httpServer := srv.HTTPServer()

	go workflow.NewSweeper(engine, wfCfg.SweepInterval, 4).Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("lotflow api listening", "addr", httpCfg.Addr, "store", storeCfg.Driver)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpCfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func openStore(ctx context.Context, cfg storeConfig) (store.Store, error) {
	switch cfg.Driver {
	case "memory":
		return memstore.New(), nil
	case "sqlite":
		return sqlstore.OpenSQLite(ctx, cfg.SQLitePath)
	case "postgres":
		pgCfg, err := env.ParseAsWithOptions[sqlstore.PostgresConfig](env.Options{Prefix: "LOTFLOW_POSTGRES_"})
		if err != nil {
			return nil, fmt.Errorf("parse postgres env: %w", err)
		}
		return sqlstore.OpenPostgres(ctx, pgCfg)
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

// setupEvidence picks the photo store. Uploaded keys are only checked for
// existence against MinIO; the in-memory fallback cannot receive uploads.
func setupEvidence(ctx context.Context, cfg evidence.Config, logger *slog.Logger) (evidence.Storage, []workflow.Option, error) {
	if !cfg.Enabled() {
		logger.Warn("LOTFLOW_MINIO_ENDPOINT not set; evidence uploads are not stored and photo keys are not checked")
		return evidence.NewInMemoryStorage(), nil, nil
	}
	ms, err := evidence.NewMinioStorage(cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := ms.EnsureBucket(ctx, cfg.Region); err != nil {
		return nil, nil, err
	}
	logger.Info("minio evidence storage enabled", "endpoint", cfg.Endpoint, "bucket", cfg.Bucket)
	return ms, []workflow.Option{workflow.WithEvidence(ms)}, nil
}

// mintToken prints a signed bearer token for the given actor.
func mintToken(args []string) error {
	flags := pflag.NewFlagSet("lotflow-api token", pflag.ContinueOnError)
	actorID := flags.String("actor", "", "actor id (required)")
	name := flags.String("name", "", "display name")
	role := flags.String("role", string(lot.RoleVendor), "vendor, depot-staff, track-worker, inspector or admin")
	ttl := flags.Duration("ttl", time.Hour, "token lifetime")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if *actorID == "" {
		return errors.New("--actor is required")
	}
	r := lot.Role(*role)
	if !r.Valid() {
		return fmt.Errorf("unknown role %q", *role)
	}

	authCfg, err := auth.LoadConfig()
	if err != nil {
		return err
	}
	jr, err := auth.NewJWTResolver([]byte(authCfg.JWTSecret), authCfg.JWTIssuer, authCfg.JWTLeeway, nil)
	if err != nil {
		return fmt.Errorf("jwt: %w", err)
	}
	display := *name
	if display == "" {
		display = *actorID
	}
	tok, err := jr.Issue(auth.Identity{ActorID: *actorID, DisplayName: display, Role: r}, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}
