// gridcastd is the forecast API server daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/xtxerr/gridcast/internal/cache"
	"github.com/xtxerr/gridcast/internal/config"
	"github.com/xtxerr/gridcast/internal/forecast"
	"github.com/xtxerr/gridcast/internal/logging"
	"github.com/xtxerr/gridcast/internal/query"
	"github.com/xtxerr/gridcast/internal/server"
	"github.com/xtxerr/gridcast/internal/storage"
	"github.com/xtxerr/gridcast/internal/storage/duck"
	"github.com/xtxerr/gridcast/internal/storage/parquetdir"
	"github.com/xtxerr/gridcast/internal/storage/s3remote"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfgPath := flag.String("config", "", "config file path")
	listen := flag.String("listen", "", "listen address (overrides config)")
	backendKind := flag.String("backend", "", "backend kind: parquet, duckdb, s3 or sample (overrides config)")
	dataDir := flag.String("data", "", "parquet data directory (overrides config)")
	dbPath := flag.String("db", "", "duckdb database path (overrides config)")
	apiKey := flag.String("api-key", "", "shared API key (or GRIDCAST_SERVER_API_KEY env)")
	sample := flag.Bool("sample", false, "serve deterministic sample data (shorthand for -backend sample)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gridcastd: %v\n", err)
		os.Exit(1)
	}

	// CLI overrides
	if *listen != "" {
		cfg.Server.Listen = *listen
	}
	if *backendKind != "" {
		cfg.Backend.Kind = *backendKind
	}
	if *sample {
		cfg.Backend.Kind = config.KindSample
	}
	if *dataDir != "" {
		cfg.Backend.Parquet.Dir = *dataDir
	}
	if *dbPath != "" {
		cfg.Backend.DuckDB.Path = *dbPath
	}
	if *apiKey != "" {
		cfg.Server.APIKey = *apiKey
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "gridcastd: %v\n", err)
		os.Exit(1)
	}

	logging.Init(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.JSON)
	log := logging.Component("main")
	log.Info("gridcastd starting", "version", Version, "backend", cfg.Backend.Kind)

	backend, err := openBackend(cfg)
	if err != nil {
		log.Error("open backend", "error", err)
		os.Exit(1)
	}
	if closer, ok := backend.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	engine := query.NewEngine(backend, cache.New(cfg.Cache.TTL))
	srv := server.New(engine, cfg.Server.APIKey)
	if cfg.Server.APIKey == "" {
		log.Warn("no API key configured, endpoints are open")
	}

	httpSrv := &http.Server{
		Addr:         cfg.Server.Listen,
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info("listening", "addr", cfg.Server.Listen, "backend", backend.ID())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		log.Warn("shutdown incomplete", "error", err)
	}
	log.Info("stopped")
}

// openBackend builds the configured storage backend.
func openBackend(cfg config.Config) (storage.Backend, error) {
	switch cfg.Backend.Kind {
	case config.KindParquet:
		return parquetdir.New(cfg.Backend.Parquet.Dir)

	case config.KindDuckDB:
		return duck.New(duck.Config{
			Path:         cfg.Backend.DuckDB.Path,
			QueryTimeout: cfg.Backend.DuckDB.QueryTimeout,
		})

	case config.KindS3:
		awsCfg, err := loadAWSConfig(cfg.Backend.S3.Region)
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
		return s3remote.New(s3.NewFromConfig(awsCfg), s3remote.Config{
			Bucket:        cfg.Backend.S3.Bucket,
			Prefix:        cfg.Backend.S3.Prefix,
			Key:           cfg.Backend.S3.Key,
			MaxAttempts:   cfg.Backend.S3.MaxAttempts,
			RetryBaseWait: cfg.Backend.S3.RetryBaseWait,
			OpTimeout:     cfg.Backend.S3.OpTimeout,
		}), nil

	case config.KindSample:
		records := forecast.GenerateSample(forecast.UpcomingMonths(6), 6)
		return storage.NewMemory("sample", records), nil

	default:
		return nil, fmt.Errorf("unknown backend kind %q", cfg.Backend.Kind)
	}
}

func loadAWSConfig(region string) (awsCfg aws.Config, err error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	return awsconfig.LoadDefaultConfig(context.Background(), opts...)
}
