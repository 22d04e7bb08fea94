package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"golang.org/x/time/rate"

	"github.com/giveconomy/givstream/indexer/pkg/clickhouse"
	"github.com/giveconomy/givstream/indexer/pkg/indexer"
	"github.com/giveconomy/givstream/indexer/pkg/metrics"
	"github.com/giveconomy/givstream/indexer/pkg/server"
	"github.com/giveconomy/givstream/indexer/pkg/subgraph"
	"github.com/giveconomy/givstream/utils/pkg/errtrack"
	"github.com/giveconomy/givstream/utils/pkg/logger"
	"github.com/giveconomy/givstream/utils/pkg/netconfig"
	"github.com/giveconomy/givstream/utils/pkg/retry"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	defaultListenAddr      = "0.0.0.0:3010"
	defaultMetricsAddr     = "0.0.0.0:0"
	defaultRefreshInterval = 60 * time.Second
	defaultConfigPath      = "networks.yaml"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	logFormatFlag := flag.String("log-format", "text", "log format: text or json")
	envFileFlag := flag.String("env-file", ".env", "optional dotenv file to load before reading environment variables")
	configFlag := flag.String("config", defaultConfigPath, "networks config file (or set GIVSTREAM_CONFIG env var)")
	listenAddrFlag := flag.String("listen-addr", defaultListenAddr, "HTTP server listen address")
	metricsAddrFlag := flag.String("metrics-addr", defaultMetricsAddr, "Address to listen on for prometheus metrics")
	refreshIntervalFlag := flag.Duration("refresh-interval", defaultRefreshInterval, "Token distro refresh interval")
	maxConcurrencyFlag := flag.Int("max-concurrency", 4, "Maximum networks refreshed concurrently")
	subgraphRateFlag := flag.Float64("subgraph-rate", 5, "Maximum subgraph requests per second")
	allowedOriginsFlag := flag.StringSlice("allowed-origins", nil, "CORS allowed origins (default any)")

	// ClickHouse configuration
	clickhouseAddrFlag := flag.String("clickhouse-addr", "", "ClickHouse address (host:port) (or set CLICKHOUSE_ADDR_TCP env var); empty disables release history")
	clickhouseDatabaseFlag := flag.String("clickhouse-database", "default", "ClickHouse database name (or set CLICKHOUSE_DATABASE env var)")
	clickhouseUsernameFlag := flag.String("clickhouse-username", "default", "ClickHouse username (or set CLICKHOUSE_USERNAME env var)")
	clickhousePasswordFlag := flag.String("clickhouse-password", "", "ClickHouse password (or set CLICKHOUSE_PASSWORD env var)")
	clickhouseSecureFlag := flag.Bool("clickhouse-secure", false, "Enable TLS for ClickHouse Cloud (or set CLICKHOUSE_SECURE=true env var)")
	clickhouseMigrateFlag := flag.Bool("clickhouse-migrate", true, "Run ClickHouse migrations on startup")

	// Sentry configuration
	sentryDSNFlag := flag.String("sentry-dsn", "", "Sentry DSN (or set SENTRY_DSN env var)")
	sentryEnvironmentFlag := flag.String("sentry-environment", "production", "Sentry environment (or set SENTRY_ENVIRONMENT env var)")

	flag.Parse()

	// A missing .env is fine.
	_ = godotenv.Load(*envFileFlag)

	format, err := logger.ParseFormat(*logFormatFlag)
	if err != nil {
		return err
	}
	log := logger.NewWithOptions(logger.Options{Verbose: *verboseFlag, Format: format})

	// Override flags with environment variables if set
	if envConfig := os.Getenv("GIVSTREAM_CONFIG"); envConfig != "" {
		*configFlag = envConfig
	}
	if envClickhouseAddr := os.Getenv("CLICKHOUSE_ADDR_TCP"); envClickhouseAddr != "" {
		*clickhouseAddrFlag = envClickhouseAddr
	}
	if envClickhouseDatabase := os.Getenv("CLICKHOUSE_DATABASE"); envClickhouseDatabase != "" {
		*clickhouseDatabaseFlag = envClickhouseDatabase
	}
	if envClickhouseUsername := os.Getenv("CLICKHOUSE_USERNAME"); envClickhouseUsername != "" {
		*clickhouseUsernameFlag = envClickhouseUsername
	}
	if envClickhousePassword := os.Getenv("CLICKHOUSE_PASSWORD"); envClickhousePassword != "" {
		*clickhousePasswordFlag = envClickhousePassword
	}
	if os.Getenv("CLICKHOUSE_SECURE") == "true" {
		*clickhouseSecureFlag = true
	}
	if envSentryDSN := os.Getenv("SENTRY_DSN"); envSentryDSN != "" {
		*sentryDSNFlag = envSentryDSN
	}
	if envSentryEnvironment := os.Getenv("SENTRY_ENVIRONMENT"); envSentryEnvironment != "" {
		*sentryEnvironmentFlag = envSentryEnvironment
	}

	networks, err := netconfig.Load(*configFlag)
	if err != nil {
		return err
	}
	log.Info("loaded networks config", "path", *configFlag, "networks", len(networks.Networks), "default_chain_id", networks.DefaultChainID)

	flushSentry, err := errtrack.Init(errtrack.Config{
		DSN:         *sentryDSNFlag,
		Environment: *sentryEnvironmentFlag,
		Release:     version,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize sentry: %w", err)
	}
	defer flushSentry()
	reporter := errtrack.NewSentryReporter(sentry.CurrentHub(), log)

	// Start metrics server
	if *metricsAddrFlag != "" {
		metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
		go func() {
			listener, err := net.Listen("tcp", *metricsAddrFlag)
			if err != nil {
				log.Error("failed to start prometheus metrics server listener", "error", err)
				return
			}
			log.Info("prometheus metrics server listening", "address", listener.Addr().String())
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.Serve(listener, mux); err != nil {
				log.Error("failed to start prometheus metrics server", "error", err)
			}
		}()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	source, err := subgraph.New(subgraph.Config{
		Logger:    log,
		Retry:     retry.DefaultConfig(),
		RateLimit: rate.Limit(*subgraphRateFlag),
	})
	if err != nil {
		return fmt.Errorf("failed to create subgraph client: %w", err)
	}

	var chClient clickhouse.Client
	if *clickhouseAddrFlag != "" {
		chConfig := clickhouse.Config{
			Addr:     *clickhouseAddrFlag,
			Database: *clickhouseDatabaseFlag,
			Username: *clickhouseUsernameFlag,
			Password: *clickhousePasswordFlag,
			Secure:   *clickhouseSecureFlag,
		}
		if *clickhouseMigrateFlag {
			if err := clickhouse.Up(ctx, log, chConfig); err != nil {
				return fmt.Errorf("failed to run ClickHouse migrations: %w", err)
			}
		}
		chClient, err = clickhouse.NewClient(ctx, log, chConfig)
		if err != nil {
			return fmt.Errorf("failed to create ClickHouse client: %w", err)
		}
	} else {
		log.Info("clickhouse address not set, release history disabled")
	}

	srv, err := server.New(ctx, server.Config{
		ListenAddr:        *listenAddrFlag,
		ReadHeaderTimeout: 30 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		AllowedOrigins:    *allowedOriginsFlag,
		VersionInfo: server.VersionInfo{
			Version: version,
			Commit:  commit,
			Date:    date,
		},
		IndexerConfig: indexer.Config{
			Logger:          log,
			Networks:        networks,
			Source:          source,
			RefreshInterval: *refreshIntervalFlag,
			MaxConcurrency:  *maxConcurrencyFlag,
			ClickHouse:      chClient,
			Reporter:        reporter,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	return srv.Run(ctx)
}
