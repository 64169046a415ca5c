package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/jma1ice/newsletterr/internal/analytics"
	"github.com/jma1ice/newsletterr/internal/api"
	"github.com/jma1ice/newsletterr/internal/background"
	"github.com/jma1ice/newsletterr/internal/charts"
	"github.com/jma1ice/newsletterr/internal/config"
	"github.com/jma1ice/newsletterr/internal/delivery"
	"github.com/jma1ice/newsletterr/internal/dispatcher"
	"github.com/jma1ice/newsletterr/internal/logging"
	"github.com/jma1ice/newsletterr/internal/metrics"
	"github.com/jma1ice/newsletterr/internal/statscache"
	"github.com/jma1ice/newsletterr/internal/store/sqlite"
	"github.com/jma1ice/newsletterr/internal/updates"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	cmd := os.Args[1]

	switch cmd {
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`newsletterrd - recurring newsletter scheduler

Usage:
  newsletterrd <command>

Commands:
  serve      Start the scheduler, dispatch loop and API
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  DATABASE_PATH             SQLite database file (default: "newsletterr.db")
  MAILER_URL                Mailer send endpoint (required)
  MAILER_SECRET             HMAC secret for signing send requests (optional)
  MAILER_TIMEOUT            Per-send request timeout (default: "30s")
  REDIS_ADDR                Redis address for send analytics (optional)
  HTTP_ADDR                 HTTP server address (default: ":8080")
  TICK_INTERVAL             Dispatch loop tick interval (default: "60s")

  DB_BUSY_TIMEOUT           SQLite busy timeout (default: "5s")
  HTTP_SHUTDOWN_TIMEOUT     Graceful HTTP shutdown timeout (default: "10s")

  STATS_REFRESH_INTERVAL    Dashboard stats refresh cadence (default: "1m")
  STATS_TTL                 How long cached stats stay servable (default: "5m")

  UPDATE_CHECK_URL          Release endpoint for update checks (optional)
  UPDATE_CHECK_INTERVAL     Update check cadence (default: "24h")

  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")
  METRICS_ADDR              Metrics server address (default: ":9090")

  LOG_LEVEL                 trace|debug|info|warn|error (default: "info")`)
}

func runServe() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	log := logging.New(cfg.LogLevel)
	log.Info().Str("version", version).Str("db", cfg.DatabasePath).Msg("starting")

	store, err := sqlite.Open(sqlite.Config{
		Path:        cfg.DatabasePath,
		BusyTimeout: cfg.DBBusyTimeout,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to open database")
		return exitRuntimeError
	}
	defer store.Close()

	mailer := delivery.NewHTTPMailer(cfg.MailerURL, cfg.MailerSecret, cfg.MailerTimeout)

	// Metrics sink and server (optional)
	var metricsSink *metrics.PrometheusSink
	var metricsServer *http.Server

	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer, log)
		log.Info().Str("addr", cfg.MetricsAddr).Str("path", cfg.MetricsPath).Msg("metrics enabled")

		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.MetricsPath, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: metricsMux,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("metrics server error")
			}
		}()
	} else {
		log.Info().Msg("METRICS_ENABLED not set; metrics disabled")
	}

	disp := dispatcher.New(
		dispatcher.Config{TickInterval: cfg.TickInterval},
		store,
		mailer,
		log,
	)
	if metricsSink != nil {
		disp = disp.WithMetrics(metricsSink)
	}

	// Wire analytics if Redis is configured
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})
		sink := analytics.NewRedisSink(redisClient, analytics.DefaultRetention)
		disp = disp.WithAnalytics(sink)
		log.Info().Str("redis", cfg.RedisAddr).Msg("analytics enabled")
	} else {
		log.Info().Msg("REDIS_ADDR not set; analytics disabled")
	}

	// Background tasks: stats refresh, optional update checks
	cache := statscache.New(cfg.StatsTTL)
	refresher := statscache.NewRefresher(cache, log, statsSources(store)...)

	runner := background.NewRunner(log)
	if metricsSink != nil {
		runner = runner.WithMetrics(metricsSink)
	}
	if err := runner.Add(background.Task{
		Name:  "stats-refresh",
		Every: cfg.StatsRefreshInterval,
		Run:   refresher.Refresh,
	}); err != nil {
		log.Error().Err(err).Msg("failed to register stats refresh task")
		return exitRuntimeError
	}

	if cfg.UpdateCheckURL != "" {
		checker := updates.NewChecker(cfg.UpdateCheckURL, version, log)
		if err := runner.Add(background.Task{
			Name:  "update-check",
			Every: cfg.UpdateCheckInterval,
			Run:   checker.Check,
		}); err != nil {
			log.Error().Err(err).Msg("failed to register update check task")
			return exitRuntimeError
		}
	} else {
		log.Info().Msg("UPDATE_CHECK_URL not set; update checks disabled")
	}

	apiHandler := api.NewHandler(store, log).
		WithHealthChecker(store).
		WithStats(cache, statTotals, statUpcoming).
		WithCharts(charts.NewSerialized(charts.NewSVGCapturer()))

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: apiHandler,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http server error")
		}
	}()

	dispatchCtx, cancelDispatch := context.WithCancel(context.Background())
	runnerCtx, cancelRunner := context.WithCancel(context.Background())

	var dispatchWg, runnerWg sync.WaitGroup

	dispatchWg.Add(1)
	go func() {
		defer dispatchWg.Done()
		if err := disp.Run(dispatchCtx); err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("dispatch loop error")
		}
	}()

	runnerWg.Add(1)
	go func() {
		defer runnerWg.Done()
		runner.Start(runnerCtx)
	}()

	log.Info().
		Dur("tick", cfg.TickInterval).
		Str("http", cfg.HTTPAddr).
		Msg("started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Info().Str("signal", received.String()).Msg("shutting down")

	// Stop the dispatch loop first so no new sends begin.
	cancelDispatch()
	dispatchWg.Wait()
	log.Info().Msg("dispatch loop stopped")

	cancelRunner()
	runnerWg.Wait()
	log.Info().Msg("background runner stopped")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}
	log.Info().Msg("http server stopped")

	if metricsServer != nil {
		metricsShutdownCtx, metricsShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer metricsShutdownCancel()
		if err := metricsServer.Shutdown(metricsShutdownCtx); err != nil {
			log.Error().Err(err).Msg("metrics server shutdown error")
		}
		log.Info().Msg("metrics server stopped")
	}

	log.Info().Msg("stopped")
	return exitSuccess
}

// Stat cache keys served on /stats.
const (
	statTotals   = "totals"
	statUpcoming = "upcoming"
)

func statsSources(store *sqlite.Store) []statscache.Source {
	return []statscache.Source{
		{
			Key: statTotals,
			Compute: func(ctx context.Context) (any, error) {
				schedules, err := store.ListSchedules(ctx)
				if err != nil {
					return nil, err
				}
				lists, err := store.Lists(ctx)
				if err != nil {
					return nil, err
				}
				templates, err := store.Templates(ctx)
				if err != nil {
					return nil, err
				}
				active := 0
				for _, s := range schedules {
					if s.Active {
						active++
					}
				}
				return map[string]int{
					"schedules":        len(schedules),
					"active_schedules": active,
					"lists":            len(lists),
					"templates":        len(templates),
				}, nil
			},
		},
		{
			Key: statUpcoming,
			Compute: func(ctx context.Context) (any, error) {
				active, err := store.ActiveSchedules(ctx)
				if err != nil {
					return nil, err
				}
				type upcoming struct {
					ID       string `json:"id"`
					Name     string `json:"name"`
					NextSend string `json:"next_send"`
				}
				out := make([]upcoming, len(active))
				for i, s := range active {
					out[i] = upcoming{
						ID:       s.ID.String(),
						Name:     s.Name,
						NextSend: s.NextSend.UTC().Format(time.RFC3339),
					}
				}
				return out, nil
			},
		},
	}
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("newsletterrd version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
