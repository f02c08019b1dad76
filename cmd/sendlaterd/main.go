package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/sendlater/sendlater/internal/analytics"
	"github.com/sendlater/sendlater/internal/api"
	"github.com/sendlater/sendlater/internal/backoff"
	"github.com/sendlater/sendlater/internal/config"
	"github.com/sendlater/sendlater/internal/dispatcher"
	"github.com/sendlater/sendlater/internal/identity"
	"github.com/sendlater/sendlater/internal/leaderelection"
	"github.com/sendlater/sendlater/internal/metrics"
	"github.com/sendlater/sendlater/internal/store/postgres"
	"github.com/sendlater/sendlater/internal/transport/gmail"

	_ "github.com/lib/pq"
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
	fmt.Println(`sendlaterd - scheduled email dispatch engine

Usage:
  sendlaterd <command>

Commands:
  serve      Start the API server and dispatch loop
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  DATABASE_URL              PostgreSQL connection string (required)
  JWT_SECRET                HS256 secret for API bearer tokens (required)
  GOOGLE_CLIENT_ID          OAuth client id for the mail provider
  GOOGLE_CLIENT_SECRET      OAuth client secret for the mail provider
  REDIS_ADDR                Redis address for delivery analytics (optional)
  HTTP_ADDR                 HTTP server address (default: ":8080")

  DISPATCH_ENABLED          Run the dispatch loop (default: "true")
  TICK_INTERVAL             Dispatch poll interval (default: "15s")
  BATCH_SIZE                Max jobs claimed per cycle (default: "50")
  LEASE_DURATION            Claim lease length (default: "2m")
  SEND_TIMEOUT              Per-attempt transport timeout (default: "30s")
  DISPATCHER_WORKERS        Concurrent sends per cycle (default: "4")
  BACKOFF_BASE              First retry delay (default: "1m")
  BACKOFF_MAX               Retry delay ceiling (default: "1h")

  DB_OP_TIMEOUT             Database operation timeout (default: "5s")
  DB_MAX_OPEN_CONNS         Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS         Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME      Max connection lifetime (default: "30m")
  DB_CONN_MAX_IDLE_TIME     Max connection idle time (default: "5m")

  HTTP_SHUTDOWN_TIMEOUT     Graceful HTTP shutdown timeout (default: "10s")
  DISPATCHER_DRAIN_TIMEOUT  In-flight send drain timeout (default: "30s")

  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  METRICS_ADDR              Metrics server address (default: ":9090")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")

  EXCLUSIVE_DISPATCH        Only the advisory-lock leader dispatches (default: "false")
  LEADER_LOCK_KEY           Advisory lock key shared by all instances
  LEADER_RETRY_INTERVAL     Follower lock retry interval (default: "5s")
  LEADER_HEARTBEAT_INTERVAL Leader connection ping interval (default: "2s")`)
}

func runServe() int {
	if err := godotenv.Load(); err == nil {
		log.Println("sendlaterd: loaded .env")
	}

	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	logConfigWarnings(&cfg)

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		return exitRuntimeError
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	log.Printf("sendlaterd: db pool configured (max_open=%d, max_idle=%d, max_lifetime=%s, max_idle_time=%s)",
		cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
		return exitRuntimeError
	}

	if err := probeJobsTable(db); err != nil {
		fmt.Fprintf(os.Stderr, "schema check failed (apply internal/store/postgres/schema.sql): %v\n", err)
		return exitRuntimeError
	}

	st := postgres.New(db, cfg.DBOpTimeout)

	// Initialize metrics sink (optional)
	var metricsSink *metrics.PrometheusSink
	var metricsServer *http.Server

	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		log.Printf("sendlaterd: metrics enabled (addr=%s, path=%s)", cfg.MetricsAddr, cfg.MetricsPath)

		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.MetricsPath, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: metricsMux,
		}
		go func() {
			log.Printf("sendlaterd: metrics server listening on %s", cfg.MetricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("sendlaterd: metrics server error: %v", err)
			}
		}()
	} else {
		log.Println("sendlaterd: METRICS_ENABLED not set; metrics disabled")
	}

	apiHandler := api.NewHandler(st).WithHealthChecker(db)
	if metricsSink != nil {
		apiHandler = apiHandler.WithMetrics(metricsSink)
	}

	// Health stays outside auth so probes don't need tokens.
	resolver := identity.NewResolver(cfg.JWTSecret)
	mux := http.NewServeMux()
	mux.Handle("/health", apiHandler)
	mux.Handle("/", identity.RequireAuth(resolver)(apiHandler))

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}

	go func() {
		log.Printf("sendlaterd: http server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("sendlaterd: http server error: %v", err)
		}
	}()

	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	var dispatcherWg sync.WaitGroup

	if cfg.DispatchEnabled {
		disp := buildDispatcher(cfg, st, db, metricsSink)

		if cfg.ExclusiveDispatch {
			// The elector starts and stops the loop as leadership moves.
			dispDone := make(chan struct{}, 1)
			elector := leaderelection.New(
				db,
				cfg.LeaderLockKey,
				cfg.LeaderRetryInterval,
				cfg.LeaderHeartbeatInterval,
				func(ctx context.Context) {
					disp.Run(ctx)
					dispDone <- struct{}{}
				},
				func() { <-dispDone },
			)
			if metricsSink != nil {
				elector = elector.WithMetrics(metricsSink)
			}
			dispatcherWg.Add(1)
			go func() {
				defer dispatcherWg.Done()
				elector.Run(dispatcherCtx)
			}()
			log.Printf("sendlaterd: exclusive dispatch enabled (lock_key=%d)", cfg.LeaderLockKey)
		} else {
			dispatcherWg.Add(1)
			go func() {
				defer dispatcherWg.Done()
				disp.Run(dispatcherCtx)
			}()
		}
	} else {
		log.Println("sendlaterd: DISPATCH_ENABLED=false; running API only")
	}

	log.Printf("sendlaterd: started (tick=%s, http=%s)", cfg.TickInterval, cfg.HTTPAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Printf("sendlaterd: received signal %v, shutting down", received)

	// Phase 1: Stop the dispatch loop; in-flight sends finish their
	// completion writes before the workers return.
	log.Println("sendlaterd: stopping dispatcher (draining sends)...")
	cancelDispatcher()
	if waitTimeout(&dispatcherWg, cfg.DispatcherDrainTimeout) {
		log.Println("sendlaterd: dispatcher stopped")
	} else {
		log.Printf("sendlaterd: dispatcher drain exceeded %s; leases will expire and re-arm", cfg.DispatcherDrainTimeout)
	}

	// Phase 2: Stop HTTP server with graceful shutdown
	log.Println("sendlaterd: stopping http server...")
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.Printf("sendlaterd: http server shutdown error: %v", err)
	}
	log.Println("sendlaterd: http server stopped")

	// Phase 3: Stop metrics server if running (with same timeout)
	if metricsServer != nil {
		log.Println("sendlaterd: stopping metrics server...")
		metricsShutdownCtx, metricsShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer metricsShutdownCancel()
		if err := metricsServer.Shutdown(metricsShutdownCtx); err != nil {
			log.Printf("sendlaterd: metrics server shutdown error: %v", err)
		}
		log.Println("sendlaterd: metrics server stopped")
	}

	log.Println("sendlaterd: stopped")
	return exitSuccess
}

// buildDispatcher wires the dispatch loop's transport, backoff policy and sinks.
func buildDispatcher(cfg config.Config, st *postgres.Store, db *sql.DB, metricsSink *metrics.PrometheusSink) *dispatcher.Dispatcher {
	creds := postgres.NewCredentialStore(db, cfg.DBOpTimeout)
	mailer := gmail.New(gmail.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
	}, creds)

	policy := backoff.New(cfg.BackoffBase, cfg.BackoffMax)

	disp := dispatcher.New(dispatcher.Config{
		TickInterval:  cfg.TickInterval,
		BatchSize:     cfg.BatchSize,
		LeaseDuration: cfg.LeaseDuration,
		SendTimeout:   cfg.SendTimeout,
		Workers:       cfg.DispatcherWorkers,
	}, st, mailer, policy)

	if metricsSink != nil {
		disp = disp.WithMetrics(metricsSink)
	}

	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})
		sink := analytics.NewRedisSink(redisClient)
		disp = disp.WithAnalytics(sink)
		log.Printf("sendlaterd: analytics enabled (redis=%s)", cfg.RedisAddr)
	} else {
		log.Println("sendlaterd: REDIS_ADDR not set; analytics disabled")
	}

	return disp
}

// probeJobsTable verifies the email_jobs table exists before serving traffic.
// Returns sql.ErrNoRows when the schema has not been applied.
func probeJobsTable(db *sql.DB) error {
	var one int
	return db.QueryRow(
		"SELECT 1 FROM information_schema.tables WHERE table_name = 'email_jobs'",
	).Scan(&one)
}

// waitTimeout waits for wg up to d. Returns false on timeout.
func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}

func runValidate() int {
	if err := godotenv.Load(); err == nil {
		log.Println("sendlaterd: loaded .env")
	}

	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	if err := godotenv.Load(); err == nil {
		log.Println("sendlaterd: loaded .env")
	}

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
	fmt.Printf("sendlaterd version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
