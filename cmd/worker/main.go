// Command worker runs the dispatch loop without the API server, for scaling
// delivery independently of the HTTP surface. Any number of workers can share
// a database; the claim protocol partitions due jobs between them.
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
	"github.com/sendlater/sendlater/internal/backoff"
	"github.com/sendlater/sendlater/internal/config"
	"github.com/sendlater/sendlater/internal/dispatcher"
	"github.com/sendlater/sendlater/internal/metrics"
	"github.com/sendlater/sendlater/internal/store/postgres"
	"github.com/sendlater/sendlater/internal/transport/gmail"

	_ "github.com/lib/pq"
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := godotenv.Load(); err == nil {
		log.Println("worker: loaded .env")
	}

	cfg := config.Load()
	cfg.DispatchEnabled = true // a worker exists only to dispatch

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 2
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		return 1
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
		return 1
	}

	st := postgres.New(db, cfg.DBOpTimeout)
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

	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		sink := metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		disp = disp.WithMetrics(sink)

		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.MetricsPath, promhttp.Handler())
		metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}
		go func() {
			log.Printf("worker: metrics server listening on %s", cfg.MetricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("worker: metrics server error: %v", err)
			}
		}()
	}

	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		disp = disp.WithAnalytics(analytics.NewRedisSink(redisClient))
		log.Printf("worker: analytics enabled (redis=%s)", cfg.RedisAddr)
	} else {
		log.Println("worker: REDIS_ADDR not set; analytics disabled")
	}

	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		disp.Run(dispatcherCtx)
	}()

	log.Printf("worker: started (instance=%s, tick=%s)", disp.InstanceID(), cfg.TickInterval)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Printf("worker: received signal %v, shutting down", received)

	log.Println("worker: stopping dispatcher (draining sends)...")
	cancelDispatcher()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Println("worker: dispatcher stopped")
	case <-time.After(cfg.DispatcherDrainTimeout):
		log.Printf("worker: dispatcher drain exceeded %s; leases will expire and re-arm", cfg.DispatcherDrainTimeout)
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("worker: metrics server shutdown error: %v", err)
		}
	}

	log.Println("worker: stopped")
	return 0
}
