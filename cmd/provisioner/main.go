package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/terminal-bench/cyclemint/internal/alerts"
	"github.com/terminal-bench/cyclemint/internal/conversion"
	"github.com/terminal-bench/cyclemint/internal/gateway"
	"github.com/terminal-bench/cyclemint/internal/ledger"
	"github.com/terminal-bench/cyclemint/internal/network"
	"github.com/terminal-bench/cyclemint/internal/oracle"
	"github.com/terminal-bench/cyclemint/internal/saga"
	"github.com/terminal-bench/cyclemint/internal/txstore"
	"github.com/terminal-bench/cyclemint/internal/verify"
	"github.com/terminal-bench/cyclemint/pkg/lock"
	"github.com/terminal-bench/cyclemint/pkg/messaging"
	"github.com/terminal-bench/cyclemint/pkg/telemetry"
)

func main() {
	port := envOr("PORT", "8010")
	dbURL := os.Getenv("DATABASE_URL")
	redisURL := os.Getenv("REDIS_URL")
	natsURL := envOr("NATS_URL", "nats://localhost:4222")

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	natsClient, err := messaging.NewClient(messaging.Config{
		URL:            natsURL,
		Name:           "provisioner",
		ReconnectWait:  time.Second,
		MaxReconnects:  10,
		ConnectTimeout: 5 * time.Second,
	})
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer natsClient.Close()
	if natsClient.IsConnected() {
		log.Printf("Connected to NATS at %s", natsURL)
	}

	// Surface reconciliation cases in the service log as they happen;
	// the txstore query covers anything missed while down.
	alertListener := alerts.NewListener(natsClient, nil)
	if err := alertListener.Start(); err != nil {
		log.Fatalf("Failed to subscribe to reconciliation events: %v", err)
	}

	var oracleCache oracle.Cache
	if redisURL != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisURL})
		oracleCache = oracle.NewRedisCache(rdb)
	}

	oracleClient := oracle.NewClient(oracle.Config{
		PriceURL: os.Getenv("PRICE_ORACLE_URL"),
		RateURL:  os.Getenv("RATE_ORACLE_URL"),
		PriceTTL: envDuration("PRICE_TTL", time.Minute),
		RateTTL:  envDuration("RATE_TTL", 5*time.Minute),
		Cache:    oracleCache,
		Events:   natsClient,
	})
	engine := conversion.NewEngine(oracleClient, envDuration("PRICE_MAX_AGE", 2*time.Minute))

	netClient := network.NewClient(network.Config{
		TreasuryURL: os.Getenv("TREASURY_URL"),
		MinterURL:   os.Getenv("MINTER_URL"),
		BalanceURL:  os.Getenv("BALANCE_URL"),
	})

	var creditLedger ledger.Ledger = ledger.NewPostgres(db)
	creditLedger = ledger.NewEvented(creditLedger, natsClient)
	store := txstore.NewPostgres(db)

	// Multi-replica deployments coordinate per-target exclusivity
	// through etcd; a single replica gets by with the local locker.
	var locks lock.Locker = lock.NewLocal()
	if raw := os.Getenv("ETCD_ENDPOINTS"); raw != "" {
		endpoints := strings.Split(raw, ",")
		for i := range endpoints {
			endpoints[i] = strings.TrimSpace(endpoints[i])
		}
		etcdClient, err := clientv3.New(clientv3.Config{
			Endpoints:   endpoints,
			DialTimeout: 5 * time.Second,
		})
		if err != nil {
			log.Fatalf("Failed to connect to etcd: %v", err)
		}
		defer etcdClient.Close()
		locks = lock.NewEtcd(etcdClient, "/cyclemint/targets", 180)
	}

	observers := []saga.Observer{
		txstore.NewRecorder(store),
		saga.NewEmitter(natsClient),
	}
	if influxURL := os.Getenv("INFLUX_URL"); influxURL != "" {
		recorder := telemetry.NewRecorder(
			influxURL,
			os.Getenv("INFLUX_TOKEN"),
			envOr("INFLUX_ORG", "cyclemint"),
			envOr("INFLUX_BUCKET", "provisioning"),
		)
		defer recorder.Close()
		observers = append(observers, recorder)
	}

	poller := verify.NewPoller(netClient, envDuration("VERIFY_INTERVAL", verify.DefaultInterval))
	orch := saga.NewOrchestrator(
		creditLedger, netClient, netClient, netClient, poller, locks,
		saga.Config{
			TransferTimeout: envDuration("TRANSFER_TIMEOUT", 30*time.Second),
			NotifyTimeout:   envDuration("NOTIFY_TIMEOUT", 15*time.Second),
			VerifyMaxWait:   envDuration("VERIFY_MAX_WAIT", 90*time.Second),
		},
		observers...,
	)

	gw := gateway.NewGateway(gateway.Config{
		RateLimitMax:    envInt("RATE_LIMIT_MAX", 60),
		RateLimitWindow: envDuration("RATE_LIMIT_WINDOW", time.Minute),
	}, creditLedger, store, engine, orch)

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: gw.Handler(),
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	if err := alertListener.Stop(); err != nil {
		log.Printf("Failed to stop alert listener: %v", err)
	}
	// Let in-flight event handlers finish before the deferred Close.
	if err := natsClient.Drain(); err != nil {
		log.Printf("Failed to drain NATS: %v", err)
	}

	db.Close()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
