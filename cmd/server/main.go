package main

import (
	"context"
	"net/http"
	"os"

	webAdapter "petstore-erp/internal/adapters/web"
	"petstore-erp/internal/cache"
	"petstore-erp/internal/core"
	"petstore-erp/internal/db"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	_ = godotenv.Load()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	if lvl, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		log.SetLevel(lvl)
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer pool.Close()

	var flags cache.FlagCache = cache.NoopFlagCache{}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		redisCache := cache.NewRedisFlagCache(addr, os.Getenv("REDIS_PASSWORD"), 0)
		if err := redisCache.Ping(ctx); err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer redisCache.Close()
		flags = redisCache
	}

	ledger := core.NewLotLedger(pool)
	policy := core.NewCostingPolicy(ledger)
	movements := core.NewMovementService(pool, ledger, policy)
	orders := core.NewOrderService(pool, movements, flags)
	migration := core.NewMigrationService(pool, movements, flags, log)

	defaultMode := core.ModeFIFOIfAvailable
	if os.Getenv("COSTING_MODE") == string(core.ModeLegacyOnly) {
		defaultMode = core.ModeLegacyOnly
	}

	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	handler := webAdapter.NewHandler(movements, orders, migration, ledger, defaultMode, allowedOrigins, log)

	log.WithField("port", port).Info("server starting")
	if err := http.ListenAndServe(":"+port, handler); err != nil {
		log.Fatalf("server: %v", err)
	}
}
