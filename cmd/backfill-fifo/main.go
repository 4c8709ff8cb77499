package main

import (
	"context"
	"flag"
	"os"

	"petstore-erp/internal/cache"
	"petstore-erp/internal/core"
	"petstore-erp/internal/db"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	batch := flag.Int("batch", 50, "orders to migrate per pass")
	loop := flag.Bool("loop", false, "keep running passes until no order migrates")
	flag.Parse()

	_ = godotenv.Load()

	log := logrus.New()
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
	migration := core.NewMigrationService(pool, movements, flags, log)

	totalMigrated, totalSkipped := 0, 0
	for {
		migrated, skipped, err := migration.MigrateLegacyOrders(ctx, *batch)
		if err != nil {
			log.Fatalf("backfill: %v", err)
		}
		totalMigrated += migrated
		totalSkipped += skipped
		log.WithFields(logrus.Fields{
			"migrated": migrated,
			"skipped":  skipped,
		}).Info("backfill pass complete")
		if !*loop || migrated == 0 {
			break
		}
	}

	log.WithFields(logrus.Fields{
		"migrated": totalMigrated,
		"skipped":  totalSkipped,
	}).Info("backfill finished")
}
