// Command seed_catalog loads evolution criteria and variants from a YAML
// file into PostgreSQL.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/R3E-Network/rewards_layer/internal/app/services/evolution"
	"github.com/R3E-Network/rewards_layer/internal/app/storage/postgres"
	"github.com/R3E-Network/rewards_layer/internal/config"
	"github.com/R3E-Network/rewards_layer/internal/platform/migrations"
)

func main() {
	var (
		catalogPath = flag.String("catalog", "./config/catalog.yaml", "Path to the catalog YAML file")
		envFile     = flag.String("env", "", "Optional .env file providing DATABASE_URL")
		dsn         = flag.String("dsn", "", "Postgres DSN (defaults to DATABASE_URL)")
		migrate     = flag.Bool("migrate", true, "Apply schema migrations before seeding")
		dryRun      = flag.Bool("dry-run", false, "Validate the catalog without writing")
	)
	flag.Parse()

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			log.Fatalf("load env (%s): %v", *envFile, err)
		}
	}
	if *dsn == "" {
		*dsn = os.Getenv("DATABASE_URL")
	}

	cat, err := config.LoadCatalogFromPath(*catalogPath)
	if err != nil {
		log.Fatalf("read catalog: %v", err)
	}
	if _, err := evolution.NewSnapshot(cat); err != nil {
		log.Fatalf("invalid catalog: %v", err)
	}
	log.Printf("catalog %s: %d criteria, %d variants", *catalogPath, len(cat.Criteria), len(cat.Variants))
	if *dryRun {
		return
	}
	if *dsn == "" {
		log.Fatalf("DATABASE_URL or -dsn is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := sql.Open("postgres", *dsn)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("ping database: %v", err)
	}

	if *migrate {
		if err := migrations.Apply(ctx, db); err != nil {
			log.Fatalf("apply migrations: %v", err)
		}
	}

	store := postgres.New(db)
	for _, c := range cat.Criteria {
		if _, err := store.UpsertCriteria(ctx, c); err != nil {
			log.Fatalf("upsert criteria %s: %v", c.BasePositionID, err)
		}
	}
	for _, v := range cat.Variants {
		if _, err := store.UpsertVariant(ctx, v); err != nil {
			log.Fatalf("upsert variant %s: %v", v.ID, err)
		}
	}
	log.Println("catalog seeded")
}
