package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/sundayezeilo/linkshare/internal/config"
	"github.com/sundayezeilo/linkshare/internal/db/migrations"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	steps := flag.Int("steps", 0, "apply n migrations (negative rolls back); 0 applies all pending")
	envFile := flag.String("env-file", "", "optional .env file to load first")
	flag.Parse()

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
	}

	// Only the database section is needed; the server's other settings are not required here.
	var dbCfg config.DatabaseConfig
	if err := envconfig.Process("", &dbCfg); err != nil {
		return fmt.Errorf("failed to load Database config: %w", err)
	}
	if err := dbCfg.Validate(); err != nil {
		return fmt.Errorf("invalid Database config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbCfg.ConnectionString())
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}

	if *steps == 0 {
		err = migrations.Up(pool)
	} else {
		err = migrations.Steps(pool, *steps)
	}
	if err != nil {
		return err
	}

	version, dirty, err := migrations.Version(pool)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	logger.Info("migrations applied", "version", version, "dirty", dirty, "database", dbCfg.Name)
	return nil
}
