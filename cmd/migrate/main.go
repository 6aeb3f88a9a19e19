package main

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	"callcenter/internal/config"
	"callcenter/pkg/logger"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

const validArgsLen = 2

// Applies migrations/ to the audit database: migrate up | down | version.
func main() {
	if len(os.Args) < validArgsLen {
		slog.Error("usage: migrate up | down | version")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}
	log := logger.New(cfg.App.Env)

	if !cfg.DatabaseEnabled() {
		log.Error("DB_HOST is not set; nothing to migrate")
		os.Exit(1)
	}

	dir, err := filepath.Abs("migrations")
	if err != nil {
		log.Error("resolve migrations dir failed", "err", err)
		os.Exit(1)
	}

	migrator, err := migrate.New("file://"+filepath.ToSlash(dir), cfg.PostgresURL())
	if err != nil {
		log.Error("migrator init failed", "err", err)
		os.Exit(1)
	}
	defer func() {
		srcErr, dbErr := migrator.Close()
		if srcErr != nil || dbErr != nil {
			log.Warn("migrator close failed", "source_err", srcErr, "db_err", dbErr)
		}
	}()

	switch os.Args[1] {
	case "up":
		err = migrator.Up()
	case "down":
		err = migrator.Steps(-1)
	case "version":
	default:
		log.Error("unknown command", "command", os.Args[1])
		os.Exit(2)
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Error("migration failed", "command", os.Args[1], "err", err)
		os.Exit(1)
	}

	version, dirty, verr := migrator.Version()
	if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
		log.Error("read version failed", "err", verr)
		os.Exit(1)
	}
	log.Info("migration complete", "command", os.Args[1], "version", version, "dirty", dirty)
}
