package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/Skotchmaster/football_stats/internal/config"
	"github.com/Skotchmaster/football_stats/migrations"
	pkgcfg "github.com/Skotchmaster/football_stats/pkg/config"
)

// usage: migrator [up|down|status|version|redo|reset] [args...]
func main() {
	cfg := config.Load()
	pkgcfg.MustNonEmpty(cfg.DatabaseURL, "DATABASE_URL")

	command := "up"
	var args []string
	if len(os.Args) > 1 {
		command = os.Args[1]
		args = os.Args[2:]
	}
	switch command {
	case "up", "down", "status", "version", "redo", "reset", "up-by-one", "up-to", "down-to":
	default:
		log.Fatalf("unknown command %q", command)
	}

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect(migrations.Dialect); err != nil {
		log.Fatalf("set dialect: %v", err)
	}

	db, err := goose.OpenDBWithDriver("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := goose.RunContext(ctx, command, db, ".", args...); err != nil {
		_ = db.Close()
		log.Fatalf("migrate %s: %v", command, err)
	}
	log.Printf("migrations: %s OK", command)
}
