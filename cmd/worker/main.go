// Worker purges dead sessions on a schedule. Run it when the server's in-process janitor is not enough,
// e.g. several server replicas sharing one database. Requires DATABASE_URL.
// Pass -once to purge a single time and exit (suitable for a cron job).
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"study-abroad-portal/backend/internal/config"
	"study-abroad-portal/backend/internal/db"
	sessionrepo "study-abroad-portal/backend/internal/session/repository"
	"study-abroad-portal/backend/internal/session/service"
)

func main() {
	once := flag.Bool("once", false, "Purge once and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("worker: DATABASE_URL is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("worker: db: %v", err)
	}
	defer conn.Close()

	janitor := service.NewJanitor(sessionrepo.NewPostgresRepository(conn), cfg.AccessTTL(), cfg.RefreshTTL())

	if *once {
		purgeCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		n, err := janitor.PurgeOnce(purgeCtx)
		if err != nil {
			log.Fatalf("worker: purge failed: %v", err)
		}
		log.Printf("worker: purged %d sessions", n)
		return
	}

	log.Printf("worker: purging expired sessions every %s", cfg.JanitorEvery())
	janitor.Run(ctx, cfg.JanitorEvery())
}
