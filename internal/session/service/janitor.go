package service

import (
	"context"
	"log"
	"time"
)

// Janitor periodically deletes sessions whose refresh token can no longer be valid.
// A row's expires mirrors the access token, so rows are kept for refreshTTL-accessTTL past it.
type Janitor struct {
	sessions SessionRepo
	grace    time.Duration
	now      func() time.Time
}

// NewJanitor returns a Janitor for tokens with the given lifetimes.
func NewJanitor(sessions SessionRepo, accessTTL, refreshTTL time.Duration) *Janitor {
	grace := refreshTTL - accessTTL
	if grace < 0 {
		grace = 0
	}
	return &Janitor{sessions: sessions, grace: grace, now: func() time.Time { return time.Now().UTC() }}
}

// PurgeOnce deletes every session whose expiry is older than the grace window.
func (j *Janitor) PurgeOnce(ctx context.Context) (int64, error) {
	return j.sessions.DeleteExpired(ctx, j.now().Add(-j.grace))
}

// Run purges on every tick until ctx is done.
func (j *Janitor) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Println("janitor: stopped")
			return
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			n, err := j.PurgeOnce(runCtx)
			cancel()
			if err != nil {
				log.Printf("janitor: purge failed: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("janitor: purged %d stale sessions", n)
			}
		}
	}
}
