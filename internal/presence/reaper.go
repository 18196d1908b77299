package presence

import (
	"context"
	"log"
	"time"

	"brewery-presence-backend/internal/store"
)

// Reaper marks users offline once they stop sending heartbeats.
type Reaper struct {
	svc      *Service
	store    store.PresenceStore
	ttl      time.Duration
	interval time.Duration
}

// NewReaper creates a reaper that expires records older than ttl every interval.
func NewReaper(svc *Service, st store.PresenceStore, ttl, interval time.Duration) *Reaper {
	return &Reaper{svc: svc, store: st, ttl: ttl, interval: interval}
}

// Run sweeps until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	log.Printf("Starting presence reaper (ttl %s, every %s)", r.ttl, r.interval)

	timer := time.NewTimer(r.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Presence reaper shutting down.")
			return
		case <-timer.C:
			if _, err := r.SweepOnce(ctx); err != nil {
				log.Printf("Presence sweep failed: %v", err)
			}
			timer.Reset(r.interval)
		}
	}
}

// SweepOnce expires every stale record and returns how many went offline.
// A failure on one user is logged and the sweep moves on.
func (r *Reaper) SweepOnce(ctx context.Context) (int, error) {
	cutoff := r.svc.now().UTC().Add(-r.ttl)
	stale, err := r.store.ListStalePresence(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, rec := range stale {
		ok, err := r.svc.ExpireIfStale(ctx, rec.UserID, cutoff)
		if err != nil {
			log.Printf("Error expiring presence of user %s: %v", rec.UserID, err)
			continue
		}
		if ok {
			expired++
		}
	}
	if expired > 0 {
		log.Printf("Presence sweep marked %d users offline", expired)
	}
	return expired, nil
}
