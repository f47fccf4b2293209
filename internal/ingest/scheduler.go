package ingest

import (
	"context"
	"log"
	"time"

	"github.com/lox/farmcast/internal/models"
	"github.com/lox/farmcast/internal/store"
)

// Warmer pre-trains the default history window for a location.
type Warmer interface {
	Warm(ctx context.Context, lat, lon float64) error
}

// Purger drops expired in-memory bundles and returns how many were removed.
type Purger interface {
	PurgeExpired() int
}

// Scheduler keeps bundles for configured sites warm and prunes stale data.
type Scheduler struct {
	warmer        Warmer
	purger        Purger
	store         *store.Store
	sites         []models.Location
	warmInterval  time.Duration
	purgeInterval time.Duration
	retentionDays int
}

func NewScheduler(warmer Warmer, purger Purger, st *store.Store, sites []models.Location) *Scheduler {
	return &Scheduler{
		warmer:        warmer,
		purger:        purger,
		store:         st,
		sites:         sites,
		warmInterval:  6 * time.Hour,
		purgeInterval: 10 * time.Minute,
		retentionDays: 30,
	}
}

// SetIntervals overrides the warm and purge periods.
func (s *Scheduler) SetIntervals(warm, purge time.Duration) {
	if warm > 0 {
		s.warmInterval = warm
	}
	if purge > 0 {
		s.purgeInterval = purge
	}
}

// SetRetentionDays sets how long raw payloads and forecast runs are kept.
func (s *Scheduler) SetRetentionDays(days int) {
	s.retentionDays = days
}

func (s *Scheduler) Run(ctx context.Context) {
	s.warmSites(ctx)

	warmTicker := time.NewTicker(s.warmInterval)
	purgeTicker := time.NewTicker(s.purgeInterval)
	dailyTicker := time.NewTicker(24 * time.Hour)
	defer warmTicker.Stop()
	defer purgeTicker.Stop()
	defer dailyTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("scheduler: shutting down")
			return
		case <-warmTicker.C:
			s.warmSites(ctx)
		case <-purgeTicker.C:
			s.purge()
		case <-dailyTicker.C:
			s.cleanup()
		}
	}
}

// WarmOnce warms every configured site and returns the number that failed.
func (s *Scheduler) WarmOnce(ctx context.Context) int {
	return s.warmSites(ctx)
}

func (s *Scheduler) warmSites(ctx context.Context) int {
	if len(s.sites) == 0 {
		return 0
	}

	log.Printf("scheduler: warming %d sites", len(s.sites))
	failed := 0
	for _, site := range s.sites {
		if ctx.Err() != nil {
			return failed
		}
		if err := s.warmer.Warm(ctx, site.Latitude, site.Longitude); err != nil {
			failed++
			log.Printf("scheduler: warm %s: %v", site, err)
		}
	}
	return failed
}

func (s *Scheduler) purge() {
	if s.purger == nil {
		return
	}
	if n := s.purger.PurgeExpired(); n > 0 {
		log.Printf("scheduler: purged %d expired bundles from memory", n)
	}
	if s.store != nil {
		n, err := s.store.DeleteExpiredBundles(time.Now().UTC())
		if err != nil {
			log.Printf("scheduler: delete expired bundles: %v", err)
		} else if n > 0 {
			log.Printf("scheduler: deleted %d expired bundles", n)
		}
	}
}

func (s *Scheduler) cleanup() {
	if s.store == nil || s.retentionDays <= 0 {
		return
	}
	if n, err := s.store.CleanupOldRawPayloads(s.retentionDays); err != nil {
		log.Printf("scheduler: cleanup raw payloads: %v", err)
	} else if n > 0 {
		log.Printf("scheduler: removed %d raw payloads older than %d days", n, s.retentionDays)
	}
	if n, err := s.store.CleanupOldForecastRuns(s.retentionDays); err != nil {
		log.Printf("scheduler: cleanup forecast runs: %v", err)
	} else if n > 0 {
		log.Printf("scheduler: removed %d forecast runs older than %d days", n, s.retentionDays)
	}
}
