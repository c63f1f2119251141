package app

import (
	"context"
	"log"
	"time"
)

const (
	defaultSweepInterval = 10 * time.Second
	defaultIdleAfter     = 60 * time.Second
	defaultOfflineAfter  = 5 * time.Minute
)

// Sweeper periodically demotes agents that stopped reporting without an
// explicit offline event (active -> idle -> offline).
type Sweeper struct {
	svc          *FleetService
	logger       *log.Logger
	interval     time.Duration
	idleAfter    time.Duration
	offlineAfter time.Duration
	now          func() time.Time
	stopCh       chan struct{}
	doneCh       chan struct{}
}

// SweeperOption configures the sweeper.
type SweeperOption func(*Sweeper)

// WithSweepInterval sets how often the sweep runs.
func WithSweepInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) { s.interval = d }
}

// WithIdleAfter sets the inactivity threshold for active -> idle.
func WithIdleAfter(d time.Duration) SweeperOption {
	return func(s *Sweeper) { s.idleAfter = d }
}

// WithOfflineAfter sets the inactivity threshold for -> offline.
func WithOfflineAfter(d time.Duration) SweeperOption {
	return func(s *Sweeper) { s.offlineAfter = d }
}

// WithSweeperClock overrides the time source (tests).
func WithSweeperClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) { s.now = now }
}

// NewSweeper creates a Sweeper over svc.
func NewSweeper(svc *FleetService, logger *log.Logger, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		svc:          svc,
		logger:       logger,
		interval:     defaultSweepInterval,
		idleAfter:    defaultIdleAfter,
		offlineAfter: defaultOfflineAfter,
		now:          time.Now,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start runs the sweep loop. Returns when ctx is cancelled or Stop is called.
func (s *Sweeper) Start(ctx context.Context) {
	defer close(s.doneCh)
	s.logger.Printf("Sweeper: started (interval=%s, idle_after=%s, offline_after=%s)",
		s.interval, s.idleAfter, s.offlineAfter)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Println("Sweeper: stopped (context cancelled)")
			return
		case <-s.stopCh:
			s.logger.Println("Sweeper: stopped")
			return
		case <-ticker.C:
			s.CheckOnce()
		}
	}
}

// Stop signals the sweeper to stop and waits for the loop to exit.
func (s *Sweeper) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

// CheckOnce runs one sweep cycle (for testing or manual trigger).
func (s *Sweeper) CheckOnce() []Demotion {
	demoted, err := s.svc.Sweep(s.now(), s.idleAfter, s.offlineAfter)
	if err != nil {
		s.logger.Printf("Sweeper: %v", err)
		return nil
	}
	for _, d := range demoted {
		s.logger.Printf("Sweeper: %s %s -> %s", d.AgentID, d.From, d.To)
	}
	return demoted
}
