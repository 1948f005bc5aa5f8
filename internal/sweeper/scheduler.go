package sweeper

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/Bruh61/m-membership-dc-bot/internal/config"
)

// Scheduler drives the sweeps on their configured cadences.
type Scheduler struct {
	cron    *cron.Cron
	sweeper *Sweeper
}

// NewScheduler registers the four sweeps with their intervals from the
// guild settings.
func NewScheduler(sw *Sweeper, settings *config.Settings) (*Scheduler, error) {
	c := cron.New()

	jobs := []struct {
		name    string
		minutes int
		run     func(context.Context)
	}{
		{"expiry", settings.ExpirySweepMinutes, sw.SweepExpired},
		{"warning", settings.WarningSweepMinutes, sw.SweepWarnings},
		{"custom-role", settings.MembershipSweepMinutes, sw.SweepCustomRoles},
		{"gifted-credit", settings.MembershipSweepMinutes, sw.SweepGiftedCredits},
	}
	for _, job := range jobs {
		job := job
		spec := fmt.Sprintf("@every %dm", job.minutes)
		if _, err := c.AddFunc(spec, func() {
			slog.Debug("Running sweep", "sweep", job.name)
			job.run(context.Background())
		}); err != nil {
			return nil, fmt.Errorf("failed to schedule %s sweep: %w", job.name, err)
		}
	}

	return &Scheduler{cron: c, sweeper: sw}, nil
}

// Start runs every sweep once immediately, then starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		s.sweeper.SweepExpired(ctx)
		s.sweeper.SweepWarnings(ctx)
		s.sweeper.SweepCustomRoles(ctx)
		s.sweeper.SweepGiftedCredits(ctx)
	}()
	s.cron.Start()
	slog.Info("Reconciliation scheduler started")
}

// Stop stops the cron loop and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	slog.Info("Reconciliation scheduler stopped")
}
