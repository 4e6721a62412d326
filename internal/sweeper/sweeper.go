package sweeper

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"jobdesk/internal/lifecycle"
	"jobdesk/internal/store"
)

// Service completes running jobs whose persisted due time has passed. The
// in-process run timer normally gets there first; the sweep catches jobs
// whose timer died with a previous process.
type Service struct {
	repo      store.Repository
	lifecycle *lifecycle.Service
	cron      *cron.Cron
	schedule  string
}

func NewService(repo store.Repository, lc *lifecycle.Service, schedule string) *Service {
	if schedule == "" {
		schedule = "@every 30s"
	}
	return &Service{repo: repo, lifecycle: lc, cron: cron.New(), schedule: schedule}
}

func (s *Service) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, func() {
		s.Sweep(context.Background(), time.Now())
	}); err != nil {
		return err
	}
	s.cron.Start()
	log.Info().Str("schedule", s.schedule).Msg("completion sweeper started")
	return nil
}

func (s *Service) Stop() {
	<-s.cron.Stop().Done()
}

// Sweep completes every overdue running job through the normal completion
// path, webhook included.
func (s *Service) Sweep(ctx context.Context, now time.Time) {
	jobs, err := s.repo.ListOverdueRunning(ctx, now)
	if err != nil {
		log.Error().Err(err).Msg("list overdue running jobs")
		return
	}
	for _, j := range jobs {
		log.Info().Int64("job_id", j.ID).Time("due", *j.RunDueAt).Msg("completing overdue job")
		s.lifecycle.Complete(ctx, j.ID)
	}
}
