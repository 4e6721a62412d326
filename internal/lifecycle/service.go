package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"jobdesk/internal/domain"
	"jobdesk/internal/metrics"
	"jobdesk/internal/store"
)

// ErrMissingFields is returned when a create or edit request omits taskName
// or priority.
var ErrMissingFields = errors.New("taskName and priority are required")

var ErrNotFound = store.ErrNotFound

// InvalidStateError reports an operation not allowed in the job's current
// status, e.g. running a job twice or deleting a running job.
type InvalidStateError struct {
	Status domain.Status
	msg    string
}

func (e *InvalidStateError) Error() string { return e.msg }

const defaultRunDelay = 3 * time.Second

type Notifier interface {
	Notify(ctx context.Context, payload domain.Notification) error
}

// Service owns the job state machine. It is the only component that moves
// jobs between statuses and the only caller of the notifier.
type Service struct {
	repo     store.Repository
	notifier Notifier
	runDelay time.Duration
}

func NewService(repo store.Repository, notifier Notifier, runDelay time.Duration) *Service {
	if runDelay <= 0 {
		runDelay = defaultRunDelay
	}
	return &Service{repo: repo, notifier: notifier, runDelay: runDelay}
}

func (s *Service) Create(ctx context.Context, taskName string, payload json.RawMessage, priority string) (int64, error) {
	if taskName == "" || priority == "" {
		return 0, ErrMissingFields
	}
	id, err := s.repo.Insert(ctx, domain.Job{TaskName: taskName, Payload: payload, Priority: priority})
	if err != nil {
		return 0, err
	}
	metrics.JobsCreated.WithLabelValues(priority).Inc()
	return id, nil
}

func (s *Service) List(ctx context.Context, f store.Filter) ([]domain.Job, error) {
	return s.repo.List(ctx, f)
}

func (s *Service) Get(ctx context.Context, id int64) (domain.Job, error) {
	return s.repo.Get(ctx, id)
}

// Run claims a pending job and schedules its deferred completion. The caller
// gets an answer as soon as the job is running; completion and webhook
// delivery happen out-of-band and must be observed by polling.
func (s *Service) Run(ctx context.Context, id int64) error {
	claimed, err := s.repo.MarkRunning(ctx, id, time.Now().Add(s.runDelay))
	if err != nil {
		return err
	}
	if !claimed {
		j, err := s.repo.Get(ctx, id)
		if err != nil {
			return err
		}
		return &InvalidStateError{Status: j.Status, msg: fmt.Sprintf("Job already %s", j.Status)}
	}

	// The due time is persisted, so if this timer never fires the sweeper
	// completes the job instead.
	time.AfterFunc(s.runDelay, func() {
		s.Complete(context.Background(), id)
	})
	return nil
}

// Complete moves a running job to completed and delivers the webhook,
// persisting the delivery outcome as webhookStatus. Errors are logged only;
// the run request was answered long ago. A job that is no longer running is
// skipped, which is what keeps the timer and the sweeper from both notifying.
func (s *Service) Complete(ctx context.Context, id int64) {
	completed, err := s.repo.MarkCompleted(ctx, id)
	if err != nil {
		log.Error().Err(err).Int64("job_id", id).Msg("complete job")
		return
	}
	if !completed {
		return
	}
	metrics.JobsCompleted.Inc()

	j, err := s.repo.Get(ctx, id)
	if err != nil {
		log.Error().Err(err).Int64("job_id", id).Msg("load completed job")
		return
	}

	notification := domain.Notification{
		JobID:       j.ID,
		TaskName:    j.TaskName,
		Status:      domain.StatusCompleted,
		Priority:    j.Priority,
		Payload:     j.Payload,
		CompletedAt: completedAtOrNow(j),
	}

	ws := domain.WebhookSuccess
	if err := s.notifier.Notify(ctx, notification); err != nil {
		ws = domain.WebhookFailed
		log.Warn().Err(err).Int64("job_id", id).Msg("webhook delivery failed")
	}
	metrics.WebhookDeliveries.WithLabelValues(string(ws)).Inc()

	if err := s.repo.UpdateWebhookStatus(ctx, id, ws); err != nil {
		log.Error().Err(err).Int64("job_id", id).Msg("persist webhook status")
	}
}

// Update edits taskName and priority. Running jobs are locked against edits,
// symmetric with the delete guard.
func (s *Service) Update(ctx context.Context, id int64, taskName, priority string) error {
	if taskName == "" || priority == "" {
		return ErrMissingFields
	}
	j, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if j.Status == domain.StatusRunning {
		return &InvalidStateError{Status: j.Status, msg: "Cannot edit a running job"}
	}
	n, err := s.repo.UpdateFields(ctx, id, taskName, priority)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	j, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if j.Status == domain.StatusRunning {
		return &InvalidStateError{Status: j.Status, msg: "Cannot delete a running job"}
	}
	return s.repo.Delete(ctx, id)
}

func completedAtOrNow(j domain.Job) time.Time {
	if j.CompletedAt != nil {
		return *j.CompletedAt
	}
	return time.Now().UTC()
}
