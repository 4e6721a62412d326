package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"jobdesk/internal/domain"
)

var ErrNotFound = errors.New("job not found")

// EnsureSchema creates the jobs table if it doesn't exist and applies the
// additive migrations. Safe to run on every startup.
func EnsureSchema(db *sql.DB) error {
	schema := `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS jobs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  taskName TEXT NOT NULL,
  payload TEXT,
  priority TEXT NOT NULL,
  status TEXT NOT NULL CHECK(status IN ('pending','running','completed')) DEFAULT 'pending',
  createdAt DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updatedAt DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  completedAt DATETIME
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
`
	if _, err := db.Exec(schema); err != nil {
		return err
	}

	// Additive columns arrived after the first schema revision shipped, so
	// they are applied as ALTERs that tolerate re-application.
	migrations := []string{
		`ALTER TABLE jobs ADD COLUMN webhookStatus TEXT NOT NULL DEFAULT 'pending'`,
		`ALTER TABLE jobs ADD COLUMN runDueAt DATETIME`,
	}
	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil && !isDuplicateColumn(err) {
			return err
		}
	}
	return nil
}

func isDuplicateColumn(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate column name")
}

// Filter narrows List results. Zero-value fields are not applied.
type Filter struct {
	Status   string
	Priority string
}

type Repository interface {
	Insert(ctx context.Context, j domain.Job) (int64, error)
	List(ctx context.Context, f Filter) ([]domain.Job, error)
	Get(ctx context.Context, id int64) (domain.Job, error)
	MarkRunning(ctx context.Context, id int64, dueAt time.Time) (bool, error)
	MarkCompleted(ctx context.Context, id int64) (bool, error)
	UpdateWebhookStatus(ctx context.Context, id int64, ws domain.WebhookStatus) error
	UpdateFields(ctx context.Context, id int64, taskName, priority string) (int64, error)
	Delete(ctx context.Context, id int64) error
	ListOverdueRunning(ctx context.Context, now time.Time) ([]domain.Job, error)
}

type sqliteRepo struct{ db *sql.DB }

func NewSQLiteRepo(db *sql.DB) Repository { return &sqliteRepo{db: db} }

const jobColumns = `id,taskName,payload,priority,status,webhookStatus,createdAt,updatedAt,completedAt,runDueAt`

func (r *sqliteRepo) Insert(ctx context.Context, j domain.Job) (int64, error) {
	var payload any
	if len(j.Payload) > 0 {
		payload = string(j.Payload)
	}
	res, err := r.db.ExecContext(ctx, `
INSERT INTO jobs (taskName, payload, priority, status, webhookStatus)
VALUES (?, ?, ?, 'pending', 'pending')
`, j.TaskName, payload, j.Priority)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r *sqliteRepo) List(ctx context.Context, f Filter) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	var args []any
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.Priority != "" {
		query += ` AND priority = ?`
		args = append(args, f.Priority)
	}
	query += ` ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (r *sqliteRepo) Get(ctx context.Context, id int64) (domain.Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Job{}, ErrNotFound
	}
	return j, err
}

// MarkRunning is the pending→running check-and-set. It reports false when the
// job is absent or not pending; concurrent runs against one id cannot both win.
func (r *sqliteRepo) MarkRunning(ctx context.Context, id int64, dueAt time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
UPDATE jobs SET status='running', runDueAt=?, updatedAt=CURRENT_TIMESTAMP
WHERE id=? AND status='pending'`, dueAt.UTC(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkCompleted is conditional on the job still being running, so the deferred
// timer and the recovery sweep cannot both complete (and notify for) one job.
func (r *sqliteRepo) MarkCompleted(ctx context.Context, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
UPDATE jobs SET status='completed', completedAt=CURRENT_TIMESTAMP, runDueAt=NULL, updatedAt=CURRENT_TIMESTAMP
WHERE id=? AND status='running'`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *sqliteRepo) UpdateWebhookStatus(ctx context.Context, id int64, ws domain.WebhookStatus) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE jobs SET webhookStatus=?, updatedAt=CURRENT_TIMESTAMP WHERE id=?`, ws, id)
	return err
}

func (r *sqliteRepo) UpdateFields(ctx context.Context, id int64, taskName, priority string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
UPDATE jobs SET taskName=?, priority=?, updatedAt=CURRENT_TIMESTAMP WHERE id=?`, taskName, priority, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *sqliteRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM jobs WHERE id=?`, id)
	return err
}

func (r *sqliteRepo) ListOverdueRunning(ctx context.Context, now time.Time) ([]domain.Job, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+jobColumns+` FROM jobs WHERE status='running' AND runDueAt IS NOT NULL AND runDueAt <= ?`, now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (domain.Job, error) {
	var j domain.Job
	var payload sql.NullString
	var completedAt, runDueAt sql.NullTime
	err := row.Scan(&j.ID, &j.TaskName, &payload, &j.Priority, &j.Status, &j.WebhookStatus,
		&j.CreatedAt, &j.UpdatedAt, &completedAt, &runDueAt)
	if err != nil {
		return domain.Job{}, err
	}
	if payload.Valid {
		j.Payload = []byte(payload.String)
	}
	if completedAt.Valid {
		t := completedAt.Time
		j.CompletedAt = &t
	}
	if runDueAt.Valid {
		t := runDueAt.Time
		j.RunDueAt = &t
	}
	return j, nil
}
