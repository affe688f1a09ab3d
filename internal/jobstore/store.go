// Package jobstore is the durable Job Store: a jobs table, a side table
// holding each job's full serialized resume payload, and a separate
// cancel-flag table that survives status updates. Backed by PostgreSQL.
// Writes are serialized through a single mutex per process; job writes are
// low-rate and correctness matters more than write throughput.
package jobstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/greatstories/videocore/internal/models"
)

// maxListLimit caps list_recent page sizes.
const maxListLimit = 500

// Store durably tracks job status/progress and the payload needed to
// restart a job after a crash.
type Store struct {
	db           *sql.DB
	previewLimit int
	mu           sync.Mutex
}

// Connect opens the database and runs schema bootstrap/evolution.
// previewLimit bounds how many per-clip preview URLs a read embeds; 0
// means none.
func Connect(ctx context.Context, databaseURL string, previewLimit int) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db, previewLimit: previewLimit}
	if err := s.bootstrap(ctx); err != nil {
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}

	log.Info().Msg("Job store connected")
	return s, nil
}

// DB exposes the underlying connection so the scene cache can share it.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Health pings the database with a short timeout.
func (s *Store) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

const createJobTables = `
CREATE TABLE IF NOT EXISTS jobs (
	id UUID PRIMARY KEY,
	status TEXT NOT NULL DEFAULT 'queued',
	progress DOUBLE PRECISION NOT NULL DEFAULT 0,
	step TEXT NOT NULL DEFAULT '',
	message TEXT NOT NULL DEFAULT '',
	current_segment INTEGER NOT NULL DEFAULT 0,
	total_segments INTEGER NOT NULL DEFAULT 0,
	output_video_path TEXT NOT NULL DEFAULT '',
	output_video_url TEXT NOT NULL DEFAULT '',
	clip_count INTEGER NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS job_payloads (
	job_id UUID PRIMARY KEY,
	payload JSONB NOT NULL,
	base_url TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS job_cancel_flags (
	job_id UUID PRIMARY KEY,
	cancelled_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs (status);
`

// evolvedColumns backs the detect-and-alter evolution path: instead of a
// migration tool, the store inspects information_schema on every boot and
// adds whatever columns a newer binary expects that an older database
// doesn't have yet.
var evolvedColumns = []struct {
	name string
	ddl  string
}{
	{"image_source_report", "JSONB"},
}

func (s *Store) bootstrap(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createJobTables); err != nil {
		return err
	}

	existing := map[string]bool{}
	rows, err := s.db.QueryContext(ctx, `SELECT column_name FROM information_schema.columns WHERE table_name = 'jobs'`)
	if err != nil {
		return err
	}
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			rows.Close()
			return err
		}
		existing[col] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, col := range evolvedColumns {
		if existing[col.name] {
			continue
		}
		stmt := fmt.Sprintf(`ALTER TABLE jobs ADD COLUMN IF NOT EXISTS %s %s`, col.name, col.ddl)
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("add column %s: %w", col.name, err)
		}
		log.Info().Str("column", col.name).Msg("Added missing jobs column")
	}
	return nil
}

// Set upserts a job's mutable state. created_at is preserved on update;
// updated_at is stamped here.
func (s *Store) Set(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var reportJSON []byte
	if job.ImageSourceReport != nil {
		var err error
		reportJSON, err = json.Marshal(job.ImageSourceReport)
		if err != nil {
			return fmt.Errorf("marshal image source report: %w", err)
		}
	}

	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, status, progress, step, message, current_segment, total_segments,
			output_video_path, output_video_url, clip_count, image_source_report,
			error_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			progress = EXCLUDED.progress,
			step = EXCLUDED.step,
			message = EXCLUDED.message,
			current_segment = EXCLUDED.current_segment,
			total_segments = EXCLUDED.total_segments,
			output_video_path = EXCLUDED.output_video_path,
			output_video_url = EXCLUDED.output_video_url,
			clip_count = EXCLUDED.clip_count,
			image_source_report = EXCLUDED.image_source_report,
			error_message = EXCLUDED.error_message,
			updated_at = EXCLUDED.updated_at
	`, job.ID, job.Status, job.Progress, job.Step, job.Message, job.CurrentSegment,
		job.TotalSegments, job.OutputVideoPath, job.OutputVideoURL, job.ClipCount,
		reportJSON, job.ErrorMessage, job.CreatedAt, job.UpdatedAt)
	return err
}

const jobColumns = `j.id, j.status, j.progress, j.step, j.message, j.current_segment, j.total_segments,
	j.output_video_path, j.output_video_url, j.clip_count, j.image_source_report,
	j.error_message, j.created_at, j.updated_at, COALESCE(p.base_url, '')`

func scanJob(scan func(dest ...any) error, previewLimit int) (*models.Job, error) {
	job := &models.Job{}
	var reportJSON []byte
	var baseURL string
	if err := scan(
		&job.ID, &job.Status, &job.Progress, &job.Step, &job.Message, &job.CurrentSegment,
		&job.TotalSegments, &job.OutputVideoPath, &job.OutputVideoURL, &job.ClipCount,
		&reportJSON, &job.ErrorMessage, &job.CreatedAt, &job.UpdatedAt, &baseURL,
	); err != nil {
		return nil, err
	}
	if len(reportJSON) > 0 {
		report := &models.ImageSourceReport{}
		if err := json.Unmarshal(reportJSON, report); err == nil {
			job.ImageSourceReport = report
		}
	}
	job.ClipPreviewURLs = previewURLs(job.ID, job.ClipCount, previewLimit, baseURL)
	return job, nil
}

// previewURLs embeds up to previewLimit per-clip preview URLs; a limit of
// 0 means none, not unlimited.
func previewURLs(id uuid.UUID, clipCount, limit int, baseURL string) []string {
	if limit <= 0 || clipCount <= 0 {
		return nil
	}
	n := clipCount
	if n > limit {
		n = limit
	}
	urls := make([]string, n)
	for i := range urls {
		urls[i] = fmt.Sprintf("%s/api/jobs/%s/clips/%d", baseURL, id, i)
	}
	return urls
}

// Get retrieves a job by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM jobs j LEFT JOIN job_payloads p ON p.job_id = j.id
		WHERE j.id = $1
	`, id)

	job, err := scanJob(row.Scan, s.previewLimit)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// ListRecent returns the most recently created jobs, newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]*models.Job, error) {
	if limit < 1 {
		limit = 100
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM jobs j LEFT JOIN job_payloads p ON p.job_id = j.id
		ORDER BY j.created_at DESC, j.updated_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows.Scan, s.previewLimit)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// SavePayload stores (or overwrites) the resume payload for a job. This
// must succeed before the job starts, else resume is impossible.
func (s *Store) SavePayload(ctx context.Context, id uuid.UUID, payload *models.JobPayload, baseURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO job_payloads (job_id, payload, base_url, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (job_id) DO UPDATE SET
			payload = EXCLUDED.payload,
			base_url = EXCLUDED.base_url,
			updated_at = now()
	`, id, payloadJSON, baseURL)
	return err
}

// LoadPayload reads back the resume payload and base URL for a job.
func (s *Store) LoadPayload(ctx context.Context, id uuid.UUID) (*models.JobPayload, string, error) {
	var payloadJSON []byte
	var baseURL string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, base_url FROM job_payloads WHERE job_id = $1`, id).Scan(&payloadJSON, &baseURL)
	if err == sql.ErrNoRows {
		return nil, "", fmt.Errorf("payload not found for job %s", id)
	}
	if err != nil {
		return nil, "", err
	}
	payload := &models.JobPayload{}
	if err := json.Unmarshal(payloadJSON, payload); err != nil {
		return nil, "", fmt.Errorf("unmarshal payload: %w", err)
	}
	return payload, baseURL, nil
}

// Cancel raises the cancel flag for a job. The scheduler observes it at
// segment/stage boundaries; raising it is idempotent.
func (s *Store) Cancel(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_cancel_flags (job_id, cancelled_at) VALUES ($1, now())
		ON CONFLICT (job_id) DO UPDATE SET cancelled_at = now()
	`, id)
	return err
}

// IsCancelled reports whether the cancel flag is raised for a job.
func (s *Store) IsCancelled(ctx context.Context, id uuid.UUID) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM job_cancel_flags WHERE job_id = $1`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ClearCancel lowers the cancel flag; called by the scheduler at job end
// so a later resume starts clean.
func (s *Store) ClearCancel(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM job_cancel_flags WHERE job_id = $1`, id)
	return err
}

// DeleteJob removes the job row, its payload, and its cancel flag in one
// transaction. Callers are responsible for removing on-disk artifacts.
func (s *Store) DeleteJob(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, stmt := range []string{
		`DELETE FROM jobs WHERE id = $1`,
		`DELETE FROM job_payloads WHERE job_id = $1`,
		`DELETE FROM job_cancel_flags WHERE job_id = $1`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// ListIncompleteJobIDs returns ids of jobs left queued or running, oldest
// first, for the scheduler's startup recovery pass.
func (s *Store) ListIncompleteJobIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM jobs WHERE status IN ($1, $2) ORDER BY created_at ASC
	`, models.JobStatusQueued, models.JobStatusRunning)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
