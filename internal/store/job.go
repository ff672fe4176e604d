package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"dialectic.app/engine/core/db"
	"dialectic.app/engine/internal/model"
)

type jobStore struct {
	q db.Querier
}

func newJobStore(q db.Querier) JobStore {
	return &jobStore{q: q}
}

const jobColumns = `id, parent_job_id, prerequisite_job_id, session_id, stage_slug,
	iteration_number, job_type, status, payload, attempt_count, max_retries,
	target_contribution_id, results, error_details, created_at, started_at, completed_at`

func (s *jobStore) GetByID(ctx context.Context, id int64) (*model.Job, error) {
	row := s.q.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	return scanJob(row)
}

func (s *jobStore) Create(ctx context.Context, job *model.Job) error {
	payload, err := model.EncodePayload(job.DecodedPayload)
	if err != nil {
		return err
	}
	job.Payload = payload

	_, err = s.q.Exec(ctx, `
		INSERT INTO jobs (
			id, parent_job_id, prerequisite_job_id, session_id, stage_slug,
			iteration_number, job_type, status, payload, attempt_count,
			max_retries, target_contribution_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		job.ID, job.ParentJobID, job.PrerequisiteJobID, job.SessionID,
		job.StageSlug, job.IterationNumber, job.JobType, job.Status,
		job.Payload, job.AttemptCount, job.MaxRetries, job.TargetContributionID,
	)
	if err != nil {
		return fmt.Errorf("inserting job %d: %w", job.ID, err)
	}
	return nil
}

func (s *jobStore) CreateBatch(ctx context.Context, jobs []*model.Job) error {
	for _, job := range jobs {
		if err := s.Create(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

func (s *jobStore) ListInProgress(ctx context.Context, sessionID int64, stageSlug string, iteration int, jobType model.JobType) ([]model.Job, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE session_id = $1
		  AND stage_slug = $2
		  AND iteration_number = $3
		  AND job_type = $4
		  AND status = ANY($5)
		ORDER BY created_at`,
		sessionID, stageSlug, iteration, jobType, statusStrings(model.InProgressStatuses),
	)
	if err != nil {
		return nil, err
	}
	return scanJobs(rows)
}

func (s *jobStore) ListByParent(ctx context.Context, parentJobID int64) ([]model.Job, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE parent_job_id = $1 ORDER BY created_at`,
		parentJobID,
	)
	if err != nil {
		return nil, err
	}
	return scanJobs(rows)
}

func (s *jobStore) ListWaitingOnPrerequisite(ctx context.Context, prerequisiteJobID int64) ([]model.Job, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE prerequisite_job_id = $1 AND status = $2
		ORDER BY created_at`,
		prerequisiteJobID, model.JobStatusWaitingForPrerequisite,
	)
	if err != nil {
		return nil, err
	}
	return scanJobs(rows)
}

func (s *jobStore) CountActiveChildren(ctx context.Context, parentJobID int64) (int, error) {
	var count int
	err := s.q.QueryRow(ctx, `
		SELECT COUNT(*) FROM jobs WHERE parent_job_id = $1 AND status = ANY($2)`,
		parentJobID, statusStrings(model.InProgressStatuses),
	).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *jobStore) ClaimPending(ctx context.Context, id int64) (*model.Job, error) {
	row := s.q.QueryRow(ctx, `
		UPDATE jobs
		SET status = $2, started_at = COALESCE(started_at, NOW())
		WHERE id = $1 AND status IN ($3, $4)
		RETURNING `+jobColumns,
		id, model.JobStatusProcessing, model.JobStatusPending, model.JobStatusRetrying,
	)
	job, err := scanJob(row)
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (s *jobStore) UpdateStatus(ctx context.Context, id int64, from, to model.JobStatus) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("job %d: illegal transition %s -> %s", id, from, to)
	}
	tag, err := s.q.Exec(ctx, `
		UPDATE jobs SET status = $3 WHERE id = $1 AND status = $2`,
		id, from, to,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %d: no longer in status %s", id, from)
	}
	return nil
}

func (s *jobStore) SetPrerequisite(ctx context.Context, id int64, prerequisiteJobID int64) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE jobs
		SET prerequisite_job_id = $2, status = $3
		WHERE id = $1 AND status = ANY($4)`,
		id, prerequisiteJobID, model.JobStatusWaitingForPrerequisite,
		statusStrings([]model.JobStatus{model.JobStatusPending, model.JobStatusProcessing}),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %d: not in a state that can wait on a prerequisite", id)
	}
	return nil
}

func (s *jobStore) MarkCompleted(ctx context.Context, id int64, results json.RawMessage) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE jobs
		SET status = $2, results = $3, completed_at = NOW()
		WHERE id = $1 AND status = ANY($4)`,
		id, model.JobStatusCompleted, results,
		statusStrings([]model.JobStatus{model.JobStatusProcessing, model.JobStatusWaitingForChildren}),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %d: not in a completable state", id)
	}
	return nil
}

func (s *jobStore) MarkFailed(ctx context.Context, id int64, errorDetails string) error {
	_, err := s.q.Exec(ctx, `
		UPDATE jobs
		SET status = $2, error_details = $3, completed_at = NOW()
		WHERE id = $1`,
		id, model.JobStatusFailed, errorDetails,
	)
	return err
}

func (s *jobStore) ScheduleRetry(ctx context.Context, id int64, errorDetails string) (model.JobStatus, error) {
	var status model.JobStatus
	err := s.q.QueryRow(ctx, `
		UPDATE jobs
		SET attempt_count = attempt_count + 1,
		    error_details = $2,
		    status = CASE WHEN attempt_count + 1 >= max_retries THEN $3::text ELSE $4::text END,
		    completed_at = CASE WHEN attempt_count + 1 >= max_retries THEN NOW() ELSE completed_at END
		WHERE id = $1
		RETURNING status`,
		id, errorDetails, model.JobStatusFailed, model.JobStatusRetrying,
	).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return status, nil
}

func scanJob(row pgx.Row) (*model.Job, error) {
	var job model.Job
	err := row.Scan(
		&job.ID, &job.ParentJobID, &job.PrerequisiteJobID, &job.SessionID,
		&job.StageSlug, &job.IterationNumber, &job.JobType, &job.Status,
		&job.Payload, &job.AttemptCount, &job.MaxRetries,
		&job.TargetContributionID, &job.Results, &job.ErrorDetails,
		&job.CreatedAt, &job.StartedAt, &job.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}
	payload, err := model.DecodePayload(job.JobType, job.Payload)
	if err != nil {
		return nil, fmt.Errorf("job %d: %w", job.ID, err)
	}
	job.DecodedPayload = payload
	return &job, nil
}

func scanJobs(rows pgx.Rows) ([]model.Job, error) {
	defer rows.Close()
	var jobs []model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func statusStrings(statuses []model.JobStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
