package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Store persists users, plans, runs, reports and schedules in Postgres.
type Store struct {
	DB *sql.DB
}

// Run statuses persisted for report generation runs.
const (
	RunStatusQueued    = "queued"
	RunStatusPlanning  = "planning"
	RunStatusAwaiting  = "awaiting_approval"
	RunStatusExecuting = "executing"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
	RunStatusCanceled  = "canceled"
)

// NewWithDSN constructs the Store using an explicit Postgres DSN.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// User operations
func (s *Store) CreateUser(ctx context.Context, email, hash string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO users (email, password_hash) VALUES ($1,$2)`, email, hash)
	return err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (id string, hash string, err error) {
	err = s.DB.QueryRowContext(ctx, `SELECT id, password_hash FROM users WHERE email=$1`, email).Scan(&id, &hash)
	return
}

// Plan operations

// PlanRecord stores an outline under review together with its revision counter.
type PlanRecord struct {
	ID        string
	UserID    string
	Topic     string
	Revision  int
	PlanJSON  json.RawMessage
	Approved  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s *Store) CreatePlan(ctx context.Context, userID, topic string, planJSON []byte) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO plans (user_id, topic, revision, plan_json)
VALUES ($1,$2,0,$3)
RETURNING id
`, userID, topic, planJSON).Scan(&id)
	return id, err
}

func (s *Store) UpdatePlan(ctx context.Context, planID string, revision int, planJSON []byte) error {
	res, err := s.DB.ExecContext(ctx, `
UPDATE plans SET revision=$2, plan_json=$3, updated_at=NOW() WHERE id=$1
`, planID, revision, planJSON)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("plan %s not found", planID)
	}
	return nil
}

func (s *Store) ApprovePlan(ctx context.Context, planID string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE plans SET approved=true, updated_at=NOW() WHERE id=$1`, planID)
	return err
}

func (s *Store) GetPlan(ctx context.Context, planID string) (PlanRecord, error) {
	var rec PlanRecord
	err := s.DB.QueryRowContext(ctx, `
SELECT id, user_id, topic, revision, plan_json, approved, created_at, updated_at
FROM plans WHERE id=$1
`, planID).Scan(&rec.ID, &rec.UserID, &rec.Topic, &rec.Revision, &rec.PlanJSON, &rec.Approved, &rec.CreatedAt, &rec.UpdatedAt)
	return rec, err
}

func (s *Store) ListPlans(ctx context.Context, userID string) ([]PlanRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, user_id, topic, revision, plan_json, approved, created_at, updated_at
FROM plans WHERE user_id=$1 ORDER BY created_at DESC
`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PlanRecord
	for rows.Next() {
		var rec PlanRecord
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Topic, &rec.Revision, &rec.PlanJSON, &rec.Approved, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Run operations

// RunRecord tracks a single report generation run.
type RunRecord struct {
	ID         string
	UserID     string
	PlanID     sql.NullString
	Topic      string
	Status     string
	Error      sql.NullString
	CreatedAt  time.Time
	FinishedAt *time.Time
}

func (s *Store) CreateRun(ctx context.Context, userID, topic string, status string) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx, `INSERT INTO runs (user_id, topic, status) VALUES ($1,$2,$3) RETURNING id`, userID, topic, status).Scan(&id)
	return id, err
}

func (s *Store) AttachRunPlan(ctx context.Context, runID, planID string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE runs SET plan_id=$2 WHERE id=$1`, runID, planID)
	return err
}

// SetRunStatus updates the status field without modifying timestamps.
func (s *Store) SetRunStatus(ctx context.Context, runID string, status string) error {
	if runID == "" {
		return fmt.Errorf("run_id must be provided")
	}
	_, err := s.DB.ExecContext(ctx, `UPDATE runs SET status=$2 WHERE id=$1`, runID, status)
	return err
}

func (s *Store) FinishRun(ctx context.Context, runID string, status string, errMsg *string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE runs SET status=$1, finished_at=NOW(), error=$2 WHERE id=$3`, status, errMsg, runID)
	return err
}

func (s *Store) GetRun(ctx context.Context, runID string) (RunRecord, error) {
	var rec RunRecord
	err := s.DB.QueryRowContext(ctx, `
SELECT id, user_id, plan_id, topic, status, error, created_at, finished_at
FROM runs WHERE id=$1
`, runID).Scan(&rec.ID, &rec.UserID, &rec.PlanID, &rec.Topic, &rec.Status, &rec.Error, &rec.CreatedAt, &rec.FinishedAt)
	return rec, err
}

func (s *Store) ListRuns(ctx context.Context, userID string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, user_id, plan_id, topic, status, error, created_at, finished_at
FROM runs WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2
`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RunRecord
	for rows.Next() {
		var rec RunRecord
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.PlanID, &rec.Topic, &rec.Status, &rec.Error, &rec.CreatedAt, &rec.FinishedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Report operations

// ReportRecord stores a compiled report alongside its rendered markdown.
type ReportRecord struct {
	ID         string
	RunID      string
	Topic      string
	ReportJSON json.RawMessage
	Markdown   string
	TokensUsed int64
	CreatedAt  time.Time
}

func (s *Store) SaveReport(ctx context.Context, runID, topic string, reportJSON []byte, markdown string, tokensUsed int64) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO reports (run_id, topic, report_json, markdown, tokens_used)
VALUES ($1,$2,$3,$4,$5)
RETURNING id
`, runID, topic, reportJSON, markdown, tokensUsed).Scan(&id)
	return id, err
}

func (s *Store) GetReportByRun(ctx context.Context, runID string) (ReportRecord, error) {
	var rec ReportRecord
	err := s.DB.QueryRowContext(ctx, `
SELECT id, run_id, topic, report_json, markdown, tokens_used, created_at
FROM reports WHERE run_id=$1 ORDER BY created_at DESC LIMIT 1
`, runID).Scan(&rec.ID, &rec.RunID, &rec.Topic, &rec.ReportJSON, &rec.Markdown, &rec.TokensUsed, &rec.CreatedAt)
	return rec, err
}

// Schedule operations

// ScheduleRecord describes a recurring report generation job.
type ScheduleRecord struct {
	ID        string
	UserID    string
	Topic     string
	Cron      string
	Enabled   bool
	LastRunAt *time.Time
	NextRunAt *time.Time
	CreatedAt time.Time
}

func (s *Store) CreateSchedule(ctx context.Context, userID, topic, cron string, nextRunAt time.Time) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO schedules (user_id, topic, cron, next_run_at)
VALUES ($1,$2,$3,$4)
RETURNING id
`, userID, topic, cron, nextRunAt).Scan(&id)
	return id, err
}

func (s *Store) ListDueSchedules(ctx context.Context, now time.Time) ([]ScheduleRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, user_id, topic, cron, enabled, last_run_at, next_run_at, created_at
FROM schedules WHERE enabled=true AND next_run_at <= $1
`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ScheduleRecord
	for rows.Next() {
		var rec ScheduleRecord
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Topic, &rec.Cron, &rec.Enabled, &rec.LastRunAt, &rec.NextRunAt, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) MarkScheduleRun(ctx context.Context, scheduleID string, ranAt, nextRunAt time.Time) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE schedules SET last_run_at=$2, next_run_at=$3 WHERE id=$1`, scheduleID, ranAt, nextRunAt)
	return err
}

func (s *Store) SetScheduleEnabled(ctx context.Context, scheduleID string, enabled bool) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE schedules SET enabled=$2 WHERE id=$1`, scheduleID, enabled)
	return err
}
