package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestCreatePlan(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	planJSON := []byte(`{"topic":"solar power","sections":[]}`)

	query := regexp.QuoteMeta(`
INSERT INTO plans (user_id, topic, revision, plan_json)
VALUES ($1,$2,0,$3)
RETURNING id
`)
	mock.ExpectQuery(query).
		WithArgs("user-1", "solar power", planJSON).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("plan-1"))

	id, err := st.CreatePlan(context.Background(), "user-1", "solar power", planJSON)
	if err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}
	if id != "plan-1" {
		t.Fatalf("unexpected id: %s", id)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdatePlanMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	query := regexp.QuoteMeta(`
UPDATE plans SET revision=$2, plan_json=$3, updated_at=NOW() WHERE id=$1
`)
	mock.ExpectExec(query).
		WithArgs("missing", 1, []byte(`{}`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := st.UpdatePlan(context.Background(), "missing", 1, []byte(`{}`)); err == nil {
		t.Fatalf("expected error for missing plan")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestFinishRun(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	msg := "model unavailable"
	query := regexp.QuoteMeta(`UPDATE runs SET status=$1, finished_at=NOW(), error=$2 WHERE id=$3`)
	mock.ExpectExec(query).
		WithArgs(RunStatusFailed, &msg, "run-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := st.FinishRun(context.Background(), "run-1", RunStatusFailed, &msg); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSaveReport(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	reportJSON := []byte(`{"topic":"solar power","sections":[]}`)

	query := regexp.QuoteMeta(`
INSERT INTO reports (run_id, topic, report_json, markdown, tokens_used)
VALUES ($1,$2,$3,$4,$5)
RETURNING id
`)
	mock.ExpectQuery(query).
		WithArgs("run-1", "solar power", reportJSON, "# Report", int64(1234)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("report-1"))

	id, err := st.SaveReport(context.Background(), "run-1", "solar power", reportJSON, "# Report", 1234)
	if err != nil {
		t.Fatalf("SaveReport: %v", err)
	}
	if id != "report-1" {
		t.Fatalf("unexpected id: %s", id)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListDueSchedules(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	now := time.Now()
	query := regexp.QuoteMeta(`
SELECT id, user_id, topic, cron, enabled, last_run_at, next_run_at, created_at
FROM schedules WHERE enabled=true AND next_run_at <= $1
`)
	mock.ExpectQuery(query).
		WithArgs(now).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "topic", "cron", "enabled", "last_run_at", "next_run_at", "created_at"}).
			AddRow("sched-1", "user-1", "solar power", "0 6 * * *", true, nil, now, now))

	due, err := st.ListDueSchedules(context.Background(), now)
	if err != nil {
		t.Fatalf("ListDueSchedules: %v", err)
	}
	if len(due) != 1 || due[0].ID != "sched-1" || due[0].Cron != "0 6 * * *" {
		t.Fatalf("unexpected schedules: %+v", due)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
