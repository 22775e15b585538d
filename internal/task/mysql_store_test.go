package task

import (
	"context"
	"database/sql/driver"
	stdErrors "errors"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"

	"SwapAgent-Chain/internal/testutil/sqlmock"
)

var recordRowColumns = []string{"id", "agent_id", "task_type", "description", "input", "output", "status", "error_message", "started_at", "completed_at", "created_at"}

const (
	selectRecordSQL  = `SELECT ` + recordColumns + ` FROM task_history WHERE id = ?`
	transitionSQL    = `UPDATE task_history SET status = ?, output = COALESCE(?, output), error_message = COALESCE(NULLIF(?, ''), error_message), completed_at = COALESCE(?, completed_at) WHERE id = ? AND status NOT IN (?, ?)`
	insertRecordSQL  = `INSERT INTO task_history (id, agent_id, task_type, description, input, output, status, error_message, started_at, completed_at, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	failRunningSQL   = `UPDATE task_history SET status = ?, error_message = ?, completed_at = ? WHERE agent_id = ? AND status IN (?, ?)`
	listNewestSQL    = `SELECT ` + recordColumns + ` FROM task_history WHERE agent_id = ? ORDER BY created_at DESC, seq DESC LIMIT ?`
	listByStatusSQL  = `SELECT ` + recordColumns + ` FROM task_history WHERE agent_id = ? AND status IN (?) ORDER BY created_at DESC, seq DESC LIMIT ?`
	clearHistorySQL  = `DELETE FROM task_history WHERE agent_id = ?`
	startedAtMillis  = int64(1700000000000)
	finishedAtMillis = int64(1700000005000)
)

func recordRow(id, status string, completed driver.Value) []driver.Value {
	return []driver.Value{id, "agent-1", "execute_swap", "兑换", []byte(`{"amount":"0.5"}`), nil, status, nil, startedAtMillis, completed, startedAtMillis}
}

func TestMySQLStoreInsert(t *testing.T) {
	t.Parallel()

	db, drv := sqlmock.New(t,
		sqlmock.Exec(insertRecordSQL, sqlmock.Result{RowsAffected: 1}).
			WithArgs("task-1", "agent-1", "execute_swap", "兑换", `{"amount":"0.5"}`, nil, "pending", "", startedAtMillis, nil, startedAtMillis),
	)
	defer drv.AssertConsumed(t)
	defer db.Close()

	store, err := NewMySQLStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	started := time.UnixMilli(startedAtMillis)
	err = store.Insert(context.Background(), &Record{
		ID:          "task-1",
		AgentID:     "agent-1",
		Type:        TypeExecuteSwap,
		Description: "兑换",
		Input:       map[string]any{"amount": "0.5"},
		Status:      StatusPending,
		StartedAt:   started,
		CreatedAt:   started,
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
}

func TestMySQLStoreInsertDuplicate(t *testing.T) {
	t.Parallel()

	db, drv := sqlmock.New(t,
		sqlmock.Exec(insertRecordSQL, sqlmock.Result{}).WithErr(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}),
	)
	defer drv.AssertConsumed(t)
	defer db.Close()

	store := &MySQLStore{db: db}
	err := store.Insert(context.Background(), &Record{ID: "task-1", AgentID: "agent-1", Type: TypeSetup, Status: StatusPending})
	if !stdErrors.Is(err, ErrTaskConflict) {
		t.Fatalf("expected ErrTaskConflict, got %v", err)
	}
}

func TestMySQLStoreTransitionCompletes(t *testing.T) {
	t.Parallel()

	db, drv := sqlmock.New(t,
		sqlmock.Exec(transitionSQL, sqlmock.Result{RowsAffected: 1}),
		sqlmock.Query(selectRecordSQL, sqlmock.Rows{
			Columns: recordRowColumns,
			Values:  [][]driver.Value{recordRow("task-1", "completed", finishedAtMillis)},
		}),
	)
	defer drv.AssertConsumed(t)
	defer db.Close()

	store := &MySQLStore{db: db}
	completed := time.UnixMilli(finishedAtMillis)
	record, err := store.Transition(context.Background(), "task-1", Update{Status: StatusCompleted, CompletedAt: &completed})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if record.Status != StatusCompleted || record.CompletedAt == nil || record.CompletedAt.UnixMilli() != finishedAtMillis {
		t.Fatalf("unexpected record: %+v", record)
	}
	if record.Input["amount"] != "0.5" {
		t.Fatalf("input not decoded: %+v", record.Input)
	}
}

func TestMySQLStoreTransitionTerminalConflict(t *testing.T) {
	t.Parallel()

	db, drv := sqlmock.New(t,
		sqlmock.Exec(transitionSQL, sqlmock.Result{RowsAffected: 0}),
		sqlmock.Query(selectRecordSQL, sqlmock.Rows{
			Columns: recordRowColumns,
			Values:  [][]driver.Value{recordRow("task-1", "failed", finishedAtMillis)},
		}),
	)
	defer drv.AssertConsumed(t)
	defer db.Close()

	store := &MySQLStore{db: db}
	record, err := store.Transition(context.Background(), "task-1", Update{Status: StatusCompleted})
	if !stdErrors.Is(err, ErrTaskConflict) {
		t.Fatalf("expected ErrTaskConflict, got %v", err)
	}
	if record == nil || record.Status != StatusFailed {
		t.Fatalf("expected current record to be returned, got %+v", record)
	}
}

func TestMySQLStoreTransitionNotFound(t *testing.T) {
	t.Parallel()

	db, drv := sqlmock.New(t,
		sqlmock.Exec(transitionSQL, sqlmock.Result{RowsAffected: 0}),
		sqlmock.Query(selectRecordSQL, sqlmock.Rows{Columns: recordRowColumns}),
	)
	defer drv.AssertConsumed(t)
	defer db.Close()

	store := &MySQLStore{db: db}
	if _, err := store.Transition(context.Background(), "missing", Update{Status: StatusRunning}); !stdErrors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestMySQLStoreList(t *testing.T) {
	t.Parallel()

	db, drv := sqlmock.New(t,
		sqlmock.Query(listNewestSQL, sqlmock.Rows{
			Columns: recordRowColumns,
			Values: [][]driver.Value{
				recordRow("task-2", "running", nil),
				recordRow("task-1", "completed", finishedAtMillis),
			},
		}).WithArgs("agent-1", 10),
		sqlmock.Query(listByStatusSQL, sqlmock.Rows{Columns: recordRowColumns}).WithArgs("agent-1", "failed", 50),
	)
	defer drv.AssertConsumed(t)
	defer db.Close()

	store := &MySQLStore{db: db}
	records, err := store.List(context.Background(), "agent-1", ListOptions{Limit: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 2 || records[0].ID != "task-2" || records[0].CompletedAt != nil {
		t.Fatalf("unexpected records: %+v", records)
	}

	if _, err := store.List(context.Background(), "agent-1", ListOptions{Statuses: []Status{StatusFailed}}); err != nil {
		t.Fatalf("list by status: %v", err)
	}
}

func TestMySQLStoreFailRunningAndClear(t *testing.T) {
	t.Parallel()

	db, drv := sqlmock.New(t,
		sqlmock.Exec(failRunningSQL, sqlmock.Result{RowsAffected: 2}),
		sqlmock.Exec(clearHistorySQL, sqlmock.Result{RowsAffected: 5}).WithArgs("agent-1"),
	)
	defer drv.AssertConsumed(t)
	defer db.Close()

	store := &MySQLStore{db: db}
	n, err := store.FailRunning(context.Background(), "agent-1", "run aborted")
	if err != nil || n != 2 {
		t.Fatalf("expected 2 failed records, got %d (%v)", n, err)
	}
	if err := store.Clear(context.Background(), "agent-1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
}
