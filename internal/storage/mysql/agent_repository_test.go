package mysql

import (
	"context"
	"database/sql/driver"
	stdErrors "errors"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"

	"SwapAgent-Chain/internal/agent"
	"SwapAgent-Chain/internal/testutil/sqlmock"
)

var agentRowColumns = []string{"id", "owner", "name", "goal", "account_id", "public_key", "encrypted_key", "balance", "status", "created_at", "updated_at"}

const (
	insertAgentSQL = `INSERT INTO agents (` + agentColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	selectAgentSQL = `SELECT ` + agentColumns + ` FROM agents WHERE id = ?`
	listAgentsSQL  = `SELECT ` + agentColumns + ` FROM agents WHERE owner = ? AND status <> ? ORDER BY created_at DESC, id DESC`
	updateStatus   = `UPDATE agents SET status = ?, updated_at = ? WHERE id = ?`
	updateBalance  = `UPDATE agents SET balance = ?, updated_at = ? WHERE id = ?`
	createdMillis  = int64(1700000000000)
)

func agentRow(id, status string) []driver.Value {
	return []driver.Value{id, "owner-1", "Agent " + id, "buy stable", id + ".testnet", "ed25519:pub", "iv:cipher", "10", status, createdMillis, createdMillis}
}

func sampleAgent() *agent.Agent {
	created := time.UnixMilli(createdMillis)
	return &agent.Agent{
		ID:           "agent-1",
		Owner:        "owner-1",
		Name:         "Agent agent-1",
		Goal:         "buy stable",
		AccountID:    "agent-1.testnet",
		PublicKey:    "ed25519:pub",
		EncryptedKey: "iv:cipher",
		Balance:      "10",
		Status:       agent.StatusActive,
		CreatedAt:    created,
		UpdatedAt:    created,
	}
}

func TestAgentRepositoryCreate(t *testing.T) {
	t.Parallel()

	db, drv := sqlmock.New(t,
		sqlmock.Exec(insertAgentSQL, sqlmock.Result{RowsAffected: 1}).
			WithArgs("agent-1", "owner-1", "Agent agent-1", "buy stable", "agent-1.testnet", "ed25519:pub", "iv:cipher", "10", "active", createdMillis, createdMillis),
		sqlmock.Exec(insertAgentSQL, sqlmock.Result{}).WithErr(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}),
	)
	defer drv.AssertConsumed(t)
	defer db.Close()

	repo, err := NewAgentRepository(db)
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}
	if err := repo.Create(context.Background(), sampleAgent()); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Create(context.Background(), sampleAgent()); !stdErrors.Is(err, agent.ErrAgentConflict) {
		t.Fatalf("expected ErrAgentConflict, got %v", err)
	}
}

func TestAgentRepositoryGet(t *testing.T) {
	t.Parallel()

	db, drv := sqlmock.New(t,
		sqlmock.Query(selectAgentSQL, sqlmock.Rows{Columns: agentRowColumns, Values: [][]driver.Value{agentRow("agent-1", "paused")}}).WithArgs("agent-1"),
		sqlmock.Query(selectAgentSQL, sqlmock.Rows{Columns: agentRowColumns}),
	)
	defer drv.AssertConsumed(t)
	defer db.Close()

	repo := &AgentRepository{db: db}
	got, err := repo.Get(context.Background(), "agent-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != agent.StatusPaused || got.EncryptedKey != "iv:cipher" || got.CreatedAt.UnixMilli() != createdMillis {
		t.Fatalf("unexpected agent: %+v", got)
	}
	if _, err := repo.Get(context.Background(), "missing"); !stdErrors.Is(err, agent.ErrAgentNotFound) {
		t.Fatalf("expected ErrAgentNotFound, got %v", err)
	}
}

func TestAgentRepositoryListByOwner(t *testing.T) {
	t.Parallel()

	db, drv := sqlmock.New(t,
		sqlmock.Query(listAgentsSQL, sqlmock.Rows{
			Columns: agentRowColumns,
			Values:  [][]driver.Value{agentRow("agent-2", "active"), agentRow("agent-1", "paused")},
		}).WithArgs("owner-1", "deleted"),
	)
	defer drv.AssertConsumed(t)
	defer db.Close()

	repo := &AgentRepository{db: db}
	agents, err := repo.ListByOwner(context.Background(), "owner-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(agents) != 2 || agents[0].ID != "agent-2" {
		t.Fatalf("unexpected agents: %+v", agents)
	}
}

func TestAgentRepositoryUpdates(t *testing.T) {
	t.Parallel()

	updated := time.UnixMilli(createdMillis + 1000)
	db, drv := sqlmock.New(t,
		sqlmock.Exec(updateStatus, sqlmock.Result{RowsAffected: 1}).WithArgs("paused", createdMillis+1000, "agent-1"),
		sqlmock.Exec(updateBalance, sqlmock.Result{RowsAffected: 0}),
		sqlmock.Query(selectAgentSQL, sqlmock.Rows{Columns: agentRowColumns, Values: [][]driver.Value{agentRow("agent-1", "active")}}),
		sqlmock.Exec(updateBalance, sqlmock.Result{RowsAffected: 0}),
		sqlmock.Query(selectAgentSQL, sqlmock.Rows{Columns: agentRowColumns}),
	)
	defer drv.AssertConsumed(t)
	defer db.Close()

	repo := &AgentRepository{db: db}
	ctx := context.Background()
	if err := repo.UpdateStatus(ctx, "agent-1", agent.StatusPaused, updated); err != nil {
		t.Fatalf("update status: %v", err)
	}
	if err := repo.UpdateBalance(ctx, "agent-1", "10", updated); err != nil {
		t.Fatalf("unchanged balance must not be an error: %v", err)
	}
	if err := repo.UpdateBalance(ctx, "missing", "10", updated); !stdErrors.Is(err, agent.ErrAgentNotFound) {
		t.Fatalf("expected ErrAgentNotFound, got %v", err)
	}
}
