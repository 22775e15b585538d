package agent

import (
	"context"
	stdErrors "errors"
	"strings"
	"testing"

	xerrors "SwapAgent-Chain/internal/errors"
	"SwapAgent-Chain/internal/task"
)

func TestCreateAgentEncryptsKeyAndRecordsSetup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	agent := f.createAgent(t, "buy stable coins")
	if agent.Status != StatusActive || agent.Balance != "10" {
		t.Fatalf("unexpected agent: %+v", agent)
	}
	if !strings.HasPrefix(agent.Name, "Agent ") {
		t.Fatalf("expected default name, got %q", agent.Name)
	}
	if agent.EncryptedKey == "" || strings.Contains(agent.EncryptedKey, "secret") {
		t.Fatalf("private key must be stored encrypted: %q", agent.EncryptedKey)
	}
	plain, err := f.cipher.Decrypt(agent.EncryptedKey)
	if err != nil || plain != "ed25519:secret" {
		t.Fatalf("decrypt stored key: %q (%v)", plain, err)
	}

	records, err := f.ledger.ListTasks(ctx, agent.ID)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(records) != 1 || records[0].Type != task.TypeSetup || records[0].Status != task.StatusCompleted {
		t.Fatalf("expected one completed setup record, got %+v", records)
	}
	if records[0].Output["funded"] != true {
		t.Fatalf("unexpected setup output: %+v", records[0].Output)
	}
}

func TestCreateAgentUnfundedFlagsManualFunding(t *testing.T) {
	f := newFixture(t)
	f.service.provisioner = &fakeProvisioner{funded: false}

	agent := f.createAgent(t, "grow")
	if agent.Balance != "0" {
		t.Fatalf("expected zero balance, got %s", agent.Balance)
	}
	records, _ := f.ledger.ListTasks(context.Background(), agent.ID)
	if len(records) != 1 || records[0].Output["needs_manual_funding"] != true || records[0].Output["rate_limited"] != true {
		t.Fatalf("expected manual funding flag, got %+v", records)
	}
}

func TestCreateAgentValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.service.CreateAgent(ctx, CreateRequest{Owner: "owner-1", Goal: "  "}); xerrors.CodeOf(err) != CodeAgentValidation {
		t.Fatalf("expected validation error for empty goal, got %v", err)
	}
	if _, err := f.service.CreateAgent(ctx, CreateRequest{Goal: "grow"}); xerrors.CodeOf(err) != CodeAgentValidation {
		t.Fatalf("expected validation error for empty owner, got %v", err)
	}

	f.service.provisioner = &fakeProvisioner{err: stdErrors.New("rpc down")}
	if _, err := f.service.CreateAgent(ctx, CreateRequest{Owner: "owner-1", Goal: "grow"}); xerrors.CodeOf(err) != xerrors.CodeExternalService {
		t.Fatalf("expected external service error, got %v", err)
	}
}

func TestGetOwnedHidesOtherOwners(t *testing.T) {
	f := newFixture(t)
	agent := f.createAgent(t, "grow")

	if _, err := f.service.GetOwned(context.Background(), "owner-1", agent.ID); err != nil {
		t.Fatalf("owner should see agent: %v", err)
	}
	if _, err := f.service.GetOwned(context.Background(), "owner-2", agent.ID); !stdErrors.Is(err, ErrAgentNotFound) {
		t.Fatalf("expected not found for other owner, got %v", err)
	}
}

func TestSetStatusAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	agent := f.createAgent(t, "grow")

	paused, err := f.service.SetStatus(ctx, agent.ID, StatusPaused)
	if err != nil || paused.Status != StatusPaused {
		t.Fatalf("pause: %+v (%v)", paused, err)
	}
	if _, err := f.service.SetStatus(ctx, agent.ID, StatusDeleted); xerrors.CodeOf(err) != CodeAgentValidation {
		t.Fatalf("deleted must go through Delete, got %v", err)
	}

	if err := f.service.Delete(ctx, agent.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := f.service.Get(ctx, agent.ID); !stdErrors.Is(err, ErrAgentNotFound) {
		t.Fatalf("deleted agent must be hidden, got %v", err)
	}
	if records, _ := f.ledger.ListTasks(ctx, agent.ID); len(records) != 0 {
		t.Fatalf("history must be cleared, got %d records", len(records))
	}
	listed, _ := f.service.List(ctx, "owner-1")
	if len(listed) != 0 {
		t.Fatalf("deleted agent must not be listed, got %d", len(listed))
	}
}

func TestRefreshBalanceUpdatesCache(t *testing.T) {
	f := newFixture(t)
	f.service.balances = fakeBalances{balance: "7.25"}
	agent := f.createAgent(t, "grow")

	refreshed, err := f.service.RefreshBalance(context.Background(), agent.ID)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if refreshed.Balance != "7.25" {
		t.Fatalf("unexpected balance %s", refreshed.Balance)
	}
	stored, _ := f.repo.Get(context.Background(), agent.ID)
	if stored.Balance != "7.25" {
		t.Fatalf("balance not persisted: %s", stored.Balance)
	}
}

func TestLoadForRunRejectsInactiveAgents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	agent := f.createAgent(t, "grow")

	_, key, err := f.service.loadForRun(ctx, agent.ID)
	if err != nil || key != "ed25519:secret" {
		t.Fatalf("load active agent: %q (%v)", key, err)
	}

	if _, err := f.service.SetStatus(ctx, agent.ID, StatusPaused); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if _, _, err := f.service.loadForRun(ctx, agent.ID); !stdErrors.Is(err, ErrAgentInactive) {
		t.Fatalf("expected inactive error, got %v", err)
	}
	if _, _, err := f.service.loadForRun(ctx, "missing"); !stdErrors.Is(err, ErrAgentNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryLockerIsExclusive(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	release, err := locker.Acquire(ctx, lockKey("a"), 0)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := locker.Acquire(ctx, lockKey("a"), 0); !stdErrors.Is(err, ErrAgentBusy) {
		t.Fatalf("expected busy, got %v", err)
	}
	if _, err := locker.Acquire(ctx, lockKey("b"), 0); err != nil {
		t.Fatalf("other key must be free: %v", err)
	}
	release()
	release()
	if _, err := locker.Acquire(ctx, lockKey("a"), 0); err != nil {
		t.Fatalf("released key must be free: %v", err)
	}
}
