package agent

import (
	"context"
	stdErrors "errors"
	"strings"
	"sync"
	"testing"
	"time"

	"SwapAgent-Chain/internal/catalog"
	"SwapAgent-Chain/internal/dex"
	xerrors "SwapAgent-Chain/internal/errors"
	"SwapAgent-Chain/internal/observability/alerting"
	"SwapAgent-Chain/internal/predictor"
	"SwapAgent-Chain/internal/task"
)

type swapCall struct {
	accountID string
	rawKey    string
	tokenOut  string
	amount    string
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (d *recordingDispatcher) Notify(_ context.Context, event alerting.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
	return nil
}

type blockingPredictor struct{}

func (blockingPredictor) PredictToken(ctx context.Context, _ []catalog.Token, _ string) (*predictor.Prediction, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func successfulSwap(calls *[]swapCall) Swapper {
	return swapperFunc(func(_ context.Context, accountID, rawKey, tokenOut, amount string) dex.SwapResult {
		*calls = append(*calls, swapCall{accountID: accountID, rawKey: rawKey, tokenOut: tokenOut, amount: amount})
		return dex.SwapResult{Success: true, TransactionHash: "tx-hash", AmountIn: amount, Submitted: []string{"tx-hash"}}
	})
}

func (f *fixture) orchestrator(swapper Swapper, opts ...OrchestratorOption) *Orchestrator {
	return NewOrchestrator(f.service, f.ledger, fakeBalances{balance: "12.5"}, staticPlanner{},
		staticTokens{tokens: testTokens}, predictor.New(nil), swapper, opts...)
}

func runRecords(t *testing.T, f *fixture, agentID string) []*task.Record {
	t.Helper()
	records, err := f.ledger.ListTasks(context.Background(), agentID,
		task.WithTypes(task.TypePlanTasks, task.TypeFetchTokens, task.TypePredictToken, task.TypeExecuteSwap),
		task.WithSortOrder(task.SortOldestFirst))
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	return records
}

func TestExecuteHappyPathSelectsStableToken(t *testing.T) {
	f := newFixture(t)
	agent := f.createAgent(t, "Buy a stable coin to protect my funds")
	var calls []swapCall
	sink := &recordingSink{}

	result := f.orchestrator(successfulSwap(&calls), WithStatusSink(sink)).Execute(context.Background(), agent.ID)
	if !result.Success || result.Stage != StageDone {
		t.Fatalf("expected success, got %+v", result)
	}
	if len(result.TaskIDs) != 4 {
		t.Fatalf("expected 4 task ids, got %v", result.TaskIDs)
	}
	if len(calls) != 1 {
		t.Fatalf("expected one swap, got %d", len(calls))
	}
	call := calls[0]
	if call.tokenOut != "usdt.tether-token.near" || call.amount != DefaultSwapAmount {
		t.Fatalf("unexpected swap call: %+v", call)
	}
	if call.accountID != agent.AccountID || call.rawKey != "ed25519:secret" {
		t.Fatalf("swap must use the agent key: %+v", call)
	}

	records := runRecords(t, f, agent.ID)
	wantTypes := []task.Type{task.TypePlanTasks, task.TypeFetchTokens, task.TypePredictToken, task.TypeExecuteSwap}
	if len(records) != len(wantTypes) {
		t.Fatalf("expected %d records, got %d", len(wantTypes), len(records))
	}
	for i, record := range records {
		if record.Type != wantTypes[i] || record.Status != task.StatusCompleted || record.CompletedAt == nil {
			t.Fatalf("record %d: unexpected %+v", i, record)
		}
	}
	if records[3].Output["transaction_hash"] != "tx-hash" {
		t.Fatalf("swap output missing hash: %+v", records[3].Output)
	}
	if !strings.Contains(sink.joined(), "USDt") {
		t.Fatalf("status messages should mention the token: %s", sink.joined())
	}

	stored, _ := f.repo.Get(context.Background(), agent.ID)
	if stored.Balance != "12.5" {
		t.Fatalf("run should refresh cached balance, got %s", stored.Balance)
	}
}

func TestExecuteUsesAmountFromGoal(t *testing.T) {
	f := newFixture(t)
	agent := f.createAgent(t, "Swap 2 NEAR into bitcoin")
	var calls []swapCall

	result := f.orchestrator(successfulSwap(&calls)).Execute(context.Background(), agent.ID)
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if calls[0].amount != "2" || calls[0].tokenOut != "wbtc.bridge.near" {
		t.Fatalf("unexpected swap call: %+v", calls[0])
	}
}

func TestExecuteSwapFailureMarksOneRecordFailed(t *testing.T) {
	f := newFixture(t)
	agent := f.createAgent(t, "grow my portfolio")
	alerts := &recordingDispatcher{}
	swapper := swapperFunc(func(context.Context, string, string, string, string) dex.SwapResult {
		return dex.SwapResult{Error: "transaction did not finalize in time"}
	})

	result := f.orchestrator(swapper, WithAlertDispatcher(alerts)).Execute(context.Background(), agent.ID)
	if result.Success {
		t.Fatalf("expected failure")
	}
	if !strings.Contains(result.Error, "did not finalize in time") || result.Code != CodeSwapFailed {
		t.Fatalf("unexpected error: %+v", result)
	}
	if result.Stage != StageSwapping || len(result.TaskIDs) != 4 {
		t.Fatalf("unexpected result: %+v", result)
	}

	failed := 0
	for _, record := range runRecords(t, f, agent.ID) {
		switch record.Status {
		case task.StatusFailed:
			failed++
			if record.Type != task.TypeExecuteSwap || !strings.Contains(record.ErrorMessage, "did not finalize in time") {
				t.Fatalf("unexpected failed record: %+v", record)
			}
		case task.StatusCompleted:
		default:
			t.Fatalf("no record may stay %s: %+v", record.Status, record)
		}
	}
	if failed != 1 {
		t.Fatalf("expected exactly one failed record, got %d", failed)
	}
	if len(alerts.events) != 0 {
		t.Fatalf("nothing was submitted, no alert expected: %+v", alerts.events)
	}
}

func TestExecutePartialSwapRaisesAlert(t *testing.T) {
	f := newFixture(t)
	agent := f.createAgent(t, "grow my portfolio")
	alerts := &recordingDispatcher{}
	swapper := swapperFunc(func(context.Context, string, string, string, string) dex.SwapResult {
		return dex.SwapResult{
			Submitted: []string{"storage-tx", "wrap-tx"},
			Error:     "swap transaction rejected",
		}
	})

	result := f.orchestrator(swapper, WithAlertDispatcher(alerts)).Execute(context.Background(), agent.ID)
	if result.Success || result.Swap == nil || len(result.Swap.Submitted) != 2 {
		t.Fatalf("expected failed result carrying submitted hashes, got %+v", result)
	}
	if len(alerts.events) != 1 {
		t.Fatalf("expected one alert, got %d", len(alerts.events))
	}
	event := alerts.events[0]
	if event.AgentID != agent.ID || event.AccountID != agent.AccountID || event.Code != CodeSwapFailed {
		t.Fatalf("unexpected alert: %+v", event)
	}
	if !strings.Contains(event.Metadata["submitted"], "wrap-tx") {
		t.Fatalf("alert must list submitted hashes: %+v", event.Metadata)
	}
}

func TestExecuteRecoversFromPanic(t *testing.T) {
	f := newFixture(t)
	agent := f.createAgent(t, "grow")
	alerts := &recordingDispatcher{}
	swapper := swapperFunc(func(context.Context, string, string, string, string) dex.SwapResult {
		panic("nil pool")
	})

	result := f.orchestrator(swapper, WithAlertDispatcher(alerts)).Execute(context.Background(), agent.ID)
	if result.Success || result.Code != CodeRunPanic {
		t.Fatalf("expected panic failure, got %+v", result)
	}
	for _, record := range runRecords(t, f, agent.ID) {
		if !record.Status.IsTerminal() {
			t.Fatalf("record left %s after panic: %+v", record.Status, record)
		}
	}
	if len(alerts.events) != 1 || alerts.events[0].Code != CodeRunPanic || alerts.events[0].Stage != string(StageSwapping) {
		t.Fatalf("expected one panic alert, got %+v", alerts.events)
	}

	// 锁在 panic 后必须释放。
	if again := f.orchestrator(successfulSwap(new([]swapCall))).Execute(context.Background(), agent.ID); !again.Success {
		t.Fatalf("second run should succeed, got %+v", again)
	}
}

func TestExecuteInactiveAgentCreatesNoTasks(t *testing.T) {
	f := newFixture(t)
	agent := f.createAgent(t, "grow")
	if _, err := f.service.SetStatus(context.Background(), agent.ID, StatusPaused); err != nil {
		t.Fatalf("pause: %v", err)
	}

	result := f.orchestrator(successfulSwap(new([]swapCall))).Execute(context.Background(), agent.ID)
	if result.Success || result.Code != CodeAgentInactive || len(result.TaskIDs) != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if records := runRecords(t, f, agent.ID); len(records) != 0 {
		t.Fatalf("expected no run records, got %d", len(records))
	}

	missing := f.orchestrator(successfulSwap(new([]swapCall))).Execute(context.Background(), "missing")
	if missing.Success || missing.Code != CodeAgentNotFound || missing.TaskIDs == nil {
		t.Fatalf("unexpected result for missing agent: %+v", missing)
	}
}

func TestExecuteRejectsConcurrentRun(t *testing.T) {
	f := newFixture(t)
	agent := f.createAgent(t, "grow")
	locker := NewMemoryLocker()
	release, err := locker.Acquire(context.Background(), lockKey(agent.ID), time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	result := f.orchestrator(successfulSwap(new([]swapCall)), WithLocker(locker)).Execute(context.Background(), agent.ID)
	if result.Success || result.Code != CodeAgentBusy {
		t.Fatalf("expected busy result, got %+v", result)
	}
	if !xerrors.RetryableError(ErrAgentBusy) {
		t.Fatalf("busy error must be retryable")
	}
}

func TestExecuteIgnoresCallerCancellation(t *testing.T) {
	f := newFixture(t)
	agent := f.createAgent(t, "swap 1 near for stable coins")
	callerCtx, cancelCaller := context.WithCancel(context.Background())
	defer cancelCaller()

	swapper := swapperFunc(func(ctx context.Context, _, _, tokenOut, amount string) dex.SwapResult {
		submitted := []string{"wrap-hash"}
		// 包装交易已经上链后调用方断开。
		cancelCaller()
		select {
		case <-ctx.Done():
			return dex.SwapResult{Submitted: submitted, Error: "swap interrupted", Err: ctx.Err()}
		case <-time.After(20 * time.Millisecond):
		}
		submitted = append(submitted, "swap-hash")
		return dex.SwapResult{Success: true, TransactionHash: "swap-hash", AmountIn: amount, Submitted: submitted}
	})

	result := f.orchestrator(swapper).Execute(callerCtx, agent.ID)
	if !result.Success || result.Stage != StageDone {
		t.Fatalf("caller cancellation must not interrupt the run, got %+v", result)
	}
	if result.Swap == nil || result.Swap.TransactionHash != "swap-hash" {
		t.Fatalf("unexpected swap result: %+v", result.Swap)
	}
	for _, record := range runRecords(t, f, agent.ID) {
		if record.Status != task.StatusCompleted {
			t.Fatalf("record not completed after caller cancellation: %+v", record)
		}
	}
}

func TestExecuteEnforcesRunBudget(t *testing.T) {
	f := newFixture(t)
	agent := f.createAgent(t, "grow")
	orchestrator := NewOrchestrator(f.service, f.ledger, fakeBalances{balance: "10"}, staticPlanner{},
		staticTokens{tokens: testTokens}, blockingPredictor{}, successfulSwap(new([]swapCall)),
		WithRunBudget(50*time.Millisecond))

	result := orchestrator.Execute(context.Background(), agent.ID)
	if result.Success || result.Code != CodeRunTimeout || result.Stage != StagePredicting {
		t.Fatalf("expected timeout during prediction, got %+v", result)
	}
	for _, record := range runRecords(t, f, agent.ID) {
		if !record.Status.IsTerminal() {
			t.Fatalf("record left %s after timeout: %+v", record.Status, record)
		}
	}
}

func TestExecuteEmptyCatalogFails(t *testing.T) {
	f := newFixture(t)
	agent := f.createAgent(t, "grow")
	orchestrator := NewOrchestrator(f.service, f.ledger, fakeBalances{err: stdErrors.New("rpc down")}, staticPlanner{},
		staticTokens{}, predictor.New(nil), successfulSwap(new([]swapCall)))

	result := orchestrator.Execute(context.Background(), agent.ID)
	if result.Success || result.Code != predictor.CodeEmptyCatalog || result.Stage != StageFetchingTokens {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(result.TaskIDs) != 2 {
		t.Fatalf("expected plan and fetch records, got %v", result.TaskIDs)
	}
}
