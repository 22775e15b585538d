package runqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"SwapAgent-Chain/internal/agent"
	"SwapAgent-Chain/internal/observability/alerting"
)

type fakeRunner struct {
	processed atomic.Int32
	latency   time.Duration
	busyUntil atomic.Int32
	calls     atomic.Int32
}

func (f *fakeRunner) Execute(ctx context.Context, agentID string) agent.RunResult {
	call := f.calls.Add(1)
	if call <= f.busyUntil.Load() {
		return agent.RunResult{Code: agent.CodeAgentBusy, Error: "agent run already in progress"}
	}
	if f.latency > 0 {
		select {
		case <-time.After(f.latency):
		case <-ctx.Done():
			return agent.RunResult{Error: ctx.Err().Error()}
		}
	}
	f.processed.Add(1)
	return agent.RunResult{Success: true, TaskIDs: []string{agentID + "-task"}}
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

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.events)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, describe func() string) {
	t.Helper()
	deadline := time.After(timeout)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("condition not met: %s", describe())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestProcessorHandlesConcurrentRuns(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	queue := NewMemoryQueue(1024)
	runner := &fakeRunner{latency: 10 * time.Millisecond}

	service := NewService(queue)
	processor := NewProcessor(runner, queue, queue, WithWorkerCount(8))

	go func() {
		if err := processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("processor exited: %v", err)
		}
	}()

	total := 200
	for i := 0; i < total; i++ {
		if err := service.Submit(ctx, fmt.Sprintf("agent-%d", i)); err != nil {
			t.Fatalf("提交运行请求失败: %v", err)
		}
	}

	waitFor(t, 5*time.Second, func() bool { return int(runner.processed.Load()) >= total },
		func() string { return fmt.Sprintf("已完成 %d", runner.processed.Load()) })
}

func TestProcessorRequeuesBusyAgent(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	queue := NewMemoryQueue(16)
	runner := &fakeRunner{}
	runner.busyUntil.Store(2)
	processor := NewProcessor(runner, queue, queue, WithRequeue(3, time.Millisecond))

	go func() { _ = processor.Start(ctx) }()
	if err := queue.Publish(ctx, "agent-1"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return runner.processed.Load() == 1 },
		func() string { return fmt.Sprintf("calls=%d", runner.calls.Load()) })
	if calls := runner.calls.Load(); calls != 3 {
		t.Fatalf("expected 2 busy attempts and 1 run, got %d calls", calls)
	}
}

func TestProcessorDropsPersistentlyBusyAgent(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	queue := NewMemoryQueue(16)
	runner := &fakeRunner{}
	runner.busyUntil.Store(100)
	alerts := &recordingDispatcher{}
	processor := NewProcessor(runner, queue, queue, WithRequeue(2, time.Millisecond), WithAlertDispatcher(alerts))

	go func() { _ = processor.Start(ctx) }()
	if err := queue.Publish(ctx, "agent-1"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return alerts.count() == 1 },
		func() string { return fmt.Sprintf("alerts=%d", alerts.count()) })
	if calls := runner.calls.Load(); calls != 3 {
		t.Fatalf("expected initial attempt plus 2 requeues, got %d", calls)
	}
	if alerts.events[0].Code != CodeRunDropped || alerts.events[0].AgentID != "agent-1" {
		t.Fatalf("unexpected alert: %+v", alerts.events[0])
	}
}

func TestSubmitValidatesAgentID(t *testing.T) {
	service := NewService(NewMemoryQueue(1))
	if err := service.Submit(context.Background(), "  "); err == nil {
		t.Fatalf("expected error for empty agent id")
	}
	if err := NewService(nil).Submit(context.Background(), "agent-1"); err == nil {
		t.Fatalf("expected error without producer")
	}
}
