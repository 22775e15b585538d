package planner

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"SwapAgent-Chain/internal/llm"
)

func reply(text string, err error) llm.Client {
	return llm.ClientFunc(func(context.Context, string) (string, error) {
		return text, err
	})
}

func TestPlanTasksFallsBackToDefaultPlan(t *testing.T) {
	cases := map[string]llm.Client{
		"nil client":    nil,
		"network error": reply("", errors.New("timeout")),
		"not json":      reply("I would start by looking at prices.", nil),
		"empty array":   reply("[]", nil),
		"all invalid":   reply(`[{"type":"","description":"x","order":1},{"type":"a","description":"b","order":0}]`, nil),
	}
	for name, client := range cases {
		tasks := New(client).PlanTasks(context.Background(), "swap 1 near", "10")
		if !reflect.DeepEqual(tasks, DefaultPlan()) {
			t.Fatalf("%s: expected default plan, got %+v", name, tasks)
		}
		for i := 1; i < len(tasks); i++ {
			if tasks[i-1].Order > tasks[i].Order {
				t.Fatalf("%s: default plan not sorted", name)
			}
		}
	}
}

func TestPlanTasksParsesFencedOutputAndSorts(t *testing.T) {
	raw := "```json\n[" +
		`{"type":"execute_swap","description":"swap","order":3},` +
		`{"type":"fetch_tokens","description":"fetch","order":"1"},` +
		`{"type":"","description":"dropped","order":2},` +
		`{"type":"predict_token","description":"predict","order":2}` +
		"]\n```"
	plan := New(reply(raw, nil)).Plan(context.Background(), "goal", "1")
	if plan.Source != SourceLLM {
		t.Fatalf("expected llm plan, got %s (%s)", plan.Source, plan.Reason)
	}
	var types []string
	for _, task := range plan.Tasks {
		types = append(types, task.Type)
	}
	if strings.Join(types, ",") != "fetch_tokens,predict_token,execute_swap" {
		t.Fatalf("unexpected order: %v", types)
	}
}

func TestPromptCarriesGoalAndBalance(t *testing.T) {
	var captured string
	client := llm.ClientFunc(func(_ context.Context, prompt string) (string, error) {
		captured = prompt
		return "[]", nil
	})
	New(client).PlanTasks(context.Background(), "buy btc", "12.5")
	if !strings.Contains(captured, "buy btc") || !strings.Contains(captured, "12.5 NEAR") {
		t.Fatalf("prompt missing context: %s", captured)
	}
}
