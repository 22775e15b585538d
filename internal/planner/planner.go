// Package planner 调用大模型把自然语言目标拆解为有序的任务步骤。
// 计划仅用于记录与展示，不影响编排器的实际执行顺序。
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"SwapAgent-Chain/internal/llm"
	"SwapAgent-Chain/pkg/logger"
)

// PlannedTask 为计划中的单个步骤。
type PlannedTask struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Order       int    `json:"order"`
}

// Source 标记计划来源。
type Source string

const (
	SourceLLM     Source = "llm"
	SourceDefault Source = "default"
)

// Plan 为一次规划的结果。
type Plan struct {
	Tasks  []PlannedTask `json:"tasks"`
	Source Source        `json:"source"`
	Reason string        `json:"reason,omitempty"`
}

// DefaultPlan 返回固定的五步计划。
func DefaultPlan() []PlannedTask {
	return []PlannedTask{
		{Type: "fetch_tokens", Description: "Fetch available tokens with liquidity", Order: 1},
		{Type: "analyze_market", Description: "Analyze market conditions", Order: 2},
		{Type: "predict_token", Description: "Predict the best token to buy", Order: 3},
		{Type: "prepare_swap", Description: "Prepare swap transactions", Order: 4},
		{Type: "execute_swap", Description: "Execute the swap on chain", Order: 5},
	}
}

// Planner 负责任务规划。
type Planner struct {
	client llm.Client
	logger *slog.Logger
}

// New 创建 Planner。client 为空时始终返回默认计划。
func New(client llm.Client) *Planner {
	return &Planner{client: client, logger: logger.Named("planner")}
}

// PlanTasks 返回按 order 升序排列的非空任务列表。
func (p *Planner) PlanTasks(ctx context.Context, goal, balance string) []PlannedTask {
	return p.Plan(ctx, goal, balance).Tasks
}

// Plan 与 PlanTasks 相同，但额外返回计划来源。
func (p *Planner) Plan(ctx context.Context, goal, balance string) Plan {
	if p.client == nil {
		return Plan{Tasks: DefaultPlan(), Source: SourceDefault, Reason: "no model configured"}
	}

	raw, err := p.client.Complete(ctx, buildPrompt(goal, balance))
	if err != nil {
		p.logger.Warn("任务规划调用失败，使用默认计划", slog.Any("error", err))
		return Plan{Tasks: DefaultPlan(), Source: SourceDefault, Reason: err.Error()}
	}

	result := llm.DecodeJSON[[]rawTask](raw)
	entries, ok := result.Get()
	if !ok {
		p.logger.Warn("任务规划输出无法解析，使用默认计划", slog.String("reason", result.Reason()))
		return Plan{Tasks: DefaultPlan(), Source: SourceDefault, Reason: "malformed output: " + result.Reason()}
	}

	tasks := validTasks(entries)
	if len(tasks) == 0 {
		p.logger.Warn("任务规划输出为空，使用默认计划")
		return Plan{Tasks: DefaultPlan(), Source: SourceDefault, Reason: "no valid tasks"}
	}
	return Plan{Tasks: tasks, Source: SourceLLM}
}

type rawTask struct {
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Order       flexOrder `json:"order"`
}

// flexOrder 同时接受数字和数字字符串。
type flexOrder int

func (o *flexOrder) UnmarshalJSON(data []byte) error {
	text := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if text == "" || text == "null" {
		*o = 0
		return nil
	}
	value, err := strconv.ParseFloat(text, 64)
	if err != nil {
		*o = 0
		return nil
	}
	*o = flexOrder(int(value))
	return nil
}

func validTasks(entries []rawTask) []PlannedTask {
	tasks := make([]PlannedTask, 0, len(entries))
	for _, entry := range entries {
		typ := strings.TrimSpace(entry.Type)
		desc := strings.TrimSpace(entry.Description)
		if typ == "" || desc == "" || entry.Order == 0 {
			continue
		}
		tasks = append(tasks, PlannedTask{Type: typ, Description: desc, Order: int(entry.Order)})
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].Order < tasks[j].Order
	})
	return tasks
}

func buildPrompt(goal, balance string) string {
	example, _ := json.Marshal(DefaultPlan()[:2])

	var b strings.Builder
	b.WriteString("You are the planning module of an autonomous trading agent on NEAR.\n")
	b.WriteString("The agent can: fetch tokens that have liquidity against wNEAR, analyze prices, ")
	b.WriteString("predict the best token to buy, prepare swap transactions and execute a single-hop swap.\n\n")
	b.WriteString(fmt.Sprintf("Goal: %s\n", strings.TrimSpace(goal)))
	b.WriteString(fmt.Sprintf("Current balance: %s NEAR\n\n", strings.TrimSpace(balance)))
	b.WriteString("Reply with a JSON array only. Each element must have a non-empty \"type\", ")
	b.WriteString("a non-empty \"description\" and a positive integer \"order\". Example:\n")
	b.Write(example)
	b.WriteString("\n")
	return b.String()
}
