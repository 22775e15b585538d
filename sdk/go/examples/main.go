package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"SwapAgent-Chain/sdk/go/agentd"
)

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "agentd base URL")
	owner := flag.String("owner", "demo-user", "owner identity sent in X-Owner-ID")
	goal := flag.String("goal", "Swap 0.5 NEAR into a stable coin", "agent goal")
	flag.Parse()

	client, err := agentd.NewClient(*baseURL, *owner, nil)
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	agent, err := client.CreateAgent(ctx, agentd.CreateAgentRequest{Goal: *goal})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("created agent %s (account %s, balance %s)\n", agent.ID, agent.AccountID, agent.Balance)

	result, err := client.Execute(ctx, agent.ID)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("run success=%v stage=%s error=%q\n", result.Success, result.Stage, result.Error)
	if result.Swap != nil && result.Swap.TransactionHash != "" {
		fmt.Printf("swap tx %s\n", result.Swap.TransactionHash)
	}

	tasks, err := client.ListTasks(ctx, agent.ID, agentd.TaskQuery{OldestFirst: true})
	if err != nil {
		log.Fatal(err)
	}
	for _, task := range tasks {
		fmt.Printf("  %-14s %-10s %s\n", task.Type, task.Status, task.Description)
	}
}
