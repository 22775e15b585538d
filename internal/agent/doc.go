// Package agent contains the autonomous swap agents: their records, the
// creation flow that provisions and funds a chain account, and the
// orchestrator that drives one run through planning, token discovery,
// prediction and the on-chain swap while writing every stage to the task
// history.
package agent
