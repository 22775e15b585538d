// Package llm defines the completion capability used by the planner and the
// predictor, and the tagged result type that every JSON extraction from
// model output goes through. Providers live in sub-packages.
package llm
