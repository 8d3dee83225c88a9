package llm

import (
	"strconv"
	"strings"
)

// MinThinkingBudget is the smallest budget the provider accepts.
const MinThinkingBudget = 1024

// DefaultThinkingLevel is used when no level is configured.
const DefaultThinkingLevel = "medium"

var thinkingBudgets = map[string]int64{
	"off":       0,
	"minimal":   1024,
	"low":       4000,
	"medium":    8000,
	"high":      16000,
	"very_high": 32000,
	"maximum":   64000,
}

// ThinkingBudget resolves a thinking level to a token budget.
// Named levels map to fixed budgets. A numeric level is used directly, raised to
// MinThinkingBudget when positive and 0 otherwise. Anything else falls back to
// the medium budget.
func ThinkingBudget(level string) int64 {
	level = strings.ToLower(strings.TrimSpace(level))
	if budget, ok := thinkingBudgets[level]; ok {
		return budget
	}
	n, err := strconv.ParseInt(level, 10, 64)
	if err != nil {
		return thinkingBudgets[DefaultThinkingLevel]
	}
	if n <= 0 {
		return 0
	}
	return max(MinThinkingBudget, n)
}

// ThinkingFor returns the thinking configuration for a level.
func ThinkingFor(level string) ThinkingConfig {
	budget := ThinkingBudget(level)
	return ThinkingConfig{Enabled: budget > 0, BudgetTokens: budget}
}

// ApplyThinking enables thinking on the request and adjusts the sampling
// parameters the provider requires with it: temperature is forced to 1 and
// max tokens is raised to at least twice the budget.
func (r *Request) ApplyThinking(cfg ThinkingConfig) {
	r.Thinking = cfg
	if !cfg.Enabled {
		return
	}
	r.Temperature = 1
	r.MaxTokens = max(r.MaxTokens, 2*cfg.BudgetTokens)
}
