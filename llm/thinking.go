package llm

import "fmt"

// ThinkingEffort represents the level of reasoning effort for models that support extended thinking
type ThinkingEffort string

const (
	ThinkingOff    ThinkingEffort = "off"
	ThinkingLow    ThinkingEffort = "low"
	ThinkingMedium ThinkingEffort = "medium"
	ThinkingHigh   ThinkingEffort = "high"
)

// ParseThinkingEffort converts a string to ThinkingEffort, returning error if invalid
func ParseThinkingEffort(s string) (ThinkingEffort, error) {
	switch s {
	case "", "off":
		return ThinkingOff, nil
	case "low":
		return ThinkingLow, nil
	case "medium":
		return ThinkingMedium, nil
	case "high":
		return ThinkingHigh, nil
	default:
		return "", fmt.Errorf("invalid thinking effort %q: must be off, low, medium, or high", s)
	}
}

// IsEnabled returns true if thinking is enabled (not off or empty)
func (e ThinkingEffort) IsEnabled() bool {
	return e != "" && e != ThinkingOff
}

// budgets are thinking token allowances for low, medium and high effort
type budgets [3]int

var (
	anthropicBudgets = budgets{4096, 8192, 16384}
	geminiBudgets    = budgets{1024, 4096, 12288}
)

// budget picks e's allowance from b. Unknown efforts get the medium budget.
func (e ThinkingEffort) budget(b budgets) int {
	switch e {
	case ThinkingLow:
		return b[0]
	case ThinkingHigh:
		return b[2]
	default:
		return b[1]
	}
}
