package llm

import (
	"sync"
	"time"
)

var modelPricing = map[string]struct {
	InputPer1M  float64
	OutputPer1M float64
}{
	"gpt-4o-mini": {InputPer1M: 0.15, OutputPer1M: 0.60},
	"gpt-4o":      {InputPer1M: 2.50, OutputPer1M: 10.00},
	"gpt-4.1":     {InputPer1M: 2.00, OutputPer1M: 8.00},
}

// CalculateCost returns the USD cost of a completion. Unknown models cost zero.
func CalculateCost(model string, promptTokens, completionTokens int) float64 {
	pricing, ok := modelPricing[model]
	if !ok {
		return 0
	}
	return float64(promptTokens)/1_000_000*pricing.InputPer1M +
		float64(completionTokens)/1_000_000*pricing.OutputPer1M
}

// CostTracker accumulates oracle spend per model and per day.
type CostTracker struct {
	mu         sync.RWMutex
	totalCost  float64
	requests   int64
	dailyCost  map[string]float64
	modelUsage map[string]int64
}

func NewCostTracker() *CostTracker {
	return &CostTracker{
		dailyCost:  make(map[string]float64),
		modelUsage: make(map[string]int64),
	}
}

func (t *CostTracker) Track(model string, inputTokens, outputTokens int) float64 {
	cost := CalculateCost(model, inputTokens, outputTokens)

	t.mu.Lock()
	t.totalCost += cost
	t.requests++
	t.dailyCost[time.Now().UTC().Format("2006-01-02")] += cost
	t.modelUsage[model] += int64(inputTokens + outputTokens)
	t.mu.Unlock()
	return cost
}

type CostStats struct {
	TotalCost  float64            `json:"total_cost"`
	Requests   int64              `json:"requests"`
	DailyCost  map[string]float64 `json:"daily_cost"`
	ModelUsage map[string]int64   `json:"model_tokens"`
}

func (t *CostTracker) Stats() CostStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := CostStats{
		TotalCost:  t.totalCost,
		Requests:   t.requests,
		DailyCost:  make(map[string]float64, len(t.dailyCost)),
		ModelUsage: make(map[string]int64, len(t.modelUsage)),
	}
	for k, v := range t.dailyCost {
		s.DailyCost[k] = v
	}
	for k, v := range t.modelUsage {
		s.ModelUsage[k] = v
	}
	return s
}
