package gemini

// modelCost 每 100 万 token 的美元单价
type modelCost struct {
	Input    float64
	CacheHit float64
	Output   float64
}

// pricing 按模型的单价表，未知模型记零成本
var pricing = map[string]modelCost{
	"gemini-3-flash-preview": {Input: 0.50, CacheHit: 0.10, Output: 3.00},
	"gemini-3-pro-preview":   {Input: 2.00, CacheHit: 0.20, Output: 12.00},
}

// usageMetadata generateContent 响应的用量字段
type usageMetadata struct {
	PromptTokenCount        int64 `json:"promptTokenCount"`
	CachedContentTokenCount int64 `json:"cachedContentTokenCount"`
	CandidatesTokenCount    int64 `json:"candidatesTokenCount"`
	ThoughtsTokenCount      int64 `json:"thoughtsTokenCount"`
}

// calculateCostUSD 单次响应的美元成本。
// promptTokenCount 含缓存命中，需扣除；思考 token 按输出价计费。
func calculateCostUSD(model string, usage *usageMetadata) float64 {
	if usage == nil {
		return 0
	}
	p, ok := pricing[model]
	if !ok {
		return 0
	}

	actualInput := usage.PromptTokenCount - usage.CachedContentTokenCount
	if actualInput < 0 {
		actualInput = 0
	}

	cost := float64(actualInput) / 1e6 * p.Input
	cost += float64(usage.CachedContentTokenCount) / 1e6 * p.CacheHit
	cost += float64(usage.CandidatesTokenCount) / 1e6 * p.Output
	cost += float64(usage.ThoughtsTokenCount) / 1e6 * p.Output
	return cost
}
