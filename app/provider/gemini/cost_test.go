package gemini

import (
	"math"
	"testing"

	appconfig "grill-master/app/config"
)

func testGeminiConfig(key string) appconfig.GeminiConfig {
	return appconfig.GeminiConfig{APIKey: key, Model: "gemini-3-pro-preview", TwdRate: 32}
}

// TestCalculateCostUSD: cached tokens are billed at the cache rate and
// thinking tokens at the output rate.
func TestCalculateCostUSD(t *testing.T) {
	usage := &usageMetadata{
		PromptTokenCount:        1_000_000,
		CachedContentTokenCount: 400_000,
		CandidatesTokenCount:    200_000,
		ThoughtsTokenCount:      100_000,
	}

	// 600k 输入 + 400k 缓存 + 300k 输出（含思考）
	want := 0.6*2.00 + 0.4*0.20 + 0.3*12.00
	got := calculateCostUSD("gemini-3-pro-preview", usage)
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("cost = %f, want %f", got, want)
	}
}

// TestCalculateCostUSDUnknownModel: models without a price entry cost zero.
func TestCalculateCostUSDUnknownModel(t *testing.T) {
	usage := &usageMetadata{PromptTokenCount: 1_000_000}
	if got := calculateCostUSD("no-such-model", usage); got != 0 {
		t.Fatalf("cost = %f, want 0", got)
	}
}

// TestCalculateCostUSDNegativeInputClamped: cached count exceeding the prompt
// count never produces a negative input charge.
func TestCalculateCostUSDNegativeInputClamped(t *testing.T) {
	usage := &usageMetadata{
		PromptTokenCount:        100,
		CachedContentTokenCount: 500,
	}
	want := float64(500) / 1e6 * 0.20
	got := calculateCostUSD("gemini-3-pro-preview", usage)
	if math.Abs(got-want) > 1e-12 {
		t.Fatalf("cost = %f, want %f", got, want)
	}
}

func TestCalculateCostUSDNilUsage(t *testing.T) {
	if got := calculateCostUSD("gemini-3-pro-preview", nil); got != 0 {
		t.Fatalf("cost = %f, want 0", got)
	}
}

// TestStorageNameStable: the remote file name is a stable function of
// project, model and key, and differs per key.
func TestStorageNameStable(t *testing.T) {
	p1 := New(testGeminiConfig("key-a"))
	p2 := New(testGeminiConfig("key-b"))

	a := p1.storageName("project-1")
	if a != p1.storageName("project-1") {
		t.Fatal("storage name not deterministic")
	}
	if len(a) != 32 {
		t.Fatalf("storage name length = %d, want 32 hex chars", len(a))
	}
	if a == p2.storageName("project-1") {
		t.Fatal("storage name should depend on the api key")
	}
	if a == p1.storageName("project-2") {
		t.Fatal("storage name should depend on the project")
	}
}
