package rules

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildSystemPrompt(t *testing.T) {
	r := Default()
	prompt := BuildSystemPrompt(Assistant{Name: "Docs Bot", CreatorName: "Ada", CustomInstructions: "Answer in French."}, r)

	assert.True(t, strings.HasPrefix(prompt, `You are the AI assistant for "Docs Bot", created by Ada.`))
	assert.Contains(t, prompt, "ABSOLUTE RULES")
	assert.Contains(t, prompt, "- Do not provide specific medical advice")
	assert.Contains(t, prompt, "ADDITIONAL INSTRUCTIONS FROM CREATOR:\nAnswer in French.")
}

func TestBuildSystemPrompt_ScopeToggles(t *testing.T) {
	r := Default()
	r.ScopeBoundaries = ScopeBoundaries{RejectHarmful: true}

	prompt := BuildSystemPrompt(Assistant{Name: "n", CreatorName: "c"}, r)
	assert.Contains(t, prompt, "- Refuse to provide harmful")
	assert.NotContains(t, prompt, "legal advice")
	assert.NotContains(t, prompt, "ADDITIONAL INSTRUCTIONS")

	r.ScopeBoundaries = ScopeBoundaries{}
	assert.NotContains(t, BuildSystemPrompt(Assistant{}, r), "SCOPE BOUNDARIES")
}

func TestBuildContextSection(t *testing.T) {
	assert.Equal(t, NoDocumentsContext, BuildContextSection(nil))

	section := BuildContextSection([]ChunkContext{
		{Content: "Go has goroutines.", DocumentName: "go.md", RelevanceScore: 0.876},
		{Content: "Page two.", DocumentName: "book.pdf", RelevanceScore: 0.5, PageNumber: 2},
	})
	assert.Contains(t, section, "--- Source 1 [go.md] (relevance: 88%) ---\nGo has goroutines.")
	assert.Contains(t, section, "--- Source 2 [book.pdf, page 2] (relevance: 50%) ---\nPage two.")
	assert.True(t, strings.HasPrefix(section, "CONTEXT FROM CORPUS:\n"))
}

func TestDetermineConfidence(t *testing.T) {
	r := Default()
	tests := []struct {
		scores []float64
		want   Confidence
	}{
		{nil, ConfidenceLow},
		{[]float64{0.9, 0.8}, ConfidenceHigh},
		{[]float64{0.7}, ConfidenceHigh},
		{[]float64{0.6, 0.5}, ConfidenceMedium},
		{[]float64{0.45}, ConfidenceLow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DetermineConfidence(tt.scores, r), "%v", tt.scores)
	}
}

func TestDetermineConfidence_Monotonic(t *testing.T) {
	r := Default()
	rank := map[Confidence]int{ConfidenceLow: 0, ConfidenceMedium: 1, ConfidenceHigh: 2}

	prev := ConfidenceLow
	for s := 0.0; s <= 1.0; s += 0.05 {
		got := DetermineConfidence([]float64{s, s}, r)
		assert.GreaterOrEqual(t, rank[got], rank[prev], "score %.2f", s)
		prev = got
	}
}

func TestAddUncertaintyPrefixIfNeeded(t *testing.T) {
	r := Default()
	prefix := r.UncertaintyDisclosure.UncertaintyPrefix

	assert.Equal(t, "Yes.", AddUncertaintyPrefixIfNeeded("Yes.", ConfidenceHigh, r))

	once := AddUncertaintyPrefixIfNeeded("the answer is 42.", ConfidenceMedium, r)
	assert.Equal(t, prefix+"the answer is 42.", once)
	assert.Equal(t, once, AddUncertaintyPrefixIfNeeded(once, ConfidenceLow, r))

	upper := strings.ToUpper(prefix) + "x"
	assert.Equal(t, upper, AddUncertaintyPrefixIfNeeded(upper, ConfidenceLow, r))

	r.UncertaintyDisclosure.Enabled = false
	assert.Equal(t, "x", AddUncertaintyPrefixIfNeeded("x", ConfidenceLow, r))
}

func TestValidateResponse(t *testing.T) {
	r := Default()

	v := ValidateResponse(strings.Repeat("long answer ", 10), nil, r)
	assert.True(t, v.Valid)
	assert.Equal(t, []string{"Response has no cited sources"}, v.Warnings)

	v = ValidateResponse("As an AI, I think so.", []float64{0.9, 0.6, 0.8, 0.95}, r)
	assert.True(t, v.Valid)
	assert.Contains(t, v.Warnings, "Response cites 4 sources, max is 3")
	assert.Contains(t, v.Warnings, "1 source(s) have low confidence scores")
	assert.Contains(t, v.Warnings, "Response mentions being an AI")

	v = ValidateResponse("Per my training data, I don't have access.", []float64{0.9}, r)
	assert.Contains(t, v.Warnings, "Response mentions access limitations")
	assert.Contains(t, v.Warnings, "Response mentions training data")
	assert.Empty(t, v.Errors)
}
