// Package rules builds prompts from tenant behavior rules and grades answers
// against them. Everything here is pure and safe for concurrent use.
package rules

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

// CorpusOnly restricts answers to the indexed documents.
type CorpusOnly struct {
	Enabled         bool   `yaml:"enabled"`
	FallbackMessage string `yaml:"fallback_message"`
}

// SourceCitation configures source checks.
type SourceCitation struct {
	Enabled               bool    `yaml:"enabled"`
	MinConfidenceScore    float64 `yaml:"min_confidence_score"`
	MaxSourcesPerResponse int     `yaml:"max_sources_per_response"`
}

// UncertaintyDisclosure configures the prefix added to uncertain answers.
type UncertaintyDisclosure struct {
	Enabled                bool    `yaml:"enabled"`
	LowConfidenceThreshold float64 `yaml:"low_confidence_threshold"`
	UncertaintyPrefix      string  `yaml:"uncertainty_prefix"`
}

// ScopeBoundaries toggles the topics the assistant must refuse.
type ScopeBoundaries struct {
	RejectOffTopic      bool `yaml:"reject_off_topic"`
	RejectHarmful       bool `yaml:"reject_harmful"`
	RejectLegalAdvice   bool `yaml:"reject_legal_advice"`
	RejectMedicalAdvice bool `yaml:"reject_medical_advice"`
}

// Rules are the behavior rules of one tenant assistant.
type Rules struct {
	CorpusOnly            CorpusOnly            `yaml:"corpus_only"`
	SourceCitation        SourceCitation        `yaml:"source_citation"`
	UncertaintyDisclosure UncertaintyDisclosure `yaml:"uncertainty_disclosure"`
	ScopeBoundaries       ScopeBoundaries       `yaml:"scope_boundaries"`
}

// Default returns the rules applied when a tenant configures none.
func Default() Rules {
	return Rules{
		CorpusOnly: CorpusOnly{
			Enabled:         true,
			FallbackMessage: "I don't have this information in my knowledge base. Could you rephrase your question or contact the creator directly?",
		},
		SourceCitation: SourceCitation{
			Enabled:               true,
			MinConfidenceScore:    0.7,
			MaxSourcesPerResponse: 3,
		},
		UncertaintyDisclosure: UncertaintyDisclosure{
			Enabled:                true,
			LowConfidenceThreshold: 0.5,
			UncertaintyPrefix:      "Based on the available documents, ",
		},
		ScopeBoundaries: ScopeBoundaries{
			RejectOffTopic:      true,
			RejectHarmful:       true,
			RejectLegalAdvice:   true,
			RejectMedicalAdvice: true,
		},
	}
}

// Assistant identifies the tenant assistant a system prompt is built for.
type Assistant struct {
	Name        string
	CreatorName string
	// CustomInstructions are appended verbatim when set.
	CustomInstructions string
}

const coreRules = `ABSOLUTE RULES - YOU MUST FOLLOW THESE:
1. You can ONLY answer based on the documents in your corpus
2. If you cannot find the information, say so honestly
3. Always cite your sources with the document name
4. NEVER make assumptions beyond what's in the corpus
5. NEVER provide advice that could be harmful`

// BuildSystemPrompt assembles the system prompt of an assistant.
func BuildSystemPrompt(a Assistant, r Rules) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the AI assistant for \"%s\", created by %s.\n\n", a.Name, a.CreatorName)
	b.WriteString(coreRules)
	if scope := scopeRules(r.ScopeBoundaries); scope != "" {
		b.WriteString("\n\n")
		b.WriteString(scope)
	}
	if a.CustomInstructions != "" {
		b.WriteString("\n\nADDITIONAL INSTRUCTIONS FROM CREATOR:\n")
		b.WriteString(a.CustomInstructions)
	}
	b.WriteString("\n\nRemember: Your purpose is to faithfully transmit the knowledge from your corpus, not to generate new information. When in doubt, acknowledge uncertainty.")
	return b.String()
}

func scopeRules(s ScopeBoundaries) string {
	var lines []string
	if s.RejectOffTopic {
		lines = append(lines, "- Stay focused on topics covered in your corpus")
	}
	if s.RejectHarmful {
		lines = append(lines, "- Refuse to provide harmful, dangerous, or unethical content")
	}
	if s.RejectLegalAdvice {
		lines = append(lines, "- Do not provide specific legal advice - suggest consulting a professional")
	}
	if s.RejectMedicalAdvice {
		lines = append(lines, "- Do not provide specific medical advice - suggest consulting a healthcare professional")
	}
	if len(lines) == 0 {
		return ""
	}
	return "SCOPE BOUNDARIES:\n" + strings.Join(lines, "\n")
}

// ChunkContext is a retrieved chunk rendered into the context section.
type ChunkContext struct {
	Content        string
	DocumentName   string
	RelevanceScore float64
	// PageNumber is omitted from the label when zero.
	PageNumber int
}

// NoDocumentsContext is the context section used when nothing was retrieved.
const NoDocumentsContext = "CONTEXT:\nNo relevant documents found for this query."

// BuildContextSection renders retrieved chunks as labeled, scored blocks.
// It never returns an empty string.
func BuildContextSection(chunks []ChunkContext) string {
	if len(chunks) == 0 {
		return NoDocumentsContext
	}
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		label := "[" + c.DocumentName + "]"
		if c.PageNumber > 0 {
			label = fmt.Sprintf("[%s, page %d]", c.DocumentName, c.PageNumber)
		}
		parts[i] = fmt.Sprintf("--- Source %d %s (relevance: %d%%) ---\n%s",
			i+1, label, int(math.Round(c.RelevanceScore*100)), c.Content)
	}
	return "CONTEXT FROM CORPUS:\n" + strings.Join(parts, "\n\n") +
		"\n\n---\nUse the above context to answer the user's question. Cite sources using [Document Name] format."
}

// Confidence grades how well an answer is supported by its sources.
type Confidence string

// Confidence levels.
const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// DetermineConfidence grades the mean relevance of scores. No scores is low.
func DetermineConfidence(scores []float64, r Rules) Confidence {
	if len(scores) == 0 {
		return ConfidenceLow
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	avg := sum / float64(len(scores))
	switch {
	case avg >= r.SourceCitation.MinConfidenceScore:
		return ConfidenceHigh
	case avg >= r.UncertaintyDisclosure.LowConfidenceThreshold:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// AddUncertaintyPrefixIfNeeded prepends the disclosure phrase to medium and
// low confidence answers unless it is already there.
func AddUncertaintyPrefixIfNeeded(response string, c Confidence, r Rules) string {
	if !r.UncertaintyDisclosure.Enabled || c == ConfidenceHigh {
		return response
	}
	prefix := r.UncertaintyDisclosure.UncertaintyPrefix
	if prefix == "" || strings.HasPrefix(strings.ToLower(response), strings.ToLower(prefix)) {
		return response
	}
	return prefix + response
}

// Validation lists the problems found in an answer. Warnings never block delivery.
type Validation struct {
	Valid    bool
	Warnings []string
	Errors   []string
}

var leakPatterns = []struct {
	pattern *regexp.Regexp
	message string
}{
	{regexp.MustCompile(`(?i)as an ai`), "Response mentions being an AI"},
	{regexp.MustCompile(`(?i)i don't have access`), "Response mentions access limitations"},
	{regexp.MustCompile(`(?i)my training`), "Response mentions training data"},
}

// ValidateResponse lints an answer against the rules.
func ValidateResponse(response string, scores []float64, r Rules) Validation {
	var warnings []string
	if r.SourceCitation.Enabled {
		if len(scores) == 0 && len(response) > 100 {
			warnings = append(warnings, "Response has no cited sources")
		}
		if len(scores) > r.SourceCitation.MaxSourcesPerResponse {
			warnings = append(warnings, fmt.Sprintf("Response cites %d sources, max is %d",
				len(scores), r.SourceCitation.MaxSourcesPerResponse))
		}
		low := 0
		for _, s := range scores {
			if s < r.SourceCitation.MinConfidenceScore {
				low++
			}
		}
		if low > 0 {
			warnings = append(warnings, fmt.Sprintf("%d source(s) have low confidence scores", low))
		}
	}
	for _, p := range leakPatterns {
		if p.pattern.MatchString(response) {
			warnings = append(warnings, p.message)
		}
	}
	return Validation{Valid: true, Warnings: warnings}
}
