// Package learning implements the pattern store and confidence-based
// auto-approval engine.
//
// Patterns associate normalized keywords with observed human decisions
// (approvals, rejections, edit formats). Confidence follows an asymmetric
// exponential update: approvals compound faster than single failures erode
// them.
package learning

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind classifies what a pattern predicts.
type Kind string

const (
	KindApproval   Kind = "approval"
	KindRejection  Kind = "rejection"
	KindEditFormat Kind = "edit_format"
)

// Pattern is a learned keyword-to-outcome association.
type Pattern struct {
	ID            string     `json:"id"`
	ProjectID     string     `json:"project_id"`
	Kind          Kind       `json:"kind"`
	ItemType      string     `json:"item_type,omitempty"`
	Keywords      []string   `json:"keywords"`
	CorrectedText string     `json:"corrected_text,omitempty"` // edit_format only
	Confidence    float64    `json:"confidence"`
	UsageCount    int        `json:"usage_count"`
	SuccessCount  int        `json:"success_count"`
	FailureCount  int        `json:"failure_count"`
	LastUsedAt    *time.Time `json:"last_used_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// sharedKeywords counts keywords present in both the pattern and the given set.
func (p *Pattern) sharedKeywords(keywords []string) int {
	set := make(map[string]bool, len(p.Keywords))
	for _, k := range p.Keywords {
		set[k] = true
	}
	shared := 0
	for _, k := range keywords {
		if set[k] {
			shared++
		}
	}
	return shared
}

// recordSuccess applies the success side of the confidence update:
// confidence += (1 - confidence) * rate, clamped to [0,1].
func (p *Pattern) recordSuccess(rate float64) {
	p.Confidence += (1 - p.Confidence) * rate
	p.Confidence = clamp(p.Confidence)
	p.UsageCount++
	p.SuccessCount++
	now := time.Now()
	p.LastUsedAt = &now
}

// recordFailure applies the failure side: confidence -= confidence * rate.
func (p *Pattern) recordFailure(rate float64) {
	p.Confidence -= p.Confidence * rate
	p.Confidence = clamp(p.Confidence)
	p.UsageCount++
	p.FailureCount++
	now := time.Now()
	p.LastUsedAt = &now
}

func clamp(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// GeneratePatternID creates a unique pattern identifier.
func GeneratePatternID() string {
	u := uuid.New().String()
	return "pat_" + strings.ReplaceAll(u[:8], "-", "")
}
