package learning

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/davrin/sprintd/internal/events"
)

// Learning rates. Approvals compound faster than single failures erode them.
const (
	successRate = 0.15
	failureRate = 0.10
)

// Decision thresholds.
const (
	initialConfidence  = 0.5
	approvalThreshold  = 0.85
	rejectionThreshold = 0.7
	formatThreshold    = 0.5
	minUsageCount      = 3
)

// defaultMinShared is the minimum shared-keyword count for a pattern match.
const defaultMinShared = 2

// Config tunes pattern matching.
type Config struct {
	MinSharedKeywords int // minimum keyword overlap for a match (default 2)
}

// Engine learns patterns from human decisions and predicts auto-approvals.
type Engine struct {
	store     PatternStore
	bus       *events.Bus
	minShared int
}

// NewEngine creates a learning engine over the given pattern store.
func NewEngine(store PatternStore, bus *events.Bus, cfg Config) *Engine {
	minShared := cfg.MinSharedKeywords
	if minShared <= 0 {
		minShared = defaultMinShared
	}
	return &Engine{store: store, bus: bus, minShared: minShared}
}

// AutoApproveResult is the outcome of an auto-approval check.
type AutoApproveResult struct {
	AutoApprove bool    `json:"auto_approve"`
	Confidence  float64 `json:"confidence"`
	PatternID   string  `json:"pattern_id,omitempty"`
}

// LearnFromApproval records a human approval for the given text.
func (e *Engine) LearnFromApproval(ctx context.Context, projectID, itemType, text string) error {
	return e.learn(ctx, projectID, itemType, KindApproval, text, "")
}

// LearnFromRejection records a human rejection for the given text.
func (e *Engine) LearnFromRejection(ctx context.Context, projectID, itemType, text string) error {
	return e.learn(ctx, projectID, itemType, KindRejection, text, "")
}

// LearnFromEdit records a human edit. When the corrected text follows the
// story template ("as a ... i want ... so that ...") the pattern also seeds
// GetSuggestedFormat.
func (e *Engine) LearnFromEdit(ctx context.Context, projectID, itemType, originalText, correctedText string) error {
	corrected := ""
	if matchesStoryTemplate(correctedText) {
		corrected = correctedText
	}
	return e.learn(ctx, projectID, itemType, KindEditFormat, originalText, corrected)
}

func (e *Engine) learn(ctx context.Context, projectID, itemType string, kind Kind, text, correctedText string) error {
	keywords := ExtractKeywords(text)

	e.bus.Publish(events.NewTypedEventForProject(events.SourceLearning, events.LearningPayload{
		Kind:     string(kind),
		ItemType: itemType,
		Keywords: len(keywords),
	}, projectID))

	if len(keywords) == 0 {
		return nil
	}

	match, err := e.bestMatch(ctx, projectID, kind, keywords)
	if err != nil {
		return err
	}

	if match != nil {
		match.recordSuccess(successRate)
		if correctedText != "" {
			match.CorrectedText = correctedText
		}
		if err := e.store.Update(ctx, match); err != nil {
			return fmt.Errorf("update pattern: %w", err)
		}
		e.bus.Publish(events.NewTypedEventForProject(events.SourceLearning, events.PatternUpdatedPayload{
			PatternID:  match.ID,
			Kind:       string(match.Kind),
			Confidence: match.Confidence,
			UsageCount: match.UsageCount,
		}, projectID))
		return nil
	}

	p := &Pattern{
		ProjectID:     projectID,
		Kind:          kind,
		ItemType:      itemType,
		Keywords:      keywords,
		CorrectedText: correctedText,
		Confidence:    initialConfidence,
		UsageCount:    1,
		SuccessCount:  1,
	}
	if err := e.store.Create(ctx, p); err != nil {
		return fmt.Errorf("create pattern: %w", err)
	}
	e.bus.Publish(events.NewTypedEventForProject(events.SourceLearning, events.PatternLearnedPayload{
		PatternID:  p.ID,
		Kind:       string(p.Kind),
		Confidence: p.Confidence,
	}, projectID))
	return nil
}

// RecordTaskOutcome feeds an execution outcome back into matching approval
// patterns: success reinforces, failure erodes.
func (e *Engine) RecordTaskOutcome(ctx context.Context, projectID, itemType, text string, success bool) error {
	keywords := ExtractKeywords(text)
	if len(keywords) == 0 {
		return nil
	}

	match, err := e.bestMatch(ctx, projectID, KindApproval, keywords)
	if err != nil {
		return err
	}
	if match == nil {
		return nil
	}

	if success {
		match.recordSuccess(successRate)
	} else {
		match.recordFailure(failureRate)
	}
	if err := e.store.Update(ctx, match); err != nil {
		return fmt.Errorf("update pattern: %w", err)
	}

	e.bus.Publish(events.NewTypedEventForProject(events.SourceLearning, events.PatternUpdatedPayload{
		PatternID:  match.ID,
		Kind:       string(match.Kind),
		Confidence: match.Confidence,
		UsageCount: match.UsageCount,
	}, projectID))
	return nil
}

// ShouldAutoApprove decides whether text matches a trusted approval pattern
// with no conflicting trusted rejection pattern.
func (e *Engine) ShouldAutoApprove(ctx context.Context, projectID, itemType, text string) (AutoApproveResult, error) {
	keywords := ExtractKeywords(text)
	if len(keywords) == 0 {
		return AutoApproveResult{}, nil
	}

	// A confident rejection pattern vetoes regardless of approval confidence.
	rejections, err := e.store.ListByKind(ctx, projectID, KindRejection)
	if err != nil {
		return AutoApproveResult{}, err
	}
	for _, p := range rejections {
		if p.sharedKeywords(keywords) >= e.minShared && p.Confidence >= rejectionThreshold {
			slog.Debug("auto-approve vetoed by rejection pattern",
				"project_id", projectID, "pattern_id", p.ID, "confidence", p.Confidence)
			return AutoApproveResult{}, nil
		}
	}

	best, err := e.bestMatch(ctx, projectID, KindApproval, keywords)
	if err != nil {
		return AutoApproveResult{}, err
	}
	if best == nil || best.Confidence < approvalThreshold || best.UsageCount < minUsageCount {
		return AutoApproveResult{}, nil
	}

	e.bus.Publish(events.NewTypedEventForProject(events.SourceLearning, events.AutoApprovePayload{
		PatternID:  best.ID,
		Confidence: best.Confidence,
	}, projectID))

	return AutoApproveResult{AutoApprove: true, Confidence: best.Confidence, PatternID: best.ID}, nil
}

// GetSuggestedFormat returns the corrected text of the most confident
// edit_format pattern, or "" when none clears the format threshold.
func (e *Engine) GetSuggestedFormat(ctx context.Context, projectID string) (string, error) {
	patterns, err := e.store.ListByKind(ctx, projectID, KindEditFormat)
	if err != nil {
		return "", err
	}

	var best *Pattern
	for _, p := range patterns {
		if p.CorrectedText == "" {
			continue
		}
		if best == nil || p.Confidence > best.Confidence {
			best = p
		}
	}
	if best == nil || best.Confidence < formatThreshold {
		return "", nil
	}
	return best.CorrectedText, nil
}

// CleanupLowConfidencePatterns deletes patterns below threshold, emitting
// patterns-cleaned only when rows were actually removed.
func (e *Engine) CleanupLowConfidencePatterns(ctx context.Context, projectID string, threshold float64) (int, error) {
	deleted, err := e.store.DeleteBelowConfidence(ctx, projectID, threshold)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		e.bus.Publish(events.NewTypedEventForProject(events.SourceLearning, events.PatternsCleanedPayload{
			Deleted:   deleted,
			Threshold: threshold,
		}, projectID))
	}
	return deleted, nil
}

// Patterns returns all learned patterns for a project, most confident first.
func (e *Engine) Patterns(ctx context.Context, projectID string) ([]*Pattern, error) {
	return e.store.ListByProject(ctx, projectID)
}

// Projects returns the distinct projects that have learned patterns.
func (e *Engine) Projects(ctx context.Context) ([]string, error) {
	return e.store.Projects(ctx)
}

// bestMatch returns the matching pattern with the most shared keywords,
// highest confidence breaking ties. Returns nil when nothing clears minShared.
func (e *Engine) bestMatch(ctx context.Context, projectID string, kind Kind, keywords []string) (*Pattern, error) {
	patterns, err := e.store.ListByKind(ctx, projectID, kind)
	if err != nil {
		return nil, fmt.Errorf("list %s patterns: %w", kind, err)
	}

	var best *Pattern
	bestShared := 0
	for _, p := range patterns {
		shared := p.sharedKeywords(keywords)
		if shared < e.minShared {
			continue
		}
		if shared > bestShared || (shared == bestShared && best != nil && p.Confidence > best.Confidence) {
			best = p
			bestShared = shared
		}
	}
	return best, nil
}

// matchesStoryTemplate reports whether text follows the
// "As a ... I want ... so that ..." user-story template.
func matchesStoryTemplate(text string) bool {
	lower := strings.ToLower(text)
	asIdx := strings.Index(lower, "as a")
	wantIdx := strings.Index(lower, "i want")
	soIdx := strings.Index(lower, "so that")
	return asIdx >= 0 && wantIdx > asIdx && soIdx > wantIdx
}
