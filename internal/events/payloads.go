package events

import (
	"encoding/json"
	"time"
)

// EventPayload is the interface all typed payloads implement.
type EventPayload interface {
	EventType() EventType
}

// =============================================================================
// TASK EVENTS
// =============================================================================

type TaskQueuedPayload struct {
	TaskID       string `json:"task_id"`
	Title        string `json:"title"`
	Priority     string `json:"priority"`
	Autonomy     string `json:"autonomy"`
	Dependencies int    `json:"dependencies,omitempty"`
}

func (TaskQueuedPayload) EventType() EventType { return EventTaskQueued }

type TaskStartedPayload struct {
	TaskID string `json:"task_id"`
	Title  string `json:"title"`
}

func (TaskStartedPayload) EventType() EventType { return EventTaskStarted }

type TaskCompletedPayload struct {
	TaskID        string        `json:"task_id"`
	Title         string        `json:"title"`
	ResultSummary string        `json:"result_summary,omitempty"`
	Duration      time.Duration `json:"duration,omitempty"`
}

func (TaskCompletedPayload) EventType() EventType { return EventTaskCompleted }

type TaskFailedPayload struct {
	TaskID     string `json:"task_id"`
	Title      string `json:"title"`
	Error      string `json:"error"`
	RetryCount int    `json:"retry_count"`
	WillRetry  bool   `json:"will_retry"`
}

func (TaskFailedPayload) EventType() EventType { return EventTaskFailed }

type TaskCancelledPayload struct {
	TaskID string `json:"task_id"`
	Reason string `json:"reason,omitempty"`
}

func (TaskCancelledPayload) EventType() EventType { return EventTaskCancelled }

// =============================================================================
// SPRINT EVENTS
// =============================================================================

type SprintPlanningStartedPayload struct {
	Capacity int `json:"capacity"`
}

func (SprintPlanningStartedPayload) EventType() EventType { return EventSprintPlanningStarted }

type SprintCreatedPayload struct {
	SprintID        string `json:"sprint_id"`
	Name            string `json:"name"`
	SelectedItems   int    `json:"selected_items"`
	CommittedPoints int    `json:"committed_points"`
	CapacityPoints  int    `json:"capacity_points"`
}

func (SprintCreatedPayload) EventType() EventType { return EventSprintCreated }

type SprintCompletedPayload struct {
	SprintID string `json:"sprint_id"`
	Name     string `json:"name"`
}

func (SprintCompletedPayload) EventType() EventType { return EventSprintCompleted }

type DecompositionErrorPayload struct {
	SprintID string `json:"sprint_id"`
	ItemID   string `json:"item_id"`
	Error    string `json:"error"`
}

func (DecompositionErrorPayload) EventType() EventType { return EventDecompositionError }

// =============================================================================
// LEARNING EVENTS
// =============================================================================

type LearningPayload struct {
	Kind     string `json:"kind"` // "approval" | "rejection" | "edit_format"
	ItemType string `json:"item_type"`
	Keywords int    `json:"keywords"`
}

func (LearningPayload) EventType() EventType { return EventLearning }

type PatternLearnedPayload struct {
	PatternID  string  `json:"pattern_id"`
	Kind       string  `json:"kind"`
	Confidence float64 `json:"confidence"`
}

func (PatternLearnedPayload) EventType() EventType { return EventPatternLearned }

type PatternUpdatedPayload struct {
	PatternID  string  `json:"pattern_id"`
	Kind       string  `json:"kind"`
	Confidence float64 `json:"confidence"`
	UsageCount int     `json:"usage_count"`
}

func (PatternUpdatedPayload) EventType() EventType { return EventPatternUpdated }

type AutoApprovePayload struct {
	PatternID  string  `json:"pattern_id,omitempty"`
	TaskID     string  `json:"task_id,omitempty"`
	Confidence float64 `json:"confidence"`
}

func (AutoApprovePayload) EventType() EventType { return EventAutoApproveTrigger }

type PatternsCleanedPayload struct {
	Deleted   int     `json:"deleted"`
	Threshold float64 `json:"threshold"`
}

func (PatternsCleanedPayload) EventType() EventType { return EventPatternsCleaned }

// =============================================================================
// MEMORY EVENTS
// =============================================================================

type SessionStartedPayload struct {
	SessionID string `json:"session_id"`
	AgentType string `json:"agent_type"`
}

func (SessionStartedPayload) EventType() EventType { return EventSessionStarted }

type SessionEndedPayload struct {
	SessionID string `json:"session_id"`
}

func (SessionEndedPayload) EventType() EventType { return EventSessionEnded }

type SessionClearedPayload struct {
	SessionID string `json:"session_id"`
}

func (SessionClearedPayload) EventType() EventType { return EventSessionCleared }

type DecisionRecordedPayload struct {
	SessionID string `json:"session_id"`
	Decision  string `json:"decision"`
}

func (DecisionRecordedPayload) EventType() EventType { return EventDecisionRecorded }

type ItemCreatedPayload struct {
	SessionID string `json:"session_id"`
	Item      string `json:"item"`
}

func (ItemCreatedPayload) EventType() EventType { return EventItemCreated }

type RejectionRecordedPayload struct {
	SessionID  string `json:"session_id"`
	Suggestion string `json:"suggestion"`
}

func (RejectionRecordedPayload) EventType() EventType { return EventRejectionRecorded }

type StoryDiscussedPayload struct {
	SessionID string `json:"session_id"`
	StoryID   string `json:"story_id"`
}

func (StoryDiscussedPayload) EventType() EventType { return EventStoryDiscussed }

type MemoryCleanedPayload struct {
	Deleted int `json:"deleted"`
}

func (MemoryCleanedPayload) EventType() EventType { return EventMemoryCleaned }

type ProjectMemoryClearedPayload struct {
	Deleted int `json:"deleted"`
}

func (ProjectMemoryClearedPayload) EventType() EventType { return EventProjectMemoryCleared }

// =============================================================================
// TYPED EVENT CONSTRUCTORS
// =============================================================================

func NewTypedEvent(source EventSource, payload EventPayload) Event {
	return Event{
		ID:        generateEventID(),
		Type:      payload.EventType(),
		Timestamp: time.Now(),
		Source:    source,
		Payload:   toMap(payload),
	}
}

func NewTypedEventForProject(source EventSource, payload EventPayload, projectID string) Event {
	return Event{
		ID:        generateEventID(),
		ProjectID: projectID,
		Type:      payload.EventType(),
		Timestamp: time.Now(),
		Source:    source,
		Payload:   toMap(payload),
	}
}

func toMap(v any) map[string]any {
	var result map[string]any
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}
