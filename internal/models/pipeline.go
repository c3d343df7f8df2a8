package models

import "time"

// RunStatus is the overall status of a pipeline run.
type RunStatus string

const (
	RunScheduled      RunStatus = "scheduled"
	RunRunning        RunStatus = "running"
	RunCompleted      RunStatus = "completed"
	RunPartialFailure RunStatus = "partial-failure"
	RunFailed         RunStatus = "failed"
)

// RunType describes what triggered a pipeline run.
type RunType string

const (
	RunTypeDaily     RunType = "daily"
	RunTypeT0Seeding RunType = "t0-seeding"
	RunTypeRetry     RunType = "retry"
	RunTypeManual    RunType = "manual"
)

// ValidRunTypes is the set of all valid run types.
var ValidRunTypes = []RunType{RunTypeDaily, RunTypeT0Seeding, RunTypeRetry, RunTypeManual}

// IsValid returns true if the run type is recognized.
func (rt RunType) IsValid() bool {
	for _, v := range ValidRunTypes {
		if rt == v {
			return true
		}
	}
	return false
}

// Stage names one step of the per-user pipeline.
type Stage string

const (
	StageIngestion        Stage = "ingestion"
	StageKnowledgeUpdate  Stage = "knowledge-update"
	StageNoveltyFiltering Stage = "novelty-filtering"
	StageScoring          Stage = "scoring"
	StageComposition      Stage = "composition"
	StagePersistence      Stage = "persistence"
	StageDelivery         Stage = "delivery"
)

// StageOrder is the fixed stage topology of a pipeline run.
var StageOrder = []Stage{
	StageIngestion,
	StageKnowledgeUpdate,
	StageNoveltyFiltering,
	StageScoring,
	StageComposition,
	StagePersistence,
	StageDelivery,
}

// StageOutcome is the result of a single stage.
type StageOutcome string

const (
	OutcomeSuccess        StageOutcome = "success"
	OutcomePartialFailure StageOutcome = "partial-failure"
	OutcomeFailure        StageOutcome = "failure"
	OutcomeSkipped        StageOutcome = "skipped"
)

// PipelineStageResult records what happened in one stage.
type PipelineStageResult struct {
	Stage            Stage        `json:"stage"`
	Outcome          StageOutcome `json:"outcome"`
	StartedAt        time.Time    `json:"started_at"`
	CompletedAt      *time.Time   `json:"completed_at,omitempty"`
	SignalsProcessed int          `json:"signals_processed"`
	SignalsPassed    int          `json:"signals_passed"`
	ErrorMessage     string       `json:"error_message,omitempty"`
}

// PipelineRun is one orchestration attempt for one user.
type PipelineRun struct {
	ID               string                `json:"id"`
	UserID           string                `json:"user_id"`
	Status           RunStatus             `json:"status"`
	RunType          RunType               `json:"run_type"`
	Stages           []PipelineStageResult `json:"stages"`
	BriefingID       string                `json:"briefing_id,omitempty"`
	StartedAt        time.Time             `json:"started_at"`
	CompletedAt      *time.Time            `json:"completed_at,omitempty"`
	ErrorMessage     string                `json:"error_message,omitempty"`
	PromptTokens     int64                 `json:"prompt_tokens"`
	CompletionTokens int64                 `json:"completion_tokens"`
}

// Stage returns the recorded result for the given stage, or nil.
func (r *PipelineRun) Stage(s Stage) *PipelineStageResult {
	for i := range r.Stages {
		if r.Stages[i].Stage == s {
			return &r.Stages[i]
		}
	}
	return nil
}

// IsTerminal reports whether the run has finished.
func (r *PipelineRun) IsTerminal() bool {
	switch r.Status {
	case RunCompleted, RunPartialFailure, RunFailed:
		return true
	}
	return false
}
