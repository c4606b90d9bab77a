package consultation

import (
	"context"
	"errors"
	"fmt"
)

// Capabilities is the prompt-execution backend. Each method maps to one
// structured prompt; any failure (transport, timeout, invalid output) comes
// back as an error, normally a *CapabilityError.
type Capabilities interface {
	ConductConsultation(ctx context.Context, req ConsultationRequest) (ConsultationResult, error)
	AnalyzeSymptoms(ctx context.Context, req AnalysisRequest) (AnalysisResult, error)
	GenerateTreatmentPlan(ctx context.Context, req TreatmentPlanRequest) (TreatmentPlan, error)
	SuggestFollowUpQuestions(ctx context.Context, req FollowUpRequest) (FollowUpQuestions, error)
	SummarizeCondition(ctx context.Context, req ConditionSummaryRequest) (ConditionSummary, error)
}

// Capability names, used in errors, logs and metric labels.
const (
	CapConsultation     = "consultation"
	CapAnalysis         = "analysis"
	CapTreatmentPlan    = "treatment_plan"
	CapFollowUpQuestion = "follow_up_questions"
	CapConditionSummary = "condition_summary"
)

// CapabilityError reports a failed capability invocation.
type CapabilityError struct {
	Capability string
	Err        error
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("capability %s failed: %v", e.Capability, e.Err)
}

func (e *CapabilityError) Unwrap() error { return e.Err }

// NewCapabilityError wraps err unless it already is a CapabilityError.
func NewCapabilityError(capability string, err error) error {
	if err == nil {
		return nil
	}
	var ce *CapabilityError
	if errors.As(err, &ce) {
		return err
	}
	return &CapabilityError{Capability: capability, Err: err}
}
