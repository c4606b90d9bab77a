package consultation

import (
	"context"
	"errors"
	"sync"
)

var errBackend = errors.New("backend unavailable")

// fakeCaps is a scripted Capabilities. Each hook may be nil, in which case
// the call fails with errBackend.
type fakeCaps struct {
	mu    sync.Mutex
	calls []string

	consult   func(ConsultationRequest) (ConsultationResult, error)
	analyze   func(AnalysisRequest) (AnalysisResult, error)
	treat     func(TreatmentPlanRequest) (TreatmentPlan, error)
	questions func(FollowUpRequest) (FollowUpQuestions, error)
	summary   func(ConditionSummaryRequest) (ConditionSummary, error)

	lastTreatment TreatmentPlanRequest
	lastConsult   ConsultationRequest
}

func (f *fakeCaps) record(name string) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
}

func (f *fakeCaps) callNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeCaps) ConductConsultation(ctx context.Context, req ConsultationRequest) (ConsultationResult, error) {
	f.record(CapConsultation)
	f.mu.Lock()
	f.lastConsult = req
	f.mu.Unlock()
	if f.consult == nil {
		return ConsultationResult{}, errBackend
	}
	return f.consult(req)
}

func (f *fakeCaps) AnalyzeSymptoms(ctx context.Context, req AnalysisRequest) (AnalysisResult, error) {
	f.record(CapAnalysis)
	if f.analyze == nil {
		return AnalysisResult{}, errBackend
	}
	return f.analyze(req)
}

func (f *fakeCaps) GenerateTreatmentPlan(ctx context.Context, req TreatmentPlanRequest) (TreatmentPlan, error) {
	f.record(CapTreatmentPlan)
	f.mu.Lock()
	f.lastTreatment = req
	f.mu.Unlock()
	if f.treat == nil {
		return TreatmentPlan{}, errBackend
	}
	return f.treat(req)
}

func (f *fakeCaps) SuggestFollowUpQuestions(ctx context.Context, req FollowUpRequest) (FollowUpQuestions, error) {
	f.record(CapFollowUpQuestion)
	if f.questions == nil {
		return FollowUpQuestions{}, errBackend
	}
	return f.questions(req)
}

func (f *fakeCaps) SummarizeCondition(ctx context.Context, req ConditionSummaryRequest) (ConditionSummary, error) {
	f.record(CapConditionSummary)
	if f.summary == nil {
		return ConditionSummary{}, errBackend
	}
	return f.summary(req)
}

func reply(text string, urgency UrgencyLevel, complete bool) func(ConsultationRequest) (ConsultationResult, error) {
	return func(ConsultationRequest) (ConsultationResult, error) {
		return ConsultationResult{
			DoctorResponse:     text,
			UrgencyLevel:       urgency,
			AssessmentComplete: complete,
		}, nil
	}
}

func conditions(names ...string) func(AnalysisRequest) (AnalysisResult, error) {
	return func(AnalysisRequest) (AnalysisResult, error) {
		return AnalysisResult{PossibleConditions: names, Reasoning: "test"}, nil
	}
}

func planOK(TreatmentPlanRequest) (TreatmentPlan, error) {
	return TreatmentPlan{ImmediateActions: []string{"Rest"}}, nil
}

// fakeReports records deliveries.
type fakeReports struct {
	mu      sync.Mutex
	alerts  []State
	reports []State
}

func (f *fakeReports) Render(s State) ([]byte, error) {
	return []byte("%PDF-fake " + s.ID.String()), nil
}

func (f *fakeReports) SendDoctorReport(ctx context.Context, s State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, s)
	return nil
}

func (f *fakeReports) AlertEmergency(ctx context.Context, s State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, s)
	return nil
}

func (f *fakeReports) counts() (alerts, reports int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.alerts), len(f.reports)
}
