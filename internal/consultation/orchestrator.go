package consultation

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"medichat/internal/observability"
)

// User-facing fallback texts.
const (
	GenericApology = "I apologize, but I encountered an error. Please try rephrasing your message or start over with your symptoms."

	AnalysisApology = "I apologize, but I encountered an issue while analyzing your symptoms. Let me ask you a few more questions to better understand your condition."

	EmergencyAdvisory = "🚨 URGENT: Based on your symptoms, you should seek immediate medical attention. Please go to the nearest emergency room or call emergency services right away."
)

// Orchestrator sequences capability calls for a single conversation turn.
// It holds no per-conversation data; all of that lives in the State passed
// to ProcessTurn.
type Orchestrator struct {
	caps    Capabilities
	timeout time.Duration
	logger  zerolog.Logger
}

// NewOrchestrator builds an orchestrator. A zero timeout disables the
// per-call deadline.
func NewOrchestrator(caps Capabilities, timeout time.Duration, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{caps: caps, timeout: timeout, logger: logger}
}

// ProcessTurn runs one patient message through the consultation pipeline and
// returns the items to show, in display order, together with the updated
// state. It never returns an error: every failure degrades to an apology.
func (o *Orchestrator) ProcessTurn(ctx context.Context, userMessage string, state *State) (items []ResponseItem, out *State) {
	if state == nil {
		state = NewState(uuid.New())
	}
	out = state
	log := o.logger.With().Str("consultation_id", state.ID.String()).Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("turn aborted")
			observability.RecordTurn("aborted")
			items = []ResponseItem{TextItem{Text: GenericApology}}
		}
	}()

	snapshot := state.Clone()

	// 1. The patient's words are always kept.
	state.AppendMessage(SenderPatient, userMessage)
	userEntry := state.ConversationHistory[len(state.ConversationHistory)-1]

	// 2. Doctor consultation turn.
	result, err := callCapability(ctx, o, CapConsultation, func(ctx context.Context) (ConsultationResult, error) {
		return o.caps.ConductConsultation(ctx, ConsultationRequest{
			PatientMessage:      userMessage,
			ConversationHistory: append([]Message(nil), state.ConversationHistory...),
			CurrentDiagnosis:    state.WorkingDiagnosis,
			GatheringInfo:       state.Phase == PhaseGatheringInfo,
		})
	})
	if err != nil {
		log.Warn().Err(err).Msg("consultation turn failed, rolling back")
		*state = *snapshot
		state.ConversationHistory = append(state.ConversationHistory, userEntry)
		state.UpdatedAt = userEntry.Timestamp
		observability.RecordTurn("consultation_failed")
		return []ResponseItem{TextItem{Text: GenericApology}}, state
	}

	// 3. Record the doctor's reply.
	items = append(items, ConsultationItem{Consultation: result})
	state.AppendMessage(SenderDoctor, result.DoctorResponse)
	state.SetUrgency(result.UrgencyLevel)

	// 4. Diagnosis and treatment once enough information is gathered.
	if result.AssessmentComplete && state.Phase == PhaseGatheringInfo {
		items = append(items, o.diagnose(ctx, state, log)...)
	}

	// 5. Emergency banner always leads.
	if state.UrgencyLevel == UrgencyEmergency {
		observability.RecordEmergency()
		items = append([]ResponseItem{TextItem{Text: EmergencyAdvisory}}, items...)
	}

	observability.RecordTurn("ok")
	return items, state
}

func (o *Orchestrator) diagnose(ctx context.Context, state *State, log zerolog.Logger) []ResponseItem {
	var items []ResponseItem
	o.advance(state, PhaseDiagnosis, log)
	state.MergePatientInfo(Extract(state.ConversationHistory))

	corpus := state.PatientCorpus()
	analysis, err := callCapability(ctx, o, CapAnalysis, func(ctx context.Context) (AnalysisResult, error) {
		return o.caps.AnalyzeSymptoms(ctx, AnalysisRequest{Symptoms: corpus})
	})
	if err != nil {
		log.Warn().Err(err).Msg("symptom analysis failed")
		return append(items, TextItem{Text: AnalysisApology})
	}
	items = append(items, AnalysisItem{Analysis: analysis})

	if len(analysis.PossibleConditions) > 0 {
		if top := strings.TrimSpace(analysis.PossibleConditions[0]); top != "" {
			state.WorkingDiagnosis = top
		}
	}
	if state.WorkingDiagnosis == "" {
		return items
	}

	info := state.PatientInfo
	plan, err := callCapability(ctx, o, CapTreatmentPlan, func(ctx context.Context) (TreatmentPlan, error) {
		return o.caps.GenerateTreatmentPlan(ctx, TreatmentPlanRequest{
			Condition:          state.WorkingDiagnosis,
			Symptoms:           corpus,
			Severity:           MapUrgencyToSeverity(state.UrgencyLevel),
			PatientAge:         info.Age,
			PatientAllergies:   nonNil(info.Allergies),
			CurrentMedications: nonNil(info.CurrentMedications),
		})
	})
	if err != nil {
		log.Warn().Err(err).Str("condition", state.WorkingDiagnosis).Msg("treatment plan skipped")
		return items
	}
	plan.Condition = state.WorkingDiagnosis
	items = append(items, TreatmentPlanItem{TreatmentPlan: plan})
	o.advance(state, PhaseTreatmentPlanning, log)
	return items
}

func (o *Orchestrator) advance(state *State, next Phase, log zerolog.Logger) {
	from := state.Phase
	if state.AdvancePhase(next) {
		observability.RecordPhaseTransition(string(from), string(next))
		log.Info().Str("from", string(from)).Str("to", string(next)).Msg("phase advanced")
	}
}

// callCapability applies the per-call deadline, records metrics and tags the
// error with the capability name.
func callCapability[T any](ctx context.Context, o *Orchestrator, name string, fn func(context.Context) (T, error)) (T, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	start := time.Now()
	res, err := fn(ctx)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	observability.RecordCapability(name, err == nil, time.Since(start))
	if err != nil {
		var zero T
		return zero, NewCapabilityError(name, err)
	}
	return res, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return append([]string(nil), s...)
}
