package consultation

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewState starts a conversation in the gathering_info phase.
func NewState(id uuid.UUID) *State {
	now := time.Now()
	return &State{
		ID:                  id,
		Phase:               PhaseGatheringInfo,
		ConversationHistory: []Message{},
		UrgencyLevel:        UrgencyLow,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// AppendMessage records an utterance at the end of the history.
func (s *State) AppendMessage(sender Sender, text string) {
	now := time.Now()
	s.ConversationHistory = append(s.ConversationHistory, Message{
		Sender: sender, Message: text, Timestamp: now,
	})
	s.UpdatedAt = now
}

// MergePatientInfo fills fields that are still unset. Known values are never
// replaced, so repeated merges only ever add information.
func (s *State) MergePatientInfo(partial PatientInfo) {
	info := &s.PatientInfo
	if info.Age == nil && partial.Age != nil {
		age := *partial.Age
		info.Age = &age
	}
	if info.PainLevel == nil && partial.PainLevel != nil {
		pain := *partial.PainLevel
		info.PainLevel = &pain
	}
	if len(info.Allergies) == 0 && len(partial.Allergies) > 0 {
		info.Allergies = uniqueStrings(partial.Allergies)
	}
	if len(info.CurrentMedications) == 0 && len(partial.CurrentMedications) > 0 {
		info.CurrentMedications = uniqueStrings(partial.CurrentMedications)
	}
	if info.SymptomDuration == "" && partial.SymptomDuration != "" {
		info.SymptomDuration = partial.SymptomDuration
	}
}

func (s *State) SetUrgency(level UrgencyLevel) {
	s.UrgencyLevel = level
}

// AdvancePhase moves to next if that is a forward transition and reports
// whether the phase changed. Invalid transitions are ignored.
func (s *State) AdvancePhase(next Phase) bool {
	if !validTransition(s.Phase, next) {
		return false
	}
	s.Phase = next
	return true
}

func validTransition(from, to Phase) bool {
	switch from {
	case PhaseGatheringInfo:
		return to == PhaseDiagnosis
	case PhaseDiagnosis:
		return to == PhaseTreatmentPlanning
	case PhaseTreatmentPlanning:
		return to == PhaseFollowUp
	case PhaseFollowUp:
		return to == PhaseFollowUp
	}
	return false
}

// PatientCorpus joins every patient-authored message in chronological order.
func (s *State) PatientCorpus() string {
	parts := make([]string, 0, len(s.ConversationHistory))
	for _, m := range s.ConversationHistory {
		if m.Sender == SenderPatient {
			parts = append(parts, m.Message)
		}
	}
	return strings.Join(parts, " ")
}

// Clone returns a deep copy that shares no slices or pointers with s.
func (s *State) Clone() *State {
	c := *s
	c.ConversationHistory = append([]Message(nil), s.ConversationHistory...)
	if c.ConversationHistory == nil {
		c.ConversationHistory = []Message{}
	}
	c.PatientInfo.Allergies = append([]string(nil), s.PatientInfo.Allergies...)
	c.PatientInfo.CurrentMedications = append([]string(nil), s.PatientInfo.CurrentMedications...)
	if s.PatientInfo.Age != nil {
		age := *s.PatientInfo.Age
		c.PatientInfo.Age = &age
	}
	if s.PatientInfo.PainLevel != nil {
		pain := *s.PatientInfo.PainLevel
		c.PatientInfo.PainLevel = &pain
	}
	return &c
}

// MapUrgencyToSeverity converts urgency into the severity used for treatment
// planning.
func MapUrgencyToSeverity(u UrgencyLevel) Severity {
	switch u {
	case UrgencyLow:
		return SeverityMild
	case UrgencyMedium:
		return SeverityModerate
	case UrgencyHigh, UrgencyEmergency:
		return SeveritySevere
	default:
		return SeverityModerate
	}
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
