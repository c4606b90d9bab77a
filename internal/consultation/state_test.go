package consultation

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func mustID(t *testing.T) uuid.UUID {
	t.Helper()
	id, err := uuid.NewRandom()
	if err != nil {
		t.Fatalf("uuid: %v", err)
	}
	return id
}

func intPtr(v int) *int { return &v }

func TestNewState(t *testing.T) {
	st := NewState(mustID(t))
	if st.Phase != PhaseGatheringInfo {
		t.Errorf("expected %s, got %s", PhaseGatheringInfo, st.Phase)
	}
	if st.UrgencyLevel != UrgencyLow {
		t.Errorf("expected low urgency, got %s", st.UrgencyLevel)
	}
	if st.ConversationHistory == nil || len(st.ConversationHistory) != 0 {
		t.Errorf("expected empty history, got %v", st.ConversationHistory)
	}
}

func TestAdvancePhase(t *testing.T) {
	all := []Phase{PhaseGatheringInfo, PhaseDiagnosis, PhaseTreatmentPlanning, PhaseFollowUp}
	allowed := map[[2]Phase]bool{
		{PhaseGatheringInfo, PhaseDiagnosis}:     true,
		{PhaseDiagnosis, PhaseTreatmentPlanning}: true,
		{PhaseTreatmentPlanning, PhaseFollowUp}:  true,
		{PhaseFollowUp, PhaseFollowUp}:           true,
	}
	for _, from := range all {
		for _, to := range all {
			st := &State{Phase: from}
			changed := st.AdvancePhase(to)
			want := allowed[[2]Phase{from, to}]
			if changed != want {
				t.Errorf("%s -> %s: changed=%v, want %v", from, to, changed, want)
			}
			if !want && st.Phase != from {
				t.Errorf("%s -> %s: phase moved to %s", from, to, st.Phase)
			}
		}
	}
}

func TestMergePatientInfo_DoesNotClobber(t *testing.T) {
	st := NewState(mustID(t))
	st.MergePatientInfo(PatientInfo{
		Age:             intPtr(30),
		Allergies:       []string{"penicillin", "penicillin"},
		SymptomDuration: "3 days",
	})
	st.MergePatientInfo(PatientInfo{
		Age:                intPtr(99),
		PainLevel:          intPtr(4),
		Allergies:          []string{"latex"},
		CurrentMedications: []string{"ibuprofen"},
	})
	st.MergePatientInfo(PatientInfo{})

	info := st.PatientInfo
	if info.Age == nil || *info.Age != 30 {
		t.Errorf("age clobbered: %v", info.Age)
	}
	if info.PainLevel == nil || *info.PainLevel != 4 {
		t.Errorf("pain level not filled: %v", info.PainLevel)
	}
	if len(info.Allergies) != 1 || info.Allergies[0] != "penicillin" {
		t.Errorf("unexpected allergies %v", info.Allergies)
	}
	if len(info.CurrentMedications) != 1 {
		t.Errorf("medications not filled: %v", info.CurrentMedications)
	}
	if info.SymptomDuration != "3 days" {
		t.Errorf("duration clobbered: %q", info.SymptomDuration)
	}
}

func TestMergePatientInfo_CopiesValues(t *testing.T) {
	st := NewState(mustID(t))
	age := 40
	st.MergePatientInfo(PatientInfo{Age: &age})
	age = 41
	if *st.PatientInfo.Age != 40 {
		t.Error("merge kept a reference to the caller's value")
	}
}

func TestClone_Independent(t *testing.T) {
	st := NewState(mustID(t))
	st.AppendMessage(SenderPatient, "hello")
	st.MergePatientInfo(PatientInfo{Age: intPtr(50), Allergies: []string{"nuts"}})

	c := st.Clone()
	c.AppendMessage(SenderDoctor, "hi")
	c.ConversationHistory[0].Message = "changed"
	*c.PatientInfo.Age = 51
	c.PatientInfo.Allergies[0] = "eggs"

	if len(st.ConversationHistory) != 1 || st.ConversationHistory[0].Message != "hello" {
		t.Errorf("history shared with clone: %+v", st.ConversationHistory)
	}
	if *st.PatientInfo.Age != 50 || st.PatientInfo.Allergies[0] != "nuts" {
		t.Errorf("patient info shared with clone: %+v", st.PatientInfo)
	}
}

func TestPatientCorpus(t *testing.T) {
	st := NewState(mustID(t))
	st.AppendMessage(SenderPatient, "first")
	st.AppendMessage(SenderDoctor, "question")
	st.AppendMessage(SenderPatient, "second")
	if got := st.PatientCorpus(); got != "first second" {
		t.Errorf("PatientCorpus() = %q", got)
	}
}

func TestMapUrgencyToSeverity(t *testing.T) {
	tests := []struct {
		in   UrgencyLevel
		want Severity
	}{
		{UrgencyLow, SeverityMild},
		{UrgencyMedium, SeverityModerate},
		{UrgencyHigh, SeveritySevere},
		{UrgencyEmergency, SeveritySevere},
		{"unknown", SeverityModerate},
	}
	for _, tt := range tests {
		if got := MapUrgencyToSeverity(tt.in); got != tt.want {
			t.Errorf("MapUrgencyToSeverity(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestResponseItemJSON(t *testing.T) {
	items := []ResponseItem{
		TextItem{Text: "hi"},
		AnalysisItem{Analysis: AnalysisResult{PossibleConditions: []string{"Flu"}}},
		TreatmentPlanItem{TreatmentPlan: TreatmentPlan{Condition: "Flu"}},
		ConsultationItem{Consultation: ConsultationResult{DoctorResponse: "hello", UrgencyLevel: UrgencyLow}},
	}
	b, err := json.Marshal(items)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded []map[string]json.RawMessage
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	wantKeys := []string{"text", "analysis", "treatmentPlan", "consultation"}
	for i, it := range items {
		if got := strings.Trim(string(decoded[i]["type"]), `"`); got != string(it.Kind()) {
			t.Errorf("item %d: type %q, want %q", i, got, it.Kind())
		}
		if _, ok := decoded[i][wantKeys[i]]; !ok {
			t.Errorf("item %d: missing %q payload in %s", i, wantKeys[i], b)
		}
	}
}

func TestConfidence(t *testing.T) {
	a := AnalysisResult{PossibleConditions: []string{"A", "B"}, ConfidenceLevels: []float64{0.9}}
	if c, ok := a.Confidence(0); !ok || c != 0.9 {
		t.Errorf("Confidence(0) = %v, %v", c, ok)
	}
	if _, ok := a.Confidence(1); ok {
		t.Error("Confidence(1) should be missing")
	}
}
