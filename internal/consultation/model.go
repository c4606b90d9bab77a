package consultation

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Phase is the consultation's current stage.
type Phase string

const (
	PhaseGatheringInfo     Phase = "gathering_info"
	PhaseDiagnosis         Phase = "diagnosis"
	PhaseTreatmentPlanning Phase = "treatment_planning"
	PhaseFollowUp          Phase = "follow_up"
)

// UrgencyLevel is the assessed medical priority of the patient's latest report.
type UrgencyLevel string

const (
	UrgencyLow       UrgencyLevel = "low"
	UrgencyMedium    UrgencyLevel = "medium"
	UrgencyHigh      UrgencyLevel = "high"
	UrgencyEmergency UrgencyLevel = "emergency"
)

// Severity is the treatment-plan severity derived from urgency.
type Severity string

const (
	SeverityMild     Severity = "mild"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
)

// Sender identifies who authored a history entry.
type Sender string

const (
	SenderPatient Sender = "patient"
	SenderDoctor  Sender = "doctor"
)

type Message struct {
	Sender    Sender    `json:"sender"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// PatientInfo holds facts gathered about the patient. Nil pointers and empty
// slices mean "not known yet".
type PatientInfo struct {
	Age                *int     `json:"age,omitempty"`
	Allergies          []string `json:"allergies,omitempty"`
	CurrentMedications []string `json:"currentMedications,omitempty"`
	PainLevel          *int     `json:"painLevel,omitempty"`
	SymptomDuration    string   `json:"symptomDuration,omitempty"`
}

// State is the record of one conversation. It is owned by a single turn at a
// time and carries no locking of its own.
type State struct {
	ID                  uuid.UUID    `json:"id"`
	Phase               Phase        `json:"phase"`
	PatientInfo         PatientInfo  `json:"patientInfo"`
	WorkingDiagnosis    string       `json:"workingDiagnosis,omitempty"`
	ConversationHistory []Message    `json:"conversationHistory"`
	UrgencyLevel        UrgencyLevel `json:"urgencyLevel"`
	CreatedAt           time.Time    `json:"createdAt"`
	UpdatedAt           time.Time    `json:"updatedAt"`
}

// Capability request/response contracts.

type ConsultationRequest struct {
	PatientMessage      string    `json:"patientMessage"`
	ConversationHistory []Message `json:"conversationHistory"`
	CurrentDiagnosis    string    `json:"currentDiagnosis,omitempty"`
	GatheringInfo       bool      `json:"gatheringInfo"`
}

type ConsultationResult struct {
	DoctorResponse     string       `json:"doctorResponse" validate:"required"`
	FollowUpQuestions  []string     `json:"followUpQuestions"`
	AssessmentComplete bool         `json:"assessmentComplete"`
	UrgencyLevel       UrgencyLevel `json:"urgencyLevel" validate:"required,oneof=low medium high emergency"`
	NextSteps          []string     `json:"nextSteps"`
	Empathy            string       `json:"empathy"`
}

type AnalysisRequest struct {
	Symptoms string `json:"symptoms"`
}

// AnalysisResult lists candidate conditions in rank order. ConfidenceLevels is
// expected to be parallel to PossibleConditions but may be shorter or longer.
type AnalysisResult struct {
	PossibleConditions []string  `json:"possibleConditions"`
	ConfidenceLevels   []float64 `json:"confidenceLevels" validate:"dive,gte=0,lte=1"`
	Reasoning          string    `json:"reasoning"`
}

// Confidence returns the confidence of the i-th condition, or false when the
// capability did not report one.
func (a AnalysisResult) Confidence(i int) (float64, bool) {
	if i < 0 || i >= len(a.ConfidenceLevels) || i >= len(a.PossibleConditions) {
		return 0, false
	}
	return a.ConfidenceLevels[i], true
}

type TreatmentPlanRequest struct {
	Condition          string   `json:"condition"`
	Symptoms           string   `json:"symptoms"`
	Severity           Severity `json:"severity"`
	PatientAge         *int     `json:"patientAge,omitempty"`
	PatientAllergies   []string `json:"patientAllergies"`
	CurrentMedications []string `json:"currentMedications"`
}

type Medication struct {
	Name         string `json:"name" validate:"required"`
	Dosage       string `json:"dosage"`
	Frequency    string `json:"frequency"`
	Duration     string `json:"duration"`
	Instructions string `json:"instructions"`
	OTC          bool   `json:"otc"`
}

type FollowUp struct {
	Timeframe  string   `json:"timeframe"`
	Conditions []string `json:"conditions"`
}

type TreatmentPlan struct {
	Condition          string       `json:"condition,omitempty"`
	ImmediateActions   []string     `json:"immediateActions"`
	Medications        []Medication `json:"medications" validate:"dive"`
	Lifestyle          []string     `json:"lifestyle"`
	DietaryAdvice      []string     `json:"dietaryAdvice"`
	FollowUp           FollowUp     `json:"followUp"`
	PreventiveMeasures []string     `json:"preventiveMeasures"`
	Warnings           []string     `json:"warnings"`
	Reasoning          string       `json:"reasoning"`
}

type FollowUpRequest struct {
	Symptoms           string `json:"symptoms"`
	SuggestedCondition string `json:"suggestedCondition"`
}

type FollowUpQuestions struct {
	Questions []string `json:"questions" validate:"required"`
}

type ConditionSummaryRequest struct {
	ConditionName string `json:"conditionName"`
	ConditionInfo string `json:"conditionInfo"`
}

type ConditionSummary struct {
	Summary string `json:"summary" validate:"required"`
}

// ItemKind discriminates response items on the wire.
type ItemKind string

const (
	KindText               ItemKind = "text"
	KindAnalysis           ItemKind = "analysis"
	KindTreatmentPlan      ItemKind = "treatment_plan"
	KindDoctorConsultation ItemKind = "doctor_consultation"
)

// ResponseItem is one entry of a turn's output. The set of implementations is
// closed: TextItem, AnalysisItem, TreatmentPlanItem and ConsultationItem.
type ResponseItem interface {
	Kind() ItemKind
	responseItem()
}

type TextItem struct {
	Text string
}

type AnalysisItem struct {
	Analysis AnalysisResult
}

type TreatmentPlanItem struct {
	TreatmentPlan TreatmentPlan
}

type ConsultationItem struct {
	Consultation ConsultationResult
}

func (TextItem) Kind() ItemKind          { return KindText }
func (AnalysisItem) Kind() ItemKind      { return KindAnalysis }
func (TreatmentPlanItem) Kind() ItemKind { return KindTreatmentPlan }
func (ConsultationItem) Kind() ItemKind  { return KindDoctorConsultation }

func (TextItem) responseItem()          {}
func (AnalysisItem) responseItem()      {}
func (TreatmentPlanItem) responseItem() {}
func (ConsultationItem) responseItem()  {}

func (i TextItem) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type ItemKind `json:"type"`
		Text string   `json:"text"`
	}{KindText, i.Text})
}

func (i AnalysisItem) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type     ItemKind       `json:"type"`
		Analysis AnalysisResult `json:"analysis"`
	}{KindAnalysis, i.Analysis})
}

func (i TreatmentPlanItem) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type          ItemKind      `json:"type"`
		TreatmentPlan TreatmentPlan `json:"treatmentPlan"`
	}{KindTreatmentPlan, i.TreatmentPlan})
}

func (i ConsultationItem) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type         ItemKind           `json:"type"`
		Consultation ConsultationResult `json:"consultation"`
	}{KindDoctorConsultation, i.Consultation})
}
