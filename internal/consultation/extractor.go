package consultation

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	AllergyPlaceholder    = "Please specify allergies"
	MedicationPlaceholder = "Please specify current medications"
)

var (
	ageRe  = regexp.MustCompile(`(\d+)\s*(years?\s*old|yo|y\.o\.)`)
	painRe = regexp.MustCompile(`pain.{0,20}?(\d+).{0,5}(out of|/)\s*10`)
)

// Extract pulls best-effort facts out of the patient's side of the history.
// Matches are heuristic; the pain level is not range checked.
func Extract(history []Message) PatientInfo {
	parts := make([]string, 0, len(history))
	for _, m := range history {
		if m.Sender == SenderPatient {
			parts = append(parts, strings.ToLower(m.Message))
		}
	}
	text := strings.Join(parts, " ")

	var info PatientInfo
	if m := ageRe.FindStringSubmatch(text); m != nil {
		if age, err := strconv.Atoi(m[1]); err == nil {
			info.Age = &age
		}
	}
	if m := painRe.FindStringSubmatch(text); m != nil {
		if pain, err := strconv.Atoi(m[1]); err == nil {
			info.PainLevel = &pain
		}
	}
	if strings.Contains(text, "allergic to") || strings.Contains(text, "allergy") {
		info.Allergies = []string{AllergyPlaceholder}
	}
	if strings.Contains(text, "taking") || strings.Contains(text, "medication") || strings.Contains(text, "pills") {
		info.CurrentMedications = []string{MedicationPlaceholder}
	}
	return info
}
