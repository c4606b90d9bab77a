package consultation

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func newTestRouter(caps *fakeCaps) http.Handler {
	svc, _, _ := newTestService(caps)
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		RegisterRoutes(r, NewHandler(svc, zerolog.Nop()))
	})
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func startConsultation(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/api/consultations", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status %d: %s", rec.Code, rec.Body)
	}
	var resp struct {
		ConsultationID string `json:"consultation_id"`
		Greeting       string `json:"greeting"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Greeting != Greeting {
		t.Errorf("unexpected greeting %q", resp.Greeting)
	}
	return resp.ConsultationID
}

func TestHandler_SendMessage(t *testing.T) {
	h := newTestRouter(&fakeCaps{consult: reply("Go to the ER now.", UrgencyEmergency, false)})
	id := startConsultation(t, h)

	rec := do(t, h, http.MethodPost, "/api/consultations/"+id+"/messages", `{"message":"crushing chest pain"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	var resp struct {
		Items []map[string]any `json:"items"`
		State State            `json:"state"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(resp.Items))
	}
	if resp.Items[0]["type"] != "text" || resp.Items[0]["text"] != EmergencyAdvisory {
		t.Errorf("first item should be the advisory: %v", resp.Items[0])
	}
	if resp.Items[1]["type"] != "doctor_consultation" {
		t.Errorf("second item should be the consultation: %v", resp.Items[1])
	}
	if resp.State.UrgencyLevel != UrgencyEmergency {
		t.Errorf("expected emergency urgency in state, got %s", resp.State.UrgencyLevel)
	}
}

func TestHandler_Errors(t *testing.T) {
	h := newTestRouter(&fakeCaps{consult: reply("ok", UrgencyLow, false)})
	id := startConsultation(t, h)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"empty message", http.MethodPost, "/api/consultations/" + id + "/messages", `{"message":"  "}`, http.StatusBadRequest},
		{"bad json", http.MethodPost, "/api/consultations/" + id + "/messages", `{`, http.StatusBadRequest},
		{"bad id", http.MethodGet, "/api/consultations/not-a-uuid", "", http.StatusBadRequest},
		{"unknown id", http.MethodPost, "/api/consultations/" + uuid.NewString() + "/messages", `{"message":"hi"}`, http.StatusNotFound},
		{"questions without symptoms", http.MethodPost, "/api/questions", `{}`, http.StatusBadRequest},
		{"summary backend down", http.MethodPost, "/api/conditions/summary", `{"condition_name":"Flu"}`, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, tt.body)
			if rec.Code != tt.want {
				t.Errorf("status %d, want %d: %s", rec.Code, tt.want, rec.Body)
			}
			var body map[string]string
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil || body["error"] == "" {
				t.Errorf("expected JSON error body, got %q", rec.Body.String())
			}
		})
	}
}

func TestHandler_Lifecycle(t *testing.T) {
	h := newTestRouter(&fakeCaps{consult: reply("How old are you?", UrgencyLow, false)})
	id := startConsultation(t, h)

	do(t, h, http.MethodPost, "/api/consultations/"+id+"/messages", `{"message":"I am 30 years old"}`)

	rec := do(t, h, http.MethodGet, "/api/consultations/"+id+"/patient-info", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"age":30`) {
		t.Errorf("patient-info: %d %s", rec.Code, rec.Body)
	}

	rec = do(t, h, http.MethodGet, "/api/consultations/"+id+"/report", "")
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "application/pdf" {
		t.Errorf("report: %d %s", rec.Code, rec.Header().Get("Content-Type"))
	}

	rec = do(t, h, http.MethodPost, "/api/consultations/"+id+"/reset", "")
	if rec.Code != http.StatusOK {
		t.Errorf("reset: %d", rec.Code)
	}

	rec = do(t, h, http.MethodDelete, "/api/consultations/"+id, "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("end: %d", rec.Code)
	}
	rec = do(t, h, http.MethodGet, "/api/consultations/"+id, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after end: %d", rec.Code)
	}
}

func TestHandler_SuggestQuestions(t *testing.T) {
	h := newTestRouter(&fakeCaps{questions: func(req FollowUpRequest) (FollowUpQuestions, error) {
		return FollowUpQuestions{Questions: []string{"Does it worsen with " + req.SuggestedCondition + " triggers?"}}, nil
	}})
	rec := do(t, h, http.MethodPost, "/api/questions", `{"symptoms":"headache","suggested_condition":"Migraine"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	var resp FollowUpQuestions
	json.NewDecoder(rec.Body).Decode(&resp)
	if len(resp.Questions) != 1 || !strings.Contains(resp.Questions[0], "Migraine") {
		t.Errorf("unexpected questions %v", resp.Questions)
	}
}
