package consultation

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Handler struct {
	svc    Service
	logger zerolog.Logger
}

func NewHandler(svc Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

type StartConsultationResponse struct {
	ConsultationID string `json:"consultation_id"`
	Greeting       string `json:"greeting"`
	State          *State `json:"state"`
}

type SendMessageRequest struct {
	Message string `json:"message"`
}

type SendMessageResponse struct {
	Items []ResponseItem `json:"items"`
	State *State         `json:"state"`
}

type QuestionsRequest struct {
	Symptoms           string `json:"symptoms"`
	SuggestedCondition string `json:"suggested_condition"`
}

type ConditionSummaryHTTPRequest struct {
	ConditionName string `json:"condition_name"`
	ConditionInfo string `json:"condition_info"`
}

func (h *Handler) CreateConsultation(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.StartConsultation(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, StartConsultationResponse{
		ConsultationID: st.ID.String(),
		Greeting:       Greeting,
		State:          st,
	})
}

func (h *Handler) GetConsultation(w http.ResponseWriter, r *http.Request) {
	id, ok := consultationID(w, r)
	if !ok {
		return
	}
	st, err := h.svc.GetConsultation(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := consultationID(w, r)
	if !ok {
		return
	}
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	items, st, err := h.svc.ProcessMessage(r.Context(), id, req.Message)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if items == nil {
		items = []ResponseItem{}
	}
	writeJSON(w, http.StatusOK, SendMessageResponse{Items: items, State: st})
}

func (h *Handler) ResetConsultation(w http.ResponseWriter, r *http.Request) {
	id, ok := consultationID(w, r)
	if !ok {
		return
	}
	st, err := h.svc.ResetConsultation(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StartConsultationResponse{
		ConsultationID: st.ID.String(),
		Greeting:       Greeting,
		State:          st,
	})
}

func (h *Handler) EndConsultation(w http.ResponseWriter, r *http.Request) {
	id, ok := consultationID(w, r)
	if !ok {
		return
	}
	if err := h.svc.EndConsultation(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetPatientInfo(w http.ResponseWriter, r *http.Request) {
	id, ok := consultationID(w, r)
	if !ok {
		return
	}
	info, err := h.svc.PatientInfo(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	id, ok := consultationID(w, r)
	if !ok {
		return
	}
	pdf, err := h.svc.RenderReport(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="consultation_`+id.String()+`.pdf"`)
	w.Write(pdf)
}

func (h *Handler) SendReport(w http.ResponseWriter, r *http.Request) {
	id, ok := consultationID(w, r)
	if !ok {
		return
	}
	if err := h.svc.SendReport(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) SuggestQuestions(w http.ResponseWriter, r *http.Request) {
	var req QuestionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Symptoms == "" {
		writeError(w, http.StatusBadRequest, "symptoms are required")
		return
	}
	res, err := h.svc.SuggestFollowUpQuestions(r.Context(), FollowUpRequest{
		Symptoms:           req.Symptoms,
		SuggestedCondition: req.SuggestedCondition,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) SummarizeCondition(w http.ResponseWriter, r *http.Request) {
	var req ConditionSummaryHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ConditionName == "" {
		writeError(w, http.StatusBadRequest, "condition_name is required")
		return
	}
	res, err := h.svc.SummarizeCondition(r.Context(), ConditionSummaryRequest{
		ConditionName: req.ConditionName,
		ConditionInfo: req.ConditionInfo,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func RegisterRoutes(r chi.Router, h *Handler) {
	r.Route("/consultations", func(r chi.Router) {
		r.Post("/", h.CreateConsultation)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetConsultation)
			r.Delete("/", h.EndConsultation)
			r.Post("/messages", h.SendMessage)
			r.Post("/reset", h.ResetConsultation)
			r.Get("/patient-info", h.GetPatientInfo)
			r.Get("/report", h.GetReport)
			r.Post("/report/send", h.SendReport)
		})
	})
	r.Post("/questions", h.SuggestQuestions)
	r.Post("/conditions/summary", h.SummarizeCondition)
}

// fail maps service errors onto status codes. Capability failures are
// upstream problems, everything unknown is ours.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var ce *CapabilityError
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "Consultation not found")
	case errors.Is(err, ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &ce):
		h.logger.Warn().Err(err).Str("path", r.URL.Path).Msg("capability request failed")
		writeError(w, http.StatusBadGateway, "The assistant is unavailable, please try again")
	default:
		h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "Internal error")
	}
}

func consultationID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid consultation ID")
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
