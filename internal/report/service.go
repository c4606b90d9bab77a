package report

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/signintech/gopdf"

	"medichat/internal/consultation"
)

type TelegramClient interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	SendDocument(ctx context.Context, chatID int64, fileData []byte, fileName, caption string) error
}

// DefaultFontPaths are tried in order when no font is configured.
var DefaultFontPaths = []string{
	"/usr/share/fonts/ttf-dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
}

const (
	pageBottom = 790.0
	textWidth  = 515.0
)

// Service renders consultation summaries and delivers them to the doctor's
// Telegram chat. With a nil client delivery is a no-op.
type Service struct {
	tgClient     TelegramClient
	doctorChatID int64
	fontPaths    []string
	logger       zerolog.Logger
}

var _ consultation.ReportService = (*Service)(nil)

func NewService(tg TelegramClient, doctorChatID int64, fontPath string, logger zerolog.Logger) *Service {
	paths := DefaultFontPaths
	if fontPath != "" {
		paths = append([]string{fontPath}, DefaultFontPaths...)
	}
	return &Service{
		tgClient:     tg,
		doctorChatID: doctorChatID,
		fontPaths:    paths,
		logger:       logger.With().Str("component", "report").Logger(),
	}
}

type line struct {
	size float64
	text string
	gap  float64
}

// Render draws the consultation summary as an A4 PDF.
func (s *Service) Render(c consultation.State) ([]byte, error) {
	pdf := gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})
	pdf.SetMargins(40, 40, 40, 40)
	pdf.AddPage()

	var fontErr error
	fontLoaded := false
	for _, path := range s.fontPaths {
		if err := pdf.AddTTFFont("DejaVu", path); err == nil {
			s.logger.Debug().Str("path", path).Msg("font loaded")
			fontLoaded = true
			break
		} else {
			fontErr = err
		}
	}
	if !fontLoaded {
		return nil, fmt.Errorf("failed to load font for PDF. Please ensure ttf-dejavu is installed. Last error: %w", fontErr)
	}

	for _, l := range summaryLines(c, time.Now()) {
		if err := pdf.SetFont("DejaVu", "", l.size); err != nil {
			return nil, err
		}
		wrapped, err := pdf.SplitText(l.text, textWidth)
		if err != nil {
			wrapped = []string{l.text}
		}
		for _, w := range wrapped {
			if pdf.GetY()+l.size > pageBottom {
				pdf.AddPage()
			}
			if err := pdf.Cell(nil, w); err != nil {
				return nil, err
			}
			pdf.Br(l.size + 3)
		}
		pdf.Br(l.gap)
	}

	var buf bytes.Buffer
	if _, err := pdf.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write PDF: %w", err)
	}
	return buf.Bytes(), nil
}

func summaryLines(c consultation.State, now time.Time) []line {
	lines := []line{
		{20, "Medical Consultation Report (MediChat)", 15},
		{12, "Date: " + now.Format("02.01.2006 15:04"), 0},
		{12, "Consultation ID: " + c.ID.String(), 0},
		{12, "Phase: " + translatePhase(c.Phase), 0},
		{12, "Urgency: " + translateUrgency(c.UrgencyLevel), 0},
	}
	diagnosis := c.WorkingDiagnosis
	if diagnosis == "" {
		diagnosis = "not established"
	}
	lines = append(lines, line{12, "Working diagnosis: " + diagnosis, 15})

	lines = append(lines, line{14, "Patient information:", 5})
	info := patientInfoLines(c.PatientInfo)
	if len(info) == 0 {
		info = []string{"- No details collected."}
	}
	for _, l := range info {
		lines = append(lines, line{11, l, 0})
	}
	lines[len(lines)-1].gap = 15

	lines = append(lines, line{14, "Conversation:", 5})
	if len(c.ConversationHistory) == 0 {
		lines = append(lines, line{11, "- No messages.", 0})
	}
	for _, m := range c.ConversationHistory {
		lines = append(lines, line{11, fmt.Sprintf("%s %s: %s", m.Timestamp.Format("15:04"), translateSender(m.Sender), m.Message), 4})
	}

	lines = append(lines, line{9, "This summary was produced by an AI assistant and is not a medical diagnosis.", 0})
	return lines
}

func patientInfoLines(p consultation.PatientInfo) []string {
	var out []string
	if p.Age != nil {
		out = append(out, fmt.Sprintf("- Age: %d", *p.Age))
	}
	if p.PainLevel != nil {
		out = append(out, fmt.Sprintf("- Pain level: %d/10", *p.PainLevel))
	}
	if p.SymptomDuration != "" {
		out = append(out, "- Symptom duration: "+p.SymptomDuration)
	}
	if len(p.Allergies) > 0 {
		out = append(out, "- Allergies: "+strings.Join(p.Allergies, ", "))
	}
	if len(p.CurrentMedications) > 0 {
		out = append(out, "- Current medications: "+strings.Join(p.CurrentMedications, ", "))
	}
	return out
}

func (s *Service) SendDoctorReport(ctx context.Context, c consultation.State) error {
	if s.tgClient == nil {
		s.logger.Debug().Str("consultation_id", c.ID.String()).Msg("telegram not configured, report not sent")
		return nil
	}
	pdf, err := s.Render(c)
	if err != nil {
		return err
	}
	fileName := fmt.Sprintf("report_%s.pdf", c.ID.String())
	caption := fmt.Sprintf("Consultation %s, urgency: %s", c.ID.String(), translateUrgency(c.UrgencyLevel))
	if err := s.tgClient.SendDocument(ctx, s.doctorChatID, pdf, fileName, caption); err != nil {
		return err
	}
	s.logger.Info().Str("consultation_id", c.ID.String()).Int64("chat_id", s.doctorChatID).Msg("PDF report sent")
	return nil
}

// AlertEmergency notifies the doctor that a consultation needs immediate
// attention.
func (s *Service) AlertEmergency(ctx context.Context, c consultation.State) error {
	if s.tgClient == nil {
		return nil
	}
	return s.tgClient.SendMessage(ctx, s.doctorChatID, alertText(c))
}

func alertText(c consultation.State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🚨 Emergency in consultation %s\n", c.ID.String())
	if c.WorkingDiagnosis != "" {
		fmt.Fprintf(&b, "Working diagnosis: %s\n", c.WorkingDiagnosis)
	}
	for _, l := range patientInfoLines(c.PatientInfo) {
		b.WriteString(l + "\n")
	}
	for i := len(c.ConversationHistory) - 1; i >= 0; i-- {
		if m := c.ConversationHistory[i]; m.Sender == consultation.SenderPatient {
			fmt.Fprintf(&b, "Last patient message: %s", m.Message)
			break
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func translatePhase(p consultation.Phase) string {
	switch p {
	case consultation.PhaseGatheringInfo:
		return "Gathering information"
	case consultation.PhaseDiagnosis:
		return "Diagnosis"
	case consultation.PhaseTreatmentPlanning:
		return "Treatment planning"
	case consultation.PhaseFollowUp:
		return "Follow-up"
	default:
		return string(p)
	}
}

func translateUrgency(u consultation.UrgencyLevel) string {
	switch u {
	case consultation.UrgencyLow:
		return "Low"
	case consultation.UrgencyMedium:
		return "Medium"
	case consultation.UrgencyHigh:
		return "High"
	case consultation.UrgencyEmergency:
		return "EMERGENCY"
	default:
		return string(u)
	}
}

func translateSender(s consultation.Sender) string {
	if s == consultation.SenderDoctor {
		return "Doctor"
	}
	return "Patient"
}
