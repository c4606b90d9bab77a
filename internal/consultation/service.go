package consultation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"medichat/internal/observability"
)

// Greeting opens every new consultation.
const Greeting = "Hello! I'm Dr. MediChat, your AI medical assistant. I'm here to help understand your symptoms and provide guidance. Please describe what brings you here today - what symptoms are you experiencing?"

// ErrEmptyMessage is returned for a blank patient message.
var ErrEmptyMessage = errors.New("message must not be empty")

// ReportService renders and delivers consultation summaries to the doctor.
type ReportService interface {
	Render(s State) ([]byte, error)
	SendDoctorReport(ctx context.Context, s State) error
	AlertEmergency(ctx context.Context, s State) error
}

type Service interface {
	StartConsultation(ctx context.Context) (*State, error)
	GetConsultation(ctx context.Context, id uuid.UUID) (*State, error)
	ProcessMessage(ctx context.Context, id uuid.UUID, message string) ([]ResponseItem, *State, error)
	ResetConsultation(ctx context.Context, id uuid.UUID) (*State, error)
	EndConsultation(ctx context.Context, id uuid.UUID) error
	PatientInfo(ctx context.Context, id uuid.UUID) (PatientInfo, error)
	RenderReport(ctx context.Context, id uuid.UUID) ([]byte, error)
	SendReport(ctx context.Context, id uuid.UUID) error
	SuggestFollowUpQuestions(ctx context.Context, req FollowUpRequest) (FollowUpQuestions, error)
	SummarizeCondition(ctx context.Context, req ConditionSummaryRequest) (ConditionSummary, error)
	SweepIdle(ctx context.Context, ttl time.Duration) (int, error)
	Drain(ctx context.Context) error
}

type service struct {
	repo         Repository
	orchestrator *Orchestrator
	caps         Capabilities
	reportSvc    ReportService
	logger       zerolog.Logger

	locks keyedMutex
	bg    sync.WaitGroup
}

func NewService(repo Repository, orch *Orchestrator, caps Capabilities, report ReportService, logger zerolog.Logger) Service {
	return &service{
		repo:         repo,
		orchestrator: orch,
		caps:         caps,
		reportSvc:    report,
		logger:       logger.With().Str("component", "consultation").Logger(),
	}
}

func (s *service) StartConsultation(ctx context.Context) (*State, error) {
	st := NewState(uuid.New())
	if err := s.repo.Create(ctx, st); err != nil {
		return nil, fmt.Errorf("create consultation: %w", err)
	}
	observability.ConsultationStarted()
	s.logger.Info().Str("consultation_id", st.ID.String()).Msg("consultation started")
	return st, nil
}

func (s *service) GetConsultation(ctx context.Context, id uuid.UUID) (*State, error) {
	return s.repo.Peek(ctx, id)
}

// ProcessMessage runs one turn. Turns for the same consultation are
// serialized; different consultations proceed in parallel.
func (s *service) ProcessMessage(ctx context.Context, id uuid.UUID, message string) ([]ResponseItem, *State, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, nil, ErrEmptyMessage
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	st, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	prevUrgency := st.UrgencyLevel

	items, st := s.orchestrator.ProcessTurn(ctx, message, st)

	if err := s.repo.Save(ctx, st); err != nil {
		return nil, nil, fmt.Errorf("save consultation: %w", err)
	}

	if st.UrgencyLevel == UrgencyEmergency && prevUrgency != UrgencyEmergency {
		s.deliver(st.Clone(), "emergency alert", s.reportSvc.AlertEmergency)
	}
	return items, st, nil
}

// ResetConsultation discards everything said so far and starts over under
// the same id.
func (s *service) ResetConsultation(ctx context.Context, id uuid.UUID) (*State, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	old, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	st := NewState(id)
	st.CreatedAt = old.CreatedAt
	if err := s.repo.Save(ctx, st); err != nil {
		return nil, fmt.Errorf("reset consultation: %w", err)
	}
	return st, nil
}

// EndConsultation discards the conversation. If it got past information
// gathering, the summary goes to the doctor first.
func (s *service) EndConsultation(ctx context.Context, id uuid.UUID) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	st, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("end consultation: %w", err)
	}
	observability.ConsultationEnded()
	s.logger.Info().Str("consultation_id", id.String()).Str("phase", string(st.Phase)).Msg("consultation ended")

	if st.Phase != PhaseGatheringInfo {
		s.deliver(st, "doctor report", s.reportSvc.SendDoctorReport)
	}
	return nil
}

func (s *service) PatientInfo(ctx context.Context, id uuid.UUID) (PatientInfo, error) {
	st, err := s.repo.Peek(ctx, id)
	if err != nil {
		return PatientInfo{}, err
	}
	return Extract(st.ConversationHistory), nil
}

func (s *service) RenderReport(ctx context.Context, id uuid.UUID) ([]byte, error) {
	st, err := s.repo.Peek(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.reportSvc.Render(*st)
}

func (s *service) SendReport(ctx context.Context, id uuid.UUID) error {
	st, err := s.repo.Peek(ctx, id)
	if err != nil {
		return err
	}
	return s.reportSvc.SendDoctorReport(ctx, *st)
}

func (s *service) SuggestFollowUpQuestions(ctx context.Context, req FollowUpRequest) (FollowUpQuestions, error) {
	return callCapability(ctx, s.orchestrator, CapFollowUpQuestion, func(ctx context.Context) (FollowUpQuestions, error) {
		return s.caps.SuggestFollowUpQuestions(ctx, req)
	})
}

func (s *service) SummarizeCondition(ctx context.Context, req ConditionSummaryRequest) (ConditionSummary, error) {
	return callCapability(ctx, s.orchestrator, CapConditionSummary, func(ctx context.Context) (ConditionSummary, error) {
		return s.caps.SummarizeCondition(ctx, req)
	})
}

// SweepIdle removes consultations idle for longer than ttl. A consultation
// with a turn in flight is left for the next sweep.
func (s *service) SweepIdle(ctx context.Context, ttl time.Duration) (int, error) {
	cutoff := time.Now().Add(-ttl)
	ids, err := s.repo.ListIdle(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		removed, err := s.sweepOne(ctx, id, cutoff)
		if err != nil {
			return n, err
		}
		if removed {
			observability.ConsultationEnded()
			n++
		}
	}
	if n > 0 {
		s.logger.Info().Int("count", n).Dur("ttl", ttl).Msg("idle consultations removed")
	}
	return n, nil
}

func (s *service) sweepOne(ctx context.Context, id uuid.UUID, cutoff time.Time) (bool, error) {
	unlock, ok := s.locks.TryLock(id)
	if !ok {
		return false, nil
	}
	defer unlock()
	return s.repo.DeleteIfIdle(ctx, id, cutoff)
}

// RestoreActiveCount sets the active consultations gauge from what the store
// already holds. Call it once at startup.
func RestoreActiveCount(ctx context.Context, repo Repository) (int, error) {
	n, err := repo.Count(ctx)
	if err != nil {
		return 0, err
	}
	observability.SetActiveConsultations(n)
	return n, nil
}

// RunSweeper removes idle consultations every interval until ctx is done.
func RunSweeper(ctx context.Context, svc Service, ttl, interval time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := svc.SweepIdle(ctx, ttl); err != nil {
				logger.Error().Err(err).Msg("idle sweep failed")
			}
		}
	}
}

// deliver hands a notification off to the background so the patient's
// response is never held up by the doctor channel.
func (s *service) deliver(st *State, what string, send func(context.Context, State) error) {
	s.bg.Add(1)
	go func(st State) {
		defer s.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := send(ctx, st); err != nil {
			s.logger.Error().Err(err).Str("consultation_id", st.ID.String()).Msgf("failed to send %s", what)
			return
		}
		s.logger.Info().Str("consultation_id", st.ID.String()).Msgf("%s sent", what)
	}(*st)
}

// Drain waits for background deliveries to finish or ctx to expire.
func (s *service) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// keyedMutex hands out one lock per consultation id and forgets it once no
// goroutine holds or waits for it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(id uuid.UUID) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[uuid.UUID]*refMutex)
	}
	m, ok := k.locks[id]
	if !ok {
		m = &refMutex{}
		k.locks[id] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return k.release(id, m)
}

// TryLock takes the lock for id only if nobody holds or waits for it.
func (k *keyedMutex) TryLock(id uuid.UUID) (unlock func(), ok bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, busy := k.locks[id]; busy {
		return nil, false
	}
	if k.locks == nil {
		k.locks = make(map[uuid.UUID]*refMutex)
	}
	m := &refMutex{refs: 1}
	m.Lock()
	k.locks[id] = m
	return k.release(id, m), true
}

func (k *keyedMutex) release(id uuid.UUID, m *refMutex) func() {
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}
