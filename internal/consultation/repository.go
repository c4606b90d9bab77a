package consultation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// ErrNotFound is returned when a consultation does not exist (or has ended).
var ErrNotFound = errors.New("consultation not found")

// Repository keeps the state of active consultations between requests. It is
// session storage only: ended or idle consultations are removed.
type Repository interface {
	Create(ctx context.Context, s *State) error
	// GetByID always reads the stored state. Use it for read-modify-write.
	GetByID(ctx context.Context, id uuid.UUID) (*State, error)
	// Peek is for read-only callers. Concurrent peeks of one consultation
	// may share a single read, so the result can predate a Save that
	// finished while the read was in flight.
	Peek(ctx context.Context, id uuid.UUID) (*State, error)
	Save(ctx context.Context, s *State) error
	Delete(ctx context.Context, id uuid.UUID) error
	// ListIdle returns the ids of consultations not updated since before.
	ListIdle(ctx context.Context, before time.Time) ([]uuid.UUID, error)
	// DeleteIfIdle removes the consultation only if it is still not updated
	// since before. It reports whether a row was removed.
	DeleteIfIdle(ctx context.Context, id uuid.UUID, before time.Time) (bool, error)
	Count(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
}

type memoryRepo struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*State
}

// NewMemoryRepository returns an in-process store. Stored states are copied
// on the way in and out so callers never share memory with the store.
func NewMemoryRepository() Repository {
	return &memoryRepo{items: make(map[uuid.UUID]*State)}
}

func (r *memoryRepo) Create(ctx context.Context, s *State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[s.ID]; ok {
		return fmt.Errorf("consultation %s already exists", s.ID)
	}
	r.items[s.ID] = s.Clone()
	return nil
}

func (r *memoryRepo) GetByID(ctx context.Context, id uuid.UUID) (*State, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (r *memoryRepo) Peek(ctx context.Context, id uuid.UUID) (*State, error) {
	return r.GetByID(ctx, id)
}

func (r *memoryRepo) Save(ctx context.Context, s *State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[s.ID]; !ok {
		return ErrNotFound
	}
	r.items[s.ID] = s.Clone()
	return nil
}

func (r *memoryRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return ErrNotFound
	}
	delete(r.items, id)
	return nil
}

func (r *memoryRepo) ListIdle(ctx context.Context, before time.Time) ([]uuid.UUID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []uuid.UUID
	for id, s := range r.items {
		if s.UpdatedAt.Before(before) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (r *memoryRepo) DeleteIfIdle(ctx context.Context, id uuid.UUID, before time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.items[id]
	if !ok || !s.UpdatedAt.Before(before) {
		return false, nil
	}
	delete(r.items, id)
	return true, nil
}

func (r *memoryRepo) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items), nil
}

func (r *memoryRepo) Ping(ctx context.Context) error { return nil }

type postgresRepo struct {
	db    *sql.DB
	loads singleflight.Group
}

// NewPostgresRepository stores consultations in the consultations table
// created by the db migrations.
func NewPostgresRepository(db *sql.DB) Repository {
	return &postgresRepo{db: db}
}

func (r *postgresRepo) Create(ctx context.Context, s *State) error {
	historyJSON, infoJSON, err := marshalState(s)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO consultations (id, phase, urgency, working_diagnosis, patient_info, history, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err = r.db.ExecContext(ctx, query,
		s.ID, s.Phase, s.UrgencyLevel, s.WorkingDiagnosis, infoJSON, historyJSON, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert consultation: %w", err)
	}
	return nil
}

func (r *postgresRepo) GetByID(ctx context.Context, id uuid.UUID) (*State, error) {
	return r.load(ctx, id)
}

// Peek collapses concurrent loads of the same consultation into one query.
// The shared query outlives a cancelled caller so the others still get a row.
func (r *postgresRepo) Peek(ctx context.Context, id uuid.UUID) (*State, error) {
	ch := r.loads.DoChan(id.String(), func() (interface{}, error) {
		return r.load(context.WithoutCancel(ctx), id)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*State).Clone(), nil
	}
}

func (r *postgresRepo) load(ctx context.Context, id uuid.UUID) (*State, error) {
	query := `SELECT id, phase, urgency, working_diagnosis, patient_info, history, created_at, updated_at
		FROM consultations WHERE id = $1`

	var s State
	var historyJSON, infoJSON []byte
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&s.ID,
		&s.Phase,
		&s.UrgencyLevel,
		&s.WorkingDiagnosis,
		&infoJSON,
		&historyJSON,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load consultation: %w", err)
	}
	if len(historyJSON) > 0 {
		if err := json.Unmarshal(historyJSON, &s.ConversationHistory); err != nil {
			return nil, fmt.Errorf("failed to unmarshal history: %w", err)
		}
	}
	if s.ConversationHistory == nil {
		s.ConversationHistory = []Message{}
	}
	if len(infoJSON) > 0 {
		if err := json.Unmarshal(infoJSON, &s.PatientInfo); err != nil {
			return nil, fmt.Errorf("failed to unmarshal patient info: %w", err)
		}
	}
	return &s, nil
}

func (r *postgresRepo) Save(ctx context.Context, s *State) error {
	historyJSON, infoJSON, err := marshalState(s)
	if err != nil {
		return err
	}
	query := `
		UPDATE consultations SET
			phase = $2,
			urgency = $3,
			working_diagnosis = $4,
			patient_info = $5,
			history = $6,
			updated_at = $7
		WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query,
		s.ID, s.Phase, s.UrgencyLevel, s.WorkingDiagnosis, infoJSON, historyJSON, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update consultation: %w", err)
	}
	return requireRow(res)
}

func (r *postgresRepo) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM consultations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete consultation: %w", err)
	}
	return requireRow(res)
}

func (r *postgresRepo) ListIdle(ctx context.Context, before time.Time) ([]uuid.UUID, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM consultations WHERE updated_at < $1`, before)
	if err != nil {
		return nil, fmt.Errorf("list idle consultations: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan idle consultation: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *postgresRepo) DeleteIfIdle(ctx context.Context, id uuid.UUID, before time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM consultations WHERE id = $1 AND updated_at < $2`, id, before)
	if err != nil {
		return false, fmt.Errorf("delete idle consultation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *postgresRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM consultations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count consultations: %w", err)
	}
	return n, nil
}

func (r *postgresRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func marshalState(s *State) (history, info []byte, err error) {
	history, err = json.Marshal(s.ConversationHistory)
	if err != nil {
		return nil, nil, err
	}
	info, err = json.Marshal(s.PatientInfo)
	if err != nil {
		return nil, nil, err
	}
	return history, info, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
