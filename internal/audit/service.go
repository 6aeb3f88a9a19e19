package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
// It is append-only: no Update/Delete methods exist.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service records operator actions. Callers treat it as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Action == "" {
		return ErrInvalidEvent
	}
	if e.Outcome == "" {
		e.Outcome = OutcomeOK
	}
	if e.Outcome != OutcomeOK && e.Outcome != OutcomeError {
		return ErrInvalidEvent
	}

	if e.IPAddress == "" {
		e.IPAddress = ClientIPFromContext(ctx)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// Record appends an action with its outcome derived from err.
func (s *Service) Record(ctx context.Context, e Event, err error) error {
	e.Outcome = OutcomeOK
	if err != nil {
		e.Outcome = OutcomeError
		e.Message = err.Error()
	}
	return s.Append(ctx, e)
}
