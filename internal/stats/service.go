package stats

import (
	"errors"
	"time"

	"github.com/kalambet/evaldeck/internal/storage"
)

// Defaults applied when a caller passes zero for the corresponding parameter.
const (
	DefaultWindowDays  = 7
	DefaultRecentLimit = 10
)

var (
	// ErrInvalidWindow is returned for a negative lookback window.
	ErrInvalidWindow = errors.New("window days must be positive")
	// ErrInvalidLimit is returned for a negative recent-records limit.
	ErrInvalidLimit = errors.New("limit must be positive")
)

// Source is the read surface the service needs from storage.
// Implemented by storage.Store.
type Source interface {
	ListSince(ownerID string, since time.Time) ([]storage.Evaluation, error)
	Recent(ownerID string, limit int) ([]storage.Evaluation, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Service exposes the two read operations of the aggregation engine.
type Service struct {
	source Source
	clock  Clock
}

// NewService creates a Service backed by the given source.
func NewService(source Source) *Service {
	return &Service{source: source, clock: realClock{}}
}

// NewServiceWithClock creates a Service with a custom clock (for testing).
func NewServiceWithClock(source Source, clock Clock) *Service {
	return &Service{source: source, clock: clock}
}

// Window aggregates the owner's evaluations from the trailing window of the
// given number of days. days == 0 means DefaultWindowDays; negative days are
// rejected before any query is issued. Source failures propagate unchanged:
// a failed read must not degrade into an empty-looking but valid snapshot.
func (s *Service) Window(ownerID string, days int) (Snapshot, error) {
	if days < 0 {
		return Snapshot{}, ErrInvalidWindow
	}
	if days == 0 {
		days = DefaultWindowDays
	}

	since := s.clock.Now().UTC().AddDate(0, 0, -days)
	evals, err := s.source.ListSince(ownerID, since)
	if err != nil {
		return Snapshot{}, err
	}
	return Aggregate(evals), nil
}

// Recent returns the owner's most recently created evaluations, newest first.
// limit == 0 means DefaultRecentLimit; negative limits are rejected. A limit
// larger than the available count returns everything available.
func (s *Service) Recent(ownerID string, limit int) ([]storage.Evaluation, error) {
	if limit < 0 {
		return nil, ErrInvalidLimit
	}
	if limit == 0 {
		limit = DefaultRecentLimit
	}
	return s.source.Recent(ownerID, limit)
}
