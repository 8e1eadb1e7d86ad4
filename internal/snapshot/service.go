package snapshot

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/qnbridge/feelfit-bridge/internal/feelfit"
	"github.com/qnbridge/feelfit-bridge/pkg/utilities"
)

// Fetcher runs one fetch-and-merge cycle against the cloud.
type Fetcher interface {
	FetchAll(ctx context.Context, selected []string) (*feelfit.AggregatePayload, error)
}

// Status describes the freshness of the held snapshot. A non-empty
// LastError with a non-zero FetchedAt means the served snapshot is
// last-known-good and a later cycle failed at LastErrorAt; a zero
// FetchedAt means no cycle has ever succeeded.
type Status struct {
	CycleID     string    `json:"cycle_id,omitempty"`
	FetchedAt   time.Time `json:"fetched_at,omitempty"`
	Profiles    int       `json:"profiles"`
	LastError   string    `json:"last_error,omitempty"`
	LastErrorAt time.Time `json:"last_error_at,omitempty"`
}

// Service holds the last-known-good aggregate payload. A refresh that
// fails leaves the previous snapshot in place and reports the error to
// the caller, so one bad cycle cannot blank the presentation layer.
type Service struct {
	logger   *zap.SugaredLogger
	fetcher  Fetcher
	selected []string

	// refreshMu keeps cycles from overlapping: concurrent refresh
	// requests share one upstream client, so they run one at a time.
	refreshMu sync.Mutex

	mu        sync.RWMutex
	current   *feelfit.AggregatePayload
	cycleID   string
	fetchedAt time.Time
	lastErr   string
	lastErrAt time.Time
}

func NewService(logger *zap.SugaredLogger, fetcher Fetcher, selected []string) *Service {
	return &Service{logger: logger, fetcher: fetcher, selected: selected}
}

// RefreshNow runs one fetch cycle and swaps in the new snapshot on
// success. The external scheduler is expected to call this on its own
// interval and to retry on failure.
func (s *Service) RefreshNow(ctx context.Context) (string, error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	payload, err := s.fetcher.FetchAll(ctx, s.selected)
	if err != nil {
		s.mu.Lock()
		s.lastErr = err.Error()
		s.lastErrAt = time.Now()
		s.mu.Unlock()
		s.logger.Warnw("fetch cycle failed, keeping previous snapshot", "error", err)
		return "", err
	}

	cycleID := utilities.NewCycleID()
	s.mu.Lock()
	s.current = payload
	s.cycleID = cycleID
	s.fetchedAt = time.Now()
	s.lastErr = ""
	s.lastErrAt = time.Time{}
	s.mu.Unlock()

	s.logger.Infow("snapshot refreshed",
		"cycle_id", cycleID,
		"profiles", len(payload.Profiles),
		"devices", len(payload.DeviceBinds.DeviceBinds),
	)
	return cycleID, nil
}

// Current returns the held snapshot (nil when no cycle has succeeded
// yet) together with its status.
func (s *Service) Current() (*feelfit.AggregatePayload, Status) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Status{
		CycleID:     s.cycleID,
		FetchedAt:   s.fetchedAt,
		LastError:   s.lastErr,
		LastErrorAt: s.lastErrAt,
	}
	if s.current != nil {
		st.Profiles = len(s.current.Profiles)
	}
	return s.current, st
}
