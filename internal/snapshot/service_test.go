package snapshot

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/qnbridge/feelfit-bridge/internal/feelfit"
)

type scriptedFetcher struct {
	payloads []*feelfit.AggregatePayload
	errs     []error
	calls    int
	selected []string
}

func (f *scriptedFetcher) FetchAll(ctx context.Context, selected []string) (*feelfit.AggregatePayload, error) {
	i := f.calls
	f.calls++
	f.selected = selected
	if i >= len(f.payloads) {
		i = len(f.payloads) - 1
	}
	return f.payloads[i], f.errs[i]
}

func testPayload(profileID string) *feelfit.AggregatePayload {
	return &feelfit.AggregatePayload{
		Profiles: []feelfit.ProfileData{
			{UserInfo: feelfit.Profile{"user_id": profileID}},
		},
	}
}

func TestRefreshNowStoresSnapshot(t *testing.T) {
	fetcher := &scriptedFetcher{
		payloads: []*feelfit.AggregatePayload{testPayload("1")},
		errs:     []error{nil},
	}
	svc := NewService(zap.NewNop().Sugar(), fetcher, []string{"1", "2"})

	cycleID, err := svc.RefreshNow(context.Background())
	if err != nil {
		t.Fatalf("RefreshNow() error = %v", err)
	}
	if cycleID == "" {
		t.Error("RefreshNow() returned empty cycle id")
	}
	if len(fetcher.selected) != 2 {
		t.Errorf("fetcher got %d selected profiles, want 2", len(fetcher.selected))
	}

	payload, st := svc.Current()
	if payload == nil {
		t.Fatal("Current() payload is nil after successful refresh")
	}
	if st.CycleID != cycleID {
		t.Errorf("status cycle id = %q, want %q", st.CycleID, cycleID)
	}
	if st.Profiles != 1 {
		t.Errorf("status profiles = %d, want 1", st.Profiles)
	}
	if st.LastError != "" {
		t.Errorf("status last error = %q, want empty", st.LastError)
	}
	if st.FetchedAt.IsZero() {
		t.Error("status fetched_at is zero")
	}
}

func TestRefreshNowPreservesSnapshotOnFailure(t *testing.T) {
	fetchErr := errors.New("upstream down")
	fetcher := &scriptedFetcher{
		payloads: []*feelfit.AggregatePayload{testPayload("1"), nil},
		errs:     []error{nil, fetchErr},
	}
	svc := NewService(zap.NewNop().Sugar(), fetcher, nil)

	goodCycle, err := svc.RefreshNow(context.Background())
	if err != nil {
		t.Fatalf("RefreshNow() error = %v", err)
	}

	if _, err := svc.RefreshNow(context.Background()); !errors.Is(err, fetchErr) {
		t.Fatalf("RefreshNow() error = %v, want %v", err, fetchErr)
	}

	payload, st := svc.Current()
	if payload == nil {
		t.Fatal("snapshot was dropped after failed cycle")
	}
	if got := payload.Profiles[0].UserInfo.UserID(); got != "1" {
		t.Errorf("snapshot profile = %s, want last-known-good 1", got)
	}
	if st.CycleID != goodCycle {
		t.Errorf("cycle id = %q, want last good %q", st.CycleID, goodCycle)
	}
	if st.LastError == "" {
		t.Error("status last error is empty after failed cycle")
	}
	if st.LastErrorAt.IsZero() {
		t.Error("status last_error_at is zero after failed cycle")
	}
	if st.LastErrorAt.Before(st.FetchedAt) {
		t.Errorf("last_error_at %v predates fetched_at %v", st.LastErrorAt, st.FetchedAt)
	}
}

func TestRefreshNowClearsErrorOnRecovery(t *testing.T) {
	fetcher := &scriptedFetcher{
		payloads: []*feelfit.AggregatePayload{nil, testPayload("1")},
		errs:     []error{errors.New("upstream down"), nil},
	}
	svc := NewService(zap.NewNop().Sugar(), fetcher, nil)

	if _, err := svc.RefreshNow(context.Background()); err == nil {
		t.Fatal("RefreshNow() error = nil, want failure")
	}
	if _, st := svc.Current(); st.LastErrorAt.IsZero() {
		t.Fatal("status last_error_at is zero after failed cycle")
	}

	if _, err := svc.RefreshNow(context.Background()); err != nil {
		t.Fatalf("RefreshNow() error = %v", err)
	}
	_, st := svc.Current()
	if st.LastError != "" {
		t.Errorf("status last error = %q after recovery, want empty", st.LastError)
	}
	if !st.LastErrorAt.IsZero() {
		t.Errorf("status last_error_at = %v after recovery, want zero", st.LastErrorAt)
	}
}

// countingFetcher tracks how many cycles run at once.
type countingFetcher struct {
	inFlight int32
	maxSeen  int32
}

func (f *countingFetcher) FetchAll(ctx context.Context, selected []string) (*feelfit.AggregatePayload, error) {
	n := atomic.AddInt32(&f.inFlight, 1)
	for {
		seen := atomic.LoadInt32(&f.maxSeen)
		if n <= seen || atomic.CompareAndSwapInt32(&f.maxSeen, seen, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	atomic.AddInt32(&f.inFlight, -1)
	return testPayload("1"), nil
}

func TestRefreshNowSerializesCycles(t *testing.T) {
	fetcher := &countingFetcher{}
	svc := NewService(zap.NewNop().Sugar(), fetcher, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.RefreshNow(context.Background()); err != nil {
				t.Errorf("RefreshNow() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if seen := atomic.LoadInt32(&fetcher.maxSeen); seen != 1 {
		t.Errorf("%d fetch cycles ran at once, want 1", seen)
	}
}

func TestCurrentBeforeFirstCycle(t *testing.T) {
	svc := NewService(zap.NewNop().Sugar(), &scriptedFetcher{payloads: []*feelfit.AggregatePayload{nil}, errs: []error{errors.New("x")}}, nil)
	payload, st := svc.Current()
	if payload != nil {
		t.Error("payload non-nil before any cycle")
	}
	if st.Profiles != 0 || st.CycleID != "" {
		t.Errorf("unexpected status before any cycle: %+v", st)
	}
}
