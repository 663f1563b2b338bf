package resilience

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NikhilSetiya/agentscan-resilience/pkg/errors"
)

func reportAt(id string, err *errors.ClassifiedError, at time.Time) ErrorReport {
	return ErrorReport{ID: id, Error: err, Timestamp: at, RecoveryAction: DeriveRecoveryAction(err)}
}

func TestReportStore_RecordGetResolve(t *testing.T) {
	store := NewReportStore(time.Minute)
	now := time.Now()

	store.Record(reportAt("r1", errors.NewNetworkError("down", 0), now))

	report, ok := store.Get("r1")
	require.True(t, ok)
	assert.False(t, report.Resolved)

	resolved, ok := store.Resolve("r1")
	require.True(t, ok)
	assert.True(t, resolved.Resolved)

	report, _ = store.Get("r1")
	assert.True(t, report.Resolved)

	_, ok = store.Resolve("missing")
	assert.False(t, ok)
	_, ok = store.Get("missing")
	assert.False(t, ok)
}

func TestReportStore_DefaultWindow(t *testing.T) {
	store := NewReportStore(0)
	assert.Equal(t, 60*time.Second, store.Window())
	assert.Equal(t, 600*time.Second, store.Retention())
}

func TestReportStore_CleanupRemovesOnlyExpired(t *testing.T) {
	store := NewReportStore(time.Minute)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	store.Record(reportAt("old", errors.NewNetworkError("a", 0), now.Add(-11*time.Minute)))
	store.Record(reportAt("edge", errors.NewNetworkError("b", 0), now.Add(-10*time.Minute)))
	store.Record(reportAt("fresh", errors.NewNetworkError("c", 0), now.Add(-time.Minute)))

	removed := store.Cleanup(now)

	assert.Equal(t, 1, removed)
	assert.Equal(t, 2, store.Len())
	_, ok := store.Get("old")
	assert.False(t, ok)
	_, ok = store.Get("edge")
	assert.True(t, ok)
}

func TestReportStore_CountSince(t *testing.T) {
	store := NewReportStore(time.Minute)
	now := time.Now()

	for i := 0; i < 3; i++ {
		store.Record(reportAt(fmt.Sprintf("n%d", i), errors.NewNetworkError("x", 0), now.Add(-time.Duration(i)*40*time.Second)))
	}
	store.Record(reportAt("v", errors.NewValidationError("f", "bad"), now))

	assert.Equal(t, 2, store.CountSince(errors.NameNetwork, now.Add(-time.Minute)))
	assert.Equal(t, 3, store.CountSince(errors.NameNetwork, now.Add(-2*time.Minute)))
	assert.Equal(t, 1, store.CountSince(errors.NameValidation, now.Add(-time.Minute)))
	assert.Zero(t, store.CountSince("Unknown", now.Add(-time.Hour)))

	store.Record(reportAt("r", errors.NewRetryExhaustedError(3, errors.NewValidationError("f", "bad")), now))
	assert.Equal(t, 2, store.CountSince(errors.NameValidation, now.Add(-time.Minute)))
	assert.Zero(t, store.CountSince(errors.NameRetryExhausted, now.Add(-time.Minute)))
}

func TestReportStore_ListNewestFirst(t *testing.T) {
	store := NewReportStore(time.Minute)
	now := time.Now()

	store.Record(reportAt("a", errors.NewNetworkError("x", 0), now.Add(-2*time.Second)))
	store.Record(reportAt("b", errors.NewNetworkError("x", 0), now))
	store.Record(reportAt("c", errors.NewNetworkError("x", 0), now.Add(-time.Second)))

	list := store.List()
	require.Len(t, list, 3)
	assert.Equal(t, []string{"b", "c", "a"}, []string{list[0].ID, list[1].ID, list[2].ID})
}

func TestReportStore_ConcurrentRecord(t *testing.T) {
	store := NewReportStore(time.Minute)
	now := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			store.Record(reportAt(fmt.Sprintf("r%d", i), errors.NewNetworkError("x", 0), now))
			store.CountSince(errors.NameNetwork, now.Add(-time.Minute))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 100, store.Len())
}
