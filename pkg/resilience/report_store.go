package resilience

import (
	"sort"
	"sync"
	"time"
)

// retentionWindows is how many aggregation windows a report is kept for
const retentionWindows = 10

// ReportStore is a concurrent-safe, time-bounded collection of error reports
type ReportStore struct {
	mutex   sync.RWMutex
	reports map[string]ErrorReport
	window  time.Duration
}

// NewReportStore creates a store that keeps reports for ten aggregation windows
func NewReportStore(window time.Duration) *ReportStore {
	if window <= 0 {
		window = 60 * time.Second
	}
	return &ReportStore{
		reports: make(map[string]ErrorReport),
		window:  window,
	}
}

// Window returns the aggregation window
func (s *ReportStore) Window() time.Duration {
	return s.window
}

// Retention returns how long a report survives cleanup
func (s *ReportStore) Retention() time.Duration {
	return retentionWindows * s.window
}

// Record inserts a report, replacing any report with the same ID
func (s *ReportStore) Record(report ErrorReport) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.reports[report.ID] = report
}

// Get returns the report with the given ID
func (s *ReportStore) Get(id string) (ErrorReport, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	report, ok := s.reports[id]
	return report, ok
}

// Resolve marks a report resolved. It reports false for unknown IDs.
func (s *ReportStore) Resolve(id string) (ErrorReport, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	report, ok := s.reports[id]
	if !ok {
		return ErrorReport{}, false
	}
	report.Resolved = true
	s.reports[id] = report
	return report, true
}

// List returns all reports, newest first
func (s *ReportStore) List() []ErrorReport {
	s.mutex.RLock()
	reports := make([]ErrorReport, 0, len(s.reports))
	for _, report := range s.reports {
		reports = append(reports, report)
	}
	s.mutex.RUnlock()

	sort.Slice(reports, func(i, j int) bool {
		return reports[i].Timestamp.After(reports[j].Timestamp)
	})
	return reports
}

// Len returns the number of stored reports
func (s *ReportStore) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return len(s.reports)
}

// CountSince counts reports for the failure name recorded at or after since.
// Retry-exhaustion reports count under the name of their last failure.
func (s *ReportStore) CountSince(name string, since time.Time) int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	count := 0
	for _, report := range s.reports {
		if report.Error != nil && report.Error.FailureName() == name && !report.Timestamp.Before(since) {
			count++
		}
	}
	return count
}

// Cleanup removes reports older than the retention period and returns how
// many were removed
func (s *ReportStore) Cleanup(now time.Time) int {
	cutoff := now.Add(-s.Retention())

	s.mutex.Lock()
	defer s.mutex.Unlock()

	removed := 0
	for id, report := range s.reports {
		if report.Timestamp.Before(cutoff) {
			delete(s.reports, id)
			removed++
		}
	}
	return removed
}
