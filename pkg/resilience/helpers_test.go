package resilience

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NikhilSetiya/agentscan-resilience/pkg/logging"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type logEntry struct {
	level   logging.Level
	message string
	fields  logging.Fields
}

type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *recordingLogger) Log(ctx context.Context, level logging.Level, message string, fields logging.Fields) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, message: message, fields: fields})
}

func (l *recordingLogger) messages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e.message)
	}
	return out
}

func (l *recordingLogger) count(message string) int {
	n := 0
	for _, m := range l.messages() {
		if m == message {
			n++
		}
	}
	return n
}

type recordingSink struct {
	name string
	err  error

	mu     sync.Mutex
	alerts []AlertPayload
}

func (s *recordingSink) Deliver(ctx context.Context, alert AlertPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alert)
	return s.err
}

func (s *recordingSink) Name() string {
	if s.name == "" {
		return "recording"
	}
	return s.name
}

func (s *recordingSink) delivered() []AlertPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AlertPayload(nil), s.alerts...)
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

type fixedRand float64

func (f fixedRand) Float64() float64 { return float64(f) }

func sequentialIDs() IDGenerator {
	var n int64
	return IDGeneratorFunc(func() string {
		return fmt.Sprintf("id-%d", atomic.AddInt64(&n, 1))
	})
}

func failing(err error) Operation {
	return func(ctx context.Context) (interface{}, error) {
		return nil, err
	}
}

func succeeding(value interface{}) Operation {
	return func(ctx context.Context) (interface{}, error) {
		return value, nil
	}
}

// countingOp fails the first failures calls with err and then succeeds
func countingOp(failures int, err error) (Operation, *int32) {
	var calls int32
	return func(ctx context.Context) (interface{}, error) {
		n := atomic.AddInt32(&calls, 1)
		if int(n) <= failures {
			return nil, err
		}
		return "ok", nil
	}, &calls
}
