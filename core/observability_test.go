package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type capturedCounter struct {
	name  string
	value int64
	tags  map[string]string
}

type captureMetricsRecorder struct {
	mu         sync.Mutex
	counters   []capturedCounter
	histograms int
}

func (m *captureMetricsRecorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = append(m.counters, capturedCounter{name: name, value: value, tags: cloneTags(tags)})
}

func (m *captureMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histograms++
}

type capturedLog struct {
	level  string
	msg    string
	fields map[string]any
}

type captureLogger struct {
	mu       *sync.Mutex
	records  *[]capturedLog
	defaults map[string]any
}

func newCaptureLogger() *captureLogger {
	records := []capturedLog{}
	return &captureLogger{mu: &sync.Mutex{}, records: &records, defaults: map[string]any{}}
}

func (l *captureLogger) WithFields(fields map[string]any) Logger {
	merged := cloneFields(l.defaults)
	for key, value := range fields {
		merged[key] = value
	}
	return &captureLogger{mu: l.mu, records: l.records, defaults: merged}
}

func (l *captureLogger) Trace(msg string, args ...any) { l.record("trace", msg, args...) }
func (l *captureLogger) Debug(msg string, args ...any) { l.record("debug", msg, args...) }
func (l *captureLogger) Info(msg string, args ...any)  { l.record("info", msg, args...) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args...) }
func (l *captureLogger) Error(msg string, args ...any) { l.record("error", msg, args...) }
func (l *captureLogger) Fatal(msg string, args ...any) { l.record("fatal", msg, args...) }

func (l *captureLogger) WithContext(context.Context) Logger {
	return &captureLogger{mu: l.mu, records: l.records, defaults: cloneFields(l.defaults)}
}

func (l *captureLogger) record(level string, msg string, args ...any) {
	fields := cloneFields(l.defaults)
	for index := 0; index+1 < len(args); index += 2 {
		key, ok := args[index].(string)
		if !ok {
			continue
		}
		fields[key] = args[index+1]
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.records = append(*l.records, capturedLog{level: level, msg: msg, fields: fields})
}

func (l *captureLogger) snapshot() []capturedLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]capturedLog, len(*l.records))
	copy(out, *l.records)
	return out
}

func TestTelemetry_ObserveOperationSuccess(t *testing.T) {
	logger := newCaptureLogger()
	metrics := &captureMetricsRecorder{}
	telemetry := NewTelemetry(logger, metrics)

	telemetry.ObserveOperation(context.Background(), time.Now(), "webhook process", nil, map[string]any{
		"program_id": "prog_1",
		"outcome":    "processed",
	})

	records := logger.snapshot()
	if len(records) != 1 {
		t.Fatalf("expected one log record, got %d", len(records))
	}
	if records[0].level != "info" || records[0].msg != "webhook_process succeeded" {
		t.Fatalf("unexpected record %+v", records[0])
	}
	if records[0].fields["program_id"] != "prog_1" {
		t.Fatalf("expected program_id field, got %#v", records[0].fields)
	}
	if len(metrics.counters) != 1 || metrics.counters[0].name != "walletsync.webhook_process.total" {
		t.Fatalf("unexpected counters %+v", metrics.counters)
	}
	if metrics.counters[0].tags["outcome"] != "processed" {
		t.Fatalf("expected outcome tag, got %#v", metrics.counters[0].tags)
	}
	if metrics.histograms != 1 {
		t.Fatalf("expected one histogram, got %d", metrics.histograms)
	}
}

func TestTelemetry_ObserveOperationFailureLogsError(t *testing.T) {
	logger := newCaptureLogger()
	telemetry := NewTelemetry(logger, nil)

	telemetry.ObserveOperation(context.Background(), time.Now(), "install", errors.New("upstream down"), nil)

	records := logger.snapshot()
	if len(records) != 1 || records[0].level != "error" {
		t.Fatalf("expected one error record, got %+v", records)
	}
	if records[0].fields["error"] != "upstream down" {
		t.Fatalf("expected error field, got %#v", records[0].fields)
	}
}

func TestFlattenFieldsSortsKeys(t *testing.T) {
	args := flattenFields(map[string]any{"b": 2, "a": 1})
	if len(args) != 4 || args[0] != "a" || args[2] != "b" {
		t.Fatalf("unexpected args %v", args)
	}
}

func TestExpiring_ReusesValueUntilExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cache := NewExpiring[string](time.Minute)
	cache.now = func() time.Time { return now }
	calls := 0
	fetch := func(context.Context) (string, time.Time, error) {
		calls++
		return "token", now.Add(time.Hour), nil
	}
	for range 3 {
		if _, err := cache.Get(context.Background(), fetch); err != nil {
			t.Fatalf("get: %v", err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected one fetch, got %d", calls)
	}
	now = now.Add(59*time.Minute + 30*time.Second)
	if _, err := cache.Get(context.Background(), fetch); err != nil {
		t.Fatalf("get: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected refetch inside skew window, got %d calls", calls)
	}
}
