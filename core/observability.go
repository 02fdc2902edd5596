package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// Telemetry bundles the logger and metrics recorder shared by every service.
type Telemetry struct {
	logger  Logger
	metrics MetricsRecorder
}

func NewTelemetry(logger Logger, metrics MetricsRecorder) Telemetry {
	if logger == nil {
		logger = glog.Nop()
	}
	if metrics == nil {
		metrics = NopMetricsRecorder{}
	}
	return Telemetry{logger: logger, metrics: metrics}
}

func (t Telemetry) Logger() Logger {
	if t.logger == nil {
		return glog.Nop()
	}
	return t.logger
}

// Named returns telemetry whose logger is scoped to the given component.
func (t Telemetry) Named(component string) Telemetry {
	provider := glog.ProviderFromLogger(t.Logger())
	_, logger := glog.Resolve(component, provider, nil)
	return Telemetry{logger: logger, metrics: t.metrics}
}

// ObserveOperation logs the outcome of an operation and records its counter
// and latency histogram.
func (t Telemetry) ObserveOperation(
	ctx context.Context,
	startedAt time.Time,
	operation string,
	err error,
	fields map[string]any,
) {
	operation = normalizeOperation(operation)
	if operation == "" {
		operation = "unknown"
	}
	status := "success"
	if err != nil {
		status = "failure"
	}

	contextFields := cloneFields(fields)
	contextFields["event_type"] = operation
	contextFields["status"] = status
	contextFields["duration_ms"] = time.Since(startedAt).Milliseconds()
	if err != nil {
		contextFields["error"] = err.Error()
	}

	tags := map[string]string{
		"operation": operation,
		"status":    status,
	}
	for _, key := range []string{"program_id", "kind", "provider", "outcome"} {
		if value := strings.TrimSpace(fmt.Sprint(contextFields[key])); value != "" && value != "<nil>" {
			tags[key] = value
		}
	}

	t.RecordCounter(ctx, "walletsync."+operation+".total", 1, tags)
	t.recordHistogram(ctx, "walletsync."+operation+".duration_ms", float64(time.Since(startedAt).Milliseconds()), tags)

	if err != nil {
		t.LogError(ctx, operation+" failed", contextFields)
		return
	}
	t.LogInfo(ctx, operation+" succeeded", contextFields)
}

func (t Telemetry) LogInfo(ctx context.Context, message string, fields map[string]any) {
	t.logWithLevel(ctx, "info", message, fields)
}

func (t Telemetry) LogWarn(ctx context.Context, message string, fields map[string]any) {
	t.logWithLevel(ctx, "warn", message, fields)
}

func (t Telemetry) LogError(ctx context.Context, message string, fields map[string]any) {
	t.logWithLevel(ctx, "error", message, fields)
}

func (t Telemetry) logWithLevel(ctx context.Context, level string, message string, fields map[string]any) {
	fields = RedactSensitiveMap(fields)
	logger := t.Logger()
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	if fieldsLogger, ok := logger.(FieldsLogger); ok {
		logger = fieldsLogger.WithFields(cloneFields(fields))
	}
	args := flattenFields(fields)
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "error":
		logger.Error(message, args...)
	case "warn":
		logger.Warn(message, args...)
	default:
		logger.Info(message, args...)
	}
}

func (t Telemetry) RecordCounter(ctx context.Context, name string, value int64, tags map[string]string) {
	if t.metrics == nil {
		return
	}
	t.metrics.IncCounter(ctx, strings.TrimSpace(name), value, cloneTags(tags))
}

func (t Telemetry) recordHistogram(ctx context.Context, name string, value float64, tags map[string]string) {
	if t.metrics == nil {
		return
	}
	t.metrics.ObserveHistogram(ctx, strings.TrimSpace(name), value, cloneTags(tags))
}

func cloneFields(fields map[string]any) map[string]any {
	if len(fields) == 0 {
		return map[string]any{}
	}
	copied := make(map[string]any, len(fields))
	for key, value := range fields {
		copied[key] = value
	}
	return copied
}

func flattenFields(fields map[string]any) []any {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	args := make([]any, 0, len(keys)*2)
	for _, key := range keys {
		args = append(args, key, fields[key])
	}
	return args
}

func normalizeOperation(operation string) string {
	operation = strings.TrimSpace(strings.ToLower(operation))
	operation = strings.ReplaceAll(operation, " ", "_")
	operation = strings.ReplaceAll(operation, "-", "_")
	return operation
}
