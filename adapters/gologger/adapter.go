package gologger

import (
	"strings"

	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-walletsync/core"
)

// RootLoggerName prefixes every component logger.
const RootLoggerName = "walletsync"

// Resolve uses deterministic precedence provider > logger > nop.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	return glog.Resolve(name, provider, logger)
}

// ComponentName returns the logger name for a component, e.g. "walletsync.webhooks".
func ComponentName(component string) string {
	component = strings.Trim(strings.TrimSpace(component), ".")
	if component == "" {
		return RootLoggerName
	}
	return RootLoggerName + "." + component
}

// Telemetry resolves a component logger and pairs it with the metrics recorder.
func Telemetry(component string, provider glog.LoggerProvider, logger glog.Logger, metrics core.MetricsRecorder) core.Telemetry {
	_, resolved := Resolve(ComponentName(component), provider, logger)
	return core.NewTelemetry(resolved, metrics)
}

// ToJobProvider maps a glog provider to the go-job logger provider contract.
func ToJobProvider(provider glog.LoggerProvider) job.LoggerProvider {
	if provider == nil {
		return nil
	}
	return job.GoLoggerProvider(provider)
}

// ToJobLogger maps a glog logger to the go-job logger contract.
func ToJobLogger(logger glog.Logger) job.Logger {
	if logger == nil {
		return nil
	}
	return job.GoLogger(logger)
}

// ResolveForJob resolves the notification worker logger and returns the
// equivalent go-job adapters.
func ResolveForJob(
	provider glog.LoggerProvider,
	logger glog.Logger,
) (glog.LoggerProvider, glog.Logger, job.LoggerProvider, job.Logger) {
	resolvedProvider, resolvedLogger := Resolve(ComponentName("jobs"), provider, logger)
	return resolvedProvider, resolvedLogger, ToJobProvider(resolvedProvider), ToJobLogger(resolvedLogger)
}
