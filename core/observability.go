package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"go.opentelemetry.io/otel/trace"
)

type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

// observeOperation emits one structured log line plus a counter and a
// duration histogram for every handler call.
func (s *Service) observeOperation(
	ctx context.Context,
	startedAt time.Time,
	operation string,
	err error,
	fields map[string]any,
) {
	if s == nil {
		return
	}
	operation = normalizeOperation(operation)
	if operation == "" {
		operation = "unknown"
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	elapsed := time.Since(startedAt)

	logFields := cloneFields(fields)
	logFields["event_type"] = operation
	logFields["status"] = status
	logFields["duration_ms"] = elapsed.Milliseconds()
	if traceID := traceIDFromContext(ctx); traceID != "" {
		logFields["trace_id"] = traceID
	}

	tags := map[string]string{
		"operation": operation,
		"status":    status,
	}
	if err != nil {
		logFields["error"] = err.Error()
		enrichErrorFields(logFields, err)
		if code, ok := logFields["error_text_code"].(string); ok && code != "" {
			tags["error_code"] = code
		}
	}

	s.recordCounter(ctx, "treasury."+operation+".total", 1, tags)
	s.recordHistogram(ctx, "treasury."+operation+".duration_ms", float64(elapsed.Milliseconds()), tags)

	if err != nil {
		s.logError(ctx, operation+" failed", logFields)
		return
	}
	s.logInfo(ctx, operation+" succeeded", logFields)
}

func enrichErrorFields(fields map[string]any, err error) {
	var vaultErr *VaultError
	if errors.As(err, &vaultErr) {
		fields["error_text_code"] = vaultErr.Kind.TextCode()
		if number := vaultErr.Kind.Number(); number > 0 {
			fields["program_error"] = number
		}
		return
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		fields["error_category"] = fmt.Sprint(richErr.Category)
		if richErr.TextCode != "" {
			fields["error_text_code"] = richErr.TextCode
		}
		for _, key := range []string{"request_id", "trace_id"} {
			if value, ok := richErr.Metadata[key]; ok {
				fields[key] = value
			}
		}
	}
}

func traceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	spanContext := trace.SpanFromContext(ctx).SpanContext()
	if !spanContext.IsValid() {
		return ""
	}
	return spanContext.TraceID().String()
}

func (s *Service) logInfo(ctx context.Context, message string, fields map[string]any) {
	s.logWithLevel(ctx, "info", message, fields)
}

func (s *Service) logError(ctx context.Context, message string, fields map[string]any) {
	s.logWithLevel(ctx, "error", message, fields)
}

func (s *Service) logWithLevel(ctx context.Context, level string, message string, fields map[string]any) {
	if s == nil || s.logger == nil {
		return
	}
	logger := s.logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	if fieldsLogger, ok := logger.(FieldsLogger); ok {
		logger = fieldsLogger.WithFields(cloneFields(fields))
	}
	args := flattenFields(fields)
	switch level {
	case "error":
		logger.Error(message, args...)
	default:
		logger.Info(message, args...)
	}
}

func (s *Service) recordCounter(ctx context.Context, name string, value int64, tags map[string]string) {
	if s == nil || s.metricsRecorder == nil {
		return
	}
	s.metricsRecorder.IncCounter(ctx, name, value, cloneTags(tags))
}

func (s *Service) recordHistogram(ctx context.Context, name string, value float64, tags map[string]string) {
	if s == nil || s.metricsRecorder == nil {
		return
	}
	s.metricsRecorder.ObserveHistogram(ctx, name, value, cloneTags(tags))
}

func cloneFields(fields map[string]any) map[string]any {
	copied := make(map[string]any, len(fields))
	for key, value := range fields {
		copied[key] = value
	}
	return copied
}

func cloneTags(tags map[string]string) map[string]string {
	copied := make(map[string]string, len(tags))
	for key, value := range tags {
		copied[key] = value
	}
	return copied
}

// flattenFields returns key/value pairs sorted by key.
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
	return strings.ReplaceAll(operation, "-", "_")
}

var _ MetricsRecorder = NopMetricsRecorder{}
