// Package libtracker provides activity tracking for service operations.
// Services are wrapped in decorators that report operation start, errors,
// and state changes; trackers fan those out to logging or other sinks.
package libtracker

import (
	"context"
	"log/slog"
	"time"
)

// ReportErrFn reports a failed operation.
type ReportErrFn func(err error)

// ReportChangeFn reports a successful state change for entity id.
type ReportChangeFn func(id string, data any)

// EndFn marks the end of a tracked operation.
type EndFn func()

// ActivityTracker observes service operations.
type ActivityTracker interface {
	// Start begins tracking an operation on a subject. kvArgs are
	// alternating key/value pairs of operation metadata.
	Start(ctx context.Context, operation string, subject string, kvArgs ...any) (ReportErrFn, ReportChangeFn, EndFn)
}

// LogActivityTracker logs activity via slog.
type LogActivityTracker struct {
	logger *slog.Logger
}

// NewLogActivityTracker returns a tracker that writes structured log lines.
func NewLogActivityTracker(logger *slog.Logger) *LogActivityTracker {
	return &LogActivityTracker{logger: logger}
}

func (t *LogActivityTracker) Start(ctx context.Context, operation string, subject string, kvArgs ...any) (ReportErrFn, ReportChangeFn, EndFn) {
	start := time.Now().UTC()
	requestID, _ := ctx.Value(ContextKeyRequestID).(string)
	base := []any{
		slog.String("operation", operation),
		slog.String("subject", subject),
		slog.String("request_id", requestID),
	}
	base = append(base, kvArgs...)

	reportErr := func(err error) {
		t.logger.ErrorContext(ctx, "activity failed", append(base, slog.Any("error", err))...)
	}
	reportChange := func(id string, data any) {
		t.logger.InfoContext(ctx, "activity change", append(base, slog.String("entity_id", id), slog.Any("data", data))...)
	}
	end := func() {
		t.logger.DebugContext(ctx, "activity end", append(base, slog.Duration("took", time.Since(start)))...)
	}
	return reportErr, reportChange, end
}

// ChainedTracker fans out to multiple trackers in order.
type ChainedTracker []ActivityTracker

func (ct ChainedTracker) Start(ctx context.Context, operation string, subject string, kvArgs ...any) (ReportErrFn, ReportChangeFn, EndFn) {
	reportErrs := make([]ReportErrFn, 0, len(ct))
	reportChanges := make([]ReportChangeFn, 0, len(ct))
	ends := make([]EndFn, 0, len(ct))
	for _, tracker := range ct {
		reportErr, reportChange, end := tracker.Start(ctx, operation, subject, kvArgs...)
		reportErrs = append(reportErrs, reportErr)
		reportChanges = append(reportChanges, reportChange)
		ends = append(ends, end)
	}
	return func(err error) {
			for _, f := range reportErrs {
				f(err)
			}
		}, func(id string, data any) {
			for _, f := range reportChanges {
				f(id, data)
			}
		}, func() {
			for _, f := range ends {
				f()
			}
		}
}

// NoopTracker discards all activity. Useful in tests.
type NoopTracker struct{}

func (NoopTracker) Start(ctx context.Context, operation string, subject string, kvArgs ...any) (ReportErrFn, ReportChangeFn, EndFn) {
	return func(error) {}, func(string, any) {}, func() {}
}

var _ ActivityTracker = (*LogActivityTracker)(nil)
var _ ActivityTracker = (ChainedTracker)(nil)
var _ ActivityTracker = NoopTracker{}
