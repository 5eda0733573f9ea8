package eventservice

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"slices"

	libdb "github.com/caonguyenthanhan/medruntime/libdbexec"
	"github.com/caonguyenthanhan/medruntime/runtimetypes"
)

// metricsWindow is how many recent samples feed the per-mode averages.
const metricsWindow = 50

type Service interface {
	Append(ctx context.Context, event runtimetypes.Event) error
	// List returns wire-format event objects, newest first.
	List(ctx context.Context, limit int) ([]json.RawMessage, error)
	// Clear truncates the event log. Appends after a clear start a fresh
	// sequence.
	Clear(ctx context.Context) error

	RecordMetric(ctx context.Context, sample *runtimetypes.MetricSample) error
	// MetricsSummary averages dispatch duration per mode over the most
	// recent samples and returns that window in chronological order.
	MetricsSummary(ctx context.Context) (map[string]int64, []*runtimetypes.MetricSample, error)
}

type service struct {
	dbInstance libdb.DBManager
}

func New(db libdb.DBManager) Service {
	return &service{dbInstance: db}
}

func (s *service) Append(ctx context.Context, event runtimetypes.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", event.EventType(), err)
	}
	tx := s.dbInstance.WithoutTransaction()
	return runtimetypes.New(tx).AppendEvent(ctx, &runtimetypes.StoredEvent{
		Type:    event.EventType(),
		Payload: payload,
	})
}

func (s *service) List(ctx context.Context, limit int) ([]json.RawMessage, error) {
	tx := s.dbInstance.WithoutTransaction()
	stored, err := runtimetypes.New(tx).ListEvents(ctx, limit)
	if err != nil {
		return nil, err
	}
	events := make([]json.RawMessage, 0, len(stored))
	for _, ev := range stored {
		events = append(events, ev.Payload)
	}
	return events, nil
}

func (s *service) Clear(ctx context.Context) error {
	tx := s.dbInstance.WithoutTransaction()
	return runtimetypes.New(tx).DeleteAllEvents(ctx)
}

func (s *service) RecordMetric(ctx context.Context, sample *runtimetypes.MetricSample) error {
	tx := s.dbInstance.WithoutTransaction()
	return runtimetypes.New(tx).AppendMetric(ctx, sample)
}

func (s *service) MetricsSummary(ctx context.Context) (map[string]int64, []*runtimetypes.MetricSample, error) {
	tx := s.dbInstance.WithoutTransaction()
	samples, err := runtimetypes.New(tx).ListMetrics(ctx, metricsWindow)
	if err != nil {
		return nil, nil, err
	}

	totals := map[string]int64{}
	counts := map[string]int64{}
	for _, sample := range samples {
		totals[sample.Mode] += sample.DurationMS
		counts[sample.Mode]++
	}
	summary := make(map[string]int64, len(totals))
	for mode, total := range totals {
		summary[mode] = int64(math.Round(float64(total) / float64(counts[mode])))
	}

	// The store lists newest first; the window reads oldest to newest so
	// consumers can plot it directly.
	slices.Reverse(samples)
	return summary, samples, nil
}
