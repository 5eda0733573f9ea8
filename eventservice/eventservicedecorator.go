package eventservice

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/caonguyenthanhan/medruntime/libtracker"
	"github.com/caonguyenthanhan/medruntime/runtimetypes"
)

type activityTrackerDecorator struct {
	service Service
	tracker libtracker.ActivityTracker
}

func (d *activityTrackerDecorator) Append(ctx context.Context, event runtimetypes.Event) error {
	reportErrFn, reportChangeFn, endFn := d.tracker.Start(
		ctx,
		"append",
		"event",
		"eventType", event.EventType(),
	)
	defer endFn()

	err := d.service.Append(ctx, event)
	if err != nil {
		reportErrFn(err)
	} else {
		reportChangeFn(event.EventType(), nil)
	}

	return err
}

func (d *activityTrackerDecorator) List(ctx context.Context, limit int) ([]json.RawMessage, error) {
	reportErrFn, _, endFn := d.tracker.Start(
		ctx,
		"list",
		"events",
		"limit", fmt.Sprintf("%d", limit),
	)
	defer endFn()

	events, err := d.service.List(ctx, limit)
	if err != nil {
		reportErrFn(err)
	}

	return events, err
}

func (d *activityTrackerDecorator) Clear(ctx context.Context) error {
	reportErrFn, reportChangeFn, endFn := d.tracker.Start(
		ctx,
		"truncate",
		"events",
	)
	defer endFn()

	err := d.service.Clear(ctx)
	if err != nil {
		reportErrFn(err)
	} else {
		reportChangeFn("events", nil)
	}

	return err
}

func (d *activityTrackerDecorator) RecordMetric(ctx context.Context, sample *runtimetypes.MetricSample) error {
	reportErrFn, _, endFn := d.tracker.Start(
		ctx,
		"append",
		"metric",
		"mode", sample.Mode,
		"endpoint", sample.Endpoint,
	)
	defer endFn()

	err := d.service.RecordMetric(ctx, sample)
	if err != nil {
		reportErrFn(err)
	}

	return err
}

func (d *activityTrackerDecorator) MetricsSummary(ctx context.Context) (map[string]int64, []*runtimetypes.MetricSample, error) {
	reportErrFn, _, endFn := d.tracker.Start(
		ctx,
		"summarize",
		"metrics",
	)
	defer endFn()

	summary, samples, err := d.service.MetricsSummary(ctx)
	if err != nil {
		reportErrFn(err)
	}

	return summary, samples, err
}

func WithActivityTracker(service Service, tracker libtracker.ActivityTracker) Service {
	return &activityTrackerDecorator{
		service: service,
		tracker: tracker,
	}
}

var _ Service = (*activityTrackerDecorator)(nil)
