package registryservice

import (
	"context"
	"fmt"
	"time"

	"github.com/caonguyenthanhan/medruntime/libtracker"
	"github.com/caonguyenthanhan/medruntime/probe"
	"github.com/caonguyenthanhan/medruntime/runtimetypes"
)

type activityTrackerDecorator struct {
	service Service
	tracker libtracker.ActivityTracker
}

func (d *activityTrackerDecorator) List(ctx context.Context) ([]*runtimetypes.Endpoint, error) {
	reportErrFn, _, endFn := d.tracker.Start(
		ctx,
		"list",
		"endpoints",
	)
	defer endFn()

	endpoints, err := d.service.List(ctx)
	if err != nil {
		reportErrFn(err)
	}

	return endpoints, err
}

func (d *activityTrackerDecorator) Upsert(ctx context.Context, endpoint *runtimetypes.Endpoint) (bool, error) {
	reportErrFn, reportChangeFn, endFn := d.tracker.Start(
		ctx,
		"upsert",
		"endpoint",
		"endpointID", endpoint.ID,
		"url", endpoint.URL,
		"status", endpoint.Status,
	)
	defer endFn()

	created, err := d.service.Upsert(ctx, endpoint)
	if err != nil {
		reportErrFn(err)
	} else {
		reportChangeFn(endpoint.ID, map[string]interface{}{
			"url":     endpoint.URL,
			"status":  endpoint.Status,
			"created": created,
		})
	}

	return created, err
}

func (d *activityTrackerDecorator) Latest(ctx context.Context) (string, *runtimetypes.Endpoint, error) {
	reportErrFn, _, endFn := d.tracker.Start(
		ctx,
		"resolve",
		"endpoint",
	)
	defer endFn()

	url, endpoint, err := d.service.Latest(ctx)
	if err != nil {
		reportErrFn(err)
	}

	return url, endpoint, err
}

func (d *activityTrackerDecorator) ColabUpdate(ctx context.Context, id, url string) (*runtimetypes.Endpoint, error) {
	reportErrFn, reportChangeFn, endFn := d.tracker.Start(
		ctx,
		"colab_update",
		"endpoint",
		"endpointID", id,
		"url", url,
	)
	defer endFn()

	endpoint, err := d.service.ColabUpdate(ctx, id, url)
	if err != nil {
		reportErrFn(err)
	} else {
		reportChangeFn(id, map[string]interface{}{
			"url":    url,
			"status": runtimetypes.StatusActive,
		})
	}

	return endpoint, err
}

func (d *activityTrackerDecorator) Check(ctx context.Context, url string, timeout time.Duration) probe.Result {
	reportErrFn, _, endFn := d.tracker.Start(
		ctx,
		"check",
		"endpoint",
		"url", url,
		"timeout", fmt.Sprintf("%v", timeout),
	)
	defer endFn()

	result := d.service.Check(ctx, url, timeout)
	if !result.OK && result.Error != "" {
		reportErrFn(fmt.Errorf("probe failed: %s", result.Error))
	}

	return result
}

func (d *activityTrackerDecorator) Logs(ctx context.Context) ([]*runtimetypes.RegistryLogEntry, error) {
	reportErrFn, _, endFn := d.tracker.Start(
		ctx,
		"list",
		"registry_log",
	)
	defer endFn()

	logs, err := d.service.Logs(ctx)
	if err != nil {
		reportErrFn(err)
	}

	return logs, err
}

func WithActivityTracker(service Service, tracker libtracker.ActivityTracker) Service {
	return &activityTrackerDecorator{
		service: service,
		tracker: tracker,
	}
}

var _ Service = (*activityTrackerDecorator)(nil)
