package modeservice

import (
	"context"

	"github.com/caonguyenthanhan/medruntime/libtracker"
	"github.com/caonguyenthanhan/medruntime/runtimetypes"
)

type activityTrackerDecorator struct {
	service Service
	tracker libtracker.ActivityTracker
}

func (d *activityTrackerDecorator) Get(ctx context.Context) (*runtimetypes.RuntimeMode, error) {
	reportErrFn, _, endFn := d.tracker.Start(
		ctx,
		"read",
		"mode",
	)
	defer endFn()

	mode, err := d.service.Get(ctx)
	if err != nil {
		reportErrFn(err)
	}

	return mode, err
}

func (d *activityTrackerDecorator) Set(ctx context.Context, target, gpuURL string) (*runtimetypes.RuntimeMode, error) {
	reportErrFn, reportChangeFn, endFn := d.tracker.Start(
		ctx,
		"set",
		"mode",
		"target", target,
		"gpuURL", gpuURL,
	)
	defer endFn()

	mode, err := d.service.Set(ctx, target, gpuURL)
	if err != nil {
		reportErrFn(err)
		if IsPublishOnly(err) {
			// Mode write survived; swallow the publish failure here.
			err = nil
		}
	}
	if err == nil && mode != nil {
		reportChangeFn("mode", map[string]interface{}{
			"target":  mode.Target,
			"gpu_url": mode.GPUURL,
		})
	}

	return mode, err
}

func WithActivityTracker(service Service, tracker libtracker.ActivityTracker) Service {
	return &activityTrackerDecorator{
		service: service,
		tracker: tracker,
	}
}

var _ Service = (*activityTrackerDecorator)(nil)
