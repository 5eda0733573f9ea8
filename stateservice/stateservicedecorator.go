package stateservice

import (
	"context"

	"github.com/caonguyenthanhan/medruntime/libtracker"
	"github.com/caonguyenthanhan/medruntime/statetype"
)

type activityTrackerDecorator struct {
	service Service
	tracker libtracker.ActivityTracker
}

func (d *activityTrackerDecorator) Get(ctx context.Context) ([]statetype.EndpointRuntimeState, error) {
	reportErrFn, _, endFn := d.tracker.Start(
		ctx,
		"read",
		"state",
	)
	defer endFn()

	states, err := d.service.Get(ctx)
	if err != nil {
		reportErrFn(err)
	}

	return states, err
}

// WithActivityTracker wraps a state service with activity tracking
func WithActivityTracker(service Service, tracker libtracker.ActivityTracker) Service {
	return &activityTrackerDecorator{
		service: service,
		tracker: tracker,
	}
}

// Ensure the decorator implements the Service interface
var _ Service = (*activityTrackerDecorator)(nil)
