package conversationservice

import (
	"context"

	"github.com/caonguyenthanhan/medruntime/libtracker"
)

type activityTrackerDecorator struct {
	service Service
	tracker libtracker.ActivityTracker
}

func (d *activityTrackerDecorator) PurgeAll(ctx context.Context, bearer string) (*Result, error) {
	reportErrFn, reportChangeFn, endFn := d.tracker.Start(
		ctx,
		"purge",
		"conversations",
	)
	defer endFn()

	result, err := d.service.PurgeAll(ctx, bearer)
	if err != nil {
		reportErrFn(err)
	} else {
		reportChangeFn("conversations", map[string]interface{}{
			"deleted": result.Deleted,
			"failed":  len(result.Failed),
		})
	}

	return result, err
}

func WithActivityTracker(service Service, tracker libtracker.ActivityTracker) Service {
	return &activityTrackerDecorator{
		service: service,
		tracker: tracker,
	}
}

var _ Service = (*activityTrackerDecorator)(nil)
