package chatservice

import (
	"context"

	"github.com/caonguyenthanhan/medruntime/libtracker"
)

type activityTrackerDecorator struct {
	service Service
	tracker libtracker.ActivityTracker
}

func (d *activityTrackerDecorator) Dispatch(ctx context.Context, route Route, req *ChatRequest) (*ChatResult, error) {
	conversationID, model := "", ""
	if req != nil {
		conversationID, model = req.ConversationID, req.Model
	}
	reportErrFn, reportChangeFn, endFn := d.tracker.Start(
		ctx,
		"dispatch",
		"chat",
		"route", route.Name,
		"conversationID", conversationID,
		"model", model,
	)
	defer endFn()

	result, err := d.service.Dispatch(ctx, route, req)
	if err != nil {
		reportErrFn(err)
	} else {
		reportChangeFn(route.Name, map[string]interface{}{
			"mode":     result.Metadata.Mode,
			"fallback": result.Metadata.Fallback,
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
