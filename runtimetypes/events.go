package runtimetypes

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

func (s *store) AppendEvent(ctx context.Context, event *StoredEvent) error {
	event.CreatedAt = time.Now().UTC()
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	_, err := s.Exec.ExecContext(ctx, `
		INSERT INTO runtime_events
		(id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4)`,
		event.ID,
		event.Type,
		string(event.Payload),
		event.CreatedAt,
	)
	return err
}

func (s *store) ListEvents(ctx context.Context, limit int) ([]*StoredEvent, error) {
	if limit > MAXLIMIT {
		return nil, ErrLimitParamExceeded
	}
	if limit <= 0 {
		limit = MAXLIMIT
	}
	rows, err := s.Exec.QueryContext(ctx, `
        SELECT id, event_type, payload, created_at
        FROM runtime_events
        ORDER BY created_at DESC, id DESC
        LIMIT $1;
    `, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	events := []*StoredEvent{}
	for rows.Next() {
		var event StoredEvent
		var payload string
		if err := rows.Scan(
			&event.ID,
			&event.Type,
			&payload,
			&event.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		event.Payload = []byte(payload)
		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return events, nil
}

func (s *store) DeleteAllEvents(ctx context.Context) error {
	_, err := s.Exec.ExecContext(ctx, `DELETE FROM runtime_events`)
	if err != nil {
		return fmt.Errorf("failed to truncate events: %w", err)
	}
	return nil
}

func (s *store) EstimateEventCount(ctx context.Context) (int64, error) {
	return s.estimateCount(ctx, "runtime_events")
}
