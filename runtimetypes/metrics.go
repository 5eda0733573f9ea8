package runtimetypes

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

func (s *store) AppendMetric(ctx context.Context, sample *MetricSample) error {
	sample.CreatedAt = time.Now().UTC()
	if sample.ID == "" {
		sample.ID = uuid.New().String()
	}
	_, err := s.Exec.ExecContext(ctx, `
		INSERT INTO runtime_metrics
		(id, mode, duration_ms, ok, endpoint, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		sample.ID,
		sample.Mode,
		sample.DurationMS,
		sample.OK,
		sample.Endpoint,
		sample.CreatedAt,
	)
	return err
}

func (s *store) ListMetrics(ctx context.Context, limit int) ([]*MetricSample, error) {
	if limit > MAXLIMIT {
		return nil, ErrLimitParamExceeded
	}
	if limit <= 0 {
		limit = MAXLIMIT
	}
	rows, err := s.Exec.QueryContext(ctx, `
        SELECT id, mode, duration_ms, ok, endpoint, created_at
        FROM runtime_metrics
        ORDER BY created_at DESC, id DESC
        LIMIT $1;
    `, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query metrics: %w", err)
	}
	defer rows.Close()

	samples := []*MetricSample{}
	for rows.Next() {
		var sample MetricSample
		if err := rows.Scan(
			&sample.ID,
			&sample.Mode,
			&sample.DurationMS,
			&sample.OK,
			&sample.Endpoint,
			&sample.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan metric sample: %w", err)
		}
		samples = append(samples, &sample)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return samples, nil
}

func (s *store) EstimateMetricCount(ctx context.Context) (int64, error) {
	return s.estimateCount(ctx, "runtime_metrics")
}
