package runtimetypes

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	libdb "github.com/caonguyenthanhan/medruntime/libdbexec"
	_ "github.com/lib/pq"
)

func (s *store) CreateEndpoint(ctx context.Context, endpoint *Endpoint) error {
	now := time.Now().UTC()
	endpoint.CreatedAt = now
	endpoint.UpdatedAt = now
	if endpoint.Status == "" {
		endpoint.Status = StatusUnknown
	}
	_, err := s.Exec.ExecContext(ctx, `
		INSERT INTO runtime_endpoints
		(id, name, url, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		endpoint.ID,
		endpoint.Name,
		endpoint.URL,
		endpoint.Status,
		endpoint.CreatedAt,
		endpoint.UpdatedAt,
	)
	return err
}

func (s *store) GetEndpoint(ctx context.Context, id string) (*Endpoint, error) {
	var endpoint Endpoint
	err := s.Exec.QueryRowContext(ctx, `
		SELECT id, name, url, status, created_at, updated_at
		FROM runtime_endpoints
		WHERE id = $1`,
		id,
	).Scan(
		&endpoint.ID,
		&endpoint.Name,
		&endpoint.URL,
		&endpoint.Status,
		&endpoint.CreatedAt,
		&endpoint.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, libdb.ErrNotFound
	}
	return &endpoint, err
}

func (s *store) UpdateEndpoint(ctx context.Context, endpoint *Endpoint) error {
	endpoint.UpdatedAt = time.Now().UTC()

	result, err := s.Exec.ExecContext(ctx, `
		UPDATE runtime_endpoints
		SET name = $2,
			url = $3,
			status = $4,
			updated_at = $5
		WHERE id = $1`,
		endpoint.ID,
		endpoint.Name,
		endpoint.URL,
		endpoint.Status,
		endpoint.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to update endpoint: %w", err)
	}

	return checkRowsAffected(result)
}

func (s *store) UpdateEndpointStatus(ctx context.Context, id string, status string) error {
	result, err := s.Exec.ExecContext(ctx, `
		UPDATE runtime_endpoints
		SET status = $2,
			updated_at = $3
		WHERE id = $1`,
		id,
		status,
		time.Now().UTC(),
	)

	if err != nil {
		return fmt.Errorf("failed to update endpoint status: %w", err)
	}

	return checkRowsAffected(result)
}

func (s *store) DeleteEndpoint(ctx context.Context, id string) error {
	result, err := s.Exec.ExecContext(ctx, `
		DELETE FROM runtime_endpoints
		WHERE id = $1`,
		id,
	)

	if err != nil {
		return fmt.Errorf("failed to delete endpoint: %w", err)
	}

	return checkRowsAffected(result)
}

func (s *store) ListAllEndpoints(ctx context.Context) ([]*Endpoint, error) {
	rows, err := s.Exec.QueryContext(ctx, `
        SELECT id, name, url, status, created_at, updated_at
        FROM runtime_endpoints
        ORDER BY updated_at DESC, id DESC;
    `)
	if err != nil {
		return nil, fmt.Errorf("failed to query endpoints: %w", err)
	}
	defer rows.Close()

	return scanEndpoints(rows)
}

func (s *store) ListEndpoints(ctx context.Context, createdAtCursor *time.Time, limit int) ([]*Endpoint, error) {
	cursor := time.Now().UTC()
	if createdAtCursor != nil {
		cursor = *createdAtCursor
	}
	if limit > MAXLIMIT {
		return nil, ErrLimitParamExceeded
	}
	rows, err := s.Exec.QueryContext(ctx, `
        SELECT id, name, url, status, created_at, updated_at
        FROM runtime_endpoints
        WHERE created_at < $1
        ORDER BY created_at DESC, id DESC
        LIMIT $2;
    `, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query endpoints: %w", err)
	}
	defer rows.Close()

	return scanEndpoints(rows)
}

// LatestEndpoint resolves the routing candidate: any active endpoint wins
// over inactive ones regardless of recency, then most-recently-updated.
func (s *store) LatestEndpoint(ctx context.Context) (*Endpoint, error) {
	var endpoint Endpoint
	err := s.Exec.QueryRowContext(ctx, `
		SELECT id, name, url, status, created_at, updated_at
		FROM runtime_endpoints
		ORDER BY (status = 'active') DESC, updated_at DESC, id DESC
		LIMIT 1`,
	).Scan(
		&endpoint.ID,
		&endpoint.Name,
		&endpoint.URL,
		&endpoint.Status,
		&endpoint.CreatedAt,
		&endpoint.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, libdb.ErrNotFound
	}
	return &endpoint, err
}

func scanEndpoints(rows *sql.Rows) ([]*Endpoint, error) {
	endpoints := []*Endpoint{}
	for rows.Next() {
		var endpoint Endpoint
		if err := rows.Scan(
			&endpoint.ID,
			&endpoint.Name,
			&endpoint.URL,
			&endpoint.Status,
			&endpoint.CreatedAt,
			&endpoint.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan endpoint: %w", err)
		}
		endpoints = append(endpoints, &endpoint)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return endpoints, nil
}

func checkRowsAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return libdb.ErrNotFound
	}
	return nil
}

func (s *store) EstimateEndpointCount(ctx context.Context) (int64, error) {
	return s.estimateCount(ctx, "runtime_endpoints")
}
