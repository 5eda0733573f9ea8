package runtimetypes

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

func (s *store) AppendRegistryLog(ctx context.Context, entry *RegistryLogEntry) error {
	entry.CreatedAt = time.Now().UTC()
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	_, err := s.Exec.ExecContext(ctx, `
		INSERT INTO registry_log
		(id, action, ref, name, url, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID,
		entry.Action,
		entry.Ref,
		entry.Name,
		entry.URL,
		entry.Status,
		entry.CreatedAt,
	)
	return err
}

func (s *store) ListRegistryLogs(ctx context.Context, limit int) ([]*RegistryLogEntry, error) {
	if limit > MAXLIMIT {
		return nil, ErrLimitParamExceeded
	}
	if limit <= 0 {
		limit = MAXLIMIT
	}
	rows, err := s.Exec.QueryContext(ctx, `
        SELECT id, action, ref, name, url, status, created_at
        FROM registry_log
        ORDER BY created_at DESC, id DESC
        LIMIT $1;
    `, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query registry log: %w", err)
	}
	defer rows.Close()

	entries := []*RegistryLogEntry{}
	for rows.Next() {
		var entry RegistryLogEntry
		if err := rows.Scan(
			&entry.ID,
			&entry.Action,
			&entry.Ref,
			&entry.Name,
			&entry.URL,
			&entry.Status,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan registry log entry: %w", err)
		}
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return entries, nil
}

func (s *store) EstimateRegistryLogCount(ctx context.Context) (int64, error) {
	return s.estimateCount(ctx, "registry_log")
}
