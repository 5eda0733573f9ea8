package runtimetypes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	libdb "github.com/caonguyenthanhan/medruntime/libdbexec"
)

// GetMode reads the singleton mode row. Returns libdb.ErrNotFound when the
// mode was never written; callers decide the default.
func (s *store) GetMode(ctx context.Context) (*RuntimeMode, error) {
	var mode RuntimeMode
	err := s.Exec.QueryRowContext(ctx, `
		SELECT target, gpu_url, updated_at
		FROM runtime_mode
		WHERE id = 1`,
	).Scan(
		&mode.Target,
		&mode.GPUURL,
		&mode.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, libdb.ErrNotFound
	}
	return &mode, err
}

// SetMode overwrites the singleton mode row wholesale.
func (s *store) SetMode(ctx context.Context, mode *RuntimeMode) error {
	mode.UpdatedAt = time.Now().UTC()

	_, err := s.Exec.ExecContext(ctx, `
		INSERT INTO runtime_mode (id, target, gpu_url, updated_at)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET target = $1,
			gpu_url = $2,
			updated_at = $3`,
		mode.Target,
		mode.GPUURL,
		mode.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to set mode: %w", err)
	}
	return nil
}
