package retryhistory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	pkgerrors "telenotify/pkg/errors"
)

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) FindByID(ctx context.Context, requestID string) (*AlertHistory, error) {
	query := `
		SELECT request_id, origin_id, retry_records, applied_attempts, version, updated_at
		FROM alert_history
		WHERE request_id = $1
	`

	var (
		history AlertHistory
		records []byte
		applied []byte
	)
	err := r.db.QueryRowContext(ctx, query, requestID).Scan(
		&history.RequestID, &history.OriginID, &records, &applied, &history.Version, &history.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrNotFound.WithMessage("alert history %s not found", requestID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert history %s: %w", requestID, err)
	}

	if err := json.Unmarshal(records, &history.RetryRecords); err != nil {
		return nil, pkgerrors.ErrDecode.WithCause(err).WithMessage("corrupt retry records for %s", requestID)
	}
	if err := json.Unmarshal(applied, &history.AppliedAttempts); err != nil {
		return nil, pkgerrors.ErrDecode.WithCause(err).WithMessage("corrupt applied attempts for %s", requestID)
	}

	return &history, nil
}

func (r *PostgresRepository) Save(ctx context.Context, history *AlertHistory) error {
	records, err := encodeJSONArray(history.RetryRecords)
	if err != nil {
		return fmt.Errorf("failed to encode retry records: %w", err)
	}
	applied, err := encodeJSONArray(history.AppliedAttempts)
	if err != nil {
		return fmt.Errorf("failed to encode applied attempts: %w", err)
	}

	expected := history.Version
	var query string
	if expected == 0 {
		query = `
			INSERT INTO alert_history (request_id, origin_id, retry_records, applied_attempts, version, updated_at)
			VALUES ($1, $2, $3, $4, 1, $5)
			ON CONFLICT (request_id) DO NOTHING
		`
	} else {
		query = `
			UPDATE alert_history
			SET origin_id = $2,
			    retry_records = $3,
			    applied_attempts = $4,
			    version = version + 1,
			    updated_at = $5
			WHERE request_id = $1 AND version = $6
		`
	}

	args := []interface{}{history.RequestID, history.OriginID, records, applied, history.UpdatedAt}
	if expected != 0 {
		args = append(args, expected)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to save alert history %s: %w", history.RequestID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to save alert history %s: %w", history.RequestID, err)
	}
	if n == 0 {
		return pkgerrors.ErrConflict.WithMessage("alert history %s changed since version %d", history.RequestID, expected)
	}

	history.Version = expected + 1
	return nil
}

// encodeJSONArray renders a nil slice as [] so the JSONB columns never hold null.
func encodeJSONArray[T any](items []T) ([]byte, error) {
	if items == nil {
		items = []T{}
	}
	return json.Marshal(items)
}
