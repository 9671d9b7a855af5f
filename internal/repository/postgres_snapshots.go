package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"wisefido-crowd/internal/domain"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PostgresSnapshotsRepo 快照Repository实现
type PostgresSnapshotsRepo struct {
	q querier
}

var _ SnapshotRepository = (*PostgresSnapshotsRepo)(nil)

// CreateSnapshot 写入快照（SnapshotID 为空时自动生成）
func (r *PostgresSnapshotsRepo) CreateSnapshot(ctx context.Context, s *domain.Snapshot) error {
	if s.SnapshotID == "" {
		s.SnapshotID = uuid.NewString()
	}
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO crowd_snapshots (snapshot_id, sensor_id, taken_at, tokens, token_count)
		VALUES ($1, $2, $3, $4, $5)
	`, s.SnapshotID, s.SensorID, s.TakenAt.UTC(), pq.Array(tokenStrings(s.Tokens)), len(s.Tokens))
	if err != nil {
		return domain.Unavailable("create snapshot", err)
	}
	return nil
}

// ListSnapshots 最近 limit 个快照（升序）
func (r *PostgresSnapshotsRepo) ListSnapshots(ctx context.Context, sensorID string, limit int) ([]domain.Snapshot, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT snapshot_id::text, sensor_id, taken_at, tokens
		FROM (
			SELECT snapshot_id, sensor_id, taken_at, tokens
			FROM crowd_snapshots
			WHERE sensor_id = $1
			ORDER BY taken_at DESC
			LIMIT $2
		) recent
		ORDER BY taken_at ASC
	`, sensorID, limit)
	if err != nil {
		return nil, domain.Unavailable("list snapshots", err)
	}
	defer rows.Close()

	out := []domain.Snapshot{}
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Unavailable("list snapshots", err)
	}
	return out, nil
}

// LatestSnapshot [since, until] 内最新快照
func (r *PostgresSnapshotsRepo) LatestSnapshot(ctx context.Context, sensorID string, since, until time.Time) (*domain.Snapshot, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT snapshot_id::text, sensor_id, taken_at, tokens
		FROM crowd_snapshots
		WHERE sensor_id = $1
		  AND taken_at >= $2
		  AND taken_at <= $3
		ORDER BY taken_at DESC
		LIMIT 1
	`, sensorID, since.UTC(), until.UTC())
	s, err := scanSnapshot(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: sensor %s", domain.ErrNoRecentData, sensorID)
		}
		return nil, err
	}
	return s, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSnapshot(row rowScanner) (*domain.Snapshot, error) {
	var (
		s      domain.Snapshot
		tokens []string
	)
	if err := row.Scan(&s.SnapshotID, &s.SensorID, &s.TakenAt, pq.Array(&tokens)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, domain.Unavailable("scan snapshot", err)
	}
	s.Tokens = make([]domain.Token, len(tokens))
	for i, t := range tokens {
		s.Tokens[i] = domain.Token(t)
	}
	return &s, nil
}

func tokenStrings(tokens []domain.Token) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = string(t)
	}
	return out
}
