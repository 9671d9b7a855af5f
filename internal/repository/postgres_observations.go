package repository

import (
	"context"
	"database/sql"
	"time"

	"wisefido-crowd/internal/domain"

	"github.com/lib/pq"
)

// PostgresObservationsRepo 观测记录Repository实现
type PostgresObservationsRepo struct {
	q querier
}

var _ ObservationRepository = (*PostgresObservationsRepo)(nil)

// Record 批量写入 sightings（一次 INSERT ... SELECT unnest）
func (r *PostgresObservationsRepo) Record(ctx context.Context, sensorID string, at time.Time, readings []Reading) error {
	readings = dedupeReadings(readings)
	if len(readings) == 0 {
		return nil
	}

	tokens := make([]string, len(readings))
	rssi := make([]sql.NullInt64, len(readings))
	for i, rd := range readings {
		tokens[i] = string(rd.Token)
		if rd.RSSI != nil {
			rssi[i] = sql.NullInt64{Int64: int64(*rd.RSSI), Valid: true}
		}
	}

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO sightings (sensor_id, token, seen_at, rssi)
		SELECT $1, t.token, $2, t.rssi
		FROM unnest($3::text[], $4::int[]) AS t(token, rssi)
		ON CONFLICT (sensor_id, token, seen_at) DO NOTHING
	`, sensorID, at.UTC(), pq.Array(tokens), pq.Array(rssi))
	if err != nil {
		return domain.Unavailable("record sightings", err)
	}
	return nil
}

// DistinctCount 窗口 (Start, End] 内每个传感器的去重 token 数
func (r *PostgresObservationsRepo) DistinctCount(ctx context.Context, sensorIDs []string, w domain.Window) (map[string]int, error) {
	out := make(map[string]int, len(sensorIDs))
	if len(sensorIDs) == 0 {
		return out, nil
	}
	for _, id := range sensorIDs {
		out[id] = 0
	}

	rows, err := r.q.QueryContext(ctx, `
		SELECT sensor_id, COUNT(DISTINCT token)
		FROM sightings
		WHERE sensor_id = ANY($1)
		  AND seen_at > $2
		  AND seen_at <= $3
		GROUP BY sensor_id
	`, pq.Array(sensorIDs), w.Start.UTC(), w.End.UTC())
	if err != nil {
		return nil, domain.Unavailable("distinct count", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id    string
			count int
		)
		if err := rows.Scan(&id, &count); err != nil {
			return nil, domain.Unavailable("scan distinct count", err)
		}
		out[id] = count
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Unavailable("distinct count", err)
	}
	return out, nil
}
