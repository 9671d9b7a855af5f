package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"

	"wisefido-crowd/internal/domain"

	"go.uber.org/zap"
)

//go:embed schema.sql
var schemaSQL string

// Schema 返回建表语句（供 apply-migration 使用）
func Schema() string {
	return schemaSQL
}

// querier *sql.DB 与 *sql.Tx 的公共部分
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// PostgresStore Store 的 PostgreSQL 实现
type PostgresStore struct {
	db     *sql.DB
	q      querier
	inTx   bool
	logger *zap.Logger
}

// NewPostgresStore 创建 PostgresStore
func NewPostgresStore(db *sql.DB, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{db: db, q: db, logger: logger}
}

// 确保实现了接口
var _ Store = (*PostgresStore)(nil)

func (s *PostgresStore) Sensors() SensorRepository {
	return &PostgresSensorsRepo{q: s.q}
}

func (s *PostgresStore) Observations() ObservationRepository {
	return &PostgresObservationsRepo{q: s.q}
}

func (s *PostgresStore) Snapshots() SnapshotRepository {
	return &PostgresSnapshotsRepo{q: s.q}
}

func (s *PostgresStore) Alerts() AlertRepository {
	return &PostgresAlertsRepo{q: s.q}
}

func (s *PostgresStore) Webhooks() WebhookRepository {
	return &PostgresWebhooksRepo{q: s.q}
}

// WithTx 开启事务执行 fn；已在事务中时直接复用
func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Unavailable("begin tx", err)
	}

	if err := fn(&PostgresStore{db: s.db, q: tx, inTx: true, logger: s.logger}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			s.logger.Error("Failed to rollback transaction", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return domain.Unavailable("commit tx", err)
	}
	return nil
}

// EnsureSchema 执行建表语句（幂等）
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" || isCommentOnly(stmt) {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

func isCommentOnly(stmt string) bool {
	for _, line := range strings.Split(stmt, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "--") {
			return false
		}
	}
	return true
}
