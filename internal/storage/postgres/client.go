package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"leomail/backend/internal/config"
)

// Client 封装 PostgreSQL 连接池，用于就绪检查和调度器租约
type Client struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

// New 创建新的 PostgreSQL 客户端
func New(cfg config.DatabaseConfig, logger *zap.Logger) (*Client, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database DSN: %w", err)
	}

	// 只承担探活与租约，连接数保持很小
	poolConfig.MaxConns = 2
	poolConfig.MinConns = 0
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log := logger.Named("postgres")
	log.Info("connected to PostgreSQL", zap.Int32("max_conns", poolConfig.MaxConns))

	return &Client{
		pool: pool,
		log:  log,
	}, nil
}

// Pool 返回底层的连接池
func (c *Client) Pool() *pgxpool.Pool {
	return c.pool
}

// Close 关闭数据库连接池
func (c *Client) Close() {
	c.pool.Close()
	c.log.Info("PostgreSQL connection closed")
}

// Ping 测试数据库连接
func (c *Client) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

// Stats 返回连接池统计信息
func (c *Client) Stats() *pgxpool.Stat {
	return c.pool.Stat()
}

const createLeaseTable = `CREATE TABLE IF NOT EXISTS scheduler_leases (
	name       VARCHAR(64) PRIMARY KEY,
	owner      VARCHAR(36) NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
)`

// 仅当租约过期或本实例已持有时才覆盖
const acquireLease = `INSERT INTO scheduler_leases (name, owner, expires_at)
VALUES ($1, $2, now() + $3::interval)
ON CONFLICT (name) DO UPDATE
SET owner = EXCLUDED.owner, expires_at = EXCLUDED.expires_at
WHERE scheduler_leases.expires_at < now() OR scheduler_leases.owner = EXCLUDED.owner`

// Lease 基于数据库行的调度器租约，未启用 Redis 时保证多实例中只有一个执行调度
type Lease struct {
	client *Client
	name   string
	owner  string
}

// NewLease 创建租约并确保租约表存在
func (c *Client) NewLease(ctx context.Context, name string) (*Lease, error) {
	if _, err := c.pool.Exec(ctx, createLeaseTable); err != nil {
		return nil, fmt.Errorf("create lease table: %w", err)
	}
	return &Lease{client: c, name: name, owner: uuid.NewString()}, nil
}

// Acquire 获取或续期租约
func (l *Lease) Acquire(ctx context.Context, ttl time.Duration) (bool, error) {
	interval := fmt.Sprintf("%d milliseconds", ttl.Milliseconds())
	tag, err := l.client.pool.Exec(ctx, acquireLease, l.name, l.owner, interval)
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", l.name, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Release 释放本实例持有的租约
func (l *Lease) Release(ctx context.Context) error {
	_, err := l.client.pool.Exec(ctx, `DELETE FROM scheduler_leases WHERE name = $1 AND owner = $2`, l.name, l.owner)
	return err
}
