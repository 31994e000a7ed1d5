package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// SchedulerLeaseKey 定时发送租约的键
const SchedulerLeaseKey = "leomail:scheduler:lease"

// Lease 基于 SETNX 的租约，多个实例中同一时刻只有一个持有者
type Lease struct {
	client *goredis.Client
	key    string
	owner  string
}

// NewLease 创建租约，每个实例使用随机的持有者标识
func NewLease(client *Client, key string) *Lease {
	return &Lease{client: client.Client(), key: key, owner: uuid.NewString()}
}

// Owner 当前实例的持有者标识
func (l *Lease) Owner() string {
	return l.owner
}

// Acquire 获取或续期租约。租约由其他实例持有时返回 false。
func (l *Lease) Acquire(ctx context.Context, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.owner, ttl).Result()
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}

	current, err := l.client.Get(ctx, l.key).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			// 刚好过期，下一轮再竞争
			return false, nil
		}
		return false, err
	}
	if current != l.owner {
		return false, nil
	}
	if err := l.client.Expire(ctx, l.key, ttl).Err(); err != nil {
		return false, err
	}
	return true, nil
}

// Release 仅在自己持有时删除租约
func (l *Lease) Release(ctx context.Context) error {
	current, err := l.client.Get(ctx, l.key).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil
		}
		return err
	}
	if current != l.owner {
		return nil
	}
	return l.client.Del(ctx, l.key).Err()
}
