package smtp

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// ConnectionLimiter SMTP 会话限流器：限制并发会话数与每秒新建会话数
type ConnectionLimiter struct {
	maxConns    int
	current     int
	mu          sync.Mutex
	slots       chan struct{}
	rateLimiter *rate.Limiter
}

// NewConnectionLimiter 创建会话限流器
//
// 参数:
//   - maxConns: 最大并发会话数
//   - perSecond: 每秒最大新建会话数，<= 0 表示不限速
//   - burst: 令牌桶容量
func NewConnectionLimiter(maxConns int, perSecond float64, burst int) *ConnectionLimiter {
	if maxConns <= 0 {
		maxConns = 1
	}
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return &ConnectionLimiter{
		maxConns:    maxConns,
		slots:       make(chan struct{}, maxConns),
		rateLimiter: rate.NewLimiter(limit, burst),
	}
}

// Acquire 阻塞直到获得会话许可或 ctx 结束
func (l *ConnectionLimiter) Acquire(ctx context.Context) error {
	select {
	case l.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := l.rateLimiter.Wait(ctx); err != nil {
		<-l.slots
		return err
	}
	l.mu.Lock()
	l.current++
	l.mu.Unlock()
	return nil
}

// TryAcquire 非阻塞获取许可
func (l *ConnectionLimiter) TryAcquire() bool {
	select {
	case l.slots <- struct{}{}:
	default:
		return false
	}
	if !l.rateLimiter.Allow() {
		<-l.slots
		return false
	}
	l.mu.Lock()
	l.current++
	l.mu.Unlock()
	return true
}

// Release 释放会话许可
func (l *ConnectionLimiter) Release() {
	l.mu.Lock()
	if l.current > 0 {
		l.current--
		l.mu.Unlock()
		<-l.slots
		return
	}
	l.mu.Unlock()
}

// Current 当前会话数
func (l *ConnectionLimiter) Current() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}
