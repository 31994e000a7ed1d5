// Package health 提供 /health/live 与 /health/ready 探针。
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"
)

// DefaultCheckTimeout 单项就绪检查的超时
const DefaultCheckTimeout = 5 * time.Second

// Pinger 支持带超时探活的依赖（Redis、pgx 连接池）
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker 健康检查器
type HealthChecker struct {
	health healthcheck.Handler
	logger *zap.Logger
}

// NewHealthChecker 创建健康检查器，默认带一个 goroutine 数量的存活检查
func NewHealthChecker(logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	hc := &HealthChecker{
		health: healthcheck.NewHandler(),
		logger: logger,
	}
	hc.health.AddLivenessCheck("goroutines", healthcheck.GoroutineCountCheck(10000))
	return hc
}

// AddReadiness 添加一项就绪检查
func (hc *HealthChecker) AddReadiness(name string, check func() error) {
	hc.health.AddReadinessCheck(name, healthcheck.Timeout(func() error {
		err := check()
		if err != nil {
			hc.logger.Warn("就绪检查失败", zap.String("check", name), zap.Error(err))
		}
		return err
	}, DefaultCheckTimeout))
}

// AddPinger 把 Ping(ctx) 形式的依赖注册为就绪检查
func (hc *HealthChecker) AddPinger(name string, p Pinger) {
	hc.AddReadiness(name, PingCheck(p))
}

// Handler 返回健康检查处理器，路径为 /live 与 /ready
func (hc *HealthChecker) Handler() http.Handler {
	return hc.health
}

// LiveHandler 存活探针
func (hc *HealthChecker) LiveHandler(w http.ResponseWriter, r *http.Request) {
	hc.health.LiveEndpoint(w, r)
}

// ReadyHandler 就绪探针
func (hc *HealthChecker) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	hc.health.ReadyEndpoint(w, r)
}

// PingCheck Ping 健康检查
func PingCheck(p Pinger) healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), DefaultCheckTimeout)
		defer cancel()
		return p.Ping(ctx)
	}
}
