// Package scheduler 定时投递到期的发送任务。
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"leomail/backend/internal/config"
	"leomail/backend/internal/domain"
	"leomail/backend/internal/monitoring"
)

// DefaultInterval 默认轮询间隔
const DefaultInterval = 15 * time.Second

// 每轮的结果标签
const (
	resultOK      = "ok"
	resultError   = "error"
	resultSkipped = "skipped"
)

// DueJobs 查询到期任务
type DueJobs interface {
	DueSendJobs(now time.Time, claimTTL time.Duration) ([]domain.SendJob, error)
}

// JobSender 投递单个任务
type JobSender interface {
	SendMail(ctx context.Context, jobID string) (*domain.SendJob, error)
}

// Lease 多实例部署时保证每轮只有一个实例执行
type Lease interface {
	Acquire(ctx context.Context, ttl time.Duration) (bool, error)
}

// Scheduler 按固定间隔查询到期任务并逐个投递，启动时立即执行一轮
type Scheduler struct {
	jobs     DueJobs
	sender   JobSender
	lease    Lease
	metrics  *monitoring.Metrics
	interval time.Duration
	claimTTL time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	running sync.WaitGroup // 启动时的首轮
}

// New 创建调度器，lease 与 metrics 可为 nil
func New(cfg config.SchedulerConfig, jobs DueJobs, sender JobSender, lease Lease, metrics *monitoring.Metrics, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		jobs:     jobs,
		sender:   sender,
		lease:    lease,
		metrics:  metrics,
		interval: interval,
		claimTTL: cfg.ClaimTTL,
		logger:   logger.Named("scheduler"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start 启动调度。上一轮未结束时跳过本轮。
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return errors.New("scheduler already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	logger := cronLogger{s.logger}
	c := cron.New(cron.WithLogger(logger))
	job := cron.NewChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)).Then(cron.FuncJob(func() {
		if _, err := s.Tick(runCtx); err != nil {
			s.logger.Error("定时发送失败", zap.Error(err))
		}
	}))
	c.Schedule(cron.Every(s.interval), job)

	s.cron = c
	s.cancel = cancel
	c.Start()
	s.running.Add(1)
	go func() {
		defer s.running.Done()
		job.Run()
	}()

	s.logger.Info("定时发送已启动", zap.Duration("interval", s.interval))
	return nil
}

// Stop 停止调度并等待正在执行的一轮结束
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	cancel()
	s.running.Wait()
	s.logger.Info("定时发送已停止")
}

// Tick 执行一轮：查询到期任务并逐个投递，返回成功投递的任务数。
// 单个任务的失败只记录日志，不影响其他任务。
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	if s.lease != nil {
		ok, err := s.lease.Acquire(ctx, s.interval)
		if err != nil {
			s.recordTick(resultError, 0)
			return 0, fmt.Errorf("acquire scheduler lease: %w", err)
		}
		if !ok {
			s.recordTick(resultSkipped, 0)
			return 0, nil
		}
	}

	due, err := s.jobs.DueSendJobs(s.now(), s.claimTTL)
	if err != nil {
		s.recordTick(resultError, 0)
		return 0, fmt.Errorf("query due send jobs: %w", err)
	}
	if len(due) > 0 {
		s.logger.Info("发现到期任务", zap.Int("count", len(due)))
	}

	sent := 0
	for i := range due {
		if ctx.Err() != nil {
			break
		}
		if s.sendOne(ctx, due[i].ID) {
			sent++
		}
	}
	s.recordTick(resultOK, len(due))
	return sent, nil
}

// sendOne 投递单个任务，捕获 panic
func (s *Scheduler) sendOne(ctx context.Context, jobID string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("投递任务 panic", zap.String("job_id", jobID), zap.Any("panic", r))
			if s.metrics != nil {
				s.metrics.RecordPanic()
			}
			ok = false
		}
	}()

	_, err := s.sender.SendMail(ctx, jobID)
	switch {
	case err == nil:
		return true
	case errors.Is(err, domain.ErrAlreadySent), errors.Is(err, domain.ErrSendInProgress):
		// 其他发送者已经处理
		s.logger.Debug("任务已由其他发送者处理", zap.String("job_id", jobID), zap.Error(err))
	default:
		s.logger.Error("投递任务失败", zap.String("job_id", jobID), zap.Error(err))
		if s.metrics != nil {
			s.metrics.RecordError("send_job", "scheduler")
		}
	}
	return false
}

func (s *Scheduler) recordTick(result string, due int) {
	if s.metrics != nil {
		s.metrics.RecordSchedulerTick(result, due)
	}
}

// cronLogger 把 cron 的日志写入 zap
type cronLogger struct {
	l *zap.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
