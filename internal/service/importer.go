package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"leomail/backend/internal/domain"
	"leomail/backend/internal/monitoring"
	"leomail/backend/internal/pool"
	"leomail/backend/internal/storage"
)

// DefaultImportPageSize 每次向身份提供方请求的用户数
const DefaultImportPageSize = 2000

// ImportStatus 用户导入是否正在进行，变化时通知订阅者
type ImportStatus struct {
	running atomic.Bool
	mu      sync.Mutex
	subs    map[int]func(bool)
	nextID  int
}

// NewImportStatus 创建导入状态
func NewImportStatus() *ImportStatus {
	return &ImportStatus{subs: make(map[int]func(bool))}
}

// Get 当前是否正在导入
func (s *ImportStatus) Get() bool {
	return s.running.Load()
}

// Set 更新状态，值发生变化时通知全部订阅者
func (s *ImportStatus) Set(running bool) {
	if s.running.Swap(running) == running {
		return
	}
	s.notify(running)
}

// tryStart 仅当没有导入在进行时置为 true
func (s *ImportStatus) tryStart() bool {
	if !s.running.CompareAndSwap(false, true) {
		return false
	}
	s.notify(true)
	return true
}

func (s *ImportStatus) notify(running bool) {
	s.mu.Lock()
	subs := make([]func(bool), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()
	for _, fn := range subs {
		fn(running)
	}
}

// Subscribe 注册状态变化回调，返回取消函数
func (s *ImportStatus) Subscribe(fn func(running bool)) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// ImportResult 一次导入的统计
type ImportResult struct {
	Fetched  int
	Imported int
	Skipped  int
	Failed   int
	Duration time.Duration
}

// ImportService 把身份提供方中的用户批量导入为自然人联系人
type ImportService struct {
	directory UserDirectory
	contacts  storage.ContactRepository
	status    *ImportStatus
	metrics   *monitoring.Metrics
	pageSize  int
	workers   int
	logger    *zap.Logger
}

// NewImportService 创建导入服务，pageSize <= 0 时使用 DefaultImportPageSize
func NewImportService(directory UserDirectory, contacts storage.ContactRepository, status *ImportStatus,
	metrics *monitoring.Metrics, pageSize int, logger *zap.Logger) *ImportService {
	if pageSize <= 0 {
		pageSize = DefaultImportPageSize
	}
	if status == nil {
		status = NewImportStatus()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ImportService{
		directory: directory,
		contacts:  contacts,
		status:    status,
		metrics:   metrics,
		pageSize:  pageSize,
		workers:   8,
		logger:    logger.Named("import"),
	}
}

// Status 返回导入状态
func (s *ImportService) Status() *ImportStatus {
	return s.status
}

// Run 分页拉取全部用户并写入联系人。已有导入在进行时返回 domain.ErrImportRunning。
// 缺少姓名或邮件地址的用户会被跳过。
func (s *ImportService) Run(ctx context.Context) (*ImportResult, error) {
	if !s.status.tryStart() {
		return nil, domain.ErrImportRunning
	}
	defer s.status.Set(false)
	if s.metrics != nil {
		s.metrics.SetImportRunning(true)
		defer s.metrics.SetImportRunning(false)
	}

	start := time.Now()
	workers := pool.NewWorkerPool(s.workers, s.workers*4, s.logger)
	workCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	workers.Start(workCtx)
	defer workers.Stop()

	var imported, failed atomic.Int64
	result := &ImportResult{}

	for first := 0; ; first += s.pageSize {
		users, err := s.directory.ListUsers(ctx, first, s.pageSize)
		if err != nil {
			workers.Wait()
			return nil, fmt.Errorf("list users at %d: %w", first, err)
		}
		result.Fetched += len(users)

		for i := range users {
			u := users[i]
			if !u.Complete() {
				result.Skipped++
				continue
			}
			err := workers.Submit(ctx, func() {
				c := domain.NewNaturalContact(u.ID, u.FirstName, u.LastName, u.Email)
				c.FromIdentity = true
				if err := s.contacts.SaveContact(c); err != nil {
					failed.Add(1)
					s.logger.Warn("保存联系人失败", zap.String("user_id", u.ID), zap.Error(err))
					return
				}
				imported.Add(1)
				if s.metrics != nil {
					s.metrics.RecordContactImported()
				}
			})
			if err != nil {
				workers.Wait()
				return nil, err
			}
		}

		if len(users) < s.pageSize {
			break
		}
	}

	workers.Wait()
	result.Imported = int(imported.Load())
	result.Failed = int(failed.Load())
	result.Duration = time.Since(start)

	s.logger.Info("用户导入完成",
		zap.Int("fetched", result.Fetched),
		zap.Int("imported", result.Imported),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
		zap.Duration("duration", result.Duration))
	return result, nil
}
