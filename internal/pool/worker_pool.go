package pool

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// WorkerPool 协程池
//
// 用于限制批量任务（如联系人导入）的并发数量
type WorkerPool struct {
	maxWorkers int
	taskQueue  chan func()
	wg         sync.WaitGroup
	pending    sync.WaitGroup
	logger     *zap.Logger
	onPanic    func(recovered any)
	stopOnce   sync.Once
}

// NewWorkerPool 创建协程池
//
// 参数:
//   - maxWorkers: 最大协程数
//   - queueSize: 任务队列大小
func NewWorkerPool(maxWorkers, queueSize int, logger *zap.Logger) *WorkerPool {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkerPool{
		maxWorkers: maxWorkers,
		taskQueue:  make(chan func(), queueSize),
		logger:     logger,
	}
}

// OnPanic 设置任务 panic 时的回调，需在 Start 之前调用
func (p *WorkerPool) OnPanic(fn func(recovered any)) {
	p.onPanic = fn
}

// Start 启动协程池
func (p *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < p.maxWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Submit 提交任务
//
// 如果队列已满，会阻塞直到有空位或 ctx 结束
func (p *WorkerPool) Submit(ctx context.Context, task func()) error {
	p.pending.Add(1)
	select {
	case p.taskQueue <- task:
		return nil
	case <-ctx.Done():
		p.pending.Done()
		return ctx.Err()
	}
}

// TrySubmit 尝试提交任务
//
// 如果队列已满，立即返回 false
func (p *WorkerPool) TrySubmit(task func()) bool {
	p.pending.Add(1)
	select {
	case p.taskQueue <- task:
		return true
	default:
		p.pending.Done()
		return false
	}
}

// Wait 等待已提交的任务全部执行完
func (p *WorkerPool) Wait() {
	p.pending.Wait()
}

// Stop 停止协程池
func (p *WorkerPool) Stop() {
	p.stopOnce.Do(func() {
		close(p.taskQueue)
	})
	p.wg.Wait()
}

// worker 工作协程
func (p *WorkerPool) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			p.drain()
			return
		case task, ok := <-p.taskQueue:
			if !ok {
				return
			}
			p.run(task)
		}
	}
}

// drain 丢弃队列中未执行的任务，保证 Wait 能返回
func (p *WorkerPool) drain() {
	for {
		select {
		case _, ok := <-p.taskQueue:
			if !ok {
				return
			}
			p.pending.Done()
		default:
			return
		}
	}
}

// run 执行任务（捕获 panic）
func (p *WorkerPool) run(task func()) {
	defer p.pending.Done()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("任务执行 panic", zap.String("panic", fmt.Sprint(r)))
			if p.onPanic != nil {
				p.onPanic(r)
			}
		}
	}()
	task()
}
