package pool

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool(t *testing.T) {
	t.Run("执行全部任务", func(t *testing.T) {
		p := NewWorkerPool(4, 16, nil)
		p.Start(context.Background())
		defer p.Stop()

		var n atomic.Int64
		for i := 0; i < 100; i++ {
			require.NoError(t, p.Submit(context.Background(), func() { n.Add(1) }))
		}
		p.Wait()
		assert.Equal(t, int64(100), n.Load())
	})

	t.Run("任务panic不影响其他任务", func(t *testing.T) {
		p := NewWorkerPool(1, 4, nil)
		var panics atomic.Int64
		p.OnPanic(func(any) { panics.Add(1) })
		p.Start(context.Background())
		defer p.Stop()

		var n atomic.Int64
		require.NoError(t, p.Submit(context.Background(), func() { panic("boom") }))
		require.NoError(t, p.Submit(context.Background(), func() { n.Add(1) }))
		p.Wait()

		assert.Equal(t, int64(1), panics.Load())
		assert.Equal(t, int64(1), n.Load())
	})

	t.Run("ctx取消后提交失败", func(t *testing.T) {
		p := NewWorkerPool(1, 0, nil)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := p.Submit(ctx, func() {})
		assert.ErrorIs(t, err, context.Canceled)
		p.Wait()
	})

	t.Run("重复Stop安全", func(t *testing.T) {
		p := NewWorkerPool(2, 1, nil)
		p.Start(context.Background())
		p.Stop()
		p.Stop()
	})
}
