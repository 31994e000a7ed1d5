package hybrid

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"leomail/backend/internal/domain"
	"leomail/backend/internal/storage"
	"leomail/backend/internal/storage/redis"
)

// Store 混合存储实现：数据库为准，模板与问候语经 Redis 缓存。
// 缓存读写失败只记录日志，不影响数据库操作的结果。
type Store struct {
	storage.Store
	cache  *redis.Cache
	ctx    context.Context
	logger *zap.Logger
}

// NewStore 创建混合存储实例
func NewStore(db storage.Store, cache *redis.Cache, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		Store:  db,
		cache:  cache,
		ctx:    context.Background(),
		logger: logger.Named("hybrid"),
	}
}

// ========== Template Repository ==========

// GetTemplate 先读缓存，未命中时读数据库并回填
func (s *Store) GetTemplate(id string) (*domain.Template, error) {
	if tpl, err := s.cache.GetCachedTemplate(s.ctx, id); err == nil {
		return tpl, nil
	} else if !errors.Is(err, redis.ErrCacheMiss) {
		s.logger.Warn("读取模板缓存失败", zap.String("template_id", id), zap.Error(err))
	}

	tpl, err := s.Store.GetTemplate(id)
	if err != nil {
		return nil, err
	}
	s.warn(s.cache.CacheTemplate(s.ctx, tpl), "写入模板缓存失败")
	return tpl, nil
}

// UpdateTemplate 更新数据库并删除缓存
func (s *Store) UpdateTemplate(tpl *domain.Template) error {
	if err := s.Store.UpdateTemplate(tpl); err != nil {
		return err
	}
	s.warn(s.cache.DeleteCachedTemplate(s.ctx, tpl.ID), "删除模板缓存失败")
	return nil
}

// DeleteTemplate 删除数据库记录与缓存
func (s *Store) DeleteTemplate(id string) error {
	if err := s.Store.DeleteTemplate(id); err != nil {
		return err
	}
	s.warn(s.cache.DeleteCachedTemplate(s.ctx, id), "删除模板缓存失败")
	return nil
}

// ========== Greeting Repository ==========

// SaveGreeting 保存问候语并删除缓存
func (s *Store) SaveGreeting(greeting *domain.Greeting) error {
	if err := s.Store.SaveGreeting(greeting); err != nil {
		return err
	}
	s.warn(s.cache.DeleteCachedGreeting(s.ctx, greeting.ID), "删除问候语缓存失败")
	return nil
}

// GetGreeting 先读缓存，未命中时读数据库并回填
func (s *Store) GetGreeting(id string) (*domain.Greeting, error) {
	if g, err := s.cache.GetCachedGreeting(s.ctx, id); err == nil {
		return g, nil
	}

	g, err := s.Store.GetGreeting(id)
	if err != nil {
		return nil, err
	}
	s.warn(s.cache.CacheGreeting(s.ctx, g), "写入问候语缓存失败")
	return g, nil
}

func (s *Store) warn(err error, msg string) {
	if err != nil {
		s.logger.Warn(msg, zap.Error(err))
	}
}
