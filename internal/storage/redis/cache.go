package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"leomail/backend/internal/domain"
)

// ErrCacheMiss 缓存中没有该键
var ErrCacheMiss = errors.New("cache miss")

// DefaultTemplateTTL 模板缓存默认有效期
const DefaultTemplateTTL = 10 * time.Minute

// Cache 模板与问候语的 Redis 缓存。渲染每个任务都会读取模板，
// 定时任务每轮也会读取，缓存减少数据库查询。
type Cache struct {
	client *goredis.Client
	ttl    time.Duration
}

// NewCache 创建缓存，ttl <= 0 时使用 DefaultTemplateTTL
func NewCache(client *Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTemplateTTL
	}
	return &Cache{client: client.Client(), ttl: ttl}
}

func templateKey(id string) string { return fmt.Sprintf("leomail:template:%s", id) }

func greetingKey(id string) string { return fmt.Sprintf("leomail:greeting:%s", id) }

// ========== 模板缓存 ==========

// CacheTemplate 缓存模板
func (c *Cache) CacheTemplate(ctx context.Context, tpl *domain.Template) error {
	return c.setJSON(ctx, templateKey(tpl.ID), tpl)
}

// GetCachedTemplate 获取缓存的模板，未命中返回 ErrCacheMiss
func (c *Cache) GetCachedTemplate(ctx context.Context, id string) (*domain.Template, error) {
	var tpl domain.Template
	if err := c.getJSON(ctx, templateKey(id), &tpl); err != nil {
		return nil, err
	}
	return &tpl, nil
}

// DeleteCachedTemplate 删除缓存的模板
func (c *Cache) DeleteCachedTemplate(ctx context.Context, id string) error {
	return c.client.Del(ctx, templateKey(id)).Err()
}

// ========== 问候语缓存 ==========

// CacheGreeting 缓存问候语
func (c *Cache) CacheGreeting(ctx context.Context, g *domain.Greeting) error {
	return c.setJSON(ctx, greetingKey(g.ID), g)
}

// GetCachedGreeting 获取缓存的问候语，未命中返回 ErrCacheMiss
func (c *Cache) GetCachedGreeting(ctx context.Context, id string) (*domain.Greeting, error) {
	var g domain.Greeting
	if err := c.getJSON(ctx, greetingKey(id), &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// DeleteCachedGreeting 删除缓存的问候语
func (c *Cache) DeleteCachedGreeting(ctx context.Context, id string) error {
	return c.client.Del(ctx, greetingKey(id)).Err()
}

func (c *Cache) setJSON(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, c.ttl).Err()
}

func (c *Cache) getJSON(ctx context.Context, key string, out interface{}) error {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return ErrCacheMiss
		}
		return err
	}
	return json.Unmarshal(data, out)
}
