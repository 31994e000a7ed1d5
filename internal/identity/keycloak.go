// Package identity 访问身份提供方（Keycloak）的管理接口，查询用户资料。
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2/clientcredentials"

	"leomail/backend/internal/config"
)

var (
	// ErrUserNotFound 身份提供方中不存在该用户
	ErrUserNotFound = errors.New("identity user not found")
	// ErrNotConfigured 未配置身份提供方
	ErrNotConfigured = errors.New("identity provider not configured")
)

// User 身份提供方中的用户资料
type User struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Enabled   bool   `json:"enabled"`
}

// Complete 导入联系人需要邮箱和姓名
func (u *User) Complete() bool {
	return u.Email != "" && u.FirstName != "" && u.LastName != ""
}

// Client Keycloak 管理接口客户端，使用 client credentials 获取访问令牌
type Client struct {
	baseURL    string
	realm      string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient 创建客户端。令牌由 oauth2 传输层自动获取和刷新。
func NewClient(cfg config.IdentityConfig, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" || cfg.Realm == "" || cfg.ClientID == "" {
		return nil, ErrNotConfigured
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", cfg.BaseURL, url.PathEscape(cfg.Realm)),
	}
	httpClient := cc.Client(context.Background())
	httpClient.Timeout = timeout

	return &Client{
		baseURL:    cfg.BaseURL,
		realm:      cfg.Realm,
		httpClient: httpClient,
		logger:     logger.Named("identity"),
	}, nil
}

// FindUser 按 ID 查询用户
func (c *Client) FindUser(ctx context.Context, id string) (*User, error) {
	var user User
	endpoint := c.adminURL("users", url.PathEscape(id))
	if err := c.getJSON(ctx, endpoint, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// ListUsers 分页列出用户，first 从 0 开始
func (c *Client) ListUsers(ctx context.Context, first, max int) ([]User, error) {
	q := url.Values{}
	q.Set("first", strconv.Itoa(first))
	q.Set("max", strconv.Itoa(max))
	q.Set("briefRepresentation", "true")

	var users []User
	if err := c.getJSON(ctx, c.adminURL("users")+"?"+q.Encode(), &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (c *Client) adminURL(parts ...string) string {
	u := fmt.Sprintf("%s/admin/realms/%s", c.baseURL, url.PathEscape(c.realm))
	for _, p := range parts {
		u += "/" + p
	}
	return u
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("identity request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrUserNotFound
	case resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		c.logger.Warn("身份提供方返回错误",
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)))
		return fmt.Errorf("identity request: unexpected status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode identity response: %w", err)
	}
	return nil
}
