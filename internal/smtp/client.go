// Package smtp 提供对外发信的 SMTP 客户端，以及开发环境使用的本地收信服务。
package smtp

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"leomail/backend/internal/config"
	"leomail/backend/internal/domain"
)

var (
	// ErrAuthRejected 服务器拒绝了登录凭据
	ErrAuthRejected = errors.New("smtp authentication rejected")
	// ErrTLSUnavailable 服务器不支持 STARTTLS 而配置要求加密
	ErrTLSUnavailable = errors.New("smtp server does not support STARTTLS")
)

// Transport 通过 SMTP 提交邮件。每次调用使用独立的会话，
// 一个收件人的失败不会影响同一批次中的其他收件人。
type Transport struct {
	addr       string
	host       string
	requireTLS bool
	tlsConfig  *tls.Config
	timeout    time.Duration
	rewriteOld string
	rewriteNew string
	limiter    *ConnectionLimiter
	logger     *zap.Logger
	now        func() time.Time

	// starttls 记录服务器已确认支持 STARTTLS，之后的会话直接加密
	starttls atomic.Bool
}

// NewTransport 根据配置创建发信客户端
func NewTransport(cfg config.SMTPConfig, logger *zap.Logger) *Transport {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Transport{
		addr:       net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		host:       cfg.Host,
		requireTLS: cfg.RequireTLS,
		tlsConfig:  &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12},
		timeout:    timeout,
		rewriteOld: cfg.RewriteFrom,
		rewriteNew: cfg.RewriteTo,
		limiter:    NewConnectionLimiter(8, cfg.RatePerSecond, cfg.Burst),
		logger:     logger.Named("smtp"),
		now:        time.Now,
	}
}

// LoginIdentity 返回登录用的用户名：把学校地址改写为邮件服务器要求的机构地址
func (t *Transport) LoginIdentity(address string) string {
	if t.rewriteOld == "" {
		return address
	}
	return strings.ReplaceAll(address, t.rewriteOld, t.rewriteNew)
}

// Authenticate 建立会话并完成认证，用于校验发件凭据
func (t *Transport) Authenticate(ctx context.Context, creds domain.MailCredentials) error {
	return t.withSession(ctx, creds, func(*gosmtp.Client) error { return nil })
}

// Send 投递一封邮件
func (t *Transport) Send(ctx context.Context, creds domain.MailCredentials, mail *domain.OutgoingMail) error {
	raw, err := BuildMessage(mail, t.now())
	if err != nil {
		return fmt.Errorf("build message: %w", err)
	}
	return t.withSession(ctx, creds, func(c *gosmtp.Client) error {
		if err := c.SendMail(mail.From, []string{mail.To}, bytes.NewReader(raw)); err != nil {
			return fmt.Errorf("send to %s: %w", mail.To, err)
		}
		return nil
	})
}

// withSession 连接、STARTTLS、认证后执行 fn，最后 QUIT
func (t *Transport) withSession(ctx context.Context, creds domain.MailCredentials, fn func(*gosmtp.Client) error) error {
	if err := t.limiter.Acquire(ctx); err != nil {
		return err
	}
	defer t.limiter.Release()

	client, closeSession, err := t.open(ctx)
	if err != nil {
		return err
	}
	defer closeSession()

	username := t.LoginIdentity(creds.Address)
	var auth sasl.Client
	if client.SupportsAuth(sasl.Plain) {
		auth = sasl.NewPlainClient("", username, creds.Secret)
	} else {
		auth = sasl.NewLoginClient(username, creds.Secret)
	}
	if err := client.Auth(auth); err != nil {
		var smtpErr *gosmtp.SMTPError
		if errors.As(err, &smtpErr) && smtpErr.Code == 535 {
			return fmt.Errorf("%w: %s", ErrAuthRejected, smtpErr.Message)
		}
		return fmt.Errorf("auth: %w", err)
	}

	if err := fn(client); err != nil {
		return err
	}
	if err := client.Quit(); err != nil {
		t.logger.Debug("QUIT 失败", zap.Error(err))
	}
	return nil
}

// open 建立会话。服务器未确认支持 STARTTLS 时先在明文连接上检查 EHLO 扩展：
// 不支持且不要求加密时直接沿用该会话，支持时重新连接并加密。
func (t *Transport) open(ctx context.Context) (*gosmtp.Client, func(), error) {
	if t.starttls.Load() {
		return t.dial(ctx, true)
	}

	client, closePlain, err := t.dial(ctx, false)
	if err != nil {
		return nil, nil, err
	}
	if ok, _ := client.Extension("STARTTLS"); !ok {
		if t.requireTLS {
			closePlain()
			return nil, nil, ErrTLSUnavailable
		}
		return client, closePlain, nil
	}
	closePlain()
	t.starttls.Store(true)
	return t.dial(ctx, true)
}

// dial 连接服务器并完成问候，secure 为 true 时执行 STARTTLS
func (t *Transport) dial(ctx context.Context, secure bool) (*gosmtp.Client, func(), error) {
	dialer := &net.Dialer{Timeout: t.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", t.addr, err)
	}
	deadline := time.Now().Add(t.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })

	var client *gosmtp.Client
	if secure {
		client, err = gosmtp.NewClientStartTLS(conn, t.tlsConfig)
		if err != nil {
			stop()
			_ = conn.Close()
			return nil, nil, fmt.Errorf("starttls: %w", err)
		}
	} else {
		client = gosmtp.NewClient(conn)
		if err := client.Hello("leomail"); err != nil {
			stop()
			_ = client.Close()
			return nil, nil, fmt.Errorf("ehlo: %w", err)
		}
	}
	return client, func() {
		stop()
		_ = client.Close()
	}, nil
}
