package smtp

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"
)

// CredentialCheck 校验 AUTH PLAIN 提交的用户名和密码，返回错误表示拒绝
type CredentialCheck func(username, password string) error

// ReceivedMail 本地收信服务记录的一封邮件
type ReceivedMail struct {
	Username   string
	From       string
	Recipients []string
	Parsed     *ParsedEmail
	Raw        []byte
	TLS        bool // 是否经 STARTTLS 加密
	ReceivedAt time.Time
}

// Sink 开发和测试环境使用的本地 SMTP 服务。
//
// 只记录收到的邮件，不做任何转发。
type Sink struct {
	server *gosmtp.Server
	check  CredentialCheck
	logger *zap.Logger

	mu       sync.Mutex
	messages []ReceivedMail
}

// NewSink 创建本地收信服务。check 为 nil 时接受任意凭据。
func NewSink(addr, domainName string, maxMessageBytes int64, check CredentialCheck, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxMessageBytes <= 0 {
		maxMessageBytes = 25 << 20
	}
	s := &Sink{check: check, logger: logger.Named("smtp-sink")}

	server := gosmtp.NewServer(s)
	server.Addr = addr
	server.Domain = domainName
	server.MaxMessageBytes = maxMessageBytes
	server.MaxRecipients = 50
	server.ReadTimeout = 30 * time.Second
	server.WriteTimeout = 30 * time.Second
	// 本地服务没有证书，允许明文认证
	server.AllowInsecureAuth = true
	s.server = server
	return s
}

// ListenAndServe 监听配置的地址
func (s *Sink) ListenAndServe() error {
	s.logger.Info("本地收信服务启动", zap.String("addr", s.server.Addr))
	return s.server.ListenAndServe()
}

// Serve 在给定的监听器上提供服务
func (s *Sink) Serve(l net.Listener) error {
	return s.server.Serve(l)
}

// Close 关闭服务
func (s *Sink) Close() error {
	return s.server.Close()
}

// Messages 返回已收到邮件的快照
func (s *Sink) Messages() []ReceivedMail {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ReceivedMail, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Sink) record(m ReceivedMail) {
	s.mu.Lock()
	s.messages = append(s.messages, m)
	s.mu.Unlock()
}

// NewSession 实现 gosmtp.Backend
func (s *Sink) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	return &sinkSession{sink: s, conn: c}, nil
}

type sinkSession struct {
	sink       *Sink
	conn       *gosmtp.Conn
	username   string
	from       string
	recipients []string
}

var _ gosmtp.AuthSession = (*sinkSession)(nil)

func (s *sinkSession) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

func (s *sinkSession) Auth(mech string) (sasl.Server, error) {
	if mech != sasl.Plain {
		return nil, gosmtp.ErrAuthUnknownMechanism
	}
	return sasl.NewPlainServer(func(_, username, password string) error {
		if s.sink.check != nil {
			if err := s.sink.check(username, password); err != nil {
				s.sink.logger.Debug("认证失败", zap.String("username", username), zap.Error(err))
				return gosmtp.ErrAuthFailed
			}
		}
		s.username = username
		return nil
	}), nil
}

func (s *sinkSession) Mail(from string, _ *gosmtp.MailOptions) error {
	if s.username == "" {
		return gosmtp.ErrAuthRequired
	}
	s.from = from
	return nil
}

func (s *sinkSession) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	addr := normalizeAddress(to)
	if !strings.Contains(addr, "@") {
		return &gosmtp.SMTPError{
			Code:         501,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 3},
			Message:      "invalid recipient address",
		}
	}
	s.recipients = append(s.recipients, addr)
	return nil
}

func (s *sinkSession) Data(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	parsed, err := ParseEmail(raw)
	if err != nil {
		return fmt.Errorf("parse email: %w", err)
	}
	s.sink.record(ReceivedMail{
		Username:   s.username,
		From:       s.from,
		Recipients: append([]string(nil), s.recipients...),
		Parsed:     parsed,
		Raw:        raw,
		TLS:        s.secure(),
		ReceivedAt: time.Now().UTC(),
	})
	s.sink.logger.Debug("收到邮件",
		zap.String("from", s.from),
		zap.Strings("to", s.recipients),
		zap.String("subject", parsed.Subject))
	return nil
}

func (s *sinkSession) secure() bool {
	if s.conn == nil {
		return false
	}
	_, ok := s.conn.TLSConnectionState()
	return ok
}

func (s *sinkSession) Reset() {
	s.from = ""
	s.recipients = nil
}

func (s *sinkSession) Logout() error {
	return nil
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.Trim(addr, "<>")
	return strings.ToLower(addr)
}

// ErrSinkCredentials 本地服务拒绝的凭据
var ErrSinkCredentials = errors.New("credentials rejected")

// StaticCredentials 返回只接受给定用户名密码组合的校验函数
func StaticCredentials(pairs map[string]string) CredentialCheck {
	return func(username, password string) error {
		if want, ok := pairs[username]; ok && want == password {
			return nil
		}
		return ErrSinkCredentials
	}
}
