// Package events 把发送任务事件发布到 NATS JetStream。
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"leomail/backend/internal/config"
	"leomail/backend/internal/domain"
)

// SendJobCompleted 发送任务完成事件
type SendJobCompleted struct {
	JobID       string     `json:"jobId"`
	ProjectID   string     `json:"projectId"`
	TemplateID  string     `json:"templateId"`
	Subject     string     `json:"subject"`
	SenderKind  string     `json:"senderKind"`
	Total       int        `json:"total"`
	Delivered   int        `json:"delivered"`
	ScheduledAt *time.Time `json:"scheduledAt,omitempty"`
	SentAt      *time.Time `json:"sentAt"`
}

// NewSendJobCompleted 从任务构造事件
func NewSendJobCompleted(job *domain.SendJob) SendJobCompleted {
	return SendJobCompleted{
		JobID:       job.ID,
		ProjectID:   job.ProjectID,
		TemplateID:  job.TemplateID,
		Subject:     job.Subject,
		SenderKind:  string(job.SenderKind),
		Total:       len(job.Messages),
		Delivered:   job.SentCount(),
		ScheduledAt: job.ScheduledAt,
		SentAt:      job.SentAt,
	}
}

// jetStream 发布所需的 JetStream 子集
type jetStream interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// Publisher 向 JetStream 发布事件
type Publisher struct {
	conn    *nats.Conn
	js      jetStream
	subject string
	logger  *zap.Logger
}

// Connect 连接 NATS 并确保流存在
func Connect(cfg config.NATSConfig, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("events")

	nc, err := nats.Connect(cfg.URL,
		nats.Name("leomail"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("NATS 连接断开", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("NATS 已重连", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     cfg.Stream,
		Subjects: []string{cfg.Stream + ".*"},
	})
	if err != nil {
		// 流通常已经存在
		log.Warn("创建事件流失败", zap.String("stream", cfg.Stream), zap.Error(err))
	}

	log.Info("事件发布已启用", zap.String("stream", cfg.Stream), zap.String("subject", cfg.Subject))
	return &Publisher{conn: nc, js: js, subject: cfg.Subject, logger: log}, nil
}

// PublishSendJobCompleted 发布任务完成事件
func (p *Publisher) PublishSendJobCompleted(ctx context.Context, job *domain.SendJob) error {
	payload, err := json.Marshal(NewSendJobCompleted(job))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := p.js.Publish(p.subject, payload, nats.Context(ctx), nats.MsgId(job.ID)); err != nil {
		return fmt.Errorf("publish %s: %w", p.subject, err)
	}
	p.logger.Debug("已发布任务完成事件", zap.String("job_id", job.ID))
	return nil
}

// Close 刷新并关闭连接
func (p *Publisher) Close() {
	if p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}
