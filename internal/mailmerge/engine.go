package mailmerge

import (
	"context"
	"fmt"
	"unicode/utf8"

	"go.uber.org/zap"

	"leomail/backend/internal/domain"
)

// ErrBodyTooLong 渲染结果超过正文长度上限
var ErrBodyTooLong = fmt.Errorf("%w: body exceeds %d characters", ErrRender, domain.MaxMessageBodyLength)

// TemplateSource 模板与问候语的读取接口
type TemplateSource interface {
	GetTemplate(id string) (*domain.Template, error)
	GetGreeting(id string) (*domain.Greeting, error)
}

// Rendered 一个收件人的渲染结果
type Rendered struct {
	Contact domain.Contact
	Body    string
}

// Engine 模板渲染引擎，不持有跨调用的可变状态
type Engine struct {
	source TemplateSource
	logger *zap.Logger
}

// NewEngine 创建渲染引擎
func NewEngine(source TemplateSource, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{source: source, logger: logger}
}

// CombinedText 读取模板及其问候语，返回合并后的模板文本
func (e *Engine) CombinedText(templateID string) (string, error) {
	tpl, err := e.source.GetTemplate(templateID)
	if err != nil {
		return "", err
	}
	greeting := ""
	if tpl.GreetingID != "" {
		g, err := e.source.GetGreeting(tpl.GreetingID)
		if err != nil {
			return "", err
		}
		greeting = g.TemplateString
	}
	return Combine(greeting, tpl.Content), nil
}

// RenderAll 为每个收件人渲染正文，输出顺序与输入一致。
// 单个收件人渲染失败时记录日志并跳过，因此结果数量可能少于收件人数量。
func (e *Engine) RenderAll(ctx context.Context, templateID string, contacts []domain.Contact, personalized bool) ([]Rendered, error) {
	text, err := e.CombinedText(templateID)
	if err != nil {
		return nil, err
	}

	compiled, err := Parse(text)
	if err != nil {
		return nil, fmt.Errorf("%w: template %s: %v", domain.ErrInvalidArgument, templateID, err)
	}
	vars := ExtractVariables(text)

	out := make([]Rendered, 0, len(contacts))
	for i := range contacts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c := contacts[i]
		body, err := compiled.Execute(BuildBindings(vars, &c, personalized))
		if err == nil && utf8.RuneCountInString(body) > domain.MaxMessageBodyLength {
			err = ErrBodyTooLong
		}
		if err != nil {
			e.logger.Warn("跳过渲染失败的收件人",
				zap.String("template_id", templateID),
				zap.String("contact_id", c.ID),
				zap.Error(err))
			continue
		}
		out = append(out, Rendered{Contact: c, Body: body})
	}
	return out, nil
}
