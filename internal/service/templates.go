package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"leomail/backend/internal/domain"
	"leomail/backend/internal/mailmerge"
	"leomail/backend/internal/security"
	"leomail/backend/internal/storage"
)

// TemplateInput 创建或更新模板的输入
type TemplateInput struct {
	Name          string `json:"name"`
	Headline      string `json:"headline"`
	Content       string `json:"content"`
	GreetingID    string `json:"greeting"`
	FilesRequired bool   `json:"filesRequired"`
	ProjectID     string `json:"projectId"`
}

// DefaultGreetings 首次启动时写入的问候语
var DefaultGreetings = []domain.Greeting{
	{
		ID:             "formal",
		TemplateString: `{#if personalized}Sehr geehrte{#if sex == "W"} Frau{#else}r Herr{/if} {prefixtitle} {lastname},{#else}Sehr geehrte Damen und Herren,{/if}`,
		Content:        "Sehr geehrte Damen und Herren,",
	},
	{
		ID:             "informal",
		TemplateString: `{#if personalized}Hallo {firstname},{#else}Hallo,{/if}`,
		Content:        "Hallo,",
	},
	{
		ID:             "none",
		TemplateString: "",
		Content:        "",
	},
}

// TemplateService 模板与问候语管理
type TemplateService struct {
	store  storage.Store
	filter *security.ContentFilter
	logger *zap.Logger
}

// NewTemplateService 创建模板服务
func NewTemplateService(store storage.Store, filter *security.ContentFilter, logger *zap.Logger) *TemplateService {
	if filter == nil {
		filter = security.NewContentFilter()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TemplateService{store: store, filter: filter, logger: logger}
}

// EnsureDefaultGreetings 写入缺失的默认问候语
func (s *TemplateService) EnsureDefaultGreetings() error {
	for i := range DefaultGreetings {
		g := DefaultGreetings[i]
		if _, err := s.store.GetGreeting(g.ID); err == nil {
			continue
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if err := s.store.SaveGreeting(&g); err != nil {
			return fmt.Errorf("save greeting %s: %w", g.ID, err)
		}
	}
	return nil
}

// List 列出项目下的模板
func (s *TemplateService) List(projectID string) ([]domain.Template, error) {
	if projectID == "" {
		return nil, domain.ErrMissingProjectID
	}
	return s.store.ListTemplatesByProject(projectID)
}

// Get 按 ID 获取模板
func (s *TemplateService) Get(id string) (*domain.Template, error) {
	return s.store.GetTemplate(id)
}

// Create 创建模板，名称全局唯一
func (s *TemplateService) Create(input TemplateInput, userID string) (*domain.Template, error) {
	tpl := &domain.Template{
		ID:            uuid.NewString(),
		CreatedBy:     userID,
		ProjectID:     input.ProjectID,
		CreatedAt:     time.Now().UTC(),
		FilesRequired: input.FilesRequired,
	}
	if err := s.apply(tpl, input); err != nil {
		return nil, err
	}

	if _, err := s.store.GetTemplateByName(tpl.Name); err == nil {
		return nil, domain.ErrTemplateNameExists
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if _, err := s.store.GetProject(tpl.ProjectID); err != nil {
		return nil, err
	}

	if err := s.store.SaveTemplate(tpl); err != nil {
		return nil, err
	}
	s.logger.Info("模板已创建", zap.String("template_id", tpl.ID), zap.String("project_id", tpl.ProjectID))
	return tpl, nil
}

// Update 更新模板。已完成的发送任务保存了正文快照，不受影响。
func (s *TemplateService) Update(id string, input TemplateInput) (*domain.Template, error) {
	tpl, err := s.store.GetTemplate(id)
	if err != nil {
		return nil, err
	}
	// 模板不能移动到其他项目
	input.ProjectID = tpl.ProjectID
	if err := s.apply(tpl, input); err != nil {
		return nil, err
	}
	tpl.FilesRequired = input.FilesRequired

	if other, err := s.store.GetTemplateByName(tpl.Name); err == nil && other.ID != tpl.ID {
		return nil, domain.ErrTemplateNameExists
	} else if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	if err := s.store.UpdateTemplate(tpl); err != nil {
		return nil, err
	}
	return tpl, nil
}

// Delete 删除模板
func (s *TemplateService) Delete(id string) error {
	return s.store.DeleteTemplate(id)
}

// ListGreetings 列出全部问候语
func (s *TemplateService) ListGreetings() ([]domain.Greeting, error) {
	return s.store.ListGreetings()
}

// GetGreeting 按 ID 获取问候语
func (s *TemplateService) GetGreeting(id string) (*domain.Greeting, error) {
	return s.store.GetGreeting(id)
}

// apply 校验输入并写入模板字段，正文经过 HTML 净化，且必须能被渲染引擎解析
func (s *TemplateService) apply(tpl *domain.Template, input TemplateInput) error {
	tpl.Name = strings.TrimSpace(input.Name)
	tpl.Headline = strings.TrimSpace(input.Headline)
	tpl.Content = s.filter.Sanitize(input.Content)
	tpl.GreetingID = input.GreetingID
	tpl.ProjectID = input.ProjectID

	if err := tpl.Validate(); err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) {
			return err
		}
		return fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}

	greeting, err := s.store.GetGreeting(tpl.GreetingID)
	if err != nil {
		return err
	}
	if _, err := mailmerge.Parse(mailmerge.Combine(greeting.TemplateString, tpl.Content)); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	return nil
}
