package memory

import (
	"sort"
	"strings"
	"sync"
	"time"

	"leomail/backend/internal/domain"
	"leomail/backend/internal/storage"
)

var _ storage.Store = (*Store)(nil)

// Store 使用内存保存模板、联系人与发送任务，主要用于开发验证与测试。
type Store struct {
	mu          sync.RWMutex
	templates   map[string]*domain.Template
	byName      map[string]string // 模板名 -> templateID
	greetings   map[string]*domain.Greeting
	contacts    map[string]*domain.Contact
	groups      map[string]*domain.Group
	projects    map[string]*domain.Project
	jobs        map[string]*domain.SendJob     // 不含 Messages/Attachments
	messages    map[string][]*domain.Message   // sendJobID -> messages
	attachments map[string]*domain.Attachment  // attachmentID -> attachment
	byJob       map[string]map[string]struct{} // sendJobID -> attachment IDs
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		templates:   make(map[string]*domain.Template),
		byName:      make(map[string]string),
		greetings:   make(map[string]*domain.Greeting),
		contacts:    make(map[string]*domain.Contact),
		groups:      make(map[string]*domain.Group),
		projects:    make(map[string]*domain.Project),
		jobs:        make(map[string]*domain.SendJob),
		messages:    make(map[string][]*domain.Message),
		attachments: make(map[string]*domain.Attachment),
		byJob:       make(map[string]map[string]struct{}),
	}
}

// Close 内存存储无需释放资源
func (s *Store) Close() error { return nil }

// Health 内存存储始终可用
func (s *Store) Health() error { return nil }

// ========== 模板 ==========

// SaveTemplate 保存新模板，名称必须唯一。
func (s *Store) SaveTemplate(tpl *domain.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byName[tpl.Name]; ok && id != tpl.ID {
		return domain.ErrTemplateNameExists
	}
	if tpl.CreatedAt.IsZero() {
		tpl.CreatedAt = time.Now().UTC()
	}
	cp := *tpl
	s.templates[tpl.ID] = &cp
	s.byName[tpl.Name] = tpl.ID
	return nil
}

// UpdateTemplate 更新已有模板
func (s *Store) UpdateTemplate(tpl *domain.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.templates[tpl.ID]
	if !ok {
		return domain.ErrTemplateNotFound
	}
	if id, ok := s.byName[tpl.Name]; ok && id != tpl.ID {
		return domain.ErrTemplateNameExists
	}
	delete(s.byName, old.Name)
	cp := *tpl
	s.templates[tpl.ID] = &cp
	s.byName[tpl.Name] = tpl.ID
	return nil
}

// GetTemplate 根据 ID 获取模板
func (s *Store) GetTemplate(id string) (*domain.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tpl, ok := s.templates[id]
	if !ok {
		return nil, domain.ErrTemplateNotFound
	}
	cp := *tpl
	return &cp, nil
}

// GetTemplateByName 根据名称获取模板
func (s *Store) GetTemplateByName(name string) (*domain.Template, error) {
	s.mu.RLock()
	id, ok := s.byName[name]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrTemplateNotFound
	}
	return s.GetTemplate(id)
}

// ListTemplatesByProject 返回项目下的模板，按创建时间排序
func (s *Store) ListTemplatesByProject(projectID string) ([]domain.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Template, 0)
	for _, tpl := range s.templates {
		if tpl.ProjectID == projectID {
			result = append(result, *tpl)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// DeleteTemplate 删除模板
func (s *Store) DeleteTemplate(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tpl, ok := s.templates[id]
	if !ok {
		return domain.ErrTemplateNotFound
	}
	delete(s.byName, tpl.Name)
	delete(s.templates, id)
	return nil
}

// SaveGreeting 保存问候语
func (s *Store) SaveGreeting(greeting *domain.Greeting) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *greeting
	s.greetings[greeting.ID] = &cp
	return nil
}

// GetGreeting 根据 ID 获取问候语
func (s *Store) GetGreeting(id string) (*domain.Greeting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.greetings[id]
	if !ok {
		return nil, domain.ErrGreetingNotFound
	}
	cp := *g
	return &cp, nil
}

// ListGreetings 返回全部问候语
func (s *Store) ListGreetings() ([]domain.Greeting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Greeting, 0, len(s.greetings))
	for _, g := range s.greetings {
		result = append(result, *g)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// ========== 联系人、分组、项目 ==========

// SaveContact 按 ID 插入或更新联系人
func (s *Store) SaveContact(contact *domain.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if contact.CreatedAt.IsZero() {
		contact.CreatedAt = time.Now().UTC()
	}
	cp := *contact
	s.contacts[contact.ID] = &cp
	return nil
}

// GetContact 根据 ID 获取联系人
func (s *Store) GetContact(id string) (*domain.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contacts[id]
	if !ok {
		return nil, domain.ErrContactNotFound
	}
	cp := *c
	return &cp, nil
}

// GetContacts 批量获取联系人，忽略不存在的 ID
func (s *Store) GetContacts(ids []string) ([]domain.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Contact, 0, len(ids))
	for _, id := range ids {
		if c, ok := s.contacts[id]; ok {
			result = append(result, *c)
		}
	}
	return result, nil
}

// SaveGroup 保存分组，同一项目内名称唯一
func (s *Store) SaveGroup(group *domain.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, g := range s.groups {
		if g.ID != group.ID && g.ProjectID == group.ProjectID && strings.EqualFold(g.Name, group.Name) {
			return domain.ErrConflict
		}
	}
	cp := *group
	cp.MemberIDs = append([]string(nil), group.MemberIDs...)
	s.groups[group.ID] = &cp
	return nil
}

// GetGroup 根据 ID 获取分组
func (s *Store) GetGroup(id string) (*domain.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.groups[id]
	if !ok {
		return nil, domain.ErrGroupNotFound
	}
	cp := *g
	cp.MemberIDs = append([]string(nil), g.MemberIDs...)
	return &cp, nil
}

// SaveProject 保存项目
func (s *Store) SaveProject(project *domain.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *project
	cp.MemberIDs = append([]string(nil), project.MemberIDs...)
	s.projects[project.ID] = &cp
	return nil
}

// GetProject 根据 ID 获取项目
func (s *Store) GetProject(id string) (*domain.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.projects[id]
	if !ok {
		return nil, domain.ErrProjectNotFound
	}
	cp := *p
	cp.MemberIDs = append([]string(nil), p.MemberIDs...)
	return &cp, nil
}
