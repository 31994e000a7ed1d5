package postgres

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"leomail/backend/internal/config"
	"leomail/backend/internal/domain"
)

// Store 关系型数据库存储实现（PostgreSQL / MySQL）
type Store struct {
	db *gorm.DB
}

// Open 按配置的数据库类型创建存储实例
func Open(cfg config.DatabaseConfig) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Type {
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "postgres", "postgresql":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database type: %s (supported: mysql, postgres)", cfg.Type)
	}

	store, err := NewStoreWithDialector(dialector, cfg.AutoMigrate)
	if err != nil {
		return nil, err
	}

	// 配置连接池
	sqlDB, err := store.db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return store, nil
}

// NewStoreWithDialector 使用指定的GORM dialector创建存储实例
func NewStoreWithDialector(dialector gorm.Dialector, autoMigrate bool) (*Store, error) {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent), // 静默模式
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		TranslateError: true,
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &Store{db: db}
	if autoMigrate {
		if err := store.migrate(); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}
	return store, nil
}

// migrate 自动迁移数据库表结构
func (s *Store) migrate() error {
	return s.db.AutoMigrate(
		&domain.Greeting{},
		&domain.Project{},
		&domain.ProjectMember{},
		&domain.Template{},
		&domain.Contact{},
		&domain.Group{},
		&domain.GroupMember{},
		&domain.SendJob{},
		&domain.Message{},
		&domain.Attachment{},
	)
}

// DB 返回底层 gorm 连接
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health 检查数据库连接
func (s *Store) Health() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// OpenConnections 当前打开的连接数
func (s *Store) OpenConnections() int {
	sqlDB, err := s.db.DB()
	if err != nil {
		return 0
	}
	return sqlDB.Stats().OpenConnections
}

// notFound 把 gorm 的记录不存在转换为领域错误
func notFound(err, target error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return target
	}
	return err
}

// ========== Template Repository ==========

// SaveTemplate 保存新模板，名称重复返回 ErrTemplateNameExists
func (s *Store) SaveTemplate(tpl *domain.Template) error {
	err := s.db.Create(tpl).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.ErrTemplateNameExists
	}
	return err
}

// UpdateTemplate 更新模板的可编辑字段
func (s *Store) UpdateTemplate(tpl *domain.Template) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var existing domain.Template
		if err := tx.Select("id").First(&existing, "id = ?", tpl.ID).Error; err != nil {
			return notFound(err, domain.ErrTemplateNotFound)
		}
		err := tx.Model(&domain.Template{ID: tpl.ID}).
			Select("name", "headline", "content", "greeting_id", "files_required").
			Updates(tpl).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrTemplateNameExists
		}
		return err
	})
}

// GetTemplate 根据 ID 获取模板
func (s *Store) GetTemplate(id string) (*domain.Template, error) {
	var tpl domain.Template
	if err := s.db.First(&tpl, "id = ?", id).Error; err != nil {
		return nil, notFound(err, domain.ErrTemplateNotFound)
	}
	return &tpl, nil
}

// GetTemplateByName 根据名称获取模板
func (s *Store) GetTemplateByName(name string) (*domain.Template, error) {
	var tpl domain.Template
	if err := s.db.First(&tpl, "name = ?", name).Error; err != nil {
		return nil, notFound(err, domain.ErrTemplateNotFound)
	}
	return &tpl, nil
}

// ListTemplatesByProject 返回项目下的模板，最新的在前
func (s *Store) ListTemplatesByProject(projectID string) ([]domain.Template, error) {
	var templates []domain.Template
	err := s.db.Where("project_id = ?", projectID).Order("created_at DESC").Find(&templates).Error
	return templates, err
}

// DeleteTemplate 删除模板
func (s *Store) DeleteTemplate(id string) error {
	res := s.db.Delete(&domain.Template{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrTemplateNotFound
	}
	return nil
}

// SaveGreeting 插入或更新问候语
func (s *Store) SaveGreeting(greeting *domain.Greeting) error {
	return s.db.Save(greeting).Error
}

// GetGreeting 根据 ID 获取问候语
func (s *Store) GetGreeting(id string) (*domain.Greeting, error) {
	var g domain.Greeting
	if err := s.db.First(&g, "id = ?", id).Error; err != nil {
		return nil, notFound(err, domain.ErrGreetingNotFound)
	}
	return &g, nil
}

// ListGreetings 返回全部问候语
func (s *Store) ListGreetings() ([]domain.Greeting, error) {
	var greetings []domain.Greeting
	err := s.db.Order("id").Find(&greetings).Error
	return greetings, err
}

// ========== Contact / Group / Project Repository ==========

// SaveContact 按 ID 插入或更新联系人
func (s *Store) SaveContact(contact *domain.Contact) error {
	if contact.CreatedAt.IsZero() {
		contact.CreatedAt = time.Now().UTC()
	}
	return s.db.Save(contact).Error
}

// GetContact 根据 ID 获取联系人
func (s *Store) GetContact(id string) (*domain.Contact, error) {
	var c domain.Contact
	if err := s.db.First(&c, "id = ?", id).Error; err != nil {
		return nil, notFound(err, domain.ErrContactNotFound)
	}
	return &c, nil
}

// GetContacts 批量获取联系人，顺序与 ids 一致，忽略不存在的 ID
func (s *Store) GetContacts(ids []string) ([]domain.Contact, error) {
	if len(ids) == 0 {
		return []domain.Contact{}, nil
	}
	var found []domain.Contact
	if err := s.db.Where("id IN ?", ids).Find(&found).Error; err != nil {
		return nil, err
	}
	byID := make(map[string]domain.Contact, len(found))
	for _, c := range found {
		byID[c.ID] = c
	}
	result := make([]domain.Contact, 0, len(ids))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			result = append(result, c)
		}
	}
	return result, nil
}

// SaveGroup 保存分组及其成员，同一项目内名称重复返回 ErrConflict
func (s *Store) SaveGroup(group *domain.Group) error {
	if group.CreatedAt.IsZero() {
		group.CreatedAt = time.Now().UTC()
	}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(group).Error; err != nil {
			return err
		}
		if err := tx.Where("group_id = ?", group.ID).Delete(&domain.GroupMember{}).Error; err != nil {
			return err
		}
		if len(group.MemberIDs) == 0 {
			return nil
		}
		members := make([]domain.GroupMember, 0, len(group.MemberIDs))
		for _, id := range group.MemberIDs {
			members = append(members, domain.GroupMember{GroupID: group.ID, ContactID: id})
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&members).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.ErrConflict
	}
	return err
}

// GetGroup 获取分组及成员 ID
func (s *Store) GetGroup(id string) (*domain.Group, error) {
	var g domain.Group
	if err := s.db.First(&g, "id = ?", id).Error; err != nil {
		return nil, notFound(err, domain.ErrGroupNotFound)
	}
	if err := s.db.Model(&domain.GroupMember{}).Where("group_id = ?", id).
		Order("contact_id").Pluck("contact_id", &g.MemberIDs).Error; err != nil {
		return nil, err
	}
	return &g, nil
}

// SaveProject 保存项目及成员
func (s *Store) SaveProject(project *domain.Project) error {
	if project.CreatedAt.IsZero() {
		project.CreatedAt = time.Now().UTC()
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(project).Error; err != nil {
			return err
		}
		if err := tx.Where("project_id = ?", project.ID).Delete(&domain.ProjectMember{}).Error; err != nil {
			return err
		}
		if len(project.MemberIDs) == 0 {
			return nil
		}
		members := make([]domain.ProjectMember, 0, len(project.MemberIDs))
		for _, id := range project.MemberIDs {
			members = append(members, domain.ProjectMember{ProjectID: project.ID, UserID: id})
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&members).Error
	})
}

// GetProject 获取项目及成员 ID
func (s *Store) GetProject(id string) (*domain.Project, error) {
	var p domain.Project
	if err := s.db.First(&p, "id = ?", id).Error; err != nil {
		return nil, notFound(err, domain.ErrProjectNotFound)
	}
	if err := s.db.Model(&domain.ProjectMember{}).Where("project_id = ?", id).
		Pluck("user_id", &p.MemberIDs).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// ========== Attachment Repository ==========

// SaveAttachment 保存附件元数据
func (s *Store) SaveAttachment(att *domain.Attachment) error {
	return s.db.Create(att).Error
}

// GetAttachment 根据 ID 获取附件
func (s *Store) GetAttachment(id string) (*domain.Attachment, error) {
	var att domain.Attachment
	if err := s.db.First(&att, "id = ?", id).Error; err != nil {
		return nil, notFound(err, domain.ErrAttachmentNotFound)
	}
	return &att, nil
}

// DeleteAttachment 删除附件记录并返回被删除的附件
func (s *Store) DeleteAttachment(id string) (*domain.Attachment, error) {
	var att domain.Attachment
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&att, "id = ?", id).Error; err != nil {
			return notFound(err, domain.ErrAttachmentNotFound)
		}
		return tx.Delete(&domain.Attachment{}, "id = ?", id).Error
	})
	if err != nil {
		return nil, err
	}
	return &att, nil
}

// likePattern 转义 LIKE 通配符
func likePattern(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(q)) + "%"
}
