package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"leomail/backend/internal/domain"
	"leomail/backend/internal/identity"
	"leomail/backend/internal/storage"
)

// Resolver 把发送请求中的联系人与分组展开为去重后的收件人列表
type Resolver struct {
	contacts storage.ContactRepository
	groups   storage.GroupRepository
	identity IdentityProvider
	logger   *zap.Logger
}

// NewResolver 创建收件人解析器。idp 为 nil 时只查本地联系人。
func NewResolver(contacts storage.ContactRepository, groups storage.GroupRepository, idp IdentityProvider, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		contacts: contacts,
		groups:   groups,
		identity: idp,
		logger:   logger,
	}
}

// Resolve 先处理单独指定的联系人，再展开分组成员，按联系人 ID 去重并保持首次出现的顺序。
// 没有邮件地址的联系人会被跳过；结果为空时由调用方决定如何处理。
func (r *Resolver) Resolve(ctx context.Context, groupIDs, contactIDs []string) ([]domain.Contact, error) {
	seen := make(map[string]struct{}, len(contactIDs))
	out := make([]domain.Contact, 0, len(contactIDs))

	add := func(c domain.Contact) {
		if _, ok := seen[c.ID]; ok {
			return
		}
		seen[c.ID] = struct{}{}
		if c.MailAddress == "" {
			r.logger.Warn("联系人没有邮件地址，已跳过", zap.String("contact_id", c.ID))
			return
		}
		out = append(out, c)
	}

	for _, id := range contactIDs {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		c, err := r.lookupContact(ctx, id)
		if err != nil {
			return nil, err
		}
		if c != nil {
			add(*c)
		}
	}

	for _, gid := range groupIDs {
		if gid == "" {
			continue
		}
		group, err := r.groups.GetGroup(gid)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				r.logger.Warn("分组不存在", zap.String("group_id", gid))
				continue
			}
			return nil, fmt.Errorf("load group %s: %w", gid, err)
		}
		if len(group.MemberIDs) == 0 {
			r.logger.Warn("分组没有成员", zap.String("group_id", gid))
			continue
		}
		members, err := r.contacts.GetContacts(group.MemberIDs)
		if err != nil {
			return nil, fmt.Errorf("load members of group %s: %w", gid, err)
		}
		for _, m := range members {
			add(m)
		}
	}

	return out, nil
}

// lookupContact 本地不存在时向身份提供方查询并保存为自然人联系人。
// 两边都找不到时返回 nil。
func (r *Resolver) lookupContact(ctx context.Context, id string) (*domain.Contact, error) {
	c, err := r.contacts.GetContact(id)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("load contact %s: %w", id, err)
	}
	if r.identity == nil {
		r.logger.Warn("联系人不存在", zap.String("contact_id", id))
		return nil, nil
	}

	user, err := r.identity.FindUser(ctx, id)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			r.logger.Warn("身份提供方中不存在该用户", zap.String("contact_id", id))
			return nil, nil
		}
		return nil, fmt.Errorf("find identity user %s: %w", id, err)
	}

	c = domain.NewNaturalContact(user.ID, user.FirstName, user.LastName, user.Email)
	c.FromIdentity = true
	if err := r.contacts.SaveContact(c); err != nil {
		return nil, fmt.Errorf("save contact %s: %w", id, err)
	}
	r.logger.Info("从身份提供方导入联系人", zap.String("contact_id", id))
	return c, nil
}
