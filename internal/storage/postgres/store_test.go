package postgres

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leomail/backend/internal/domain"
	"leomail/backend/internal/storage"
)

var _ storage.Store = (*Store)(nil)

// newTestStore 使用临时 SQLite 文件运行同一套 gorm 查询
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "leomail.db")
	store, err := NewStoreWithDialector(sqlite.Open(dsn), true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_Templates(t *testing.T) {
	store := newTestStore(t)

	tpl := &domain.Template{ID: "t-1", Name: "Newsletter", Headline: "Hallo", ProjectID: "p-1", GreetingID: "none"}
	require.NoError(t, store.SaveTemplate(tpl))

	t.Run("名称唯一", func(t *testing.T) {
		err := store.SaveTemplate(&domain.Template{ID: "t-2", Name: "Newsletter", ProjectID: "p-1"})
		assert.ErrorIs(t, err, domain.ErrTemplateNameExists)
	})

	t.Run("更新可编辑字段", func(t *testing.T) {
		update := &domain.Template{ID: "t-1", Name: "Renamed", Headline: "Neu", Content: "Hi", GreetingID: "formal", FilesRequired: true, ProjectID: "other"}
		require.NoError(t, store.UpdateTemplate(update))

		got, err := store.GetTemplate("t-1")
		require.NoError(t, err)
		assert.Equal(t, "Renamed", got.Name)
		assert.Equal(t, "Neu", got.Headline)
		assert.True(t, got.FilesRequired)
		assert.Equal(t, "p-1", got.ProjectID)
	})

	t.Run("更新不存在的模板", func(t *testing.T) {
		err := store.UpdateTemplate(&domain.Template{ID: "missing", Name: "x"})
		assert.ErrorIs(t, err, domain.ErrTemplateNotFound)
	})

	t.Run("按项目列出并删除", func(t *testing.T) {
		list, err := store.ListTemplatesByProject("p-1")
		require.NoError(t, err)
		assert.Len(t, list, 1)

		require.NoError(t, store.DeleteTemplate("t-1"))
		_, err = store.GetTemplateByName("Renamed")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.ErrorIs(t, store.DeleteTemplate("t-1"), domain.ErrTemplateNotFound)
	})
}

func TestStore_Greetings(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.SaveGreeting(&domain.Greeting{ID: "none", TemplateString: ""}))
	require.NoError(t, store.SaveGreeting(&domain.Greeting{ID: "formal", TemplateString: "Sehr geehrte"}))
	require.NoError(t, store.SaveGreeting(&domain.Greeting{ID: "formal", TemplateString: "Sehr geehrte/r"}))

	g, err := store.GetGreeting("formal")
	require.NoError(t, err)
	assert.Equal(t, "Sehr geehrte/r", g.TemplateString)

	list, err := store.ListGreetings()
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = store.GetGreeting("missing")
	assert.ErrorIs(t, err, domain.ErrGreetingNotFound)
}

func TestStore_ContactsGroupsProjects(t *testing.T) {
	store := newTestStore(t)

	for _, c := range []*domain.Contact{
		domain.NewNaturalContact("c-1", "Anna", "Berger", "anna@example.com"),
		domain.NewNaturalContact("c-2", "Bernd", "Huber", "bernd@example.com"),
		domain.NewNaturalContact("c-3", "Clara", "Wolf", ""),
	} {
		require.NoError(t, store.SaveContact(c))
	}

	t.Run("批量读取保持顺序", func(t *testing.T) {
		got, err := store.GetContacts([]string{"c-3", "missing", "c-1"})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "c-3", got[0].ID)
		assert.Equal(t, "c-1", got[1].ID)
		assert.Equal(t, "Anna", got[1].Natural.FirstName)
	})

	t.Run("联系人按 ID 更新", func(t *testing.T) {
		c := domain.NewNaturalContact("c-2", "Bernd", "Huber", "b.huber@example.com")
		require.NoError(t, store.SaveContact(c))
		got, err := store.GetContact("c-2")
		require.NoError(t, err)
		assert.Equal(t, "b.huber@example.com", got.MailAddress)
	})

	t.Run("分组成员可以替换", func(t *testing.T) {
		group := &domain.Group{ID: "g-1", Name: "Klasse", ProjectID: "p-1", MemberIDs: []string{"c-2", "c-1"}}
		require.NoError(t, store.SaveGroup(group))
		group.MemberIDs = []string{"c-1"}
		require.NoError(t, store.SaveGroup(group))

		got, err := store.GetGroup("g-1")
		require.NoError(t, err)
		assert.Equal(t, []string{"c-1"}, got.MemberIDs)

		err = store.SaveGroup(&domain.Group{ID: "g-2", Name: "Klasse", ProjectID: "p-1"})
		assert.ErrorIs(t, err, domain.ErrConflict)
	})

	t.Run("项目成员", func(t *testing.T) {
		project := &domain.Project{ID: "p-1", Name: "Diplomarbeit", MailAddress: "projekt@example.com", MemberIDs: []string{"user-1", "user-2"}}
		require.NoError(t, store.SaveProject(project))

		got, err := store.GetProject("p-1")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"user-1", "user-2"}, got.MemberIDs)

		_, err = store.GetProject("missing")
		assert.ErrorIs(t, err, domain.ErrProjectNotFound)
	})
}

func newJob(id string, scheduledAt *time.Time, attachmentIDs ...string) *domain.SendJob {
	job := &domain.SendJob{
		ID:          id,
		TemplateID:  "t-1",
		Subject:     "Einladung",
		ProjectID:   "p-1",
		SenderKind:  domain.SenderPersonal,
		SenderID:    "user-1",
		ScheduledAt: scheduledAt,
		Messages: []domain.Message{
			{ID: id + "-m-1", ContactID: "c-1", Recipient: "anna@example.com", Body: "a"},
			{ID: id + "-m-2", ContactID: "c-2", Recipient: "bernd@example.com", Body: "b"},
		},
	}
	for _, a := range attachmentIDs {
		job.Attachments = append(job.Attachments, domain.Attachment{ID: a})
	}
	return job
}

func TestStore_SendJobLifecycle(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveTemplate(&domain.Template{ID: "t-1", Name: "Einladung Elternabend", ProjectID: "p-1"}))
	require.NoError(t, store.SaveAttachment(&domain.Attachment{ID: "a-1", FileName: "plan.pdf", StorageKey: "k-1", Size: 10}))

	due := now.Add(-time.Minute)
	require.NoError(t, store.CreateSendJob(newJob("j-1", &due, "a-1")))

	t.Run("附件只能属于一个任务", func(t *testing.T) {
		err := store.CreateSendJob(newJob("j-2", nil, "a-1"))
		assert.ErrorIs(t, err, domain.ErrAttachmentInUse)
		_, err = store.GetSendJob("j-2")
		assert.ErrorIs(t, err, domain.ErrSendJobNotFound)

		err = store.CreateSendJob(newJob("j-3", nil, "a-missing"))
		assert.ErrorIs(t, err, domain.ErrAttachmentNotFound)
	})

	t.Run("读取保持邮件顺序", func(t *testing.T) {
		got, err := store.GetSendJob("j-1")
		require.NoError(t, err)
		require.Len(t, got.Messages, 2)
		assert.Equal(t, "j-1-m-1", got.Messages[0].ID)
		assert.Equal(t, 1, got.Messages[1].Position)
		require.Len(t, got.Attachments, 1)
		require.NotNil(t, got.Attachments[0].SendJobID)
		assert.Equal(t, "j-1", *got.Attachments[0].SendJobID)
	})

	t.Run("到期查询", func(t *testing.T) {
		jobs, err := store.DueSendJobs(now, 5*time.Minute)
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, "j-1", jobs[0].ID)

		jobs, err = store.DueSendJobs(now.Add(-2*time.Minute), 5*time.Minute)
		require.NoError(t, err)
		assert.Empty(t, jobs)
	})

	t.Run("租约互斥", func(t *testing.T) {
		ok, err := store.ClaimSendJob("j-1", "t-1", now, 5*time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = store.ClaimSendJob("j-1", "t-2", now.Add(time.Minute), 5*time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		jobs, err := store.DueSendJobs(now.Add(time.Minute), 5*time.Minute)
		require.NoError(t, err)
		assert.Empty(t, jobs)

		_, err = store.ClaimSendJob("missing", "t-1", now, time.Minute)
		assert.ErrorIs(t, err, domain.ErrSendJobNotFound)
	})

	t.Run("续约推迟过期时间", func(t *testing.T) {
		ok, err := store.RenewSendJobClaim("j-1", "t-1", now.Add(4*time.Minute))
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = store.ClaimSendJob("j-1", "t-2", now.Add(6*time.Minute), 5*time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = store.RenewSendJobClaim("j-1", "t-other", now.Add(4*time.Minute))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("过期租约可以被接管", func(t *testing.T) {
		ok, err := store.ClaimSendJob("j-1", "t-2", now.Add(10*time.Minute), 5*time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		// 原持有者续约失败，且不能释放新租约
		ok, err = store.RenewSendJobClaim("j-1", "t-1", now.Add(10*time.Minute))
		require.NoError(t, err)
		assert.False(t, ok)
		require.NoError(t, store.ReleaseSendJob("j-1", "t-1"))
		ok, err = store.ClaimSendJob("j-1", "t-3", now.Add(11*time.Minute), 5*time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("释放后可以重新获取", func(t *testing.T) {
		require.NoError(t, store.ReleaseSendJob("j-1", "t-2"))
		ok, err := store.ClaimSendJob("j-1", "t-3", now.Add(11*time.Minute), 5*time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("邮件只能被占用一次", func(t *testing.T) {
		ok, err := store.ClaimMessage("j-1-m-2", now)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = store.ClaimMessage("j-1-m-2", now)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, store.ReleaseMessage("j-1-m-2"))
		ok, err = store.ClaimMessage("j-1-m-2", now)
		require.NoError(t, err)
		assert.True(t, ok)

		_, err = store.ClaimMessage("missing", now)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("完成只发生一次", func(t *testing.T) {
		require.NoError(t, store.MarkMessageSent("j-1-m-1"))

		ok, err := store.CompleteSendJob("j-1", "t-2", now)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = store.CompleteSendJob("j-1", "t-3", now)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = store.CompleteSendJob("j-1", "t-3", now.Add(time.Hour))
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := store.GetSendJob("j-1")
		require.NoError(t, err)
		require.NotNil(t, got.SentAt)
		assert.True(t, got.SentAt.Equal(now))
		assert.Nil(t, got.ClaimedAt)
		assert.Equal(t, 1, got.SentCount())

		ok, err = store.ClaimSendJob("j-1", "t-4", now.Add(time.Hour), time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestStore_ListSearchDelete(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveTemplate(&domain.Template{ID: "t-1", Name: "Einladung Elternabend", ProjectID: "p-1"}))
	require.NoError(t, store.SaveAttachment(&domain.Attachment{ID: "a-1", FileName: "plan.pdf", StorageKey: "k-1"}))

	require.NoError(t, store.CreateSendJob(newJob("j-1", nil, "a-1")))
	require.NoError(t, store.CreateSendJob(newJob("j-2", nil)))
	ok, err := store.ClaimSendJob("j-2", "t-1", now, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = store.CompleteSendJob("j-2", "t-1", now)
	require.NoError(t, err)
	require.True(t, ok)

	t.Run("只列出待发送任务", func(t *testing.T) {
		all, err := store.ListSendJobsByProject("p-1", false)
		require.NoError(t, err)
		assert.Len(t, all, 2)

		pending, err := store.ListSendJobsByProject("p-1", true)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, "j-1", pending[0].ID)
	})

	t.Run("按模板名称搜索", func(t *testing.T) {
		found, err := store.SearchSendJobs("p-1", "ELTERN")
		require.NoError(t, err)
		assert.Len(t, found, 2)

		found, err = store.SearchSendJobs("p-1", "Zeugnis")
		require.NoError(t, err)
		assert.Empty(t, found)

		found, err = store.SearchSendJobs("p-2", "eltern")
		require.NoError(t, err)
		assert.Empty(t, found)
	})

	t.Run("级联删除", func(t *testing.T) {
		removed, err := store.DeleteSendJob("j-1")
		require.NoError(t, err)
		require.Len(t, removed, 1)
		assert.Equal(t, "k-1", removed[0].StorageKey)

		_, err = store.GetAttachment("a-1")
		assert.ErrorIs(t, err, domain.ErrAttachmentNotFound)
		_, err = store.GetSendJob("j-1")
		assert.ErrorIs(t, err, domain.ErrSendJobNotFound)

		_, err = store.DeleteSendJob("j-1")
		assert.ErrorIs(t, err, domain.ErrSendJobNotFound)
	})
}

func TestStore_Attachments(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.SaveAttachment(&domain.Attachment{ID: "a-1", FileName: "liste.csv", StorageKey: "k", OwnerID: "user-1"}))

	got, err := store.GetAttachment("a-1")
	require.NoError(t, err)
	assert.Equal(t, "liste.csv", got.FileName)
	assert.Nil(t, got.SendJobID)

	removed, err := store.DeleteAttachment("a-1")
	require.NoError(t, err)
	assert.Equal(t, "k", removed.StorageKey)

	_, err = store.DeleteAttachment("a-1")
	assert.ErrorIs(t, err, domain.ErrAttachmentNotFound)
}
