package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"leomail/backend/internal/domain"
	"leomail/backend/internal/identity"
	"leomail/backend/internal/storage"
	"leomail/backend/internal/storage/memory"
)

// MockTransport 模拟发信通道
type MockTransport struct {
	mock.Mock
}

func (m *MockTransport) Authenticate(ctx context.Context, creds domain.MailCredentials) error {
	args := m.Called(ctx, creds)
	return args.Error(0)
}

func (m *MockTransport) Send(ctx context.Context, creds domain.MailCredentials, mail *domain.OutgoingMail) error {
	args := m.Called(ctx, creds, mail)
	return args.Error(0)
}

// MockIdentity 模拟身份提供方
type MockIdentity struct {
	mock.Mock
}

func (m *MockIdentity) FindUser(ctx context.Context, id string) (*identity.User, error) {
	args := m.Called(ctx, id)
	if u := args.Get(0); u != nil {
		return u.(*identity.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockIdentity) ListUsers(ctx context.Context, first, max int) ([]identity.User, error) {
	args := m.Called(ctx, first, max)
	if u := args.Get(0); u != nil {
		return u.([]identity.User), args.Error(1)
	}
	return nil, args.Error(1)
}

// prefixCipher 测试用的"解密"：去掉 enc: 前缀
type prefixCipher struct{}

func (prefixCipher) Decrypt(ciphertext string) (string, error) {
	if !strings.HasPrefix(ciphertext, "enc:") {
		return "", errors.New("bad ciphertext")
	}
	return strings.TrimPrefix(ciphertext, "enc:"), nil
}

// memObjects 内存对象存储
type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemObjects() *memObjects {
	return &memObjects{objects: make(map[string][]byte)}
}

func (o *memObjects) Upload(_ context.Context, r io.Reader, name, _ string, _ int64) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	key := storage.ObjectKey(name)
	o.mu.Lock()
	o.objects[key] = data
	o.mu.Unlock()
	return key, nil
}

func (o *memObjects) Download(_ context.Context, key string) (io.ReadCloser, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	data, ok := o.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (o *memObjects) Delete(_ context.Context, key string) error {
	o.mu.Lock()
	delete(o.objects, key)
	o.mu.Unlock()
	return nil
}

func (o *memObjects) has(key string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.objects[key]
	return ok
}

// recordingEvents 记录发布的完成事件
type recordingEvents struct {
	mu   sync.Mutex
	jobs []string
}

func (e *recordingEvents) PublishSendJobCompleted(_ context.Context, job *domain.SendJob) error {
	e.mu.Lock()
	e.jobs = append(e.jobs, job.ID)
	e.mu.Unlock()
	return nil
}

const (
	testProjectID  = "project-1"
	testAccountID  = "user-1"
	testTemplateID = "template-1"
)

type fixture struct {
	store     *memory.Store
	transport *MockTransport
	objects   *memObjects
	events    *recordingEvents
	svc       *SendService
}

// newFixture 准备一个项目、发件账号、问候语和模板
func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()

	require.NoError(t, store.SaveProject(&domain.Project{
		ID:                testProjectID,
		Name:              "Diplomarbeit",
		MailAddress:       "projekt@htl-leonding.ac.at",
		EncryptedPassword: "enc:project-secret",
		CreatedBy:         testAccountID,
	}))

	sender := domain.NewNaturalContact(testAccountID, "Max", "Muster", "max@students.htl-leonding.ac.at")
	sender.Natural.EncryptedPassword = "enc:app-password"
	require.NoError(t, store.SaveContact(sender))

	require.NoError(t, store.SaveGreeting(&domain.Greeting{ID: "none"}))
	require.NoError(t, store.SaveTemplate(&domain.Template{
		ID:         testTemplateID,
		Name:       "Einladung",
		Headline:   "Einladung zur Präsentation",
		Content:    "Hallo {firstname} {lastname}",
		GreetingID: "none",
		ProjectID:  testProjectID,
		CreatedBy:  testAccountID,
	}))

	f := &fixture{
		store:     store,
		transport: &MockTransport{},
		objects:   newMemObjects(),
		events:    &recordingEvents{},
	}
	f.svc = NewSendService(SendServiceDeps{
		Store:     store,
		Transport: f.transport,
		Cipher:    prefixCipher{},
		Objects:   f.objects,
		Events:    f.events,
	})
	return f
}

// addContact 保存一个自然人联系人
func (f *fixture) addContact(t *testing.T, id, firstName, lastName, mail string) {
	t.Helper()
	require.NoError(t, f.store.SaveContact(domain.NewNaturalContact(id, firstName, lastName, mail)))
}

// acceptAll 所有认证与投递都成功
func (f *fixture) acceptAll() {
	f.transport.On("Authenticate", mock.Anything, mock.Anything).Return(nil)
	f.transport.On("Send", mock.Anything, mock.Anything, mock.Anything).Return(nil)
}
