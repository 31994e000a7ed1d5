package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"leomail/backend/internal/config"
	"leomail/backend/internal/domain"
	"leomail/backend/internal/monitoring"
	"leomail/backend/internal/service"
	"leomail/backend/internal/storage/memory"
)

type MockSender struct {
	mock.Mock
}

func (m *MockSender) SendMail(ctx context.Context, jobID string) (*domain.SendJob, error) {
	args := m.Called(ctx, jobID)
	if j := args.Get(0); j != nil {
		return j.(*domain.SendJob), args.Error(1)
	}
	return nil, args.Error(1)
}

type staticJobs struct {
	jobs []domain.SendJob
	err  error
}

func (s staticJobs) DueSendJobs(time.Time, time.Duration) ([]domain.SendJob, error) {
	return s.jobs, s.err
}

type fixedLease struct {
	ok  bool
	err error
}

func (l fixedLease) Acquire(context.Context, time.Duration) (bool, error) {
	return l.ok, l.err
}

type acceptingTransport struct {
	mu   sync.Mutex
	sent []string
}

func (t *acceptingTransport) Authenticate(context.Context, domain.MailCredentials) error { return nil }

func (t *acceptingTransport) Send(_ context.Context, _ domain.MailCredentials, m *domain.OutgoingMail) error {
	t.mu.Lock()
	t.sent = append(t.sent, m.To)
	t.mu.Unlock()
	return nil
}

type plainCipher struct{}

func (plainCipher) Decrypt(s string) (string, error) { return s, nil }

func TestScheduler_Tick(t *testing.T) {
	ctx := context.Background()
	cfg := config.SchedulerConfig{Interval: time.Second, ClaimTTL: time.Minute}

	t.Run("逐个投递到期任务且互不影响", func(t *testing.T) {
		sender := &MockSender{}
		sender.On("SendMail", mock.Anything, "job-1").Return(nil, errors.New("smtp down"))
		sender.On("SendMail", mock.Anything, "job-2").Return(nil, domain.ErrSendInProgress)
		sender.On("SendMail", mock.Anything, "job-3").Return(&domain.SendJob{ID: "job-3"}, nil)
		jobs := staticJobs{jobs: []domain.SendJob{{ID: "job-1"}, {ID: "job-2"}, {ID: "job-3"}}}

		s := New(cfg, jobs, sender, nil, monitoring.NewMetricsWith(prometheus.NewRegistry()), nil)
		sent, err := s.Tick(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, sent)
		sender.AssertNumberOfCalls(t, "SendMail", 3)
	})

	t.Run("单个任务panic不影响其他任务", func(t *testing.T) {
		sender := &MockSender{}
		sender.On("SendMail", mock.Anything, "job-1").Run(func(mock.Arguments) { panic("boom") })
		sender.On("SendMail", mock.Anything, "job-2").Return(&domain.SendJob{ID: "job-2"}, nil)
		jobs := staticJobs{jobs: []domain.SendJob{{ID: "job-1"}, {ID: "job-2"}}}

		sent, err := New(cfg, jobs, sender, nil, nil, nil).Tick(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, sent)
	})

	t.Run("查询失败返回错误", func(t *testing.T) {
		sender := &MockSender{}
		_, err := New(cfg, staticJobs{err: errors.New("db down")}, sender, nil, nil, nil).Tick(ctx)
		assert.ErrorContains(t, err, "db down")
		sender.AssertNotCalled(t, "SendMail", mock.Anything, mock.Anything)
	})

	t.Run("未获得租约时跳过本轮", func(t *testing.T) {
		sender := &MockSender{}
		jobs := staticJobs{jobs: []domain.SendJob{{ID: "job-1"}}}

		sent, err := New(cfg, jobs, sender, fixedLease{ok: false}, nil, nil).Tick(ctx)
		require.NoError(t, err)
		assert.Zero(t, sent)
		sender.AssertNotCalled(t, "SendMail", mock.Anything, mock.Anything)
	})

	t.Run("租约错误", func(t *testing.T) {
		_, err := New(cfg, staticJobs{}, &MockSender{}, fixedLease{err: errors.New("redis down")}, nil, nil).Tick(ctx)
		assert.ErrorContains(t, err, "redis down")
	})
}

func TestScheduler_StartRunsImmediately(t *testing.T) {
	called := make(chan struct{}, 1)
	sender := &MockSender{}
	sender.On("SendMail", mock.Anything, "job-1").Run(func(mock.Arguments) {
		select {
		case called <- struct{}{}:
		default:
		}
	}).Return(&domain.SendJob{ID: "job-1"}, nil)
	jobs := staticJobs{jobs: []domain.SendJob{{ID: "job-1"}}}

	s := New(config.SchedulerConfig{Interval: time.Hour}, jobs, sender, nil, nil, nil)
	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))

	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("启动后没有立即执行")
	}
	s.Stop()
	s.Stop()
}

// 定时任务在到期前保持待发送，到期后的下一轮完成投递
func TestScheduler_DeliversScheduledJob(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	require.NoError(t, store.SaveProject(&domain.Project{ID: "p1", Name: "P", CreatedBy: "u1"}))
	sender := domain.NewNaturalContact("u1", "Max", "Muster", "max@example.com")
	sender.Natural.EncryptedPassword = "secret"
	require.NoError(t, store.SaveContact(sender))
	require.NoError(t, store.SaveContact(domain.NewNaturalContact("c1", "Ada", "Lovelace", "ada@example.com")))
	require.NoError(t, store.SaveGreeting(&domain.Greeting{ID: "none"}))
	require.NoError(t, store.SaveTemplate(&domain.Template{
		ID: "t1", Name: "Erinnerung", Headline: "Erinnerung", Content: "Hallo {firstname}", GreetingID: "none", ProjectID: "p1",
	}))

	transport := &acceptingTransport{}
	sendSvc := service.NewSendService(service.SendServiceDeps{
		Store:     store,
		Transport: transport,
		Cipher:    plainCipher{},
	})

	at := time.Now().UTC().Add(time.Hour)
	job, err := sendSvc.SendByTemplate(ctx, "p1", "u1", service.SendRequest{
		Receiver:    service.Receivers{Contacts: []string{"c1"}},
		TemplateID:  "t1",
		ScheduledAt: &at,
		From:        service.Sender{MailType: domain.SenderPersonal},
	}, nil)
	require.NoError(t, err)

	s := New(config.SchedulerConfig{Interval: 15 * time.Second, ClaimTTL: time.Minute}, store, sendSvc, nil, nil, nil)

	sent, err := s.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, sent)
	pending, err := store.GetSendJob(job.ID)
	require.NoError(t, err)
	assert.Nil(t, pending.SentAt)
	require.Len(t, pending.Messages, 1)
	assert.False(t, pending.Messages[0].Sent)

	s.now = func() time.Time { return at.Add(15 * time.Second) }
	sent, err = s.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	done, err := store.GetSendJob(job.ID)
	require.NoError(t, err)
	assert.NotNil(t, done.SentAt)
	assert.True(t, done.Messages[0].Sent)
	assert.Equal(t, []string{"ada@example.com"}, transport.sent)

	sent, err = s.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, sent)
}
