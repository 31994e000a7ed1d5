package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jwtpkg "leomail/backend/internal/auth/jwt"
	"leomail/backend/internal/config"
	"leomail/backend/internal/domain"
	"leomail/backend/internal/monitoring"
	"leomail/backend/internal/service"
	"leomail/backend/internal/storage/filesystem"
	"leomail/backend/internal/storage/memory"
)

const (
	testProjectID = "project-1"
	testUserID    = "user-1"
	testOutsider  = "user-2"
)

// fakeTransport 记录投递的邮件
type fakeTransport struct {
	mu   sync.Mutex
	sent []*domain.OutgoingMail
}

func (f *fakeTransport) Authenticate(context.Context, domain.MailCredentials) error { return nil }

func (f *fakeTransport) Send(_ context.Context, _ domain.MailCredentials, mail *domain.OutgoingMail) error {
	f.mu.Lock()
	f.sent = append(f.sent, mail)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type plainCipher struct{}

func (plainCipher) Decrypt(s string) (string, error) { return s, nil }

type testEnv struct {
	router    *gin.Engine
	store     *memory.Store
	transport *fakeTransport
	jwt       *jwtpkg.Manager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.NewStore()
	require.NoError(t, store.SaveProject(&domain.Project{
		ID:                testProjectID,
		Name:              "Diplomarbeit",
		MailAddress:       "projekt@htl-leonding.ac.at",
		EncryptedPassword: "secret",
		CreatedBy:         testUserID,
	}))
	require.NoError(t, store.SaveProject(&domain.Project{
		ID:                "project-2",
		Name:              "Andere",
		MailAddress:       "fremd@htl-leonding.ac.at",
		EncryptedPassword: "other-secret",
		CreatedBy:         testOutsider,
	}))
	sender := domain.NewNaturalContact(testUserID, "Max", "Muster", "max@students.htl-leonding.ac.at")
	sender.Natural.EncryptedPassword = "app-password"
	require.NoError(t, store.SaveContact(sender))
	require.NoError(t, store.SaveContact(domain.NewNaturalContact("c1", "Ada", "Lovelace", "ada@example.com")))

	objects, err := filesystem.NewStore(t.TempDir(), 0)
	require.NoError(t, err)

	transport := &fakeTransport{}
	metrics := monitoring.NewMetricsWith(prometheus.NewRegistry())
	permissions := service.NewPermissionService(store)
	templates := service.NewTemplateService(store, nil, nil)
	require.NoError(t, templates.EnsureDefaultGreetings())

	jwtManager := jwtpkg.NewManager(config.JWTConfig{
		Secret:       "test-secret-key-with-at-least-32-chars",
		Issuer:       "leomail",
		AccessExpiry: time.Hour,
	})

	router := NewRouter(RouterDependencies{
		Config: &config.Config{
			CORS: config.CORSConfig{AllowedOrigins: []string{"*"}},
		},
		SendService: service.NewSendService(service.SendServiceDeps{
			Store:     store,
			Transport: transport,
			Cipher:    plainCipher{},
			Objects:   objects,
			Metrics:   metrics,
		}),
		SendJobService:    service.NewSendJobService(store, objects, nil),
		TemplateService:   templates,
		AttachmentService: service.NewAttachmentService(store, objects, nil, permissions, metrics, nil),
		PermissionService: permissions,
		ImportStatus:      service.NewImportStatus(),
		JWTManager:        jwtManager,
		Metrics:           metrics,
	})

	return &testEnv{router: router, store: store, transport: transport, jwt: jwtManager}
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := e.jwt.Issue(userID, userID+"@example.com", userID)
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, method, path, userID string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+e.token(t, userID))
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) doJSON(t *testing.T, method, path, userID string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	}
	return e.do(t, method, path, userID, body, "application/json")
}

// createTemplate 通过接口创建模板并返回 ID
func (e *testEnv) createTemplate(t *testing.T, name string) string {
	t.Helper()
	w := e.doJSON(t, http.MethodPost, "/v1/projects/"+testProjectID+"/templates", testUserID, service.TemplateInput{
		Name:       name,
		Headline:   "Einladung zur Präsentation",
		Content:    "<p>Hallo {firstname}</p>",
		GreetingID: "none",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp struct {
		Data domain.Template `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Data.ID
}

type jobEnvelope struct {
	Code int `json:"code"`
	Data struct {
		ID          string              `json:"id"`
		Status      string              `json:"status"`
		Total       int                 `json:"total"`
		Delivered   int                 `json:"delivered"`
		Messages    []domain.Message    `json:"messages"`
		Attachments []domain.Attachment `json:"attachments"`
	} `json:"data"`
}

func decodeJob(t *testing.T, w *httptest.ResponseRecorder) jobEnvelope {
	t.Helper()
	var env jobEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}

func decodeMsg(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp.Msg
}

type filePart struct {
	name        string
	contentType string
	content     string
}

func multipartBody(t *testing.T, request interface{}, files ...filePart) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	if request != nil {
		data, err := json.Marshal(request)
		require.NoError(t, err)
		require.NoError(t, mw.WriteField("request", string(data)))
	}
	for _, f := range files {
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", `form-data; name="attachments"; filename="`+f.name+`"`)
		h.Set("Content-Type", f.contentType)
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write([]byte(f.content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return buf, mw.FormDataContentType()
}

func sendPayload(templateID string) service.SendRequest {
	return service.SendRequest{
		Receiver:   service.Receivers{Contacts: []string{"c1"}},
		TemplateID: templateID,
		From:       service.Sender{MailType: domain.SenderPersonal},
	}
}

func TestAuthAndInfrastructure(t *testing.T) {
	env := newTestEnv(t)

	t.Run("未登录访问返回401", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/v1/greetings", "", nil, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("健康检查与指标无需登录", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/health", "", nil, "").Code)
		w := env.do(t, http.MethodGet, "/metrics", "", nil, "")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("导入状态", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/v1/import-status", testUserID, nil, "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"code":200,"msg":"成功","data":{"running":false}}`, w.Body.String())
	})

	t.Run("列出默认问候语", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/v1/greetings", testUserID, nil, "")
		require.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Data []domain.Greeting `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Len(t, resp.Data, len(service.DefaultGreetings))

		w = env.do(t, http.MethodGet, "/v1/greetings/unknown", testUserID, nil, "")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "问候语不存在", decodeMsg(t, w))
	})
}

func TestTemplateRoutes(t *testing.T) {
	t.Run("创建并更新模板", func(t *testing.T) {
		env := newTestEnv(t)
		id := env.createTemplate(t, "Einladung")

		w := env.doJSON(t, http.MethodPut, "/v1/templates/"+id, testUserID, service.TemplateInput{
			Name:       "Einladung 2",
			Headline:   "Neu",
			Content:    "Hallo",
			GreetingID: "informal",
			ProjectID:  "project-2",
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		tpl, err := env.store.GetTemplate(id)
		require.NoError(t, err)
		assert.Equal(t, "Einladung 2", tpl.Name)
		assert.Equal(t, testProjectID, tpl.ProjectID)
	})

	t.Run("模板名称重复返回409", func(t *testing.T) {
		env := newTestEnv(t)
		env.createTemplate(t, "Einladung")

		w := env.doJSON(t, http.MethodPost, "/v1/projects/"+testProjectID+"/templates", testUserID, service.TemplateInput{
			Name: "Einladung", Content: "x", GreetingID: "none",
		})
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "模板名称已存在", decodeMsg(t, w))
	})

	t.Run("非项目成员无权访问", func(t *testing.T) {
		env := newTestEnv(t)
		id := env.createTemplate(t, "Einladung")

		assert.Equal(t, http.StatusForbidden,
			env.do(t, http.MethodGet, "/v1/projects/"+testProjectID+"/templates", testOutsider, nil, "").Code)
		assert.Equal(t, http.StatusForbidden,
			env.do(t, http.MethodGet, "/v1/templates/"+id, testOutsider, nil, "").Code)
		assert.Equal(t, http.StatusForbidden,
			env.do(t, http.MethodDelete, "/v1/templates/"+id, testOutsider, nil, "").Code)
	})

	t.Run("删除模板", func(t *testing.T) {
		env := newTestEnv(t)
		id := env.createTemplate(t, "Einladung")

		assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/v1/templates/"+id, testUserID, nil, "").Code)
		assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/v1/templates/"+id, testUserID, nil, "").Code)
	})

	t.Run("无效JSON", func(t *testing.T) {
		env := newTestEnv(t)
		w := env.do(t, http.MethodPost, "/v1/projects/"+testProjectID+"/templates", testUserID,
			strings.NewReader("{"), "application/json")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, MsgInvalidJSON, decodeMsg(t, w))
	})
}

func TestMailRoutes(t *testing.T) {
	mailsPath := "/v1/projects/" + testProjectID + "/mails"

	t.Run("JSON请求立即发送", func(t *testing.T) {
		env := newTestEnv(t)
		tplID := env.createTemplate(t, "Einladung")

		w := env.doJSON(t, http.MethodPost, mailsPath, testUserID, sendPayload(tplID))
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		job := decodeJob(t, w)
		assert.Equal(t, statusSent, job.Data.Status)
		assert.Equal(t, 1, job.Data.Total)
		assert.Equal(t, 1, job.Data.Delivered)
		assert.Equal(t, 1, env.transport.count())
	})

	t.Run("项目邮箱发件需要发件项目权限", func(t *testing.T) {
		env := newTestEnv(t)
		tplID := env.createTemplate(t, "Einladung")

		req := sendPayload(tplID)
		req.From = service.Sender{MailType: domain.SenderProject, ID: "project-2"}
		w := env.doJSON(t, http.MethodPost, mailsPath, testUserID, req)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, MsgPermissionDenied, decodeMsg(t, w))
		assert.Zero(t, env.transport.count())

		jobs, err := env.store.ListSendJobsByProject(testProjectID, false)
		require.NoError(t, err)
		assert.Empty(t, jobs)

		req.From.ID = testProjectID
		w = env.doJSON(t, http.MethodPost, mailsPath, testUserID, req)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		require.Equal(t, 1, env.transport.count())
		assert.Equal(t, "projekt@htl-leonding.ac.at", env.transport.sent[0].From)
	})

	t.Run("multipart请求携带附件并可下载", func(t *testing.T) {
		env := newTestEnv(t)
		tplID := env.createTemplate(t, "Einladung")

		body, contentType := multipartBody(t, sendPayload(tplID),
			filePart{name: "plan.txt", contentType: "text/plain", content: "Ablaufplan"})
		w := env.do(t, http.MethodPost, mailsPath, testUserID, body, contentType)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		job := decodeJob(t, w)
		require.Len(t, job.Data.Attachments, 1)
		att := job.Data.Attachments[0]
		assert.Equal(t, "plan.txt", att.FileName)

		w = env.do(t, http.MethodGet, "/v1/attachments/"+att.ID, testUserID, nil, "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "Ablaufplan", w.Body.String())
		assert.Equal(t, `attachment; filename=plan.txt`, w.Header().Get("Content-Disposition"))

		w = env.do(t, http.MethodGet, "/v1/attachments/"+att.ID, testOutsider, nil, "")
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("拒绝危险附件且不创建任务", func(t *testing.T) {
		env := newTestEnv(t)
		tplID := env.createTemplate(t, "Einladung")

		body, contentType := multipartBody(t, sendPayload(tplID),
			filePart{name: "setup.exe", contentType: "application/octet-stream", content: "MZ\x90\x00"})
		w := env.do(t, http.MethodPost, mailsPath, testUserID, body, contentType)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "不允许上传该类型的文件", decodeMsg(t, w))

		jobs, err := env.store.ListSendJobsByProject(testProjectID, false)
		require.NoError(t, err)
		assert.Empty(t, jobs)
		assert.Zero(t, env.transport.count())
	})

	t.Run("缺少request字段", func(t *testing.T) {
		env := newTestEnv(t)
		body, contentType := multipartBody(t, nil)
		w := env.do(t, http.MethodPost, mailsPath, testUserID, body, contentType)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, MsgMissingRequest, decodeMsg(t, w))
	})

	t.Run("收件人无效时清理已上传附件", func(t *testing.T) {
		env := newTestEnv(t)
		tplID := env.createTemplate(t, "Einladung")

		req := sendPayload(tplID)
		req.Receiver.Contacts = []string{"missing"}
		body, contentType := multipartBody(t, req,
			filePart{name: "plan.txt", contentType: "text/plain", content: "Ablaufplan"})
		w := env.do(t, http.MethodPost, mailsPath, testUserID, body, contentType)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "没有有效的收件人", decodeMsg(t, w))
	})

	t.Run("定时任务列表与手动发送", func(t *testing.T) {
		env := newTestEnv(t)
		tplID := env.createTemplate(t, "Einladung")

		req := sendPayload(tplID)
		future := time.Now().Add(time.Hour)
		req.ScheduledAt = &future
		w := env.doJSON(t, http.MethodPost, mailsPath, testUserID, req)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		job := decodeJob(t, w)
		assert.Equal(t, statusScheduled, job.Data.Status)
		assert.Zero(t, env.transport.count())

		w = env.do(t, http.MethodGet, "/v1/projects/"+testProjectID+"/send-jobs?scheduled=true", testUserID, nil, "")
		require.Equal(t, http.StatusOK, w.Code)
		var list struct {
			Data []struct {
				ID       string           `json:"id"`
				Total    int              `json:"total"`
				Messages []domain.Message `json:"messages"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
		require.Len(t, list.Data, 1)
		assert.Equal(t, job.Data.ID, list.Data[0].ID)
		assert.Equal(t, 1, list.Data[0].Total)
		assert.Empty(t, list.Data[0].Messages)

		w = env.do(t, http.MethodPost, "/v1/send-jobs/"+job.Data.ID+"/send", testUserID, nil, "")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, statusSent, decodeJob(t, w).Data.Status)
		assert.Equal(t, 1, env.transport.count())

		w = env.do(t, http.MethodPost, "/v1/send-jobs/"+job.Data.ID+"/send", testUserID, nil, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "该任务已经发送", decodeMsg(t, w))
	})

	t.Run("搜索与删除任务", func(t *testing.T) {
		env := newTestEnv(t)
		tplID := env.createTemplate(t, "Einladung")
		w := env.doJSON(t, http.MethodPost, mailsPath, testUserID, sendPayload(tplID))
		require.Equal(t, http.StatusCreated, w.Code)
		jobID := decodeJob(t, w).Data.ID

		w = env.do(t, http.MethodGet, "/v1/projects/"+testProjectID+"/send-jobs/search?q=einl", testUserID, nil, "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), jobID)

		assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodGet, "/v1/send-jobs/"+jobID, testOutsider, nil, "").Code)
		assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/v1/send-jobs/"+jobID, testUserID, nil, "").Code)

		w = env.do(t, http.MethodGet, "/v1/send-jobs/"+jobID, testUserID, nil, "")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "发送任务不存在", decodeMsg(t, w))
	})
}
