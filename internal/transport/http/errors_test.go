package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"leomail/backend/internal/domain"
)

func TestWriteError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name   string
		err    error
		status int
		msg    string
	}{
		{"参数错误", domain.ErrNoReceivers, http.StatusBadRequest, "没有有效的收件人"},
		{"参数错误返回具体原因", domain.InvalidArgument("sender %s not found", "p-9"), http.StatusBadRequest, "invalid argument: sender p-9 not found"},
		{"无权限", domain.ErrPermissionDenied, http.StatusForbidden, MsgPermissionDenied},
		{"资源不存在", domain.ErrTemplateNotFound, http.StatusNotFound, "模板不存在"},
		{"资源冲突", domain.ErrTemplateNameExists, http.StatusConflict, "模板名称已存在"},
		{"请求取消", context.Canceled, http.StatusServiceUnavailable, MsgInternalError},
		{"内部错误", errors.New("boom"), http.StatusInternalServerError, MsgInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

			writeError(c, zap.NewNop(), tt.err)

			assert.Equal(t, tt.status, w.Code)
			var resp Response
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.status, resp.Code)
			assert.Equal(t, tt.msg, resp.Msg)
			assert.Nil(t, resp.Data)
		})
	}
}

func TestRequestTooLarge(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	RequestTooLarge(c)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, CodeRequestTooLarge, resp.Code)
	assert.Equal(t, MsgRequestTooLarge, resp.Msg)
}
