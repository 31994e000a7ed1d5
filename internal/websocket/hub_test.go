package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leomail/backend/internal/auth/jwt"
	"leomail/backend/internal/config"
	"leomail/backend/internal/service"
)

func newTestServer(t *testing.T, status *service.ImportStatus) (*Hub, *jwt.Manager, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	manager := jwt.NewManager(config.JWTConfig{
		Secret:       "0123456789abcdef0123456789abcdef",
		Issuer:       "leomail",
		AccessExpiry: time.Hour,
	})
	hub := NewHub(nil, manager, status, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	r := gin.New()
	r.GET("/v1/ws", HandleWebSocket(hub))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return hub, manager, "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws"
}

func readStatus(t *testing.T, conn *websocket.Conn) ImportStatusData {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg Message
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type != MessageTypeImportStatus {
			continue
		}
		var data ImportStatusData
		require.NoError(t, json.Unmarshal(msg.Data, &data))
		return data
	}
}

func TestHub_ImportStatus(t *testing.T) {
	status := service.NewImportStatus()
	hub, manager, url := newTestServer(t, status)
	cancel := status.Subscribe(hub.NotifyImportStatus)
	defer cancel()

	token, err := manager.Issue("user-1", "", "")
	require.NoError(t, err)

	conn, _, err := websocket.DefaultDialer.Dial(url+"?token="+token, nil)
	require.NoError(t, err)
	defer conn.Close()

	t.Run("连接后收到当前状态", func(t *testing.T) {
		assert.False(t, readStatus(t, conn).Running)
	})

	t.Run("状态变化被广播", func(t *testing.T) {
		require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

		status.Set(true)
		assert.True(t, readStatus(t, conn).Running)

		status.Set(false)
		assert.False(t, readStatus(t, conn).Running)
	})

	t.Run("客户端 ping 得到 pong", func(t *testing.T) {
		require.NoError(t, conn.WriteJSON(Message{Type: MessageTypePing}))
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var msg Message
		require.NoError(t, conn.ReadJSON(&msg))
		assert.Equal(t, MessageTypePong, msg.Type)
	})

	t.Run("断开后注销", func(t *testing.T) {
		require.NoError(t, conn.Close())
		assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
	})
}

func TestHub_RejectsUnauthenticated(t *testing.T) {
	_, _, url := newTestServer(t, service.NewImportStatus())

	t.Run("缺少令牌", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(url, nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("令牌无效", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(url+"?token=garbage", nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestUpgrader_CheckOrigin(t *testing.T) {
	up := upgraderFactory([]string{"https://leomail.example.com"})

	req := httptest.NewRequest(http.MethodGet, "/v1/ws", nil)
	assert.True(t, up.CheckOrigin(req))

	req.Header.Set("Origin", "https://leomail.example.com")
	assert.True(t, up.CheckOrigin(req))

	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, up.CheckOrigin(req))
}
