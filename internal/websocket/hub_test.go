package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"backoffice/internal/authz"
	"backoffice/internal/errs"
	"backoffice/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("ws-secret")

type stubResolver map[uuid.UUID][]string

func (s stubResolver) Resolve(_ context.Context, id uuid.UUID) (authz.Principal, error) {
	roles, ok := s[id]
	if !ok {
		return authz.Anonymous(), errs.Unauthenticated("unknown")
	}
	return authz.Principal{ID: id, Roles: roles}, nil
}

func (stubResolver) Invalidate(context.Context, uuid.UUID) {}
func (stubResolver) Purge(context.Context)                 {}

func startServer(t *testing.T, resolver stubResolver) (*Hub, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := NewHub(zerolog.Nop())
	go hub.Run(ctx)

	gate := authz.NewGate(authz.NewRegistry(authz.DefaultRoles()))
	r := gin.New()
	r.GET("/ws", ServeWs(hub, secret, resolver, gate))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func tokenFor(t *testing.T, id uuid.UUID) string {
	t.Helper()
	tok, _, err := service.IssueToken(secret, time.Hour, id, "someone")
	require.NoError(t, err)
	return tok
}

func TestModeratorReceivesEvents(t *testing.T) {
	mod := uuid.New()
	hub, url := startServer(t, stubResolver{mod: {authz.RolePoster}})

	conn, _, err := websocket.DefaultDialer.Dial(url+"?token="+tokenFor(t, mod), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 10*time.Millisecond)
	hub.Publish(service.EventCommentSubmitted, map[string]string{"post_id": "p1"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev Event
	require.NoError(t, json.Unmarshal(msg, &ev))
	assert.Equal(t, service.EventCommentSubmitted, ev.Event)
	assert.Equal(t, map[string]any{"post_id": "p1"}, ev.Data)
}

func TestHandshakeRequiresModerator(t *testing.T) {
	reader := uuid.New()
	_, url := startServer(t, stubResolver{reader: {authz.RoleUser}})

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(url+"?token="+tokenFor(t, reader), nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(url+"?token="+tokenFor(t, uuid.New()), nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestPublishWithoutClientsDoesNotBlock(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	for i := 0; i < 200; i++ {
		hub.Publish("noise", i)
	}
	assert.Zero(t, hub.Clients())
}
