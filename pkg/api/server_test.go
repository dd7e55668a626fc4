package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auracord/auracord-node/pkg/network"
	"github.com/auracord/auracord-node/pkg/storage"
	"github.com/auracord/auracord-node/pkg/transport"
)

func newTestEngine(t *testing.T, fabric *transport.MemNetwork, id, username string) *network.Engine {
	t.Helper()

	db, err := storage.NewChatDB(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	engine := network.NewEngine(fabric.Endpoint(id), db, transport.NewStubDevices(), username)
	require.NoError(t, engine.Start(context.Background()))
	t.Cleanup(func() { engine.Stop() })
	return engine
}

func doJSON(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func TestStatusEndpoint(t *testing.T) {
	fabric := transport.NewMemNetwork()
	engine := newTestEngine(t, fabric, "peer-alice", "Alice")
	s := NewServer(engine, nil)

	w := doJSON(t, s, http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, w.Code)

	var status StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "peer-alice", status.PeerID)
	assert.Equal(t, "Alice", status.Username)
	assert.True(t, status.Identified)
	assert.Zero(t, status.Friends)
}

func TestHealthEndpoint(t *testing.T) {
	fabric := transport.NewMemNetwork()
	engine := newTestEngine(t, fabric, "peer-alice", "Alice")
	s := NewServer(engine, nil)

	w := doJSON(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestFriendRequestEndpoints(t *testing.T) {
	fabric := transport.NewMemNetwork()
	alice := newTestEngine(t, fabric, "peer-alice", "Alice")
	bob := newTestEngine(t, fabric, "peer-bob", "Bob")
	aliceAPI := NewServer(alice, nil)
	bobAPI := NewServer(bob, nil)

	w := doJSON(t, aliceAPI, http.MethodPost, "/api/v1/friends/requests", `{"remoteId":"peer-bob"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, bobAPI, http.MethodGet, "/api/v1/friends/requests", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "peer-alice")

	w = doJSON(t, bobAPI, http.MethodPost, "/api/v1/friends/requests/peer-alice/accept", "")
	require.Equal(t, http.StatusOK, w.Code)

	assert.True(t, bob.IsFriend("peer-alice"))
	assert.True(t, alice.IsFriend("peer-bob"))

	w = doJSON(t, bobAPI, http.MethodGet, "/api/v1/friends", "")
	assert.Contains(t, w.Body.String(), "Alice")
}

func TestSendMessageEndpoint(t *testing.T) {
	fabric := transport.NewMemNetwork()
	alice := newTestEngine(t, fabric, "peer-alice", "Alice")
	bob := newTestEngine(t, fabric, "peer-bob", "Bob")
	aliceAPI := NewServer(alice, nil)

	// Without friendship the send fails closed.
	w := doJSON(t, aliceAPI, http.MethodPost, "/api/v1/messages", `{"remoteId":"peer-bob","text":"hi"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)

	require.NoError(t, alice.SendFriendRequest(context.Background(), "peer-bob"))
	require.NoError(t, bob.AcceptFriend("peer-alice"))

	w = doJSON(t, aliceAPI, http.MethodPost, "/api/v1/messages", `{"remoteId":"peer-bob","text":"hi"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, bob.Messages(), 1)

	w = doJSON(t, aliceAPI, http.MethodGet, "/api/v1/messages", "")
	assert.Contains(t, w.Body.String(), `"text":"hi"`)
}

func TestSendMessageValidation(t *testing.T) {
	fabric := transport.NewMemNetwork()
	engine := newTestEngine(t, fabric, "peer-alice", "Alice")
	s := NewServer(engine, nil)

	w := doJSON(t, s, http.MethodPost, "/api/v1/messages", `{"text":"missing peer"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReactionEndpoint(t *testing.T) {
	fabric := transport.NewMemNetwork()
	alice := newTestEngine(t, fabric, "peer-alice", "Alice")
	bob := newTestEngine(t, fabric, "peer-bob", "Bob")
	aliceAPI := NewServer(alice, nil)

	require.NoError(t, alice.SendFriendRequest(context.Background(), "peer-bob"))
	require.NoError(t, bob.AcceptFriend("peer-alice"))

	msg, err := alice.SendMessage(context.Background(), "peer-bob", "react to me")
	require.NoError(t, err)

	path := fmt.Sprintf("/api/v1/messages/%s/reactions", msg.ID)
	w := doJSON(t, aliceAPI, http.MethodPost, path, `{"remoteId":"peer-bob","emoji":"✨"}`)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, 1, alice.Messages()[0].Reactions["✨"])
	assert.Equal(t, 1, bob.Messages()[0].Reactions["✨"])
}

func TestReactionSurvivesDeliveryFailure(t *testing.T) {
	fabric := transport.NewMemNetwork()
	alice := newTestEngine(t, fabric, "peer-alice", "Alice")
	bob := newTestEngine(t, fabric, "peer-bob", "Bob")
	aliceAPI := NewServer(alice, nil)

	require.NoError(t, alice.SendFriendRequest(context.Background(), "peer-bob"))
	require.NoError(t, bob.AcceptFriend("peer-alice"))

	msg, err := alice.SendMessage(context.Background(), "peer-bob", "react to me")
	require.NoError(t, err)

	// The peer drops off the fabric before the reaction goes out.
	require.NoError(t, bob.Stop())

	path := fmt.Sprintf("/api/v1/messages/%s/reactions", msg.ID)
	w := doJSON(t, aliceAPI, http.MethodPost, path, `{"remoteId":"peer-bob","emoji":"🔥"}`)
	require.Equal(t, http.StatusOK, w.Code)

	// The user's own reaction is kept; the notice carries the failure.
	assert.Equal(t, 1, alice.Messages()[0].Reactions["🔥"])
	assert.Contains(t, alice.Notice(), "Reaction could not be delivered")
}

func TestNameChangeEndpoint(t *testing.T) {
	fabric := transport.NewMemNetwork()
	engine := newTestEngine(t, fabric, "peer-alice", "Alice")
	s := NewServer(engine, nil)

	w := doJSON(t, s, http.MethodPut, "/api/v1/profile/name", `{"name":"<nope>"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, s, http.MethodPut, "/api/v1/profile/name", `{"name":"Alicia"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Alicia", engine.Username())
}

func TestCallEndpoints(t *testing.T) {
	fabric := transport.NewMemNetwork()
	engine := newTestEngine(t, fabric, "peer-alice", "Alice")
	s := NewServer(engine, nil)

	w := doJSON(t, s, http.MethodGet, "/api/v1/call", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), network.CallIdle)

	// Answering with no ringing call is a 404.
	w = doJSON(t, s, http.MethodPost, "/api/v1/call/answer", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Calling a non-friend is forbidden.
	w = doJSON(t, s, http.MethodPost, "/api/v1/call", `{"remoteId":"peer-bob","video":true}`)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Ending with no call is fine: idempotent.
	w = doJSON(t, s, http.MethodPost, "/api/v1/call/end", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNoticeEndpoints(t *testing.T) {
	fabric := transport.NewMemNetwork()
	alice := newTestEngine(t, fabric, "peer-alice", "Alice")
	bob := newTestEngine(t, fabric, "peer-bob", "Bob")
	bobAPI := NewServer(bob, nil)

	require.NoError(t, alice.SendFriendRequest(context.Background(), "peer-bob"))

	w := doJSON(t, bobAPI, http.MethodGet, "/api/v1/notice", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Friend request from Alice")

	w = doJSON(t, bobAPI, http.MethodDelete, "/api/v1/notice", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, bob.Notice())
}

func TestAPIRateLimit(t *testing.T) {
	fabric := transport.NewMemNetwork()
	engine := newTestEngine(t, fabric, "peer-alice", "Alice")
	cfg := DefaultConfig()
	cfg.RateLimit = 2
	s := NewServer(engine, cfg)

	for i := 0; i < 2; i++ {
		w := doJSON(t, s, http.MethodGet, "/health", "")
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := doJSON(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}
