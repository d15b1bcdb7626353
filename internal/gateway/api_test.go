// ABOUTME: Tests for the ops HTTP API
// ABOUTME: Covers mode queries, manual overrides, the handoff queue and auth enforcement

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaywise/concierge/internal/auth"
	"github.com/relaywise/concierge/internal/conversation"
	"github.com/relaywise/concierge/internal/escalation"
	"github.com/relaywise/concierge/internal/notify"
	"github.com/relaywise/concierge/internal/store"
)

type apiEnv struct {
	api   *API
	st    *store.MockStore
	convs *conversation.Manager
	esc   *escalation.Coordinator
	token string
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	st := store.NewMockStore()
	convs := conversation.NewManager(st, 40, nil)
	esc := escalation.NewCoordinator(st, convs, notify.NewLogNotifier(nil), nil)

	verifier := auth.NewJWTVerifier([]byte("test-secret"))
	token, err := verifier.Generate("operator-alice", time.Hour)
	require.NoError(t, err)

	api := NewAPI(st, convs, esc, verifier, nil, nil)
	return &apiEnv{api: api, st: st, convs: convs, esc: esc, token: token}
}

func (e *apiEnv) do(t *testing.T, method, path, body string, withAuth bool) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if withAuth {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	rec := httptest.NewRecorder()
	e.api.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	env := newAPIEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestConversationMode(t *testing.T) {
	env := newAPIEnv(t)
	ctx := context.Background()
	_, err := env.convs.GetOrCreate(ctx, "conv-1", "user-1", "telegram")
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/api/conversations/conv-1/mode", "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, store.ModeAI, body["mode"])

	rec = env.do(t, http.MethodGet, "/api/conversations/missing/mode", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestForceBackToAI(t *testing.T) {
	env := newAPIEnv(t)
	ctx := context.Background()
	_, err := env.convs.GetOrCreate(ctx, "conv-1", "user-1", "telegram")
	require.NoError(t, err)
	require.NoError(t, env.convs.SetMode(ctx, "conv-1", store.ModeHuman))

	rec := env.do(t, http.MethodPost, "/api/conversations/conv-1/ai", "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	conv, err := env.st.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, store.ModeAI, conv.Mode)
}

func TestResetConversation(t *testing.T) {
	env := newAPIEnv(t)
	ctx := context.Background()
	conv, err := env.convs.GetOrCreate(ctx, "conv-1", "user-1", "telegram")
	require.NoError(t, err)
	require.NoError(t, env.convs.AppendMessage(ctx, conv, &store.Message{Role: store.RoleUser, Text: "hello"}))

	rec := env.do(t, http.MethodPost, "/api/conversations/conv-1/reset", "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	history, err := env.convs.History(ctx, "conv-1")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestHandoffQueue(t *testing.T) {
	env := newAPIEnv(t)
	ctx := context.Background()
	_, err := env.convs.GetOrCreate(ctx, "conv-1", "user-1", "telegram")
	require.NoError(t, err)
	rec1, err := env.esc.InitiateHandoff(ctx, "conv-1", store.ReasonOperatorRequest, "", store.SeverityMedium)
	require.NoError(t, err)

	// List
	rec := env.do(t, http.MethodGet, "/api/handoffs?status="+store.HandoffNotified, "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var listBody struct {
		Handoffs []*store.HandoffRecord `json:"handoffs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listBody))
	require.Len(t, listBody.Handoffs, 1)

	// Accept carries the operator from the token
	rec = env.do(t, http.MethodPost, "/api/handoffs/"+rec1.ID+"/accept", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var accepted store.HandoffRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	assert.Equal(t, "operator-alice", accepted.AcceptedBy)

	// Resolve back to AI
	rec = env.do(t, http.MethodPost, "/api/handoffs/"+rec1.ID+"/resolve",
		`{"outcome":"returned_to_ai"}`, true)
	require.Equal(t, http.StatusOK, rec.Code)

	conv, err := env.st.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, store.ModeAI, conv.Mode)
}

func TestHandoffResolve_BadOutcome(t *testing.T) {
	env := newAPIEnv(t)
	rec := env.do(t, http.MethodPost, "/api/handoffs/some-id/resolve", `{"outcome":"shredded"}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthRequiredOnAPIRoutes(t *testing.T) {
	env := newAPIEnv(t)

	paths := []struct{ method, path string }{
		{http.MethodGet, "/api/conversations/conv-1/mode"},
		{http.MethodPost, "/api/conversations/conv-1/ai"},
		{http.MethodPost, "/api/conversations/conv-1/reset"},
		{http.MethodGet, "/api/handoffs"},
		{http.MethodPost, "/api/handoffs/x/accept"},
	}
	for _, p := range paths {
		rec := env.do(t, p.method, p.path, "", false)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", p.method, p.path)
	}
}
