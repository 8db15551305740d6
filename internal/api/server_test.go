package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koromind/koro/internal/metrics"
	"github.com/koromind/koro/pkg/approval"
	"github.com/koromind/koro/pkg/brain"
	"github.com/koromind/koro/pkg/runtime"
	"github.com/koromind/koro/pkg/state"
)

const testSecret = "test-secret"

type fakeRuntime struct {
	result runtime.Result
	err    error
}

func (f *fakeRuntime) Run(ctx context.Context, req runtime.Request) (runtime.Result, error) {
	if f.err != nil {
		return runtime.Result{}, f.err
	}
	result := f.result
	if result.SessionID == "" {
		result.SessionID = req.SessionID
	}
	// The real runtime starts a fresh session when none is given and
	// reports its id in the Result.
	if result.SessionID == "" {
		result.SessionID = "session-1"
	}
	return result, nil
}

type testServer struct {
	server  *Server
	store   *state.Store
	runtime *fakeRuntime
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store, err := state.NewStore(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	rt := &fakeRuntime{result: runtime.Result{Text: "hello from the agent"}}
	b, err := brain.New(brain.Config{
		Store:     store,
		Approvals: approval.NewCoordinator(),
		Runtime:   rt,
	})
	require.NoError(t, err)

	server, err := NewServer(Config{
		Host:         "127.0.0.1",
		Port:         8787,
		SharedSecret: testSecret,
		Brain:        b,
		Store:        store,
		Metrics:      metrics.New(),
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)

	return &testServer{server: server, store: store, runtime: rt}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}, secret string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if secret != "" {
		req.Header.Set(secretHeader, secret)
	}
	recorder := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(recorder, req)
	return recorder
}

func TestNewServer_Validation(t *testing.T) {
	_, err := NewServer(Config{Port: 0})
	assert.ErrorContains(t, err, "invalid port")

	_, err = NewServer(Config{Port: 8787})
	assert.ErrorContains(t, err, "shared secret")
}

func TestAuth_MissingSecretRejected(t *testing.T) {
	ts := newTestServer(t)

	recorder := ts.do(t, http.MethodGet, "/v1/settings?user_id=u1", nil, "")
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)

	recorder = ts.do(t, http.MethodGet, "/v1/settings?user_id=u1", nil, "wrong")
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestHealthz_NoAuthRequired(t *testing.T) {
	ts := newTestServer(t)

	recorder := ts.do(t, http.MethodGet, "/healthz", nil, "")
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), `"ok"`)
}

func TestMessages_ProcessesText(t *testing.T) {
	ts := newTestServer(t)

	recorder := ts.do(t, http.MethodPost, "/v1/messages",
		map[string]string{"user_id": "u1", "text": "hi"}, testSecret)
	require.Equal(t, http.StatusOK, recorder.Code)

	var resp messageResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	assert.Equal(t, "hello from the agent", resp.Text)
	assert.NotEmpty(t, resp.SessionID)

	// The run is persisted as the current session.
	current, ok, err := ts.store.GetCurrentSession("u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, resp.SessionID, current.ID)
}

func TestMessages_MissingFieldsRejected(t *testing.T) {
	ts := newTestServer(t)

	recorder := ts.do(t, http.MethodPost, "/v1/messages",
		map[string]string{"user_id": "u1"}, testSecret)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestMessages_RuntimeErrorIsBadGateway(t *testing.T) {
	ts := newTestServer(t)
	ts.runtime.err = assert.AnError

	recorder := ts.do(t, http.MethodPost, "/v1/messages",
		map[string]string{"user_id": "u1", "text": "hi"}, testSecret)
	assert.Equal(t, http.StatusBadGateway, recorder.Code)
}

func TestSessions_CreateAndList(t *testing.T) {
	ts := newTestServer(t)

	recorder := ts.do(t, http.MethodPost, "/v1/sessions",
		map[string]string{"user_id": "u1", "name": "research"}, testSecret)
	require.Equal(t, http.StatusCreated, recorder.Code)

	var created sessionView
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &created))
	assert.Equal(t, "research", created.Name)
	assert.True(t, created.IsCurrent)

	recorder = ts.do(t, http.MethodGet, "/v1/sessions?user_id=u1", nil, testSecret)
	require.Equal(t, http.StatusOK, recorder.Code)

	var list struct {
		Sessions []sessionView `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &list))
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, created.ID, list.Sessions[0].ID)
}

func TestSessions_SwitchCurrent(t *testing.T) {
	ts := newTestServer(t)
	first, err := ts.store.CreateSession("u1", "first")
	require.NoError(t, err)
	_, err = ts.store.CreateSession("u1", "second")
	require.NoError(t, err)

	recorder := ts.do(t, http.MethodPost, "/v1/sessions/current",
		map[string]string{"user_id": "u1", "session_id": first.ID}, testSecret)
	require.Equal(t, http.StatusOK, recorder.Code)

	current, ok, err := ts.store.GetCurrentSession("u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first.ID, current.ID)
}

func TestSessions_SwitchUnknownIsNotFound(t *testing.T) {
	ts := newTestServer(t)

	recorder := ts.do(t, http.MethodPost, "/v1/sessions/current",
		map[string]string{"user_id": "u1", "session_id": "nope"}, testSecret)
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestSettings_GetAndPatch(t *testing.T) {
	ts := newTestServer(t)

	recorder := ts.do(t, http.MethodGet, "/v1/settings?user_id=u1", nil, testSecret)
	require.Equal(t, http.StatusOK, recorder.Code)

	var settings settingsView
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &settings))
	assert.Equal(t, state.ModeGoAll, settings.Mode)
	assert.Equal(t, 1.1, settings.VoiceSpeed)

	recorder = ts.do(t, http.MethodPatch, "/v1/settings",
		map[string]interface{}{"user_id": "u1", "mode": state.ModeApprove, "voice_speed": 0.8}, testSecret)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &settings))
	assert.Equal(t, state.ModeApprove, settings.Mode)
	assert.Equal(t, 0.8, settings.VoiceSpeed)
}

func TestSettings_PatchRejectsOutOfRangeSpeed(t *testing.T) {
	ts := newTestServer(t)

	recorder := ts.do(t, http.MethodPatch, "/v1/settings",
		map[string]interface{}{"user_id": "u1", "voice_speed": 2.0}, testSecret)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "voice_speed")
}
