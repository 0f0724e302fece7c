package session

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/tiptap/internal/authn"
	"github.com/mbd888/tiptap/internal/logging"
)

func newSessionRouter(t *testing.T) (*gin.Engine, *Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := newStore()
	pins := authn.NewPINAuthenticator(store, "pw", "dev-1", authn.DefaultPINConfig(), logging.Discard())
	require.NoError(t, pins.Setup(context.Background(), "482915", "482915"))
	gate := authn.NewGate(nil, nil, pins, logging.Discard())

	m, _ := newManager(t, longConfig(), store, gate)
	r := gin.New()
	NewHandler(m, gate).RegisterRoutes(r.Group("/v1"))
	return r, m
}

func do(r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeSession(t *testing.T, w *httptest.ResponseRecorder) Session {
	t.Helper()
	var body struct {
		Session Session `json:"session"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Session
}

func TestHandler_Lifecycle(t *testing.T) {
	r, _ := newSessionRouter(t)

	w := do(r, http.MethodGet, "/v1/sessions/current", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodPost, "/v1/sessions", StartRequest{UserID: "user_1"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	s := decodeSession(t, w)
	assert.Equal(t, "user_1", s.UserID)
	assert.Equal(t, StateActive, s.State)

	w = do(r, http.MethodPost, "/v1/sessions/activity", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodPost, "/v1/sessions/lock", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, StateLocked, decodeSession(t, w).State)

	w = do(r, http.MethodPost, "/v1/sessions/activity", nil)
	assert.Equal(t, http.StatusConflict, w.Code, "activity on a locked session")

	w = do(r, http.MethodDelete, "/v1/sessions/current", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, StateEnded, decodeSession(t, w).State)
}

func TestHandler_Unlock(t *testing.T) {
	r, m := newSessionRouter(t)
	_, err := m.Start(context.Background(), "user_1")
	require.NoError(t, err)
	require.NoError(t, m.Lock(context.Background()))

	w := do(r, http.MethodPost, "/v1/sessions/unlock", authn.Credentials{PIN: "000000"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	s, _ := m.Current()
	assert.Equal(t, StateLocked, s.State)

	cancel := "UserCancel"
	w = do(r, http.MethodPost, "/v1/sessions/unlock", authn.Credentials{BiometricAvailable: true, NativeErrorCode: &cancel})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), `"reason":"cancelled"`)

	w = do(r, http.MethodPost, "/v1/sessions/unlock", authn.Credentials{
		BiometricAvailable: true,
		BiometricType:      authn.BiometricFaceID,
		BiometricOutcome:   authn.BiometricSuccess,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, StateActive, decodeSession(t, w).State)
}

func TestHandler_BackgroundForeground(t *testing.T) {
	r, m := newSessionRouter(t)

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodPost, "/v1/sessions/background", nil).Code)

	_, err := m.Start(context.Background(), "user_1")
	require.NoError(t, err)

	w := do(r, http.MethodPost, "/v1/sessions/background", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotNil(t, decodeSession(t, w).BackgroundedAt)

	w = do(r, http.MethodPost, "/v1/sessions/foreground", nil)
	require.Equal(t, http.StatusOK, w.Code)
	s := decodeSession(t, w)
	assert.Nil(t, s.BackgroundedAt)
	assert.Equal(t, StateActive, s.State)
}

func TestHandler_StartValidation(t *testing.T) {
	r, _ := newSessionRouter(t)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/v1/sessions", map[string]string{}).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/v1/sessions", StartRequest{UserID: "bad user"}).Code)
}
