package authn

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func newPINRouter(t *testing.T) (*gin.Engine, *PINAuthenticator) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	pins, _ := newPINs(t, memStore())
	r := gin.New()
	NewHandler(pins).RegisterRoutes(r.Group("/v1"))
	return r, pins
}

func call(r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
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

func TestHandler_PINLifecycle(t *testing.T) {
	r, pins := newPINRouter(t)

	w := call(r, http.MethodPost, "/v1/pin", map[string]string{"pin": "482915", "confirmPin": "482915"})
	if w.Code != http.StatusCreated {
		t.Fatalf("setup = %d: %s", w.Code, w.Body)
	}

	w = call(r, http.MethodGet, "/v1/pin", nil)
	var st PINStatus
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil || !st.Set || st.AttemptsRemaining != DefaultPINMaxAttempts {
		t.Fatalf("status = %s (%v)", w.Body, err)
	}

	w = call(r, http.MethodPut, "/v1/pin", map[string]string{"currentPin": "000000", "pin": "592016", "confirmPin": "592016"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("change with wrong PIN = %d", w.Code)
	}

	w = call(r, http.MethodPut, "/v1/pin", map[string]string{"currentPin": "482915", "pin": "592016", "confirmPin": "592016"})
	if w.Code != http.StatusOK {
		t.Fatalf("change = %d: %s", w.Code, w.Body)
	}
	if res, _ := pins.Validate(context.Background(), "592016"); !res.Valid {
		t.Fatal("new PIN not accepted")
	}

	w = call(r, http.MethodDelete, "/v1/pin", map[string]string{"currentPin": "592016"})
	if w.Code != http.StatusOK {
		t.Fatalf("remove = %d: %s", w.Code, w.Body)
	}
	if set, _ := pins.IsSet(context.Background()); set {
		t.Fatal("PIN still set after remove")
	}
}

func TestHandler_SetupRejectsBadInput(t *testing.T) {
	r, _ := newPINRouter(t)

	tests := []struct {
		name string
		body any
		code int
	}{
		{"mismatch", map[string]string{"pin": "482915", "confirmPin": "482916"}, http.StatusBadRequest},
		{"trivial", map[string]string{"pin": "123456", "confirmPin": "123456"}, http.StatusBadRequest},
		{"missing confirm", map[string]string{"pin": "482915"}, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if w := call(r, http.MethodPost, "/v1/pin", tc.body); w.Code != tc.code {
				t.Fatalf("code = %d, want %d", w.Code, tc.code)
			}
		})
	}
}

func TestHandler_RemoveWithoutPIN(t *testing.T) {
	r, _ := newPINRouter(t)
	if w := call(r, http.MethodDelete, "/v1/pin", map[string]string{"currentPin": "482915"}); w.Code != http.StatusNotFound {
		t.Fatalf("code = %d, want 404", w.Code)
	}
}

func TestCredentials_Challenger(t *testing.T) {
	userCancel := "UserCancel"
	unknown := "SomethingNew"

	tests := []struct {
		name   string
		creds  *Credentials
		passed bool
		method Method
	}{
		{"biometric success", &Credentials{BiometricAvailable: true, BiometricType: BiometricFaceID, BiometricOutcome: BiometricSuccess}, true, MethodBiometric},
		{"native cancel ends challenge", &Credentials{BiometricAvailable: true, NativeErrorCode: &userCancel, PIN: "482915"}, false, MethodBiometric},
		{"unknown native code falls back to PIN", &Credentials{BiometricAvailable: true, NativeErrorCode: &unknown, PIN: "482915"}, true, MethodPIN},
		{"no sensor uses PIN", &Credentials{PIN: "482915"}, true, MethodPIN},
		{"no sensor wrong PIN", &Credentials{PIN: "000000"}, false, MethodPIN},
		{"nil credentials", nil, false, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			g := newGate(t, nil, nil)
			res := tc.creds.Challenger(g).Challenge(context.Background(), ReasonUnlock)
			if res.Passed != tc.passed {
				t.Fatalf("passed = %v, want %v (%+v)", res.Passed, tc.passed, res)
			}
			if tc.method != "" && res.Method != tc.method {
				t.Fatalf("method = %s, want %s", res.Method, tc.method)
			}
		})
	}
}
