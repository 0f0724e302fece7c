package fraud

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

func newFraudRouter(t *testing.T) (*gin.Engine, *Detector) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	d := newDetector(NewMemoryStore(0))
	r := gin.New()
	NewHandler(d).RegisterRoutes(r.Group("/v1"))
	return r, d
}

func send(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_BlockedDevices(t *testing.T) {
	r, d := newFraudRouter(t)

	if w := send(r, http.MethodPost, "/v1/fraud/blocked-devices", `{"deviceId":"dev-9"}`); w.Code != http.StatusCreated {
		t.Fatalf("block = %d: %s", w.Code, w.Body)
	}
	if w := send(r, http.MethodPost, "/v1/fraud/blocked-devices", `{"deviceId":"dev 9"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("invalid id = %d", w.Code)
	}

	w := send(r, http.MethodGet, "/v1/fraud/blocked-devices", "")
	var got struct {
		Devices []string `json:"devices"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil || len(got.Devices) != 1 || got.Devices[0] != "dev-9" {
		t.Fatalf("list = %s", w.Body)
	}

	set, _ := d.BlockedDevices(context.Background())
	if !set.Has("dev-9") {
		t.Fatal("device not blocked in detector")
	}

	if w := send(r, http.MethodDelete, "/v1/fraud/blocked-devices/dev-9", ""); w.Code != http.StatusOK {
		t.Fatalf("unblock = %d", w.Code)
	}
	set, _ = d.BlockedDevices(context.Background())
	if set.Has("dev-9") {
		t.Fatal("device still blocked")
	}
}

func TestHandler_Config(t *testing.T) {
	r, d := newFraudRouter(t)

	cfg := DefaultConfig()
	cfg.StepUpThreshold = 50
	body, _ := json.Marshal(cfg)
	if w := send(r, http.MethodPut, "/v1/fraud/config", string(body)); w.Code != http.StatusOK {
		t.Fatalf("update = %d: %s", w.Code, w.Body)
	}
	if got := d.Config(context.Background()); got.StepUpThreshold != 50 {
		t.Fatalf("step-up = %v, want 50", got.StepUpThreshold)
	}

	cfg.StepUpThreshold = 95
	body, _ = json.Marshal(cfg)
	w := send(r, http.MethodPut, "/v1/fraud/config", string(body))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid thresholds = %d", w.Code)
	}
}

func TestHandler_HistoryNewestFirst(t *testing.T) {
	r, d := newFraudRouter(t)
	ctx := context.Background()
	for _, id := range []string{"txn_1", "txn_2", "txn_3"} {
		if _, err := d.Analyze(ctx, Request{TransactionID: id, Amount: decimal.NewFromInt(5)}); err != nil {
			t.Fatal(err)
		}
	}

	w := send(r, http.MethodGet, "/v1/fraud/history?limit=2", "")
	var got struct {
		Attempts []Attempt `json:"attempts"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got.Attempts) != 2 || got.Attempts[0].TransactionID != "txn_3" || got.Attempts[1].TransactionID != "txn_2" {
		t.Fatalf("history = %+v", got.Attempts)
	}
}
