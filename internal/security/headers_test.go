package security

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func serve(mw gin.HandlerFunc, method, origin string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(mw)
	router.GET("/test", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	req := httptest.NewRequest(method, "/test", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHeadersMiddleware(t *testing.T) {
	w := serve(HeadersMiddleware(), http.MethodGet, "")

	headers := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "no-referrer",
		"Cache-Control":          "no-store",
	}
	for header, expected := range headers {
		if got := w.Header().Get(header); got != expected {
			t.Errorf("%s = %q, want %q", header, got, expected)
		}
	}
	if csp := w.Header().Get("Content-Security-Policy"); csp == "" {
		t.Error("Content-Security-Policy header not set")
	}
}

func TestHSTSMiddleware(t *testing.T) {
	w := serve(HSTSMiddleware(), http.MethodGet, "")
	if w.Header().Get("Strict-Transport-Security") == "" {
		t.Fatal("Strict-Transport-Security not set")
	}
}

func TestCORSMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		allowedOrigins []string
		requestOrigin  string
		expectHeader   bool
		expectCreds    bool
	}{
		{"allowed origin", []string{"https://merchant.example"}, "https://merchant.example", true, true},
		{"wildcard allows all", []string{"*"}, "https://anything.example", true, false},
		{"empty list allows all", nil, "https://anything.example", true, false},
		{"disallowed origin", []string{"https://merchant.example"}, "https://evil.example", false, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := serve(CORSMiddleware(tc.allowedOrigins), http.MethodGet, tc.requestOrigin)

			hasHeader := w.Header().Get("Access-Control-Allow-Origin") != ""
			if hasHeader != tc.expectHeader {
				t.Errorf("CORS header present = %v, want %v", hasHeader, tc.expectHeader)
			}
			hasCreds := w.Header().Get("Access-Control-Allow-Credentials") == "true"
			if hasCreds != tc.expectCreds {
				t.Errorf("credentials = %v, want %v", hasCreds, tc.expectCreds)
			}
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	w := serve(CORSMiddleware([]string{"*"}), http.MethodOptions, "https://merchant.example")

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if methods := w.Header().Get("Access-Control-Allow-Methods"); methods == "" {
		t.Error("Access-Control-Allow-Methods not set")
	}
}
