package cli

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mmynk/payables/internal/config"
	"github.com/mmynk/payables/internal/dispatch"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil) })

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !strings.HasPrefix(out.String(), "payables dev") {
		t.Errorf("output = %q", out.String())
	}
}

func TestNewSender(t *testing.T) {
	if _, ok := newSender(config.DispatchConfig{}).(dispatch.LogSender); !ok {
		t.Error("expected LogSender without a webhook")
	}
	if _, ok := newSender(config.DispatchConfig{WebhookURL: "http://localhost:9/hook"}).(*dispatch.WebhookSender); !ok {
		t.Error("expected WebhookSender with a webhook")
	}
}

func TestCORSMiddleware(t *testing.T) {
	called := false
	h := corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/v1/cost-items", nil))
	if rec.Code != http.StatusOK || called {
		t.Errorf("preflight: status %d, called %v", rec.Code, called)
	}
	if !strings.Contains(rec.Header().Get("Access-Control-Allow-Headers"), "Authorization") {
		t.Errorf("allow headers = %q", rec.Header().Get("Access-Control-Allow-Headers"))
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if !called {
		t.Error("GET was not passed through")
	}
}
