package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// TestNewClient_SetsTimeoutAndTransport はタイムアウトとsafeurlのTransportが設定されることを検証する。
func TestNewClient_SetsTimeoutAndTransport(t *testing.T) {
	client := NewWebhookGuard().NewClient(5 * time.Second)

	if client.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", client.Timeout)
	}
	if client.Transport == nil || client.Transport == http.DefaultTransport {
		t.Error("expected custom Transport")
	}
}

// TestNewClient_BlocksLoopback はhttptestサーバー（127.0.0.1）への送信がブロックされることを検証する。
func TestNewClient_BlocksLoopback(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := NewWebhookGuard().NewClient(5 * time.Second)
	if _, err := client.Post(ts.URL, "application/json", nil); err == nil {
		t.Fatal("expected error for loopback address request, got nil")
	}
}

func TestValidateURL(t *testing.T) {
	g := NewWebhookGuard()

	tests := []struct {
		url     string
		wantErr bool
	}{
		{"https://hooks.example.com/unstabling", false},
		{"http://notify.example.org/in", false},
		{"", true},
		{"ftp://example.com/hook", true},
		{"file:///etc/passwd", true},
		{"https:///nohost", true},
		{"http://localhost:8080/hook", true},
		{"http://127.0.0.1/hook", true},
		{"http://10.1.2.3/hook", true},
		{"http://192.168.0.10/hook", true},
		{"http://169.254.169.254/latest/meta-data/", true},
		{"http://[::1]/hook", true},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			err := g.ValidateURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}
