package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestBuildRouter(t *testing.T) {
	a, err := newApp(&rootOptions{configPath: testConfig(t), format: "text"})
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	defer a.Close()
	a.metrics.SetUp("docs", "memory", true)

	srv := httptest.NewServer(a.buildRouter())
	defer srv.Close()

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantBody   string
	}{
		{"metrics", a.cfg.Metrics.Path, http.StatusOK, `vdba_connection_up{connection="docs",driver="memory"} 1`},
		{"go runtime metrics", a.cfg.Metrics.Path, http.StatusOK, "go_goroutines"},
		{"unknown path", "/nope", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, srv.URL+tt.path, nil)
			req.Header.Set("X-Request-Id", "test-request")
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("GET %s error = %v", tt.path, err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			body, _ := io.ReadAll(resp.Body)
			if !strings.Contains(string(body), tt.wantBody) {
				t.Errorf("body does not contain %q", tt.wantBody)
			}
		})
	}
}
