package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORSMiddleware(t *testing.T) {
	configured := []string{"https://library.example.edu", "https://*.preview.example.edu", "https://staging-*"}

	tests := []struct {
		name        string
		allowed     []string
		method      string
		origin      string
		wantStatus  int
		wantNext    bool
		wantAllowed string
	}{
		{
			name:        "configured_origin",
			allowed:     configured,
			method:      http.MethodPost,
			origin:      "https://library.example.edu",
			wantStatus:  http.StatusOK,
			wantNext:    true,
			wantAllowed: "https://library.example.edu",
		},
		{
			name:        "wildcard_suffix",
			allowed:     configured,
			method:      http.MethodGet,
			origin:      "https://staging-42.example.edu",
			wantStatus:  http.StatusOK,
			wantNext:    true,
			wantAllowed: "https://staging-42.example.edu",
		},
		{
			name:        "loopback_without_config",
			method:      http.MethodPost,
			origin:      "http://localhost:5173",
			wantStatus:  http.StatusOK,
			wantNext:    true,
			wantAllowed: "http://localhost:5173",
		},
		{
			name:        "loopback_ipv6",
			allowed:     configured,
			method:      http.MethodGet,
			origin:      "http://[::1]:3000",
			wantStatus:  http.StatusOK,
			wantNext:    true,
			wantAllowed: "http://[::1]:3000",
		},
		{
			name:       "unlisted_origin",
			allowed:    configured,
			method:     http.MethodPost,
			origin:     "https://library.example.edu.attacker.io",
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "scheme_mismatch",
			allowed:    configured,
			method:     http.MethodPost,
			origin:     "http://library.example.edu",
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "unlisted_preflight",
			allowed:    configured,
			method:     http.MethodOptions,
			origin:     "https://elsewhere.example.com",
			wantStatus: http.StatusForbidden,
		},
		{
			name:        "preflight",
			allowed:     configured,
			method:      http.MethodOptions,
			origin:      "https://library.example.edu",
			wantStatus:  http.StatusNoContent,
			wantAllowed: "https://library.example.edu",
		},
		{
			name:       "no_origin_passes_through",
			allowed:    configured,
			method:     http.MethodPost,
			wantStatus: http.StatusOK,
			wantNext:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := corsMiddleware(tt.allowed)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(tt.method, "/auth/register", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rr := httptest.NewRecorder()

			handler.ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d, body=%q", rr.Code, tt.wantStatus, rr.Body.String())
			}
			if called != tt.wantNext {
				t.Fatalf("next called = %v, want %v", called, tt.wantNext)
			}
			if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllowed {
				t.Fatalf("Access-Control-Allow-Origin = %q, want %q", got, tt.wantAllowed)
			}

			if tt.wantStatus != http.StatusForbidden {
				return
			}
			var resp ErrorResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
				t.Fatalf("json.Unmarshal() error = %v, body=%q", err, rr.Body.String())
			}
			if resp.Success || resp.Code != ErrCodeInvalidRequest || resp.Error.Code != ErrCodeInvalidRequest {
				t.Fatalf("error response = %+v, want %s", resp, ErrCodeInvalidRequest)
			}
			if resp.Message != "Origin not allowed" {
				t.Fatalf("message = %q, want %q", resp.Message, "Origin not allowed")
			}
		})
	}
}
