package egress

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"forgebench/engine/internal/llm"
)

type okTransport struct{ calls int }

func (t *okTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.calls++
	return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody, Request: req}, nil
}

func TestAllowlistRoundTripper(t *testing.T) {
	base := &okTransport{}
	rt := NewAllowlistRoundTripper(base, []string{"OpenRouter.ai"})

	cases := []struct {
		url     string
		allowed bool
	}{
		{"https://openrouter.ai/api/v1/chat/completions", true},
		{"http://openrouter.ai/api/v1/chat/completions", false},
		{"https://evil.example.com/", false},
		{"https://104.18.2.1/", false},
		{"http://127.0.0.1:8080/v1", false},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, tc.url, nil)
		_, err := rt.RoundTrip(req)
		if tc.allowed && err != nil {
			t.Fatalf("%s: expected allowed, got %v", tc.url, err)
		}
		if !tc.allowed && !errors.Is(err, llm.ErrEgressBlocked) {
			t.Fatalf("%s: expected blocked, got %v", tc.url, err)
		}
	}
	if base.calls != 1 {
		t.Fatalf("expected one forwarded request, got %d", base.calls)
	}
}

func TestAllowLoopback(t *testing.T) {
	base := &okTransport{}
	rt := NewAllowlistRoundTripper(base, nil)
	rt.AllowLoopback = true
	for _, raw := range []string{"http://127.0.0.1:8080/v1", "http://localhost:11434/v1", "http://[::1]:9000/"} {
		req := httptest.NewRequest(http.MethodGet, raw, nil)
		if _, err := rt.RoundTrip(req); err != nil {
			t.Fatalf("%s: expected loopback allowed, got %v", raw, err)
		}
	}
	req := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
	if _, err := rt.RoundTrip(req); !errors.Is(err, llm.ErrEgressBlocked) {
		t.Fatalf("expected non-loopback http blocked, got %v", err)
	}
}
