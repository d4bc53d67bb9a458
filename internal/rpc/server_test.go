package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"forgebench/engine/internal/errinfo"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) lines(t *testing.T) []Response {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Response
	for _, line := range strings.Split(strings.TrimSpace(b.buf.String()), "\n") {
		if line == "" {
			continue
		}
		var resp Response
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			t.Fatalf("unmarshal %q: %v", line, err)
		}
		out = append(out, resp)
	}
	return out
}

func serve(t *testing.T, input string, register func(*Server)) []Response {
	t.Helper()
	var output syncBuffer
	server := NewServer("1", strings.NewReader(input), &output, nil)
	register(server)
	if err := server.Serve(context.Background()); err != nil {
		t.Fatalf("serve: %v", err)
	}
	return output.lines(t)
}

func TestServerHandlesRequest(t *testing.T) {
	input := "{\"jsonrpc\":\"2.0\",\"id\":1,\"method\":\"Ping\",\"api_version\":\"1\"}\n"
	responses := serve(t, input, func(s *Server) {
		s.Register("Ping", func(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
			return map[string]any{"pong": true}, nil
		})
	})
	if len(responses) != 1 {
		t.Fatalf("expected one response, got %d", len(responses))
	}
	if responses[0].Error != nil {
		t.Fatalf("unexpected error: %v", responses[0].Error)
	}
	result := responses[0].Result.(map[string]any)
	if result["pong"] != true {
		t.Fatalf("expected pong true")
	}
}

func TestServerErrors(t *testing.T) {
	input := strings.Join([]string{
		`not json`,
		`{"jsonrpc":"1.0","id":1,"method":"Ping"}`,
		`{"jsonrpc":"2.0","id":2,"method":"Ping","api_version":"9"}`,
		`{"jsonrpc":"2.0","id":3,"method":"Nope"}`,
		`{"jsonrpc":"2.0","id":4,"method":"Fail"}`,
	}, "\n") + "\n"
	responses := serve(t, input, func(s *Server) {
		s.Register("Ping", func(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
			return "pong", nil
		})
		s.Register("Fail", func(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
			return nil, errinfo.WorkspaceBusy(errinfo.PhaseWorkspace)
		})
	})
	if len(responses) != 5 {
		t.Fatalf("expected 5 responses, got %d", len(responses))
	}
	codes := map[int]int{}
	for _, resp := range responses {
		if resp.Error == nil {
			t.Fatalf("expected error response, got %+v", resp)
		}
		codes[resp.Error.Code]++
	}
	if codes[CodeParseError] != 1 || codes[CodeInvalidRequest] != 2 || codes[CodeMethodNotFound] != 1 || codes[CodeApplication] != 1 {
		t.Fatalf("unexpected error codes %v", codes)
	}
	for _, resp := range responses {
		if resp.Error.Code != CodeApplication {
			continue
		}
		data := resp.Error.Data.(map[string]any)
		if data["error_code"] != errinfo.CodeWorkspaceBusy {
			t.Fatalf("expected error info payload, got %v", data)
		}
	}
}

func TestServerNotificationsHaveNoResponse(t *testing.T) {
	called := make(chan struct{}, 1)
	responses := serve(t, "{\"jsonrpc\":\"2.0\",\"method\":\"Ping\"}\n", func(s *Server) {
		s.Register("Ping", func(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
			called <- struct{}{}
			return "pong", nil
		})
	})
	if len(responses) != 0 {
		t.Fatalf("expected no responses, got %d", len(responses))
	}
	select {
	case <-called:
	default:
		t.Fatalf("expected handler to run before Serve returned")
	}
}
