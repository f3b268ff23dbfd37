package nodes

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veka-server/ClaraVerse-sub006/services/flow"
)

func decodeAPICall(t *testing.T, v any) map[string]any {
	t.Helper()
	s, ok := v.(string)
	require.True(t, ok, "apiCall output is a JSON string")
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(s), &out))
	return out
}

func TestAPICallExecutor_NoEndpoint(t *testing.T) {
	exec := &APICallExecutor{client: &http.Client{Transport: failingTransport{t}}}

	res := exec.Execute(context.Background(), newExec(TypeAPICall, map[string]any{}, flow.Inputs{"default": "query text"}))

	assert.False(t, res.Failed)
	assert.Equal(t, map[string]any{"input": "query text", "output": noEndpoint}, decodeAPICall(t, res.Value))
}

func TestAPICallExecutor_GetSubstitutesInput(t *testing.T) {
	var gotPath, gotQuery, gotHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("q")
		gotHeader = r.Header.Get("X-Token")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"answer":42}`))
	}))
	defer server.Close()

	exec := &APICallExecutor{client: server.Client()}
	cfg := map[string]any{
		"endpoint":    server.URL + "/search/{{input}}",
		"queryParams": map[string]any{"q": "{{input}}"},
		"headers":     map[string]any{"X-Token": "secret"},
	}

	res := exec.Execute(context.Background(), newExec(TypeAPICall, cfg, flow.Inputs{"text-in": "go"}))

	assert.False(t, res.Failed)
	assert.Equal(t, "/search/go", gotPath)
	assert.Equal(t, "go", gotQuery)
	assert.Equal(t, "secret", gotHeader)
	out := decodeAPICall(t, res.Value)
	assert.Equal(t, "go", out["input"])
	assert.Equal(t, map[string]any{"answer": float64(42)}, out["output"])
}

func TestSubstituteEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		input    string
		want     string
	}{
		{"path segment", "https://api.test/city/{{input}}", "new york", "https://api.test/city/new%20york"},
		{"slash stays in segment", "https://api.test/files/{{input}}", "a/b", "https://api.test/files/a%2Fb"},
		{"query", "https://api.test/search?q={{input}}", "new york", "https://api.test/search?q=new+york"},
		{"both", "https://api.test/{{input}}?q={{input}}", "a b", "https://api.test/a%20b?q=a+b"},
		{"no placeholder", "https://api.test/ping", "x", "https://api.test/ping"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, substituteEndpoint(tt.endpoint, tt.input))
		})
	}
}

func TestAPICallExecutor_PathInputWithSpaces(t *testing.T) {
	var gotPath, gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("q")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	exec := &APICallExecutor{client: server.Client()}
	cfg := map[string]any{"endpoint": server.URL + "/city/{{input}}?q={{input}}"}

	res := exec.Execute(context.Background(), newExec(TypeAPICall, cfg, flow.Inputs{"text-in": "new york"}))

	assert.False(t, res.Failed)
	assert.Equal(t, "/city/new york", gotPath)
	assert.Equal(t, "new york", gotQuery)
}

func TestAPICallExecutor_PostBody(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		_, _ = w.Write([]byte("plain text reply"))
	}))
	defer server.Close()

	exec := &APICallExecutor{client: server.Client()}
	cfg := map[string]any{
		"endpoint": server.URL,
		"method":   "post",
		"body":     `{"prompt":"{{input}}"}`,
	}

	res := exec.Execute(context.Background(), newExec(TypeAPICall, cfg, flow.Inputs{"default": `say "hi"`}))

	assert.False(t, res.Failed)
	assert.Equal(t, map[string]any{"prompt": `say "hi"`}, gotBody)
	assert.Equal(t, "plain text reply", decodeAPICall(t, res.Value)["output"])
}

func TestAPICallExecutor_HTTPErrorIsData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer server.Close()

	exec := &APICallExecutor{client: server.Client()}

	res := exec.Execute(context.Background(), newExec(TypeAPICall, map[string]any{"url": server.URL}, flow.Inputs{"default": "x"}))

	assert.True(t, res.Failed)
	out := decodeAPICall(t, res.Value)
	assert.Equal(t, "x", out["input"])
	assert.Contains(t, out["output"], "Error: HTTP 502")
}
