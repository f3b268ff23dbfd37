package nodes

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/veka-server/ClaraVerse-sub006/services/flow"
)

const (
	inputPlaceholder = "{{input}}"
	noEndpoint       = "No API endpoint specified"
	maxResponseBytes = 4 << 20
)

// apiCallOutput is the JSON document an API call node produces.
type apiCallOutput struct {
	Input  string `json:"input"`
	Output any    `json:"output"`
}

// APICallExecutor handles the "apiCall" node type. The upstream text
// replaces {{input}} in the endpoint, query parameters and request body.
type APICallExecutor struct {
	client *http.Client
}

func (e *APICallExecutor) Execute(ctx context.Context, ec *flow.ExecContext) flow.Result {
	input := primaryText(ec)
	cfg := ec.Config()

	endpoint := strings.TrimSpace(ec.ConfigString("endpoint"))
	if endpoint == "" {
		endpoint = strings.TrimSpace(ec.ConfigString("url"))
	}
	if endpoint == "" {
		return encodeAPICall(input, noEndpoint, false)
	}

	req, err := buildAPIRequest(ctx, cfg, endpoint, input)
	if err != nil {
		return encodeAPICall(input, flow.ErrorPrefix+err.Error(), true)
	}

	ec.Logger.Debug("Calling API", "method", req.Method, "url", req.URL.Redacted())
	resp, err := e.client.Do(req)
	if err != nil {
		return encodeAPICall(input, flow.ErrorPrefix+err.Error(), true)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return encodeAPICall(input, flow.ErrorPrefix+"reading response: "+err.Error(), true)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return encodeAPICall(input, fmt.Sprintf("%sHTTP %d: %s", flow.ErrorPrefix, resp.StatusCode, strings.TrimSpace(string(body))), true)
	}

	var parsed any
	if err := sonic.Unmarshal(body, &parsed); err != nil {
		return encodeAPICall(input, string(body), false)
	}
	return encodeAPICall(input, parsed, false)
}

func buildAPIRequest(ctx context.Context, cfg map[string]any, endpoint, input string) (*http.Request, error) {
	method := strings.ToUpper(strings.TrimSpace(stringValue(cfg["method"])))
	if method == "" {
		method = http.MethodGet
	}

	u, err := url.Parse(substituteEndpoint(endpoint, input))
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	if params, ok := cfg["queryParams"].(map[string]any); ok && len(params) > 0 {
		q := u.Query()
		for k, v := range params {
			q.Set(k, strings.ReplaceAll(stringValue(v), inputPlaceholder, input))
		}
		u.RawQuery = q.Encode()
	}

	var body io.Reader
	if raw := stringValue(cfg["body"]); raw != "" && method != http.MethodGet {
		body = strings.NewReader(strings.ReplaceAll(raw, inputPlaceholder, jsonEscape(input)))
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if headers, ok := cfg["headers"].(map[string]any); ok {
		for k, v := range headers {
			req.Header.Set(k, stringValue(v))
		}
	}
	return req, nil
}

func encodeAPICall(input string, output any, failed bool) flow.Result {
	s, err := sonic.MarshalString(apiCallOutput{Input: input, Output: output})
	if err != nil {
		return flow.Errorf("encoding API result: %v", err)
	}
	return flow.Result{Value: s, Failed: failed}
}

// jsonEscape escapes s for embedding inside a JSON string literal.
func jsonEscape(s string) string {
	b, err := sonic.MarshalString(s)
	if err != nil {
		return s
	}
	return b[1 : len(b)-1]
}

func stringValue(v any) string {
	if v == nil {
		return ""
	}
	return flow.Stringify(v)
}

// substituteEndpoint fills {{input}} into endpoint, path-escaped before the
// query string and query-escaped after it.
func substituteEndpoint(endpoint, input string) string {
	path, query, hasQuery := strings.Cut(endpoint, "?")
	path = strings.ReplaceAll(path, inputPlaceholder, url.PathEscape(input))
	if !hasQuery {
		return path
	}
	return path + "?" + strings.ReplaceAll(query, inputPlaceholder, url.QueryEscape(input))
}
