package nodes

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/slongfield/pyfmt"

	"github.com/veka-server/ClaraVerse-sub006/pkg/modelclient"
	"github.com/veka-server/ClaraVerse-sub006/services/flow"
)

// DefaultRAGTemplate is used when a RAG node has no template of its own.
const DefaultRAGTemplate = "Use the following context to answer the question:\n\n{context}\n\nQuestion: {question}"

type ragRequest struct {
	Query      string `json:"query"`
	Collection string `json:"collection_name,omitempty"`
	K          int    `json:"k"`
}

type ragDocument struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type ragResponse struct {
	Results []ragDocument `json:"results"`
}

// RAGQueryExecutor handles the "ragQuery" node type. It retrieves documents
// for the input question and renders them into the context template. With
// config.answer set, the rendered prompt is sent to the configured model and
// the answer is returned instead.
type RAGQueryExecutor struct {
	client *http.Client
}

func (e *RAGQueryExecutor) Execute(ctx context.Context, ec *flow.ExecContext) flow.Result {
	question := primaryText(ec)
	if question == "" {
		return flow.Errorf("no query provided")
	}

	api := ec.API.Merge(ec.Node.Config)
	if api.RAGURL == "" {
		return flow.Errorf("no RAG endpoint configured")
	}

	req := ragRequest{
		Query:      question,
		Collection: ec.ConfigString("collection"),
		K:          configInt(ec.Node.Config, "k", 4),
	}
	var resp ragResponse
	if err := postJSON(ctx, e.client, strings.TrimRight(api.RAGURL, "/")+"/query", req, &resp); err != nil {
		ec.Logger.Error("RAG query failed", "error", err)
		return flow.Errorf("RAG query failed: %v", err)
	}

	docs := make([]string, 0, len(resp.Results))
	for _, d := range resp.Results {
		docs = append(docs, d.Content)
	}

	tpl := ec.ConfigString("template")
	if tpl == "" {
		tpl = DefaultRAGTemplate
	}
	prompt, err := pyfmt.Fmt(tpl, map[string]any{
		"context":  strings.Join(docs, "\n\n"),
		"question": question,
	})
	if err != nil {
		return flow.Errorf("rendering template: %v", err)
	}

	if !configBool(ec.Node.Config, "answer") {
		return flow.Ok(prompt).WithPort("documents", len(docs))
	}

	client, cfg, err := ec.ModelClient()
	if err != nil {
		return flow.Errorf("%v", err)
	}
	if cfg.Model == "" {
		return flow.Errorf("no model selected")
	}
	msgs := []modelclient.Message{
		{Role: "system", Content: prompt},
		{Role: "user", Content: question},
	}
	chat, err := client.SendChat(ctx, cfg.Model, msgs, chatOptions(ec.Node.Config))
	if err != nil {
		return flow.Errorf("%v", err)
	}
	return flow.Ok(chat.Message.Content).WithPort("prompt", prompt)
}

// postJSON sends in as JSON and decodes a 2xx JSON reply into out.
func postJSON(ctx context.Context, client *http.Client, url string, in, out any) error {
	body, err := sonic.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes*16))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if err := sonic.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
