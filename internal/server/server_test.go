package server

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/nodeflow/internal/engine"
	"github.com/rendis/nodeflow/internal/expressions"
	"github.com/rendis/nodeflow/internal/nodes"
	"github.com/rendis/nodeflow/internal/secrets"
	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/internal/streaming"
	"github.com/rendis/nodeflow/internal/validation"
	"github.com/rendis/nodeflow/internal/xjson"
	"github.com/rendis/nodeflow/pkg/schema"
)

const sumWorkflow = `{
  "id": "sum",
  "name": "Sum",
  "nodes": [
    {"id": "start", "type": "start", "data": {"inputVariables": [
      {"name": "x", "type": "number", "defaultValue": 10},
      {"name": "y", "type": "number", "defaultValue": 20}
    ]}},
    {"id": "calc", "type": "transform", "data": {"outputType": "expressions",
      "assignments": [{"variable": "sum", "expression": "x + y"}]}},
    {"id": "end", "type": "end", "data": {"name": "End"}}
  ],
  "edges": [
    {"id": "e1", "source": "start", "target": "calc"},
    {"id": "e2", "source": "calc", "target": "end"}
  ]
}`

type testEnv struct {
	srv   *httptest.Server
	store *store.MemoryStore
	vault secrets.Vault
	hub   *streaming.MemoryHub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := store.NewMemoryStore()
	vault, err := secrets.NewAESVault(st, secrets.VaultConfig{Passphrase: "test-passphrase", Salt: []byte("nodeflow-test-salt"), Iterations: 1000})
	require.NoError(t, err)
	ev, err := expressions.NewEvaluator()
	require.NoError(t, err)
	wv, err := validation.NewWorkflowValidator(ev)
	require.NoError(t, err)

	reg := nodes.DefaultRegistry(nodes.Deps{
		Evaluator:   ev,
		Credentials: secrets.NewStoreCredentials(st, vault),
	})
	svc := engine.NewService(engine.NewRunner(reg, nil), st, engine.ServiceConfig{PoolSize: 2}, nil)
	hub := streaming.NewMemoryHub(64)

	s := New(Deps{Store: st, Vault: vault, Service: svc, Validator: wv, Hub: hub, Version: "test"})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		svc.Shutdown()
	})
	return &testEnv{srv: ts, store: st, vault: vault, hub: hub}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (e *testEnv) createSum(t *testing.T) {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/api/workflows", `{"definition": `+sumWorkflow+`}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"ok"`)
	assert.Contains(t, string(body), `"version":"test"`)
}

func TestWorkflowCRUD(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/api/workflows", `{"description": "adds", "definition": `+sumWorkflow+`}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var created workflowResponse
	require.NoError(t, xjson.Unmarshal(body, &created))
	assert.Equal(t, "sum", created.Workflow.ID)
	assert.Equal(t, "Sum", created.Workflow.Name)
	assert.Equal(t, "adds", created.Workflow.Description)
	assert.True(t, created.Validation.Valid())

	resp, _ = env.do(t, http.MethodPost, "/api/workflows", `{"definition": `+sumWorkflow+`}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = env.do(t, http.MethodGet, "/api/workflows", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []store.Workflow
	require.NoError(t, xjson.Unmarshal(body, &list))
	require.Len(t, list, 1)

	resp, body = env.do(t, http.MethodPut, "/api/workflows/sum", `{"name": "Renamed"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	wf, err := env.store.GetWorkflow(context.Background(), "sum")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", wf.Name)
	assert.Len(t, wf.Definition.Nodes, 3)

	resp, _ = env.do(t, http.MethodDelete, "/api/workflows/sum", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, body = env.do(t, http.MethodGet, "/api/workflows/sum", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(body), schema.ErrCodeNotFound)
}

func TestCreateWorkflow_Rejections(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"definition": `},
		{"missing definition", `{"name": "x"}`},
		{"bad node data", `{"definition": {"nodes": [{"id": "t", "type": "transform", "data": {"outputType": "table"}}]}}`},
		{"node without id", `{"definition": {"nodes": [{"type": "start"}]}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(t, http.MethodPost, "/api/workflows", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode, string(body))
		})
	}
}

func TestCreateWorkflow_GraphErrorsAreReported(t *testing.T) {
	env := newTestEnv(t)
	doc := `{"id": "draft", "nodes": [{"id": "start", "type": "start"}, {"id": "end", "type": "end"}], "edges": []}`
	resp, body := env.do(t, http.MethodPost, "/api/workflows", `{"definition": `+doc+`}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var created workflowResponse
	require.NoError(t, xjson.Unmarshal(body, &created))
	assert.False(t, created.Validation.Valid())
	assert.NotEmpty(t, created.Validation.Errors())
}

func TestValidateEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.createSum(t)

	resp, body := env.do(t, http.MethodPost, "/api/workflows/sum/validate", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"valid":true`)

	resp, body = env.do(t, http.MethodPost, "/api/workflows/validate", `{"nodes": [{"id": "a", "type": "end"}]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"valid":false`)
}

func TestExecute_JSON(t *testing.T) {
	env := newTestEnv(t)
	env.createSum(t)

	resp, body := env.do(t, http.MethodPost, "/api/workflows/sum/execute?stream=false", `{"inputs": {"x": 1}, "sessionId": "s-1"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var result engine.RunResult
	require.NoError(t, xjson.Unmarshal(body, &result))
	assert.Equal(t, schema.RunStatusCompleted, result.Status)
	assert.Equal(t, "s-1", result.SessionID)
	require.NotNil(t, result.Context)
	assert.Equal(t, 21.0, result.Context.Variables["sum"])
}

func TestExecute_StreamsSSE(t *testing.T) {
	env := newTestEnv(t)
	env.createSum(t)

	resp, body := env.do(t, http.MethodPost, "/api/workflows/sum/execute", `{"sessionId": "s-2"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "s-2", resp.Header.Get("X-Session-Id"))

	var names []string
	sc := bufio.NewScanner(strings.NewReader(string(body)))
	for sc.Scan() {
		if name, ok := strings.CutPrefix(sc.Text(), "event: "); ok {
			names = append(names, name)
		}
	}
	require.NotEmpty(t, names)
	assert.Contains(t, names, schema.EventWorkflowStart+"::start")
	assert.Contains(t, names, schema.EventFinalContext+"::end")
	assert.Equal(t, schema.EventDone, names[len(names)-1])
}

func TestExecute_UnknownWorkflow(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.do(t, http.MethodPost, "/api/workflows/nope/execute", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestExecute_PublishesToHub(t *testing.T) {
	env := newTestEnv(t)
	env.createSum(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ch, unsubscribe, err := env.hub.Subscribe(ctx, streaming.EventFilter{SessionID: "s-3", Kinds: []string{schema.KindDone}})
	require.NoError(t, err)
	defer unsubscribe()

	resp, _ := env.do(t, http.MethodPost, "/api/workflows/sum/execute?stream=false", `{"sessionId": "s-3"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case ev := <-ch:
		assert.Equal(t, "sum", ev.WorkflowID)
		assert.Equal(t, schema.KindDone, ev.Kind)
	case <-ctx.Done():
		t.Fatal("no DONE event published")
	}
}

func TestCancelUnknownRun(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.do(t, http.MethodPost, "/api/runs/none/cancel", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body := env.do(t, http.MethodGet, "/api/runs", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"active":[]`)
}

func TestDiagram(t *testing.T) {
	env := newTestEnv(t)
	env.createSum(t)

	resp, body := env.do(t, http.MethodGet, "/api/workflows/sum/diagram", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(string(body), "graph TD"), string(body))

	resp, body = env.do(t, http.MethodGet, "/api/workflows/sum/diagram?format=ascii", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "calc")

	resp, _ = env.do(t, http.MethodGet, "/api/workflows/sum/diagram?format=svgz", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestConnections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	resp, body := env.do(t, http.MethodPost, "/api/connections", `{"id": "c1", "provider": "OpenAI", "name": "main", "apiKey": "sk-secret", "activate": true}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	assert.NotContains(t, string(body), "sk-secret")
	assert.Contains(t, string(body), `"hasKey":true`)
	assert.Contains(t, string(body), `"provider":"openai"`)

	key, err := env.vault.Resolve(ctx, secrets.ConnectionKey("c1"))
	require.NoError(t, err)
	assert.Equal(t, "sk-secret", string(key))

	resp, body = env.do(t, http.MethodPost, "/api/connections", `{"id": "c2", "provider": "openai"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	assert.Contains(t, string(body), `"hasKey":false`)

	resp, _ = env.do(t, http.MethodPost, "/api/connections/c2/activate", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	active, ok, err := env.store.ActiveConnectionID(ctx, "openai")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "c2", active)

	resp, body = env.do(t, http.MethodGet, "/api/connections?active=true", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"id":"c2"`)
	assert.NotContains(t, string(body), `"id":"c1"`)

	resp, _ = env.do(t, http.MethodDelete, "/api/connections/c1", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	_, err = env.vault.Resolve(ctx, secrets.ConnectionKey("c1"))
	assert.Error(t, err)

	resp, _ = env.do(t, http.MethodPost, "/api/connections", `{"name": "no provider"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
