package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pgedge/crateflow/internal/nodes"
	"github.com/pgedge/crateflow/pkg/config"
	"github.com/stretchr/testify/require"
)

// fakeCrate answers _sql requests: bulk requests get one result per row with
// every row whose first value is "dup" failing, anything mentioning
// "missing" gets a RelationUnknown error.
func fakeCrate(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Stmt     string  `json:"stmt"`
			BulkArgs [][]any `json:"bulk_args"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")

		if strings.Contains(req.Stmt, "missing") {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":{"message":"RelationUnknown[Relation 'missing' unknown]","code":4041}}`)
			return
		}
		if req.BulkArgs != nil {
			results := make([]map[string]any, 0, len(req.BulkArgs))
			for _, row := range req.BulkArgs {
				if len(row) > 0 && row[0] == "dup" {
					results = append(results, map[string]any{"rowcount": -2, "error_message": "DuplicateKeyException"})
					continue
				}
				results = append(results, map[string]any{"rowcount": 1})
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"cols": []string{}, "duration": 1.2, "results": results})
			return
		}
		_, _ = io.WriteString(w, `{"cols":["id","name"],"rows":[[1,"a"],[2,"b"]],"rowcount":2,"duration":0.4}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestAPI(t *testing.T) *httptest.Server {
	t.Helper()
	crate := fakeCrate(t)

	cfg := &config.Config{
		DefaultCluster: "local",
		Clusters: map[string]config.ClusterConfig{
			"local": {Host: crate.URL, Protocol: config.ProtocolHTTP, Timeout: 5},
		},
		Nodes: []config.NodeDef{
			{Name: "list", Type: config.NodeTypeQuery, Query: "SELECT id, name FROM doc.t"},
			{Name: "sink", Type: config.NodeTypeIngest, Table: "doc.events", MapColumns: true},
			{Name: "broken", Type: config.NodeTypeIngest, Table: "missing"},
		},
		Server: config.ServerConfig{
			ListenPort:    8080,
			TaskStorePath: filepath.Join(t.TempDir(), "tasks.db"),
		},
	}
	require.NoError(t, cfg.Validate())

	reg, err := nodes.NewRegistry(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })

	api, err := New(cfg, reg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { api.taskStore.Close() })

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func get(t *testing.T, url string, into any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
	return resp
}

func TestIngestThroughAPI(t *testing.T) {
	srv := newTestAPI(t)

	resp, out := post(t, srv.URL+"/api/v1/nodes/sink",
		`{"topic":"sensors","payload":[{"id":"a","v":1},{"id":"dup"},{"id":"b","v":2}]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	taskID := resp.Header.Get("X-Task-ID")
	require.NotEmpty(t, taskID)

	require.Equal(t, "sensors", out["topic"])
	require.Equal(t, map[string]any{"total": float64(3), "errors": float64(1)}, out["records"])
	require.Equal(t, []any{map[string]any{"id": "dup"}}, out["payload"])

	var task map[string]any
	resp = get(t, srv.URL+"/api/v1/tasks/"+taskID, &task)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "COMPLETED", task["status"])
	require.Equal(t, "sink", task["node"])
	require.Equal(t, "doc.events", task["table"])
	require.Equal(t, float64(3), task["total"])
	require.Equal(t, float64(1), task["errors"])
}

func TestQueryThroughAPI(t *testing.T) {
	srv := newTestAPI(t)

	resp, out := post(t, srv.URL+"/api/v1/nodes/list", `{"payload":null}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	payload := out["payload"].(map[string]any)
	require.Equal(t, []any{
		map[string]any{"id": float64(1), "name": "a"},
		map[string]any{"id": float64(2), "name": "b"},
	}, payload["objects"])
}

func TestServerErrorAttachedToMessage(t *testing.T) {
	srv := newTestAPI(t)

	resp, out := post(t, srv.URL+"/api/v1/nodes/broken", `{"payload":{"a":1}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	errBody := out["error"].(map[string]any)
	require.Equal(t, float64(4041), errBody["code"])

	var task map[string]any
	get(t, srv.URL+"/api/v1/tasks/"+resp.Header.Get("X-Task-ID"), &task)
	require.Equal(t, "FAILED", task["status"])
}

func TestAPIErrors(t *testing.T) {
	srv := newTestAPI(t)

	resp, out := post(t, srv.URL+"/api/v1/nodes/ghost", `{"payload":1}`)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Contains(t, out["error"], "unknown node")

	resp, _ = post(t, srv.URL+"/api/v1/nodes/sink", `{"payload":[1,`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = post(t, srv.URL+"/api/v1/nodes/list", `{"payload":{"stmt":"SELECT ?","args":[1],"bulk_args":[[1]]}}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("X-Task-ID"))

	var body map[string]any
	resp = get(t, srv.URL+"/api/v1/nodes/sink", &body)
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	require.Equal(t, http.MethodPost, resp.Header.Get("Allow"))

	resp = get(t, srv.URL+"/api/v1/tasks/does-not-exist", &body)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListNodes(t *testing.T) {
	srv := newTestAPI(t)

	var list []map[string]any
	resp := get(t, srv.URL+"/api/v1/nodes", &list)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, list, 3)
	require.Equal(t, "broken", list[0]["name"])
	require.Equal(t, "list", list[1]["name"])
	require.Equal(t, "query", list[1]["type"])
	require.Equal(t, "sink", list[2]["name"])
	require.Equal(t, true, list[2]["map_columns"])
}

func TestNewRequiresPort(t *testing.T) {
	cfg := &config.Config{}
	reg, err := nodes.NewRegistry(context.Background(), cfg, nil)
	require.NoError(t, err)

	_, err = New(cfg, reg, nil)
	require.Error(t, err)

	_, err = New(cfg, nil, nil)
	require.Error(t, err)
}
