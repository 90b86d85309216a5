package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/yourorg/config-generator/pkg/audit"
	"github.com/yourorg/config-generator/pkg/backup"
	"github.com/yourorg/config-generator/pkg/batch"
	"github.com/yourorg/config-generator/pkg/catalog"
	"github.com/yourorg/config-generator/pkg/config"
	"github.com/yourorg/config-generator/pkg/db/dbtest"
	"github.com/yourorg/config-generator/pkg/metrics"
	"github.com/yourorg/config-generator/pkg/render"
	"github.com/yourorg/config-generator/pkg/template"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Mode:           gin.TestMode,
			MaxUploadBytes: 1 << 20,
			CORSOrigins:    []string{"*"},
		},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics", Namespace: "cg"},
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	conn := dbtest.New(t)
	logger := zap.NewNop()

	templates := template.NewManager(conn, logger)
	engine := render.NewEngine(render.DefaultOptions())
	auditLogger := audit.NewLogger(nil, audit.QuickwitConfig{}, logger)
	m := metrics.New(cfg.Metrics.Namespace)

	return NewServer(cfg, &Dependencies{
		DB:              conn,
		Logger:          logger,
		TemplateManager: templates,
		CatalogManager:  catalog.NewManager(conn, logger),
		Engine:          engine,
		Generator:       batch.NewGenerator(templates, engine, batch.Observers{auditLogger, m}, batch.DefaultOptions(), logger),
		Backup:          backup.NewService(conn, logger),
		AuditLogger:     auditLogger,
		Metrics:         m,
	})
}

func do(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func createTemplate(t *testing.T, s *Server, name, content string) uint {
	t.Helper()
	rec := do(t, s, http.MethodPost, "/api/v1/templates", map[string]interface{}{
		"name":             name,
		"host_type":        "Server-" + name,
		"port_type":        "Access",
		"switch_os":        "NX-OS",
		"template_content": content,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return uint(decode(t, rec)["id"].(float64))
}

func TestHealthAndReady(t *testing.T) {
	s := newTestServer(t, testConfig())

	rec := do(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode(t, rec)["status"])
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	rec = do(t, s, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["ready"])
}

func TestRequestIDIsEchoed(t *testing.T) {
	s := newTestServer(t, testConfig())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
}

func TestRenderSandbox(t *testing.T) {
	s := newTestServer(t, testConfig())

	tests := []struct {
		name      string
		body      map[string]interface{}
		status    int
		output    string
		errPrefix string
		kind      string
	}{
		{
			name:   "json string variables",
			body:   map[string]interface{}{"template": "Hello {{ name }}!", "variables": `{"name": "World"}`},
			status: http.StatusOK,
			output: "Hello World!",
		},
		{
			name:   "object variables",
			body:   map[string]interface{}{"template": "vlan {{ vlan }}", "variables": map[string]interface{}{"vlan": 10}},
			status: http.StatusOK,
			output: "vlan 10",
		},
		{
			name:   "key value variables",
			body:   map[string]interface{}{"template": "{{ host }}", "variables": "host = leaf-1\nignored line"},
			status: http.StatusOK,
			output: "leaf-1",
		},
		{
			name:   "no variables",
			body:   map[string]interface{}{"template": "static"},
			status: http.StatusOK,
			output: "static",
		},
		{
			name:      "undefined variable",
			body:      map[string]interface{}{"template": "{{ missing }}", "variables": "{}"},
			status:    http.StatusBadRequest,
			errPrefix: "Undefined Variable: ",
			kind:      render.KindUndefined,
		},
		{
			name:      "syntax error",
			body:      map[string]interface{}{"template": "{% if x %}never closed", "variables": `{"x": 1}`},
			status:    http.StatusBadRequest,
			errPrefix: "Template Syntax Error: ",
			kind:      render.KindSyntax,
		},
		{
			name:      "variables not a mapping",
			body:      map[string]interface{}{"template": "x", "variables": "[1, 2]"},
			status:    http.StatusBadRequest,
			errPrefix: "Error: ",
			kind:      kindInvalidVariables,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, path := range []string{"/render", "/api/v1/render"} {
				rec := do(t, s, http.MethodPost, path, tt.body)
				require.Equal(t, tt.status, rec.Code, rec.Body.String())
				out := decode(t, rec)
				if tt.status == http.StatusOK {
					assert.Equal(t, true, out["success"])
					assert.Equal(t, tt.output, out["output"])
					continue
				}
				assert.Equal(t, false, out["success"])
				assert.True(t, strings.HasPrefix(out["error"].(string), tt.errPrefix), out["error"])
				assert.Equal(t, tt.kind, out["error_kind"])
			}
		})
	}
}

func TestValidateTemplate(t *testing.T) {
	s := newTestServer(t, testConfig())

	rec := do(t, s, http.MethodPost, "/api/v1/render/validate", map[string]string{"template": "{{ b }} {{ a }}"})
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, true, out["valid"])
	assert.ElementsMatch(t, []interface{}{"a", "b"}, out["variables"])

	rec = do(t, s, http.MethodPost, "/api/v1/render/validate", map[string]string{"template": "{% for %}"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, render.KindSyntax, decode(t, rec)["error_kind"])
}

func TestTemplateLifecycle(t *testing.T) {
	s := newTestServer(t, testConfig())
	id := createTemplate(t, s, "Leaf", "v1 {{ switch_name }}")
	base := "/api/v1/templates/" + templateRef(id)

	// same triple again
	rec := do(t, s, http.MethodPost, "/api/v1/templates", map[string]interface{}{
		"name": "Other", "host_type": "Server-Leaf", "port_type": "Access", "switch_os": "NX-OS",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/v1/templates", map[string]interface{}{"name": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/v1/templates/by-name/LEAF", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "v1 {{ switch_name }}", decode(t, rec)["template_content"])

	rec = do(t, s, http.MethodPost, base+"/versions", map[string]string{"template_content": "v2 {{ switch_name }}"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 2.0, decode(t, rec)["version"])

	rec = do(t, s, http.MethodPost, base+"/versions/2/activate", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decode(t, rec)
	assert.Equal(t, 2.0, detail["active_version"])
	assert.Equal(t, "v2 {{ switch_name }}", detail["template_content"])

	rec = do(t, s, http.MethodDelete, base+"/versions/2", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, s, http.MethodPost, base+"/render", map[string]interface{}{"variables": map[string]string{"switch_name": "s1"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "v2 s1", decode(t, rec)["output"])

	rec = do(t, s, http.MethodPost, base+"/render", map[string]interface{}{"version": 1, "variables": `{"switch_name": "s9"}`})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "v1 s9", decode(t, rec)["output"])

	rec = do(t, s, http.MethodPost, base+"/render", map[string]interface{}{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, render.KindUndefined, decode(t, rec)["error_kind"])

	rec = do(t, s, http.MethodDelete, base+"/versions/1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodGet, base+"/versions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["versions"], 1)

	rec = do(t, s, http.MethodPut, base, map[string]string{"name": "Leaf Renamed"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Leaf Renamed", decode(t, rec)["name"])

	rec = do(t, s, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "not found")

	rec = do(t, s, http.MethodGet, "/api/v1/templates/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/v1/templates/"+templateRef(id)+"/versions/zero", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListTemplates(t *testing.T) {
	s := newTestServer(t, testConfig())
	createTemplate(t, s, "B", "b")
	createTemplate(t, s, "A", "a")

	rec := do(t, s, http.MethodGet, "/api/v1/templates", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2.0, decode(t, rec)["total"])

	rec = do(t, s, http.MethodGet, "/api/v1/templates?host_type=Server-A", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, 1.0, out["total"])
	assert.Equal(t, "A", out["templates"].([]interface{})[0].(map[string]interface{})["name"])
}

func TestFieldsAndWorkbook(t *testing.T) {
	s := newTestServer(t, testConfig())
	id := createTemplate(t, s, "Leaf", "{{ vlan }}")
	base := "/api/v1/templates/" + templateRef(id)

	rec := do(t, s, http.MethodPut, base+"/fields", map[string]interface{}{
		"fields": []map[string]interface{}{
			{"field_name": "vlan", "field_type": "integer"},
			{"field_name": "shutdown", "field_type": "boolean", "required": false, "default_value": "false"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, s, http.MethodPut, base+"/fields", map[string]interface{}{
		"fields": []map[string]interface{}{{"field_name": "a"}, {"field_name": "A"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodGet, base+"/fields", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["fields"], 2)

	rec = do(t, s, http.MethodGet, base+"/workbook", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename="Leaf.xlsx"`)

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Input")
	require.NoError(t, err)
	assert.Equal(t, []string{"template", "switch_name", "switch_port", "vlan", "shutdown"}, rows[0])
}

func TestCatalogRoutes(t *testing.T) {
	s := newTestServer(t, testConfig())

	for _, name := range []string{"Server", "Firewall"} {
		rec := do(t, s, http.MethodPost, "/api/v1/host-types", map[string]string{"name": name})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := do(t, s, http.MethodPost, "/api/v1/host-types", map[string]string{"name": "Server"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/v1/port-types", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/v1/host-types", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	items := decode(t, rec)["items"].([]interface{})
	require.Len(t, items, 2)
	assert.Equal(t, "Firewall", items[0].(map[string]interface{})["name"])

	rec = do(t, s, http.MethodDelete, "/api/v1/host-types/Firewall", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, s, http.MethodDelete, "/api/v1/switch-os-types/Missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	for path, names := range map[string][]string{
		"/api/v1/port-types":      {"Fiber", "Access", "Copper"},
		"/api/v1/switch-os-types": {"NX-OS", "EOS"},
	} {
		for _, name := range names {
			rec := do(t, s, http.MethodPost, path, map[string]string{"name": name, "description": "ignored"})
			require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		}

		rec := do(t, s, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		items := decode(t, rec)["items"].([]interface{})
		require.Len(t, items, len(names), path)

		var got []string
		for _, item := range items {
			entry := item.(map[string]interface{})
			assert.NotContains(t, entry, "description", path)
			got = append(got, entry["name"].(string))
		}
		assert.IsIncreasing(t, got, path)
	}
}

func TestGenerate(t *testing.T) {
	s := newTestServer(t, testConfig())
	createTemplate(t, s, "Leaf", "hostname {{ switch_name }}")

	body := `{"rows": [
		{"template": "Leaf", "switch_name": "s1", "switch_port": "e1/1"},
		{"template": "Leaf", "switch_name": "s2", "switch_port": "e1/2"},
		{"template": "Spine", "switch_name": "s3", "switch_port": "e1/3"},
		{"template": "Leaf", "switch_name": "", "switch_port": "e1/4"}
	]}`

	rec := do(t, s, http.MethodPost, "/api/v1/generate", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result batch.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 2, result.SuccessCount)
	assert.Equal(t, 1, result.FailedCount)
	assert.Equal(t, 1, result.SkippedCount)
	require.Len(t, result.Results, 2)
	assert.Equal(t, "hostname s1", result.Results[0].Config)
	assert.Equal(t, []string{"s1", "s2"}, result.Results[0].Switches)
	assert.Equal(t, "Template 'Spine' not found", result.Results[1].Error)
	assert.Equal(t, 3, result.Results[1].RowIndex)

	rec = do(t, s, http.MethodPost, "/api/v1/generate", `{"rows": []}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/v1/generate/bundle", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-Failed-Count"))
	assert.Contains(t, rec.Body.String(), "! Template: Leaf")
	assert.Contains(t, rec.Body.String(), "hostname s1")

	rec = do(t, s, http.MethodPost, "/api/v1/generate/bundle", `{"rows": [{"template": "Spine", "switch_name": "a", "switch_port": "b"}]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func uploadRequest(t *testing.T, path, filename string, rows [][]interface{}) *http.Request {
	t.Helper()
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		r := row
		require.NoError(t, f.SetSheetRow(sheet, cell, &r))
	}
	xlsx, err := f.WriteToBuffer()
	require.NoError(t, err)
	require.NoError(t, f.Close())

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(xlsx.Bytes())
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestUploadAndGenerateFromSpreadsheet(t *testing.T) {
	s := newTestServer(t, testConfig())
	createTemplate(t, s, "Leaf", "{% for p in ports %}{{ p.switch_port }};{% endfor %}")

	rows := [][]interface{}{
		{"Template", "Switch Name", "Switch Port"},
		{"Leaf", "s1", "e1/1"},
		{},
		{"Leaf", "s1", "e1/2"},
	}

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, uploadRequest(t, "/api/v1/upload", "ports.xlsx", rows))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode(t, rec)
	assert.Equal(t, 2.0, out["row_count"])
	assert.Equal(t, []interface{}{"template", "switch_name", "switch_port"}, out["columns"])

	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, uploadRequest(t, "/api/v1/generate", "ports.xlsx", rows))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result batch.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Len(t, result.Results, 1)
	assert.Equal(t, "e1/1;e1/2;", result.Results[0].Config)

	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, uploadRequest(t, "/api/v1/upload", "ports.csv", rows))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerateBodyTooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.Server.MaxUploadBytes = 64
	s := newTestServer(t, cfg)

	body := `{"rows": [{"template": "Leaf", "switch_name": "` + strings.Repeat("s", 128) + `", "switch_port": "1"}]}`
	rec := do(t, s, http.MethodPost, "/api/v1/generate", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestBackupRoundTrip(t *testing.T) {
	s := newTestServer(t, testConfig())
	createTemplate(t, s, "Leaf", "x")

	rec := do(t, s, http.MethodGet, "/api/v1/backup", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	exported := rec.Body.String()
	assert.Contains(t, exported, `"format_version": 1`)

	rec = do(t, s, http.MethodPost, "/api/v1/backup", exported)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/v1/backup?replace=true", exported)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	stats := decode(t, rec)["stats"].(map[string]interface{})
	assert.Equal(t, 1.0, stats["templates"])

	rec = do(t, s, http.MethodGet, "/api/v1/backup?format=yaml", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-yaml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "format_version: 1")

	rec = do(t, s, http.MethodPost, "/api/v1/backup", `{"format_version": 1, "templates": [{"name": "x"}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuditSearchUnavailable(t *testing.T) {
	s := newTestServer(t, testConfig())
	rec := do(t, s, http.MethodGet, "/api/v1/audit", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, testConfig())
	do(t, s, http.MethodGet, "/health", nil)

	rec := do(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cg_http_requests_total")
	assert.Contains(t, rec.Body.String(), `route="/health"`)
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerSecond: 0.001, Burst: 1}
	s := newTestServer(t, cfg)

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(t, s, http.MethodGet, "/health", nil).Code)
}

func TestCORSPreflight(t *testing.T) {
	cfg := testConfig()
	cfg.Server.CORSOrigins = []string{"https://ops.example.com"}
	s := newTestServer(t, cfg)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/templates", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://ops.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}
