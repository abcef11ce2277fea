package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/resolver"
	"github.com/starford/ansuz/internal/ruleservice"
	"github.com/starford/ansuz/internal/testutil"
)

var quiet = slog.New(slog.NewJSONHandler(io.Discard, nil))

func testFiles() testutil.Files {
	return testutil.Files{
		"/data/cmip5/file123.nc": {Path: "/data/cmip5/file123.nc", Directory: "/data/cmip5", Name: "file123.nc", Size: 234, ItemType: models.ItemFile},
		"/data/other/file.csv":   {Path: "/data/other/file.csv", Directory: "/data/other", Name: "file.csv", Size: 5000, ItemType: models.ItemFile},
	}
}

// testEnv sets up a temp SQLite DB, service, and router for testing.
// An empty authToken means auth is disabled.
func testEnv(t *testing.T, authToken string) http.Handler {
	t.Helper()
	return testEnvWithSSE(t, authToken != "", authToken, nil)
}

func testEnvWithSSE(t *testing.T, authEnabled bool, token string, sseHandler http.Handler) http.Handler {
	t.Helper()
	db := testutil.TestDB(t)
	svc := ruleservice.NewService(db, resolver.New(db, testFiles()), nil, quiet)
	return NewRouter(svc, authEnabled, token, sseHandler)
}

func do(t *testing.T, router http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, r)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func seedSampleRules(t *testing.T, router http.Handler) []string {
	t.Helper()
	var ids []string
	for _, rule := range testutil.SampleRules() {
		w := do(t, router, http.MethodPost, "/rules", CreateRuleRequest{
			AppliesTo:     rule.AppliesTo,
			Annotation:    rule.Annotation,
			MergeStrategy: rule.MergeStrategy,
			Metadata:      rule.Metadata,
		})
		if w.Code != http.StatusCreated {
			t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
		}
		var created models.AnnotationRule
		_ = json.Unmarshal(w.Body.Bytes(), &created)
		ids = append(ids, created.ID)
	}
	return ids
}

func TestCreateAndGetRule(t *testing.T) {
	router := testEnv(t, "")
	ids := seedSampleRules(t, router)

	w := do(t, router, http.MethodGet, "/rules/"+ids[0], nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var rule models.AnnotationRule
	_ = json.Unmarshal(w.Body.Bytes(), &rule)
	if rule.ID != ids[0] {
		t.Errorf("id = %q, want %q", rule.ID, ids[0])
	}
	if rule.AppliesTo.Ext != ".nc" {
		t.Errorf("ext = %q, want .nc", rule.AppliesTo.Ext)
	}
	if rule.CreatedAt.IsZero() {
		t.Error("created_at should be set")
	}
}

func TestCreateRule_Invalid(t *testing.T) {
	router := testEnv(t, "")
	cases := map[string]any{
		"no annotation":  map[string]any{"applies_to": map[string]any{"ext": "nc"}},
		"bad strategy":   map[string]any{"annotation": map[string]any{"a": 1}, "merge_strategy": "replace"},
		"bad threshold":  map[string]any{"annotation": map[string]any{"a": 1}, "applies_to": map[string]any{"before_date": "soon"}},
		"unknown field":  map[string]any{"annotation": map[string]any{"a": 1}, "applies_too": map[string]any{}},
		"client id":      map[string]any{"annotation": map[string]any{"a": 1}, "id": "mine"},
		"negative bound": map[string]any{"annotation": map[string]any{"a": 1}, "applies_to": map[string]any{"larger": -5}},
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			w := do(t, router, http.MethodPost, "/rules", body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400, body = %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestGetRule_NotFound(t *testing.T) {
	router := testEnv(t, "")
	w := do(t, router, http.MethodGet, "/rules/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing rule = %d, want 404", w.Code)
	}
}

func TestListRules(t *testing.T) {
	router := testEnv(t, "")
	seedSampleRules(t, router)

	w := do(t, router, http.MethodGet, "/rules?limit=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var resp RuleListResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Total != 3 {
		t.Errorf("total = %d, want 3", resp.Total)
	}
	if len(resp.Rules) != 2 {
		t.Errorf("page = %d, want 2", len(resp.Rules))
	}

	w = do(t, router, http.MethodGet, "/rules?key=storage_plan&key=nothing", nil)
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Total != 1 {
		t.Errorf("key filter total = %d, want 1", resp.Total)
	}

	w = do(t, router, http.MethodGet, "/rules?ext=nc", nil)
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Total != 1 {
		t.Errorf("ext filter total = %d, want 1", resp.Total)
	}
}

func TestResolve(t *testing.T) {
	router := testEnv(t, "")
	seedSampleRules(t, router)

	w := do(t, router, http.MethodGet, "/resolve?path=/data/cmip5/file123.nc", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("resolve status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp ResolveResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	want := map[string]any{"format": "NetCDF-4", "storage_plan": "tape only", "note": "tiny file"}
	if len(resp.Annotation) != len(want) {
		t.Fatalf("annotation = %v, want %v", resp.Annotation, want)
	}
	for k, v := range want {
		if resp.Annotation[k] != v {
			t.Errorf("%s = %v, want %v", k, resp.Annotation[k], v)
		}
	}

	w = do(t, router, http.MethodGet, "/resolve?path=/data/other/file.csv", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("resolve status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"annotation":{}`) {
		t.Errorf("expected empty annotation, got %s", w.Body.String())
	}
}

func TestResolve_Errors(t *testing.T) {
	router := testEnv(t, "")

	if w := do(t, router, http.MethodGet, "/resolve", nil); w.Code != http.StatusBadRequest {
		t.Errorf("missing path = %d, want 400", w.Code)
	}
	if w := do(t, router, http.MethodGet, "/resolve?path=/ghost", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown path = %d, want 404", w.Code)
	}
}

func TestResolve_StoreUnavailable(t *testing.T) {
	db := testutil.TestDB(t)
	failing := testutil.NewMemoryStore()
	failing.Err = errors.New("connection refused")
	svc := ruleservice.NewService(db, resolver.New(failing, testFiles()), nil, quiet)
	router := NewRouter(svc, false, "", nil)

	w := do(t, router, http.MethodGet, "/resolve?path=/data/cmip5/file123.nc", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestExplainAndAnnotated(t *testing.T) {
	router := testEnv(t, "")
	seedSampleRules(t, router)

	w := do(t, router, http.MethodGet, "/explain?path=/data/cmip5/file123.nc", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("explain status = %d", w.Code)
	}
	var exp ExplainResponse
	_ = json.Unmarshal(w.Body.Bytes(), &exp)
	if len(exp.Applied) != 3 || exp.Candidates != 3 {
		t.Errorf("applied = %v, candidates = %d", exp.Applied, exp.Candidates)
	}
	if exp.Filter == "" {
		t.Error("filter should be rendered")
	}

	w = do(t, router, http.MethodGet, "/annotated?path=/data/cmip5/file123.nc", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("annotated status = %d", w.Code)
	}
	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	if out["name"] != "file123.nc" || out["storage_plan"] != "tape only" {
		t.Errorf("annotated = %v", out)
	}
}

func TestDeleteRules(t *testing.T) {
	router := testEnv(t, "")
	seedSampleRules(t, router)

	w := do(t, router, http.MethodDelete, "/rules", map[string]any{"path": "/data/cmip5"})
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d", w.Code)
	}
	var resp DeleteResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Deleted != 1 {
		t.Errorf("deleted = %d, want 1", resp.Deleted)
	}

	// Exact match only: a broader set leaves the scoped rule alone.
	w = do(t, router, http.MethodDelete, "/rules", map[string]any{"under": "/data"})
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Deleted != 0 {
		t.Errorf("deleted = %d, want 0", resp.Deleted)
	}

	w = do(t, router, http.MethodGet, "/resolve?path=/data/cmip5/file123.nc", nil)
	if strings.Contains(w.Body.String(), "storage_plan") {
		t.Errorf("deleted rule still applied: %s", w.Body.String())
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	router := testEnv(t, "secret123")

	body, _ := json.Marshal(map[string]any{"annotation": map[string]any{"a": 1}})
	req := httptest.NewRequest(http.MethodPost, "/rules", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Errorf("authed create = %d, want 201", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	router := testEnv(t, "secret123")
	if w := do(t, router, http.MethodGet, "/rules", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	router := testEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodGet, "/rules", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	router := testEnv(t, "")
	if w := do(t, router, http.MethodGet, "/rules", nil); w.Code != http.StatusOK {
		t.Errorf("no auth = %d, want 200", w.Code)
	}
}

// stubSSE writes headers and blocks until the request context is done.
var stubSSE = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	<-r.Context().Done()
})

func TestSSEEvents_AuthProtected(t *testing.T) {
	router := testEnvWithSSE(t, true, "secret", stubSSE)
	if w := do(t, router, http.MethodGet, "/events", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	router := testEnvWithSSE(t, true, "tok", stubSSE)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE with valid token should not 401")
	}
}
