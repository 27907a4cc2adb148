package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"filegate/gateway/internal/agent"
	"filegate/gateway/internal/errinfo"
	"filegate/gateway/internal/gateway"
	"filegate/gateway/internal/project"
	"filegate/gateway/internal/settings"
)

func newTestServer(t *testing.T, capability agent.Capability) (*httptest.Server, string) {
	t.Helper()
	projectsDir := t.TempDir()
	root := filepath.Join(projectsDir, "demo")
	if err := os.MkdirAll(filepath.Join(root, "docs", "input"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "docs", "input", "report.txt"), []byte("old\n"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	manifest := `{"name":"Demo","read_dirs":["docs/input"],"write_dir":"output","aliases":{"input":"docs/input"}}`
	if err := os.WriteFile(filepath.Join(root, project.ManifestFile), []byte(manifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	cfg := &settings.Settings{ProjectsDir: projectsDir, PendingDir: project.DefaultPendingDir}
	var opts []gateway.Option
	if capability != nil {
		opts = append(opts, gateway.WithCapability(capability))
	}
	srv := New(gateway.New(cfg, opts...), Options{AllowedOrigins: []string{"http://localhost:3000"}})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, root
}

func doJSON(t *testing.T, method, url, body string, out any) int {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, url, err)
		}
	}
	return resp.StatusCode
}

type errorBody struct {
	Error errinfo.ErrorInfo `json:"error"`
}

func TestHealthAndProjects(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	var health map[string]any
	if status := doJSON(t, http.MethodGet, ts.URL+"/_health", "", &health); status != http.StatusOK || health["ok"] != true {
		t.Fatalf("unexpected health %d %v", status, health)
	}

	var list struct {
		Projects []project.Summary `json:"projects"`
	}
	if status := doJSON(t, http.MethodGet, ts.URL+"/projects", "", &list); status != http.StatusOK || len(list.Projects) != 1 {
		t.Fatalf("unexpected projects %d %+v", status, list)
	}

	var info project.Info
	if status := doJSON(t, http.MethodGet, ts.URL+"/projects/demo", "", &info); status != http.StatusOK || info.WriteDir != "output_pending" {
		t.Fatalf("unexpected info %d %+v", status, info)
	}

	var errResp errorBody
	if status := doJSON(t, http.MethodGet, ts.URL+"/projects/nope", "", &errResp); status != http.StatusNotFound || errResp.Error.ErrorCode != errinfo.CodeNotFound {
		t.Fatalf("unexpected missing project %d %+v", status, errResp)
	}
}

func TestErrorStatuses(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	cases := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"escape", http.MethodGet, "/projects/demo/file?path=../../etc/passwd", "", http.StatusBadRequest, errinfo.CodeInvalidPath},
		{"outside roots", http.MethodGet, "/projects/demo/file?path=manifest.json", "", http.StatusForbidden, errinfo.CodeSandboxViolation},
		{"missing file", http.MethodGet, "/projects/demo/file?path=docs/input/none.txt", "", http.StatusNotFound, errinfo.CodeNotFound},
		{"bad limit", http.MethodGet, "/projects/demo/search?q=a&limit=x", "", http.StatusBadRequest, errinfo.CodeValidationFailed},
		{"promote non staged", http.MethodPost, "/projects/demo/promote", `{"from_rel":"docs/input/report.txt"}`, http.StatusBadRequest, errinfo.CodeValidationFailed},
		{"discard missing", http.MethodDelete, "/projects/demo/staged?path=output_pending/x.md", "", http.StatusNotFound, errinfo.CodeNotFound},
		{"bad body", http.MethodPost, "/ask", `[1,2]`, http.StatusBadRequest, errinfo.CodeValidationFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var errResp errorBody
			status := doJSON(t, tc.method, ts.URL+tc.path, tc.body, &errResp)
			if status != tc.status || errResp.Error.ErrorCode != tc.code {
				t.Fatalf("expected %d %s, got %d %+v", tc.status, tc.code, status, errResp.Error)
			}
		})
	}
}

func TestStageDiffPromoteOverHTTP(t *testing.T) {
	ts, root := newTestServer(t, nil)
	if status := doJSON(t, http.MethodPost, ts.URL+"/projects/demo/staged", `{"path":"output_pending/notes.md","content":"a\nb\n"}`, nil); status != http.StatusOK {
		t.Fatalf("stage failed: %d", status)
	}
	var patch struct {
		Diff  string `json:"diff"`
		Added int    `json:"added"`
	}
	if status := doJSON(t, http.MethodGet, ts.URL+"/projects/demo/diff?from_rel=output_pending/notes.md", "", &patch); status != http.StatusOK || patch.Added != 2 {
		t.Fatalf("unexpected diff %d %+v", status, patch)
	}
	if !strings.Contains(patch.Diff, "+a") {
		t.Fatalf("diff missing added line: %q", patch.Diff)
	}

	var record struct {
		PromotedTo string `json:"promoted_to"`
		Overwrote  bool   `json:"overwrote"`
	}
	if status := doJSON(t, http.MethodPost, ts.URL+"/projects/demo/promote", `{"from_rel":"output_pending/notes.md"}`, &record); status != http.StatusOK {
		t.Fatalf("promote failed: %d", status)
	}
	if record.PromotedTo != "output/notes.md" || record.Overwrote {
		t.Fatalf("unexpected record %+v", record)
	}
	if _, err := os.Stat(filepath.Join(root, "output", "notes.md")); err != nil {
		t.Fatalf("expected promoted file: %v", err)
	}

	var errResp errorBody
	status := doJSON(t, http.MethodPost, ts.URL+"/projects/demo/promote", `{"from_rel":"output_pending/notes.md","overwrite":false}`, &errResp)
	if status != http.StatusConflict || errResp.Error.ErrorCode != errinfo.CodeConflict {
		t.Fatalf("expected conflict, got %d %+v", status, errResp)
	}

	var deleted map[string]string
	if status := doJSON(t, http.MethodDelete, ts.URL+"/projects/demo/staged?path=output_pending/notes.md", "", &deleted); status != http.StatusOK || deleted["deleted"] != "output_pending/notes.md" {
		t.Fatalf("unexpected discard %d %v", status, deleted)
	}
}

func TestCORSPreflight(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/projects", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent || resp.Header.Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Fatalf("unexpected preflight %d %v", resp.StatusCode, resp.Header)
	}

	req, _ = http.NewRequest(http.MethodOptions, ts.URL+"/projects", nil)
	req.Header.Set("Origin", "http://evil.example")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden || resp.Header.Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("expected rejected preflight, got %d %v", resp.StatusCode, resp.Header)
	}
}

func TestAskStream(t *testing.T) {
	capability := agent.Func(func(ctx context.Context, req agent.Request, onChunk func(string)) (agent.Usage, error) {
		onChunk("hello ")
		onChunk("world")
		return agent.Usage{}, nil
	})
	ts, _ := newTestServer(t, capability)
	resp, err := http.Get(ts.URL + "/ask/stream?project_id=demo&prompt=hi")
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	var names []string
	for _, line := range strings.Split(string(data), "\n") {
		if name, ok := strings.CutPrefix(line, "event: "); ok {
			names = append(names, name)
		}
	}
	want := "status,status,status,chunk,chunk,done"
	if strings.Join(names, ",") != want {
		t.Fatalf("expected events %s, got %v", want, names)
	}
	if !strings.Contains(string(data), `"text":"hello world"`) {
		t.Fatalf("done event missing text:\n%s", data)
	}
}

func TestAskStreamError(t *testing.T) {
	ts, _ := newTestServer(t, agent.Func(func(ctx context.Context, req agent.Request, onChunk func(string)) (agent.Usage, error) {
		return agent.Usage{}, nil
	}))
	resp, err := http.Get(ts.URL + "/ask/stream?project_id=demo&prompt=")
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(data), "event: error") || !strings.Contains(string(data), errinfo.CodeValidationFailed) {
		t.Fatalf("expected error event, got:\n%s", data)
	}
}
