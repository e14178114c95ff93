package daemon

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"portalpilot/internal/api"
	"portalpilot/internal/browser/browsertest"
	"portalpilot/internal/config"
	"portalpilot/internal/logging"
	"portalpilot/internal/queue"
	"portalpilot/internal/testsupport"
	"portalpilot/internal/workflow"
)

type apiHarness struct {
	cfg     *config.Config
	store   *queue.Store
	daemon  *Daemon
	handler http.Handler
}

func newAPIHarness(t *testing.T, opts ...testsupport.ConfigOption) *apiHarness {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	engine := workflow.NewEngine(cfg, store, browsertest.New(), logging.NewNop())
	hub := logging.NewStreamHub(16)
	d, err := New(cfg, store, engine, logging.NewNop(), hub, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return &apiHarness{cfg: cfg, store: store, daemon: d, handler: d.api.handler(cfg.Paths.APIToken)}
}

func (h *apiHarness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token := h.cfg.Paths.APIToken; token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func TestQueueLifecycleOverHTTP(t *testing.T) {
	h := newAPIHarness(t)

	w := h.do(t, http.MethodPost, "/api/queue", api.EnqueueRequest{
		Payload:  queue.Payload{Title: "Okul Gezisi", Tags: []string{"gezi"}},
		Priority: 2,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("POST /api/queue = %d: %s", w.Code, w.Body.String())
	}
	created := decodeBody[api.QueueItemResponse](t, w).Item
	if created.ID == "" || created.Status != "pending" || created.Priority != 2 {
		t.Fatalf("created = %+v", created)
	}

	w = h.do(t, http.MethodGet, "/api/queue/"+created.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET item = %d", w.Code)
	}

	title := "Okul Gezisi (güncel)"
	w = h.do(t, http.MethodPatch, "/api/queue/"+created.ID, queue.ItemUpdate{
		Payload: &queue.Payload{Title: title},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("PATCH = %d: %s", w.Code, w.Body.String())
	}
	if got := decodeBody[api.QueueItemResponse](t, w).Item.Title; got != title {
		t.Fatalf("updated title = %q", got)
	}

	w = h.do(t, http.MethodGet, "/api/queue?status=pending", nil)
	if list := decodeBody[api.QueueListResponse](t, w); len(list.Items) != 1 {
		t.Fatalf("list = %+v", list)
	}

	w = h.do(t, http.MethodGet, "/api/queue/statistics", nil)
	if stats := decodeBody[queue.Statistics](t, w); stats.Total != 1 || stats.Pending != 1 {
		t.Fatalf("stats = %+v", stats)
	}

	w = h.do(t, http.MethodDelete, "/api/queue/"+created.ID, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("DELETE = %d", w.Code)
	}
	w = h.do(t, http.MethodGet, "/api/queue/"+created.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET deleted = %d, want 404", w.Code)
	}
}

func TestQueueValidationErrorsAreBadRequests(t *testing.T) {
	h := newAPIHarness(t)

	w := h.do(t, http.MethodPost, "/api/queue", api.EnqueueRequest{Payload: queue.Payload{Title: "  "}})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("empty title = %d, want 400", w.Code)
	}
	w = h.do(t, http.MethodPost, "/api/queue/reorder", api.ReorderRequest{OldIndex: 0, NewIndex: 3})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("reorder out of range = %d, want 400", w.Code)
	}
	w = h.do(t, http.MethodGet, "/api/queue?status=bogus", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unknown status = %d, want 400", w.Code)
	}
	w = h.do(t, http.MethodGet, "/api/queue/export?format=xml", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unknown export format = %d, want 400", w.Code)
	}
}

func TestQueueExportCSV(t *testing.T) {
	h := newAPIHarness(t)
	testsupport.NewItem(t, h.store, "Kitap Fuarı", 0)

	w := h.do(t, http.MethodGet, "/api/queue/export?format=csv", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("export = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("content type = %q", ct)
	}
	if !strings.Contains(w.Body.String(), "Kitap Fuarı") {
		t.Fatalf("csv body missing title: %s", w.Body.String())
	}
}

func TestQueueExportImportRoundTrip(t *testing.T) {
	h := newAPIHarness(t)
	testsupport.NewItem(t, h.store, "Kitap Fuarı", 0)
	testsupport.NewItem(t, h.store, "Bilim Şenliği", 3)

	exported := h.do(t, http.MethodGet, "/api/queue/export?format=json", nil)
	if exported.Code != http.StatusOK {
		t.Fatalf("export = %d", exported.Code)
	}
	if w := h.do(t, http.MethodPost, "/api/queue/clear", nil); w.Code != http.StatusOK {
		t.Fatalf("clear = %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/queue/import", bytes.NewReader(exported.Body.Bytes()))
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("import = %d: %s", w.Code, w.Body.String())
	}
	if got := decodeBody[api.CountResponse](t, w); got.Count != 2 {
		t.Fatalf("imported %d items", got.Count)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/queue/import", strings.NewReader("not json"))
	w = httptest.NewRecorder()
	h.handler.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad import = %d", w.Code)
	}
}

func TestUploadYAMLDocument(t *testing.T) {
	h := newAPIHarness(t)
	body := "baslik: Spor Şenliği\netiketler:\n  - spor\n  - şenlik\n"
	req := httptest.NewRequest(http.MethodPost, "/api/queue/upload?format=yaml&priority=4", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("upload = %d: %s", w.Code, w.Body.String())
	}
	results := decodeBody[[]api.UploadResult](t, w)
	if len(results) != 1 || results[0].Item == nil || results[0].Item.Priority != 4 {
		t.Fatalf("results = %+v", results)
	}
}

func TestAutomationControlErrors(t *testing.T) {
	h := newAPIHarness(t)

	w := h.do(t, http.MethodPost, "/api/automation/start", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("start before daemon start = %d, want 503", w.Code)
	}
	w = h.do(t, http.MethodPost, "/api/automation/pause", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("pause while idle = %d, want 409", w.Code)
	}
	w = h.do(t, http.MethodPost, "/api/automation/confirm", api.ConfirmRequest{Approved: true})
	if w.Code != http.StatusConflict {
		t.Fatalf("confirm without gate = %d, want 409", w.Code)
	}
	w = h.do(t, http.MethodPost, "/api/automation/stop", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("idempotent stop = %d, want 200", w.Code)
	}
	if st := decodeBody[api.EngineStatus](t, w); st.Status != "idle" {
		t.Fatalf("status after stop = %+v", st)
	}
	w = h.do(t, http.MethodPost, "/api/automation/launch", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown action = %d, want 404", w.Code)
	}
}

func TestBearerTokenRequired(t *testing.T) {
	h := newAPIHarness(t, testsupport.WithAPIToken("s3cret"))

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("missing token = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	h.handler.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token = %d, want 401", w.Code)
	}

	w = h.do(t, http.MethodGet, "/api/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("valid token = %d, want 200", w.Code)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected a request id header")
	}
}

func TestLogsTail(t *testing.T) {
	h := newAPIHarness(t)
	hub := h.daemon.LogStream()
	hub.Publish(logging.LogEvent{Level: "INFO", Message: "first", Component: "engine", ItemID: "queue-1"})
	hub.Publish(logging.LogEvent{Level: "INFO", Message: "second", Component: "queue"})

	w := h.do(t, http.MethodGet, "/api/logs?tail=1&component=engine", nil)
	resp := decodeBody[api.LogStreamResponse](t, w)
	if len(resp.Events) != 1 || resp.Events[0].Message != "first" {
		t.Fatalf("events = %+v", resp.Events)
	}
	if resp.Next != 2 {
		t.Fatalf("next = %d, want 2", resp.Next)
	}
}

func TestEventsStreamSendsInitialState(t *testing.T) {
	h := newAPIHarness(t)
	server := httptest.NewServer(h.handler)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/events", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := server.Client().Do(req)
	if err != nil {
		t.Fatalf("GET /api/events: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read event line: %v", err)
	}
	if strings.TrimSpace(line) != "event: state" {
		t.Fatalf("first line = %q", line)
	}
	data, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read data line: %v", err)
	}
	var st api.EngineStatus
	if err := json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(data), "data: ")), &st); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if st.Status != "idle" || st.TotalSteps != 15 {
		t.Fatalf("state = %+v", st)
	}
}
