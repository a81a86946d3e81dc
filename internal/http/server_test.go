package http

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"fibudget/internal/cache"
	"fibudget/internal/core"
	"fibudget/internal/ledger/memory"
	"fibudget/internal/services"
)

func seedItem(id, path string, budgets ...float64) core.LineItem {
	li := core.LineItem{ID: id, Name: "item " + id, Path: path, Periods: map[core.Period]core.Metrics{}}
	for i, b := range budgets {
		li.Periods[core.Periods[i]] = core.Metrics{Budget: b}
	}
	return li
}

func newTestServer(t *testing.T, opts Options) *Server {
	t.Helper()
	store := memory.New()
	err := store.UpsertLineItems(context.Background(), core.DefaultVersion, []core.LineItem{
		seedItem("6100", "org/ops", 100, 200),
		seedItem("6200", "org/ops", 50),
		seedItem("7100", "org/sales", 10),
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	budget := services.NewBudgetService(store, cache.NewLRUCache[core.Rollup](16, time.Minute), nil)
	srv := NewServer(":0", budget, opts)
	t.Cleanup(func() { srv.rateLimiter.Stop() })
	return srv
}

func do(t *testing.T, srv *Server, method, target, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func TestHealthAndReady(t *testing.T) {
	srv := newTestServer(t, Options{})

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := do(t, srv, http.MethodGet, path, "", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d", path, rr.Code)
		}
		if rr.Header().Get("X-Request-ID") == "" {
			t.Errorf("%s missing request id", path)
		}
		if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
			t.Errorf("%s missing security headers", path)
		}
	}
}

func TestReadyReportsStoreFailure(t *testing.T) {
	srv := newTestServer(t, Options{
		Ready: func(context.Context) error { return errors.New("connection refused") },
	})

	rr := do(t, srv, http.MethodGet, "/readyz", "", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d, want 503", rr.Code)
	}
	body := decode[map[string]any](t, rr)
	if body["status"] != "not_ready" {
		t.Errorf("status field = %v", body["status"])
	}
}

func TestRollupEndpoint(t *testing.T) {
	srv := newTestServer(t, Options{})

	rr := do(t, srv, http.MethodGet, "/api/rollup?path=org", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	r := decode[core.Rollup](t, rr)
	if r.Root.Budget[0] != 160 || r.Root.Budget[1] != 200 || r.Root.Annual.Budget != 360 {
		t.Errorf("unexpected root %+v", r.Root)
	}
	if len(r.Items) != 3 {
		t.Errorf("items = %d, want 3", len(r.Items))
	}

	rr = do(t, srv, http.MethodGet, "/api/rollup?path=org/sales", "", "")
	if r := decode[core.Rollup](t, rr); r.Root.Annual.Budget != 10 {
		t.Errorf("org/sales annual = %v, want 10", r.Root.Annual.Budget)
	}

	rr = do(t, srv, http.MethodGet, "/api/rollup?level=12", "", "")
	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("invalid level status=%d, want 422", rr.Code)
	}
}

func TestLineItemsEndpoint(t *testing.T) {
	srv := newTestServer(t, Options{})

	rr := do(t, srv, http.MethodGet, "/api/line-items?path=org/ops", "", "")
	body := decode[struct {
		Items []core.LineItem `json:"items"`
	}](t, rr)
	if len(body.Items) != 2 || body.Items[0].ID != "6100" {
		t.Fatalf("unexpected items %+v", body.Items)
	}

	rr = do(t, srv, http.MethodGet, "/api/line-items?path=nowhere", "", "")
	if strings.TrimSpace(rr.Body.String()) != `{"items":[]}` {
		t.Errorf("empty selection body = %s", rr.Body.String())
	}
}

func TestSaveBudget(t *testing.T) {
	srv := newTestServer(t, Options{})

	// Warm the cache so the save must invalidate it.
	do(t, srv, http.MethodGet, "/api/rollup?path=org", "", "")

	rr := do(t, srv, http.MethodPost, "/api/budget", "application/json",
		`{"line_item_id":"6100","path":"org/ops","mode":"equal","annual":"1200"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	saved := decode[struct {
		ID      string             `json:"line_item_id"`
		Periods map[string]float64 `json:"periods"`
		Total   float64            `json:"total"`
	}](t, rr)
	if saved.ID != "6100" || saved.Periods["P01"] != 100 || saved.Total != 1200 {
		t.Errorf("unexpected response %+v", saved)
	}

	r := decode[core.Rollup](t, do(t, srv, http.MethodGet, "/api/rollup?path=org", "", ""))
	if r.Root.Annual.Budget != 1260 {
		t.Errorf("annual after save = %v, want 1260", r.Root.Annual.Budget)
	}
}

func TestSaveBudgetForm(t *testing.T) {
	srv := newTestServer(t, Options{})

	rr := do(t, srv, http.MethodPost, "/api/budget", "application/x-www-form-urlencoded",
		"line_item_id=7100&mode=monthly&monthly=1&monthly=2,5&monthly=abc")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	saved := decode[struct {
		Periods map[string]float64 `json:"periods"`
		Total   float64            `json:"total"`
	}](t, rr)
	if saved.Periods["P02"] != 2.5 || saved.Periods["P03"] != 0 || saved.Total != 3.5 {
		t.Errorf("unexpected response %+v", saved)
	}
}

func TestSaveBudgetErrors(t *testing.T) {
	srv := newTestServer(t, Options{})

	tests := []struct {
		name        string
		contentType string
		body        string
		want        int
	}{
		{"malformed", "application/json", `{"line_item_id":`, http.StatusBadRequest},
		{"unknown mode", "application/json", `{"line_item_id":"6100","mode":"weekly"}`, http.StatusUnprocessableEntity},
		{"empty id", "application/json", `{"mode":"equal","annual":1}`, http.StatusUnprocessableEntity},
		{"unknown item", "application/json", `{"line_item_id":"9999","mode":"equal","annual":1}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, srv, http.MethodPost, "/api/budget", tt.contentType, tt.body)
			if rr.Code != tt.want {
				t.Errorf("status=%d, want %d (body %s)", rr.Code, tt.want, rr.Body.String())
			}
		})
	}
}

func TestComputeZeroBased(t *testing.T) {
	srv := newTestServer(t, Options{})

	rr := do(t, srv, http.MethodPost, "/api/zero-based/compute", "application/json",
		`{"items":[{"description":"seats","costPerUnit":"10","values":[1,2]},`+
			`{"description":"travel","costPerUnit":5,"calcMode":"DRIVER","driverRate":2,"values":[3]}]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	res := decode[core.ZeroBasedResult](t, rr)
	if res.Monthly[0] != 40 || res.Monthly[1] != 20 || res.Annual != 60 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestTemplateLifecycle(t *testing.T) {
	srv := newTestServer(t, Options{})

	rr := do(t, srv, http.MethodPost, "/api/templates", "application/json",
		`{"name":"Seats","account_path":"org/ops","items":[{"description":"seat","costPerUnit":10,"values":[1]}]}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", rr.Code, rr.Body.String())
	}
	created := decode[core.ZeroBasedTemplate](t, rr)
	location := rr.Header().Get("Location")
	if created.ID == "" || !strings.HasPrefix(location, "/api/templates/"+created.ID) {
		t.Fatalf("created=%+v location=%q", created, location)
	}

	list := decode[struct {
		Templates []core.ZeroBasedTemplate `json:"templates"`
	}](t, do(t, srv, http.MethodGet, "/api/templates?account=org/ops", "", ""))
	if len(list.Templates) != 1 || list.Templates[0].Name != "Seats" {
		t.Fatalf("unexpected list %+v", list.Templates)
	}

	rr = do(t, srv, http.MethodGet, location, "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("load status=%d", rr.Code)
	}
	if loaded := decode[core.ZeroBasedTemplate](t, rr); len(loaded.Items) != 1 || loaded.Items[0].CostPerUnit != 10 {
		t.Errorf("unexpected loaded template %+v", loaded)
	}

	if rr := do(t, srv, http.MethodDelete, "/api/templates/"+created.ID, "", ""); rr.Code != http.StatusNoContent {
		t.Fatalf("delete status=%d", rr.Code)
	}
	if rr := do(t, srv, http.MethodGet, location, "", ""); rr.Code != http.StatusNotFound {
		t.Errorf("load after delete status=%d, want 404", rr.Code)
	}
	if rr := do(t, srv, http.MethodDelete, "/api/templates/"+created.ID, "", ""); rr.Code != http.StatusNotFound {
		t.Errorf("second delete status=%d, want 404", rr.Code)
	}
}

func TestTemplateValidation(t *testing.T) {
	srv := newTestServer(t, Options{})

	if rr := do(t, srv, http.MethodPost, "/api/templates", "application/json", `{"account_path":"org"}`); rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("missing name status=%d, want 422", rr.Code)
	}
	if rr := do(t, srv, http.MethodGet, "/api/templates", "", ""); rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("missing account status=%d, want 422", rr.Code)
	}
}

func TestRollupExport(t *testing.T) {
	srv := newTestServer(t, Options{})
	srv.now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }

	rr := do(t, srv, http.MethodGet, "/api/rollup/export?path=org/ops", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != xlsxContentType {
		t.Errorf("Content-Type = %q", ct)
	}
	if cd := rr.Header().Get("Content-Disposition"); !strings.Contains(cd, "rollup_org-ops_default_20260301.xlsx") {
		t.Errorf("Content-Disposition = %q", cd)
	}

	f, err := excelize.OpenReader(rr.Body)
	if err != nil {
		t.Fatalf("open export: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows("Rollup")
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(rows) < 2 || rows[0][0] != "Path" || rows[1][0] != "org/ops" {
		t.Errorf("unexpected rows %v", rows)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, Options{})

	do(t, srv, http.MethodPost, "/api/budget", "application/json", `{"line_item_id":"6100","mode":"equal","annual":12}`)
	do(t, srv, http.MethodGet, "/api/rollup/export", "", "")

	rr := do(t, srv, http.MethodGet, "/metrics", "", "")
	body := rr.Body.String()
	for _, want := range []string{
		"budgets_saved_total 1\n",
		"rollup_exports_total 1\n",
		"# TYPE http_requests_total counter",
		"rollup_streams_active 0\n",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, Options{})

	if rr := do(t, srv, http.MethodPut, "/api/rollup", "", ""); rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("PUT /api/rollup status=%d, want 405", rr.Code)
	}
	if rr := do(t, srv, http.MethodGet, "/api/budget", "", ""); rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /api/budget status=%d, want 405", rr.Code)
	}
}

func TestRateLimitOnWrites(t *testing.T) {
	srv := newTestServer(t, Options{RateLimitPerMinute: 2})

	for i := range 2 {
		if rr := do(t, srv, http.MethodPost, "/api/zero-based/compute", "application/json", `{}`); rr.Code != http.StatusOK {
			t.Fatalf("request %d status=%d", i, rr.Code)
		}
	}
	rr := do(t, srv, http.MethodPost, "/api/zero-based/compute", "application/json", `{}`)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status=%d, want 429", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
	// Reads are not limited.
	if rr := do(t, srv, http.MethodGet, "/api/rollup", "", ""); rr.Code != http.StatusOK {
		t.Errorf("GET after limit status=%d", rr.Code)
	}
}

func TestRollupStream(t *testing.T) {
	srv := newTestServer(t, Options{StreamHeartbeat: time.Hour})
	ts := httptest.NewServer(srv.Handler)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/rollup/stream?path=org/ops", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	events := bufio.NewReader(resp.Body)
	next := func() core.Rollup {
		t.Helper()
		for {
			line, err := events.ReadString('\n')
			if err != nil {
				t.Fatalf("read event: %v", err)
			}
			if data, ok := strings.CutPrefix(line, "data: "); ok {
				var r core.Rollup
				if err := json.Unmarshal([]byte(data), &r); err != nil {
					t.Fatalf("decode event: %v", err)
				}
				return r
			}
		}
	}

	if first := next(); first.Root.Annual.Budget != 350 {
		t.Fatalf("first event annual = %v, want 350", first.Root.Annual.Budget)
	}

	post, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.URL+"/api/budget",
		strings.NewReader(`{"line_item_id":"6200","mode":"equal","annual":120}`))
	if err != nil {
		t.Fatal(err)
	}
	post.Header.Set("Content-Type", "application/json")
	postResp, err := ts.Client().Do(post)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	postResp.Body.Close()

	if second := next(); second.Root.Annual.Budget != 420 {
		t.Errorf("second event annual = %v, want 420", second.Root.Annual.Budget)
	}
}
