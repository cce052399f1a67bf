package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/xuri/excelize/v2"
	"golang.org/x/time/rate"
	yaml "gopkg.in/yaml.v3"

	"freightalloc/internal/auth"
	"freightalloc/internal/metrics"
	"freightalloc/internal/model"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	for _, k := range []string{"DATABASE_URL", "REDIS_URL", "CAPACITY_CONFIG", "WEBHOOK_URLS", "AUTH_MODE", "ALLOCATION_STRATEGY", "SOLVER_TIME_BUDGET_MS"} {
		t.Setenv(k, "")
	}
	t.Setenv("RATE_RPS", "0")
	s, err := NewServer()
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s
}

func do(t *testing.T, h http.Handler, method, path, role string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if role != "" {
		req.Header.Set("X-Role", role)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

const seedContracts = `{"contracts":[
 {"id":"c1","issuer":"Corp A","origin":"UALX","destination":"Jita","volume":100000,"reward":300000000,"distanceLy":35.357,"direction":"outbound"},
 {"id":"c2","issuer":"Corp B","origin":"UALX","destination":"Jita","volume":60000,"reward":200000000,"distanceLy":35.357,"direction":"outbound"},
 {"id":"c3","issuer":"Corp C","origin":"Jita","destination":"UALX","volume":50000,"reward":90000000,"distanceLy":52.276,"direction":"inbound"},
 {"id":"bad","volume":0,"reward":1,"direction":"inbound"}
]}`

func seed(t *testing.T, h http.Handler) {
	t.Helper()
	rr := do(t, h, http.MethodPost, "/v1/contracts", "dispatcher", []byte(seedContracts))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("seed contracts: %d %s", rr.Code, rr.Body)
	}
}

func TestHealthReady(t *testing.T) {
	h := newTestServer(t).Routes()
	if rr := do(t, h, http.MethodGet, "/healthz", "", nil); rr.Code != 200 {
		t.Fatalf("health: got %d", rr.Code)
	}
	if rr := do(t, h, http.MethodGet, "/readyz", "", nil); rr.Code != 200 {
		t.Fatalf("ready: got %d", rr.Code)
	}
}

func TestRequestIDEchoed(t *testing.T) {
	h := newTestServer(t).Routes()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "abc-123")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Request-Id"); got != "abc-123" {
		t.Fatalf("X-Request-Id = %q", got)
	}
	rr = do(t, h, http.MethodGet, "/healthz", "", nil)
	if rr.Header().Get("X-Request-Id") == "" {
		t.Fatal("request id not minted")
	}
}

func TestContractsCreateListGetDelete(t *testing.T) {
	h := newTestServer(t).Routes()
	rr := do(t, h, http.MethodPost, "/v1/contracts", "dispatcher", []byte(seedContracts))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("create: %d %s", rr.Code, rr.Body)
	}
	var res struct {
		ImportID string `json:"importId"`
		Created  int    `json:"created"`
		Updated  int    `json:"updated"`
		Rejected []struct {
			ContractID string `json:"contractId"`
			Reason     string `json:"reason"`
		} `json:"rejected"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.ImportID == "" || res.Created != 3 || len(res.Rejected) != 1 || res.Rejected[0].ContractID != "bad" {
		t.Fatalf("import result = %+v", res)
	}

	rr = do(t, h, http.MethodPost, "/v1/contracts", "dispatcher", []byte(seedContracts))
	_ = json.Unmarshal(rr.Body.Bytes(), &res)
	if res.Created != 0 || res.Updated != 3 {
		t.Fatalf("re-import = %+v", res)
	}

	rr = do(t, h, http.MethodGet, "/v1/contracts?direction=outbound&limit=5", "viewer", nil)
	var list struct {
		Items []model.Contract `json:"items"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil || rr.Code != 200 {
		t.Fatalf("list: %d %v", rr.Code, err)
	}
	if len(list.Items) != 2 {
		t.Fatalf("outbound contracts = %d, want 2", len(list.Items))
	}
	if rr := do(t, h, http.MethodGet, "/v1/contracts?direction=sideways", "viewer", nil); rr.Code != 400 {
		t.Fatalf("bad direction: %d", rr.Code)
	}

	if rr := do(t, h, http.MethodGet, "/v1/contracts/c1", "viewer", nil); rr.Code != 200 {
		t.Fatalf("get: %d", rr.Code)
	}
	if rr := do(t, h, http.MethodDelete, "/v1/contracts/c1", "dispatcher", nil); rr.Code != http.StatusForbidden {
		t.Fatalf("dispatcher delete: %d", rr.Code)
	}
	if rr := do(t, h, http.MethodDelete, "/v1/contracts/c1", "admin", nil); rr.Code != http.StatusNoContent {
		t.Fatalf("admin delete: %d", rr.Code)
	}
	if rr := do(t, h, http.MethodGet, "/v1/contracts/c1", "viewer", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("get deleted: %d", rr.Code)
	}
}

func TestContractCSVImport(t *testing.T) {
	h := newTestServer(t).Routes()
	csv := "contract_id,issuer_name,start_location_name,end_location_name,end_system_id,volume,reward,lightyears\n" +
		"101,Corp A,Jita,UALX,30004807,100000,300000000,52.276\n" +
		"102,Corp B,UALX,Jita,30000142,50000,90000000,35.357\n" +
		"103,Corp C,Jita,Amarr,30002187,1000,1000,10\n"
	rr := do(t, h, http.MethodPost, "/v1/contracts/import", "dispatcher", []byte(csv))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("import: %d %s", rr.Code, rr.Body)
	}
	var res struct {
		Created  int `json:"created"`
		Rejected []struct {
			Line       int    `json:"line"`
			ContractID string `json:"contractId"`
		} `json:"rejected"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Created != 2 || len(res.Rejected) != 1 || res.Rejected[0].ContractID != "103" || res.Rejected[0].Line != 4 {
		t.Fatalf("import result = %+v", res)
	}

	rr = do(t, h, http.MethodPost, "/v1/contracts/import", "dispatcher", []byte("id,volume\n1,2\n"))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing columns: %d", rr.Code)
	}
	if rr := do(t, h, http.MethodPost, "/v1/contracts/import", "viewer", []byte(csv)); rr.Code != http.StatusForbidden {
		t.Fatalf("viewer import: %d", rr.Code)
	}
}

func postAllocation(t *testing.T, h http.Handler, query, body string) (*httptest.ResponseRecorder, *model.Allocation) {
	t.Helper()
	rr := do(t, h, http.MethodPost, "/v1/allocations"+query, "dispatcher", []byte(body))
	if rr.Code != http.StatusCreated || rr.Header().Get("Content-Type") != "application/json" {
		return rr, nil
	}
	var a model.Allocation
	if err := json.Unmarshal(rr.Body.Bytes(), &a); err != nil {
		t.Fatalf("decode allocation: %v", err)
	}
	return rr, &a
}

func TestAllocationFromStoredContracts(t *testing.T) {
	s := newTestServer(t)
	h := s.Routes()
	seed(t, h)

	rr, a := postAllocation(t, h, "", `{"fuelUnitPrice":1}`)
	if a == nil {
		t.Fatalf("allocate: %d %s", rr.Code, rr.Body)
	}
	if a.BinCount(model.Outbound) != 1 || a.BinCount(model.Inbound) != 1 {
		t.Fatalf("bins = %d outbound, %d inbound", a.BinCount(model.Outbound), a.BinCount(model.Inbound))
	}
	if a.Strategy != "heuristic" || len(a.EmptyLegs) != 0 {
		t.Fatalf("allocation = %+v", a)
	}
	if loc := rr.Header().Get("Location"); loc != "/v1/allocations/"+a.RunID {
		t.Fatalf("Location = %q", loc)
	}

	rr = do(t, h, http.MethodGet, "/v1/allocations", "viewer", nil)
	var list struct {
		Items []struct {
			RunID        string `json:"runId"`
			OutboundBins int    `json:"outboundBins"`
		} `json:"items"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Items) != 1 || list.Items[0].RunID != a.RunID || list.Items[0].OutboundBins != 1 {
		t.Fatalf("allocations list = %+v", list.Items)
	}

	rr = do(t, h, http.MethodGet, "/v1/allocations/"+a.RunID+"?format=text", "viewer", nil)
	if rr.Code != 200 || !strings.Contains(rr.Body.String(), "=== OUTBOUND ===") {
		t.Fatalf("text manifest: %d %s", rr.Code, rr.Body)
	}
	if rr := do(t, h, http.MethodGet, "/v1/allocations/missing", "viewer", nil); rr.Code != 404 {
		t.Fatalf("missing allocation: %d", rr.Code)
	}

	rr = do(t, h, http.MethodGet, "/debug/vars.json", "", nil)
	var dbg struct {
		SolverRuns map[string]any `json:"solverRuns"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &dbg); err != nil {
		t.Fatal(err)
	}
	if _, ok := dbg.SolverRuns[a.RunID]; !ok {
		t.Fatalf("debug vars missing run %s", a.RunID)
	}
}

func TestAllocationInlineContractsExact(t *testing.T) {
	h := newTestServer(t).Routes()
	body := `{"fuelUnitPrice":750,"strategy":"exact","timeBudgetMs":500,"contracts":[
	 {"id":"a","volume":200000,"reward":1,"direction":"outbound"},
	 {"id":"b","volume":150000,"reward":1,"direction":"outbound"},
	 {"id":"c","volume":200000,"reward":1,"direction":"outbound"},
	 {"id":"d","volume":150000,"reward":1,"direction":"outbound"}]}`
	rr, a := postAllocation(t, h, "", body)
	if a == nil {
		t.Fatalf("allocate: %d %s", rr.Code, rr.Body)
	}
	if a.Strategy != "exact" || a.BinCount(model.Outbound) != 2 || !a.Optimal[model.Outbound] {
		t.Fatalf("exact allocation: strategy=%s bins=%d optimal=%v", a.Strategy, a.BinCount(model.Outbound), a.Optimal)
	}
	// two outbound vessels and none inbound: two empty legs back
	if len(a.EmptyLegs) != 1 || a.EmptyLegs[0].Direction != model.Inbound || a.EmptyLegs[0].Vessels != 2 {
		t.Fatalf("empty legs = %+v", a.EmptyLegs)
	}
}

func TestAllocationRejectsBadRequests(t *testing.T) {
	h := newTestServer(t).Routes()
	tests := map[string]struct {
		query, body string
	}{
		"zero price":    {"", `{"fuelUnitPrice":0}`},
		"bad strategy":  {"", `{"fuelUnitPrice":1,"strategy":"annealing"}`},
		"negative cap":  {"", `{"fuelUnitPrice":1,"maxBinsPerDirection":-1}`},
		"huge budget":   {"", `{"fuelUnitPrice":1,"timeBudgetMs":600000}`},
		"bad format":    {"?format=pdf", `{"fuelUnitPrice":1}`},
		"malformed":     {"", `{"fuelUnitPrice":`},
		"bad direction": {"", `{"fuelUnitPrice":1,"contracts":[{"id":"x","volume":1,"direction":"up"}]}`},
	}
	for name, tt := range tests {
		rr := do(t, h, http.MethodPost, "/v1/allocations"+tt.query, "dispatcher", []byte(tt.body))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: got %d, want 400", name, rr.Code)
		}
	}
	if rr := do(t, h, http.MethodPost, "/v1/allocations", "viewer", []byte(`{"fuelUnitPrice":1}`)); rr.Code != http.StatusForbidden {
		t.Fatalf("viewer allocate: %d", rr.Code)
	}
}

func TestAllocationRateLimited(t *testing.T) {
	s := newTestServer(t)
	s.Limiter = rate.NewLimiter(0, 1)
	h := s.Routes()
	if rr, a := postAllocation(t, h, "", `{"fuelUnitPrice":1}`); a == nil {
		t.Fatalf("first allocation: %d %s", rr.Code, rr.Body)
	}
	rr := do(t, h, http.MethodPost, "/v1/allocations", "dispatcher", []byte(`{"fuelUnitPrice":1}`))
	if rr.Code != http.StatusTooManyRequests || rr.Header().Get("Retry-After") == "" {
		t.Fatalf("second allocation: %d", rr.Code)
	}
}

func TestAllocationXLSX(t *testing.T) {
	h := newTestServer(t).Routes()
	seed(t, h)
	rr := do(t, h, http.MethodPost, "/v1/allocations?format=xlsx", "dispatcher", []byte(`{"fuelUnitPrice":1}`))
	if rr.Code != http.StatusCreated {
		t.Fatalf("xlsx: %d %s", rr.Code, rr.Body)
	}
	if !strings.Contains(rr.Header().Get("Content-Disposition"), ".xlsx") {
		t.Fatalf("Content-Disposition = %q", rr.Header().Get("Content-Disposition"))
	}
	f, err := excelize.OpenReader(rr.Body)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := f.GetRows("Outbound")
	if err != nil || len(rows) != 3 {
		t.Fatalf("outbound rows = %v err=%v", rows, err)
	}
}

func TestAllocationPublishesEvent(t *testing.T) {
	s := newTestServer(t)
	h := s.Routes()
	ch := s.Broker.Subscribe(TopicAllocations)
	defer s.Broker.Unsubscribe(TopicAllocations, ch)

	_, a := postAllocation(t, h, "", `{"fuelUnitPrice":1,"contracts":[{"id":"x","volume":1000,"reward":5,"direction":"inbound"}]}`)
	if a == nil {
		t.Fatal("allocation failed")
	}
	select {
	case evt := <-ch:
		if evt.Type != "allocation.completed" || evt.Data["runId"] != a.RunID {
			t.Fatalf("event = %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("no allocation event")
	}
}

func TestHMACModeRequiresToken(t *testing.T) {
	s := newTestServer(t)
	s.Auth = &auth.Verifier{Mode: "hmac", HMACSecret: []byte("k"), RoleClaim: "role"}
	h := s.Routes()
	if rr := do(t, h, http.MethodGet, "/v1/contracts", "admin", nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("header role in hmac mode: %d", rr.Code)
	}
	req := httptest.NewRequest(http.MethodGet, "/v1/contracts", nil)
	req.Header.Set("Authorization", "Bearer nope")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: %d", rr.Code)
	}
	if rr := do(t, h, http.MethodGet, "/v1/capacity", "", nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous capacity read: %d", rr.Code)
	}
	if rr := do(t, h, http.MethodGet, "/healthz", "", nil); rr.Code != 200 {
		t.Fatalf("health must stay open: %d", rr.Code)
	}
}

func TestCapacityHandler(t *testing.T) {
	h := newTestServer(t).Routes()
	rr := do(t, h, http.MethodGet, "/v1/capacity", "", nil)
	var cfg struct {
		FuelUnitsPerLightYear float64 `json:"fuelUnitsPerLightYear"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &cfg); err != nil || cfg.FuelUnitsPerLightYear != 2200 {
		t.Fatalf("capacity json: %s err=%v", rr.Body, err)
	}
	rr = do(t, h, http.MethodGet, "/v1/capacity?format=yaml", "", nil)
	if rr.Header().Get("Content-Type") != "application/yaml" || !strings.Contains(rr.Body.String(), "fuelUnitsPerLightYear: 2200") {
		t.Fatalf("capacity yaml: %s", rr.Body)
	}
}

func TestOpenAPIDocumentsRoutes(t *testing.T) {
	h := newTestServer(t).Routes()
	rr := do(t, h, http.MethodGet, "/openapi.yaml", "", nil)
	var doc struct {
		Paths map[string]any `yaml:"paths"`
	}
	if err := yaml.Unmarshal(rr.Body.Bytes(), &doc); err != nil {
		t.Fatalf("openapi.yaml: %v", err)
	}
	for _, p := range []string{"/v1/contracts", "/v1/contracts/import", "/v1/contracts/{id}", "/v1/allocations", "/v1/allocations/{runId}", "/v1/capacity", "/v1/events/stream", "/v1/events/ws"} {
		if _, ok := doc.Paths[p]; !ok {
			t.Errorf("openapi missing %s", p)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	metrics.RegisterDefault()
	h := newTestServer(t).Routes()
	do(t, h, http.MethodGet, "/healthz", "", nil)
	rr := do(t, h, http.MethodGet, "/metrics", "", nil)
	if rr.Code != 200 || !strings.Contains(rr.Body.String(), `http_requests_total{method="GET",path="/healthz",status="200"}`) {
		t.Fatalf("metrics: %d\n%s", rr.Code, rr.Body)
	}
}

func TestEventsStreamSSE(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Routes())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/events/stream?topic=allocations", nil)
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}
	rd := bufio.NewReader(resp.Body)
	line, err := rd.ReadString('\n')
	if err != nil || line != "event: heartbeat\n" {
		t.Fatalf("first line = %q err=%v", line, err)
	}
	// subscribed before the heartbeat was written
	s.Broker.Publish(TopicAllocations, SSEEvent{Type: "allocation.completed", Data: map[string]any{"runId": "r9"}})
	for {
		line, err := rd.ReadString('\n')
		if err != nil {
			t.Fatalf("stream ended: %v", err)
		}
		if line == "event: allocation.completed\n" {
			data, _ := rd.ReadString('\n')
			if !strings.Contains(data, `"runId":"r9"`) {
				t.Fatalf("data = %q", data)
			}
			return
		}
	}
}

func TestEventsWebSocket(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Routes())
	defer ts.Close()

	c, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/v1/events/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))

	read := func(want string) wsMessage {
		t.Helper()
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				t.Fatalf("read %s: %v", want, err)
			}
			if m.Type == want {
				return m
			}
		}
	}
	if err := c.WriteJSON(wsMessage{Type: "connection_init"}); err != nil {
		t.Fatal(err)
	}
	read("connection_ack")

	if err := c.WriteJSON(wsMessage{Type: "subscribe", ID: "1", Payload: json.RawMessage(`{"topic":"nope"}`)}); err != nil {
		t.Fatal(err)
	}
	if m := read("error"); m.ID != "1" {
		t.Fatalf("error id = %q", m.ID)
	}

	pl := json.RawMessage(`{"topic":"allocations","types":["allocation.completed"]}`)
	if err := c.WriteJSON(wsMessage{Type: "subscribe", ID: "2", Payload: pl}); err != nil {
		t.Fatal(err)
	}
	// messages are handled in order, so the pong confirms the subscription
	_ = c.WriteJSON(wsMessage{Type: "ping"})
	read("pong")

	s.Broker.Publish(TopicAllocations, SSEEvent{Type: "contracts.ignored"})
	s.Broker.Publish(TopicAllocations, SSEEvent{Type: "allocation.completed", Data: map[string]any{"runId": "r7"}})
	m := read("next")
	var evt SSEEvent
	if err := json.Unmarshal(m.Payload, &evt); err != nil {
		t.Fatal(err)
	}
	if m.ID != "2" || evt.Type != "allocation.completed" || evt.Data["runId"] != "r7" {
		t.Fatalf("next = %+v %+v", m, evt)
	}

	_ = c.WriteJSON(wsMessage{Type: "complete", ID: "2"})
	if m := read("complete"); m.ID != "2" {
		t.Fatalf("complete id = %q", m.ID)
	}
}

func TestProblemBody(t *testing.T) {
	h := newTestServer(t).Routes()
	rr := do(t, h, http.MethodPost, "/v1/allocations", "dispatcher", []byte(`{"fuelUnitPrice":-1}`))
	if ct := rr.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Fatalf("Content-Type = %q", ct)
	}
	var p Problem
	if err := json.Unmarshal(rr.Body.Bytes(), &p); err != nil {
		t.Fatal(err)
	}
	if p.Type != "/problems/invalid-allocation-request" || p.Status != 400 || p.Instance != "/v1/allocations" {
		t.Fatalf("problem = %+v", p)
	}
}
