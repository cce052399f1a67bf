package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"freightalloc/internal/auth"
	"freightalloc/internal/engine"
	"freightalloc/internal/integrations"
	"freightalloc/internal/integrations/csvfile"
	"freightalloc/internal/manifest"
	"freightalloc/internal/model"
	"freightalloc/internal/store"
)

const maxImportBytes = 32 << 20

// ContractsHandler handles POST/GET /v1/contracts
func (s *Server) ContractsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		if !s.require(w, r, auth.RoleDispatcher) {
			return
		}
		var req struct {
			Contracts []model.Contract `json:"contracts"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxImportBytes)).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		s.saveContracts(w, r, integrations.ContractBatch{Contracts: req.Contracts})
	case http.MethodGet:
		if !s.require(w, r, auth.RoleViewer, auth.RoleDispatcher) {
			return
		}
		q := r.URL.Query()
		var dir model.Direction
		if v := q.Get("direction"); v != "" {
			d, err := model.ParseDirection(v)
			if err != nil {
				writeProblem(w, http.StatusBadRequest, "Invalid direction", err.Error(), r.URL.Path)
				return
			}
			dir = d
		}
		items, next, err := s.Store.ListContracts(r.Context(), dir, q.Get("cursor"), queryInt(q.Get("limit"), 100))
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List contracts failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// ContractImportHandler handles POST /v1/contracts/import with a CSV body from
// the contract exporter.
func (s *Server) ContractImportHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.require(w, r, auth.RoleDispatcher) {
		return
	}
	batch, err := csvfile.Parse(r.Context(), http.MaxBytesReader(w, r.Body, maxImportBytes), s.Engine.Model.Hubs())
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid CSV", err.Error(), r.URL.Path)
		return
	}
	s.saveContracts(w, r, batch)
}

// saveContracts stores the valid part of batch and reports every rejected row.
func (s *Server) saveContracts(w http.ResponseWriter, r *http.Request, batch integrations.ContractBatch) {
	valid, rejected := validateContracts(batch.Contracts)
	rejected = append(batch.Rejected, rejected...)
	if rejected == nil {
		rejected = []integrations.Rejected{}
	}
	importID, created, updated := "", 0, 0
	if len(valid) > 0 {
		var err error
		importID, created, updated, err = s.Store.SaveContracts(r.Context(), valid)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Save contracts failed", err.Error(), r.URL.Path)
			return
		}
		s.Broker.Publish(TopicContracts, SSEEvent{Type: "contracts.imported", Data: map[string]any{
			"importId": importID, "created": created, "updated": updated, "rejected": len(rejected),
		}})
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"importId": importID, "created": created, "updated": updated, "rejected": rejected})
}

// ContractByIDHandler handles GET/DELETE /v1/contracts/{id}
func (s *Server) ContractByIDHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/contracts/")
	if id == "" || strings.Contains(id, "/") {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	switch r.Method {
	case http.MethodGet:
		if !s.require(w, r, auth.RoleViewer, auth.RoleDispatcher) {
			return
		}
		c, err := s.Store.GetContract(r.Context(), id)
		if err != nil {
			writeStoreError(w, r, "Get contract failed", err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	case http.MethodDelete:
		if !s.require(w, r, auth.RoleAdmin) {
			return
		}
		if err := s.Store.DeleteContract(r.Context(), id); err != nil {
			writeStoreError(w, r, "Delete contract failed", err)
			return
		}
		s.Broker.Publish(TopicContracts, SSEEvent{Type: "contract.deleted", Data: map[string]any{"id": id}})
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// AllocationsHandler handles POST/GET /v1/allocations
func (s *Server) AllocationsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.runAllocation(w, r)
	case http.MethodGet:
		if !s.require(w, r, auth.RoleViewer, auth.RoleDispatcher) {
			return
		}
		q := r.URL.Query()
		items, next, err := s.Store.ListAllocations(r.Context(), q.Get("cursor"), queryInt(q.Get("limit"), 50))
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List allocations failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) runAllocation(w http.ResponseWriter, r *http.Request) {
	if !s.require(w, r, auth.RoleDispatcher) {
		return
	}
	format, err := parseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid format", err.Error(), r.URL.Path)
		return
	}
	if s.Limiter != nil && !s.Limiter.Allow() {
		w.Header().Set("Retry-After", "1")
		writeProblem(w, http.StatusTooManyRequests, "Too Many Requests", "allocation rate limit exceeded", r.URL.Path)
		return
	}
	var req allocationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxImportBytes)).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := validateAllocationRequest(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid allocation request", err.Error(), r.URL.Path)
		return
	}
	ereq := s.engineRequest(req)
	if len(ereq.Contracts) == 0 {
		stored, err := s.storedContracts(r.Context())
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Load contracts failed", err.Error(), r.URL.Path)
			return
		}
		ereq.Contracts = stored
	}

	a, err := s.Engine.Run(r.Context(), ereq)
	if err != nil {
		if errors.Is(err, engine.ErrInvalidRequest) {
			writeProblem(w, http.StatusBadRequest, "Invalid allocation request", err.Error(), r.URL.Path)
			return
		}
		writeProblem(w, http.StatusInternalServerError, "Allocation failed", err.Error(), r.URL.Path)
		return
	}
	if err := s.Store.SaveAllocation(r.Context(), a); err != nil {
		writeProblem(w, http.StatusInternalServerError, "Save allocation failed", err.Error(), r.URL.Path)
		return
	}

	summary := allocationEventData(a)
	s.Broker.Publish(TopicAllocations, SSEEvent{Type: "allocation.completed", Data: summary})
	s.Pub.Emit(r.Context(), "allocation.completed", summary)

	w.Header().Set("Location", "/v1/allocations/"+a.RunID)
	writeAllocation(w, r, http.StatusCreated, a, format)
}

// storedContracts pages through every stored contract.
func (s *Server) storedContracts(ctx context.Context) ([]model.Contract, error) {
	var all []model.Contract
	cursor := ""
	for {
		items, next, err := s.Store.ListContracts(ctx, "", cursor, 500)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
		if next == "" {
			return all, nil
		}
		cursor = next
	}
}

// AllocationByIDHandler handles GET /v1/allocations/{runId}
func (s *Server) AllocationByIDHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.require(w, r, auth.RoleViewer, auth.RoleDispatcher) {
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/v1/allocations/")
	if id == "" || strings.Contains(id, "/") {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	format, err := parseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid format", err.Error(), r.URL.Path)
		return
	}
	a, err := s.Store.GetAllocation(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, "Get allocation failed", err)
		return
	}
	writeAllocation(w, r, http.StatusOK, a, format)
}

// CapacityHandler handles GET /v1/capacity; ?format=yaml returns the file form.
func (s *Server) CapacityHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.require(w, r, auth.RoleViewer, auth.RoleDispatcher) {
		return
	}
	if r.URL.Query().Get("format") == "yaml" {
		b, err := s.Engine.Model.Marshal()
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Encode capacity failed", err.Error(), r.URL.Path)
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(b)
		return
	}
	writeJSON(w, http.StatusOK, s.Engine.Model.Config())
}

// EventsStreamHandler handles GET /v1/events/stream?topic=allocations (SSE)
func (s *Server) EventsStreamHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.require(w, r, auth.RoleViewer, auth.RoleDispatcher) {
		return
	}
	topic := r.URL.Query().Get("topic")
	if topic == "" {
		topic = TopicAllocations
	}
	if !validTopic(topic) {
		writeProblem(w, http.StatusBadRequest, "Unknown topic", topic, r.URL.Path)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	ch := s.Broker.Subscribe(topic)
	defer s.Broker.Unsubscribe(topic, ch)

	heartbeat := func() {
		fmt.Fprintf(w, "event: heartbeat\n")
		fmt.Fprintf(w, "data: {\"topic\":%q,\"ts\":%q}\n\n", topic, time.Now().UTC().Format(time.RFC3339))
		flusher.Flush()
	}
	heartbeat()
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			b, _ := json.Marshal(evt.Data)
			fmt.Fprintf(w, "event: %s\n", evt.Type)
			fmt.Fprintf(w, "data: %s\n\n", b)
			flusher.Flush()
		case <-ticker.C:
			heartbeat()
		}
	}
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
	defer cancel()
	if err := s.Store.Ping(ctx); err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "Not Ready", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeStoreError(w http.ResponseWriter, r *http.Request, title string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "Not Found", err.Error(), r.URL.Path)
		return
	}
	writeProblem(w, http.StatusInternalServerError, title, err.Error(), r.URL.Path)
}

func writeAllocation(w http.ResponseWriter, r *http.Request, status int, a *model.Allocation, format string) {
	switch format {
	case "text":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(status)
		if err := manifest.WriteText(w, a); err != nil {
			log.Printf("run_id=%s write text manifest err=%v", a.RunID, err)
		}
	case "xlsx":
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "allocation-"+a.RunID+".xlsx"))
		w.WriteHeader(status)
		if err := manifest.WriteXLSX(w, a); err != nil {
			log.Printf("run_id=%s write xlsx manifest err=%v", a.RunID, err)
		}
	default:
		writeJSON(w, status, a)
	}
}

func allocationEventData(a *model.Allocation) map[string]any {
	return map[string]any{
		"runId":              a.RunID,
		"strategy":           a.Strategy,
		"outboundBins":       a.BinCount(model.Outbound),
		"inboundBins":        a.BinCount(model.Inbound),
		"unscheduled":        len(a.Unscheduled),
		"problems":           len(a.Problems),
		"emptyLegCost":       a.EmptyLegCost,
		"grandTotalFuelCost": a.GrandTotalFuelCost,
		"grandTotalProfit":   a.GrandTotalProfit,
	}
}

func queryInt(v string, d int) int {
	if v == "" {
		return d
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return d
	}
	return n
}
