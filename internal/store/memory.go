package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"freightalloc/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu        sync.Mutex
	contracts map[string]model.Contract // id -> contract
	order     []string                  // contract ids in first-seen order
	allocs    map[string]*model.Allocation
	summaries []AllocationSummary // newest first
}

func NewMemory() *Memory {
	return &Memory{
		contracts: map[string]model.Contract{},
		allocs:    map[string]*model.Allocation{},
	}
}

// SaveContracts upserts by contract id.
func (m *Memory) SaveContracts(ctx context.Context, contracts []model.Contract) (string, int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	created, updated := 0, 0
	for _, c := range contracts {
		if c.ID == "" {
			return "", 0, 0, fmt.Errorf("save contracts: contract id is required")
		}
		if _, ok := m.contracts[c.ID]; ok {
			updated++
		} else {
			m.order = append(m.order, c.ID)
			created++
		}
		m.contracts[c.ID] = c
	}
	return "imp_" + uuid.New().String(), created, updated, nil
}

func (m *Memory) ListContracts(ctx context.Context, direction model.Direction, cursor string, limit int) ([]model.Contract, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit = clampLimit(limit)
	start := 0
	if cursor != "" {
		for i, id := range m.order {
			if id == cursor {
				start = i + 1
				break
			}
		}
	}
	out := []model.Contract{}
	var last string
	for _, id := range m.order[start:] {
		c := m.contracts[id]
		if direction != "" && c.Direction != direction {
			continue
		}
		out = append(out, c)
		last = id
		if len(out) == limit {
			break
		}
	}
	var next string
	if len(out) == limit {
		next = last
	}
	return out, next, nil
}

func (m *Memory) GetContract(ctx context.Context, id string) (model.Contract, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contracts[id]
	if !ok {
		return model.Contract{}, ErrNotFound
	}
	return c, nil
}

func (m *Memory) DeleteContract(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.contracts[id]; !ok {
		return ErrNotFound
	}
	delete(m.contracts, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Memory) SaveAllocation(ctx context.Context, a *model.Allocation) error {
	if a == nil || a.RunID == "" {
		return fmt.Errorf("save allocation: run id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.allocs[a.RunID]; ok {
		return fmt.Errorf("save allocation %s: already stored", a.RunID)
	}
	m.allocs[a.RunID] = a.Clone()
	m.summaries = append([]AllocationSummary{summarize(a, time.Now().UTC())}, m.summaries...)
	return nil
}

func (m *Memory) GetAllocation(ctx context.Context, runID string) (*model.Allocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.allocs[runID]
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

func (m *Memory) ListAllocations(ctx context.Context, cursor string, limit int) ([]AllocationSummary, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit = clampLimit(limit)
	start := 0
	if cursor != "" {
		for i, s := range m.summaries {
			if s.RunID == cursor {
				start = i + 1
				break
			}
		}
	}
	end := start + limit
	if end > len(m.summaries) {
		end = len(m.summaries)
	}
	out := append([]AllocationSummary{}, m.summaries[start:end]...)
	var next string
	if len(out) == limit && end < len(m.summaries) {
		next = out[len(out)-1].RunID
	}
	return out, next, nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }
