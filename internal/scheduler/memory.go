package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryEntry struct {
	job Job
	due time.Time
}

// MemoryStore keeps jobs in process memory. Jobs are lost on restart.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]memoryEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]memoryEntry)}
}

func (m *MemoryStore) Put(_ context.Context, job Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job.LeasedUntil = time.Time{}
	m.jobs[job.OrderID] = memoryEntry{job: job, due: job.FireAt}
	return nil
}

func (m *MemoryStore) Remove(_ context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, orderID)
	return nil
}

func (m *MemoryStore) ClaimDue(_ context.Context, now time.Time, limit int, lease time.Duration) ([]Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []memoryEntry
	for _, e := range m.jobs {
		if !e.due.After(now) {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].due.Before(due[j].due)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	leasedUntil := now.Add(lease)
	jobs := make([]Job, 0, len(due))
	for _, e := range due {
		e.due = leasedUntil
		m.jobs[e.job.OrderID] = e

		job := e.job
		job.LeasedUntil = leasedUntil
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (m *MemoryStore) Ack(_ context.Context, job Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimed(job) {
		delete(m.jobs, job.OrderID)
	}
	return nil
}

func (m *MemoryStore) Retry(_ context.Context, job Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.claimed(job) {
		return nil
	}
	job.LeasedUntil = time.Time{}
	m.jobs[job.OrderID] = memoryEntry{job: job, due: job.FireAt}
	return nil
}

// claimed reports whether the stored entry is still the one leased to job.
func (m *MemoryStore) claimed(job Job) bool {
	e, ok := m.jobs[job.OrderID]
	return ok && e.due.Equal(job.LeasedUntil)
}

// Len reports the number of armed jobs, leased ones included.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

func (m *MemoryStore) Pending(context.Context) (int64, error) {
	return int64(m.Len()), nil
}

// Get returns the armed job for orderID.
func (m *MemoryStore) Get(orderID string) (Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.jobs[orderID]
	return e.job, ok
}
