package testsupport

import (
	"context"
	"sync"

	"github.com/fpang/speech-ingestion/internal/events"
	"github.com/fpang/speech-ingestion/internal/store"
)

// MemDispositions is an in-memory store.DispositionStore.
type MemDispositions struct {
	mu    sync.Mutex
	Items map[string]store.Disposition
	Puts  int
}

// NewMemDispositions returns an empty disposition store.
func NewMemDispositions() *MemDispositions {
	return &MemDispositions{Items: make(map[string]store.Disposition)}
}

func (m *MemDispositions) GetDisposition(_ context.Context, container, name string) (*store.Disposition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.Items[key(container, name)]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (m *MemDispositions) PutDisposition(_ context.Context, d *store.Disposition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Items[key(d.Container, d.Name)] = *d
	m.Puts++
	return nil
}

// MemJobs is an in-memory store.JobStore.
type MemJobs struct {
	mu         sync.Mutex
	Jobs       map[string]store.JobRecord
	byLocation map[string]string
}

// NewMemJobs returns an empty job store.
func NewMemJobs() *MemJobs {
	return &MemJobs{Jobs: make(map[string]store.JobRecord), byLocation: make(map[string]string)}
}

func (m *MemJobs) PutJob(_ context.Context, job *store.JobRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Jobs[job.Name] = *job
	if job.Location != "" {
		m.byLocation[job.Location] = job.Name
	}
	return nil
}

func (m *MemJobs) GetJob(_ context.Context, name string) (*store.JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.Jobs[name]
	if !ok {
		return nil, nil
	}
	return &j, nil
}

func (m *MemJobs) UpdateJobStatusByLocation(_ context.Context, location, status, errMsg string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name, ok := m.byLocation[location]
	if !ok {
		return "", nil
	}
	j := m.Jobs[name]
	j.Status = status
	if errMsg != "" {
		j.Error = errMsg
	}
	m.Jobs[name] = j
	return name, nil
}

// MemEvents records published completions.
type MemEvents struct {
	mu          sync.Mutex
	Completions []events.Completion
}

func (m *MemEvents) PublishCompletion(_ context.Context, c events.Completion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Completions = append(m.Completions, c)
	return nil
}
