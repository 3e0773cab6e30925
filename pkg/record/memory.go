package record

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"taskbridge/pkg/task"
)

// Stored is a task kept by MemoryStore.
type Stored struct {
	ID     string
	Fields task.Fields
	Input  task.Input
}

// MemoryStore keeps records in process. Used in development and tests.
type MemoryStore struct {
	mu      sync.Mutex
	records []Stored
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) CreateRecord(ctx context.Context, fields task.Fields, input task.Input) (task.Record, error) {
	if err := ctx.Err(); err != nil {
		return task.Record{}, err
	}

	id := uuid.NewString()
	s.mu.Lock()
	s.records = append(s.records, Stored{ID: id, Fields: fields, Input: input})
	s.mu.Unlock()

	return task.Record{ID: id}, nil
}

// Records returns a copy of everything stored so far.
func (s *MemoryStore) Records() []Stored {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Stored, len(s.records))
	copy(out, s.records)
	return out
}
