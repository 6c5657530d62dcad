package testsupport

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"sort"
	"sync"

	"github.com/fpang/speech-ingestion/internal/ingesterr"
)

// Move records one completed move.
type Move struct {
	From, To string
}

// MemStore is an in-memory object store keyed by "container/name".
type MemStore struct {
	mu sync.Mutex

	Objects map[string][]byte
	Writes  []string
	Moves   []Move
	Deletes []string

	// WriteErr, when set, is returned by Write for the named "container/name".
	WriteErr map[string]error
}

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{Objects: make(map[string][]byte), WriteErr: make(map[string]error)}
}

func key(container, name string) string { return container + "/" + name }

// Put seeds an object without recording a write.
func (s *MemStore) Put(container, name string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Objects[key(container, name)] = data
}

// Has reports whether the object exists.
func (s *MemStore) Has(container, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.Objects[key(container, name)]
	return ok
}

// Get returns an object's content.
func (s *MemStore) Get(container, name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.Objects[key(container, name)])
}

// Keys returns every stored key in sorted order.
func (s *MemStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.Objects))
	for k := range s.Objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Mutations returns the number of writes, moves and deletes performed.
func (s *MemStore) Mutations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Writes) + len(s.Moves) + len(s.Deletes)
}

func (s *MemStore) Read(_ context.Context, container, name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.Objects[key(container, name)]
	if !ok {
		return nil, fmt.Errorf("read %s: %w", key(container, name), ingesterr.ErrObjectNotFound)
	}
	return append([]byte(nil), data...), nil
}

func (s *MemStore) Write(_ context.Context, container, name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(container, name)
	if err := s.WriteErr[k]; err != nil {
		return err
	}
	s.Objects[k] = append([]byte(nil), data...)
	s.Writes = append(s.Writes, k)
	return nil
}

func (s *MemStore) Delete(_ context.Context, container, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(container, name)
	if _, ok := s.Objects[k]; ok {
		delete(s.Objects, k)
		s.Deletes = append(s.Deletes, k)
	}
	return nil
}

func (s *MemStore) Move(_ context.Context, srcContainer, srcName, dstContainer, dstName string, overwrite bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, dst := key(srcContainer, srcName), key(dstContainer, dstName)
	data, ok := s.Objects[src]
	if !ok {
		return fmt.Errorf("move %s: %w", src, ingesterr.ErrObjectNotFound)
	}
	if existing, ok := s.Objects[dst]; ok && !overwrite && !bytes.Equal(existing, data) {
		return fmt.Errorf("move %s to %s: %w", src, dst, ingesterr.ErrDestinationExists)
	}
	s.Objects[dst] = data
	delete(s.Objects, src)
	s.Moves = append(s.Moves, Move{From: src, To: dst})
	return nil
}

// PresignGetURL returns a fake virtual-hosted presigned URL.
func (s *MemStore) PresignGetURL(_ context.Context, container, name string) (string, error) {
	return fmt.Sprintf("https://%s.s3.us-east-1.amazonaws.com/%s?X-Amz-Signature=test", container, url.PathEscape(name)), nil
}
