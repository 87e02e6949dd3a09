package docstore

import (
	"encoding/json"
	"io/fs"
	"sync"

	"wb-go/internal/wb"
)

// Memory is an in-memory document store keyed by path. Use in tests.
type Memory struct {
	mu   sync.Mutex
	docs map[string][]byte
}

// NewMemory creates an empty in-memory document store.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string][]byte)}
}

var _ wb.DocStore = (*Memory)(nil)

func (s *Memory) Read(path string, dest any) error {
	s.mu.Lock()
	data, ok := s.docs[path]
	s.mu.Unlock()
	if !ok {
		return fs.ErrNotExist
	}
	return json.Unmarshal(data, dest)
}

func (s *Memory) Write(path string, doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.docs[path] = data
	s.mu.Unlock()
	return nil
}

func (s *Memory) Remove(path string) error {
	s.mu.Lock()
	delete(s.docs, path)
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored documents.
func (s *Memory) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}
