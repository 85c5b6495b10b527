package api

import "sync"

// DefaultStoreLimit is the store size used when none is given.
const DefaultStoreLimit = 256

// CompletionStore keeps the most recent finished completions so they can be
// fetched again by id. The oldest record is evicted once the limit is hit.
type CompletionStore struct {
	mu      sync.Mutex
	limit   int
	records map[string]CompletionResponse
	order   []string
}

func NewCompletionStore(limit int) *CompletionStore {
	if limit <= 0 {
		limit = DefaultStoreLimit
	}
	return &CompletionStore{
		limit:   limit,
		records: make(map[string]CompletionResponse),
	}
}

func (s *CompletionStore) Put(resp CompletionResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[resp.ID]; !ok {
		s.order = append(s.order, resp.ID)
	}
	s.records[resp.ID] = resp
	for len(s.order) > s.limit {
		delete(s.records, s.order[0])
		s.order = s.order[1:]
	}
}

func (s *CompletionStore) Get(id string) (CompletionResponse, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	return rec, ok
}

func (s *CompletionStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return false
	}
	delete(s.records, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

func (s *CompletionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
