package catalog

import "sync"

// MemStore keeps products in memory. State is lost on restart, which
// is the accepted deployment model for this service.
type MemStore struct {
	mu    sync.RWMutex
	order []string
	m     map[string]Product
}

func NewMemStore() *MemStore {
	return &MemStore{m: map[string]Product{}}
}

func NewStore() Store {
	return NewMemStore()
}

func (s *MemStore) List() []Product {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Product, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.m[id])
	}
	return out
}

func (s *MemStore) Get(id string) (Product, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.m[id]
	return p, ok
}

func (s *MemStore) Insert(p Product) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.m[p.ID]; !dup {
		s.order = append(s.order, p.ID)
	}
	s.m[p.ID] = p
}

func (s *MemStore) Update(id string, patch Patch) (Product, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.m[id]
	if !ok {
		return Product{}, false
	}

	if patch.Title != nil {
		p.Title = *patch.Title
	}
	if patch.Description != nil {
		p.Description = *patch.Description
	}
	if patch.Price != nil {
		p.Price = *patch.Price
	}
	if patch.ImageURL != nil {
		p.ImageURL = patch.ImageURL
	}
	p.UpdatedAt = patch.UpdatedAt

	s.m[id] = p
	return p, true
}

func (s *MemStore) Remove(id string) (Product, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.m[id]
	if !ok {
		return Product{}, false
	}

	delete(s.m, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return p, true
}
