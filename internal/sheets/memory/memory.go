package memory

import (
	"context"
	"fmt"
	"sync"

	"kesefly/internal/sheets"
)

// Store is an in-process mirror. Entries are deduplicated by event id so
// redelivered events do not produce a second row.
type Store struct {
	mu      sync.Mutex
	entries []sheets.Entry
	refs    map[string]string
}

func New() *Store {
	return &Store{refs: make(map[string]string)}
}

var _ sheets.LedgerMirror = (*Store)(nil)

// AppendEntry stores the entry and returns a synthetic row reference.
func (s *Store) AppendEntry(_ context.Context, e sheets.Entry) (string, error) {
	if err := e.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", sheets.ErrPermanent, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ref, ok := s.refs[e.EventID]; ok {
		return ref, nil
	}
	s.entries = append(s.entries, e)
	ref := fmt.Sprintf("mem:%d", len(s.entries))
	s.refs[e.EventID] = ref
	return ref, nil
}

// Entries returns a copy of the mirrored rows in append order.
func (s *Store) Entries() []sheets.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sheets.Entry(nil), s.entries...)
}
