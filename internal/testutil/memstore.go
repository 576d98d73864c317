package testutil

import (
	"context"
	"errors"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/target/reclaim/internal/core"
	"github.com/target/reclaim/internal/domain/lifecycle"
)

// MemStore is an in-memory core.EntityStore. Reads return copies, so callers only see
// changes that went through the store.
type MemStore struct {
	mu        sync.Mutex
	entities  map[lifecycle.Ref]*lifecycle.Entity
	seq       map[lifecycle.Ref]int
	next      int
	destroyed []lifecycle.Ref

	// FailMarkDeleted makes MarkDeleted return the mapped error for a ref.
	FailMarkDeleted map[lifecycle.Ref]error
	// KeepOnDelete makes Delete report success without removing the record.
	KeepOnDelete bool
}

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		entities:        make(map[lifecycle.Ref]*lifecycle.Entity),
		seq:             make(map[lifecycle.Ref]int),
		FailMarkDeleted: make(map[lifecycle.Ref]error),
	}
}

// Put stores e as-is, replacing any existing record.
func (s *MemStore) Put(e *lifecycle.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref := e.Ref()
	if _, ok := s.seq[ref]; !ok {
		s.next++
		s.seq[ref] = s.next
	}
	s.entities[ref] = cloneEntity(e)
}

// Lookup returns a copy of the stored record.
func (s *MemStore) Lookup(ref lifecycle.Ref) (*lifecycle.Entity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[ref]
	if !ok {
		return nil, false
	}
	return cloneEntity(e), true
}

// Destroyed lists refs removed by Delete, in order.
func (s *MemStore) Destroyed() []lifecycle.Ref {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]lifecycle.Ref(nil), s.destroyed...)
}

// Len returns the number of stored records.
func (s *MemStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entities)
}

func (s *MemStore) Create(_ context.Context, e *lifecycle.Entity) error {
	s.mu.Lock()
	exists := s.entities[e.Ref()] != nil
	s.mu.Unlock()
	if exists {
		return errors.New("entity already exists")
	}
	s.Put(e)
	return nil
}

func (s *MemStore) Get(_ context.Context, ref lifecycle.Ref) (*lifecycle.Entity, error) {
	if e, ok := s.Lookup(ref); ok {
		return e, nil
	}
	return nil, lifecycle.ErrEntityNotFound
}

func (s *MemStore) Exists(_ context.Context, ref lifecycle.Ref) (bool, error) {
	_, ok := s.Lookup(ref)
	return ok, nil
}

func (s *MemStore) MarkDeleted(_ context.Context, ref lifecycle.Ref, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.FailMarkDeleted[ref]; err != nil {
		return false, err
	}
	e, ok := s.entities[ref]
	if !ok {
		return false, lifecycle.ErrEntityNotFound
	}
	changed := e.MarkDeleted(at)
	if changed {
		e.UpdatedAt = at.UTC()
	}
	return changed, nil
}

func (s *MemStore) UpdateAttributes(_ context.Context, ref lifecycle.Ref, attrs map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[ref]
	if !ok {
		return lifecycle.ErrEntityNotFound
	}
	e.Attributes = maps.Clone(attrs)
	return nil
}

func (s *MemStore) ScheduleDeletion(_ context.Context, ref lifecycle.Ref, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[ref]
	if !ok {
		return lifecycle.ErrEntityNotFound
	}
	if e.State == lifecycle.StateActive {
		ts := at.UTC()
		e.DeleteAt = &ts
	}
	return nil
}

func (s *MemStore) Delete(_ context.Context, ref lifecycle.Ref) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entities[ref]; !ok {
		return false, nil
	}
	if s.KeepOnDelete {
		return true, nil
	}
	delete(s.entities, ref)
	delete(s.seq, ref)
	s.destroyed = append(s.destroyed, ref)
	return true, nil
}

func (s *MemStore) ListDueForErase(_ context.Context, now time.Time, limit int) ([]lifecycle.Ref, error) {
	return s.collect(limit, func(e *lifecycle.Entity) bool {
		return e.State == lifecycle.StateActive && e.DeleteAt != nil && !e.DeleteAt.After(now)
	}), nil
}

func (s *MemStore) ListPendingFinalization(_ context.Context, olderThan time.Time, limit int) ([]lifecycle.Ref, error) {
	return s.collect(limit, func(e *lifecycle.Entity) bool {
		return e.State == lifecycle.StateDeleted && e.StateAt != nil && !e.StateAt.After(olderThan)
	}), nil
}

func (s *MemStore) Association(parentType, association string) lifecycle.DependentRepository {
	return &memAssociation{store: s, parentType: parentType, association: association}
}

// collect returns refs of matching records in insertion order.
func (s *MemStore) collect(limit int, match func(*lifecycle.Entity) bool) []lifecycle.Ref {
	s.mu.Lock()
	defer s.mu.Unlock()
	var refs []lifecycle.Ref
	for ref, e := range s.entities {
		if match(e) {
			refs = append(refs, ref)
		}
	}
	sort.Slice(refs, func(i, j int) bool { return s.seq[refs[i]] < s.seq[refs[j]] })
	if limit > 0 && len(refs) > limit {
		refs = refs[:limit]
	}
	return refs
}

type memAssociation struct {
	store       *MemStore
	parentType  string
	association string
}

func (a *memAssociation) children(parentID string, activeOnly bool) []*lifecycle.Entity {
	refs := a.store.collect(0, func(e *lifecycle.Entity) bool {
		if e.ParentType == nil || e.ParentID == nil || e.Association == nil {
			return false
		}
		if *e.ParentType != a.parentType || *e.ParentID != parentID || *e.Association != a.association {
			return false
		}
		return !activeOnly || e.State == lifecycle.StateActive
	})
	out := make([]*lifecycle.Entity, 0, len(refs))
	for _, ref := range refs {
		if e, ok := a.store.Lookup(ref); ok {
			out = append(out, e)
		}
	}
	return out
}

func (a *memAssociation) Count(_ context.Context, parentID string) (int, error) {
	return len(a.children(parentID, false)), nil
}

func (a *memAssociation) ListNotDeleted(_ context.Context, parentID string) ([]*lifecycle.Entity, error) {
	return a.children(parentID, true), nil
}

func cloneEntity(e *lifecycle.Entity) *lifecycle.Entity {
	c := *e
	c.Attributes = maps.Clone(e.Attributes)
	c.Errors = nil
	if e.StateAt != nil {
		c.StateAt = TimePtr(*e.StateAt)
	}
	if e.DeleteAt != nil {
		c.DeleteAt = TimePtr(*e.DeleteAt)
	}
	return &c
}

var _ core.EntityStore = (*MemStore)(nil)
