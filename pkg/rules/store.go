package rules

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// AppendIndex passed to SaveRule appends instead of replacing.
const AppendIndex = -1

// Persister loads and saves a whole RuleSet.
type Persister interface {
	Load() (RuleSet, error)
	Save(RuleSet) error
}

// Store owns the in-memory rule set and persists it after every mutation.
//
// The in-memory set is copy-on-write: Snapshot may be shared with readers and
// is never modified in place.
type Store struct {
	persister Persister
	log       *slog.Logger

	mu    sync.RWMutex
	rules RuleSet
}

// NewStore builds a store backed by persister. The set starts empty until Load.
func NewStore(persister Persister, log *slog.Logger) (*Store, error) {
	if persister == nil {
		return nil, errors.New("rules persister is required")
	}
	if log == nil {
		log = slog.Default()
	}

	return &Store{
		persister: persister,
		log:       log.With("component", "rules.store"),
		rules:     RuleSet{},
	}, nil
}

// Load replaces the in-memory set with the persisted one.
//
// A load error is recoverable: whatever the persister returned (possibly an
// empty set) becomes the active set and the error is passed on for reporting.
func (s *Store) Load() (RuleSet, error) {
	loaded, err := s.persister.Load()
	if loaded == nil {
		loaded = RuleSet{}
	}

	s.mu.Lock()
	s.rules = loaded
	s.mu.Unlock()

	return loaded.Clone(), err
}

// Snapshot returns the active set without copying. Callers must not modify it.
func (s *Store) Snapshot() RuleSet {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.rules
}

// Rules returns a deep copy of the active set.
func (s *Store) Rules() RuleSet {
	return s.Snapshot().Clone()
}

// Len returns the number of active rules.
func (s *Store) Len() int {
	return len(s.Snapshot())
}

// SaveRule validates rule and appends it (index == AppendIndex) or replaces
// the rule at index.
//
// Validation and index errors leave the set unchanged. A *PersistError means
// the change was applied in memory but could not be written.
func (s *Store) SaveRule(index int, rule Rule) (RuleSet, error) {
	prepared, err := Prepare(rule)
	if err != nil {
		return s.Rules(), err
	}

	s.mu.Lock()
	next := slices.Clone(s.rules)
	switch {
	case index == AppendIndex:
		next = append(next, prepared)
	case index >= 0 && index < len(next):
		next[index] = prepared
	default:
		size := len(s.rules)
		s.mu.Unlock()
		return s.Rules(), NewError(ErrorIndexOutOfRange, fmt.Sprintf("index %d (have %d rules)", index, size))
	}
	s.rules = next
	s.mu.Unlock()

	return s.persist(next)
}

// DeleteRule removes the rule at index.
func (s *Store) DeleteRule(index int) (RuleSet, error) {
	s.mu.Lock()
	if index < 0 || index >= len(s.rules) {
		size := len(s.rules)
		s.mu.Unlock()
		return s.Rules(), NewError(ErrorIndexOutOfRange, fmt.Sprintf("index %d (have %d rules)", index, size))
	}
	next := slices.Delete(slices.Clone(s.rules), index, index+1)
	s.rules = next
	s.mu.Unlock()

	return s.persist(next)
}

func (s *Store) persist(set RuleSet) (RuleSet, error) {
	if err := s.persister.Save(set); err != nil {
		s.log.Error("Failed to persist rules, keeping in-memory set", "error", err, "count", len(set))
		return set.Clone(), &PersistError{Err: err}
	}

	return set.Clone(), nil
}
