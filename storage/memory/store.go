package memory

import (
	"context"
	"sync"

	"github.com/trezcool/masomo-dashboard/core/session"
)

// DB holds the entries of every namespace. It outlives the Stores opened on it,
// which makes it a stand-in for durable storage in tests and single-process servers.
type DB struct {
	mutex  sync.RWMutex
	tables map[string]map[string]string // {namespace: {key: value}}
}

func NewDB() *DB {
	return &DB{tables: make(map[string]map[string]string)}
}

// Store opens the Store of namespace.
func (db *DB) Store(namespace string) (session.Store, error) {
	return &store{db: db, ns: namespace}, nil
}

// Len returns the number of entries of namespace.
func (db *DB) Len(namespace string) int {
	db.mutex.RLock()
	defer db.mutex.RUnlock()
	return len(db.tables[namespace])
}

type store struct {
	db *DB
	ns string
}

var _ session.Store = (*store)(nil) // interface compliance check

func (s *store) Get(_ context.Context, key string) (string, error) {
	s.db.mutex.RLock()
	defer s.db.mutex.RUnlock()

	if val, ok := s.db.tables[s.ns][key]; ok {
		return val, nil
	}
	return "", session.ErrNotFound
}

func (s *store) Set(_ context.Context, key, value string) error {
	s.db.mutex.Lock()
	defer s.db.mutex.Unlock()

	table, ok := s.db.tables[s.ns]
	if !ok {
		table = make(map[string]string)
		s.db.tables[s.ns] = table
	}
	table[key] = value
	return nil
}

func (s *store) Delete(_ context.Context, keys ...string) error {
	s.db.mutex.Lock()
	defer s.db.mutex.Unlock()

	for _, key := range keys {
		delete(s.db.tables[s.ns], key)
	}
	return nil
}

func (s *store) Clear(_ context.Context) error {
	s.db.mutex.Lock()
	defer s.db.mutex.Unlock()

	delete(s.db.tables, s.ns)
	return nil
}
