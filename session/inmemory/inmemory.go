package inmemory

import (
	"sync"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/svgfrag/internal/document"
	"github.com/mohammad-safakhou/svgfrag/session"
)

// Store keeps open sessions in memory, keyed by a random workspace id.
type Store struct {
	sessions map[string]*session.Session
	mu       sync.RWMutex
}

func NewInMemorySessionStore() session.Store {
	return &Store{sessions: make(map[string]*session.Session)}
}

func (store *Store) Open(doc *document.Document) (*session.Session, error) {
	sess := session.New(uuid.NewString(), doc)
	store.mu.Lock()
	defer store.mu.Unlock()
	store.sessions[sess.ID()] = sess
	return sess, nil
}

func (store *Store) Get(id string) (*session.Session, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()
	sess, ok := store.sessions[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	return sess, nil
}

func (store *Store) Close(id string) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if _, ok := store.sessions[id]; !ok {
		return session.ErrNotFound
	}
	delete(store.sessions, id)
	return nil
}

func (store *Store) Len() int {
	store.mu.RLock()
	defer store.mu.RUnlock()
	return len(store.sessions)
}
