package inmemory

import (
	"errors"
	"runtime"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/svgfrag/internal/document"
	"github.com/mohammad-safakhou/svgfrag/internal/fragcache"
	"github.com/mohammad-safakhou/svgfrag/session"
)

func openDoc(t *testing.T, store session.Store) *session.Session {
	t.Helper()
	doc, err := document.Parse(strings.NewReader(`<doc><svg/></doc>`), "test.xml")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	sess, err := store.Open(doc)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return sess
}

func TestStoreLifecycle(t *testing.T) {
	store := NewInMemorySessionStore()
	sess := openDoc(t, store)
	if sess.ID() == "" {
		t.Fatalf("expected a workspace id")
	}
	got, err := store.Get(sess.ID())
	if err != nil || got != sess {
		t.Fatalf("Get: %v %v", got, err)
	}
	if store.Len() != 1 {
		t.Fatalf("expected 1 open session, got %d", store.Len())
	}
	if err := store.Close(sess.ID()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := store.Get(sess.ID()); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after close, got %v", err)
	}
	if err := store.Close(sess.ID()); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound closing twice, got %v", err)
	}
}

func openAndRegister(t *testing.T, store session.Store, reg *session.Registry) (id, token string) {
	t.Helper()
	sess := openDoc(t, store)
	token, err := reg.EnsureRegistered(sess, func(s *session.Session) *fragcache.Cache {
		return fragcache.New(s.Document())
	})
	if err != nil {
		t.Fatalf("EnsureRegistered: %v", err)
	}
	return sess.ID(), token
}

func TestClosedSessionDisappearsFromRegistry(t *testing.T) {
	store := NewInMemorySessionStore()
	reg := session.NewRegistry()
	id, token := openAndRegister(t, store, reg)

	runtime.GC()
	if reg.Lookup(token) == nil {
		t.Fatalf("open session must stay resolvable")
	}

	if err := store.Close(id); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for i := 0; reg.Lookup(token) != nil; i++ {
		if i == 10 {
			t.Fatalf("closed session still resolvable")
		}
		runtime.GC()
	}
}
