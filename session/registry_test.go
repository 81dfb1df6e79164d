package session

import (
	"errors"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mohammad-safakhou/svgfrag/internal/document"
	"github.com/mohammad-safakhou/svgfrag/internal/fragcache"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	doc, err := document.Parse(strings.NewReader(`<doc><svg/></doc>`), "test.xml")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return New("test", doc)
}

func newCache(s *Session) *fragcache.Cache {
	return fragcache.New(s.Document(), fragcache.WithIndexer(s.Document().Index()))
}

func TestTokenFormatAndUniqueness(t *testing.T) {
	reg := NewRegistry()
	keep := make([]*Session, 0, 1000)
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		s := newTestSession(t)
		keep = append(keep, s)
		token, err := reg.Register(s)
		if err != nil {
			t.Fatalf("Register: %v", err)
		}
		if len(token) != 40 || !ValidToken(token) {
			t.Fatalf("malformed token %q", token)
		}
		if strings.ToLower(token) != token {
			t.Fatalf("token %q is not lowercase", token)
		}
		if _, dup := seen[token]; dup {
			t.Fatalf("token collision on %q", token)
		}
		seen[token] = struct{}{}
	}
	if reg.Len() != len(keep) {
		t.Fatalf("expected %d live entries, got %d", len(keep), reg.Len())
	}
	runtime.KeepAlive(keep)
}

func TestLookup(t *testing.T) {
	reg := NewRegistry()
	s := newTestSession(t)
	token, err := reg.Register(s)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if got := reg.Lookup(token); got != s {
		t.Fatalf("expected registered session back, got %v", got)
	}
	for _, bad := range []string{
		"",
		"not-a-token",
		strings.ToUpper(token),
		token[:39],
		strings.Repeat("0", 40),
	} {
		if got := reg.Lookup(bad); got != nil {
			t.Fatalf("lookup of %q returned a session", bad)
		}
	}
	runtime.KeepAlive(s)
}

func registerDetached(t *testing.T, reg *Registry) string {
	t.Helper()
	s := newTestSession(t)
	token, err := reg.EnsureRegistered(s, newCache)
	if err != nil {
		t.Fatalf("EnsureRegistered: %v", err)
	}
	if _, err := s.FragmentCache().Freeze(s.Document().Elements("", "svg")[0]); err != nil {
		t.Fatalf("Freeze: %v", err)
	}
	return token
}

func TestRegistryDoesNotRetainSessions(t *testing.T) {
	reg := NewRegistry()
	token := registerDetached(t, reg)
	runtime.GC()

	if got := reg.Lookup(token); got != nil {
		t.Fatalf("registry kept a closed session alive")
	}
	if reg.Len() != 0 {
		t.Fatalf("expected no live entries, got %d", reg.Len())
	}

	deadline := time.Now().Add(2 * time.Second)
	for reg.entryCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("cleanup never removed the entry")
		}
		runtime.GC()
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEnsureRegisteredIsIdempotent(t *testing.T) {
	reg := NewRegistry()
	s := newTestSession(t)

	var (
		mu     sync.Mutex
		built  int
		tokens = make(map[string]struct{})
		wg     sync.WaitGroup
	)
	factory := func(s *Session) *fragcache.Cache {
		mu.Lock()
		built++
		mu.Unlock()
		return newCache(s)
	}
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := reg.EnsureRegistered(s, factory)
			if err != nil {
				t.Errorf("EnsureRegistered: %v", err)
				return
			}
			mu.Lock()
			tokens[token] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if built != 1 {
		t.Fatalf("expected one cache, built %d", built)
	}
	if len(tokens) != 1 {
		t.Fatalf("expected one token, got %d", len(tokens))
	}
	if s.FragmentCache() == nil {
		t.Fatalf("fragment cache not attached to the editing context")
	}
	for token := range tokens {
		if s.Token() != token || reg.Lookup(token) != s {
			t.Fatalf("token %q not stored on the session or registry", token)
		}
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

func TestRegisterFailsWithoutEntropy(t *testing.T) {
	reg := NewRegistry(WithRandom(failingReader{}))
	s := newTestSession(t)
	if _, err := reg.EnsureRegistered(s, newCache); err == nil {
		t.Fatalf("expected an error from the token source")
	}
	if s.Token() != "" || s.FragmentCache() != nil {
		t.Fatalf("failed registration left state on the session")
	}
}

func TestEditingContextAttributes(t *testing.T) {
	ctx := NewEditingContext()
	ctx.SetAttribute("a", 1)
	ctx.SetAttribute("b", "two")
	if got := ctx.Attribute("a"); got != 1 {
		t.Fatalf("expected 1, got %v", got)
	}
	if len(ctx.Attributes()) != 2 {
		t.Fatalf("expected 2 attributes, got %v", ctx.Attributes())
	}
	ctx.SetAttribute("a", nil)
	if ctx.Attribute("a") != nil || len(ctx.Attributes()) != 1 {
		t.Fatalf("nil value did not clear the attribute")
	}
}
