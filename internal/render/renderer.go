// Package render turns svg elements of an open document into <img> tags that
// point back at the fragment fetch endpoint.
package render

import (
	"encoding/hex"
	"fmt"
	"html"
	"io"
	"log"
	"net/url"
	"strconv"
	"strings"

	"github.com/mohammad-safakhou/svgfrag/internal/document"
	"github.com/mohammad-safakhou/svgfrag/internal/fragcache"
	"github.com/mohammad-safakhou/svgfrag/session"
	"golang.org/x/crypto/blake2b"
)

// Query parameters of the fetch endpoint.
const (
	ParamHash    = "fragmentHash"
	ParamID      = "fragmentId"
	ParamSession = "sessionToken"
)

// ErrorMarkup replaces the image when a fragment cannot be frozen.
const ErrorMarkup = `<span style="color: red">Error rendering SVG image</span>`

const hashSize = 20

var lineBreaks = strings.NewReplacer("\n", "&#10;", "\r", "&#13;")

// CacheFactory builds the fragment cache attached to a newly registered session.
type CacheFactory func(*session.Session) *fragcache.Cache

// DocumentIndexCaches backs every cache with its document's node index.
func DocumentIndexCaches(opts ...fragcache.Option) CacheFactory {
	return func(s *session.Session) *fragcache.Cache {
		doc := s.Document()
		return fragcache.New(doc, append([]fragcache.Option{fragcache.WithIndexer(doc.Index())}, opts...)...)
	}
}

// WeakIndexCaches backs every cache with a weak pointer indexer.
func WeakIndexCaches(opts ...fragcache.Option) CacheFactory {
	return func(s *session.Session) *fragcache.Cache {
		return fragcache.New(s.Document(), opts...)
	}
}

type Config struct {
	FetchPath   string
	ImageClass  string
	PrettyPrint bool
	Debug       bool
}

type Renderer struct {
	registry *session.Registry
	newCache CacheFactory
	cfg      Config
	logger   *log.Logger
}

func New(reg *session.Registry, newCache CacheFactory, cfg Config, logger *log.Logger) *Renderer {
	if cfg.FetchPath == "" {
		cfg.FetchPath = "/svg"
	}
	if cfg.ImageClass == "" {
		cfg.ImageClass = "svg-image"
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[RENDER] ", log.LstdFlags)
	}
	return &Renderer{registry: reg, newCache: newCache, cfg: cfg, logger: logger}
}

// Attach registers s and gives it a fragment cache if it has none yet.
func (r *Renderer) Attach(s *session.Session) (string, error) {
	return r.registry.EnsureRegistered(s, r.newCache)
}

// RenderElement writes the image reference for n. Freeze failures are logged
// and rendered as an inline error marker; only registration and write errors
// are returned.
func (r *Renderer) RenderElement(w io.Writer, s *session.Session, n *document.Node) error {
	token, err := r.Attach(s)
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}
	id, markup, err := s.FragmentCache().FreezeMarkup(n)
	if err != nil {
		r.logger.Printf("render svg in %s: %v", s.Document().SystemID(), err)
		_, err = io.WriteString(w, ErrorMarkup)
		return err
	}

	alt := markup
	if r.cfg.PrettyPrint {
		if pp, err := document.PrettyPrint(markup); err == nil {
			alt = pp
		} else if r.cfg.Debug {
			r.logger.Printf("fragment %d not pretty-printed: %v", id, err)
		}
	}
	_, err = io.WriteString(w, imgTag(r.cfg.ImageClass, r.Reference(token, id, markup), alt))
	return err
}

// imgTag keeps the tag on one line: line breaks in attribute values are
// written as character references.
func imgTag(class, src, alt string) string {
	var b strings.Builder
	b.WriteString(`<img class="`)
	b.WriteString(html.EscapeString(class))
	b.WriteString(`" src="`)
	b.WriteString(html.EscapeString(src))
	b.WriteString(`" alt="`)
	_, _ = lineBreaks.WriteString(&b, html.EscapeString(alt))
	b.WriteString(`">`)
	return b.String()
}

// RenderDocument renders every outermost svg element of the session's
// document, one tag per line.
func (r *Renderer) RenderDocument(w io.Writer, s *session.Session) error {
	for _, n := range s.Document().Elements("", "svg") {
		if err := r.RenderElement(w, s, n); err != nil {
			return err
		}
		if _, err := io.WriteString(w, "\n"); err != nil {
			return err
		}
	}
	return nil
}

// Reference builds the fetch URL for a frozen fragment.
func (r *Renderer) Reference(token string, id uint64, markup string) string {
	q := url.Values{}
	q.Set(ParamHash, ContentHash(markup))
	q.Set(ParamID, strconv.FormatUint(id, 10))
	q.Set(ParamSession, token)
	return r.cfg.FetchPath + "?" + q.Encode()
}

// ContentHash is the 160-bit BLAKE2b digest of markup in hex.
func ContentHash(markup string) string {
	h, err := blake2b.New(hashSize, nil)
	if err != nil {
		panic(err)
	}
	_, _ = io.WriteString(h, markup)
	return hex.EncodeToString(h.Sum(nil))
}
