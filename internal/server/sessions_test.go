package server

import (
	"encoding/json"
	"html"
	"net/http"
	"net/http/httptest"
	"regexp"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/svgfrag/config"
	"github.com/mohammad-safakhou/svgfrag/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var srcPattern = regexp.MustCompile(`src="([^"]*)"`)

const figures = `<article xmlns:svg="http://www.w3.org/2000/svg">
  <svg:svg><svg:rect width="10" height="10"/></svg:svg>
  <svg xmlns="http://www.w3.org/2000/svg"><circle r="4"/></svg>
</article>`

func testConfig(indexer string) *config.Config {
	cfg := &config.Config{
		Cache:     config.CacheConfig{Indexer: indexer},
		Render:    config.RenderConfig{ImageClass: "svg-image"},
		Telemetry: config.TelemetryConfig{Enabled: true, MetricsPath: "/metrics"},
	}
	cfg.General = cfg.General.Normalize()
	cfg.Server = cfg.Server.Normalize()
	cfg.Cache = cfg.Cache.Normalize()
	return cfg
}

func serve(srv *Server, method, target, body string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	srv.Echo.ServeHTTP(rec, req)
	return rec
}

func sources(t *testing.T, markup string) []string {
	t.Helper()
	var out []string
	for _, m := range srcPattern.FindAllStringSubmatch(markup, -1) {
		out = append(out, html.UnescapeString(m[1]))
	}
	return out
}

func openSession(t *testing.T, srv *Server) SessionResponse {
	t.Helper()
	hdr := http.Header{}
	hdr.Set(echo.HeaderContentType, echo.MIMEApplicationXML)
	rec := serve(srv, http.MethodPost, "/api/sessions?name=figures.xml", figures, hdr)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201 got %d: %s", rec.Code, rec.Body.String())
	}
	var resp SessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID == "" || len(resp.Token) != 40 || resp.OpenedAt.IsZero() {
		t.Fatalf("unexpected response: %+v", resp)
	}
	return resp
}

func TestSessionLifecycle(t *testing.T) {
	for _, indexer := range []string{config.IndexerDocument, config.IndexerWeak} {
		t.Run(indexer, func(t *testing.T) {
			srv := New(testConfig(indexer))
			resp := openSession(t, srv)

			srcs := sources(t, resp.HTML)
			if len(srcs) != 2 {
				t.Fatalf("expected two image references, got %q", resp.HTML)
			}
			img := http.Header{}
			img.Set(echo.HeaderAccept, "image/*")
			rec := serve(srv, http.MethodGet, srcs[0], "", img)
			if rec.Code != http.StatusOK {
				t.Fatalf("fetch %s: status %d: %s", srcs[0], rec.Code, rec.Body.String())
			}
			if !strings.Contains(rec.Body.String(), `<svg:rect width="10" height="10"/>`) ||
				!strings.Contains(rec.Body.String(), `xmlns:svg="http://www.w3.org/2000/svg"`) {
				t.Fatalf("unexpected fragment %q", rec.Body.String())
			}

			rec = serve(srv, http.MethodDelete, "/api/sessions/"+resp.ID+"/svg/0", "", nil)
			if rec.Code != http.StatusNoContent {
				t.Fatalf("remove svg: status %d: %s", rec.Code, rec.Body.String())
			}
			rec = serve(srv, http.MethodGet, "/api/sessions/"+resp.ID+"/render", "", nil)
			if rec.Code != http.StatusOK {
				t.Fatalf("render: status %d", rec.Code)
			}
			after := sources(t, rec.Body.String())
			if len(after) != 1 || after[0] != srcs[1] {
				t.Fatalf("expected only the second reference to remain, got %q", after)
			}

			rec = serve(srv, http.MethodDelete, "/api/sessions/"+resp.ID, "", nil)
			if rec.Code != http.StatusNoContent {
				t.Fatalf("close: status %d", rec.Code)
			}
			rec = serve(srv, http.MethodGet, "/api/sessions/"+resp.ID+"/render", "", nil)
			if rec.Code != http.StatusNotFound {
				t.Fatalf("render after close: expected 404 got %d", rec.Code)
			}
			var apiErr HTTPError
			if err := json.Unmarshal(rec.Body.Bytes(), &apiErr); err != nil || apiErr.Error == "" {
				t.Fatalf("expected a JSON error envelope, got %q", rec.Body.String())
			}

			// The closed session is only weakly held, so its fragments go away
			// once it is collected.
			deadline := time.Now().Add(5 * time.Second)
			for {
				runtime.GC()
				rec = serve(srv, http.MethodGet, srcs[1], "", img)
				if rec.Code == http.StatusNotFound {
					break
				}
				if time.Now().After(deadline) {
					t.Fatalf("fragment still served after close: status %d", rec.Code)
				}
				time.Sleep(10 * time.Millisecond)
			}
		})
	}
}

func TestFetchErrorsArePlainText(t *testing.T) {
	srv := New(testConfig(config.IndexerDocument))
	resp := openSession(t, srv)
	src := sources(t, resp.HTML)[0]

	nav := http.Header{}
	nav.Set(echo.HeaderAccept, "text/html,application/xhtml+xml")
	rec := serve(srv, http.MethodGet, src, "", nav)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 got %d", rec.Code)
	}
	if rec.Body.String() != "Load SVG using an <img> tag." {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
	if ct := rec.Header().Get(echo.HeaderContentType); !strings.HasPrefix(ct, echo.MIMETextPlain) {
		t.Fatalf("expected plain text, got %q", ct)
	}

	rec = serve(srv, http.MethodGet, "/svg?fragmentId=1&sessionToken="+strings.Repeat("a", 40), "", nil)
	if rec.Code != http.StatusNotFound || rec.Body.String() != "SVG file was not found." {
		t.Fatalf("unexpected not-found response %d %q", rec.Code, rec.Body.String())
	}
	if got := testutil.ToFloat64(srv.Metrics.Fetches.WithLabelValues(telemetry.FetchBadRequest)); got != 1 {
		t.Fatalf("expected one bad request, got %v", got)
	}
}

func TestOpenRejectsMalformedDocument(t *testing.T) {
	srv := New(testConfig(config.IndexerDocument))
	rec := serve(srv, http.MethodPost, "/api/sessions", "<svg><g></svg>", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 got %d", rec.Code)
	}
	if srv.Store.Len() != 0 {
		t.Fatalf("malformed upload opened a session")
	}
}

func TestOpenBodyLimit(t *testing.T) {
	cfg := testConfig(config.IndexerDocument)
	cfg.Server.BodyLimit = "1K"
	srv := New(cfg)
	body := "<svg>" + strings.Repeat("x", 2048) + "</svg>"
	rec := serve(srv, http.MethodPost, "/api/sessions", body, nil)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status 413 got %d", rec.Code)
	}
}

func TestRemoveSVGValidation(t *testing.T) {
	srv := New(testConfig(config.IndexerDocument))
	resp := openSession(t, srv)

	cases := map[string]int{
		"/api/sessions/" + resp.ID + "/svg/-1":  http.StatusBadRequest,
		"/api/sessions/" + resp.ID + "/svg/two": http.StatusBadRequest,
		"/api/sessions/" + resp.ID + "/svg/5":   http.StatusNotFound,
		"/api/sessions/missing/svg/0":           http.StatusNotFound,
	}
	for target, code := range cases {
		if rec := serve(srv, http.MethodDelete, target, "", nil); rec.Code != code {
			t.Fatalf("%s: expected status %d got %d", target, code, rec.Code)
		}
	}
}

func TestHealthAndMetrics(t *testing.T) {
	srv := New(testConfig(config.IndexerDocument))
	openSession(t, srv)

	rec := serve(srv, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("unexpected health response %d %q", rec.Code, rec.Body.String())
	}
	rec = serve(srv, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: status %d", rec.Code)
	}
	for _, name := range []string{"svgfrag_fragcache_freezes_total", "svgfrag_registry_sessions_live", "go_goroutines"} {
		if !strings.Contains(rec.Body.String(), name) {
			t.Fatalf("metrics output lacks %s", name)
		}
	}
}

func TestMetricsDisabled(t *testing.T) {
	cfg := testConfig(config.IndexerDocument)
	cfg.Telemetry.Enabled = false
	srv := New(cfg)
	if srv.Metrics != nil {
		t.Fatalf("expected no metrics when telemetry is disabled")
	}
	if rec := serve(srv, http.MethodGet, "/metrics", "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected /metrics to be absent, got %d", rec.Code)
	}
	openSession(t, srv)
}
