package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/svgfrag/internal/render"
	"github.com/mohammad-safakhou/svgfrag/internal/telemetry"
	"github.com/mohammad-safakhou/svgfrag/session"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	svgContentType = "image/svg+xml; charset=utf-8"
	// Fragment URLs carry a content hash, so a response never changes.
	fragmentCacheControl = "max-age=31536000"
)

var (
	fragmentsTracer = otel.Tracer("svgfrag/internal/server/fetch")
)

// FragmentsHandler serves frozen fragments back to the <img> tags that
// reference them.
type FragmentsHandler struct {
	Registry *session.Registry
	Metrics  *telemetry.Metrics
}

func (h *FragmentsHandler) Register(e *echo.Echo, path string) {
	e.GET(path, h.fetch)
}

// fetch godoc
//
//	@Summary	Fetch a frozen SVG fragment
//	@Tags		fragments
//	@Produce	image/svg+xml
//	@Param		fragmentId		query		int		true	"Fragment id"
//	@Param		sessionToken	query		string	true	"Session token"
//	@Param		fragmentHash	query		string	false	"Content hash, ignored by the server"
//	@Success	200				{string}	string
//	@Failure	400				{string}	string
//	@Failure	404				{string}	string
//	@Router		/svg [get]
func (h *FragmentsHandler) fetch(c echo.Context) error {
	req := c.Request()
	ctx, span := fragmentsTracer.Start(req.Context(), "FragmentsHandler.fetch")
	defer span.End()
	c.SetRequest(req.WithContext(ctx))

	if strings.Contains(c.Request().Header.Get(echo.HeaderAccept), echo.MIMETextHTML) {
		h.Metrics.Fetched(telemetry.FetchBadRequest)
		return echo.NewHTTPError(http.StatusBadRequest, "Load SVG using an <img> tag.")
	}
	rawID := c.QueryParam(render.ParamID)
	token := c.QueryParam(render.ParamSession)
	if rawID == "" || token == "" {
		h.Metrics.Fetched(telemetry.FetchBadRequest)
		return echo.NewHTTPError(http.StatusBadRequest, "Missing "+render.ParamID+" or "+render.ParamSession+".")
	}
	id, err := strconv.ParseUint(rawID, 10, 64)
	if err != nil {
		h.Metrics.Fetched(telemetry.FetchBadRequest)
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid "+render.ParamID+".")
	}

	span.SetAttributes(attribute.Int64("fragment_id", int64(id)))
	markup, ok := h.lookup(token, id)
	if !ok {
		span.SetStatus(codes.Error, "fragment not found")
		h.Metrics.Fetched(telemetry.FetchNotFound)
		return echo.NewHTTPError(http.StatusNotFound, "SVG file was not found.")
	}

	hdr := c.Response().Header()
	hdr.Set(echo.HeaderCacheControl, fragmentCacheControl)
	hdr.Set(echo.HeaderVary, echo.HeaderAcceptEncoding)
	hdr.Set(echo.HeaderContentSecurityPolicy, "sandbox")
	h.Metrics.Fetched(telemetry.FetchServed)
	return c.Blob(http.StatusOK, svgContentType, []byte(markup))
}

func (h *FragmentsHandler) lookup(token string, id uint64) (string, bool) {
	s := h.Registry.Lookup(token)
	if s == nil {
		return "", false
	}
	cache := s.FragmentCache()
	if cache == nil {
		return "", false
	}
	return cache.Get(id)
}
