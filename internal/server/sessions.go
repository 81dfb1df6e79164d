package server

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/svgfrag/internal/document"
	"github.com/mohammad-safakhou/svgfrag/internal/render"
	"github.com/mohammad-safakhou/svgfrag/session"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	sessionsTracer = otel.Tracer("svgfrag/internal/server/sessions")
)

const defaultSystemID = "upload.xml"

// SessionsHandler opens documents as editing sessions and renders their svg
// elements as fragment references.
type SessionsHandler struct {
	Store    session.Store
	Renderer *render.Renderer
}

func (h *SessionsHandler) Register(g *echo.Group) {
	g.POST("", h.open)
	g.GET("/:id/render", h.render)
	g.DELETE("/:id/svg/:index", h.removeSVG)
	g.DELETE("/:id", h.close)
}

// open godoc
//
//	@Summary	Open an XML document as a session
//	@Tags		sessions
//	@Accept		xml
//	@Produce	json
//	@Param		name	query		string	false	"System id reported in logs"
//	@Success	201		{object}	SessionResponse
//	@Failure	400		{object}	HTTPError
//	@Router		/api/sessions [post]
func (h *SessionsHandler) open(c echo.Context) error {
	req := c.Request()
	ctx, span := sessionsTracer.Start(req.Context(), "SessionsHandler.open")
	defer span.End()
	c.SetRequest(req.WithContext(ctx))

	name := c.QueryParam("name")
	if name == "" {
		name = defaultSystemID
	}
	span.SetAttributes(attribute.String("system_id", name))
	doc, err := document.Parse(req.Body, name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	s, err := h.Store.Open(doc)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	token, err := h.Renderer.Attach(s)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	span.SetAttributes(attribute.String("session_id", s.ID()))
	var out bytes.Buffer
	if err := h.Renderer.RenderDocument(&out, s); err != nil {
		span.RecordError(err)
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, SessionResponse{ID: s.ID(), Token: token, HTML: out.String(), OpenedAt: s.OpenedAt()})
}

// render godoc
//
//	@Summary	Render the svg elements of a session
//	@Tags		sessions
//	@Produce	html
//	@Param		id	path		string	true	"Session id"
//	@Success	200	{string}	string
//	@Failure	404	{object}	HTTPError
//	@Router		/api/sessions/{id}/render [get]
func (h *SessionsHandler) render(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	var out bytes.Buffer
	if err := h.Renderer.RenderDocument(&out, s); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.HTML(http.StatusOK, out.String())
}

// removeSVG godoc
//
//	@Summary	Remove the index-th svg element from a session document
//	@Tags		sessions
//	@Param		id		path	string	true	"Session id"
//	@Param		index	path	int		true	"Zero-based position among outermost svg elements"
//	@Success	204
//	@Failure	400	{object}	HTTPError
//	@Failure	404	{object}	HTTPError
//	@Router		/api/sessions/{id}/svg/{index} [delete]
func (h *SessionsHandler) removeSVG(c echo.Context) error {
	req := c.Request()
	ctx, span := sessionsTracer.Start(req.Context(), "SessionsHandler.removeSVG")
	defer span.End()
	c.SetRequest(req.WithContext(ctx))
	span.SetAttributes(attribute.String("session_id", c.Param("id")), attribute.String("index", c.Param("index")))

	s, err := h.session(c)
	if err != nil {
		return err
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "index must be a non-negative integer")
	}
	svgs := s.Document().Elements("", "svg")
	if index >= len(svgs) {
		return echo.NewHTTPError(http.StatusNotFound, "svg element not found")
	}
	if err := s.Document().Remove(svgs[index]); err != nil {
		if errors.Is(err, document.ErrRootRemoval) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// close godoc
//
//	@Summary	Close a session
//	@Tags		sessions
//	@Param		id	path	string	true	"Session id"
//	@Success	204
//	@Failure	404	{object}	HTTPError
//	@Router		/api/sessions/{id} [delete]
func (h *SessionsHandler) close(c echo.Context) error {
	if err := h.Store.Close(c.Param("id")); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *SessionsHandler) session(c echo.Context) (*session.Session, error) {
	s, err := h.Store.Get(c.Param("id"))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return nil, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return s, nil
}
