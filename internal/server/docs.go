package server

import (
	"bytes"
	_ "embed"
	"html/template"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

//go:embed openapi.yaml
var openAPISpec []byte

var docsPage = template.Must(template.New("docs").Parse(`<!DOCTYPE html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>{{.Title}}</title>
    <meta name="viewport" content="width=device-width, initial-scale=1" />
    <style>body{margin:0;padding:0;} #api{height:100vh;}</style>
  </head>
  <body>
    <div id="api"></div>
    <script src="https://cdn.jsdelivr.net/npm/redoc/bundles/redoc.standalone.js"></script>
    <script>
      Redoc.init({{.SpecURL}}, {hideDownloadButton: false}, document.getElementById('api'))
    </script>
  </body>
</html>
`))

const specURL = "/api/openapi.yaml"

// apiDescription returns the embedded OpenAPI document with the configured
// title and fragment fetch path.
func apiDescription(title, fetchPath string) []byte {
	out := bytes.Replace(openAPISpec, []byte("\n  title: svgfrag API\n"),
		[]byte("\n  title: "+strconv.Quote(title)+"\n"), 1)
	return bytes.Replace(out, []byte("\n  /svg:\n"),
		[]byte("\n  "+strconv.Quote(fetchPath)+":\n"), 1)
}

// registerDocs serves the API description and a ReDoc page for it.
func registerDocs(e *echo.Echo, title, fetchPath string) {
	spec := apiDescription(title, fetchPath)
	var page bytes.Buffer
	if err := docsPage.Execute(&page, struct{ Title, SpecURL string }{title, specURL}); err != nil {
		panic(err)
	}

	e.GET(specURL, func(c echo.Context) error {
		return c.Blob(http.StatusOK, "application/yaml", spec)
	})
	e.GET("/api/docs", func(c echo.Context) error {
		return c.HTMLBlob(http.StatusOK, page.Bytes())
	})
}
