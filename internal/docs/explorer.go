package docs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"gopkg.in/yaml.v3"
)

// BasePath is where the explorer is mounted.
const BasePath = "/api-doc"

var explorerPage = template.Must(template.New("explorer").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>{{.Title}}</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-standalone-preset.js"></script>
  <script>
    window.onload = function () {
      window.ui = SwaggerUIBundle({
        url: {{.SpecURL}},
        dom_id: "#swagger-ui",
        deepLinking: true,
        presets: [SwaggerUIBundle.presets.apis, SwaggerUIStandalonePreset],
        layout: "StandaloneLayout"
      });
    };
  </script>
</body>
</html>
`))

// Explorer serves the interactive API browser and both renderings of the
// document. Everything is rendered once at construction.
type Explorer struct {
	base string
	page []byte
	json []byte
	yaml []byte
}

// NewExplorer renders doc under base ("/api-doc" when empty).
func NewExplorer(base string, doc *Document) (*Explorer, error) {
	if base == "" {
		base = BasePath
	}
	base = "/" + strings.Trim(base, "/")

	jsonDoc, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render openapi json: %w", err)
	}

	var yamlDoc bytes.Buffer
	enc := yaml.NewEncoder(&yamlDoc)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("render openapi yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("render openapi yaml: %w", err)
	}

	var page bytes.Buffer
	if err := explorerPage.Execute(&page, struct {
		Title   string
		SpecURL string
	}{
		Title:   doc.Info.Title,
		SpecURL: base + "/openapi.json",
	}); err != nil {
		return nil, fmt.Errorf("render explorer page: %w", err)
	}

	return &Explorer{base: base, page: page.Bytes(), json: jsonDoc, yaml: yamlDoc.Bytes()}, nil
}

// Base returns the mount path.
func (e *Explorer) Base() string {
	return e.base
}

// Handles reports whether ServeHTTP has a resource for r's path.
func (e *Explorer) Handles(r *http.Request) bool {
	_, _, ok := e.resource(r.URL.Path)
	return ok
}

// ServeHTTP writes the resource at r's path. Callers check Handles first;
// unknown paths get a plain 404.
func (e *Explorer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, contentType, ok := e.resource(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", fmt.Sprint(len(body)))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write(body)
}

func (e *Explorer) resource(path string) ([]byte, string, bool) {
	switch path {
	case e.base, e.base + "/", e.base + "/index.html":
		return e.page, "text/html; charset=utf-8", true
	case e.base + "/openapi.json":
		return e.json, "application/json", true
	case e.base + "/openapi.yaml":
		return e.yaml, "application/yaml", true
	}
	return nil, "", false
}

// JSON returns the rendered JSON document.
func (e *Explorer) JSON() []byte {
	return e.json
}

// YAML returns the rendered YAML document.
func (e *Explorer) YAML() []byte {
	return e.yaml
}
