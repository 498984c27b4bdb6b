// Package docs builds the OpenAPI 3 description of the service from the
// server's documentation metadata and the routing table's declared operations.
package docs

import (
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/aryan-salemababdi/winbash/internal/config"
	"github.com/aryan-salemababdi/winbash/internal/domain"
)

const Version = "3.0.0"

// Document is an OpenAPI 3.0 document. Field order follows the usual layout
// so both renderings read naturally.
type Document struct {
	OpenAPI    string                `json:"openapi" yaml:"openapi"`
	Info       Info                  `json:"info" yaml:"info"`
	Servers    []Server              `json:"servers,omitempty" yaml:"servers,omitempty"`
	Paths      map[string]PathItem   `json:"paths" yaml:"paths"`
	Components *Components           `json:"components,omitempty" yaml:"components,omitempty"`
	Security   []SecurityRequirement `json:"security,omitempty" yaml:"security,omitempty"`
}

type Info struct {
	Title       string   `json:"title" yaml:"title"`
	Version     string   `json:"version" yaml:"version"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Contact     *Contact `json:"contact,omitempty" yaml:"contact,omitempty"`
}

type Contact struct {
	Name  string `json:"name,omitempty" yaml:"name,omitempty"`
	URL   string `json:"url,omitempty" yaml:"url,omitempty"`
	Email string `json:"email,omitempty" yaml:"email,omitempty"`
}

type Server struct {
	URL string `json:"url" yaml:"url"`
}

// PathItem maps lower-case HTTP methods to operations.
type PathItem map[string]*Operation

type Operation struct {
	Summary     string              `json:"summary,omitempty" yaml:"summary,omitempty"`
	Description string              `json:"description,omitempty" yaml:"description,omitempty"`
	Tags        []string            `json:"tags,omitempty" yaml:"tags,omitempty"`
	Parameters  []Parameter         `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	RequestBody *RequestBody        `json:"requestBody,omitempty" yaml:"requestBody,omitempty"`
	Responses   map[string]Response `json:"responses" yaml:"responses"`

	// Security is nil to inherit the document requirement, and points to an
	// empty list for operations that need no credentials.
	Security *[]SecurityRequirement `json:"security,omitempty" yaml:"security,omitempty"`
}

type Parameter struct {
	Name        string  `json:"name" yaml:"name"`
	In          string  `json:"in" yaml:"in"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
	Required    bool    `json:"required,omitempty" yaml:"required,omitempty"`
	Schema      *Schema `json:"schema,omitempty" yaml:"schema,omitempty"`
}

type RequestBody struct {
	Description string               `json:"description,omitempty" yaml:"description,omitempty"`
	Required    bool                 `json:"required,omitempty" yaml:"required,omitempty"`
	Content     map[string]MediaType `json:"content" yaml:"content"`
}

type MediaType struct {
	Schema *Schema `json:"schema,omitempty" yaml:"schema,omitempty"`
}

type Schema struct {
	Type        string             `json:"type,omitempty" yaml:"type,omitempty"`
	Description string             `json:"description,omitempty" yaml:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty" yaml:"properties,omitempty"`
	Required    []string           `json:"required,omitempty" yaml:"required,omitempty"`
}

type Response struct {
	Description string `json:"description" yaml:"description"`
}

type Components struct {
	SecuritySchemes map[string]SecurityScheme `json:"securitySchemes,omitempty" yaml:"securitySchemes,omitempty"`
}

type SecurityScheme struct {
	Type         string `json:"type" yaml:"type"`
	Scheme       string `json:"scheme,omitempty" yaml:"scheme,omitempty"`
	BearerFormat string `json:"bearerFormat,omitempty" yaml:"bearerFormat,omitempty"`
}

// SecurityRequirement maps a scheme name to required scopes.
type SecurityRequirement map[string][]string

// Build assembles the document. The result depends only on its inputs.
func Build(meta config.DocsConfig, routes []domain.Route) *Document {
	doc := &Document{
		OpenAPI: Version,
		Info: Info{
			Title:       meta.Title,
			Version:     meta.Version,
			Description: meta.Description,
		},
		Paths: make(map[string]PathItem),
	}

	if c := meta.Contact; c.Name != "" || c.URL != "" || c.Email != "" {
		doc.Info.Contact = &Contact{Name: c.Name, URL: c.URL, Email: c.Email}
	}
	if meta.ServerURL != "" {
		doc.Servers = []Server{{URL: meta.ServerURL}}
	}

	if s := meta.Security; s.Name != "" {
		doc.Components = &Components{
			SecuritySchemes: map[string]SecurityScheme{
				s.Name: {Type: "http", Scheme: s.Scheme, BearerFormat: s.BearerFormat},
			},
		}
		doc.Security = []SecurityRequirement{{s.Name: {}}}
	}

	for _, route := range routes {
		path := OpenAPIPath(route.Path)
		item, ok := doc.Paths[path]
		if !ok {
			item = make(PathItem)
			doc.Paths[path] = item
		}
		item[strings.ToLower(route.Method)] = operation(path, route.Doc)
	}

	return doc
}

func operation(path string, op domain.Operation) *Operation {
	out := &Operation{
		Summary:     op.Summary,
		Description: op.Description,
		Tags:        op.Tags,
		Responses:   make(map[string]Response, len(op.Responses)),
	}

	declared := make(map[string]bool)
	for _, p := range op.Parameters {
		in := p.In
		if in == "" {
			in = "query"
		}
		if in == "path" {
			declared[p.Name] = true
		}
		out.Parameters = append(out.Parameters, Parameter{
			Name:        p.Name,
			In:          in,
			Description: p.Description,
			Required:    p.Required || in == "path",
			Schema:      &Schema{Type: schemaType(p.Type)},
		})
	}
	for _, name := range pathParams(path) {
		if !declared[name] {
			out.Parameters = append(out.Parameters, Parameter{
				Name: name, In: "path", Required: true, Schema: &Schema{Type: "string"},
			})
		}
	}

	if op.RequestBody != nil {
		out.RequestBody = requestBody(op.RequestBody)
	}

	for code, desc := range op.Responses {
		if desc == "" {
			desc = http.StatusText(code)
		}
		out.Responses[strconv.Itoa(code)] = Response{Description: desc}
	}
	if len(out.Responses) == 0 {
		out.Responses["200"] = Response{Description: http.StatusText(http.StatusOK)}
	}

	if op.Public {
		out.Security = &[]SecurityRequirement{}
	}
	return out
}

func requestBody(rb *domain.RequestBody) *RequestBody {
	schema := &Schema{Type: "object", Properties: make(map[string]*Schema, len(rb.Properties))}
	for _, p := range rb.Properties {
		schema.Properties[p.Name] = &Schema{Type: schemaType(p.Type), Description: p.Description}
		if p.Required {
			schema.Required = append(schema.Required, p.Name)
		}
	}
	sort.Strings(schema.Required)

	types := rb.ContentTypes
	if len(types) == 0 {
		types = []string{"application/json", "application/x-www-form-urlencoded"}
	}

	out := &RequestBody{
		Description: rb.Description,
		Required:    rb.Required,
		Content:     make(map[string]MediaType, len(types)),
	}
	for _, ct := range types {
		out.Content[ct] = MediaType{Schema: schema}
	}
	return out
}

func schemaType(t string) string {
	if t == "" {
		return "string"
	}
	return t
}

var chiParam = regexp.MustCompile(`\{([^}:]+)(:[^}]*)?\}`)

// OpenAPIPath strips chi regexp constraints: /items/{id:[0-9]+} -> /items/{id}.
func OpenAPIPath(pattern string) string {
	return chiParam.ReplaceAllString(pattern, "{$1}")
}

func pathParams(path string) []string {
	var names []string
	for _, m := range chiParam.FindAllStringSubmatch(path, -1) {
		names = append(names, m[1])
	}
	return names
}
