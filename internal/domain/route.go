package domain

import "net/http"

// HandlerFunc processes a request and either writes a response or returns a
// failure. A returned error skips every remaining stage and is resolved by
// the terminal error handler.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// Route is one entry of a routing table supplied by a collaborator. The
// pipeline mounts Handler at Method + Path and reads Doc to build the
// published API description.
type Route struct {
	// Method is the HTTP method (GET, POST, ...).
	Method string

	// Path is a chi pattern such as /users/{id}.
	Path string

	Handler HandlerFunc

	Doc Operation
}

// Operation is the declarative documentation attached to a route.
type Operation struct {
	Summary     string
	Description string
	Tags        []string

	// Public removes the global security requirement from this operation.
	Public bool

	Parameters  []Parameter
	RequestBody *RequestBody

	// Responses maps status codes to their descriptions.
	Responses map[int]string
}

// Parameter documents a path, query or header parameter.
type Parameter struct {
	Name        string
	In          string // path, query, header
	Description string
	Required    bool
	Type        string // string, integer, number, boolean
}

// RequestBody documents the accepted request payload.
type RequestBody struct {
	Description  string
	Required     bool
	ContentTypes []string
	Properties   []Property
}

// Property is one field of a request body object.
type Property struct {
	Name        string
	Type        string
	Description string
	Required    bool
}
