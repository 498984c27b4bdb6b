package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/aryan-salemababdi/winbash/internal/domain"
)

// DefaultBodyLimit bounds parsed request bodies.
const DefaultBodyLimit = 100 << 10

type jsonBodyKey struct{}

// URLEncoded parses application/x-www-form-urlencoded bodies into r.Form and
// r.PostForm. Other requests pass through untouched.
func URLEncoded(limit int64) Middleware {
	return func(next domain.HandlerFunc) domain.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) error {
			if !hasBody(r) || mediaType(r) != "application/x-www-form-urlencoded" {
				return next(w, r)
			}

			raw, err := readBody(w, r, limit)
			if err != nil {
				return err
			}

			values, err := url.ParseQuery(string(raw))
			if err != nil {
				return domain.Wrap(http.StatusBadRequest, "invalid form body", err)
			}

			r.PostForm = values
			r.Form = make(url.Values, len(values))
			for k, v := range values {
				r.Form[k] = append(r.Form[k], v...)
			}
			for k, v := range r.URL.Query() {
				r.Form[k] = append(r.Form[k], v...)
			}
			return next(w, r)
		}
	}
}

// JSON validates application/json bodies and keeps the raw document on the
// request for JSONBody and BodyField. Only objects and arrays are accepted at
// the top level. An empty body is left alone.
func JSON(limit int64) Middleware {
	return func(next domain.HandlerFunc) domain.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) error {
			if !hasBody(r) || !isJSON(mediaType(r)) {
				return next(w, r)
			}

			raw, err := readBody(w, r, limit)
			if err != nil {
				return err
			}

			trimmed := bytes.TrimSpace(raw)
			if len(trimmed) == 0 {
				return next(w, r)
			}
			if (trimmed[0] != '{' && trimmed[0] != '[') || !gjson.ValidBytes(trimmed) {
				return domain.BadRequest("invalid JSON body")
			}

			r = r.WithContext(context.WithValue(r.Context(), jsonBodyKey{}, trimmed))
			return next(w, r)
		}
	}
}

// JSONBody returns the validated JSON body, or nil when the request had none.
func JSONBody(r *http.Request) []byte {
	raw, _ := r.Context().Value(jsonBodyKey{}).([]byte)
	return raw
}

// BodyField looks up a gjson path ("user.name", "items.#") in the JSON body.
func BodyField(r *http.Request, path string) gjson.Result {
	return gjson.GetBytes(JSONBody(r), path)
}

// readBody reads at most limit bytes and rewinds r.Body so later stages can
// read it again. Oversized bodies fail with 413.
func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	if limit <= 0 {
		limit = DefaultBodyLimit
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	_ = r.Body.Close()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, domain.Wrap(http.StatusRequestEntityTooLarge, "request entity too large",
				fmt.Errorf("body exceeds %d bytes", tooLarge.Limit))
		}
		return nil, domain.Wrap(http.StatusBadRequest, "could not read request body", err)
	}

	r.Body = io.NopCloser(bytes.NewReader(raw))
	r.ContentLength = int64(len(raw))
	return raw, nil
}

func hasBody(r *http.Request) bool {
	return r.Body != nil && r.Body != http.NoBody && r.ContentLength != 0
}

func mediaType(r *http.Request) string {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return ""
	}
	return strings.ToLower(mt)
}

func isJSON(mt string) bool {
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}
