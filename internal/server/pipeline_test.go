package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aryan-salemababdi/winbash/internal/config"
	"github.com/aryan-salemababdi/winbash/internal/domain"
)

func testServerConfig(t *testing.T) config.ServerConfig {
	t.Helper()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte("<h1>winbash</h1>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "app.js"), []byte("console.log('hi')"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".env"), []byte("SECRET=1"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "empty"), 0o755))

	return config.ServerConfig{
		Port:       5000,
		StaticRoot: root,
		BodyLimit:  1 << 10,
		Docs: config.DocsConfig{
			Title:     "winbash",
			Version:   "1.0.0",
			ServerURL: "http://localhost:5000",
			Security:  config.SecurityConfig{Name: "BearerAuth", Scheme: "bearer", BearerFormat: "JWT"},
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

func testRoutes(clock *clockwork.FakeClock) []domain.Route {
	return []domain.Route{
		{
			Method: http.MethodGet,
			Path:   "/health",
			Handler: func(w http.ResponseWriter, r *http.Request) error {
				return writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
			},
			Doc: domain.Operation{Summary: "Liveness", Public: true},
		},
		{
			Method: http.MethodPost,
			Path:   "/echo",
			Handler: func(w http.ResponseWriter, r *http.Request) error {
				if clock != nil {
					clock.Advance(250 * time.Millisecond)
				}
				raw, err := io.ReadAll(r.Body)
				if err != nil {
					return err
				}
				AddLogField(r.Context(), "title", BodyField(r, "title").String())
				return writeJSON(w, http.StatusCreated, map[string]any{
					"title": BodyField(r, "title").String(),
					"form":  r.PostFormValue("title"),
					"raw":   string(raw),
				})
			},
		},
		{
			Method: http.MethodGet,
			Path:   "/items/{id:[0-9]+}",
			Handler: func(w http.ResponseWriter, r *http.Request) error {
				return domain.NotFound("Not Found")
			},
		},
		{
			Method: http.MethodGet,
			Path:   "/conflict",
			Handler: func(w http.ResponseWriter, r *http.Request) error {
				return fmt.Errorf("create: %w", domain.NewFailure(http.StatusConflict, "already exists"))
			},
		},
		{
			Method: http.MethodGet,
			Path:   "/boom",
			Handler: func(w http.ResponseWriter, r *http.Request) error {
				return errors.New("pq: relation \"users\" does not exist")
			},
		},
		{
			Method: http.MethodGet,
			Path:   "/panic",
			Handler: func(w http.ResponseWriter, r *http.Request) error {
				panic("nil map write")
			},
		},
		{
			Method: http.MethodGet,
			Path:   "/busy",
			Handler: func(w http.ResponseWriter, r *http.Request) error {
				return fmt.Errorf("acquire connection: %w", domain.ErrPoolExhausted)
			},
		},
		{
			Method: http.MethodGet,
			Path:   "/partial",
			Handler: func(w http.ResponseWriter, r *http.Request) error {
				_, _ = io.WriteString(w, "partial")
				return errors.New("stream broke")
			},
		},
		{
			Method: http.MethodGet,
			Path:   "/unchecked",
			Handler: func(w http.ResponseWriter, r *http.Request) error {
				var f *domain.Failure
				return f
			},
		},
		{
			Method: http.MethodGet,
			Path:   "/app.js",
			Handler: func(w http.ResponseWriter, r *http.Request) error {
				return writeJSON(w, http.StatusOK, "route")
			},
		},
	}
}

func newTestPipeline(t *testing.T) (*Pipeline, *bytes.Buffer, *clockwork.FakeClock) {
	t.Helper()

	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	clock := clockwork.NewFakeClock()

	p, err := Build(testServerConfig(t), testRoutes(clock), WithLogger(logger), WithClock(clock))
	require.NoError(t, err)
	return p, &logs, clock
}

func serve(p http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)
	return rec
}

func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var lines []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		lines = append(lines, m)
	}
	return lines
}

func findLog(lines []map[string]any, msg string) map[string]any {
	for _, l := range lines {
		if l["msg"] == msg {
			return l
		}
	}
	return nil
}

func TestBuild_StageOrderIsFixed(t *testing.T) {
	want := []string{
		StageLogging, StageCORS, StageURLEncoded, StageJSON,
		StageStatic, StageDocs, StageRoutes, StageError,
	}

	cfg := testServerConfig(t)
	for i := 0; i < 3; i++ {
		p, err := Build(cfg, testRoutes(nil))
		require.NoError(t, err)
		assert.Equal(t, want, p.Stages())
	}
}

func TestBuild_RejectsBadRoutes(t *testing.T) {
	ok := func(w http.ResponseWriter, r *http.Request) error { return nil }

	tests := []struct {
		name  string
		route domain.Route
	}{
		{"unsupported method", domain.Route{Method: "FETCH", Path: "/x", Handler: ok}},
		{"pattern without slash", domain.Route{Method: http.MethodGet, Path: "x", Handler: ok}},
		{"nil handler", domain.Route{Method: http.MethodGet, Path: "/x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(testServerConfig(t), []domain.Route{tt.route})
			assert.Error(t, err)
		})
	}
}

func TestPipeline_Failures(t *testing.T) {
	p, _, _ := newTestPipeline(t)

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "unknown route",
			method:     http.MethodGet,
			path:       "/nope",
			wantStatus: http.StatusNotFound,
			wantBody:   `{"statusCode":404,"error":{"message":"Not Found"}}`,
		},
		{
			name:       "collaborator raises 404",
			method:     http.MethodGet,
			path:       "/items/42",
			wantStatus: http.StatusNotFound,
			wantBody:   `{"statusCode":404,"error":{"message":"Not Found"}}`,
		},
		{
			name:       "explicit status and message",
			method:     http.MethodGet,
			path:       "/conflict",
			wantStatus: http.StatusConflict,
			wantBody:   `{"statusCode":409,"error":{"message":"already exists"}}`,
		},
		{
			name:       "plain error hides details",
			method:     http.MethodGet,
			path:       "/boom",
			wantStatus: http.StatusInternalServerError,
			wantBody:   `{"statusCode":500,"error":{"message":"Internal Server Error"}}`,
		},
		{
			name:       "panic is recovered",
			method:     http.MethodGet,
			path:       "/panic",
			wantStatus: http.StatusInternalServerError,
			wantBody:   `{"statusCode":500,"error":{"message":"Internal Server Error"}}`,
		},
		{
			name:       "pool exhaustion",
			method:     http.MethodGet,
			path:       "/busy",
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   `{"statusCode":503,"error":{"message":"Service Unavailable"}}`,
		},
		{
			name:       "wrong method",
			method:     http.MethodDelete,
			path:       "/health",
			wantStatus: http.StatusMethodNotAllowed,
			wantBody:   `{"statusCode":405,"error":{"message":"Method Not Allowed"}}`,
		},
		{
			name:       "regexp constraint not met",
			method:     http.MethodGet,
			path:       "/items/abc",
			wantStatus: http.StatusNotFound,
			wantBody:   `{"statusCode":404,"error":{"message":"Not Found"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(p, httptest.NewRequest(tt.method, tt.path, nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantBody, rec.Body.String())
			assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))

			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, rec.Code, body.StatusCode)
			assert.NotEmpty(t, body.Error.Message)
		})
	}
}

func TestPipeline_FailureAfterResponseStarted(t *testing.T) {
	p, logs, _ := newTestPipeline(t)

	rec := serve(p, httptest.NewRequest(http.MethodGet, "/partial", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "partial", rec.Body.String())
	assert.NotNil(t, findLog(logLines(t, logs), "failure after response started"))
}

func TestPipeline_RouteSuccess(t *testing.T) {
	p, _, _ := newTestPipeline(t)

	rec := serve(p, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestPipeline_RequestLogging(t *testing.T) {
	p, logs, _ := newTestPipeline(t)

	req := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(`{"title":"raffle"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := serve(p, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	requestID := rec.Header().Get(RequestIDHeader)
	_, err := uuid.Parse(requestID)
	require.NoError(t, err)

	lines := logLines(t, logs)
	started := findLog(lines, "request started")
	require.NotNil(t, started)
	assert.Equal(t, requestID, started["request_id"])
	assert.Equal(t, "POST", started["method"])
	assert.Equal(t, "/echo", started["path"])

	completed := findLog(lines, "request completed")
	require.NotNil(t, completed)
	assert.Equal(t, requestID, completed["request_id"])
	assert.Equal(t, float64(http.StatusCreated), completed["status"])
	assert.Equal(t, float64(250*time.Millisecond), completed["duration"])
	assert.Equal(t, "raffle", completed["title"])
}

func TestPipeline_RequestLoggingOfFailures(t *testing.T) {
	p, logs, _ := newTestPipeline(t)

	rec := serve(p, httptest.NewRequest(http.MethodGet, "/nope", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	completed := findLog(logLines(t, logs), "request completed")
	require.NotNil(t, completed)
	assert.Equal(t, float64(http.StatusNotFound), completed["status"])
	assert.Contains(t, completed["error"], "Not Found")
}

func TestPipeline_UniqueRequestIDs(t *testing.T) {
	p, _, _ := newTestPipeline(t)

	a := serve(p, httptest.NewRequest(http.MethodGet, "/health", nil)).Header().Get(RequestIDHeader)
	b := serve(p, httptest.NewRequest(http.MethodGet, "/health", nil)).Header().Get(RequestIDHeader)
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}

func TestPipeline_CORS(t *testing.T) {
	p, _, _ := newTestPipeline(t)

	t.Run("simple request", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "https://shop.example.com")
		rec := serve(p, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("failures carry cors headers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/nope", nil)
		req.Header.Set("Origin", "https://shop.example.com")
		rec := serve(p, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/echo", nil)
		req.Header.Set("Origin", "https://shop.example.com")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", "Authorization, Content-Type")
		rec := serve(p, req)

		assert.Less(t, rec.Code, 300)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
	})
}

func TestPipeline_BodyParsing(t *testing.T) {
	p, _, _ := newTestPipeline(t)

	t.Run("json is validated and re-readable", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(`{"title":"bike"}`))
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
		rec := serve(p, req)

		require.Equal(t, http.StatusCreated, rec.Code)
		assert.JSONEq(t, `{"title":"bike","form":"","raw":"{\"title\":\"bike\"}"}`, rec.Body.String())
	})

	t.Run("urlencoded form", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader("title=car&price=10"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := serve(p, req)

		require.Equal(t, http.StatusCreated, rec.Code)
		assert.JSONEq(t, `{"title":"","form":"car","raw":"title=car&price=10"}`, rec.Body.String())
	})

	tests := []struct {
		name        string
		contentType string
		body        string
		wantStatus  int
		wantMessage string
	}{
		{"malformed json", "application/json", `{"title":`, http.StatusBadRequest, "invalid JSON body"},
		{"scalar json", "application/json", `42`, http.StatusBadRequest, "invalid JSON body"},
		{"oversized json", "application/json", `{"title":"` + strings.Repeat("x", 2<<10) + `"}`, http.StatusRequestEntityTooLarge, "request entity too large"},
		{"oversized form", "application/x-www-form-urlencoded", "title=" + strings.Repeat("x", 2<<10), http.StatusRequestEntityTooLarge, "request entity too large"},
		{"malformed form", "application/x-www-form-urlencoded", "title=%zz", http.StatusBadRequest, "invalid form body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			rec := serve(p, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantMessage, body.Error.Message)
		})
	}
}

func TestPipeline_Static(t *testing.T) {
	p, _, _ := newTestPipeline(t)

	t.Run("index for root", func(t *testing.T) {
		rec := serve(p, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "<h1>winbash</h1>", rec.Body.String())
	})

	t.Run("asset short-circuits routes", func(t *testing.T) {
		rec := serve(p, httptest.NewRequest(http.MethodGet, "/app.js", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "console.log('hi')", rec.Body.String())
	})

	t.Run("head", func(t *testing.T) {
		rec := serve(p, httptest.NewRequest(http.MethodHead, "/app.js", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Zero(t, rec.Body.Len())
	})

	for _, path := range []string{"/.env", "/empty", "/missing.css", "/../../etc/passwd"} {
		t.Run("falls through "+path, func(t *testing.T) {
			rec := serve(p, httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, http.StatusNotFound, rec.Code)
			assert.Equal(t, `{"statusCode":404,"error":{"message":"Not Found"}}`, rec.Body.String())
		})
	}

	t.Run("post is not served", func(t *testing.T) {
		rec := serve(p, httptest.NewRequest(http.MethodPost, "/index.html", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestPipeline_Docs(t *testing.T) {
	p, _, _ := newTestPipeline(t)

	rec := serve(p, httptest.NewRequest(http.MethodGet, "/api-doc", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "swagger-ui")

	rec = serve(p, httptest.NewRequest(http.MethodGet, "/api-doc/openapi.json", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	paths, ok := doc["paths"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, paths, "/health")
	assert.Contains(t, paths, "/items/{id}")

	rec = serve(p, httptest.NewRequest(http.MethodGet, "/api-doc/openapi.yaml", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "title: winbash")

	rec = serve(p, httptest.NewRequest(http.MethodPost, "/api-doc", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFromHTTP_PassesErrorsThrough(t *testing.T) {
	var sawHeader string
	mw := FromHTTP(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Wrapped", "1")
			next.ServeHTTP(w, r)
		})
	})

	want := domain.BadRequest("nope")
	h := mw(func(w http.ResponseWriter, r *http.Request) error {
		sawHeader = w.Header().Get("X-Wrapped")
		return want
	})

	err := h(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Same(t, want, err)
	assert.Equal(t, "1", sawHeader)
}

func TestHandleError_WithoutPipeline(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rec := httptest.NewRecorder()

	HandleError(logger, rec, httptest.NewRequest(http.MethodGet, "/", nil), nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, `{"statusCode":500,"error":{"message":"Internal Server Error"}}`, rec.Body.String())
}

func TestPipeline_TypedNilFailure(t *testing.T) {
	p, logs, _ := newTestPipeline(t)

	rec := serve(p, httptest.NewRequest(http.MethodGet, "/unchecked", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, `{"statusCode":500,"error":{"message":"Internal Server Error"}}`, rec.Body.String())

	lines := logLines(t, logs)
	assert.Nil(t, findLog(lines, "recovered panic"))
	completed := findLog(lines, "request completed")
	require.NotNil(t, completed)
	assert.EqualValues(t, http.StatusInternalServerError, completed["status"])
}

func TestHandleError_TypedNilFailure(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rec := httptest.NewRecorder()
	var f *domain.Failure

	assert.NotPanics(t, func() {
		HandleError(logger, rec, httptest.NewRequest(http.MethodGet, "/", nil), f)
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, `{"statusCode":500,"error":{"message":"Internal Server Error"}}`, rec.Body.String())
}
