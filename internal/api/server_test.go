package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dunamismax/pixelfilter/internal/filter"
	"github.com/dunamismax/pixelfilter/internal/logger"
	"github.com/dunamismax/pixelfilter/internal/pipeline"
	"github.com/dunamismax/pixelfilter/internal/ratelimit"
)

func TestSecureFilename(t *testing.T) {
	cases := map[string]string{
		"photo.png":            "photo.png",
		"my photo.JPG":         "my_photo.JPG",
		"../../etc/passwd":     "etc_passwd",
		`C:\Users\me\cat.jpeg`: "C_Users_me_cat.jpeg",
		"..":                   "",
		".hidden.png":          "hidden.png",
		"naïve.png":            "nave.png",
	}
	for in, want := range cases {
		if got := secureFilename(in); got != want {
			t.Fatalf("secureFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIndexRendersUploadForm(t *testing.T) {
	srv, _ := newTestServer(t, &fakeProcessor{}, nil)

	rec := do(t, srv, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `action="/upload"`) {
		t.Fatalf("expected upload form, got %s", rec.Body.String())
	}
	if rec.Header().Get(requestIDHeader) == "" {
		t.Fatal("expected request id header")
	}
}

func TestUploadStoresFileAndOffersOperations(t *testing.T) {
	srv, dir := newTestServer(t, &fakeProcessor{}, nil)

	rec := do(t, srv, uploadRequest(t, "my cat.png", testPNG(t)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if _, err := os.Stat(filepath.Join(dir, "my_cat.png")); err != nil {
		t.Fatalf("expected stored upload: %v", err)
	}
	body := rec.Body.String()
	for _, op := range filter.IDs() {
		if !strings.Contains(body, fmt.Sprintf("value=%q", op)) {
			t.Fatalf("expected picker to offer %s", op)
		}
	}
	if !strings.Contains(body, `action="/process/my_cat.png"`) {
		t.Fatalf("expected process form for stored name, got %s", body)
	}
}

func TestUploadRejectsDisallowedExtension(t *testing.T) {
	srv, dir := newTestServer(t, &fakeProcessor{}, nil)

	rec := do(t, srv, uploadRequest(t, "notes.txt", []byte("hello")))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("expected nothing stored, got %d entries", len(entries))
	}
}

func TestUploadWithoutFileRedirects(t *testing.T) {
	srv, _ := newTestServer(t, &fakeProcessor{}, nil)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("note", "no file")
	_ = mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	rec := do(t, srv, req)
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/" {
		t.Fatalf("expected redirect to /, got %d %q", rec.Code, rec.Header().Get("Location"))
	}
}

func TestProcessWritesArtifact(t *testing.T) {
	dir := t.TempDir()
	runner := pipeline.NewRunner(pipeline.RunnerConfig{OutputDir: dir})
	srv := mustServer(t, runner, dir, nil)
	if err := os.WriteFile(filepath.Join(dir, "cat.png"), testPNG(t), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	rec := do(t, srv, newProcessRequest(t, "cat.png", "gray"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "/uploads/gray_cat.png") {
		t.Fatalf("expected artifact link, got %s", rec.Body.String())
	}
	if _, err := os.Stat(filepath.Join(dir, "gray_cat.png")); err != nil {
		t.Fatalf("expected artifact on disk: %v", err)
	}

	served := do(t, srv, httptest.NewRequest(http.MethodGet, "/uploads/gray_cat.png", nil))
	if served.Code != http.StatusOK {
		t.Fatalf("expected artifact to be served, got %d", served.Code)
	}
	if ct := served.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("expected image/png, got %q", ct)
	}
}

func TestProcessUnknownOperationRerendersPicker(t *testing.T) {
	dir := t.TempDir()
	runner := pipeline.NewRunner(pipeline.RunnerConfig{OutputDir: dir})
	srv := mustServer(t, runner, dir, nil)
	if err := os.WriteFile(filepath.Join(dir, "cat.png"), testPNG(t), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	rec := do(t, srv, newProcessRequest(t, "cat.png", "sharpen"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "unknown operation") {
		t.Fatalf("expected error message, got %s", rec.Body.String())
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("expected only the source file, got %d entries", len(entries))
	}
}

func TestProcessRejectsUnsafeFilename(t *testing.T) {
	proc := &fakeProcessor{}
	srv, _ := newTestServer(t, proc, nil)

	rec := do(t, srv, newProcessRequest(t, "..hidden.png", "gray"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if proc.calls != 0 {
		t.Fatalf("expected processor not to run, ran %d times", proc.calls)
	}
}

func TestProcessJSONMapsErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"unknown", fmt.Errorf("%w: %q", filter.ErrUnknownOperation, "x"), http.StatusBadRequest, "unknown_operation"},
		{"missing", fmt.Errorf("%w: %w", pipeline.ErrDecode, os.ErrNotExist), http.StatusNotFound, "decode_error"},
		{"corrupt", fmt.Errorf("%w: bad header", pipeline.ErrDecode), http.StatusUnprocessableEntity, "decode_error"},
		{"encode", fmt.Errorf("%w: disk full", pipeline.ErrEncode), http.StatusInternalServerError, "encode_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, _ := newTestServer(t, &fakeProcessor{err: tc.err}, nil)

			rec := do(t, srv, jsonRequest(t, `{"filename":"cat.png","operation":"gray"}`))
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rec.Code)
			}
			var resp map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if resp["kind"] != tc.kind {
				t.Fatalf("expected kind %s, got %s", tc.kind, resp["kind"])
			}
			if strings.Contains(resp["error"], "/") {
				t.Fatalf("expected no paths in error, got %q", resp["error"])
			}
		})
	}
}

func TestProcessJSONSuccess(t *testing.T) {
	proc := &fakeProcessor{artifact: "box_cat.png"}
	srv, dir := newTestServer(t, proc, nil)

	rec := do(t, srv, jsonRequest(t, `{"filename":"cat.png","operation":"box"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["artifact"] != "box_cat.png" || resp["url"] != "/uploads/box_cat.png" {
		t.Fatalf("unexpected response %v", resp)
	}
	if proc.lastSource != filepath.Join(dir, "cat.png") || proc.lastOperation != "box" {
		t.Fatalf("unexpected processor call %q %q", proc.lastSource, proc.lastOperation)
	}
}

func TestProcessJSONRejectsUnknownFields(t *testing.T) {
	srv, _ := newTestServer(t, &fakeProcessor{}, nil)

	rec := do(t, srv, jsonRequest(t, `{"filename":"cat.png","operation":"box","sigma":3}`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestListOperations(t *testing.T) {
	srv, _ := newTestServer(t, &fakeProcessor{}, nil)

	rec := do(t, srv, httptest.NewRequest(http.MethodGet, "/v1/operations", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Operations []struct {
			ID     string         `json:"id"`
			Params map[string]any `json:"params"`
		} `json:"operations"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Operations) != len(filter.IDs()) {
		t.Fatalf("expected %d operations, got %d", len(filter.IDs()), len(resp.Operations))
	}
	if resp.Operations[0].ID != "gaussian" || resp.Operations[0].Params["sigma"] != float64(2) {
		t.Fatalf("unexpected first operation %+v", resp.Operations[0])
	}
}

func TestRateLimitRejectsWrites(t *testing.T) {
	limiter := &fakeLimiter{decision: ratelimit.Decision{Allowed: false, RetryAfter: 1500 * time.Millisecond}}
	proc := &fakeProcessor{}
	srv, _ := newTestServer(t, proc, limiter)

	rec := do(t, srv, jsonRequest(t, `{"filename":"cat.png","operation":"gray"}`))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "2" {
		t.Fatalf("expected Retry-After 2, got %q", rec.Header().Get("Retry-After"))
	}
	if proc.calls != 0 {
		t.Fatal("expected processor not to run")
	}
	if limiter.lastSubject != "192.0.2.1:/v1/process" {
		t.Fatalf("unexpected subject %q", limiter.lastSubject)
	}

	if rec := do(t, srv, httptest.NewRequest(http.MethodGet, "/healthz", nil)); rec.Code != http.StatusOK {
		t.Fatalf("expected reads to bypass the limiter, got %d", rec.Code)
	}
}

func TestRateLimitFailsOpen(t *testing.T) {
	limiter := &fakeLimiter{err: errors.New("redis down")}
	srv, _ := newTestServer(t, &fakeProcessor{artifact: "gray_cat.png"}, limiter)

	rec := do(t, srv, jsonRequest(t, `{"filename":"cat.png","operation":"gray"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected limiter errors to fail open, got %d", rec.Code)
	}
}

func TestRequestIDReusedWhenValid(t *testing.T) {
	srv, _ := newTestServer(t, &fakeProcessor{}, nil)

	const supplied = "0b6e2a52-2f3c-4f6e-9d1b-7f3d0e8e9a10"
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, supplied)
	if got := do(t, srv, req).Header().Get(requestIDHeader); got != supplied {
		t.Fatalf("expected %s, got %s", supplied, got)
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "not an id")
	if got := do(t, srv, req).Header().Get(requestIDHeader); got == "not an id" || got == "" {
		t.Fatalf("expected a fresh id, got %q", got)
	}
}

func TestServeUploadRejectsOtherFiles(t *testing.T) {
	srv, dir := newTestServer(t, &fakeProcessor{}, nil)
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("secret"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	if rec := do(t, srv, httptest.NewRequest(http.MethodGet, "/uploads/notes.txt", nil)); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestMetricsExposeOperationCounter(t *testing.T) {
	srv, _ := newTestServer(t, &fakeProcessor{artifact: "gray_cat.png"}, nil)
	do(t, srv, jsonRequest(t, `{"filename":"cat.png","operation":"gray"}`))

	rec := do(t, srv, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `pixelfilter_operations_total{operation="gray",outcome="ok"} 1`) {
		t.Fatalf("expected operation counter in metrics output")
	}
}

func TestRouteLabel(t *testing.T) {
	cases := map[string]string{
		"/":                  "/",
		"/process/cat.png":   "/process/{filename}",
		"/uploads/x_cat.png": "/uploads/{name}",
		"/v1/process":        "/v1/process",
		"/wp-admin":          "other",
	}
	for path, want := range cases {
		if got := routeLabel(path); got != want {
			t.Fatalf("routeLabel(%q) = %q, want %q", path, got, want)
		}
	}
}

type fakeProcessor struct {
	artifact      string
	err           error
	calls         int
	lastSource    string
	lastOperation string
}

func (p *fakeProcessor) Run(_ context.Context, sourcePath, operationID string) (string, error) {
	p.calls++
	p.lastSource = sourcePath
	p.lastOperation = operationID
	if p.err != nil {
		return "", p.err
	}
	return p.artifact, nil
}

type fakeLimiter struct {
	decision    ratelimit.Decision
	err         error
	lastSubject string
}

func (l *fakeLimiter) Allow(_ context.Context, subject string) (ratelimit.Decision, error) {
	l.lastSubject = subject
	return l.decision, l.err
}

func newTestServer(t *testing.T, proc Processor, limiter RateLimiter) (*Server, string) {
	t.Helper()
	dir := t.TempDir()
	return mustServer(t, proc, dir, limiter), dir
}

func mustServer(t *testing.T, proc Processor, dir string, limiter RateLimiter) *Server {
	t.Helper()
	opts := Options{
		Logger:            logger.Discard(),
		Processor:         proc,
		UploadDir:         dir,
		AllowedExtensions: []string{"jpg", "jpeg", "png"},
	}
	if limiter != nil {
		opts.RateLimiter = limiter
	}
	srv, err := NewServer(opts)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return srv
}

func do(t *testing.T, srv *Server, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, filename string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func newProcessRequest(t *testing.T, filename, action string) *http.Request {
	t.Helper()
	form := url.Values{"action": {action}}
	req := httptest.NewRequest(http.MethodPost, "/process/"+filename, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func jsonRequest(t *testing.T, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/process", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 16), G: uint8(y * 16), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}
