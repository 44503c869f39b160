package api

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dunamismax/pixelfilter/internal/filter"
	"github.com/dunamismax/pixelfilter/internal/pipeline"
	"github.com/dunamismax/pixelfilter/internal/pixbuf"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

//go:embed templates/*.html
var templateFS embed.FS

// Processor runs one operation on a stored upload and names the artifact.
type Processor interface {
	Run(ctx context.Context, sourcePath, operationID string) (string, error)
}

type Options struct {
	Logger            logrus.FieldLogger
	Processor         Processor
	UploadDir         string
	AllowedExtensions []string
	MaxUploadBytes    int64
	RateLimiter       RateLimiter
}

type Server struct {
	log            logrus.FieldLogger
	processor      Processor
	uploadDir      string
	allowed        map[string]struct{}
	maxUploadBytes int64
	rateLimiter    RateLimiter
	metrics        *metrics
	tracer         trace.Tracer
	templates      *template.Template
	mux            *http.ServeMux
}

func NewServer(opts Options) (*Server, error) {
	if opts.Processor == nil {
		return nil, errors.New("processor is required")
	}
	if strings.TrimSpace(opts.UploadDir) == "" {
		return nil, errors.New("upload directory is required")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 16 << 20
	}

	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	allowed := make(map[string]struct{}, len(opts.AllowedExtensions))
	for _, ext := range opts.AllowedExtensions {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext != "" {
			allowed[ext] = struct{}{}
		}
	}
	if len(allowed) == 0 {
		return nil, errors.New("at least one allowed extension is required")
	}

	s := &Server{
		log:            opts.Logger,
		processor:      opts.Processor,
		uploadDir:      opts.UploadDir,
		allowed:        allowed,
		maxUploadBytes: opts.MaxUploadBytes,
		rateLimiter:    opts.RateLimiter,
		metrics:        newMetrics(),
		tracer:         otel.Tracer("pixelfilter/api"),
		templates:      tmpl,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.withRequestID(s.withTracing(s.metrics.withHTTPMetrics(s.withAccessLog(s.withRateLimit(s.mux)))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("POST /upload", s.handleUpload)
	s.mux.HandleFunc("POST /process/{filename}", s.handleProcess)
	s.mux.HandleFunc("GET /uploads/{name}", s.handleServeUpload)
	s.mux.HandleFunc("GET /v1/operations", s.handleListOperations)
	s.mux.HandleFunc("POST /v1/process", s.handleProcessJSON)
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
}

type pageData struct {
	Filename   string
	Artifact   string
	Operations []filter.Operation
	Error      string
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "index.html", pageData{})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)

	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.render(w, r, http.StatusRequestEntityTooLarge, "index.html", pageData{Error: "file is too large"})
			return
		}
		s.render(w, r, http.StatusBadRequest, "index.html", pageData{Error: "could not read upload"})
		return
	}
	defer file.Close()

	if header.Filename == "" {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	if !s.allowedFile(header.Filename) {
		s.render(w, r, http.StatusBadRequest, "index.html", pageData{Error: "file type is not allowed"})
		return
	}

	filename := secureFilename(header.Filename)
	if filename == "" || !s.allowedFile(filename) {
		s.render(w, r, http.StatusBadRequest, "index.html", pageData{Error: "invalid filename"})
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		s.render(w, r, http.StatusBadRequest, "index.html", pageData{Error: "could not read upload"})
		return
	}
	if err := (pipeline.AtomicFileEmitter{}).Emit(filepath.Join(s.uploadDir, filename), data); err != nil {
		s.requestLog(r).WithError(err).WithField("filename", filename).Error("store upload failed")
		s.render(w, r, http.StatusInternalServerError, "index.html", pageData{Error: "could not store upload"})
		return
	}
	s.metrics.uploadBytes.Observe(float64(len(data)))
	s.requestLog(r).WithFields(logrus.Fields{
		"filename": filename,
		"bytes":    len(data),
	}).Info("upload stored")

	s.render(w, r, http.StatusOK, "process.html", pageData{
		Filename:   filename,
		Operations: filter.Operations(),
	})
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	filename := r.PathValue("filename")
	if !s.validStoredName(filename) {
		s.render(w, r, http.StatusBadRequest, "index.html", pageData{Error: "invalid filename"})
		return
	}

	action := r.FormValue("action")
	artifact, err := s.process(r.Context(), r, filename, action)
	if err != nil {
		s.render(w, r, statusForError(err), "process.html", pageData{
			Filename:   filename,
			Operations: filter.Operations(),
			Error:      userMessage(err),
		})
		return
	}

	s.render(w, r, http.StatusOK, "result.html", pageData{
		Filename: filename,
		Artifact: artifact,
	})
}

func (s *Server) handleServeUpload(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !s.validStoredName(name) {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeFile(w, r, filepath.Join(s.uploadDir, name))
}

type operationView struct {
	ID     filter.ID      `json:"id"`
	Params map[string]any `json:"params"`
}

func (s *Server) handleListOperations(w http.ResponseWriter, _ *http.Request) {
	ops := filter.Operations()
	out := make([]operationView, 0, len(ops))
	for _, op := range ops {
		out = append(out, operationView{ID: op.ID, Params: filter.Params(op.Transform)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"operations": out})
}

type processRequest struct {
	Filename  string `json:"filename"`
	Operation string `json:"operation"`
}

func (s *Server) handleProcessJSON(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if !s.validStoredName(req.Filename) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid filename"})
		return
	}

	artifact, err := s.process(r.Context(), r, req.Filename, req.Operation)
	if err != nil {
		writeJSON(w, statusForError(err), map[string]string{
			"error": userMessage(err),
			"kind":  outcomeLabel(err),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"artifact":  artifact,
		"operation": req.Operation,
		"url":       "/uploads/" + artifact,
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) process(ctx context.Context, r *http.Request, filename, operationID string) (string, error) {
	start := time.Now()
	artifact, err := s.processor.Run(ctx, filepath.Join(s.uploadDir, filename), operationID)

	outcome := outcomeLabel(err)
	s.metrics.operationsTotal.WithLabelValues(operationLabel(operationID), outcome).Inc()
	s.metrics.operationDuration.WithLabelValues(operationLabel(operationID), outcome).Observe(time.Since(start).Seconds())

	entry := s.requestLog(r).WithFields(logrus.Fields{
		"filename":    filename,
		"operation":   operationID,
		"outcome":     outcome,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	if err != nil {
		entry.WithError(err).Warn("operation failed")
		return "", err
	}
	entry.WithField("artifact", artifact).Info("operation applied")
	return artifact, nil
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := s.templates.ExecuteTemplate(w, name, data); err != nil {
		s.requestLog(r).WithError(err).WithField("template", name).Error("render failed")
	}
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, filter.ErrUnknownOperation):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrDecode) && errors.Is(err, os.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrDecode),
		errors.Is(err, filter.ErrInvalidParameter),
		errors.Is(err, pixbuf.ErrUnsupportedChannelCount):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, filter.ErrUnknownOperation):
		return "unknown_operation"
	case errors.Is(err, pipeline.ErrDecode):
		return "decode_error"
	case errors.Is(err, filter.ErrInvalidParameter):
		return "invalid_parameter"
	case errors.Is(err, pixbuf.ErrUnsupportedChannelCount):
		return "unsupported_channel_count"
	case errors.Is(err, pipeline.ErrEncode):
		return "encode_error"
	default:
		return "error"
	}
}

// userMessage keeps filesystem details out of pages and responses.
func userMessage(err error) string {
	switch outcomeLabel(err) {
	case "unknown_operation":
		return "unknown operation"
	case "decode_error":
		if errors.Is(err, os.ErrNotExist) {
			return "source image not found"
		}
		return "source image could not be decoded"
	case "invalid_parameter":
		return "operation parameters are invalid"
	case "unsupported_channel_count":
		return "operation does not support this image's channels"
	case "encode_error":
		return "result could not be written"
	default:
		return "processing failed"
	}
}

func operationLabel(operationID string) string {
	if _, err := filter.Lookup(operationID); err != nil {
		return "unknown"
	}
	return operationID
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
