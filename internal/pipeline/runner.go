package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/pixelfilter/internal/filter"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrDecode = errors.New("decode source image")
	ErrEncode = errors.New("encode artifact")
)

type Fetcher interface {
	Fetch(path string) ([]byte, error)
}

// Emitter persists an encoded artifact. Implementations must leave nothing
// at path when they fail.
type Emitter interface {
	Emit(path string, data []byte) error
}

type RunnerConfig struct {
	// OutputDir receives artifacts. Empty means next to the source file.
	OutputDir      string
	JPEGQuality    int
	PNGCompression png.CompressionLevel
}

// Runner decodes a stored upload, applies one registered operation and
// writes the result. It keeps no state between calls.
type Runner struct {
	cfg     RunnerConfig
	fetcher Fetcher
	decoder Decoder
	emitter Emitter
	tracer  trace.Tracer
}

func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = DefaultJPEGQuality
	}
	return &Runner{
		cfg:     cfg,
		fetcher: LocalFileFetcher{},
		decoder: newDecoder(),
		emitter: AtomicFileEmitter{},
		tracer:  otel.Tracer("pixelfilter/pipeline"),
	}
}

// ArtifactName is the output name for an operation applied to a source.
// It depends on nothing else, so repeated runs overwrite the same file.
func ArtifactName(operationID, sourcePath string) string {
	return operationID + "_" + filepath.Base(sourcePath)
}

// Run applies operationID to the image at sourcePath and returns the
// artifact name. ctx only carries tracing; the call is not cancellable.
func (r *Runner) Run(ctx context.Context, sourcePath, operationID string) (artifact string, err error) {
	_, span := r.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("pipeline.operation", operationID),
		attribute.String("pipeline.source", filepath.Base(sourcePath)),
		attribute.String("pipeline.decoder", decoderName),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "pipeline failed")
		} else {
			span.SetAttributes(attribute.String("pipeline.artifact", artifact))
			span.SetStatus(codes.Ok, "processed")
		}
		span.End()
	}()

	if strings.TrimSpace(sourcePath) == "" {
		return "", fmt.Errorf("%w: source path is required", ErrDecode)
	}

	data, err := r.fetcher.Fetch(sourcePath)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDecode, err)
	}
	src, format, err := r.decoder.Decode(data)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrDecode, sourcePath, err)
	}

	op, err := filter.Lookup(operationID)
	if err != nil {
		return "", err
	}

	out, err := op.Apply(src)
	if err != nil {
		return "", fmt.Errorf("apply %s: %w", op.ID, err)
	}
	span.SetAttributes(
		attribute.Int("image.width", out.Width),
		attribute.Int("image.height", out.Height),
		attribute.Int("image.channels", out.Channels),
	)

	artifact = ArtifactName(operationID, sourcePath)
	encoded, err := encodeBuffer(out, format, EncodeOptions{
		JPEGQuality:    r.cfg.JPEGQuality,
		PNGCompression: r.cfg.PNGCompression,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrEncode, err)
	}

	if err := r.emitter.Emit(filepath.Join(r.outputDir(sourcePath), artifact), encoded); err != nil {
		return "", fmt.Errorf("%w: %w", ErrEncode, err)
	}
	return artifact, nil
}

func (r *Runner) outputDir(sourcePath string) string {
	if strings.TrimSpace(r.cfg.OutputDir) != "" {
		return r.cfg.OutputDir
	}
	return filepath.Dir(sourcePath)
}

type LocalFileFetcher struct{}

func (LocalFileFetcher) Fetch(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read input file %s: %w", path, err)
	}
	return data, nil
}

// AtomicFileEmitter writes to a temp file in the target directory and renames
// it into place, so readers see either the old artifact or the new one.
type AtomicFileEmitter struct{}

func (AtomicFileEmitter) Emit(path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}
