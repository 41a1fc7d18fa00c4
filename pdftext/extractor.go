package pdftext

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/unidoc/unipdf/v3/common/license"
	"github.com/unidoc/unipdf/v3/extractor"
	"github.com/unidoc/unipdf/v3/model"
)

// LicenseKeyEnv names the environment variable holding the UniDoc metered key.
const LicenseKeyEnv = "UNIDOC_LICENSE_KEY"

const pageLogInterval = 10

var licenseOnce sync.Once

// Extractor pulls plain text out of PDF files with UniPDF.
type Extractor struct {
	licenseKey string
	logger     *slog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithLicenseKey sets the metered license key. Defaults to $UNIDOC_LICENSE_KEY.
func WithLicenseKey(key string) Option {
	return func(e *Extractor) {
		e.licenseKey = key
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extractor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New creates an Extractor. The license key is applied once per process.
func New(opts ...Option) *Extractor {
	e := &Extractor{
		licenseKey: os.Getenv(LicenseKeyEnv),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "pdftext")

	licenseOnce.Do(func() {
		if e.licenseKey == "" {
			e.logger.Warn("no UniDoc license key configured, PDF extraction may fail")
			return
		}
		if err := license.SetMeteredKey(e.licenseKey); err != nil {
			e.logger.Error("failed to set UniDoc license key", "err", err)
		}
	})
	return e
}

// Extract returns the text of the file at path. PDF pages are separated by a
// "--- Page N ---" marker. .txt and .md files are returned as-is.
func (e *Extractor) Extract(ctx context.Context, path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md":
		content, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return string(content), nil
	default:
		return e.extractPDF(ctx, path)
	}
}

func (e *Extractor) extractPDF(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	reader, err := model.NewPdfReader(f)
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}

	numPages, err := reader.GetNumPages()
	if err != nil {
		return "", fmt.Errorf("counting pages: %w", err)
	}
	e.logger.Debug("extracting text", "path", path, "pages", numPages)

	var sb strings.Builder
	for i := 1; i <= numPages; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		text, err := pageText(reader, i)
		if err != nil {
			// A broken page shouldn't sink the whole document
			e.logger.Warn("failed to extract page", "page", i, "err", err)
			continue
		}
		if strings.TrimSpace(text) != "" {
			fmt.Fprintf(&sb, "\n\n--- Page %d ---\n\n", i)
			sb.WriteString(text)
		}

		if i%pageLogInterval == 0 {
			e.logger.Info("extraction progress", "page", i, "pages", numPages)
		}
	}

	return strings.TrimSpace(sb.String()), nil
}

func pageText(reader *model.PdfReader, n int) (string, error) {
	page, err := reader.GetPage(n)
	if err != nil {
		return "", err
	}
	ex, err := extractor.New(page)
	if err != nil {
		return "", err
	}
	return ex.ExtractText()
}
