// Package extract turns uploaded documents into best-effort submissions.
package extract

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"

	"InvoiceLedger/internal/domain"
	"InvoiceLedger/internal/ports"
)

// ErrUnsupportedMediaType is returned when no extractor handles a document.
var ErrUnsupportedMediaType = errors.New("unsupported media type")

// Registry keeps a mapping from media types to extractors. A type such as
// "image/*" matches any subtype not registered explicitly.
type Registry struct {
	extractors map[string]ports.Extractor
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{extractors: map[string]ports.Extractor{}}
}

// Register adds or replaces the extractor for each of its media types.
func (r *Registry) Register(ex ports.Extractor) {
	if r.extractors == nil {
		r.extractors = map[string]ports.Extractor{}
	}
	for _, mt := range ex.MediaTypes() {
		r.extractors[strings.ToLower(mt)] = ex
	}
}

// Resolve returns the extractor for a Content-Type value.
func (r *Registry) Resolve(contentType string) (ports.Extractor, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMediaType, contentType)
	}
	if ex, ok := r.extractors[mediaType]; ok {
		return ex, nil
	}
	if major, _, found := strings.Cut(mediaType, "/"); found {
		if ex, ok := r.extractors[major+"/*"]; ok {
			return ex, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedMediaType, mediaType)
}

// Extract resolves and runs the matching extractor.
func (r *Registry) Extract(ctx context.Context, contentType string, doc []byte) (domain.Extraction, error) {
	ex, err := r.Resolve(contentType)
	if err != nil {
		return domain.Extraction{}, err
	}
	out, err := ex.Extract(ctx, doc)
	if err != nil {
		return domain.Extraction{}, fmt.Errorf("extract %s: %w", contentType, err)
	}
	if out.MediaType == "" {
		out.MediaType, _, _ = mime.ParseMediaType(contentType)
	}
	return out, nil
}
