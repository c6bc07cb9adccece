package extract

import (
	"context"
	"errors"
	"unicode/utf8"

	"InvoiceLedger/internal/domain"
	"InvoiceLedger/internal/ports"
)

// TextExtractor reads plain-text invoices.
type TextExtractor struct{}

var _ ports.Extractor = TextExtractor{}

func (TextExtractor) MediaTypes() []string { return []string{"text/plain"} }

func (TextExtractor) Extract(_ context.Context, doc []byte) (domain.Extraction, error) {
	if !utf8.Valid(doc) {
		return domain.Extraction{}, errors.New("document is not valid UTF-8 text")
	}
	out := ParseText(string(doc))
	out.MediaType = "text/plain"
	return out, nil
}

// ImageExtractor runs OCR over an image and parses the recognized text.
type ImageExtractor struct {
	OCR ports.TextRecognizer
}

var _ ports.Extractor = (*ImageExtractor)(nil)

func (e *ImageExtractor) MediaTypes() []string { return []string{"image/*"} }

func (e *ImageExtractor) Extract(ctx context.Context, doc []byte) (domain.Extraction, error) {
	if e.OCR == nil {
		return domain.Extraction{}, errors.New("no text recognizer configured")
	}
	text, err := e.OCR.Recognize(ctx, doc)
	if err != nil {
		return domain.Extraction{}, err
	}
	return ParseText(text), nil
}
