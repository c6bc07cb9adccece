package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/services/cognitiveservices/v3.0/computervision"
	"github.com/Azure/go-autorest/autorest"
	"github.com/disintegration/imaging"

	"InvoiceLedger/internal/ports"
)

// printedTextAPI is the slice of the Computer Vision client used here.
type printedTextAPI interface {
	RecognizePrintedTextInStream(ctx context.Context, detectOrientation bool, imageParameter io.ReadCloser, language computervision.OcrLanguages) (computervision.OcrResult, error)
}

// AzureRecognizer reads printed text with Azure Computer Vision after
// enhancing the scan for contrast.
type AzureRecognizer struct {
	api printedTextAPI
}

var _ ports.TextRecognizer = (*AzureRecognizer)(nil)

// NewAzureRecognizer authorises a Computer Vision client with a
// Cognitive Services key.
func NewAzureRecognizer(endpoint, apiKey string) (*AzureRecognizer, error) {
	if endpoint == "" || apiKey == "" {
		return nil, errors.New("azure ocr: endpoint and key are required")
	}
	client := computervision.New(endpoint)
	client.Authorizer = autorest.NewCognitiveServicesAuthorizer(apiKey)
	return &AzureRecognizer{api: client}, nil
}

// Recognize enhances the image and returns the recognized lines joined by
// newlines.
func (r *AzureRecognizer) Recognize(ctx context.Context, raw []byte) (string, error) {
	enhanced, err := Enhance(raw)
	if err != nil {
		return "", err
	}
	result, err := r.api.RecognizePrintedTextInStream(ctx, true, io.NopCloser(bytes.NewReader(enhanced)), computervision.OcrLanguages(computervision.En))
	if err != nil {
		return "", fmt.Errorf("recognize printed text: %w", err)
	}
	return joinLines(result), nil
}

// Enhance converts a scan to a sharpened, high-contrast grayscale JPEG.
func Enhance(raw []byte) ([]byte, error) {
	src, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	var img image.Image = imaging.Grayscale(src)
	img = imaging.AdjustContrast(img, 30)
	img = imaging.Sharpen(img, 1.5)
	img = imaging.AdjustBrightness(img, 10)
	img = imaging.AdjustGamma(img, 1.2)
	if b := img.Bounds(); b.Dx() > 3200 || b.Dy() > 3200 {
		img = imaging.Fit(img, 3200, 3200, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return buf.Bytes(), nil
}

func joinLines(result computervision.OcrResult) string {
	if result.Regions == nil {
		return ""
	}
	var lines []string
	for _, region := range *result.Regions {
		if region.Lines == nil {
			continue
		}
		for _, line := range *region.Lines {
			if line.Words == nil {
				continue
			}
			words := make([]string, 0, len(*line.Words))
			for _, word := range *line.Words {
				if word.Text != nil {
					words = append(words, *word.Text)
				}
			}
			if len(words) > 0 {
				lines = append(lines, strings.Join(words, " "))
			}
		}
	}
	return strings.Join(lines, "\n")
}
