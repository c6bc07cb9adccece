package ocr

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"testing"

	"github.com/Azure/azure-sdk-for-go/services/cognitiveservices/v3.0/computervision"
)

type fakeAPI struct {
	got    int
	result computervision.OcrResult
}

func (f *fakeAPI) RecognizePrintedTextInStream(_ context.Context, _ bool, body io.ReadCloser, _ computervision.OcrLanguages) (computervision.OcrResult, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return computervision.OcrResult{}, err
	}
	f.got = len(data)
	return f.result, nil
}

func samplePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 40, 20))
	for x := 0; x < 40; x++ {
		img.Set(x, 10, color.Black)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func str(s string) *string { return &s }

func TestRecognizeJoinsLines(t *testing.T) {
	t.Parallel()

	words := func(ws ...string) *[]computervision.OcrWord {
		out := make([]computervision.OcrWord, 0, len(ws))
		for _, w := range ws {
			out = append(out, computervision.OcrWord{Text: str(w)})
		}
		return &out
	}
	api := &fakeAPI{result: computervision.OcrResult{
		Regions: &[]computervision.OcrRegion{{
			Lines: &[]computervision.OcrLine{
				{Words: words("Acme", "Corp")},
				{Words: words("Invoice", "#:", "INV-100")},
			},
		}},
	}}
	r := &AzureRecognizer{api: api}

	text, err := r.Recognize(context.Background(), samplePNG(t))
	if err != nil {
		t.Fatalf("Recognize error: %v", err)
	}
	if text != "Acme Corp\nInvoice #: INV-100" {
		t.Fatalf("unexpected text: %q", text)
	}
	if api.got == 0 {
		t.Fatal("expected enhanced image to be sent")
	}
}

func TestRecognizeRejectsNonImage(t *testing.T) {
	t.Parallel()

	r := &AzureRecognizer{api: &fakeAPI{}}
	if _, err := r.Recognize(context.Background(), []byte("not an image")); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestNewAzureRecognizerRequiresCredentials(t *testing.T) {
	t.Parallel()

	if _, err := NewAzureRecognizer("", ""); err == nil {
		t.Fatal("expected error without endpoint and key")
	}
}
