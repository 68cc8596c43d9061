package extractor

import (
	"context"

	"github.com/otiai10/gosseract/v2"
)

// TesseractRecognizer runs Tesseract on one image per call. A client is not
// safe for concurrent use, so each call owns its own.
type TesseractRecognizer struct{}

func (TesseractRecognizer) Recognize(ctx context.Context, imagePath, language string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(language); err != nil {
		return "", err
	}
	if err := client.SetImage(imagePath); err != nil {
		return "", err
	}
	return client.Text()
}
