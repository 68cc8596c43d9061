package extractor

import (
	"context"
	"os"
	"strings"

	"github.com/tmc/langchaingo/documentloaders"
)

// LoaderPlainReader reads the text stream of every page through the
// langchaingo PDF loader and joins the pages with a newline.
type LoaderPlainReader struct {
	Password string
}

func (l LoaderPlainReader) Text(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}

	var opts []documentloaders.PDFOptions
	if l.Password != "" {
		opts = append(opts, documentloaders.WithPassword(l.Password))
	}

	docs, err := documentloaders.NewPDF(f, info.Size(), opts...).Load(ctx)
	if err != nil {
		return "", err
	}

	pages := make([]string, 0, len(docs))
	for _, doc := range docs {
		pages = append(pages, doc.PageContent)
	}
	return strings.Join(pages, "\n"), nil
}
