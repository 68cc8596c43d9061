package extractor

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// FitzRasterizer renders pages with MuPDF.
type FitzRasterizer struct{}

func (FitzRasterizer) Rasterize(ctx context.Context, path string, dpi int, dir string) ([]string, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	n := doc.NumPage()
	if n == 0 {
		return nil, ErrNoPages
	}

	pages := make([]string, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := doc.ImageDPI(i, float64(dpi))
		if err != nil {
			return nil, fmt.Errorf("render page %d: %w", i+1, err)
		}
		out := pageImagePath(dir, i+1, "png")
		if err := writePNG(out, img); err != nil {
			return nil, err
		}
		pages = append(pages, out)
	}
	return pages, nil
}

// EmbeddedImageRasterizer writes out the largest image embedded in each page.
// Scanner-produced reports hold one full-page scan per page, which is
// recognized at its native resolution; dpi is ignored. Pages without an
// image are skipped.
type EmbeddedImageRasterizer struct{}

func (EmbeddedImageRasterizer) Rasterize(ctx context.Context, path string, _ int, dir string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	pdfCtx, err := api.ReadValidateAndOptimize(f, model.NewDefaultConfiguration())
	if err != nil {
		return nil, fmt.Errorf("pdfcpu read: %w", err)
	}
	if pdfCtx.PageCount == 0 {
		return nil, ErrNoPages
	}

	var pages []string
	for pageNr := 1; pageNr <= pdfCtx.PageCount; pageNr++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		images, err := pdfcpu.ExtractPageImages(pdfCtx, pageNr, false)
		if err != nil {
			return nil, fmt.Errorf("page %d images: %w", pageNr, err)
		}
		img, ok := largestImage(images)
		if !ok {
			continue
		}
		out := pageImagePath(dir, pageNr, img.FileType)
		if err := writeStream(out, img); err != nil {
			return nil, err
		}
		pages = append(pages, out)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("no page images in %s", filepath.Base(path))
	}
	return pages, nil
}

func largestImage(images map[int]model.Image) (model.Image, bool) {
	objNrs := make([]int, 0, len(images))
	for nr := range images {
		objNrs = append(objNrs, nr)
	}
	sort.Ints(objNrs)

	var best model.Image
	found := false
	for _, nr := range objNrs {
		img := images[nr]
		if !found || img.Width*img.Height > best.Width*best.Height {
			best, found = img, true
		}
	}
	return best, found
}

func pageImagePath(dir string, page int, ext string) string {
	if ext == "" {
		ext = "png"
	}
	return filepath.Join(dir, fmt.Sprintf("page-%04d.%s", page, ext))
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

func writeStream(path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}
