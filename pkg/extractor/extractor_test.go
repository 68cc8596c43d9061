package extractor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jmmb07/pdf-data-extraction-pipeline/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLayout struct {
	text  string
	err   error
	panic bool
	calls int
}

func (f *fakeLayout) FirstPage(_ context.Context, _ string) (string, error) {
	f.calls++
	if f.panic {
		panic("malformed xref")
	}
	return f.text, f.err
}

type fakePlain struct {
	text  string
	err   error
	calls int
}

func (f *fakePlain) Text(_ context.Context, _ string) (string, error) {
	f.calls++
	return f.text, f.err
}

// fakeRasterizer writes one empty file per page so the scratch directory has
// content when cleanup runs.
type fakeRasterizer struct {
	pages int
	err   error

	mu   sync.Mutex
	dirs []string
}

func (f *fakeRasterizer) Rasterize(_ context.Context, _ string, _ int, dir string) ([]string, error) {
	f.mu.Lock()
	f.dirs = append(f.dirs, dir)
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	var out []string
	for i := 1; i <= f.pages; i++ {
		p := pageImagePath(dir, i, "png")
		if err := os.WriteFile(p, nil, 0o644); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

type fakeRecognizer struct {
	err error

	mu        sync.Mutex
	languages []string
}

func (f *fakeRecognizer) Recognize(_ context.Context, imagePath, language string) (string, error) {
	f.mu.Lock()
	f.languages = append(f.languages, language)
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("text of %s", filepath.Base(imagePath)), nil
}

func newTestExtractor(t *testing.T, layout *fakeLayout, plain *fakePlain, raster *fakeRasterizer, rec *fakeRecognizer) *Extractor {
	t.Helper()
	return NewWithConfig(ExtractorConfig{
		ScratchDir: t.TempDir(),
		Layout:     layout,
		Plain:      plain,
		Rasterizer: raster,
		Recognizer: rec,
	})
}

var doc = models.SourceDocument{Path: "focus_2024-03-15.pdf"}

func TestExtract_LayoutAccepted(t *testing.T) {
	layout := &fakeLayout{text: "IPCA 3,50 3,60"}
	plain := &fakePlain{text: "unused"}
	e := newTestExtractor(t, layout, plain, &fakeRasterizer{}, &fakeRecognizer{})

	got, err := e.Extract(context.Background(), doc)
	require.NoError(t, err)

	assert.Equal(t, "IPCA 3,50 3,60", got.Text)
	assert.Equal(t, models.Structured, got.Provenance)
	assert.Equal(t, models.TierLayout, got.Tier)
	assert.Equal(t, 0, plain.calls)
	require.Len(t, got.Attempts, 1)
	assert.True(t, got.Attempts[0].Accepted)
}

func TestExtract_FallsBackToPlain(t *testing.T) {
	tests := []struct {
		name   string
		layout *fakeLayout
		reason string
	}{
		{"error", &fakeLayout{err: errors.New("bad xref")}, ReasonError},
		{"empty", &fakeLayout{text: " \n\t "}, ReasonEmpty},
		{"cid marker", &fakeLayout{text: "IPCA (cid:3)(cid:4)"}, ReasonEncodingMarker},
		{"replacement char", &fakeLayout{text: "IPCA \uFFFD\uFFFD"}, ReasonEncodingMarker},
		{"panic", &fakeLayout{panic: true}, ReasonError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plain := &fakePlain{text: "Selic 10,50"}
			e := newTestExtractor(t, tt.layout, plain, &fakeRasterizer{}, &fakeRecognizer{})

			got, err := e.Extract(context.Background(), doc)
			require.NoError(t, err)

			assert.Equal(t, "Selic 10,50", got.Text)
			assert.Equal(t, models.Structured, got.Provenance)
			assert.Equal(t, models.TierPlain, got.Tier)
			require.Len(t, got.Attempts, 2)
			assert.False(t, got.Attempts[0].Accepted)
			assert.Equal(t, tt.reason, got.Attempts[0].Reason)
			assert.True(t, got.Attempts[1].Accepted)
		})
	}
}

func TestExtract_FallsBackToOCR(t *testing.T) {
	layout := &fakeLayout{text: "(cid:12)"}
	plain := &fakePlain{text: ""}
	raster := &fakeRasterizer{pages: 2}
	rec := &fakeRecognizer{}
	e := newTestExtractor(t, layout, plain, raster, rec)

	got, err := e.Extract(context.Background(), doc)
	require.NoError(t, err)

	assert.Equal(t, models.OCR, got.Provenance)
	assert.Equal(t, models.TierOCR, got.Tier)
	assert.Equal(t, "text of page-0001.png\ntext of page-0002.png\n", got.Text)
	assert.Equal(t, []string{"por", "por"}, rec.languages)

	require.Len(t, got.Attempts, 3)
	assert.Equal(t, ReasonEncodingMarker, got.Attempts[0].Reason)
	assert.Equal(t, ReasonEmpty, got.Attempts[1].Reason)
	assert.True(t, got.Attempts[2].Accepted)
}

func TestExtract_OCRTextIsNotJudged(t *testing.T) {
	layout := &fakeLayout{err: errors.New("boom")}
	plain := &fakePlain{err: errors.New("boom")}
	e := newTestExtractor(t, layout, plain, &fakeRasterizer{pages: 0}, &fakeRecognizer{})

	got, err := e.Extract(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, models.OCR, got.Provenance)
	assert.Empty(t, got.Text)
}

func TestExtract_ScratchDirRemoved(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		raster := &fakeRasterizer{pages: 3}
		e := newTestExtractor(t, &fakeLayout{}, &fakePlain{}, raster, &fakeRecognizer{})

		_, err := e.Extract(context.Background(), doc)
		require.NoError(t, err)

		require.Len(t, raster.dirs, 1)
		assert.NoDirExists(t, raster.dirs[0])
	})

	t.Run("recognizer failure", func(t *testing.T) {
		raster := &fakeRasterizer{pages: 2}
		rec := &fakeRecognizer{err: errors.New("tessdata missing")}
		e := newTestExtractor(t, &fakeLayout{}, &fakePlain{}, raster, rec)

		got, err := e.Extract(context.Background(), doc)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "tessdata missing")
		assert.Equal(t, models.OCR, got.Provenance)

		require.Len(t, raster.dirs, 1)
		assert.NoDirExists(t, raster.dirs[0])
	})

	t.Run("rasterizer failure", func(t *testing.T) {
		raster := &fakeRasterizer{err: ErrNoPages}
		e := newTestExtractor(t, &fakeLayout{}, &fakePlain{}, raster, &fakeRecognizer{})

		_, err := e.Extract(context.Background(), doc)
		require.ErrorIs(t, err, ErrNoPages)

		require.Len(t, raster.dirs, 1)
		assert.NoDirExists(t, raster.dirs[0])
	})
}

func TestExtract_ConcurrentOCRDirsAreDistinct(t *testing.T) {
	raster := &fakeRasterizer{pages: 1}
	e := NewWithConfig(ExtractorConfig{
		ScratchDir:    t.TempDir(),
		MaxOCRWorkers: 2,
		Layout:        &fakeLayout{},
		Plain:         &fakePlain{},
		Rasterizer:    raster,
		Recognizer:    &fakeRecognizer{},
	})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.recognize(context.Background(), doc.Path)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, d := range raster.dirs {
		assert.False(t, seen[d], "scratch dir reused: %s", d)
		seen[d] = true
	}
	assert.Len(t, seen, 4)
}

func TestClose_RemovesCreatedRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "scratch")
	e := NewWithConfig(ExtractorConfig{
		ScratchDir: root,
		Layout:     &fakeLayout{},
		Plain:      &fakePlain{},
		Rasterizer: &fakeRasterizer{pages: 1},
		Recognizer: &fakeRecognizer{},
	})

	_, err := e.Extract(context.Background(), doc)
	require.NoError(t, err)
	assert.DirExists(t, root)

	require.NoError(t, e.Close())
	assert.NoDirExists(t, root)
}

func TestClose_KeepsExistingRoot(t *testing.T) {
	root := t.TempDir()
	e := newTestExtractor(t, &fakeLayout{}, &fakePlain{}, &fakeRasterizer{pages: 1}, &fakeRecognizer{})
	e.config.ScratchDir = root

	_, err := e.Extract(context.Background(), doc)
	require.NoError(t, err)

	require.NoError(t, e.Close())
	assert.DirExists(t, root)
}

func TestExtract_CustomEncodingMarkers(t *testing.T) {
	layout := &fakeLayout{text: "IPCA (cid:3)"}
	plain := &fakePlain{text: "unused"}
	e := NewWithConfig(ExtractorConfig{
		ScratchDir:      t.TempDir(),
		EncodingMarkers: []string{"", "glyph?"},
		Layout:          layout,
		Plain:           plain,
		Rasterizer:      &fakeRasterizer{},
		Recognizer:      &fakeRecognizer{},
	})

	got, err := e.Extract(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, models.TierLayout, got.Tier)

	layout.text = "IPCA glyph? 3,50"
	got, err = e.Extract(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, models.TierPlain, got.Tier)
}
