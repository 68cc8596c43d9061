package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jmmb07/pdf-data-extraction-pipeline/internal/models"
)

const dateLayout = "2006-01-02"

var nameLayouts = []string{dateLayout, "20060102"}

// FileName is the local name of the report published on date.
func FileName(date time.Time) string {
	return fmt.Sprintf("focus_%s.pdf", date.Format(dateLayout))
}

// ParseFileName extracts the reference date from the last "_"-separated
// segment of a report file name.
func ParseFileName(name string) (time.Time, error) {
	stem := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	segment := stem[strings.LastIndex(stem, "_")+1:]
	for _, layout := range nameLayouts {
		if t, err := time.Parse(layout, segment); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("no reference date in %q", name)
}

// LocalSource lists the report PDFs stored in a directory.
type LocalSource struct {
	Dir    string
	Logger *slog.Logger
}

func (s LocalSource) ListDocuments(ctx context.Context) ([]models.SourceDocument, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, err
	}
	log := s.Logger
	if log == nil {
		log = slog.Default()
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	docs := make([]models.SourceDocument, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ref, err := ParseFileName(name)
		if err != nil {
			log.Warn("skipping file without reference date", slog.String("file", name))
			continue
		}
		docs = append(docs, models.SourceDocument{
			Path:          filepath.Join(s.Dir, name),
			ReferenceDate: ref,
		})
	}
	return docs, nil
}
