package config

import (
	"fmt"
	"net/url"

	"github.com/robfig/cron/v3"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	// Validate Scraper config
	for _, f := range []struct{ field, raw string }{
		{"scraper.api_url", c.Scraper.APIURL},
		{"scraper.base_url", c.Scraper.BaseURL},
	} {
		if u, err := url.Parse(f.raw); err != nil || !u.IsAbs() {
			errors = append(errors, ValidationError{
				Field:   f.field,
				Message: "must be an absolute URL",
			})
		}
	}

	if c.Scraper.Limit < 1 {
		errors = append(errors, ValidationError{
			Field:   "scraper.limit",
			Message: "limit must be positive",
		})
	}

	if c.Scraper.RateLimit <= 0 {
		errors = append(errors, ValidationError{
			Field:   "scraper.rate_limit",
			Message: "rate_limit must be positive",
		})
	}

	// Validate Extractor config
	if c.Extractor.DPI < 72 || c.Extractor.DPI > 1200 {
		errors = append(errors, ValidationError{
			Field:   "extractor.dpi",
			Message: "dpi must be between 72 and 1200",
		})
	}

	if c.Extractor.Language == "" {
		errors = append(errors, ValidationError{
			Field:   "extractor.language",
			Message: "OCR language is required",
		})
	}

	if c.Extractor.Rasterizer != RasterizerFitz && c.Extractor.Rasterizer != RasterizerEmbedded {
		errors = append(errors, ValidationError{
			Field:   "extractor.rasterizer",
			Message: fmt.Sprintf("unknown rasterizer %q (want %s or %s)", c.Extractor.Rasterizer, RasterizerFitz, RasterizerEmbedded),
		})
	}

	if c.Extractor.MaxOCRWorkers < 1 {
		errors = append(errors, ValidationError{
			Field:   "extractor.max_ocr_workers",
			Message: "max_ocr_workers must be positive",
		})
	}

	// Validate Processor config
	if c.Processor.Workers < 1 {
		errors = append(errors, ValidationError{
			Field:   "processor.workers",
			Message: "workers must be positive",
		})
	}

	if c.Output.CSVPath == "" {
		errors = append(errors, ValidationError{
			Field:   "output.csv_path",
			Message: "csv_path is required",
		})
	}

	// Validate Database config
	if c.Database.URL != "" {
		u, err := url.Parse(c.Database.URL)
		if err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") {
			errors = append(errors, ValidationError{
				Field:   "database.url",
				Message: "invalid database URL",
			})
		}
	}

	if c.Database.MaxConns < 1 {
		errors = append(errors, ValidationError{
			Field:   "database.max_conns",
			Message: "max_conns must be positive",
		})
	}

	// Validate Server config
	if c.Server.Addr == "" {
		errors = append(errors, ValidationError{
			Field:   "server.addr",
			Message: "addr is required",
		})
	}

	if c.Server.Schedule != "" {
		if _, err := cron.ParseStandard(c.Server.Schedule); err != nil {
			errors = append(errors, ValidationError{
				Field:   "server.schedule",
				Message: fmt.Sprintf("invalid cron expression: %v", err),
			})
		}
	}

	return errors
}

// Warnings reports settings that are valid but have no effect.
func (c *Config) Warnings() []ValidationError {
	var warnings []ValidationError

	if c.Extractor.Rasterizer == RasterizerEmbedded && c.Extractor.DPI != DefaultDPI {
		warnings = append(warnings, ValidationError{
			Field:   "extractor.dpi",
			Message: fmt.Sprintf("dpi %d has no effect with the %s rasterizer, which uses each scan's native resolution", c.Extractor.DPI, RasterizerEmbedded),
		})
	}

	return warnings
}
