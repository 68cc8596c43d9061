package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"
)

var ErrUnexpectedStatus = errors.New("unexpected status code")

// Report is one entry of the Focus publication listing.
type Report struct {
	DataReferencia string `json:"DataReferencia"`
	Titulo         string `json:"Titulo"`
	URL            string `json:"Url"`
	LinkPagina     string `json:"LinkPagina"`
}

// ReferenceDate parses the date part of DataReferencia.
func (r Report) ReferenceDate() (time.Time, error) {
	if len(r.DataReferencia) < 10 {
		return time.Time{}, fmt.Errorf("invalid reference date %q", r.DataReferencia)
	}
	return time.Parse(dateLayout, r.DataReferencia[:10])
}

type listing struct {
	Conteudo []Report `json:"conteudo"`
}

type ScraperConfig struct {
	APIURL    string
	BaseURL   string
	RateLimit float64 // requests per second
	Timeout   time.Duration
	UserAgent string
	Logger    *slog.Logger
	// OnProgress is called after every report handled by DownloadAll.
	OnProgress func(report Report, path string, err error)
}

type Client struct {
	config  ScraperConfig
	client  *http.Client
	limiter *rate.Limiter
	base    *url.URL
}

func NewWithConfig(config ScraperConfig) (*Client, error) {
	if config.APIURL == "" {
		config.APIURL = "https://www.bcb.gov.br/api/servico/sitebcb/focus/ultimas"
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://www.bcb.gov.br"
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2 // 2 requests per second by default
	}
	if config.UserAgent == "" {
		config.UserAgent = "Mozilla/5.0"
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	base, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, err
	}

	return &Client{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		base:    base,
	}, nil
}

func (c *Client) get(ctx context.Context, rawURL, accept string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w %d for URL: %s", ErrUnexpectedStatus, resp.StatusCode, rawURL)
	}
	return resp, nil
}

// ListReports returns the latest limit reports, newest first.
func (c *Client) ListReports(ctx context.Context, limit int) ([]Report, error) {
	u, err := url.Parse(c.config.APIURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("quantidade", strconv.Itoa(limit))
	q.Set("filtro", "")
	u.RawQuery = q.Encode()

	resp, err := c.get(ctx, u.String(), "application/json, text/plain, */*")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body listing
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode report listing: %w", err)
	}
	return body.Conteudo, nil
}

func (c *Client) resolve(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return c.base.ResolveReference(u).String(), nil
}

// ResolvePDFURL finds the first PDF link on a publication page.
func (c *Client) ResolvePDFURL(ctx context.Context, pageURL string) (string, error) {
	resp, err := c.get(ctx, pageURL, "text/html")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", err
	}

	var href string
	doc.Find("a[href]").EachWithBreak(func(_ int, selection *goquery.Selection) bool {
		h, _ := selection.Attr("href")
		if strings.HasSuffix(strings.ToLower(h), ".pdf") {
			href = h
			return false
		}
		return true
	})
	if href == "" {
		return "", fmt.Errorf("no PDF link on %s", pageURL)
	}

	page, err := url.Parse(pageURL)
	if err != nil {
		return "", err
	}
	link, err := url.Parse(href)
	if err != nil {
		return "", err
	}
	return page.ResolveReference(link).String(), nil
}

// Download stores the report PDF in dir as focus_<date>.pdf and returns its
// path. Existing files are left untouched and reported as skipped.
func (c *Client) Download(ctx context.Context, report Report, dir string) (path string, skipped bool, err error) {
	ref, err := report.ReferenceDate()
	if err != nil {
		return "", false, err
	}
	path = filepath.Join(dir, FileName(ref))
	if _, err := os.Stat(path); err == nil {
		return path, true, nil
	}

	var pdfURL string
	if report.URL != "" {
		pdfURL, err = c.resolve(report.URL)
	} else if report.LinkPagina != "" {
		var page string
		if page, err = c.resolve(report.LinkPagina); err == nil {
			pdfURL, err = c.ResolvePDFURL(ctx, page)
		}
	} else {
		err = fmt.Errorf("report %s has no link", report.DataReferencia)
	}
	if err != nil {
		return "", false, err
	}

	resp, err := c.get(ctx, pdfURL, "application/pdf")
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", false, err
	}
	tmp, err := os.CreateTemp(dir, ".download-*.pdf")
	if err != nil {
		return "", false, err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return "", false, fmt.Errorf("download %s: %w", pdfURL, err)
	}
	if err := tmp.Close(); err != nil {
		return "", false, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", false, err
	}
	return path, false, nil
}

// FetchStats summarizes a DownloadAll run.
type FetchStats struct {
	Listed     int
	Downloaded []string
	Skipped    int
	Failed     int
}

// DownloadAll lists the latest limit reports and downloads the missing ones.
// A failed report is logged and does not stop the others.
func (c *Client) DownloadAll(ctx context.Context, limit int, dir string) (FetchStats, error) {
	reports, err := c.ListReports(ctx, limit)
	if err != nil {
		return FetchStats{}, err
	}

	stats := FetchStats{Listed: len(reports)}
	for _, report := range reports {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		path, skipped, err := c.Download(ctx, report, dir)
		switch {
		case err != nil:
			stats.Failed++
			c.config.Logger.Warn("failed to download report",
				slog.String("reference", report.DataReferencia),
				slog.Any("error", err))
		case skipped:
			stats.Skipped++
			c.config.Logger.Debug("report already downloaded", slog.String("path", path))
		default:
			stats.Downloaded = append(stats.Downloaded, path)
			c.config.Logger.Info("report downloaded", slog.String("path", path))
		}
		if c.config.OnProgress != nil {
			c.config.OnProgress(report, path, err)
		}
	}
	return stats, nil
}
