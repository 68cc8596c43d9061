package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Scraper struct {
		APIURL    string        `yaml:"api_url"`
		BaseURL   string        `yaml:"base_url"`
		RawDir    string        `yaml:"raw_dir"`
		Limit     int           `yaml:"limit"`
		RateLimit float64       `yaml:"rate_limit"`
		Timeout   time.Duration `yaml:"timeout"`
		UserAgent string        `yaml:"user_agent"`
	} `yaml:"scraper"`

	Extractor struct {
		// DPI applies to the fitz rasterizer only; embedded keeps each
		// scan at its native resolution.
		DPI             int      `yaml:"dpi"`
		Language        string   `yaml:"language"`
		EncodingMarkers []string `yaml:"encoding_markers"`
		ScratchDir      string   `yaml:"scratch_dir"`
		Rasterizer      string   `yaml:"rasterizer"`
		MaxOCRWorkers   int      `yaml:"max_ocr_workers"`
	} `yaml:"extractor"`

	Processor struct {
		Workers int `yaml:"workers"`
	} `yaml:"processor"`

	Output struct {
		CSVPath  string `yaml:"csv_path"`
		XLSXPath string `yaml:"xlsx_path"`
	} `yaml:"output"`

	Database struct {
		URL         string `yaml:"url"`
		MaxConns    int32  `yaml:"max_conns"`
		SearchLimit int    `yaml:"search_limit"`
	} `yaml:"database"`

	Server struct {
		Addr           string   `yaml:"addr"`
		AllowedOrigins []string `yaml:"allowed_origins"`
		Schedule       string   `yaml:"schedule"`
	} `yaml:"server"`
}

// DefaultDPI is the OCR rendering resolution.
const DefaultDPI = 300

// Rasterizer names accepted in extractor.rasterizer.
const (
	RasterizerFitz     = "fitz"
	RasterizerEmbedded = "embedded"
)

func LoadConfig(path string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/focus/config.yaml"),
			"/etc/focus/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	// Merge with environment variables
	if err := mergeWithEnv(&config); err != nil {
		return nil, err
	}

	// Apply defaults for unset values
	applyDefaults(&config)

	return &config, nil
}

// loadDotEnv reads .env from the working directory when present. Variables
// already set in the environment win.
func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("error reading .env: %w", err)
	}
	return nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	applyDefaults(config)
	if err := mergeWithEnv(config); err != nil {
		return nil, err
	}
	return config, nil
}

func applyDefaults(config *Config) {
	if config.Scraper.APIURL == "" {
		config.Scraper.APIURL = "https://www.bcb.gov.br/api/servico/sitebcb/focus/ultimas"
	}
	if config.Scraper.BaseURL == "" {
		config.Scraper.BaseURL = "https://www.bcb.gov.br"
	}
	if config.Scraper.RawDir == "" {
		config.Scraper.RawDir = filepath.Join("data", "raw")
	}
	if config.Scraper.Limit == 0 {
		config.Scraper.Limit = 1000
	}
	if config.Scraper.RateLimit == 0 {
		config.Scraper.RateLimit = 2.0
	}
	if config.Scraper.Timeout == 0 {
		config.Scraper.Timeout = 60 * time.Second
	}
	if config.Scraper.UserAgent == "" {
		config.Scraper.UserAgent = "Mozilla/5.0"
	}

	if config.Extractor.DPI == 0 {
		config.Extractor.DPI = DefaultDPI
	}
	if config.Extractor.Language == "" {
		config.Extractor.Language = "por"
	}
	if config.Extractor.EncodingMarkers == nil {
		config.Extractor.EncodingMarkers = []string{"(cid:", "\uFFFD"}
	}
	if config.Extractor.ScratchDir == "" {
		config.Extractor.ScratchDir = filepath.Join(os.TempDir(), "focus-ocr")
	}
	if config.Extractor.Rasterizer == "" {
		config.Extractor.Rasterizer = RasterizerFitz
	}
	if config.Extractor.MaxOCRWorkers == 0 {
		config.Extractor.MaxOCRWorkers = runtime.NumCPU()
	}

	if config.Processor.Workers == 0 {
		config.Processor.Workers = runtime.NumCPU()
	}

	if config.Output.CSVPath == "" {
		config.Output.CSVPath = filepath.Join("data", "processed", "focus_annual.csv")
	}

	if config.Database.MaxConns == 0 {
		config.Database.MaxConns = 4
	}
	if config.Database.SearchLimit == 0 {
		config.Database.SearchLimit = 5
	}

	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}
	if config.Server.AllowedOrigins == nil {
		config.Server.AllowedOrigins = []string{"*"}
	}
}

func mergeWithEnv(config *Config) error {
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if dir := os.Getenv("FOCUS_RAW_DIR"); dir != "" {
		config.Scraper.RawDir = dir
	}
	if out := os.Getenv("FOCUS_OUTPUT"); out != "" {
		config.Output.CSVPath = out
	}
	if dir := os.Getenv("FOCUS_SCRATCH_DIR"); dir != "" {
		config.Extractor.ScratchDir = dir
	}
	if addr := os.Getenv("FOCUS_SERVER_ADDR"); addr != "" {
		config.Server.Addr = addr
	}
	if workers := os.Getenv("FOCUS_WORKERS"); workers != "" {
		n, err := strconv.Atoi(workers)
		if err != nil {
			return fmt.Errorf("FOCUS_WORKERS: %w", err)
		}
		config.Processor.Workers = n
	}
	return nil
}
