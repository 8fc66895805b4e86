// Package sources drives a configurable multi-source file downloader: each
// configured source names a page whose document links are filtered by
// keyword and extension, then downloaded under token-built filenames.
package sources

import (
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/recolte/fetch"
	"github.com/hazyhaar/recolte/linkex"
)

// supportedExtensions is the allow list for direct-file links; anything else
// on a source page is ignored.
var supportedExtensions = map[string]bool{
	".pdf": true, ".xls": true, ".xlsx": true, ".doc": true,
	".docx": true, ".txt": true, ".csv": true, ".zip": true,
}

// Download statuses recorded per link.
const (
	StatusDownloaded   = "downloaded"
	StatusDuplicateURL = "skipped_duplicate_url"
	StatusExistingFile = "skipped_existing_file"
	StatusDryRun       = "dry_run"
)

// Source is one configured page to sweep for document links.
type Source struct {
	Name            string   `yaml:"name"`
	Category        string   `yaml:"category"`
	Stage           string   `yaml:"stage"`
	URL             string   `yaml:"url"`
	IncludeKeywords []string `yaml:"include_keywords"`
	ExcludeKeywords []string `yaml:"exclude_keywords"`
}

// LoadSources reads a YAML source list.
func LoadSources(path string) ([]Source, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources config: %w", err)
	}
	var file struct {
		Sources []Source `yaml:"sources"`
	}
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse sources config: %w", err)
	}
	for i := range file.Sources {
		if file.Sources[i].Stage == "" {
			file.Sources[i].Stage = "unknown"
		}
	}
	return file.Sources, nil
}

// Record is one line of the download report.
type Record struct {
	FileName     string
	Category     string
	SourcePage   string
	FileURL      string
	DownloadedAt string
	FileSize     int64
	Status       string
}

// Config configures a sources run.
type Config struct {
	// OutputDir receives downloaded files and the report CSV.
	// Default: downloads.
	OutputDir string `yaml:"output_dir"`
	// Delay paces requests. Default: 500ms.
	Delay time.Duration `yaml:"delay"`
	// DryRun records what would be downloaded without fetching files.
	DryRun bool `yaml:"dry_run"`
	// Fetch is the HTTP client policy. Timeout defaults to 30s here.
	Fetch fetch.Config `yaml:"fetch"`
}

func (c *Config) defaults() {
	if c.OutputDir == "" {
		c.OutputDir = "downloads"
	}
	if c.Delay <= 0 {
		c.Delay = 500 * time.Millisecond
	}
	if c.Fetch.Timeout <= 0 {
		c.Fetch.Timeout = 30 * time.Second
	}
}

// Service sweeps the configured sources sequentially.
type Service struct {
	config  Config
	client  *fetch.Client
	logger  *slog.Logger
	limiter *rate.Limiter
	now     func() time.Time

	records []Record
	seen    map[string]bool // sha256(url) per run
}

// Option customizes a Service.
type Option func(*Service)

// WithClock substitutes the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a Service.
func New(cfg Config, logger *slog.Logger, opts ...Option) *Service {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		config:  cfg,
		client:  fetch.New(cfg.Fetch),
		logger:  logger,
		limiter: rate.NewLimiter(rate.Every(cfg.Delay), 1),
		now:     time.Now,
		seen:    map[string]bool{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run processes every source and writes the report CSV. A failing source is
// logged and skipped; only context cancellation or a report write failure
// aborts the run.
func (s *Service) Run(ctx context.Context, srcs []Source) ([]Record, error) {
	if err := os.MkdirAll(s.config.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	s.limiter.Allow()
	for i, src := range srcs {
		if err := ctx.Err(); err != nil {
			return s.records, err
		}
		s.logger.Info("processing source", "index", i+1, "of", len(srcs), "name", src.Name)
		if err := s.processSource(ctx, src); err != nil {
			s.logger.Error("source failed", "name", src.Name, "error", err)
		}
		if i < len(srcs)-1 {
			if err := s.limiter.Wait(ctx); err != nil {
				return s.records, err
			}
		}
	}

	if err := s.writeReport(); err != nil {
		return s.records, fmt.Errorf("write report: %w", err)
	}
	s.logger.Info("sources run finished", "records", len(s.records))
	return s.records, nil
}

func (s *Service) processSource(ctx context.Context, src Source) error {
	base, err := url.Parse(src.URL)
	if err != nil {
		return fmt.Errorf("parse source url: %w", err)
	}
	resp, err := s.client.Get(ctx, src.URL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := charset.NewReader(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		return fmt.Errorf("decode source page: %w", err)
	}
	links, err := linkex.Extract(body, base)
	if err != nil {
		return fmt.Errorf("extract links: %w", err)
	}

	targets := FilterLinks(links, src)
	if len(targets) == 0 {
		s.logger.Warn("no matching files on source", "name", src.Name)
		return nil
	}
	for _, link := range targets {
		s.handleLink(ctx, src, link)
	}
	return nil
}

// FilterLinks keeps links whose URL has a supported document extension and
// whose URL+text matches the source's include keywords (any, when present)
// without matching any exclude keyword.
func FilterLinks(links []linkex.Link, src Source) []linkex.Link {
	include := lowerAll(src.IncludeKeywords)
	exclude := lowerAll(src.ExcludeKeywords)

	var targets []linkex.Link
	for _, link := range links {
		u, err := url.Parse(link.URL)
		if err != nil {
			continue
		}
		if !supportedExtensions[strings.ToLower(path.Ext(u.Path))] {
			continue
		}
		searchable := strings.ToLower(link.URL + " " + link.Text)
		if len(include) > 0 && !containsAny(searchable, include) {
			continue
		}
		if containsAny(searchable, exclude) {
			continue
		}
		targets = append(targets, link)
	}
	return targets
}

func lowerAll(keywords []string) []string {
	out := make([]string, len(keywords))
	for i, k := range keywords {
		out[i] = strings.ToLower(k)
	}
	return out
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

func (s *Service) handleLink(ctx context.Context, src Source, link linkex.Link) {
	key := sha256.Sum256([]byte(link.URL))
	keyHex := hex.EncodeToString(key[:])
	if s.seen[keyHex] {
		s.record("", src, link.URL, 0, StatusDuplicateURL)
		return
	}
	s.seen[keyHex] = true

	fileName := s.buildFileName(src, link)
	dest := filepath.Join(s.config.OutputDir, fileName)

	if info, err := os.Stat(dest); err == nil {
		s.record(fileName, src, link.URL, info.Size(), StatusExistingFile)
		return
	}
	if s.config.DryRun {
		s.record(fileName, src, link.URL, 0, StatusDryRun)
		return
	}

	size, err := s.downloadFile(ctx, link.URL, dest)
	if err != nil {
		s.logger.Error("download failed", "url", link.URL, "error", err)
		s.record(fileName, src, link.URL, 0, "error: "+err.Error())
		return
	}
	s.record(fileName, src, link.URL, size, StatusDownloaded)
	s.logger.Info("file saved", "file", fileName, "bytes", size)
}

// buildFileName assembles category_year_date_title.ext from the source
// metadata and whatever tokens the link text and URL carry.
func (s *Service) buildFileName(src Source, link linkex.Link) string {
	searchable := src.Name + " " + link.Text + " " + link.URL
	year := ExtractYear(searchable)
	date := ExtractDate(searchable, s.now())

	u, _ := url.Parse(link.URL)
	ext := strings.ToLower(path.Ext(u.Path))
	if ext == "" {
		ext = ".bin"
	}
	title := Slugify(link.Text)
	if title == "" {
		title = Slugify(strings.TrimSuffix(path.Base(u.Path), path.Ext(u.Path)))
	}
	if title == "" {
		title = "document"
	}
	return fmt.Sprintf("%s_%s_%s_%s%s", Slugify(src.Category), year, date, title, ext)
}

func (s *Service) downloadFile(ctx context.Context, rawURL, dest string) (int64, error) {
	resp, err := s.client.Get(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	f, err := os.Create(dest)
	if err != nil {
		return 0, err
	}
	size, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dest)
		return 0, fmt.Errorf("stream to file: %w", err)
	}
	return size, nil
}

func (s *Service) record(fileName string, src Source, fileURL string, size int64, status string) {
	s.records = append(s.records, Record{
		FileName:     fileName,
		Category:     src.Category,
		SourcePage:   src.URL,
		FileURL:      fileURL,
		DownloadedAt: s.now().Format("2006-01-02T15:04:05"),
		FileSize:     size,
		Status:       status,
	})
}

var reportHeader = []string{"file_name", "category", "source_page", "url", "downloaded_at", "file_size", "status"}

func (s *Service) writeReport() error {
	f, err := os.Create(filepath.Join(s.config.OutputDir, "files_list.csv"))
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteString("\uFEFF"); err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.Write(reportHeader); err != nil {
		return err
	}
	for _, r := range s.records {
		row := []string{
			r.FileName, r.Category, r.SourcePage, r.FileURL,
			r.DownloadedAt, strconv.FormatInt(r.FileSize, 10), r.Status,
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
